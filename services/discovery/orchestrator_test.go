package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"homehelp/models"
	"homehelp/services/location"
	"homehelp/services/permission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGate struct{ outcome permission.Outcome }

func (g stubGate) EnsureReady(context.Context) permission.Outcome { return g.outcome }

type idleSource struct{}

func (idleSource) Watch(ctx context.Context, _ location.PositionOptions) (<-chan location.PositionUpdate, error) {
	return make(chan location.PositionUpdate), nil
}

type stubGeocoder struct{}

func (stubGeocoder) ReverseGeocode(_ context.Context, lat, lng float64) (*models.Address, error) {
	return &models.Address{DisplayName: "Kilimani, Nairobi"}, nil
}

func (stubGeocoder) ForwardGeocode(context.Context, string) ([]models.GeocodeHit, error) {
	return []models.GeocodeHit{}, nil
}

type stubSettings struct{ opened int }

func (s *stubSettings) OpenSettings(context.Context) error {
	s.opened++
	return nil
}

// fakeSearcher records every query. A non-nil block channel holds each call
// until it is closed.
type fakeSearcher struct {
	mu      sync.Mutex
	calls   []models.BookingQuery
	answer  func(models.BookingQuery) ([]models.ProviderCandidate, error)
	block   chan struct{}
	started chan models.BookingQuery
}

func (f *fakeSearcher) Search(ctx context.Context, q models.BookingQuery) ([]models.ProviderCandidate, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	block, started, answer := f.block, f.started, f.answer
	f.mu.Unlock()
	if started != nil {
		started <- q
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if answer == nil {
		return []models.ProviderCandidate{}, nil
	}
	return answer(q)
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memSaved struct {
	mu        sync.Mutex
	entries   []models.SavedLocation
	upserts   int
	forgets   int
	lastToken string
}

func (m *memSaved) List(_ context.Context, p models.Principal) ([]models.SavedLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastToken = p.Token
	return append([]models.SavedLocation(nil), m.entries...), nil
}

func (m *memSaved) Upsert(_ context.Context, _ models.Principal, name string, loc models.ResolvedLocation) (models.SavedLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	saved := models.SavedLocation{ID: name, Name: name, Location: loc}
	m.entries = append(m.entries, saved)
	return saved, nil
}

func (m *memSaved) Remove(_ context.Context, _ models.Principal, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return models.NewDiscoveryError(models.ErrKindValidation, "unknown id")
}

func (m *memSaved) FindByName(_ context.Context, _ models.Principal, name string) (*models.SavedLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if strings.EqualFold(e.Name, name) {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memSaved) Forget(string) {
	m.mu.Lock()
	m.forgets++
	m.mu.Unlock()
}

var principal = models.Principal{CustomerID: "cust-9", Token: "tok"}

func newTestOrchestrator(t *testing.T, outcome permission.Outcome, searcher *fakeSearcher) (*Orchestrator, *memSaved, *stubSettings) {
	t.Helper()
	resolver := location.NewResolver(stubGate{outcome: outcome}, idleSource{}, stubGeocoder{}, location.Config{SearchDebounce: 5 * time.Millisecond}, nil)
	saved := &memSaved{}
	settings := &stubSettings{}
	o := NewOrchestrator(principal, resolver, settings, saved, searcher, nil)
	t.Cleanup(o.Close)
	return o, saved, settings
}

func query() models.BookingQuery {
	return models.BookingQuery{Role: models.RoleNanny, StartDate: "2026-11-01", EndDate: "2026-11-30", PreferredStartTime: "09:00", DurationMinutes: 180}
}

var kilimani = models.GeocodeHit{DisplayName: "Kilimani, Nairobi", Lat: -1.2921, Lon: 36.7856}

func waitFor(t *testing.T, task interface{ Wait(context.Context) error }) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return task.Wait(ctx)
}

func awaitStatus(t *testing.T, o *Orchestrator, status models.DiscoveryStatus) models.DiscoveryState {
	t.Helper()
	require.Eventually(t, func() bool { return o.State().Status == status }, 2*time.Second, 2*time.Millisecond,
		"expected status %s, have %s", status, o.State().Status)
	return o.State()
}

func TestSearch_EmptyResultIsEmptyNotError(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, permission.Ready, &fakeSearcher{})

	require.NoError(t, waitFor(t, o.SetQuery(query())))
	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)

	st := awaitStatus(t, o, models.StatusEmpty)
	assert.Nil(t, st.Error)
	assert.NotNil(t, st.Candidates)
	assert.Empty(t, st.Candidates)
}

func TestSearch_SuccessCarriesCandidatesAndLocation(t *testing.T) {
	searcher := &fakeSearcher{answer: func(q models.BookingQuery) ([]models.ProviderCandidate, error) {
		return []models.ProviderCandidate{{ProviderID: "p1", BestMatch: true}, {ProviderID: "p2"}}, nil
	}}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)

	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, o.State().Status, "no search without a query")
	assert.Equal(t, 0, searcher.callCount())

	require.NoError(t, waitFor(t, o.SetQuery(query())))
	st := awaitStatus(t, o, models.StatusSuccess)
	require.Len(t, st.Candidates, 2)
	assert.Equal(t, "p1", st.Candidates[0].ProviderID)
	require.NotNil(t, st.Location)
	assert.Equal(t, "Kilimani, Nairobi", st.Location.FormattedAddress)

	searcher.mu.Lock()
	defer searcher.mu.Unlock()
	require.Len(t, searcher.calls, 1)
	assert.Equal(t, -1.2921, searcher.calls[0].Location.Latitude)
	assert.Equal(t, 36.7856, searcher.calls[0].Location.Longitude)
}

func TestSearch_AtMostOncePerPair(t *testing.T) {
	searcher := &fakeSearcher{}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)

	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, waitFor(t, o.SetQuery(query())))
	}
	awaitStatus(t, o, models.StatusEmpty)
	assert.Equal(t, 1, searcher.callCount())

	q := query()
	q.Role = models.RoleCook
	require.NoError(t, waitFor(t, o.SetQuery(q)))
	assert.Equal(t, 2, searcher.callCount())
}

func TestSetQuery_IncompleteRejected(t *testing.T) {
	searcher := &fakeSearcher{}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)
	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)

	q := query()
	q.Role = ""
	assert.ErrorIs(t, waitFor(t, o.SetQuery(q)), models.ErrValidation)
	assert.Equal(t, 0, searcher.callCount())
}

func TestSearch_FailureSurfacesKindAndCategory(t *testing.T) {
	searcher := &fakeSearcher{answer: func(models.BookingQuery) ([]models.ProviderCandidate, error) {
		return nil, models.NewSearchFailed(503, "unavailable", nil)
	}}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)

	require.NoError(t, waitFor(t, o.SetQuery(query())))
	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)

	st := awaitStatus(t, o, models.StatusError)
	require.NotNil(t, st.Error)
	assert.Equal(t, models.ErrKindSearchFailed, *st.Error)
	assert.Equal(t, models.NetworkKindServer, st.NetworkKind)
}

func TestRetry_ReplaysLastPair(t *testing.T) {
	var fail = true
	var mu sync.Mutex
	searcher := &fakeSearcher{answer: func(models.BookingQuery) ([]models.ProviderCandidate, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, models.NewSearchFailed(0, "offline", errors.New("dial tcp"))
		}
		return []models.ProviderCandidate{{ProviderID: "p1"}}, nil
	}}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)

	require.NoError(t, waitFor(t, o.SetQuery(query())))
	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)
	st := awaitStatus(t, o, models.StatusError)
	assert.Equal(t, models.NetworkKindNetwork, st.NetworkKind)

	mu.Lock()
	fail = false
	mu.Unlock()

	require.NoError(t, waitFor(t, o.Retry()))
	awaitStatus(t, o, models.StatusSuccess)

	searcher.mu.Lock()
	defer searcher.mu.Unlock()
	require.Len(t, searcher.calls, 2)
	assert.Equal(t, searcher.calls[0], searcher.calls[1])
}

func TestRetry_NoopWhileSearching(t *testing.T) {
	searcher := &fakeSearcher{block: make(chan struct{}), started: make(chan models.BookingQuery, 4)}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)

	require.NoError(t, waitFor(t, o.SetQuery(query())))
	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)
	<-searcher.started

	first := o.Retry()
	second := o.Retry()
	assert.Same(t, first, second)
	assert.Equal(t, 1, searcher.callCount())

	close(searcher.block)
	require.NoError(t, waitFor(t, first))
	awaitStatus(t, o, models.StatusEmpty)
}

func TestSetQuery_SamePairReturnsRunningSearch(t *testing.T) {
	searcher := &fakeSearcher{block: make(chan struct{}), started: make(chan models.BookingQuery, 4)}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)

	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)
	first := o.SetQuery(query())
	<-searcher.started

	again := o.SetQuery(query())
	assert.Same(t, first, again)
	select {
	case <-again.Done():
		t.Fatal("task finished before the search did")
	default:
	}
	assert.Equal(t, 1, searcher.callCount())

	close(searcher.block)
	require.NoError(t, waitFor(t, again))
	awaitStatus(t, o, models.StatusEmpty)

	done := o.SetQuery(query())
	require.NoError(t, waitFor(t, done))
	assert.Equal(t, 1, searcher.callCount())
}

func TestRetry_NothingToRetry(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, permission.Ready, &fakeSearcher{})
	assert.ErrorIs(t, waitFor(t, o.Retry()), models.ErrValidation)
}

func TestSearch_StaleResultDropped(t *testing.T) {
	release := make(chan struct{})
	searcher := &fakeSearcher{started: make(chan models.BookingQuery, 4), answer: func(q models.BookingQuery) ([]models.ProviderCandidate, error) {
		if q.Location.Latitude == kilimani.Lat {
			<-release
			return []models.ProviderCandidate{{ProviderID: "stale"}}, nil
		}
		return []models.ProviderCandidate{{ProviderID: "fresh"}}, nil
	}}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)
	require.NoError(t, waitFor(t, o.SetQuery(query())))

	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)
	<-searcher.started

	_, err = o.SelectSearchResult(models.GeocodeHit{DisplayName: "Karen, Nairobi", Lat: -1.3197, Lon: 36.7073})
	require.NoError(t, err)
	<-searcher.started
	st := awaitStatus(t, o, models.StatusSuccess)
	assert.Equal(t, "fresh", st.Candidates[0].ProviderID)

	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "fresh", o.State().Candidates[0].ProviderID)
	assert.Equal(t, "Karen, Nairobi", o.State().Location.FormattedAddress)
}

func TestResolveAuto_DeniedSurfacesError(t *testing.T) {
	o, _, settings := newTestOrchestrator(t, permission.Denied, &fakeSearcher{})

	err := waitFor(t, o.ResolveAuto())
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	st := o.State()
	assert.Equal(t, models.StatusError, st.Status)
	assert.Equal(t, models.ErrKindPermissionDenied, *st.Error)

	assert.Equal(t, 0, settings.opened)
	require.NoError(t, o.OpenSettings(context.Background()))
	assert.Equal(t, 1, settings.opened)
}

func TestResolveManual_ResolvesThenSearches(t *testing.T) {
	searcher := &fakeSearcher{}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)
	require.NoError(t, waitFor(t, o.SetQuery(query())))

	require.NoError(t, waitFor(t, o.ResolveManual(models.Coordinates{Latitude: -1.28, Longitude: 36.82})))
	awaitStatus(t, o, models.StatusEmpty)
	assert.Equal(t, 1, searcher.callCount())
	assert.Equal(t, models.MethodManual, o.State().Location.AcquisitionMethod)
}

func TestSaveAsAndUseSavedLocation(t *testing.T) {
	searcher := &fakeSearcher{}
	o, saved, _ := newTestOrchestrator(t, permission.Ready, searcher)
	ctx := context.Background()

	_, err := o.SaveAs(ctx, principal, "Home")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = o.SelectSearchResult(kilimani)
	require.NoError(t, err)
	entry, err := o.SaveAs(ctx, principal, "Home")
	require.NoError(t, err)
	assert.Equal(t, "Kilimani, Nairobi", entry.Location.FormattedAddress)
	assert.Equal(t, 1, saved.upserts)

	_, err = o.SelectSearchResult(models.GeocodeHit{DisplayName: "Karen", Lat: -1.31, Lon: 36.70})
	require.NoError(t, err)
	require.NoError(t, waitFor(t, o.SetQuery(query())))

	loc, err := o.UseSavedLocation(ctx, principal, "home")
	require.NoError(t, err)
	assert.Equal(t, "Kilimani, Nairobi", loc.FormattedAddress)
	awaitStatus(t, o, models.StatusEmpty)
	assert.Equal(t, "Kilimani, Nairobi", o.State().Location.FormattedAddress)

	_, err = o.UseSavedLocation(ctx, principal, "gym")
	assert.ErrorIs(t, err, models.ErrValidation)

	list, err := o.SavedLocations(ctx, principal)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, o.RemoveSavedLocation(ctx, principal, list[0].ID))
}

func TestSavedLocations_UseCallerCredential(t *testing.T) {
	saved := &memSaved{}
	resolver := location.NewResolver(stubGate{outcome: permission.Ready}, idleSource{}, stubGeocoder{}, location.Config{}, nil)
	o := NewOrchestrator(principal, resolver, &stubSettings{}, saved, &fakeSearcher{}, nil)
	t.Cleanup(o.Close)
	ctx := context.Background()

	refreshed := models.Principal{CustomerID: principal.CustomerID, Token: "tok-refreshed"}
	_, err := o.SavedLocations(ctx, refreshed)
	require.NoError(t, err)
	assert.Equal(t, "tok-refreshed", saved.lastToken)

	_, err = o.SavedLocations(ctx, models.Principal{CustomerID: "someone-else", Token: "tok"})
	assert.ErrorIs(t, err, models.ErrAuthRequired)
	_, err = o.SaveAs(ctx, models.Principal{}, "Home")
	assert.ErrorIs(t, err, models.ErrAuthRequired)
	assert.Equal(t, "tok-refreshed", saved.lastToken)
}

func TestClose_StopsPublishing(t *testing.T) {
	searcher := &fakeSearcher{block: make(chan struct{}), started: make(chan models.BookingQuery, 1)}
	o, _, _ := newTestOrchestrator(t, permission.Ready, searcher)

	var mu sync.Mutex
	var seen []models.DiscoveryStatus
	o.Subscribe(func(st models.DiscoveryState) {
		mu.Lock()
		seen = append(seen, st.Status)
		mu.Unlock()
	})

	require.NoError(t, waitFor(t, o.SetQuery(query())))
	_, err := o.SelectSearchResult(kilimani)
	require.NoError(t, err)
	<-searcher.started

	o.Close()
	mu.Lock()
	count := len(seen)
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, count, len(seen))
	assert.Equal(t, models.StatusSearching, seen[len(seen)-1])

	assert.ErrorIs(t, waitFor(t, o.SetQuery(query())), context.Canceled)
}
