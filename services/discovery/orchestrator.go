// Package discovery sequences location resolution, saved locations and the
// availability search behind one observable DiscoveryState.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"homehelp/models"
	"homehelp/services/availability"
	"homehelp/services/location"
	"homehelp/utils"

	"go.uber.org/zap"
)

// SettingsOpener deep-links to the device settings.
type SettingsOpener interface {
	OpenSettings(ctx context.Context) error
}

// SavedLocations is the part of savedlocation.Store the orchestrator uses.
type SavedLocations interface {
	List(ctx context.Context, p models.Principal) ([]models.SavedLocation, error)
	Upsert(ctx context.Context, p models.Principal, name string, loc models.ResolvedLocation) (models.SavedLocation, error)
	Remove(ctx context.Context, p models.Principal, locationID string) error
	FindByName(ctx context.Context, p models.Principal, name string) (*models.SavedLocation, error)
}

// Orchestrator drives Idle → Resolving → Searching → Success|Empty|Error.
// A search starts once both a resolved location and a complete query are
// known, and runs at most once per (location, query) pair.
type Orchestrator struct {
	principal models.Principal
	resolver  *location.Resolver
	settings  SettingsOpener
	saved     SavedLocations
	searcher  availability.Searcher
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       models.DiscoveryState
	location    *models.ResolvedLocation
	query       *models.BookingQuery
	lastKey     string
	lastPair    *models.BookingQuery
	searchSeq   uint64
	searchTask  *utils.Task
	closed      bool
	subs        map[int]func(models.DiscoveryState)
	suggestSubs map[int]func(string, []models.GeocodeHit)
	nextSub     int
	version     uint64

	notifyMu  sync.Mutex
	delivered uint64

	unsubscribe func()
}

// NewOrchestrator wires an orchestrator for principal and subscribes it to
// the resolver.
func NewOrchestrator(p models.Principal, resolver *location.Resolver, settings SettingsOpener, saved SavedLocations, searcher availability.Searcher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		principal:   p,
		resolver:    resolver,
		settings:    settings,
		saved:       saved,
		searcher:    searcher,
		logger:      logger.With(zap.String("customerId", p.CustomerID)),
		ctx:         ctx,
		cancel:      cancel,
		state:       models.DiscoveryState{Status: models.StatusIdle, Candidates: []models.ProviderCandidate{}, UpdatedAt: time.Now().UTC()},
		subs:        make(map[int]func(models.DiscoveryState)),
		suggestSubs: make(map[int]func(string, []models.GeocodeHit)),
	}
	o.unsubscribe = resolver.Subscribe(o.onLocation)
	return o
}

// ResolveAuto starts GPS resolution.
func (o *Orchestrator) ResolveAuto() *utils.Task { return o.resolver.ResolveAuto() }

// ResolveManual resolves a map pin.
func (o *Orchestrator) ResolveManual(coord models.Coordinates) *utils.Task {
	return o.resolver.ResolveManual(coord)
}

// UseCurrentLocation re-derives the session's last GPS fix.
func (o *Orchestrator) UseCurrentLocation() *utils.Task { return o.resolver.UseCurrentLocation() }

// SearchText feeds the debounced address search.
func (o *Orchestrator) SearchText(text string) { o.resolver.SearchText(text) }

// Suggestions returns the latest address search hits.
func (o *Orchestrator) Suggestions() []models.GeocodeHit { return o.resolver.Suggestions() }

// SelectSearchResult adopts a suggestion as the service location.
func (o *Orchestrator) SelectSearchResult(hit models.GeocodeHit) (models.ResolvedLocation, error) {
	return o.resolver.SelectSearchResult(hit)
}

// OpenSettings deep-links to the OS settings after the user confirmed.
func (o *Orchestrator) OpenSettings(ctx context.Context) error {
	return o.settings.OpenSettings(ctx)
}

// SetQuery records the booking parameters. Incomplete queries are rejected.
// The returned task is the search it triggered, if any.
func (o *Orchestrator) SetQuery(q models.BookingQuery) *utils.Task {
	if err := q.Validate(); err != nil {
		return utils.Completed(models.WrapDiscoveryError(models.ErrKindValidation, "invalid booking query", err))
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return utils.Completed(context.Canceled)
	}
	o.query = &q
	task, st, ver := o.maybeSearchLocked()
	if task == nil {
		task = o.runningSearchLocked()
	}
	o.mu.Unlock()

	o.notify(ver, st)
	if task == nil {
		return utils.Completed(nil)
	}
	return task
}

// runningSearchLocked returns the search in flight for the current pair.
func (o *Orchestrator) runningSearchLocked() *utils.Task {
	if o.searchTask == nil || o.lastPair == nil || o.lastKey == "" {
		return nil
	}
	if pairKey(*o.lastPair) != o.lastKey {
		return nil
	}
	return o.searchTask
}

// Retry replays the last (location, query) pair. While that pair is still
// being searched it returns the running search instead of starting another.
func (o *Orchestrator) Retry() *utils.Task {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return utils.Completed(context.Canceled)
	}
	if o.lastPair == nil {
		o.mu.Unlock()
		return utils.Completed(models.NewDiscoveryError(models.ErrKindValidation, "nothing to retry"))
	}
	if o.state.Status == models.StatusSearching && o.searchTask != nil {
		task := o.searchTask
		o.mu.Unlock()
		return task
	}
	task, st, ver := o.startSearchLocked(*o.lastPair)
	o.mu.Unlock()

	o.notify(ver, st)
	return task
}

// SaveAs stores the current location under name. p is the caller's current
// credential; it must belong to the session's customer.
func (o *Orchestrator) SaveAs(ctx context.Context, p models.Principal, name string) (models.SavedLocation, error) {
	if err := o.checkPrincipal(p); err != nil {
		return models.SavedLocation{}, err
	}
	o.mu.Lock()
	loc := o.location
	o.mu.Unlock()
	if loc == nil {
		return models.SavedLocation{}, models.NewDiscoveryError(models.ErrKindValidation, "no location resolved to save")
	}
	return o.saved.Upsert(ctx, p, name, *loc)
}

// UseSavedLocation adopts the saved location called name.
func (o *Orchestrator) UseSavedLocation(ctx context.Context, p models.Principal, name string) (models.ResolvedLocation, error) {
	if err := o.checkPrincipal(p); err != nil {
		return models.ResolvedLocation{}, err
	}
	found, err := o.saved.FindByName(ctx, p, name)
	if err != nil {
		return models.ResolvedLocation{}, err
	}
	if found == nil {
		return models.ResolvedLocation{}, models.NewDiscoveryError(models.ErrKindValidation, fmt.Sprintf("no saved location named %q", strings.TrimSpace(name)))
	}
	if err := o.resolver.SelectSaved(found.Location); err != nil {
		return models.ResolvedLocation{}, err
	}
	return found.Location, nil
}

// SavedLocations lists the customer's saved locations.
func (o *Orchestrator) SavedLocations(ctx context.Context, p models.Principal) ([]models.SavedLocation, error) {
	if err := o.checkPrincipal(p); err != nil {
		return nil, err
	}
	return o.saved.List(ctx, p)
}

// RemoveSavedLocation deletes a saved location by ID.
func (o *Orchestrator) RemoveSavedLocation(ctx context.Context, p models.Principal, id string) error {
	if err := o.checkPrincipal(p); err != nil {
		return err
	}
	return o.saved.Remove(ctx, p, id)
}

// checkPrincipal rejects credentials that are missing or name another
// customer. Tokens may rotate during a session.
func (o *Orchestrator) checkPrincipal(p models.Principal) error {
	if !p.Authenticated() || p.CustomerID != o.principal.CustomerID {
		return models.NewDiscoveryError(models.ErrKindAuthRequired, "sign in as the session's customer")
	}
	return nil
}

// State returns the current snapshot.
func (o *Orchestrator) State() models.DiscoveryState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneState(o.state)
}

// Subscribe registers fn for state snapshots and returns its cancel func.
func (o *Orchestrator) Subscribe(fn func(models.DiscoveryState)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// SubscribeSuggestions registers fn for applied address search results.
func (o *Orchestrator) SubscribeSuggestions(fn func(query string, hits []models.GeocodeHit)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.suggestSubs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.suggestSubs, id)
		o.mu.Unlock()
	}
}

// Close tears down the resolver and any running search. No state is
// published afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.searchSeq++
	task := o.searchTask
	o.searchTask = nil
	o.subs = make(map[int]func(models.DiscoveryState))
	o.suggestSubs = make(map[int]func(string, []models.GeocodeHit))
	o.mu.Unlock()

	task.Cancel()
	o.unsubscribe()
	o.resolver.Close()
	o.cancel()
}

func (o *Orchestrator) publishSuggestions(query string, hits []models.GeocodeHit) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	subs := make([]func(string, []models.GeocodeHit), 0, len(o.suggestSubs))
	for _, fn := range o.suggestSubs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()
	for _, fn := range subs {
		fn(query, hits)
	}
}

// onLocation maps resolver snapshots onto the discovery state.
func (o *Orchestrator) onLocation(ls location.State) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	var (
		st  models.DiscoveryState
		ver uint64
	)
	switch ls.Phase {
	case location.PhaseResolving:
		o.invalidateSearchLocked()
		o.location = nil
		st, ver = o.setLocked(models.DiscoveryState{Status: models.StatusResolving})
	case location.PhaseResolved:
		loc := *ls.Location
		o.location = &loc
		o.lastKey = ""
		_, st, ver = o.maybeSearchLocked()
		if ver == 0 {
			st, ver = o.setLocked(models.DiscoveryState{Status: models.StatusIdle})
		}
	case location.PhaseFailed:
		o.invalidateSearchLocked()
		o.location = nil
		kind := ls.Error
		st, ver = o.setLocked(models.DiscoveryState{Status: models.StatusError, Error: &kind})
	default:
		if o.state.Status == models.StatusResolving {
			st, ver = o.setLocked(models.DiscoveryState{Status: models.StatusIdle})
		}
	}
	o.mu.Unlock()

	if ver > 0 {
		o.notify(ver, st)
	}
}

// maybeSearchLocked starts a search if the pair is ready and new. It returns
// a zero version when nothing changed.
func (o *Orchestrator) maybeSearchLocked() (*utils.Task, models.DiscoveryState, uint64) {
	if o.location == nil || o.query == nil || !o.query.Complete() {
		return nil, models.DiscoveryState{}, 0
	}
	q := o.query.WithLocation(o.location.Coordinates())
	key := pairKey(q)
	if key == o.lastKey {
		return nil, models.DiscoveryState{}, 0
	}
	o.lastKey = key
	return o.startSearchLocked(q)
}

func (o *Orchestrator) startSearchLocked(q models.BookingQuery) (*utils.Task, models.DiscoveryState, uint64) {
	o.invalidateSearchLocked()
	seq := o.searchSeq
	pair := q
	o.lastPair = &pair

	st, ver := o.setLocked(models.DiscoveryState{Status: models.StatusSearching})
	o.searchTask = utils.Go(o.ctx, func(ctx context.Context) error {
		candidates, err := o.searcher.Search(ctx, q)
		o.finishSearch(seq, candidates, err)
		return err
	})
	return o.searchTask, st, ver
}

func (o *Orchestrator) invalidateSearchLocked() {
	o.searchSeq++
	if o.searchTask != nil {
		o.searchTask.Cancel()
		o.searchTask = nil
	}
}

func (o *Orchestrator) finishSearch(seq uint64, candidates []models.ProviderCandidate, err error) {
	o.mu.Lock()
	if o.closed || seq != o.searchSeq {
		o.mu.Unlock()
		o.logger.Debug("finishSearch: dropping stale search result", zap.Uint64("seq", seq))
		return
	}
	o.searchTask = nil

	var next models.DiscoveryState
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		// cancelled through the task handle; allow the pair to run again
		o.lastKey = ""
		next = models.DiscoveryState{Status: models.StatusIdle}
	case err != nil:
		kind, ok := models.KindOf(err)
		if !ok {
			kind = models.ErrKindSearchFailed
		}
		o.logger.Warn("finishSearch: availability search failed", zap.Error(err))
		next = models.DiscoveryState{Status: models.StatusError, Error: &kind, NetworkKind: models.NetworkKindOf(err)}
	case len(candidates) == 0:
		next = models.DiscoveryState{Status: models.StatusEmpty}
	default:
		next = models.DiscoveryState{Status: models.StatusSuccess, Candidates: candidates}
	}
	st, ver := o.setLocked(next)
	o.mu.Unlock()

	o.notify(ver, st)
}

// setLocked stamps st with the current location and query and stores it.
func (o *Orchestrator) setLocked(st models.DiscoveryState) (models.DiscoveryState, uint64) {
	if st.Candidates == nil {
		st.Candidates = []models.ProviderCandidate{}
	}
	if o.location != nil {
		loc := *o.location
		st.Location = &loc
	}
	if o.query != nil {
		q := *o.query
		st.Query = &q
	}
	st.UpdatedAt = time.Now().UTC()
	o.state = st
	o.version++
	return cloneState(st), o.version
}

func (o *Orchestrator) notify(ver uint64, st models.DiscoveryState) {
	if ver == 0 {
		return
	}
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	if ver <= o.delivered {
		return
	}
	o.delivered = ver

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	subs := make([]func(models.DiscoveryState), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func pairKey(q models.BookingQuery) string {
	return fmt.Sprintf("%.6f,%.6f|%s|%s|%s|%s|%d|%g",
		q.Location.Latitude, q.Location.Longitude,
		q.Role, q.StartDate, q.EndDate, q.PreferredStartTime, q.DurationMinutes, q.RadiusKm)
}

func cloneState(st models.DiscoveryState) models.DiscoveryState {
	out := st
	out.Candidates = make([]models.ProviderCandidate, len(st.Candidates))
	copy(out.Candidates, st.Candidates)
	return out
}
