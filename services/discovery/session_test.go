package discovery

import (
	"context"
	"testing"
	"time"

	"homehelp/models"
	"homehelp/services/location"
	"homehelp/services/permission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDevice struct {
	idleSource
	checks int
}

func (d *stubDevice) CheckPermission(context.Context) (permission.Status, error) {
	d.checks++
	return permission.StatusGranted, nil
}

func (d *stubDevice) RequestPermission(context.Context) (permission.Status, error) {
	return permission.StatusGranted, nil
}

func (d *stubDevice) IsLocationServiceEnabled(context.Context) (bool, error) { return true, nil }

func (d *stubDevice) OpenSettings(context.Context) error { return nil }

func newManager(saved *memSaved) *SessionManager {
	return NewSessionManager(Dependencies{
		Geocoder: stubGeocoder{},
		Saved:    saved,
		Searcher: &fakeSearcher{},
	})
}

func TestSessionManager_OpenRequiresAuth(t *testing.T) {
	m := newManager(&memSaved{})
	_, err := m.Open(models.Principal{CustomerID: "cust-9"}, &stubDevice{})
	assert.ErrorIs(t, err, models.ErrAuthRequired)
	assert.Equal(t, 0, m.Count())
}

func TestSessionManager_ReopenReplacesSession(t *testing.T) {
	saved := &memSaved{}
	m := newManager(saved)

	first, err := m.Open(principal, &stubDevice{})
	require.NoError(t, err)
	second, err := m.Open(principal, &stubDevice{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, m.Count())
	got, ok := m.Get(principal.CustomerID)
	require.True(t, ok)
	assert.Same(t, second, got)

	err = waitFor(t, first.Orchestrator.ResolveManual(models.Coordinates{Latitude: -1.2, Longitude: 36.8}))
	assert.ErrorIs(t, err, location.ErrResolverClosed)
	assert.Equal(t, 1, saved.forgets)
}

func TestSessionManager_CloseTearsDown(t *testing.T) {
	saved := &memSaved{}
	m := newManager(saved)
	s, err := m.Open(principal, &stubDevice{})
	require.NoError(t, err)

	require.NoError(t, waitFor(t, s.Orchestrator.ResolveManual(models.Coordinates{Latitude: -1.2, Longitude: 36.8})))

	assert.True(t, m.Close(principal.CustomerID))
	assert.False(t, m.Close(principal.CustomerID))
	_, ok := m.Get(principal.CustomerID)
	assert.False(t, ok)
	assert.Equal(t, 1, saved.forgets)

	err = waitFor(t, s.Orchestrator.ResolveAuto())
	assert.ErrorIs(t, err, location.ErrResolverClosed)
}

func TestSessionManager_GateUsesDevice(t *testing.T) {
	m := newManager(&memSaved{})
	device := &stubDevice{}
	s, err := m.Open(principal, device)
	require.NoError(t, err)
	defer m.CloseAll()

	assert.Equal(t, permission.Ready, s.Gate.EnsureReady(context.Background()))
	assert.Equal(t, 1, device.checks)
}

func TestSessionManager_CloseIdle(t *testing.T) {
	saved := &memSaved{}
	m := newManager(saved)
	clock := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	_, err := m.Open(principal, &stubDevice{})
	require.NoError(t, err)
	other := models.Principal{CustomerID: "cust-2", Token: "tok-2"}
	_, err = m.Open(other, &stubDevice{})
	require.NoError(t, err)

	clock = clock.Add(20 * time.Minute)
	_, ok := m.Get(other.CustomerID)
	require.True(t, ok)

	clock = clock.Add(15 * time.Minute)
	closed := m.CloseIdle(30 * time.Minute)

	assert.Equal(t, []string{principal.CustomerID}, closed)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, saved.forgets)
	m.CloseAll()
}
