package discovery

import (
	"sync"
	"time"

	"homehelp/models"
	"homehelp/services/availability"
	"homehelp/services/geocoding"
	"homehelp/services/location"
	"homehelp/services/permission"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Device is the customer's phone as seen through the session bridge.
type Device interface {
	permission.Platform
	location.PositionSource
}

// Dependencies are shared by every session.
type Dependencies struct {
	Geocoder       geocoding.Geocoder
	Saved          SessionStore
	Searcher       availability.Searcher
	WatchOptions   location.PositionOptions
	SearchDebounce time.Duration
	Logger         *zap.Logger
}

// SessionStore is a SavedLocations that can drop a customer's cache.
type SessionStore interface {
	SavedLocations
	Forget(customerID string)
}

// Session holds everything scoped to one signed-in customer. It replaces
// process-wide location and preference state.
type Session struct {
	ID           string
	Principal    models.Principal
	OpenedAt     time.Time
	Gate         *permission.Gate
	Orchestrator *Orchestrator

	store     SessionStore
	closeOnce sync.Once
	lastSeen  time.Time
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.Orchestrator.Close()
		s.Gate.Reset()
		s.store.Forget(s.Principal.CustomerID)
	})
}

// SessionManager opens a session on sign-in and tears it down on sign-out.
// There is at most one session per customer.
type SessionManager struct {
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager builds a manager over deps.
func NewSessionManager(deps Dependencies) *SessionManager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &SessionManager{deps: deps, logger: deps.Logger, now: time.Now, sessions: make(map[string]*Session)}
}

// Open starts a session for p driving device. An existing session for the
// same customer is closed first.
func (m *SessionManager) Open(p models.Principal, device Device) (*Session, error) {
	if !p.Authenticated() {
		return nil, models.NewDiscoveryError(models.ErrKindAuthRequired, "sign in to start discovery")
	}
	logger := m.deps.Logger.With(zap.String("customerId", p.CustomerID))

	gate := permission.NewGate(device, logger)
	var orch *Orchestrator
	resolver := location.NewResolver(gate, device, m.deps.Geocoder, location.Config{
		WatchOptions:   m.deps.WatchOptions,
		SearchDebounce: m.deps.SearchDebounce,
		OnSuggestions: func(query string, hits []models.GeocodeHit) {
			if orch != nil {
				orch.publishSuggestions(query, hits)
			}
		},
	}, logger)
	orch = NewOrchestrator(p, resolver, gate, m.deps.Saved, m.deps.Searcher, logger)

	s := &Session{
		ID:           uuid.NewString(),
		Principal:    p,
		OpenedAt:     m.now().UTC(),
		Gate:         gate,
		Orchestrator: orch,
		store:        m.deps.Saved,
	}

	m.mu.Lock()
	s.lastSeen = m.now()
	prev := m.sessions[p.CustomerID]
	m.sessions[p.CustomerID] = s
	m.mu.Unlock()

	if prev != nil {
		logger.Info("Open: replacing existing discovery session", zap.String("previous", prev.ID))
		prev.close()
	}
	logger.Info("Open: discovery session started", zap.String("sessionId", s.ID))
	return s, nil
}

// Get returns the customer's live session and marks it active.
func (m *SessionManager) Get(customerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[customerID]
	if ok {
		s.lastSeen = m.now()
	}
	return s, ok
}

// Active reports whether the customer has a live session, without marking it
// used.
func (m *SessionManager) Active(customerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[customerID]
	return ok
}

// CloseIdle ends every session not used for maxIdle and returns the
// customers whose sessions were closed.
func (m *SessionManager) CloseIdle(maxIdle time.Duration) []string {
	cutoff := m.now().Add(-maxIdle)
	var idle []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	closed := make([]string, 0, len(idle))
	for _, s := range idle {
		s.close()
		closed = append(closed, s.Principal.CustomerID)
		m.logger.Info("CloseIdle: discovery session expired", zap.String("customerId", s.Principal.CustomerID), zap.String("sessionId", s.ID))
	}
	return closed
}

// Close ends the customer's session and reports whether one existed.
func (m *SessionManager) Close(customerID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[customerID]
	delete(m.sessions, customerID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	m.logger.Info("Close: discovery session ended", zap.String("customerId", customerID), zap.String("sessionId", s.ID))
	return true
}

// CloseAll ends every session, e.g. on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// Count reports the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
