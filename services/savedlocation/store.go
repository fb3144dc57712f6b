// Package savedlocation keeps a customer's named locations in sync with the
// remote preference record. Names are unique per customer ignoring case.
package savedlocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"homehelp/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options tunes conflict retries.
type Options struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultOptions retries a stale write three times.
var DefaultOptions = Options{
	MaxRetries:     3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
}

type cachedRecord struct {
	locations []models.SavedLocation
	version   int64
}

// Store is the saved-location repository. Mutations for one customer are
// serialized; each one rewrites the whole array.
type Store struct {
	backend PreferenceBackend
	opts    Options
	logger  *zap.Logger
	locks   *keyedMutex
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedRecord
}

// NewStore builds a store over backend.
func NewStore(backend PreferenceBackend, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultOptions.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultOptions.MaxBackoff
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger,
		locks:   newKeyedMutex(),
		now:     time.Now,
		cache:   make(map[string]cachedRecord),
	}
}

// List returns the customer's saved locations, fetching them on first use.
func (s *Store) List(ctx context.Context, p models.Principal) ([]models.SavedLocation, error) {
	if err := requireAuth(p); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(p.CustomerID)
	defer unlock()

	rec, err := s.load(ctx, p)
	if err != nil {
		return nil, err
	}
	return cloneLocations(rec.locations), nil
}

// FindByName looks a saved location up ignoring case.
func (s *Store) FindByName(ctx context.Context, p models.Principal, name string) (*models.SavedLocation, error) {
	list, err := s.List(ctx, p)
	if err != nil {
		return nil, err
	}
	if i := indexByName(list, name); i >= 0 {
		found := list[i]
		return &found, nil
	}
	return nil, nil
}

// Upsert saves loc under name. An existing entry whose name matches ignoring
// case is replaced in place and keeps its ID; otherwise a new entry is
// appended.
func (s *Store) Upsert(ctx context.Context, p models.Principal, name string, loc models.ResolvedLocation) (models.SavedLocation, error) {
	if err := requireAuth(p); err != nil {
		return models.SavedLocation{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.SavedLocation{}, models.NewDiscoveryError(models.ErrKindValidation, "saved location name is required")
	}
	if !loc.Complete() {
		return models.SavedLocation{}, models.NewDiscoveryError(models.ErrKindValidation, "location is incomplete")
	}

	var saved models.SavedLocation
	err := s.mutate(ctx, p, opUpsert, func(list []models.SavedLocation) ([]models.SavedLocation, error) {
		entry := models.SavedLocation{Name: name, Location: loc, UpdatedAt: s.now().UTC()}
		if i := indexByName(list, name); i >= 0 {
			entry.ID = list[i].ID
			list[i] = entry
		} else {
			entry.ID = uuid.NewString()
			list = append(list, entry)
		}
		saved = entry
		return list, nil
	})
	if err != nil {
		return models.SavedLocation{}, err
	}
	return saved, nil
}

// Remove deletes the entry with locationID. On a failed write the cached
// list is restored to its state before the removal.
func (s *Store) Remove(ctx context.Context, p models.Principal, locationID string) error {
	if err := requireAuth(p); err != nil {
		return err
	}
	return s.mutate(ctx, p, opRemove, func(list []models.SavedLocation) ([]models.SavedLocation, error) {
		out := list[:0]
		found := false
		for _, l := range list {
			if l.ID == locationID {
				found = true
				continue
			}
			out = append(out, l)
		}
		if !found {
			return nil, models.NewDiscoveryError(models.ErrKindValidation, fmt.Sprintf("no saved location with id %q", locationID))
		}
		return out, nil
	})
}

// Forget drops the session cache for customerID.
func (s *Store) Forget(customerID string) {
	s.mu.Lock()
	delete(s.cache, customerID)
	s.mu.Unlock()
}

// mutate runs a read-modify-write cycle under the customer's lock. The new
// list is cached before the write and rolled back if the write fails. A
// version conflict re-reads the record and reapplies fn.
func (s *Store) mutate(ctx context.Context, p models.Principal, op string, fn func([]models.SavedLocation) ([]models.SavedLocation, error)) error {
	unlock := s.locks.Lock(p.CustomerID)
	defer unlock()

	current, err := s.load(ctx, p)
	if err != nil {
		savedLocationWritesTotal.WithLabelValues(op, "error").Inc()
		return err
	}

	attempt := func() error {
		next, err := fn(cloneLocations(current.locations))
		if err != nil {
			return backoff.Permanent(err)
		}
		s.put(p.CustomerID, cachedRecord{locations: next, version: current.version})

		rec := &models.CustomerPreferenceRecord{
			CustomerID:     p.CustomerID,
			SavedLocations: cloneLocations(next),
			Version:        current.version,
		}
		if err := s.backend.Replace(ctx, p, rec); err != nil {
			s.put(p.CustomerID, current)
			if !errors.Is(err, models.ErrPreferenceVersionConflict) {
				return backoff.Permanent(err)
			}
			s.logger.Info("mutate: stale preference record; re-reading", zap.String("customerId", p.CustomerID), zap.String("op", op))
			fresh, ferr := s.fetch(ctx, p)
			if ferr != nil {
				return backoff.Permanent(ferr)
			}
			current = fresh
			s.put(p.CustomerID, current)
			return err
		}
		s.put(p.CustomerID, cachedRecord{locations: next, version: rec.Version})
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.opts.MaxRetries), ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		outcome := "error"
		if errors.Is(err, models.ErrValidation) {
			outcome = "rejected"
		}
		savedLocationWritesTotal.WithLabelValues(op, outcome).Inc()
		s.logger.Warn("mutate: saved location write failed", zap.String("customerId", p.CustomerID), zap.String("op", op), zap.Error(err))
		return err
	}
	savedLocationWritesTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func (s *Store) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.opts.InitialBackoff
	exp.MaxInterval = s.opts.MaxBackoff
	exp.Multiplier = 2
	exp.Reset()
	return exp
}

// load returns the cached record or fetches it. Callers hold the customer lock.
func (s *Store) load(ctx context.Context, p models.Principal) (cachedRecord, error) {
	s.mu.Lock()
	rec, ok := s.cache[p.CustomerID]
	s.mu.Unlock()
	if ok {
		return rec, nil
	}
	rec, err := s.fetch(ctx, p)
	if err != nil {
		return cachedRecord{}, err
	}
	s.put(p.CustomerID, rec)
	return rec, nil
}

func (s *Store) fetch(ctx context.Context, p models.Principal) (cachedRecord, error) {
	remote, err := s.backend.Fetch(ctx, p)
	if errors.Is(err, models.ErrPreferencesNotFound) {
		return cachedRecord{locations: []models.SavedLocation{}}, nil
	}
	if err != nil {
		return cachedRecord{}, fmt.Errorf("load saved locations: %w", err)
	}
	return cachedRecord{locations: dedupeByName(remote.SavedLocations), version: remote.Version}, nil
}

func (s *Store) put(customerID string, rec cachedRecord) {
	s.mu.Lock()
	s.cache[customerID] = cachedRecord{locations: cloneLocations(rec.locations), version: rec.version}
	s.mu.Unlock()
}

func requireAuth(p models.Principal) error {
	if !p.Authenticated() {
		return models.NewDiscoveryError(models.ErrKindAuthRequired, "sign in to manage saved locations")
	}
	return nil
}

func indexByName(list []models.SavedLocation, name string) int {
	name = strings.TrimSpace(name)
	for i, l := range list {
		if strings.EqualFold(strings.TrimSpace(l.Name), name) {
			return i
		}
	}
	return -1
}

// dedupeByName collapses entries whose names differ only by case the way
// replaying them through Upsert would: the first entry's ID and position,
// the last entry's name and location.
func dedupeByName(list []models.SavedLocation) []models.SavedLocation {
	out := make([]models.SavedLocation, 0, len(list))
	for _, l := range list {
		if i := indexByName(out, l.Name); i >= 0 {
			if out[i].ID != "" {
				l.ID = out[i].ID
			}
			out[i] = l
			continue
		}
		out = append(out, l)
	}
	return out
}

func cloneLocations(list []models.SavedLocation) []models.SavedLocation {
	out := make([]models.SavedLocation, len(list))
	copy(out, list)
	return out
}
