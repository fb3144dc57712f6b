// Package location resolves the customer's service location from one of three
// competing strategies: a GPS fix, a map pin, or a free-text search.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"homehelp/models"
	"homehelp/services/geocoding"
	"homehelp/services/permission"
	"homehelp/utils"

	"go.uber.org/zap"
)

// ErrResolverClosed is returned by tasks started after Close.
var ErrResolverClosed = errors.New("location resolver closed")

// Phase is the resolver's state machine position.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseResolving Phase = "resolving"
	PhaseResolved  Phase = "resolved"
	PhaseFailed    Phase = "failed"
)

// State is a snapshot of the resolver.
type State struct {
	Phase    Phase                    `json:"phase"`
	Method   models.AcquisitionMethod `json:"method,omitempty"`
	Location *models.ResolvedLocation `json:"location,omitempty"`
	Error    models.ErrorKind         `json:"error,omitempty"`
	Err      error                    `json:"-"`
}

// ReadinessGate is satisfied by *permission.Gate.
type ReadinessGate interface {
	EnsureReady(ctx context.Context) permission.Outcome
}

// Config tunes a Resolver.
type Config struct {
	WatchOptions   PositionOptions
	SearchDebounce time.Duration
	// OnSuggestions is called with each applied text search result.
	OnSuggestions func(query string, hits []models.GeocodeHit)
}

// Resolver owns the current ResolvedLocation. Each strategy start takes a new
// generation and cancels the previous strategy's task, so at most one watch
// is ever live and completions from an older generation never land.
type Resolver struct {
	gate     ReadinessGate
	source   PositionSource
	geocoder geocoding.Geocoder
	opts     PositionOptions
	search   *TextSearch
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	gen     uint64
	active  *utils.Task
	state   State
	version uint64
	lastFix *Fix
	closed  bool
	subs    map[int]func(State)
	nextSub int

	notifyMu  sync.Mutex
	delivered uint64
}

// NewResolver wires a resolver. Zero-valued config fields take defaults.
func NewResolver(gate ReadinessGate, source PositionSource, geocoder geocoding.Geocoder, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := cfg.WatchOptions
	if opts.Timeout <= 0 {
		opts = DefaultWatchOptions
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		gate:     gate,
		source:   source,
		geocoder: geocoder,
		opts:     opts,
		search:   NewTextSearch(geocoder, cfg.SearchDebounce, logger, cfg.OnSuggestions),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    State{Phase: PhaseIdle},
		subs:     make(map[int]func(State)),
	}
}

// ResolveAuto runs the GPS strategy: gate, watch for the first fix, reverse
// geocode it.
func (r *Resolver) ResolveAuto() *utils.Task {
	return r.start(models.MethodAuto, r.runAuto)
}

// ResolveManual resolves a tapped map coordinate.
func (r *Resolver) ResolveManual(coord models.Coordinates) *utils.Task {
	if err := validateCoordinates(coord); err != nil {
		return utils.Completed(err)
	}
	return r.start(models.MethodManual, func(ctx context.Context, gen uint64) error {
		return r.resolveCoordinate(ctx, gen, coord, models.MethodManual)
	})
}

// UseCurrentLocation re-derives the address of the fix cached earlier in the
// session without going through the permission gate again. Without a cached
// fix it behaves like ResolveAuto.
func (r *Resolver) UseCurrentLocation() *utils.Task {
	r.mu.Lock()
	fix := r.lastFix
	r.mu.Unlock()
	if fix == nil {
		return r.ResolveAuto()
	}
	coord := fix.Coordinates
	return r.start(models.MethodAuto, func(ctx context.Context, gen uint64) error {
		return r.resolveCoordinate(ctx, gen, coord, models.MethodAuto)
	})
}

// SearchText feeds the debounced text search. Typing is a manual strategy,
// so any live watch or pin lookup is cancelled.
func (r *Resolver) SearchText(text string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	prev := r.supersedeLocked()
	var st State
	var ver uint64
	if r.state.Phase == PhaseResolving {
		st, ver = r.setLocked(State{Phase: PhaseIdle})
	}
	r.mu.Unlock()

	prev.Cancel()
	if ver > 0 {
		r.notify(ver, st)
	}
	r.search.Input(text)
}

// Suggestions returns the current text search hits.
func (r *Resolver) Suggestions() []models.GeocodeHit {
	return r.search.Results()
}

// SelectSearchResult adopts a forward geocode hit directly; no reverse
// lookup is made.
func (r *Resolver) SelectSearchResult(hit models.GeocodeHit) (models.ResolvedLocation, error) {
	coord := models.Coordinates{Latitude: hit.Lat, Longitude: hit.Lon}
	if err := validateCoordinates(coord); err != nil {
		return models.ResolvedLocation{}, err
	}
	if strings.TrimSpace(hit.DisplayName) == "" {
		return models.ResolvedLocation{}, models.NewDiscoveryError(models.ErrKindValidation, "search result has no display name")
	}
	raw, _ := json.Marshal(hit)
	loc := models.ResolvedLocation{
		FormattedAddress:   hit.DisplayName,
		Latitude:           hit.Lat,
		Longitude:          hit.Lon,
		AcquisitionMethod:  models.MethodManual,
		RawProviderPayload: raw,
	}
	if err := r.adopt(loc); err != nil {
		return models.ResolvedLocation{}, err
	}
	r.search.Cancel()
	return loc, nil
}

// SelectSaved adopts a previously saved location as-is.
func (r *Resolver) SelectSaved(loc models.ResolvedLocation) error {
	if !loc.Complete() {
		return models.NewDiscoveryError(models.ErrKindValidation, "saved location is incomplete")
	}
	return r.adopt(loc)
}

// Current returns the latest snapshot.
func (r *Resolver) Current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe registers fn for state snapshots and returns its cancel func.
// Snapshots are delivered in order; a superseded snapshot may be skipped.
// fn runs on the publishing goroutine and must not call back into r.
func (r *Resolver) Subscribe(fn func(State)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Reset forgets the resolved location and the cached fix, e.g. on sign-out.
func (r *Resolver) Reset() {
	r.mu.Lock()
	prev := r.supersedeLocked()
	r.lastFix = nil
	st, ver := r.setLocked(State{Phase: PhaseIdle})
	r.mu.Unlock()

	prev.Cancel()
	r.search.Cancel()
	r.notify(ver, st)
}

// Close cancels the live strategy and the debounce timer. Nothing is
// published afterwards.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	prev := r.supersedeLocked()
	r.subs = make(map[int]func(State))
	r.mu.Unlock()

	prev.Cancel()
	r.search.Close()
	r.cancel()
}

func (r *Resolver) start(method models.AcquisitionMethod, fn func(ctx context.Context, gen uint64) error) *utils.Task {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return utils.Completed(ErrResolverClosed)
	}
	prev := r.supersedeLocked()
	gen := r.gen
	st, ver := r.setLocked(State{Phase: PhaseResolving, Method: method})
	task := utils.Go(r.ctx, func(ctx context.Context) error {
		err := fn(ctx, gen)
		if err != nil && ctx.Err() != nil {
			r.abandon(gen)
		}
		return err
	})
	r.active = task
	r.mu.Unlock()

	prev.Cancel()
	r.search.Cancel()
	r.notify(ver, st)
	return task
}

// supersedeLocked starts a new generation and returns the task it displaced.
func (r *Resolver) supersedeLocked() *utils.Task {
	r.gen++
	prev := r.active
	r.active = nil
	return prev
}

func (r *Resolver) setLocked(st State) (State, uint64) {
	r.state = st
	r.version++
	return st, r.version
}

func (r *Resolver) adopt(loc models.ResolvedLocation) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrResolverClosed
	}
	prev := r.supersedeLocked()
	st, ver := r.setLocked(State{Phase: PhaseResolved, Method: loc.AcquisitionMethod, Location: &loc})
	r.mu.Unlock()

	prev.Cancel()
	r.notify(ver, st)
	return nil
}

func (r *Resolver) runAuto(ctx context.Context, gen uint64) error {
	outcome := r.gate.EnsureReady(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch outcome {
	case permission.Denied:
		return r.fail(gen, models.NewDiscoveryError(models.ErrKindPermissionDenied, "location permission denied"))
	case permission.ServicesDisabled:
		return r.fail(gen, models.NewDiscoveryError(models.ErrKindServicesDisabled, "location services are disabled"))
	}

	fix, err := r.awaitFix(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.fail(gen, err)
	}

	r.mu.Lock()
	r.lastFix = fix
	r.mu.Unlock()

	return r.resolveCoordinate(ctx, gen, fix.Coordinates, models.MethodAuto)
}

// awaitFix watches until the first fix arrives, then stops the watch.
func (r *Resolver) awaitFix(ctx context.Context) (*Fix, error) {
	watchCtx, stop := context.WithTimeout(ctx, r.opts.Timeout)
	defer stop()

	updates, err := r.source.Watch(watchCtx, r.opts)
	if err != nil {
		return nil, positionFailure(err)
	}
	for {
		select {
		case <-watchCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, models.NewDiscoveryError(models.ErrKindTimeout, fmt.Sprintf("no position fix within %s", r.opts.Timeout))
		case u, ok := <-updates:
			if !ok {
				if watchCtx.Err() != nil {
					continue
				}
				return nil, models.NewDiscoveryError(models.ErrKindPositionUnavailable, "position watch ended without a fix")
			}
			if u.Err != nil {
				return nil, positionFailure(u.Err)
			}
			if u.Fix == nil || validateCoordinates(u.Fix.Coordinates) != nil {
				continue
			}
			return u.Fix, nil
		}
	}
}

func (r *Resolver) resolveCoordinate(ctx context.Context, gen uint64, coord models.Coordinates, method models.AcquisitionMethod) error {
	loc := models.ResolvedLocation{
		Latitude:          coord.Latitude,
		Longitude:         coord.Longitude,
		AcquisitionMethod: method,
	}
	addr, err := r.geocoder.ReverseGeocode(ctx, coord.Latitude, coord.Longitude)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		r.logger.Info("resolveCoordinate: reverse geocode failed; using placeholder",
			zap.Float64("lat", coord.Latitude), zap.Float64("lng", coord.Longitude), zap.Error(err))
		loc.FormattedAddress = PlaceholderAddress(coord)
	} else {
		loc.FormattedAddress = addr.DisplayName
		loc.RawProviderPayload = addr.Raw
	}
	r.commit(gen, State{Phase: PhaseResolved, Method: method, Location: &loc})
	return nil
}

func (r *Resolver) fail(gen uint64, err error) error {
	kind, _ := models.KindOf(err)
	r.mu.Lock()
	method := r.state.Method
	r.mu.Unlock()
	r.commit(gen, State{Phase: PhaseFailed, Method: method, Error: kind, Err: err})
	return err
}

// abandon returns a cancelled but still current strategy to idle.
func (r *Resolver) abandon(gen uint64) {
	r.commit(gen, State{Phase: PhaseIdle})
}

// commit applies st if gen is still the live generation.
func (r *Resolver) commit(gen uint64, st State) bool {
	r.mu.Lock()
	if r.closed || gen != r.gen {
		r.mu.Unlock()
		r.logger.Debug("commit: dropping superseded completion", zap.Uint64("gen", gen), zap.String("phase", string(st.Phase)))
		return false
	}
	r.active = nil
	st, ver := r.setLocked(st)
	r.mu.Unlock()
	r.notify(ver, st)
	return true
}

func (r *Resolver) notify(ver uint64, st State) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if ver <= r.delivered {
		return
	}
	r.delivered = ver

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	subs := make([]func(State), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// PlaceholderAddress labels a coordinate that could not be reverse geocoded.
func PlaceholderAddress(c models.Coordinates) string {
	return fmt.Sprintf("Pinned location (%.5f, %.5f)", c.Latitude, c.Longitude)
}

func validateCoordinates(c models.Coordinates) error {
	if c.IsZero() {
		return models.NewDiscoveryError(models.ErrKindValidation, "coordinates are not set")
	}
	if !c.InRange() {
		return models.NewDiscoveryError(models.ErrKindValidation, fmt.Sprintf("coordinates out of range: %f,%f", c.Latitude, c.Longitude))
	}
	return nil
}
