package location

import (
	"context"
	"strings"
	"sync"
	"time"

	"homehelp/models"
	"homehelp/services/geocoding"

	"go.uber.org/zap"
)

// DefaultSearchDebounce is the quiet period before a forward geocode fires.
const DefaultSearchDebounce = 500 * time.Millisecond

// TextSearch debounces free-text input into forward geocode calls. Every
// input takes a new sequence number and only the completion carrying the
// latest number is applied; older completions are dropped when they land.
type TextSearch struct {
	geocoder  geocoding.Geocoder
	delay     time.Duration
	logger    *zap.Logger
	onResults func(query string, hits []models.GeocodeHit)

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	seq         uint64
	timer       *time.Timer
	query       string
	results     []models.GeocodeHit
	closed      bool
	completions int
}

// NewTextSearch builds a debouncer. onResults, if set, is called after each
// applied completion.
func NewTextSearch(geocoder geocoding.Geocoder, delay time.Duration, logger *zap.Logger, onResults func(string, []models.GeocodeHit)) *TextSearch {
	if delay <= 0 {
		delay = DefaultSearchDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TextSearch{
		geocoder:  geocoder,
		delay:     delay,
		logger:    logger,
		onResults: onResults,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Input records new text. Short input clears the suggestions immediately and
// never reaches the geocoder.
func (s *TextSearch) Input(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.seq++
	seq := s.seq
	s.query = text
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if geocoding.QueryTooShort(text) {
		s.results = nil
		return
	}
	query := strings.TrimSpace(text)
	s.timer = time.AfterFunc(s.delay, func() { s.fire(seq, query) })
}

func (s *TextSearch) fire(seq uint64, query string) {
	s.mu.Lock()
	if s.closed || seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx := s.ctx
	s.mu.Unlock()

	hits, err := s.geocoder.ForwardGeocode(ctx, query)

	s.mu.Lock()
	s.completions++
	if s.closed || seq != s.seq {
		s.mu.Unlock()
		s.logger.Debug("TextSearch: dropping stale completion", zap.String("query", query), zap.Uint64("seq", seq))
		return
	}
	if err != nil {
		s.logger.Warn("TextSearch: forward geocode failed", zap.String("query", query), zap.Error(err))
		hits = nil
	}
	s.results = hits
	cb := s.onResults
	s.mu.Unlock()

	if cb != nil {
		cb(query, cloneHits(hits))
	}
}

// Results returns the suggestions for the latest applied input.
func (s *TextSearch) Results() []models.GeocodeHit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneHits(s.results)
}

// Query returns the latest raw input.
func (s *TextSearch) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Cancel stops a pending timer and invalidates any in-flight completion.
func (s *TextSearch) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.results = nil
}

// Close cancels everything; later input is ignored.
func (s *TextSearch) Close() {
	s.Cancel()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func cloneHits(hits []models.GeocodeHit) []models.GeocodeHit {
	out := make([]models.GeocodeHit, len(hits))
	copy(out, hits)
	return out
}
