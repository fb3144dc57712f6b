// Package realtime carries the discovery session to the customer's phone over
// a websocket. The phone answers permission and location requests and
// streams position fixes; the server pushes state snapshots back.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"homehelp/services/location"
	"homehelp/services/permission"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDeviceOffline is returned when no phone is attached to the session.
var ErrDeviceOffline = errors.New("device is not connected")

// Outbound request events.
const (
	EventPermissionCheck   = "permission.check"
	EventPermissionRequest = "permission.request"
	EventLocationServices  = "location.services"
	EventSettingsOpen      = "settings.open"
	EventPositionWatch     = "position.watch"
	EventPositionUnwatch   = "position.unwatch"
)

// Inbound events.
const (
	EventReply          = "reply"
	EventPositionUpdate = "position.update"
)

const (
	defaultCallTimeout = 15 * time.Second
	writeWait          = 10 * time.Second
	watchBuffer        = 4
)

// Conn is the subset of *websocket.Conn the bridge uses.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

type outbound struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

type inbound struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *deviceError    `json:"error,omitempty"`
}

type deviceError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

type reply struct {
	data json.RawMessage
	err  error
}

type watchPayload struct {
	WatchID            string  `json:"watchId"`
	EnableHighAccuracy bool    `json:"enableHighAccuracy"`
	TimeoutMs          int64   `json:"timeoutMs"`
	MaximumAgeMs       int64   `json:"maximumAgeMs"`
	DistanceFilter     float64 `json:"distanceFilter"`
}

// DeviceBridge is the server side of one customer's phone. It implements
// permission.Platform and location.PositionSource by round-tripping requests
// over whichever connection is currently attached.
type DeviceBridge struct {
	customerID  string
	callTimeout time.Duration
	logger      *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    Conn
	pending map[string]chan reply
	watches map[string]chan location.PositionUpdate
}

var (
	_ permission.Platform     = (*DeviceBridge)(nil)
	_ location.PositionSource = (*DeviceBridge)(nil)
)

// NewDeviceBridge builds a detached bridge. callTimeout bounds requests whose
// context carries no deadline.
func NewDeviceBridge(customerID string, callTimeout time.Duration, logger *zap.Logger) *DeviceBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &DeviceBridge{
		customerID:  customerID,
		callTimeout: callTimeout,
		logger:      logger.With(zap.String("customerId", customerID)),
		pending:     make(map[string]chan reply),
		watches:     make(map[string]chan location.PositionUpdate),
	}
}

// Online reports whether a phone is attached.
func (b *DeviceBridge) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Attach makes conn the live connection, closing any previous one.
func (b *DeviceBridge) Attach(conn Conn) {
	b.mu.Lock()
	prev := b.conn
	b.conn = conn
	b.mu.Unlock()
	if prev != nil {
		b.failInflight()
		_ = prev.Close()
	}
	b.logger.Info("Attach: device connected")
}

// Listen reads from conn until it fails, dispatching replies and position
// updates. The bridge is detached from conn when Listen returns.
func (b *DeviceBridge) Listen(conn Conn) {
	defer b.detach(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Debug("Listen: dropping malformed message", zap.Error(err))
			continue
		}
		b.dispatch(msg)
	}
}

// Close drops the current connection and fails everything in flight.
func (b *DeviceBridge) Close() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	b.failInflight()
	if conn != nil {
		_ = conn.Close()
	}
}

// Push sends an unsolicited event. It is a no-op while offline.
func (b *DeviceBridge) Push(event string, data interface{}) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := b.write(conn, outbound{Event: event, Data: data}); err != nil {
		b.logger.Warn("Push: write failed", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

func (b *DeviceBridge) CheckPermission(ctx context.Context) (permission.Status, error) {
	var out struct {
		Status permission.Status `json:"status"`
	}
	if err := b.call(ctx, EventPermissionCheck, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (b *DeviceBridge) RequestPermission(ctx context.Context) (permission.Status, error) {
	var out struct {
		Status permission.Status `json:"status"`
	}
	if err := b.call(ctx, EventPermissionRequest, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (b *DeviceBridge) IsLocationServiceEnabled(ctx context.Context) (bool, error) {
	var out struct {
		Enabled bool `json:"enabled"`
	}
	if err := b.call(ctx, EventLocationServices, nil, &out); err != nil {
		return false, err
	}
	return out.Enabled, nil
}

func (b *DeviceBridge) OpenSettings(ctx context.Context) error {
	return b.call(ctx, EventSettingsOpen, nil, nil)
}

// Watch asks the phone to start a position watch. The returned channel is
// closed once ctx is done or the phone disconnects.
func (b *DeviceBridge) Watch(ctx context.Context, opts location.PositionOptions) (<-chan location.PositionUpdate, error) {
	watchID := uuid.NewString()
	ch := make(chan location.PositionUpdate, watchBuffer)

	b.mu.Lock()
	b.watches[watchID] = ch
	b.mu.Unlock()

	payload := watchPayload{
		WatchID:            watchID,
		EnableHighAccuracy: opts.HighAccuracy,
		TimeoutMs:          opts.Timeout.Milliseconds(),
		MaximumAgeMs:       opts.MaximumAge.Milliseconds(),
		DistanceFilter:     opts.DistanceFilter,
	}
	if err := b.call(ctx, EventPositionWatch, payload, nil); err != nil {
		b.endWatch(watchID)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if b.endWatch(watchID) {
			b.unwatch(watchID)
		}
	}()
	return ch, nil
}

func (b *DeviceBridge) unwatch(watchID string) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	if err := b.write(conn, outbound{Event: EventPositionUnwatch, ID: uuid.NewString(), Data: map[string]string{"watchId": watchID}}); err != nil {
		b.logger.Debug("unwatch: write failed", zap.String("watchId", watchID), zap.Error(err))
	}
}

// endWatch removes and closes a watch channel. It reports whether the watch
// was still registered.
func (b *DeviceBridge) endWatch(watchID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.watches[watchID]
	if !ok {
		return false
	}
	delete(b.watches, watchID)
	close(ch)
	return true
}

func (b *DeviceBridge) call(ctx context.Context, event string, data interface{}, out interface{}) error {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return ErrDeviceOffline
	}
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	if err := b.write(conn, outbound{Event: event, ID: id, Data: data}); err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if out == nil || len(r.data) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.data, out); err != nil {
			return fmt.Errorf("%s: decode reply: %w", event, err)
		}
		return nil
	}
}

func (b *DeviceBridge) write(conn Conn, msg outbound) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (b *DeviceBridge) dispatch(msg inbound) {
	switch msg.Event {
	case EventReply:
		b.mu.Lock()
		ch, ok := b.pending[msg.ID]
		b.mu.Unlock()
		if !ok {
			return
		}
		r := reply{data: msg.Data}
		if msg.Error != nil {
			r.err = fmt.Errorf("device: %s", msg.Error.Message)
		}
		select {
		case ch <- r:
		default:
		}
	case EventPositionUpdate:
		b.deliver(msg)
	default:
		b.logger.Debug("dispatch: ignoring event", zap.String("event", msg.Event))
	}
}

// deliver hands a position update to its watch without blocking the read
// loop. Updates for a watch that is not keeping up are dropped.
func (b *DeviceBridge) deliver(msg inbound) {
	var upd location.PositionUpdate
	if msg.Error != nil {
		upd.Err = &location.PositionError{Code: msg.Error.Code, Message: msg.Error.Message}
	} else {
		var fix location.Fix
		if err := json.Unmarshal(msg.Data, &fix); err != nil {
			b.logger.Debug("deliver: bad fix payload", zap.Error(err))
			return
		}
		upd.Fix = &fix
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.watches[msg.ID]
	if !ok {
		return
	}
	select {
	case ch <- upd:
	default:
		b.logger.Debug("deliver: watch is full, dropping update", zap.String("watchId", msg.ID))
	}
}

func (b *DeviceBridge) detach(conn Conn) {
	b.mu.Lock()
	current := b.conn == conn
	if current {
		b.conn = nil
	}
	b.mu.Unlock()
	_ = conn.Close()
	if current {
		b.failInflight()
		b.logger.Info("detach: device disconnected")
	}
}

// failInflight answers every pending call with ErrDeviceOffline and ends
// every watch with the same error.
func (b *DeviceBridge) failInflight() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.pending {
		select {
		case ch <- reply{err: ErrDeviceOffline}:
		default:
		}
		delete(b.pending, id)
	}
	for id, ch := range b.watches {
		select {
		case ch <- location.PositionUpdate{Err: ErrDeviceOffline}:
		default:
		}
		delete(b.watches, id)
		close(ch)
	}
}
