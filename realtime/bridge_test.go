package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"homehelp/services/location"
	"homehelp/services/permission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn plays the phone. Frames written by the bridge land on sent; frames
// queued with deliver are returned from ReadMessage.
type fakeConn struct {
	sent     chan outbound
	incoming chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:     make(chan outbound, 16),
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.sent <- v.(outbound)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.incoming:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(t *testing.T, msg map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	c.incoming <- data
}

func (c *fakeConn) next(t *testing.T) outbound {
	t.Helper()
	select {
	case m := <-c.sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("bridge sent nothing")
		return outbound{}
	}
}

func attached(t *testing.T) (*DeviceBridge, *fakeConn) {
	t.Helper()
	b := NewDeviceBridge("cust-1", time.Second, nil)
	conn := newFakeConn()
	b.Attach(conn)
	go b.Listen(conn)
	t.Cleanup(b.Close)
	return b, conn
}

func TestBridge_OfflineCallsFailFast(t *testing.T) {
	b := NewDeviceBridge("cust-1", time.Second, nil)

	_, err := b.CheckPermission(context.Background())
	assert.ErrorIs(t, err, ErrDeviceOffline)
	_, err = b.Watch(context.Background(), location.DefaultWatchOptions)
	assert.ErrorIs(t, err, ErrDeviceOffline)
	assert.NoError(t, b.Push("discovery.state", nil))
}

func TestBridge_CheckPermissionRoundTrip(t *testing.T) {
	b, conn := attached(t)

	result := make(chan permission.Status, 1)
	go func() {
		st, err := b.CheckPermission(context.Background())
		assert.NoError(t, err)
		result <- st
	}()

	req := conn.next(t)
	assert.Equal(t, EventPermissionCheck, req.Event)
	require.NotEmpty(t, req.ID)
	conn.deliver(t, map[string]interface{}{"event": EventReply, "id": req.ID, "data": map[string]string{"status": "blocked"}})

	select {
	case st := <-result:
		assert.Equal(t, permission.StatusBlocked, st)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
}

func TestBridge_DeviceErrorReply(t *testing.T) {
	b, conn := attached(t)

	done := make(chan error, 1)
	go func() { done <- b.OpenSettings(context.Background()) }()

	req := conn.next(t)
	assert.Equal(t, EventSettingsOpen, req.Event)
	conn.deliver(t, map[string]interface{}{"event": EventReply, "id": req.ID, "error": map[string]string{"message": "no settings app"}})

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no settings app")
}

func TestBridge_CallTimesOutWithoutReply(t *testing.T) {
	b := NewDeviceBridge("cust-1", 50*time.Millisecond, nil)
	conn := newFakeConn()
	b.Attach(conn)
	defer b.Close()

	_, err := b.IsLocationServiceEnabled(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_WatchDeliversFixesAndStops(t *testing.T) {
	b, conn := attached(t)

	ctx, cancel := context.WithCancel(context.Background())
	type watchResult struct {
		ch  <-chan location.PositionUpdate
		err error
	}
	started := make(chan watchResult, 1)
	go func() {
		ch, err := b.Watch(ctx, location.DefaultWatchOptions)
		started <- watchResult{ch, err}
	}()

	req := conn.next(t)
	assert.Equal(t, EventPositionWatch, req.Event)
	payload := req.Data.(watchPayload)
	assert.True(t, payload.EnableHighAccuracy)
	assert.Equal(t, int64(30000), payload.TimeoutMs)
	conn.deliver(t, map[string]interface{}{"event": EventReply, "id": req.ID})

	res := <-started
	require.NoError(t, res.err)

	conn.deliver(t, map[string]interface{}{
		"event": EventPositionUpdate,
		"id":    payload.WatchID,
		"data":  map[string]interface{}{"coords": map[string]float64{"lat": -1.29, "lng": 36.82}, "accuracy": 5},
	})
	select {
	case u := <-res.ch:
		require.NoError(t, u.Err)
		require.NotNil(t, u.Fix)
		assert.Equal(t, -1.29, u.Fix.Coordinates.Latitude)
		assert.Equal(t, 36.82, u.Fix.Coordinates.Longitude)
	case <-time.After(2 * time.Second):
		t.Fatal("no fix delivered")
	}

	cancel()
	stop := conn.next(t)
	assert.Equal(t, EventPositionUnwatch, stop.Event)
	_, open := <-res.ch
	assert.False(t, open, "channel closes after the watch stops")
}

func TestBridge_WatchErrorCarriesDeviceCode(t *testing.T) {
	b, conn := attached(t)

	started := make(chan (<-chan location.PositionUpdate), 1)
	go func() {
		ch, err := b.Watch(context.Background(), location.DefaultWatchOptions)
		assert.NoError(t, err)
		started <- ch
	}()
	req := conn.next(t)
	conn.deliver(t, map[string]interface{}{"event": EventReply, "id": req.ID})
	ch := <-started

	watchID := req.Data.(watchPayload).WatchID
	conn.deliver(t, map[string]interface{}{
		"event": EventPositionUpdate,
		"id":    watchID,
		"error": map[string]interface{}{"code": location.CodeTimeout, "message": "took too long"},
	})

	u := <-ch
	var pe *location.PositionError
	require.ErrorAs(t, u.Err, &pe)
	assert.Equal(t, location.CodeTimeout, pe.Code)
}

func TestBridge_DisconnectFailsInflight(t *testing.T) {
	b, conn := attached(t)

	done := make(chan error, 1)
	go func() {
		_, err := b.RequestPermission(context.Background())
		done <- err
	}()
	conn.next(t)
	_ = conn.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeviceOffline)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed")
	}
	assert.Eventually(t, func() bool { return !b.Online() }, time.Second, 10*time.Millisecond)
}

func TestBridge_AttachReplacesConnection(t *testing.T) {
	b, first := attached(t)
	second := newFakeConn()
	b.Attach(second)

	select {
	case <-first.closed:
	case <-time.After(time.Second):
		t.Fatal("previous connection left open")
	}
	assert.True(t, b.Online(), "the stale read loop must not detach the new connection")

	require.NoError(t, b.Push("discovery.state", map[string]string{"status": "idle"}))
	msg := second.next(t)
	assert.Equal(t, "discovery.state", msg.Event)
}

func TestHub_BridgeIsPerCustomer(t *testing.T) {
	h := NewHub(time.Second, nil)
	a := h.Bridge("a")
	assert.Same(t, a, h.Bridge("a"))
	assert.NotSame(t, a, h.Bridge("b"))

	h.Remove("a")
	_, ok := h.Lookup("a")
	assert.False(t, ok)

	h.CloseAll()
	_, ok = h.Lookup("b")
	assert.False(t, ok)
}

func TestHub_DeviceFollowsRecreatedBridge(t *testing.T) {
	h := NewHub(time.Second, nil)
	t.Cleanup(h.CloseAll)
	device := h.Device("cust-1")
	assert.False(t, device.Online())

	old := h.Bridge("cust-1")
	h.Remove("cust-1")

	conn := newFakeConn()
	fresh := h.Bridge("cust-1")
	require.NotSame(t, old, fresh)
	fresh.Attach(conn)
	go fresh.Listen(conn)
	assert.True(t, device.Online())

	result := make(chan bool, 1)
	go func() {
		enabled, err := device.IsLocationServiceEnabled(context.Background())
		assert.NoError(t, err)
		result <- enabled
	}()
	req := conn.next(t)
	assert.Equal(t, EventLocationServices, req.Event)
	conn.deliver(t, map[string]interface{}{"event": EventReply, "id": req.ID, "data": map[string]bool{"enabled": true}})
	select {
	case enabled := <-result:
		assert.True(t, enabled)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply through the device handle")
	}
}

func TestHub_RemoveUnlessKeepsLiveBridge(t *testing.T) {
	h := NewHub(time.Second, nil)
	t.Cleanup(h.CloseAll)
	b := h.Bridge("cust-1")

	h.RemoveUnless("cust-1", func() bool { return true })
	got, ok := h.Lookup("cust-1")
	require.True(t, ok)
	assert.Same(t, b, got)

	h.RemoveUnless("cust-1", func() bool { return false })
	_, ok = h.Lookup("cust-1")
	assert.False(t, ok)
}
