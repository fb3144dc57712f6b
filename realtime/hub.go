package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub owns one DeviceBridge per signed-in customer.
type Hub struct {
	callTimeout time.Duration
	logger      *zap.Logger

	mu      sync.RWMutex
	bridges map[string]*DeviceBridge
}

func NewHub(callTimeout time.Duration, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{callTimeout: callTimeout, logger: logger, bridges: make(map[string]*DeviceBridge)}
}

// Bridge returns the customer's bridge, creating a detached one if needed.
func (h *Hub) Bridge(customerID string) *DeviceBridge {
	h.mu.RLock()
	b, ok := h.bridges[customerID]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.bridges[customerID]; ok {
		return b
	}
	b = NewDeviceBridge(customerID, h.callTimeout, h.logger)
	h.bridges[customerID] = b
	return b
}

// Lookup returns the customer's bridge if one exists.
func (h *Hub) Lookup(customerID string) (*DeviceBridge, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.bridges[customerID]
	return b, ok
}

// Remove closes and forgets the customer's bridge.
func (h *Hub) Remove(customerID string) {
	h.RemoveUnless(customerID, nil)
}

// RemoveUnless is Remove, skipped when keep reports true. keep runs while the
// hub is locked, so no bridge is handed out between the check and removal.
func (h *Hub) RemoveUnless(customerID string, keep func() bool) {
	h.mu.Lock()
	if keep != nil && keep() {
		h.mu.Unlock()
		return
	}
	b, ok := h.bridges[customerID]
	delete(h.bridges, customerID)
	h.mu.Unlock()
	if ok {
		b.Close()
	}
}

// CloseAll closes every bridge.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	bridges := h.bridges
	h.bridges = make(map[string]*DeviceBridge)
	h.mu.Unlock()
	for _, b := range bridges {
		b.Close()
	}
}
