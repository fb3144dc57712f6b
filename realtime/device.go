package realtime

import (
	"context"

	"homehelp/services/location"
	"homehelp/services/permission"
)

// Device is a session's handle on the customer's phone. Every call goes to
// the bridge the hub holds at that moment, so a bridge removed and recreated
// while the session lives is picked up on the next call.
type Device struct {
	hub        *Hub
	customerID string
}

// Device returns the customer's phone handle.
func (h *Hub) Device(customerID string) *Device {
	return &Device{hub: h, customerID: customerID}
}

func (d *Device) bridge() *DeviceBridge { return d.hub.Bridge(d.customerID) }

func (d *Device) Online() bool {
	b, ok := d.hub.Lookup(d.customerID)
	return ok && b.Online()
}

func (d *Device) Push(event string, data interface{}) error {
	b, ok := d.hub.Lookup(d.customerID)
	if !ok {
		return nil
	}
	return b.Push(event, data)
}

func (d *Device) CheckPermission(ctx context.Context) (permission.Status, error) {
	return d.bridge().CheckPermission(ctx)
}

func (d *Device) RequestPermission(ctx context.Context) (permission.Status, error) {
	return d.bridge().RequestPermission(ctx)
}

func (d *Device) IsLocationServiceEnabled(ctx context.Context) (bool, error) {
	return d.bridge().IsLocationServiceEnabled(ctx)
}

func (d *Device) OpenSettings(ctx context.Context) error {
	return d.bridge().OpenSettings(ctx)
}

func (d *Device) Watch(ctx context.Context, opts location.PositionOptions) (<-chan location.PositionUpdate, error) {
	return d.bridge().Watch(ctx, opts)
}
