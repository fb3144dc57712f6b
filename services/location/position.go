package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homehelp/models"
)

// PositionOptions are the watch parameters handed to the device.
type PositionOptions struct {
	HighAccuracy   bool          `json:"enableHighAccuracy"`
	Timeout        time.Duration `json:"-"`
	MaximumAge     time.Duration `json:"-"`
	DistanceFilter float64       `json:"distanceFilter"`
}

// DefaultWatchOptions favour one fresh, accurate fix over a stream of them.
var DefaultWatchOptions = PositionOptions{
	HighAccuracy:   true,
	Timeout:        30 * time.Second,
	MaximumAge:     10 * time.Second,
	DistanceFilter: 10,
}

// Fix is one position reading.
type Fix struct {
	Coordinates models.Coordinates `json:"coords"`
	Accuracy    float64            `json:"accuracy,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Device error codes reported by the position source.
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// PositionError is a device-reported watch failure.
type PositionError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *PositionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("position error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("position error %d", e.Code)
}

// Kind maps the device code onto the pipeline's error taxonomy. Unknown codes
// are treated as an unavailable position.
func (e *PositionError) Kind() models.ErrorKind {
	switch e.Code {
	case CodePermissionDenied:
		return models.ErrKindPermissionDenied
	case CodeTimeout:
		return models.ErrKindTimeout
	default:
		return models.ErrKindPositionUnavailable
	}
}

// PositionUpdate carries either a fix or an error from an active watch.
type PositionUpdate struct {
	Fix *Fix
	Err error
}

// PositionSource starts continuous position watches. A watch runs until ctx
// is cancelled; the source closes the channel once it has stopped.
type PositionSource interface {
	Watch(ctx context.Context, opts PositionOptions) (<-chan PositionUpdate, error)
}

func positionFailure(err error) error {
	var pe *PositionError
	if errors.As(err, &pe) {
		return models.WrapDiscoveryError(pe.Kind(), "position watch", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WrapDiscoveryError(models.ErrKindTimeout, "position watch", err)
	}
	var de *models.DiscoveryError
	if errors.As(err, &de) {
		return err
	}
	return models.WrapDiscoveryError(models.ErrKindPositionUnavailable, "position watch", err)
}
