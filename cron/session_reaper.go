package cron

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// IdleCloser ends sessions that saw no activity for maxIdle.
type IdleCloser interface {
	CloseIdle(maxIdle time.Duration) []string
	Active(customerID string) bool
}

// DeviceRemover drops a customer's device connection unless keep reports
// true at removal time.
type DeviceRemover interface {
	RemoveUnless(customerID string, keep func() bool)
}

// StartSessionReaper closes idle discovery sessions and their device
// connections every interval until ctx is done.
func StartSessionReaper(ctx context.Context, sessions IdleCloser, devices DeviceRemover, maxIdle, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxIdle <= 0 || interval <= 0 {
		logger.Info("StartSessionReaper: disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				closed := sessions.CloseIdle(maxIdle)
				for _, customerID := range closed {
					id := customerID
					// a session reopened since CloseIdle keeps the phone connected
					devices.RemoveUnless(id, func() bool { return sessions.Active(id) })
				}
				if len(closed) > 0 {
					logger.Info("SessionReaper: closed idle sessions", zap.Int("count", len(closed)))
				}
			}
		}
	}()
}
