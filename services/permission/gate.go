// Package permission decides whether the device may be asked for a location
// fix, without ever spamming the OS permission dialog.
package permission

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Status is the platform's answer about the app's location permission.
type Status string

const (
	StatusGranted Status = "granted"
	// StatusDenied may still be requested again.
	StatusDenied Status = "denied"
	// StatusBlocked is a permanent denial; the OS will not show the prompt.
	StatusBlocked Status = "blocked"
)

// Platform is the device capability the gate drives.
type Platform interface {
	CheckPermission(ctx context.Context) (Status, error)
	RequestPermission(ctx context.Context) (Status, error)
	IsLocationServiceEnabled(ctx context.Context) (bool, error)
	OpenSettings(ctx context.Context) error
}

// Outcome is the result of EnsureReady. All outcomes are values.
type Outcome string

const (
	Ready            Outcome = "ready"
	Denied           Outcome = "denied"
	ServicesDisabled Outcome = "services_disabled"
)

// Gate remembers, for one session, whether the prompt was already shown and
// whether the user blocked it permanently.
type Gate struct {
	platform Platform
	logger   *zap.Logger

	// sem serializes EnsureReady so only one prompt is ever in flight. mu
	// guards the flags and is never held across a platform call.
	sem *semaphore.Weighted

	mu                sync.Mutex
	requested         bool
	permanentlyDenied bool
}

// NewGate builds a gate over platform.
func NewGate(platform Platform, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{platform: platform, logger: logger, sem: semaphore.NewWeighted(1)}
}

// EnsureReady checks (and at most once per session requests) location
// permission, then checks the device location service. A caller waiting on
// another in-flight check gives up with Denied when its ctx ends.
func (g *Gate) EnsureReady(ctx context.Context) Outcome {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.logger.Debug("EnsureReady: gave up waiting for in-flight check", zap.Error(err))
		return Denied
	}
	defer g.sem.Release(1)

	if g.blocked() {
		g.logger.Debug("EnsureReady: permission permanently denied this session; not prompting")
		return Denied
	}

	status, err := g.platform.CheckPermission(ctx)
	if err != nil {
		g.logger.Warn("EnsureReady: permission check failed", zap.Error(err))
		return Denied
	}

	switch status {
	case StatusGranted:
	case StatusBlocked:
		g.markBlocked()
		return Denied
	default:
		if !g.claimRequest() {
			g.logger.Debug("EnsureReady: permission already requested this session")
			return Denied
		}
		status, err = g.platform.RequestPermission(ctx)
		if err != nil {
			g.logger.Warn("EnsureReady: permission request failed", zap.Error(err))
			return Denied
		}
		if status == StatusBlocked {
			g.markBlocked()
		}
		if status != StatusGranted {
			g.logger.Info("EnsureReady: permission not granted", zap.String("status", string(status)))
			return Denied
		}
	}

	enabled, err := g.platform.IsLocationServiceEnabled(ctx)
	if err != nil {
		g.logger.Warn("EnsureReady: location service check failed", zap.Error(err))
		return ServicesDisabled
	}
	if !enabled {
		return ServicesDisabled
	}
	return Ready
}

func (g *Gate) blocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.permanentlyDenied
}

func (g *Gate) markBlocked() {
	g.mu.Lock()
	g.permanentlyDenied = true
	g.mu.Unlock()
}

// claimRequest reports whether this call may show the OS prompt.
func (g *Gate) claimRequest() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.requested {
		return false
	}
	g.requested = true
	return true
}

// OpenSettings deep-links to the OS settings. Only call it after the user
// confirmed; the gate never does so on its own.
func (g *Gate) OpenSettings(ctx context.Context) error {
	return g.platform.OpenSettings(ctx)
}

// Reset forgets the per-session prompt memory.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requested = false
	g.permanentlyDenied = false
}
