// Package geo obtains a position fix with a bounded-latency policy for
// outdoor use: one high-accuracy attempt, and a single low-accuracy retry
// when the platform interrupts the first.
package geo

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldops/internal/logger"
	"fieldops/internal/model"
)

type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaximumAge is how old a cached fix may be and still be accepted.
	MaximumAge time.Duration
}

var (
	FirstAttempt = Options{HighAccuracy: true, Timeout: 10 * time.Second, MaximumAge: 60 * time.Second}
	RetryAttempt = Options{HighAccuracy: false, Timeout: 15 * time.Second, MaximumAge: 60 * time.Second}
)

// Provider is the platform position API.
type Provider interface {
	CurrentPosition(ctx context.Context, opts Options) (model.GeoFix, error)
}

type ProviderFunc func(ctx context.Context, opts Options) (model.GeoFix, error)

func (f ProviderFunc) CurrentPosition(ctx context.Context, opts Options) (model.GeoFix, error) {
	return f(ctx, opts)
}

type Acquirer struct {
	provider Provider
	logger   *zap.Logger
}

// NewAcquirer accepts a nil provider: every call then fails as unsupported.
func NewAcquirer(provider Provider, log *zap.Logger) *Acquirer {
	return &Acquirer{provider: provider, logger: logger.OrNop(log)}
}

// CurrentPosition is safe for concurrent use; every call issues its own
// platform request.
func (a *Acquirer) CurrentPosition(ctx context.Context) (model.GeoFix, error) {
	if a == nil || a.provider == nil {
		return model.GeoFix{}, NewError(KindUnsupported, nil)
	}
	fix, err := a.attempt(ctx, FirstAttempt)
	if err == nil {
		return fix, nil
	}
	if !err.Retryable() || ctx.Err() != nil {
		return model.GeoFix{}, err
	}
	a.logger.Debug("location request interrupted, retrying with low accuracy", zap.Error(err.Err))
	fix, err = a.attempt(ctx, RetryAttempt)
	if err != nil {
		return model.GeoFix{}, err
	}
	return fix, nil
}

func (a *Acquirer) attempt(ctx context.Context, opts Options) (model.GeoFix, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	fix, err := a.provider.CurrentPosition(attemptCtx, opts)
	if err != nil {
		return model.GeoFix{}, classify(err)
	}
	return fix, nil
}

// Static always reports the same fix. fieldctl uses it with coordinates
// from the environment.
type Static struct {
	Fix model.GeoFix
}

func (s Static) CurrentPosition(ctx context.Context, _ Options) (model.GeoFix, error) {
	if err := ctx.Err(); err != nil {
		return model.GeoFix{}, err
	}
	return s.Fix, nil
}

// Cached answers from the last fix while it is younger than the requested
// MaximumAge.
type Cached struct {
	Provider Provider
	Now      func() time.Time

	mu      sync.Mutex
	last    model.GeoFix
	lastAt  time.Time
	hasLast bool
}

func (c *Cached) CurrentPosition(ctx context.Context, opts Options) (model.GeoFix, error) {
	now := c.now()
	c.mu.Lock()
	if c.hasLast && opts.MaximumAge > 0 && now.Sub(c.lastAt) <= opts.MaximumAge {
		fix := c.last
		c.mu.Unlock()
		return fix, nil
	}
	c.mu.Unlock()

	fix, err := c.Provider.CurrentPosition(ctx, opts)
	if err != nil {
		return model.GeoFix{}, err
	}
	c.mu.Lock()
	c.last, c.lastAt, c.hasLast = fix, c.now(), true
	c.mu.Unlock()
	return fix, nil
}

func (c *Cached) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
