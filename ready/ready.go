package ready

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/errors"
	"github.com/wippyai/wasm-loader/namespace"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultInitialDelay = 50 * time.Millisecond
	defaultInterval     = 250 * time.Millisecond
)

// Probe reports whether a module has become ready by some observable
// side effect. Probes back up the explicit ready callback for modules
// that never invoke it.
type Probe func() bool

// Config holds readiness wait settings
type Config struct {
	// Timeout bounds the whole wait. Elapsing it fails that load only.
	Timeout time.Duration

	// InitialDelay precedes the first probe pass; Interval spaces the
	// rest. The explicit signal channel is watched continuously.
	InitialDelay time.Duration
	Interval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	return c
}

// Waiter blocks loads until their module signals readiness
type Waiter struct {
	cfg Config
}

// NewWaiter creates a waiter, filling unset config fields with
// defaults.
func NewWaiter(cfg Config) *Waiter {
	return &Waiter{cfg: cfg.withDefaults()}
}

// Wait blocks until the signal channel closes, a probe reports ready,
// the context is cancelled, or the timeout elapses. Timeout produces
// a readiness error naming the module and elapsed time; it does not
// affect other loads.
func (w *Waiter) Wait(ctx context.Context, moduleID string, signal <-chan struct{}, probes ...Probe) error {
	start := time.Now()

	deadline := time.NewTimer(w.cfg.Timeout)
	defer deadline.Stop()

	// First pass after a short delay: fast modules are usually ready
	// before the first tick.
	next := time.NewTimer(w.cfg.InitialDelay)
	defer next.Stop()

	for {
		select {
		case <-signal:
			Logger().Debug("module ready via callback",
				zap.String("module", moduleID),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		case <-ctx.Done():
			return errors.Wrap(errors.PhaseReady, errors.KindReadinessTimeout, ctx.Err(), "wait cancelled")
		case <-deadline.C:
			return errors.ReadinessTimeout(moduleID, time.Since(start).Round(time.Millisecond).String())
		case <-next.C:
			for _, probe := range probes {
				if probe() {
					Logger().Debug("module ready via probe",
						zap.String("module", moduleID),
						zap.Duration("elapsed", time.Since(start)))
					return nil
				}
			}
			next.Reset(w.cfg.Interval)
		}
	}
}

// ScopeFlag probes a scope key for a truthy value. Used for the
// shared "__ready" flag, the per-module "__ready_<id>" flag, and
// descriptor-configured custom signals.
func ScopeFlag(scope namespace.Scope, key string) Probe {
	return func() bool {
		v, ok := scope.Get(key)
		if !ok {
			return false
		}
		switch t := v.(type) {
		case bool:
			return t
		case nil:
			return false
		default:
			return true
		}
	}
}

// AnyScopeKey probes for the appearance of any of the given keys,
// regardless of value. Used for well-known published names whose
// presence implies the module finished initializing.
func AnyScopeKey(scope namespace.Scope, keys ...string) Probe {
	return func() bool {
		for _, key := range keys {
			if _, ok := scope.Get(key); ok {
				return true
			}
		}
		return false
	}
}

// Closed probes a channel for being closed. Used to treat entry-point
// completion as implicit readiness for modules without a ready
// callback.
func Closed(ch <-chan struct{}) Probe {
	return func() bool {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
}
