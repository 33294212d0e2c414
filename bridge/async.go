package bridge

import (
	"context"

	"github.com/wippyai/wasm-loader/errors"
)

// Async is a deferred call result. It resolves exactly once; Await
// may be called from any number of goroutines.
type Async struct {
	done chan struct{}
	val  any
	err  error
}

// resolved creates an already-settled Async
func resolved(val any, err error) *Async {
	a := &Async{done: make(chan struct{}), val: val, err: err}
	close(a.done)
	return a
}

// Await blocks until the call settles or the context is cancelled.
// A deferred result that itself resolves to another deferred is
// unwrapped transparently; a failed call passes its error through
// unchanged.
func (a *Async) Await(ctx context.Context) (any, error) {
	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, errors.Wrap(errors.PhaseCall, errors.KindNotReady, ctx.Err(), "await cancelled")
	}
	if a.err != nil {
		return nil, a.err
	}
	if nested, ok := a.val.(*Async); ok {
		return nested.Await(ctx)
	}
	return a.val, nil
}

// Settled reports whether the result is available without blocking
func (a *Async) Settled() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// CallAsync invokes a module function without blocking the caller.
// State and argument validation still happen eagerly so a call that
// can never succeed settles immediately.
func (b *Bridge) CallAsync(ctx context.Context, name string, args ...any) *Async {
	if s := b.State(); s != StateReady {
		return resolved(nil, errors.NotReady(b.id, s.String()))
	}
	if err := b.validateArgs(name, args); err != nil {
		return resolved(nil, err)
	}

	a := &Async{done: make(chan struct{})}
	go func() {
		a.val, a.err = b.Call(ctx, name, args...)
		close(a.done)
	}()
	return a
}
