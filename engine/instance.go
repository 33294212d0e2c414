package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/errors"
	"github.com/wippyai/wasm-loader/namespace"
)

// entryPoints are probed in order to find the guest's initialization
// entry. Initialization runs off the instantiating goroutine so a
// long-running entry cannot block the load.
var entryPoints = []string{"_start", "_initialize", "run", "main"}

// InstantiateConfig describes one guest instantiation
type InstantiateConfig struct {
	// ModuleID names the instance. Must be unique within the engine.
	ModuleID string

	// Scope receives the functions the guest publishes. Either the
	// shared global scope or a virtual scope standing in for it.
	Scope namespace.Scope

	// Compiled is the validated binary to instantiate
	Compiled wazero.CompiledModule
}

// Instance is one live guest module
type Instance struct {
	id     string
	engine *Engine
	scope  namespace.Scope
	mod    api.Module

	readyOnce sync.Once
	readyCh   chan struct{}

	startOnce sync.Once
	doneCh    chan struct{}
	startErr  error // written before doneCh closes

	pubMu     sync.Mutex
	published []string
}

// Instantiate creates an instance from a compiled module. The guest's
// start section may run host bindings during instantiation, so the
// instance record is registered before wazero is invoked. Entry-point
// execution is deferred; call Start afterwards.
func (e *Engine) Instantiate(ctx context.Context, cfg InstantiateConfig) (*Instance, error) {
	if cfg.ModuleID == "" || cfg.Scope == nil || cfg.Compiled == nil {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "module id, scope and compiled module are required")
	}

	inst := &Instance{
		id:      cfg.ModuleID,
		engine:  e,
		scope:   cfg.Scope,
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	e.mu.Lock()
	if _, exists := e.instances[cfg.ModuleID]; exists {
		e.mu.Unlock()
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInstantiation).
			Module(cfg.ModuleID).
			Detail("instance already exists").
			Build()
	}
	e.instances[cfg.ModuleID] = inst
	e.mu.Unlock()

	mc := wazero.NewModuleConfig().
		WithName(cfg.ModuleID).
		WithStartFunctions() // entry runs explicitly, on its own goroutine
	if e.cfg.Stdout != nil {
		mc = mc.WithStdout(e.cfg.Stdout)
	}
	if e.cfg.Stderr != nil {
		mc = mc.WithStderr(e.cfg.Stderr)
	}

	mod, err := e.rt.InstantiateModule(ctx, cfg.Compiled, mc)
	if err != nil {
		e.forget(cfg.ModuleID)
		return nil, errors.Instantiation(cfg.ModuleID, err)
	}
	inst.mod = mod

	Logger().Debug("module instantiated",
		zap.String("module", cfg.ModuleID),
		zap.Int("exports", len(mod.ExportedFunctionDefinitions())))
	return inst, nil
}

// ID returns the instance's module id
func (i *Instance) ID() string {
	return i.id
}

// Scope returns the scope the instance publishes into
func (i *Instance) Scope() namespace.Scope {
	return i.scope
}

// Ready is closed once the guest signals readiness
func (i *Instance) Ready() <-chan struct{} {
	return i.readyCh
}

// Done is closed once the entry point returns (or was absent)
func (i *Instance) Done() <-chan struct{} {
	return i.doneCh
}

// StartErr returns the entry point's failure, if any. Valid after
// Done is closed.
func (i *Instance) StartErr() error {
	select {
	case <-i.doneCh:
		return i.startErr
	default:
		return nil
	}
}

// markReady signals readiness and publishes the per-module ready flag
func (i *Instance) markReady() {
	i.readyOnce.Do(func() {
		i.scope.Set("__ready_"+i.id, true)
		close(i.readyCh)
		Logger().Debug("module signalled ready", zap.String("module", i.id))
	})
}

func (i *Instance) recordPublished(name string) {
	i.pubMu.Lock()
	i.published = append(i.published, name)
	i.pubMu.Unlock()
}

// Published returns the names the guest registered through the host
// publish binding, in registration order.
func (i *Instance) Published() []string {
	i.pubMu.Lock()
	defer i.pubMu.Unlock()
	out := make([]string, len(i.published))
	copy(out, i.published)
	return out
}

// Start runs the guest entry point on its own goroutine. A module
// without a recognized entry is considered started immediately; its
// exports are expected to be callable as-is. Safe to call once; later
// calls are no-ops.
func (i *Instance) Start(ctx context.Context) {
	i.startOnce.Do(func() {
		var entry api.Function
		var name string
		for _, candidate := range entryPoints {
			if fn := i.mod.ExportedFunction(candidate); fn != nil {
				entry, name = fn, candidate
				break
			}
		}
		if entry == nil {
			Logger().Debug("no entry point, module starts passive", zap.String("module", i.id))
			close(i.doneCh)
			return
		}

		go func() {
			_, err := entry.Call(ctx)
			if exit, ok := err.(*sys.ExitError); ok && exit.ExitCode() == 0 {
				err = nil
			}
			if err != nil {
				Logger().Warn("entry point failed",
					zap.String("module", i.id),
					zap.String("entry", name),
					zap.Error(err))
			}
			i.startErr = err
			close(i.doneCh)
		}()
	})
}

// Exports returns the sorted exported function names
func (i *Instance) Exports() []string {
	defs := i.mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasExport reports whether the guest exports a function by name
func (i *Instance) HasExport(name string) bool {
	return i.mod.ExportedFunction(name) != nil
}

// Call invokes an exported function, coercing Go values to wasm
// parameters by the export's signature and decoding results back.
// One result returns a scalar, several return []any.
func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.FunctionNotFound(i.id, name)
	}

	def := fn.Definition()
	params := def.ParamTypes()
	if len(args) != len(params) {
		return nil, errors.InvalidArguments(i.id, name, len(params), len(args))
	}

	raw := make([]uint64, len(args))
	for n, arg := range args {
		v, err := encodeValue(params[n], arg)
		if err != nil {
			return nil, errors.New(errors.PhaseCall, errors.KindInvalidArguments).
				Module(i.id).
				Detail("argument %d of %q: %v", n, name, err).
				Build()
		}
		raw[n] = v
	}

	results, err := fn.Call(ctx, raw...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCall, errors.KindInstantiation, err, "call "+name)
	}

	types := def.ResultTypes()
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return decodeValue(types[0], results[0]), nil
	default:
		out := make([]any, len(results))
		for n, r := range results {
			out[n] = decodeValue(types[n], r)
		}
		return out, nil
	}
}

// Memory returns guest linear memory, or nil when the module exports
// none.
func (i *Instance) Memory() api.Memory {
	return i.mod.Memory()
}

// Close tears the instance down and removes it from the engine
func (i *Instance) Close(ctx context.Context) error {
	i.engine.forget(i.id)
	i.scope.Delete("__ready_" + i.id)
	if err := i.mod.Close(ctx); err != nil {
		return errors.Wrap(errors.PhaseCleanup, errors.KindInstantiation, err, "close instance")
	}
	return nil
}
