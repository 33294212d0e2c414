package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/engine"
	"github.com/wippyai/wasm-loader/errors"
	"github.com/wippyai/wasm-loader/metadata"
	"github.com/wippyai/wasm-loader/namespace"
)

// State is the bridge lifecycle state
type State int32

const (
	StateLoading State = iota
	StateReady
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "Loading"
	case StateReady:
		return "Ready"
	case StateUnloaded:
		return "Unloaded"
	default:
		return "Unknown"
	}
}

// Config assembles a bridge from the load pipeline's products
type Config struct {
	ModuleID   string
	Source     string
	Instance   *engine.Instance
	Registry   *namespace.Registry
	Scope      namespace.Scope
	Descriptor *metadata.Descriptor // nil when metadata was unavailable

	// SkipValidation turns descriptor argument checks off while
	// keeping the descriptor available for introspection.
	SkipValidation bool
}

// Bridge is the per-module facade handed to callers. It resolves and
// invokes module functions, validates arguments against the
// descriptor when one exists, marshals buffers in and out of guest
// memory, and owns teardown. Calls are only served in Ready state.
type Bridge struct {
	id     string
	source string
	inst   *engine.Instance
	reg    *namespace.Registry
	scope  namespace.Scope
	desc   *metadata.Descriptor

	skipValidation bool

	state atomic.Int32

	cbMu      sync.Mutex
	callbacks []string // scope keys owned by this bridge's callbacks

	bufMu   sync.Mutex
	buffers map[*Buffer]struct{}

	cleanupOnce sync.Once
	cleanupErr  error
}

// New creates a bridge in Loading state
func New(cfg Config) *Bridge {
	return &Bridge{
		id:      cfg.ModuleID,
		source:  cfg.Source,
		inst:    cfg.Instance,
		reg:     cfg.Registry,
		scope:   cfg.Scope,
		desc:    cfg.Descriptor,
		buffers: make(map[*Buffer]struct{}),

		skipValidation: cfg.SkipValidation,
	}
}

// ID returns the module id
func (b *Bridge) ID() string {
	return b.id
}

// Source returns the original source reference the module was loaded
// from.
func (b *Bridge) Source() string {
	return b.source
}

// State returns the current lifecycle state
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// MarkReady transitions Loading -> Ready. Called by the loader after
// readiness synchronization completes. No-op in any other state.
func (b *Bridge) MarkReady() {
	b.state.CompareAndSwap(int32(StateLoading), int32(StateReady))
}

// Descriptor returns the module's descriptor, or nil when none was
// available.
func (b *Bridge) Descriptor() *metadata.Descriptor {
	return b.desc
}

// Call invokes a module function by name. Resolution order: guest
// export, then the module's namespace bucket, then a bare global as
// a legacy fallback. Arguments are validated against the descriptor
// when it declares the function; a missing required argument fails,
// excess arguments and type mismatches only log.
func (b *Bridge) Call(ctx context.Context, name string, args ...any) (any, error) {
	if s := b.State(); s != StateReady {
		return nil, errors.NotReady(b.id, s.String())
	}

	if err := b.validateArgs(name, args); err != nil {
		return nil, err
	}

	if b.inst.HasExport(name) {
		return b.inst.Call(ctx, name, args...)
	}

	if fn, ok := b.reg.Lookup(b.id, name); ok {
		return fn(ctx, args...)
	}

	// Legacy path: modules loaded before namespacing published bare
	// globals.
	if v, ok := b.scope.Get(name); ok {
		if fn, ok := namespace.AsCallable(v); ok {
			Logger().Debug("resolved via bare global",
				zap.String("module", b.id),
				zap.String("function", name))
			return fn(ctx, args...)
		}
	}

	return nil, errors.FunctionNotFound(b.id, name)
}

// validateArgs checks the call against the descriptor's declaration.
// Undeclared functions pass through unchecked.
func (b *Bridge) validateArgs(name string, args []any) error {
	if b.desc == nil || b.skipValidation {
		return nil
	}
	fd, ok := b.desc.Function(name)
	if !ok {
		return nil
	}

	required := fd.RequiredParams()
	if len(args) < required {
		return errors.InvalidArguments(b.id, name, required, len(args))
	}
	if !fd.Relaxed() && len(args) > len(fd.Parameters) {
		Logger().Warn("excess arguments",
			zap.String("module", b.id),
			zap.String("function", name),
			zap.Int("declared", len(fd.Parameters)),
			zap.Int("got", len(args)))
	}

	for i := range fd.Parameters {
		if i >= len(args) {
			break
		}
		p := &fd.Parameters[i]
		if p.Rest() {
			break
		}
		if !typeMatches(p.Type, args[i]) {
			Logger().Debug("argument type differs from declaration",
				zap.String("module", b.id),
				zap.String("function", name),
				zap.String("param", p.Name),
				zap.String("declared", p.Type))
		}
	}
	return nil
}

// typeMatches loosely compares a declared descriptor type against a
// Go value. Declarations are advisory, so unknown types match.
func typeMatches(declared string, v any) bool {
	switch declared {
	case "number", "int", "integer", "float":
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case "string", "text":
		_, ok := v.(string)
		return ok
	case "bool", "boolean":
		_, ok := v.(bool)
		return ok
	case "bytes", "buffer":
		_, ok := v.([]byte)
		return ok
	default:
		return true
	}
}

// Functions returns the callable names of this module: the union of
// guest exports, namespace bucket entries, and descriptor-declared
// names.
func (b *Bridge) Functions() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(names []string) {
		for _, name := range names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	add(b.inst.Exports())
	add(b.reg.Names(b.id))
	if b.desc != nil {
		add(b.desc.FunctionNames())
	}
	return out
}

// Describe returns documentation for a function. Declared functions
// come from the descriptor; callable but undeclared ones get a
// minimal synthesized entry; unknown names return false.
func (b *Bridge) Describe(name string) (*metadata.FunctionDescriptor, bool) {
	if b.desc != nil {
		if fd, ok := b.desc.Function(name); ok {
			return fd, true
		}
	}
	if b.inst.HasExport(name) {
		return &metadata.FunctionDescriptor{Name: name}, true
	}
	if _, ok := b.reg.Lookup(b.id, name); ok {
		return &metadata.FunctionDescriptor{Name: name}, true
	}
	return nil, false
}

// callbackPrefix marks the prefixed legacy alias of a registered
// callback.
const callbackPrefix = "__cb_"

// RegisterCallback publishes a host function for the module to call
// back into. The module-qualified key "<id>.<name>" is authoritative;
// the bare name and the "__cb_"-prefixed name are also claimed as
// legacy aliases unless another owner holds them. The callback is
// additionally placed in the module's bucket so bridge calls resolve
// it.
func (b *Bridge) RegisterCallback(name string, fn namespace.Callable) {
	qualified := b.id + "." + name

	b.scope.Set(qualified, fn)
	b.reg.Register(b.id, name, fn)

	b.cbMu.Lock()
	b.callbacks = append(b.callbacks, qualified)
	for _, alias := range []string{name, callbackPrefix + name} {
		if _, taken := b.scope.Get(alias); taken {
			Logger().Warn("callback alias already claimed",
				zap.String("module", b.id),
				zap.String("alias", alias))
			continue
		}
		b.scope.Set(alias, fn)
		b.callbacks = append(b.callbacks, alias)
	}
	b.cbMu.Unlock()
}

// shutdownHooks are guest exports probed in order for a module-owned
// teardown entry, invoked best-effort before the instance closes.
var shutdownHooks = []string{"cleanup", "_cleanup", "dispose", "shutdown"}

// Cleanup tears the module down: callbacks unregistered, buffers
// freed, the module's own shutdown hook invoked when it exports one,
// the namespace bucket dropped, and the instance closed. Safe to call
// any number of times; later calls return the first result.
func (b *Bridge) Cleanup(ctx context.Context) error {
	b.cleanupOnce.Do(func() {
		b.state.Store(int32(StateUnloaded))

		b.cbMu.Lock()
		for _, key := range b.callbacks {
			b.scope.Delete(key)
		}
		b.callbacks = nil
		b.cbMu.Unlock()

		b.bufMu.Lock()
		buffers := make([]*Buffer, 0, len(b.buffers))
		for buf := range b.buffers {
			buffers = append(buffers, buf)
		}
		b.bufMu.Unlock()
		for _, buf := range buffers {
			if err := buf.Free(ctx); err != nil {
				Logger().Warn("buffer free during cleanup failed",
					zap.String("module", b.id), zap.Error(err))
			}
		}

		for _, hook := range shutdownHooks {
			if !b.inst.HasExport(hook) {
				continue
			}
			if _, err := b.inst.Call(ctx, hook); err != nil {
				Logger().Warn("module shutdown hook failed",
					zap.String("module", b.id),
					zap.String("hook", hook),
					zap.Error(err))
			}
			break
		}

		b.reg.Drop(b.id)

		if err := b.inst.Close(ctx); err != nil {
			b.cleanupErr = errors.Wrap(errors.PhaseCleanup, errors.KindInstantiation, err, "close module instance")
		}
		Logger().Info("module unloaded", zap.String("module", b.id))
	})
	return b.cleanupErr
}
