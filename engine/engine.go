package engine

import (
	"context"
	"io"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	wasi "github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/errors"
	"github.com/wippyai/wasm-loader/shim"
)

// hostModuleName is the import namespace guests use to reach host
// bindings: publish, ready and log.
const hostModuleName = "wasm_loader"

// shimModuleName is the import namespace under which the versioned
// support module is instantiated.
const shimModuleName = "shim"

// Config holds engine-level settings
type Config struct {
	// MemoryLimitPages caps guest linear memory in 64KiB pages.
	// Zero means the wazero default.
	MemoryLimitPages uint32

	// DisableWASI skips wasi_snapshot_preview1 instantiation. Guests
	// compiled against WASI will fail to instantiate without it.
	DisableWASI bool

	// Stdout and Stderr receive guest output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Engine wraps a wazero runtime and tracks the instances living in
// it. Host bindings dispatch back to the owning instance through the
// calling module's name, so every instance must carry a unique id.
type Engine struct {
	rt     wazero.Runtime
	cfg    Config
	closer api.Closer // wasi, when enabled

	mu        sync.Mutex
	instances map[string]*Instance
	shimMod   api.Module
	shimVer   string
}

// New creates an engine and installs the host binding module. WASI is
// instantiated unless disabled.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	rc := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	e := &Engine{
		rt:        wazero.NewRuntimeWithConfig(ctx, rc),
		cfg:       cfg,
		instances: make(map[string]*Instance),
	}

	if !cfg.DisableWASI {
		closer, err := wasi.Instantiate(ctx, e.rt)
		if err != nil {
			e.rt.Close(ctx)
			return nil, errors.Wrap(errors.PhaseInstantiate, errors.KindInstantiation, err, "instantiate wasi")
		}
		e.closer = closer
	}

	if err := e.instantiateHost(ctx); err != nil {
		e.rt.Close(ctx)
		return nil, err
	}

	return e, nil
}

// Compile validates and compiles a binary. The source string is used
// only for diagnostics.
func (e *Engine) Compile(ctx context.Context, source string, bin []byte) (wazero.CompiledModule, error) {
	compiled, err := e.rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInstantiation).
			Source(source).
			Detail("compile module").
			Cause(err).
			Build()
	}
	return compiled, nil
}

// CompileReader compiles from a stream. The binary still has to be
// fully read before validation, but the read overlaps with whatever
// produces the stream.
func (e *Engine) CompileReader(ctx context.Context, source string, r io.Reader) (wazero.CompiledModule, error) {
	bin, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInstantiation).
			Source(source).
			Detail("read module stream").
			Cause(err).
			Build()
	}
	Logger().Debug("streaming compile", zap.String("source", source), zap.Int("size", len(bin)))
	return e.Compile(ctx, source, bin)
}

// EnsureShim instantiates the support module carried by a non-builtin
// shim. Only one shim binary lives in an engine; a second, different
// version is not instantiated and the loaded one is reused with a
// warning.
func (e *Engine) EnsureShim(ctx context.Context, s *shim.Shim) error {
	if s == nil || s.Builtin() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shimMod != nil {
		if e.shimVer != s.Version {
			Logger().Warn("different shim version already instantiated, reusing",
				zap.String("loaded", e.shimVer),
				zap.String("requested", s.Version))
		}
		return nil
	}

	compiled, err := e.rt.CompileModule(ctx, s.Bytes)
	if err != nil {
		return errors.Wrap(errors.PhaseShim, errors.KindShimVersion, err, "compile shim")
	}
	mod, err := e.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(shimModuleName))
	if err != nil {
		return errors.Wrap(errors.PhaseShim, errors.KindShimVersion, err, "instantiate shim")
	}

	e.shimMod = mod
	e.shimVer = s.Version
	Logger().Info("shim instantiated", zap.String("version", s.Version))
	return nil
}

func (e *Engine) instance(name string) *Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instances[name]
}

func (e *Engine) forget(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.instances, name)
}

// Close tears down every instance and the underlying runtime
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	instances := make([]*Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		instances = append(instances, inst)
	}
	e.mu.Unlock()

	for _, inst := range instances {
		if err := inst.Close(ctx); err != nil {
			Logger().Warn("instance close failed", zap.String("module", inst.id), zap.Error(err))
		}
	}
	if e.closer != nil {
		e.closer.Close(ctx)
	}
	return e.rt.Close(ctx)
}
