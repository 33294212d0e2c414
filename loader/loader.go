package loader

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/bridge"
	"github.com/wippyai/wasm-loader/config"
	"github.com/wippyai/wasm-loader/engine"
	"github.com/wippyai/wasm-loader/errors"
	"github.com/wippyai/wasm-loader/fetch"
	"github.com/wippyai/wasm-loader/integrity"
	"github.com/wippyai/wasm-loader/metadata"
	"github.com/wippyai/wasm-loader/namespace"
	"github.com/wippyai/wasm-loader/ready"
	"github.com/wippyai/wasm-loader/shim"
	"github.com/wippyai/wasm-loader/source"
)

// Config assembles the loader's collaborators
type Config struct {
	Fetch  fetch.Config
	Shim   shim.Config
	Ready  ready.Config
	Engine engine.Config

	// Resolver options, mainly base URL overrides for tests
	Resolver []source.ResolverOption

	// Isolation is the default strategy for loads that specify none
	Isolation namespace.Strategy

	// SkipValidation turns descriptor argument checks off by default
	SkipValidation bool

	// ShimVersion pins a default shim for loads that carry no pin of
	// their own.
	ShimVersion string
}

// FromFile translates file configuration into a loader Config
func FromFile(c *config.Config) Config {
	cfg := Config{
		Fetch: fetch.Config{
			Retries:      c.Retry.Retries,
			RetryDelay:   c.Retry.RetryDelay.Std(),
			CacheTTL:     c.Cache.TTL.Std(),
			CacheEntries: c.Cache.MaxEntries,
			CacheDir:     c.Cache.Dir,
			DisableCache: !c.Cache.On(),
		},
		Shim: shim.Config{
			BaseURL: c.Shim.BaseURL,
			Dir:     c.Shim.Dir,
		},
		Ready:          ready.Config{Timeout: c.Load.Timeout.Std()},
		SkipValidation: !c.Load.Validate(),
		ShimVersion:    c.Shim.Version,
	}
	if strategy, err := namespace.ParseStrategy(c.Load.Isolation); err == nil {
		cfg.Isolation = strategy
	} else {
		Logger().Warn("unknown isolation strategy in configuration, using diff",
			zap.String("isolation", c.Load.Isolation))
		cfg.Isolation = namespace.StrategyDiff
	}
	return cfg
}

// Options tunes one load
type Options struct {
	// ID names the module. Empty generates a fresh id. A second load
	// of an already-registered id returns the registered bridge.
	ID string

	// Integrity is an explicit "<alg>-<base64>" reference. Empty
	// probes the colocated reference next to the artifact.
	Integrity string

	// SkipIntegrityProbe disables the colocated reference probe
	SkipIntegrityProbe bool

	// ShimVersion pins the runtime shim, overriding the descriptor
	ShimVersion string

	// ReadySignal overrides the readiness probe set with one custom
	// scope key.
	ReadySignal string

	// ReadyTimeout overrides the configured readiness wait bound
	ReadyTimeout time.Duration

	// Isolation overrides the configured strategy
	Isolation namespace.Strategy

	// NoCache bypasses the acquisition cache for this load
	NoCache bool
}

// LoadedModule is the loader registry's record of one live module
type LoadedModule struct {
	ID         string
	Bridge     *bridge.Bridge
	Source     string
	Descriptor *metadata.Descriptor // nil when unavailable
	Shim       *shim.Shim
	LoadedAt   time.Time
}

type inflight struct {
	done chan struct{}
	b    *bridge.Bridge
	err  error
}

// Loader orchestrates the load pipeline and owns the registry of
// live modules. Safe for concurrent use.
type Loader struct {
	cfg      Config
	resolver *source.Resolver
	fetcher  *fetch.Client
	meta     *metadata.Fetcher
	shims    *shim.Manager
	engine   *engine.Engine
	waiter   *ready.Waiter

	scope    *namespace.GlobalScope
	registry *namespace.Registry

	mu       sync.Mutex
	modules  map[string]*LoadedModule
	inflight map[string]*inflight
	closed   bool

	subMu sync.Mutex
	subs  map[int]chan Event
	subID int
}

// New creates a Loader and its engine
func New(ctx context.Context, cfg Config) (*Loader, error) {
	fetcher, err := fetch.New(cfg.Fetch)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(ctx, cfg.Engine)
	if err != nil {
		return nil, err
	}
	if cfg.Isolation == "" {
		cfg.Isolation = namespace.StrategyDiff
	}
	return &Loader{
		cfg:      cfg,
		resolver: source.NewResolver(cfg.Resolver...),
		fetcher:  fetcher,
		meta:     metadata.NewFetcher(fetcher),
		shims:    shim.NewManager(cfg.Shim, fetcher),
		engine:   eng,
		waiter:   ready.NewWaiter(cfg.Ready),
		scope:    namespace.NewGlobalScope(),
		registry: namespace.NewRegistry(),
		modules:  make(map[string]*LoadedModule),
		inflight: make(map[string]*inflight),
		subs:     make(map[int]chan Event),
	}, nil
}

// Scope returns the shared global scope
func (l *Loader) Scope() *namespace.GlobalScope {
	return l.scope
}

// Load turns a source reference into a ready bridge. Loading an
// already-registered id returns the registered bridge; concurrent
// loads of one id coalesce into a single in-flight load whose result
// every caller receives.
func (l *Loader) Load(ctx context.Context, src string, opts Options) (*bridge.Bridge, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errors.InvalidInput(errors.PhaseResolve, "loader is closed")
	}
	if lm, ok := l.modules[id]; ok {
		l.mu.Unlock()
		Logger().Debug("module already loaded", zap.String("module", id))
		return lm.Bridge, nil
	}
	if fl, ok := l.inflight[id]; ok {
		l.mu.Unlock()
		select {
		case <-fl.done:
			return fl.b, fl.err
		case <-ctx.Done():
			return nil, errors.Wrap(errors.PhaseResolve, errors.KindNotReady, ctx.Err(), "load wait cancelled")
		}
	}
	fl := &inflight{done: make(chan struct{})}
	l.inflight[id] = fl
	l.mu.Unlock()

	start := time.Now()
	l.emit(Event{Type: EventLoadingStarted, Module: id, Source: src})

	b, lm, err := l.doLoad(ctx, id, src, opts)

	l.mu.Lock()
	delete(l.inflight, id)
	if err == nil {
		l.modules[id] = lm
	}
	l.mu.Unlock()

	if err != nil {
		l.emit(Event{Type: EventError, Module: id, Source: src, Duration: time.Since(start), Err: err})
	} else {
		l.emit(Event{Type: EventLoaded, Module: id, Source: src, Duration: time.Since(start)})
	}

	fl.b, fl.err = b, err
	close(fl.done)
	return b, err
}

// doLoad runs the pipeline: resolve, fetch, verify, metadata, shim,
// compile, instantiate, readiness, isolate, bridge.
func (l *Loader) doLoad(ctx context.Context, id, src string, opts Options) (*bridge.Bridge, *LoadedModule, error) {
	parsed, err := source.Parse(src)
	if err != nil {
		return nil, nil, err
	}
	targets, err := l.resolver.Targets(ctx, parsed)
	if err != nil {
		return nil, nil, err
	}

	res, err := l.fetcher.FetchFirst(ctx, src, targets, fetch.Options{NoCache: opts.NoCache})
	if err != nil {
		return nil, nil, err
	}
	Logger().Debug("artifact acquired",
		zap.String("module", id),
		zap.String("url", res.URL),
		zap.Int("size", len(res.Bytes)),
		zap.Bool("cached", res.FromCache))

	if err := l.verify(ctx, src, res, opts); err != nil {
		return nil, nil, err
	}

	// Descriptor retrieval overlaps with shim and compile; joined
	// before the readiness wait and bridge construction.
	descCh := make(chan *metadata.Descriptor, 1)
	go func() {
		d, err := l.meta.ForModule(ctx, id, res.PlainURL)
		if err != nil {
			Logger().Warn("module descriptor unavailable",
				zap.String("module", id), zap.Error(err))
		}
		descCh <- d // nil on failure
	}()

	compiled, err := l.compile(ctx, src, res)
	if err != nil {
		return nil, nil, err
	}

	desc := <-descCh

	shimVersion := opts.ShimVersion
	if shimVersion == "" && desc != nil {
		shimVersion = desc.Config.RequiredRuntimeVersion
	}
	if shimVersion == "" {
		shimVersion = l.cfg.ShimVersion
	}
	sh := l.shims.Ensure(ctx, shimVersion)
	if err := l.engine.EnsureShim(ctx, sh); err != nil {
		Logger().Warn("shim instantiation failed, continuing without",
			zap.String("module", id), zap.Error(err))
		sh = l.shims.Default()
	}

	strategy := opts.Isolation
	if strategy == "" {
		strategy = l.cfg.Isolation
	}

	instScope := namespace.Scope(l.scope)
	if strategy == namespace.StrategyVirtual {
		instScope = namespace.NewVirtualScope(l.scope, l.registry, id)
	} else {
		l.registry.CreateBucket(id)
	}

	inst, err := l.engine.Instantiate(ctx, engine.InstantiateConfig{
		ModuleID: id,
		Scope:    instScope,
		Compiled: compiled,
	})
	if err != nil {
		l.registry.Drop(id)
		return nil, nil, err
	}

	// Key snapshot immediately before start; everything that appears
	// afterwards is attributed to this module.
	before := namespace.Snapshot(l.scope)
	inst.Start(ctx)

	if err := l.waitReady(ctx, id, inst, instScope, desc, before, opts); err != nil {
		inst.Close(ctx)
		l.registry.Drop(id)
		return nil, nil, err
	}

	if strategy == namespace.StrategyDiff {
		moved := namespace.DiffIsolate(l.scope, before, l.registry, id)
		if len(moved) > 0 {
			Logger().Debug("relocated published functions",
				zap.String("module", id),
				zap.Strings("names", moved))
		}
	}

	b := bridge.New(bridge.Config{
		ModuleID:       id,
		Source:         src,
		Instance:       inst,
		Registry:       l.registry,
		Scope:          l.scope,
		Descriptor:     desc,
		SkipValidation: l.cfg.SkipValidation,
	})
	b.MarkReady()

	lm := &LoadedModule{
		ID:         id,
		Bridge:     b,
		Source:     src,
		Descriptor: desc,
		Shim:       sh,
		LoadedAt:   time.Now(),
	}
	return b, lm, nil
}

// verify checks artifact integrity. An explicit reference is
// authoritative; otherwise the colocated reference next to the
// artifact is probed, and its absence is not an error. The probe
// derives from the plain artifact URL so a compressed variant hit
// still consults the published reference.
func (l *Loader) verify(ctx context.Context, src string, res *fetch.Result, opts Options) error {
	expected := opts.Integrity
	if expected == "" && !opts.SkipIntegrityProbe {
		ref, err := l.fetcher.Fetch(ctx, res.PlainURL+integrity.ReferenceSuffix, fetch.Options{NoVariants: true})
		if err != nil {
			Logger().Debug("no colocated integrity reference",
				zap.String("url", res.PlainURL))
			return nil
		}
		expected = string(bytes.TrimSpace(ref.Bytes))
	}
	if expected == "" {
		return nil
	}
	return integrity.Verify(src, res.Bytes, expected)
}

// compile picks the streaming path when the transport declared the
// exact module content type, and the buffered path otherwise.
func (l *Loader) compile(ctx context.Context, src string, res *fetch.Result) (wazero.CompiledModule, error) {
	if res.ExactType && !res.FromCache {
		return l.engine.CompileReader(ctx, src, bytes.NewReader(res.Bytes))
	}
	return l.engine.Compile(ctx, src, res.Bytes)
}

// waitReady blocks until the module signals readiness. A custom
// signal name replaces the default probe set entirely.
func (l *Loader) waitReady(ctx context.Context, id string, inst *engine.Instance, scope namespace.Scope, desc *metadata.Descriptor, before map[string]struct{}, opts Options) error {
	waiter := l.waiter
	if opts.ReadyTimeout > 0 {
		cfg := l.cfg.Ready
		cfg.Timeout = opts.ReadyTimeout
		waiter = ready.NewWaiter(cfg)
	}

	signal := opts.ReadySignal
	if signal == "" && desc != nil {
		signal = desc.Config.ReadySignal
	}
	if signal != "" {
		return waiter.Wait(ctx, id, inst.Ready(), ready.ScopeFlag(scope, signal))
	}

	// Probes cover modules that never invoke the ready callback:
	// shared and per-module ready flags, entry-point completion, and
	// the appearance of new non-reserved keys.
	probes := []ready.Probe{
		ready.ScopeFlag(scope, "__ready"),
		ready.ScopeFlag(scope, "__ready_"+id),
		ready.Closed(inst.Done()),
		func() bool {
			for _, key := range l.scope.Keys() {
				if _, existed := before[key]; existed {
					continue
				}
				if !namespace.Reserved(key) {
					return true
				}
			}
			return len(l.registry.Names(id)) > 0
		},
	}
	return waiter.Wait(ctx, id, inst.Ready(), probes...)
}

// Get returns the registry record for a loaded module
func (l *Loader) Get(id string) (*LoadedModule, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lm, ok := l.modules[id]
	return lm, ok
}

// Modules returns the currently loaded modules
func (l *Loader) Modules() []*LoadedModule {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*LoadedModule, 0, len(l.modules))
	for _, lm := range l.modules {
		out = append(out, lm)
	}
	return out
}

// Unload tears a module down and removes it from the registry
func (l *Loader) Unload(ctx context.Context, id string) error {
	l.mu.Lock()
	lm, ok := l.modules[id]
	delete(l.modules, id)
	l.mu.Unlock()

	if !ok {
		return errors.New(errors.PhaseCleanup, errors.KindInvalidInput).
			Module(id).
			Detail("module not loaded").
			Build()
	}

	err := lm.Bridge.Cleanup(ctx)
	l.meta.Forget(id)
	l.emit(Event{Type: EventUnloaded, Module: id, Source: lm.Source, Err: err})
	return err
}

// Close unloads every module and shuts the engine down. The loader
// rejects further loads.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	ids := make([]string, 0, len(l.modules))
	for id := range l.modules {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		if err := l.Unload(ctx, id); err != nil {
			Logger().Warn("unload during close failed",
				zap.String("module", id), zap.Error(err))
		}
	}

	err := l.engine.Close(ctx)

	l.subMu.Lock()
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
	l.subMu.Unlock()

	return err
}
