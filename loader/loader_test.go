package loader

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/wippyai/wasm-loader/engine"
	"github.com/wippyai/wasm-loader/errors"
	"github.com/wippyai/wasm-loader/fetch"
	"github.com/wippyai/wasm-loader/integrity"
	"github.com/wippyai/wasm-loader/namespace"
	"github.com/wippyai/wasm-loader/ready"
	"github.com/wippyai/wasm-loader/source"
)

// Minimal module exporting add(i32, i32) -> i32
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// repoServer simulates the repository metadata API and raw artifact
// host behind one listener.
type repoServer struct {
	*httptest.Server
	artifactHits atomic.Int64
	integrityRef string
	descriptor   string
	compressed   []byte // served as the .zst variant when set
}

func newRepoServer(t *testing.T) *repoServer {
	t.Helper()
	rs := &repoServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/repos/acme/mathmod":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"default_branch": "trunk"}`))
		case r.URL.Path == "/raw/acme/mathmod/trunk/main.wasm":
			rs.artifactHits.Add(1)
			w.Header().Set("Content-Type", "application/wasm")
			w.Write(addWasm)
		case r.URL.Path == "/raw/acme/mathmod/trunk/main.wasm.zst" && rs.compressed != nil:
			w.Write(rs.compressed)
		case r.URL.Path == "/raw/acme/mathmod/trunk/main.wasm.integrity" && rs.integrityRef != "":
			w.Write([]byte(rs.integrityRef))
		case r.URL.Path == "/raw/acme/mathmod/trunk/main.json" && rs.descriptor != "":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(rs.descriptor))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rs.Server.Close)
	return rs
}

func newLoader(t *testing.T, rs *repoServer, mutate ...func(*Config)) *Loader {
	t.Helper()
	cfg := Config{
		Fetch: fetch.Config{Retries: -1, CacheTTL: time.Hour},
		Ready: ready.Config{
			Timeout:      2 * time.Second,
			InitialDelay: 5 * time.Millisecond,
			Interval:     10 * time.Millisecond,
		},
		Engine: engine.Config{DisableWASI: true},
		Resolver: []source.ResolverOption{
			source.WithAPIBase(rs.URL + "/api"),
			source.WithRawBase(rs.URL + "/raw"),
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	l, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close(context.Background()) })
	return l
}

func TestLoad_RepoRefEndToEnd(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	b, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "math"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := b.Call(context.Background(), "add", 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(5) {
		t.Fatalf("add(2,3) = %v", got)
	}

	lm, ok := l.Get("math")
	if !ok || lm.Source != "acme/mathmod" {
		t.Fatalf("registry record = %+v, %v", lm, ok)
	}
}

func TestLoad_IdempotentSameID(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	b1, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "math"})
	if err != nil {
		t.Fatal(err)
	}
	b2, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "math"})
	if err != nil {
		t.Fatal(err)
	}
	if b1 != b2 {
		t.Fatal("second load of a registered id must return the registered bridge")
	}
	if rs.artifactHits.Load() != 1 {
		t.Fatalf("artifact fetched %d times, want 1", rs.artifactHits.Load())
	}
}

func TestLoad_ConcurrentCoalesced(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	const n = 8
	results := make(chan *struct {
		b   interface{ ID() string }
		err error
	}, n)
	for i := 0; i < n; i++ {
		go func() {
			b, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "math"})
			results <- &struct {
				b   interface{ ID() string }
				err error
			}{b, err}
		}()
	}
	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			t.Fatal(r.err)
		}
	}
	if rs.artifactHits.Load() != 1 {
		t.Fatalf("coalesced loads fetched %d times, want 1", rs.artifactHits.Load())
	}
}

func TestLoad_IntegrityVerified(t *testing.T) {
	rs := newRepoServer(t)
	digest, err := integrity.Compute("sha256", addWasm)
	if err != nil {
		t.Fatal(err)
	}
	rs.integrityRef = digest

	l := newLoader(t, rs)
	if _, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "ok"}); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_IntegrityMismatchFatal(t *testing.T) {
	rs := newRepoServer(t)
	mutated := append([]byte{}, addWasm...)
	mutated[len(mutated)-1] ^= 0x01
	digest, err := integrity.Compute("sha256", mutated)
	if err != nil {
		t.Fatal(err)
	}
	rs.integrityRef = digest

	l := newLoader(t, rs)
	_, err = l.Load(context.Background(), "acme/mathmod", Options{ID: "bad"})
	if err == nil {
		t.Fatal("digest mismatch must fail the load")
	}
	var le *errors.Error
	if !stderrors.As(err, &le) || le.Kind != errors.KindIntegrity {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.Get("bad"); ok {
		t.Fatal("failed load must not be registered")
	}
}

func zstdCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestLoad_VariantCompanionsFromPlainURL(t *testing.T) {
	rs := newRepoServer(t)
	rs.compressed = zstdCompress(t, addWasm)
	digest, err := integrity.Compute("sha256", addWasm)
	if err != nil {
		t.Fatal(err)
	}
	rs.integrityRef = digest
	rs.descriptor = `{"name": "mathmod"}`

	l := newLoader(t, rs)
	b, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "math"})
	if err != nil {
		t.Fatal(err)
	}
	if rs.artifactHits.Load() != 0 {
		t.Fatal("plain artifact fetched despite variant hit")
	}
	// The descriptor lives next to the plain artifact, not the variant.
	if b.Descriptor() == nil || b.Descriptor().Name != "mathmod" {
		t.Fatal("descriptor not resolved from the plain artifact URL")
	}
	if got, err := b.Call(context.Background(), "add", 2, 3); err != nil || got != int32(5) {
		t.Fatalf("add(2,3) = %v, %v", got, err)
	}
}

func TestLoad_VariantIntegrityMismatchFatal(t *testing.T) {
	rs := newRepoServer(t)
	rs.compressed = zstdCompress(t, addWasm)
	mutated := append([]byte{}, addWasm...)
	mutated[len(mutated)-1] ^= 0x01
	digest, err := integrity.Compute("sha256", mutated)
	if err != nil {
		t.Fatal(err)
	}
	rs.integrityRef = digest

	l := newLoader(t, rs)
	_, err = l.Load(context.Background(), "acme/mathmod", Options{ID: "bad"})
	if err == nil {
		t.Fatal("mismatching reference must fail even when a variant was served")
	}
	var le *errors.Error
	if !stderrors.As(err, &le) || le.Kind != errors.KindIntegrity {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.Get("bad"); ok {
		t.Fatal("failed load must not be registered")
	}
}

func TestLoad_DescriptorValidationApplied(t *testing.T) {
	rs := newRepoServer(t)
	rs.descriptor = `{
		"name": "mathmod",
		"functions": [
			{"name": "add", "parameters": [{"name": "a", "type": "number"}, {"name": "b", "type": "number"}]}
		]
	}`
	l := newLoader(t, rs)

	b, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "math"})
	if err != nil {
		t.Fatal(err)
	}
	if b.Descriptor() == nil || b.Descriptor().Name != "mathmod" {
		t.Fatal("descriptor not attached to bridge")
	}
	_, err = b.Call(context.Background(), "add", 1)
	if err == nil || !strings.Contains(err.Error(), "invalid_arguments") {
		t.Fatalf("descriptor validation missing, got %v", err)
	}
}

func TestLoad_SourceFormatFailsBeforeNetwork(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	_, err := l.Load(context.Background(), "bad owner!/repo", Options{ID: "x"})
	if err == nil {
		t.Fatal("malformed reference must fail")
	}
	var le *errors.Error
	if !stderrors.As(err, &le) || le.Kind != errors.KindSourceFormat {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.artifactHits.Load() != 0 {
		t.Fatal("malformed reference must not touch the network")
	}
}

func TestUnload(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	b, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "math"})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Unload(context.Background(), "math"); err != nil {
		t.Fatal(err)
	}

	if _, ok := l.Get("math"); ok {
		t.Fatal("unloaded module must leave the registry")
	}
	if _, err := b.Call(context.Background(), "add", 1, 2); err == nil {
		t.Fatal("calls after unload must fail")
	}
	if err := l.Unload(context.Background(), "math"); err == nil {
		t.Fatal("second unload must report the module as not loaded")
	}
}

func TestLoad_TwoModulesIsolated(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	b1, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b2, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "b"})
	if err != nil {
		t.Fatal(err)
	}

	// Same-named exports resolve per-bridge, never cross-module.
	r1, err := b1.Call(context.Background(), "add", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := b2.Call(context.Background(), "add", 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if r1 != int32(3) || r2 != int32(7) {
		t.Fatalf("isolated calls = %v, %v", r1, r2)
	}

	if err := l.Unload(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := b2.Call(context.Background(), "add", 1, 1); err != nil {
		t.Fatal("unloading one module must not affect another")
	}
}

func TestEvents(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	events, cancel := l.Subscribe(16)
	defer cancel()

	if _, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "math"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Unload(context.Background(), "math"); err != nil {
		t.Fatal(err)
	}

	want := []EventType{EventLoadingStarted, EventLoaded, EventUnloaded}
	for _, wt := range want {
		select {
		case ev := <-events:
			if ev.Type != wt {
				t.Fatalf("event = %s, want %s", ev.Type, wt)
			}
			if ev.Module != "math" {
				t.Fatalf("event module = %q", ev.Module)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", wt)
		}
	}
}

func TestEvents_ErrorEmitted(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	events, cancel := l.Subscribe(16)
	defer cancel()

	if _, err := l.Load(context.Background(), "acme/nosuchrepo", Options{ID: "x"}); err == nil {
		t.Fatal("expected load failure")
	}

	var sawError bool
	for !sawError {
		select {
		case ev := <-events:
			if ev.Type == EventError {
				if ev.Err == nil {
					t.Fatal("error event must carry the error")
				}
				sawError = true
			}
		case <-time.After(time.Second):
			t.Fatal("no error event")
		}
	}
}

func TestLoad_GeneratedID(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	b, err := l.Load(context.Background(), "acme/mathmod", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if b.ID() == "" {
		t.Fatal("generated id must not be empty")
	}
	if _, ok := l.Get(b.ID()); !ok {
		t.Fatal("generated id must be registered")
	}
}

func TestLoad_VirtualIsolation(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	b, err := l.Load(context.Background(), "acme/mathmod", Options{
		ID:        "virt",
		Isolation: namespace.StrategyVirtual,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, err := b.Call(context.Background(), "add", 5, 6); err != nil || got != int32(11) {
		t.Fatalf("virtual-scope call = %v, %v", got, err)
	}
}

func TestClose_RejectsFurtherLoads(t *testing.T) {
	rs := newRepoServer(t)
	l := newLoader(t, rs)

	if _, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "math"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(context.Background(), "acme/mathmod", Options{ID: "again"}); err == nil {
		t.Fatal("closed loader must reject loads")
	}
	if len(l.Modules()) != 0 {
		t.Fatal("close must unload everything")
	}
}
