package engine

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-loader/errors"
	"github.com/wippyai/wasm-loader/namespace"
)

// addWasm exports add(i32, i32) -> i32 and nothing else. No entry
// point, no imports.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic + version
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, // type: (i32,i32)->i32
	0x03, 0x02, 0x01, 0x00, // func
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00, // export "add"
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b, // local.get 0; local.get 1; i32.add
}

// pubWasm imports wasm_loader.publish and wasm_loader.ready. Its
// "run" entry publishes the name "hello" (stored in linear memory at
// offset 8) and signals ready. It also exports a no-op "hello" for
// the published callable to land on.
var pubWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// types: ()->(), (i32,i32)->()
	0x01, 0x09, 0x02, 0x60, 0x00, 0x00, 0x60, 0x02, 0x7f, 0x7f, 0x00,
	// imports: wasm_loader.publish (type 1), wasm_loader.ready (type 0)
	0x02, 0x2b, 0x02,
	0x0b, 0x77, 0x61, 0x73, 0x6d, 0x5f, 0x6c, 0x6f, 0x61, 0x64, 0x65, 0x72,
	0x07, 0x70, 0x75, 0x62, 0x6c, 0x69, 0x73, 0x68, 0x00, 0x01,
	0x0b, 0x77, 0x61, 0x73, 0x6d, 0x5f, 0x6c, 0x6f, 0x61, 0x64, 0x65, 0x72,
	0x05, 0x72, 0x65, 0x61, 0x64, 0x79, 0x00, 0x00,
	// funcs: run (type 0), hello (type 0)
	0x03, 0x03, 0x02, 0x00, 0x00,
	// memory: 1 page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// exports: run, hello, memory
	0x07, 0x18, 0x03,
	0x03, 0x72, 0x75, 0x6e, 0x00, 0x02,
	0x05, 0x68, 0x65, 0x6c, 0x6c, 0x6f, 0x00, 0x03,
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00,
	// code: run = publish(8, 5); ready();  hello = nop
	0x0a, 0x0f, 0x02,
	0x0a, 0x00, 0x41, 0x08, 0x41, 0x05, 0x10, 0x00, 0x10, 0x01, 0x0b,
	0x02, 0x00, 0x0b,
	// data: "hello" at offset 8
	0x0b, 0x0b, 0x01, 0x00, 0x41, 0x08, 0x0b, 0x05, 0x68, 0x65, 0x6c, 0x6c, 0x6f,
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(context.Background(), Config{DisableWASI: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func instantiate(t *testing.T, e *Engine, id string, bin []byte, scope namespace.Scope) *Instance {
	t.Helper()
	ctx := context.Background()
	compiled, err := e.Compile(ctx, id, bin)
	if err != nil {
		t.Fatal(err)
	}
	inst, err := e.Instantiate(ctx, InstantiateConfig{ModuleID: id, Scope: scope, Compiled: compiled})
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func TestCompile_Invalid(t *testing.T) {
	e := newEngine(t)
	_, err := e.Compile(context.Background(), "bad", []byte("not wasm"))
	if err == nil {
		t.Fatal("expected compile error")
	}
	var le *errors.Error
	if !stderrors.As(err, &le) || le.Phase != errors.PhaseInstantiate {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCallExport(t *testing.T) {
	e := newEngine(t)
	inst := instantiate(t, e, "adder", addWasm, namespace.NewGlobalScope())

	got, err := inst.Call(context.Background(), "add", 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(5) {
		t.Fatalf("add(2,3) = %v (%T), want int32(5)", got, got)
	}

	// float64 arguments arrive from decoded JSON; integral ones coerce.
	got, err = inst.Call(context.Background(), "add", float64(10), float64(20))
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(30) {
		t.Fatalf("add(10,20) = %v", got)
	}

	if _, err := inst.Call(context.Background(), "add", 1); err == nil {
		t.Fatal("arity mismatch must fail")
	}
	if _, err := inst.Call(context.Background(), "missing"); err == nil {
		t.Fatal("unknown export must fail")
	} else {
		var le *errors.Error
		if !stderrors.As(err, &le) || le.Kind != errors.KindFunctionNotFound {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
}

func TestCallExport_NonIntegralFloat(t *testing.T) {
	e := newEngine(t)
	inst := instantiate(t, e, "adder", addWasm, namespace.NewGlobalScope())
	if _, err := inst.Call(context.Background(), "add", 1.5, 2); err == nil {
		t.Fatal("fractional value for i32 parameter must fail")
	}
}

func TestPublishAndReady(t *testing.T) {
	e := newEngine(t)
	scope := namespace.NewGlobalScope()
	inst := instantiate(t, e, "pub", pubWasm, scope)

	inst.Start(context.Background())

	select {
	case <-inst.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("module never became ready")
	}

	v, ok := scope.Get("hello")
	if !ok {
		t.Fatal("published name missing from scope")
	}
	fn, ok := v.(namespace.Callable)
	if !ok {
		t.Fatalf("published value is %T, want Callable", v)
	}
	if _, err := fn(context.Background()); err != nil {
		t.Fatalf("published callable: %v", err)
	}

	if flag, ok := scope.Get("__ready_pub"); !ok || flag != true {
		t.Fatal("ready flag not set in scope")
	}
	if got := inst.Published(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("Published() = %v", got)
	}
}

func TestStart_PassiveModule(t *testing.T) {
	e := newEngine(t)
	inst := instantiate(t, e, "adder", addWasm, namespace.NewGlobalScope())

	inst.Start(context.Background())
	select {
	case <-inst.Done():
	case <-time.After(time.Second):
		t.Fatal("module without entry point must complete start immediately")
	}
	if err := inst.StartErr(); err != nil {
		t.Fatal(err)
	}
}

func TestInstantiate_DuplicateID(t *testing.T) {
	e := newEngine(t)
	scope := namespace.NewGlobalScope()
	instantiate(t, e, "dup", addWasm, scope)

	compiled, err := e.Compile(context.Background(), "dup", addWasm)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Instantiate(context.Background(), InstantiateConfig{ModuleID: "dup", Scope: scope, Compiled: compiled}); err == nil {
		t.Fatal("duplicate id must be rejected")
	}
}

func TestInstance_CloseRemovesReadyFlag(t *testing.T) {
	e := newEngine(t)
	scope := namespace.NewGlobalScope()
	inst := instantiate(t, e, "pub", pubWasm, scope)
	inst.Start(context.Background())
	<-inst.Ready()

	if err := inst.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := scope.Get("__ready_pub"); ok {
		t.Fatal("ready flag must be removed on close")
	}
	if e.instance("pub") != nil {
		t.Fatal("instance must be forgotten on close")
	}
}

func TestAllocator_AbsentExports(t *testing.T) {
	e := newEngine(t)
	inst := instantiate(t, e, "adder", addWasm, namespace.NewGlobalScope())
	if _, ok := inst.Allocator(); ok {
		t.Fatal("module without malloc must report no allocator")
	}
}

func TestReadBytes(t *testing.T) {
	e := newEngine(t)
	inst := instantiate(t, e, "pub", pubWasm, namespace.NewGlobalScope())

	data, err := inst.ReadBytes(8, 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("ReadBytes = %q", data)
	}
	if _, err := inst.ReadBytes(1<<20, 1); err == nil {
		t.Fatal("out-of-range read must fail")
	}
}

func TestEncodeValue(t *testing.T) {
	raw, err := encodeValue(api.ValueTypeI32, -1)
	if err != nil {
		t.Fatal(err)
	}
	if api.DecodeI32(raw) != -1 {
		t.Fatal("i32 round trip failed")
	}
	if _, err := encodeValue(api.ValueTypeI32, "nope"); err == nil {
		t.Fatal("string for i32 must fail")
	}
	raw, err = encodeValue(api.ValueTypeF64, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	if api.DecodeF64(raw) != 1.5 {
		t.Fatal("f64 round trip failed")
	}
}
