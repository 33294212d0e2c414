package namespace

import (
	"context"
	"testing"
)

func constCallable(v any) Callable {
	return func(ctx context.Context, args ...any) (any, error) { return v, nil }
}

func TestRegistry_TwoModulesSameName(t *testing.T) {
	reg := NewRegistry()
	reg.Register("modA", "f", constCallable("a"))
	reg.Register("modB", "f", constCallable("b"))

	fnA, ok := reg.Lookup("modA", "f")
	if !ok {
		t.Fatal("modA f not found")
	}
	fnB, ok := reg.Lookup("modB", "f")
	if !ok {
		t.Fatal("modB f not found")
	}

	va, _ := fnA(context.Background())
	vb, _ := fnB(context.Background())
	if va != "a" || vb != "b" {
		t.Fatalf("buckets not independent: got %v, %v", va, vb)
	}
}

func TestRegistry_Drop(t *testing.T) {
	reg := NewRegistry()
	reg.Register("modA", "f", constCallable(1))
	reg.Drop("modA")

	if reg.Has("modA") {
		t.Fatal("bucket should be gone after Drop")
	}
	if _, ok := reg.Lookup("modA", "f"); ok {
		t.Fatal("entry should be unreachable after Drop")
	}
}

func TestDiffIsolate_RelocatesNewFunctions(t *testing.T) {
	scope := NewGlobalScope()
	scope.Set("preexisting", constCallable(0))
	before := Snapshot(scope)

	// Simulate module initialization publishing into the shared scope.
	scope.Set("f", constCallable("modA"))
	scope.Set("version", "1.0.0") // non-function, stays
	scope.Set("__ready_modA", true)

	reg := NewRegistry()
	moved := DiffIsolate(scope, before, reg, "modA")

	if len(moved) != 1 || moved[0] != "f" {
		t.Fatalf("moved = %v, want [f]", moved)
	}
	if _, ok := scope.Get("f"); ok {
		t.Fatal("relocated function still visible in shared scope")
	}
	if _, ok := reg.Lookup("modA", "f"); !ok {
		t.Fatal("relocated function not reachable via (moduleID, name)")
	}
	if _, ok := scope.Get("preexisting"); !ok {
		t.Fatal("pre-snapshot key must not be relocated")
	}
	if _, ok := scope.Get("version"); !ok {
		t.Fatal("non-function key must stay global")
	}
	if _, ok := scope.Get("__ready_modA"); !ok {
		t.Fatal("readiness-signal key must stay global")
	}
}

func TestDiffIsolate_NoSilentOverwrite(t *testing.T) {
	scope := NewGlobalScope()
	reg := NewRegistry()

	beforeA := Snapshot(scope)
	scope.Set("f", constCallable("a"))
	DiffIsolate(scope, beforeA, reg, "modA")

	beforeB := Snapshot(scope)
	scope.Set("f", constCallable("b"))
	DiffIsolate(scope, beforeB, reg, "modB")

	fnA, _ := reg.Lookup("modA", "f")
	fnB, _ := reg.Lookup("modB", "f")
	va, _ := fnA(context.Background())
	vb, _ := fnB(context.Background())
	if va != "a" || vb != "b" {
		t.Fatalf("isolation broken: %v, %v", va, vb)
	}

	if _, ok := scope.Get("f"); ok {
		t.Fatal("bare global f should not exist after both isolations complete")
	}
}

func TestVirtualScope_InterceptsFunctionWrites(t *testing.T) {
	real := NewGlobalScope()
	reg := NewRegistry()
	virt := NewVirtualScope(real, reg, "modA")

	virt.Set("f", constCallable(42))
	virt.Set("counter", 7)
	virt.Set("__ready_modA", true)

	if _, ok := real.Get("f"); ok {
		t.Fatal("function write leaked into real scope")
	}
	if _, ok := reg.Lookup("modA", "f"); !ok {
		t.Fatal("function write did not reach bucket")
	}
	if v, ok := real.Get("counter"); !ok || v != 7 {
		t.Fatal("non-function write must pass through")
	}
	if _, ok := real.Get("__ready_modA"); !ok {
		t.Fatal("reserved key write must pass through")
	}
}

func TestVirtualScope_ModuleSeesOwnRegistrations(t *testing.T) {
	real := NewGlobalScope()
	reg := NewRegistry()
	virt := NewVirtualScope(real, reg, "modA")

	virt.Set("f", constCallable(1))
	if _, ok := virt.Get("f"); !ok {
		t.Fatal("module cannot see its own registration")
	}
}

func TestAsCallable_PlainFunc(t *testing.T) {
	fn, ok := AsCallable(func(a, b int) int { return a + b })
	if !ok {
		t.Fatal("plain func not coerced")
	}
	v, err := fn(context.Background(), 2, 3)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if v != 5 {
		t.Fatalf("got %v, want 5", v)
	}
}

func TestAsCallable_ErrorResult(t *testing.T) {
	fn, _ := AsCallable(func() (string, error) { return "", context.Canceled })
	_, err := fn(context.Background())
	if err != context.Canceled {
		t.Fatalf("error result not propagated: %v", err)
	}
}

func TestAsCallable_Variadic(t *testing.T) {
	fn, _ := AsCallable(func(vs ...int) int {
		total := 0
		for _, v := range vs {
			total += v
		}
		return total
	})
	v, err := fn(context.Background(), 1, 2, 3)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if v != 6 {
		t.Fatalf("got %v, want 6", v)
	}
}

func TestAsCallable_NonFunc(t *testing.T) {
	if _, ok := AsCallable("not a func"); ok {
		t.Fatal("string coerced to callable")
	}
}

func TestIsFunction(t *testing.T) {
	if !IsFunction(constCallable(1)) {
		t.Fatal("Callable not recognized")
	}
	if !IsFunction(func() {}) {
		t.Fatal("plain func not recognized")
	}
	if IsFunction(3) || IsFunction(nil) {
		t.Fatal("non-functions recognized")
	}
}
