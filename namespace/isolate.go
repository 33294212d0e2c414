package namespace

import (
	"context"
	"fmt"
	"reflect"
)

// Strategy selects how a module's published functions are kept out of
// the shared scope.
type Strategy string

const (
	// StrategyDiff relocates new function-valued scope keys into the
	// module's bucket after the readiness signal fires. There is a
	// brief exposure window between publication and relocation.
	StrategyDiff Strategy = "diff"

	// StrategyVirtual hands the module a virtualized scope whose
	// function writes go straight into the bucket and never touch the
	// real shared scope. No exposure window.
	StrategyVirtual Strategy = "virtual"
)

// ParseStrategy parses a strategy name, defaulting to diff
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", string(StrategyDiff):
		return StrategyDiff, nil
	case string(StrategyVirtual):
		return StrategyVirtual, nil
	default:
		return "", fmt.Errorf("unknown isolation strategy %q", s)
	}
}

// DiffIsolate computes the set difference between the scope's current
// keys and the snapshot taken before the module's entry point started,
// and relocates every new function-valued key into the module's
// bucket. Recognized internal and readiness-signal keys stay global.
// Returns the relocated names.
func DiffIsolate(scope Scope, before map[string]struct{}, registry *Registry, moduleID string) []string {
	var moved []string
	for _, key := range scope.Keys() {
		if _, existed := before[key]; existed {
			continue
		}
		if Reserved(key) {
			continue
		}
		value, ok := scope.Get(key)
		if !ok || !IsFunction(value) {
			continue
		}
		fn, ok := AsCallable(value)
		if !ok {
			continue
		}
		registry.Register(moduleID, key, fn)
		scope.Delete(key)
		moved = append(moved, key)
	}
	return moved
}

// VirtualScope is the proactive isolation strategy: a stand-in for
// the shared scope presented to one module's linkage. Function-valued
// writes are redirected into the module's bucket; non-function writes
// and recognized internal keys pass through to the real scope.
type VirtualScope struct {
	real     Scope
	registry *Registry
	moduleID string
}

// NewVirtualScope wraps the real scope for one module
func NewVirtualScope(real Scope, registry *Registry, moduleID string) *VirtualScope {
	registry.CreateBucket(moduleID)
	return &VirtualScope{real: real, registry: registry, moduleID: moduleID}
}

// Get resolves from the module's bucket first, then the real scope,
// so the module observes its own registrations.
func (v *VirtualScope) Get(name string) (any, bool) {
	if fn, ok := v.registry.Lookup(v.moduleID, name); ok {
		return fn, true
	}
	return v.real.Get(name)
}

// Set intercepts every write. Function values for non-reserved keys
// go into the bucket and never reach the real scope.
func (v *VirtualScope) Set(name string, value any) {
	if !Reserved(name) && IsFunction(value) {
		if fn, ok := AsCallable(value); ok {
			v.registry.Register(v.moduleID, name, fn)
			return
		}
	}
	v.real.Set(name, value)
}

// Delete removes from the bucket if present, else the real scope
func (v *VirtualScope) Delete(name string) {
	if _, ok := v.registry.Lookup(v.moduleID, name); ok {
		v.registry.Remove(v.moduleID, name)
		return
	}
	v.real.Delete(name)
}

// Keys returns the union of bucket names and real scope keys
func (v *VirtualScope) Keys() []string {
	names := v.registry.Names(v.moduleID)
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	for _, k := range v.real.Keys() {
		if _, dup := seen[k]; !dup {
			names = append(names, k)
		}
	}
	return names
}

// AsCallable coerces a scope value into a Callable. Callables pass
// through; plain Go funcs are wrapped with a reflective adapter that
// maps positional arguments onto parameters and treats a trailing
// error result as the call error.
func AsCallable(v any) (Callable, bool) {
	if fn, ok := v.(Callable); ok {
		return fn, true
	}
	if fn, ok := v.(func(ctx context.Context, args ...any) (any, error)); ok {
		return Callable(fn), true
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Func {
		return nil, false
	}
	rt := rv.Type()

	return func(ctx context.Context, args ...any) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("call panicked: %v", r)
			}
		}()

		in, err := reflectArgs(rt, ctx, args)
		if err != nil {
			return nil, err
		}

		out := rv.Call(in)
		return reflectResults(out)
	}, true
}

// reflectArgs builds the reflect call arguments, prepending ctx when
// the function's first parameter is a context.
func reflectArgs(rt reflect.Type, ctx context.Context, args []any) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, rt.NumIn())
	argIdx := 0

	for i := 0; i < rt.NumIn(); i++ {
		paramType := rt.In(i)

		if i == 0 && paramType == reflect.TypeOf((*context.Context)(nil)).Elem() {
			in = append(in, reflect.ValueOf(ctx))
			continue
		}

		if rt.IsVariadic() && i == rt.NumIn()-1 {
			elem := paramType.Elem()
			for ; argIdx < len(args); argIdx++ {
				av, err := coerceArg(args[argIdx], elem)
				if err != nil {
					return nil, err
				}
				in = append(in, av)
			}
			break
		}

		if argIdx >= len(args) {
			return nil, fmt.Errorf("too few arguments: need %d", rt.NumIn())
		}
		av, err := coerceArg(args[argIdx], paramType)
		if err != nil {
			return nil, err
		}
		in = append(in, av)
		argIdx++
	}

	return in, nil
}

func coerceArg(arg any, target reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(target), nil
	}
	av := reflect.ValueOf(arg)
	if av.Type().AssignableTo(target) {
		return av, nil
	}
	if av.Type().ConvertibleTo(target) {
		return av.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, target)
}

func reflectResults(out []reflect.Value) (any, error) {
	errType := reflect.TypeOf((*error)(nil)).Elem()

	var result any
	var callErr error
	for i, rv := range out {
		if i == len(out)-1 && rv.Type().Implements(errType) {
			if !rv.IsNil() {
				callErr = rv.Interface().(error)
			}
			continue
		}
		if result == nil {
			result = rv.Interface()
		}
	}
	return result, callErr
}
