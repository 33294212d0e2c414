package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/namespace"
)

// instantiateHost installs the wasm_loader host module. The bindings
// dispatch to the instance owning the calling module, looked up by
// module name, so they work for any number of guests sharing the
// runtime.
func (e *Engine) instantiateHost(ctx context.Context) error {
	_, err := e.rt.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().WithFunc(e.hostPublish).Export("publish").
		NewFunctionBuilder().WithFunc(e.hostReady).Export("ready").
		NewFunctionBuilder().WithFunc(e.hostLog).Export("log").
		Instantiate(ctx)
	if err != nil {
		Logger().Error("host module instantiation failed", zap.Error(err))
	}
	return err
}

// hostPublish registers a guest export under the given name in the
// instance's scope. The published value is a Callable that routes back
// into the export, so host code can invoke it like any other function.
func (e *Engine) hostPublish(ctx context.Context, mod api.Module, ptr, size uint32) {
	inst := e.instance(mod.Name())
	if inst == nil {
		Logger().Warn("publish from unknown module", zap.String("module", mod.Name()))
		return
	}

	name, ok := readString(mod, ptr, size)
	if !ok {
		Logger().Warn("publish with out-of-range name pointer", zap.String("module", inst.id))
		return
	}

	inst.scope.Set(name, namespace.Callable(func(ctx context.Context, args ...any) (any, error) {
		return inst.Call(ctx, name, args...)
	}))
	inst.recordPublished(name)

	Logger().Debug("function published",
		zap.String("module", inst.id),
		zap.String("name", name))
}

// hostReady marks the calling module ready. Idempotent.
func (e *Engine) hostReady(ctx context.Context, mod api.Module) {
	inst := e.instance(mod.Name())
	if inst == nil {
		Logger().Warn("ready from unknown module", zap.String("module", mod.Name()))
		return
	}
	inst.markReady()
}

// hostLog forwards a guest log line to the engine logger
func (e *Engine) hostLog(ctx context.Context, mod api.Module, level, ptr, size uint32) {
	msg, ok := readString(mod, ptr, size)
	if !ok {
		return
	}
	fields := []zap.Field{zap.String("module", mod.Name())}
	switch level {
	case 0:
		Logger().Debug(msg, fields...)
	case 2:
		Logger().Warn(msg, fields...)
	case 3:
		Logger().Error(msg, fields...)
	default:
		Logger().Info(msg, fields...)
	}
}

func readString(mod api.Module, ptr, size uint32) (string, bool) {
	mem := mod.Memory()
	if mem == nil {
		return "", false
	}
	data, ok := mem.Read(ptr, size)
	if !ok {
		return "", false
	}
	return string(data), true
}
