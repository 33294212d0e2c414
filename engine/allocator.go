package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-loader/errors"
)

// Allocator export candidates, probed in order. Different guest
// toolchains export different conventions.
var (
	allocNames   = []string{"malloc", "alloc", "__alloc", "wasm_alloc"}
	deallocNames = []string{"free", "dealloc", "__free", "wasm_free"}
)

// Allocator manages buffers inside guest linear memory through the
// guest's own exported allocation functions.
type Allocator struct {
	inst  *Instance
	alloc api.Function
	free  api.Function // nil when the guest exports no deallocator
}

// Allocator probes the guest for exported allocation functions.
// Returns false when the guest exports no allocator, in which case
// buffers must be managed host-side.
func (i *Instance) Allocator() (*Allocator, bool) {
	var alloc api.Function
	for _, name := range allocNames {
		if fn := i.mod.ExportedFunction(name); fn != nil {
			alloc = fn
			break
		}
	}
	if alloc == nil {
		return nil, false
	}

	var free api.Function
	for _, name := range deallocNames {
		if fn := i.mod.ExportedFunction(name); fn != nil {
			free = fn
			break
		}
	}
	return &Allocator{inst: i, alloc: alloc, free: free}, true
}

// Alloc reserves size bytes in guest memory and returns the pointer
func (a *Allocator) Alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := a.alloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, errors.BufferFailed(a.inst.id, "guest allocation failed", err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, errors.BufferFailed(a.inst.id, "guest allocator returned null", nil)
	}
	return uint32(results[0]), nil
}

// Free releases a guest allocation. A guest without a deallocator
// makes this a no-op; memory is reclaimed on instance close.
func (a *Allocator) Free(ctx context.Context, ptr uint32) error {
	if a.free == nil {
		return nil
	}
	if _, err := a.free.Call(ctx, uint64(ptr)); err != nil {
		return errors.BufferFailed(a.inst.id, "guest free failed", err)
	}
	return nil
}

// WriteBytes copies data into a fresh guest allocation and returns
// its pointer. The caller owns the allocation and releases it with
// Free.
func (a *Allocator) WriteBytes(ctx context.Context, data []byte) (uint32, error) {
	ptr, err := a.Alloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	mem := a.inst.Memory()
	if mem == nil || !mem.Write(ptr, data) {
		a.Free(ctx, ptr)
		return 0, errors.BufferFailed(a.inst.id, "guest memory write out of range", nil)
	}
	return ptr, nil
}

// ReadBytes copies size bytes out of guest memory at ptr
func (i *Instance) ReadBytes(ptr, size uint32) ([]byte, error) {
	mem := i.Memory()
	if mem == nil {
		return nil, errors.BufferFailed(i.id, "module exports no memory", nil)
	}
	data, ok := mem.Read(ptr, size)
	if !ok {
		return nil, errors.BufferFailed(i.id, "guest memory read out of range", nil)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
