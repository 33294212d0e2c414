package bridge

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/engine"
	"github.com/wippyai/wasm-loader/errors"
)

// Buffer is a block of data shared with the module. When the guest
// exports an allocator the bytes live in guest linear memory and Ptr
// is a valid guest pointer; otherwise they are held host-side and Ptr
// is zero. Either way the handle behaves the same: Bytes reads it
// back, Free releases it.
type Buffer struct {
	bridge *Bridge
	alloc  *engine.Allocator // nil for host-side buffers

	ptr  uint32
	size uint32
	data []byte // host-side storage

	freeOnce sync.Once
	freeErr  error
}

// NewBuffer marshals a value into a buffer shared with the module.
// Accepted values: []byte, string, and little-endian numeric slices
// ([]int32, []int64, []float32, []float64). The buffer is freed
// explicitly with Free or implicitly at cleanup.
func (b *Bridge) NewBuffer(ctx context.Context, value any) (*Buffer, error) {
	if s := b.State(); s != StateReady {
		return nil, errors.NotReady(b.id, s.String())
	}

	data, err := marshalBuffer(b.id, value)
	if err != nil {
		return nil, err
	}

	buf := &Buffer{bridge: b, size: uint32(len(data))}

	if alloc, ok := b.inst.Allocator(); ok {
		ptr, err := alloc.WriteBytes(ctx, data)
		if err != nil {
			return nil, err
		}
		buf.alloc = alloc
		buf.ptr = ptr
	} else {
		// Host-side fallback for guests without an exported allocator.
		Logger().Debug("no guest allocator, buffer held host-side",
			zap.String("module", b.id), zap.Int("size", len(data)))
		buf.data = data
	}

	b.bufMu.Lock()
	b.buffers[buf] = struct{}{}
	b.bufMu.Unlock()
	return buf, nil
}

func marshalBuffer(moduleID string, value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case []int32:
		out := make([]byte, 4*len(v))
		for i, n := range v {
			binary.LittleEndian.PutUint32(out[4*i:], uint32(n))
		}
		return out, nil
	case []int64:
		out := make([]byte, 8*len(v))
		for i, n := range v {
			binary.LittleEndian.PutUint64(out[8*i:], uint64(n))
		}
		return out, nil
	case []float32:
		out := make([]byte, 4*len(v))
		for i, f := range v {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
		}
		return out, nil
	case []float64:
		out := make([]byte, 8*len(v))
		for i, f := range v {
			binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(f))
		}
		return out, nil
	default:
		return nil, errors.BufferFailed(moduleID, "unsupported buffer value type", nil)
	}
}

// Ptr returns the guest memory pointer, or zero for host-side buffers
func (buf *Buffer) Ptr() uint32 {
	return buf.ptr
}

// Size returns the buffer length in bytes
func (buf *Buffer) Size() uint32 {
	return buf.size
}

// Guest reports whether the bytes live in guest linear memory
func (buf *Buffer) Guest() bool {
	return buf.alloc != nil
}

// Bytes reads the buffer contents back
func (buf *Buffer) Bytes(ctx context.Context) ([]byte, error) {
	if buf.Guest() {
		return buf.bridge.inst.ReadBytes(buf.ptr, buf.size)
	}
	out := make([]byte, len(buf.data))
	copy(out, buf.data)
	return out, nil
}

// Free releases the buffer. Guest buffers go back through the guest's
// deallocator; host-side buffers just drop their storage. Idempotent.
func (buf *Buffer) Free(ctx context.Context) error {
	buf.freeOnce.Do(func() {
		if buf.Guest() {
			buf.freeErr = buf.alloc.Free(ctx, buf.ptr)
		}
		buf.data = nil

		buf.bridge.bufMu.Lock()
		delete(buf.bridge.buffers, buf)
		buf.bridge.bufMu.Unlock()
	})
	return buf.freeErr
}
