package convert

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-hostext/errors"
)

var (
	_ MemorySizer = (*GuestMemory)(nil)
	_ MemorySizer = (*LinearMemory)(nil)
	_ Allocator   = (*LinearMemory)(nil)
	_ Allocator   = (*GuestAllocator)(nil)
)

// GuestMemory adapts a wazero module's linear memory.
type GuestMemory struct {
	Mem api.Memory
}

// WrapMemory returns nil when the module exports no memory.
func WrapMemory(mem api.Memory) Memory {
	if mem == nil {
		return nil
	}
	return &GuestMemory{Mem: mem}
}

func (m *GuestMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *GuestMemory) Write(offset uint32, data []byte) error {
	if !m.Mem.Write(offset, data) {
		return fmt.Errorf("memory write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *GuestMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.Mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *GuestMemory) WriteU32(offset uint32, value uint32) error {
	if !m.Mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

// Size returns the memory size in bytes.
func (m *GuestMemory) Size() uint32 {
	return m.Mem.Size()
}

// allocatorNames are tried in order when looking for a guest allocator.
var allocatorNames = []string{"cabi_realloc", "canonical_abi_realloc", "alloc", "malloc"}

// GuestAllocator calls a guest export to allocate guest memory.
// Realloc-style exports take (old_ptr, old_size, align, new_size); malloc-style
// exports take (size).
type GuestAllocator struct {
	Ctx     context.Context
	Fn      api.Function
	realloc bool
}

// FindAllocator returns the guest's allocator, or nil if it exports none.
// ctx must be the context of the active interpreter scope.
func FindAllocator(ctx context.Context, mod api.Module) Allocator {
	if mod == nil {
		return nil
	}
	for _, name := range allocatorNames {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			continue
		}
		switch len(fn.Definition().ParamTypes()) {
		case 4:
			return &GuestAllocator{Ctx: ctx, Fn: fn, realloc: true}
		case 1:
			return &GuestAllocator{Ctx: ctx, Fn: fn}
		}
	}
	return nil
}

func (a *GuestAllocator) Alloc(size, align uint32) (uint32, error) {
	var results []uint64
	var err error
	if a.realloc {
		results, err = a.Fn.Call(a.Ctx, 0, 0, uint64(align), uint64(size))
	} else {
		results, err = a.Fn.Call(a.Ctx, uint64(size))
	}
	if err != nil {
		return 0, fmt.Errorf("allocation failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("allocation returned no result")
	}
	ptr := api.DecodeU32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("allocation returned null")
	}
	return ptr, nil
}

// Free is a no-op for malloc-style allocators that export no free.
func (a *GuestAllocator) Free(ptr, size, align uint32) {
	if a.realloc {
		_, _ = a.Fn.Call(a.Ctx, uint64(ptr), uint64(size), uint64(align), 0)
	}
}

// LinearMemory is an in-process memory with a bump allocator. It stands in
// for interpreter memory when values cross the boundary without a guest,
// for example when the host invokes a capability directly.
type LinearMemory struct {
	data  []byte
	next  uint32
	limit uint32
	mu    sync.Mutex
}

// NewLinearMemory creates a fixed memory of size bytes. Offset 0 is never
// allocated so that a zero pointer stays distinguishable.
func NewLinearMemory(size uint32) *LinearMemory {
	return &LinearMemory{data: make([]byte, size), next: 8, limit: size}
}

// NewGrowableMemory creates a memory that grows on demand up to limit bytes.
func NewGrowableMemory(initial, limit uint32) *LinearMemory {
	if initial > limit {
		initial = limit
	}
	return &LinearMemory{data: make([]byte, initial), next: 8, limit: limit}
}

func (m *LinearMemory) Read(offset uint32, length uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return nil, errors.OutOfBounds(errors.PhaseConvert, nil, offset, length)
	}
	return m.data[offset : offset+length], nil
}

func (m *LinearMemory) Write(offset uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(offset)+uint64(len(data)) > uint64(len(m.data)) {
		return errors.OutOfBounds(errors.PhaseConvert, nil, offset, uint32(len(data)))
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *LinearMemory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *LinearMemory) WriteU32(offset uint32, value uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return m.Write(offset, b[:])
}

// Size returns the current memory size in bytes.
func (m *LinearMemory) Size() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.data))
}

// Alloc reserves size bytes aligned to align.
func (m *LinearMemory) Alloc(size, align uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if align == 0 {
		align = 1
	}
	ptr := (uint64(m.next) + uint64(align) - 1) &^ (uint64(align) - 1)
	end := ptr + uint64(size)
	if end > uint64(m.limit) {
		return 0, errors.AllocationFailed(errors.PhaseConvert, size, align, nil)
	}
	if end > uint64(len(m.data)) {
		grown := max(end, 2*uint64(len(m.data)))
		grown = min(grown, uint64(m.limit))
		data := make([]byte, grown)
		copy(data, m.data)
		m.data = data
	}
	m.next = uint32(end)
	return uint32(ptr), nil
}

// Free releases nothing; Reset reclaims everything at once.
func (m *LinearMemory) Free(ptr, size, align uint32) {}

// Reset discards all allocations.
func (m *LinearMemory) Reset() {
	m.mu.Lock()
	m.next = 8
	m.mu.Unlock()
}
