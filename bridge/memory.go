package bridge

import (
	"sync"

	componenthost "github.com/wasmlab/component-host"
)

// Allocation is one region the bridge staged inside guest memory.
type Allocation struct {
	Ptr   uint32
	Size  uint32
	Align uint32
}

// AllocationList tracks the transient regions one call stages in guest
// memory, so every exit path — success or fault — releases them.
type AllocationList struct {
	allocations []Allocation
}

var allocationListPool = sync.Pool{
	New: func() any {
		return &AllocationList{allocations: make([]Allocation, 0, 8)}
	},
}

func NewAllocationList() *AllocationList {
	return allocationListPool.Get().(*AllocationList)
}

const maxPooledAllocationCapacity = 128

// Release returns the list to the pool. The list is invalid after
// Release; call Free first.
func (al *AllocationList) Release() {
	// Only pool small lists to prevent memory bloat
	if cap(al.allocations) > maxPooledAllocationCapacity {
		return
	}
	al.Reset()
	allocationListPool.Put(al)
}

func (al *AllocationList) FreeAndRelease(allocator componenthost.Allocator) {
	al.Free(allocator)
	al.Release()
}

func (al *AllocationList) Add(ptr, size, align uint32) {
	al.allocations = append(al.allocations, Allocation{
		Ptr:   ptr,
		Size:  size,
		Align: align,
	})
}

// Contains reports whether ptr is the start of a tracked region. The
// decoder uses it to tell host-staged buffers echoed back by the guest
// apart from buffers the guest allocated itself.
func (al *AllocationList) Contains(ptr uint32) bool {
	for _, a := range al.allocations {
		if a.Ptr == ptr {
			return true
		}
	}
	return false
}

func (al *AllocationList) Free(allocator componenthost.Allocator) {
	if allocator == nil {
		return
	}
	for _, a := range al.allocations {
		if a.Ptr != 0 {
			allocator.Free(a.Ptr, a.Size, a.Align)
		}
	}
}

func (al *AllocationList) Reset() {
	al.allocations = al.allocations[:0]
}

func (al *AllocationList) Count() int {
	return len(al.allocations)
}
