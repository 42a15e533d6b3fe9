// Package vmm models a process's flat virtual address space as a
// growable, sharded-lock byte arena with a bump allocator. It is kept
// separate from package kernel so that peload can place sections and
// reserve memory without importing the process/thread object model
// that in turn depends on peload.Image.
package vmm

import (
	"sync"

	"github.com/mollenos/mollenkit/kernelerr"
)

// shardSize is the granularity at which AddressSpace serializes
// concurrent mapping and access. Sharded locking lets section mapping
// for one image proceed while a sibling thread reads unrelated pages.
const shardSize = 64 * 1024

// AddressSpace is a process's flat virtual memory arena. Real MollenOS
// backs this with page tables and physical frames; this port models it
// as a single growable byte arena with a bump allocator, which is
// sufficient to give peload, uthread, and kcall's memory syscalls real
// read/write/zero-fill semantics without modeling an MMU.
type AddressSpace struct {
	mu     sync.RWMutex
	data   []byte
	shards []sync.RWMutex
	next   uint64
	base   uint64
}

// NewAddressSpace creates an address space with the given base virtual
// address and initial capacity reserved.
func NewAddressSpace(base uint64, capacity uint64) *AddressSpace {
	numShards := (capacity + shardSize - 1) / shardSize
	if numShards == 0 {
		numShards = 1
	}
	return &AddressSpace{
		data:   make([]byte, capacity),
		shards: make([]sync.RWMutex, numShards),
		next:   base,
		base:   base,
	}
}

func (a *AddressSpace) shardRange(off, length uint64) (start, end int) {
	start = int(off / shardSize)
	end = int((off + length - 1) / shardSize)
	if end >= len(a.shards) {
		end = len(a.shards) - 1
	}
	if end < start {
		end = start
	}
	return start, end
}

func (a *AddressSpace) grow(minSize uint64) {
	if minSize <= uint64(len(a.data)) {
		return
	}
	newSize := uint64(len(a.data))
	if newSize == 0 {
		newSize = shardSize
	}
	for newSize < minSize {
		newSize *= 2
	}
	grown := make([]byte, newSize)
	copy(grown, a.data)
	a.data = grown
	numShards := (newSize + shardSize - 1) / shardSize
	if int(numShards) > len(a.shards) {
		extra := make([]sync.RWMutex, int(numShards)-len(a.shards))
		a.shards = append(a.shards, extra...)
	}
}

// Reserve bumps the allocation cursor by size, rounded up to a page
// boundary, and returns the address the caller may use for size bytes.
// It is used both by section placement in peload and by MemAllocate in
// kcall.
func (a *AddressSpace) Reserve(size uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := a.next
	a.next = pageRoundUp(a.next + size)
	off := addr - a.base
	a.grow(off + size)
	return addr
}

// NextLoadAddress reports the address the next Reserve call would
// return without consuming it.
func (a *AddressSpace) NextLoadAddress() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.next
}

const pageSize = 4096

func pageRoundUp(addr uint64) uint64 {
	return (addr + pageSize - 1) &^ (pageSize - 1)
}

// WriteAt copies p into the arena starting at virtual address addr,
// growing the backing store if needed and locking only the shards that
// cover the write.
func (a *AddressSpace) WriteAt(addr uint64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	a.mu.Lock()
	off := addr - a.base
	a.grow(off + uint64(len(p)))
	a.mu.Unlock()

	a.mu.RLock()
	defer a.mu.RUnlock()
	start, end := a.shardRange(off, uint64(len(p)))
	for i := start; i <= end; i++ {
		a.shards[i].Lock()
	}
	defer func() {
		for i := start; i <= end; i++ {
			a.shards[i].Unlock()
		}
	}()
	if off+uint64(len(p)) > uint64(len(a.data)) {
		return kernelerr.New("AddressSpace.WriteAt", kernelerr.InvalidParameters, "write out of range")
	}
	copy(a.data[off:], p)
	return nil
}

// ReadAt copies len(p) bytes starting at addr into p.
func (a *AddressSpace) ReadAt(addr uint64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	off := addr - a.base
	if off+uint64(len(p)) > uint64(len(a.data)) {
		return kernelerr.New("AddressSpace.ReadAt", kernelerr.InvalidParameters, "read out of range")
	}
	start, end := a.shardRange(off, uint64(len(p)))
	for i := start; i <= end; i++ {
		a.shards[i].RLock()
	}
	defer func() {
		for i := start; i <= end; i++ {
			a.shards[i].RUnlock()
		}
	}()
	copy(p, a.data[off:off+uint64(len(p))])
	return nil
}

// ZeroFill writes size zero bytes starting at addr, growing the arena
// if necessary. Used for BSS sections, which occupy virtual space but
// have no file backing.
func (a *AddressSpace) ZeroFill(addr uint64, size uint64) error {
	if size == 0 {
		return nil
	}
	a.mu.Lock()
	off := addr - a.base
	a.grow(off + size)
	a.mu.Unlock()
	return a.WriteAt(addr, make([]byte, size))
}

// Base returns the address space's starting virtual address.
func (a *AddressSpace) Base() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.base
}

// Capacity reports how many bytes are currently backed, for
// mem_query's total-pages accounting. It grows on demand as Reserve
// or WriteAt push past the current backing size.
func (a *AddressSpace) Capacity() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint64(len(a.data))
}

// PageSize is the page granularity mem_query reports.
func PageSize() uint64 { return pageSize }
