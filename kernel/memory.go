package kernel

import "github.com/mollenos/mollenkit/kernelerr"

// MemFlag is the bitmask mem_allocate/mem_acquire accept, mirroring
// the spec's allocation-flag vocabulary.
type MemFlag int

const (
	MemCommit MemFlag = 1 << iota
	MemContiguous
	MemNoCache
	MemLowFirst
	MemClean
)

const memPageSize = 4096

func pageOf(addr uint64) uint64 { return addr / memPageSize }
func pageCount(size uint64) uint64 {
	return (size + memPageSize - 1) / memPageSize
}

// Allocate implements mem_allocate: reserves size bytes from pid's
// heap, marking the backing pages in its Bitmap. Any flags bit set
// implies COMMIT; CLEAN additionally zero-fills the region. Returns
// the new virtual address; this port has no separate physical address
// space, so the physical return value always equals the virtual one.
func (pm *ProcessManager) Allocate(pid ID, size uint64, flags MemFlag) (virt uint64, phys uint64, err error) {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return 0, 0, kernelerr.New("MemAllocate", kernelerr.DoesNotExist, "unknown process id")
	}
	addr := proc.Space.Reserve(size)
	proc.HeapBitmap.Mark(pageOf(addr), pageCount(size))
	if flags != 0 {
		if flags&MemClean != 0 {
			if err := proc.Space.ZeroFill(addr, size); err != nil {
				return 0, 0, kernelerr.Wrap("MemAllocate", err)
			}
		}
		proc.SetProtection(addr, int(flags|MemCommit))
	}
	return addr, addr, nil
}

// Free implements mem_free: releases the bitmap range backing addr.
func (pm *ProcessManager) Free(pid ID, addr uint64, size uint64) error {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return kernelerr.New("MemFree", kernelerr.DoesNotExist, "unknown process id")
	}
	proc.HeapBitmap.Clear(pageOf(addr), pageCount(size))
	return nil
}

// Acquire implements mem_acquire: maps a caller-supplied physical
// range into pid's shared-memory region, preserving the low in-page
// offset of phys in the returned virtual address.
func (pm *ProcessManager) Acquire(pid ID, phys uint64, size uint64) (uint64, error) {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return 0, kernelerr.New("MemAcquire", kernelerr.DoesNotExist, "unknown process id")
	}
	pageOff := phys % memPageSize
	addr := proc.Space.Reserve(size + pageOff)
	proc.SharedMemBitmap.Mark(pageOf(addr), pageCount(size+pageOff))
	return addr + pageOff, nil
}

// Release implements mem_release: the inverse of Acquire.
func (pm *ProcessManager) Release(pid ID, addr uint64, size uint64) error {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return kernelerr.New("MemRelease", kernelerr.DoesNotExist, "unknown process id")
	}
	pageOff := addr % memPageSize
	proc.SharedMemBitmap.Clear(pageOf(addr-pageOff), pageCount(size+pageOff))
	return nil
}

// Protect implements mem_protect: records the requested protection.
// See DESIGN.md for why this is bookkeeping only.
func (pm *ProcessManager) Protect(pid ID, addr uint64, flags int) error {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return kernelerr.New("MemProtect", kernelerr.DoesNotExist, "unknown process id")
	}
	proc.SetProtection(addr, flags)
	return nil
}

// MemoryInfo is mem_query's result: page size plus total and
// allocated page counts for pid's heap.
type MemoryInfo struct {
	PageSize       uint64
	TotalPages     uint64
	AllocatedPages uint64
}

// Query implements mem_query.
func (pm *ProcessManager) Query(pid ID) (MemoryInfo, error) {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return MemoryInfo{}, kernelerr.New("MemQuery", kernelerr.DoesNotExist, "unknown process id")
	}
	return MemoryInfo{
		PageSize:       memPageSize,
		TotalPages:     proc.Space.Capacity() / memPageSize,
		AllocatedPages: uint64(proc.HeapBitmap.Count()),
	}, nil
}
