package kcall

import "github.com/mollenos/mollenkit/kernel"

// MemAllocate implements mem_allocate.
func (s *Syscalls) MemAllocate(pid kernel.ID, size uint64, flags kernel.MemFlag) (virt uint64, phys uint64, err error) {
	return s.PM.Allocate(pid, size, flags)
}

// MemFree implements mem_free.
func (s *Syscalls) MemFree(pid kernel.ID, addr, size uint64) error {
	return s.PM.Free(pid, addr, size)
}

// MemAcquire implements mem_acquire.
func (s *Syscalls) MemAcquire(pid kernel.ID, phys, size uint64) (uint64, error) {
	return s.PM.Acquire(pid, phys, size)
}

// MemRelease implements mem_release.
func (s *Syscalls) MemRelease(pid kernel.ID, addr, size uint64) error {
	return s.PM.Release(pid, addr, size)
}

// MemProtect implements mem_protect.
func (s *Syscalls) MemProtect(pid kernel.ID, addr uint64, flags int) error {
	return s.PM.Protect(pid, addr, flags)
}

// MemQuery implements mem_query.
func (s *Syscalls) MemQuery(pid kernel.ID) (kernel.MemoryInfo, error) {
	return s.PM.Query(pid)
}
