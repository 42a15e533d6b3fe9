package kcall

import (
	"github.com/mollenos/mollenkit/kernel"
	"github.com/mollenos/mollenkit/mstr"
)

// SOLoad implements so_load.
func (s *Syscalls) SOLoad(pid kernel.ID, path *mstr.String) (kernel.ID, error) {
	return s.PM.LoadSharedObject(pid, path)
}

// SOGetFunction implements so_get_function.
func (s *Syscalls) SOGetFunction(pid, handle kernel.ID, name string) (uint64, error) {
	return s.PM.GetSharedObjectFunction(pid, handle, name)
}

// SOUnload implements so_unload.
func (s *Syscalls) SOUnload(pid, handle kernel.ID) error {
	return s.PM.UnloadSharedObject(pid, handle)
}
