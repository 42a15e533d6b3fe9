package kcall

import (
	"github.com/mollenos/mollenkit/kernel"
	"github.com/mollenos/mollenkit/mstr"
)

// FileMappingCreate implements file_mapping_create.
func (s *Syscalls) FileMappingCreate(pid kernel.ID, path *mstr.String, length uint64, flags int) (kernel.ID, error) {
	return s.PM.CreateFileMapping(pid, path, length, flags)
}

// FileMappingDestroy implements file_mapping_destroy.
func (s *Syscalls) FileMappingDestroy(pid, handle kernel.ID) error {
	return s.PM.DestroyFileMapping(pid, handle)
}
