package kernel

import (
	"github.com/mollenos/mollenkit/kernelerr"
	"github.com/mollenos/mollenkit/mstr"
)

// CreateFileMapping implements file_mapping_create: reserves a region
// of pid's address space backed by path, recording the mapping so
// FileMappingDestroy can find it again. This port has no VFS layer
// (explicitly out of scope, same as peload's loader), so the mapped
// region is reserved but not populated from path's contents.
func (pm *ProcessManager) CreateFileMapping(pid ID, path *mstr.String, length uint64, flags int) (ID, error) {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return 0, kernelerr.New("FileMappingCreate", kernelerr.DoesNotExist, "unknown process id")
	}
	base := proc.Space.Reserve(length)
	mapping := FileMapping{Path: path, Base: base, Length: length, Flags: flags}
	mapping.ID = ID(len(proc.FileMappings) + 1)
	proc.FileMappings = append(proc.FileMappings, mapping)
	return mapping.ID, nil
}

// DestroyFileMapping implements file_mapping_destroy.
func (pm *ProcessManager) DestroyFileMapping(pid ID, handle ID) error {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return kernelerr.New("FileMappingDestroy", kernelerr.DoesNotExist, "unknown process id")
	}
	for i, m := range proc.FileMappings {
		if m.ID == handle {
			proc.FileMappings = append(proc.FileMappings[:i], proc.FileMappings[i+1:]...)
			return nil
		}
	}
	return kernelerr.New("FileMappingDestroy", kernelerr.DoesNotExist, "unknown file mapping handle")
}
