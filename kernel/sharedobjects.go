package kernel

import (
	"github.com/mollenos/mollenkit/kernelerr"
	"github.com/mollenos/mollenkit/mstr"
	"github.com/mollenos/mollenkit/peload"
)

// HandleInvalid is returned by LoadSharedObject on failure, matching
// the spec's HANDLE_INVALID sentinel.
const HandleInvalid = ID(0xFFFFFFFF)

// LoadSharedObject implements so_load: path == nil returns the
// reserved handle 0, naming the process's own executable; otherwise it
// resolves path against pid's image the same way an import is
// resolved, bumping the process's next-load address, and registers the
// result under a fresh handle.
func (pm *ProcessManager) LoadSharedObject(pid ID, path *mstr.String) (ID, error) {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return HandleInvalid, kernelerr.New("SOLoad", kernelerr.DoesNotExist, "unknown process id")
	}
	if path == nil {
		return 0, nil
	}
	img, err := peload.LoadImage(proc, proc.Image, path, pm.Images)
	if err != nil {
		return HandleInvalid, kernelerr.Wrap("SOLoad", err)
	}
	return proc.RegisterImage(img), nil
}

// GetSharedObjectFunction implements so_get_function: looks up name in
// the export table of the image behind handle.
func (pm *ProcessManager) GetSharedObjectFunction(pid, handle ID, name string) (uint64, error) {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return 0, kernelerr.New("SOGetFunction", kernelerr.DoesNotExist, "unknown process id")
	}
	img, ok := proc.LookupImage(handle)
	if !ok {
		return 0, kernelerr.New("SOGetFunction", kernelerr.InvalidParameters, "invalid shared object handle")
	}
	exp, ok := img.ExportByName(name)
	if !ok {
		return 0, kernelerr.New("SOGetFunction", kernelerr.DoesNotExist, "export not found")
	}
	return exp.Address, nil
}

// UnloadSharedObject implements so_unload: a no-op against handle 0
// (the executable's own handle); otherwise pe_unload_library.
func (pm *ProcessManager) UnloadSharedObject(pid, handle ID) error {
	proc, ok := pm.Processes.Get(pid)
	if !ok {
		return kernelerr.New("SOUnload", kernelerr.DoesNotExist, "unknown process id")
	}
	if handle == 0 {
		return nil
	}
	img, ok := proc.LookupImage(handle)
	if !ok {
		return kernelerr.New("SOUnload", kernelerr.InvalidParameters, "invalid shared object handle")
	}
	if err := peload.UnloadLibrary(proc.Image, img, pm.Images); err != nil {
		return kernelerr.Wrap("SOUnload", err)
	}
	proc.UnregisterImage(handle)
	return nil
}
