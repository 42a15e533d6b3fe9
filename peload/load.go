package peload

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/mollenos/mollenkit/logging"
	"github.com/mollenos/mollenkit/mstr"
)

// Registry tracks every loaded image by path so resolve_library can
// hand back an already-loaded dependency instead of mapping a
// duplicate. One Registry is shared process-wide; kernel.Process does
// not own one itself, mirroring the spec's "importer's ancestor chain
// and global registry" resolution order.
type Registry struct {
	mu     sync.RWMutex
	byPath map[string]*Image
	logger *logging.Logger
}

func NewRegistry() *Registry {
	return &Registry{byPath: make(map[string]*Image), logger: logging.Default()}
}

// SetLogger replaces the registry's logger.
func (r *Registry) SetLogger(logger *logging.Logger) {
	r.logger = logger
}

func (r *Registry) lookup(path string) (*Image, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.byPath[path]
	return img, ok
}

func (r *Registry) register(path string, img *Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPath[path] = img
}

func (r *Registry) unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPath, path)
}

// resolvePath mirrors the spec's "resolved relative to parent.full_path
// if parent is given, else absolutely" rule. The raw bytes themselves
// are read straight from the host filesystem: this port has no VFS/MFS
// layer (explicitly out of scope), so the loader treats the host's
// filesystem as the backing store a real MollenOS would reach through
// the VFS service.
func resolvePath(parent *Image, path *mstr.String) string {
	p := path.String()
	if parent == nil || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(parent.FullPath.String()), p)
}

// LoadImage validates headers, maps sections, and processes the four
// data directories in fixed order (Base Relocation, Export, Import,
// Global-Ptr) for the file at path, attaching the result to parent's
// library list when parent is non-nil.
func LoadImage(owner Owner, parent *Image, path *mstr.String, reg *Registry) (*Image, error) {
	fullPath := resolvePath(parent, path)

	if existing, ok := reg.lookup(fullPath); ok && parent != nil {
		existing.AddRef()
		parent.Children = append(parent.Children, existing)
		reg.logger.Debug("load_image reused existing", "path", fullPath, "refcount", existing.RefCount())
		return existing, nil
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, errMappingFailed("LoadImage", "unable to read image file: "+err.Error())
	}

	img, err := buildImageFromBytes(owner, data)
	if err != nil {
		reg.logger.Error("load_image failed to build image", "path", fullPath, "error", err)
		return nil, err
	}
	img.Name = filepath.Base(fullPath)
	fp, err := mstr.NewFromString(fullPath)
	if err != nil {
		return nil, errInvalidImage("LoadImage", "path is not valid UTF-8")
	}
	img.FullPath = fp
	img.Parent = parent

	readRVA := func(rva uint32, n int) ([]byte, error) {
		buf := make([]byte, n)
		if err := img.Space.ReadAt(img.Base+uint64(rva), buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	if err := processDirectories(img, data, reg, readRVA); err != nil {
		reg.logger.Error("load_image directory processing failed", "path", fullPath, "error", err)
		unmapImage(img)
		return nil, err
	}

	reg.register(fullPath, img)
	img.AddRef()
	if parent != nil {
		parent.Children = append(parent.Children, img)
	}
	reg.logger.Info("load_image mapped", "path", fullPath, "base", img.Base)
	return img, nil
}

// buildImageFromBytes validates the DOS/PE headers, matches machine
// and architecture, copies the headers and every section into the
// owner's address space (zero-filling BSS), and reserves the range they
// occupy. Section characteristics are not applied: headers and
// sections are written as plain bytes with no page protection.
func buildImageFromBytes(owner Owner, data []byte) (*Image, error) {
	if len(data) < dosHeaderSize+4 {
		return nil, errInvalidImage("buildImageFromBytes", "file too small for DOS header")
	}
	if data[0] != 'M' || data[1] != 'Z' {
		return nil, errInvalidImage("buildImageFromBytes", "missing MZ signature")
	}
	peOff := int(uint32FromLE(data[dosE_lfanewOff : dosE_lfanewOff+4]))
	if peOff+4 > len(data) {
		return nil, errInvalidImage("buildImageFromBytes", "bad e_lfanew")
	}
	if data[peOff] != 'P' || data[peOff+1] != 'E' || data[peOff+2] != 0 || data[peOff+3] != 0 {
		return nil, errInvalidImage("buildImageFromBytes", "missing PE signature")
	}

	coffOff := peOff + peSignatureSize
	coff, err := parseCOFFHeader(data, coffOff)
	if err != nil {
		return nil, err
	}

	var arch Arch
	switch coff.Machine {
	case machineI386:
		arch = Arch386
	case machineAMD64:
		arch = ArchAMD64
	default:
		return nil, errWrongMachine("buildImageFromBytes")
	}
	if arch != hostArch() {
		return nil, errWrongArch("buildImageFromBytes")
	}

	optOff := coffOff + coffHeaderSize
	opt, err := parseOptionalHeader(data, optOff, int(coff.SizeOfOptionalHeader))
	if err != nil {
		return nil, err
	}

	base := owner.NextLoadAddress()
	img := &Image{
		Arch:         arch,
		Base:         base,
		OriginalBase: opt.ImageBase,
		Space:        owner.AddressSpace(),
		EntryRVA:     opt.AddressOfEntryPoint,
		CodeBase:     base + uint64(opt.BaseOfCode),
		CodeSize:     uint64(opt.SizeOfCode),
	}

	// Headers are copied in for the size of the DOS, PE, optional and
	// section headers region; they are not made read-only.
	headersSize := optOff + int(coff.SizeOfOptionalHeader) + int(coff.NumberOfSections)*sectionHeaderSize
	if headersSize > len(data) {
		return nil, errInvalidImage("buildImageFromBytes", "section table exceeds file size")
	}
	if err := img.Space.WriteAt(base, data[:headersSize]); err != nil {
		return nil, errOutOfMemory("buildImageFromBytes")
	}

	sectionTableOff := optOff + int(coff.SizeOfOptionalHeader)
	highestEnd := uint64(headersSize)
	for i := 0; i < int(coff.NumberOfSections); i++ {
		sh, err := parseSectionHeader(data, sectionTableOff+i*sectionHeaderSize)
		if err != nil {
			return nil, err
		}
		sectionAddr := base + uint64(sh.VirtualAddress)

		if sh.SizeOfRawData > 0 {
			end := int(sh.PointerToRawData) + int(sh.SizeOfRawData)
			if end > len(data) {
				return nil, errMappingFailed("buildImageFromBytes", "section raw data exceeds file size")
			}
			if err := img.Space.WriteAt(sectionAddr, data[sh.PointerToRawData:end]); err != nil {
				return nil, errOutOfMemory("buildImageFromBytes")
			}
		}
		if sh.VirtualSize > sh.SizeOfRawData {
			bssStart := sectionAddr + uint64(sh.SizeOfRawData)
			bssSize := uint64(sh.VirtualSize - sh.SizeOfRawData)
			if err := img.Space.ZeroFill(bssStart, bssSize); err != nil {
				return nil, errOutOfMemory("buildImageFromBytes")
			}
		}

		sectionEnd := base + uint64(sh.VirtualAddress) + uint64(max32(sh.VirtualSize, sh.SizeOfRawData))
		if sectionEnd > highestEnd {
			highestEnd = sectionEnd
		}
	}

	// Bump the owner's load cursor past the highest used section,
	// rounded to a page boundary, so the next image loads above this
	// one.
	owner.AddressSpace().Reserve(highestEnd - base)

	img.dataDirectories = opt.DataDirectories
	return img, nil
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func uint32FromLE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// processDirectories applies the four data directories in the fixed
// order the spec mandates.
func processDirectories(img *Image, raw []byte, reg *Registry, readRVA func(uint32, int) ([]byte, error)) error {
	dirs := img.dataDirectories

	if d := dirs[dirBaseRelocation]; d.Size > 0 {
		dirData, err := readRVA(d.VirtualAddress, int(d.Size))
		if err != nil {
			return errMappingFailed("processDirectories", "base relocation directory unreadable")
		}
		imageDelta := int64(img.Base) - int64(img.OriginalBase)
		if err := applyBaseRelocations(img, dirData, imageDelta); err != nil {
			return err
		}
	}

	if d := dirs[dirExport]; d.Size > 0 {
		dirData, err := readRVA(d.VirtualAddress, int(d.Size))
		if err != nil {
			return errMappingFailed("processDirectories", "export directory unreadable")
		}
		if err := buildExports(img, dirData, d.VirtualAddress, d.Size, readRVA); err != nil {
			return err
		}
	}

	if d := dirs[dirImport]; d.Size > 0 {
		dirData, err := readRVA(d.VirtualAddress, int(d.Size))
		if err != nil {
			return errMappingFailed("processDirectories", "import directory unreadable")
		}
		resolveLib := func(name string) (*Image, error) {
			return ResolveLibrary(img.Parent, img, name, reg)
		}
		if err := processImportDirectory(img, dirData, resolveLib, readRVA); err != nil {
			return err
		}
	}

	if d := dirs[dirGlobalPtr]; d.Size > 0 {
		dirData, err := readRVA(d.VirtualAddress, int(d.Size))
		if err != nil {
			return errMappingFailed("processDirectories", "global-ptr directory unreadable")
		}
		if err := applyPseudoRelocations(img, dirData); err != nil {
			return err
		}
	}
	return nil
}

// unmapImage drops the export tables of an image that failed to load
// or is being unloaded. It touches only that image, never sibling
// images already loaded. The section bytes already written into the
// address space and the address range reserved for them are not
// released, and libraries already loaded for its imports stay loaded.
func unmapImage(img *Image) {
	img.Exports = nil
	img.exportsByName = nil
}

// UnloadImage tears down an executable's own state. It does not chase
// the refcount rules that apply to shared libraries; call
// UnloadLibrary for those.
func UnloadImage(img *Image, reg *Registry) error {
	for _, child := range img.Children {
		if err := UnloadLibrary(img, child, reg); err != nil {
			return err
		}
	}
	if img.FullPath != nil {
		reg.unregister(img.FullPath.String())
	}
	unmapImage(img)
	return nil
}

// UnloadLibrary decrements lib's refcount; at zero it is detached from
// parent's library list and its own children are recursively unloaded.
func UnloadLibrary(parent, lib *Image, reg *Registry) error {
	if lib.Release() > 0 {
		return nil
	}
	if parent != nil {
		for i, c := range parent.Children {
			if c == lib {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
	}
	for _, child := range lib.Children {
		if err := UnloadLibrary(lib, child, reg); err != nil {
			return err
		}
	}
	if lib.FullPath != nil {
		reg.unregister(lib.FullPath.String())
		reg.logger.Debug("unload_library released", "path", lib.FullPath.String())
	}
	unmapImage(lib)
	return nil
}

// ResolveLibrary consults importer's ancestor chain, then the global
// registry, before mapping name as a fresh image. A returned image has
// its refcount incremented.
func ResolveLibrary(parent, importer *Image, name string, reg *Registry) (*Image, error) {
	for anc := importer; anc != nil; anc = anc.Parent {
		for _, c := range anc.Children {
			if c.Name == name {
				c.AddRef()
				return c, nil
			}
		}
	}

	namePath, err := mstr.NewFromString(name)
	if err != nil {
		return nil, errInvalidImage("ResolveLibrary", "library name is not valid UTF-8")
	}

	return LoadImage(importer, importer, namePath, reg)
}
