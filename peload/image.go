// Package peload loads PE/COFF executables and libraries into a
// process's address space: section mapping, base relocation, import
// resolution, export table construction, and MinGW-style runtime
// pseudo-relocations. It parses the byte layout directly with
// encoding/binary rather than debug/pe, the same "hand-roll the wire
// struct marshal, skip reflection in the hot path" idiom the uapi
// marshal code uses for ublk's control/io structs.
package peload

import (
	"sync/atomic"

	"github.com/mollenos/mollenkit/mstr"
	"github.com/mollenos/mollenkit/vmm"
)

// Arch identifies the machine architecture an Image targets.
type Arch int

const (
	ArchUnknown Arch = iota
	Arch386
	ArchAMD64
)

// Owner is the address-space-owning side of a load: satisfied by
// *kernel.Process without peload importing package kernel, which
// would otherwise create an import cycle (kernel.Process embeds
// *peload.Image).
type Owner interface {
	AddressSpace() *vmm.AddressSpace
	NextLoadAddress() uint64
}

// Export pairs a resolved address with the (optional) name under
// which it was published; forwarded exports carry a nonzero
// ForwardName instead of a usable Address.
type Export struct {
	Address     uint64
	Name        string
	ForwardName string
}

// Image is a fully linked, section-mapped PE/COFF image living inside
// some process's address space, along with its transitive library
// closure.
type Image struct {
	Name         string
	FullPath     *mstr.String
	Arch         Arch
	Base         uint64
	OriginalBase uint64

	CodeBase uint64
	CodeSize uint64
	EntryRVA uint32

	Space *vmm.AddressSpace

	// Exports maps ordinal (already offset by OrdinalBase) to the
	// resolved export entry.
	Exports map[uint16]Export
	// exportsByName allows import resolution by name without a linear
	// scan of Exports on every lookup past the first.
	exportsByName map[string]uint16

	refcount atomic.Int32
	Children []*Image
	Parent   *Image

	dataDirectories [numDataDirectories]dataDirectory
}

// AddressSpace implements Owner so a library resolved as a dependency
// of img maps into the same address space as img itself.
func (img *Image) AddressSpace() *vmm.AddressSpace { return img.Space }

// NextLoadAddress implements Owner.
func (img *Image) NextLoadAddress() uint64 { return img.Space.NextLoadAddress() }

// AddRef increments the image's reference count, used when a sibling
// import or resolve_library call picks up an already-loaded library.
func (img *Image) AddRef() int32 { return img.refcount.Add(1) }

// Release decrements the reference count and reports the value after
// decrementing; callers unload the image's children when it reaches
// zero.
func (img *Image) Release() int32 { return img.refcount.Add(-1) }

// RefCount reports the current reference count.
func (img *Image) RefCount() int32 { return img.refcount.Load() }

// ExportByOrdinal looks up an export by its ordinal (already offset by
// OrdinalBase, as stored in Exports).
func (img *Image) ExportByOrdinal(ordinal uint16) (Export, bool) {
	e, ok := img.Exports[ordinal]
	return e, ok
}

// ExportByName looks up an export by its published name.
func (img *Image) ExportByName(name string) (Export, bool) {
	ordinal, ok := img.exportsByName[name]
	if !ok {
		return Export{}, false
	}
	return img.ExportByOrdinal(ordinal)
}
