package peload

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mollenos/mollenkit/mstr"
	"github.com/mollenos/mollenkit/vmm"
)

// testOwner adapts a bare vmm.AddressSpace to peload.Owner for tests
// that don't need a full kernel.Process.
type testOwner struct{ space *vmm.AddressSpace }

func (o testOwner) AddressSpace() *vmm.AddressSpace { return o.space }
func (o testOwner) NextLoadAddress() uint64          { return o.space.NextLoadAddress() }

func newTestOwner(base uint64) testOwner {
	return testOwner{space: vmm.NewAddressSpace(base, 1<<20)}
}

// peFixture builds a minimal, valid PE32+ (AMD64) image in memory: one
// executable code section and an optional base relocation directory
// containing a single fixup (DIR64 unless relocType is set). It emits
// no export or import directory. Only the fields the loader reads are
// filled in; everything else is zeroed.
type peFixture struct {
	imageBase uint64
	code      []byte
	relocRVA  uint32 // RVA within code where a fixup lives, 0 to skip
	relocType uint16 // defaults to relocationTypeDir64 when relocRVA != 0
}

func buildPE(f peFixture) []byte {
	const sectionRVA = 0x1000
	const fileAlign = 0x200
	const numSections = 1

	code := append([]byte(nil), f.code...)
	var relocBlockOff uint32
	if f.relocRVA != 0 {
		relocBlockOff = uint32(len(code))
		relocType := f.relocType
		if relocType == 0 {
			relocType = relocationTypeDir64
		}
		pageRVA := f.relocRVA &^ 0xFFF
		pageOffset := f.relocRVA & 0xFFF
		block := make([]byte, 10)
		binary.LittleEndian.PutUint32(block[0:], pageRVA)
		binary.LittleEndian.PutUint32(block[4:], 8+2) // block size: header+1 entry
		entry := relocType<<12 | uint16(pageOffset)
		binary.LittleEndian.PutUint16(block[8:], entry)
		code = append(code, block...)
	}

	sectionSize := uint32(len(code))
	if sectionSize == 0 {
		sectionSize = fileAlign
	}
	sectionSizeAligned := align(sectionSize, fileAlign)

	dosHeader := make([]byte, dosHeaderSize)
	dosHeader[0], dosHeader[1] = 'M', 'Z'
	peOff := uint32(dosHeaderSize)
	binary.LittleEndian.PutUint32(dosHeader[dosE_lfanewOff:], peOff)

	coffOff := peOff + peSignatureSize
	optOff := coffOff + coffHeaderSize
	optSize := uint32(112 + numDataDirectories*dataDirectoryEntrySize) // PE32+ optional header
	sectionTableOff := optOff + optSize
	headersEnd := sectionTableOff + numSections*sectionHeaderSize
	headersFileSize := align(headersEnd, fileAlign)

	sectionFileOff := headersFileSize
	totalFileSize := sectionFileOff + sectionSizeAligned

	buf := make([]byte, totalFileSize)
	copy(buf, dosHeader)
	copy(buf[peOff:], []byte{'P', 'E', 0, 0})

	binary.LittleEndian.PutUint16(buf[coffOff:], machineAMD64)
	binary.LittleEndian.PutUint16(buf[coffOff+2:], numSections)
	binary.LittleEndian.PutUint16(buf[coffOff+16:], uint16(optSize))

	binary.LittleEndian.PutUint16(buf[optOff:], optHeaderMagicPE32Plus)
	binary.LittleEndian.PutUint32(buf[optOff+4:], sectionSizeAligned) // SizeOfCode
	binary.LittleEndian.PutUint32(buf[optOff+16:], sectionRVA)        // AddressOfEntryPoint
	binary.LittleEndian.PutUint32(buf[optOff+20:], sectionRVA)        // BaseOfCode
	binary.LittleEndian.PutUint64(buf[optOff+24:], f.imageBase)       // ImageBase
	binary.LittleEndian.PutUint32(buf[optOff+32:], 0x1000)            // SectionAlignment
	binary.LittleEndian.PutUint32(buf[optOff+36:], fileAlign)         // FileAlignment
	binary.LittleEndian.PutUint32(buf[optOff+56:], sectionRVA+sectionSizeAligned)
	binary.LittleEndian.PutUint32(buf[optOff+108:], numDataDirectories)

	setDir := func(idx int, rva, size uint32) {
		entryOff := int(optOff) + 112 + idx*dataDirectoryEntrySize
		binary.LittleEndian.PutUint32(buf[entryOff:], rva)
		binary.LittleEndian.PutUint32(buf[entryOff+4:], size)
	}

	sh := sectionTableOff
	copy(buf[sh:sh+8], []byte(".text\x00\x00\x00"))
	binary.LittleEndian.PutUint32(buf[sh+8:], sectionSize)            // VirtualSize
	binary.LittleEndian.PutUint32(buf[sh+12:], sectionRVA)            // VirtualAddress
	binary.LittleEndian.PutUint32(buf[sh+16:], sectionSizeAligned)    // SizeOfRawData
	binary.LittleEndian.PutUint32(buf[sh+20:], sectionFileOff)        // PointerToRawData
	binary.LittleEndian.PutUint32(buf[sh+36:], sectionCharExecute|sectionCharRead|sectionCharWrite)

	copy(buf[sectionFileOff:], code)

	if f.relocRVA != 0 {
		setDir(dirBaseRelocation, sectionRVA+relocBlockOff, 10)
	}

	return buf
}

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func mustMstr(t *testing.T, s string) *mstr.String {
	t.Helper()
	m, err := mstr.NewFromString(s)
	require.NoError(t, err)
	return m
}

func TestLoadImageAtPreferredBaseAppliesNoFixup(t *testing.T) {
	const base = uint64(0x140000000)
	code := make([]byte, 0x200)
	binary.LittleEndian.PutUint64(code[0x10:], base+0x9999) // fixup target, already correct
	fixture := buildPE(peFixture{imageBase: base, code: code, relocRVA: 0x1010})
	path := writeTempFile(t, "pref.exe", fixture)

	owner := newTestOwner(base)
	reg := NewRegistry()
	img, err := LoadImage(owner, nil, mustMstr(t, path), reg)
	require.NoError(t, err)
	require.Equal(t, base, img.Base)

	var got [8]byte
	require.NoError(t, img.Space.ReadAt(base+0x1010, got[:]))
	require.Equal(t, base+0x9999, binary.LittleEndian.Uint64(got[:]))
}

func TestLoadImageAtDifferentBaseAppliesDelta(t *testing.T) {
	const preferredBase = uint64(0x140000000)
	const actualBase = uint64(0x150000000)
	delta := int64(actualBase) - int64(preferredBase)

	code := make([]byte, 0x200)
	binary.LittleEndian.PutUint64(code[0x10:], preferredBase+0x9999)
	fixture := buildPE(peFixture{imageBase: preferredBase, code: code, relocRVA: 0x1010})
	path := writeTempFile(t, "reloc.exe", fixture)

	owner := newTestOwner(actualBase)
	reg := NewRegistry()
	img, err := LoadImage(owner, nil, mustMstr(t, path), reg)
	require.NoError(t, err)
	require.Equal(t, actualBase, img.Base)

	var got [8]byte
	require.NoError(t, img.Space.ReadAt(actualBase+0x1010, got[:]))
	require.Equal(t, uint64(int64(preferredBase+0x9999)+delta), binary.LittleEndian.Uint64(got[:]))
}

func TestLoadImageRejectsWrongMachine(t *testing.T) {
	fixture := buildPE(peFixture{imageBase: 0x400000, code: make([]byte, 0x10)})
	// Corrupt the machine field to an unrecognized value.
	binary.LittleEndian.PutUint16(fixture[dosHeaderSize+peSignatureSize:], 0x01C0)
	path := writeTempFile(t, "badmachine.exe", fixture)

	owner := newTestOwner(0x400000)
	_, err := LoadImage(owner, nil, mustMstr(t, path), NewRegistry())
	require.Error(t, err)
}

func TestUnsupportedRelocationTypeIsFatal(t *testing.T) {
	const preferredBase = uint64(0x400000)
	code := make([]byte, 0x200)
	// relocType 7 is not HIGHLOW, DIR64, or ABSOLUTE.
	fixture := buildPE(peFixture{imageBase: preferredBase, code: code, relocRVA: 0x1010, relocType: 7})
	path := writeTempFile(t, "badreloc.exe", fixture)

	// Load at a different base so image_delta != 0 and the directory is
	// actually walked instead of skipped.
	owner := newTestOwner(preferredBase + 0x10000)
	_, err := LoadImage(owner, nil, mustMstr(t, path), NewRegistry())
	require.Error(t, err)
}

// buildPEGeneric builds a minimal single-section PE32+ (AMD64) image
// like buildPE, but accepts arbitrary data directory entries instead of
// only a relocation block, so fixtures can exercise export and import
// directory parsing too. code is the section's full raw content;
// absolute RVAs inside it (for the directories, for the thunk/hint
// tables, ...) are sectionRVA-relative, same as buildPE.
func buildPEGeneric(imageBase uint64, code []byte, dirs map[int][2]uint32) []byte {
	const sectionRVA = 0x1000
	const fileAlign = 0x200
	const numSections = 1

	sectionSize := uint32(len(code))
	if sectionSize == 0 {
		sectionSize = fileAlign
	}
	sectionSizeAligned := align(sectionSize, fileAlign)

	dosHeader := make([]byte, dosHeaderSize)
	dosHeader[0], dosHeader[1] = 'M', 'Z'
	peOff := uint32(dosHeaderSize)
	binary.LittleEndian.PutUint32(dosHeader[dosE_lfanewOff:], peOff)

	coffOff := peOff + peSignatureSize
	optOff := coffOff + coffHeaderSize
	optSize := uint32(112 + numDataDirectories*dataDirectoryEntrySize)
	sectionTableOff := optOff + optSize
	headersEnd := sectionTableOff + numSections*sectionHeaderSize
	headersFileSize := align(headersEnd, fileAlign)

	sectionFileOff := headersFileSize
	totalFileSize := sectionFileOff + sectionSizeAligned

	buf := make([]byte, totalFileSize)
	copy(buf, dosHeader)
	copy(buf[peOff:], []byte{'P', 'E', 0, 0})

	binary.LittleEndian.PutUint16(buf[coffOff:], machineAMD64)
	binary.LittleEndian.PutUint16(buf[coffOff+2:], numSections)
	binary.LittleEndian.PutUint16(buf[coffOff+16:], uint16(optSize))

	binary.LittleEndian.PutUint16(buf[optOff:], optHeaderMagicPE32Plus)
	binary.LittleEndian.PutUint32(buf[optOff+4:], sectionSizeAligned) // SizeOfCode
	binary.LittleEndian.PutUint32(buf[optOff+16:], sectionRVA)        // AddressOfEntryPoint
	binary.LittleEndian.PutUint32(buf[optOff+20:], sectionRVA)        // BaseOfCode
	binary.LittleEndian.PutUint64(buf[optOff+24:], imageBase)         // ImageBase
	binary.LittleEndian.PutUint32(buf[optOff+32:], 0x1000)            // SectionAlignment
	binary.LittleEndian.PutUint32(buf[optOff+36:], fileAlign)         // FileAlignment
	binary.LittleEndian.PutUint32(buf[optOff+56:], sectionRVA+sectionSizeAligned)
	binary.LittleEndian.PutUint32(buf[optOff+108:], numDataDirectories)

	for idx, d := range dirs {
		entryOff := int(optOff) + 112 + idx*dataDirectoryEntrySize
		binary.LittleEndian.PutUint32(buf[entryOff:], d[0])
		binary.LittleEndian.PutUint32(buf[entryOff+4:], d[1])
	}

	sh := sectionTableOff
	copy(buf[sh:sh+8], []byte(".text\x00\x00\x00"))
	binary.LittleEndian.PutUint32(buf[sh+8:], sectionSize)         // VirtualSize
	binary.LittleEndian.PutUint32(buf[sh+12:], sectionRVA)         // VirtualAddress
	binary.LittleEndian.PutUint32(buf[sh+16:], sectionSizeAligned) // SizeOfRawData
	binary.LittleEndian.PutUint32(buf[sh+20:], sectionFileOff)     // PointerToRawData
	binary.LittleEndian.PutUint32(buf[sh+36:], sectionCharExecute|sectionCharRead|sectionCharWrite)

	copy(buf[sectionFileOff:], code)
	return buf
}

// buildExportLibrary builds a single-section DLL exporting one named
// function at the start of its section, backed by payload so a caller
// can also verify the bytes an import resolved to, not just the
// address.
func buildExportLibrary(imageBase uint64, name string, payload []byte) []byte {
	const sectionRVA = 0x1000
	const funcRVA = uint32(sectionRVA)

	dirOff := align(uint32(len(payload)), 4)
	funcTableOff := dirOff + exportDirectorySize
	nameTableOff := funcTableOff + 4
	ordTableOff := nameTableOff + 4
	nameStrOff := ordTableOff + 2
	nameBytes := append([]byte(name), 0)
	dllNameOff := align(nameStrOff+uint32(len(nameBytes)), 2)
	dllNameBytes := append([]byte("lib.dll"), 0)
	total := align(dllNameOff+uint32(len(dllNameBytes)), 8)

	code := make([]byte, total)
	copy(code, payload)

	binary.LittleEndian.PutUint32(code[dirOff+12:dirOff+16], sectionRVA+dllNameOff) // NameRVA
	binary.LittleEndian.PutUint32(code[dirOff+16:dirOff+20], 1)                     // OrdinalBase
	binary.LittleEndian.PutUint32(code[dirOff+20:dirOff+24], 1)                     // NumberOfFunctions
	binary.LittleEndian.PutUint32(code[dirOff+24:dirOff+28], 1)                     // NumberOfNames
	binary.LittleEndian.PutUint32(code[dirOff+28:dirOff+32], sectionRVA+funcTableOff)
	binary.LittleEndian.PutUint32(code[dirOff+32:dirOff+36], sectionRVA+nameTableOff)
	binary.LittleEndian.PutUint32(code[dirOff+36:dirOff+40], sectionRVA+ordTableOff)

	binary.LittleEndian.PutUint32(code[funcTableOff:funcTableOff+4], funcRVA)
	binary.LittleEndian.PutUint32(code[nameTableOff:nameTableOff+4], sectionRVA+nameStrOff)
	binary.LittleEndian.PutUint16(code[ordTableOff:ordTableOff+2], 0) // index 0 -> ordinal = OrdinalBase+0
	copy(code[nameStrOff:], nameBytes)
	copy(code[dllNameOff:], dllNameBytes)

	dirVA := sectionRVA + dirOff
	dirSize := total - dirOff
	return buildPEGeneric(imageBase, code, map[int][2]uint32{dirExport: {dirVA, dirSize}})
}

// buildImportingExe builds a single-section executable importing one
// symbol by hint+name from libName, through both an ILT and an IAT
// thunk pointing at the same hint/name entry, matching the loader's
// "OriginalFirstThunk falls back to FirstThunk" layout. It returns the
// image bytes and the RVA of the IAT slot the loader will overwrite,
// so callers can inspect the resolved value directly.
func buildImportingExe(mainBase uint64, libName, symbolName string, hint uint16) ([]byte, uint32) {
	const sectionRVA = 0x1000

	descSize := uint32(2 * importDescriptorSize) // real descriptor + zero terminator
	dllNameBytes := append([]byte(libName), 0)
	dllNameOff := descSize
	iltOff := align(dllNameOff+uint32(len(dllNameBytes)), 8)
	iatOff := iltOff + 16 // one qword thunk + zero terminator
	hintNameOff := iatOff + 16
	nameBytes := append([]byte(symbolName), 0)
	total := align(hintNameOff+2+uint32(len(nameBytes)), 8)

	code := make([]byte, total)

	binary.LittleEndian.PutUint32(code[0:4], sectionRVA+iltOff)
	binary.LittleEndian.PutUint32(code[12:16], sectionRVA+dllNameOff)
	binary.LittleEndian.PutUint32(code[16:20], sectionRVA+iatOff)
	// the second importDescriptor slot is left zeroed as the terminator

	copy(code[dllNameOff:], dllNameBytes)

	thunk := uint64(sectionRVA + hintNameOff)
	binary.LittleEndian.PutUint64(code[iltOff:iltOff+8], thunk)
	binary.LittleEndian.PutUint64(code[iatOff:iatOff+8], thunk)
	// the trailing 8 bytes of each thunk array are left zeroed as the
	// terminator entry

	binary.LittleEndian.PutUint16(code[hintNameOff:hintNameOff+2], hint)
	copy(code[hintNameOff+2:], nameBytes)

	data := buildPEGeneric(mainBase, code, map[int][2]uint32{dirImport: {sectionRVA, descSize}})
	return data, sectionRVA + iatOff
}

// writeFileIn writes data under name inside an existing directory,
// unlike writeTempFile which allocates a fresh directory per call; an
// importing exe and the library it imports must live side by side so
// resolve_library's relative-path lookup finds it.
func writeFileIn(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// TestLoadImageResolvesImportThroughIAT covers the S4 scenario: a
// library export reached only through an importer's IAT slot after
// import-directory processing, not by address the test already knows.
func TestLoadImageResolvesImportThroughIAT(t *testing.T) {
	const libBase = uint64(0x150000000)
	const mainBase = uint64(0x140000000)
	payload := []byte{0xB8, 0x05, 0x00, 0x00, 0x00, 0xC3} // mov eax, 5; ret

	libData := buildExportLibrary(libBase, "add", payload)
	mainData, iatRVA := buildImportingExe(mainBase, "rt.dll", "add", 1)

	dir := t.TempDir()
	writeFileIn(t, dir, "rt.dll", libData)
	mainPath := writeFileIn(t, dir, "main.exe", mainData)

	owner := newTestOwner(mainBase)
	reg := NewRegistry()
	img, err := LoadImage(owner, nil, mustMstr(t, mainPath), reg)
	require.NoError(t, err)
	require.Len(t, img.Children, 1)

	lib := img.Children[0]
	require.Equal(t, "rt.dll", lib.Name)
	export, ok := lib.ExportByName("add")
	require.True(t, ok)

	var gotThunk [8]byte
	require.NoError(t, img.Space.ReadAt(img.Base+uint64(iatRVA), gotThunk[:]))
	require.Equal(t, export.Address, binary.LittleEndian.Uint64(gotThunk[:]))

	var gotCode [6]byte
	require.NoError(t, img.Space.ReadAt(export.Address, gotCode[:]))
	require.Equal(t, payload, gotCode[:])
}

// TestLoadImageImportResolutionFailureReturnsNoImage covers property 8:
// a symbol import_resolve cannot satisfy fails the whole load, and the
// caller gets nothing back to half-use, never a partially fixed-up IAT.
func TestLoadImageImportResolutionFailureReturnsNoImage(t *testing.T) {
	const libBase = uint64(0x150000000)
	const mainBase = uint64(0x140000000)

	libData := buildExportLibrary(libBase, "add", []byte{0xB8, 0x05, 0x00, 0x00, 0x00, 0xC3})
	mainData, _ := buildImportingExe(mainBase, "rt.dll", "missing", 99)

	dir := t.TempDir()
	writeFileIn(t, dir, "rt.dll", libData)
	mainPath := writeFileIn(t, dir, "main.exe", mainData)

	owner := newTestOwner(mainBase)
	img, err := LoadImage(owner, nil, mustMstr(t, mainPath), NewRegistry())
	require.Error(t, err)
	require.Nil(t, img)
}

// TestLoadImageRefcountLifecycle covers property 9's 0->1->2->1->0
// refcount walk: an initial load, a second resolve_library for the
// same already-loaded dependency, and two matching unloads.
func TestLoadImageRefcountLifecycle(t *testing.T) {
	const libBase = uint64(0x150000000)
	const mainBase = uint64(0x140000000)

	libData := buildExportLibrary(libBase, "add", []byte{0xB8, 0x05, 0x00, 0x00, 0x00, 0xC3})
	mainData, _ := buildImportingExe(mainBase, "rt.dll", "add", 1)

	dir := t.TempDir()
	writeFileIn(t, dir, "rt.dll", libData)
	mainPath := writeFileIn(t, dir, "main.exe", mainData)

	owner := newTestOwner(mainBase)
	reg := NewRegistry()
	img, err := LoadImage(owner, nil, mustMstr(t, mainPath), reg)
	require.NoError(t, err)
	require.Len(t, img.Children, 1)

	lib := img.Children[0]
	require.EqualValues(t, 1, lib.RefCount())

	second, err := ResolveLibrary(img.Parent, img, "rt.dll", reg)
	require.NoError(t, err)
	require.Same(t, lib, second)
	require.EqualValues(t, 2, lib.RefCount())

	require.NoError(t, UnloadLibrary(img, lib, reg))
	require.EqualValues(t, 1, lib.RefCount())
	require.Contains(t, img.Children, lib)
	_, stillRegistered := reg.lookup(lib.FullPath.String())
	require.True(t, stillRegistered)

	require.NoError(t, UnloadLibrary(img, lib, reg))
	require.EqualValues(t, 0, lib.RefCount())
	require.NotContains(t, img.Children, lib)
	_, stillRegistered = reg.lookup(lib.FullPath.String())
	require.False(t, stillRegistered)
}
