package peload

import "encoding/binary"

const importDescriptorSize = 20

type importDescriptor struct {
	OriginalFirstThunkRVA uint32
	NameRVA               uint32
	FirstThunkRVA         uint32
}

func parseImportDescriptor(b []byte) importDescriptor {
	return importDescriptor{
		OriginalFirstThunkRVA: binary.LittleEndian.Uint32(b[0:4]),
		NameRVA:               binary.LittleEndian.Uint32(b[12:16]),
		FirstThunkRVA:         binary.LittleEndian.Uint32(b[16:20]),
	}
}

// thunkWidth returns the IAT/ILT entry width for the image's
// architecture: 4 bytes for 386, 8 for AMD64.
func thunkWidth(arch Arch) int {
	if arch == ArchAMD64 {
		return 8
	}
	return 4
}

// ordinalFlag is the high bit marking an ordinal-only import thunk:
// bit 31 for a 32-bit thunk, bit 63 for a 64-bit thunk.
func ordinalFlag(arch Arch) uint64 {
	if arch == ArchAMD64 {
		return 1 << 63
	}
	return 1 << 31
}

// resolveImportByHint looks up a symbol in a resolved library image, trying
// the hint-indicated ordinal position first, then a full linear
// search by name, matching the spec's hint-then-linear-search
// contract.
func resolveImportByHint(lib *Image, hint uint16, name string) (uint64, error) {
	if e, ok := lib.ExportByOrdinal(hint); ok && e.Name == name {
		return e.Address, nil
	}
	if e, ok := lib.ExportByName(name); ok {
		return e.Address, nil
	}
	return 0, errMissingSymbol("resolveImportByHint", name)
}

// processImportDirectory walks the Import directory, resolving each
// named module via resolveLibrary and fixing up every IAT slot in
// place.
func processImportDirectory(img *Image, dirData []byte, resolveLibrary func(name string) (*Image, error), readRVA func(uint32, int) ([]byte, error)) error {
	width := thunkWidth(img.Arch)
	ordFlag := ordinalFlag(img.Arch)

	for off := 0; off+importDescriptorSize <= len(dirData); off += importDescriptorSize {
		desc := parseImportDescriptor(dirData[off : off+importDescriptorSize])
		if desc.OriginalFirstThunkRVA == 0 && desc.NameRVA == 0 && desc.FirstThunkRVA == 0 {
			break
		}

		moduleName, err := readCString(img, desc.NameRVA, readRVA)
		if err != nil {
			return err
		}
		lib, err := resolveLibrary(moduleName)
		if err != nil {
			return err
		}

		thunkRVA := desc.OriginalFirstThunkRVA
		if thunkRVA == 0 {
			thunkRVA = desc.FirstThunkRVA
		}

		for i := 0; ; i++ {
			thunkAddr := img.Base + uint64(thunkRVA) + uint64(i*width)
			iatAddr := img.Base + uint64(desc.FirstThunkRVA) + uint64(i*width)

			buf := make([]byte, width)
			if err := img.Space.ReadAt(thunkAddr, buf); err != nil {
				return err
			}
			var raw uint64
			if width == 8 {
				raw = binary.LittleEndian.Uint64(buf)
			} else {
				raw = uint64(binary.LittleEndian.Uint32(buf))
			}
			if raw == 0 {
				break
			}

			var resolved uint64
			if raw&ordFlag != 0 {
				ordinal := uint16(raw & 0xFFFF)
				e, ok := lib.ExportByOrdinal(ordinal)
				if !ok {
					return errMissingSymbol("processImportDirectory", moduleName)
				}
				resolved = e.Address
			} else {
				entryRVA := uint32(raw)
				entry, err := readRVA(entryRVA, 2)
				if err != nil {
					return err
				}
				hint := binary.LittleEndian.Uint16(entry)
				name, err := readCString(img, entryRVA+2, readRVA)
				if err != nil {
					return err
				}
				resolved, err = resolveImportByHint(lib, hint, name)
				if err != nil {
					return err
				}
			}

			out := make([]byte, width)
			if width == 8 {
				binary.LittleEndian.PutUint64(out, resolved)
			} else {
				binary.LittleEndian.PutUint32(out, uint32(resolved))
			}
			if err := img.Space.WriteAt(iatAddr, out); err != nil {
				return err
			}
		}
	}
	return nil
}
