package peload

import "encoding/binary"

const exportDirectorySize = 40

type exportDirectory struct {
	NameRVA               uint32
	OrdinalBase           uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctionsRVA uint32
	AddressOfNamesRVA     uint32
	AddressOfNameOrdsRVA  uint32
}

func parseExportDirectory(b []byte) (exportDirectory, error) {
	if len(b) < exportDirectorySize {
		return exportDirectory{}, errInvalidImage("parseExportDirectory", "truncated export directory")
	}
	return exportDirectory{
		NameRVA:               binary.LittleEndian.Uint32(b[12:16]),
		OrdinalBase:           binary.LittleEndian.Uint32(b[16:20]),
		NumberOfFunctions:     binary.LittleEndian.Uint32(b[20:24]),
		NumberOfNames:         binary.LittleEndian.Uint32(b[24:28]),
		AddressOfFunctionsRVA: binary.LittleEndian.Uint32(b[28:32]),
		AddressOfNamesRVA:     binary.LittleEndian.Uint32(b[32:36]),
		AddressOfNameOrdsRVA:  binary.LittleEndian.Uint32(b[36:40]),
	}, nil
}

// buildExports constructs the ordinal->address table and the owned
// name pool so the raw file buffer can be released once loading
// completes. Forwarded exports (address inside [dirStart, dirEnd)) are
// retained with their name but not resolved here; callers of a
// forwarded export resolve it lazily, out of scope for this loader.
func buildExports(img *Image, exportDirData []byte, dirVA, dirSize uint32, readRVA func(rva uint32, n int) ([]byte, error)) error {
	dir, err := parseExportDirectory(exportDirData)
	if err != nil {
		return err
	}

	funcTable, err := readRVA(dir.AddressOfFunctionsRVA, int(dir.NumberOfFunctions)*4)
	if err != nil {
		return errMappingFailed("buildExports", "address-of-functions table unreadable")
	}

	img.Exports = make(map[uint16]Export, dir.NumberOfFunctions)
	img.exportsByName = make(map[string]uint16, dir.NumberOfNames)

	for i := uint32(0); i < dir.NumberOfFunctions; i++ {
		funcRVA := binary.LittleEndian.Uint32(funcTable[i*4 : i*4+4])
		if funcRVA == 0 {
			continue
		}
		ordinal := uint16(dir.OrdinalBase + i)
		export := Export{Address: img.Base + uint64(funcRVA)}
		if funcRVA >= dirVA && funcRVA < dirVA+dirSize {
			name, err := readForwardName(img, funcRVA, readRVA)
			if err != nil {
				return err
			}
			export.Address = 0
			export.ForwardName = name
		}
		img.Exports[ordinal] = export
	}

	if dir.NumberOfNames > 0 {
		nameTable, err := readRVA(dir.AddressOfNamesRVA, int(dir.NumberOfNames)*4)
		if err != nil {
			return errMappingFailed("buildExports", "name table unreadable")
		}
		ordTable, err := readRVA(dir.AddressOfNameOrdsRVA, int(dir.NumberOfNames)*2)
		if err != nil {
			return errMappingFailed("buildExports", "name ordinal table unreadable")
		}
		for i := uint32(0); i < dir.NumberOfNames; i++ {
			nameRVA := binary.LittleEndian.Uint32(nameTable[i*4 : i*4+4])
			nameOrdIndex := binary.LittleEndian.Uint16(ordTable[i*2 : i*2+2])
			ordinal := uint16(dir.OrdinalBase) + nameOrdIndex

			name, err := readCString(img, nameRVA, readRVA)
			if err != nil {
				return err
			}
			// Copy into an owned string (Go strings are already
			// immutable owned copies once built from []byte via
			// string(), so no extra pool is required here).
			e := img.Exports[ordinal]
			e.Name = name
			img.Exports[ordinal] = e
			img.exportsByName[name] = ordinal
		}
	}
	return nil
}

func readForwardName(img *Image, rva uint32, readRVA func(uint32, int) ([]byte, error)) (string, error) {
	return readCString(img, rva, readRVA)
}

func readCString(img *Image, rva uint32, readRVA func(uint32, int) ([]byte, error)) (string, error) {
	const chunk = 256
	var full []byte
	for {
		b, err := readRVA(rva+uint32(len(full)), chunk)
		if err != nil {
			return "", errMappingFailed("readCString", "string table unreadable")
		}
		idx := indexZero(b)
		if idx >= 0 {
			full = append(full, b[:idx]...)
			return string(full), nil
		}
		full = append(full, b...)
		if len(full) > 1<<20 {
			return "", errInvalidImage("readCString", "unterminated string exceeds sane bound")
		}
	}
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
