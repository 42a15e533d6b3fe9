package peload

import "encoding/binary"

// relocationBlockHeader precedes each base relocation block.
type relocationBlockHeader struct {
	PageRVA   uint32
	BlockSize uint32
}

// applyBaseRelocations walks the Base Relocation directory and rewrites
// every fixup by imageDelta = newBase - originalImageBase. When
// imageDelta is zero the directory is skipped entirely, matching an
// image loaded at its preferred base.
func applyBaseRelocations(img *Image, dirData []byte, imageDelta int64) error {
	if imageDelta == 0 {
		return nil
	}
	off := 0
	for off+8 <= len(dirData) {
		hdr := relocationBlockHeader{
			PageRVA:   binary.LittleEndian.Uint32(dirData[off : off+4]),
			BlockSize: binary.LittleEndian.Uint32(dirData[off+4 : off+8]),
		}
		if hdr.BlockSize < 8 {
			return errInvalidImage("applyBaseRelocations", "degenerate relocation block")
		}
		entries := dirData[off+8 : off+int(hdr.BlockSize)]
		for e := 0; e+2 <= len(entries); e += 2 {
			entry := binary.LittleEndian.Uint16(entries[e : e+2])
			kind := entry >> 12
			pageOffset := entry & 0x0FFF

			addr := img.Base + uint64(hdr.PageRVA) + uint64(pageOffset)
			switch kind {
			case relocationTypeAbsolute:
				// padding entry, nothing to do
			case relocationTypeHighLow:
				var buf [4]byte
				if err := img.Space.ReadAt(addr, buf[:]); err != nil {
					return err
				}
				v := int64(binary.LittleEndian.Uint32(buf[:])) + imageDelta
				binary.LittleEndian.PutUint32(buf[:], uint32(v))
				if err := img.Space.WriteAt(addr, buf[:]); err != nil {
					return err
				}
			case relocationTypeDir64:
				var buf [8]byte
				if err := img.Space.ReadAt(addr, buf[:]); err != nil {
					return err
				}
				v := int64(binary.LittleEndian.Uint64(buf[:])) + imageDelta
				binary.LittleEndian.PutUint64(buf[:], uint64(v))
				if err := img.Space.WriteAt(addr, buf[:]); err != nil {
					return err
				}
			default:
				return errUnsupportedRelocation("applyBaseRelocations", kind)
			}
		}
		off += int(hdr.BlockSize)
	}
	return nil
}

// pseudoRelocHeader is the MinGW runtime-pseudo-relocation-list header:
// magic0 == 0, magic1 == 0, version in {1, 2}.
type pseudoRelocHeader struct {
	Magic0  uint32
	Magic1  uint32
	Version uint32
}

// applyPseudoRelocations implements the Global-Ptr directory's MinGW
// V1/V2 runtime pseudo-relocation formats.
func applyPseudoRelocations(img *Image, dirData []byte) error {
	if len(dirData) < 12 {
		return nil
	}
	hdr := pseudoRelocHeader{
		Magic0:  binary.LittleEndian.Uint32(dirData[0:4]),
		Magic1:  binary.LittleEndian.Uint32(dirData[4:8]),
		Version: binary.LittleEndian.Uint32(dirData[8:12]),
	}
	if hdr.Magic0 != 0 || hdr.Magic1 != 0 {
		return nil
	}
	switch hdr.Version {
	case 1:
		return applyPseudoRelocV1(img, dirData[12:])
	case 2:
		return applyPseudoRelocV2(img, dirData[12:])
	default:
		return errUnsupportedRelocation("applyPseudoRelocations", uint16(hdr.Version))
	}
}

func applyPseudoRelocV1(img *Image, entries []byte) error {
	const entrySize = 8
	for off := 0; off+entrySize <= len(entries); off += entrySize {
		value := binary.LittleEndian.Uint32(entries[off : off+4])
		offset := binary.LittleEndian.Uint32(entries[off+4 : off+8])
		addr := img.Base + uint64(offset)
		var buf [4]byte
		if err := img.Space.ReadAt(addr, buf[:]); err != nil {
			return err
		}
		v := binary.LittleEndian.Uint32(buf[:]) + value
		binary.LittleEndian.PutUint32(buf[:], v)
		if err := img.Space.WriteAt(addr, buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func applyPseudoRelocV2(img *Image, entries []byte) error {
	const entrySize = 12
	for off := 0; off+entrySize <= len(entries); off += entrySize {
		symbolRVA := binary.LittleEndian.Uint32(entries[off : off+4])
		offsetRVA := binary.LittleEndian.Uint32(entries[off+4 : off+8])
		flags := binary.LittleEndian.Uint32(entries[off+8 : off+12])

		bits := flags & 0xFF
		var size int
		switch bits {
		case 8:
			size = 1
		case 16:
			size = 2
		case 32:
			size = 4
		case 64:
			size = 8
		default:
			return errUnsupportedRelocation("applyPseudoRelocV2", uint16(bits))
		}

		targetAddr := img.Base + uint64(offsetRVA)
		buf := make([]byte, size)
		if err := img.Space.ReadAt(targetAddr, buf); err != nil {
			return err
		}
		current := signExtend(buf)

		var symbolBuf [8]byte
		symbolAddr := img.Base + uint64(symbolRVA)
		if err := img.Space.ReadAt(symbolAddr, symbolBuf[:8]); err != nil {
			return err
		}
		symbolValue := int64(binary.LittleEndian.Uint64(symbolBuf[:]))

		result := current - (int64(img.Base) + int64(offsetRVA)) + symbolValue
		writeTruncated(buf, result)
		if err := img.Space.WriteAt(targetAddr, buf); err != nil {
			return err
		}
	}
	return nil
}

// signExtend interprets buf (length 1, 2, 4, or 8) as a little-endian
// signed integer of that width, sign-extended to int64.
func signExtend(buf []byte) int64 {
	switch len(buf) {
	case 1:
		return int64(int8(buf[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(buf)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	case 8:
		return int64(binary.LittleEndian.Uint64(buf))
	}
	return 0
}

// writeTruncated writes v into buf truncated to len(buf) bytes,
// little-endian.
func writeTruncated(buf []byte, v int64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(v))
	}
}
