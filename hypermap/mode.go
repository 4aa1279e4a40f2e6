package hypermap

import "encoding/binary"

// pixelHeader is the 22-byte per-pixel record header (§4.4).
type pixelHeader struct {
	X                uint32
	ChanCapacity      uint16
	ChanUsed          uint16
	Flag              uint16
	ExtraPulseCount   uint16
	BodySize          uint32
}

func readPixelHeader(r *streamReader) (pixelHeader, error) {
	b, err := r.read(22)
	if err != nil {
		return pixelHeader{}, err
	}
	return pixelHeader{
		X:               binary.LittleEndian.Uint32(b[0:4]),
		ChanCapacity:     binary.LittleEndian.Uint16(b[4:6]),
		ChanUsed:         binary.LittleEndian.Uint16(b[6:8]),
		// b[8:12] reserved
		Flag:            binary.LittleEndian.Uint16(b[12:14]),
		// b[14:16] reserved_size
		ExtraPulseCount: binary.LittleEndian.Uint16(b[16:18]),
		BodySize:        binary.LittleEndian.Uint32(b[18:22]),
	}, nil
}

// decodePixel dispatches on the pixel header's encoding mode and
// returns a per-channel histogram of length hdr.ChanCapacity.
func decodePixel(r *streamReader, hdr pixelHeader) ([]uint32, error) {
	switch {
	case hdr.Flag == 0:
		return decodePlain(r, hdr)
	case hdr.Flag == 1:
		return decodePacked12(r, hdr)
	default:
		return decodeRunLength(r, hdr)
	}
}

// addHist increments hist[idx] by delta if idx is in range; §4.4 does
// not specify behaviour for an out-of-range decoded channel index, so
// out-of-range increments are dropped rather than corrupting adjacent
// memory.
func addHist(hist []uint32, idx int, delta uint32) {
	if idx >= 0 && idx < len(hist) {
		hist[idx] += delta
	}
}
