package hypermap

import "encoding/binary"

// decodePacked12 implements flag == 1 (§4.4): pulses packed densely as
// 12-bit values, recovered by an in-place word byte-swap followed by a
// byte-drop on 6-byte groups to compact the stream, then unpacked as
// big-endian u16 pairs.
func decodePacked12(r *streamReader, hdr pixelHeader) ([]uint32, error) {
	body, err := r.read(int(hdr.BodySize))
	if err != nil {
		return nil, err
	}

	swapped := make([]byte, len(body))
	copy(swapped, body)
	for i := 0; i+4 <= len(swapped); i += 4 {
		swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
		swapped[i+2], swapped[i+3] = swapped[i+3], swapped[i+2]
	}

	compact := make([]byte, 0, len(swapped)/6*4)
	for i := 0; i+6 <= len(swapped); i += 6 {
		compact = append(compact, swapped[i+1], swapped[i+2], swapped[i+3], swapped[i+4])
	}

	values := make([]uint16, 0, len(compact)/2)
	for i := 0; i+2 <= len(compact); i += 2 {
		values = append(values, binary.BigEndian.Uint16(compact[i:i+2]))
	}

	hist := make([]uint32, hdr.ChanCapacity)
	for i := 0; i+1 < len(values); i += 2 {
		v0 := (values[i] >> 4) & 0x0FFF
		v1 := values[i+1] & 0x0FFF
		addHist(hist, int(v0), 1)
		addHist(hist, int(v1), 1)
	}
	return hist, nil
}
