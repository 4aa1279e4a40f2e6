package hypermap

import "encoding/binary"

// decodePlain implements flag == 0 (§4.4): the body is a plain list of
// u16 LE pulse energies; the histogram is their bincount.
func decodePlain(r *streamReader, hdr pixelHeader) ([]uint32, error) {
	body, err := r.read(int(hdr.BodySize))
	if err != nil {
		return nil, err
	}
	hist := make([]uint32, hdr.ChanCapacity)
	for off := 0; off+2 <= len(body); off += 2 {
		v := binary.LittleEndian.Uint16(body[off : off+2])
		addHist(hist, int(v), 1)
	}
	return hist, nil
}
