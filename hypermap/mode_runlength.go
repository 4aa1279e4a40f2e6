package hypermap

import "encoding/binary"

// setHist writes v at the sequential cursor position pos, dropping it
// if pos has run past the histogram's capacity (corrupt data) rather
// than corrupting adjacent memory.
func setHist(hist []uint32, pos int, v uint32) {
	if pos >= 0 && pos < len(hist) {
		hist[pos] = v
	}
}

// decodeRunLength implements flag > 1 (§4.4): the body IS the
// histogram, run-length encoded as a sequence of gain-biased runs
// written at consecutive channel positions — unlike flag 0/1, which
// bincount a list of pulse energies. A trailing list of single-count
// "extra pulse" channel indices, read separately, is applied as true
// bincount increments on top of the run-decoded histogram.
func decodeRunLength(r *streamReader, hdr pixelHeader) ([]uint32, error) {
	hist := make([]uint32, hdr.ChanCapacity)
	pos := 0

	bodyEnd := int(hdr.BodySize) - 4
	consumed := 0
	for consumed < bodyEnd {
		runHdr, err := r.read(2)
		if err != nil {
			return nil, err
		}
		consumed += 2
		nibbleWidth := runHdr[0]
		runLength := int(runHdr[1])

		if nibbleWidth == 0 {
			pos += runLength // zeros already in place
			continue
		}

		byteWidth := 1
		if nibbleWidth >= 2 {
			byteWidth = int(nibbleWidth) / 2
		}
		gainBytes, err := r.read(byteWidth)
		if err != nil {
			return nil, err
		}
		consumed += byteWidth
		gain := leUint(gainBytes)

		if nibbleWidth == 1 {
			n := (runLength + 1) / 2
			data, err := r.read(n)
			if err != nil {
				return nil, err
			}
			consumed += n
			count := 0
			for _, b := range data {
				if count >= runLength {
					break
				}
				setHist(hist, pos, uint32(uint64(b&0x0F)+gain))
				pos++
				count++
				if count >= runLength {
					break
				}
				setHist(hist, pos, uint32(uint64(b>>4)+gain))
				pos++
				count++
			}
			continue
		}

		n := runLength * byteWidth
		data, err := r.read(n)
		if err != nil {
			return nil, err
		}
		consumed += n
		for i := 0; i < runLength; i++ {
			v := leUint(data[i*byteWidth:(i+1)*byteWidth]) + gain
			setHist(hist, pos, uint32(v))
			pos++
		}
	}

	if hdr.ExtraPulseCount > 0 {
		if _, err := r.read(4); err != nil { // additional_body_size, unused
			return nil, err
		}
		extra, err := r.read(int(hdr.ExtraPulseCount) * 2)
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(hdr.ExtraPulseCount); i++ {
			idx := binary.LittleEndian.Uint16(extra[i*2 : i*2+2])
			addHist(hist, int(idx), 1)
		}
	} else {
		if err := r.skip(4); err != nil {
			return nil, err
		}
	}

	return hist, nil
}
