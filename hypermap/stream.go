package hypermap

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/brukerio/sfsgo/sfs"
)

// streamReader implements the §4.4 buffer-refill discipline: a single
// contiguous working buffer is refilled by splicing its unconsumed
// tail in front of the next uncompressed block from the entry's
// unified block accessor, whenever a read would otherwise run past the
// end of the buffer. Physical chunk or compression-block boundaries
// are never visible above this type.
type streamReader struct {
	it     sfs.BlockIterator
	buf    []byte
	offset int
	abs    int64 // cumulative bytes consumed, for error reporting
	eof    bool
}

func newStreamReader(it sfs.BlockIterator) *streamReader {
	return &streamReader{it: it}
}

func (r *streamReader) ensure(k int) error {
	for r.offset+k > len(r.buf) {
		if r.eof {
			return fmt.Errorf("%w: need %d bytes, have %d", io.ErrUnexpectedEOF, k, len(r.buf)-r.offset)
		}
		block, err := r.it.Next()
		if err == io.EOF {
			r.eof = true
			continue
		}
		if err != nil {
			return err
		}
		remainder := r.buf[r.offset:]
		next := make([]byte, len(remainder)+len(block))
		copy(next, remainder)
		copy(next[len(remainder):], block)
		r.buf = next
		r.offset = 0
	}
	return nil
}

// read returns the next k bytes and advances the stream.
func (r *streamReader) read(k int) ([]byte, error) {
	if err := r.ensure(k); err != nil {
		return nil, badData(r.abs, "reading %d bytes: %w", k, err)
	}
	out := r.buf[r.offset : r.offset+k]
	r.offset += k
	r.abs += int64(k)
	return out, nil
}

func (r *streamReader) skip(k int) error {
	_, err := r.read(k)
	return err
}

func (r *streamReader) readU16() (uint16, error) {
	b, err := r.read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *streamReader) readU32() (uint32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func leUint(b []byte) uint64 {
	var v uint64
	for i, bb := range b {
		v |= uint64(bb) << (8 * uint(i))
	}
	return v
}
