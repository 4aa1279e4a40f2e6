package sfs

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// sizeInChunks returns the number of data chunks backing this entry's
// payload, i.e. len(pointerTable).
func (e *Entry) sizeInChunks() int64 {
	return int64(len(e.pointerTable))
}

// readRangeRaw reads length bytes directly through the pointer table,
// bypassing any per-entry compression. It underlies both ReadRange and
// the internal compression-header probe, which must see the raw
// "AACS..." bytes rather than inflated ones.
func (e *Entry) readRangeRaw(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(e.Size) {
		return nil, fmt.Errorf("%w: range [%d,%d) outside entry of size %d", ErrTruncated, offset, offset+length, e.Size)
	}
	if length == 0 {
		return nil, nil
	}
	usable := e.c.usable
	out := make([]byte, 0, length)

	first := offset / usable
	firstOff := offset % usable
	last := (offset + length) / usable
	lastCut := (offset + length) % usable

	if first == last {
		buf, err := e.c.readAt(e.pointerTable[first]+firstOff, length)
		if err != nil {
			return nil, err
		}
		return buf, nil
	}

	buf, err := e.c.readAt(e.pointerTable[first]+firstOff, usable-firstOff)
	if err != nil {
		return nil, err
	}
	out = append(out, buf...)

	for i := first + 1; i < last; i++ {
		buf, err := e.c.readAt(e.pointerTable[i], usable)
		if err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}

	if lastCut > 0 {
		buf, err := e.c.readAt(e.pointerTable[last], lastCut)
		if err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	return out, nil
}

// ReadRange returns length bytes logically starting at offset within
// the entry's payload, ignoring any per-entry compression (§4.2).
// Compressed entries decompress in whole blocks only — callers who
// need uncompressed logical offsets should stream through Blocks
// instead.
func (e *Entry) ReadRange(offset, length int64) ([]byte, error) {
	return e.readRangeRaw(offset, length)
}

// BlockIterator yields the entry's payload one block at a time, in
// order. Compressed entries yield one inflated deflate block per
// step; uncompressed entries yield one usable-sized physical chunk per
// step (truncated on the last one).
type BlockIterator interface {
	// Next returns the next block, or io.EOF once exhausted.
	Next() ([]byte, error)
}

// Blocks returns the entry's unified chunk accessor: an iterator, the
// nominal size of each block it yields, and the total block count.
// The hypermap decoder consumes exactly this interface and never sees
// physical chunk boundaries (§4.2).
func (e *Entry) Blocks() (BlockIterator, int, int, error) {
	if e.Size == 0 {
		return &plainBlockIterator{e: e}, int(e.c.usable), 0, nil
	}
	if e.c.compressed {
		if !e.compressed {
			return nil, 0, 0, ErrUnknownCompression
		}
		return &compressedBlockIterator{e: e, offset: 0x80}, int(e.uncompressedBlockSize), int(e.blockCount), nil
	}
	return &plainBlockIterator{e: e}, int(e.c.usable), int(e.sizeInChunks()), nil
}

// plainBlockIterator walks the entry's pointer table directly, one
// usable-sized physical chunk per step.
type plainBlockIterator struct {
	e   *Entry
	idx int64
}

func (it *plainBlockIterator) Next() ([]byte, error) {
	n := it.e.sizeInChunks()
	if it.idx >= n {
		return nil, io.EOF
	}
	usable := it.e.c.usable
	length := usable
	if it.idx == n-1 {
		if rem := int64(it.e.Size) % usable; rem != 0 {
			length = rem
		}
	}
	buf, err := it.e.c.readAt(it.e.pointerTable[it.idx], length)
	if err != nil {
		return nil, err
	}
	it.idx++
	return buf, nil
}

// compressedBlockIterator walks the "AACS" block scheme: each block
// is prefixed by a 16-byte header whose only meaningful field is the
// compressed size; the remaining cpr_size bytes are a zlib stream.
type compressedBlockIterator struct {
	e      *Entry
	offset int64
	idx    uint32
}

func (it *compressedBlockIterator) Next() ([]byte, error) {
	if it.idx >= it.e.blockCount {
		return nil, io.EOF
	}
	hdr, err := it.e.readRangeRaw(it.offset, 16)
	if err != nil {
		return nil, err
	}
	cprSize := int64(binary.LittleEndian.Uint32(hdr[0:4]))
	it.offset += 16

	raw, err := it.e.readRangeRaw(it.offset, cprSize)
	if err != nil {
		return nil, err
	}
	it.offset += cprSize

	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("sfs: inflating block %d of %q: %w", it.idx, it.e.Path, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("sfs: inflating block %d of %q: %w", it.idx, it.e.Path, err)
	}
	it.idx++
	return out, nil
}

// ReadAll materializes an entry's full uncompressed payload in memory;
// used by the header parser, whose XML document is small enough to
// load whole.
func (e *Entry) ReadAll() ([]byte, error) {
	it, _, _, err := e.Blocks()
	if err != nil {
		return nil, err
	}
	var out []byte
	for {
		block, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	return out, nil
}
