// Package sfstest builds minimal, valid SFS container images in
// memory for use by package tests elsewhere in this module. It is not
// part of the public API — SFS containers are never written in
// production (spec Non-goals, §1) — only synthesized as fixtures.
package sfstest

import (
	"encoding/binary"
	"math"
	"strings"
)

const (
	signature            = "AAMVHFSS"
	payloadOffsetInChunk = 0x138
	nextChunkFieldOffset = 0x118
	entryTableEntrySize  = 0x200
)

// File describes one entry to place in a built container.
type File struct {
	Path string
	Data []byte
	Dir  bool
}

type entry struct {
	name   string
	parent int32
	isDir  bool
	data   []byte
}

type placement struct {
	ptrChunks  []uint32
	dataChunks []uint32
}

// Build returns the raw bytes of a valid SFS container of the given
// chunk size containing files, plus any intermediate directories their
// paths imply. chunkSize must be large enough to hold the container
// header (at least 0x14c bytes).
func Build(chunkSize uint32, files []File) []byte {
	usable := int64(chunkSize) - 32

	var entries []entry
	dirIndex := map[string]int32{}

	var ensureDir func(string) int32
	ensureDir = func(path string) int32 {
		if path == "" {
			return -1
		}
		if idx, ok := dirIndex[path]; ok {
			return idx
		}
		parentPath, name := "", path
		if i := strings.LastIndex(path, "/"); i >= 0 {
			parentPath, name = path[:i], path[i+1:]
		}
		parent := ensureDir(parentPath)
		entries = append(entries, entry{name: name, parent: parent, isDir: true})
		idx := int32(len(entries) - 1)
		dirIndex[path] = idx
		return idx
	}

	for _, f := range files {
		dir, name := "", f.Path
		if i := strings.LastIndex(f.Path, "/"); i >= 0 {
			dir, name = f.Path[:i], f.Path[i+1:]
		}
		parent := ensureDir(dir)
		if f.Dir {
			entries = append(entries, entry{name: name, parent: parent, isDir: true})
			dirIndex[f.Path] = int32(len(entries) - 1)
			continue
		}
		entries = append(entries, entry{name: name, parent: parent, data: f.Data})
	}

	perChunk := usable / 4
	nextChunk := uint32(2) // chunk 0: container header, chunk 1: entry table
	placements := make([]placement, len(entries))
	for i, e := range entries {
		if e.isDir {
			continue
		}
		sizeInChunks := ceilDiv(int64(len(e.data)), usable)
		tableChunks := ceilDiv(sizeInChunks, perChunk)
		if tableChunks == 0 {
			tableChunks = 1
		}
		p := placement{ptrChunks: make([]uint32, tableChunks), dataChunks: make([]uint32, sizeInChunks)}
		for j := range p.ptrChunks {
			p.ptrChunks[j] = nextChunk
			nextChunk++
		}
		for j := range p.dataChunks {
			p.dataChunks[j] = nextChunk
			nextChunk++
		}
		placements[i] = p
	}
	totalChunks := nextChunk

	// Chunk k's payload starts at k*chunkSize+0x138 and runs for usable
	// bytes, so the last chunk ends 0x118 bytes past totalChunks*chunkSize.
	buf := make([]byte, int64(totalChunks)*int64(chunkSize)+payloadOffsetInChunk-32)

	copy(buf[0:8], signature)
	binary.LittleEndian.PutUint32(buf[0x124:0x128], math.Float32bits(2.6))
	binary.LittleEndian.PutUint32(buf[0x128:0x12c], chunkSize)
	binary.LittleEndian.PutUint32(buf[0x140:0x144], 1) // tree_chunk_index
	binary.LittleEndian.PutUint32(buf[0x144:0x148], uint32(len(entries)))
	binary.LittleEndian.PutUint32(buf[0x148:0x14c], totalChunks)

	tableOff := int64(1)*int64(chunkSize) + payloadOffsetInChunk
	for i, e := range entries {
		off := tableOff + int64(i)*entryTableEntrySize

		firstPtr := int32(-1)
		if !e.isDir {
			firstPtr = int32(placements[i].ptrChunks[0])
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(firstPtr))
		binary.LittleEndian.PutUint64(buf[off+4:off+12], uint64(len(e.data)))
		// create/modify/secondary time (off+12..off+36) left zero
		binary.LittleEndian.PutUint32(buf[off+36:off+40], 0) // permissions
		binary.LittleEndian.PutUint32(buf[off+40:off+44], uint32(e.parent))

		isDirOff := off + 44 + 176
		if e.isDir {
			buf[isDirOff] = 1
		}
		nameOff := isDirOff + 1 + 3
		copy(buf[nameOff:nameOff+256], []byte(e.name))
	}

	for i, e := range entries {
		if e.isDir {
			continue
		}
		p := placements[i]
		for j, ptrChunk := range p.ptrChunks {
			lo := j * int(perChunk)
			hi := lo + int(perChunk)
			if hi > len(p.dataChunks) {
				hi = len(p.dataChunks)
			}
			bodyOff := int64(ptrChunk)*int64(chunkSize) + payloadOffsetInChunk
			for k, dc := range p.dataChunks[lo:hi] {
				binary.LittleEndian.PutUint32(buf[bodyOff+int64(k)*4:bodyOff+int64(k)*4+4], dc)
			}
			if j < len(p.ptrChunks)-1 {
				nextOff := int64(ptrChunk)*int64(chunkSize) + nextChunkFieldOffset
				binary.LittleEndian.PutUint32(buf[nextOff:nextOff+4], p.ptrChunks[j+1])
			}
		}

		remaining := e.data
		for _, dc := range p.dataChunks {
			n := int64(len(remaining))
			if n > usable {
				n = usable
			}
			dataOff := int64(dc)*int64(chunkSize) + payloadOffsetInChunk
			copy(buf[dataOff:dataOff+n], remaining[:n])
			remaining = remaining[n:]
		}
	}

	return buf
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
