// Package sfs reads AidAim Software's proprietary "single file system"
// (SFS) container: a block-addressed virtual file tree, with chained
// pointer tables and an optional per-entry zlib compression layer,
// packaged inside one physical file.
package sfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brukerio/sfsgo/internal/winfile"
)

const (
	signature = "AAMVHFSS"

	offsetVersionChunkSize = 0x124
	offsetTreeHeader       = 0x140
	payloadOffsetInChunk   = 0x138
	nextChunkFieldOffset   = 0x118

	entryTableEntrySize = 0x200
	compressionMarker   = "AACS"
)

// rawEntry mirrors the on-disk 0x200-byte entry table record exactly
// (§4.1). Reserved regions are kept as fixed arrays purely to hold the
// layout together for binary.Read; their contents are never inspected.
type rawEntry struct {
	FirstPointerTableChunk int32
	Size                   uint64
	CreateTime             uint64
	ModifyTime             uint64
	SecondaryTime          uint64
	Permissions            uint32
	ParentIndex            int32
	_                      [176]byte
	IsDirectory            uint8
	_                      [3]byte
	Name                   [256]byte
	_                      [32]byte
}

// Container is a parsed, immutable handle onto one SFS file. It may be
// shared freely for reads once constructed; the underlying file is
// opened read-only.
type Container struct {
	path string

	mu   sync.Mutex
	file *os.File

	chunkSize       uint32
	usable          int64
	version         float32
	treeChunkIndex  uint32
	treeEntryCount  uint32
	totalChunkCount uint32

	compressed bool // container-global: does every file use the AACS block scheme?

	root    *Entry
	entries []*Entry // parsed order, index-addressable for parent resolution
	byPath  map[string]*Entry

	log Logger
}

// Entry is one node — file or directory — in the container's virtual
// file tree.
type Entry struct {
	c *Container

	Name        string
	Path        string // '/'-joined, no leading or trailing slash; root is ""
	Size        uint64
	IsDirectory bool
	ParentIndex int32

	CreateTime    time.Time
	ModifyTime    time.Time
	SecondaryTime time.Time
	Permissions   uint32

	firstPointerTableChunk int32
	pointerTable           []int64 // absolute byte offsets, one per data chunk

	compressed            bool
	uncompressedBlockSize uint32
	blockCount            uint32
}

// Open parses the container header, walks the pointer tables, and
// reconstructs the entry tree. The returned Container is immutable and
// may be shared read-only across goroutines.
func Open(path string) (*Container, error) {
	return OpenWithLogger(path, nopLogger{})
}

// OpenWithLogger is like Open but routes warnings (e.g. an
// unrecognised container version) through the supplied Logger.
func OpenWithLogger(path string, logger Logger) (*Container, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sfs: open %q: %w", path, err)
	}

	c := &Container{path: path, file: f, log: logger}
	if err := c.parseHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if err := c.buildTree(); err != nil {
		f.Close()
		return nil, err
	}
	if err := c.detectCompression(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the backing file descriptor.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

// ChunkSize returns the physical chunk size declared by the container header.
func (c *Container) ChunkSize() uint32 { return c.chunkSize }

// Version returns the container format version float, as stored at offset 0x124.
func (c *Container) Version() float32 { return c.version }

// Compressed reports whether every file in the container is packed
// using the per-block zlib scheme (§4.2).
func (c *Container) Compressed() bool { return c.compressed }

func (c *Container) readAt(off int64, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	c.mu.Lock()
	n, err := c.file.ReadAt(buf, off)
	c.mu.Unlock()
	if err != nil && !(err == io.EOF && int64(n) == length) {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if int64(n) != length {
		return nil, fmt.Errorf("%w: wanted %d bytes at %d, got %d", ErrTruncated, length, off, n)
	}
	return buf, nil
}

func (c *Container) parseHeader() error {
	sig, err := c.readAt(0, int64(len(signature)))
	if err != nil {
		return err
	}
	if string(sig) != signature {
		return ErrNotASFSContainer
	}

	vcs, err := c.readAt(offsetVersionChunkSize, 8)
	if err != nil {
		return err
	}
	c.version = math.Float32frombits(binary.LittleEndian.Uint32(vcs[0:4]))
	c.chunkSize = binary.LittleEndian.Uint32(vcs[4:8])
	if c.chunkSize <= 32 {
		return fmt.Errorf("sfs: implausible chunk size %d", c.chunkSize)
	}
	c.usable = int64(c.chunkSize) - 32

	th, err := c.readAt(offsetTreeHeader, 12)
	if err != nil {
		return err
	}
	c.treeChunkIndex = binary.LittleEndian.Uint32(th[0:4])
	c.treeEntryCount = binary.LittleEndian.Uint32(th[4:8])
	c.totalChunkCount = binary.LittleEndian.Uint32(th[8:12])

	// 2.40 and 2.60 are the only versions known to exist; a version
	// outside 2.0–3.0 is allowed to proceed, just flagged.
	if c.version != 0 && (c.version < 2.0 || c.version > 3.0) {
		c.log.Warnf("unrecognised container version %.2f", c.version)
	}
	return nil
}

func (c *Container) buildTree() error {
	tableOffset := int64(c.treeChunkIndex)*int64(c.chunkSize) + payloadOffsetInChunk
	tableLen := int64(entryTableEntrySize) * int64(c.treeEntryCount)
	raw, err := c.readAt(tableOffset, tableLen)
	if err != nil {
		return err
	}

	c.entries = make([]*Entry, c.treeEntryCount)
	for i := uint32(0); i < c.treeEntryCount; i++ {
		var re rawEntry
		r := bytes.NewReader(raw[int(i)*entryTableEntrySize : int(i+1)*entryTableEntrySize])
		if err := binary.Read(r, binary.LittleEndian, &re); err != nil {
			return fmt.Errorf("sfs: decoding entry %d: %w", i, err)
		}

		e := &Entry{
			c:                      c,
			Name:                   strings.TrimRight(string(re.Name[:]), "\x00"),
			Size:                   re.Size,
			IsDirectory:            re.IsDirectory != 0,
			ParentIndex:            re.ParentIndex,
			CreateTime:             winfile.ToTime(re.CreateTime),
			ModifyTime:             winfile.ToTime(re.ModifyTime),
			SecondaryTime:          winfile.ToTime(re.SecondaryTime),
			Permissions:            re.Permissions,
			firstPointerTableChunk: re.FirstPointerTableChunk,
		}
		if !e.IsDirectory {
			if err := c.fillPointerTable(e); err != nil {
				return fmt.Errorf("sfs: entry %q: %w", e.Name, err)
			}
		}
		c.entries[i] = e
	}

	c.root = &Entry{c: c, Name: "", Path: "", IsDirectory: true, ParentIndex: -1}
	c.byPath = map[string]*Entry{"": c.root}

	// Resolve paths parents-first: an entry can only be placed once
	// every ancestor above it is known, so loop until nothing more
	// can be placed.
	placedAny := true
	remaining := len(c.entries)
	placed := make([]bool, len(c.entries))
	for remaining > 0 && placedAny {
		placedAny = false
		for i, e := range c.entries {
			if placed[i] {
				continue
			}
			parent, ok := c.resolveParentDir(e.ParentIndex)
			if !ok {
				continue
			}
			path := e.Name
			if parent.Path != "" {
				path = parent.Path + "/" + e.Name
			}
			if _, dup := c.byPath[path]; dup {
				c.log.Warnf("duplicate entry %q, last one wins", path)
			}
			e.Path = path
			c.byPath[path] = e
			placed[i] = true
			remaining--
			placedAny = true
		}
	}
	if remaining > 0 {
		return fmt.Errorf("sfs: %d entries have unresolvable parent chains", remaining)
	}
	return nil
}

func (c *Container) resolveParentDir(parentIndex int32) (*Entry, bool) {
	if parentIndex == -1 {
		return c.root, true
	}
	if parentIndex < 0 || int(parentIndex) >= len(c.entries) {
		return nil, false
	}
	p := c.entries[parentIndex]
	if p.Path == "" && p != c.root {
		return nil, false
	}
	return p, true
}

// fillPointerTable reconstructs the absolute byte offsets of every
// data chunk belonging to e, threading through continuation chunks
// when the table itself spans more than one physical chunk (§4.1).
func (c *Container) fillPointerTable(e *Entry) error {
	sizeInChunks := ceilDiv(int64(e.Size), c.usable)
	perChunk := c.usable / 4
	pointerTableChunks := ceilDiv(sizeInChunks, perChunk)
	if pointerTableChunks == 0 {
		pointerTableChunks = 1
	}

	var raw []byte
	if pointerTableChunks <= 1 {
		body, err := c.readAt(int64(e.firstPointerTableChunk)*int64(c.chunkSize)+payloadOffsetInChunk, c.usable)
		if err != nil {
			return err
		}
		raw = body
	} else {
		chunk := e.firstPointerTableChunk
		buf := make([]byte, 0, pointerTableChunks*c.usable)
		for i := int64(0); i < pointerTableChunks; i++ {
			body, err := c.readAt(int64(chunk)*int64(c.chunkSize)+payloadOffsetInChunk, c.usable)
			if err != nil {
				return err
			}
			buf = append(buf, body...)
			if i < pointerTableChunks-1 {
				hdr, err := c.readAt(int64(chunk)*int64(c.chunkSize)+nextChunkFieldOffset, 4)
				if err != nil {
					return err
				}
				chunk = int32(binary.LittleEndian.Uint32(hdr))
			}
		}
		raw = buf
	}

	needed := sizeInChunks * 4
	if int64(len(raw)) < needed {
		return fmt.Errorf("%w: pointer table short by %d bytes", ErrTruncated, needed-int64(len(raw)))
	}
	table := make([]int64, sizeInChunks)
	for i := int64(0); i < sizeInChunks; i++ {
		k := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		table[i] = int64(k)*int64(c.chunkSize) + payloadOffsetInChunk
	}
	e.pointerTable = table
	return nil
}

// detectCompression inspects the first file entry encountered (by
// table order) for the "AACS" marker. The decision is container-wide
// (§4.1): SFS does not mix compressed and uncompressed files.
func (c *Container) detectCompression() error {
	var first *Entry
	for _, e := range c.entries {
		// A zero-size file has an empty pointer table — nothing to
		// probe — so it cannot be this decision's evidence; move on to
		// the next file entry instead of indexing an empty slice.
		if !e.IsDirectory && len(e.pointerTable) > 0 {
			first = e
			break
		}
	}
	if first == nil {
		return nil // no non-empty files at all; nothing to decide
	}
	marker, err := c.readAt(first.pointerTable[0], 4)
	if err != nil {
		return err
	}
	c.compressed = string(marker) == compressionMarker
	if !c.compressed {
		return nil
	}
	for _, e := range c.entries {
		// A zero-size file carries no compression header to parse and
		// has no blocks to yield either way; leave it uncompressed.
		if e.IsDirectory || e.Size == 0 {
			continue
		}
		if err := c.parseCompressionHeader(e); err != nil {
			return fmt.Errorf("sfs: entry %q: %w", e.Name, err)
		}
	}
	return nil
}

func (c *Container) parseCompressionHeader(e *Entry) error {
	hdr, err := e.readRangeRaw(0, 16)
	if err != nil {
		return err
	}
	if string(hdr[0:4]) != compressionMarker {
		return ErrUnknownCompression
	}
	e.compressed = true
	e.uncompressedBlockSize = binary.LittleEndian.Uint32(hdr[4:8])
	e.blockCount = binary.LittleEndian.Uint32(hdr[12:16])
	return nil
}

// Entry looks up a file or directory by its '/'-separated path.
func (c *Container) Entry(path string) (*Entry, error) {
	key := normalizePath(path)
	e, ok := c.byPath[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	return e, nil
}

// File is like Entry but additionally rejects directories.
func (c *Container) File(path string) (*Entry, error) {
	e, err := c.Entry(path)
	if err != nil {
		return nil, err
	}
	if e.IsDirectory {
		return nil, fmt.Errorf("%w: %q", ErrNotAFile, path)
	}
	return e, nil
}

// Children lists the direct children of a directory path, ordered by
// name for deterministic iteration.
func (c *Container) Children(dirPath string) ([]*Entry, error) {
	dir, err := c.Entry(dirPath)
	if err != nil {
		return nil, err
	}
	if !dir.IsDirectory {
		return nil, fmt.Errorf("%w: %q", ErrNotAFile, dirPath)
	}
	var out []*Entry
	for _, e := range c.entries {
		parent, ok := c.resolveParentDir(e.ParentIndex)
		if ok && parent == dir {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func normalizePath(p string) string {
	return strings.Trim(p, "/")
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
