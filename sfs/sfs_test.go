package sfs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/brukerio/sfsgo/internal/sfstest"
)

func writeContainer(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "container.sfs")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestOpenSignatureMismatch(t *testing.T) {
	path := writeContainer(t, []byte("NOPE....garbagebytes"))
	_, err := Open(path)
	if !errors.Is(err, ErrNotASFSContainer) {
		t.Fatalf("expected ErrNotASFSContainer, got %v", err)
	}
}

func TestOpenMinimalUncompressedFile(t *testing.T) {
	data := sfstest.Build(0x1000, []sfstest.File{
		{Path: "hi.txt", Data: []byte("hello bcf")},
	})
	c, err := Open(writeContainer(t, data))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	e, err := c.File("hi.txt")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if e.Size != 9 {
		t.Fatalf("Size = %d, want 9", e.Size)
	}

	got, err := e.ReadRange(0, 9)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != "hello bcf" {
		t.Fatalf("ReadRange = %q, want %q", got, "hello bcf")
	}

	it, blockSize, blockCount, err := e.Blocks()
	if err != nil {
		t.Fatalf("Blocks: %v", err)
	}
	if blockCount != 1 {
		t.Fatalf("blockCount = %d, want 1", blockCount)
	}
	if blockSize != int(c.usable) {
		t.Fatalf("blockSize = %d, want %d", blockSize, c.usable)
	}
	block, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(block) != "hello bcf" {
		t.Fatalf("block = %q, want %q", block, "hello bcf")
	}
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("second Next err = %v, want io.EOF", err)
	}
}

func TestMultiChunkPointerTable(t *testing.T) {
	const chunkSize = 0x220 // usable=512 (one 0x200 entry table fits), perChunk=128 pointers per table chunk
	usable := int64(chunkSize) - 32

	size := 130*usable + 17 // 131 data chunks -> pointer table spans 2 chunks
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	built := sfstest.Build(chunkSize, []sfstest.File{{Path: "big.bin", Data: data}})
	c, err := Open(writeContainer(t, built))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	e, err := c.File("big.bin")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if got, want := len(e.pointerTable), 131; got != want {
		t.Fatalf("len(pointerTable) = %d, want %d", got, want)
	}

	off, length := usable*2+3, usable+10
	got, err := e.ReadRange(off, length)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	want := data[off : off+length]
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadRange mismatch at offset %d length %d", off, length)
	}
}

func TestReadRangeEqualsBlocksConcatenation(t *testing.T) {
	const chunkSize = 0x1000
	usable := int64(chunkSize) - 32
	data := make([]byte, 3*usable+42)
	for i := range data {
		data[i] = byte(i)
	}

	built := sfstest.Build(chunkSize, []sfstest.File{{Path: "f.bin", Data: data}})
	c, err := Open(writeContainer(t, built))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	e, err := c.File("f.bin")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	full, err := e.ReadRange(0, int64(e.Size))
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if !bytes.Equal(full, data) {
		t.Fatalf("ReadRange(0, size) mismatch")
	}

	all, err := e.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(all, data) {
		t.Fatalf("ReadAll mismatch")
	}
}

func TestOpenZeroSizeFirstFileDoesNotPanic(t *testing.T) {
	data := sfstest.Build(0x1000, []sfstest.File{
		{Path: "empty.bin"},
		{Path: "hi.txt", Data: []byte("hello bcf")},
	})
	c, err := Open(writeContainer(t, data))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	empty, err := c.File("empty.bin")
	if err != nil {
		t.Fatalf("File(empty.bin): %v", err)
	}
	if empty.Size != 0 {
		t.Fatalf("empty.bin Size = %d, want 0", empty.Size)
	}
	if got, err := empty.ReadAll(); err != nil || len(got) != 0 {
		t.Fatalf("ReadAll(empty.bin) = %v, %v, want empty, nil", got, err)
	}
	if got, err := empty.ReadRange(0, 0); err != nil || len(got) != 0 {
		t.Fatalf("ReadRange(0,0) = %v, %v, want empty, nil", got, err)
	}

	hi, err := c.File("hi.txt")
	if err != nil {
		t.Fatalf("File(hi.txt): %v", err)
	}
	got, err := hi.ReadAll()
	if err != nil || string(got) != "hello bcf" {
		t.Fatalf("ReadAll(hi.txt) = %q, %v, want %q, nil", got, err, "hello bcf")
	}
}

func TestEntryLookupErrors(t *testing.T) {
	built := sfstest.Build(0x1000, []sfstest.File{
		{Path: "dir", Dir: true},
		{Path: "dir/file.bin", Data: []byte("x")},
	})
	c, err := Open(writeContainer(t, built))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, err := c.Entry("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Entry(nope) err = %v, want ErrNotFound", err)
	}
	if _, err := c.File("dir"); !errors.Is(err, ErrNotAFile) {
		t.Fatalf("File(dir) err = %v, want ErrNotAFile", err)
	}
	children, err := c.Children("dir")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 || children[0].Name != "file.bin" {
		t.Fatalf("Children = %+v", children)
	}
}
