package hypermap

import (
	"io"
	"testing"
)

// sliceIterator hands out pre-chunked byte slices, one per Next call,
// the shape streamReader is built to consume (§4.4 buffer-refill
// discipline).
type sliceIterator struct {
	blocks [][]byte
	idx    int
}

func (it *sliceIterator) Next() ([]byte, error) {
	if it.idx >= len(it.blocks) {
		return nil, io.EOF
	}
	b := it.blocks[it.idx]
	it.idx++
	return b, nil
}

func newTestReader(body []byte) *streamReader {
	return newStreamReader(&sliceIterator{blocks: [][]byte{body}})
}

func TestDecodePlainBincount(t *testing.T) {
	// §8 scenario 4: body [0x05,0x00, 0x05,0x00, 0x02,0x00], capacity 8
	// -> histogram [0,0,1,0,0,2,0,0].
	body := []byte{0x05, 0x00, 0x05, 0x00, 0x02, 0x00}
	r := newTestReader(body)
	hdr := pixelHeader{ChanCapacity: 8, BodySize: uint32(len(body))}

	hist, err := decodePlain(r, hdr)
	if err != nil {
		t.Fatalf("decodePlain: %v", err)
	}
	want := []uint32{0, 0, 1, 0, 0, 2, 0, 0}
	if !equalHist(hist, want) {
		t.Fatalf("histogram = %v, want %v", hist, want)
	}

	var sum uint32
	for _, v := range hist {
		sum += v
	}
	if got, want := sum, uint32(len(body)/2); got != want {
		t.Fatalf("sum(histogram) = %d, want body_size/2 = %d", got, want)
	}
}

func TestDecodeRunLengthGainAndZeroRun(t *testing.T) {
	// §8 scenario 5: nibble_width=4 run_length=3 gain=0x10, values
	// 1,2,3 -> [0x11,0x12,0x13]; then nibble_width=0 run_length=4
	// appends four zeros.
	body := []byte{
		4, 3, 0x10, 0x00, // run header + 2-byte gain
		0x01, 0x00, 0x02, 0x00, 0x03, 0x00, // three 2-byte LE values
		0, 4, // zero run: nibble_width=0, run_length=4
		0, 0, 0, 0, // trailing padding (ExtraPulseCount == 0)
	}
	r := newTestReader(body)
	hdr := pixelHeader{ChanCapacity: 8, ChanUsed: 7, BodySize: uint32(len(body)), ExtraPulseCount: 0}

	hist, err := decodeRunLength(r, hdr)
	if err != nil {
		t.Fatalf("decodeRunLength: %v", err)
	}
	want := []uint32{0x11, 0x12, 0x13, 0, 0, 0, 0, 0}
	if !equalHist(hist, want) {
		t.Fatalf("histogram = %v, want %v", hist, want)
	}
}

func TestDecodeRunLengthExtraPulses(t *testing.T) {
	// run (2 bytes) + additional_body_size (4 bytes, ignored) + 2 u16 indices.
	body := []byte{
		0, 3, // nibble_width=0, run_length=3 -> zeros at 0,1,2
		0, 0, 0, 0, // additional_body_size, unused
		1, 0, // extra pulse at channel 1
		2, 0, // extra pulse at channel 2
	}
	r := newTestReader(body)
	// BodySize only bounds the run-encoded region (body_end =
	// body_size-4); the trailing additional_body_size + pulse indices
	// are consumed unconditionally afterward regardless of BodySize
	// (§9 open question: exact trailer semantics are undocumented).
	hdr := pixelHeader{ChanCapacity: 8, ChanUsed: 3, BodySize: 6, ExtraPulseCount: 2}

	hist, err := decodeRunLength(r, hdr)
	if err != nil {
		t.Fatalf("decodeRunLength: %v", err)
	}
	want := []uint32{0, 1, 1, 0, 0, 0, 0, 0}
	if !equalHist(hist, want) {
		t.Fatalf("histogram = %v, want %v", hist, want)
	}
}

func TestDecodePacked12(t *testing.T) {
	// §8 universal invariant: for any flag==1 pixel, the number of
	// decoded 12-bit values equals extra_pulse_count, and each is in
	// [0, 4096). Two 6-byte groups -> 8 compacted bytes -> 4 big-endian
	// u16 outputs -> 4 decoded pulses.
	body := []byte{
		0x11, 0x22, 0x33, 0x44, 0x55, 0x66,
		0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC,
	}
	r := newTestReader(body)
	hdr := pixelHeader{ChanCapacity: 4096, BodySize: uint32(len(body)), ExtraPulseCount: 4}

	hist, err := decodePacked12(r, hdr)
	if err != nil {
		t.Fatalf("decodePacked12: %v", err)
	}
	if len(hist) != 4096 {
		t.Fatalf("len(hist) = %d, want 4096", len(hist))
	}
	var decoded uint32
	for i, v := range hist {
		if i >= 4096 {
			t.Fatalf("channel %d >= 4096", i)
		}
		decoded += v
	}
	if decoded != uint32(hdr.ExtraPulseCount) {
		t.Fatalf("decoded pulse count = %d, want extra_pulse_count = %d", decoded, hdr.ExtraPulseCount)
	}
}

func equalHist(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
