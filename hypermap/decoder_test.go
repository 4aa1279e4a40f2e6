package hypermap

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/brukerio/sfsgo/internal/sfstest"
	"github.com/brukerio/sfsgo/sfs"
)

// buildMapStream assembles a raw SpectrumData payload: (height, width)
// header, reserved padding out to pixelRecordOffset, then rows each
// carrying the given per-row pixel records. Every pixel uses flag==0
// (plain bincount) with the supplied list of pulse channel indices.
func buildMapStream(height, width int, rows [][]pixelSpec) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(height)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(width)))
	buf = append(buf, make([]byte, pixelRecordOffset-8)...)

	for _, row := range rows {
		lineHdr := make([]byte, 4)
		binary.LittleEndian.PutUint32(lineHdr, uint32(len(row)))
		buf = append(buf, lineHdr...)

		for _, px := range row {
			body := make([]byte, len(px.pulses)*2)
			for i, ch := range px.pulses {
				binary.LittleEndian.PutUint16(body[i*2:i*2+2], uint16(ch))
			}
			hdr := make([]byte, 22)
			binary.LittleEndian.PutUint32(hdr[0:4], uint32(px.x))
			binary.LittleEndian.PutUint16(hdr[4:6], uint16(px.chanCapacity))
			binary.LittleEndian.PutUint16(hdr[6:8], uint16(px.chanUsed))
			// hdr[8:12] reserved
			binary.LittleEndian.PutUint16(hdr[12:14], 0) // flag 0
			// hdr[14:16] reserved_size
			binary.LittleEndian.PutUint16(hdr[16:18], 0) // extra_pulse_count
			binary.LittleEndian.PutUint32(hdr[18:22], uint32(len(body)))
			buf = append(buf, hdr...)
			buf = append(buf, body...)
		}
	}
	return buf
}

type pixelSpec struct {
	x            int
	chanCapacity int
	chanUsed     int
	pulses       []int
}

func openWithMap(t *testing.T, mapData []byte) *sfs.Container {
	t.Helper()
	built := sfstest.Build(0x1000, []sfstest.File{
		{Path: "EDSDatabase", Dir: true},
		{Path: "EDSDatabase/SpectrumData0", Data: mapData},
	})
	path := filepath.Join(t.TempDir(), "map.sfs")
	if err := os.WriteFile(path, built, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	c, err := sfs.Open(path)
	if err != nil {
		t.Fatalf("sfs.Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDecodeDownsampleAggregation(t *testing.T) {
	// §8 scenario 6: a 4x4 raster where every pixel has exactly one
	// pulse at channel 0 -> decode(d=2) yields shape (2,2,>=1) with
	// out[y,x,0] == 4 for every output cell.
	px := func(x int) pixelSpec {
		return pixelSpec{x: x, chanCapacity: 4096, chanUsed: 4096, pulses: []int{0}}
	}
	var rows [][]pixelSpec
	for y := 0; y < 4; y++ {
		rows = append(rows, []pixelSpec{px(0), px(1), px(2), px(3)})
	}
	mapData := buildMapStream(4, 4, rows)
	c := openWithMap(t, mapData)

	arr, err := Decode(c, 0, 2, WithChannelCapacity(4096), WithPeak(16))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if arr.Shape != [3]int{2, 2, 4096} {
		t.Fatalf("Shape = %v, want (2,2,4096)", arr.Shape)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := arr.At(y, x, 0); got != 4 {
				t.Errorf("out[%d,%d,0] = %d, want 4", y, x, got)
			}
		}
	}
}

func TestDecodeChannelCutoff(t *testing.T) {
	// §8 scenario 7: cutoff_keV giving C=100 on a map whose capacity is
	// 4096 yields last-axis size 100 and drops pulses at channels >=100.
	rows := [][]pixelSpec{
		{{x: 0, chanCapacity: 4096, chanUsed: 4096, pulses: []int{50, 150}}},
	}
	mapData := buildMapStream(1, 1, rows)
	c := openWithMap(t, mapData)

	cutoffKeV := 100.0
	arr, err := Decode(c, 0, 1,
		WithChannelCapacity(4096),
		WithCalibration(0, 1), // calib_abs=0 keV, calib_lin=1 keV/channel
		WithCutoffKeV(cutoffKeV),
		WithPeak(2),
	)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got, want := arr.Shape[2], 100; got != want {
		t.Fatalf("channel axis size = %d, want %d", got, want)
	}
	if got := arr.At(0, 0, 50); got != 1 {
		t.Fatalf("out[0,0,50] = %d, want 1 (channel within cutoff)", got)
	}

	var sum int64
	for c := 0; c < arr.Shape[2]; c++ {
		sum += arr.At(0, 0, c)
	}
	if sum != 1 {
		t.Fatalf("sum over kept channels = %d, want 1 (channel 150 must be dropped)", sum)
	}
}

func TestDecodeHeaderEstimatedCutoff(t *testing.T) {
	// hv (5 keV) below amplification/1000 (10000 V -> 10 keV range) truncates
	// the channel axis to energy_to_channel(hv) even with no explicit
	// WithCutoffKeV and a much larger declared capacity.
	rows := [][]pixelSpec{
		{{x: 0, chanCapacity: 4096, chanUsed: 4096, pulses: []int{50, 600}}},
	}
	mapData := buildMapStream(1, 1, rows)
	c := openWithMap(t, mapData)

	arr, err := Decode(c, 0, 1,
		WithChannelCapacity(4096),
		WithCalibration(0, 0.01), // 10 eV/channel
		WithAmplification(10000), // 10000 V -> 10 keV range
		WithHV(5),                // beam energy well under that range
		WithPeak(2),
	)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	wantChannels := energyToChannel(5, 0, 0.01) // 500
	if got := arr.Shape[2]; got != wantChannels {
		t.Fatalf("channel axis size = %d, want %d (header-estimated cutoff)", got, wantChannels)
	}
	if got := arr.At(0, 0, 50); got != 1 {
		t.Fatalf("out[0,0,50] = %d, want 1 (channel within header-estimated cutoff)", got)
	}

	var sum int64
	for ch := 0; ch < arr.Shape[2]; ch++ {
		sum += arr.At(0, 0, ch)
	}
	if sum != 1 {
		t.Fatalf("sum over kept channels = %d, want 1 (channel 600 must be dropped)", sum)
	}
}

func TestDecodeHeaderEstimatedCutoffNotAppliedWhenHVCoversRange(t *testing.T) {
	// hv at or above amplification/1000 means the full capacity is
	// assumed usable; the header-estimated term must not truncate.
	rows := [][]pixelSpec{
		{{x: 0, chanCapacity: 100, chanUsed: 100, pulses: []int{50}}},
	}
	mapData := buildMapStream(1, 1, rows)
	c := openWithMap(t, mapData)

	arr, err := Decode(c, 0, 1,
		WithChannelCapacity(100),
		WithCalibration(0, 1),
		WithAmplification(10000), // 10 keV range
		WithHV(20),               // beam energy above the range
		WithPeak(1),
	)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got, want := arr.Shape[2], 100; got != want {
		t.Fatalf("channel axis size = %d, want %d (capacity unchanged)", got, want)
	}
}

func TestPeekShapeAndDecodeLazy(t *testing.T) {
	rows := [][]pixelSpec{
		{{x: 0, chanCapacity: 16, chanUsed: 16, pulses: []int{1}}},
	}
	mapData := buildMapStream(1, 1, rows)
	c := openWithMap(t, mapData)

	shape, dtype, err := PeekShape(c, 0, 1, WithChannelCapacity(16), WithPeak(1))
	if err != nil {
		t.Fatalf("PeekShape: %v", err)
	}
	if shape != [3]int{1, 1, 16} {
		t.Fatalf("shape = %v", shape)
	}

	lazy, err := DecodeLazy(c, 0, 1, WithChannelCapacity(16), WithPeak(1))
	if err != nil {
		t.Fatalf("DecodeLazy: %v", err)
	}
	if lazy.Shape != shape || lazy.DType != dtype {
		t.Fatalf("lazy shape/dtype mismatch: %v/%v vs %v/%v", lazy.Shape, lazy.DType, shape, dtype)
	}
	arr, err := lazy.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := arr.At(0, 0, 1); got != 1 {
		t.Fatalf("out[0,0,1] = %d, want 1", got)
	}
}

func TestDecodeIndexOutOfRange(t *testing.T) {
	c := openWithMap(t, buildMapStream(1, 1, [][]pixelSpec{{{x: 0, chanCapacity: 4, chanUsed: 4}}}))
	if _, err := Decode(c, 7, 1); err == nil {
		t.Fatalf("expected error for unknown index")
	}
}
