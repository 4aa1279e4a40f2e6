// Package hypermap decodes a Bruker "EDSDatabase/SpectrumDataN" stream
// — a bespoke variable-length, mixed-mode bit-packed encoding of
// per-pixel sparse X-ray energy histograms — into a dense 3-D array
// (§4.4).
package hypermap

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/brukerio/sfsgo/sfs"
)

const (
	spectrumDataPath  = "EDSDatabase/SpectrumData%d"
	pixelRecordOffset = 0x1A0 // first line header starts here (§4.4)
)

// Options configures a Decode/DecodeLazy/PeekShape call. Zero value is
// valid: channel capacity defaults to 4096 (the largest capacity any
// known Bruker detector reports) and no cutoff is applied.
type Options struct {
	channelCapacity int
	cutoffKeV       *float64
	calibAbs        float64
	calibLin        float64
	amplification   float64
	hv              float64
	peak            uint64
	ctx             context.Context
}

// Option mutates Options; see With* constructors below.
type Option func(*Options)

// WithChannelCapacity overrides the per-pixel channel capacity derived
// from the summed-spectrum header record (falls back to 4096 if never
// set).
func WithChannelCapacity(n int) Option {
	return func(o *Options) { o.channelCapacity = n }
}

// WithCutoffKeV truncates the output channel axis at the channel
// nearest to keV, rounded by energyToChannel (§3 channel_cutoff),
// given the calibration supplied via WithCalibration.
func WithCutoffKeV(keV float64) Option {
	return func(o *Options) { o.cutoffKeV = &keV }
}

// WithCalibration supplies the spectrum record's calib_abs (keV, zero
// channel energy) and calib_lin (keV/channel) used to turn
// WithCutoffKeV's keV value into a channel index.
func WithCalibration(abs, lin float64) Option {
	return func(o *Options) { o.calibAbs, o.calibLin = abs, lin }
}

// WithPeak supplies the summed-spectrum record's peak channel value,
// used by the §4.4 dtype-selection ladder.
func WithPeak(m uint64) Option {
	return func(o *Options) { o.peak = m }
}

// WithAmplification supplies the summed-spectrum record's amplifier
// voltage (V), used together with WithHV to derive the
// header-estimated term of channel_cutoff (§3): the original's
// estimate_map_channels compares it against the beam energy to decide
// whether the acquired spectrum could possibly use channels beyond the
// beam-energy channel.
func WithAmplification(v float64) Option {
	return func(o *Options) { o.amplification = v }
}

// WithHV supplies the spectrum record's beam energy in keV, the other
// half of the header-estimated channel_cutoff term (§3).
func WithHV(hv float64) Option {
	return func(o *Options) { o.hv = hv }
}

// WithContext supplies a cancellation context checked between raster
// lines (§5: cooperative cancellation, no partial output observable).
func WithContext(ctx context.Context) Option {
	return func(o *Options) { o.ctx = ctx }
}

func resolveOptions(opts []Option) Options {
	o := Options{channelCapacity: 4096, ctx: context.Background()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	return o
}

func ceilDivInt(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// energyToChannel converts a calibrated energy (keV) to the nearest
// channel index, rounding rather than truncating — matching the
// original's energy_to_channel (int(round((energy-calib_abs)/calib_lin))).
func energyToChannel(keV, calibAbs, calibLin float64) int {
	return int(math.Round((keV - calibAbs) / calibLin))
}

// estimateMapChannels ports the original's estimate_map_channels: the
// header-estimated term of channel_cutoff (§3). When the beam energy
// falls below the amplifier's measurement range (amplification/1000,
// converting its millivolt-scaled V reading to keV) no channel above
// the beam-energy channel can hold real counts, so the estimate
// truncates there; otherwise the full per-pixel capacity is assumed
// usable.
func estimateMapChannels(capacity int, amplification, hv, calibAbs, calibLin float64) int {
	if calibLin == 0 {
		return capacity
	}
	brukerHVRange := amplification / 1000
	if hv >= brukerHVRange {
		return capacity
	}
	return energyToChannel(hv, calibAbs, calibLin)
}

// resolveShape computes the output shape and dtype from the raster
// dimensions, downsample factor, and channel cutoff — the information
// a lazy caller needs without touching a single pixel record. The
// channel axis is min(capacity, header-estimated cutoff, user cutoff)
// per §3's channel_cutoff definition.
func resolveShape(height, width, downsample int, o Options) ([3]int, DType) {
	capacity := o.channelCapacity
	cutoff := capacity
	if est := estimateMapChannels(capacity, o.amplification, o.hv, o.calibAbs, o.calibLin); est < cutoff {
		cutoff = est
	}
	if o.cutoffKeV != nil && o.calibLin != 0 {
		if c := energyToChannel(*o.cutoffKeV, o.calibAbs, o.calibLin); c < cutoff {
			cutoff = c
		}
	}
	if cutoff < 0 {
		cutoff = 0
	}
	if cutoff > capacity {
		cutoff = capacity
	}
	shape := [3]int{ceilDivInt(height, downsample), ceilDivInt(width, downsample), cutoff}
	dtype := ChooseDType(o.peak, height, width, downsample)
	return shape, dtype
}

func openSpectrumEntry(c *sfs.Container, index int) (*sfs.Entry, error) {
	entry, err := c.File(fmt.Sprintf(spectrumDataPath, index))
	if err != nil {
		return nil, fmt.Errorf("%w: index %d: %v", ErrIndexOutOfRange, index, err)
	}
	return entry, nil
}

func readDimensions(entry *sfs.Entry) (height, width int, r *streamReader, err error) {
	it, _, _, err := entry.Blocks()
	if err != nil {
		return 0, 0, nil, err
	}
	r = newStreamReader(it)
	hw, err := r.read(8)
	if err != nil {
		return 0, 0, nil, err
	}
	height = int(int32(binary.LittleEndian.Uint32(hw[0:4])))
	width = int(int32(binary.LittleEndian.Uint32(hw[4:8])))
	return height, width, r, nil
}

// PeekShape returns the output shape and dtype a full Decode with the
// same downsample/options would produce, reading only the map's first
// 8 bytes (§4.4 "Lazy mode": "return (shape, dtype) after reading only
// the first 8 bytes and the summed-spectrum metadata").
func PeekShape(c *sfs.Container, index int, downsample int, opts ...Option) ([3]int, DType, error) {
	if downsample < 1 {
		downsample = 1
	}
	o := resolveOptions(opts)
	entry, err := openSpectrumEntry(c, index)
	if err != nil {
		return [3]int{}, 0, err
	}
	height, width, _, err := readDimensions(entry)
	if err != nil {
		return [3]int{}, 0, err
	}
	shape, dtype := resolveShape(height, width, downsample, o)
	return shape, dtype, nil
}

// Decode performs a full, strictly sequential streaming decode of
// hypermap index into a dense (H', W', C) array (§4.4). Two decodes of
// the same input, options, and downsample factor are byte-identical.
func Decode(c *sfs.Container, index int, downsample int, opts ...Option) (*Array, error) {
	if downsample < 1 {
		downsample = 1
	}
	o := resolveOptions(opts)

	entry, err := openSpectrumEntry(c, index)
	if err != nil {
		return nil, err
	}
	height, width, r, err := readDimensions(entry)
	if err != nil {
		return nil, err
	}
	shape, dtype := resolveShape(height, width, downsample, o)
	arr := newArray(shape, dtype)

	if err := r.skip(pixelRecordOffset - 8); err != nil {
		return nil, err
	}

	outH, outW, cutoff := shape[0], shape[1], shape[2]
	for y := 0; y < height; y++ {
		select {
		case <-o.ctx.Done():
			return nil, o.ctx.Err()
		default:
		}

		lineCountB, err := r.read(4)
		if err != nil {
			return nil, badData(r.abs, "line %d header: %w", y, err)
		}
		lineCount := int(int32(binary.LittleEndian.Uint32(lineCountB)))

		for i := 0; i < lineCount; i++ {
			hdr, err := readPixelHeader(r)
			if err != nil {
				return nil, badData(r.abs, "line %d pixel %d header: %w", y, i, err)
			}
			if hdr.ChanUsed > hdr.ChanCapacity {
				return nil, badData(r.abs, "%w: line %d pixel %d: chan_used %d > chan_capacity %d",
					ErrBadHypermap, y, int(hdr.X), hdr.ChanUsed, hdr.ChanCapacity)
			}
			hist, err := decodePixel(r, hdr)
			if err != nil {
				return nil, badData(r.abs, "line %d pixel %d body: %w", y, i, err)
			}

			oy, ox := y/downsample, int(hdr.X)/downsample
			if oy >= outH || ox >= outW {
				continue
			}
			n := int(hdr.ChanUsed)
			if n > cutoff {
				n = cutoff
			}
			arr.accumulate(oy, ox, hist[:n])
		}
	}

	if dtype.Signed() && arr.allNonNegative() {
		arr.reinterpretUnsigned()
	}
	return arr, nil
}

// LazyArray is a deferred hypermap decode: Shape and DType are known
// up front (from PeekShape), and Resolve runs the actual streaming
// decode on demand (§4.4: "A lazy full-decode returns a deferred
// computation with those same shape and dtype declared in advance").
type LazyArray struct {
	Shape [3]int
	DType DType

	resolve func() (*Array, error)
}

// Resolve runs the deferred decode. Calling it more than once decodes
// more than once; LazyArray does not cache.
func (l *LazyArray) Resolve() (*Array, error) {
	return l.resolve()
}

// DecodeLazy returns a LazyArray whose Shape/DType are populated
// immediately and whose Resolve performs the full decode.
func DecodeLazy(c *sfs.Container, index int, downsample int, opts ...Option) (*LazyArray, error) {
	shape, dtype, err := PeekShape(c, index, downsample, opts...)
	if err != nil {
		return nil, err
	}
	return &LazyArray{
		Shape: shape,
		DType: dtype,
		resolve: func() (*Array, error) {
			return Decode(c, index, downsample, opts...)
		},
	}, nil
}
