// Package sfsgo assembles an SFS container's images, hypermaps, and
// metadata into the result a caller actually wants (§4.5): it is the
// thin facade over sfs.Container, header.Read, and hypermap.Decode.
package sfsgo

import (
	"context"
	"fmt"

	"github.com/brukerio/sfsgo/header"
	"github.com/brukerio/sfsgo/hypermap"
	"github.com/brukerio/sfsgo/sfs"
	"golang.org/x/sync/errgroup"
)

// Select picks which record kinds Load returns.
type Select int

const (
	SelectImages Select = iota
	SelectSpectra
	SelectBoth
)

// IndexSelector picks which hypermap index(es) a SelectSpectra/
// SelectBoth load decodes. The zero value selects the header's
// default index (min of the available set, §4.3).
type IndexSelector struct {
	all   bool
	index int
	set   bool
}

// DefaultSpectrumIndex selects the header's default hypermap index.
func DefaultSpectrumIndex() IndexSelector { return IndexSelector{} }

// AllSpectrumIndexes selects every hypermap index the header reports.
func AllSpectrumIndexes() IndexSelector { return IndexSelector{all: true} }

// SpectrumIndex selects one explicit hypermap index.
func SpectrumIndex(i int) IndexSelector { return IndexSelector{index: i, set: true} }

// LoadOptions controls a Load call.
type LoadOptions struct {
	Select             Select
	Index              IndexSelector
	Downsample         int     // d >= 1; 0 treated as 1
	CutoffKeV          *float64
	InstrumentOverride string
	Lazy               bool
	Parallel           bool // decode multiple hypermap indexes concurrently
	Context            context.Context
}

// Axis describes one dimension of Record.Data (§4.5).
type Axis struct {
	Name   string
	Size   int
	Offset float64
	Scale  float64
	Unit   string
}

// Record is one image plane or hypermap cube plus its axis
// descriptors and metadata (§4.5). Data is []uint16 for an image
// plane, *hypermap.Array for a spectrum, or *hypermap.LazyArray when
// LoadOptions.Lazy is set.
type Record struct {
	Kind     string // "image" or "spectrum"
	Name     string // detector name for images, "SpectrumDataN" for spectra
	Data     any
	Axes     []Axis
	Metadata map[string]any // curated, semantically-named view
	Raw      map[string]any // the header's own parsed dictionary, unmodified
}

// Load opens path and assembles the records opts requests.
func Load(path string, opts LoadOptions) ([]Record, error) {
	c, err := sfs.Open(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return LoadContainer(c, opts)
}

// LoadContainer is Load against an already-open container, letting a
// caller share one Container across several loads.
func LoadContainer(c *sfs.Container, opts LoadOptions) ([]Record, error) {
	if opts.Downsample < 1 {
		opts.Downsample = 1
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	h, err := header.Read(c, header.Options{InstrumentOverride: opts.InstrumentOverride})
	if err != nil {
		return nil, err
	}

	var records []Record
	if opts.Select == SelectImages || opts.Select == SelectBoth {
		records = append(records, imageRecords(h)...)
	}
	if opts.Select == SelectSpectra || opts.Select == SelectBoth {
		specRecords, err := spectrumRecords(c, h, opts, ctx)
		if err != nil {
			return nil, err
		}
		records = append(records, specRecords...)
	}
	return records, nil
}

func imageRecords(h *header.Header) []Record {
	var out []Record
	for imgIdx, img := range h.Images {
		for _, plane := range img.Planes {
			name := plane.Detector
			if name == "" {
				name = fmt.Sprintf("image%d", imgIdx)
			}
			out = append(out, Record{
				Kind: "image",
				Name: name,
				Data: plane.Pixels,
				Axes: []Axis{
					{Name: "y", Size: img.Height, Scale: h.YRes, Unit: h.Units},
					{Name: "x", Size: img.Width, Scale: h.XRes, Unit: h.Units},
				},
				Metadata: imageMetadata(h, img),
				Raw:      h.SEMMetadata,
			})
		}
	}
	return out
}

func imageMetadata(h *header.Header, img header.Image) map[string]any {
	m := map[string]any{
		"mode":   h.Mode,
		"hv_kev": h.HV,
	}
	if img.Overview != nil {
		m["overview_roi_phys"] = [4]float64{
			img.Overview.TopPhys, img.Overview.LeftPhys,
			img.Overview.BottomPhys, img.Overview.RightPhys,
		}
	}
	return m
}

func resolveIndexes(h *header.Header, sel IndexSelector) ([]int, error) {
	switch {
	case sel.all:
		return h.AvailableIndexes, nil
	case sel.set:
		for _, idx := range h.AvailableIndexes {
			if idx == sel.index {
				return []int{idx}, nil
			}
		}
		return nil, fmt.Errorf("%w: %d", hypermap.ErrIndexOutOfRange, sel.index)
	default:
		if len(h.AvailableIndexes) == 0 {
			return nil, fmt.Errorf("%w: no hypermap indexes available", hypermap.ErrIndexOutOfRange)
		}
		return []int{h.DefaultIndex}, nil
	}
}

func spectrumRecords(c *sfs.Container, h *header.Header, opts LoadOptions, ctx context.Context) ([]Record, error) {
	indexes, err := resolveIndexes(h, opts.Index)
	if err != nil {
		return nil, err
	}

	out := make([]Record, len(indexes))
	build := func(i int) error {
		idx := indexes[i]
		spec, ok := h.Spectra[idx]
		if !ok {
			return fmt.Errorf("%w: %d", hypermap.ErrIndexOutOfRange, idx)
		}
		decodeOpts := spectrumDecodeOptions(spec, opts, ctx)

		rec := Record{
			Kind:     "spectrum",
			Name:     fmt.Sprintf("SpectrumData%d", idx),
			Metadata: spectrumMetadata(h, spec),
			Raw:      spec.Meta,
		}

		if opts.Lazy {
			lazy, err := hypermap.DecodeLazy(c, idx, opts.Downsample, decodeOpts...)
			if err != nil {
				return fmt.Errorf("spectrum %d: %w", idx, err)
			}
			rec.Data = lazy
			rec.Axes = axesFor(lazy.Shape, spec)
		} else {
			arr, err := hypermap.Decode(c, idx, opts.Downsample, decodeOpts...)
			if err != nil {
				return fmt.Errorf("spectrum %d: %w", idx, err)
			}
			rec.Data = arr
			rec.Axes = axesFor(arr.Shape, spec)
		}
		out[i] = rec
		return nil
	}

	if opts.Parallel && len(indexes) > 1 {
		g, _ := errgroup.WithContext(ctx)
		for i := range indexes {
			i := i
			g.Go(func() error { return build(i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}

	for i := range indexes {
		if err := build(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func spectrumDecodeOptions(spec *header.Spectrum, opts LoadOptions, ctx context.Context) []hypermap.Option {
	decodeOpts := []hypermap.Option{
		hypermap.WithChannelCapacity(spec.ChannelCount),
		hypermap.WithCalibration(spec.CalibAbs, spec.CalibLin),
		hypermap.WithAmplification(spec.Amplification),
		hypermap.WithHV(spec.HV),
		hypermap.WithPeak(peakOf(spec.Data)),
		hypermap.WithContext(ctx),
	}
	if opts.CutoffKeV != nil {
		decodeOpts = append(decodeOpts, hypermap.WithCutoffKeV(*opts.CutoffKeV))
	}
	return decodeOpts
}

func peakOf(data []uint64) uint64 {
	var m uint64
	for _, v := range data {
		if v > m {
			m = v
		}
	}
	return m
}

func axesFor(shape [3]int, spec *header.Spectrum) []Axis {
	return []Axis{
		{Name: "y", Size: shape[0]},
		{Name: "x", Size: shape[1]},
		{Name: "E", Size: shape[2], Offset: spec.CalibAbs, Scale: spec.CalibLin, Unit: "keV"},
	}
}

func spectrumMetadata(h *header.Header, spec *header.Spectrum) map[string]any {
	return map[string]any{
		"mode":           h.Mode,
		"hv_kev":         spec.HV,
		"amplification":  spec.Amplification,
		"detector_type":  spec.DetectorType,
		"elevation_angle": spec.ElevationAngle,
		"elements":       h.Elements,
	}
}
