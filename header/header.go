// Package header parses the Bruker "EDSDatabase/HeaderData" XML
// document carried inside an SFS container: raster calibration,
// detector images, the per-index summed-spectrum records, the
// elements dictionary and the stage/DSP configuration blobs (§4.3).
package header

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/brukerio/sfsgo/sfs"
)

const headerDataPath = "EDSDatabase/HeaderData"

// Read loads and parses the container's header document.
func Read(c *sfs.Container, opts Options) (*Header, error) {
	entry, err := c.File(headerDataPath)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	data, err := entry.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("header: reading %s: %w", headerDataPath, err)
	}
	tree, err := parseXMLTree(data)
	if err != nil {
		return nil, err
	}

	root := tree.findClassInstance("TRTSpectrumDatabase")
	if root == nil && tree.XMLName.Local == "TRTSpectrumDatabase" {
		root = tree // the document element itself is the database node
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no TRTSpectrumDatabase root", ErrBadHeader)
	}

	h := &Header{}
	if name, ok := root.attr("Name"); ok {
		h.Name = name
	} else {
		h.Name = "Undefined"
	}

	hd := root.findChild("Header")
	dateText := childTextAnywhere(root, hd, "Date")
	timeText := childTextAnywhere(root, hd, "Time")
	versionText := childTextAnywhere(root, hd, "FileVersion")
	chCountText := childTextAnywhere(root, hd, "ChCount")
	detCountText := childTextAnywhere(root, hd, "DetectorCount")
	lineCounterText := childTextAnywhere(root, hd, "LineCounter")
	if dateText == "" || timeText == "" || versionText == "" ||
		chCountText == "" || detCountText == "" || lineCounterText == "" {
		return nil, fmt.Errorf("%w: missing mandatory Header fields", ErrBadHeader)
	}
	h.Date = dateText
	h.Time = timeText
	h.FileVersion, _ = strconv.Atoi(versionText)
	h.ChannelCount, _ = strconv.Atoi(chCountText)
	h.DetectorCount, _ = strconv.Atoi(detCountText)
	h.LineCounter = interpretScalar(lineCounterText)

	if err := setMicroscope(h, root, opts); err != nil {
		return nil, err
	}

	h.Images = parseImages(root, h.FileVersion, h.XRes, h.YRes)
	h.Elements = parseElements(root)

	if err := loadSpectra(h, c, root); err != nil {
		return nil, err
	}

	return h, nil
}

// childTextAnywhere looks for tag as a direct child of hd first (the
// document's usual location, directly inside the <Header> element),
// falling back to a direct child of root — some BCF generations place
// ChCount/DetectorCount/LineCounter one level up.
func childTextAnywhere(root, hd *xmlNode, tag string) string {
	if hd != nil {
		if c := hd.findChild(tag); c != nil {
			if t := c.text(); t != "" {
				return t
			}
		}
	}
	if c := root.findChild(tag); c != nil {
		return c.text()
	}
	return ""
}

func setMicroscope(h *Header, root *xmlNode, opts Options) error {
	sem := root.findClassInstance("TRTSEMData")
	h.SEMMetadata = asMap(dictionarize(sem))
	h.HV = floatOf(h.SEMMetadata["HV"])

	if _, hasDX := h.SEMMetadata["DX"]; hasDX {
		h.Units = "µm"
	} else {
		h.Units = "pix"
	}
	h.XRes = floatOrDefault(h.SEMMetadata["DX"], 1.0)
	h.YRes = floatOrDefault(h.SEMMetadata["DY"], 1.0)

	h.StageMetadata = asMap(dictionarize(root.findClassInstance("TRTSEMStageData")))
	h.DSPMetadata = asMap(dictionarize(root.findClassInstance("TRTDSPConfiguration")))

	switch {
	case opts.InstrumentOverride != "":
		h.Mode = opts.InstrumentOverride
	case h.HV > 30:
		h.Mode = "TEM"
	default:
		h.Mode = "SEM"
	}
	return nil
}

func floatOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func floatOrDefault(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return def
	}
}

func parseElements(root *xmlNode) map[string]Element {
	out := map[string]Element{}
	elemList := findDescendantClassInstance(root, "TRTElementInformationList", "")
	if elemList == nil {
		return out
	}
	regionList := findDescendantClassInstance(elemList, "TRTSpectrumRegionList", "")
	if regionList == nil {
		return out
	}
	children := findDescendantTag(regionList, "ChildClassInstances")
	if children == nil {
		children = regionList
	}
	for i := range children.Nodes {
		n := &children.Nodes[i]
		if n.XMLName.Local != "ClassInstance" {
			continue
		}
		t, _ := n.attr("Type")
		if t != "TRTSpectrumRegion" {
			continue
		}
		m := asMap(dictionarize(n))
		symbol := stringOf(m["XmlClassName"])
		if symbol == "" {
			symbol = stringOf(m["Name"])
		}
		if symbol == "" {
			continue
		}
		out[symbol] = Element{
			Line:   stringOf(m["Line"]),
			Energy: stringOf(m["Energy"]),
			Width:  stringOf(m["Width"]),
		}
	}
	return out
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func loadSpectra(h *Header, c *sfs.Container, root *xmlNode) error {
	children, err := c.Children("EDSDatabase")
	if err != nil {
		return fmt.Errorf("header: listing EDSDatabase: %w", err)
	}
	var indexes []int
	for _, child := range children {
		if !strings.HasPrefix(child.Name, "SpectrumData") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(child.Name, "SpectrumData"))
		if err != nil {
			continue
		}
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)
	h.AvailableIndexes = indexes
	if len(indexes) > 0 {
		h.DefaultIndex = indexes[0]
	}

	h.Spectra = make(map[int]*Spectrum, len(indexes))
	for _, idx := range indexes {
		spec, err := parseSpectrum(root, idx)
		if err != nil {
			return fmt.Errorf("%w: SpectrumData%d: %v", ErrBadHeader, idx, err)
		}
		h.Spectra[idx] = spec
	}
	return nil
}

func parseSpectrum(root *xmlNode, idx int) (*Spectrum, error) {
	container := root.findChild(fmt.Sprintf("SpectrumData%d", idx))
	if container == nil {
		return nil, fmt.Errorf("no SpectrumData%d element", idx)
	}
	spectrumNode := container.findChild("ClassInstance")
	if spectrumNode == nil {
		return nil, fmt.Errorf("no spectrum ClassInstance")
	}

	trtHeader := spectrumNode.findChild("TRTHeaderedClass")
	if trtHeader == nil {
		return nil, fmt.Errorf("no TRTHeaderedClass")
	}
	hardware := asMap(dictionarize(trtHeader.findClassInstance("TRTSpectrumHardwareHeader")))
	detector := asMap(dictionarize(trtHeader.findClassInstance("TRTDetectorHeader")))
	esma := asMap(dictionarize(trtHeader.findClassInstance("TRTESMAHeader")))
	spectrumMeta := asMap(dictionarize(spectrumNode.findClassInstance("TRTSpectrumHeader")))

	s := &Spectrum{
		Index:          idx,
		Hardware:       hardware,
		Detector:       detector,
		ESMA:           esma,
		Meta:           spectrumMeta,
		Amplification:  floatOf(hardware["Amplification"]),
		DetectorType:   stringOf(detector["Type"]),
		HV:             floatOf(esma["PrimaryEnergy"]),
		ElevationAngle: floatOf(esma["ElevationAngle"]),
		CalibAbs:       floatOf(spectrumMeta["CalibAbs"]),
		CalibLin:       floatOf(spectrumMeta["CalibLin"]),
		ChannelCount:   int(floatOf(spectrumMeta["ChannelCount"])),
	}

	if layers, ok := detector["DetLayers"].(string); ok && layers != "" {
		m, err := decodeDetectorLayers(layers)
		if err != nil {
			return nil, err
		}
		s.DetectorLayers = m
	}

	channelsNode := spectrumNode.findChild("Channels")
	if channelsNode != nil {
		text := channelsNode.text()
		if text != "" {
			fields := strings.Split(text, ",")
			s.Data = make([]uint64, 0, len(fields))
			for _, f := range fields {
				f = strings.TrimSpace(f)
				if f == "" {
					continue
				}
				v, err := strconv.ParseUint(f, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("channel data: %w", err)
				}
				s.Data = append(s.Data, v)
			}
		}
	}
	if s.ChannelCount == 0 {
		s.ChannelCount = len(s.Data)
	}
	return s, nil
}

// decodeBase64Plane turns a base64-encoded little-endian u16 pixel
// buffer into a []uint16, reporting whether it contains any non-zero
// pixel (§4.3: a plane is kept only if any pixel is non-zero).
func decodeBase64Plane(b64 string) ([]uint16, bool, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, false, err
	}
	out := make([]uint16, len(raw)/2)
	nonZero := false
	for i := range out {
		v := uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
		out[i] = v
		if v != 0 {
			nonZero = true
		}
	}
	return out, nonZero, nil
}
