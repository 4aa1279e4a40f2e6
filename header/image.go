package header

import (
	"fmt"
	"strconv"
)

// findAllClassInstance returns every direct ClassInstance child whose
// Type attribute matches typ.
func findAllClassInstance(n *xmlNode, typ string) []*xmlNode {
	var out []*xmlNode
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.XMLName.Local != "ClassInstance" {
			continue
		}
		if t, _ := c.attr("Type"); t == typ {
			out = append(out, c)
		}
	}
	return out
}

// parseImages locates the detector image(s) and, for version-2
// headers, the overview image with its ROI (§4.3).
func parseImages(root *xmlNode, version int, xRes, yRes float64) []Image {
	var images []Image

	candidates := findAllClassInstance(root, "TRTImageData")
	var primary *xmlNode
	for _, n := range candidates {
		if _, hasName := n.attr("Name"); !hasName {
			primary = n // last unnamed one wins, matching the original loop
		}
	}
	if primary != nil {
		images = append(images, parseImage(primary))
	}

	if version == 2 {
		if overview := parseOverviewImage(root, xRes, yRes); overview != nil {
			images = append(images, *overview)
		}
	}

	return images
}

func parseImage(node *xmlNode) Image {
	img := Image{}
	if c := node.findChild("Width"); c != nil {
		img.Width, _ = strconv.Atoi(c.text())
	}
	if c := node.findChild("Height"); c != nil {
		img.Height, _ = strconv.Atoi(c.text())
	}
	planeCount := 0
	if c := node.findChild("PlaneCount"); c != nil {
		planeCount, _ = strconv.Atoi(c.text())
	}
	for i := 0; i < planeCount; i++ {
		planeNode := node.findChild(fmt.Sprintf("Plane%d", i))
		if planeNode == nil {
			continue
		}
		dataNode := planeNode.findChild("Data")
		if dataNode == nil {
			continue
		}
		desc := ""
		if d := planeNode.findChild("Description"); d != nil {
			desc = d.text()
		}
		pixels, nonZero, err := decodeBase64Plane(dataNode.text())
		if err != nil || !nonZero {
			continue
		}
		img.Planes = append(img.Planes, Plane{Detector: desc, Pixels: pixels})
	}
	return img
}

// parseOverviewImage locates the optional version-2 overview image,
// nested inside a "OverviewImages" container ClassInstance, and its
// rectangular region-of-interest over the primary image.
func parseOverviewImage(root *xmlNode, xRes, yRes float64) *Image {
	container := findDescendantClassInstance(root, "", "OverviewImages")
	if container == nil {
		return nil
	}
	imgNode := findDescendantClassInstance(container, "TRTImageData", "")
	if imgNode == nil {
		return nil
	}
	img := parseImage(imgNode)

	mapNode := findDescendantClassInstance(container, "", "Map")
	if mapNode != nil {
		if overlay := findDescendantTag(mapNode, "TRTOverlayElement"); overlay != nil {
			rectNode := overlay.findChild("Rect")
			if rectNode == nil {
				rectNode = overlay
			}
			m := asMap(dictionarize(rectNode))
			roi := OverviewROI{
				Top:    floatOf(m["Top"]),
				Left:   floatOf(m["Left"]),
				Bottom: floatOf(m["Bottom"]),
				Right:  floatOf(m["Right"]),
			}
			roi.TopPhys = roi.Top * yRes
			roi.BottomPhys = roi.Bottom * yRes
			roi.LeftPhys = roi.Left * xRes
			roi.RightPhys = roi.Right * xRes
			img.Overview = &roi
		}
	}
	return &img
}
