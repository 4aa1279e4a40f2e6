package header

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/clbanning/mxj/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

func init() {
	// mxj calls back into this hook for any XML declaring a non-UTF-8
	// charset, the same way encoding/xml.Decoder.CharsetReader does.
	// Bruker's acquisition consoles are Windows-hosted and some BCF
	// generations tag their header with a Windows codepage instead of
	// UTF-8.
	mxj.XmlCharsetReader = charsetReader
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if enc, err := htmlindex.Get(charset); err == nil {
		return transform.NewReader(input, enc.NewDecoder()), nil
	}
	// htmlindex only recognises a handful of WHATWG-registered labels;
	// fall back to the most common legacy Windows codepage.
	if strings.EqualFold(charset, "windows-1252") || strings.EqualFold(charset, "cp1252") {
		return transform.NewReader(input, charmap.Windows1252.NewDecoder()), nil
	}
	return nil, fmt.Errorf("header: unsupported charset %q", charset)
}

// xmlNode is a generic XML element capture used to replicate the
// ClassInstance-collapsing, XmlClass-prefixing flattening rules of
// §4.3 exactly as the original parser performs them element by
// element; mxj's own (differently-shaped) flattening is used instead
// for the simpler, non-recursive detector-layer sub-document below.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

func parseXMLTree(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader
	var n xmlNode
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return &n, nil
}

// findChild returns the first direct child named tag.
func (n *xmlNode) findChild(tag string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == tag {
			return &n.Nodes[i]
		}
	}
	return nil
}

// findClassInstance returns the first direct ClassInstance child whose
// Type attribute matches typ.
func (n *xmlNode) findClassInstance(typ string) *xmlNode {
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.XMLName.Local != "ClassInstance" {
			continue
		}
		for _, a := range c.Attrs {
			if a.Name.Local == "Type" && a.Value == typ {
				return c
			}
		}
	}
	return nil
}

func (n *xmlNode) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n *xmlNode) text() string { return strings.TrimSpace(n.Content) }

// findDescendantClassInstance searches the whole subtree (depth
// first, not just direct children) for a ClassInstance element whose
// Type and/or Name attribute match (empty string means "don't care").
// Used for the version-2 overview-image lookup, whose ClassInstance is
// nested several levels of plain XML wrapper tags deep.
func findDescendantClassInstance(n *xmlNode, typ, name string) *xmlNode {
	var found *xmlNode
	var walk func(*xmlNode)
	walk = func(cur *xmlNode) {
		if found != nil {
			return
		}
		for i := range cur.Nodes {
			c := &cur.Nodes[i]
			if c.XMLName.Local == "ClassInstance" {
				t, _ := c.attr("Type")
				nm, _ := c.attr("Name")
				if (typ == "" || t == typ) && (name == "" || nm == name) {
					found = c
					return
				}
			}
			walk(c)
			if found != nil {
				return
			}
		}
	}
	walk(n)
	return found
}

// findDescendantTag searches the whole subtree for the first element
// with the given literal tag name, regardless of depth.
func findDescendantTag(n *xmlNode, tag string) *xmlNode {
	if n.XMLName.Local == tag {
		return n
	}
	for i := range n.Nodes {
		if found := findDescendantTag(&n.Nodes[i], tag); found != nil {
			return found
		}
	}
	return nil
}

// dictionarize flattens one XML element into the generic attribute
// tree described in spec.md §4.3: a ClassInstance child collapses into
// its parent's own key space; an attribute on an element that also has
// child elements is prefixed with "XmlClass" to avoid colliding with a
// same-named child key; leaf text is passed through interpretScalar.
func dictionarize(n *xmlNode) any {
	hasAttrs := len(n.Attrs) > 0
	hasChildren := len(n.Nodes) > 0

	var result map[string]any
	if hasChildren {
		groups := map[string][]any{}
		for i := range n.Nodes {
			child := &n.Nodes[i]
			v := dictionarize(child)
			if child.XMLName.Local == "ClassInstance" {
				if cm, ok := v.(map[string]any); ok {
					for k, cv := range cm {
						groups[k] = append(groups[k], cv)
					}
					continue
				}
			}
			groups[child.XMLName.Local] = append(groups[child.XMLName.Local], v)
		}
		result = make(map[string]any, len(groups))
		for k, vs := range groups {
			if len(vs) == 1 {
				result[k] = interpretScalar(vs[0])
			} else {
				result[k] = vs
			}
		}
	}

	if hasAttrs {
		if result == nil {
			result = map[string]any{}
		}
		for _, a := range n.Attrs {
			key := a.Name.Local
			if hasChildren {
				key = "XmlClass" + key
			}
			result[key] = interpretScalar(a.Value)
		}
	}

	if text := n.text(); text != "" {
		if hasChildren || hasAttrs {
			if result == nil {
				result = map[string]any{}
			}
			result["#text"] = interpretScalar(text)
		} else {
			return interpretScalar(text)
		}
	}
	if result == nil {
		return nil
	}
	return result
}

// asMap is a convenience cast for call sites that know dictionarize
// produced a non-nil map (i.e. the element carries attributes or
// children, which every ClassInstance of interest here does).
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

// decodeDetectorLayers decodes the base64+zlib-compressed XML
// sub-document describing a detector's layer stack (§4.3). Unlike the
// ClassInstance tree above this document is a flat, single level of
// child elements with attributes — exactly mxj's native shape — so it
// is decoded with mxj.NewMapXml directly rather than hand-rolled.
func decodeDetectorLayers(b64 string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("header: detector layer base64: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("header: detector layer zlib: %w", err)
	}
	defer zr.Close()
	xmlBytes, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("header: detector layer zlib: %w", err)
	}

	m, err := mxj.NewMapXml(xmlBytes)
	if err != nil {
		return nil, fmt.Errorf("header: detector layer xml: %w", err)
	}
	out := make(map[string]any, len(m))
	for tag, v := range map[string]any(m) {
		attrs, ok := v.(map[string]any)
		if !ok {
			out[tag] = v
			continue
		}
		layer := make(map[string]string, len(attrs))
		for k, av := range attrs {
			k = strings.TrimPrefix(k, "-")
			if s, ok := av.(string); ok {
				layer[k] = s
			} else {
				layer[k] = fmt.Sprintf("%v", av)
			}
		}
		out[tag] = layer
	}
	return out, nil
}
