package hypermap

// DType identifies the element type chosen for a decoded histogram
// cube (§4.4).
type DType int

const (
	U8 DType = iota
	U16
	U32
	I8
	I16
	I32
	I64
)

func (d DType) String() string {
	switch d {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	default:
		return "unknown"
	}
}

// Signed reports whether d is one of the signed-accumulation dtypes
// used only for downsample > 1.
func (d DType) Signed() bool {
	switch d {
	case I8, I16, I32, I64:
		return true
	default:
		return false
	}
}

// ReinterpretUnsigned maps a signed accumulation dtype back onto its
// unsigned counterpart, used once decoding is done and the cube is
// known never to have gone negative (§4.4: "if the output ends up
// signed but never observed negative, reinterpret the bits as
// unsigned before returning").
func ReinterpretUnsigned(d DType) DType {
	switch d {
	case I8:
		return U8
	case I16:
		return U16
	case I32, I64:
		return U32
	default:
		return d
	}
}

// ChooseDType implements the §4.4 output dtype selection table. peak
// is the summed-spectrum record's peak channel value; height, width
// and downsample are the source map dimensions and downsample factor.
func ChooseDType(peak uint64, height, width, downsample int) DType {
	d := float64(downsample)
	bound := 2 * d * d * float64(peak) / float64(height*width)

	if downsample == 1 {
		switch {
		case bound <= 0xFF:
			return U8
		case bound <= 0xFFFF:
			return U16
		default:
			return U32
		}
	}

	switch {
	case bound <= 0xFF:
		if bound > 0xEF {
			return I16
		}
		return I8
	case bound <= 0xFFFF:
		if bound > 0xEFFF {
			return I32
		}
		return I16
	default:
		if bound > 0xEFFFFFFF {
			return I64
		}
		return I32
	}
}
