package hypermap

// Array is a dense decoded hypermap cube, shape (H', W', C) in
// row-major (y, x, channel) order (§3, §4.4). Data holds the
// concrete slice for DType; callers type-switch on it the same way
// they would on a numpy dtype.
type Array struct {
	Shape [3]int
	DType DType
	Data  any // []uint8 | []uint16 | []uint32 | []int8 | []int16 | []int32 | []int64
}

func newArray(shape [3]int, dtype DType) *Array {
	n := shape[0] * shape[1] * shape[2]
	a := &Array{Shape: shape, DType: dtype}
	switch dtype {
	case U8:
		a.Data = make([]uint8, n)
	case U16:
		a.Data = make([]uint16, n)
	case U32:
		a.Data = make([]uint32, n)
	case I8:
		a.Data = make([]int8, n)
	case I16:
		a.Data = make([]int16, n)
	case I32:
		a.Data = make([]int32, n)
	case I64:
		a.Data = make([]int64, n)
	}
	return a
}

func (a *Array) index(y, x, c int) int {
	return (y*a.Shape[1]+x)*a.Shape[2] + c
}

// accumulate adds hist[0:len(hist)] into output cell (y, x) starting
// at channel 0. The array is always zero-initialized on allocation, so
// element-wise add and "assign on first touch" (§4.4) coincide here:
// there is no virgin/non-virgin branch to track.
func (a *Array) accumulate(y, x int, hist []uint32) {
	base := a.index(y, x, 0)
	switch d := a.Data.(type) {
	case []uint8:
		for c, v := range hist {
			d[base+c] += uint8(v)
		}
	case []uint16:
		for c, v := range hist {
			d[base+c] += uint16(v)
		}
	case []uint32:
		for c, v := range hist {
			d[base+c] += v
		}
	case []int8:
		for c, v := range hist {
			d[base+c] += int8(v)
		}
	case []int16:
		for c, v := range hist {
			d[base+c] += int16(v)
		}
	case []int32:
		for c, v := range hist {
			d[base+c] += int32(v)
		}
	case []int64:
		for c, v := range hist {
			d[base+c] += int64(v)
		}
	}
}

// allNonNegative reports whether a signed-dtype array never went
// negative, the precondition for reinterpretUnsigned (§4.4).
func (a *Array) allNonNegative() bool {
	switch d := a.Data.(type) {
	case []int8:
		for _, v := range d {
			if v < 0 {
				return false
			}
		}
	case []int16:
		for _, v := range d {
			if v < 0 {
				return false
			}
		}
	case []int32:
		for _, v := range d {
			if v < 0 {
				return false
			}
		}
	case []int64:
		for _, v := range d {
			if v < 0 {
				return false
			}
		}
	}
	return true
}

// reinterpretUnsigned narrows a never-negative signed accumulation
// buffer onto its unsigned counterpart per ReinterpretUnsigned: I8->U8,
// I16->U16, I32/I64->U32. It is only called once allNonNegative has
// confirmed no value is negative; an I64 buffer holding a value above
// 0xFFFFFFFF is left as I64, so the cast loses no information.
func (a *Array) reinterpretUnsigned() {
	switch d := a.Data.(type) {
	case []int8:
		out := make([]uint8, len(d))
		for i, v := range d {
			out[i] = uint8(v)
		}
		a.Data = out
		a.DType = U8
	case []int16:
		out := make([]uint16, len(d))
		for i, v := range d {
			out[i] = uint16(v)
		}
		a.Data = out
		a.DType = U16
	case []int32:
		out := make([]uint32, len(d))
		for i, v := range d {
			out[i] = uint32(v)
		}
		a.Data = out
		a.DType = U32
	case []int64:
		for _, v := range d {
			if v > 0xFFFFFFFF {
				return
			}
		}
		out := make([]uint32, len(d))
		for i, v := range d {
			out[i] = uint32(v)
		}
		a.Data = out
		a.DType = U32
	}
}

// At returns the value at (y, x, c) widened to int64, regardless of
// the underlying concrete dtype. Convenient for tests and callers that
// don't need the storage-width distinction.
func (a *Array) At(y, x, c int) int64 {
	i := a.index(y, x, c)
	switch d := a.Data.(type) {
	case []uint8:
		return int64(d[i])
	case []uint16:
		return int64(d[i])
	case []uint32:
		return int64(d[i])
	case []int8:
		return int64(d[i])
	case []int16:
		return int64(d[i])
	case []int32:
		return int64(d[i])
	case []int64:
		return d[i]
	}
	return 0
}
