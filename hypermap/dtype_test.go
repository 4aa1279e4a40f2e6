package hypermap

import "testing"

func TestChooseDType(t *testing.T) {
	tests := []struct {
		name                          string
		peak                          uint64
		height, width, downsample int
		want                          DType
	}{
		{"d1 small peak -> u8", 100, 100, 100, 1, U8},
		{"d1 medium peak -> u16", 1000, 1, 1, 1, U16},
		{"d1 large peak -> u32", 1 << 20, 1, 1, 1, U32},
		{"d2 small bound -> i8", 50, 100, 100, 2, I8},
		{"d2 near 0xFF -> i16", 312500, 100, 100, 2, I16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChooseDType(tt.peak, tt.height, tt.width, tt.downsample)
			if got != tt.want {
				t.Errorf("ChooseDType(%d,%d,%d,%d) = %v, want %v",
					tt.peak, tt.height, tt.width, tt.downsample, got, tt.want)
			}
		})
	}
}

func TestReinterpretUnsigned(t *testing.T) {
	cases := map[DType]DType{I8: U8, I16: U16, I32: U32, I64: U32, U8: U8}
	for in, want := range cases {
		if got := ReinterpretUnsigned(in); got != want {
			t.Errorf("ReinterpretUnsigned(%v) = %v, want %v", in, got, want)
		}
	}
}
