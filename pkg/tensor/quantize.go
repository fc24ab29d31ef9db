package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Rounding selects how [0,1] values are mapped to 8-bit levels.
type Rounding int

const (
	// Floor truncates x*255 toward zero.
	Floor Rounding = iota
	// Nearest rounds x*255 half away from zero.
	Nearest
)

func (r Rounding) String() string {
	switch r {
	case Floor:
		return "floor"
	case Nearest:
		return "nearest"
	default:
		return fmt.Sprintf("Rounding(%d)", int(r))
	}
}

// ParseRounding parses "floor" or "nearest". An empty string means Floor.
func ParseRounding(s string) (Rounding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "floor":
		return Floor, nil
	case "nearest", "round":
		return Nearest, nil
	default:
		return Floor, fmt.Errorf("unknown rounding mode %q (use floor or nearest)", s)
	}
}

// Uint8 is a dense, row-major byte array, the pixel-space counterpart of Tensor.
type Uint8 struct {
	shape []int
	data  []uint8
}

// Shape returns a copy of the dimensions.
func (u *Uint8) Shape() []int {
	return append([]int(nil), u.shape...)
}

// Data returns the backing slice.
func (u *Uint8) Data() []uint8 {
	return u.data
}

// Len returns the total number of elements.
func (u *Uint8) Len() int {
	return len(u.data)
}

// Index returns a copy of the i-th slice along the leading dimension.
func (u *Uint8) Index(i int) *Uint8 {
	if len(u.shape) == 0 || i < 0 || i >= u.shape[0] {
		panic(fmt.Sprintf("tensor: index %d out of range for shape %v", i, u.shape))
	}
	inner := numel(u.shape[1:])
	return &Uint8{
		shape: append([]int(nil), u.shape[1:]...),
		data:  append([]uint8(nil), u.data[i*inner:(i+1)*inner]...),
	}
}

// Quantize maps values in [0,1] to bytes via x*255 and the given rounding.
// Out-of-range values saturate and NaN becomes 0.
func (t *Tensor) Quantize(r Rounding) *Uint8 {
	out := &Uint8{
		shape: append([]int(nil), t.shape...),
		data:  make([]uint8, len(t.data)),
	}
	for i, v := range t.data {
		x := v * 255
		if r == Nearest {
			x = math.Round(x)
		} else {
			x = math.Floor(x)
		}
		switch {
		case math.IsNaN(x) || x <= 0:
			out.data[i] = 0
		case x >= 255:
			out.data[i] = 255
		default:
			out.data[i] = uint8(x)
		}
	}
	return out
}
