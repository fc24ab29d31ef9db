// Package tensor provides the dense row-major arrays exchanged with model
// backends, along with the reshaping and pixel conversions applied to
// rendered frames.
package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense, row-major float64 array with a fixed shape.
type Tensor struct {
	shape []int
	data  []float64
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  make([]float64, numel(shape)),
	}
}

// FromSlice wraps data in a tensor of the given shape. The slice is not copied.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", shape)
		}
	}
	if n := numel(shape); n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}, nil
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

// Len returns the total number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Data returns the backing slice. Writes through it modify the tensor.
func (t *Tensor) Data() []float64 {
	return t.data
}

// At returns the element at the given index.
func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

// Set stores v at the given index.
func (t *Tensor) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return equalShape(t.shape, o.shape)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape: append([]int(nil), t.shape...),
		data:  append([]float64(nil), t.data...),
	}
}

// Detach copies the tensor into freshly allocated memory owned by the
// caller, so nothing a backend may reuse between calls is retained.
func (t *Tensor) Detach() *Tensor {
	return t.Clone()
}

// Index returns a copy of the i-th slice along the leading dimension.
func (t *Tensor) Index(i int) *Tensor {
	if len(t.shape) == 0 || i < 0 || i >= t.shape[0] {
		panic(fmt.Sprintf("tensor: index %d out of range for shape %v", i, t.shape))
	}
	inner := numel(t.shape[1:])
	return &Tensor{
		shape: append([]int(nil), t.shape[1:]...),
		data:  append([]float64(nil), t.data[i*inner:(i+1)*inner]...),
	}
}

// Clamp limits every element to [lo, hi] in place and returns t.
func (t *Tensor) Clamp(lo, hi float64) *Tensor {
	for i, v := range t.data {
		switch {
		case v < lo:
			t.data[i] = lo
		case v > hi:
			t.data[i] = hi
		}
	}
	return t
}

// Affine applies x*scale + shift to every element in place and returns t.
func (t *Tensor) Affine(scale, shift float64) *Tensor {
	floats.Scale(scale, t.data)
	floats.AddConst(shift, t.data)
	return t
}

// Min returns the smallest element. It panics on an empty tensor.
func (t *Tensor) Min() float64 {
	return floats.Min(t.data)
}

// Max returns the largest element. It panics on an empty tensor.
func (t *Tensor) Max() float64 {
	return floats.Max(t.data)
}

// Stack joins equally shaped tensors along a new axis inserted at position axis.
func Stack(ts []*Tensor, axis int) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("stack: no tensors")
	}
	base := ts[0].shape
	if axis < 0 || axis > len(base) {
		return nil, fmt.Errorf("stack: axis %d out of range for rank %d", axis, len(base))
	}
	for i, t := range ts[1:] {
		if !equalShape(base, t.shape) {
			return nil, fmt.Errorf("stack: tensor %d has shape %v, want %v", i+1, t.shape, base)
		}
	}

	shape := make([]int, 0, len(base)+1)
	shape = append(shape, base[:axis]...)
	shape = append(shape, len(ts))
	shape = append(shape, base[axis:]...)
	out := New(shape...)

	outer := numel(base[:axis])
	inner := numel(base[axis:])
	n := len(ts)
	for o := 0; o < outer; o++ {
		for k, t := range ts {
			copy(out.data[(o*n+k)*inner:], t.data[o*inner:(o+1)*inner])
		}
	}
	return out, nil
}

// Permute returns a copy of t with its axes reordered, so that dimension i
// of the result is dimension axes[i] of t.
func (t *Tensor) Permute(axes ...int) (*Tensor, error) {
	rank := len(t.shape)
	if len(axes) != rank {
		return nil, fmt.Errorf("permute: got %d axes for rank %d", len(axes), rank)
	}
	seen := make([]bool, rank)
	shape := make([]int, rank)
	for i, a := range axes {
		if a < 0 || a >= rank || seen[a] {
			return nil, fmt.Errorf("permute: invalid axes %v", axes)
		}
		seen[a] = true
		shape[i] = t.shape[a]
	}

	src := strides(t.shape)
	out := New(shape...)
	idx := make([]int, rank)
	for lin := range out.data {
		off := 0
		for i, a := range axes {
			off += idx[i] * src[a]
		}
		out.data[lin] = t.data[off]
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + v
	}
	return off
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
