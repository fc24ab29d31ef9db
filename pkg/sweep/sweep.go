// Package sweep builds the lighting sweep used to animate relighting: an
// inclusive range of angles and the lighting vector rendered at each one.
package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nekomi2/LiftedGAN/pkg/tensor"
)

// Lighting components pinned for every sweep frame, by index:
// 0 horizontal bias, 1 vertical bias, 3 ambient term. Only the slope
// (component 2) varies with the angle.
const (
	BiasX      = 0.2
	BiasY      = 0.8
	AmbientOff = 0.0
)

// RangeSpec defines an inclusive range of angles in degrees.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// Default is the reference sweep: -60° to 60° in 6° steps, 21 angles.
var Default = RangeSpec{Min: -60, Max: 60, Step: 6}

// ParseRangeSpec parses a "min:max:step" string into a RangeSpec.
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return RangeSpec{}, fmt.Errorf("invalid range value %q: %w", p, err)
		}
		vals[i] = v
	}
	r := RangeSpec{Min: vals[0], Max: vals[1], Step: vals[2]}
	if err := r.Validate(); err != nil {
		return RangeSpec{}, err
	}
	return r, nil
}

// Validate checks that the range is non-empty and stays clear of ±90°,
// where the slope is undefined.
func (r RangeSpec) Validate() error {
	if !(r.Step > 0) {
		return fmt.Errorf("step must be positive, got %v", r.Step)
	}
	if r.Max < r.Min {
		return fmt.Errorf("max %v is below min %v", r.Max, r.Min)
	}
	if r.Min <= -90 || r.Max >= 90 {
		return fmt.Errorf("angles must lie strictly within (-90, 90), got [%v, %v]", r.Min, r.Max)
	}
	return nil
}

// String formats the range as "min:max:step".
func (r RangeSpec) String() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return f(r.Min) + ":" + f(r.Max) + ":" + f(r.Step)
}

// Angles returns the ascending angles of the range, including Max when it
// falls on a step. Each angle is computed from its step index, so long
// ranges do not accumulate rounding error.
func (r RangeSpec) Angles() []float64 {
	if r.Validate() != nil {
		return nil
	}
	n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = r.Min + float64(i)*r.Step
	}
	return out
}

// Len returns the number of angles in the range.
func (r RangeSpec) Len() int {
	return len(r.Angles())
}

// Slope returns tan of the angle given in degrees.
func Slope(angleDeg float64) float64 {
	return math.Tan(angleDeg * math.Pi / 180)
}

// Light returns a copy of the (B, 4) template with every row set to
// {BiasX, BiasY, tan(angle), AmbientOff}. The template is left untouched and
// only its shape is used.
func Light(template *tensor.Tensor, angleDeg float64) (*tensor.Tensor, error) {
	if template.Rank() != 2 || template.Dim(1) != 4 {
		return nil, fmt.Errorf("light template has shape %v, want (B, 4)", template.Shape())
	}
	light := template.Clone()
	slope := Slope(angleDeg)
	for b := 0; b < light.Dim(0); b++ {
		light.Set(BiasX, b, 0)
		light.Set(BiasY, b, 1)
		light.Set(slope, b, 2)
		light.Set(AmbientOff, b, 3)
	}
	return light, nil
}
