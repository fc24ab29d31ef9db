package latent

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/nekomi2/LiftedGAN/pkg/tensor"
)

func TestSampleShapeAndMoments(t *testing.T) {
	s := NewSampler(7)
	z := s.Sample(64, 512)
	assert.Equal(t, []int{64, 512}, z.Shape())

	mean, std := stat.MeanStdDev(z.Data(), nil)
	assert.InDelta(t, 0, mean, 0.02)
	assert.InDelta(t, 1, std, 0.02)
}

func TestSampleIsReproducible(t *testing.T) {
	a := NewSampler(42).Sample(3, 16)
	b := NewSampler(42).Sample(3, 16)
	assert.Equal(t, a.Data(), b.Data())

	c := NewSampler(43).Sample(3, 16)
	assert.NotEqual(t, a.Data(), c.Data())
	assert.Equal(t, uint64(42), NewSampler(42).Seed())
}

func TestSampleIndependentOfBatching(t *testing.T) {
	whole := NewSampler(1).Sample(10, 8)

	split := NewSampler(1)
	var parts []float64
	for _, b := range []int{4, 4, 2} {
		parts = append(parts, split.Sample(b, 8).Data()...)
	}
	assert.Equal(t, whole.Data(), parts)
}

func styleAndMean(t *testing.T) (*tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	style, err := tensor.FromSlice([]float64{1, 2, 3, -1, -2, -3}, 2, 3)
	require.NoError(t, err)
	mean, err := tensor.FromSlice([]float64{0.5, 0.5, 0.5}, 3)
	require.NoError(t, err)
	return style, mean
}

func TestTruncateOneIsIdentity(t *testing.T) {
	style, mean := styleAndMean(t)
	out, err := Truncate(style, mean, 1)
	require.NoError(t, err)
	assert.Equal(t, style.Data(), out.Data())
}

func TestTruncateZeroCollapsesToMean(t *testing.T) {
	style, mean := styleAndMean(t)
	out, err := Truncate(style, mean, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, out.Data())
}

func TestTruncateInterpolates(t *testing.T) {
	style, mean := styleAndMean(t)
	out, err := Truncate(style, mean, 0.7)
	require.NoError(t, err)
	for i, v := range style.Data() {
		want := 0.7*v + 0.3*0.5
		assert.InDelta(t, want, out.Data()[i], 1e-12)
	}
	// input untouched
	assert.Equal(t, []float64{1, 2, 3, -1, -2, -3}, style.Data())
}

func TestTruncateRejectsBadInput(t *testing.T) {
	style, mean := styleAndMean(t)
	for _, v := range []float64{-0.1, 1.1, math.NaN()} {
		_, err := Truncate(style, mean, v)
		assert.Error(t, err, "t=%v", v)
	}
	_, err := Truncate(style, tensor.New(4), 0.5)
	assert.Error(t, err)
}
