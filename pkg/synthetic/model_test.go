package synthetic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekomi2/LiftedGAN/pkg/latent"
	"github.com/nekomi2/LiftedGAN/pkg/sweep"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

var cpu = types.Exec{Device: types.CPU}

func smallDescriptor() Descriptor {
	return Descriptor{Name: "tiny", LatentDim: 8, StyleDim: 12, Channels: 3, Height: 6, Width: 5, Seed: 7}
}

func writeDescriptor(t *testing.T, d Descriptor) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, d.Save(path))
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	m, err := Load(ctx, writeDescriptor(t, smallDescriptor()), types.CPU)
	require.NoError(t, err)
	defer m.Close()

	info := m.Info()
	assert.Equal(t, "tiny", info.Name)
	assert.Equal(t, 8, info.LatentDim)
	assert.Equal(t, 12, info.StyleDim)
	assert.Equal(t, []int{12}, m.MeanStyle().Shape())
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	var loadErr *types.ModelLoadError

	_, err := Load(ctx, filepath.Join(t.TempDir(), "missing.json"), types.CPU)
	require.ErrorAs(t, err, &loadErr)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = Load(ctx, bad, types.CPU)
	assert.ErrorAs(t, err, &loadErr)

	d := smallDescriptor()
	d.Height = 0
	_, err = Load(ctx, writeDescriptor(t, d), types.CPU)
	assert.ErrorAs(t, err, &loadErr)

	var devErr *types.DeviceError
	_, err = Load(ctx, writeDescriptor(t, smallDescriptor()), "cuda:3")
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, types.Device("cuda:3"), devErr.Device)
	assert.ErrorIs(t, err, ErrNoDevice)

	m, err := Load(ctx, writeDescriptor(t, smallDescriptor()), "cuda:0")
	require.NoError(t, err)
	assert.Equal(t, types.Device("cuda:0"), m.Device())
}

func TestDeterministicAcrossLoads(t *testing.T) {
	a, err := New(smallDescriptor(), types.CPU)
	require.NoError(t, err)
	b, err := New(smallDescriptor(), types.CPU)
	require.NoError(t, err)

	z := latent.NewSampler(3).Sample(2, 8)
	sa, err := a.StyleMap(context.Background(), cpu, z)
	require.NoError(t, err)
	sb, err := b.StyleMap(context.Background(), cpu, z)
	require.NoError(t, err)
	assert.Equal(t, sa.Data(), sb.Data())
	assert.Equal(t, []int{2, 12}, sa.Shape())
}

func TestEstimateShapes(t *testing.T) {
	m, err := New(smallDescriptor(), types.CPU)
	require.NoError(t, err)
	ctx := context.Background()

	style, err := m.StyleMap(ctx, cpu, latent.NewSampler(1).Sample(3, 8))
	require.NoError(t, err)
	bundle, err := m.Estimate(ctx, cpu, style)
	require.NoError(t, err)

	require.NoError(t, bundle.Validate(3))
	assert.Equal(t, []int{3, 6, 5}, bundle.Depth.Shape())
	assert.Equal(t, []int{3, 3, 6, 5}, bundle.Albedo.Shape())
	assert.Equal(t, []int{3, 4}, bundle.Light.Shape())
	assert.Equal(t, []int{3, 6}, bundle.View.Shape())
	assert.Equal(t, []int{3, 12}, bundle.NeutralStyle.Shape())
	assert.Equal(t, []int{3, 6, 5, 2}, bundle.TransformMap.Shape())
	assert.Equal(t, bundle.Albedo.Data(), bundle.RawImage.Data())

	// identity warp corners
	assert.Equal(t, -1.0, bundle.TransformMap.At(0, 0, 0, 0))
	assert.Equal(t, 1.0, bundle.TransformMap.At(0, 5, 4, 1))
}

func TestRenderRangeAndScratchReuse(t *testing.T) {
	m, err := New(smallDescriptor(), types.CPU)
	require.NoError(t, err)
	ctx := context.Background()

	style, err := m.StyleMap(ctx, cpu, latent.NewSampler(9).Sample(2, 8))
	require.NoError(t, err)
	bundle, err := m.Estimate(ctx, cpu, style)
	require.NoError(t, err)

	render := func(angle float64) *types.RenderOutput {
		light, err := sweep.Light(bundle.Light, angle)
		require.NoError(t, err)
		out, err := m.Render(ctx, cpu, types.RenderInput{
			Depth: bundle.Depth, Albedo: bundle.Albedo, Light: light,
			View: bundle.View, TransformMap: bundle.TransformMap,
		})
		require.NoError(t, err)
		return out
	}

	left := render(-60)
	assert.Equal(t, []int{2, 3, 6, 5}, left.Frame.Shape())
	require.Len(t, left.Aux, 1)
	assert.Equal(t, []int{2, 1, 6, 5}, left.Aux[0].Shape())
	assert.GreaterOrEqual(t, left.Frame.Min(), -1.0)
	assert.LessOrEqual(t, left.Frame.Max(), 1.0)

	kept := left.Frame.Detach()
	right := render(60)
	// the backend reuses its buffer; only the detached copy survives
	assert.Same(t, left.Frame, right.Frame)
	assert.NotEqual(t, kept.Data(), right.Frame.Data())
}

func TestMaxBatchIsDeviceError(t *testing.T) {
	d := smallDescriptor()
	d.MaxBatch = 2
	m, err := New(d, types.CPU)
	require.NoError(t, err)

	_, err = m.StyleMap(context.Background(), cpu, latent.NewSampler(1).Sample(2, 8))
	require.NoError(t, err)

	_, err = m.StyleMap(context.Background(), cpu, latent.NewSampler(1).Sample(3, 8))
	var devErr *types.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.ErrorIs(t, err, types.ErrOutOfMemory)
	assert.Equal(t, "style_map", devErr.Op)
}

func TestCallErrors(t *testing.T) {
	m, err := New(smallDescriptor(), types.CPU)
	require.NoError(t, err)

	_, err = m.StyleMap(context.Background(), types.Exec{Device: "cuda:1"}, latent.NewSampler(1).Sample(1, 8))
	var devErr *types.DeviceError
	assert.ErrorAs(t, err, &devErr)

	_, err = m.StyleMap(context.Background(), cpu, latent.NewSampler(1).Sample(1, 4))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.StyleMap(ctx, cpu, latent.NewSampler(1).Sample(1, 8))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = m.Render(context.Background(), cpu, types.RenderInput{})
	assert.Error(t, err)

	_, err = m.StyleMap(context.Background(), types.Exec{Device: types.CPU, Mode: types.ModeTrain}, latent.NewSampler(1).Sample(1, 8))
	require.Error(t, err)
	assert.NotErrorAs(t, err, &devErr)
	assert.Contains(t, err.Error(), "train")
}
