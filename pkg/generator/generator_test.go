package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/gif"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekomi2/LiftedGAN/pkg/client"
	"github.com/nekomi2/LiftedGAN/pkg/sequence"
	"github.com/nekomi2/LiftedGAN/pkg/sweep"
	"github.com/nekomi2/LiftedGAN/pkg/synthetic"
	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

type discardLogger struct{ lines []string }

func (l *discardLogger) Printf(format string, v ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func testModel(t *testing.T) *synthetic.Model {
	t.Helper()
	m, err := synthetic.New(synthetic.Descriptor{
		Name: "tiny", LatentDim: 8, StyleDim: 8, Channels: 3, Height: 6, Width: 5, Seed: 3,
	}, types.CPU)
	require.NoError(t, err)
	return m
}

func newGenerator(t *testing.T, m client.Model, format string) (*Generator, *discardLogger) {
	t.Helper()
	w, err := sequence.New(sequence.Options{Format: format}, nil)
	require.NoError(t, err)
	logger := &discardLogger{}
	return New(m, w, Config{Device: types.CPU, Seed: 42, Logger: logger}), logger
}

func options(dir string, n, batch int) Options {
	opts := DefaultOptions(dir)
	opts.NSamples = n
	opts.BatchSize = batch
	return opts
}

func readGIF(t *testing.T, path string) *gif.GIF {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	anim, err := gif.DecodeAll(f)
	require.NoError(t, err)
	return anim
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names
}

func TestRunWritesOneArtifactPerSample(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	g, logger := newGenerator(t, testModel(t), "gif")

	summary, err := g.Run(context.Background(), options(dir, 5, 2))
	require.NoError(t, err)

	want := []string{"1.gif", "2.gif", "3.gif", "4.gif", "5.gif"}
	assert.Empty(t, cmp.Diff(want, listDir(t, dir)))
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 5*21, summary.Frames)
	assert.Positive(t, summary.Bytes)
	require.Len(t, summary.Artifacts, 5)
	assert.Equal(t, filepath.Join(dir, "1.gif"), summary.Artifacts[0])
	assert.Equal(t, filepath.Join(dir, "5.gif"), summary.Artifacts[4])

	for _, name := range want {
		anim := readGIF(t, filepath.Join(dir, name))
		require.Len(t, anim.Image, 21)
		b := anim.Image[0].Bounds()
		assert.Equal(t, 5, b.Dx())
		assert.Equal(t, 6, b.Dy())
	}
	// start line, one per batch, done line
	assert.Len(t, logger.lines, 5)
}

func TestSingleSample(t *testing.T) {
	dir := t.TempDir()
	g, _ := newGenerator(t, testModel(t), "gif")

	_, err := g.Run(context.Background(), options(dir, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.gif"}, listDir(t, dir))

	anim := readGIF(t, filepath.Join(dir, "1.gif"))
	require.Len(t, anim.Image, 21)
	// the sweep moves the light, so first and last frames differ
	assert.NotEqual(t, anim.Image[0].Pix, anim.Image[20].Pix)
}

func TestZeroSamples(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty")
	g, _ := newGenerator(t, testModel(t), "gif")

	summary, err := g.Run(context.Background(), options(dir, 0, 16))
	require.NoError(t, err)
	assert.Empty(t, summary.Artifacts)
	assert.Empty(t, listDir(t, dir))
}

func TestBatchSizeIndependence(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()

	g, _ := newGenerator(t, testModel(t), "gif")
	_, err := g.Run(ctx, options(dirA, 10, 4))
	require.NoError(t, err)
	g, _ = newGenerator(t, testModel(t), "gif")
	_, err = g.Run(ctx, options(dirB, 10, 10))
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		name := fmt.Sprintf("%d.gif", i)
		a, err := os.ReadFile(filepath.Join(dirA, name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(dirB, name))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(a, b), "artifact %s differs between batch sizes", name)
	}
}

func TestRunIsReproducible(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	g, _ := newGenerator(t, testModel(t), "gif")

	_, err := g.Run(ctx, options(filepath.Join(dir, "a"), 2, 2))
	require.NoError(t, err)
	_, err = g.Run(ctx, options(filepath.Join(dir, "b"), 2, 2))
	require.NoError(t, err)

	a, _ := os.ReadFile(filepath.Join(dir, "a", "2.gif"))
	b, _ := os.ReadFile(filepath.Join(dir, "b", "2.gif"))
	assert.Equal(t, a, b)
}

func TestTruncationZeroGivesIdenticalSamples(t *testing.T) {
	dir := t.TempDir()
	g, _ := newGenerator(t, testModel(t), "gif")
	opts := options(dir, 3, 3)
	opts.Truncation = 0

	_, err := g.Run(context.Background(), opts)
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(dir, "1.gif"))
	require.NoError(t, err)
	for _, name := range []string{"2.gif", "3.gif"} {
		other, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, first, other)
	}
}

// recordingModel captures what the generator passes to the model.
type recordingModel struct {
	client.Model
	mapped    []*tensor.Tensor
	styles    []*tensor.Tensor
	templates []*tensor.Tensor
	lights    []*tensor.Tensor
	execs     []types.Exec
}

func (r *recordingModel) StyleMap(ctx context.Context, exec types.Exec, z *tensor.Tensor) (*tensor.Tensor, error) {
	style, err := r.Model.StyleMap(ctx, exec, z)
	if err == nil {
		r.mapped = append(r.mapped, style.Clone())
	}
	return style, err
}

func (r *recordingModel) Estimate(ctx context.Context, exec types.Exec, style *tensor.Tensor) (*types.SceneBundle, error) {
	r.styles = append(r.styles, style.Clone())
	b, err := r.Model.Estimate(ctx, exec, style)
	if err == nil {
		r.templates = append(r.templates, b.Light)
	}
	return b, err
}

func (r *recordingModel) Render(ctx context.Context, exec types.Exec, in types.RenderInput) (*types.RenderOutput, error) {
	r.lights = append(r.lights, in.Light.Clone())
	r.execs = append(r.execs, exec)
	return r.Model.Render(ctx, exec, in)
}

func TestRenderReceivesPinnedLighting(t *testing.T) {
	rec := &recordingModel{Model: testModel(t)}
	g, _ := newGenerator(t, rec, "gif")

	_, err := g.Run(context.Background(), options(t.TempDir(), 2, 2))
	require.NoError(t, err)

	angles := sweep.Default.Angles()
	require.Len(t, rec.lights, len(angles))
	require.Len(t, rec.templates, 1)
	template := rec.templates[0].Clone()

	for k, light := range rec.lights {
		assert.Equal(t, []int{2, 4}, light.Shape())
		for i := 0; i < 2; i++ {
			assert.Equal(t, sweep.BiasX, light.At(i, 0))
			assert.Equal(t, sweep.BiasY, light.At(i, 1))
			assert.InDelta(t, math.Tan(angles[k]*math.Pi/180), light.At(i, 2), 1e-12)
			assert.Equal(t, sweep.AmbientOff, light.At(i, 3))
		}
		assert.Equal(t, types.Exec{Device: types.CPU, Mode: types.ModeInference}, rec.execs[k])
	}
	// the estimated template itself is never overwritten
	assert.Equal(t, template.Data(), rec.templates[0].Data())
}

func TestTruncationBoundaries(t *testing.T) {
	m := testModel(t)
	mean := m.MeanStyle()

	rec := &recordingModel{Model: m}
	g, _ := newGenerator(t, rec, "gif")
	opts := options(t.TempDir(), 2, 2)
	opts.Truncation = 0
	_, err := g.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, rec.styles, 1)
	for i := 0; i < 2; i++ {
		assert.Equal(t, mean.Data(), rec.styles[0].Index(i).Data())
	}

	// t=1 passes the mapped style through untouched
	rec = &recordingModel{Model: m}
	g, _ = newGenerator(t, rec, "gif")
	opts = options(t.TempDir(), 3, 2)
	opts.Truncation = 1
	_, err = g.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, rec.mapped, 2)
	require.Len(t, rec.styles, 2)
	for k := range rec.styles {
		assert.Equal(t, rec.mapped[k].Shape(), rec.styles[k].Shape())
		assert.Equal(t, rec.mapped[k].Data(), rec.styles[k].Data())
		assert.NotEqual(t, mean.Data(), rec.styles[k].Index(0).Data())
	}
}

// faultyModel fails Estimate with a device error from call failAt onwards.
type faultyModel struct {
	client.Model
	calls  int
	failAt int
}

func (f *faultyModel) Estimate(ctx context.Context, exec types.Exec, style *tensor.Tensor) (*types.SceneBundle, error) {
	f.calls++
	if f.calls >= f.failAt {
		return nil, &types.DeviceError{Device: exec.Device, Op: "estimate", Err: types.ErrOutOfMemory}
	}
	return f.Model.Estimate(ctx, exec, style)
}

func TestDeviceErrorKeepsEarlierArtifacts(t *testing.T) {
	dir := t.TempDir()
	g, _ := newGenerator(t, &faultyModel{Model: testModel(t), failAt: 2}, "gif")

	summary, err := g.Run(context.Background(), options(dir, 6, 2))
	var devErr *types.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.ErrorIs(t, err, types.ErrOutOfMemory)

	assert.Equal(t, []string{"1.gif", "2.gif"}, listDir(t, dir))
	assert.Len(t, summary.Artifacts, 2)
}

func TestMaxBatchDeviceError(t *testing.T) {
	m, err := synthetic.New(synthetic.Descriptor{
		Name: "tiny", LatentDim: 8, Height: 4, Width: 4, Seed: 1, MaxBatch: 2,
	}, types.CPU)
	require.NoError(t, err)
	g, _ := newGenerator(t, m, "gif")

	_, err = g.Run(context.Background(), options(t.TempDir(), 3, 3))
	var devErr *types.DeviceError
	assert.ErrorAs(t, err, &devErr)
}

func TestIOErrors(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	g, _ := newGenerator(t, testModel(t), "gif")
	_, err := g.Run(context.Background(), options(filepath.Join(blocker, "out"), 1, 1))
	var ioErr *types.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "mkdir", ioErr.Op)

	// a directory squatting on the artifact name makes the write fail
	dir := filepath.Join(base, "out")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "1.gif"), 0o755))
	_, err = g.Run(context.Background(), options(dir, 1, 1))
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)
}

func TestFrameDirectoryFormat(t *testing.T) {
	dir := t.TempDir()
	g, _ := newGenerator(t, testModel(t), "png")

	summary, err := g.Run(context.Background(), options(dir, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, listDir(t, dir))
	assert.Equal(t, filepath.Join(dir, "2"), summary.Artifacts[1])

	frames := listDir(t, filepath.Join(dir, "1"))
	require.Len(t, frames, 21)
	assert.Equal(t, "000.png", frames[0])
	assert.Equal(t, "020.png", frames[20])
}

func TestCustomSweep(t *testing.T) {
	dir := t.TempDir()
	g, _ := newGenerator(t, testModel(t), "gif")
	opts := options(dir, 1, 1)
	opts.Sweep = sweep.RangeSpec{Min: -30, Max: 30, Step: 15}

	summary, err := g.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Frames)
	assert.Len(t, readGIF(t, filepath.Join(dir, "1.gif")).Image, 5)
}

func TestCancelledContext(t *testing.T) {
	dir := t.TempDir()
	g, _ := newGenerator(t, testModel(t), "gif")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Run(ctx, options(dir, 3, 1))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, listDir(t, dir))
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"negative samples", func(o *Options) { o.NSamples = -1 }},
		{"zero batch", func(o *Options) { o.BatchSize = 0 }},
		{"truncation above one", func(o *Options) { o.Truncation = 1.5 }},
		{"truncation nan", func(o *Options) { o.Truncation = math.NaN() }},
		{"no output dir", func(o *Options) { o.OutputDir = "" }},
		{"bad sweep", func(o *Options) { o.Sweep = sweep.RangeSpec{Min: 0, Max: 10, Step: 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions("out")
			tt.modify(&opts)
			assert.Error(t, opts.Validate())
		})
	}
	assert.NoError(t, DefaultOptions("out").Validate())

	g, _ := newGenerator(t, testModel(t), "gif")
	dir := filepath.Join(t.TempDir(), "never")
	opts := options(dir, 1, 1)
	opts.Truncation = 2
	_, err := g.Run(context.Background(), opts)
	assert.Error(t, err)
	assert.NoDirExists(t, dir)
}
