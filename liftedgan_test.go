package liftedgan

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekomi2/LiftedGAN/internal/config"
	"github.com/nekomi2/LiftedGAN/pkg/httpmodel"
	"github.com/nekomi2/LiftedGAN/pkg/synthetic"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

type quietLogger struct{}

func (quietLogger) Printf(string, ...interface{}) {}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func writeModel(t *testing.T) string {
	t.Helper()
	d := synthetic.Descriptor{Name: "tiny", LatentDim: 8, Height: 8, Width: 8, Seed: 1}
	path := filepath.Join(t.TempDir(), "tiny.json")
	require.NoError(t, d.Save(path))
	return path
}

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")
	cfg.Generation.NSamples = 3
	cfg.Generation.BatchSize = 2
	cfg.Generation.Seed = 5
	return cfg
}

func TestOpenAndRunSynthetic(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	p, err := Open(ctx, cfg, writeModel(t), quietLogger{})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, uint64(5), p.Seed)
	assert.Equal(t, types.Device("cuda:0"), p.Model.(*synthetic.Model).Device())

	summary, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, summary.Artifacts, 3)
	for _, name := range []string{"1.gif", "2.gif", "3.gif"} {
		assert.FileExists(t, filepath.Join(cfg.Output.Dir, name))
	}
}

func TestOpenReportsExistingOutputDir(t *testing.T) {
	cfg := testConfig(t)
	model := writeModel(t)

	fresh := &recordingLogger{}
	p, err := Open(context.Background(), cfg, model, fresh)
	require.NoError(t, err)
	p.Close()
	for _, line := range fresh.lines {
		assert.NotContains(t, line, "exists")
	}

	require.NoError(t, os.MkdirAll(cfg.Output.Dir, 0755))
	existing := &recordingLogger{}
	p, err = Open(context.Background(), cfg, model, existing)
	require.NoError(t, err)
	p.Close()
	require.Len(t, existing.lines, 2)
	assert.Contains(t, existing.lines[1], cfg.Output.Dir)
}

func TestOpenTimeSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Seed = 0
	p, err := Open(context.Background(), cfg, writeModel(t), quietLogger{})
	require.NoError(t, err)
	assert.NotZero(t, p.Seed)
}

func TestOpenHTTPBackend(t *testing.T) {
	m, err := synthetic.New(synthetic.Descriptor{Name: "tiny", LatentDim: 8, Height: 4, Width: 4, Seed: 1}, types.CPU)
	require.NoError(t, err)
	srv := httptest.NewServer(httpmodel.NewHandler(m))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Backend = config.BackendConfig{Kind: config.BackendHTTP, URL: srv.URL, Device: "cpu"}
	cfg.Output.Format = "png"

	p, err := Open(context.Background(), cfg, "tiny", quietLogger{})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(cfg.Output.Dir, "2"))
	require.NoError(t, err)
	assert.Len(t, entries, 21)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Output.Dir = ""
	_, err := Open(ctx, cfg, writeModel(t), quietLogger{})
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Generation.Truncation = -0.1
	_, err = Open(ctx, cfg, writeModel(t), quietLogger{})
	assert.Error(t, err)

	cfg = testConfig(t)
	_, err = Open(ctx, cfg, filepath.Join(t.TempDir(), "missing.json"), quietLogger{})
	var loadErr *types.ModelLoadError
	assert.ErrorAs(t, err, &loadErr)

	cfg = testConfig(t)
	cfg.Backend.Device = "tpu"
	_, err = Open(ctx, cfg, writeModel(t), quietLogger{})
	var devErr *types.DeviceError
	assert.ErrorAs(t, err, &devErr)
}

func TestLoaderFor(t *testing.T) {
	for _, kind := range []string{"", config.BackendSynthetic, config.BackendHTTP, config.BackendGRPC} {
		l, err := LoaderFor(config.BackendConfig{Kind: kind})
		assert.NoError(t, err)
		assert.NotNil(t, l)
	}
	_, err := LoaderFor(config.BackendConfig{Kind: "onnx"})
	assert.Error(t, err)
}
