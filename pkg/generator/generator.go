// Package generator drives a lifted generator through batches of sampled
// identities, re-renders each one under a sweep of lighting directions and
// writes one frame sequence per identity.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nekomi2/LiftedGAN/internal/utils"
	"github.com/nekomi2/LiftedGAN/pkg/client"
	"github.com/nekomi2/LiftedGAN/pkg/latent"
	"github.com/nekomi2/LiftedGAN/pkg/processing"
	"github.com/nekomi2/LiftedGAN/pkg/sequence"
	"github.com/nekomi2/LiftedGAN/pkg/sweep"
	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

// Logger receives progress messages.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Options controls one generation run.
type Options struct {
	NSamples   int
	BatchSize  int
	Truncation float64
	OutputDir  string
	Sweep      sweep.RangeSpec
	Rounding   tensor.Rounding
}

// DefaultOptions returns the reference settings for outputDir.
func DefaultOptions(outputDir string) Options {
	return Options{
		NSamples:   100,
		BatchSize:  16,
		Truncation: 0.7,
		OutputDir:  outputDir,
		Sweep:      sweep.Default,
		Rounding:   tensor.Floor,
	}
}

func (o *Options) normalize() {
	if o.Sweep == (sweep.RangeSpec{}) {
		o.Sweep = sweep.Default
	}
}

// Validate checks the options before any work is done.
func (o Options) Validate() error {
	if o.NSamples < 0 {
		return fmt.Errorf("n_samples must be non-negative, got %d", o.NSamples)
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", o.BatchSize)
	}
	if !(o.Truncation >= 0 && o.Truncation <= 1) {
		return fmt.Errorf("truncation must be in [0, 1], got %v", o.Truncation)
	}
	if o.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if err := o.Sweep.Validate(); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}

// Summary describes a finished run.
type Summary struct {
	Artifacts []string
	Batches   int
	Frames    int
	Bytes     int64
	Duration  time.Duration
}

// Config wires a Generator.
type Config struct {
	Device    types.Device
	Seed      uint64
	Processor *processing.Processor
	Logger    Logger
}

// Generator runs the sample, decompose, relight and write loop.
type Generator struct {
	model  client.Model
	writer sequence.Writer
	proc   *processing.Processor
	exec   types.Exec
	seed   uint64
	logger Logger
}

// New creates a generator that renders with model and stores sequences
// through writer.
func New(model client.Model, writer sequence.Writer, cfg Config) *Generator {
	g := &Generator{
		model:  model,
		writer: writer,
		proc:   cfg.Processor,
		exec:   types.Exec{Device: cfg.Device, Mode: types.ModeInference},
		seed:   cfg.Seed,
		logger: cfg.Logger,
	}
	if g.proc == nil {
		g.proc = processing.NewProcessor()
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	return g
}

// Run generates opts.NSamples sequences named 1..NSamples in
// opts.OutputDir. Latents come from a fresh sampler seeded with the
// generator's seed, so a run is reproducible whatever the batch size.
// The first error stops the run; artifacts already written stay on disk.
func (g *Generator) Run(ctx context.Context, opts Options) (*Summary, error) {
	opts.normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(opts.OutputDir); err != nil {
		return nil, &types.IOError{Op: "mkdir", Path: opts.OutputDir, Err: err}
	}

	start := time.Now()
	sampler := latent.NewSampler(g.seed)
	angles := opts.Sweep.Angles()
	batches := (opts.NSamples + opts.BatchSize - 1) / opts.BatchSize
	summary := &Summary{}

	info := g.model.Info()
	g.logger.Printf("[relight] model %s (%dx%d, latent %d) on %s: %d samples in %d batches, %d angles %s",
		info.Name, info.Width, info.Height, info.LatentDim, g.exec.Device, opts.NSamples, batches, len(angles), opts.Sweep)

	for first := 0; first < opts.NSamples; first += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		b := min(opts.BatchSize, opts.NSamples-first)
		z := sampler.Sample(b, info.LatentDim)

		seqs, err := g.renderBatch(ctx, z, angles, opts)
		if err != nil {
			return summary, fmt.Errorf("batch %d: %w", summary.Batches+1, err)
		}

		var written int64
		for i := 0; i < b; i++ {
			path := utils.ArtifactPath(opts.OutputDir, first+i+1, g.writer.Ext())
			frames, err := g.proc.Frames(seqs.Index(i))
			if err != nil {
				return summary, fmt.Errorf("sample %d: %w", first+i+1, err)
			}
			if err := g.writer.Write(path, frames); err != nil {
				return summary, &types.IOError{Op: "write", Path: path, Err: err}
			}
			if size, err := utils.PathSize(path); err == nil {
				written += size
			}
			summary.Artifacts = append(summary.Artifacts, path)
			summary.Frames += len(frames)
		}
		summary.Batches++
		summary.Bytes += written
		g.logger.Printf("[relight] batch %d/%d: wrote samples %d-%d (%s)",
			summary.Batches, batches, first+1, first+b, utils.FormatFileSize(written))
	}

	summary.Duration = time.Since(start)
	g.logger.Printf("[relight] done: %d artifacts, %d frames, %s in %v",
		len(summary.Artifacts), summary.Frames, utils.FormatFileSize(summary.Bytes), summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// renderBatch turns a (B, D) latent batch into a (B, T, H, W, C) uint8
// sequence tensor, T being the number of angles.
func (g *Generator) renderBatch(ctx context.Context, z *tensor.Tensor, angles []float64, opts Options) (*tensor.Uint8, error) {
	b := z.Dim(0)

	style, err := g.model.StyleMap(ctx, g.exec, z)
	if err != nil {
		return nil, fmt.Errorf("style map: %w", err)
	}
	style, err = latent.Truncate(style, g.model.MeanStyle(), opts.Truncation)
	if err != nil {
		return nil, err
	}

	bundle, err := g.model.Estimate(ctx, g.exec, style)
	if err != nil {
		return nil, fmt.Errorf("estimate: %w", err)
	}
	if err := bundle.Validate(b); err != nil {
		return nil, err
	}

	frames := make([]*tensor.Tensor, 0, len(angles))
	for _, angle := range angles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		light, err := sweep.Light(bundle.Light, angle)
		if err != nil {
			return nil, err
		}
		out, err := g.model.Render(ctx, g.exec, types.RenderInput{
			Depth:        bundle.Depth,
			Albedo:       bundle.Albedo,
			Light:        light,
			View:         bundle.View,
			TransformMap: bundle.TransformMap,
		})
		if err != nil {
			return nil, fmt.Errorf("render at %v°: %w", angle, err)
		}
		if out == nil || out.Frame == nil {
			return nil, errors.New("render returned no frame")
		}
		if out.Frame.Rank() != 4 || out.Frame.Dim(0) != b {
			return nil, fmt.Errorf("render frame has shape %v, want (%d, C, H, W)", out.Frame.Shape(), b)
		}
		frames = append(frames, out.Frame.Detach())
	}

	stacked, err := tensor.Stack(frames, 1)
	if err != nil {
		return nil, err
	}
	hwc, err := stacked.Clamp(-1, 1).Permute(0, 1, 3, 4, 2)
	if err != nil {
		return nil, err
	}
	return hwc.Affine(0.5, 0.5).Quantize(opts.Rounding), nil
}
