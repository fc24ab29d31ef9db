// Package liftedgan generates relighting animations from a pretrained
// lifted generator.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		"github.com/nekomi2/LiftedGAN"
//	)
//
//	func main() {
//		cfg := liftedgan.DefaultConfig()
//		cfg.Output.Dir = "./relit"
//		cfg.Generation.NSamples = 8
//
//		p, err := liftedgan.Open(context.Background(), cfg, "model.json", nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer p.Close()
//
//		summary, err := p.Run(context.Background())
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("wrote %d sequences", len(summary.Artifacts))
//	}
//
// For every sampled identity the model's style is truncated toward the mean
// style, decomposed once into depth, albedo, lighting and viewpoint, and then
// re-rendered under a horizontal sweep of light directions. The frames of one
// identity become one artifact: an animated GIF, or a directory of still
// frames for png, jpg and webp.
//
// The package consists of these components:
//
//  1. Generator (pkg/generator): the batch loop
//  2. Latent and Sweep (pkg/latent, pkg/sweep): sampling, truncation and lighting vectors
//  3. Processing and Sequence (pkg/processing, pkg/sequence): pixels and artifacts
//  4. Backends (pkg/synthetic, pkg/httpmodel, pkg/grpcmodel): model implementations
package liftedgan

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nekomi2/LiftedGAN/internal/config"
	"github.com/nekomi2/LiftedGAN/internal/utils"
	"github.com/nekomi2/LiftedGAN/pkg/client"
	"github.com/nekomi2/LiftedGAN/pkg/generator"
	"github.com/nekomi2/LiftedGAN/pkg/grpcmodel"
	"github.com/nekomi2/LiftedGAN/pkg/httpmodel"
	"github.com/nekomi2/LiftedGAN/pkg/processing"
	"github.com/nekomi2/LiftedGAN/pkg/sequence"
	"github.com/nekomi2/LiftedGAN/pkg/synthetic"
	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

// Version of the relighting generator
const Version = "1.0.0"

// Config is the application configuration.
type Config = config.Config

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a configuration file; an empty name yields defaults.
// LIFTEDGAN_* environment variables override both.
func LoadConfig(filename string) (*Config, error) {
	return config.Load(filename)
}

// Pipeline is an opened model wired to a generator and an artifact writer.
type Pipeline struct {
	Model     client.Model
	Generator *generator.Generator
	Options   generator.Options
	Seed      uint64
}

// LoaderFor returns the model loader for the configured backend.
func LoaderFor(b config.BackendConfig) (client.Loader, error) {
	switch b.Kind {
	case "", config.BackendSynthetic:
		return func(ctx context.Context, path string, device types.Device) (client.Model, error) {
			return synthetic.Load(ctx, path, device)
		}, nil
	case config.BackendHTTP:
		return httpmodel.Loader(b.URL), nil
	case config.BackendGRPC:
		return grpcmodel.Loader(b.URL), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", b.Kind)
	}
}

// Open validates cfg, loads modelPath through the configured backend and
// builds the generator. A zero seed is replaced by a time-based one, which
// is reported in Pipeline.Seed. A nil logger logs through the standard
// logger.
func Open(ctx context.Context, cfg *Config, modelPath string, logger generator.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Output.Dir == "" {
		return nil, fmt.Errorf("invalid config: output.dir is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	rounding, err := tensor.ParseRounding(cfg.Generation.Rounding)
	if err != nil {
		return nil, err
	}

	proc := &processing.Processor{Size: cfg.Output.Size}
	writer, err := sequence.New(sequence.Options{
		Format:   cfg.Output.Format,
		Quality:  cfg.Output.Quality,
		Lossless: cfg.Output.Lossless,
		Dither:   cfg.Output.Dither,
		Delay:    cfg.Output.Delay,
	}, proc)
	if err != nil {
		return nil, err
	}

	load, err := LoaderFor(cfg.Backend)
	if err != nil {
		return nil, err
	}
	device := types.Device(cfg.Backend.Device)
	model, err := load(ctx, modelPath, device)
	if err != nil {
		return nil, err
	}

	seed := cfg.Generation.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	logger.Printf("[relight] %s backend, model %s, seed %d", cfg.Backend.Kind, modelPath, seed)
	if utils.DirExists(cfg.Output.Dir) {
		logger.Printf("[relight] output directory %s exists, artifacts with the same names are replaced", cfg.Output.Dir)
	}

	return &Pipeline{
		Model: model,
		Generator: generator.New(model, writer, generator.Config{
			Device:    device,
			Seed:      seed,
			Processor: proc,
			Logger:    logger,
		}),
		Options: generator.Options{
			NSamples:   cfg.Generation.NSamples,
			BatchSize:  cfg.Generation.BatchSize,
			Truncation: cfg.Generation.Truncation,
			OutputDir:  cfg.Output.Dir,
			Sweep:      cfg.SweepSpec(),
			Rounding:   rounding,
		},
		Seed: seed,
	}, nil
}

// Run generates every configured sample.
func (p *Pipeline) Run(ctx context.Context) (*generator.Summary, error) {
	return p.Generator.Run(ctx, p.Options)
}

// Close releases the model.
func (p *Pipeline) Close() error {
	return p.Model.Close()
}
