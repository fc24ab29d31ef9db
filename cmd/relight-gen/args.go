package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/nekomi2/LiftedGAN/internal/config"
	"github.com/nekomi2/LiftedGAN/pkg/sweep"
)

type cliArgs struct {
	model      string
	configFile string
	set        map[string]bool

	outputDir  string
	nSamples   int
	truncation float64
	batchSize  int
	backend    string
	url        string
	device     string
	seed       uint64
	format     string
	rounding   string
	sweep      string
	size       int
	delay      int
	quality    int
	lossless   bool
	dither     bool
}

func newFlagSet(a *cliArgs, out io.Writer) *flag.FlagSet {
	d := config.Default()
	fs := flag.NewFlagSet("relight-gen", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&a.outputDir, "output_dir", "", "output directory (required)")
	fs.IntVar(&a.nSamples, "n_samples", d.Generation.NSamples, "number of identities to generate")
	fs.Float64Var(&a.truncation, "truncation", d.Generation.Truncation, "truncation toward the mean style (0..1)")
	fs.IntVar(&a.batchSize, "batch_size", d.Generation.BatchSize, "identities per model call")
	fs.StringVar(&a.configFile, "config", "", "config file (json|yaml|toml), defaults to ~/.config/liftedgan/config.json when present")

	fs.StringVar(&a.backend, "backend", d.Backend.Kind, "model backend: synthetic|http|grpc")
	fs.StringVar(&a.url, "url", "", "model server address for http/grpc backends")
	fs.StringVar(&a.device, "device", d.Backend.Device, "device to run the model on")
	fs.Uint64Var(&a.seed, "seed", 0, "latent seed, 0=time-based")

	fs.StringVar(&a.format, "format", d.Output.Format, "artifact format: gif|png|jpg|webp")
	fs.StringVar(&a.rounding, "rounding", d.Generation.Rounding, "pixel rounding: floor|nearest")
	fs.StringVar(&a.sweep, "sweep", sweep.Default.String(), "light sweep in degrees, min:max:step")
	fs.IntVar(&a.size, "size", 0, "max long side of frames (px), 0=native")
	fs.IntVar(&a.delay, "delay", d.Output.Delay, "gif frame delay in 1/100 s")
	fs.IntVar(&a.quality, "quality", d.Output.Quality, "jpg/webp quality (1-100)")
	fs.BoolVar(&a.lossless, "lossless", false, "webp lossless mode")
	fs.BoolVar(&a.dither, "dither", false, "gif Floyd-Steinberg dithering")

	fs.Usage = func() {
		fmt.Fprintf(out, "usage: relight-gen [flags] <model> [flags]\n")
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs accepts flags both before and after the positional model.
func parseArgs(argv []string, out io.Writer) (*cliArgs, error) {
	a := &cliArgs{set: map[string]bool{}}
	fs := newFlagSet(a, out)

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	for fs.NArg() > 0 {
		if a.model != "" {
			return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
		}
		a.model = fs.Arg(0)
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return nil, err
		}
	}
	fs.Visit(func(f *flag.Flag) { a.set[f.Name] = true })

	if a.model == "" {
		fs.Usage()
		return nil, errors.New("missing model argument")
	}
	return a, nil
}

// apply overlays explicitly set flags on cfg; the output directory must
// come from either.
func (a *cliArgs) apply(cfg *config.Config) error {
	if a.set["output_dir"] {
		cfg.Output.Dir = a.outputDir
	}
	if a.set["n_samples"] {
		cfg.Generation.NSamples = a.nSamples
	}
	if a.set["truncation"] {
		cfg.Generation.Truncation = a.truncation
	}
	if a.set["batch_size"] {
		cfg.Generation.BatchSize = a.batchSize
	}
	if a.set["backend"] {
		cfg.Backend.Kind = a.backend
	}
	if a.set["url"] {
		cfg.Backend.URL = a.url
	}
	if a.set["device"] {
		cfg.Backend.Device = a.device
	}
	if a.set["seed"] {
		cfg.Generation.Seed = a.seed
	}
	if a.set["format"] {
		cfg.Output.Format = a.format
	}
	if a.set["rounding"] {
		cfg.Generation.Rounding = a.rounding
	}
	if a.set["sweep"] {
		r, err := sweep.ParseRangeSpec(a.sweep)
		if err != nil {
			return err
		}
		cfg.Sweep = config.SweepConfig{Min: r.Min, Max: r.Max, Step: r.Step}
	}
	if a.set["size"] {
		cfg.Output.Size = a.size
	}
	if a.set["delay"] {
		cfg.Output.Delay = a.delay
	}
	if a.set["quality"] {
		cfg.Output.Quality = a.quality
	}
	if a.set["lossless"] {
		cfg.Output.Lossless = a.lossless
	}
	if a.set["dither"] {
		cfg.Output.Dither = a.dither
	}
	if cfg.Output.Dir == "" {
		return errors.New("--output_dir is required")
	}
	return nil
}
