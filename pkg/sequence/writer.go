// Package sequence writes rendered frame sequences as artifacts on disk.
package sequence

import (
	"fmt"
	"image"
	"strings"

	"github.com/nekomi2/LiftedGAN/pkg/processing"
)

// Writer stores one ordered frame sequence under path.
type Writer interface {
	// Ext is the artifact suffix, without the dot. Empty means the
	// artifact is a directory.
	Ext() string
	Write(path string, frames []image.Image) error
}

// Options configures New.
type Options struct {
	Format   string // gif, png, jpg or webp
	Quality  int    // jpg/webp quality 1-100
	Lossless bool   // webp lossless
	Dither   bool   // gif Floyd-Steinberg dithering
	Delay    int    // gif frame delay in 1/100 s
}

// New returns the writer for opts.Format.
func New(opts Options, proc *processing.Processor) (Writer, error) {
	switch strings.ToLower(opts.Format) {
	case "", "gif":
		return &GIFWriter{Delay: opts.Delay, Dither: opts.Dither}, nil
	case "png", "jpg", "jpeg", "webp":
		if proc == nil {
			proc = processing.NewProcessor()
		}
		return &FrameDirWriter{
			Format:    strings.ToLower(opts.Format),
			Quality:   opts.Quality,
			Lossless:  opts.Lossless,
			processor: proc,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported sequence format %q (use gif, png, jpg or webp)", opts.Format)
	}
}
