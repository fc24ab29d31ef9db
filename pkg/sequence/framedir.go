package sequence

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/nekomi2/LiftedGAN/pkg/processing"
)

// FrameDirWriter stores a sequence as a directory of numbered still frames,
// 000.<format> onward.
type FrameDirWriter struct {
	Format   string
	Quality  int
	Lossless bool

	processor *processing.Processor
}

func (w *FrameDirWriter) Ext() string { return "" }

// Write creates the directory path and writes each frame into it.
func (w *FrameDirWriter) Write(path string, frames []image.Image) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to write")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	quality := w.Quality
	if quality <= 0 {
		quality = 90
	}
	for i, f := range frames {
		name := filepath.Join(path, fmt.Sprintf("%03d.%s", i, w.Format))
		if err := w.processor.SaveImage(f, name, w.Format, quality, w.Lossless); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}
