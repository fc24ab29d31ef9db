package sequence

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"os"

	"golang.org/x/image/draw"
)

// DefaultDelay is 0.1 s per frame.
const DefaultDelay = 10

// GIFWriter encodes a sequence as a looping animated GIF.
type GIFWriter struct {
	Delay  int
	Dither bool
}

func (w *GIFWriter) Ext() string { return "gif" }

// Write encodes frames into a single GIF file at path.
func (w *GIFWriter) Write(path string, frames []image.Image) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to write")
	}
	delay := w.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}

	anim := &gif.GIF{LoopCount: 0}
	for _, f := range frames {
		anim.Image = append(anim.Image, w.paletted(f))
		anim.Delay = append(anim.Delay, delay)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gif.EncodeAll(out, anim); err != nil {
		out.Close()
		return fmt.Errorf("encode gif: %w", err)
	}
	return out.Close()
}

func (w *GIFWriter) paletted(img image.Image) *image.Paletted {
	b := img.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
	if w.Dither {
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, b.Min)
	} else {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}
	return dst
}
