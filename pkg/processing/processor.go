package processing

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/nekomi2/LiftedGAN/pkg/tensor"
)

// Processor converts quantized frame tensors into images and writes them out.
type Processor struct {
	// Size is the maximum long side of produced frames, 0 keeps the
	// model's native resolution.
	Size int
}

// NewProcessor creates a processor that keeps native resolution.
func NewProcessor() *Processor {
	return &Processor{}
}

// Frames converts a (T, H, W, C) byte sequence into T images. C may be 1
// (gray), 3 (RGB) or 4 (RGBA).
func (p *Processor) Frames(seq *tensor.Uint8) ([]image.Image, error) {
	shape := seq.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("frame sequence has shape %v, want (T, H, W, C)", shape)
	}
	n, h, w, c := shape[0], shape[1], shape[2], shape[3]
	if c != 1 && c != 3 && c != 4 {
		return nil, fmt.Errorf("unsupported channel count %d", c)
	}

	data := seq.Data()
	frameLen := h * w * c
	frames := make([]image.Image, 0, n)
	for t := 0; t < n; t++ {
		img := toNRGBA(data[t*frameLen:(t+1)*frameLen], w, h, c)
		frames = append(frames, p.Resize(img))
	}
	return frames, nil
}

// Resize scales img so its long side equals p.Size. Images are returned
// unchanged when Size is 0 or already matches.
func (p *Processor) Resize(img image.Image) image.Image {
	if p.Size <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxInt(w, h) == p.Size {
		return img
	}
	if w >= h {
		return imaging.Resize(img, p.Size, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, p.Size, imaging.Lanczos)
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		if err := webp.Encode(f, img, opts); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case "png":
		return imaging.Save(img, path)
	case "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported frame format: %s", format)
	}
}

func toNRGBA(px []uint8, w, h, c int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := (y*w + x) * c
			var col color.NRGBA
			switch c {
			case 1:
				col = color.NRGBA{px[s], px[s], px[s], 255}
			case 3:
				col = color.NRGBA{px[s], px[s+1], px[s+2], 255}
			default:
				col = color.NRGBA{px[s], px[s+1], px[s+2], px[s+3]}
			}
			i := img.PixOffset(x, y)
			img.Pix[i+0] = col.R
			img.Pix[i+1] = col.G
			img.Pix[i+2] = col.B
			img.Pix[i+3] = col.A
		}
	}
	return img
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
