// Package synthetic implements a small deterministic stand-in for a lifted
// generator. It honours the full model contract, so generation runs and
// tests can execute without a trained network or an accelerator.
package synthetic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/nekomi2/LiftedGAN/pkg/client"
	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

// ErrNoDevice is returned for a device the descriptor does not list.
var ErrNoDevice = errors.New("device not available")

// Descriptor is the on-disk model file read by Load.
type Descriptor struct {
	Name      string `json:"name"`
	LatentDim int    `json:"latent_dim"`
	StyleDim  int    `json:"style_dim"`
	Channels  int    `json:"channels"`
	Height    int    `json:"height"`
	Width     int    `json:"width"`
	Seed      uint64 `json:"seed"`
	// Devices lists the device names the model accepts. Empty means
	// cpu and cuda:0.
	Devices []string `json:"devices,omitempty"`
	// MaxBatch simulates device memory: larger batches fail with a
	// DeviceError. 0 means unlimited.
	MaxBatch int `json:"max_batch"`
}

// DefaultDescriptor mirrors the reference configuration at a small resolution.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		Name:      "synthetic",
		LatentDim: 512,
		StyleDim:  512,
		Channels:  3,
		Height:    64,
		Width:     64,
		Seed:      1,
	}
}

func (d *Descriptor) normalize() {
	if d.Name == "" {
		d.Name = "synthetic"
	}
	if d.StyleDim == 0 {
		d.StyleDim = d.LatentDim
	}
	if d.Channels == 0 {
		d.Channels = 3
	}
	if len(d.Devices) == 0 {
		d.Devices = []string{string(types.CPU), "cuda:0"}
	}
}

func (d Descriptor) supports(dev types.Device) bool {
	if dev.IsHost() {
		dev = types.CPU
	}
	for _, name := range d.Devices {
		if types.Device(name) == dev {
			return true
		}
	}
	return false
}

// Validate checks the descriptor dimensions.
func (d Descriptor) Validate() error {
	if d.LatentDim < 1 || d.StyleDim < 1 {
		return fmt.Errorf("latent_dim and style_dim must be positive")
	}
	if d.Channels != 1 && d.Channels != 3 {
		return fmt.Errorf("channels must be 1 or 3, got %d", d.Channels)
	}
	if d.Height < 2 || d.Width < 2 {
		return fmt.Errorf("height and width must be at least 2")
	}
	if d.MaxBatch < 0 {
		return fmt.Errorf("max_batch must be non-negative")
	}
	return nil
}

// Save writes the descriptor as JSON.
func (d Descriptor) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Model is the synthetic generator.
type Model struct {
	desc   Descriptor
	device types.Device

	scale []float64
	bias  []float64
	mean  *tensor.Tensor

	mu      sync.Mutex
	scratch *tensor.Tensor
}

var _ client.Model = (*Model)(nil)

// Load reads a JSON descriptor from path. It matches client.Loader.
func Load(ctx context.Context, path string, device types.Device) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ModelLoadError{Path: path, Err: err}
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, &types.ModelLoadError{Path: path, Err: fmt.Errorf("parse descriptor: %w", err)}
	}
	m, err := New(desc, device)
	if err != nil {
		var devErr *types.DeviceError
		if errors.As(err, &devErr) {
			return nil, err
		}
		return nil, &types.ModelLoadError{Path: path, Err: err}
	}
	return m, nil
}

// New builds a model from a descriptor on one of its supported devices.
func New(desc Descriptor, device types.Device) (*Model, error) {
	desc.normalize()
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if device == "" {
		device = types.CPU
	}
	if !desc.supports(device) {
		return nil, &types.DeviceError{Device: device, Op: "load", Err: ErrNoDevice}
	}

	rng := rand.New(rand.NewPCG(desc.Seed, desc.Seed+1))
	m := &Model{
		desc:   desc,
		device: device,
		scale:  make([]float64, desc.StyleDim),
		bias:   make([]float64, desc.StyleDim),
	}
	for j := range m.scale {
		m.scale[j] = 0.5 + rng.Float64()
		m.bias[j] = rng.NormFloat64() * 0.25
	}
	m.mean, _ = tensor.FromSlice(append([]float64(nil), m.bias...), desc.StyleDim)
	return m, nil
}

// Device is the device the model was loaded on.
func (m *Model) Device() types.Device { return m.device }

// Info describes the model.
func (m *Model) Info() types.ModelInfo {
	return types.ModelInfo{
		Name:      m.desc.Name,
		LatentDim: m.desc.LatentDim,
		StyleDim:  m.desc.StyleDim,
		Channels:  m.desc.Channels,
		Height:    m.desc.Height,
		Width:     m.desc.Width,
	}
}

// MeanStyle returns the expected style, which is the per-dimension bias.
func (m *Model) MeanStyle() *tensor.Tensor {
	return m.mean.Clone()
}

// Close is a no-op.
func (m *Model) Close() error { return nil }

// StyleMap applies a fixed per-dimension affine map to the latent batch.
func (m *Model) StyleMap(ctx context.Context, exec types.Exec, latent *tensor.Tensor) (*tensor.Tensor, error) {
	if err := m.check(ctx, exec, "style_map", latent); err != nil {
		return nil, err
	}
	if latent.Rank() != 2 || latent.Dim(1) != m.desc.LatentDim {
		return nil, fmt.Errorf("latent has shape %v, want (B, %d)", latent.Shape(), m.desc.LatentDim)
	}

	b, l, s := latent.Dim(0), m.desc.LatentDim, m.desc.StyleDim
	style := tensor.New(b, s)
	z, out := latent.Data(), style.Data()
	for i := 0; i < b; i++ {
		for j := 0; j < s; j++ {
			out[i*s+j] = m.scale[j]*z[i*l+j%l] + m.bias[j]
		}
	}
	return style, nil
}

// Estimate decomposes each style row into a dome-shaped depth map, a flat
// tinted albedo, a canonical light and an identity warp.
func (m *Model) Estimate(ctx context.Context, exec types.Exec, style *tensor.Tensor) (*types.SceneBundle, error) {
	if err := m.check(ctx, exec, "estimate", style); err != nil {
		return nil, err
	}
	if style.Rank() != 2 || style.Dim(1) != m.desc.StyleDim {
		return nil, fmt.Errorf("style has shape %v, want (B, %d)", style.Shape(), m.desc.StyleDim)
	}

	b, s := style.Dim(0), m.desc.StyleDim
	h, w, c := m.desc.Height, m.desc.Width, m.desc.Channels
	bundle := &types.SceneBundle{
		Depth:        tensor.New(b, h, w),
		Albedo:       tensor.New(b, c, h, w),
		Light:        tensor.New(b, 4),
		View:         tensor.New(b, 6),
		NeutralStyle: tensor.New(b, s),
		TransformMap: tensor.New(b, h, w, 2),
	}

	for i := 0; i < b; i++ {
		row := style.Data()[i*s : (i+1)*s]
		at := func(k int) float64 { return row[k%s] }

		curv := 0.5 + 0.3*sigmoid(at(1))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				u, v := grid(x, w), grid(y, h)
				bundle.Depth.Set(math.Max(0, 1-curv*(u*u+v*v)), i, y, x)
				bundle.TransformMap.Set(u, i, y, x, 0)
				bundle.TransformMap.Set(v, i, y, x, 1)
				for ch := 0; ch < c; ch++ {
					bundle.Albedo.Set(math.Tanh(at(ch+4))*0.8+0.1*u, i, ch, y, x)
				}
			}
		}

		bundle.Light.Set(sigmoid(at(0)), i, 0)
		bundle.Light.Set(sigmoid(at(1)), i, 1)
		bundle.Light.Set(math.Tanh(at(2)), i, 2)
		bundle.Light.Set(math.Tanh(at(3)), i, 3)
		for k := 0; k < 6; k++ {
			bundle.View.Set(0.1*math.Tanh(at(k+8)), i, k)
		}
		copy(bundle.NeutralStyle.Data()[i*s:(i+1)*s], m.bias)
	}
	bundle.RawImage = bundle.Albedo.Clone()
	return bundle, nil
}

// Render shades the albedo with light[3] + light[0] + light[1]*max(0, n·l),
// where n comes from the depth gradient and l = normalize(light[2], 0, 1).
// The frame is written into a buffer reused by the next call; callers must
// Detach it before rendering again. Aux holds a (B, 1, H, W) validity mask.
func (m *Model) Render(ctx context.Context, exec types.Exec, in types.RenderInput) (*types.RenderOutput, error) {
	if in.Depth == nil || in.Albedo == nil || in.Light == nil {
		return nil, fmt.Errorf("render input missing depth, albedo or light")
	}
	if err := m.check(ctx, exec, "render", in.Depth); err != nil {
		return nil, err
	}
	b, h, w, c := in.Depth.Dim(0), m.desc.Height, m.desc.Width, m.desc.Channels
	if got := in.Depth.Shape(); len(got) != 3 || got[1] != h || got[2] != w {
		return nil, fmt.Errorf("depth has shape %v, want (%d, %d, %d)", got, b, h, w)
	}
	if got := in.Albedo.Shape(); len(got) != 4 || got[0] != b || got[1] != c || got[2] != h || got[3] != w {
		return nil, fmt.Errorf("albedo has shape %v, want (%d, %d, %d, %d)", got, b, c, h, w)
	}
	if in.Light.Rank() != 2 || in.Light.Dim(0) != b || in.Light.Dim(1) != 4 {
		return nil, fmt.Errorf("light has shape %v, want (%d, 4)", in.Light.Shape(), b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scratch == nil || !m.scratch.SameShape(in.Albedo) {
		m.scratch = tensor.New(b, c, h, w)
	}
	frame := m.scratch
	mask := tensor.New(b, 1, h, w)

	for i := 0; i < b; i++ {
		base := in.Light.At(i, 3) + in.Light.At(i, 0)
		gain := in.Light.At(i, 1)
		lx, ly, lz := normalize(in.Light.At(i, 2), 0, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dx := (in.Depth.At(i, y, clampIdx(x+1, w)) - in.Depth.At(i, y, clampIdx(x-1, w))) * float64(w) / 4
				dy := (in.Depth.At(i, clampIdx(y+1, h), x) - in.Depth.At(i, clampIdx(y-1, h), x)) * float64(h) / 4
				nx, ny, nz := normalize(-dx, -dy, 1)
				shade := base + gain*math.Max(0, nx*lx+ny*ly+nz*lz)
				for ch := 0; ch < c; ch++ {
					alb := (in.Albedo.At(i, ch, y, x) + 1) / 2
					frame.Set(alb*shade*2-1, i, ch, y, x)
				}
				if in.Depth.At(i, y, x) > 0 {
					mask.Set(1, i, 0, y, x)
				}
			}
		}
	}
	return &types.RenderOutput{Frame: frame, Aux: []*tensor.Tensor{mask}}, nil
}

func (m *Model) check(ctx context.Context, exec types.Exec, op string, batch *tensor.Tensor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !exec.NoGrad() {
		return fmt.Errorf("%s: %s mode is not supported, the model has no gradients", op, exec.Mode)
	}
	if exec.Device != "" && exec.Device != m.device {
		return &types.DeviceError{Device: exec.Device, Op: op, Err: fmt.Errorf("%w: model is on %s", ErrNoDevice, m.device)}
	}
	if batch == nil || batch.Rank() == 0 {
		return fmt.Errorf("%s: missing batch input", op)
	}
	if m.desc.MaxBatch > 0 && batch.Dim(0) > m.desc.MaxBatch {
		return &types.DeviceError{
			Device: m.device,
			Op:     op,
			Err:    fmt.Errorf("%w: batch %d exceeds limit %d", types.ErrOutOfMemory, batch.Dim(0), m.desc.MaxBatch),
		}
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// grid maps pixel index i of n onto [-1, 1].
func grid(i, n int) float64 {
	return 2*float64(i)/float64(n-1) - 1
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func normalize(x, y, z float64) (float64, float64, float64) {
	n := math.Sqrt(x*x + y*y + z*z)
	if n == 0 {
		return 0, 0, 1
	}
	return x / n, y / n, z / n
}
