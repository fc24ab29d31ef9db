package types

import (
	"fmt"

	"github.com/nekomi2/LiftedGAN/pkg/tensor"
)

// Device names the compute device a model runs on, e.g. "cuda:0" or "cpu".
type Device string

// CPU is the host device.
const CPU Device = "cpu"

// IsHost reports whether d refers to host memory.
func (d Device) IsHost() bool {
	return d == "" || d == CPU
}

// ExecMode selects how a model call is executed.
type ExecMode int

const (
	// ModeInference disables gradient tracking.
	ModeInference ExecMode = iota
	// ModeTrain keeps gradient tracking enabled.
	ModeTrain
)

func (m ExecMode) String() string {
	if m == ModeTrain {
		return "train"
	}
	return "inference"
}

// Exec is passed to every model call instead of relying on process-wide
// device or autograd state.
type Exec struct {
	Device Device   `json:"device"`
	Mode   ExecMode `json:"mode"`
}

// NoGrad reports whether gradient tracking is off for this call.
func (e Exec) NoGrad() bool {
	return e.Mode == ModeInference
}

// ModelInfo describes a loaded model.
type ModelInfo struct {
	Name      string `json:"name"`
	LatentDim int    `json:"latent_dim"`
	StyleDim  int    `json:"style_dim"`
	Channels  int    `json:"channels"`
	Height    int    `json:"height"`
	Width     int    `json:"width"`
}

// SceneBundle is the canonical decomposition of a batch of identities.
// Every field keeps the batch dimension first.
type SceneBundle struct {
	Depth        *tensor.Tensor // (B, H, W)
	Albedo       *tensor.Tensor // (B, C, H, W)
	Light        *tensor.Tensor // (B, 4)
	View         *tensor.Tensor // (B, 6)
	NeutralStyle *tensor.Tensor // (B, S)
	TransformMap *tensor.Tensor // (B, H, W, 2)
	RawImage     *tensor.Tensor // (B, C, H, W)
}

// BatchSize returns the leading dimension shared by the bundle's tensors.
func (b *SceneBundle) BatchSize() int {
	if b.Depth == nil || b.Depth.Rank() == 0 {
		return 0
	}
	return b.Depth.Dim(0)
}

// Validate checks that the render inputs are present and share batch size n.
func (b *SceneBundle) Validate(n int) error {
	fields := []struct {
		name string
		t    *tensor.Tensor
	}{
		{"depth", b.Depth},
		{"albedo", b.Albedo},
		{"light", b.Light},
		{"view", b.View},
		{"transform_map", b.TransformMap},
	}
	for _, f := range fields {
		if f.t == nil {
			return fmt.Errorf("scene bundle missing %s", f.name)
		}
		if f.t.Rank() == 0 || f.t.Dim(0) != n {
			return fmt.Errorf("scene bundle %s has shape %v, want batch %d", f.name, f.t.Shape(), n)
		}
	}
	if b.Light.Rank() != 2 || b.Light.Dim(1) != 4 {
		return fmt.Errorf("scene bundle light has shape %v, want (%d, 4)", b.Light.Shape(), n)
	}
	return nil
}

// RenderInput is what the render operation consumes: the canonical scene
// plus the lighting to apply.
type RenderInput struct {
	Depth        *tensor.Tensor
	Albedo       *tensor.Tensor
	Light        *tensor.Tensor
	View         *tensor.Tensor
	TransformMap *tensor.Tensor
}

// RenderOutput holds the rendered frame batch (B, C, H, W) in [-1,1] and
// any auxiliary outputs such as a validity mask.
type RenderOutput struct {
	Frame *tensor.Tensor
	Aux   []*tensor.Tensor
}
