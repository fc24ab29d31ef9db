package client

import (
	"context"

	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

// Model is a pretrained lifted generator that can decompose a style into
// canonical scene components and re-render them under new lighting.
// Implementations must preserve the batch dimension of every input.
type Model interface {
	Info() types.ModelInfo
	// MeanStyle returns the (S) reference style used for truncation.
	MeanStyle() *tensor.Tensor
	StyleMap(ctx context.Context, exec types.Exec, latent *tensor.Tensor) (*tensor.Tensor, error)
	Estimate(ctx context.Context, exec types.Exec, style *tensor.Tensor) (*types.SceneBundle, error)
	Render(ctx context.Context, exec types.Exec, in types.RenderInput) (*types.RenderOutput, error)
	Close() error
}

// Loader opens a serialized model on the given device. Failures to read or
// interpret path are reported as *types.ModelLoadError.
type Loader func(ctx context.Context, path string, device types.Device) (Model, error)
