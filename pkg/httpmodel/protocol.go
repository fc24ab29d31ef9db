// Package httpmodel exposes the model contract as JSON over HTTP. Client
// talks to a remote model server; Handler serves any client.Model.
package httpmodel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

const (
	PathLoad     = "/v1/load"
	PathStyle    = "/v1/style"
	PathEstimate = "/v1/estimate"
	PathRender   = "/v1/render"
)

// Error kinds carried in ErrorResponse.Kind.
const (
	KindModelLoad = "model_load"
	KindDevice    = "device"
	KindRequest   = "request"
	KindInternal  = "internal"
)

// Tensor is the wire form of a dense tensor. Data holds float64 little
// endian values and travels as base64, so NaN and Inf survive the trip.
type Tensor struct {
	Shape []int  `json:"shape"`
	Data  []byte `json:"data"`
}

type LoadRequest struct {
	Path   string `json:"path"`
	Device string `json:"device"`
}

type LoadResponse struct {
	Info      types.ModelInfo `json:"info"`
	MeanStyle *Tensor         `json:"mean_style"`
}

type StyleRequest struct {
	Exec   types.Exec `json:"exec"`
	Latent *Tensor    `json:"latent"`
}

type StyleResponse struct {
	Style *Tensor `json:"style"`
}

type EstimateRequest struct {
	Exec  types.Exec `json:"exec"`
	Style *Tensor    `json:"style"`
}

type EstimateResponse struct {
	Depth        *Tensor `json:"depth"`
	Albedo       *Tensor `json:"albedo"`
	Light        *Tensor `json:"light"`
	View         *Tensor `json:"view"`
	NeutralStyle *Tensor `json:"neutral_style"`
	TransformMap *Tensor `json:"transform_map"`
	RawImage     *Tensor `json:"raw_image,omitempty"`
}

type RenderRequest struct {
	Exec         types.Exec `json:"exec"`
	Depth        *Tensor    `json:"depth"`
	Albedo       *Tensor    `json:"albedo"`
	Light        *Tensor    `json:"light"`
	View         *Tensor    `json:"view"`
	TransformMap *Tensor    `json:"transform_map"`
}

type RenderResponse struct {
	Frame *Tensor   `json:"frame"`
	Aux   []*Tensor `json:"aux,omitempty"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Device string `json:"device,omitempty"`
}

func encode(t *tensor.Tensor) *Tensor {
	if t == nil {
		return nil
	}
	buf := make([]byte, 8*t.Len())
	for i, v := range t.Data() {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return &Tensor{Shape: t.Shape(), Data: buf}
}

func decode(w *Tensor) (*tensor.Tensor, error) {
	if w == nil {
		return nil, nil
	}
	if len(w.Data)%8 != 0 {
		return nil, fmt.Errorf("decode tensor: data length %d is not a multiple of 8", len(w.Data))
	}
	data := make([]float64, len(w.Data)/8)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(w.Data[8*i:]))
	}
	t, err := tensor.FromSlice(data, w.Shape...)
	if err != nil {
		return nil, fmt.Errorf("decode tensor: %w", err)
	}
	return t, nil
}

func encodeBundle(b *types.SceneBundle) *EstimateResponse {
	return &EstimateResponse{
		Depth:        encode(b.Depth),
		Albedo:       encode(b.Albedo),
		Light:        encode(b.Light),
		View:         encode(b.View),
		NeutralStyle: encode(b.NeutralStyle),
		TransformMap: encode(b.TransformMap),
		RawImage:     encode(b.RawImage),
	}
}

func decodeBundle(r *EstimateResponse) (*types.SceneBundle, error) {
	b := &types.SceneBundle{}
	fields := []struct {
		dst **tensor.Tensor
		src *Tensor
	}{
		{&b.Depth, r.Depth},
		{&b.Albedo, r.Albedo},
		{&b.Light, r.Light},
		{&b.View, r.View},
		{&b.NeutralStyle, r.NeutralStyle},
		{&b.TransformMap, r.TransformMap},
		{&b.RawImage, r.RawImage},
	}
	for _, f := range fields {
		t, err := decode(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = t
	}
	return b, nil
}

func decodeRenderInput(r *RenderRequest) (types.RenderInput, error) {
	var in types.RenderInput
	fields := []struct {
		dst **tensor.Tensor
		src *Tensor
	}{
		{&in.Depth, r.Depth},
		{&in.Albedo, r.Albedo},
		{&in.Light, r.Light},
		{&in.View, r.View},
		{&in.TransformMap, r.TransformMap},
	}
	for _, f := range fields {
		t, err := decode(f.src)
		if err != nil {
			return in, err
		}
		*f.dst = t
	}
	return in, nil
}
