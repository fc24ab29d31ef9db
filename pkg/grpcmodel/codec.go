package grpcmodel

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

// tensorValue encodes t as {shape: [...], data: base64(float64 little endian)}.
func tensorValue(t *tensor.Tensor) *structpb.Value {
	if t == nil {
		return structpb.NewNullValue()
	}
	shape := make([]*structpb.Value, t.Rank())
	for i, d := range t.Shape() {
		shape[i] = structpb.NewNumberValue(float64(d))
	}
	buf := make([]byte, 8*t.Len())
	for i, v := range t.Data() {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"shape": structpb.NewListValue(&structpb.ListValue{Values: shape}),
		"data":  structpb.NewStringValue(base64.StdEncoding.EncodeToString(buf)),
	}})
}

// tensorFrom decodes a value written by tensorValue. A missing or null
// value decodes to nil.
func tensorFrom(v *structpb.Value) (*tensor.Tensor, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return nil, nil
	}
	s := v.GetStructValue()
	if s == nil {
		return nil, fmt.Errorf("tensor: expected struct, got %T", v.GetKind())
	}
	list := s.GetFields()["shape"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("tensor: missing shape")
	}
	shape := make([]int, len(list.GetValues()))
	for i, d := range list.GetValues() {
		n := d.GetNumberValue()
		if n < 0 || n != math.Trunc(n) {
			return nil, fmt.Errorf("tensor: invalid dimension %v", n)
		}
		shape[i] = int(n)
	}
	raw, err := base64.StdEncoding.DecodeString(s.GetFields()["data"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("tensor: %w", err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("tensor: data length %d is not a multiple of 8", len(raw))
	}
	data := make([]float64, len(raw)/8)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return tensor.FromSlice(data, shape...)
}

func execValue(e types.Exec) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"device": structpb.NewStringValue(string(e.Device)),
		"mode":   structpb.NewNumberValue(float64(e.Mode)),
	}})
}

func execFrom(v *structpb.Value) types.Exec {
	f := v.GetStructValue().GetFields()
	return types.Exec{
		Device: types.Device(f["device"].GetStringValue()),
		Mode:   types.ExecMode(f["mode"].GetNumberValue()),
	}
}

func infoValue(i types.ModelInfo) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"name":       structpb.NewStringValue(i.Name),
		"latent_dim": structpb.NewNumberValue(float64(i.LatentDim)),
		"style_dim":  structpb.NewNumberValue(float64(i.StyleDim)),
		"channels":   structpb.NewNumberValue(float64(i.Channels)),
		"height":     structpb.NewNumberValue(float64(i.Height)),
		"width":      structpb.NewNumberValue(float64(i.Width)),
	}})
}

func infoFrom(v *structpb.Value) types.ModelInfo {
	f := v.GetStructValue().GetFields()
	return types.ModelInfo{
		Name:      f["name"].GetStringValue(),
		LatentDim: int(f["latent_dim"].GetNumberValue()),
		StyleDim:  int(f["style_dim"].GetNumberValue()),
		Channels:  int(f["channels"].GetNumberValue()),
		Height:    int(f["height"].GetNumberValue()),
		Width:     int(f["width"].GetNumberValue()),
	}
}

// tensorFields encodes named tensors into one message.
func tensorFields(named map[string]*tensor.Tensor) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(named))}
	for k, t := range named {
		if t != nil {
			s.Fields[k] = tensorValue(t)
		}
	}
	return s
}

// decodeFields fills each destination from the field of the same name.
func decodeFields(s *structpb.Struct, dst map[string]**tensor.Tensor) error {
	for k, d := range dst {
		t, err := tensorFrom(s.GetFields()[k])
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*d = t
	}
	return nil
}
