package grpcmodel

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nekomi2/LiftedGAN/pkg/client"
	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

// Trailer keys describing a failed call.
const (
	trailerKind   = "liftedgan-error-kind"
	trailerDevice = "liftedgan-device"
	kindDevice    = "device"
	kindModelLoad = "model_load"
)

// MaxMsgSize bounds a single message in either direction. A full batch of
// estimates at 256x256 is around 100 MiB once encoded.
const MaxMsgSize = 512 << 20

// ServerOptions returns the options a grpc.Server hosting the model
// service needs.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMsgSize),
		grpc.MaxSendMsgSize(MaxMsgSize),
	}
}

// Server adapts a client.Model to ModelServiceServer. Model calls are
// serialized.
type Server struct {
	model client.Model
	names map[string]bool
	mu    sync.Mutex
}

// NewServer serves model. Load requests must name it by Info().Name or
// one of names.
func NewServer(model client.Model, names ...string) *Server {
	s := &Server{model: model, names: map[string]bool{model.Info().Name: true}}
	for _, n := range names {
		s.names[n] = true
	}
	return s
}

// Register serves model on gs.
func Register(gs grpc.ServiceRegistrar, model client.Model, names ...string) *Server {
	s := NewServer(model, names...)
	RegisterModelServiceServer(gs, s)
	return s
}

func (s *Server) Load(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	path := in.GetFields()["path"].GetStringValue()
	device := types.Device(in.GetFields()["device"].GetStringValue())
	if !s.names[path] {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(trailerKind, kindModelLoad))
		return nil, status.Errorf(codes.NotFound, "model %q not found", path)
	}
	if d, ok := s.model.(interface{ Device() types.Device }); ok && device != "" && device != d.Device() {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(trailerKind, kindDevice, trailerDevice, string(device)))
		return nil, status.Errorf(codes.Unavailable, "model is served on %s", d.Device())
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"info":       infoValue(s.model.Info()),
		"mean_style": tensorValue(s.model.MeanStyle()),
	}}, nil
}

func (s *Server) StyleMap(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	latent, err := tensorFrom(in.GetFields()["latent"])
	if err != nil || latent == nil {
		return nil, status.Error(codes.InvalidArgument, "invalid latent")
	}
	s.mu.Lock()
	style, err := s.model.StyleMap(ctx, execFrom(in.GetFields()["exec"]), latent)
	s.mu.Unlock()
	if err != nil {
		return nil, modelStatus(ctx, err)
	}
	return tensorFields(map[string]*tensor.Tensor{"style": style}), nil
}

func (s *Server) Estimate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	style, err := tensorFrom(in.GetFields()["style"])
	if err != nil || style == nil {
		return nil, status.Error(codes.InvalidArgument, "invalid style")
	}
	s.mu.Lock()
	b, err := s.model.Estimate(ctx, execFrom(in.GetFields()["exec"]), style)
	s.mu.Unlock()
	if err != nil {
		return nil, modelStatus(ctx, err)
	}
	return tensorFields(map[string]*tensor.Tensor{
		"depth":         b.Depth,
		"albedo":        b.Albedo,
		"light":         b.Light,
		"view":          b.View,
		"neutral_style": b.NeutralStyle,
		"transform_map": b.TransformMap,
		"raw_image":     b.RawImage,
	}), nil
}

func (s *Server) Render(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var r types.RenderInput
	err := decodeFields(in, map[string]**tensor.Tensor{
		"depth":         &r.Depth,
		"albedo":        &r.Albedo,
		"light":         &r.Light,
		"view":          &r.View,
		"transform_map": &r.TransformMap,
	})
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "render input: %v", err)
	}

	s.mu.Lock()
	out, err := s.model.Render(ctx, execFrom(in.GetFields()["exec"]), r)
	if err != nil {
		s.mu.Unlock()
		return nil, modelStatus(ctx, err)
	}
	frame := tensorValue(out.Frame)
	s.mu.Unlock()

	aux := make([]*structpb.Value, len(out.Aux))
	for i, a := range out.Aux {
		aux[i] = tensorValue(a)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"frame": frame,
		"aux":   structpb.NewListValue(&structpb.ListValue{Values: aux}),
	}}, nil
}

func modelStatus(ctx context.Context, err error) error {
	var devErr *types.DeviceError
	var loadErr *types.ModelLoadError
	switch {
	case errors.As(err, &devErr):
		_ = grpc.SetTrailer(ctx, metadata.Pairs(trailerKind, kindDevice, trailerDevice, string(devErr.Device)))
		if errors.Is(err, types.ErrOutOfMemory) {
			return status.Error(codes.ResourceExhausted, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	case errors.As(err, &loadErr):
		_ = grpc.SetTrailer(ctx, metadata.Pairs(trailerKind, kindModelLoad))
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
