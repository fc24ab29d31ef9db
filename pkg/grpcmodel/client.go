package grpcmodel

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nekomi2/LiftedGAN/pkg/client"
	"github.com/nekomi2/LiftedGAN/pkg/tensor"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

const DefaultAddr = "localhost:8091"

// Client is a client.Model backed by a remote liftedgan.v1.Model service.
type Client struct {
	conn *grpc.ClientConn
	svc  ModelServiceClient

	info types.ModelInfo
	mean *tensor.Tensor
}

var _ client.Model = (*Client)(nil)

// Load connects to addr and opens the model at path on device. Extra dial
// options are appended after insecure transport credentials and the
// MaxMsgSize call limits.
func Load(ctx context.Context, addr, path string, device types.Device, opts ...grpc.DialOption) (*Client, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMsgSize),
			grpc.MaxCallSendMsgSize(MaxMsgSize),
		),
	}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, &types.ModelLoadError{Path: path, Err: fmt.Errorf("grpc dial %s: %w", addr, err)}
	}
	c, err := LoadWithService(ctx, NewModelServiceClient(conn), path, device)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// LoadWithService opens a model through an existing service client.
func LoadWithService(ctx context.Context, svc ModelServiceClient, path string, device types.Device) (*Client, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"path":   structpb.NewStringValue(path),
		"device": structpb.NewStringValue(string(device)),
	}}
	var md metadata.MD
	resp, err := svc.Load(ctx, req, grpc.Trailer(&md))
	if err != nil {
		err = callError(ctx, "load", device, err, md)
		var devErr *types.DeviceError
		if errors.As(err, &devErr) {
			return nil, err
		}
		var loadErr *types.ModelLoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
			return nil, err
		}
		return nil, &types.ModelLoadError{Path: path, Err: err}
	}
	mean, err := tensorFrom(resp.GetFields()["mean_style"])
	if err != nil || mean == nil {
		return nil, &types.ModelLoadError{Path: path, Err: fmt.Errorf("server returned no mean style")}
	}
	return &Client{svc: svc, info: infoFrom(resp.GetFields()["info"]), mean: mean}, nil
}

// Loader adapts Load to client.Loader for a fixed server.
func Loader(addr string, opts ...grpc.DialOption) client.Loader {
	return func(ctx context.Context, path string, device types.Device) (client.Model, error) {
		return Load(ctx, addr, path, device, opts...)
	}
}

func (c *Client) Info() types.ModelInfo { return c.info }

func (c *Client) MeanStyle() *tensor.Tensor { return c.mean.Clone() }

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) StyleMap(ctx context.Context, exec types.Exec, latent *tensor.Tensor) (*tensor.Tensor, error) {
	req := tensorFields(map[string]*tensor.Tensor{"latent": latent})
	req.Fields["exec"] = execValue(exec)

	var md metadata.MD
	resp, err := c.svc.StyleMap(ctx, req, grpc.Trailer(&md))
	if err != nil {
		return nil, callError(ctx, "style_map", exec.Device, err, md)
	}
	return tensorFrom(resp.GetFields()["style"])
}

func (c *Client) Estimate(ctx context.Context, exec types.Exec, style *tensor.Tensor) (*types.SceneBundle, error) {
	req := tensorFields(map[string]*tensor.Tensor{"style": style})
	req.Fields["exec"] = execValue(exec)

	var md metadata.MD
	resp, err := c.svc.Estimate(ctx, req, grpc.Trailer(&md))
	if err != nil {
		return nil, callError(ctx, "estimate", exec.Device, err, md)
	}
	b := &types.SceneBundle{}
	err = decodeFields(resp, map[string]**tensor.Tensor{
		"depth":         &b.Depth,
		"albedo":        &b.Albedo,
		"light":         &b.Light,
		"view":          &b.View,
		"neutral_style": &b.NeutralStyle,
		"transform_map": &b.TransformMap,
		"raw_image":     &b.RawImage,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate response: %w", err)
	}
	return b, nil
}

func (c *Client) Render(ctx context.Context, exec types.Exec, in types.RenderInput) (*types.RenderOutput, error) {
	req := tensorFields(map[string]*tensor.Tensor{
		"depth":         in.Depth,
		"albedo":        in.Albedo,
		"light":         in.Light,
		"view":          in.View,
		"transform_map": in.TransformMap,
	})
	req.Fields["exec"] = execValue(exec)

	var md metadata.MD
	resp, err := c.svc.Render(ctx, req, grpc.Trailer(&md))
	if err != nil {
		return nil, callError(ctx, "render", exec.Device, err, md)
	}
	frame, err := tensorFrom(resp.GetFields()["frame"])
	if err != nil {
		return nil, fmt.Errorf("render response: %w", err)
	}
	if frame == nil {
		return nil, fmt.Errorf("render response has no frame")
	}
	out := &types.RenderOutput{Frame: frame}
	for _, v := range resp.GetFields()["aux"].GetListValue().GetValues() {
		t, err := tensorFrom(v)
		if err != nil {
			return nil, fmt.Errorf("render response: %w", err)
		}
		out.Aux = append(out.Aux, t)
	}
	return out, nil
}

// callError maps a failed RPC onto the typed error kinds using the status
// code and the server's trailer.
func callError(ctx context.Context, op string, device types.Device, err error, md metadata.MD) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s rpc: %w", op, err)
	}
	kind := ""
	if v := md.Get(trailerKind); len(v) > 0 {
		kind = v[0]
	}
	if v := md.Get(trailerDevice); len(v) > 0 && v[0] != "" {
		device = types.Device(v[0])
	}

	// ResourceExhausted without a device trailer comes from the transport
	// (message size limits), not from the model.
	switch {
	case kind == kindDevice && st.Code() == codes.ResourceExhausted:
		return &types.DeviceError{Device: device, Op: op, Err: fmt.Errorf("%w: %s", types.ErrOutOfMemory, st.Message())}
	case kind == kindDevice:
		return &types.DeviceError{Device: device, Op: op, Err: errors.New(st.Message())}
	case op == "load" && (st.Code() == codes.NotFound || st.Code() == codes.InvalidArgument || kind == kindModelLoad):
		return &types.ModelLoadError{Err: errors.New(st.Message())}
	default:
		return fmt.Errorf("%s rpc: %w", op, err)
	}
}
