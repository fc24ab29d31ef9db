// Package grpcmodel exposes the model contract as a gRPC service whose
// messages are google.protobuf.Struct values. The service is declared in
// proto/liftedgan/v1/model.proto; its only message type is a well-known
// type, so the stubs below are all the Go code it needs.
package grpcmodel

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "liftedgan.v1.Model"
	protoFile   = "liftedgan/v1/model.proto"
)

const (
	methodLoad     = "/" + ServiceName + "/Load"
	methodStyleMap = "/" + ServiceName + "/StyleMap"
	methodEstimate = "/" + ServiceName + "/Estimate"
	methodRender   = "/" + ServiceName + "/Render"
)

// ModelServiceClient is the client stub for liftedgan.v1.Model.
type ModelServiceClient interface {
	Load(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	StyleMap(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Estimate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Render(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type modelServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewModelServiceClient(cc grpc.ClientConnInterface) ModelServiceClient {
	return &modelServiceClient{cc: cc}
}

func (c *modelServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *modelServiceClient) Load(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodLoad, in, opts)
}

func (c *modelServiceClient) StyleMap(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodStyleMap, in, opts)
}

func (c *modelServiceClient) Estimate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodEstimate, in, opts)
}

func (c *modelServiceClient) Render(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodRender, in, opts)
}

// ModelServiceServer is the server API for liftedgan.v1.Model.
type ModelServiceServer interface {
	Load(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StyleMap(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Estimate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Render(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterModelServiceServer(s grpc.ServiceRegistrar, srv ModelServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler(method string, call func(ModelServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ModelServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ModelServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ModelServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: unaryHandler(methodLoad, ModelServiceServer.Load)},
		{MethodName: "StyleMap", Handler: unaryHandler(methodStyleMap, ModelServiceServer.StyleMap)},
		{MethodName: "Estimate", Handler: unaryHandler(methodEstimate, ModelServiceServer.Estimate)},
		{MethodName: "Render", Handler: unaryHandler(methodRender, ModelServiceServer.Render)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}
