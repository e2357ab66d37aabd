package engine

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/trustgate/internal/domain"
)

const gatewayServiceName = "trustgate.v1.Gateway"

// GatewayServer: gRPC-поверхность шлюза. Сообщения, google.protobuf.Struct,
// поэтому сгенерированный код не нужен: дескриптор сервиса описан вручную.
type GatewayServer interface {
	AssignResource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReleaseResource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Validate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(GatewayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GatewayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + gatewayServiceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(GatewayServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: gatewayServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AssignResource", Handler: unaryHandler("AssignResource", GatewayServer.AssignResource)},
		{MethodName: "ReleaseResource", Handler: unaryHandler("ReleaseResource", GatewayServer.ReleaseResource)},
		{MethodName: "Validate", Handler: unaryHandler("Validate", GatewayServer.Validate)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trustgate/v1/gateway.proto",
}

func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}

// GRPCGatewayServer переводит gRPC-вызовы в операции Core (тот же пайплайн, что и для HTTP).
type GRPCGatewayServer struct {
	core *Core
}

func NewGRPCGatewayServer(core *Core) *GRPCGatewayServer {
	return &GRPCGatewayServer{core: core}
}

func (s *GRPCGatewayServer) AssignResource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in leaseRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	res, err := s.core.AssignResource(ctx, in.ClientID, in.Filter)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

func (s *GRPCGatewayServer) ReleaseResource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	clientID := req.GetFields()["client_id"].GetStringValue()
	if clientID == "" {
		return nil, status.Error(codes.InvalidArgument, "client_id is required")
	}
	return toStruct(map[string]bool{"released": s.core.ReleaseResource(ctx, clientID)})
}

func (s *GRPCGatewayServer) Validate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in domain.ValidationInput
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	rec, err := s.core.Validate(ctx, in)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(rec)
}

// Struct <-> Go через JSON: поля совпадают с HTTP API.
func fromStruct(s *structpb.Struct, v any) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func grpcError(err error) error {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.KindCapacity:
		return status.Error(codes.ResourceExhausted, err.Error())
	case domain.KindTimeout:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case domain.KindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.KindForbidden:
		return status.Error(codes.Unauthenticated, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

// GatewayClient: клиент для других сервисов и тестов.
type GatewayClient struct {
	cc grpc.ClientConnInterface
}

func NewGatewayClient(cc grpc.ClientConnInterface) *GatewayClient {
	return &GatewayClient{cc: cc}
}

func (c *GatewayClient) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+gatewayServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GatewayClient) AssignResource(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "AssignResource", in, opts...)
}

func (c *GatewayClient) ReleaseResource(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "ReleaseResource", in, opts...)
}

func (c *GatewayClient) Validate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Validate", in, opts...)
}
