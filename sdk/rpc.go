// Package plugins is the contract between the redseat host and its out-of-process
// plugins. Plugins import it to serve functions; the host imports it to call them.
package plugins

import (
	"context"
	"errors"
	"fmt"

	goplugin "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the gRPC service every plugin registers
	ServiceName = "redseat.plugin.v1.Plugin"
	// PluginName is the key plugins are dispensed under
	PluginName = "plugin"

	callMethod = "/" + ServiceName + "/Call"
	jsonType   = "application/json"
)

// Handshake must match between host and plugin
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "REDSEAT_PLUGIN",
	MagicCookieValue: "redseat_plugin_magic_cookie_v1",
}

// Handler executes a named function with a JSON argument and returns a JSON result.
// Returning an *Error passes its code to the host.
type Handler interface {
	Call(ctx context.Context, function string, arg []byte) ([]byte, error)
}

// callServer is the server side of the Call RPC
type callServer interface {
	Call(ctx context.Context, in *anypb.Any) (*anypb.Any, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*callServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "redseat/plugin/v1/plugin.proto",
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(anypb.Any)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(callServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(callServer).Call(ctx, req.(*anypb.Any))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcServer adapts a Handler to the gRPC service.
// The function name travels in the TypeUrl and the JSON argument in Value.
type grpcServer struct {
	impl Handler
}

func (s *grpcServer) Call(ctx context.Context, in *anypb.Any) (*anypb.Any, error) {
	out, err := s.impl.Call(ctx, in.GetTypeUrl(), in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return &anypb.Any{TypeUrl: jsonType, Value: out}, nil
}

func toStatus(err error) error {
	var pe *Error
	if !errors.As(err, &pe) {
		pe = &Error{Code: CodeInternal, Message: err.Error()}
	}
	st, detailErr := status.New(codes.Unknown, pe.Message).WithDetails(wrapperspb.Int32(int32(pe.Code)))
	if detailErr != nil {
		return status.Error(codes.Internal, pe.Message)
	}
	return st.Err()
}

// Client calls functions on a plugin over an established gRPC connection
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps a connection
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes function with a JSON argument. A failure reported by the
// plugin is returned as *Error; anything else is a transport failure.
func (c *Client) Call(ctx context.Context, function string, arg []byte) ([]byte, error) {
	out := new(anypb.Any)
	err := c.conn.Invoke(ctx, callMethod, &anypb.Any{TypeUrl: function, Value: arg}, out)
	if err != nil {
		return nil, fromStatus(err)
	}
	return out.GetValue(), nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		if code, ok := d.(*wrapperspb.Int32Value); ok {
			return &Error{Code: int(code.GetValue()), Message: st.Message()}
		}
	}
	return fmt.Errorf("plugin transport: %w", err)
}

// GRPCPlugin is the go-plugin glue for both sides of the connection
type GRPCPlugin struct {
	goplugin.NetRPCUnsupportedPlugin
	Impl Handler
}

func (p *GRPCPlugin) GRPCServer(_ *goplugin.GRPCBroker, s *grpc.Server) error {
	s.RegisterService(&serviceDesc, &grpcServer{impl: p.Impl})
	return nil
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *goplugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewClient(c), nil
}

// PluginSet returns the plugin map used by both Serve and the host client
func PluginSet(impl Handler) goplugin.PluginSet {
	return goplugin.PluginSet{PluginName: &GRPCPlugin{Impl: impl}}
}

// Serve runs the plugin process until the host disconnects
func Serve(impl Handler) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginSet(impl),
		GRPCServer:      goplugin.DefaultGRPCServer,
	})
}
