package wire

import (
	"context"

	"google.golang.org/grpc"
)

// callOpts forces every call onto the swarmjson codec (see codec.go);
// mirrors what protoc-gen-go-grpc bakes into generated stubs for the
// protobuf codec, just pointed at ours.
func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// ---------------------------------------------------------------------------
// AgentControl: one bidirectional stream, first agent frame must be Register.
// ---------------------------------------------------------------------------

type AgentControlServer interface {
	Stream(AgentControl_StreamServer) error
}

type AgentControl_StreamServer interface {
	Send(*ServerMessage) error
	Recv() (*AgentMessage, error)
	grpc.ServerStream
}

type agentControlStreamServer struct {
	grpc.ServerStream
}

func (x *agentControlStreamServer) Send(m *ServerMessage) error { return x.ServerStream.SendMsg(m) }
func (x *agentControlStreamServer) Recv() (*AgentMessage, error) {
	m := new(AgentMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _AgentControl_Stream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(AgentControlServer).Stream(&agentControlStreamServer{stream})
}

var AgentControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "swarm.wire.AgentControl",
	HandlerType: (*AgentControlServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       _AgentControl_Stream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "swarm/wire/agent_control.proto",
}

type AgentControlClient interface {
	Stream(ctx context.Context, opts ...grpc.CallOption) (AgentControl_StreamClient, error)
}

type AgentControl_StreamClient interface {
	Send(*AgentMessage) error
	Recv() (*ServerMessage, error)
	grpc.ClientStream
}

type agentControlClient struct{ cc grpc.ClientConnInterface }

func NewAgentControlClient(cc grpc.ClientConnInterface) AgentControlClient {
	return &agentControlClient{cc}
}

func (c *agentControlClient) Stream(ctx context.Context, opts ...grpc.CallOption) (AgentControl_StreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &AgentControl_ServiceDesc.Streams[0], "/swarm.wire.AgentControl/Stream", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &agentControlStreamClient{stream}, nil
}

type agentControlStreamClient struct{ grpc.ClientStream }

func (x *agentControlStreamClient) Send(m *AgentMessage) error { return x.ClientStream.SendMsg(m) }
func (x *agentControlStreamClient) Recv() (*ServerMessage, error) {
	m := new(ServerMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// ClientService: ListAgents/SendMessage/ApproveTool unary, StreamEvents
// server-streaming.
// ---------------------------------------------------------------------------

type ClientServiceServer interface {
	ListAgents(context.Context, *ListAgentsRequest) (*ListAgentsResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	StreamEvents(*StreamEventsRequest, ClientService_StreamEventsServer) error
	ApproveTool(context.Context, *ApproveToolRequest) (*ApproveToolResponse, error)
}

type ClientService_StreamEventsServer interface {
	Send(*ClientStreamEvent) error
	grpc.ServerStream
}

type clientServiceStreamEventsServer struct {
	grpc.ServerStream
}

func (x *clientServiceStreamEventsServer) Send(m *ClientStreamEvent) error {
	return x.ServerStream.SendMsg(m)
}

func _ClientService_ListAgents_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListAgentsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServiceServer).ListAgents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/swarm.wire.ClientService/ListAgents"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServiceServer).ListAgents(ctx, req.(*ListAgentsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClientService_SendMessage_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SendMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServiceServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/swarm.wire.ClientService/SendMessage"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServiceServer).SendMessage(ctx, req.(*SendMessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClientService_ApproveTool_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ApproveToolRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServiceServer).ApproveTool(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/swarm.wire.ClientService/ApproveTool"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServiceServer).ApproveTool(ctx, req.(*ApproveToolRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClientService_StreamEvents_Handler(srv any, stream grpc.ServerStream) error {
	in := new(StreamEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ClientServiceServer).StreamEvents(in, &clientServiceStreamEventsServer{stream})
}

var ClientService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "swarm.wire.ClientService",
	HandlerType: (*ClientServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListAgents", Handler: _ClientService_ListAgents_Handler},
		{MethodName: "SendMessage", Handler: _ClientService_SendMessage_Handler},
		{MethodName: "ApproveTool", Handler: _ClientService_ApproveTool_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       _ClientService_StreamEvents_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "swarm/wire/client_service.proto",
}

type ClientServiceClient interface {
	ListAgents(ctx context.Context, in *ListAgentsRequest, opts ...grpc.CallOption) (*ListAgentsResponse, error)
	SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error)
	ApproveTool(ctx context.Context, in *ApproveToolRequest, opts ...grpc.CallOption) (*ApproveToolResponse, error)
	StreamEvents(ctx context.Context, in *StreamEventsRequest, opts ...grpc.CallOption) (ClientService_StreamEventsClient, error)
}

type ClientService_StreamEventsClient interface {
	Recv() (*ClientStreamEvent, error)
	grpc.ClientStream
}

type clientServiceClient struct{ cc grpc.ClientConnInterface }

func NewClientServiceClient(cc grpc.ClientConnInterface) ClientServiceClient {
	return &clientServiceClient{cc}
}

func (c *clientServiceClient) ListAgents(ctx context.Context, in *ListAgentsRequest, opts ...grpc.CallOption) (*ListAgentsResponse, error) {
	out := new(ListAgentsResponse)
	if err := c.cc.Invoke(ctx, "/swarm.wire.ClientService/ListAgents", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clientServiceClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	out := new(SendMessageResponse)
	if err := c.cc.Invoke(ctx, "/swarm.wire.ClientService/SendMessage", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clientServiceClient) ApproveTool(ctx context.Context, in *ApproveToolRequest, opts ...grpc.CallOption) (*ApproveToolResponse, error) {
	out := new(ApproveToolResponse)
	if err := c.cc.Invoke(ctx, "/swarm.wire.ClientService/ApproveTool", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clientServiceClient) StreamEvents(ctx context.Context, in *StreamEventsRequest, opts ...grpc.CallOption) (ClientService_StreamEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ClientService_ServiceDesc.Streams[0], "/swarm.wire.ClientService/StreamEvents", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &clientServiceStreamEventsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type clientServiceStreamEventsClient struct{ grpc.ClientStream }

func (x *clientServiceStreamEventsClient) Recv() (*ClientStreamEvent, error) {
	m := new(ClientStreamEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// PackService: Register server-streams PackServerEvent back, ToolResult is
// a separate unary call keyed by request_id.
// ---------------------------------------------------------------------------

type PackServiceServer interface {
	Register(*PackManifest, PackService_RegisterServer) error
	ToolResult(context.Context, *ExecuteToolResponse) (*ToolResultAck, error)
}

type PackService_RegisterServer interface {
	Send(*PackServerEvent) error
	grpc.ServerStream
}

type packServiceRegisterServer struct{ grpc.ServerStream }

func (x *packServiceRegisterServer) Send(m *PackServerEvent) error { return x.ServerStream.SendMsg(m) }

func _PackService_Register_Handler(srv any, stream grpc.ServerStream) error {
	in := new(PackManifest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PackServiceServer).Register(in, &packServiceRegisterServer{stream})
}

func _PackService_ToolResult_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExecuteToolResponse)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PackServiceServer).ToolResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/swarm.wire.PackService/ToolResult"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PackServiceServer).ToolResult(ctx, req.(*ExecuteToolResponse))
	}
	return interceptor(ctx, in, info, handler)
}

var PackService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "swarm.wire.PackService",
	HandlerType: (*PackServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ToolResult", Handler: _PackService_ToolResult_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Register",
			Handler:       _PackService_Register_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "swarm/wire/pack_service.proto",
}

type PackServiceClient interface {
	Register(ctx context.Context, in *PackManifest, opts ...grpc.CallOption) (PackService_RegisterClient, error)
	ToolResult(ctx context.Context, in *ExecuteToolResponse, opts ...grpc.CallOption) (*ToolResultAck, error)
}

type PackService_RegisterClient interface {
	Recv() (*PackServerEvent, error)
	grpc.ClientStream
}

type packServiceClient struct{ cc grpc.ClientConnInterface }

func NewPackServiceClient(cc grpc.ClientConnInterface) PackServiceClient {
	return &packServiceClient{cc}
}

func (c *packServiceClient) Register(ctx context.Context, in *PackManifest, opts ...grpc.CallOption) (PackService_RegisterClient, error) {
	stream, err := c.cc.NewStream(ctx, &PackService_ServiceDesc.Streams[0], "/swarm.wire.PackService/Register", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &packServiceRegisterClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *packServiceClient) ToolResult(ctx context.Context, in *ExecuteToolResponse, opts ...grpc.CallOption) (*ToolResultAck, error) {
	out := new(ToolResultAck)
	if err := c.cc.Invoke(ctx, "/swarm.wire.PackService/ToolResult", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

type packServiceRegisterClient struct{ grpc.ClientStream }

func (x *packServiceRegisterClient) Recv() (*PackServerEvent, error) {
	m := new(PackServerEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
