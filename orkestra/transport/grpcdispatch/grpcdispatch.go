// Package grpcdispatch adapts dispatch.WorkDispatcher and dispatch.ActionSink
// onto a gRPC transport (spec §6 domain stack: the teacher's primary RPC
// stack, used by registry/store/replicated and the generated gRPC registry
// transport, here generalized from tool-registry RPC to work dispatch).
//
// There is no generated .proto transport here: the service is wired by hand
// against a grpc.ServiceDesc, and payloads travel as JSON bytes boxed in the
// standard library's own generated wrapperspb/emptypb messages, so the wire
// format is still real protobuf framing without requiring protoc codegen
// for the WorkItem/Result object graph (recorded as a deliberate scoping
// choice in DESIGN.md).
package grpcdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/orkestra/orkestra-go/orkestra/dispatch"
)

const serviceName = "orkestra.dispatch.v1.Dispatch"

// pollLongPollWindow bounds how long the server-side Poll handler blocks
// the delegate dispatcher before replying "no work yet", so the
// client/server connection never sits in a single RPC indefinitely.
const pollLongPollWindow = 20 * time.Second

// nackEnvelope is the JSON shape carried inside a Nack request's bytes.
type nackEnvelope struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

// ServiceDesc is the hand-wired grpc.ServiceDesc for the dispatch service.
// grpc.NewServer callers pass this plus a *Server to RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Poll", Handler: pollHandler},
		{MethodName: "Ack", Handler: ackHandler},
		{MethodName: "Nack", Handler: nackHandler},
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orkestra/dispatch.proto",
}

// server is the interface the hand-wired handlers above dispatch through;
// *Server (below) implements it.
type server interface {
	Poll(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error)
	Ack(ctx context.Context, token *wrapperspb.StringValue) (*emptypb.Empty, error)
	Nack(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Submit(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func pollHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(server).Poll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Poll"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(server).Poll(ctx, req.(*emptypb.Empty)) }
	return interceptor(ctx, in, info, handler)
}

func ackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(server).Ack(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Ack"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(server).Ack(ctx, req.(*wrapperspb.StringValue)) }
	return interceptor(ctx, in, info, handler)
}

func nackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(server).Nack(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Nack"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(server).Nack(ctx, req.(*wrapperspb.BytesValue)) }
	return interceptor(ctx, in, info, handler)
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(server).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Submit"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(server).Submit(ctx, req.(*wrapperspb.BytesValue)) }
	return interceptor(ctx, in, info, handler)
}

// Server exposes an existing WorkDispatcher/ActionSink pair as a gRPC
// service, so a worker process on another machine can reach it over the
// network instead of linking the backend in-process (spec §6: the core
// stays backend-agnostic, this is one concrete backend).
type Server struct {
	dispatcher dispatch.WorkDispatcher
	sink       dispatch.ActionSink
}

// NewServer wraps dispatcher and sink for registration against a
// grpc.Server via s.RegisterService(&ServiceDesc, grpcdispatch.NewServer(...)).
func NewServer(dispatcher dispatch.WorkDispatcher, sink dispatch.ActionSink) *Server {
	return &Server{dispatcher: dispatcher, sink: sink}
}

// Poll long-polls the wrapped dispatcher for up to pollLongPollWindow and
// returns an empty BytesValue ("no work yet") rather than an error if
// nothing arrived in that window, so long-polling clients see a normal
// response instead of flooding logs with deadline-exceeded errors.
func (s *Server) Poll(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	pollCtx, cancel := context.WithTimeout(ctx, pollLongPollWindow)
	defer cancel()

	item, err := s.dispatcher.Poll(pollCtx)
	if err != nil {
		if pollCtx.Err() != nil && ctx.Err() == nil {
			return wrapperspb.Bytes(nil), nil
		}
		return nil, fmt.Errorf("grpcdispatch: poll: %w", err)
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("grpcdispatch: encoding work item: %w", err)
	}
	return wrapperspb.Bytes(raw), nil
}

// Ack acknowledges the work item whose token is carried in the request.
// The server must have retained enough of the original WorkItem to ack it
// against the underlying dispatcher; in practice this means the dispatcher
// implementation keys its state off Token alone (as redisdispatch.Dispatcher
// does).
func (s *Server) Ack(ctx context.Context, token *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.dispatcher.Ack(ctx, dispatch.WorkItem{Token: token.GetValue()}); err != nil {
		return nil, fmt.Errorf("grpcdispatch: ack: %w", err)
	}
	return &emptypb.Empty{}, nil
}

// Nack reports that the named work item could not be processed.
func (s *Server) Nack(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	var env nackEnvelope
	if err := json.Unmarshal(req.GetValue(), &env); err != nil {
		return nil, fmt.Errorf("grpcdispatch: decoding nack request: %w", err)
	}
	if err := s.dispatcher.Nack(ctx, dispatch.WorkItem{Token: env.Token}, fmt.Errorf("%s", env.Reason)); err != nil {
		return nil, fmt.Errorf("grpcdispatch: nack: %w", err)
	}
	return &emptypb.Empty{}, nil
}

// Submit forwards a completed work item's Result to the wrapped ActionSink.
func (s *Server) Submit(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	var result dispatch.Result
	if err := json.Unmarshal(req.GetValue(), &result); err != nil {
		return nil, fmt.Errorf("grpcdispatch: decoding submit request: %w", err)
	}
	if err := s.sink.Submit(ctx, result); err != nil {
		return nil, fmt.Errorf("grpcdispatch: submit: %w", err)
	}
	return &emptypb.Empty{}, nil
}

// Client implements dispatch.WorkDispatcher and dispatch.ActionSink against
// a remote Server over an existing *grpc.ClientConn.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps conn (typically built with grpc.NewClient/grpc.Dial
// against the address a Server is registered on).
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Poll repeatedly invokes the remote Poll RPC until a work item arrives,
// ctx is canceled, or an RPC returns an error (any error is returned to the
// caller; none is retried here). Each invocation blocks server-side for up
// to pollLongPollWindow.
func (c *Client) Poll(ctx context.Context) (dispatch.WorkItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return dispatch.WorkItem{}, err
		}
		reply := new(wrapperspb.BytesValue)
		if err := c.conn.Invoke(ctx, "/"+serviceName+"/Poll", &emptypb.Empty{}, reply); err != nil {
			return dispatch.WorkItem{}, fmt.Errorf("grpcdispatch: poll rpc: %w", err)
		}
		if len(reply.GetValue()) == 0 {
			continue
		}
		var item dispatch.WorkItem
		if err := json.Unmarshal(reply.GetValue(), &item); err != nil {
			return dispatch.WorkItem{}, fmt.Errorf("grpcdispatch: decoding work item: %w", err)
		}
		return item, nil
	}
}

// Ack invokes the remote Ack RPC for item.Token.
func (c *Client) Ack(ctx context.Context, item dispatch.WorkItem) error {
	reply := new(emptypb.Empty)
	return c.conn.Invoke(ctx, "/"+serviceName+"/Ack", wrapperspb.String(item.Token), reply)
}

// Nack invokes the remote Nack RPC for item.Token with reason's message.
func (c *Client) Nack(ctx context.Context, item dispatch.WorkItem, reason error) error {
	raw, err := json.Marshal(nackEnvelope{Token: item.Token, Reason: reason.Error()})
	if err != nil {
		return fmt.Errorf("grpcdispatch: encoding nack request: %w", err)
	}
	reply := new(emptypb.Empty)
	return c.conn.Invoke(ctx, "/"+serviceName+"/Nack", wrapperspb.Bytes(raw), reply)
}

// Submit invokes the remote Submit RPC with result.
func (c *Client) Submit(ctx context.Context, result dispatch.Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("grpcdispatch: encoding submit request: %w", err)
	}
	reply := new(emptypb.Empty)
	return c.conn.Invoke(ctx, "/"+serviceName+"/Submit", wrapperspb.Bytes(raw), reply)
}
