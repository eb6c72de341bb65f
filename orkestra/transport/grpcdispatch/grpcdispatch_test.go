package grpcdispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/orkestra/orkestra-go/orkestra/dispatch"
	"github.com/orkestra/orkestra-go/orkestra/registry"
)

// memDispatcher is a minimal in-memory WorkDispatcher/ActionSink used to
// exercise the gRPC adapter end to end over a bufconn listener.
type memDispatcher struct {
	queue   chan dispatch.WorkItem
	acked   chan string
	nacked  chan string
	results chan dispatch.Result
}

func newMemDispatcher() *memDispatcher {
	return &memDispatcher{
		queue:   make(chan dispatch.WorkItem, 4),
		acked:   make(chan string, 4),
		nacked:  make(chan string, 4),
		results: make(chan dispatch.Result, 4),
	}
}

func (m *memDispatcher) Poll(ctx context.Context) (dispatch.WorkItem, error) {
	select {
	case item := <-m.queue:
		return item, nil
	case <-ctx.Done():
		return dispatch.WorkItem{}, ctx.Err()
	}
}

func (m *memDispatcher) Ack(_ context.Context, item dispatch.WorkItem) error {
	m.acked <- item.Token
	return nil
}

func (m *memDispatcher) Nack(_ context.Context, item dispatch.WorkItem, _ error) error {
	m.nacked <- item.Token
	return nil
}

func (m *memDispatcher) Submit(_ context.Context, result dispatch.Result) error {
	m.results <- result
	return nil
}

func dialBufconn(t *testing.T, backend *memDispatcher) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { _ = lis.Close() })

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ServiceDesc, NewServer(backend, backend))
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn)
}

func TestClientPollAcksAndSubmitsRoundTripOverGRPC(t *testing.T) {
	backend := newMemDispatcher()
	backend.queue <- dispatch.WorkItem{Kind: dispatch.Activity, InstanceID: "inst-1", Token: "tok-1", TaskName: registry.TaskName{Name: "Add"}}

	client := dialBufconn(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	item, err := client.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, "inst-1", item.InstanceID)
	require.Equal(t, "tok-1", item.Token)

	require.NoError(t, client.Ack(ctx, item))
	select {
	case tok := <-backend.acked:
		require.Equal(t, "tok-1", tok)
	case <-time.After(time.Second):
		t.Fatal("ack did not reach backend")
	}

	require.NoError(t, client.Submit(ctx, dispatch.Result{Kind: dispatch.Activity, InstanceID: "inst-1", Token: "tok-1"}))
	select {
	case result := <-backend.results:
		require.Equal(t, "inst-1", result.InstanceID)
	case <-time.After(time.Second):
		t.Fatal("submit did not reach backend")
	}
}

func TestClientNackRoundTripsOverGRPC(t *testing.T) {
	backend := newMemDispatcher()
	client := dialBufconn(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Nack(ctx, dispatch.WorkItem{Token: "tok-2"}, context.DeadlineExceeded))
	select {
	case tok := <-backend.nacked:
		require.Equal(t, "tok-2", tok)
	case <-time.After(time.Second):
		t.Fatal("nack did not reach backend")
	}
}
