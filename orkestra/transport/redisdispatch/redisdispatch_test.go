package redisdispatch

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/orkestra/orkestra-go/orkestra/dispatch"
	"github.com/orkestra/orkestra-go/orkestra/registry"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			fmt.Printf("Failed to get container host: %v\n", err)
			skipIntegration = true
		} else {
			port, err := testRedisContainer.MappedPort(ctx, "6379")
			if err != nil {
				fmt.Printf("Failed to get container port: %v\n", err)
				skipIntegration = true
			} else {
				testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
				if err := testRedisClient.Ping(ctx).Err(); err != nil {
					fmt.Printf("Failed to ping redis: %v\n", err)
					skipIntegration = true
				}
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}

	os.Exit(code)
}

// getRedis returns the shared Redis client and flushes the database for
// test isolation. Skips the test if Docker/Redis is not available.
func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	if err := testRedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return testRedisClient
}

func TestDispatcherPublishPollAckRoundTrips(t *testing.T) {
	rdb := getRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := New(ctx, Options{
		Client:       rdb,
		Stream:       "work-" + t.Name(),
		Consumer:     "consumer-1",
		BlockTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)

	want := dispatch.WorkItem{
		Kind:       dispatch.Activity,
		InstanceID: "inst-1",
		TaskName:   registry.TaskName{Name: "Add"},
	}
	require.NoError(t, d.Publish(ctx, want))

	got, err := d.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, want.InstanceID, got.InstanceID)
	require.Equal(t, want.TaskName, got.TaskName)
	require.NotEmpty(t, got.Token)

	require.NoError(t, d.Ack(ctx, got))

	pending, err := rdb.XPending(ctx, d.opts.Stream, d.opts.Group).Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}

func TestDispatcherNackWritesDeadLetterAndAcks(t *testing.T) {
	rdb := getRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := New(ctx, Options{
		Client:       rdb,
		Stream:       "work-" + t.Name(),
		Consumer:     "consumer-1",
		BlockTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, d.Publish(ctx, dispatch.WorkItem{InstanceID: "inst-2"}))
	item, err := d.Poll(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Nack(ctx, item, fmt.Errorf("boom")))

	dead, err := rdb.XRange(ctx, d.opts.DeadLetterStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, "boom", dead[0].Values["reason"])

	pending, err := rdb.XPending(ctx, d.opts.Stream, d.opts.Group).Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}

func TestSinkSubmitWritesResultToStream(t *testing.T) {
	rdb := getRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream := "results-" + t.Name()
	sink := NewSink(rdb, stream)
	require.NoError(t, sink.Submit(ctx, dispatch.Result{Kind: dispatch.Activity, InstanceID: "inst-3", Token: "tok-3"}))

	entries, err := rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Values["payload"], "inst-3")
}

func TestNewToleratesExistingConsumerGroup(t *testing.T) {
	rdb := getRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := Options{Client: rdb, Stream: "work-" + t.Name(), Consumer: "consumer-1"}
	_, err := New(ctx, opts)
	require.NoError(t, err)

	_, err = New(ctx, opts)
	require.NoError(t, err)
}
