package nats

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telhawk-systems/trackstack/common/messaging"
)

// setupJetStream starts a NATS server with JetStream in a container.
func setupJetStream(t *testing.T) *JetStreamClient {
	if testing.Short() {
		t.Skip("skipping JetStream integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start NATS container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.URL = fmt.Sprintf("nats://%s:%s", host, port.Port())
	client, err := NewJetStreamClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testLogConfig() LogConfig {
	cfg := DefaultLogConfig()
	cfg.Partitions = 2
	cfg.FetchWait = 200 * time.Millisecond
	cfg.RedeliveryDelay = 100 * time.Millisecond
	return cfg
}

func TestLog_AppendAndConsumeInOrder(t *testing.T) {
	client := setupJetStream(t)
	ctx := context.Background()

	log, err := NewLog(ctx, client, testLogConfig(), nil)
	require.NoError(t, err)

	partition := messaging.PartitionFor("user-1", 2)
	for i := 0; i < 5; i++ {
		pos, err := log.Append(ctx, "user-1", []byte(fmt.Sprintf("e%d", i)), messaging.WithMsgID(fmt.Sprintf("id-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, partition, pos.Partition)
		assert.False(t, pos.Duplicate)
	}

	var mu sync.Mutex
	var got []string
	consumeCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- log.ConsumePartition(consumeCtx, partition, func(ctx context.Context, rec *messaging.Record) error {
			mu.Lock()
			got = append(got, string(rec.Data))
			mu.Unlock()
			assert.Equal(t, "user-1", rec.Key)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, 10*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"e0", "e1", "e2", "e3", "e4"}, got)
}

func TestLog_DuplicateMsgIDIsAbsorbed(t *testing.T) {
	client := setupJetStream(t)
	ctx := context.Background()

	log, err := NewLog(ctx, client, testLogConfig(), nil)
	require.NoError(t, err)

	first, err := log.Append(ctx, "user-1", []byte("x"), messaging.WithMsgID("same"))
	require.NoError(t, err)
	second, err := log.Append(ctx, "user-1", []byte("x"), messaging.WithMsgID("same"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Offset, second.Offset)
}

func TestLog_FailedRecordIsRedelivered(t *testing.T) {
	client := setupJetStream(t)
	ctx := context.Background()

	log, err := NewLog(ctx, client, testLogConfig(), nil)
	require.NoError(t, err)

	pos, err := log.Append(ctx, "user-9", []byte("retry-me"))
	require.NoError(t, err)

	var attempts int
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err = log.ConsumePartition(consumeCtx, pos.Partition, func(ctx context.Context, rec *messaging.Record) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("transient")
		}
		assert.True(t, rec.Redelivered)
		return fmt.Errorf("done: %w", messaging.ErrStopConsuming)
	})
	assert.True(t, messaging.IsStop(err))
	assert.Equal(t, 2, attempts)
}

func TestLog_PartitionOutOfRange(t *testing.T) {
	l := &Log{cfg: LogConfig{Partitions: 2}}
	err := l.ConsumePartition(context.Background(), 5, nil)
	assert.Error(t, err)
}
