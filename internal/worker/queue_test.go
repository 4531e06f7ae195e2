package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingFlush struct {
	mu      sync.Mutex
	batches [][]string
	fail    map[string]bool
}

func (r *recordingFlush) flush(_ context.Context, batch []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]string(nil), batch...))
	var retry []string
	for _, item := range batch {
		if r.fail[item] {
			retry = append(retry, item)
		}
	}
	return retry
}

func (r *recordingFlush) items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func TestQueueConsumerDrainsOnShutdown(t *testing.T) {
	server, rdb := newTestRedis(t)
	for _, item := range []string{"a", "b", "c", "d", "e"} {
		_, err := server.RPush("q", item)
		require.NoError(t, err)
	}

	consumer := newQueueConsumer(rdb, "q", 2, zerolog.Nop())
	rec := &recordingFlush{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	consumer.run(ctx, rec.flush)

	require.Equal(t, []string{"a", "b", "c", "d", "e"}, rec.items())
	require.Len(t, rec.batches, 3)
	require.False(t, server.Exists("q"))
}

func TestQueueConsumerFlushesOnBatchSize(t *testing.T) {
	server, rdb := newTestRedis(t)
	consumer := newQueueConsumer(rdb, "q", 2, zerolog.Nop())
	consumer.batchTimeout = time.Hour
	rec := &recordingFlush{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.run(ctx, rec.flush)
		close(done)
	}()

	_, err := server.RPush("q", "x", "y")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.items()) == 2 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done
	require.Equal(t, []string{"x", "y"}, rec.items())
}

func TestQueueConsumerRequeuesFailures(t *testing.T) {
	server, rdb := newTestRedis(t)
	consumer := newQueueConsumer(rdb, "q", 10, zerolog.Nop())
	consumer.retryDelay = 0
	rec := &recordingFlush{fail: map[string]bool{"bad": true}}

	ok := consumer.flushAndRequeue(context.Background(), rec.flush, []string{"good", "bad"})
	require.False(t, ok)

	left, err := server.List("q")
	require.NoError(t, err)
	require.Equal(t, []string{"bad"}, left)

	ok = consumer.flushAndRequeue(context.Background(), rec.flush, []string{"good"})
	require.True(t, ok)
}

func TestQueueConsumerShutdownStopsOnFailure(t *testing.T) {
	server, rdb := newTestRedis(t)
	_, err := server.RPush("q", "bad", "other")
	require.NoError(t, err)

	consumer := newQueueConsumer(rdb, "q", 1, zerolog.Nop())
	consumer.retryDelay = 0
	rec := &recordingFlush{fail: map[string]bool{"bad": true}}

	consumer.shutdown(rec.flush, nil)

	left, err := server.List("q")
	require.NoError(t, err)
	require.Equal(t, []string{"other", "bad"}, left)
}
