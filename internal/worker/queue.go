package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

const (
	DefaultBatchSize    = 50
	DefaultBatchTimeout = 2 * time.Second
	PollTimeout         = 1 * time.Second // Must be >= 1s to satisfy Redis
	RetryDelay          = 5 * time.Second
	errorBackoff        = 3 * time.Second
)

// flushFunc persists a batch of raw queue items and returns the items that
// must be retried later.
type flushFunc func(ctx context.Context, batch []string) (retry []string)

// queueConsumer drains one Redis list in batches. A batch is flushed when it
// is full or when the oldest item has waited batchTimeout. On shutdown the
// buffered batch and whatever is left on the list are flushed once more.
type queueConsumer struct {
	rdb          *redis.Client
	queue        string
	batchSize    int
	batchTimeout time.Duration
	retryDelay   time.Duration
	log          zerolog.Logger
}

func newQueueConsumer(rdb *redis.Client, queue string, batchSize int, log zerolog.Logger) *queueConsumer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &queueConsumer{
		rdb:          rdb,
		queue:        queue,
		batchSize:    batchSize,
		batchTimeout: DefaultBatchTimeout,
		retryDelay:   RetryDelay,
		log:          log,
	}
}

func (q *queueConsumer) run(ctx context.Context, flush flushFunc) {
	buffer := make([]string, 0, q.batchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= q.batchSize || time.Since(lastFlush) >= q.batchTimeout) {
			q.flushAndRequeue(ctx, flush, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			q.shutdown(flush, buffer)
			return
		default:
		}

		result, err := q.rdb.BLPop(ctx, PollTimeout, q.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.log.Error().Err(err).Msg("Redis connection error, backing off")
			sleep(ctx, errorBackoff)
			continue
		}
		if len(result) < 2 {
			continue
		}

		if len(buffer) == 0 {
			lastFlush = time.Now()
		}
		buffer = append(buffer, result[1])
	}
}

// flushAndRequeue pushes failed items back to the tail of the queue and
// pauses so a failing database is not hammered.
func (q *queueConsumer) flushAndRequeue(ctx context.Context, flush flushFunc, batch []string) bool {
	retry := flush(ctx, batch)
	if len(retry) == 0 {
		return true
	}

	items := make([]interface{}, len(retry))
	for i, r := range retry {
		items[i] = r
	}
	// Requeue must outlive a cancelled worker context.
	if err := q.rdb.RPush(context.Background(), q.queue, items...).Err(); err != nil {
		q.log.Error().Err(err).Int("count", len(retry)).Msg("Requeue failed, items lost")
		return false
	}
	observability.QueueRequeuesTotal().WithLabelValues(q.queue).Add(float64(len(retry)))
	q.log.Warn().Int("count", len(retry)).Dur("retry_in", q.retryDelay).Msg("Items requeued")
	sleep(ctx, q.retryDelay)
	return false
}

// shutdown flushes the buffered batch, then drains the list until it is
// empty or a flush fails.
func (q *queueConsumer) shutdown(flush flushFunc, buffer []string) {
	ctx := context.Background()
	q.log.Info().Msg("Shutdown requested, flushing remaining items...")

	if len(buffer) > 0 && !q.flushAndRequeue(ctx, flush, buffer) {
		return
	}

	drained := 0
	for {
		items, err := q.rdb.LPopCount(ctx, q.queue, q.batchSize).Result()
		if err != nil || len(items) == 0 {
			break
		}
		if !q.flushAndRequeue(ctx, flush, items) {
			break
		}
		drained += len(items)
	}

	if drained > 0 {
		q.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
