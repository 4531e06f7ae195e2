package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type stubSubmissionStore struct {
	exists bool
}

func (s stubSubmissionStore) Exists(context.Context, uuid.UUID, int) (bool, error) {
	return s.exists, nil
}

func TestQueueSinkSubmit(t *testing.T) {
	server, rdb := newTestRedis(t)
	sink := NewQueueSink(rdb, nil, zerolog.Nop())
	ctx := context.Background()

	testID := uuid.New()
	require.NoError(t, sink.MarkActive(ctx, testID, 7, time.Hour))
	require.True(t, server.Exists(config.CacheKey.StudentActiveTestKey(7)))

	res := &model.SubmissionResult{
		SessionID: uuid.New(),
		TestID:    testID,
		StudentID: 7,
		Answers:   map[string]int{"q1": 2},
		Score:     3,
		MaxMarks:  5,
		Reason:    model.SubmitReasonManual,
	}
	require.NoError(t, sink.Submit(ctx, res))

	queued, err := server.List(config.WorkerKey.PersistSubmissionsQueue)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	var decoded model.SubmissionResult
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &decoded))
	require.Equal(t, res.SessionID, decoded.SessionID)
	require.False(t, server.Exists(config.CacheKey.StudentActiveTestKey(7)))

	done, err := sink.HasSubmitted(ctx, testID, 7)
	require.NoError(t, err)
	require.True(t, done)

	prev, err := sink.QueuedResult(ctx, testID, 7)
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.Equal(t, 3.0, prev.Score)
}

func TestQueueSinkHasSubmittedFallsBackToStore(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	done, err := NewQueueSink(rdb, nil, zerolog.Nop()).HasSubmitted(ctx, uuid.New(), 1)
	require.NoError(t, err)
	require.False(t, done)

	done, err = NewQueueSink(rdb, stubSubmissionStore{exists: true}, zerolog.Nop()).HasSubmitted(ctx, uuid.New(), 1)
	require.NoError(t, err)
	require.True(t, done)

	prev, err := NewQueueSink(rdb, nil, zerolog.Nop()).QueuedResult(ctx, uuid.New(), 1)
	require.NoError(t, err)
	require.Nil(t, prev)
}
