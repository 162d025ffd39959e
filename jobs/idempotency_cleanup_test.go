package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
)

type cleanerFunc func(ctx context.Context, olderThan time.Duration) error

func (f cleanerFunc) Cleanup(ctx context.Context, olderThan time.Duration) error { return f(ctx, olderThan) }

func TestIdempotencyCleanupRetention(t *testing.T) {
	var got time.Duration
	job := NewIdempotencyCleanupJob(cleanerFunc(func(_ context.Context, olderThan time.Duration) error {
		got = olderThan
		return nil
	}), nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, got)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, defaultIdempotencyRetention, got)
}

func TestIdempotencyCleanupPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	job := NewIdempotencyCleanupJob(cleanerFunc(func(context.Context, time.Duration) error { return boom }), nil, nil)
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)), boom)
}
