package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
	"github.com/odyssey-erp/odyssey-retail/internal/reservations"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Sweeper is the reservation service surface used by the sweep job.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (reservations.SweepResult, error)
}

// Locker grants cross-process exclusivity.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// ReservationSweepJob runs the reservation expiry sweep on one worker at a time.
type ReservationSweepJob struct {
	Sweeper Sweeper
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
	clock   func() time.Time
}

// NewReservationSweepJob initialises the sweep handler.
func NewReservationSweepJob(sweeper Sweeper, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationSweepJob {
	return &ReservationSweepJob{
		Sweeper: sweeper,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		LockTTL: 4 * time.Minute,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *ReservationSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("reservation sweep: handler not configured")
	}
	var payload ReservationSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	now := payload.Now
	if now.IsZero() {
		now = j.now()
	}
	logger := j.logger()

	release := func(context.Context) error { return nil }
	if j.Locker != nil {
		var err error
		release, err = j.Locker.TryLock(ctx, shared.ReservationSweepLockKey, j.lockTTL())
		if errors.Is(err, shared.ErrLockHeld) {
			logger.Info("reservation sweep already running elsewhere")
			return nil
		}
		if err != nil {
			return err
		}
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release sweep lock", slog.Any("error", err))
		}
	}()

	tracker := j.metrics().Track(TaskReservationSweep)
	result, err := j.Sweeper.SweepExpired(ctx, now)
	j.metrics().AddSweepResults("expired", result.Expired)
	j.metrics().AddSweepResults("notified", result.Notified)
	j.metrics().AddSweepResults("skipped", result.Skipped)
	j.metrics().AddSweepResults("failed", result.Failed)
	if err != nil {
		logger.Error("reservation sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("reservation sweep completed",
		slog.Int("expired", result.Expired),
		slog.Int("notified", result.Notified),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
	)
	return tracker.End(nil)
}

func (j *ReservationSweepJob) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	return 4 * time.Minute
}

func (j *ReservationSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReservationSweep))
	}
	return slog.Default().With(slog.String("job", TaskReservationSweep))
}

func (j *ReservationSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReservationSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
