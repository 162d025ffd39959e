package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReservationSweep expires due reservations and announces expiring ones.
	TaskReservationSweep = "reservations:sweep"
	// TaskIdempotencyCleanup prunes stale idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReservationSweepPayload carries optional sweep overrides.
type ReservationSweepPayload struct {
	// Now pins the sweep clock. Zero means wall clock.
	Now time.Time `json:"now,omitempty"`
}

// NewReservationSweepTask constructs the sweep task. Unique keeps a slow
// sweep from piling up duplicates in the queue.
func NewReservationSweepTask() (*asynq.Task, error) {
	body, err := json.Marshal(ReservationSweepPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationSweep, body, asynq.Queue(QueueDefault), asynq.Unique(time.Minute)), nil
}

// IdempotencyCleanupPayload configures retention for the cleanup task.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
