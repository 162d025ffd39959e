package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeNotify is the asynq task carrying an Envelope.
const TaskTypeNotify = "notify:event"

// QueueNotifications keeps notification traffic apart from maintenance jobs.
const QueueNotifications = "notifications"

// Enqueuer is the subset of *asynq.Client used by TaskEmitter.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskEmitter hands events to the worker through asynq.
type TaskEmitter struct {
	client Enqueuer
}

// NewTaskEmitter constructs TaskEmitter.
func NewTaskEmitter(client Enqueuer) *TaskEmitter {
	return &TaskEmitter{client: client}
}

// NewTask builds the asynq task for an event.
func NewTask(eventType string, payload any) (*asynq.Task, error) {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotify, body, asynq.Queue(QueueNotifications), asynq.MaxRetry(5)), nil
}

// Emit enqueues the event.
func (e *TaskEmitter) Emit(ctx context.Context, eventType string, payload any) error {
	task, err := NewTask(eventType, payload)
	if err != nil {
		return fmt.Errorf("notify: build task: %w", err)
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", eventType, err)
	}
	return nil
}

// Publisher delivers a decoded envelope to its final sink.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// TaskHandler processes notify:event tasks on the worker.
type TaskHandler struct {
	publisher Publisher
}

// NewTaskHandler constructs TaskHandler.
func NewTaskHandler(publisher Publisher) *TaskHandler {
	return &TaskHandler{publisher: publisher}
}

// Handle decodes the envelope and publishes it.
func (h *TaskHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var env Envelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return fmt.Errorf("notify: decode envelope: %v: %w", err, asynq.SkipRetry)
	}
	if env.EventType == "" {
		return fmt.Errorf("notify: envelope without type: %w", asynq.SkipRetry)
	}
	return h.publisher.Publish(ctx, env)
}
