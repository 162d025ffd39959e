package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "1", Queue: QueueNotifications}, nil
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestTaskEmitterRoundTripToKafka(t *testing.T) {
	enq := &fakeEnqueuer{}
	emitter := NewTaskEmitter(enq)
	require.NoError(t, emitter.Emit(context.Background(), EventSaleCreated, map[string]any{"sale_id": 7}))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskTypeNotify, enq.tasks[0].Type())

	writer := &fakeWriter{}
	handler := NewTaskHandler(NewKafkaPublisher(writer))
	require.NoError(t, handler.Handle(context.Background(), enq.tasks[0]))
	require.Len(t, writer.msgs, 1)
	require.Equal(t, EventSaleCreated, string(writer.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &env))
	require.Equal(t, EventSaleCreated, env.EventType)
	require.JSONEq(t, `{"sale_id":7}`, string(env.Payload))
}

func TestTaskHandlerSkipsMalformed(t *testing.T) {
	handler := NewTaskHandler(NewKafkaPublisher(&fakeWriter{}))
	err := handler.Handle(context.Background(), asynq.NewTask(TaskTypeNotify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAsyncNeverReturnsSinkError(t *testing.T) {
	done := make(chan struct{})
	failing := EmitterFunc(func(ctx context.Context, eventType string, payload any) error {
		defer close(done)
		return errors.New("sink down")
	})
	async := NewAsync(failing, time.Second, nil)
	require.NoError(t, async.Emit(context.Background(), EventStockOut, nil))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async emitter did not deliver")
	}
}
