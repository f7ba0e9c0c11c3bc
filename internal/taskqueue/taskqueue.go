// Package taskqueue implements the background task runtime:
// a durable broker-backed queue, a worker pool that executes
// registered task handlers, retries with a DLQ for exhausted failures,
// and a beat scheduler for periodic sweeps, following a
// send-then-long-poll-and-delete shape generalized to a named-task
// envelope rather than one fixed event type.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/pkg/logger"
	"github.com/ignite/caseyos/internal/store"
)

// Task names. cmd/worker registers one Handler per name.
const (
	TaskProcessSignal  = "process_signal"
	TaskExecuteAction  = "execute_action"
	TaskDetectOutcome  = "detect_outcome"
	TaskRetryWorkflow  = "process_signal_workflow"
)

// Envelope is the JSON body of every SQS message this package sends and
// receives.
type Envelope struct {
	Task       string `json:"task"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int    `json:"retry_count"`
}

// Broker publishes tasks to the durable queue. The gateway and
// signalingest depend on this narrow interface; SQSBroker (below) is the
// concrete SQS implementation wired in cmd/server and cmd/worker.
type Broker interface {
	Enqueue(ctx context.Context, task string, payload interface{}) error
}

// SQSBroker is the SQS-backed Broker.
type SQSBroker struct {
	client   *sqs.Client
	queueURL string
}

// NewBroker creates an SQSBroker.
func NewBroker(client *sqs.Client, queueURL string) *SQSBroker {
	return &SQSBroker{client: client, queueURL: queueURL}
}

// Enqueue publishes one task envelope. It blocks on the publish and
// returns any send failure to the caller.
func (b *SQSBroker) Enqueue(ctx context.Context, task string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("taskqueue: marshal payload: %w", err)
	}
	env := Envelope{Task: task, Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("taskqueue: marshal envelope: %w", err)
	}
	_, err = b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(b.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("taskqueue: send message: %w", err)
	}
	return nil
}

// EnqueueProcessSignal implements signalingest.Enqueuer.
func (b *SQSBroker) EnqueueProcessSignal(ctx context.Context, signalID string) error {
	return b.Enqueue(ctx, TaskProcessSignal, map[string]string{"signal_id": signalID})
}

// EnqueueDetectOutcome implements executor.OutcomeEnqueuer.
func (b *SQSBroker) EnqueueDetectOutcome(ctx context.Context, draftID string) error {
	return b.Enqueue(ctx, TaskDetectOutcome, map[string]string{"draft_id": draftID})
}

// Handler processes one task's payload. A returned error that is
// transient triggers SQS's native redelivery (message becomes visible
// again); handlers signal a permanent failure by returning a
// non-transient error, which the Worker routes to the DLQ via FailedTasks.
type Handler func(ctx context.Context, payload json.RawMessage) error

// maxRetries bounds how many redeliveries a task gets before the
// worker gives up and writes a terminal FailedTask.
const maxRetries = 5

// Worker long-polls the queue and dispatches messages to registered
// handlers via a long-poll loop.
type Worker struct {
	client   *sqs.Client
	queueURL string
	failed   store.FailedTasks
	handlers map[string]Handler
}

// NewWorker creates a Worker with no handlers registered; call Register
// for each task name before Run.
func NewWorker(client *sqs.Client, queueURL string, failed store.FailedTasks) *Worker {
	return &Worker{client: client, queueURL: queueURL, failed: failed, handlers: make(map[string]Handler)}
}

// Register binds a Handler to a task name.
func (w *Worker) Register(task string, h Handler) {
	w.handlers[task] = h
}

// Run polls until ctx is cancelled. Intended to be called from a
// goroutine per worker process.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("taskqueue worker started", "queue_url", w.queueURL)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   60,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("taskqueue receive error", "error", err.Error())
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg sqstypes.Message) {
	var env Envelope
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &env); err != nil {
		logger.Warn("taskqueue bad message", "error", err.Error())
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	handler, ok := w.handlers[env.Task]
	if !ok {
		logger.Warn("taskqueue no handler registered", "task", env.Task)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	if err := handler(ctx, env.Payload); err != nil {
		logger.Warn("taskqueue handler error", "task", env.Task, "error", err.Error())
		if env.RetryCount >= maxRetries {
			w.deadLetter(ctx, env, err)
			w.deleteMessage(ctx, msg.ReceiptHandle)
		}
		// Under maxRetries: leave the message for SQS's own redelivery
		// once the visibility timeout elapses.
		return
	}

	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, handle *string) {
	_, err := w.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Warn("taskqueue delete message failed", "error", err.Error())
	}
}

func (w *Worker) deadLetter(ctx context.Context, env Envelope, cause error) {
	if w.failed == nil {
		return
	}
	now := time.Now().UTC()
	var payload map[string]interface{}
	_ = json.Unmarshal(env.Payload, &payload)
	if err := w.failed.Create(ctx, &domain.FailedTask{
		ID: domain.NewID(), TaskName: env.Task, Payload: payload,
		ErrorText: cause.Error(), RetryCount: env.RetryCount, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		logger.Warn("taskqueue: write dead-letter task failed", "task", env.Task, "error", err.Error())
	}
}

// Beat periodically re-enqueues due FailedTasks. It does not scan
// signals: a signal whose process_signal enqueue failed is not swept here.
type Beat struct {
	failed store.FailedTasks
	broker Broker
}

// NewBeat creates a Beat.
func NewBeat(failed store.FailedTasks, broker Broker) *Beat {
	return &Beat{failed: failed, broker: broker}
}

// Run ticks every interval until ctx is cancelled, re-enqueuing every
// FailedTask whose NextRetryAt has elapsed.
func (b *Beat) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep(ctx)
		}
	}
}

func (b *Beat) sweep(ctx context.Context) {
	due, err := b.failed.ListDue(ctx, time.Now().UTC(), 50)
	if err != nil {
		logger.Warn("taskqueue beat: list due failed tasks failed", "error", err.Error())
		return
	}
	for i := range due {
		task := due[i]
		if task.ResolvedAt != nil {
			continue
		}
		if err := b.broker.Enqueue(ctx, task.TaskName, task.Payload); err != nil {
			logger.Warn("taskqueue beat: re-enqueue failed", "task_id", task.ID, "error", err.Error())
			continue
		}
		next := time.Now().UTC().Add(time.Duration(task.RetryCount+1) * 5 * time.Minute)
		task.RetryCount++
		task.NextRetryAt = &next
		task.UpdatedAt = time.Now().UTC()
		if err := b.failed.Save(ctx, &task); err != nil {
			logger.Warn("taskqueue beat: save retried task failed", "task_id", task.ID, "error", err.Error())
		}
	}
}
