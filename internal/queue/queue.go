// Package queue implements the asynchronous task queue on Redis lists.
// Tasks are pushed to a pending list, moved into a processing list while a
// worker holds them, and acknowledged by removal. A worker crash leaves the
// task in the processing list, where startup recovery requeues it — the
// at-least-once guarantee the pipeline is written to tolerate. Outcomes are
// written to a separate result store with a TTL.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/quicklingo/quicklingo/internal/config"
	"github.com/quicklingo/quicklingo/internal/metrics"
	"github.com/quicklingo/quicklingo/internal/pipeline"
	"github.com/quicklingo/quicklingo/internal/update"
)

const popTimeout = 5 * time.Second

// Task is the queue envelope around one classified update.
type Task struct {
	ID         string        `json:"id"`
	Attempts   int           `json:"attempts"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Update     update.Update `json:"update"`
}

// Handler processes one classified update and returns its outcome.
type Handler func(ctx context.Context, upd *update.Update) (*pipeline.Outcome, error)

// Queue is a Redis-backed task queue with an attached result store.
type Queue struct {
	broker      *redis.Client
	results     *redis.Client
	logger      *slog.Logger
	pendingKey  string
	workingKey  string
	deadKey     string
	maxAttempts int
	resultTTL   time.Duration
}

// New connects the broker and result store clients and verifies both.
func New(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	broker := redis.NewClient(&redis.Options{Addr: cfg.BrokerAddr})
	if err := broker.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to queue broker at %s: %w", cfg.BrokerAddr, err)
	}

	results := broker
	if cfg.ResultAddr != cfg.BrokerAddr {
		results = redis.NewClient(&redis.Options{Addr: cfg.ResultAddr})
		if err := results.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to result store at %s: %w", cfg.ResultAddr, err)
		}
	}

	base := "quicklingo:" + cfg.QueueName
	return &Queue{
		broker:      broker,
		results:     results,
		logger:      logger.With("component", "queue"),
		pendingKey:  base,
		workingKey:  base + ":processing",
		deadKey:     base + ":dead",
		maxAttempts: cfg.MaxAttempts,
		resultTTL:   cfg.ResultTTL,
	}, nil
}

// Close releases the Redis connections.
func (q *Queue) Close() error {
	var errs []error
	if err := q.broker.Close(); err != nil {
		errs = append(errs, err)
	}
	if q.results != q.broker {
		if err := q.results.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping checks the broker connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.broker.Ping(ctx).Err()
}

// Enqueue wraps a classified update in a task envelope and pushes it to the
// pending list. Returns the task ID.
func (q *Queue) Enqueue(ctx context.Context, upd *update.Update) (string, error) {
	task := Task{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now().UTC(),
		Update:     *upd,
	}

	if err := q.push(ctx, &task); err != nil {
		return "", err
	}

	q.logger.DebugContext(ctx, "Task enqueued", "task_id", task.ID, "kind", upd.Kind)
	return task.ID, nil
}

func (q *Queue) push(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	if err := q.broker.LPush(ctx, q.pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	if depth, err := q.broker.LLen(ctx, q.pendingKey).Result(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	return nil
}

// Recover requeues tasks a crashed worker left in the processing list.
// Called once at startup, before workers begin consuming.
func (q *Queue) Recover(ctx context.Context) error {
	for {
		raw, err := q.broker.RPopLPush(ctx, q.workingKey, q.pendingKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to recover in-flight tasks: %w", err)
		}
		q.logger.Warn("Requeued task left in processing by a previous run", "payload_bytes", len(raw))
	}
}

// Worker consumes tasks until the context is cancelled. Failed tasks are
// re-enqueued with an incremented attempt count, then dead-lettered once the
// attempt budget is spent.
func (q *Queue) Worker(ctx context.Context, id int, handler Handler) error {
	log := q.logger.With("worker", id)
	log.Info("Worker started")

	for {
		if ctx.Err() != nil {
			log.Info("Worker stopping")
			return nil
		}

		raw, err := q.broker.BRPopLPush(ctx, q.pendingKey, q.workingKey, popTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Worker stopping")
				return nil
			}
			log.Error("Failed to pop task from queue", "error", err)
			time.Sleep(time.Second)
			continue
		}

		q.handleRaw(ctx, log, raw, handler)

		if depth, err := q.broker.LLen(ctx, q.pendingKey).Result(); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
	}
}

func (q *Queue) handleRaw(ctx context.Context, log *slog.Logger, raw string, handler Handler) {
	// The raw payload is the ack token: LRem by value removes exactly this
	// delivery from the processing list on every exit path.
	defer func() {
		if err := q.broker.LRem(ctx, q.workingKey, 1, raw).Err(); err != nil && ctx.Err() == nil {
			log.Error("Failed to acknowledge task", "error", err)
		}
	}()

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// An undecodable envelope can never succeed; dead-letter it.
		log.Error("Dropping undecodable task payload", "error", err)
		q.deadLetter(ctx, log, raw)
		return
	}

	tlog := log.With("task_id", task.ID, "kind", task.Update.Kind, "attempt", task.Attempts+1)
	tlog.InfoContext(ctx, "Processing task")
	start := time.Now()

	outcome, err := handler(ctx, &task.Update)
	if err != nil {
		tlog.ErrorContext(ctx, "Task failed", "error", err, "duration", time.Since(start))
		q.retry(ctx, tlog, &task)
		return
	}

	q.storeResult(ctx, tlog, task.ID, outcome)
	tlog.InfoContext(ctx, "Task completed", "status", outcome.Status, "duration", time.Since(start))
}

func (q *Queue) retry(ctx context.Context, log *slog.Logger, task *Task) {
	task.Attempts++
	if task.Attempts >= q.maxAttempts {
		log.Error("Task exhausted attempts, dead-lettering", "attempts", task.Attempts)
		if payload, err := json.Marshal(task); err == nil {
			q.deadLetter(ctx, log, string(payload))
		}
		return
	}

	metrics.TaskRetries.Inc()
	if err := q.push(ctx, task); err != nil {
		log.Error("Failed to re-enqueue task", "error", err)
	}
}

func (q *Queue) deadLetter(ctx context.Context, log *slog.Logger, raw string) {
	if err := q.broker.LPush(ctx, q.deadKey, raw).Err(); err != nil {
		log.Error("Failed to dead-letter task", "error", err)
	}
}

func (q *Queue) storeResult(ctx context.Context, log *slog.Logger, taskID string, outcome *pipeline.Outcome) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		log.Error("Failed to encode task result", "error", err)
		return
	}

	if err := q.results.Set(ctx, "quicklingo:result:"+taskID, payload, q.resultTTL).Err(); err != nil {
		log.Error("Failed to store task result", "error", err)
	}
}
