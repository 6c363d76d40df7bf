package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"trackflow/internal/config"
)

// TaskTypeSend is the asynq task type for outgoing mail.
const TaskTypeSend = "email:send"

// Queue accepts mail for delivery.
type Queue interface {
	Enqueue(ctx context.Context, msg *Message) error
	IsAsync() bool
	Close() error
}

// NewQueue returns an asynq queue when Redis is configured and reachable,
// otherwise a synchronous one.
func NewQueue(cfg config.RedisConfig, sender Sender, logger *zap.Logger) Queue {
	if !cfg.Enabled() {
		logger.Info("Mail queue running inline (Redis disabled)")
		return NewSyncQueue(sender, logger)
	}
	q, err := NewAsyncQueue(cfg)
	if err != nil {
		logger.Warn("Redis unavailable, mail queue falling back to inline delivery", zap.Error(err))
		return NewSyncQueue(sender, logger)
	}
	logger.Info("Mail queue using Redis", zap.String("addr", cfg.Addr))
	return q
}

// SyncQueue sends on a background goroutine in the current process.
// Failures are logged, never retried.
type SyncQueue struct {
	sender Sender
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewSyncQueue wraps sender.
func NewSyncQueue(sender Sender, logger *zap.Logger) *SyncQueue {
	return &SyncQueue{sender: sender, logger: logger}
}

// Enqueue starts delivery and returns immediately.
func (q *SyncQueue) Enqueue(_ context.Context, msg *Message) error {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.sender.Send(context.Background(), msg); err != nil {
			q.logger.Error("Email delivery failed",
				zap.Strings("to", msg.To),
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}
	}()
	return nil
}

// IsAsync is false.
func (q *SyncQueue) IsAsync() bool { return false }

// Close waits for in-flight deliveries.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}

// AsyncQueue enqueues mail into Redis for a Worker to deliver.
type AsyncQueue struct {
	client *asynq.Client
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewAsyncQueue connects to Redis and verifies the connection.
func NewAsyncQueue(cfg config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}
	return &AsyncQueue{client: client}, nil
}

// NewSendTask encodes msg as an asynq task.
func NewSendTask(msg *Message) (*asynq.Task, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSend, payload), nil
}

// Enqueue stores msg for delivery with up to three retries.
func (q *AsyncQueue) Enqueue(ctx context.Context, msg *Message) error {
	task, err := NewSendTask(msg)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue("default"), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("failed to enqueue email: %w", err)
	}
	return nil
}

// IsAsync is true.
func (q *AsyncQueue) IsAsync() bool { return true }

// Close closes the Redis client.
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}
