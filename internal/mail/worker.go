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

// Worker drains the asynq mail queue.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	sender  Sender
	logger  *zap.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWorker returns nil when Redis is not configured.
func NewWorker(cfg config.RedisConfig, sender Sender, logger *zap.Logger) *Worker {
	if !cfg.Enabled() {
		return nil
	}

	server := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("Mail task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	w := &Worker{server: server, mux: asynq.NewServeMux(), sender: sender, logger: logger}
	w.mux.HandleFunc(TaskTypeSend, w.HandleSend)
	return w
}

// Start runs the worker in the background.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.logger.Info("Mail worker started")
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Mail worker stopped", zap.Error(err))
		}
	}()
}

// Stop waits for in-flight tasks and shuts the worker down.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	w.logger.Info("Mail worker stopped")
}

// HandleSend decodes and delivers one email:send task.
func (w *Worker) HandleSend(ctx context.Context, t *asynq.Task) error {
	var msg Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("invalid email payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.sender.Send(ctx, &msg)
}
