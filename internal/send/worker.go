package send

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devmuse/automaton/pkg/logging"
)

type workerConfig struct {
	workers          int
	receiveBatchSize int
	receiveWaitSecs  int
}

// WorkerOption customizes a Worker.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of delivery goroutines.
func WithWorkerCount(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

// WithReceiveBatch sets how many messages one receive call may return.
func WithReceiveBatch(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.receiveBatchSize = n
		}
	}
}

// Worker drains the outbound queue and delivers each payload through the
// gateway provider. Failed deliveries are left on the queue for redelivery;
// undecodable messages are deleted so they cannot poison the loop.
type Worker struct {
	queue    Queue
	provider Provider
	logger   *logging.Logger
	cfg      workerConfig
	wg       sync.WaitGroup
}

// NewWorker wires a queue to a provider.
func NewWorker(queue Queue, provider Provider, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          2,
		receiveBatchSize: 5,
		receiveWaitSecs:  10,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		queue:    queue,
		provider: provider,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("send worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("send worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive outbound messages", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	var payload Payload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode outbound payload", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if err := w.provider.Send(ctx, payload); err != nil {
		w.logger.Error("outbound delivery failed",
			"error", err,
			"device_id", payload.DeviceID,
			"to", payload.Phone,
			"token", payload.Token)
		return
	}

	w.logger.Info("outbound message delivered",
		"device_id", payload.DeviceID,
		"to", payload.Phone,
		"token", payload.Token)
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Warn("failed to delete outbound message", "error", err)
	}
}

// Enqueue serializes a payload onto the queue. Used by the dispatcher.
func Enqueue(ctx context.Context, queue Queue, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("send: marshal outbound payload: %w", err)
	}
	return queue.Send(ctx, string(body))
}
