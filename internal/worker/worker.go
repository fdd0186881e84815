// Package worker consumes ingested transactions from the event bus and runs
// them through the evaluation pipeline.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// Worker subscribes to the ingestion topic and processes each message.
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a worker.
func NewWorker(bus domain.EventBus, pipeline *Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the transaction ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionIngested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// handleMessage decodes a transaction and evaluates it. Messages without a
// transaction id use the message id.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		w.failed.Add(1)
		return fmt.Errorf("failed to parse transaction message %s: %w", msg.ID, err)
	}
	if tx.ID == "" {
		tx.ID = msg.ID
	}
	if err := tx.Validate(); err != nil {
		w.failed.Add(1)
		return fmt.Errorf("transaction %s rejected: %w", tx.ID, err)
	}

	if _, err := w.pipeline.Process(ctx, &tx); err != nil {
		// The verdict exists; only the side effects failed.
		slog.Error("pipeline side effects failed", "tx_id", tx.ID, "error", err)
	}
	w.processed.Add(1)
	return nil
}

// Stop unsubscribes, letting the bus hand over transactions it already
// accepted, and then cancels the worker context. Transactions queued with
// 202 before Stop are evaluated, not lost.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil
	w.cancel()

	slog.Info("worker stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
	return nil
}

// Stats reports worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
