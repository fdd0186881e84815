package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("fraudwatch-worker")

// CheckStore persists verdicts and the alerts they raise.
type CheckStore interface {
	domain.AlertSink
	SaveCheck(ctx context.Context, check *domain.CheckRecord) error
}

// Pipeline evaluates a transaction and fans the verdict out to storage and
// the event bus. Both the HTTP API and the async worker go through it.
type Pipeline struct {
	engine *rules.Engine
	store  CheckStore
	bus    domain.EventBus
	now    func() time.Time
}

// NewPipeline creates a pipeline. store and bus may be nil.
func NewPipeline(engine *rules.Engine, store CheckStore, bus domain.EventBus) *Pipeline {
	return &Pipeline{
		engine: engine,
		store:  store,
		bus:    bus,
		now:    time.Now,
	}
}

// Process evaluates tx and records the outcome. The verdict is always
// returned; the error reports persistence or publish failures that happened
// after evaluation.
func (p *Pipeline) Process(ctx context.Context, tx *domain.Transaction) (*domain.EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.process")
	defer span.End()

	start := p.now()
	result := p.engine.EvaluateTransaction(tx)
	span.SetAttributes(
		attribute.String("fraudwatch.tx_id", tx.ID),
		attribute.Int("fraudwatch.rules_evaluated", result.RulesEvaluated),
		attribute.Int("fraudwatch.rules_triggered", len(result.Triggered)),
		attribute.Float64("fraudwatch.final_score", result.FinalScore),
		attribute.Bool("fraudwatch.is_fraud", result.IsFraud),
	)

	var errs []error
	if p.store != nil {
		if err := p.store.SaveCheck(ctx, domain.NewCheckRecord(result, start.UTC())); err != nil {
			errs = append(errs, fmt.Errorf("failed to save check: %w", err))
		}
		if alerts := p.buildAlerts(tx, result); len(alerts) > 0 {
			if err := p.store.SaveAlerts(ctx, alerts); err != nil {
				errs = append(errs, fmt.Errorf("failed to save alerts: %w", err))
			}
		}
	}
	if err := p.publish(ctx, result); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"status", result.Status(),
		"score", result.FinalScore,
		"triggered", len(result.Triggered),
		"duration_ms", p.now().Sub(start).Milliseconds(),
	)
	return result, err
}

// buildAlerts creates one alert per triggered rule.
func (p *Pipeline) buildAlerts(tx *domain.Transaction, result *domain.EvaluationResult) []*domain.Alert {
	if !result.IsFraud {
		return nil
	}

	data, err := json.Marshal(tx)
	if err != nil {
		slog.Warn("failed to encode transaction for alert", "tx_id", tx.ID, "error", err)
		data = nil
	}

	now := p.now().UTC()
	alerts := make([]*domain.Alert, 0, len(result.Triggered))
	for _, o := range result.Outcomes {
		if !o.Triggered {
			continue
		}
		name := o.RuleID
		if rule, ok := p.engine.Rule(o.RuleID); ok && rule.Name != "" {
			name = rule.Name
		}
		alerts = append(alerts, &domain.Alert{
			ID:              uuid.New().String(),
			RuleID:          o.RuleID,
			TransactionID:   tx.ID,
			Reason:          fmt.Sprintf("Rule '%s' triggered", name),
			Severity:        domain.SeverityFor(o.RuleType),
			TransactionData: data,
			CreatedAt:       now,
		})
	}
	return alerts
}

func (p *Pipeline) publish(ctx context.Context, result *domain.EvaluationResult) error {
	if p.bus == nil {
		return nil
	}

	payload, err := json.Marshal(domain.Decision{
		TransactionID: result.TransactionID,
		Status:        result.Status(),
		Result:        result,
		DecidedAt:     p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	if err := p.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		return fmt.Errorf("failed to publish decision: %w", err)
	}
	if result.IsFraud {
		if err := p.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			return fmt.Errorf("failed to publish alert: %w", err)
		}
	}
	return nil
}
