// Package rules provides the fraud rule evaluation engine.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// Engine evaluates transactions against the active rule set.
type Engine struct {
	compiler *Compiler
	registry *Registry
	recorder *Recorder
}

// NewEngine creates an engine that loads rules from store. A nil scorer
// selects HeuristicScorer. No rules are loaded until ReloadRules is called.
func NewEngine(store domain.RuleStore, scorer FraudScorer) (*Engine, error) {
	compiler, err := NewCompiler(scorer)
	if err != nil {
		return nil, err
	}

	return &Engine{
		compiler: compiler,
		registry: NewRegistry(store, compiler),
		recorder: NewRecorder(),
	}, nil
}

// EvaluateTransaction evaluates tx against the active rules.
func (e *Engine) EvaluateTransaction(tx *domain.Transaction) *domain.EvaluationResult {
	return e.Evaluate(tx, e.registry.Rules())
}

// Evaluate runs every rule in order against tx and folds the outcomes. The
// final score is the highest triggered score; the transaction is fraud when
// any rule triggered. A failing rule counts as not triggered and does not
// stop the remaining rules.
func (e *Engine) Evaluate(tx *domain.Transaction, rules []*CompiledRule) *domain.EvaluationResult {
	result := &domain.EvaluationResult{
		TransactionID: tx.ID,
		Triggered:     []string{},
		Details:       map[string]string{},
		Outcomes:      make([]domain.RuleOutcome, 0, len(rules)),
	}

	for _, rule := range rules {
		if rule == nil || rule.Rule == nil {
			continue
		}

		start := time.Now()
		out := e.evaluateRule(rule, tx)
		e.recorder.Record(rule.ID(), out.Triggered, time.Since(start))

		result.RulesEvaluated++
		result.Outcomes = append(result.Outcomes, domain.RuleOutcome{
			RuleID:    rule.ID(),
			RuleType:  rule.Type(),
			Triggered: out.Triggered,
			Score:     out.Score,
			Reason:    out.Reason,
		})

		if !out.Triggered {
			continue
		}
		result.Triggered = append(result.Triggered, rule.ID())
		result.Details[rule.ID()] = out.Reason
		if out.Score > result.FinalScore {
			result.FinalScore = out.Score
		}
	}

	result.IsFraud = len(result.Triggered) > 0
	return result
}

// evaluateRule is the per-rule failure boundary.
func (e *Engine) evaluateRule(rule *CompiledRule, tx *domain.Transaction) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rule evaluation panicked", "rule_id", rule.ID(), "tx_id", tx.ID, "panic", fmt.Sprint(r))
			out = Outcome{}
		}
	}()

	if rule.Evaluator == nil {
		err := &domain.RuleConfigError{RuleID: rule.ID(), Reason: "rule has no parameters"}
		slog.Error("rule evaluation failed", "rule_id", rule.ID(), "tx_id", tx.ID, "error", err)
		return Outcome{}
	}

	out, err := rule.Evaluator.Evaluate(tx)
	if err != nil {
		var evalErr *ConditionEvalError
		if errors.As(err, &evalErr) {
			slog.Warn("rule condition not evaluable", "rule_id", rule.ID(), "tx_id", tx.ID, "error", err)
		} else {
			slog.Warn("rule evaluation failed", "rule_id", rule.ID(), "tx_id", tx.ID, "error", err)
		}
		return Outcome{}
	}

	if !out.Triggered {
		return Outcome{}
	}
	out.Score = clampScore(out.Score)
	return out
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// ReloadRules refreshes the active rule set from the rule store. On failure
// the previous rules stay active and a *RuleLoadError is returned.
func (e *Engine) ReloadRules(ctx context.Context) error {
	return e.registry.Reload(ctx)
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.Rule) error {
	_, err := e.compiler.Compile(rule)
	return err
}

// Rules returns the definitions of the active rules in evaluation order.
func (e *Engine) Rules() []*domain.Rule {
	compiled := e.registry.Rules()
	out := make([]*domain.Rule, len(compiled))
	for i, r := range compiled {
		out[i] = r.Rule
	}
	return out
}

// Rule returns the active rule with the given id.
func (e *Engine) Rule(id string) (*domain.Rule, bool) {
	r, ok := e.registry.Get(id)
	if !ok {
		return nil, false
	}
	return r.Rule, true
}

// RulesCount returns the number of active rules.
func (e *Engine) RulesCount() int {
	return e.registry.Count()
}

// LoadedAt returns when the active rules were loaded, or the zero time
// before the first successful reload.
func (e *Engine) LoadedAt() time.Time {
	return e.registry.LoadedAt()
}

// Recorder returns the engine's metrics recorder.
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Metrics returns a snapshot of all rule metrics.
func (e *Engine) Metrics() []domain.RuleMetrics {
	return e.recorder.Snapshot()
}
