package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/shopspring/decimal"
)

// Fixed scores reported by the deterministic rule types.
const (
	ThresholdScore = 0.7
	CompositeScore = 0.8

	// DefaultHeuristicThreshold applies when a heuristic rule sets none.
	DefaultHeuristicThreshold = 0.5
)

// Outcome is what an evaluator reports for one transaction.
type Outcome struct {
	Triggered bool
	Score     float64
	Reason    string
}

// RuleEvaluator evaluates one compiled rule.
type RuleEvaluator interface {
	Evaluate(tx *domain.Transaction) (Outcome, error)
}

// ThresholdEvaluator compares one numeric field against a constant.
type ThresholdEvaluator struct {
	Field    string
	Operator Operator
	Value    float64
}

// Evaluate implements RuleEvaluator. A missing field is not an error.
func (e *ThresholdEvaluator) Evaluate(tx *domain.Transaction) (Outcome, error) {
	raw, ok := tx.Field(e.Field)
	if !ok {
		return Outcome{}, nil
	}

	v, err := toFloat(raw)
	if err != nil {
		return Outcome{}, &ConditionEvalError{Field: e.Field, Value: raw, Err: err}
	}

	if !e.Operator.Compare(v, e.Value) {
		return Outcome{}, nil
	}

	return Outcome{
		Triggered: true,
		Score:     ThresholdScore,
		Reason:    fmt.Sprintf("%s %s %s %s", e.Field, formatFloat(v), e.Operator, formatFloat(e.Value)),
	}, nil
}

// Logic joins the conditions of a composite rule.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// CompositeEvaluator combines atomic conditions with AND or OR.
// Evaluation stops at the first condition that decides the result.
type CompositeEvaluator struct {
	Logic      Logic
	Conditions []Condition
}

// Evaluate implements RuleEvaluator.
func (e *CompositeEvaluator) Evaluate(tx *domain.Transaction) (Outcome, error) {
	var matched bool
	switch e.Logic {
	case LogicAnd:
		matched = true
		for _, c := range e.Conditions {
			if !c.Evaluate(tx) {
				matched = false
				break
			}
		}
	case LogicOr:
		for _, c := range e.Conditions {
			if c.Evaluate(tx) {
				matched = true
				break
			}
		}
	default:
		return Outcome{}, fmt.Errorf("unknown logic %q", e.Logic)
	}

	if !matched {
		return Outcome{}, nil
	}

	kinds := make([]string, len(e.Conditions))
	for i, c := range e.Conditions {
		kinds[i] = string(c.Kind)
	}
	return Outcome{
		Triggered: true,
		Score:     CompositeScore,
		Reason:    fmt.Sprintf("composite %s matched: %s", e.Logic, strings.Join(kinds, ", ")),
	}, nil
}

// HeuristicEvaluator triggers when the scorer's probability exceeds Threshold.
type HeuristicEvaluator struct {
	Threshold float64
	Scorer    FraudScorer
}

// Evaluate implements RuleEvaluator.
func (e *HeuristicEvaluator) Evaluate(tx *domain.Transaction) (Outcome, error) {
	p := e.Scorer.Score(tx)
	if p <= e.Threshold {
		return Outcome{}, nil
	}
	return Outcome{
		Triggered: true,
		Score:     p,
		Reason:    fmt.Sprintf("fraud probability %.2f exceeds threshold %.2f", p, e.Threshold),
	}, nil
}

// unknownEvaluator stands in for rules whose type the engine does not know.
// It never triggers.
type unknownEvaluator struct {
	ruleType domain.RuleType
}

func (e *unknownEvaluator) Evaluate(*domain.Transaction) (Outcome, error) {
	return Outcome{}, fmt.Errorf("unknown rule type %q", e.ruleType)
}

// toFloat converts a transaction or rule value to float64.
func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case decimal.Decimal:
		f, _ := n.Float64()
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
