package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RuleType is the closed set of rule kinds the engine knows how to evaluate.
type RuleType string

const (
	RuleTypeThreshold      RuleType = "threshold"
	RuleTypeComposite      RuleType = "composite"
	RuleTypeHeuristicScore RuleType = "heuristic_score"
)

// ParseRuleType normalizes a stored type string. The legacy names "ml_based"
// and "ml" map to RuleTypeHeuristicScore. Unknown strings are returned as-is
// so the engine can report them.
func ParseRuleType(s string) RuleType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "threshold":
		return RuleTypeThreshold
	case "composite":
		return RuleTypeComposite
	case "heuristic_score", "ml_based", "ml":
		return RuleTypeHeuristicScore
	}
	return RuleType(s)
}

// Known reports whether t is one of the supported rule types.
func (t RuleType) Known() bool {
	switch t {
	case RuleTypeThreshold, RuleTypeComposite, RuleTypeHeuristicScore:
		return true
	}
	return false
}

// Rule is the stored definition of a fraud rule. Condition holds the
// type-specific parameters as raw JSON; they are parsed into typed
// conditions when the rule set is loaded.
type Rule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        RuleType        `json:"type"`
	Condition   json.RawMessage `json:"condition,omitempty"`
	Threshold   *float64        `json:"threshold,omitempty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RuleOutcome is the result of evaluating one rule against one transaction.
type RuleOutcome struct {
	RuleID    string   `json:"rule_id"`
	RuleType  RuleType `json:"rule_type"`
	Triggered bool     `json:"triggered"`
	Score     float64  `json:"score"`
	Reason    string   `json:"reason,omitempty"`
}

// RuleConfigError reports a rule whose parameters are missing or malformed.
type RuleConfigError struct {
	RuleID string
	Reason string
}

func (e *RuleConfigError) Error() string {
	return fmt.Sprintf("rule %s: invalid configuration: %s", e.RuleID, e.Reason)
}

// RuleMetrics holds the running counters for one rule.
type RuleMetrics struct {
	RuleID            string    `json:"rule_id"`
	EvaluationsCount  int64     `json:"evaluations_count"`
	TriggersCount     int64     `json:"triggers_count"`
	AvgProcessingTime float64   `json:"avg_processing_time"` // seconds
	LastEvaluated     time.Time `json:"last_evaluated"`
}
