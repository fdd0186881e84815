package domain

import (
	"encoding/json"
	"time"
)

// EvaluationResult is the verdict for one transaction.
type EvaluationResult struct {
	TransactionID  string            `json:"transaction_id"`
	Triggered      []string          `json:"triggered_rules"`
	FinalScore     float64           `json:"final_score"`
	IsFraud        bool              `json:"is_fraud"`
	Details        map[string]string `json:"details"`
	RulesEvaluated int               `json:"rules_evaluated"`
	Outcomes       []RuleOutcome     `json:"outcomes,omitempty"`
}

// Decision status published on the bus.
const (
	StatusSuspicious = "suspicious"
	StatusCompleted  = "completed"
)

// Status returns the decision status for the result.
func (r *EvaluationResult) Status() string {
	if r.IsFraud {
		return StatusSuspicious
	}
	return StatusCompleted
}

// CheckRecord is a persisted evaluation result.
type CheckRecord struct {
	TransactionID     string            `json:"transaction_id"`
	CheckedAt         time.Time         `json:"checked_at"`
	TotalRulesChecked int               `json:"total_rules_checked"`
	Triggered         []string          `json:"triggered_rules"`
	FinalScore        float64           `json:"final_score"`
	IsFraud           bool              `json:"is_fraud"`
	Details           map[string]string `json:"details"`
	Outcomes          []RuleOutcome     `json:"outcomes,omitempty"`
}

// NewCheckRecord builds a check record from an evaluation result.
func NewCheckRecord(result *EvaluationResult, checkedAt time.Time) *CheckRecord {
	return &CheckRecord{
		TransactionID:     result.TransactionID,
		CheckedAt:         checkedAt,
		TotalRulesChecked: result.RulesEvaluated,
		Triggered:         result.Triggered,
		FinalScore:        result.FinalScore,
		IsFraud:           result.IsFraud,
		Details:           result.Details,
		Outcomes:          result.Outcomes,
	}
}

// Decision is the message published once a transaction has been evaluated.
type Decision struct {
	TransactionID string            `json:"transaction_id"`
	Status        string            `json:"status"`
	Result        *EvaluationResult `json:"result"`
	DecidedAt     time.Time         `json:"decided_at"`
}

// Severity grades an alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor maps a rule type to the severity of alerts it raises.
func SeverityFor(t RuleType) Severity {
	switch t {
	case RuleTypeHeuristicScore:
		return SeverityHigh
	case RuleTypeComposite:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Alert records one triggered rule for one transaction.
type Alert struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"rule_id"`
	TransactionID   string          `json:"transaction_id"`
	Reason          string          `json:"reason"`
	Severity        Severity        `json:"severity"`
	TransactionData json.RawMessage `json:"transaction_data,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
