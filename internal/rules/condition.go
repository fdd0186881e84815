package rules

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/shopspring/decimal"
)

// Operator is a numeric comparison operator.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// ParseOperator validates an operator string.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual:
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Compare applies the operator as "a op b".
func (op Operator) Compare(a, b float64) bool {
	switch op {
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpEqual:
		return a == b
	}
	return false
}

// ConditionKind names one atomic condition of a composite rule.
type ConditionKind string

const (
	KindAmountThreshold ConditionKind = "amount_threshold"
	KindNighttime       ConditionKind = "nighttime"
	KindUserCountry     ConditionKind = "user_country"
	KindTransactionType ConditionKind = "transaction_type"
	KindIsNewUser       ConditionKind = "is_new_user"
	KindIsInternational ConditionKind = "is_international"
	KindExpression      ConditionKind = "expression"
)

// Default nighttime window, in hours.
const (
	DefaultNightStart = 22
	DefaultNightEnd   = 6
)

// Condition is a parsed atomic condition. Only the fields used by Kind are set.
type Condition struct {
	Kind ConditionKind

	// amount_threshold
	Operator  Operator
	Threshold decimal.Decimal

	// nighttime
	Start int
	End   int

	// user_country, transaction_type
	Value string

	// expression
	Expression *Expression
}

// Evaluate reports whether the condition holds for tx. It never fails:
// unusable input and unknown kinds evaluate to false.
func (c Condition) Evaluate(tx *domain.Transaction) bool {
	switch c.Kind {
	case KindAmountThreshold:
		return amountThreshold(c, tx)
	case KindNighttime:
		return nighttime(c, tx)
	case KindUserCountry:
		return tx.UserCountry == c.Value
	case KindTransactionType:
		return tx.TransactionType == c.Value
	case KindIsNewUser:
		return tx.IsNewUser
	case KindIsInternational:
		return tx.IsInternational
	case KindExpression:
		return expression(c, tx)
	default:
		slog.Warn("unknown condition kind", "kind", string(c.Kind))
		return false
	}
}

func amountThreshold(c Condition, tx *domain.Transaction) bool {
	cmp := tx.Amount.Cmp(c.Threshold)
	switch c.Operator {
	case OpGreater, "":
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpEqual:
		return cmp == 0
	}
	return false
}

func nighttime(c Condition, tx *domain.Transaction) bool {
	hour, ok := tx.Timestamp.Hour()
	if !ok {
		return false
	}
	return InWindow(hour, c.Start, c.End)
}

// InWindow reports whether hour lies in [start, end]. A window with
// start >= end wraps past midnight.
func InWindow(hour, start, end int) bool {
	if start < end {
		return start <= hour && hour <= end
	}
	return hour >= start || hour <= end
}

func expression(c Condition, tx *domain.Transaction) bool {
	if c.Expression == nil {
		return false
	}
	ok, err := c.Expression.Eval(tx)
	if err != nil {
		slog.Debug("expression evaluation failed", "expression", c.Expression.Source, "error", err)
		return false
	}
	return ok
}
