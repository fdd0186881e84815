package rules

import (
	"math"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/shopspring/decimal"
)

// FraudScorer estimates the probability that a transaction is fraudulent.
type FraudScorer interface {
	Score(tx *domain.Transaction) float64
}

var (
	largeAmount     = decimal.NewFromInt(1000)
	veryLargeAmount = decimal.NewFromInt(5000)
)

// HeuristicScorer is an additive stand-in for a trained model.
type HeuristicScorer struct{}

// Score implements FraudScorer. The result is capped at 0.95.
func (HeuristicScorer) Score(tx *domain.Transaction) float64 {
	p := 0.01
	if tx.Amount.GreaterThan(largeAmount) {
		p += 0.3
	}
	if tx.Amount.GreaterThan(veryLargeAmount) {
		p += 0.4
	}
	if hour, ok := tx.Timestamp.Hour(); ok && hour < 6 {
		p += 0.2
	}
	if tx.IsNewUser {
		p += 0.1
	}
	if tx.IsInternational {
		p += 0.15
	}
	return math.Min(p, 0.95)
}
