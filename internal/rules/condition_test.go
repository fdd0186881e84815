package rules

import (
	"testing"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/shopspring/decimal"
)

func TestInWindow(t *testing.T) {
	tests := []struct {
		name       string
		hour       int
		start, end int
		want       bool
	}{
		{"wrapping window late night", 23, 22, 6, true},
		{"wrapping window early morning", 3, 22, 6, true},
		{"wrapping window start edge", 22, 22, 6, true},
		{"wrapping window end edge", 6, 22, 6, true},
		{"wrapping window midday", 12, 22, 6, false},
		{"plain window inside", 12, 6, 22, true},
		{"plain window before", 3, 6, 22, false},
		{"plain window after", 23, 6, 22, false},
		{"equal bounds cover the day", 15, 4, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InWindow(tt.hour, tt.start, tt.end); got != tt.want {
				t.Errorf("InWindow(%d, %d, %d) = %v, want %v", tt.hour, tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestNighttimeCondition(t *testing.T) {
	cond := Condition{Kind: KindNighttime, Start: DefaultNightStart, End: DefaultNightEnd}

	tests := []struct {
		name      string
		timestamp string
		want      bool
	}{
		{"after midnight", "2024-01-15T03:00:00Z", true},
		{"late evening", "2024-01-15T23:30:00Z", true},
		{"afternoon", "2024-01-15T14:00:00Z", false},
		{"local clock is used", "2024-01-15T02:00:00+05:00", true},
		{"missing timestamp", "", false},
		{"unparseable timestamp", "yesterday at noon", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newTx("10", tt.timestamp)
			if got := cond.Evaluate(tx); got != tt.want {
				t.Errorf("nighttime(%q) = %v, want %v", tt.timestamp, got, tt.want)
			}
		})
	}
}

func TestAmountThresholdCondition(t *testing.T) {
	tests := []struct {
		name   string
		op     Operator
		amount string
		want   bool
	}{
		{"default operator is greater", "", "1500", true},
		{"default operator equal amount", "", "1000", false},
		{"greater or equal", OpGreaterEqual, "1000", true},
		{"less", OpLess, "999.99", true},
		{"less or equal", OpLessEqual, "1000.00", true},
		{"equal", OpEqual, "1000", true},
		{"equal mismatch", OpEqual, "1000.01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := Condition{Kind: KindAmountThreshold, Operator: tt.op, Threshold: decimal.NewFromInt(1000)}
			if got := cond.Evaluate(newTx(tt.amount, "")); got != tt.want {
				t.Errorf("amount %s %q 1000 = %v, want %v", tt.amount, tt.op, got, tt.want)
			}
		})
	}
}

func TestFlagAndMatchConditions(t *testing.T) {
	tx := newTx("10", "")
	tx.UserCountry = "NG"
	tx.TransactionType = "wire"
	tx.IsNewUser = true

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"country match", Condition{Kind: KindUserCountry, Value: "NG"}, true},
		{"country mismatch", Condition{Kind: KindUserCountry, Value: "US"}, false},
		{"type match", Condition{Kind: KindTransactionType, Value: "wire"}, true},
		{"type mismatch", Condition{Kind: KindTransactionType, Value: "card"}, false},
		{"new user set", Condition{Kind: KindIsNewUser}, true},
		{"international absent", Condition{Kind: KindIsInternational}, false},
		{"unknown kind", Condition{Kind: "moon_phase"}, false},
		{"expression without program", Condition{Kind: KindExpression}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Evaluate(tx); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpressionCondition(t *testing.T) {
	env, err := newExpressionEnv()
	if err != nil {
		t.Fatalf("failed to create env: %v", err)
	}

	tests := []struct {
		name string
		expr string
		tx   func() *domain.Transaction
		want bool
	}{
		{
			name: "amount and country",
			expr: `amount > 500.0 && user_country == "NG"`,
			tx: func() *domain.Transaction {
				tx := newTx("750", "")
				tx.UserCountry = "NG"
				return tx
			},
			want: true,
		},
		{
			name: "hour is -1 without timestamp",
			expr: `hour >= 0 && hour < 6`,
			tx:   func() *domain.Transaction { return newTx("10", "") },
			want: false,
		},
		{
			name: "hour from timestamp",
			expr: `hour >= 0 && hour < 6`,
			tx:   func() *domain.Transaction { return newTx("10", "2024-01-15T04:10:00Z") },
			want: true,
		},
		{
			name: "metadata lookup",
			expr: `"device" in metadata && metadata["device"] == "emulator"`,
			tx: func() *domain.Transaction {
				tx := newTx("10", "")
				tx.Metadata = map[string]interface{}{"device": "emulator"}
				return tx
			},
			want: true,
		},
		{
			name: "missing metadata key is a runtime error",
			expr: `metadata["device"] == "emulator"`,
			tx:   func() *domain.Transaction { return newTx("10", "") },
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := compileExpression(env, tt.expr)
			if err != nil {
				t.Fatalf("failed to compile %q: %v", tt.expr, err)
			}
			cond := Condition{Kind: KindExpression, Expression: expr}
			if got := cond.Evaluate(tt.tx()); got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestExpressionMustReturnBool(t *testing.T) {
	env, err := newExpressionEnv()
	if err != nil {
		t.Fatalf("failed to create env: %v", err)
	}

	if _, err := compileExpression(env, "amount * 2.0"); err == nil {
		t.Error("expected error for non-bool expression")
	}
	if _, err := compileExpression(env, "this is not valid CEL !!!"); err == nil {
		t.Error("expected error for invalid expression")
	}
}
