package rules

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory RuleStore for tests.
type memStore struct {
	mu    sync.Mutex
	rules []*domain.Rule
	err   error
}

func (s *memStore) FetchActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.rules, nil
}

func (s *memStore) set(rules []*domain.Rule, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules, s.err = rules, err
}

func newRule(id string, typ domain.RuleType, condition string) *domain.Rule {
	var raw json.RawMessage
	if condition != "" {
		raw = json.RawMessage(condition)
	}
	return &domain.Rule{ID: id, Name: id, Type: typ, Condition: raw, Active: true}
}

func newTx(amount string, timestamp string) *domain.Transaction {
	return &domain.Transaction{
		ID:        "tx-1",
		UserID:    "user-1",
		Amount:    decimal.RequireFromString(amount),
		Timestamp: domain.ParseTimestamp(timestamp),
	}
}

func newTestEngine(t *testing.T, rules ...*domain.Rule) *Engine {
	t.Helper()
	engine, err := NewEngine(&memStore{rules: rules}, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.ReloadRules(context.Background()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	return engine
}

func mustCompile(t *testing.T, rule *domain.Rule) *CompiledRule {
	t.Helper()
	compiler, err := NewCompiler(nil)
	if err != nil {
		t.Fatalf("failed to create compiler: %v", err)
	}
	compiled, err := compiler.Compile(rule)
	if err != nil {
		t.Fatalf("failed to compile rule %s: %v", rule.ID, err)
	}
	return compiled
}
