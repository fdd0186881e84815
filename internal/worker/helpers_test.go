package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/rules"
)

type staticRules []*domain.Rule

func (s staticRules) FetchActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	return s, nil
}

type memCheckStore struct {
	mu       sync.Mutex
	checks   map[string]*domain.CheckRecord
	alerts   []*domain.Alert
	alertErr error
}

func newMemCheckStore() *memCheckStore {
	return &memCheckStore{checks: make(map[string]*domain.CheckRecord)}
}

func (s *memCheckStore) SaveCheck(ctx context.Context, check *domain.CheckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[check.TransactionID] = check
	return nil
}

func (s *memCheckStore) SaveAlerts(ctx context.Context, alerts []*domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alertErr != nil {
		return s.alertErr
	}
	s.alerts = append(s.alerts, alerts...)
	return nil
}

func (s *memCheckStore) check(id string) (*domain.CheckRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checks[id]
	return c, ok
}

var errStoreDown = errors.New("store down")

func testRules() staticRules {
	threshold := 0.5
	return staticRules{
		{ID: "large", Name: "large_amount", Type: domain.RuleTypeThreshold, Active: true,
			Condition: json.RawMessage(`{"field":"amount","operator":">","value":1000}`)},
		{ID: "night", Name: "large_at_night", Type: domain.RuleTypeComposite, Active: true,
			Condition: json.RawMessage(`{"logic":"AND","conditions":[{"type":"amount_threshold","threshold":1000},{"type":"nighttime","start":22,"end":6}]}`)},
		{ID: "ml", Name: "ml_score", Type: domain.RuleTypeHeuristicScore, Active: true, Threshold: &threshold},
	}
}

func newTestEngine(t *testing.T) *rules.Engine {
	t.Helper()
	engine, err := rules.NewEngine(testRules(), nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.ReloadRules(context.Background()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	return engine
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
