package telemetry

import (
	"testing"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

type staticSource []domain.RuleMetrics

func (s staticSource) Metrics() []domain.RuleMetrics { return s }

func TestRuleCollector(t *testing.T) {
	source := staticSource{
		{RuleID: "large", EvaluationsCount: 10, TriggersCount: 4, AvgProcessingTime: 0.002, LastEvaluated: time.Unix(1700000000, 0)},
		{RuleID: "night", EvaluationsCount: 10},
	}
	reg := NewRegistry(NewRuleCollector(source, func() int { return 2 }))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	counts := map[string]int{}
	values := map[string]float64{}
	for _, mf := range families {
		counts[mf.GetName()] = len(mf.GetMetric())
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "rule_id" && lp.GetValue() == "large" {
					switch {
					case m.GetCounter() != nil:
						values[mf.GetName()] = m.GetCounter().GetValue()
					case m.GetGauge() != nil:
						values[mf.GetName()] = m.GetGauge().GetValue()
					}
				}
			}
		}
		if mf.GetName() == "fraudwatch_rules_loaded" {
			values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}

	tests := []struct {
		name  string
		count int
		value float64
	}{
		{"fraudwatch_rule_evaluations_total", 2, 10},
		{"fraudwatch_rule_triggers_total", 2, 4},
		{"fraudwatch_rule_avg_processing_seconds", 2, 0.002},
		{"fraudwatch_rule_last_evaluated_timestamp_seconds", 1, 1700000000},
		{"fraudwatch_rules_loaded", 1, 2},
	}

	for _, tt := range tests {
		if counts[tt.name] != tt.count {
			t.Errorf("%s: %d series, want %d", tt.name, counts[tt.name], tt.count)
		}
		if values[tt.name] != tt.value {
			t.Errorf("%s: value %v, want %v", tt.name, values[tt.name], tt.value)
		}
	}

	if counts["go_goroutines"] == 0 {
		t.Error("expected Go runtime metrics to be registered")
	}
}
