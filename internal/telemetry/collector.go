// Package telemetry exports rule metrics to Prometheus.
package telemetry

import (
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsSource provides the current per-rule metrics.
type MetricsSource interface {
	Metrics() []domain.RuleMetrics
}

// RuleCollector reads rule metrics at scrape time. The counters stay owned
// by the engine's recorder; nothing is double-counted here.
type RuleCollector struct {
	source MetricsSource

	evaluations *prometheus.Desc
	triggers    *prometheus.Desc
	avgSeconds  *prometheus.Desc
	lastSeen    *prometheus.Desc
	rulesLoaded *prometheus.Desc

	loaded func() int
}

// NewRuleCollector creates a collector over source. loaded reports the
// number of active rules and may be nil.
func NewRuleCollector(source MetricsSource, loaded func() int) *RuleCollector {
	return &RuleCollector{
		source: source,
		loaded: loaded,
		evaluations: prometheus.NewDesc(
			"fraudwatch_rule_evaluations_total",
			"Number of times a rule was evaluated.",
			[]string{"rule_id"}, nil,
		),
		triggers: prometheus.NewDesc(
			"fraudwatch_rule_triggers_total",
			"Number of times a rule triggered.",
			[]string{"rule_id"}, nil,
		),
		avgSeconds: prometheus.NewDesc(
			"fraudwatch_rule_avg_processing_seconds",
			"Running mean of rule evaluation time.",
			[]string{"rule_id"}, nil,
		),
		lastSeen: prometheus.NewDesc(
			"fraudwatch_rule_last_evaluated_timestamp_seconds",
			"Unix time of the last evaluation of a rule.",
			[]string{"rule_id"}, nil,
		),
		rulesLoaded: prometheus.NewDesc(
			"fraudwatch_rules_loaded",
			"Number of active rules.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *RuleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.evaluations
	ch <- c.triggers
	ch <- c.avgSeconds
	ch <- c.lastSeen
	ch <- c.rulesLoaded
}

// Collect implements prometheus.Collector.
func (c *RuleCollector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.source.Metrics() {
		ch <- prometheus.MustNewConstMetric(c.evaluations, prometheus.CounterValue, float64(m.EvaluationsCount), m.RuleID)
		ch <- prometheus.MustNewConstMetric(c.triggers, prometheus.CounterValue, float64(m.TriggersCount), m.RuleID)
		ch <- prometheus.MustNewConstMetric(c.avgSeconds, prometheus.GaugeValue, m.AvgProcessingTime, m.RuleID)
		if !m.LastEvaluated.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastSeen, prometheus.GaugeValue, float64(m.LastEvaluated.UnixNano())/1e9, m.RuleID)
		}
	}
	if c.loaded != nil {
		ch <- prometheus.MustNewConstMetric(c.rulesLoaded, prometheus.GaugeValue, float64(c.loaded()))
	}
}

// NewRegistry returns a registry with the rule collector and the standard
// Go runtime and process collectors.
func NewRegistry(rules *RuleCollector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		rules,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
