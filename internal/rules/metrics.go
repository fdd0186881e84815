package rules

import (
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// Recorder keeps per-rule evaluation metrics. Each rule's counters have
// their own lock so concurrent evaluations of different rules never contend.
type Recorder struct {
	mu      sync.RWMutex
	entries map[string]*ruleMetrics
	now     func() time.Time
}

type ruleMetrics struct {
	mu sync.Mutex
	m  domain.RuleMetrics
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		entries: make(map[string]*ruleMetrics),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) entry(ruleID string) *ruleMetrics {
	r.mu.RLock()
	e, ok := r.entries[ruleID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[ruleID]; !ok {
		e = &ruleMetrics{m: domain.RuleMetrics{RuleID: ruleID}}
		r.entries[ruleID] = e
	}
	return e
}

// Record adds one evaluation of ruleID. The average uses the incremented
// count: avg = (avg*(n-1) + elapsed) / n.
func (r *Recorder) Record(ruleID string, triggered bool, elapsed time.Duration) {
	e := r.entry(ruleID)
	now := r.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.m.EvaluationsCount++
	n := float64(e.m.EvaluationsCount)
	e.m.AvgProcessingTime = (e.m.AvgProcessingTime*(n-1) + elapsed.Seconds()) / n
	if triggered {
		e.m.TriggersCount++
	}
	e.m.LastEvaluated = now
}

// Get returns a copy of the metrics for ruleID.
func (r *Recorder) Get(ruleID string) (domain.RuleMetrics, bool) {
	r.mu.RLock()
	e, ok := r.entries[ruleID]
	r.mu.RUnlock()
	if !ok {
		return domain.RuleMetrics{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m, true
}

// Snapshot returns a copy of every rule's metrics, ordered by rule id.
func (r *Recorder) Snapshot() []domain.RuleMetrics {
	r.mu.RLock()
	entries := make([]*ruleMetrics, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.RuleMetrics, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.m)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// Seed restores persisted metrics. Rules already recorded in this process
// are left untouched.
func (r *Recorder) Seed(metrics []domain.RuleMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range metrics {
		if m.RuleID == "" {
			continue
		}
		if _, ok := r.entries[m.RuleID]; ok {
			continue
		}
		r.entries[m.RuleID] = &ruleMetrics{m: m}
	}
}
