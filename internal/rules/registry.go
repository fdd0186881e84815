package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// ruleSet is an immutable snapshot of the loaded rules.
type ruleSet struct {
	rules    []*CompiledRule
	byID     map[string]*CompiledRule
	loadedAt time.Time
}

// Registry holds the active rule set. Readers always see a complete
// snapshot; Reload swaps it in one step.
type Registry struct {
	store    domain.RuleStore
	compiler *Compiler

	reloadMu sync.Mutex
	current  atomic.Pointer[ruleSet]
}

// NewRegistry creates an empty registry backed by store.
func NewRegistry(store domain.RuleStore, compiler *Compiler) *Registry {
	r := &Registry{store: store, compiler: compiler}
	r.current.Store(&ruleSet{byID: map[string]*CompiledRule{}})
	return r
}

// Rules returns the active rules in creation order. The slice is shared
// and must not be modified.
func (r *Registry) Rules() []*CompiledRule {
	return r.current.Load().rules
}

// Get returns the active rule with the given id.
func (r *Registry) Get(id string) (*CompiledRule, bool) {
	rule, ok := r.current.Load().byID[id]
	return rule, ok
}

// Count returns the number of active rules.
func (r *Registry) Count() int {
	return len(r.current.Load().rules)
}

// LoadedAt returns when the current snapshot was installed.
func (r *Registry) LoadedAt() time.Time {
	return r.current.Load().loadedAt
}

// Reload fetches and compiles the active rules and replaces the current
// snapshot. On failure it returns a *RuleLoadError and keeps the old one.
func (r *Registry) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	if r.store == nil {
		return &RuleLoadError{Err: errors.New("no rule store configured")}
	}

	defs, err := r.store.FetchActiveRules(ctx)
	if err != nil {
		return &RuleLoadError{Err: err}
	}

	set := &ruleSet{
		rules:    make([]*CompiledRule, 0, len(defs)),
		byID:     make(map[string]*CompiledRule, len(defs)),
		loadedAt: time.Now().UTC(),
	}
	for _, def := range defs {
		if def == nil || !def.Active {
			continue
		}
		if _, dup := set.byID[def.ID]; dup {
			return &RuleLoadError{Err: fmt.Errorf("duplicate rule id %s", def.ID)}
		}
		compiled, err := r.compiler.Compile(def)
		if err != nil {
			return &RuleLoadError{Err: err}
		}
		set.rules = append(set.rules, compiled)
		set.byID[def.ID] = compiled
	}

	r.current.Store(set)
	slog.Info("rules loaded", "count", len(set.rules))
	return nil
}
