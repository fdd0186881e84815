package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

func TestRegistryReloadOrder(t *testing.T) {
	store := &memStore{rules: []*domain.Rule{
		newRule("c", domain.RuleTypeHeuristicScore, ""),
		newRule("a", domain.RuleTypeHeuristicScore, ""),
		newRule("b", domain.RuleTypeHeuristicScore, ""),
	}}
	compiler, _ := NewCompiler(nil)
	registry := NewRegistry(store, compiler)

	if registry.Count() != 0 {
		t.Fatalf("expected empty registry, got %d rules", registry.Count())
	}

	if err := registry.Reload(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	rules := registry.Rules()
	want := []string{"c", "a", "b"}
	if len(rules) != len(want) {
		t.Fatalf("got %d rules, want %d", len(rules), len(want))
	}
	for i, id := range want {
		if rules[i].ID() != id {
			t.Errorf("rule %d = %s, want %s", i, rules[i].ID(), id)
		}
	}

	if _, ok := registry.Get("a"); !ok {
		t.Error("expected rule a to be loaded")
	}
	if registry.LoadedAt().IsZero() {
		t.Error("expected LoadedAt to be set")
	}
}

func TestRegistrySkipsInactive(t *testing.T) {
	inactive := newRule("off", domain.RuleTypeHeuristicScore, "")
	inactive.Active = false
	store := &memStore{rules: []*domain.Rule{inactive, newRule("on", domain.RuleTypeHeuristicScore, "")}}
	compiler, _ := NewCompiler(nil)
	registry := NewRegistry(store, compiler)

	if err := registry.Reload(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if registry.Count() != 1 {
		t.Errorf("expected 1 rule, got %d", registry.Count())
	}
}

func TestRegistryReloadFailureKeepsRules(t *testing.T) {
	store := &memStore{rules: []*domain.Rule{newRule("a", domain.RuleTypeHeuristicScore, "")}}
	compiler, _ := NewCompiler(nil)
	registry := NewRegistry(store, compiler)

	if err := registry.Reload(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	tests := []struct {
		name  string
		rules []*domain.Rule
		err   error
	}{
		{"store unavailable", nil, errors.New("connection refused")},
		{"malformed rule", []*domain.Rule{newRule("bad", domain.RuleTypeThreshold, `{"field":"amount"}`)}, nil},
		{"duplicate id", []*domain.Rule{
			newRule("x", domain.RuleTypeHeuristicScore, ""),
			newRule("x", domain.RuleTypeHeuristicScore, ""),
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.set(tt.rules, tt.err)

			err := registry.Reload(context.Background())
			var loadErr *RuleLoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected RuleLoadError, got %v", err)
			}

			rules := registry.Rules()
			if len(rules) != 1 || rules[0].ID() != "a" {
				t.Errorf("previous rule set not kept: %d rules", len(rules))
			}
		})
	}
}

func TestRegistryNoStore(t *testing.T) {
	compiler, _ := NewCompiler(nil)
	registry := NewRegistry(nil, compiler)

	var loadErr *RuleLoadError
	if err := registry.Reload(context.Background()); !errors.As(err, &loadErr) {
		t.Errorf("expected RuleLoadError, got %v", err)
	}
}

func TestRegistryReloadAtomic(t *testing.T) {
	makeSet := func(prefix string, n int) []*domain.Rule {
		rules := make([]*domain.Rule, n)
		for i := range rules {
			rules[i] = newRule(fmt.Sprintf("%s-%d", prefix, i), domain.RuleTypeHeuristicScore, "")
		}
		return rules
	}
	setA := makeSet("a", 3)
	setB := makeSet("b", 5)

	store := &memStore{rules: setA}
	compiler, _ := NewCompiler(nil)
	registry := NewRegistry(store, compiler)
	if err := registry.Reload(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	var mixed sync.Once
	var sawMixed bool

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				rules := registry.Rules()
				if len(rules) != 3 && len(rules) != 5 {
					mixed.Do(func() { sawMixed = true })
					continue
				}
				prefix := rules[0].ID()[:1]
				for _, rule := range rules {
					if rule.ID()[:1] != prefix {
						mixed.Do(func() { sawMixed = true })
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			store.set(setB, nil)
		} else {
			store.set(setA, nil)
		}
		if err := registry.Reload(context.Background()); err != nil {
			t.Fatalf("reload failed: %v", err)
		}
	}
	close(done)
	wg.Wait()

	if sawMixed {
		t.Error("reader observed a mix of old and new rules")
	}
}
