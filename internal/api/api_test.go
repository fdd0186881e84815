package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/bus"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/repository"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"github.com/opensource-finance/fraudwatch/internal/telemetry"
	"github.com/opensource-finance/fraudwatch/internal/worker"
)

type testEnv struct {
	server *Server
	repo   *repository.SQLRepository
	engine *rules.Engine
	bus    *bus.ChannelBus
}

// newTestEnv wires the API on a temp SQLite database holding one threshold
// rule (amount > 1000).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	err = repo.SaveRule(context.Background(), &domain.Rule{
		ID:        "large",
		Name:      "large_amount",
		Type:      domain.RuleTypeThreshold,
		Condition: json.RawMessage(`{"field":"amount","operator":">","value":1000}`),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	engine, err := rules.NewEngine(repo, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.ReloadRules(context.Background()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	server := NewServer(domain.ServerConfig{Host: "localhost", Port: 8080}, Dependencies{
		Engine:     engine,
		Pipeline:   worker.NewPipeline(engine, repo, eventBus),
		Repo:       repo,
		RuleWriter: repo,
		Bus:        eventBus,
		Metrics:    telemetry.NewRegistry(telemetry.NewRuleCollector(engine, engine.RulesCount)),
		Version:    "test-v1",
	})

	return &testEnv{server: server, repo: repo, engine: engine, bus: eventBus}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

type evaluateBody struct {
	TransactionID string            `json:"transaction_id"`
	Triggered     []string          `json:"triggered_rules"`
	FinalScore    float64           `json:"final_score"`
	IsFraud       bool              `json:"is_fraud"`
	Details       map[string]string `json:"details"`
	Status        string            `json:"status"`
	Metadata      struct {
		Version string `json:"version"`
	} `json:"metadata"`
}

func TestEvaluateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantFraud  bool
		wantScore  float64
	}{
		{"clean", `{"transaction_id":"tx-clean","user_id":"u1","amount":50,"timestamp":"2024-01-15T14:00:00Z"}`, http.StatusOK, false, 0},
		{"large amount", `{"transaction_id":"tx-large","user_id":"u1","amount":"1500.00","timestamp":"2024-01-15T14:00:00Z"}`, http.StatusOK, true, 0.7},
		{"boundary is not above", `{"transaction_id":"tx-edge","amount":1000}`, http.StatusOK, false, 0},
		{"invalid timestamp still evaluates", `{"transaction_id":"tx-ts","amount":2000,"timestamp":"yesterday"}`, http.StatusOK, true, 0.7},
		{"negative amount", `{"transaction_id":"tx-neg","amount":-1}`, http.StatusBadRequest, false, 0},
		{"invalid json", `{"amount":`, http.StatusBadRequest, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/evaluate", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp evaluateBody
			decode(t, rr, &resp)
			if resp.IsFraud != tt.wantFraud || resp.FinalScore != tt.wantScore {
				t.Errorf("is_fraud=%v score=%v, want %v %v", resp.IsFraud, resp.FinalScore, tt.wantFraud, tt.wantScore)
			}
			wantStatus := domain.StatusCompleted
			if tt.wantFraud {
				wantStatus = domain.StatusSuspicious
				if len(resp.Triggered) != 1 || resp.Details["large"] == "" {
					t.Errorf("unexpected triggered rules %v / %v", resp.Triggered, resp.Details)
				}
			}
			if resp.Status != wantStatus {
				t.Errorf("status = %s, want %s", resp.Status, wantStatus)
			}
			if resp.Metadata.Version != "test-v1" {
				t.Errorf("version = %s", resp.Metadata.Version)
			}
		})
	}

	t.Run("MissingIDGetsUUID", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/evaluate", `{"amount":10}`)
		var resp evaluateBody
		decode(t, rr, &resp)
		if len(resp.TransactionID) != 36 {
			t.Errorf("expected generated uuid, got %q", resp.TransactionID)
		}
	})
}

func TestEvaluationLookup(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/evaluate", `{"transaction_id":"tx-1","amount":5000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("evaluate failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/evaluations/tx-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET evaluation = %d: %s", rr.Code, rr.Body.String())
	}
	var check domain.CheckRecord
	decode(t, rr, &check)
	if !check.IsFraud || check.TotalRulesChecked != 1 {
		t.Errorf("unexpected check %+v", check)
	}

	rr = env.do(t, http.MethodGet, "/evaluations/tx-1/alerts", "")
	var alerts struct {
		Alerts []domain.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	decode(t, rr, &alerts)
	if alerts.Count != 1 || alerts.Alerts[0].Reason != "Rule 'large_amount' triggered" {
		t.Errorf("unexpected alerts %+v", alerts)
	}
	if alerts.Alerts[0].Severity != domain.SeverityLow {
		t.Errorf("severity = %s, want low", alerts.Alerts[0].Severity)
	}

	if rr := env.do(t, http.MethodGet, "/evaluations/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing evaluation = %d, want 404", rr.Code)
	}
}

func TestRuleManagement(t *testing.T) {
	env := newTestEnv(t)

	t.Run("CreateActivatesImmediately", func(t *testing.T) {
		body := `{"id":"night","name":"large_at_night","type":"composite","condition":{"logic":"AND","conditions":[{"type":"amount_threshold","threshold":500},{"type":"nighttime","start":"22:00","end":"06:00"}]}}`
		rr := env.do(t, http.MethodPost, "/rules", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create = %d: %s", rr.Code, rr.Body.String())
		}
		if env.engine.RulesCount() != 2 {
			t.Errorf("expected 2 active rules, got %d", env.engine.RulesCount())
		}

		rr = env.do(t, http.MethodPost, "/evaluate", `{"transaction_id":"tx-n","amount":800,"timestamp":"2024-01-15T23:30:00Z"}`)
		var resp evaluateBody
		decode(t, rr, &resp)
		if resp.FinalScore != 0.8 || !resp.IsFraud {
			t.Errorf("composite rule did not fire: %+v", resp)
		}
	})

	t.Run("MLAlias", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", `{"id":"ml","name":"ml_score","type":"ml_based","threshold":0.5}`)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create = %d: %s", rr.Code, rr.Body.String())
		}
		var rule domain.Rule
		decode(t, rr, &rule)
		if rule.Type != domain.RuleTypeHeuristicScore {
			t.Errorf("type = %s, want heuristic_score", rule.Type)
		}
	})

	t.Run("RejectsInvalidRules", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			want int
		}{
			{"missing name", `{"type":"threshold"}`, http.StatusBadRequest},
			{"unknown type", `{"name":"x","type":"velocity"}`, http.StatusBadRequest},
			{"empty composite", `{"name":"x","type":"composite","condition":{"logic":"AND","conditions":[]}}`, http.StatusBadRequest},
			{"bad expression", `{"name":"x","type":"composite","condition":{"conditions":[{"type":"expression","expression":"amount >"}]}}`, http.StatusBadRequest},
			{"duplicate name", `{"name":"large_amount","type":"threshold","condition":{"field":"amount","operator":">","value":1}}`, http.StatusConflict},
		}
		for _, tt := range tests {
			if rr := env.do(t, http.MethodPost, "/rules", tt.body); rr.Code != tt.want {
				t.Errorf("%s: status = %d, want %d: %s", tt.name, rr.Code, tt.want, rr.Body.String())
			}
		}
	})

	t.Run("ListAndGet", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/rules", "")
		var list struct {
			Rules []domain.Rule `json:"rules"`
			Count int           `json:"count"`
		}
		decode(t, rr, &list)
		if list.Count != 3 || list.Rules[0].ID != "large" {
			t.Errorf("unexpected rule list %+v", list)
		}

		if rr := env.do(t, http.MethodGet, "/rules/night", ""); rr.Code != http.StatusOK {
			t.Errorf("GET rule = %d", rr.Code)
		}
		if rr := env.do(t, http.MethodGet, "/rules/nope", ""); rr.Code != http.StatusNotFound {
			t.Errorf("GET missing rule = %d, want 404", rr.Code)
		}
	})

	t.Run("DeleteDeactivates", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/rules/night", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("delete = %d: %s", rr.Code, rr.Body.String())
		}
		if _, ok := env.engine.Rule("night"); ok {
			t.Error("deactivated rule still active")
		}

		rr = env.do(t, http.MethodGet, "/rules/night", "")
		var rule domain.Rule
		decode(t, rr, &rule)
		if rule.Active {
			t.Error("stored rule should be inactive")
		}

		rr = env.do(t, http.MethodGet, "/rules?all=true", "")
		var all struct {
			Count int `json:"count"`
		}
		decode(t, rr, &all)
		if all.Count != 3 {
			t.Errorf("expected 3 stored rules, got %d", all.Count)
		}

		if rr := env.do(t, http.MethodDelete, "/rules/nope", ""); rr.Code != http.StatusNotFound {
			t.Errorf("delete missing = %d, want 404", rr.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules/reload", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("reload = %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			RulesCount int `json:"rules_count"`
		}
		decode(t, rr, &resp)
		if resp.RulesCount != 2 {
			t.Errorf("rules_count = %d, want 2", resp.RulesCount)
		}
	})
}

func TestReadOnlyRuleStore(t *testing.T) {
	env := newTestEnv(t)
	server := NewServer(domain.ServerConfig{}, Dependencies{Engine: env.engine, Version: "ro"})

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/rules", `{"name":"x","type":"threshold"}`},
		{http.MethodDelete, "/rules/large", ""},
		{http.MethodGet, "/rules?all=true", ""},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusConflict {
			t.Errorf("%s %s = %d, want 409", tc.method, tc.path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/evaluations/x", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("evaluation lookup without repository = %d, want 503", rr.Code)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/evaluate", `{"transaction_id":"a","amount":5000}`)
	env.do(t, http.MethodPost, "/evaluate", `{"transaction_id":"b","amount":5}`)

	rr := env.do(t, http.MethodGet, "/rules/metrics", "")
	var resp struct {
		Metrics []domain.RuleMetrics `json:"metrics"`
	}
	decode(t, rr, &resp)
	if len(resp.Metrics) != 1 {
		t.Fatalf("expected metrics for 1 rule, got %d", len(resp.Metrics))
	}
	if m := resp.Metrics[0]; m.EvaluationsCount != 2 || m.TriggersCount != 1 {
		t.Errorf("unexpected metrics %+v", m)
	}

	rr = env.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `fraudwatch_rule_evaluations_total{rule_id="large"} 2`) {
		t.Errorf("exposition missing rule counter:\n%s", rr.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/health", "")
	var health struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, rr, &health)
	if health.Status != "healthy" || health.Checks["repository"] != "ok" || health.Checks["event_bus"] != "ok" {
		t.Errorf("unexpected health %+v", health)
	}

	if rr := env.do(t, http.MethodGet, "/ready", ""); rr.Code != http.StatusOK {
		t.Errorf("ready = %d, want 200", rr.Code)
	}

	fresh, _ := rules.NewEngine(env.repo, nil)
	server := NewServer(domain.ServerConfig{}, Dependencies{Engine: fresh})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr = httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("ready before load = %d, want 503", rr.Code)
	}
}

func TestIngestQueuesForWorker(t *testing.T) {
	env := newTestEnv(t)

	w := worker.NewWorker(env.bus, worker.NewPipeline(env.engine, env.repo, nil))
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	rr := env.do(t, http.MethodPost, "/transactions", `{"transaction_id":"tx-async","amount":2500}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("ingest = %d: %s", rr.Code, rr.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		check, err := env.repo.GetCheck(context.Background(), "tx-async")
		if err == nil {
			if !check.IsFraud {
				t.Errorf("expected async verdict to be fraud: %+v", check)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("async evaluation not stored: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/evaluate", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", got)
	}
}
