package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/shopspring/decimal"
)

// CompiledRule is a rule definition with its parameters parsed into an evaluator.
type CompiledRule struct {
	Rule      *domain.Rule
	Evaluator RuleEvaluator
}

// ID returns the rule identifier.
func (r *CompiledRule) ID() string {
	return r.Rule.ID
}

// Type returns the normalized rule type.
func (r *CompiledRule) Type() domain.RuleType {
	return r.Rule.Type
}

// Compiler turns stored rule definitions into evaluators.
type Compiler struct {
	env    *cel.Env
	scorer FraudScorer
}

// NewCompiler creates a compiler. Heuristic rules use scorer.
func NewCompiler(scorer FraudScorer) (*Compiler, error) {
	if scorer == nil {
		scorer = HeuristicScorer{}
	}
	env, err := newExpressionEnv()
	if err != nil {
		return nil, err
	}
	return &Compiler{env: env, scorer: scorer}, nil
}

// Compile parses the rule's parameters. Malformed parameters yield a
// *domain.RuleConfigError. A rule of unknown type compiles to an evaluator
// that never triggers.
func (c *Compiler) Compile(rule *domain.Rule) (*CompiledRule, error) {
	if rule == nil {
		return nil, &domain.RuleConfigError{Reason: "rule is required"}
	}
	if rule.ID == "" {
		return nil, &domain.RuleConfigError{RuleID: rule.Name, Reason: "rule id is required"}
	}

	def := *rule
	def.Type = domain.ParseRuleType(string(rule.Type))

	params, err := decodeParams(def.Condition)
	if err != nil {
		return nil, &domain.RuleConfigError{RuleID: def.ID, Reason: err.Error()}
	}

	var evaluator RuleEvaluator
	switch def.Type {
	case domain.RuleTypeThreshold:
		evaluator, err = c.compileThreshold(&def, params)
	case domain.RuleTypeComposite:
		evaluator, err = c.compileComposite(params)
	case domain.RuleTypeHeuristicScore:
		evaluator, err = c.compileHeuristic(&def, params)
	default:
		slog.Warn("unknown rule type", "rule_id", def.ID, "type", string(def.Type))
		evaluator = &unknownEvaluator{ruleType: def.Type}
	}
	if err != nil {
		return nil, &domain.RuleConfigError{RuleID: def.ID, Reason: err.Error()}
	}

	return &CompiledRule{Rule: &def, Evaluator: evaluator}, nil
}

func decodeParams(raw json.RawMessage) (map[string]any, error) {
	params := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return params, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("condition must be a JSON object: %w", err)
	}
	return params, nil
}

func (c *Compiler) compileThreshold(rule *domain.Rule, params map[string]any) (RuleEvaluator, error) {
	field, _ := params["field"].(string)
	if field == "" {
		return nil, fmt.Errorf("threshold rule requires field")
	}

	opStr, _ := params["operator"].(string)
	op, err := ParseOperator(opStr)
	if err != nil {
		return nil, err
	}

	raw, ok := params["value"]
	if !ok || raw == nil {
		if rule.Threshold == nil {
			return nil, fmt.Errorf("threshold rule requires value")
		}
		raw = *rule.Threshold
	}
	value, err := toFloat(raw)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}

	return &ThresholdEvaluator{Field: field, Operator: op, Value: value}, nil
}

func (c *Compiler) compileComposite(params map[string]any) (RuleEvaluator, error) {
	logic := LogicAnd
	if s, ok := params["logic"].(string); ok && s != "" {
		logic = Logic(strings.ToUpper(s))
	}
	if logic != LogicAnd && logic != LogicOr {
		return nil, fmt.Errorf("unknown logic %q", logic)
	}

	rawConds, _ := params["conditions"].([]any)
	if len(rawConds) == 0 {
		return nil, fmt.Errorf("composite rule requires at least one condition")
	}

	conds := make([]Condition, 0, len(rawConds))
	for i, rc := range rawConds {
		m, ok := rc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("condition %d: must be an object", i)
		}
		cond, err := c.parseCondition(m)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		conds = append(conds, cond)
	}

	return &CompositeEvaluator{Logic: logic, Conditions: conds}, nil
}

func (c *Compiler) compileHeuristic(rule *domain.Rule, params map[string]any) (RuleEvaluator, error) {
	// A zero threshold counts as unset.
	threshold := DefaultHeuristicThreshold
	if rule.Threshold != nil && *rule.Threshold != 0 {
		threshold = *rule.Threshold
	} else if raw, ok := params["threshold"]; ok && raw != nil {
		f, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("threshold: %w", err)
		}
		if f != 0 {
			threshold = f
		}
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside [0,1]", threshold)
	}
	return &HeuristicEvaluator{Threshold: threshold, Scorer: c.scorer}, nil
}

func (c *Compiler) parseCondition(m map[string]any) (Condition, error) {
	kind, _ := m["type"].(string)
	cond := Condition{Kind: ConditionKind(kind)}

	switch cond.Kind {
	case KindAmountThreshold:
		raw, ok := m["threshold"]
		if !ok || raw == nil {
			return cond, fmt.Errorf("amount_threshold requires threshold")
		}
		th, err := toDecimal(raw)
		if err != nil {
			return cond, fmt.Errorf("threshold: %w", err)
		}
		cond.Threshold = th
		cond.Operator = OpGreater
		if s, ok := m["operator"].(string); ok && s != "" {
			op, err := ParseOperator(s)
			if err != nil {
				return cond, err
			}
			cond.Operator = op
		}

	case KindNighttime:
		start, err := hourParam(m, "start", DefaultNightStart)
		if err != nil {
			return cond, err
		}
		end, err := hourParam(m, "end", DefaultNightEnd)
		if err != nil {
			return cond, err
		}
		cond.Start, cond.End = start, end

	case KindUserCountry:
		cond.Value, _ = m["country"].(string)
		if cond.Value == "" {
			return cond, fmt.Errorf("user_country requires country")
		}

	case KindTransactionType:
		cond.Value, _ = m["transaction_type"].(string)
		if cond.Value == "" {
			return cond, fmt.Errorf("transaction_type requires transaction_type")
		}

	case KindIsNewUser, KindIsInternational:

	case KindExpression:
		src, _ := m["expression"].(string)
		if src == "" {
			return cond, fmt.Errorf("expression requires expression")
		}
		expr, err := compileExpression(c.env, src)
		if err != nil {
			return cond, err
		}
		cond.Expression = expr

	default:
		slog.Warn("unknown condition kind", "kind", kind)
	}

	return cond, nil
}

// hourParam reads an hour of day given as "HH:MM" or a number. The
// "nighttime_" prefixed key is accepted as well.
func hourParam(m map[string]any, key string, def int) (int, error) {
	raw, ok := m[key]
	if !ok {
		raw, ok = m["nighttime_"+key]
	}
	if !ok || raw == nil {
		return def, nil
	}

	var hour int
	switch v := raw.(type) {
	case string:
		h, _, _ := strings.Cut(strings.TrimSpace(v), ":")
		n, err := strconv.Atoi(h)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid time %q", key, v)
		}
		hour = n
	default:
		f, err := toFloat(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		hour = int(f)
	}

	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%s: hour %d outside 0-23", key, hour)
	}
	return hour, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	case decimal.Decimal:
		return n, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(f), nil
}
