package rules

import "fmt"

// RuleLoadError is returned when the rule set cannot be (re)loaded. The
// previously loaded rules stay in effect.
type RuleLoadError struct {
	Err error
}

func (e *RuleLoadError) Error() string {
	return fmt.Sprintf("failed to load rules: %v", e.Err)
}

func (e *RuleLoadError) Unwrap() error { return e.Err }

// ConditionEvalError reports a transaction field that could not be used in
// a comparison. The condition it belongs to evaluates to false.
type ConditionEvalError struct {
	Field string
	Value interface{}
	Err   error
}

func (e *ConditionEvalError) Error() string {
	return fmt.Sprintf("field %q: cannot compare value %v: %v", e.Field, e.Value, e.Err)
}

func (e *ConditionEvalError) Unwrap() error { return e.Err }
