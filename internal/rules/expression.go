package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// Expression is a compiled CEL condition returning bool.
type Expression struct {
	Source  string
	program cel.Program
}

// newExpressionEnv declares the transaction variables visible to expressions.
func newExpressionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("from_account", cel.StringType),
		cel.Variable("to_account", cel.StringType),
		cel.Variable("user_country", cel.StringType),
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("is_new_user", cel.BoolType),
		cel.Variable("is_international", cel.BoolType),
		// -1 when the transaction carries no usable timestamp
		cel.Variable("hour", cel.IntType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func compileExpression(env *cel.Env, src string) (*Expression, error) {
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	return &Expression{Source: src, program: program}, nil
}

// Eval runs the expression against tx.
func (e *Expression) Eval(tx *domain.Transaction) (bool, error) {
	out, _, err := e.program.Eval(activation(tx))
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression returned %s, want bool", out.Type())
	}
	return bool(b), nil
}

func activation(tx *domain.Transaction) map[string]any {
	hour := int64(-1)
	if h, ok := tx.Timestamp.Hour(); ok {
		hour = int64(h)
	}
	metadata := tx.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return map[string]any{
		"amount":           tx.AmountFloat(),
		"currency":         tx.Currency,
		"user_id":          tx.UserID,
		"from_account":     tx.FromAccount,
		"to_account":       tx.ToAccount,
		"user_country":     tx.UserCountry,
		"transaction_type": tx.TransactionType,
		"is_new_user":      tx.IsNewUser,
		"is_international": tx.IsInternational,
		"hour":             hour,
		"metadata":         metadata,
	}
}
