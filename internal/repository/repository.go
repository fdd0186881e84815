// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const ruleColumns = `id, name, description, type, condition_json, threshold, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var description, condition sql.NullString
	var threshold sql.NullFloat64
	var ruleType string
	var active int

	if err := row.Scan(
		&rule.ID, &rule.Name, &description, &ruleType, &condition,
		&threshold, &active, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Type = domain.RuleType(ruleType)
	if condition.Valid && condition.String != "" {
		rule.Condition = json.RawMessage(condition.String)
	}
	if threshold.Valid {
		v := threshold.Float64
		rule.Threshold = &v
	}
	rule.Active = active == 1
	return &rule, nil
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// FetchActiveRules returns the active rules in creation order.
func (r *SQLRepository) FetchActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE active = 1 ORDER BY created_at, id`)
}

// ListRules returns every rule, active or not, in creation order.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY created_at, id`)
}

// SaveRule inserts or updates a rule. The creation time of an existing rule
// is kept so edits do not change evaluation order.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}

	var condition sql.NullString
	if len(rule.Condition) > 0 {
		condition = sql.NullString{String: string(rule.Condition), Valid: true}
	}
	var threshold sql.NullFloat64
	if rule.Threshold != nil {
		threshold = sql.NullFloat64{Float64: *rule.Threshold, Valid: true}
	}

	active := 0
	if rule.Active {
		active = 1
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules (
			id, name, description, type, condition_json, threshold, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			type = excluded.type,
			condition_json = excluded.condition_json,
			threshold = excluded.threshold,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, string(rule.Type),
		condition, threshold, active, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves a rule by ID, active or not.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+ruleColumns+` FROM rules WHERE id = ?`), ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// DeactivateRule soft-deletes a rule by setting active = 0.
func (r *SQLRepository) DeactivateRule(ctx context.Context, ruleID string) error {
	query := `
		UPDATE rules
		SET active = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveMetrics upserts the given rule metrics in one transaction.
func (r *SQLRepository) SaveMetrics(ctx context.Context, metrics []domain.RuleMetrics) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO rule_metrics (
			rule_id, evaluations_count, triggers_count, avg_processing_time, last_evaluated
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			evaluations_count = excluded.evaluations_count,
			triggers_count = excluded.triggers_count,
			avg_processing_time = excluded.avg_processing_time,
			last_evaluated = excluded.last_evaluated
	`)

	for _, m := range metrics {
		if _, err := tx.ExecContext(ctx, query,
			m.RuleID, m.EvaluationsCount, m.TriggersCount, m.AvgProcessingTime, m.LastEvaluated.UTC(),
		); err != nil {
			return fmt.Errorf("failed to save metrics for rule %s: %w", m.RuleID, err)
		}
	}

	return tx.Commit()
}

// LoadMetrics returns all persisted rule metrics.
func (r *SQLRepository) LoadMetrics(ctx context.Context) ([]domain.RuleMetrics, error) {
	query := `
		SELECT rule_id, evaluations_count, triggers_count, avg_processing_time, last_evaluated
		FROM rule_metrics
		ORDER BY rule_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []domain.RuleMetrics
	for rows.Next() {
		var m domain.RuleMetrics
		if err := rows.Scan(
			&m.RuleID, &m.EvaluationsCount, &m.TriggersCount, &m.AvgProcessingTime, &m.LastEvaluated,
		); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}

	return metrics, rows.Err()
}

// SaveAlerts stores alerts in one transaction.
func (r *SQLRepository) SaveAlerts(ctx context.Context, alerts []*domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO alerts (
			id, rule_id, transaction_id, reason, severity, transaction_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	for _, a := range alerts {
		if a.ID == "" || a.RuleID == "" {
			return fmt.Errorf("%w: alert id and rule id are required", ErrInvalidInput)
		}
		var data sql.NullString
		if len(a.TransactionData) > 0 {
			data = sql.NullString{String: string(a.TransactionData), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query,
			a.ID, a.RuleID, a.TransactionID, a.Reason, string(a.Severity), data, a.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to save alert %s: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// ListAlerts returns the alerts raised for a transaction, oldest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, txID string) ([]*domain.Alert, error) {
	query := `
		SELECT id, rule_id, transaction_id, reason, severity, transaction_data, created_at
		FROM alerts
		WHERE transaction_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity string
		var data sql.NullString

		if err := rows.Scan(
			&a.ID, &a.RuleID, &a.TransactionID, &a.Reason, &severity, &data, &a.CreatedAt,
		); err != nil {
			return nil, err
		}

		a.Severity = domain.Severity(severity)
		if data.Valid && data.String != "" {
			a.TransactionData = json.RawMessage(data.String)
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// SaveCheck stores the verdict for a transaction, replacing any earlier one.
func (r *SQLRepository) SaveCheck(ctx context.Context, check *domain.CheckRecord) error {
	if check == nil || check.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	triggered, err := json.Marshal(check.Triggered)
	if err != nil {
		return fmt.Errorf("failed to encode triggered rules: %w", err)
	}
	details, err := json.Marshal(check.Details)
	if err != nil {
		return fmt.Errorf("failed to encode details: %w", err)
	}
	outcomes, err := json.Marshal(check.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}

	isFraud := 0
	if check.IsFraud {
		isFraud = 1
	}

	query := `
		INSERT INTO fraud_checks (
			transaction_id, checked_at, total_rules_checked, triggered_rules,
			final_score, is_fraud, details, outcomes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			checked_at = excluded.checked_at,
			total_rules_checked = excluded.total_rules_checked,
			triggered_rules = excluded.triggered_rules,
			final_score = excluded.final_score,
			is_fraud = excluded.is_fraud,
			details = excluded.details,
			outcomes = excluded.outcomes
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		check.TransactionID, check.CheckedAt.UTC(), check.TotalRulesChecked, string(triggered),
		check.FinalScore, isFraud, string(details), string(outcomes),
	)
	return err
}

// GetCheck retrieves the stored verdict for a transaction.
func (r *SQLRepository) GetCheck(ctx context.Context, txID string) (*domain.CheckRecord, error) {
	query := `
		SELECT transaction_id, checked_at, total_rules_checked, triggered_rules,
			   final_score, is_fraud, details, outcomes
		FROM fraud_checks
		WHERE transaction_id = ?
	`

	var check domain.CheckRecord
	var triggered, details string
	var outcomes sql.NullString
	var isFraud int

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&check.TransactionID, &check.CheckedAt, &check.TotalRulesChecked, &triggered,
		&check.FinalScore, &isFraud, &details, &outcomes,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	check.IsFraud = isFraud == 1
	if err := json.Unmarshal([]byte(triggered), &check.Triggered); err != nil {
		return nil, fmt.Errorf("failed to parse triggered rules for %s: %w", txID, err)
	}
	if err := json.Unmarshal([]byte(details), &check.Details); err != nil {
		return nil, fmt.Errorf("failed to parse details for %s: %w", txID, err)
	}
	if outcomes.Valid && outcomes.String != "" && outcomes.String != "null" {
		if err := json.Unmarshal([]byte(outcomes.String), &check.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to parse outcomes for %s: %w", txID, err)
		}
	}

	return &check, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ping checks a freshly opened pool within timeout.
func ping(db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

var _ domain.Repository = (*SQLRepository)(nil)
