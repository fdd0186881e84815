package repository

// Schema definitions for the Fraudwatch database.
// Compatible with both SQLite and PostgreSQL.

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    type TEXT NOT NULL,
    condition_json TEXT,
    threshold DOUBLE PRECISION,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(active, created_at);
`

const schemaRuleMetrics = `
CREATE TABLE IF NOT EXISTS rule_metrics (
    rule_id TEXT PRIMARY KEY,
    evaluations_count BIGINT NOT NULL DEFAULT 0,
    triggers_count BIGINT NOT NULL DEFAULT 0,
    avg_processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_evaluated TIMESTAMP NOT NULL
);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    severity TEXT NOT NULL,
    transaction_data TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_tx ON alerts(transaction_id);
CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_id, created_at);
`

// schemaFraudChecks stores one verdict per transaction. Re-evaluating a
// transaction replaces its row.
const schemaFraudChecks = `
CREATE TABLE IF NOT EXISTS fraud_checks (
    transaction_id TEXT PRIMARY KEY,
    checked_at TIMESTAMP NOT NULL,
    total_rules_checked INTEGER NOT NULL,
    triggered_rules TEXT NOT NULL,
    final_score DOUBLE PRECISION NOT NULL,
    is_fraud INTEGER NOT NULL,
    details TEXT NOT NULL,
    outcomes TEXT
);

CREATE INDEX IF NOT EXISTS idx_fraud_checks_fraud ON fraud_checks(is_fraud, checked_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaRuleMetrics,
		schemaAlerts,
		schemaFraudChecks,
	}
}
