package ledger

// Schema definitions for the audit ledger.
// Compatible with both SQLite and PostgreSQL.

const schemaAuditRecords = `
CREATE TABLE IF NOT EXISTS audit_records (
    case_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    event TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    actor TEXT NOT NULL,
    input_digest TEXT,
    output_digest TEXT,
    reasoning TEXT,
    confidence REAL,
    degraded INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (case_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_audit_case ON audit_records(case_id);
CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_records(case_id, event);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(case_id, timestamp);
`

const schemaCaseResults = `
CREATE TABLE IF NOT EXISTS case_results (
    case_id TEXT PRIMARY KEY,
    narrative_text TEXT,
    typology TEXT,
    risk_score REAL,
    confidence REAL,
    status TEXT NOT NULL DEFAULT 'draft',
    approved_by TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_case_results_status ON case_results(status);
`

// AllSchemas returns every schema statement in creation order.
func AllSchemas() []string {
	return []string{
		schemaAuditRecords,
		schemaCaseResults,
	}
}
