package domain

import (
	"context"
	"time"
)

// EventType classifies an audit record.
type EventType string

// Audit event types emitted by the pipeline.
const (
	EventInputReceived      EventType = "input-received"
	EventPatternDetected    EventType = "pattern-detected"
	EventTypologyClassified EventType = "typology-classified"
	EventTemplateRetrieved  EventType = "template-retrieved"
	EventNarrativeGenerated EventType = "narrative-generated"
	EventNarrativeApproved  EventType = "narrative-approved"
	EventExportPerformed    EventType = "export-performed"
	EventRunFailed          EventType = "run-failed"
	EventLedgerDegraded     EventType = "ledger-degraded"
)

// AuditRecord is one immutable ledger entry describing a pipeline decision.
// Seq is assigned by the ledger, strictly increasing per case. Digests are
// SHA-256 hex over the stage's input and output payloads, which makes the
// trail tamper-evident without storing the payloads themselves.
type AuditRecord struct {
	Seq          uint64    `json:"seq"`
	CaseID       string    `json:"caseId"`
	Event        EventType `json:"event"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        string    `json:"actor"`
	InputDigest  string    `json:"inputDigest,omitempty"`
	OutputDigest string    `json:"outputDigest,omitempty"`
	Reasoning    string    `json:"reasoning,omitempty"`
	Confidence   *float64  `json:"confidence,omitempty"`
	Degraded     bool      `json:"degraded,omitempty"`
}

// ExportFormat selects the audit export serialization.
type ExportFormat string

const (
	// ExportStructured is nested machine-readable JSON; round-trips to the
	// ledger's query result.
	ExportStructured ExportFormat = "structured"
	// ExportTabular is flat CSV, one row per record.
	ExportTabular ExportFormat = "tabular"
)

// Ledger is the public append-only audit contract. There is deliberately no
// update or delete: append-only by construction is the compliance invariant.
type Ledger interface {
	// Append writes a record, assigns its per-case sequence number and
	// returns it.
	Append(ctx context.Context, rec AuditRecord) (uint64, error)

	// Query returns all records for a case ordered by sequence number.
	Query(ctx context.Context, caseID string) ([]AuditRecord, error)

	// Export serializes a case's trail in the requested format.
	Export(ctx context.Context, caseID string, format ExportFormat) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// CaseResult is the persisted outcome of a completed pipeline run.
type CaseResult struct {
	CaseID        string        `json:"caseId"`
	NarrativeText string        `json:"narrativeText"`
	Typology      TypologyLabel `json:"typology"`
	RiskScore     RiskScore     `json:"riskScore"`
	Confidence    float64       `json:"confidence"`
	Status        string        `json:"status"`
	ApprovedBy    string        `json:"approvedBy,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Case result status values.
const (
	CaseStatusDraft    = "draft"
	CaseStatusApproved = "approved"
)

// CaseResultStore persists final case outcomes. Implemented by the durable
// ledger store; unlike the audit trail, results move draft -> approved.
type CaseResultStore interface {
	SaveCaseResult(ctx context.Context, res *CaseResult) error
	GetCaseResult(ctx context.Context, caseID string) (*CaseResult, error)
	ApproveCaseResult(ctx context.Context, caseID, approver string) error
}

// LedgerConfig holds configuration for the durable audit store.
type LedgerConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver" yaml:"driver"`

	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDB" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSSLMode" yaml:"postgres_sslmode"`

	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}
