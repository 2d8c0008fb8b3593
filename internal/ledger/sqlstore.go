package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// SQLStore is the durable ledger backend using database/sql.
// Works with both the SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens the durable store based on configuration.
func NewSQLStore(cfg domain.LedgerConfig) (*SQLStore, error) {
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

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Put inserts one audit record. The (case_id, seq) primary key rejects
// any attempt to overwrite history.
func (s *SQLStore) Put(ctx context.Context, rec *domain.AuditRecord) error {
	if rec.CaseID == "" {
		return fmt.Errorf("%w: caseID is required", ErrInvalidInput)
	}
	if rec.Seq == 0 {
		return fmt.Errorf("%w: sequence number is required", ErrInvalidInput)
	}

	degraded := 0
	if rec.Degraded {
		degraded = 1
	}

	var confidence any
	if rec.Confidence != nil {
		confidence = *rec.Confidence
	}

	query := `
		INSERT INTO audit_records (
			case_id, seq, event, timestamp, actor,
			input_digest, output_digest, reasoning, confidence, degraded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rec.CaseID, rec.Seq, string(rec.Event), rec.Timestamp.UTC(), rec.Actor,
		rec.InputDigest, rec.OutputDigest, rec.Reasoning, confidence, degraded,
	)
	return err
}

// Query returns a case's records ordered by sequence number.
func (s *SQLStore) Query(ctx context.Context, caseID string) ([]domain.AuditRecord, error) {
	if caseID == "" {
		return nil, fmt.Errorf("%w: caseID is required", ErrInvalidInput)
	}

	query := `
		SELECT case_id, seq, event, timestamp, actor,
		       input_digest, output_digest, reasoning, confidence, degraded
		FROM audit_records
		WHERE case_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var event string
		var confidence sql.NullFloat64
		var degraded int

		if err := rows.Scan(
			&rec.CaseID, &rec.Seq, &event, &rec.Timestamp, &rec.Actor,
			&rec.InputDigest, &rec.OutputDigest, &rec.Reasoning, &confidence, &degraded,
		); err != nil {
			return nil, err
		}

		rec.Event = domain.EventType(event)
		rec.Degraded = degraded == 1
		if confidence.Valid {
			v := confidence.Float64
			rec.Confidence = &v
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// MaxSeq returns the highest stored sequence number for a case.
func (s *SQLStore) MaxSeq(ctx context.Context, caseID string) (uint64, error) {
	if caseID == "" {
		return 0, fmt.Errorf("%w: caseID is required", ErrInvalidInput)
	}

	var max uint64
	query := `SELECT COALESCE(MAX(seq), 0) FROM audit_records WHERE case_id = ?`
	if err := s.db.QueryRowContext(ctx, s.rebind(query), caseID).Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// SaveCaseResult upserts the final pipeline outcome for a case.
func (s *SQLStore) SaveCaseResult(ctx context.Context, res *domain.CaseResult) error {
	if res.CaseID == "" {
		return fmt.Errorf("%w: caseID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	status := res.Status
	if status == "" {
		status = domain.CaseStatusDraft
	}

	query := `
		INSERT INTO case_results (
			case_id, narrative_text, typology, risk_score, confidence,
			status, approved_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_id) DO UPDATE SET
			narrative_text = excluded.narrative_text,
			typology = excluded.typology,
			risk_score = excluded.risk_score,
			confidence = excluded.confidence,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		res.CaseID, res.NarrativeText, string(res.Typology), float64(res.RiskScore),
		res.Confidence, status, res.ApprovedBy, now, now,
	)
	return err
}

// GetCaseResult retrieves the stored outcome for a case.
func (s *SQLStore) GetCaseResult(ctx context.Context, caseID string) (*domain.CaseResult, error) {
	if caseID == "" {
		return nil, fmt.Errorf("%w: caseID is required", ErrInvalidInput)
	}

	query := `
		SELECT case_id, narrative_text, typology, risk_score, confidence,
		       status, COALESCE(approved_by, ''), created_at, updated_at
		FROM case_results
		WHERE case_id = ?
	`

	var res domain.CaseResult
	var typology string
	var score float64

	err := s.db.QueryRowContext(ctx, s.rebind(query), caseID).Scan(
		&res.CaseID, &res.NarrativeText, &typology, &score, &res.Confidence,
		&res.Status, &res.ApprovedBy, &res.CreatedAt, &res.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res.Typology = domain.TypologyLabel(typology)
	res.RiskScore = domain.RiskScore(score)
	return &res, nil
}

// ApproveCaseResult moves a stored result from draft to approved.
func (s *SQLStore) ApproveCaseResult(ctx context.Context, caseID, approver string) error {
	if caseID == "" || approver == "" {
		return fmt.Errorf("%w: caseID and approver are required", ErrInvalidInput)
	}

	query := `
		UPDATE case_results
		SET status = ?, approved_by = ?, updated_at = ?
		WHERE case_id = ?
	`

	result, err := s.db.ExecContext(ctx, s.rebind(query),
		domain.CaseStatusApproved, approver, time.Now().UTC(), caseID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $N for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
