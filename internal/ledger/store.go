// Package ledger provides the append-only audit trail: a durable SQL store,
// an in-memory mirror, and a failover composition that is the public
// Ledger implementation.
package ledger

import (
	"context"
	"errors"

	"github.com/auditwatch/auditwatch/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Store is one ledger backend. Sequence numbers are assigned by the
// failover composition before Put; backends never renumber. There is no
// update or delete: the trail is append-only by construction.
type Store interface {
	// Put writes a record carrying a pre-assigned sequence number.
	Put(ctx context.Context, rec *domain.AuditRecord) error

	// Query returns all records for a case ordered by sequence number.
	Query(ctx context.Context, caseID string) ([]domain.AuditRecord, error)

	// MaxSeq returns the highest sequence number stored for a case,
	// zero when the case has no records.
	MaxSeq(ctx context.Context, caseID string) (uint64, error)

	Ping(ctx context.Context) error
	Close() error
}
