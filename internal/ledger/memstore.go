package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// MemStore is the in-memory mirror backend. It holds every record appended
// during the process lifetime, keyed by case, ordered by sequence number.
// The mirror keeps the pipeline running when the durable store is down;
// the failover composition drains it back once the durable store recovers.
type MemStore struct {
	mu    sync.RWMutex
	cases map[string][]domain.AuditRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		cases: make(map[string][]domain.AuditRecord),
	}
}

// Put appends a record. Records arrive with pre-assigned sequence numbers;
// out-of-order or duplicate sequences are rejected so the mirror stays a
// faithful replica of the assignment order.
func (m *MemStore) Put(ctx context.Context, rec *domain.AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidInput)
	}
	if rec.CaseID == "" {
		return fmt.Errorf("%w: empty case ID", ErrInvalidInput)
	}
	if rec.Seq == 0 {
		return fmt.Errorf("%w: zero sequence number", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.cases[rec.CaseID]
	if n := len(recs); n > 0 && rec.Seq <= recs[n-1].Seq {
		return fmt.Errorf("%w: sequence %d not after %d for case %s",
			ErrInvalidInput, rec.Seq, recs[n-1].Seq, rec.CaseID)
	}

	m.cases[rec.CaseID] = append(recs, *rec)
	return nil
}

// Query returns a copy of the case's records ordered by sequence number.
func (m *MemStore) Query(ctx context.Context, caseID string) ([]domain.AuditRecord, error) {
	if caseID == "" {
		return nil, fmt.Errorf("%w: empty case ID", ErrInvalidInput)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.cases[caseID]
	out := make([]domain.AuditRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// MaxSeq returns the highest sequence number stored for a case.
func (m *MemStore) MaxSeq(ctx context.Context, caseID string) (uint64, error) {
	if caseID == "" {
		return 0, fmt.Errorf("%w: empty case ID", ErrInvalidInput)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.cases[caseID]
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[len(recs)-1].Seq, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases held records.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases = make(map[string][]domain.AuditRecord)
	return nil
}
