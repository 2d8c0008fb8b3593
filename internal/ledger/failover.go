package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// caseState tracks per-case sequence assignment and degraded-mode buffering.
// All fields are guarded by mu; the failover never holds two case locks at
// once.
type caseState struct {
	mu          sync.Mutex
	seq         uint64
	seeded      bool
	provisional bool
	pending     []domain.AuditRecord
	degradedAt  time.Time
}

// Failover is the public Ledger implementation. It assigns per-case
// sequence numbers, writes each record to the durable store and the
// in-memory mirror, and keeps accepting appends through the mirror when
// the durable store is down. Records written during a degraded window are
// buffered and drained back to the durable store on recovery, followed by
// a reconciliation record marking the window in the trail itself.
type Failover struct {
	durable Store
	mirror  Store
	log     *slog.Logger

	mu    sync.Mutex
	cases map[string]*caseState
}

// NewFailover composes a durable store and an in-memory mirror into a
// Ledger.
func NewFailover(durable, mirror Store, log *slog.Logger) *Failover {
	if log == nil {
		log = slog.Default()
	}
	return &Failover{
		durable: durable,
		mirror:  mirror,
		log:     log,
		cases:   make(map[string]*caseState),
	}
}

func (f *Failover) state(caseID string) *caseState {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.cases[caseID]
	if !ok {
		st = &caseState{}
		f.cases[caseID] = st
	}
	return st
}

// Append assigns the next sequence number for the record's case and writes
// it to both backends. When the durable store is unavailable the record is
// flagged degraded, kept in the mirror and buffered for replay; Append only
// fails when neither backend can take the record.
func (f *Failover) Append(ctx context.Context, rec domain.AuditRecord) (uint64, error) {
	if rec.CaseID == "" {
		return 0, fmt.Errorf("%w: empty case ID", ErrInvalidInput)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	st := f.state(rec.CaseID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := f.seed(ctx, rec.CaseID, st); err != nil {
		return 0, err
	}

	// A degraded case probes the durable store on every append so the
	// window closes as soon as the store is back.
	if !st.degradedAt.IsZero() {
		f.recover(ctx, rec.CaseID, st)
	}

	st.seq++
	rec.Seq = st.seq

	if st.degradedAt.IsZero() {
		if err := f.durable.Put(ctx, &rec); err != nil {
			st.degradedAt = time.Now().UTC()
			f.log.Warn("durable audit store unavailable, entering degraded mode",
				"case_id", rec.CaseID,
				"seq", rec.Seq,
				"error", err)
			rec.Degraded = true
			st.pending = append(st.pending, rec)
		}
	} else {
		rec.Degraded = true
		st.pending = append(st.pending, rec)
	}

	if err := f.mirror.Put(ctx, &rec); err != nil {
		if rec.Degraded {
			// Neither backend holds the record. Undo the assignment so
			// the trail has no gap.
			st.seq--
			st.pending = st.pending[:len(st.pending)-1]
			return 0, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
		}
		f.log.Warn("mirror audit store rejected record",
			"case_id", rec.CaseID,
			"seq", rec.Seq,
			"error", err)
	}

	return rec.Seq, nil
}

// seed initializes the case's sequence counter from the durable store,
// falling back to the mirror when the durable store is down.
func (f *Failover) seed(ctx context.Context, caseID string, st *caseState) error {
	if st.seeded {
		return nil
	}

	seq, err := f.durable.MaxSeq(ctx, caseID)
	if err != nil {
		mseq, merr := f.mirror.MaxSeq(ctx, caseID)
		if merr != nil {
			return fmt.Errorf("%w: durable: %v, mirror: %v",
				domain.ErrLedgerUnavailable, err, merr)
		}
		st.degradedAt = time.Now().UTC()
		st.provisional = true
		f.log.Warn("seeding audit sequence from mirror, durable store unavailable",
			"case_id", caseID,
			"error", err)
		seq = mseq
	}

	st.seq = seq
	st.seeded = true
	return nil
}

// recover drains the case's buffered records back to the durable store and
// closes the degraded window with a reconciliation record. Caller holds the
// case lock. A failed drain leaves the already-replayed prefix durable and
// the case degraded.
func (f *Failover) recover(ctx context.Context, caseID string, st *caseState) {
	if err := f.durable.Ping(ctx); err != nil {
		return
	}

	// A counter seeded from the mirror is provisional: the durable store
	// may hold history the mirror never saw. Re-read its high-water mark
	// and shift the buffered records above it before replaying, otherwise
	// the replay collides with the durable trail.
	if st.provisional {
		if err := f.reseed(ctx, caseID, st); err != nil {
			return
		}
	}

	for len(st.pending) > 0 {
		rec := st.pending[0]
		if err := f.durable.Put(ctx, &rec); err != nil {
			if errors.Is(err, ErrInvalidInput) {
				// Sequence conflict with history this process never saw.
				// Renumber the buffer and retry.
				before := rec.Seq
				if rerr := f.reseed(ctx, caseID, st); rerr == nil && st.pending[0].Seq != before {
					continue
				}
			}
			f.log.Warn("replay of degraded audit records interrupted",
				"case_id", caseID,
				"seq", rec.Seq,
				"remaining", len(st.pending),
				"error", err)
			return
		}
		if err := f.mirror.Put(ctx, &rec); err != nil && !errors.Is(err, ErrInvalidInput) {
			f.log.Warn("mirror audit store rejected replayed record",
				"case_id", caseID,
				"seq", rec.Seq,
				"error", err)
		}
		st.pending = st.pending[1:]
	}
	st.provisional = false

	began := st.degradedAt
	st.degradedAt = time.Time{}

	st.seq++
	marker := domain.AuditRecord{
		Seq:       st.seq,
		CaseID:    caseID,
		Event:     domain.EventLedgerDegraded,
		Timestamp: time.Now().UTC(),
		Actor:     "ledger",
		Reasoning: fmt.Sprintf(
			"durable store unavailable since %s; mirrored records replayed on recovery",
			began.Format(time.RFC3339)),
	}

	if err := f.durable.Put(ctx, &marker); err != nil {
		// The store went away again between the drain and the marker.
		st.seq--
		st.degradedAt = began
		return
	}
	if err := f.mirror.Put(ctx, &marker); err != nil {
		f.log.Warn("mirror audit store rejected reconciliation record",
			"case_id", caseID,
			"seq", marker.Seq,
			"error", err)
	}

	f.log.Info("durable audit store recovered",
		"case_id", caseID,
		"degraded_since", began,
		"reconciliation_seq", marker.Seq)
}

// reseed re-reads the durable high-water mark for a provisionally seeded
// case and renumbers the buffered records above it. Caller holds the case
// lock.
func (f *Failover) reseed(ctx context.Context, caseID string, st *caseState) error {
	max, err := f.durable.MaxSeq(ctx, caseID)
	if err != nil {
		return err
	}
	base := st.seq - uint64(len(st.pending))
	if max <= base {
		return nil
	}
	delta := max - base
	for i := range st.pending {
		st.pending[i].Seq += delta
	}
	st.seq += delta
	f.log.Warn("renumbered degraded audit records above durable history",
		"case_id", caseID,
		"shift", delta,
		"buffered", len(st.pending))
	return nil
}

// Query merges both backends' views of a case, ordered by sequence number.
// On a same-sequence conflict the durable record wins and the divergence is
// logged. Query succeeds as long as either backend answers.
func (f *Failover) Query(ctx context.Context, caseID string) ([]domain.AuditRecord, error) {
	if caseID == "" {
		return nil, fmt.Errorf("%w: empty case ID", ErrInvalidInput)
	}

	durable, derr := f.durable.Query(ctx, caseID)
	mirrored, merr := f.mirror.Query(ctx, caseID)
	if derr != nil && merr != nil {
		return nil, fmt.Errorf("%w: durable: %v, mirror: %v",
			domain.ErrLedgerUnavailable, derr, merr)
	}
	if derr != nil {
		f.log.Warn("audit query served from mirror only",
			"case_id", caseID,
			"error", derr)
		return mirrored, nil
	}

	merged := make(map[uint64]domain.AuditRecord, len(durable)+len(mirrored))
	for _, rec := range mirrored {
		merged[rec.Seq] = rec
	}
	for _, rec := range durable {
		if prev, ok := merged[rec.Seq]; ok && recordsDiverge(rec, prev) {
			f.log.Warn("audit backends diverge at sequence, durable record wins",
				"case_id", caseID,
				"seq", rec.Seq,
				"durable_event", rec.Event,
				"mirror_event", prev.Event)
		}
		merged[rec.Seq] = rec
	}

	out := make([]domain.AuditRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// recordsDiverge reports whether two records claiming the same sequence
// number carry different content. A degraded mirror record shadowed by a
// durable one is expected after a renumbered replay and does not count.
func recordsDiverge(durable, mirror domain.AuditRecord) bool {
	if mirror.Degraded && !durable.Degraded {
		return false
	}
	return durable.Event != mirror.Event ||
		durable.Actor != mirror.Actor ||
		durable.InputDigest != mirror.InputDigest ||
		durable.OutputDigest != mirror.OutputDigest ||
		durable.Reasoning != mirror.Reasoning
}

// Export serializes a case's merged trail in the requested format.
func (f *Failover) Export(ctx context.Context, caseID string, format domain.ExportFormat) ([]byte, error) {
	recs, err := f.Query(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return formatRecords(caseID, recs, format)
}

// Ping reports whether the ledger can accept appends. The mirror keeps the
// ledger writable through a durable outage, so Ping fails only when both
// backends are down.
func (f *Failover) Ping(ctx context.Context) error {
	derr := f.durable.Ping(ctx)
	if derr == nil {
		return nil
	}
	if merr := f.mirror.Ping(ctx); merr != nil {
		return fmt.Errorf("%w: durable: %v, mirror: %v",
			domain.ErrLedgerUnavailable, derr, merr)
	}
	return nil
}

// Close closes both backends.
func (f *Failover) Close() error {
	return errors.Join(f.durable.Close(), f.mirror.Close())
}
