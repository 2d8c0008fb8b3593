package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/auditwatch/auditwatch/internal/domain"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	t.Run("PutAndQuery", func(t *testing.T) {
		for seq := uint64(1); seq <= 3; seq++ {
			rec := &domain.AuditRecord{
				Seq:       seq,
				CaseID:    "CASE-001",
				Event:     domain.EventInputReceived,
				Timestamp: time.Now().UTC(),
				Actor:     "parser",
			}
			if err := store.Put(ctx, rec); err != nil {
				t.Fatalf("Put seq %d failed: %v", seq, err)
			}
		}

		recs, err := store.Query(ctx, "CASE-001")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(recs) != 3 {
			t.Fatalf("expected 3 records, got %d", len(recs))
		}
		for i, rec := range recs {
			if rec.Seq != uint64(i+1) {
				t.Errorf("record %d: expected seq %d, got %d", i, i+1, rec.Seq)
			}
		}
	})

	t.Run("RejectsOutOfOrderSeq", func(t *testing.T) {
		rec := &domain.AuditRecord{
			Seq:    2,
			CaseID: "CASE-001",
			Event:  domain.EventPatternDetected,
		}
		if err := store.Put(ctx, rec); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for stale seq, got: %v", err)
		}
	})

	t.Run("RejectsZeroSeq", func(t *testing.T) {
		rec := &domain.AuditRecord{CaseID: "CASE-002", Event: domain.EventInputReceived}
		if err := store.Put(ctx, rec); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for zero seq, got: %v", err)
		}
	})

	t.Run("MaxSeq", func(t *testing.T) {
		seq, err := store.MaxSeq(ctx, "CASE-001")
		if err != nil {
			t.Fatalf("MaxSeq failed: %v", err)
		}
		if seq != 3 {
			t.Errorf("expected max seq 3, got %d", seq)
		}

		seq, err = store.MaxSeq(ctx, "CASE-UNKNOWN")
		if err != nil {
			t.Fatalf("MaxSeq for unknown case failed: %v", err)
		}
		if seq != 0 {
			t.Errorf("expected max seq 0 for unknown case, got %d", seq)
		}
	})

	t.Run("QueryUnknownCaseIsEmpty", func(t *testing.T) {
		recs, err := store.Query(ctx, "CASE-UNKNOWN")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("expected no records, got %d", len(recs))
		}
	})
}

func TestSQLStore(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "auditwatch-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	store, err := NewSQLStore(domain.LedgerConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("PutAndQuery", func(t *testing.T) {
		confidence := 0.55
		recs := []domain.AuditRecord{
			{
				Seq:         1,
				CaseID:      "CASE-100",
				Event:       domain.EventInputReceived,
				Timestamp:   time.Now().UTC().Truncate(time.Microsecond),
				Actor:       "parser",
				InputDigest: "abc123",
			},
			{
				Seq:          2,
				CaseID:       "CASE-100",
				Event:        domain.EventTypologyClassified,
				Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
				Actor:        "classifier",
				OutputDigest: "def456",
				Reasoning:    "matched structuring indicators",
				Confidence:   &confidence,
			},
		}
		for i := range recs {
			if err := store.Put(ctx, &recs[i]); err != nil {
				t.Fatalf("Put seq %d failed: %v", recs[i].Seq, err)
			}
		}

		got, err := store.Query(ctx, "CASE-100")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 records, got %d", len(got))
		}
		if got[0].Event != domain.EventInputReceived {
			t.Errorf("expected first event %s, got %s", domain.EventInputReceived, got[0].Event)
		}
		if got[0].Confidence != nil {
			t.Errorf("expected nil confidence on first record, got %v", *got[0].Confidence)
		}
		if got[1].Confidence == nil || *got[1].Confidence != confidence {
			t.Errorf("expected confidence %v, got %v", confidence, got[1].Confidence)
		}
	})

	t.Run("MaxSeq", func(t *testing.T) {
		seq, err := store.MaxSeq(ctx, "CASE-100")
		if err != nil {
			t.Fatalf("MaxSeq failed: %v", err)
		}
		if seq != 2 {
			t.Errorf("expected max seq 2, got %d", seq)
		}
	})

	t.Run("RejectsEmptyCaseID", func(t *testing.T) {
		err := store.Put(ctx, &domain.AuditRecord{Seq: 1})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("CaseResultLifecycle", func(t *testing.T) {
		res := &domain.CaseResult{
			CaseID:        "CASE-100",
			NarrativeText: "I. SUMMARY OF SUSPICIOUS ACTIVITY\n...",
			Typology:      domain.TypologyStructuring,
			RiskScore:     55,
			Confidence:    0.55,
			Status:        domain.CaseStatusDraft,
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}
		if err := store.SaveCaseResult(ctx, res); err != nil {
			t.Fatalf("SaveCaseResult failed: %v", err)
		}

		got, err := store.GetCaseResult(ctx, "CASE-100")
		if err != nil {
			t.Fatalf("GetCaseResult failed: %v", err)
		}
		if got.Status != domain.CaseStatusDraft {
			t.Errorf("expected status %s, got %s", domain.CaseStatusDraft, got.Status)
		}

		if err := store.ApproveCaseResult(ctx, "CASE-100", "analyst-7"); err != nil {
			t.Fatalf("ApproveCaseResult failed: %v", err)
		}
		got, err = store.GetCaseResult(ctx, "CASE-100")
		if err != nil {
			t.Fatalf("GetCaseResult after approval failed: %v", err)
		}
		if got.Status != domain.CaseStatusApproved {
			t.Errorf("expected status %s, got %s", domain.CaseStatusApproved, got.Status)
		}
		if got.ApprovedBy != "analyst-7" {
			t.Errorf("expected approver analyst-7, got %s", got.ApprovedBy)
		}

		if _, err := store.GetCaseResult(ctx, "CASE-MISSING"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if err := store.ApproveCaseResult(ctx, "CASE-MISSING", "analyst-7"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

// flakyStore wraps a MemStore with a switchable failure mode so tests can
// take the durable backend down and bring it back.
type flakyStore struct {
	*MemStore
	down bool
}

var errStoreDown = errors.New("store down")

func (f *flakyStore) Put(ctx context.Context, rec *domain.AuditRecord) error {
	if f.down {
		return errStoreDown
	}
	return f.MemStore.Put(ctx, rec)
}

func (f *flakyStore) Query(ctx context.Context, caseID string) ([]domain.AuditRecord, error) {
	if f.down {
		return nil, errStoreDown
	}
	return f.MemStore.Query(ctx, caseID)
}

func (f *flakyStore) MaxSeq(ctx context.Context, caseID string) (uint64, error) {
	if f.down {
		return 0, errStoreDown
	}
	return f.MemStore.MaxSeq(ctx, caseID)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.down {
		return errStoreDown
	}
	return nil
}

func TestFailoverAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("AssignsSequentialSeqs", func(t *testing.T) {
		led := NewFailover(&flakyStore{MemStore: NewMemStore()}, NewMemStore(), slog.Default())
		for want := uint64(1); want <= 3; want++ {
			seq, err := led.Append(ctx, domain.AuditRecord{
				CaseID: "C1",
				Event:  domain.EventInputReceived,
				Actor:  "parser",
			})
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if seq != want {
				t.Errorf("expected seq %d, got %d", want, seq)
			}
		}
	})

	t.Run("IndependentPerCaseSequences", func(t *testing.T) {
		led := NewFailover(&flakyStore{MemStore: NewMemStore()}, NewMemStore(), slog.Default())
		if seq, _ := led.Append(ctx, domain.AuditRecord{CaseID: "C1", Event: domain.EventInputReceived}); seq != 1 {
			t.Errorf("expected C1 seq 1, got %d", seq)
		}
		if seq, _ := led.Append(ctx, domain.AuditRecord{CaseID: "C2", Event: domain.EventInputReceived}); seq != 1 {
			t.Errorf("expected C2 seq 1, got %d", seq)
		}
	})

	t.Run("RejectsEmptyCaseID", func(t *testing.T) {
		led := NewFailover(&flakyStore{MemStore: NewMemStore()}, NewMemStore(), slog.Default())
		if _, err := led.Append(ctx, domain.AuditRecord{Event: domain.EventInputReceived}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("SeedsFromExistingDurableRecords", func(t *testing.T) {
		durable := &flakyStore{MemStore: NewMemStore()}
		durable.MemStore.Put(ctx, &domain.AuditRecord{Seq: 1, CaseID: "C1", Event: domain.EventInputReceived})
		durable.MemStore.Put(ctx, &domain.AuditRecord{Seq: 2, CaseID: "C1", Event: domain.EventPatternDetected})

		led := NewFailover(durable, NewMemStore(), slog.Default())
		seq, err := led.Append(ctx, domain.AuditRecord{CaseID: "C1", Event: domain.EventTypologyClassified})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if seq != 3 {
			t.Errorf("expected seq 3 after existing records, got %d", seq)
		}
	})
}

func TestFailoverDegradedMode(t *testing.T) {
	ctx := context.Background()
	durable := &flakyStore{MemStore: NewMemStore()}
	mirror := NewMemStore()
	led := NewFailover(durable, mirror, slog.Default())

	// Healthy append first so the sequence is seeded from the durable side.
	if _, err := led.Append(ctx, domain.AuditRecord{
		CaseID: "C1",
		Event:  domain.EventInputReceived,
		Actor:  "parser",
	}); err != nil {
		t.Fatalf("healthy Append failed: %v", err)
	}

	durable.down = true

	events := []domain.EventType{
		domain.EventPatternDetected,
		domain.EventTypologyClassified,
		domain.EventNarrativeGenerated,
	}
	for i, event := range events {
		seq, err := led.Append(ctx, domain.AuditRecord{CaseID: "C1", Event: event})
		if err != nil {
			t.Fatalf("degraded Append %d failed: %v", i, err)
		}
		if want := uint64(i + 2); seq != want {
			t.Errorf("degraded Append %d: expected seq %d, got %d", i, want, seq)
		}
	}

	mirrored, err := mirror.Query(ctx, "C1")
	if err != nil {
		t.Fatalf("mirror Query failed: %v", err)
	}
	if len(mirrored) != 4 {
		t.Fatalf("expected 4 mirrored records, got %d", len(mirrored))
	}
	for _, rec := range mirrored[1:] {
		if !rec.Degraded {
			t.Errorf("seq %d: expected degraded flag on mirrored record", rec.Seq)
		}
	}

	// Queries keep working from the mirror while the durable store is down.
	recs, err := led.Query(ctx, "C1")
	if err != nil {
		t.Fatalf("degraded Query failed: %v", err)
	}
	if len(recs) != 4 {
		t.Errorf("expected 4 records from degraded query, got %d", len(recs))
	}

	durable.down = false

	// First append after recovery replays the buffered records and inserts
	// a reconciliation record before the new one.
	seq, err := led.Append(ctx, domain.AuditRecord{CaseID: "C1", Event: domain.EventExportPerformed})
	if err != nil {
		t.Fatalf("post-recovery Append failed: %v", err)
	}
	if seq != 6 {
		t.Errorf("expected post-recovery seq 6, got %d", seq)
	}

	got, err := durable.MemStore.Query(ctx, "C1")
	if err != nil {
		t.Fatalf("durable Query failed: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 durable records after replay, got %d", len(got))
	}
	marker := got[4]
	if marker.Event != domain.EventLedgerDegraded {
		t.Errorf("expected reconciliation event at seq 5, got %s", marker.Event)
	}
	if marker.Actor != "ledger" {
		t.Errorf("expected ledger actor on reconciliation record, got %q", marker.Actor)
	}
	if !strings.Contains(marker.Reasoning, "unavailable") {
		t.Errorf("expected reasoning to describe the degraded window, got %q", marker.Reasoning)
	}
	for _, rec := range got[1:4] {
		if !rec.Degraded {
			t.Errorf("seq %d: expected replayed record to keep degraded flag", rec.Seq)
		}
	}

	if err := led.Ping(ctx); err != nil {
		t.Errorf("Ping after recovery failed: %v", err)
	}
}

func TestFailoverDurableDownAtSeed(t *testing.T) {
	ctx := context.Background()
	durable := &flakyStore{MemStore: NewMemStore(), down: true}
	led := NewFailover(durable, NewMemStore(), slog.Default())

	seq, err := led.Append(ctx, domain.AuditRecord{CaseID: "C1", Event: domain.EventInputReceived})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected seq 1, got %d", seq)
	}

	if err := led.Ping(ctx); err != nil {
		t.Errorf("expected Ping to pass on mirror alone: %v", err)
	}
}

func TestFailoverRestartDuringOutage(t *testing.T) {
	ctx := context.Background()

	// The durable store already holds history from a previous process, and
	// is down when this process seeds the case from its empty mirror.
	durable := &flakyStore{MemStore: NewMemStore()}
	durable.MemStore.Put(ctx, &domain.AuditRecord{Seq: 1, CaseID: "C1", Event: domain.EventInputReceived})
	durable.MemStore.Put(ctx, &domain.AuditRecord{Seq: 2, CaseID: "C1", Event: domain.EventPatternDetected})
	durable.down = true

	mirror := NewMemStore()
	led := NewFailover(durable, mirror, slog.Default())

	events := []domain.EventType{
		domain.EventTypologyClassified,
		domain.EventNarrativeGenerated,
	}
	for i, event := range events {
		seq, err := led.Append(ctx, domain.AuditRecord{CaseID: "C1", Event: event})
		if err != nil {
			t.Fatalf("degraded Append %d failed: %v", i, err)
		}
		if want := uint64(i + 1); seq != want {
			t.Errorf("degraded Append %d: expected provisional seq %d, got %d", i, want, seq)
		}
	}

	durable.down = false

	// The recovery replay must land the buffered records above the durable
	// history it never saw, not collide with it.
	seq, err := led.Append(ctx, domain.AuditRecord{CaseID: "C1", Event: domain.EventExportPerformed})
	if err != nil {
		t.Fatalf("post-recovery Append failed: %v", err)
	}
	if seq != 6 {
		t.Errorf("expected post-recovery seq 6, got %d", seq)
	}

	got, err := durable.MemStore.Query(ctx, "C1")
	if err != nil {
		t.Fatalf("durable Query failed: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 durable records after replay, got %d", len(got))
	}
	for i, rec := range got {
		if rec.Seq != uint64(i+1) {
			t.Errorf("durable record %d: expected seq %d, got %d", i, i+1, rec.Seq)
		}
	}
	for i, event := range events {
		rec := got[i+2]
		if rec.Event != event {
			t.Errorf("seq %d: expected renumbered event %s, got %s", rec.Seq, event, rec.Event)
		}
		if !rec.Degraded {
			t.Errorf("seq %d: expected replayed record to keep degraded flag", rec.Seq)
		}
	}
	if got[4].Event != domain.EventLedgerDegraded {
		t.Errorf("expected reconciliation event at seq 5, got %s", got[4].Event)
	}
	if got[5].Event != domain.EventExportPerformed {
		t.Errorf("expected new record at seq 6, got %s", got[5].Event)
	}

	// The merged view exposes both the old history and the renumbered
	// degraded-era records.
	merged, err := led.Query(ctx, "C1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(merged) != 6 {
		t.Fatalf("expected 6 merged records, got %d", len(merged))
	}
	if merged[0].Event != domain.EventInputReceived || merged[1].Event != domain.EventPatternDetected {
		t.Errorf("expected old durable history at seqs 1-2, got %s and %s",
			merged[0].Event, merged[1].Event)
	}
}

func TestFailoverQueryDivergence(t *testing.T) {
	ctx := context.Background()

	t.Run("WarnsWhenContentDiffers", func(t *testing.T) {
		var buf strings.Builder
		durable := &flakyStore{MemStore: NewMemStore()}
		mirror := NewMemStore()
		durable.MemStore.Put(ctx, &domain.AuditRecord{
			Seq: 1, CaseID: "C1", Event: domain.EventInputReceived, OutputDigest: "aaa",
		})
		mirror.Put(ctx, &domain.AuditRecord{
			Seq: 1, CaseID: "C1", Event: domain.EventInputReceived, OutputDigest: "bbb",
		})

		led := NewFailover(durable, mirror, slog.New(slog.NewTextHandler(&buf, nil)))
		recs, err := led.Query(ctx, "C1")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(recs) != 1 || recs[0].OutputDigest != "aaa" {
			t.Fatalf("expected the durable record to win, got %+v", recs)
		}
		if !strings.Contains(buf.String(), "diverge") {
			t.Errorf("expected divergence warning for differing digests, log: %s", buf.String())
		}
	})

	t.Run("IgnoresShadowedDegradedRecords", func(t *testing.T) {
		var buf strings.Builder
		durable := &flakyStore{MemStore: NewMemStore()}
		mirror := NewMemStore()
		durable.MemStore.Put(ctx, &domain.AuditRecord{
			Seq: 1, CaseID: "C1", Event: domain.EventInputReceived,
		})
		mirror.Put(ctx, &domain.AuditRecord{
			Seq: 1, CaseID: "C1", Event: domain.EventTypologyClassified, Degraded: true,
		})

		led := NewFailover(durable, mirror, slog.New(slog.NewTextHandler(&buf, nil)))
		if _, err := led.Query(ctx, "C1"); err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if strings.Contains(buf.String(), "diverge") {
			t.Errorf("did not expect a warning for a shadowed degraded record, log: %s", buf.String())
		}
	})
}

func TestFailoverBothBackendsDown(t *testing.T) {
	ctx := context.Background()
	durable := &flakyStore{MemStore: NewMemStore(), down: true}
	mirror := &flakyStore{MemStore: NewMemStore(), down: true}
	led := NewFailover(durable, mirror, slog.Default())

	if _, err := led.Append(ctx, domain.AuditRecord{CaseID: "C1", Event: domain.EventInputReceived}); !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Errorf("expected ErrLedgerUnavailable, got: %v", err)
	}
	if _, err := led.Query(ctx, "C1"); !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Errorf("expected ErrLedgerUnavailable, got: %v", err)
	}
	if err := led.Ping(ctx); !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Errorf("expected ErrLedgerUnavailable, got: %v", err)
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	led := NewFailover(&flakyStore{MemStore: NewMemStore()}, NewMemStore(), slog.Default())

	confidence := 0.72
	recs := []domain.AuditRecord{
		{CaseID: "C1", Event: domain.EventInputReceived, Actor: "parser", InputDigest: "aaa"},
		{CaseID: "C1", Event: domain.EventTypologyClassified, Actor: "classifier", Confidence: &confidence},
	}
	for _, rec := range recs {
		if _, err := led.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	t.Run("StructuredRoundTrips", func(t *testing.T) {
		data, err := led.Export(ctx, "C1", domain.ExportStructured)
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}

		var export StructuredExport
		if err := json.Unmarshal(data, &export); err != nil {
			t.Fatalf("failed to unmarshal export: %v", err)
		}
		if export.CaseID != "C1" {
			t.Errorf("expected case C1, got %s", export.CaseID)
		}
		if export.RecordCount != 2 || len(export.Records) != 2 {
			t.Fatalf("expected 2 records, got count=%d len=%d", export.RecordCount, len(export.Records))
		}

		queried, err := led.Query(ctx, "C1")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		for i := range queried {
			if export.Records[i].Seq != queried[i].Seq {
				t.Errorf("record %d: expected seq %d, got %d", i, queried[i].Seq, export.Records[i].Seq)
			}
			if export.Records[i].Event != queried[i].Event {
				t.Errorf("record %d: expected event %s, got %s", i, queried[i].Event, export.Records[i].Event)
			}
		}
	})

	t.Run("Tabular", func(t *testing.T) {
		data, err := led.Export(ctx, "C1", domain.ExportTabular)
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
		}
		if !strings.HasPrefix(lines[0], "seq,case_id,event") {
			t.Errorf("unexpected header: %s", lines[0])
		}
		if !strings.Contains(lines[2], "0.72") {
			t.Errorf("expected confidence in row, got: %s", lines[2])
		}
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		if _, err := led.Export(ctx, "C1", "yaml"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})
}
