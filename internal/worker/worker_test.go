package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/auditwatch/auditwatch/internal/bus"
	"github.com/auditwatch/auditwatch/internal/casefile"
	"github.com/auditwatch/auditwatch/internal/collab"
	"github.com/auditwatch/auditwatch/internal/domain"
	"github.com/auditwatch/auditwatch/internal/ledger"
	"github.com/auditwatch/auditwatch/internal/narrative"
	"github.com/auditwatch/auditwatch/internal/patterns"
	"github.com/auditwatch/auditwatch/internal/pipeline"
	"github.com/auditwatch/auditwatch/internal/typology"
)

func submission(t *testing.T, caseID string) []byte {
	t.Helper()
	req := domain.CaseRequest{
		CaseID:      caseID,
		AlertReason: "Cash deposits below reporting threshold",
		Customer: domain.CustomerRequest{
			Name:          "Test Holder",
			AccountNumber: "AC-" + caseID,
		},
		Transactions: []domain.TransactionRequest{
			{Date: "2024-02-01", Amount: 910000, Type: "Cash Deposit", Originator: "Counter", Beneficiary: "Test Holder"},
			{Date: "2024-02-03", Amount: 930000, Type: "Cash Deposit", Originator: "Counter", Beneficiary: "Test Holder"},
			{Date: "2024-02-06", Amount: 880000, Type: "Cash Deposit", Originator: "Counter", Beneficiary: "Test Holder"},
		},
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal submission: %v", err)
	}
	return data
}

func TestWorkerProcessesSubmissions(t *testing.T) {
	ctx := context.Background()
	cfg := domain.DefaultConfig()

	engine := patterns.NewEngine()
	if err := engine.RegisterAll(patterns.BuiltinRules(cfg.Rules)); err != nil {
		t.Fatalf("failed to register rules: %v", err)
	}

	stages := &pipeline.Stages{
		Parser:     casefile.NewParser(false),
		Engine:     engine,
		Classifier: typology.NewClassifier(),
		Retriever:  collab.NewMemoryRetriever(),
		Generator:  narrative.NewComposer(),
	}
	reg := pipeline.NewRegistry()
	if err := stages.Register(reg); err != nil {
		t.Fatalf("failed to register stages: %v", err)
	}

	led := ledger.NewFailover(ledger.NewMemStore(), ledger.NewMemStore(), slog.Default())
	dispatcher := pipeline.NewDispatcher(pipeline.NewLocalRouter(reg), led, nil, cfg, slog.Default())

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := New(eventBus, dispatcher, Config{Concurrency: 3}, slog.Default())
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	caseIDs := []string{"CASE-W1", "CASE-W2", "CASE-W3"}
	for _, id := range caseIDs {
		if err := eventBus.Publish(ctx, domain.TopicCaseSubmitted, submission(t, id)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		done := 0
		for _, id := range caseIDs {
			recs, err := led.Query(ctx, id)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(recs) == 5 {
				done++
			}
		}
		if done == len(caseIDs) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for runs, completed %d of %d", done, len(caseIDs))
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Each case owns a strictly increasing sequence independent of the
	// other cases running in parallel.
	for _, id := range caseIDs {
		recs, err := led.Query(ctx, id)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		for i, rec := range recs {
			if rec.Seq != uint64(i+1) {
				t.Errorf("case %s record %d: expected seq %d, got %d", id, i, i+1, rec.Seq)
			}
			if rec.CaseID != id {
				t.Errorf("case %s: found interleaved record for %s", id, rec.CaseID)
			}
		}
	}
}

func TestWorkerSurvivesBadSubmission(t *testing.T) {
	ctx := context.Background()
	cfg := domain.DefaultConfig()

	engine := patterns.NewEngine()
	if err := engine.RegisterAll(patterns.BuiltinRules(cfg.Rules)); err != nil {
		t.Fatalf("failed to register rules: %v", err)
	}
	stages := &pipeline.Stages{
		Parser:     casefile.NewParser(false),
		Engine:     engine,
		Classifier: typology.NewClassifier(),
		Retriever:  collab.NewMemoryRetriever(),
		Generator:  narrative.NewComposer(),
	}
	reg := pipeline.NewRegistry()
	if err := stages.Register(reg); err != nil {
		t.Fatalf("failed to register stages: %v", err)
	}

	led := ledger.NewFailover(ledger.NewMemStore(), ledger.NewMemStore(), slog.Default())
	dispatcher := pipeline.NewDispatcher(pipeline.NewLocalRouter(reg), led, nil, cfg, slog.Default())

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := New(eventBus, dispatcher, Config{Concurrency: 2}, slog.Default())
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := eventBus.Publish(ctx, domain.TopicCaseSubmitted, []byte(`{"case_id":"CASE-W-BAD"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := eventBus.Publish(ctx, domain.TopicCaseSubmitted, submission(t, "CASE-W-OK")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		recs, err := led.Query(ctx, "CASE-W-OK")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(recs) == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for good case after bad submission")
		}
		time.Sleep(10 * time.Millisecond)
	}

	recs, err := led.Query(ctx, "CASE-W-BAD")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Event != domain.EventRunFailed {
		t.Errorf("expected single run-failed record for bad case, got %v", recs)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
