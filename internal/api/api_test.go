package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
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

const testCaseBody = `{
	"case_id": "CASE-API-001",
	"alert_reason": "Multiple cash deposits just below reporting threshold",
	"customer": {
		"name": "Ravi Subramanian",
		"account_number": "AC-70012",
		"kyc_risk_rating": "Medium"
	},
	"transactions": [
		{"date": "2024-03-01", "amount": 940000, "type": "Cash Deposit", "originator": "Counter", "beneficiary": "Ravi Subramanian"},
		{"date": "2024-03-04", "amount": 920000, "type": "Cash Deposit", "originator": "Counter", "beneficiary": "Ravi Subramanian"},
		{"date": "2024-03-07", "amount": 895000, "type": "Cash Deposit", "originator": "Counter", "beneficiary": "Ravi Subramanian"}
	]
}`

// memResults is an in-memory CaseResultStore for handler tests.
type memResults struct {
	mu      sync.Mutex
	results map[string]*domain.CaseResult
}

func newMemResults() *memResults {
	return &memResults{results: make(map[string]*domain.CaseResult)}
}

func (s *memResults) SaveCaseResult(ctx context.Context, res *domain.CaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *res
	s.results[res.CaseID] = &cp
	return nil
}

func (s *memResults) GetCaseResult(ctx context.Context, caseID string) (*domain.CaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[caseID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (s *memResults) ApproveCaseResult(ctx context.Context, caseID, approver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[caseID]
	if !ok {
		return ledger.ErrNotFound
	}
	res.Status = domain.CaseStatusApproved
	res.ApprovedBy = approver
	res.UpdatedAt = time.Now().UTC()
	return nil
}

type testServer struct {
	server  *Server
	ledger  domain.Ledger
	results *memResults
	bus     domain.EventBus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

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
	results := newMemResults()
	dispatcher := pipeline.NewDispatcher(pipeline.NewLocalRouter(reg), led, results, cfg, slog.Default())

	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { _ = eventBus.Close() })

	handler := NewHandler(dispatcher, led, results, eventBus, nil, "test")
	srv := NewServer(cfg.Server, handler)

	return &testServer{server: srv, ledger: led, results: results, bus: eventBus}
}

func (ts *testServer) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func TestRunCase(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/cases", testCaseBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res pipeline.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.CaseID != "CASE-API-001" {
		t.Errorf("expected case CASE-API-001, got %s", res.CaseID)
	}
	if res.State != domain.RunCompleted {
		t.Errorf("expected state %s, got %s", domain.RunCompleted, res.State)
	}
	if res.Narrative == nil || res.Narrative.Text == "" {
		t.Error("expected a non-empty narrative")
	}
	if res.RiskScore <= 0 {
		t.Errorf("expected a positive risk score, got %v", res.RiskScore)
	}

	// The synchronous run leaves a full audit trail behind.
	audit := ts.do(t, http.MethodGet, "/cases/CASE-API-001/audit", "")
	if audit.Code != http.StatusOK {
		t.Fatalf("expected 200 from audit, got %d", audit.Code)
	}
	var trail struct {
		Count   int                  `json:"count"`
		Records []domain.AuditRecord `json:"records"`
	}
	if err := json.Unmarshal(audit.Body.Bytes(), &trail); err != nil {
		t.Fatalf("failed to decode audit response: %v", err)
	}
	if trail.Count != 5 {
		t.Fatalf("expected 5 audit records, got %d", trail.Count)
	}
	if trail.Records[0].Event != domain.EventInputReceived {
		t.Errorf("expected first event %s, got %s", domain.EventInputReceived, trail.Records[0].Event)
	}
	if trail.Records[4].Event != domain.EventNarrativeGenerated {
		t.Errorf("expected last event %s, got %s", domain.EventNarrativeGenerated, trail.Records[4].Event)
	}
}

func TestRunCaseValidation(t *testing.T) {
	ts := newTestServer(t)

	t.Run("invalid JSON", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/cases", "{not json")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/cases", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/cases", `{"case_id":"CASE-API-BAD"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		var resp struct {
			Error  string              `json:"error"`
			Fields []domain.FieldError `json:"fields"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(resp.Fields) == 0 {
			t.Error("expected field-level validation errors")
		}
	})
}

func TestSubmitCase(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/cases/submit", testCaseBody)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var ack submitAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack.CaseID != "CASE-API-001" || ack.Status != "accepted" {
		t.Errorf("unexpected ack: %+v", ack)
	}

	t.Run("missing case id", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/cases/submit", `{"alert_reason":"x"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestExportAudit(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodPost, "/cases", testCaseBody); w.Code != http.StatusOK {
		t.Fatalf("run failed: %d %s", w.Code, w.Body.String())
	}

	t.Run("structured", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/cases/CASE-API-001/audit/export?format=structured", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		var export ledger.StructuredExport
		if err := json.Unmarshal(w.Body.Bytes(), &export); err != nil {
			t.Fatalf("failed to decode export: %v", err)
		}
		if export.CaseID != "CASE-API-001" || export.RecordCount != 5 {
			t.Errorf("unexpected export envelope: case=%s count=%d", export.CaseID, export.RecordCount)
		}
	})

	t.Run("export is audited", func(t *testing.T) {
		recs, err := ts.ledger.Query(context.Background(), "CASE-API-001")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		last := recs[len(recs)-1]
		if last.Event != domain.EventExportPerformed {
			t.Errorf("expected trailing %s record, got %s", domain.EventExportPerformed, last.Event)
		}
	})

	t.Run("tabular", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/cases/CASE-API-001/audit/export?format=tabular", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
			t.Errorf("expected text/csv, got %s", ct)
		}
		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		// header plus one row per record
		if len(lines) < 7 {
			t.Errorf("expected at least 7 csv lines, got %d", len(lines))
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/cases/CASE-API-001/audit/export?format=xml", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unknown case", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/cases/CASE-NOPE/audit/export", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestResultLifecycle(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodPost, "/cases", testCaseBody); w.Code != http.StatusOK {
		t.Fatalf("run failed: %d %s", w.Code, w.Body.String())
	}

	w := ts.do(t, http.MethodGet, "/cases/CASE-API-001/result", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res domain.CaseResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if res.Status != domain.CaseStatusDraft {
		t.Errorf("expected draft status, got %s", res.Status)
	}
	if res.NarrativeText == "" {
		t.Error("expected a persisted narrative")
	}

	w = ts.do(t, http.MethodPost, "/cases/CASE-API-001/approve", `{"approver":"lead.analyst"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode approved result: %v", err)
	}
	if res.Status != domain.CaseStatusApproved || res.ApprovedBy != "lead.analyst" {
		t.Errorf("unexpected approved result: status=%s approvedBy=%s", res.Status, res.ApprovedBy)
	}

	recs, err := ts.ledger.Query(context.Background(), "CASE-API-001")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	last := recs[len(recs)-1]
	if last.Event != domain.EventNarrativeApproved {
		t.Errorf("expected trailing %s record, got %s", domain.EventNarrativeApproved, last.Event)
	}
	if last.Actor != "lead.analyst" {
		t.Errorf("expected approver as actor, got %s", last.Actor)
	}

	t.Run("missing approver", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/cases/CASE-API-001/approve", `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unknown case", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/cases/CASE-NOPE/approve", `{"approver":"lead.analyst"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("unknown case result", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/cases/CASE-NOPE/result", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", resp["status"])
	}

	w = ts.do(t, http.MethodGet, "/ready", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from ready, got %d", w.Code)
	}
}
