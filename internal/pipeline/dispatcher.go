package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/auditwatch/auditwatch/internal/collab"
	"github.com/auditwatch/auditwatch/internal/domain"
	"github.com/auditwatch/auditwatch/internal/narrative"
)

var tracer = otel.Tracer("auditwatch-pipeline")

// Result is what a completed run hands back to the caller: either a fully
// populated outcome with any fallbacks flagged, or nothing (the dispatcher
// returns a typed PipelineError instead). Never a partial, unflagged
// result.
type Result struct {
	CaseID        string                        `json:"caseId"`
	CorrelationID string                        `json:"correlationId"`
	State         domain.RunState               `json:"state"`
	Stats         domain.Statistics             `json:"stats"`
	Findings      []domain.IndicatorFinding     `json:"findings"`
	RiskScore     domain.RiskScore              `json:"riskScore"`
	Typology      domain.TypologyClassification `json:"typology"`
	Templates     []domain.TemplateMatch        `json:"templates,omitempty"`
	Narrative     *domain.Narrative             `json:"narrative"`
	Confidence    float64                       `json:"confidence"`
	Fallbacks     []string                      `json:"fallbacks,omitempty"`
	Trace         []domain.TaskMessage          `json:"trace,omitempty"`
}

// Dispatcher drives the run state machine. Stages are reached through a
// Router, so direct mode and task-message mode share one code path: direct
// mode is a LocalRouter over the in-process registry, task-message mode a
// BusRouter over the event bus.
type Dispatcher struct {
	router  Router
	ledger  domain.Ledger
	results domain.CaseResultStore
	cfg     *domain.Config
	log     *slog.Logger

	composer *narrative.Composer
}

// NewDispatcher creates a dispatcher. results may be nil when final case
// outcomes are not persisted separately from the audit trail.
func NewDispatcher(router Router, ledger domain.Ledger, results domain.CaseResultStore, cfg *domain.Config, log *slog.Logger) *Dispatcher {
	if cfg == nil {
		cfg = domain.DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		router:   router,
		ledger:   ledger,
		results:  results,
		cfg:      cfg,
		log:      log,
		composer: narrative.NewComposer(),
	}
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// peekCaseID extracts the case identifier from a raw submission so the
// audit trail can be keyed before validation has run.
func peekCaseID(raw []byte) string {
	var probe struct {
		CaseID string `json:"case_id"`
	}
	_ = json.Unmarshal(raw, &probe)
	return strings.TrimSpace(probe.CaseID)
}

// Run executes the full pipeline for one raw case submission.
func (d *Dispatcher) Run(ctx context.Context, raw []byte) (*Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	res := &Result{
		CorrelationID: uuid.New().String(),
		State:         domain.RunCreated,
	}
	res.CaseID = peekCaseID(raw)

	d.log.Info("pipeline run started",
		"case_id", res.CaseID,
		"correlation_id", res.CorrelationID)

	// Validating
	rec, recJSON, err := d.validate(ctx, res, raw)
	if err != nil {
		return nil, err
	}

	// Detecting
	detect, detectJSON, err := d.detect(ctx, res, recJSON)
	if err != nil {
		return nil, err
	}
	res.Stats = detect.Stats
	res.Findings = detect.Findings
	res.RiskScore = detect.RiskScore

	// Classifying
	if err := d.classify(ctx, res, detect, rec.AlertReason); err != nil {
		return nil, err
	}

	// Retrieving
	if err := d.retrieve(ctx, res, rec); err != nil {
		return nil, err
	}

	// Generating
	if err := d.generate(ctx, res, rec, detectJSON); err != nil {
		return nil, err
	}

	// Logged
	if err := d.logResult(ctx, res); err != nil {
		return nil, err
	}

	res.State = domain.RunCompleted
	d.log.Info("pipeline run completed",
		"case_id", res.CaseID,
		"correlation_id", res.CorrelationID,
		"risk_score", float64(res.RiskScore),
		"typology", res.Typology.Label,
		"confidence", res.Confidence,
		"fallbacks", res.Fallbacks)
	return res, nil
}

// dispatch sends one task message through the router and keeps it in the
// run trace.
func (d *Dispatcher) dispatch(ctx context.Context, res *Result, capability domain.Capability, payload json.RawMessage) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "pipeline."+string(capability))
	defer span.End()

	msg := newTaskMessage(res.CorrelationID, "dispatcher", capability, payload)
	res.Trace = append(res.Trace, *msg)
	return d.router.Dispatch(ctx, msg)
}

// fail records the terminal audit entry and converts err into the typed
// run failure. A failed ledger append cannot block failure reporting.
func (d *Dispatcher) fail(ctx context.Context, res *Result, stage domain.RunState, err error) error {
	res.State = domain.RunFailed

	if res.CaseID != "" {
		if _, aerr := d.ledger.Append(ctx, domain.AuditRecord{
			CaseID:    res.CaseID,
			Event:     domain.EventRunFailed,
			Actor:     "dispatcher",
			Reasoning: fmt.Sprintf("stage %s: %v", stage, err),
		}); aerr != nil {
			d.log.Error("failed to record run failure",
				"case_id", res.CaseID,
				"correlation_id", res.CorrelationID,
				"error", aerr)
		}
	}

	d.log.Error("pipeline run failed",
		"case_id", res.CaseID,
		"correlation_id", res.CorrelationID,
		"stage", stage,
		"error", err)

	return &domain.PipelineError{
		Stage:         stage,
		CorrelationID: res.CorrelationID,
		CaseID:        res.CaseID,
		Err:           err,
	}
}

func (d *Dispatcher) checkCancelled(ctx context.Context, res *Result, stage domain.RunState) error {
	if err := ctx.Err(); err != nil {
		return d.fail(context.WithoutCancel(ctx), res, stage, err)
	}
	return nil
}

func (d *Dispatcher) validate(ctx context.Context, res *Result, raw []byte) (*domain.CaseRecord, json.RawMessage, error) {
	res.State = domain.RunValidating
	if err := d.checkCancelled(ctx, res, domain.RunValidating); err != nil {
		return nil, nil, err
	}

	out, err := d.dispatch(ctx, res, domain.CapabilityValidateCase, raw)
	if err != nil {
		return nil, nil, d.fail(ctx, res, domain.RunValidating, err)
	}

	var rec domain.CaseRecord
	if err := json.Unmarshal(out, &rec); err != nil {
		return nil, nil, d.fail(ctx, res, domain.RunValidating, fmt.Errorf("malformed validation output: %w", err))
	}
	res.CaseID = rec.CaseID

	if _, err := d.ledger.Append(ctx, domain.AuditRecord{
		CaseID:       rec.CaseID,
		Event:        domain.EventInputReceived,
		Actor:        "validator",
		InputDigest:  digest(raw),
		OutputDigest: digest(out),
		Reasoning:    fmt.Sprintf("case accepted with %d transactions", len(rec.Transactions)),
	}); err != nil {
		return nil, nil, d.fail(ctx, res, domain.RunValidating, err)
	}

	return &rec, out, nil
}

func (d *Dispatcher) detect(ctx context.Context, res *Result, recJSON json.RawMessage) (*detectOutput, json.RawMessage, error) {
	res.State = domain.RunDetecting
	if err := d.checkCancelled(ctx, res, domain.RunDetecting); err != nil {
		return nil, nil, err
	}

	out, err := d.dispatch(ctx, res, domain.CapabilityDetectPatterns, recJSON)
	if err != nil {
		return nil, nil, d.fail(ctx, res, domain.RunDetecting, err)
	}

	var detect detectOutput
	if err := json.Unmarshal(out, &detect); err != nil {
		return nil, nil, d.fail(ctx, res, domain.RunDetecting, fmt.Errorf("malformed detection output: %w", err))
	}

	fired := make([]string, 0, len(detect.Findings))
	for _, f := range detect.Findings {
		fired = append(fired, string(f.Indicator))
	}
	reasoning := fmt.Sprintf("%d indicators fired, risk score %.0f", len(fired), float64(detect.RiskScore))
	if len(fired) > 0 {
		reasoning += ": " + strings.Join(fired, ", ")
	}

	if _, err := d.ledger.Append(ctx, domain.AuditRecord{
		CaseID:       res.CaseID,
		Event:        domain.EventPatternDetected,
		Actor:        "detector",
		InputDigest:  digest(recJSON),
		OutputDigest: digest(out),
		Reasoning:    reasoning,
	}); err != nil {
		return nil, nil, d.fail(ctx, res, domain.RunDetecting, err)
	}

	return &detect, out, nil
}

func (d *Dispatcher) classify(ctx context.Context, res *Result, detect *detectOutput, alertReason string) error {
	res.State = domain.RunClassifying
	if err := d.checkCancelled(ctx, res, domain.RunClassifying); err != nil {
		return err
	}

	in, err := json.Marshal(classifyInput{
		Findings:    detect.Findings,
		Stats:       detect.Stats,
		AlertReason: alertReason,
	})
	if err != nil {
		return d.fail(ctx, res, domain.RunClassifying, err)
	}

	out, err := d.dispatch(ctx, res, domain.CapabilityClassifyTypology, in)
	if err != nil {
		return d.fail(ctx, res, domain.RunClassifying, err)
	}

	var classification domain.TypologyClassification
	if err := json.Unmarshal(out, &classification); err != nil {
		return d.fail(ctx, res, domain.RunClassifying, fmt.Errorf("malformed classification output: %w", err))
	}
	res.Typology = classification

	confidence := classification.Confidence
	if _, err := d.ledger.Append(ctx, domain.AuditRecord{
		CaseID:       res.CaseID,
		Event:        domain.EventTypologyClassified,
		Actor:        "classifier",
		InputDigest:  digest(in),
		OutputDigest: digest(out),
		Reasoning:    fmt.Sprintf("classified as %s", classification.Label),
		Confidence:   &confidence,
	}); err != nil {
		return d.fail(ctx, res, domain.RunClassifying, err)
	}
	return nil
}

// retrieve runs the template-retrieval collaborator with retries. Total
// collaborator failure falls back to no templates and is never a run
// failure; only cancellation at the stage boundary fails the run. The
// ledger append is best-effort here so a retrieval hiccup cannot fail a
// run the collaborator contract says must survive.
func (d *Dispatcher) retrieve(ctx context.Context, res *Result, rec *domain.CaseRecord) error {
	res.State = domain.RunRetrieving
	if err := d.checkCancelled(ctx, res, domain.RunRetrieving); err != nil {
		return err
	}

	query := collab.BuildCaseSummary(rec, res.Stats, res.Findings)
	topK := d.cfg.Collab.TemplateTopK
	if topK <= 0 {
		topK = 2
	}
	in, _ := json.Marshal(retrieveInput{Query: query, TopK: topK})

	out, err := d.withRetries(ctx, res, domain.CapabilityRetrieveTemplates, in, d.cfg.Collab.RetrievalTimeout)
	reasoning := ""
	if err != nil {
		res.Fallbacks = append(res.Fallbacks, "template-retrieval")
		reasoning = fmt.Sprintf("collaborator unavailable after %d attempts, proceeding without templates: %v", d.attempts(), err)
		d.log.Warn("template retrieval failed, falling back",
			"case_id", res.CaseID,
			"correlation_id", res.CorrelationID,
			"error", err)
	} else {
		var matches []domain.TemplateMatch
		if uerr := json.Unmarshal(out, &matches); uerr == nil {
			res.Templates = matches
		}
		ids := make([]string, 0, len(res.Templates))
		for _, m := range res.Templates {
			ids = append(ids, m.ID)
		}
		reasoning = fmt.Sprintf("retrieved %d templates: %s", len(ids), strings.Join(ids, ", "))
	}

	if _, aerr := d.ledger.Append(ctx, domain.AuditRecord{
		CaseID:       res.CaseID,
		Event:        domain.EventTemplateRetrieved,
		Actor:        "retriever",
		InputDigest:  digest(in),
		OutputDigest: digest(out),
		Reasoning:    reasoning,
	}); aerr != nil {
		d.log.Warn("failed to record template retrieval",
			"case_id", res.CaseID,
			"error", aerr)
	}
	return nil
}

func (d *Dispatcher) generate(ctx context.Context, res *Result, rec *domain.CaseRecord, detectJSON json.RawMessage) error {
	res.State = domain.RunGenerating
	if err := d.checkCancelled(ctx, res, domain.RunGenerating); err != nil {
		return err
	}

	req := &narrative.Request{
		Case:       rec,
		Stats:      res.Stats,
		Findings:   res.Findings,
		Typology:   res.Typology,
		RiskScore:  res.RiskScore,
		Templates:  res.Templates,
		Regulatory: collab.RegulatoryContext(res.Typology.Label),
	}
	in, err := json.Marshal(req)
	if err != nil {
		return d.fail(ctx, res, domain.RunGenerating, err)
	}

	var n *domain.Narrative
	fallback := false

	out, gerr := d.withRetries(ctx, res, domain.CapabilityGenerateNarrative, in, d.cfg.Collab.GenerateTimeout)
	if gerr == nil {
		var served domain.Narrative
		if uerr := json.Unmarshal(out, &served); uerr == nil {
			n = &served
		}
	}
	if n == nil {
		// Deterministic composition; does not count as a run failure.
		fallback = true
		res.Fallbacks = append(res.Fallbacks, "narrative-generation")
		composed, cerr := d.composer.Generate(ctx, req)
		if cerr != nil {
			return d.fail(ctx, res, domain.RunGenerating, cerr)
		}
		n = composed
		d.log.Warn("narrative generation fell back to composition",
			"case_id", res.CaseID,
			"correlation_id", res.CorrelationID,
			"error", gerr)
	}
	res.Narrative = n
	res.Confidence = d.blendConfidence(res)

	reasoning := "narrative generated by inference service"
	if fallback {
		reasoning = fmt.Sprintf("collaborator unavailable after %d attempts, narrative composed deterministically: %v", d.attempts(), gerr)
	}

	confidence := res.Confidence
	outJSON, _ := json.Marshal(n)
	if _, err := d.ledger.Append(ctx, domain.AuditRecord{
		CaseID:       res.CaseID,
		Event:        domain.EventNarrativeGenerated,
		Actor:        "generator",
		InputDigest:  digest(in),
		OutputDigest: digest(outJSON),
		Reasoning:    reasoning,
		Confidence:   &confidence,
	}); err != nil {
		return d.fail(ctx, res, domain.RunGenerating, err)
	}
	return nil
}

func (d *Dispatcher) logResult(ctx context.Context, res *Result) error {
	res.State = domain.RunLogged
	if err := d.checkCancelled(ctx, res, domain.RunLogged); err != nil {
		return err
	}

	if d.results == nil {
		return nil
	}

	now := time.Now().UTC()
	if err := d.results.SaveCaseResult(ctx, &domain.CaseResult{
		CaseID:        res.CaseID,
		NarrativeText: res.Narrative.Text,
		Typology:      res.Typology.Label,
		RiskScore:     res.RiskScore,
		Confidence:    res.Confidence,
		Status:        domain.CaseStatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		// The audit trail is complete at this point; a result-store
		// hiccup is operational, not a run failure.
		d.log.Warn("failed to persist case result",
			"case_id", res.CaseID,
			"correlation_id", res.CorrelationID,
			"error", err)
	}
	return nil
}

func (d *Dispatcher) attempts() int {
	if d.cfg.Collab.MaxAttempts > 0 {
		return d.cfg.Collab.MaxAttempts
	}
	return 1
}

// withRetries dispatches a collaborator capability with a bounded number
// of attempts, each under its own timeout. Only the two collaborators go
// through here; internal stages are pure and a failure there is a defect.
func (d *Dispatcher) withRetries(ctx context.Context, res *Result, capability domain.Capability, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		actx, cancel := context.WithTimeout(ctx, timeout)
		out, err := d.dispatch(actx, res, capability, payload)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		d.log.Warn("collaborator attempt failed",
			"capability", capability,
			"case_id", res.CaseID,
			"attempt", attempt,
			"max_attempts", d.attempts(),
			"error", err)
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrCollaboratorUnavailable, lastErr)
}

// blendConfidence combines pattern strength, template similarity and
// regulatory context match under the configured weights.
func (d *Dispatcher) blendConfidence(res *Result) float64 {
	blend := d.cfg.Blend
	total := blend.PatternWeight + blend.TemplateWeight + blend.ContextWeight
	if total <= 0 {
		return res.Typology.Confidence
	}

	pattern := float64(res.RiskScore) / 100
	template := 0.0
	if len(res.Templates) > 0 {
		template = res.Templates[0].Score
	}
	contextMatch := res.Typology.Confidence

	combined := (blend.PatternWeight*pattern +
		blend.TemplateWeight*template +
		blend.ContextWeight*contextMatch) / total
	if combined < 0 {
		combined = 0
	}
	if combined > 1 {
		combined = 1
	}
	return combined
}
