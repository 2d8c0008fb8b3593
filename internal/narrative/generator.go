// Package narrative produces the regulatory narrative for a case, either
// through an external inference service or through the deterministic
// fallback composer when no service is configured or reachable.
package narrative

import (
	"context"
	"time"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// Request carries everything a generator needs to write a narrative.
type Request struct {
	Case       *domain.CaseRecord
	Stats      domain.Statistics
	Findings   []domain.IndicatorFinding
	Typology   domain.TypologyClassification
	RiskScore  domain.RiskScore
	Templates  []domain.TemplateMatch
	Regulatory string
}

// Generator writes a case narrative.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*domain.Narrative, error)

	Ping(ctx context.Context) error
	Close() error
}

// redFlags collects the evidence strings of fired indicators.
func redFlags(findings []domain.IndicatorFinding) []string {
	flags := make([]string, 0, len(findings))
	for _, f := range findings {
		flags = append(flags, f.Evidence)
	}
	return flags
}

// templateIDs collects the identifiers of retrieved templates.
func templateIDs(templates []domain.TemplateMatch) []string {
	ids := make([]string, 0, len(templates))
	for _, t := range templates {
		ids = append(ids, t.ID)
	}
	return ids
}

func newNarrative(req *Request, text, model string, fallback bool) *domain.Narrative {
	return &domain.Narrative{
		CaseID:        req.Case.CaseID,
		GeneratedAt:   time.Now().UTC(),
		Text:          text,
		Sections:      ParseSections(text),
		Typology:      req.Typology.Label,
		RedFlags:      redFlags(req.Findings),
		TemplatesUsed: templateIDs(req.Templates),
		ModelVersion:  model,
		Fallback:      fallback,
	}
}
