package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/auditwatch/auditwatch/internal/casefile"
	"github.com/auditwatch/auditwatch/internal/collab"
	"github.com/auditwatch/auditwatch/internal/domain"
	"github.com/auditwatch/auditwatch/internal/narrative"
	"github.com/auditwatch/auditwatch/internal/patterns"
	"github.com/auditwatch/auditwatch/internal/typology"
)

// Stage payload shapes. Every stage consumes and produces JSON so the same
// shapes cross the bus unchanged in task-message mode.

type detectOutput struct {
	Stats     domain.Statistics         `json:"stats"`
	Findings  []domain.IndicatorFinding `json:"findings"`
	RiskScore domain.RiskScore          `json:"riskScore"`
}

type classifyInput struct {
	Findings    []domain.IndicatorFinding `json:"findings"`
	Stats       domain.Statistics         `json:"stats"`
	AlertReason string                    `json:"alertReason"`
}

type retrieveInput struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

// Stages bundles the five stage implementations behind their capability
// names.
type Stages struct {
	Parser     *casefile.Parser
	Engine     *patterns.Engine
	Classifier *typology.Classifier
	Retriever  collab.TemplateRetriever
	Generator  narrative.Generator
}

// Register binds every stage to its capability in the registry.
func (s *Stages) Register(reg *Registry) error {
	bindings := []struct {
		capability domain.Capability
		handler    Handler
	}{
		{domain.CapabilityValidateCase, s.validateCase},
		{domain.CapabilityDetectPatterns, s.detectPatterns},
		{domain.CapabilityClassifyTypology, s.classifyTypology},
		{domain.CapabilityRetrieveTemplates, s.retrieveTemplates},
		{domain.CapabilityGenerateNarrative, s.generateNarrative},
	}
	for _, b := range bindings {
		if err := reg.Register(b.capability, b.handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stages) validateCase(ctx context.Context, msg *domain.TaskMessage) (json.RawMessage, error) {
	rec, err := s.Parser.Parse(msg.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func (s *Stages) detectPatterns(ctx context.Context, msg *domain.TaskMessage) (json.RawMessage, error) {
	var rec domain.CaseRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return nil, fmt.Errorf("malformed case record: %w", err)
	}

	stats, findings, err := s.Engine.Evaluate(&rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(detectOutput{
		Stats:     stats,
		Findings:  findings,
		RiskScore: domain.ComputeRiskScore(findings),
	})
}

func (s *Stages) classifyTypology(ctx context.Context, msg *domain.TaskMessage) (json.RawMessage, error) {
	var in classifyInput
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		return nil, fmt.Errorf("malformed classification input: %w", err)
	}

	classification, err := s.Classifier.Classify(in.Findings, in.Stats, in.AlertReason)
	if err != nil {
		return nil, err
	}
	return json.Marshal(classification)
}

func (s *Stages) retrieveTemplates(ctx context.Context, msg *domain.TaskMessage) (json.RawMessage, error) {
	var in retrieveInput
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		return nil, fmt.Errorf("malformed retrieval input: %w", err)
	}

	matches, err := s.Retriever.Retrieve(ctx, in.Query, in.TopK)
	if err != nil {
		return nil, err
	}
	return json.Marshal(matches)
}

func (s *Stages) generateNarrative(ctx context.Context, msg *domain.TaskMessage) (json.RawMessage, error) {
	var req narrative.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed narrative request: %w", err)
	}

	n, err := s.Generator.Generate(ctx, &req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}
