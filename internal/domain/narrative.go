package domain

import "time"

// Narrative is the regulatory narrative produced for a case, either by the
// external inference service or by the deterministic fallback composer.
type Narrative struct {
	CaseID        string            `json:"caseId"`
	GeneratedAt   time.Time         `json:"generatedAt"`
	Text          string            `json:"text"`
	Sections      map[string]string `json:"sections,omitempty"`
	Typology      TypologyLabel     `json:"typology"`
	RedFlags      []string          `json:"redFlags,omitempty"`
	TemplatesUsed []string          `json:"templatesUsed,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
	Fallback      bool              `json:"fallback"`
}

// TemplateMatch is one template-retrieval hit: identifier, similarity in
// [0,1] and the template text.
type TemplateMatch struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}
