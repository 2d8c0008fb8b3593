// Package collab holds the pipeline's external collaborators: template
// retrieval and the regulatory context it draws on. Retrieval runs against
// an in-process corpus by default, with an optional cache wrapper for
// sharing results across instances.
package collab

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// TemplateRetriever finds the narrative templates most similar to a case
// summary.
type TemplateRetriever interface {
	// Retrieve returns up to topK matches ordered by descending score.
	// Never returns an empty slice on success: when nothing in the corpus
	// matches, the general template is returned with score zero.
	Retrieve(ctx context.Context, query string, topK int) ([]domain.TemplateMatch, error)

	Ping(ctx context.Context) error
	Close() error
}

// MemoryRetriever ranks the builtin corpus by term-frequency cosine
// similarity. Deterministic: equal scores break ties by template ID.
type MemoryRetriever struct {
	templates []Template
	vectors   []map[string]float64
}

// NewMemoryRetriever indexes the builtin template corpus.
func NewMemoryRetriever() *MemoryRetriever {
	return newRetrieverFor(builtinTemplates)
}

func newRetrieverFor(templates []Template) *MemoryRetriever {
	r := &MemoryRetriever{
		templates: templates,
		vectors:   make([]map[string]float64, len(templates)),
	}
	for i, tpl := range templates {
		r.vectors[i] = termFrequencies(tpl.Text)
	}
	return r
}

// Retrieve scores every corpus entry against the query.
func (r *MemoryRetriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.TemplateMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty retrieval query")
	}
	if topK <= 0 {
		topK = 1
	}

	qvec := termFrequencies(query)
	matches := make([]domain.TemplateMatch, 0, len(r.templates))
	for i, tpl := range r.templates {
		score := cosine(qvec, r.vectors[i])
		if score > 0 {
			matches = append(matches, domain.TemplateMatch{
				ID:    tpl.ID,
				Score: score,
				Text:  tpl.Text,
			})
		}
	}

	if len(matches) == 0 {
		for _, tpl := range r.templates {
			if tpl.ID == DefaultTemplateID {
				return []domain.TemplateMatch{{ID: tpl.ID, Score: 0, Text: tpl.Text}}, nil
			}
		}
		return nil, fmt.Errorf("template corpus has no default entry")
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Ping always succeeds for the in-process retriever.
func (r *MemoryRetriever) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-process retriever.
func (r *MemoryRetriever) Close() error {
	return nil
}

// termFrequencies tokenizes on non-alphanumeric runes and counts lowercase
// terms. Single-character tokens are dropped.
func termFrequencies(text string) map[string]float64 {
	freqs := make(map[string]float64)
	var sb strings.Builder
	flush := func() {
		if sb.Len() > 1 {
			freqs[sb.String()]++
		}
		sb.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return freqs
}

func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for term, av := range a {
		na += av * av
		if bv, ok := b[term]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// BuildCaseSummary renders the retrieval query for a case: alert reason,
// customer profile, aggregate figures and fired indicators.
func BuildCaseSummary(c *domain.CaseRecord, stats domain.Statistics, findings []domain.IndicatorFinding) string {
	indicators := make([]string, 0, len(findings))
	for _, f := range findings {
		indicators = append(indicators, string(f.Indicator))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Case %s: %s\n", c.CaseID, c.AlertReason)
	fmt.Fprintf(&sb, "Customer: %s, KYC: %s\n", c.Customer.Occupation, c.Customer.KYCRiskRating)
	fmt.Fprintf(&sb, "Transactions: %d totaling %s %.2f\n",
		stats.TransactionCount, stats.Currency, stats.TotalVolume)
	fmt.Fprintf(&sb, "Indicators: %s\n", strings.Join(indicators, "; "))
	fmt.Fprintf(&sb, "Period: %s to %s", stats.DateRangeStart, stats.DateRangeEnd)
	return sb.String()
}
