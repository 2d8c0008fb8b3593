// Package typology maps indicator findings to a crime-typology label.
package typology

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// matrix maps each typology label to the indicator set that evidences it.
// A label's score is the sum of the weights of its fired indicators, so
// the matrix stays additive and individual entries can change without
// rescaling the others.
var matrix = map[domain.TypologyLabel][]domain.IndicatorID{
	domain.TypologyStructuring: {
		domain.IndicatorStructuring,
		domain.IndicatorSmurfing,
		domain.IndicatorRoundAmounts,
		domain.IndicatorRapidLayering,
	},
	domain.TypologyLayering: {
		domain.IndicatorRapidLayering,
		domain.IndicatorFanIn,
		domain.IndicatorWireFanOut,
		domain.IndicatorBeneficiaryAnomaly,
	},
	domain.TypologyRapidMovement: {
		domain.IndicatorRapidLayering,
		domain.IndicatorVelocitySpike,
	},
	domain.TypologyWireFraud: {
		domain.IndicatorHighRiskChannel,
		domain.IndicatorHighRiskCountry,
		domain.IndicatorWireFanOut,
		domain.IndicatorLargeTransaction,
	},
	domain.TypologyRoundTripping: {
		domain.IndicatorRoundTrip,
		domain.IndicatorHighRiskCountry,
	},
	domain.TypologyCashBusiness: {
		domain.IndicatorCashIntensive,
		domain.IndicatorIncomeMismatch,
		domain.IndicatorVelocitySpike,
	},
	domain.TypologyIdentityTheft: {
		domain.IndicatorBeneficiaryAnomaly,
		domain.IndicatorFanIn,
	},
}

// keywords boost a label when the alert reason mentions its vocabulary,
// mirroring how reviewers phrase alerts.
var keywords = map[domain.TypologyLabel][]string{
	domain.TypologyStructuring:   {"structuring", "threshold", "smurfing", "below reporting"},
	domain.TypologyLayering:      {"layering", "multiple accounts", "rapid transfer", "cross-border"},
	domain.TypologyWireFraud:     {"wire", "swift", "remittance", "foreign"},
	domain.TypologyCashBusiness:  {"cash", "retail", "business volume"},
	domain.TypologyIdentityTheft: {"identity", "kyc", "synthetic", "document"},
	domain.TypologyRapidMovement: {"rapid", "same day", "immediate transfer"},
	domain.TypologyRoundTripping: {"round-trip", "foreign investment", "circular"},
}

// keywordBoost is added to a label's score on an alert-reason match,
// before normalization to [0,1].
const keywordBoost = 15.0

// Classifier scores the matrix against fired indicators. Stateless;
// identical input always produces the identical classification.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify picks the highest-scoring label. It fails only when zero
// indicators fired and the statistics are empty; in every other situation
// a reviewer still receives the best-available label with low confidence.
func (cl *Classifier) Classify(findings []domain.IndicatorFinding, stats domain.Statistics, alertReason string) (domain.TypologyClassification, error) {
	if len(findings) == 0 && stats.TransactionCount == 0 {
		return domain.TypologyClassification{}, fmt.Errorf("%w: no findings and no transactions", domain.ErrUnclassifiable)
	}

	fired := make(map[domain.IndicatorID]float64, len(findings))
	for _, f := range findings {
		fired[f.Indicator] = f.Weight
	}
	reason := strings.ToLower(alertReason)

	scores := make([]domain.TypologyScore, 0, len(matrix))
	for _, label := range domain.TypologyPriority {
		var score float64
		for _, ind := range matrix[label] {
			score += fired[ind]
		}
		for _, kw := range keywords[label] {
			if strings.Contains(reason, kw) {
				score += keywordBoost
				break
			}
		}
		if score > 0 {
			scores = append(scores, domain.TypologyScore{Label: label, Score: score})
		}
	}

	if len(scores) == 0 {
		// Nothing in the matrix matched; an actionable answer still beats
		// a refusal.
		return domain.TypologyClassification{
			Label:      domain.TypologyUnknown,
			Confidence: 0.1,
		}, nil
	}

	// Stable sort keeps the priority order as the tie-break.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})

	best := scores[0]
	result := domain.TypologyClassification{
		Label:      best.Label,
		Confidence: normalize(best.Score),
		RunnersUp:  scores[1:],
	}

	slog.Debug("classified typology",
		"label", result.Label,
		"confidence", result.Confidence,
		"candidates", len(scores),
	)

	return result, nil
}

// normalize maps an additive score onto the 100-point scale, clamped to
// [0,1].
func normalize(score float64) float64 {
	c := score / 100
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

// Matches reports the indicator set a label is scored on; used by the
// narrative composer to explain the classification.
func Matches(label domain.TypologyLabel) []domain.IndicatorID {
	ids := matrix[label]
	out := make([]domain.IndicatorID, len(ids))
	copy(out, ids)
	return out
}
