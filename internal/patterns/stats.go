package patterns

import (
	"math"
	"time"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// ComputeStatistics derives the aggregate transaction figures for a case.
// Deterministic: identical input yields an identical Statistics value.
// An empty transaction list yields the zero statistics, not an error.
func ComputeStatistics(txns []domain.Transaction) domain.Statistics {
	if len(txns) == 0 {
		return domain.Statistics{Currency: "INR"}
	}

	stats := domain.Statistics{
		TransactionCount: len(txns),
		TransactionTypes: make(map[string]int),
		Currency:         txns[0].Currency,
		MinAmount:        math.Inf(1),
	}

	var minDate, maxDate time.Time
	originators := make(map[string]struct{})
	beneficiaries := make(map[string]struct{})

	for _, t := range txns {
		abs := math.Abs(t.Amount)
		stats.TotalVolume += abs
		if t.Amount > 0 {
			stats.TotalCredits += t.Amount
			stats.CreditCount++
		} else if t.Amount < 0 {
			stats.TotalDebits += abs
			stats.DebitCount++
		}
		if abs > stats.MaxAmount {
			stats.MaxAmount = abs
		}
		if abs < stats.MinAmount {
			stats.MinAmount = abs
		}

		if minDate.IsZero() || t.Date.Before(minDate) {
			minDate = t.Date
		}
		if t.Date.After(maxDate) {
			maxDate = t.Date
		}

		stats.TransactionTypes[t.Type]++
		originators[t.Originator] = struct{}{}
		beneficiaries[t.Beneficiary] = struct{}{}
	}

	stats.AvgAmount = stats.TotalVolume / float64(len(txns))
	stats.DateRangeStart = minDate.Format("2006-01-02")
	stats.DateRangeEnd = maxDate.Format("2006-01-02")
	stats.DateRangeDays = int(maxDate.Sub(minDate).Hours()/24) + 1
	stats.UniqueOriginators = len(originators)
	stats.UniqueBeneficiaries = len(beneficiaries)

	return stats
}
