package patterns

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// BuiltinRules returns the standard indicator battery configured with the
// given thresholds. Each entry is independent; removing one never affects
// the others.
func BuiltinRules(cfg domain.RulesConfig) []Rule {
	return []Rule{
		structuringRule(cfg),
		rapidLayeringRule(),
		roundTripRule(),
		highRiskJurisdictionRule(cfg),
		incomeMismatchRule(cfg),
		cashIntensiveRule(),
		beneficiaryAnomalyRule(),
		wireFanOutRule(cfg),
		velocitySpikeRule(cfg),
		smurfingRule(cfg),
		fanInRule(cfg),
		roundAmountsRule(cfg),
		largeTransactionRule(cfg),
		highRiskChannelRule(cfg),
	}
}

// structuringRule fires when three or more credits sit just below the
// regulatory reporting threshold.
func structuringRule(cfg domain.RulesConfig) Rule {
	return Rule{
		ID:       domain.IndicatorStructuring,
		Severity: domain.SeverityHigh,
		Weight:   30,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			near := 0
			for _, t := range c.Transactions {
				if t.Amount > cfg.ReportingThreshold*cfg.NearThresholdRatio && t.Amount < cfg.ReportingThreshold {
					near++
				}
			}
			if near < 3 {
				return "", false
			}
			return fmt.Sprintf("%d transactions just below the %.0f reporting threshold", near, cfg.ReportingThreshold), true
		},
	}
}

// rapidLayeringRule fires when credits and debits land on the same day,
// the classic in-and-out layering move.
func rapidLayeringRule() Rule {
	return Rule{
		ID:       domain.IndicatorRapidLayering,
		Severity: domain.SeverityHigh,
		Weight:   25,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			type flows struct{ credits, debits float64 }
			byDay := make(map[string]*flows)
			for _, t := range c.Transactions {
				day := t.Date.Format("2006-01-02")
				f := byDay[day]
				if f == nil {
					f = &flows{}
					byDay[day] = f
				}
				if t.Amount > 0 {
					f.credits += t.Amount
				} else {
					f.debits += -t.Amount
				}
			}
			var days []string
			for day, f := range byDay {
				if f.credits > 0 && f.debits > 0 {
					days = append(days, day)
				}
			}
			if len(days) == 0 {
				return "", false
			}
			sort.Strings(days)
			return fmt.Sprintf("credits and debits on the same day (%s)", strings.Join(days, ", ")), true
		},
	}
}

// roundTripRule fires when the same counterparty both sends to and
// receives from the account.
func roundTripRule() Rule {
	return Rule{
		ID:       domain.IndicatorRoundTrip,
		Severity: domain.SeverityHigh,
		Weight:   20,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			sent := make(map[string]struct{})
			for _, t := range c.Transactions {
				if t.Amount > 0 {
					sent[t.Originator] = struct{}{}
				}
			}
			var parties []string
			seen := make(map[string]struct{})
			for _, t := range c.Transactions {
				if t.Amount >= 0 {
					continue
				}
				if _, ok := sent[t.Beneficiary]; !ok {
					continue
				}
				if _, dup := seen[t.Beneficiary]; dup {
					continue
				}
				seen[t.Beneficiary] = struct{}{}
				parties = append(parties, t.Beneficiary)
			}
			if len(parties) == 0 {
				return "", false
			}
			sort.Strings(parties)
			return fmt.Sprintf("%d counterparties appear on both sides of the flow", len(parties)), true
		},
	}
}

// highRiskJurisdictionRule fires on any outbound transfer to a
// high-risk country.
func highRiskJurisdictionRule(cfg domain.RulesConfig) Rule {
	risky := make(map[string]struct{}, len(cfg.HighRiskCountries))
	for _, cc := range cfg.HighRiskCountries {
		risky[strings.ToUpper(cc)] = struct{}{}
	}
	return Rule{
		ID:       domain.IndicatorHighRiskCountry,
		Severity: domain.SeverityHigh,
		Weight:   20,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			count := 0
			countries := make(map[string]struct{})
			for _, t := range c.Transactions {
				if t.BeneficiaryCountry == "" {
					continue
				}
				if _, ok := risky[t.BeneficiaryCountry]; ok {
					count++
					countries[t.BeneficiaryCountry] = struct{}{}
				}
			}
			if count == 0 {
				return "", false
			}
			list := make([]string, 0, len(countries))
			for cc := range countries {
				list = append(list, cc)
			}
			sort.Strings(list)
			return fmt.Sprintf("%d transfers to high-risk jurisdictions (%s)", count, strings.Join(list, ", ")), true
		},
	}
}

// incomeMismatchRule fires when turnover exceeds a multiple of declared
// annual income.
func incomeMismatchRule(cfg domain.RulesConfig) Rule {
	return Rule{
		ID:       domain.IndicatorIncomeMismatch,
		Severity: domain.SeverityMedium,
		Weight:   15,
		Detect: func(c *domain.CaseRecord, s domain.Statistics) (string, bool) {
			declared := c.Customer.DeclaredIncome
			if declared <= 0 || s.TotalVolume <= 0 {
				return "", false
			}
			ratio := s.TotalVolume / declared
			if ratio <= cfg.IncomeRatio {
				return "", false
			}
			return fmt.Sprintf("transaction volume %.1fx declared annual income", ratio), true
		},
	}
}

// cashIntensiveRule fires when cash channels dominate the activity.
func cashIntensiveRule() Rule {
	return Rule{
		ID:       domain.IndicatorCashIntensive,
		Severity: domain.SeverityMedium,
		Weight:   10,
		Detect: func(c *domain.CaseRecord, s domain.Statistics) (string, bool) {
			if s.TransactionCount == 0 {
				return "", false
			}
			cash := 0
			for _, t := range c.Transactions {
				if strings.Contains(strings.ToLower(t.Type), "cash") || strings.EqualFold(t.Type, "ATM") {
					cash++
				}
			}
			share := float64(cash) / float64(s.TransactionCount)
			if cash < 3 || share < 0.5 {
				return "", false
			}
			return fmt.Sprintf("%d of %d transactions through cash channels", cash, s.TransactionCount), true
		},
	}
}

// beneficiaryAnomalyRule fires when a single beneficiary absorbs most of
// the outbound volume across several transfers.
func beneficiaryAnomalyRule() Rule {
	return Rule{
		ID:       domain.IndicatorBeneficiaryAnomaly,
		Severity: domain.SeverityMedium,
		Weight:   10,
		Detect: func(c *domain.CaseRecord, s domain.Statistics) (string, bool) {
			if s.TotalDebits <= 0 || s.DebitCount < 5 {
				return "", false
			}
			byBeneficiary := make(map[string]float64)
			for _, t := range c.Transactions {
				if t.Amount < 0 {
					byBeneficiary[t.Beneficiary] += -t.Amount
				}
			}
			var topName string
			var topAmount float64
			for name, amount := range byBeneficiary {
				if amount > topAmount || (amount == topAmount && name < topName) {
					topName, topAmount = name, amount
				}
			}
			if topAmount/s.TotalDebits <= 0.5 {
				return "", false
			}
			return fmt.Sprintf("beneficiary %s received %.0f%% of outbound volume", topName, 100*topAmount/s.TotalDebits), true
		},
	}
}

// wireFanOutRule fires when wire debits scatter across many distinct
// beneficiaries.
func wireFanOutRule(cfg domain.RulesConfig) Rule {
	wireTypes := make(map[string]struct{}, len(cfg.HighRiskTypes))
	for _, ht := range cfg.HighRiskTypes {
		wireTypes[strings.ToLower(ht)] = struct{}{}
	}
	return Rule{
		ID:       domain.IndicatorWireFanOut,
		Severity: domain.SeverityMedium,
		Weight:   15,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			beneficiaries := make(map[string]struct{})
			for _, t := range c.Transactions {
				if t.Amount >= 0 {
					continue
				}
				if _, ok := wireTypes[strings.ToLower(t.Type)]; !ok {
					continue
				}
				beneficiaries[t.Beneficiary] = struct{}{}
			}
			if len(beneficiaries) <= cfg.FanInMin {
				return "", false
			}
			return fmt.Sprintf("wire transfers fan out to %d distinct beneficiaries", len(beneficiaries)), true
		},
	}
}

// velocitySpikeRule fires when turnover dwarfs the expected monthly volume.
func velocitySpikeRule(cfg domain.RulesConfig) Rule {
	return Rule{
		ID:       domain.IndicatorVelocitySpike,
		Severity: domain.SeverityMedium,
		Weight:   15,
		Detect: func(c *domain.CaseRecord, s domain.Statistics) (string, bool) {
			expected := c.Customer.ExpectedMonthlyVolume
			if expected <= 0 || s.TotalVolume <= 0 {
				return "", false
			}
			ratio := s.TotalVolume / expected
			if ratio <= cfg.VolumeSpikeRatio {
				return "", false
			}
			return fmt.Sprintf("volume %.1fx above expected monthly volume", ratio), true
		},
	}
}

// smurfingRule fires on five or more small deposits.
func smurfingRule(cfg domain.RulesConfig) Rule {
	return Rule{
		ID:       domain.IndicatorSmurfing,
		Severity: domain.SeverityMedium,
		Weight:   10,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			small := 0
			for _, t := range c.Transactions {
				if t.Amount > 0 && t.Amount < cfg.SmallDepositLimit {
					small++
				}
			}
			if small < 5 {
				return "", false
			}
			return fmt.Sprintf("%d deposits under %.0f", small, cfg.SmallDepositLimit), true
		},
	}
}

// fanInRule fires when credits arrive from many distinct originators.
func fanInRule(cfg domain.RulesConfig) Rule {
	return Rule{
		ID:       domain.IndicatorFanIn,
		Severity: domain.SeverityMedium,
		Weight:   10,
		Detect: func(_ *domain.CaseRecord, s domain.Statistics) (string, bool) {
			if s.UniqueOriginators <= cfg.FanInMin {
				return "", false
			}
			return fmt.Sprintf("%d unique originators in %d days", s.UniqueOriginators, s.DateRangeDays), true
		},
	}
}

// roundAmountsRule fires on three or more exactly round credits.
func roundAmountsRule(cfg domain.RulesConfig) Rule {
	return Rule{
		ID:       domain.IndicatorRoundAmounts,
		Severity: domain.SeverityLow,
		Weight:   10,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			round := 0
			for _, t := range c.Transactions {
				if t.Amount > 0 && math.Mod(t.Amount, cfg.RoundAmountUnit) == 0 {
					round++
				}
			}
			if round < 3 {
				return "", false
			}
			return fmt.Sprintf("%d transactions in exact round amounts", round), true
		},
	}
}

// largeTransactionRule fires on any single transaction at or above the
// large-value floor.
func largeTransactionRule(cfg domain.RulesConfig) Rule {
	return Rule{
		ID:       domain.IndicatorLargeTransaction,
		Severity: domain.SeverityHigh,
		Weight:   20,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			for _, t := range c.Transactions {
				if math.Abs(t.Amount) >= cfg.LargeTxnFloor {
					return fmt.Sprintf("%s %.2f on %s", t.Currency, math.Abs(t.Amount), t.Date.Format("2006-01-02")), true
				}
			}
			return "", false
		},
	}
}

// highRiskChannelRule fires when any high-risk transfer type appears.
func highRiskChannelRule(cfg domain.RulesConfig) Rule {
	risky := make(map[string]struct{}, len(cfg.HighRiskTypes))
	for _, ht := range cfg.HighRiskTypes {
		risky[strings.ToLower(ht)] = struct{}{}
	}
	return Rule{
		ID:       domain.IndicatorHighRiskChannel,
		Severity: domain.SeverityMedium,
		Weight:   15,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			count := 0
			types := make(map[string]struct{})
			for _, t := range c.Transactions {
				if _, ok := risky[strings.ToLower(t.Type)]; ok {
					count++
					types[t.Type] = struct{}{}
				}
			}
			if count == 0 {
				return "", false
			}
			list := make([]string, 0, len(types))
			for tp := range types {
				list = append(list, tp)
			}
			sort.Strings(list)
			return fmt.Sprintf("%d high-risk transfers (%s)", count, strings.Join(list, ", ")), true
		},
	}
}
