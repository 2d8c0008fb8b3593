package domain

// IndicatorID identifies one suspicious-activity heuristic. The set is a
// fixed enumeration; custom CEL rules register additional ids at startup.
type IndicatorID string

// Builtin indicator battery.
const (
	IndicatorStructuring        IndicatorID = "structuring-below-threshold"
	IndicatorRapidLayering      IndicatorID = "rapid-layering"
	IndicatorRoundTrip          IndicatorID = "round-trip-flow"
	IndicatorHighRiskCountry    IndicatorID = "high-risk-jurisdiction"
	IndicatorIncomeMismatch     IndicatorID = "income-transaction-mismatch"
	IndicatorCashIntensive      IndicatorID = "cash-intensive-pattern"
	IndicatorBeneficiaryAnomaly IndicatorID = "beneficiary-anomaly"
	IndicatorWireFanOut         IndicatorID = "wire-transfer-fan-out"
	IndicatorVelocitySpike      IndicatorID = "velocity-spike"
	IndicatorSmurfing           IndicatorID = "smurfing-small-deposits"
	IndicatorFanIn              IndicatorID = "originator-fan-in"
	IndicatorRoundAmounts       IndicatorID = "round-number-amounts"
	IndicatorLargeTransaction   IndicatorID = "large-single-transaction"
	IndicatorHighRiskChannel    IndicatorID = "high-risk-channel"
)

// Severity tiers for indicator findings.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IndicatorFinding is evidence that one heuristic matched a case.
// A given indicator fires at most once per case.
type IndicatorFinding struct {
	Indicator IndicatorID `json:"indicator"`
	Severity  Severity    `json:"severity"`
	Evidence  string      `json:"evidence"`
	Weight    float64     `json:"weight"`
}

// Statistics are the aggregate transaction figures for a case. Derived
// deterministically; an empty transaction list yields the zero value.
type Statistics struct {
	TransactionCount    int            `json:"transactionCount"`
	TotalVolume         float64        `json:"totalVolume"`
	TotalCredits        float64        `json:"totalCredits"`
	TotalDebits         float64        `json:"totalDebits"`
	CreditCount         int            `json:"creditCount"`
	DebitCount          int            `json:"debitCount"`
	AvgAmount           float64        `json:"avgAmount"`
	MaxAmount           float64        `json:"maxAmount"`
	MinAmount           float64        `json:"minAmount"`
	DateRangeStart      string         `json:"dateRangeStart"`
	DateRangeEnd        string         `json:"dateRangeEnd"`
	DateRangeDays       int            `json:"dateRangeDays"`
	TransactionTypes    map[string]int `json:"transactionTypes,omitempty"`
	Currency            string         `json:"currency"`
	UniqueOriginators   int            `json:"uniqueOriginators"`
	UniqueBeneficiaries int            `json:"uniqueBeneficiaries"`
}

// RiskScore is the clamped weighted sum of fired indicator weights,
// always within [0, 100].
type RiskScore float64

// ComputeRiskScore derives the score from a finding set.
func ComputeRiskScore(findings []IndicatorFinding) RiskScore {
	var sum float64
	for _, f := range findings {
		sum += f.Weight
	}
	if sum < 0 {
		sum = 0
	}
	if sum > 100 {
		sum = 100
	}
	return RiskScore(sum)
}
