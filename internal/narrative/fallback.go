package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// Composer is the deterministic narrative generator. It renders the five
// filing sections directly from the case figures and is the fallback when
// the inference service is unconfigured or unreachable.
type Composer struct{}

// NewComposer creates the template-based composer.
func NewComposer() *Composer {
	return &Composer{}
}

// Generate renders the five-section narrative. It never fails on a valid
// request.
func (c *Composer) Generate(ctx context.Context, req *Request) (*domain.Narrative, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || req.Case == nil {
		return nil, fmt.Errorf("nil narrative request")
	}

	text := Compose(req)
	return newNarrative(req, text, "", true), nil
}

// Ping always succeeds, the composer has no external dependency.
func (c *Composer) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (c *Composer) Close() error { return nil }

// Compose renders the narrative text for a request.
func Compose(req *Request) string {
	cust := req.Case.Customer
	stats := req.Stats

	flags := redFlags(req.Findings)
	flagLines := make([]string, 0, len(flags))
	for _, f := range flags {
		flagLines = append(flagLines, "- "+f)
	}
	if len(flagLines) == 0 {
		flagLines = append(flagLines, "- No individual indicators fired; activity flagged on aggregate review.")
	}

	occupation := cust.Occupation
	if occupation == "" {
		occupation = "Not specified"
	}
	openDate := cust.AccountOpenDate
	if openDate == "" {
		openDate = "N/A"
	}
	notes := req.Case.InvestigationNotes
	if notes == "" {
		notes = "No additional investigation notes provided."
	}
	dateStart := stats.DateRangeStart
	if dateStart == "" {
		dateStart = "N/A"
	}
	dateEnd := stats.DateRangeEnd
	if dateEnd == "" {
		dateEnd = "N/A"
	}

	var sb strings.Builder

	sb.WriteString("I. SUMMARY OF SUSPICIOUS ACTIVITY\n\n")
	fmt.Fprintf(&sb,
		"This report is filed regarding suspicious transactions identified in the account of %s (Account: %s). "+
			"A total of %d transactions totaling %s %.2f were identified during the review period from %s to %s. "+
			"The activity is consistent with %s.\n\n",
		cust.Name, cust.AccountNumber,
		stats.TransactionCount, stats.Currency, stats.TotalVolume,
		dateStart, dateEnd, req.Typology.Label)

	sb.WriteString("II. ACCOUNT AND CUSTOMER INFORMATION\n\n")
	fmt.Fprintf(&sb,
		"Account holder %s maintains account %s, opened on %s. "+
			"The customer's declared occupation is %s with expected monthly transaction volume of %s %.2f. "+
			"Current KYC risk rating: %s.\n\n",
		cust.Name, cust.AccountNumber, openDate,
		occupation, stats.Currency, cust.ExpectedMonthlyVolume,
		cust.KYCRiskRating)

	sb.WriteString("III. DESCRIPTION OF SUSPICIOUS ACTIVITY\n\n")
	fmt.Fprintf(&sb, "Alert Reason: %s\n\n", req.Case.AlertReason)
	sb.WriteString("Transaction Summary:\n")
	fmt.Fprintf(&sb, "- Total Volume: %s %.2f\n", stats.Currency, stats.TotalVolume)
	fmt.Fprintf(&sb, "- Transaction Count: %d\n", stats.TransactionCount)
	fmt.Fprintf(&sb, "- Date Range: %s to %s\n\n", dateStart, dateEnd)
	sb.WriteString("Suspicious Indicators:\n")
	sb.WriteString(strings.Join(flagLines, "\n"))
	sb.WriteString("\n\n")

	sb.WriteString("IV. EXPLANATION OF SUSPICION\n\n")
	fmt.Fprintf(&sb, "%s\n\n", notes)
	fmt.Fprintf(&sb,
		"The identified indicators are consistent with the %s typology (risk score %.0f/100, classification confidence %.2f). %s\n\n",
		req.Typology.Label, float64(req.RiskScore), req.Typology.Confidence, req.Regulatory)

	sb.WriteString("V. CONCLUSION AND RECOMMENDATION\n\n")
	sb.WriteString(
		"Based on the analysis, this activity warrants reporting as a Suspicious Transaction Report (STR) " +
			"under Section 12 of PMLA, 2002. The FIU-IND should be notified within the prescribed timeline. " +
			"Enhanced monitoring is recommended for this account.\n")

	return sb.String()
}
