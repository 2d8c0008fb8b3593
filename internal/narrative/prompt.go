package narrative

import (
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = "You are an expert compliance analyst specializing in " +
	"Suspicious Transaction Reports under PMLA, 2002. Write formal, factual " +
	"regulatory narratives in five numbered sections: I. SUMMARY OF SUSPICIOUS " +
	"ACTIVITY, II. ACCOUNT AND CUSTOMER INFORMATION, III. DESCRIPTION OF " +
	"SUSPICIOUS ACTIVITY, IV. EXPLANATION OF SUSPICION, V. CONCLUSION AND " +
	"RECOMMENDATION. State only facts present in the case data."

const templateReferenceLimit = 2000

// buildPrompt renders the inference prompt from a request. Deterministic
// for a given request so prompt digests are reproducible in the audit
// trail.
func buildPrompt(req *Request) string {
	cust := req.Case.Customer
	stats := req.Stats

	var flags strings.Builder
	for _, f := range req.Findings {
		fmt.Fprintf(&flags, "- [%s] %s\n", f.Indicator, f.Evidence)
	}

	types := make([]string, 0, len(stats.TransactionTypes))
	for t, n := range stats.TransactionTypes {
		types = append(types, fmt.Sprintf("%s: %d", t, n))
	}
	sort.Strings(types)

	var tpl strings.Builder
	for _, m := range req.Templates {
		tpl.WriteString(m.Text)
		tpl.WriteString("\n\n")
	}
	reference := strings.TrimSpace(tpl.String())
	if reference == "" {
		reference = "No template available"
	} else if len(reference) > templateReferenceLimit {
		reference = reference[:templateReferenceLimit]
	}

	notes := req.Case.InvestigationNotes
	if notes == "" {
		notes = "None provided"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate a suspicious transaction report narrative for case %s.\n\n", req.Case.CaseID)
	fmt.Fprintf(&sb, "Alert Reason: %s\n", req.Case.AlertReason)
	fmt.Fprintf(&sb, "Customer: %s, account %s, occupation %s, KYC risk %s\n",
		cust.Name, cust.AccountNumber, cust.Occupation, cust.KYCRiskRating)
	fmt.Fprintf(&sb, "Declared income: %.2f, expected monthly volume: %.2f\n\n",
		cust.DeclaredIncome, cust.ExpectedMonthlyVolume)
	fmt.Fprintf(&sb, "Transactions: %d totaling %s %.2f (%d credits %.2f, %d debits %.2f)\n",
		stats.TransactionCount, stats.Currency, stats.TotalVolume,
		stats.CreditCount, stats.TotalCredits, stats.DebitCount, stats.TotalDebits)
	fmt.Fprintf(&sb, "Period: %s to %s (%d days)\n", stats.DateRangeStart, stats.DateRangeEnd, stats.DateRangeDays)
	fmt.Fprintf(&sb, "Transaction types: %s\n\n", strings.Join(types, ", "))
	fmt.Fprintf(&sb, "Indicators:\n%s\n", flags.String())
	fmt.Fprintf(&sb, "Typology: %s (confidence %.2f)\n", req.Typology.Label, req.Typology.Confidence)
	fmt.Fprintf(&sb, "Risk Score: %.0f/100\n\n", float64(req.RiskScore))
	fmt.Fprintf(&sb, "Investigation Notes: %s\n\n", notes)
	fmt.Fprintf(&sb, "Regulatory Context: %s\n\n", req.Regulatory)
	fmt.Fprintf(&sb, "Reference narrative style:\n%s\n", reference)
	return sb.String()
}
