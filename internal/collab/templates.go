package collab

import "github.com/auditwatch/auditwatch/internal/domain"

// Template is one narrative template in the builtin corpus.
type Template struct {
	ID       string
	Typology domain.TypologyLabel
	Text     string
}

// DefaultTemplateID is returned when no corpus entry scores above zero
// for a query.
const DefaultTemplateID = "template-general"

// builtinTemplates is the retrieval corpus. One template per typology plus
// a general fallback. The texts carry the vocabulary their typology's
// indicators produce, which is what the term-frequency retriever ranks on.
var builtinTemplates = []Template{
	{
		ID:       "template-structuring",
		Typology: domain.TypologyStructuring,
		Text: `The account exhibited cash deposits structured below the reporting threshold. Multiple deposits were placed in amounts just under the threshold over consecutive days, a pattern consistent with structuring and smurfing designed to evade currency transaction reporting. The frequency and uniformity of the deposits are inconsistent with the customer's stated occupation and expected account activity.`,
	},
	{
		ID:       "template-layering",
		Typology: domain.TypologyLayering,
		Text: `Funds were moved rapidly through multiple accounts and beneficiaries in a layering pattern. Incoming credits were followed within short intervals by outgoing transfers to numerous counterparties, including cross-border transfers, obscuring the origin of funds. The account served as a pass-through with minimal residual balance.`,
	},
	{
		ID:       "template-wire-fraud",
		Typology: domain.TypologyWireFraud,
		Text: `The account originated wire transfers and SWIFT remittances to foreign beneficiaries in higher-risk jurisdictions. The wire activity had no apparent business purpose, involved newly added beneficiaries, and was inconsistent with the customer's profile. Several transfers were directed to jurisdictions subject to enhanced monitoring.`,
	},
	{
		ID:       "template-cash-business",
		Typology: domain.TypologyCashBusiness,
		Text: `Cash activity through the account substantially exceeded the volume expected for the customer's declared business. Cash deposits and withdrawals dominated the transaction mix, and the turnover was disproportionate to declared income and stated retail business volume, suggesting commingling of illicit proceeds with business receipts.`,
	},
	{
		ID:       "template-identity-theft",
		Typology: domain.TypologyIdentityTheft,
		Text: `Account activity and counterparties are inconsistent with the KYC documentation on file. Transactions were initiated by or directed to parties with no established relationship to the customer, and identifying details conflict with onboarding records, consistent with identity theft or use of synthetic identity documents.`,
	},
	{
		ID:       "template-rapid-movement",
		Typology: domain.TypologyRapidMovement,
		Text: `Funds credited to the account were transferred out on the same day or within one business day of receipt. The rapid movement of funds left minimal balances and indicates the account functioned as a conduit. The velocity of activity spiked sharply relative to the account's prior history.`,
	},
	{
		ID:       "template-round-tripping",
		Typology: domain.TypologyRoundTripping,
		Text: `Funds followed a circular route, leaving the account and returning from the original counterparty or an affiliate within a short window. The round-trip flow, in several instances routed through foreign jurisdictions as purported foreign investment, lacks economic rationale and is consistent with round-tripping.`,
	},
	{
		ID:       DefaultTemplateID,
		Typology: domain.TypologyUnknown,
		Text: `The account exhibited transaction activity inconsistent with the customer's profile and stated purpose of the account. The activity could not be attributed to a single established typology; the pattern of amounts, counterparties and timing nonetheless warrants reporting as suspicious.`,
	},
}

// regulatoryContext maps a typology to the applicable reporting framework
// text included in generated narratives.
var regulatoryContext = map[domain.TypologyLabel]string{
	domain.TypologyStructuring: "Structuring of cash transactions to evade reporting thresholds is an offence under PMLA Section 3. STR filing with FIU-IND is required under PMLA Section 12 read with Rule 7 of the PML Rules.",
	domain.TypologyLayering: "Layering of funds through multiple accounts falls within the definition of money laundering under PMLA Section 3. Reporting entities must file an STR with FIU-IND under PMLA Section 12.",
	domain.TypologyWireFraud: "Cross-border wire transfers require enhanced due diligence under the RBI Master Direction on KYC. Suspicious wire activity must be reported to FIU-IND under PMLA Section 12.",
	domain.TypologyCashBusiness: "Cash-intensive business activity disproportionate to declared turnover triggers enhanced monitoring under the RBI Master Direction on KYC. An STR is required under PMLA Section 12.",
	domain.TypologyIdentityTheft: "Use of forged or synthetic identity documents contravenes the customer due diligence requirements of the RBI Master Direction on KYC and is reportable under PMLA Section 12.",
	domain.TypologyRapidMovement: "Rapid pass-through movement of funds is a recognized laundering indicator. Reporting entities must file an STR with FIU-IND under PMLA Section 12.",
	domain.TypologyRoundTripping: "Circular routing of funds through foreign jurisdictions may contravene FEMA provisions in addition to PMLA Section 3. An STR must be filed with FIU-IND under PMLA Section 12.",
}

const generalRegulatoryContext = "PMLA Section 12 obliges reporting entities to report suspicious transactions to FIU-IND within 7 days of suspicion determination. PMLA Section 3 defines the offence of money laundering. The RBI Master Direction on KYC governs customer due diligence."

// RegulatoryContext returns the reporting-framework text for a typology,
// falling back to the general obligations when the typology is unknown.
func RegulatoryContext(label domain.TypologyLabel) string {
	if ctx, ok := regulatoryContext[label]; ok {
		return ctx
	}
	return generalRegulatoryContext
}
