package casefile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// AnonymizeValue replaces a PII value with a stable masked token. The same
// input always maps to the same token, so counterparty counting and
// round-trip detection still work on masked records.
func AnonymizeValue(value, prefix string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("[%s-%s]", prefix, strings.ToUpper(hex.EncodeToString(sum[:3])))
}

// Anonymize masks customer and counterparty identifiers in place. Amounts,
// dates and types are untouched; the indicator rules only need those.
func Anonymize(rec *domain.CaseRecord) {
	rec.Customer.Name = AnonymizeValue(rec.Customer.Name, "NAME")
	rec.Customer.AccountNumber = AnonymizeValue(rec.Customer.AccountNumber, "ACCT")
	if rec.Customer.Address != "" {
		rec.Customer.Address = AnonymizeValue(rec.Customer.Address, "ADDR")
	}
	if rec.Customer.PANNumber != "" {
		rec.Customer.PANNumber = AnonymizeValue(rec.Customer.PANNumber, "PAN")
	}
	for i := range rec.Transactions {
		rec.Transactions[i].Originator = AnonymizeValue(rec.Transactions[i].Originator, "ORIG")
		rec.Transactions[i].Beneficiary = AnonymizeValue(rec.Transactions[i].Beneficiary, "BENF")
	}
}
