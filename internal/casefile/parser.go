// Package casefile normalizes and validates raw case input before any
// pipeline stage runs.
package casefile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// Accepted transaction date layouts, tried in order.
var dateLayouts = []string{"2006-01-02", "02-01-2006"}

// Parser turns raw case JSON into a validated, immutable CaseRecord.
type Parser struct {
	validate  *validator.Validate
	anonymize bool
}

// NewParser creates a parser. When anonymize is set, customer identifiers
// are masked before the record leaves this package.
func NewParser(anonymize bool) *Parser {
	return &Parser{
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		anonymize: anonymize,
	}
}

// Parse decodes and validates raw input. Schema violations come back as a
// *domain.ValidationError carrying one entry per offending field.
func (p *Parser) Parse(raw []byte) (*domain.CaseRecord, error) {
	var req domain.CaseRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &domain.ValidationError{Fields: []domain.FieldError{
			{Field: "(body)", Message: "malformed JSON: " + err.Error()},
		}}
	}
	return p.ParseRequest(&req)
}

// ParseRequest validates an already-decoded request.
func (p *Parser) ParseRequest(req *domain.CaseRequest) (*domain.CaseRecord, error) {
	if err := p.validate.Struct(req); err != nil {
		return nil, p.fieldErrors(err)
	}

	fields := p.semanticErrors(req)
	txns := make([]domain.Transaction, 0, len(req.Transactions))
	for i, t := range req.Transactions {
		date, err := parseDate(t.Date)
		if err != nil {
			fields = append(fields, domain.FieldError{
				Field:   fmt.Sprintf("transactions[%d].date", i),
				Message: err.Error(),
			})
			continue
		}
		currency := t.Currency
		if currency == "" {
			currency = "INR"
		}
		txns = append(txns, domain.Transaction{
			Date:               date,
			Amount:             t.Amount,
			Currency:           currency,
			Type:               t.Type,
			Originator:         strings.TrimSpace(t.Originator),
			Beneficiary:        strings.TrimSpace(t.Beneficiary),
			BeneficiaryCountry: strings.ToUpper(strings.TrimSpace(t.BeneficiaryCountry)),
			Description:        t.Description,
		})
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	rating := req.Customer.KYCRiskRating
	if rating == "" {
		rating = domain.KYCRiskMedium
	}
	analyst := req.AssignedAnalyst
	if analyst == "" {
		analyst = "system"
	}

	rec := &domain.CaseRecord{
		CaseID: strings.TrimSpace(req.CaseID),
		Customer: domain.CustomerProfile{
			Name:                  strings.TrimSpace(req.Customer.Name),
			AccountNumber:         strings.TrimSpace(req.Customer.AccountNumber),
			KYCRiskRating:         rating,
			Occupation:            req.Customer.Occupation,
			AccountOpenDate:       req.Customer.AccountOpenDate,
			ExpectedMonthlyVolume: req.Customer.ExpectedMonthlyVolume,
			DeclaredIncome:        req.Customer.DeclaredIncome,
			Address:               req.Customer.Address,
			PANNumber:             req.Customer.PANNumber,
		},
		Transactions:       txns,
		AlertReason:        strings.TrimSpace(req.AlertReason),
		InvestigationNotes: req.InvestigationNotes,
		AlertDate:          req.AlertDate,
		AssignedAnalyst:    analyst,
	}

	if p.anonymize {
		Anonymize(rec)
	}

	slog.Info("parsed case",
		"case_id", rec.CaseID,
		"transactions", len(rec.Transactions),
		"anonymized", p.anonymize,
	)

	return rec, nil
}

// semanticErrors checks constraints the tag validator cannot express.
func (p *Parser) semanticErrors(req *domain.CaseRequest) []domain.FieldError {
	var fields []domain.FieldError
	if strings.TrimSpace(req.CaseID) == "" {
		fields = append(fields, domain.FieldError{Field: "case_id", Message: "must not be blank"})
	}
	for i, t := range req.Transactions {
		if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
			fields = append(fields, domain.FieldError{
				Field:   fmt.Sprintf("transactions[%d].amount", i),
				Message: "must be a finite number",
			})
		}
	}
	return fields
}

// fieldErrors converts validator output into the domain error shape.
func (p *Parser) fieldErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &domain.ValidationError{Fields: []domain.FieldError{
			{Field: "(body)", Message: err.Error()},
		}}
	}
	fields := make([]domain.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, domain.FieldError{
			Field:   jsonPath(fe.Namespace()),
			Message: tagMessage(fe),
		})
	}
	return &domain.ValidationError{Fields: fields}
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "gte":
		return "must be >= " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " constraint"
	}
}

// jsonPath rewrites a validator namespace (CaseRequest.Customer.Name) into
// the wire field path (customer.name).
func jsonPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:] // drop the root struct name
	}
	for i, p := range parts {
		idx := ""
		if b := strings.IndexByte(p, '['); b >= 0 {
			idx = p[b:]
			p = p[:b]
		}
		parts[i] = camelToSnake(p) + idx
	}
	return strings.Join(parts, ".")
}

func camelToSnake(s string) string {
	isUpper := func(c byte) bool { return c >= 'A' && c <= 'Z' }
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUpper(c) {
			// Break before a new word: after a lowercase letter, or at the
			// last capital of an acronym run (KYCRisk -> kyc_risk).
			if i > 0 && (!isUpper(s[i-1]) || (i+1 < len(s) && !isUpper(s[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteByte(c + ('a' - 'A'))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("must not be blank")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (want YYYY-MM-DD or DD-MM-YYYY)", s)
}
