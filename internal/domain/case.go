// Package domain defines the core types and interfaces for AuditWatch.
package domain

import (
	"time"
)

// Transaction is a single movement on the account under review.
// Credits carry positive amounts, debits negative. Immutable after parse;
// ordering by date matters for the time-windowed indicators.
type Transaction struct {
	Date               time.Time `json:"date"`
	Amount             float64   `json:"amount"`
	Currency           string    `json:"currency"`
	Type               string    `json:"type"`
	Originator         string    `json:"originator"`
	Beneficiary        string    `json:"beneficiary"`
	BeneficiaryCountry string    `json:"beneficiaryCountry,omitempty"`
	Description        string    `json:"description,omitempty"`
}

// CustomerProfile holds the KYC view of the account holder.
type CustomerProfile struct {
	Name                  string  `json:"name"`
	AccountNumber         string  `json:"accountNumber"`
	KYCRiskRating         string  `json:"kycRiskRating"`
	Occupation            string  `json:"occupation,omitempty"`
	AccountOpenDate       string  `json:"accountOpenDate,omitempty"`
	ExpectedMonthlyVolume float64 `json:"expectedMonthlyVolume,omitempty"`
	DeclaredIncome        float64 `json:"declaredIncome,omitempty"`
	Address               string  `json:"address,omitempty"`
	PANNumber             string  `json:"panNumber,omitempty"`
}

// KYC risk rating values.
const (
	KYCRiskHigh   = "High"
	KYCRiskMedium = "Medium"
	KYCRiskLow    = "Low"
)

// CaseRecord is a validated financial-crime case. Created once by the
// validator from raw input; never mutated after acceptance.
type CaseRecord struct {
	CaseID             string          `json:"caseId"`
	Customer           CustomerProfile `json:"customer"`
	Transactions       []Transaction   `json:"transactions"`
	AlertReason        string          `json:"alertReason"`
	InvestigationNotes string          `json:"investigationNotes,omitempty"`
	AlertDate          string          `json:"alertDate,omitempty"`
	AssignedAnalyst    string          `json:"assignedAnalyst,omitempty"`
}

// CaseRequest is the wire shape for case submission. The validator turns it
// into a CaseRecord; `validate` tags drive the field-level error report.
type CaseRequest struct {
	CaseID             string               `json:"case_id" validate:"required"`
	Customer           CustomerRequest      `json:"customer" validate:"required"`
	Transactions       []TransactionRequest `json:"transactions" validate:"required,min=1,dive"`
	AlertReason        string               `json:"alert_reason" validate:"required"`
	InvestigationNotes string               `json:"investigation_notes"`
	AlertDate          string               `json:"alert_date"`
	AssignedAnalyst    string               `json:"assigned_analyst"`
}

// CustomerRequest is the wire shape for the customer profile.
type CustomerRequest struct {
	Name                  string  `json:"name" validate:"required"`
	AccountNumber         string  `json:"account_number" validate:"required"`
	KYCRiskRating         string  `json:"kyc_risk_rating" validate:"omitempty,oneof=High Medium Low"`
	Occupation            string  `json:"occupation"`
	AccountOpenDate       string  `json:"account_open_date"`
	ExpectedMonthlyVolume float64 `json:"expected_monthly_volume" validate:"gte=0"`
	DeclaredIncome        float64 `json:"declared_income" validate:"gte=0"`
	Address               string  `json:"address"`
	PANNumber             string  `json:"pan_number"`
}

// TransactionRequest is the wire shape for a single transaction.
type TransactionRequest struct {
	Date               string  `json:"date" validate:"required"`
	Amount             float64 `json:"amount" validate:"required"`
	Currency           string  `json:"currency" validate:"omitempty,len=3"`
	Type               string  `json:"type" validate:"required"`
	Originator         string  `json:"originator" validate:"required"`
	Beneficiary        string  `json:"beneficiary" validate:"required"`
	BeneficiaryCountry string  `json:"beneficiary_country" validate:"omitempty,len=2"`
	Description        string  `json:"description"`
}
