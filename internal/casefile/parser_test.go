package casefile

import (
	"errors"
	"strings"
	"testing"

	"github.com/auditwatch/auditwatch/internal/domain"
)

func validRequest() *domain.CaseRequest {
	return &domain.CaseRequest{
		CaseID:      "CASE-2024-042",
		AlertReason: "  Cash deposits below reporting threshold  ",
		Customer: domain.CustomerRequest{
			Name:          " Anita Desai ",
			AccountNumber: "AC-55021",
		},
		Transactions: []domain.TransactionRequest{
			{Date: "2024-04-01", Amount: 912345, Type: "Cash Deposit", Originator: " Counter ", Beneficiary: "Anita Desai"},
			{Date: "05-04-2024", Amount: -250000, Currency: "INR", Type: "NEFT", Originator: "Anita Desai", Beneficiary: "Vendor", BeneficiaryCountry: " in "},
		},
	}
}

func fieldNames(err error) []string {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func hasField(err error, name string) bool {
	for _, f := range fieldNames(err) {
		if f == name {
			return true
		}
	}
	return false
}

func TestParseRequest(t *testing.T) {
	p := NewParser(false)

	rec, err := p.ParseRequest(validRequest())
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}

	if rec.CaseID != "CASE-2024-042" {
		t.Errorf("unexpected case id %q", rec.CaseID)
	}
	if rec.Customer.Name != "Anita Desai" {
		t.Errorf("expected trimmed name, got %q", rec.Customer.Name)
	}
	if rec.AlertReason != "Cash deposits below reporting threshold" {
		t.Errorf("expected trimmed alert reason, got %q", rec.AlertReason)
	}

	// Defaults applied where the request was silent.
	if rec.Customer.KYCRiskRating != domain.KYCRiskMedium {
		t.Errorf("expected default Medium rating, got %q", rec.Customer.KYCRiskRating)
	}
	if rec.AssignedAnalyst != "system" {
		t.Errorf("expected system analyst default, got %q", rec.AssignedAnalyst)
	}
	if rec.Transactions[0].Currency != "INR" {
		t.Errorf("expected INR currency default, got %q", rec.Transactions[0].Currency)
	}

	// Both date layouts parse to the real calendar day.
	if got := rec.Transactions[0].Date.Format("2006-01-02"); got != "2024-04-01" {
		t.Errorf("unexpected ISO date: %s", got)
	}
	if got := rec.Transactions[1].Date.Format("2006-01-02"); got != "2024-04-05" {
		t.Errorf("unexpected DD-MM-YYYY date: %s", got)
	}

	if rec.Transactions[1].BeneficiaryCountry != "IN" {
		t.Errorf("expected uppercased country, got %q", rec.Transactions[1].BeneficiaryCountry)
	}
	if rec.Transactions[0].Originator != "Counter" {
		t.Errorf("expected trimmed originator, got %q", rec.Transactions[0].Originator)
	}
}

func TestParseMalformedJSON(t *testing.T) {
	p := NewParser(false)

	_, err := p.Parse([]byte(`{"case_id": `))
	if !hasField(err, "(body)") {
		t.Fatalf("expected (body) validation error, got %v", err)
	}
}

func TestParseFieldErrors(t *testing.T) {
	p := NewParser(false)

	t.Run("missing required fields", func(t *testing.T) {
		_, err := p.Parse([]byte(`{"case_id":"CASE-1"}`))
		if err == nil {
			t.Fatal("expected validation error")
		}
		for _, want := range []string{"customer.name", "customer.account_number", "alert_reason", "transactions"} {
			if !hasField(err, want) {
				t.Errorf("expected error for %s, got %v", fieldNames(err), want)
			}
		}
	})

	t.Run("bad rating and country", func(t *testing.T) {
		req := validRequest()
		req.Customer.KYCRiskRating = "Extreme"
		req.Transactions[1].BeneficiaryCountry = "INDIA"
		_, err := p.ParseRequest(req)
		if !hasField(err, "customer.kyc_risk_rating") {
			t.Errorf("expected rating error, got %v", err)
		}
		if !hasField(err, "transactions[1].beneficiary_country") {
			t.Errorf("expected country length error, got %v", err)
		}
	})

	t.Run("bad date", func(t *testing.T) {
		req := validRequest()
		req.Transactions[0].Date = "April 1st"
		_, err := p.ParseRequest(req)
		if !hasField(err, "transactions[0].date") {
			t.Errorf("expected date error, got %v", err)
		}
	})

	t.Run("blank case id", func(t *testing.T) {
		req := validRequest()
		req.CaseID = "   "
		_, err := p.ParseRequest(req)
		if !hasField(err, "case_id") {
			t.Errorf("expected case_id error, got %v", err)
		}
	})
}

func TestAnonymize(t *testing.T) {
	p := NewParser(true)

	req := validRequest()
	req.Customer.Address = "12 Marine Drive, Mumbai"
	req.Customer.PANNumber = "ABCDE1234F"

	rec, err := p.ParseRequest(req)
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}

	if strings.Contains(rec.Customer.Name, "Anita") {
		t.Errorf("customer name not masked: %q", rec.Customer.Name)
	}
	if !strings.HasPrefix(rec.Customer.Name, "[NAME-") {
		t.Errorf("unexpected mask format: %q", rec.Customer.Name)
	}
	if !strings.HasPrefix(rec.Customer.AccountNumber, "[ACCT-") {
		t.Errorf("account number not masked: %q", rec.Customer.AccountNumber)
	}
	if !strings.HasPrefix(rec.Customer.Address, "[ADDR-") {
		t.Errorf("address not masked: %q", rec.Customer.Address)
	}
	if !strings.HasPrefix(rec.Customer.PANNumber, "[PAN-") {
		t.Errorf("PAN not masked: %q", rec.Customer.PANNumber)
	}
	for i, txn := range rec.Transactions {
		if !strings.HasPrefix(txn.Originator, "[ORIG-") || !strings.HasPrefix(txn.Beneficiary, "[BENF-") {
			t.Errorf("transaction %d counterparties not masked: %q -> %q", i, txn.Originator, txn.Beneficiary)
		}
	}

	// Amounts, dates and types survive masking untouched.
	if rec.Transactions[0].Amount != 912345 || rec.Transactions[0].Type != "Cash Deposit" {
		t.Errorf("transaction facts changed during anonymization: %+v", rec.Transactions[0])
	}
}

func TestAnonymizeValueStable(t *testing.T) {
	a := AnonymizeValue("Anita Desai", "NAME")
	b := AnonymizeValue("Anita Desai", "NAME")
	if a != b {
		t.Errorf("masking is not stable: %q vs %q", a, b)
	}
	if a == AnonymizeValue("Someone Else", "NAME") {
		t.Error("distinct values mapped to the same token")
	}
}
