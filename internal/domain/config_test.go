package domain

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ledger.Driver != "sqlite" {
		t.Errorf("expected sqlite default driver, got %s", cfg.Ledger.Driver)
	}
	if len(cfg.Rules.CELRules) != 0 {
		t.Errorf("expected no CEL rules by default, got %d", len(cfg.Rules.CELRules))
	}
}

func TestLoadCELRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `rules:
  reporting_threshold: 900000
  cel_rules:
    - id: offshore-beneficiary
      severity: medium
      weight: 10
      expression: 'beneficiary_country == "KY"'
      min_matches: 2
      evidence: funds routed to an offshore beneficiary
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Rules.ReportingThreshold != 900000 {
		t.Errorf("expected overridden threshold 900000, got %v", cfg.Rules.ReportingThreshold)
	}
	if len(cfg.Rules.CELRules) != 1 {
		t.Fatalf("expected 1 CEL rule, got %d", len(cfg.Rules.CELRules))
	}
	rule := cfg.Rules.CELRules[0]
	if rule.ID != "offshore-beneficiary" {
		t.Errorf("unexpected rule ID %s", rule.ID)
	}
	if rule.Severity != SeverityMedium {
		t.Errorf("unexpected severity %s", rule.Severity)
	}
	if rule.MinMatches != 2 {
		t.Errorf("expected min_matches 2, got %d", rule.MinMatches)
	}
	if rule.Expression != `beneficiary_country == "KY"` {
		t.Errorf("unexpected expression %q", rule.Expression)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUDITWATCH_SQLITE_PATH", "/tmp/override.db")
	t.Setenv("AUDITWATCH_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ledger.SQLitePath != "/tmp/override.db" {
		t.Errorf("expected env sqlite path, got %s", cfg.Ledger.SQLitePath)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
}
