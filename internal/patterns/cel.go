package patterns

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// CELRuleConfig is the rule shape carried in the rules configuration; it
// lives in domain so the config loader needs no dependency on this package.
type CELRuleConfig = domain.CELRule

// newCELEnv builds the evaluation environment with per-transaction
// variables.
func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("abs_amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("originator", cel.StringType),
		cel.Variable("beneficiary", cel.StringType),
		cel.Variable("beneficiary_country", cel.StringType),
		cel.Variable("description", cel.StringType),
	)
}

// CompileCELRule compiles the expression and wraps it as a registry Rule.
// Compilation failures surface at startup, never mid-run.
func CompileCELRule(cfg CELRuleConfig) (Rule, error) {
	if cfg.Expression == "" {
		return Rule{}, fmt.Errorf("cel rule %s: expression is required", cfg.ID)
	}

	env, err := newCELEnv()
	if err != nil {
		return Rule{}, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return Rule{}, fmt.Errorf("failed to compile cel rule %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return Rule{}, fmt.Errorf("cel rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to create program for cel rule %s: %w", cfg.ID, err)
	}

	minMatches := cfg.MinMatches
	if minMatches <= 0 {
		minMatches = 1
	}
	severity := cfg.Severity
	if severity == "" {
		severity = domain.SeverityMedium
	}
	evidence := cfg.Evidence
	if evidence == "" {
		evidence = "%d transactions matched " + string(cfg.ID)
	}
	countedEvidence := strings.Contains(evidence, "%d")

	return Rule{
		ID:       cfg.ID,
		Severity: severity,
		Weight:   cfg.Weight,
		Detect: func(c *domain.CaseRecord, _ domain.Statistics) (string, bool) {
			matches := 0
			for _, t := range c.Transactions {
				out, _, err := program.Eval(map[string]any{
					"amount":              t.Amount,
					"abs_amount":          math.Abs(t.Amount),
					"currency":            t.Currency,
					"tx_type":             t.Type,
					"originator":          t.Originator,
					"beneficiary":         t.Beneficiary,
					"beneficiary_country": t.BeneficiaryCountry,
					"description":         t.Description,
				})
				if err != nil {
					continue
				}
				if b, ok := out.(types.Bool); ok && bool(b) {
					matches++
				}
			}
			if matches < minMatches {
				return "", false
			}
			if countedEvidence {
				return fmt.Sprintf(evidence, matches), true
			}
			return evidence, true
		},
	}, nil
}

// CompileCELRules compiles a batch of configs, stopping at the first error.
func CompileCELRules(cfgs []CELRuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		r, err := CompileCELRule(cfg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
