// Package patterns computes transaction statistics and evaluates the
// indicator-rule battery against a case.
package patterns

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// DetectFunc decides whether one indicator fires for a case. Pure: no I/O,
// no shared state, identical input always yields the identical outcome.
// The evidence string is the human-readable summary stored on the finding.
type DetectFunc func(c *domain.CaseRecord, s domain.Statistics) (evidence string, fired bool)

// Rule is one data-described indicator entry in the registry. Adding a
// rule never touches another rule's code.
type Rule struct {
	ID       domain.IndicatorID
	Severity domain.Severity
	Weight   float64
	Detect   DetectFunc
}

// Engine evaluates the registered rule battery. Rules are held in
// registration order so repeated evaluation is byte-for-byte reproducible.
type Engine struct {
	mu    sync.RWMutex
	rules map[domain.IndicatorID]Rule
	order []domain.IndicatorID
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{rules: make(map[domain.IndicatorID]Rule)}
}

// Register adds a rule. An indicator id may be registered at most once.
func (e *Engine) Register(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Detect == nil {
		return fmt.Errorf("rule %s: detect function is required", r.ID)
	}
	if r.Weight <= 0 {
		return fmt.Errorf("rule %s: weight must be positive", r.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[r.ID]; exists {
		return fmt.Errorf("rule %s already registered", r.ID)
	}
	e.rules[r.ID] = r
	e.order = append(e.order, r.ID)
	return nil
}

// RegisterAll adds a batch of rules, stopping at the first failure.
func (e *Engine) RegisterAll(rules []Rule) error {
	for _, r := range rules {
		if err := e.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops a rule from the battery.
func (e *Engine) Remove(id domain.IndicatorID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return
	}
	delete(e.rules, id)
	for i, o := range e.order {
		if o == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// RuleCount returns the number of registered rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluate computes statistics and runs the battery. It never fails on a
// well-formed case; the invalid-case check only catches records that
// bypassed the validator.
func (e *Engine) Evaluate(c *domain.CaseRecord) (domain.Statistics, []domain.IndicatorFinding, error) {
	if c == nil || c.CaseID == "" || c.Customer.AccountNumber == "" {
		return domain.Statistics{}, nil, fmt.Errorf("%w: case bypassed validation", domain.ErrInvalidCase)
	}

	stats := ComputeStatistics(c.Transactions)

	e.mu.RLock()
	order := make([]domain.IndicatorID, len(e.order))
	copy(order, e.order)
	rules := make(map[domain.IndicatorID]Rule, len(e.rules))
	for id, r := range e.rules {
		rules[id] = r
	}
	e.mu.RUnlock()

	var findings []domain.IndicatorFinding
	for _, id := range order {
		r := rules[id]
		evidence, fired := r.Detect(c, stats)
		if !fired {
			continue
		}
		findings = append(findings, domain.IndicatorFinding{
			Indicator: r.ID,
			Severity:  r.Severity,
			Evidence:  evidence,
			Weight:    r.Weight,
		})
	}

	slog.Debug("evaluated indicator battery",
		"case_id", c.CaseID,
		"rules", len(order),
		"findings", len(findings),
	)

	return stats, findings, nil
}
