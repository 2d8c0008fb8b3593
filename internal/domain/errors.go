package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the pipeline taxonomy.
var (
	// ErrInvalidCase means the pattern engine received a case that bypassed
	// the validator. Always a programming defect, never user-correctable.
	ErrInvalidCase = errors.New("invalid case record")

	// ErrDetectionDefect marks an internal invariant violation in a pure
	// stage. Fatal for the run; not reported as recoverable.
	ErrDetectionDefect = errors.New("detection defect")

	// ErrUnclassifiable is returned only when zero indicators fired and the
	// statistics are empty.
	ErrUnclassifiable = errors.New("case is unclassifiable")

	// ErrCollaboratorUnavailable means a best-effort external collaborator
	// timed out or failed; it triggers the documented fallback and is never
	// surfaced as a pipeline failure.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrUnregisteredCapability means no handler implements a capability.
	// Configuration defect, fatal at startup.
	ErrUnregisteredCapability = errors.New("unregistered capability")

	// ErrAmbiguousCapability means more than one handler claims a
	// capability. Configuration defect, fatal at startup.
	ErrAmbiguousCapability = errors.New("ambiguous capability")

	// ErrLedgerUnavailable means both the durable store and the in-memory
	// mirror rejected a write. No fallback remains; the run fails.
	ErrLedgerUnavailable = errors.New("audit ledger unavailable")
)

// FieldError is one schema violation in the case input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports case input violations as a list of field-level
// errors rather than a single opaque failure.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "case validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "case validation failed: " + strings.Join(parts, "; ")
}

// PipelineError is the typed failure returned when a run halts. It names
// the failed stage and carries the correlation id so that a reviewer can
// resume analysis from the audit trail.
type PipelineError struct {
	Stage         RunState
	CorrelationID string
	CaseID        string
	Err           error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s (case=%s correlation=%s): %v",
		e.Stage, e.CaseID, e.CorrelationID, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
