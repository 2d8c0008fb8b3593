package domain

import (
	"encoding/json"
	"time"
)

// Capability names a unit of pipeline work addressable independent of the
// stage implementing it. The router resolves a TaskMessage's capability to
// exactly one registered handler.
type Capability string

// Pipeline capabilities.
const (
	CapabilityValidateCase      Capability = "validate-case"
	CapabilityDetectPatterns    Capability = "detect-patterns"
	CapabilityClassifyTypology  Capability = "classify-typology"
	CapabilityRetrieveTemplates Capability = "retrieve-templates"
	CapabilityGenerateNarrative Capability = "generate-narrative"
)

// TaskMessage is one inter-stage message in task-dispatch mode. Consumed
// once; retained only in the run trace.
type TaskMessage struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlationId"`
	Sender        string          `json:"sender"`
	Receiver      string          `json:"receiver"`
	Capability    Capability      `json:"capability"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

// RunState is the pipeline state machine position for one run.
type RunState string

// Run states, in execution order. Failed is terminal and reachable from
// any non-terminal state.
const (
	RunCreated     RunState = "Created"
	RunValidating  RunState = "Validating"
	RunDetecting   RunState = "Detecting"
	RunClassifying RunState = "Classifying"
	RunRetrieving  RunState = "Retrieving"
	RunGenerating  RunState = "Generating"
	RunLogged      RunState = "Logged"
	RunCompleted   RunState = "Completed"
	RunFailed      RunState = "Failed"
)
