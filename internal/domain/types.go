// Package domain defines the shared record types and errors for backdp.
package domain

// RunStatus represents the lifecycle status of a solve run.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunSolved    RunStatus = "solved"
	RunSimulated RunStatus = "simulated"
	RunFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s RunStatus) IsTerminal() bool {
	return s == RunSimulated || s == RunFailed
}

// ParseRunStatus validates a stored status string.
func ParseRunStatus(v string) (RunStatus, error) {
	switch RunStatus(v) {
	case RunCreated, RunSolved, RunSimulated, RunFailed:
		return RunStatus(v), nil
	}
	return "", NewEngineError(ErrInvalidStatus.Code, ErrInvalidStatus.Message+": "+v)
}

// Run is the persisted header of one build/solve/simulate pipeline execution.
type Run struct {
	RunID         string    `json:"run_id"`
	Status        RunStatus `json:"status"`
	Gamma         float64   `json:"gamma"`
	TimeSteps     int       `json:"time_steps"`
	ParamsJSON    string    `json:"params_json"`
	OptimalValue  float64   `json:"optimal_value"`
	FailureReason string    `json:"failure_reason,omitempty"`
	StateVersion  int64     `json:"state_version"`
	LastEventSeq  int64     `json:"last_event_seq"`
	CreatedAtUnix int64     `json:"created_at_unix"`
	UpdatedAtUnix int64     `json:"updated_at_unix"`
}

// RunEvent represents an entry in a run's event log.
type RunEvent struct {
	ID          int64  `json:"id"`
	RunID       string `json:"run_id"`
	SeqNo       int64  `json:"seq_no"`
	EventType   string `json:"event_type"`
	PayloadJSON string `json:"payload_json"`
	CreatedAt   int64  `json:"created_at"`
}

// PolicyEntry is one stored (step, state) decision of a solved run.
// StateKey is the client's canonical string encoding of the state.
type PolicyEntry struct {
	RunID    string  `json:"run_id"`
	Step     int     `json:"step"`
	StateKey string  `json:"state_key"`
	Value    float64 `json:"value"`
	Action   int     `json:"action"`
}

// PerformanceRecord holds the summary statistics of a run's rollouts.
type PerformanceRecord struct {
	RunID        string    `json:"run_id"`
	Traces       int       `json:"traces"`
	OptimalValue float64   `json:"optimal_value"`
	TotalValue   float64   `json:"total_value"`
	Revenue      float64   `json:"revenue"`
	Markdown     float64   `json:"markdown"`
	Salvage      float64   `json:"salvage"`
	Remaining    []float64 `json:"remaining"`
	Actions      []float64 `json:"actions"`
	CreatedAt    int64     `json:"created_at"`
}
