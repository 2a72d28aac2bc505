package domain

import "fmt"

// EngineError is the unified error type for backdp.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Run lifecycle errors (-32010 to -32039) ----

var (
	ErrInvalidTransition = &EngineError{Code: -32010, Message: "invalid run status transition"}
	ErrRunNotFound       = &EngineError{Code: -32012, Message: "run not found"}
	ErrRunAlreadyDone    = &EngineError{Code: -32013, Message: "run already finished"}
	ErrOptimisticLock    = &EngineError{Code: -32015, Message: "optimistic lock conflict: run was modified concurrently"}
	ErrInvalidStatus     = &EngineError{Code: -32016, Message: "invalid run status value"}
	ErrDuplicateRun      = &EngineError{Code: -32019, Message: "run already exists"}
)

// ---- Admission errors (-32060 to -32089) ----

var (
	ErrRateLimitExceeded = &EngineError{Code: -32060, Message: "rate limit exceeded"}
	ErrRunLimitReached   = &EngineError{Code: -32061, Message: "too many runs in progress"}
	ErrModelTooLarge     = &EngineError{Code: -32062, Message: "model exceeds the configured state limit"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
	ErrDuplicateEvent  = &EngineError{Code: -32137, Message: "duplicate event sequence number"}
)

// ---- Model / Solver errors (-32200 to -32229) ----

var (
	ErrInvalidDistribution = &EngineError{Code: -32200, Message: "malformed model: invalid transition distribution"}
	ErrDanglingTransition  = &EngineError{Code: -32201, Message: "dangling transition: next state has no value at the following step"}
	ErrInfeasibleState     = &EngineError{Code: -32202, Message: "infeasible state: no legal actions"}
	ErrShapeMismatch       = &EngineError{Code: -32203, Message: "shape mismatch"}
	ErrStepOutOfRange      = &EngineError{Code: -32204, Message: "time step out of range"}
	ErrStateNotFound       = &EngineError{Code: -32205, Message: "state not found at time step"}
)

// ---- Client errors (-32230 to -32259) ----

var (
	ErrInvalidParams  = &EngineError{Code: -32230, Message: "invalid model parameters"}
	ErrPolicyNotFound = &EngineError{Code: -32231, Message: "no stored decision for step and state"}
	ErrSimulation     = &EngineError{Code: -32232, Message: "simulation failed"}
)
