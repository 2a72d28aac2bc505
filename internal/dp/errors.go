package dp

import (
	"fmt"
	"strings"

	"github.com/rogersf/backdp/internal/domain"
)

// NoStep marks an Error raised outside of a solve, e.g. while building a Table.
const NoStep = -1

// Error locates a model or solver failure. Err is one of the domain
// sentinels, so errors.Is(err, domain.ErrDanglingTransition) matches.
type Error struct {
	Err    *domain.EngineError
	Step   int
	State  any
	Action any
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Step != NoStep {
		fmt.Fprintf(&b, " at step %d", e.Step)
	}
	if e.State != nil {
		fmt.Fprintf(&b, " state=%v", e.State)
	}
	if e.Action != nil {
		fmt.Fprintf(&b, " action=%v", e.Action)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap returns the sentinel so errors.Is and errors.As see through the locator.
func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the numeric code of the underlying sentinel.
func (e *Error) Code() int {
	return e.Err.Code
}

func newError(sentinel *domain.EngineError, step int, state, action any, format string, args ...any) *Error {
	return &Error{
		Err:    sentinel,
		Step:   step,
		State:  state,
		Action: action,
		Detail: fmt.Sprintf(format, args...),
	}
}
