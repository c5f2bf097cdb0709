package ami430

import (
	"errors"
	"fmt"
	"net/http"
)

// Reasons an operation is refused before any ramp command is sent
var (
	ErrQuenched         = errors.New("magnet quench")
	ErrPersistentMode   = errors.New("magnet set to persistent mode")
	ErrManualRamp       = errors.New("magnet set to manual ramp")
	ErrRampingToZero    = errors.New("magnet is ramping to zero")
	ErrSwitchTransition = errors.New("persistent switch being heated or cooled")
	ErrSwitchOff        = errors.New("already ramping with switch heater off")
	ErrUnknownState     = errors.New("invalid ramp state received")
	ErrNotIdle          = errors.New("magnet is not idle")
	ErrOutOfRange       = errors.New("value out of range")
	ErrNoSwitch         = errors.New("no persistent switch present")
	ErrVectorLimit      = errors.New("vector field limit exceeded")
	ErrWrongMode        = errors.New("not available in this mode")
	ErrOffsetDisabled   = errors.New("offset mode is not enabled")
	ErrNoAxis           = errors.New("no such axis")
)

// PreconditionError is returned when an operation is refused.
// Nothing was sent to the supply.
type PreconditionError struct {
	// Op is the operation that was attempted, e.g. "set field"
	Op string

	// Value is the argument of the operation
	Value interface{}

	// Err is one of the Err* reasons, possibly wrapped with detail
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %v failed: %v", e.Op, e.Value, e.Err)
}

// Unwrap returns the reason
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// StatusCode is 400 for out of range arguments and 409 for everything else
func (e *PreconditionError) StatusCode() int {
	if errors.Is(e.Err, ErrOutOfRange) {
		return http.StatusBadRequest
	}
	return http.StatusConflict
}

// RampError is returned when a ramp ran but did not end in the expected state
type RampError struct {
	Op    string
	Value float64
	State RampState
}

func (e *RampError) Error() string {
	return fmt.Sprintf("%s %g ended with %s (%d)", e.Op, e.Value, e.State, int(e.State))
}

// IsPrecondition reports whether err is a refusal rather than a failure
// of the hardware or the link to it
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
