package ami430

import (
	"fmt"
	"strings"
)

// RampState is the ramping state reported by STATE?
type RampState int

const (
	// Ramping means the supply is ramping to the programmed target
	Ramping RampState = iota + 1

	// Holding means the target has been reached and is held
	Holding

	// Paused means ramping is paused, the output is held where it stopped
	Paused

	// ManualUp means the front panel ramp-up key is pressed
	ManualUp

	// ManualDown means the front panel ramp-down key is pressed
	ManualDown

	// RampingToZero means a ZERO command is being executed
	RampingToZero

	// QuenchDetected means the supply detected a quench and dumped the current
	QuenchDetected

	// AtZero means the output reached zero after a ZERO command
	AtZero

	// HeatingSwitch means the persistent switch heater is warming up
	HeatingSwitch

	// CoolingSwitch means the persistent switch heater is cooling down
	CoolingSwitch
)

var rampStateNames = map[RampState]string{
	Ramping:        "Ramping",
	Holding:        "Holding",
	Paused:         "Paused",
	ManualUp:       "Manual up",
	ManualDown:     "Manual down",
	RampingToZero:  "Ramping to zero",
	QuenchDetected: "Quench detected",
	AtZero:         "At zero",
	HeatingSwitch:  "Heating switch",
	CoolingSwitch:  "Cooling switch",
}

func (s RampState) String() string {
	if n, ok := rampStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("RampState(%d)", int(s))
}

// Idle is true for the states in which the supply accepts a new ramp
// without any qualification
func (s RampState) Idle() bool {
	return s == Holding || s == Paused || s == AtZero
}

// AxisName names one solenoid of a vector magnet
type AxisName string

const (
	// X is the first in-plane axis
	X AxisName = "X"

	// Y is the second in-plane axis
	Y AxisName = "Y"

	// Z is the axis the polar angle phi is measured from
	Z AxisName = "Z"
)

// ParseAxisName converts "x", "Y", ... to an AxisName
func ParseAxisName(s string) (AxisName, error) {
	switch a := AxisName(strings.ToUpper(strings.TrimSpace(s))); a {
	case X, Y, Z:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNoAxis, s)
}
