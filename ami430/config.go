package ami430

import (
	"time"

	"github.com/tarm/serial"

	"github.com/magnetlab/golab/util"
)

// AxisConfig holds the ratings of one solenoid and its persistent switch.
// Set these in accordance with the limits of the magnet, otherwise a quench
// or damage to the equipment may occur.
type AxisConfig struct {
	// CoilConstant is the ratio between field and current, T/A
	CoilConstant float64 `yaml:"CoilConstant"`

	// CurrentRating is the rated operating current, A.
	// If the magnet quenches regularly, reduce it.
	CurrentRating float64 `yaml:"CurrentRating"`

	// CurrentRampLimit is the maximum ramp rate from the datasheet, A/s
	CurrentRampLimit float64 `yaml:"CurrentRampLimit"`

	// SwitchPresent is true if the magnet has a persistent switch
	SwitchPresent bool `yaml:"SwitchPresent"`

	// SwitchCurrent is the switch heater current, mA.
	// Typically ~50 mA for wet systems and ~30 mA for dry ones.
	SwitchCurrent float64 `yaml:"SwitchCurrent"`

	// SwitchHeatTime and SwitchCoolTime are the heater timings, s
	SwitchHeatTime float64 `yaml:"SwitchHeatTime"`
	SwitchCoolTime float64 `yaml:"SwitchCoolTime"`
}

// FieldRating is the rated field, CoilConstant × CurrentRating
func (c AxisConfig) FieldRating() float64 {
	return c.CoilConstant * c.CurrentRating
}

// FieldRampLimit is the maximum field ramp rate, CoilConstant × CurrentRampLimit
func (c AxisConfig) FieldRampLimit() float64 {
	return c.CoilConstant * c.CurrentRampLimit
}

// FieldLimits returns ±FieldRating
func (c AxisConfig) FieldLimits() util.Limiter {
	r := c.FieldRating()
	return util.Limiter{Min: -r, Max: r}
}

// RampRateLimits returns [0, FieldRampLimit]
func (c AxisConfig) RampRateLimits() util.Limiter {
	return util.Limiter{Min: 0, Max: c.FieldRampLimit()}
}

// DefaultAxisConfig is a 9 T solenoid with a persistent switch
func DefaultAxisConfig() AxisConfig {
	return AxisConfig{
		CoilConstant:     0.1107,
		CurrentRating:    81.33,
		CurrentRampLimit: 0.08,
		SwitchPresent:    true,
		SwitchCurrent:    50,
		SwitchHeatTime:   20,
		SwitchCoolTime:   20,
	}
}

// DefaultVectorConfigs returns the X, Y, Z solenoids of a 1-1-9 T vector magnet
func DefaultVectorConfigs() map[AxisName]AxisConfig {
	x := DefaultAxisConfig()
	x.CoilConstant = 0.0146
	x.CurrentRating = 68.53
	x.CurrentRampLimit = 0.2

	y := DefaultAxisConfig()
	y.CoilConstant = 0.0426
	y.CurrentRating = 70.45
	y.CurrentRampLimit = 0.05

	return map[AxisName]AxisConfig{X: x, Y: y, Z: DefaultAxisConfig()}
}

// VectorRatings are the caps on the vector sum in each multi-axis mode, T.
// They are usually tighter than the single axis ratings.
type VectorRatings struct {
	XY  float64 `yaml:"XY"`
	XZ  float64 `yaml:"XZ"`
	YZ  float64 `yaml:"YZ"`
	XYZ float64 `yaml:"XYZ"`
}

// DefaultVectorRatings returns 1 T everywhere except the YZ plane, 3 T
func DefaultVectorRatings() VectorRatings {
	return VectorRatings{XY: 1, XZ: 1, YZ: 3, XYZ: 1}
}

// Timing holds the delays used when talking to a supply
type Timing struct {
	// CommandDelay is the minimum spacing between two commands;
	// the supply firmware drops commands that arrive too fast
	CommandDelay time.Duration

	// RampStart is waited after RAMP or ZERO before polling begins
	RampStart time.Duration

	// PollInterval is the spacing of STATE? polls
	PollInterval time.Duration

	// Settle is waited after a ramp ends, for the field to settle
	Settle time.Duration

	// SwitchStart is waited after PS before polling begins
	SwitchStart time.Duration
}

// DefaultTiming returns the delays for real hardware
func DefaultTiming() Timing {
	return Timing{
		CommandDelay: 300 * time.Millisecond,
		RampStart:    500 * time.Millisecond,
		PollInterval: 300 * time.Millisecond,
		Settle:       2 * time.Second,
		SwitchStart:  500 * time.Millisecond,
	}
}

// FastTiming returns near-zero delays for simulated supplies
func FastTiming() Timing {
	return Timing{PollInterval: time.Millisecond}
}

// SerialConf makes a new serial.Config with the supply's RS-232 settings
func SerialConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 2 * time.Second}
}
