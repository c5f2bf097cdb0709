package ami430

import (
	"log"
	"math"
	"os"
	"sync"

	"go.uber.org/multierr"

	"github.com/magnetlab/golab/util"
)

// Axis is one solenoid of a vector magnet.  *Magnet is the implementation
// used with hardware.
type Axis interface {
	Name() string
	Config() AxisConfig
	Field() (float64, error)
	SetField(float64) error
	RampTo(float64) error
	SetPoint() (float64, error)
	RampRate() (float64, error)
	SetRampRate(float64) error
	RampState() (RampState, error)
	PSwitch() (bool, error)
	SetPSwitch(bool) error
	Persistent() (bool, error)
	SetPersistent(bool) error
	Quench() (bool, error)
	ResetQuench() error
	Error() (string, error)
	Status() (AxisState, error)
}

// Access is the access a parameter allows
type Access string

const (
	// Get parameters are read only
	Get Access = "get"

	// GetSet parameters may be read and written
	GetSet Access = "get-set"
)

// Parameter describes one quantity exposed in the active mode
type Parameter struct {
	Name   string        `json:"name"`
	Unit   string        `json:"unit,omitempty"`
	Access Access        `json:"access"`
	Bounds *util.Limiter `json:"bounds,omitempty"`
}

// angleLimits are the bounds of every angle
var angleLimits = util.Limiter{Min: -180, Max: 180}

// angleOK checks an azimuth.  180 is excluded since it is -180.
func angleOK(deg float64) bool {
	return deg >= angleLimits.Min && deg < angleLimits.Max
}

// phiOK checks a polar angle, both bounds included
func phiOK(deg float64) bool {
	return angleLimits.Check(deg)
}

// VectorState is a snapshot of a vector magnet
type VectorState struct {
	Mode          Mode        `json:"mode"`
	Field         float64     `json:"field"`
	Alpha         float64     `json:"alpha"`
	Phi           float64     `json:"phi"`
	OffsetEnabled bool        `json:"offsetEnabled"`
	OffsetField   float64     `json:"offsetField"`
	OffsetAlpha   float64     `json:"offsetAlpha"`
	OffsetPhi     float64     `json:"offsetPhi"`
	TotalField    float64     `json:"totalField"`
	TotalAlpha    float64     `json:"totalAlpha"`
	TotalPhi      float64     `json:"totalPhi"`
	Axes          []AxisState `json:"axes"`
}

// coordinator holds the axes of a vector magnet and the active mode.
// It provides the per-axis operations, gated by mode, to Vector2D and Vector3D.
type coordinator struct {
	name  string
	order []AxisName
	axes  map[AxisName]Axis
	log   *log.Logger

	// op serializes operations that ramp
	op sync.Mutex

	// mu guards surf and the vector state of the embedding type
	mu   sync.Mutex
	surf surface
}

func (c *coordinator) init(name string, axes map[AxisName]Axis, order []AxisName, s surface) {
	c.name = name
	c.order = order
	c.axes = axes
	c.log = log.New(os.Stderr, "ami430 "+name+": ", log.LstdFlags)
	c.surf = s
}

// Name returns the name of the vector magnet
func (c *coordinator) Name() string {
	return c.name
}

// SetLogger replaces the logger
func (c *coordinator) SetLogger(l *log.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = l
}

// Axes returns the axes, in order
func (c *coordinator) Axes() []Axis {
	out := make([]Axis, 0, len(c.order))
	for _, a := range c.order {
		out = append(out, c.axes[a])
	}
	return out
}

// Mode returns the active mode
func (c *coordinator) Mode() Mode {
	return c.surface().mode()
}

func (c *coordinator) surface() surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surf
}

func (c *coordinator) logger() *log.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *coordinator) refuse(op string, v interface{}, reason error) error {
	err := &PreconditionError{Op: op, Value: v, Err: reason}
	c.logger().Println(err)
	return err
}

func (c *coordinator) axis(a AxisName) (Axis, bool) {
	ax, ok := c.axes[a]
	return ax, ok
}

// directAxis returns the axis if the active mode gives direct access to it
func (c *coordinator) directAxis(op string, a AxisName, v interface{}) (Axis, error) {
	ax, ok := c.axis(a)
	if !ok {
		return nil, c.refuse(op+string(a), v, ErrNoAxis)
	}
	if s := c.surface(); !s.direct(a) {
		return nil, c.refuse(op+string(a), v, ErrWrongMode)
	}
	return ax, nil
}

// monitoredAxis returns the axis if the active mode allows reading it
func (c *coordinator) monitoredAxis(op string, a AxisName, v interface{}) (Axis, error) {
	ax, ok := c.axis(a)
	if !ok {
		return nil, c.refuse(op+string(a), v, ErrNoAxis)
	}
	if s := c.surface(); !s.monitored(a) {
		return nil, c.refuse(op+string(a), v, ErrWrongMode)
	}
	return ax, nil
}

// AxisField returns the field of one axis
func (c *coordinator) AxisField(a AxisName) (float64, error) {
	ax, err := c.monitoredAxis("get field", a, "")
	if err != nil {
		return 0, err
	}
	return ax.Field()
}

// SetAxisField ramps one axis, blocking; only in RAW or that axis' mode
func (c *coordinator) SetAxisField(a AxisName, v float64) error {
	c.op.Lock()
	defer c.op.Unlock()
	ax, err := c.directAxis("set field", a, v)
	if err != nil {
		return err
	}
	return ax.SetField(v)
}

// RampToAxis starts a ramp of one axis without waiting for it
func (c *coordinator) RampToAxis(a AxisName, v float64) error {
	c.op.Lock()
	defer c.op.Unlock()
	ax, err := c.directAxis("ramp to", a, v)
	if err != nil {
		return err
	}
	return ax.RampTo(v)
}

// AxisSetPoint returns the programmed target of one axis
func (c *coordinator) AxisSetPoint(a AxisName) (float64, error) {
	ax, err := c.directAxis("get set point", a, "")
	if err != nil {
		return 0, err
	}
	return ax.SetPoint()
}

// AxisRampRate returns the ramp rate of one axis
func (c *coordinator) AxisRampRate(a AxisName) (float64, error) {
	ax, err := c.monitoredAxis("get ramp rate", a, "")
	if err != nil {
		return 0, err
	}
	return ax.RampRate()
}

// SetAxisRampRate sets the ramp rate of one axis
func (c *coordinator) SetAxisRampRate(a AxisName, v float64) error {
	ax, err := c.monitoredAxis("set ramp rate", a, v)
	if err != nil {
		return err
	}
	return ax.SetRampRate(v)
}

// AxisRampState returns the ramp state of one axis
func (c *coordinator) AxisRampState(a AxisName) (RampState, error) {
	ax, err := c.monitoredAxis("get ramp state", a, "")
	if err != nil {
		return 0, err
	}
	return ax.RampState()
}

// AxisPSwitch returns the switch heater state of one axis
func (c *coordinator) AxisPSwitch(a AxisName) (bool, error) {
	ax, err := c.directAxis("get persistent switch", a, "")
	if err != nil {
		return false, err
	}
	return ax.PSwitch()
}

// SetAxisPSwitch turns the switch heater of one axis on or off
func (c *coordinator) SetAxisPSwitch(a AxisName, on bool) error {
	c.op.Lock()
	defer c.op.Unlock()
	ax, err := c.directAxis("set persistent switch", a, on)
	if err != nil {
		return err
	}
	return ax.SetPSwitch(on)
}

// AxisPersistent returns true if one axis is in persistent mode
func (c *coordinator) AxisPersistent(a AxisName) (bool, error) {
	ax, err := c.directAxis("get persistent", a, "")
	if err != nil {
		return false, err
	}
	return ax.Persistent()
}

// SetAxisPersistent moves one axis into or out of persistent mode
func (c *coordinator) SetAxisPersistent(a AxisName, on bool) error {
	c.op.Lock()
	defer c.op.Unlock()
	ax, err := c.directAxis("set persistent", a, on)
	if err != nil {
		return err
	}
	return ax.SetPersistent(on)
}

// AxisQuench returns the quench flag of one axis
func (c *coordinator) AxisQuench(a AxisName) (bool, error) {
	ax, err := c.monitoredAxis("get quench", a, "")
	if err != nil {
		return false, err
	}
	return ax.Quench()
}

// AxisError pops an error from the queue of one axis
func (c *coordinator) AxisError(a AxisName) (string, error) {
	ax, err := c.monitoredAxis("get error", a, "")
	if err != nil {
		return "", err
	}
	return ax.Error()
}

// ResetQuench clears the quench of one axis, and only that axis.
// There are no safety checks.
func (c *coordinator) ResetQuench(a AxisName) error {
	ax, err := c.monitoredAxis("reset quench", a, "")
	if err != nil {
		return err
	}
	return ax.ResetQuench()
}

// ResetQuenchX clears the quench of X
func (c *coordinator) ResetQuenchX() error {
	return c.ResetQuench(X)
}

// ResetQuenchY clears the quench of Y
func (c *coordinator) ResetQuenchY() error {
	return c.ResetQuench(Y)
}

// switchMode ramps every axis to zero and turns every switch heater off,
// then installs s.  reset is called with mu held to clear the vector state.
// If anything failed the mode is left unchanged.
func (c *coordinator) switchMode(s surface, reset func()) error {
	var errs error
	for _, a := range c.order {
		errs = multierr.Append(errs, c.axes[a].SetField(0))
	}
	for _, a := range c.order {
		if c.axes[a].Config().SwitchPresent {
			errs = multierr.Append(errs, c.axes[a].SetPSwitch(false))
		}
	}
	if errs != nil {
		c.logger().Printf("switch to mode %s failed, mode is still %s: %v", s.mode(), c.Mode(), errs)
		return errs
	}
	c.mu.Lock()
	c.surf = s
	reset()
	c.mu.Unlock()
	c.logger().Println("mode is now", s.mode())
	return nil
}

// requireVector returns the surface if it carries a vector
func (c *coordinator) requireVector(op string, v interface{}) (surface, error) {
	s := c.surface()
	if !isVector(s) {
		return nil, c.refuse(op, v, ErrWrongMode)
	}
	return s, nil
}

// checkLimit refuses vectors whose magnitude is not strictly below rating
func (c *coordinator) checkLimit(op string, v float64, rating float64, comps ...float64) error {
	sum := 0.
	for _, f := range comps {
		sum += f * f
	}
	if mag := math.Sqrt(sum); !(mag < rating) {
		return c.refuse(op, v, ErrVectorLimit)
	}
	return nil
}

// sweep2 ramps first and second to tf and ts.  The axis whose magnitude
// decreases goes first, so the vector sum stays below the larger of its start
// and end magnitude throughout.
func (c *coordinator) sweep2(first, second AxisName, tf, ts float64) error {
	cur, err := c.axes[first].Field()
	if err != nil {
		return err
	}
	if math.Abs(tf) < math.Abs(cur) {
		if err := c.axes[first].SetField(tf); err != nil {
			return err
		}
		return c.axes[second].SetField(ts)
	}
	if err := c.axes[second].SetField(ts); err != nil {
		return err
	}
	return c.axes[first].SetField(tf)
}

// sweep3 ramps X, Y and Z.  Z goes first if its magnitude decreases, else
// last.  X and Y are not ordered relative to each other.
func (c *coordinator) sweep3(x, y, z float64) error {
	cur, err := c.axes[Z].Field()
	if err != nil {
		return err
	}
	steps := []struct {
		a AxisName
		f float64
	}{{X, x}, {Y, y}, {Z, z}}
	if math.Abs(z) < math.Abs(cur) {
		steps = append(steps[2:], steps[:2]...)
	}
	for _, s := range steps {
		if err := c.axes[s.a].SetField(s.f); err != nil {
			return err
		}
	}
	return nil
}

// readAll reads the field of the given axes, in order
func (c *coordinator) readAll(axes ...AxisName) ([]float64, error) {
	out := make([]float64, len(axes))
	for i, a := range axes {
		f, err := c.axes[a].Field()
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// axisParameters lists the per-axis parameters of s
func (c *coordinator) axisParameters(s surface) []Parameter {
	var out []Parameter
	for _, a := range c.order {
		cfg := c.axes[a].Config()
		n := string(a)
		if s.direct(a) {
			fl := cfg.FieldLimits()
			out = append(out,
				Parameter{Name: "field" + n, Unit: "T", Access: GetSet, Bounds: &fl},
				Parameter{Name: "setPoint" + n, Unit: "T", Access: Get})
			if cfg.SwitchPresent {
				out = append(out,
					Parameter{Name: "pSwitch" + n, Access: GetSet},
					Parameter{Name: "persistent" + n, Access: GetSet})
			}
		} else if s.monitored(a) {
			out = append(out, Parameter{Name: "field" + n, Unit: "T", Access: Get})
		}
		if s.monitored(a) {
			rl := cfg.RampRateLimits()
			out = append(out,
				Parameter{Name: "rampRate" + n, Unit: "T/s", Access: GetSet, Bounds: &rl},
				Parameter{Name: "rampState" + n, Access: Get},
				Parameter{Name: "quench" + n, Access: Get},
				Parameter{Name: "error" + n, Access: Get})
		}
	}
	return out
}

// vectorParameters lists the vector parameters of s
func vectorParameters(s surface, rating float64, offsetEnabled bool) []Parameter {
	if !isVector(s) {
		return nil
	}
	al := angleLimits
	fl := util.Limiter{Min: 0, Max: rating}
	out := []Parameter{{Name: "field", Unit: "T", Access: GetSet, Bounds: &fl}}
	if s.hasAlpha() {
		out = append(out, Parameter{Name: "alpha", Unit: "degree", Access: GetSet, Bounds: &al})
	}
	if s.hasPhi() {
		out = append(out, Parameter{Name: "phi", Unit: "degree", Access: GetSet, Bounds: &al})
	}
	if s.hasOffset() {
		out = append(out, Parameter{Name: "offsetEnabled", Access: GetSet})
		if offsetEnabled {
			out = append(out, Parameter{Name: "offsetField", Unit: "T", Access: GetSet, Bounds: &fl})
			if s.hasAlpha() {
				out = append(out, Parameter{Name: "offsetAlpha", Unit: "degree", Access: GetSet, Bounds: &al})
			}
			if s.hasPhi() {
				out = append(out, Parameter{Name: "offsetPhi", Unit: "degree", Access: GetSet, Bounds: &al})
			}
		}
	}
	if !s.hasOffset() {
		return out
	}
	out = append(out, Parameter{Name: "totalField", Unit: "T", Access: Get})
	if s.hasAlpha() {
		out = append(out, Parameter{Name: "totalAlpha", Unit: "degree", Access: Get})
	}
	if s.hasPhi() {
		out = append(out, Parameter{Name: "totalPhi", Unit: "degree", Access: Get})
	}
	return out
}

// axisStatus gathers the status of every axis
func (c *coordinator) axisStatus() ([]AxisState, error) {
	var errs error
	out := make([]AxisState, 0, len(c.order))
	for _, a := range c.order {
		st, err := c.axes[a].Status()
		errs = multierr.Append(errs, err)
		out = append(out, st)
	}
	return out, errs
}
