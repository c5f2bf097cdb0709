package ami430

import (
	"math"

	"go.uber.org/multierr"

	"github.com/magnetlab/golab/mathx"
)

// planar is the soft state of a 2D vector
type planar struct {
	field, alpha  float64
	offsetEnabled bool
	offsetField   float64
	offsetAlpha   float64
}

// target is the physical field the supplies must produce for p
func (p planar) target() (x, y float64) {
	x, y = mathx.Polar(p.field, p.alpha)
	if p.offsetEnabled {
		ox, oy := mathx.Polar(p.offsetField, p.offsetAlpha)
		x, y = x+ox, y+oy
	}
	return
}

// Vector2D is a field in the XY plane made by two magnets.  In ModeXY the
// field is given by its amplitude and the angle alpha from X; the other modes
// give access to the axes themselves.
//
// Every vector ramp keeps the magnitude of the field strictly below the
// rating, both at the target and while the axes ramp one after the other.
type Vector2D struct {
	coordinator
	rating float64

	// guarded by mu
	st planar
}

// NewVector2D creates a 2D vector magnet.  rating is the largest vector field
// the pair tolerates.  The magnet starts in mode without ramping anything.
func NewVector2D(name string, x, y Axis, rating float64, mode Mode) (*Vector2D, error) {
	s, ok := surface2D(mode)
	if !ok {
		return nil, &PreconditionError{Op: "create " + name, Value: mode, Err: ErrWrongMode}
	}
	v := &Vector2D{rating: rating}
	v.init(name, map[AxisName]Axis{X: x, Y: y}, []AxisName{X, Y}, s)
	return v, nil
}

// Rating returns the largest vector field allowed
func (v *Vector2D) Rating() float64 {
	return v.rating
}

func (v *Vector2D) state() planar {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st
}

// SetMode switches to m.  Both axes are ramped to zero and their switch
// heaters turned off first; if that fails the mode is left as it was.
func (v *Vector2D) SetMode(m Mode) error {
	s, ok := surface2D(m)
	if !ok {
		return v.refuse("set mode", m, ErrWrongMode)
	}
	v.op.Lock()
	defer v.op.Unlock()
	if v.Mode() == m {
		return nil
	}
	return v.switchMode(s, func() { v.st = planar{} })
}

// read returns the present X and Y fields
func (v *Vector2D) read() (float64, float64, error) {
	f, err := v.readAll(X, Y)
	if err != nil {
		return 0, 0, err
	}
	return f[0], f[1], nil
}

// apply ramps to the field of next and makes it the new state
func (v *Vector2D) apply(op string, value float64, next planar) error {
	x, y := next.target()
	if err := v.checkLimit(op, value, v.rating, x, y); err != nil {
		return err
	}
	if err := v.sweep2(X, Y, x, y); err != nil {
		return err
	}
	v.mu.Lock()
	v.st = next
	v.mu.Unlock()
	return nil
}

// Field returns the amplitude of the field.  With offset mode enabled this
// is the amplitude set last, excluding the offset.
func (v *Vector2D) Field() (float64, error) {
	if _, err := v.requireVector("get field", ""); err != nil {
		return 0, err
	}
	st := v.state()
	if st.offsetEnabled {
		return st.field, nil
	}
	x, y, err := v.read()
	if err != nil {
		return 0, err
	}
	return math.Hypot(x, y), nil
}

// SetField ramps to amplitude b at the present alpha
func (v *Vector2D) SetField(b float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	if _, err := v.requireVector("set field", b); err != nil {
		return err
	}
	if b < 0 || b > v.rating {
		return v.refuse("set field", b, ErrOutOfRange)
	}
	next := v.state()
	next.field = b
	return v.apply("set field", b, next)
}

// Alpha returns the angle of the field from X, degrees
func (v *Vector2D) Alpha() (float64, error) {
	if _, err := v.requireVector("get alpha", ""); err != nil {
		return 0, err
	}
	return v.state().alpha, nil
}

// SetAlpha turns the field to alpha degrees from X, keeping its amplitude
func (v *Vector2D) SetAlpha(alpha float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	if _, err := v.requireVector("set alpha", alpha); err != nil {
		return err
	}
	if !angleOK(alpha) {
		return v.refuse("set alpha", alpha, ErrOutOfRange)
	}
	next := v.state()
	if !next.offsetEnabled {
		x, y, err := v.read()
		if err != nil {
			return err
		}
		next.field = math.Hypot(x, y)
	}
	next.alpha = alpha
	return v.apply("set alpha", alpha, next)
}

// OffsetEnabled returns true if offset mode is enabled
func (v *Vector2D) OffsetEnabled() (bool, error) {
	if _, err := v.requireVector("get offset enabled", ""); err != nil {
		return false, err
	}
	return v.state().offsetEnabled, nil
}

// SetOffsetEnabled turns offset mode on or off.  In offset mode a static
// offset vector, set with SetOffsetField and SetOffsetAlpha, is added to the
// field.  Enabling starts from a zero offset and does not ramp.  Disabling
// keeps the physical field and makes it the field.
func (v *Vector2D) SetOffsetEnabled(on bool) error {
	v.op.Lock()
	defer v.op.Unlock()
	if _, err := v.requireVector("set offset enabled", on); err != nil {
		return err
	}
	cur := v.state()
	if cur.offsetEnabled == on {
		return nil
	}
	x, y, err := v.read()
	if err != nil {
		return err
	}
	next := planar{field: math.Hypot(x, y), alpha: cur.alpha}
	if next.field != 0 {
		next.alpha = mathx.Wrap180(mathx.Deg(math.Atan2(y, x)))
	}
	if on {
		next.offsetEnabled = true
		v.mu.Lock()
		v.st = next
		v.mu.Unlock()
		return nil
	}
	return v.apply("disable offset", next.field, next)
}

func (v *Vector2D) requireOffset(op string, val interface{}) error {
	if _, err := v.requireVector(op, val); err != nil {
		return err
	}
	if !v.state().offsetEnabled {
		return v.refuse(op, val, ErrOffsetDisabled)
	}
	return nil
}

// OffsetField returns the amplitude of the offset
func (v *Vector2D) OffsetField() (float64, error) {
	if err := v.requireOffset("get offset field", ""); err != nil {
		return 0, err
	}
	return v.state().offsetField, nil
}

// SetOffsetField changes the amplitude of the offset
func (v *Vector2D) SetOffsetField(b float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	if err := v.requireOffset("set offset field", b); err != nil {
		return err
	}
	if b < 0 || b > v.rating {
		return v.refuse("set offset field", b, ErrOutOfRange)
	}
	next := v.state()
	next.offsetField = b
	return v.apply("set offset field", b, next)
}

// OffsetAlpha returns the angle of the offset from X, degrees
func (v *Vector2D) OffsetAlpha() (float64, error) {
	if err := v.requireOffset("get offset alpha", ""); err != nil {
		return 0, err
	}
	return v.state().offsetAlpha, nil
}

// SetOffsetAlpha turns the offset to alpha degrees from X
func (v *Vector2D) SetOffsetAlpha(alpha float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	if err := v.requireOffset("set offset alpha", alpha); err != nil {
		return err
	}
	if !angleOK(alpha) {
		return v.refuse("set offset alpha", alpha, ErrOutOfRange)
	}
	next := v.state()
	next.offsetAlpha = alpha
	return v.apply("set offset alpha", alpha, next)
}

// TotalField returns the amplitude of the physical field, offset included
func (v *Vector2D) TotalField() (float64, error) {
	if _, err := v.requireVector("get total field", ""); err != nil {
		return 0, err
	}
	x, y, err := v.read()
	if err != nil {
		return 0, err
	}
	return math.Hypot(x, y), nil
}

// TotalAlpha returns the angle of the physical field from X in [0, 360)
func (v *Vector2D) TotalAlpha() (float64, error) {
	if _, err := v.requireVector("get total alpha", ""); err != nil {
		return 0, err
	}
	x, y, err := v.read()
	if err != nil {
		return 0, err
	}
	return planarAngle(x, y), nil
}

// planarAngle is the angle of (x, y) from X folded into [0, 360).
// On the Y axis it is 90 or 270 by the sign of y, and 90 at the origin.
func planarAngle(x, y float64) float64 {
	if x == 0 {
		if y < 0 {
			return 270
		}
		return 90
	}
	return mathx.Fold360(mathx.Deg(math.Atan2(y, x)))
}

// Parameters lists the parameters of the active mode
func (v *Vector2D) Parameters() []Parameter {
	s := v.surface()
	out := []Parameter{{Name: "mode", Access: GetSet}}
	out = append(out, v.axisParameters(s)...)
	return append(out, vectorParameters(s, v.rating, v.state().offsetEnabled)...)
}

// Status reads the state of the magnet and of every axis
func (v *Vector2D) Status() (VectorState, error) {
	var errs error
	s := v.surface()
	st := v.state()
	out := VectorState{
		Mode:          s.mode(),
		Alpha:         st.alpha,
		OffsetEnabled: st.offsetEnabled,
		OffsetField:   st.offsetField,
		OffsetAlpha:   st.offsetAlpha,
	}
	axes, err := v.axisStatus()
	errs = multierr.Append(errs, err)
	out.Axes = axes
	if isVector(s) && len(axes) == 2 {
		x, y := axes[0].Field, axes[1].Field
		out.TotalField = math.Hypot(x, y)
		out.TotalAlpha = planarAngle(x, y)
		out.Field = out.TotalField
		if st.offsetEnabled {
			out.Field = st.field
		}
	}
	return out, errs
}
