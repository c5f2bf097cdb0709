package ami430

import (
	"math"

	"go.uber.org/multierr"

	"github.com/magnetlab/golab/mathx"
)

// space is the soft state of a 3D vector
type space struct {
	field, alpha, phi float64
	offsetEnabled     bool
	offsetField       float64
	offsetAlpha       float64
	offsetPhi         float64
}

func (p space) target() (x, y, z float64) {
	x, y, z = mathx.Spherical(p.field, p.alpha, p.phi)
	if p.offsetEnabled {
		ox, oy, oz := mathx.Spherical(p.offsetField, p.offsetAlpha, p.offsetPhi)
		x, y, z = x+ox, y+oy, z+oz
	}
	return
}

// Vector3D is a field made by three orthogonal magnets.  The field is given
// in one of the planes (ModeXY by alpha from X, ModeXZ and ModeYZ by phi
// from Z) or in space (ModeXYZ by amplitude, azimuth alpha and polar angle
// phi).  An offset vector may be superposed in ModeXYZ only.
//
// In ModeXYZ, X and Y ramp one after the other in a fixed order, so the
// vector sum is not bounded while they ramp the way it is in the planes.
type Vector3D struct {
	coordinator
	ratings VectorRatings

	// guarded by mu
	st space
}

// NewVector3D creates a 3D vector magnet in mode, without ramping anything
func NewVector3D(name string, x, y, z Axis, ratings VectorRatings, mode Mode) (*Vector3D, error) {
	s, ok := surface3D(mode)
	if !ok {
		return nil, &PreconditionError{Op: "create " + name, Value: mode, Err: ErrWrongMode}
	}
	v := &Vector3D{ratings: ratings}
	v.init(name, map[AxisName]Axis{X: x, Y: y, Z: z}, []AxisName{X, Y, Z}, s)
	return v, nil
}

// Rating returns the largest vector field allowed in mode m.
// Modes without a vector have none.
func (v *Vector3D) Rating(m Mode) float64 {
	switch m {
	case ModeXY:
		return v.ratings.XY
	case ModeXZ:
		return v.ratings.XZ
	case ModeYZ:
		return v.ratings.YZ
	case ModeXYZ:
		return v.ratings.XYZ
	}
	return 0
}

func (v *Vector3D) state() space {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st
}

// SetMode switches to m.  All three axes are ramped to zero and their switch
// heaters turned off first; if that fails the mode is left as it was.
func (v *Vector3D) SetMode(m Mode) error {
	s, ok := surface3D(m)
	if !ok {
		return v.refuse("set mode", m, ErrWrongMode)
	}
	v.op.Lock()
	defer v.op.Unlock()
	if v.Mode() == m {
		return nil
	}
	return v.switchMode(s, func() { v.st = space{} })
}

// ResetQuenchZ clears the quench of Z
func (v *Vector3D) ResetQuenchZ() error {
	return v.ResetQuench(Z)
}

// planeTarget returns the fields of the first and second axis of p
// for amplitude b at angle ang
func planeTarget(p planeSurface, b, ang float64) (first, second float64) {
	if p.angle == angleAlpha {
		return mathx.Polar(b, ang)
	}
	second, first = mathx.Polar(b, ang)
	return first, second
}

// live returns the amplitude of the field measured on the axes of s
func (v *Vector3D) live(s surface) (float64, error) {
	f, err := v.readAll(s.axes()...)
	if err != nil {
		return 0, err
	}
	sum := 0.
	for _, c := range f {
		sum += c * c
	}
	return math.Sqrt(sum), nil
}

// apply ramps to next and makes it the new state.  xyOnly moves only X and Y
// in ModeXYZ.
func (v *Vector3D) apply(op string, value float64, s surface, next space, xyOnly bool) error {
	rating := v.Rating(s.mode())
	switch s := s.(type) {
	case planeSurface:
		ang := next.phi
		if s.hasAlpha() {
			ang = next.alpha
		}
		f, sec := planeTarget(s, next.field, ang)
		if err := v.checkLimit(op, value, rating, f, sec); err != nil {
			return err
		}
		if err := v.sweep2(s.first, s.second, f, sec); err != nil {
			return err
		}
	case spaceSurface:
		x, y, z := next.target()
		if err := v.checkLimit(op, value, rating, x, y, z); err != nil {
			return err
		}
		var err error
		if xyOnly {
			err = v.sweep2(X, Y, x, y)
		} else {
			err = v.sweep3(x, y, z)
		}
		if err != nil {
			return err
		}
	default:
		return v.refuse(op, value, ErrWrongMode)
	}
	v.mu.Lock()
	v.st = next
	v.mu.Unlock()
	return nil
}

// Field returns the amplitude of the field.  In ModeXYZ with offset mode
// enabled this is the amplitude set last, excluding the offset.
func (v *Vector3D) Field() (float64, error) {
	s, err := v.requireVector("get field", "")
	if err != nil {
		return 0, err
	}
	if st := v.state(); st.offsetEnabled {
		return st.field, nil
	}
	return v.live(s)
}

// SetField ramps to amplitude b at the present angles
func (v *Vector3D) SetField(b float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	s, err := v.requireVector("set field", b)
	if err != nil {
		return err
	}
	if b < 0 || b > v.Rating(s.mode()) {
		return v.refuse("set field", b, ErrOutOfRange)
	}
	next := v.state()
	next.field = b
	return v.apply("set field", b, s, next, false)
}

// Alpha returns the azimuth of the field from X, degrees
func (v *Vector3D) Alpha() (float64, error) {
	s, err := v.requireVector("get alpha", "")
	if err != nil {
		return 0, err
	}
	if !s.hasAlpha() {
		return 0, v.refuse("get alpha", "", ErrWrongMode)
	}
	return v.state().alpha, nil
}

// SetAlpha turns the field to azimuth alpha, keeping its amplitude.
// Only X and Y ramp.
func (v *Vector3D) SetAlpha(alpha float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	s, err := v.requireVector("set alpha", alpha)
	if err != nil {
		return err
	}
	if !s.hasAlpha() {
		return v.refuse("set alpha", alpha, ErrWrongMode)
	}
	if !angleOK(alpha) {
		return v.refuse("set alpha", alpha, ErrOutOfRange)
	}
	next, err := v.keepAmplitude(s)
	if err != nil {
		return err
	}
	next.alpha = alpha
	return v.apply("set alpha", alpha, s, next, true)
}

// Phi returns the polar angle of the field from Z, degrees
func (v *Vector3D) Phi() (float64, error) {
	s, err := v.requireVector("get phi", "")
	if err != nil {
		return 0, err
	}
	if !s.hasPhi() {
		return 0, v.refuse("get phi", "", ErrWrongMode)
	}
	return v.state().phi, nil
}

// SetPhi turns the field to polar angle phi, keeping its amplitude
func (v *Vector3D) SetPhi(phi float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	s, err := v.requireVector("set phi", phi)
	if err != nil {
		return err
	}
	if !s.hasPhi() {
		return v.refuse("set phi", phi, ErrWrongMode)
	}
	if !phiOK(phi) {
		return v.refuse("set phi", phi, ErrOutOfRange)
	}
	next, err := v.keepAmplitude(s)
	if err != nil {
		return err
	}
	next.phi = phi
	return v.apply("set phi", phi, s, next, false)
}

// keepAmplitude returns the state with the amplitude measured now, unless
// offset mode makes the stored amplitude authoritative
func (v *Vector3D) keepAmplitude(s surface) (space, error) {
	next := v.state()
	if next.offsetEnabled {
		return next, nil
	}
	b, err := v.live(s)
	if err != nil {
		return next, err
	}
	next.field = b
	return next, nil
}

// requireOffsetMode returns the surface if it supports an offset
func (v *Vector3D) requireOffsetMode(op string, val interface{}) (surface, error) {
	s := v.surface()
	if !s.hasOffset() {
		return nil, v.refuse(op, val, ErrWrongMode)
	}
	return s, nil
}

func (v *Vector3D) requireOffset(op string, val interface{}) (surface, error) {
	s, err := v.requireOffsetMode(op, val)
	if err != nil {
		return nil, err
	}
	if !v.state().offsetEnabled {
		return nil, v.refuse(op, val, ErrOffsetDisabled)
	}
	return s, nil
}

// OffsetEnabled returns true if offset mode is enabled
func (v *Vector3D) OffsetEnabled() (bool, error) {
	if _, err := v.requireOffsetMode("get offset enabled", ""); err != nil {
		return false, err
	}
	return v.state().offsetEnabled, nil
}

// SetOffsetEnabled turns offset mode on or off in ModeXYZ.  Enabling starts
// from a zero offset and does not ramp.  Disabling keeps the physical field
// and makes it the field.
func (v *Vector3D) SetOffsetEnabled(on bool) error {
	v.op.Lock()
	defer v.op.Unlock()
	s, err := v.requireOffsetMode("set offset enabled", on)
	if err != nil {
		return err
	}
	cur := v.state()
	if cur.offsetEnabled == on {
		return nil
	}
	f, err := v.readAll(X, Y, Z)
	if err != nil {
		return err
	}
	next := space{alpha: cur.alpha, phi: cur.phi}
	b, alpha, phi := mathx.ToSpherical(f[0], f[1], f[2])
	next.field = b
	if b != 0 {
		next.alpha, next.phi = alpha, phi
	}
	if on {
		next.offsetEnabled = true
		v.mu.Lock()
		v.st = next
		v.mu.Unlock()
		return nil
	}
	return v.apply("disable offset", b, s, next, false)
}

// OffsetField returns the amplitude of the offset
func (v *Vector3D) OffsetField() (float64, error) {
	if _, err := v.requireOffset("get offset field", ""); err != nil {
		return 0, err
	}
	return v.state().offsetField, nil
}

// SetOffsetField changes the amplitude of the offset
func (v *Vector3D) SetOffsetField(b float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	s, err := v.requireOffset("set offset field", b)
	if err != nil {
		return err
	}
	if b < 0 || b > v.Rating(s.mode()) {
		return v.refuse("set offset field", b, ErrOutOfRange)
	}
	next := v.state()
	next.offsetField = b
	return v.apply("set offset field", b, s, next, false)
}

// OffsetAlpha returns the azimuth of the offset, degrees
func (v *Vector3D) OffsetAlpha() (float64, error) {
	if _, err := v.requireOffset("get offset alpha", ""); err != nil {
		return 0, err
	}
	return v.state().offsetAlpha, nil
}

// SetOffsetAlpha turns the offset to azimuth alpha.  Only X and Y ramp.
func (v *Vector3D) SetOffsetAlpha(alpha float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	s, err := v.requireOffset("set offset alpha", alpha)
	if err != nil {
		return err
	}
	if !angleOK(alpha) {
		return v.refuse("set offset alpha", alpha, ErrOutOfRange)
	}
	next := v.state()
	next.offsetAlpha = alpha
	return v.apply("set offset alpha", alpha, s, next, true)
}

// OffsetPhi returns the polar angle of the offset, degrees
func (v *Vector3D) OffsetPhi() (float64, error) {
	if _, err := v.requireOffset("get offset phi", ""); err != nil {
		return 0, err
	}
	return v.state().offsetPhi, nil
}

// SetOffsetPhi turns the offset to polar angle phi
func (v *Vector3D) SetOffsetPhi(phi float64) error {
	v.op.Lock()
	defer v.op.Unlock()
	s, err := v.requireOffset("set offset phi", phi)
	if err != nil {
		return err
	}
	if !phiOK(phi) {
		return v.refuse("set offset phi", phi, ErrOutOfRange)
	}
	next := v.state()
	next.offsetPhi = phi
	return v.apply("set offset phi", phi, s, next, false)
}

func (v *Vector3D) readXYZ(op string) (x, y, z float64, err error) {
	if _, err = v.requireOffsetMode(op, ""); err != nil {
		return
	}
	f, err := v.readAll(X, Y, Z)
	if err != nil {
		return
	}
	return f[0], f[1], f[2], nil
}

// TotalField returns the amplitude of the physical field, offset included
func (v *Vector3D) TotalField() (float64, error) {
	x, y, z, err := v.readXYZ("get total field")
	if err != nil {
		return 0, err
	}
	return mathx.Hypot3(x, y, z), nil
}

// TotalAlpha returns the azimuth of the physical field
func (v *Vector3D) TotalAlpha() (float64, error) {
	x, y, z, err := v.readXYZ("get total alpha")
	if err != nil {
		return 0, err
	}
	return spaceAlpha(x, y, z), nil
}

// TotalPhi returns the polar angle of the physical field
func (v *Vector3D) TotalPhi() (float64, error) {
	x, y, z, err := v.readXYZ("get total phi")
	if err != nil {
		return 0, err
	}
	return spacePhi(x, y, z), nil
}

// spaceAlpha is the azimuth of (x, y, z).  It is 0 in the XY plane, and 90
// or 270 by the sign of y in the YZ plane.
func spaceAlpha(x, y, z float64) float64 {
	if z == 0 {
		return 0
	}
	if x == 0 {
		if y < 0 {
			return 270
		}
		return 90
	}
	return mathx.Deg(math.Atan2(y, x))
}

// spacePhi is the polar angle of (x, y, z) from Z; 90 in the XY plane
func spacePhi(x, y, z float64) float64 {
	if z == 0 {
		return 90
	}
	return mathx.Deg(math.Atan2(math.Hypot(x, y), z))
}

// Parameters lists the parameters of the active mode
func (v *Vector3D) Parameters() []Parameter {
	s := v.surface()
	out := []Parameter{{Name: "mode", Access: GetSet}}
	out = append(out, v.axisParameters(s)...)
	return append(out, vectorParameters(s, v.Rating(s.mode()), v.state().offsetEnabled)...)
}

// Status reads the state of the magnet and of every axis
func (v *Vector3D) Status() (VectorState, error) {
	var errs error
	s := v.surface()
	st := v.state()
	out := VectorState{
		Mode:          s.mode(),
		Alpha:         st.alpha,
		Phi:           st.phi,
		OffsetEnabled: st.offsetEnabled,
		OffsetField:   st.offsetField,
		OffsetAlpha:   st.offsetAlpha,
		OffsetPhi:     st.offsetPhi,
	}
	axes, err := v.axisStatus()
	errs = multierr.Append(errs, err)
	out.Axes = axes
	if !isVector(s) || len(axes) != 3 {
		return out, errs
	}
	f := map[AxisName]float64{X: axes[0].Field, Y: axes[1].Field, Z: axes[2].Field}
	sum := 0.
	for _, a := range s.axes() {
		sum += f[a] * f[a]
	}
	out.Field = math.Sqrt(sum)
	if st.offsetEnabled {
		out.Field = st.field
	}
	if s.hasOffset() {
		out.TotalField = mathx.Hypot3(f[X], f[Y], f[Z])
		out.TotalAlpha = spaceAlpha(f[X], f[Y], f[Z])
		out.TotalPhi = spacePhi(f[X], f[Y], f[Z])
	}
	return out, errs
}
