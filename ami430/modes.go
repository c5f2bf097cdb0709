package ami430

import (
	"fmt"
	"strings"
)

// Mode selects how the axes of a vector magnet are driven
type Mode uint8

const (
	// ModeRaw gives direct access to every axis
	ModeRaw Mode = 0x01

	// ModeX drives only X, the other axes stay at zero
	ModeX Mode = 0x02

	// ModeY drives only Y, the other axes stay at zero
	ModeY Mode = 0x04

	// ModeZ drives only Z, the other axes stay at zero
	ModeZ Mode = 0x08

	// ModeXY sets the field amplitude and azimuth alpha in the XY plane
	ModeXY Mode = 0x10

	// ModeXZ sets the field amplitude and polar angle phi in the XZ plane
	ModeXZ Mode = 0x20

	// ModeYZ sets the field amplitude and polar angle phi in the YZ plane
	ModeYZ Mode = 0x40

	// ModeXYZ sets the field amplitude, alpha and phi
	ModeXYZ Mode = 0x80
)

var modeNames = map[Mode]string{
	ModeRaw: "RAW",
	ModeX:   "X",
	ModeY:   "Y",
	ModeZ:   "Z",
	ModeXY:  "XY",
	ModeXZ:  "XZ",
	ModeYZ:  "YZ",
	ModeXYZ: "XYZ",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("Mode(%#x)", uint8(m))
}

// MarshalText encodes the mode by name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name
func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode converts "raw", "xy", ... to a Mode
func ParseMode(s string) (Mode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrWrongMode, s)
}

// angle is the angle a planar mode sweeps
type angle int

const (
	angleAlpha angle = iota
	anglePhi
)

// surface is the set of operations a mode exposes.  Every Mode has exactly
// one surface; switching modes swaps the surface rather than editing it.
type surface interface {
	mode() Mode

	// direct axes may be ramped, switched and made persistent individually
	direct(a AxisName) bool

	// monitored axes may be read and have their ramp rate set
	monitored(a AxisName) bool

	// axes are the axes that carry the vector field, first to last
	axes() []AxisName

	hasAlpha() bool
	hasPhi() bool
	hasOffset() bool
}

// rawSurface exposes every axis directly and no vector
type rawSurface struct{}

func (rawSurface) mode() Mode { return ModeRaw }
func (rawSurface) direct(AxisName) bool { return true }
func (rawSurface) monitored(AxisName) bool { return true }
func (rawSurface) axes() []AxisName { return nil }
func (rawSurface) hasAlpha() bool { return false }
func (rawSurface) hasPhi() bool { return false }
func (rawSurface) hasOffset() bool { return false }

// axisSurface exposes a single axis directly
type axisSurface struct {
	m    Mode
	axis AxisName
}

func (s axisSurface) mode() Mode { return s.m }
func (s axisSurface) direct(a AxisName) bool { return a == s.axis }
func (s axisSurface) monitored(a AxisName) bool { return a == s.axis }
func (axisSurface) axes() []AxisName { return nil }
func (axisSurface) hasAlpha() bool { return false }
func (axisSurface) hasPhi() bool { return false }
func (axisSurface) hasOffset() bool { return false }

// planeSurface is a vector in the plane of two axes.  The angle is measured
// from first (alpha) or from second (phi).
type planeSurface struct {
	m             Mode
	first, second AxisName
	angle         angle
	offset        bool
}

func (s planeSurface) mode() Mode { return s.m }
func (planeSurface) direct(AxisName) bool { return false }
func (s planeSurface) axes() []AxisName { return []AxisName{s.first, s.second} }
func (s planeSurface) hasAlpha() bool { return s.angle == angleAlpha }
func (s planeSurface) hasPhi() bool { return s.angle == anglePhi }
func (s planeSurface) hasOffset() bool { return s.offset }
func (s planeSurface) monitored(a AxisName) bool {
	return a == s.first || a == s.second
}

// spaceSurface is a vector in 3D, with superposed offset
type spaceSurface struct{}

func (spaceSurface) mode() Mode { return ModeXYZ }
func (spaceSurface) direct(AxisName) bool { return false }
func (spaceSurface) monitored(AxisName) bool { return true }
func (spaceSurface) axes() []AxisName { return []AxisName{X, Y, Z} }
func (spaceSurface) hasAlpha() bool { return true }
func (spaceSurface) hasPhi() bool { return true }
func (spaceSurface) hasOffset() bool { return true }

func isVector(s surface) bool {
	return len(s.axes()) > 0
}

// surface2D returns the surface of a mode of a two axis magnet
func surface2D(m Mode) (surface, bool) {
	switch m {
	case ModeRaw:
		return rawSurface{}, true
	case ModeX:
		return axisSurface{m: m, axis: X}, true
	case ModeY:
		return axisSurface{m: m, axis: Y}, true
	case ModeXY:
		return planeSurface{m: m, first: X, second: Y, angle: angleAlpha, offset: true}, true
	}
	return nil, false
}

// surface3D returns the surface of a mode of a three axis magnet
func surface3D(m Mode) (surface, bool) {
	switch m {
	case ModeRaw:
		return rawSurface{}, true
	case ModeX:
		return axisSurface{m: m, axis: X}, true
	case ModeY:
		return axisSurface{m: m, axis: Y}, true
	case ModeZ:
		return axisSurface{m: m, axis: Z}, true
	case ModeXY:
		return planeSurface{m: m, first: X, second: Y, angle: angleAlpha}, true
	case ModeXZ:
		return planeSurface{m: m, first: X, second: Z, angle: anglePhi}, true
	case ModeYZ:
		return planeSurface{m: m, first: Y, second: Z, angle: anglePhi}, true
	case ModeXYZ:
		return spaceSurface{}, true
	}
	return nil, false
}
