// Package mathx provides the small amount of vector and angle math needed to
// move between Cartesian field components and (amplitude, angle) pairs.
// Angles are in degrees everywhere in this package.
package mathx

import "math"

// Rad converts degrees to radians
func Rad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Deg converts radians to degrees
func Deg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Hypot3 is the Euclidean norm of a 3-vector
func Hypot3(x, y, z float64) float64 {
	return math.Hypot(math.Hypot(x, y), z)
}

// Polar returns the Cartesian components of a planar vector of magnitude b
// at angle alpha from the first axis
func Polar(b, alpha float64) (float64, float64) {
	a := Rad(alpha)
	return b * math.Cos(a), b * math.Sin(a)
}

// Spherical returns the Cartesian components of a vector of magnitude b,
// azimuth alpha (from X, in the XY plane) and polar angle phi (from Z)
func Spherical(b, alpha, phi float64) (x, y, z float64) {
	a, f := Rad(alpha), Rad(phi)
	x = b * math.Sin(f) * math.Cos(a)
	y = b * math.Sin(f) * math.Sin(a)
	z = b * math.Cos(f)
	return
}

// ToSpherical is the inverse of Spherical.  alpha is in [-180, 180), phi in
// [0, 180].  The zero vector maps to (0, 0, 0).
func ToSpherical(x, y, z float64) (b, alpha, phi float64) {
	b = Hypot3(x, y, z)
	if b == 0 {
		return 0, 0, 0
	}
	alpha = Wrap180(Deg(math.Atan2(y, x)))
	phi = Deg(math.Atan2(math.Hypot(x, y), z))
	return
}

// Fold360 maps an angle into [0, 360)
func Fold360(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Wrap180 maps an angle into [-180, 180)
func Wrap180(deg float64) float64 {
	deg = Fold360(deg)
	if deg >= 180 {
		deg -= 360
	}
	return deg
}
