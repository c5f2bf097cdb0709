package mathx

import (
	"math"
	"testing"
)

const tol = 1e-12

func TestFold360(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		45:   45,
		360:  0,
		-90:  270,
		725:  5,
		-360: 0,
	}
	for in, want := range cases {
		if got := Fold360(in); math.Abs(got-want) > tol {
			t.Errorf("Fold360(%f) = %f, expected %f", in, got, want)
		}
	}
}

func TestWrap180(t *testing.T) {
	cases := map[float64]float64{
		180:  -180,
		-180: -180,
		270:  -90,
		90:   90,
		359:  -1,
	}
	for in, want := range cases {
		if got := Wrap180(in); math.Abs(got-want) > tol {
			t.Errorf("Wrap180(%f) = %f, expected %f", in, got, want)
		}
	}
}

func TestSphericalRoundTrip(t *testing.T) {
	x, y, z := Spherical(0.7, 30, 60)
	b, a, f := ToSpherical(x, y, z)
	if math.Abs(b-0.7) > 1e-9 || math.Abs(a-30) > 1e-9 || math.Abs(f-60) > 1e-9 {
		t.Errorf("expected (0.7, 30, 60), got (%f, %f, %f)", b, a, f)
	}
}

func TestSphericalPoleIsZAxis(t *testing.T) {
	x, y, z := Spherical(1, 123, 0)
	if math.Abs(x) > tol || math.Abs(y) > tol || math.Abs(z-1) > tol {
		t.Errorf("phi=0 should point along +Z, got (%f, %f, %f)", x, y, z)
	}
}

func TestPolar(t *testing.T) {
	x, y := Polar(2, 90)
	if math.Abs(x) > tol || math.Abs(y-2) > tol {
		t.Errorf("expected (0, 2), got (%f, %f)", x, y)
	}
}
