// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// Limiter describes an inclusive range [Min, Max]
type Limiter struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Check returns true if min <= input <= max
func (l Limiter) Check(input float64) bool {
	return input >= l.Min && input <= l.Max
}

// Clamp restricts input to the range of the limiter
func (l Limiter) Clamp(input float64) float64 {
	return Clamp(input, l.Min, l.Max)
}

// Shift returns a copy of the limiter moved by delta
func (l Limiter) Shift(delta float64) Limiter {
	return Limiter{Min: l.Min + delta, Max: l.Max + delta}
}

// Clamp restricts input to [low, high]
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(input, high))
}

// SecsToDuration converts a floating point number of seconds to a time.Duration.
// Durations are int64 nanoseconds, so the conversion is exact to 1 ns.
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}
