// Package fixedpoint implements the 17.14 signed fixed-point numbers used by
// the multilevel feedback queue scheduler for load average and recent CPU.
package fixedpoint

import "math"

// Fraction is the scale factor: a Value v represents the real number v/Fraction.
const Fraction = 1 << 14

// Value is a 17.14 fixed-point number.
type Value int32

// Largest and smallest representable values.
const (
	Max Value = math.MaxInt32
	Min Value = math.MinInt32
)

// FromInt converts an integer to fixed point.
func FromInt(n int) Value {
	return Value(n * Fraction)
}

// Trunc converts to an integer rounding toward zero.
func (v Value) Trunc() int {
	return int(v) / Fraction
}

// Round converts to the nearest integer, halves away from zero.
func (v Value) Round() int {
	if v >= 0 {
		return (int(v) + Fraction/2) / Fraction
	}
	return (int(v) - Fraction/2) / Fraction
}

// Scaled returns v*n rounded to the nearest integer, halves away from zero.
// The product is formed in 64 bits, so reporting v in hundredths never wraps.
func (v Value) Scaled(n int) int {
	p := int64(v) * int64(n)
	if p >= 0 {
		return int((p + Fraction/2) / Fraction)
	}
	return int((p - Fraction/2) / Fraction)
}

func (v Value) Add(w Value) Value { return v + w }

func (v Value) Sub(w Value) Value { return v - w }

func (v Value) AddInt(n int) Value { return v + FromInt(n) }

// SaturatingAddInt adds n, clamping the result to [Min, Max].
func (v Value) SaturatingAddInt(n int) Value {
	sum := int64(v) + int64(n)*Fraction
	switch {
	case sum > int64(Max):
		return Max
	case sum < int64(Min):
		return Min
	}
	return Value(sum)
}

func (v Value) SubInt(n int) Value { return v - FromInt(n) }

// Mul multiplies two fixed-point values using a 64-bit intermediate.
func (v Value) Mul(w Value) Value {
	return Value(int64(v) * int64(w) / Fraction)
}

// Div divides two fixed-point values using a 64-bit intermediate.
func (v Value) Div(w Value) Value {
	return Value(int64(v) * Fraction / int64(w))
}

func (v Value) MulInt(n int) Value { return v * Value(n) }

func (v Value) DivInt(n int) Value { return v / Value(n) }
