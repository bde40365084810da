// Package fixedpoint provides deterministic integer fixed-point arithmetic at
// scale 1e6. All operations use floor/truncating division and fail loudly on
// overflow instead of saturating, so every node computing the same inputs
// reaches bit-identical results.
package fixedpoint

import (
	"errors"
	"math"
	"math/big"
)

const (
	// Scale is the fixed-point scaling factor: 1.0 == 1_000_000.
	Scale int64 = 1_000_000

	// One is 1.0 in fixed-point units.
	One = Scale

	// Ln2 is ln(2) in fixed-point units, floored.
	Ln2 int64 = 693_147
)

// ErrOverflow is returned when an intermediate or final value does not fit
// in a signed 64-bit fixed-point representation.
var ErrOverflow = errors.New("fixedpoint: arithmetic overflow")

// ErrDivByZero is returned on division by zero.
var ErrDivByZero = errors.New("fixedpoint: division by zero")

// ErrDomain is returned when a function is evaluated outside its domain,
// e.g. Ln of a non-positive value.
var ErrDomain = errors.New("fixedpoint: argument outside domain")

// expZeroCutoff: below -30.0 the result underflows the 1e-6 resolution to 0.
const expZeroCutoff int64 = -30 * Scale

// expMaxArg: above ~29.0 the fixed-point result exceeds int64 range.
const expMaxArg int64 = 29 * Scale

// Add returns a+b, or ErrOverflow.
func Add(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}

// Sub returns a-b, or ErrOverflow.
func Sub(a, b int64) (int64, error) {
	d := a - b
	if (b < 0 && d < a) || (b > 0 && d > a) {
		return 0, ErrOverflow
	}
	return d, nil
}

// Mul returns a*b/Scale with a full-width intermediate product.
func Mul(a, b int64) (int64, error) {
	return MulDiv(a, b, Scale)
}

// Div returns a*Scale/b with a full-width intermediate product.
func Div(a, b int64) (int64, error) {
	return MulDiv(a, Scale, b)
}

// MulDiv returns a*b/c computed in arbitrary precision, truncated toward
// zero. It is the primitive behind Mul and Div and is also used directly
// where the natural denominator is not Scale (fees in basis points,
// pro-rata ratios).
func MulDiv(a, b, c int64) (int64, error) {
	if c == 0 {
		return 0, ErrDivByZero
	}
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	num.Quo(num, big.NewInt(c))
	if !num.IsInt64() {
		return 0, ErrOverflow
	}
	return num.Int64(), nil
}

// Exp returns e^(x/Scale) in fixed point. Arguments below -30.0 underflow
// to exactly 0; arguments above ~29.0 overflow int64 and return ErrOverflow.
// The computation is range reduction by ln(2) followed by a truncated Taylor
// series, all in integer arithmetic, so it is fully deterministic.
func Exp(x int64) (int64, error) {
	if x < expZeroCutoff {
		return 0, nil
	}
	if x > expMaxArg {
		return 0, ErrOverflow
	}

	// x = k*ln2 + r with r in [0, ln2). Floor division keeps r non-negative
	// for negative x.
	k := x / Ln2
	r := x - k*Ln2
	if r < 0 {
		k--
		r += Ln2
	}

	er := expSeries(r)

	// Apply the 2^k factor as exact binary shifts.
	if k >= 0 {
		if k > 62 || er > math.MaxInt64>>uint(k) {
			return 0, ErrOverflow
		}
		return er << uint(k), nil
	}
	k = -k
	if k > 62 {
		return 0, nil
	}
	return er >> uint(k), nil
}

// expSeries computes e^(r/Scale) for r in [0, ln2) via a truncated Taylor
// series. Eighteen terms put the truncation error well below one fixed-point
// unit across the reduced range.
func expSeries(r int64) int64 {
	sum := One
	term := One
	for i := int64(1); i <= 18; i++ {
		// term *= r / i, all operands bounded by 2*Scale so the product
		// fits comfortably in int64.
		term = term * r / Scale / i
		if term == 0 {
			break
		}
		sum += term
	}
	return sum
}

// Ln returns ln(x/Scale) in fixed point for x > 0. The argument is
// normalised into [1, 2) by binary shifts and the mantissa logarithm is
// computed with the atanh series, which converges fast on that interval.
func Ln(x int64) (int64, error) {
	if x <= 0 {
		return 0, ErrDomain
	}

	var k int64
	m := x
	for m >= 2*Scale {
		m >>= 1
		k++
	}
	for m < Scale {
		m <<= 1
		k--
	}

	// ln(m) = 2*atanh(z), z = (m-1)/(m+1) in [0, 1/3).
	z, err := MulDiv(m-Scale, Scale, m+Scale)
	if err != nil {
		return 0, err
	}
	z2 := z * z / Scale
	var lnm int64
	pow := z
	for i := int64(1); i <= 11; i += 2 {
		lnm += pow / i
		pow = pow * z2 / Scale
		if pow == 0 {
			break
		}
	}
	lnm *= 2

	return k*Ln2 + lnm, nil
}

// ToFloat converts a fixed-point value to float64. Only for logging and
// tests; never feed the result back into deterministic state.
func ToFloat(x int64) float64 {
	return float64(x) / float64(Scale)
}

// FromFloat converts a float64 to fixed point, truncating toward zero.
// Only for tests and configuration defaults.
func FromFloat(f float64) int64 {
	return int64(f * float64(Scale))
}
