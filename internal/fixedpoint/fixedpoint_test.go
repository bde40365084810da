package fixedpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSubOverflow(t *testing.T) {
	s, err := Add(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Zero(t, s)

	d, err := Sub(math.MinInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Zero(t, d)

	s, err = Add(3*Scale, 4*Scale)
	require.NoError(t, err)
	assert.Equal(t, 7*Scale, s)
}

func TestMulDivTruncates(t *testing.T) {
	// 7/3 truncates toward zero.
	v, err := MulDiv(7, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// Full-width intermediate: (2^40 * 2^40) / 2^40 round-trips.
	big := int64(1) << 40
	v, err = MulDiv(big, big, big)
	require.NoError(t, err)
	assert.Equal(t, big, v)

	_, err = MulDiv(math.MaxInt64, math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = MulDiv(1, 1, 0)
	assert.ErrorIs(t, err, ErrDivByZero)
}

func TestExpKnownValues(t *testing.T) {
	one, err := Exp(0)
	require.NoError(t, err)
	assert.Equal(t, One, one)

	two, err := Exp(Ln2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, ToFloat(two), 1e-4)

	half, err := Exp(-Ln2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ToFloat(half), 1e-4)

	e1, err := Exp(One)
	require.NoError(t, err)
	assert.InDelta(t, math.E, ToFloat(e1), 1e-4)

	e5, err := Exp(-5 * Scale)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-5), ToFloat(e5), 1e-4)
}

func TestExpBounds(t *testing.T) {
	z, err := Exp(-31 * Scale)
	require.NoError(t, err)
	assert.Zero(t, z, "deep negative arguments underflow to exactly zero")

	_, err = Exp(30 * Scale)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestLnKnownValues(t *testing.T) {
	zero, err := Ln(One)
	require.NoError(t, err)
	assert.Equal(t, int64(0), zero)

	l2, err := Ln(2 * Scale)
	require.NoError(t, err)
	assert.InDelta(t, math.Ln2, ToFloat(l2), 1e-4)

	l10, err := Ln(10 * Scale)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(10), ToFloat(l10), 1e-4)

	lSmall, err := Ln(Scale / 100)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.01), ToFloat(lSmall), 1e-3)
}

func TestLnDomain(t *testing.T) {
	_, err := Ln(0)
	assert.ErrorIs(t, err, ErrDomain)
	_, err = Ln(-Scale)
	assert.ErrorIs(t, err, ErrDomain)
}

func TestExpLnRoundTrip(t *testing.T) {
	for _, x := range []int64{-10 * Scale, -2 * Scale, -Scale / 3, 0, Scale / 2, 3 * Scale, 12 * Scale} {
		ex, err := Exp(x)
		require.NoError(t, err)
		back, err := Ln(ex)
		require.NoError(t, err)
		assert.InDelta(t, ToFloat(x), ToFloat(back), 1e-3, "x=%d", x)
	}
}

func TestDeterminism(t *testing.T) {
	// Byte-identical results on repeated evaluation; the whole engine
	// depends on this property.
	a, err := Exp(-1_234_567)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		b, err := Exp(-1_234_567)
		require.NoError(t, err)
		require.Equal(t, a, b)
	}
}
