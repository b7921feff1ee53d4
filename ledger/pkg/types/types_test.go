package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedger_Types_ParseAddress(t *testing.T) {
	t.Parallel()

	t.Run("valid base58", func(t *testing.T) {
		t.Parallel()
		addr, err := ParseAddress("4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM")
		require.NoError(t, err)
		require.Equal(t, "4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM", addr.String())
		require.False(t, addr.IsZero())
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		_, err := ParseAddress("")
		require.Error(t, err)
	})

	t.Run("invalid alphabet", func(t *testing.T) {
		t.Parallel()
		// 0, O, I and l are not base58 characters.
		_, err := ParseAddress("0OIl")
		require.Error(t, err)
	})

	t.Run("zero value is zero", func(t *testing.T) {
		t.Parallel()
		var addr Address
		require.True(t, addr.IsZero())
	})
}

func TestLedger_Types_BpsOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount int64
		bps    int64
		want   int64
	}{
		{"full", 100 * OneUnit, 10000, 100 * OneUnit},
		{"none", 100 * OneUnit, 0, 0},
		{"eighty percent", 50 * OneUnit, 8000, 40 * OneUnit},
		{"truncates down", 3, 2500, 0},
		{"ten percent fee", 35 * OneUnit, 1000, 3_500_000},
		// amount*bps exceeds 63 bits; the result must stay exact, not go
		// negative.
		{"huge donation pool", 1_000_000_000_000_000, 10000, 1_000_000_000_000_000},
		{"huge pool fee", math.MaxInt64 / 2, 1000, math.MaxInt64 / 2 / 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, BpsOf(tt.amount, tt.bps))
		})
	}
}

func TestLedger_Types_MulDiv(t *testing.T) {
	t.Parallel()

	t.Run("simple proportion", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, int64(25), MulDiv(50, 100, 200))
	})

	t.Run("truncates down", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, int64(33), MulDiv(100, 1, 3))
	})

	t.Run("no intermediate overflow", func(t *testing.T) {
		t.Parallel()
		// a*b overflows int64; the result does not.
		a := int64(math.MaxInt64 / 2)
		require.Equal(t, a, MulDiv(a, 1000, 1000))
	})

	t.Run("zero numerator", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, int64(0), MulDiv(0, 12345, 678))
	})
}
