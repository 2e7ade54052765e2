package numeric

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntegerOpLaws32(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		a, b := uint32(r.Uint64()), uint32(r.Uint64())

		require.Equal(t, a+b, Add(a, b))
		require.Equal(t, a-b, Sub(a, b))
		require.Equal(t, Shl(a, 33), Shl(a, 33%32), "shl(a,k) == shl(a, k mod N)")

		if Clz(a)+Popcnt(a) > 32 {
			t.Fatalf("clz(%d)=%d popcnt=%d exceeds 32", a, Clz(a), Popcnt(a))
		}
		require.Equal(t, a, Rotr(Rotl(a, b), b), "rotl . rotr == identity")
	}
}

func TestIntegerOpLaws64(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		a, b := r.Uint64(), r.Uint64()
		require.Equal(t, a+b, Add(a, b))
		require.Equal(t, a-b, Sub(a, b))
		require.Equal(t, a, Rotr(Rotl(a, b), b))
	}
}

func TestClzCtzZero(t *testing.T) {
	require.Equal(t, uint32(32), Clz(uint32(0)))
	require.Equal(t, uint32(32), Ctz(uint32(0)))
	require.Equal(t, uint64(64), Clz(uint64(0)))
	require.Equal(t, uint64(64), Ctz(uint64(0)))
}

func TestShiftMasking(t *testing.T) {
	require.Equal(t, uint32(2), Shl(uint32(1), uint32(33)))
	require.Equal(t, uint64(2), Shl(uint64(1), uint64(65)))
}

func TestSignedDivOverflow(t *testing.T) {
	require.True(t, IsSignedDivOverflow32(MinSigned32, uint32(0xFFFFFFFF)))
	require.False(t, IsSignedDivOverflow32(MinSigned32, 1))
	require.True(t, IsSignedDivOverflow64(MinSigned64, uint64(0xFFFFFFFFFFFFFFFF)))
}

func TestRelationalSigned(t *testing.T) {
	require.True(t, LtS32(uint32(int32(-1)), 1))
	require.False(t, LtU(uint32(int32(-1)), 1)) // as unsigned, -1 is huge
}

func TestWasmCompatMinMaxSignedZero(t *testing.T) {
	require.True(t, math.Signbit(WasmCompatMin(0, math.Copysign(0, -1))))
	require.False(t, math.Signbit(WasmCompatMax(0, math.Copysign(0, -1))))
}
