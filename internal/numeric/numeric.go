// Package numeric implements the integer and float operator set required by
// the numeric instruction set: unary, test, relational, arithmetic, bitwise, shift and
// rotate operators over 32- and 64-bit unsigned bit patterns, plus the
// Wasm-compatible float min/max used by the broader numeric instruction set.
//
// The original prototype (original_source/src/numeric.rs) expressed this as
// a single generic trait over Rust's unsigned integer types; here the same
// "one generic implementation, instantiated per width" shape is expressed
// with Go generics constrained to the two unsigned lanes Wasm defines.
package numeric

import "math/bits"

// Unsigned is the set of bit-pattern widths this package operates over.
type Unsigned interface {
	~uint32 | ~uint64
}

// Len returns the bit width of T: 32 or 64.
func Len[T Unsigned]() uint32 {
	var z T
	switch any(z).(type) {
	case uint32:
		return 32
	case uint64:
		return 64
	default:
		panic("numeric: unsupported width")
	}
}

// Clz counts leading zero bits. Clz(0) == Len.
func Clz[T Unsigned](v T) T {
	switch x := any(v).(type) {
	case uint32:
		return T(bits.LeadingZeros32(x))
	case uint64:
		return T(bits.LeadingZeros64(x))
	}
	panic("unreachable")
}

// Ctz counts trailing zero bits. Ctz(0) == Len.
func Ctz[T Unsigned](v T) T {
	switch x := any(v).(type) {
	case uint32:
		if x == 0 {
			return 32
		}
		return T(bits.TrailingZeros32(x))
	case uint64:
		if x == 0 {
			return 64
		}
		return T(bits.TrailingZeros64(x))
	}
	panic("unreachable")
}

// Popcnt counts the set bits.
func Popcnt[T Unsigned](v T) T {
	switch x := any(v).(type) {
	case uint32:
		return T(bits.OnesCount32(x))
	case uint64:
		return T(bits.OnesCount64(x))
	}
	panic("unreachable")
}

func Eqz[T Unsigned](v T) bool { return v == 0 }

func Eq[T Unsigned](a, b T) bool { return a == b }
func Ne[T Unsigned](a, b T) bool { return a != b }
func LtU[T Unsigned](a, b T) bool { return a < b }
func GtU[T Unsigned](a, b T) bool { return a > b }
func LeU[T Unsigned](a, b T) bool { return a <= b }
func GeU[T Unsigned](a, b T) bool { return a >= b }

// LtS, GtS, LeS, GeS interpret operands as two's-complement signed values of
// the same width. Go's numeric conversions already implement two's
// complement reinterpretation, so signed(x) is just a cast via int32/int64.
func LtS32(a, b uint32) bool { return int32(a) < int32(b) }
func GtS32(a, b uint32) bool { return int32(a) > int32(b) }
func LeS32(a, b uint32) bool { return int32(a) <= int32(b) }
func GeS32(a, b uint32) bool { return int32(a) >= int32(b) }

func LtS64(a, b uint64) bool { return int64(a) < int64(b) }
func GtS64(a, b uint64) bool { return int64(a) > int64(b) }
func LeS64(a, b uint64) bool { return int64(a) <= int64(b) }
func GeS64(a, b uint64) bool { return int64(a) >= int64(b) }

// Add, Sub, Mul wrap modulo 2^N, which is precisely what Go's unsigned
// arithmetic already does.
func Add[T Unsigned](a, b T) T { return a + b }
func Sub[T Unsigned](a, b T) T { return a - b }
func Mul[T Unsigned](a, b T) T { return a * b }

func And[T Unsigned](a, b T) T { return a & b }
func Or[T Unsigned](a, b T) T  { return a | b }
func Xor[T Unsigned](a, b T) T { return a ^ b }
func Not[T Unsigned](a T) T    { return ^a }

// DivU, RemU are unsigned division/remainder. Callers must check b != 0
// themselves (see interpreter, which raises IntegerDivideByZero) — this
// package implements pure arithmetic laws only, not trap semantics, as it
// has no notion of a trap.
func DivU[T Unsigned](a, b T) T { return a / b }
func RemU[T Unsigned](a, b T) T { return a % b }

func DivS32(a, b uint32) uint32 { return uint32(int32(a) / int32(b)) }
func RemS32(a, b uint32) uint32 { return uint32(int32(a) % int32(b)) }
func DivS64(a, b uint64) uint64 { return uint64(int64(a) / int64(b)) }
func RemS64(a, b uint64) uint64 { return uint64(int64(a) % int64(b)) }

// Shl, ShrU reduce the shift amount modulo the width before shifting, per
// the numeric instruction set. Go's native shift operators on unsigned integers with a
// shift count >= width do not wrap (they produce zero or panic depending on
// constant-ness), so the modulo reduction must be explicit.
func Shl[T Unsigned](v, n T) T {
	return v << (n % T(Len[T]()))
}

func ShrU[T Unsigned](v, n T) T {
	return v >> (n % T(Len[T]()))
}

// ShrS is arithmetic (sign-preserving) right shift.
func ShrS32(v, n uint32) uint32 { return uint32(int32(v) >> (n % 32)) }
func ShrS64(v, n uint64) uint64 { return uint64(int64(v) >> (n % 64)) }

func Rotl[T Unsigned](v, n T) T {
	length := T(Len[T]())
	n %= length
	if n == 0 {
		return v
	}
	return (v << n) | (v >> (length - n))
}

func Rotr[T Unsigned](v, n T) T {
	length := T(Len[T]())
	n %= length
	if n == 0 {
		return v
	}
	return (v >> n) | (v << (length - n))
}

// MinSigned32/64 are the dividends that, divided by -1, make signed
// division overflow: the numeric instruction set requires IntegerOverflow, not a wrapped
// result or a crash, specifically for min_signed / -1.
const (
	MinSigned32 uint32 = 1 << 31
	MinSigned64 uint64 = 1 << 63
)

// IsSignedDivOverflow32/64 reports whether a signed div/rem by b would
// overflow (the min_signed / -1 case). div_s callers trap IntegerOverflow
// instead of performing the division; rem_s callers push 0.
func IsSignedDivOverflow32(a, b uint32) bool {
	return a == MinSigned32 && int32(b) == -1
}

func IsSignedDivOverflow64(a, b uint64) bool {
	return a == MinSigned64 && int64(b) == -1
}
