package interpreter

import (
	"math"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/numeric"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// execNumeric dispatches every numeric unary/binary/test/relational/
// conversion instruction that isn't a constant, load or store. Operand
// kinds are guaranteed correct by validation, so each case pops exactly
// what it needs and never checks a tag.
func execNumeric(op wasm.Opcode, stack *[]uint64) {
	switch op {
	// --- i32 test/relational ---
	case wasm.OpI32Eqz:
		push(stack, boolU64(numeric.Eqz(uint32(pop(stack)))))
	case wasm.OpI32Eq:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.Eq(a, b)))
	case wasm.OpI32Ne:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.Ne(a, b)))
	case wasm.OpI32LtS:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.LtS32(a, b)))
	case wasm.OpI32LtU:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.LtU(a, b)))
	case wasm.OpI32GtS:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.GtS32(a, b)))
	case wasm.OpI32GtU:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.GtU(a, b)))
	case wasm.OpI32LeS:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.LeS32(a, b)))
	case wasm.OpI32LeU:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.LeU(a, b)))
	case wasm.OpI32GeS:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.GeS32(a, b)))
	case wasm.OpI32GeU:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, boolU64(numeric.GeU(a, b)))

	// --- i64 test/relational ---
	case wasm.OpI64Eqz:
		push(stack, boolU64(numeric.Eqz(pop(stack))))
	case wasm.OpI64Eq:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.Eq(a, b)))
	case wasm.OpI64Ne:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.Ne(a, b)))
	case wasm.OpI64LtS:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.LtS64(a, b)))
	case wasm.OpI64LtU:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.LtU(a, b)))
	case wasm.OpI64GtS:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.GtS64(a, b)))
	case wasm.OpI64GtU:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.GtU(a, b)))
	case wasm.OpI64LeS:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.LeS64(a, b)))
	case wasm.OpI64LeU:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.LeU(a, b)))
	case wasm.OpI64GeS:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.GeS64(a, b)))
	case wasm.OpI64GeU:
		b, a := pop(stack), pop(stack)
		push(stack, boolU64(numeric.GeU(a, b)))

	// --- float relational ---
	case wasm.OpF32Eq:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, boolU64(a == b))
	case wasm.OpF32Ne:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, boolU64(a != b))
	case wasm.OpF32Lt:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, boolU64(a < b))
	case wasm.OpF32Gt:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, boolU64(a > b))
	case wasm.OpF32Le:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, boolU64(a <= b))
	case wasm.OpF32Ge:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, boolU64(a >= b))
	case wasm.OpF64Eq:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, boolU64(a == b))
	case wasm.OpF64Ne:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, boolU64(a != b))
	case wasm.OpF64Lt:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, boolU64(a < b))
	case wasm.OpF64Gt:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, boolU64(a > b))
	case wasm.OpF64Le:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, boolU64(a <= b))
	case wasm.OpF64Ge:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, boolU64(a >= b))

	// --- i32 arithmetic/bitwise/shift ---
	case wasm.OpI32Clz:
		push(stack, uint64(numeric.Clz(uint32(pop(stack)))))
	case wasm.OpI32Ctz:
		push(stack, uint64(numeric.Ctz(uint32(pop(stack)))))
	case wasm.OpI32Popcnt:
		push(stack, uint64(numeric.Popcnt(uint32(pop(stack)))))
	case wasm.OpI32Add:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.Add(a, b)))
	case wasm.OpI32Sub:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.Sub(a, b)))
	case wasm.OpI32Mul:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.Mul(a, b)))
	case wasm.OpI32DivS:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		if b == 0 {
			raiseTrap(wasmruntime.TrapKindIntegerDivideByZero)
		}
		if numeric.IsSignedDivOverflow32(a, b) {
			raiseTrap(wasmruntime.TrapKindIntegerOverflow)
		}
		push(stack, uint64(numeric.DivS32(a, b)))
	case wasm.OpI32DivU:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		if b == 0 {
			raiseTrap(wasmruntime.TrapKindIntegerDivideByZero)
		}
		push(stack, uint64(numeric.DivU(a, b)))
	case wasm.OpI32RemS:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		if b == 0 {
			raiseTrap(wasmruntime.TrapKindIntegerDivideByZero)
		}
		if numeric.IsSignedDivOverflow32(a, b) {
			push(stack, 0)
		} else {
			push(stack, uint64(numeric.RemS32(a, b)))
		}
	case wasm.OpI32RemU:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		if b == 0 {
			raiseTrap(wasmruntime.TrapKindIntegerDivideByZero)
		}
		push(stack, uint64(numeric.RemU(a, b)))
	case wasm.OpI32And:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.And(a, b)))
	case wasm.OpI32Or:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.Or(a, b)))
	case wasm.OpI32Xor:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.Xor(a, b)))
	case wasm.OpI32Shl:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.Shl(a, b)))
	case wasm.OpI32ShrS:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.ShrS32(a, b)))
	case wasm.OpI32ShrU:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.ShrU(a, b)))
	case wasm.OpI32Rotl:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.Rotl(a, b)))
	case wasm.OpI32Rotr:
		b, a := uint32(pop(stack)), uint32(pop(stack))
		push(stack, uint64(numeric.Rotr(a, b)))

	// --- i64 arithmetic/bitwise/shift ---
	case wasm.OpI64Clz:
		push(stack, numeric.Clz(pop(stack)))
	case wasm.OpI64Ctz:
		push(stack, numeric.Ctz(pop(stack)))
	case wasm.OpI64Popcnt:
		push(stack, numeric.Popcnt(pop(stack)))
	case wasm.OpI64Add:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.Add(a, b))
	case wasm.OpI64Sub:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.Sub(a, b))
	case wasm.OpI64Mul:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.Mul(a, b))
	case wasm.OpI64DivS:
		b, a := pop(stack), pop(stack)
		if b == 0 {
			raiseTrap(wasmruntime.TrapKindIntegerDivideByZero)
		}
		if numeric.IsSignedDivOverflow64(a, b) {
			raiseTrap(wasmruntime.TrapKindIntegerOverflow)
		}
		push(stack, numeric.DivS64(a, b))
	case wasm.OpI64DivU:
		b, a := pop(stack), pop(stack)
		if b == 0 {
			raiseTrap(wasmruntime.TrapKindIntegerDivideByZero)
		}
		push(stack, numeric.DivU(a, b))
	case wasm.OpI64RemS:
		b, a := pop(stack), pop(stack)
		if b == 0 {
			raiseTrap(wasmruntime.TrapKindIntegerDivideByZero)
		}
		if numeric.IsSignedDivOverflow64(a, b) {
			push(stack, 0)
		} else {
			push(stack, numeric.RemS64(a, b))
		}
	case wasm.OpI64RemU:
		b, a := pop(stack), pop(stack)
		if b == 0 {
			raiseTrap(wasmruntime.TrapKindIntegerDivideByZero)
		}
		push(stack, numeric.RemU(a, b))
	case wasm.OpI64And:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.And(a, b))
	case wasm.OpI64Or:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.Or(a, b))
	case wasm.OpI64Xor:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.Xor(a, b))
	case wasm.OpI64Shl:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.Shl(a, b))
	case wasm.OpI64ShrS:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.ShrS64(a, b))
	case wasm.OpI64ShrU:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.ShrU(a, b))
	case wasm.OpI64Rotl:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.Rotl(a, b))
	case wasm.OpI64Rotr:
		b, a := pop(stack), pop(stack)
		push(stack, numeric.Rotr(a, b))

	// --- f32 unary/binary ---
	case wasm.OpF32Abs:
		push(stack, uint64(api.EncodeF32(float32(math.Abs(float64(api.DecodeF32(pop(stack))))))))
	case wasm.OpF32Neg:
		push(stack, uint64(api.EncodeF32(-api.DecodeF32(pop(stack)))))
	case wasm.OpF32Ceil:
		push(stack, uint64(api.EncodeF32(float32(math.Ceil(float64(api.DecodeF32(pop(stack))))))))
	case wasm.OpF32Floor:
		push(stack, uint64(api.EncodeF32(float32(math.Floor(float64(api.DecodeF32(pop(stack))))))))
	case wasm.OpF32Trunc:
		push(stack, uint64(api.EncodeF32(float32(math.Trunc(float64(api.DecodeF32(pop(stack))))))))
	case wasm.OpF32Nearest:
		push(stack, uint64(api.EncodeF32(float32(math.RoundToEven(float64(api.DecodeF32(pop(stack))))))))
	case wasm.OpF32Sqrt:
		push(stack, uint64(api.EncodeF32(float32(math.Sqrt(float64(api.DecodeF32(pop(stack))))))))
	case wasm.OpF32Add:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, api.EncodeF32(a+b))
	case wasm.OpF32Sub:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, api.EncodeF32(a-b))
	case wasm.OpF32Mul:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, api.EncodeF32(a*b))
	case wasm.OpF32Div:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, api.EncodeF32(a/b))
	case wasm.OpF32Min:
		b, a := float64(api.DecodeF32(pop(stack))), float64(api.DecodeF32(pop(stack)))
		push(stack, uint64(api.EncodeF32(float32(numeric.WasmCompatMin(a, b)))))
	case wasm.OpF32Max:
		b, a := float64(api.DecodeF32(pop(stack))), float64(api.DecodeF32(pop(stack)))
		push(stack, uint64(api.EncodeF32(float32(numeric.WasmCompatMax(a, b)))))
	case wasm.OpF32Copysign:
		b, a := api.DecodeF32(pop(stack)), api.DecodeF32(pop(stack))
		push(stack, api.EncodeF32(float32(math.Copysign(float64(a), float64(b)))))

	// --- f64 unary/binary ---
	case wasm.OpF64Abs:
		push(stack, api.EncodeF64(math.Abs(api.DecodeF64(pop(stack)))))
	case wasm.OpF64Neg:
		push(stack, api.EncodeF64(-api.DecodeF64(pop(stack))))
	case wasm.OpF64Ceil:
		push(stack, api.EncodeF64(math.Ceil(api.DecodeF64(pop(stack)))))
	case wasm.OpF64Floor:
		push(stack, api.EncodeF64(math.Floor(api.DecodeF64(pop(stack)))))
	case wasm.OpF64Trunc:
		push(stack, api.EncodeF64(math.Trunc(api.DecodeF64(pop(stack)))))
	case wasm.OpF64Nearest:
		push(stack, api.EncodeF64(math.RoundToEven(api.DecodeF64(pop(stack)))))
	case wasm.OpF64Sqrt:
		push(stack, api.EncodeF64(math.Sqrt(api.DecodeF64(pop(stack)))))
	case wasm.OpF64Add:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, api.EncodeF64(a+b))
	case wasm.OpF64Sub:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, api.EncodeF64(a-b))
	case wasm.OpF64Mul:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, api.EncodeF64(a*b))
	case wasm.OpF64Div:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, api.EncodeF64(a/b))
	case wasm.OpF64Min:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, api.EncodeF64(numeric.WasmCompatMin(a, b)))
	case wasm.OpF64Max:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, api.EncodeF64(numeric.WasmCompatMax(a, b)))
	case wasm.OpF64Copysign:
		b, a := api.DecodeF64(pop(stack)), api.DecodeF64(pop(stack))
		push(stack, api.EncodeF64(math.Copysign(a, b)))

	// --- conversions ---
	case wasm.OpI32WrapI64:
		push(stack, uint64(uint32(pop(stack))))
	case wasm.OpI32TruncF32S:
		push(stack, uint64(uint32(truncToInt(float64(api.DecodeF32(pop(stack))), -2147483648, 2147483647))))
	case wasm.OpI32TruncF32U:
		push(stack, uint64(uint32(truncToUint(float64(api.DecodeF32(pop(stack))), 4294967295))))
	case wasm.OpI32TruncF64S:
		push(stack, uint64(uint32(truncToInt(api.DecodeF64(pop(stack)), -2147483648, 2147483647))))
	case wasm.OpI32TruncF64U:
		push(stack, uint64(uint32(truncToUint(api.DecodeF64(pop(stack)), 4294967295))))
	case wasm.OpI64ExtendI32S:
		push(stack, uint64(int64(int32(uint32(pop(stack))))))
	case wasm.OpI64ExtendI32U:
		push(stack, uint64(uint32(pop(stack))))
	case wasm.OpI64TruncF32S:
		push(stack, uint64(truncToInt64(float64(api.DecodeF32(pop(stack))), true)))
	case wasm.OpI64TruncF32U:
		push(stack, truncToUint64(float64(api.DecodeF32(pop(stack)))))
	case wasm.OpI64TruncF64S:
		push(stack, uint64(truncToInt64(api.DecodeF64(pop(stack)), true)))
	case wasm.OpI64TruncF64U:
		push(stack, truncToUint64(api.DecodeF64(pop(stack))))
	case wasm.OpF32ConvertI32S:
		push(stack, uint64(api.EncodeF32(float32(int32(uint32(pop(stack)))))))
	case wasm.OpF32ConvertI32U:
		push(stack, uint64(api.EncodeF32(float32(uint32(pop(stack))))))
	case wasm.OpF32ConvertI64S:
		push(stack, uint64(api.EncodeF32(float32(int64(pop(stack))))))
	case wasm.OpF32ConvertI64U:
		push(stack, uint64(api.EncodeF32(float32(pop(stack)))))
	case wasm.OpF32DemoteF64:
		push(stack, uint64(api.EncodeF32(float32(api.DecodeF64(pop(stack))))))
	case wasm.OpF64ConvertI32S:
		push(stack, api.EncodeF64(float64(int32(uint32(pop(stack))))))
	case wasm.OpF64ConvertI32U:
		push(stack, api.EncodeF64(float64(uint32(pop(stack)))))
	case wasm.OpF64ConvertI64S:
		push(stack, api.EncodeF64(float64(int64(pop(stack)))))
	case wasm.OpF64ConvertI64U:
		push(stack, api.EncodeF64(float64(pop(stack))))
	case wasm.OpF64PromoteF32:
		push(stack, api.EncodeF64(float64(api.DecodeF32(pop(stack)))))
	case wasm.OpI32ReinterpretF32, wasm.OpI64ReinterpretF64, wasm.OpF32ReinterpretI32, wasm.OpF64ReinterpretI64:
		// bit pattern is already the representation on the stack.

	case wasm.OpI32Extend8S:
		push(stack, uint64(uint32(int32(int8(uint8(pop(stack)))))))
	case wasm.OpI32Extend16S:
		push(stack, uint64(uint32(int32(int16(uint16(pop(stack)))))))
	case wasm.OpI64Extend8S:
		push(stack, uint64(int64(int8(uint8(pop(stack))))))
	case wasm.OpI64Extend16S:
		push(stack, uint64(int64(int16(uint16(pop(stack))))))
	case wasm.OpI64Extend32S:
		push(stack, uint64(int64(int32(uint32(pop(stack))))))
	}
}

// truncToInt implements trunc_s for 32-bit destinations: NaN and
// out-of-range values trap InvalidConversionToInteger rather than saturate.
func truncToInt(v float64, min, max float64) int64 {
	if math.IsNaN(v) {
		raiseTrap(wasmruntime.TrapKindInvalidConversionToInteger)
	}
	t := math.Trunc(v)
	if t < min || t > max {
		raiseTrap(wasmruntime.TrapKindInvalidConversionToInteger)
	}
	return int64(t)
}

func truncToUint(v float64, max float64) uint64 {
	if math.IsNaN(v) {
		raiseTrap(wasmruntime.TrapKindInvalidConversionToInteger)
	}
	t := math.Trunc(v)
	if t < 0 || t > max {
		raiseTrap(wasmruntime.TrapKindInvalidConversionToInteger)
	}
	return uint64(t)
}

func truncToInt64(v float64, _ bool) int64 {
	if math.IsNaN(v) {
		raiseTrap(wasmruntime.TrapKindInvalidConversionToInteger)
	}
	t := math.Trunc(v)
	if t < -9223372036854775808 || t >= 9223372036854775808 {
		raiseTrap(wasmruntime.TrapKindInvalidConversionToInteger)
	}
	return int64(t)
}

func truncToUint64(v float64) uint64 {
	if math.IsNaN(v) {
		raiseTrap(wasmruntime.TrapKindInvalidConversionToInteger)
	}
	t := math.Trunc(v)
	if t < 0 || t >= 18446744073709551616 {
		raiseTrap(wasmruntime.TrapKindInvalidConversionToInteger)
	}
	return uint64(t)
}
