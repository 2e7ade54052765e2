package wasm

import "github.com/stackwasm/stackwasm/api"

// Opcode enumerates the instruction set this interpreter evaluates. Unlike
// the wire encoding (which a binary decoder maps onto these values,
// collapsing multi-byte prefixed opcodes like the bulk-memory/table set into
// single members here), this is a flat, decoder-independent instruction
// space so the interpreter never has to know about byte-level encoding.
type Opcode int

const (
	OpUnreachable Opcode = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect

	OpDrop
	OpSelect

	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	OpTableGet
	OpTableSet
	OpTableSize
	OpTableGrow
	OpTableFill
	OpTableCopy
	OpTableInit
	OpElemDrop

	OpMemorySize
	OpMemoryGrow
	OpMemoryFill
	OpMemoryCopy
	OpMemoryInit
	OpDataDrop

	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI64Load8S
	OpI64Load8U
	OpI64Load16S
	OpI64Load16U
	OpI64Load32S
	OpI64Load32U
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpI64Store8
	OpI64Store16
	OpI64Store32

	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const

	OpRefNull
	OpRefFunc
	OpRefIsNull

	// Numeric unary/binary/test/relational/conversion ops, tagged by their
	// WebAssembly mnemonic.
	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU
	OpI64Eqz
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU
	OpF32Eq
	OpF32Ne
	OpF32Lt
	OpF32Gt
	OpF32Le
	OpF32Ge
	OpF64Eq
	OpF64Ne
	OpF64Lt
	OpF64Gt
	OpF64Le
	OpF64Ge

	OpI32Clz
	OpI32Ctz
	OpI32Popcnt
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI32Rotl
	OpI32Rotr

	OpI64Clz
	OpI64Ctz
	OpI64Popcnt
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	OpI64Rotl
	OpI64Rotr

	OpF32Abs
	OpF32Neg
	OpF32Ceil
	OpF32Floor
	OpF32Trunc
	OpF32Nearest
	OpF32Sqrt
	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF32Min
	OpF32Max
	OpF32Copysign

	OpF64Abs
	OpF64Neg
	OpF64Ceil
	OpF64Floor
	OpF64Trunc
	OpF64Nearest
	OpF64Sqrt
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div
	OpF64Min
	OpF64Max
	OpF64Copysign

	OpI32WrapI64
	OpI32TruncF32S
	OpI32TruncF32U
	OpI32TruncF64S
	OpI32TruncF64U
	OpI64ExtendI32S
	OpI64ExtendI32U
	OpI64TruncF32S
	OpI64TruncF32U
	OpI64TruncF64S
	OpI64TruncF64U
	OpF32ConvertI32S
	OpF32ConvertI32U
	OpF32ConvertI64S
	OpF32ConvertI64U
	OpF32DemoteF64
	OpF64ConvertI32S
	OpF64ConvertI32U
	OpF64ConvertI64S
	OpF64ConvertI64U
	OpF64PromoteF32
	OpI32ReinterpretF32
	OpI64ReinterpretF64
	OpF32ReinterpretI32
	OpF64ReinterpretI64

	OpI32Extend8S
	OpI32Extend16S
	OpI64Extend8S
	OpI64Extend16S
	OpI64Extend32S
)

// BlockType describes the arity of a structured control instruction: either
// a value-type shorthand (0 or 1 result, no params) or an index into the
// module's type section for the general multi-value form.
type BlockType struct {
	// ValueType is set (and TypeIndex ignored) for the common empty/single
	// result shorthand; IsEmpty is set exactly when neither a value nor a
	// type index applies.
	IsEmpty    bool
	ValueType  api.ValueType
	HasValue   bool
	TypeIndex  Index
	HasTypeIdx bool
}

// MemArg is the static offset/alignment pair attached to load/store
// instructions. Alignment is advisory only in this interpreter.
type MemArg struct {
	Offset uint32
	Align  uint32
}

// Instruction is one decoded step of a function body. Structured control
// instructions carry their nested bodies directly (Body, Else) rather than
// a flat label-relative jump target, which lets the interpreter evaluate
// control flow by straightforward recursion while still producing the
// branch/return/trap semantics it encodes.
type Instruction struct {
	Op Opcode

	// Index is the operand for local/global/func/table/mem/elem/data/type
	// referencing instructions (local.get, call, table.get, call_indirect's
	// table operand, etc).
	Index Index

	// Index2 is call_indirect's type index, table.copy's source table index,
	// or table.init's element segment index (Index holds the table index).
	Index2 Index

	// Imm holds the raw bit pattern for *.const (i32/f32 values sign/zero
	// extended into the low 32 bits, i64/f64 using the full 64 bits).
	Imm uint64

	// RefType is ref.null's operand type (funcref or externref).
	RefType api.ValueType

	Mem MemArg

	Block BlockType
	Body  []Instruction
	Else  []Instruction // only for OpIf

	// Labels and Default are br_table's branch targets, each a relative
	// depth counted from the br_table instruction itself.
	Labels  []Index
	Default Index
}
