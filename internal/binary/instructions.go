package binary

import (
	"bufio"
	"fmt"
	"io"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/leb128"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

// decodeInstructions reads a sequence of instructions up to and consuming a
// matching 0x0b (end) byte. It is called both for a function's top-level
// body and recursively for the bodies of block/loop/if.
func decodeInstructions(r *bufio.Reader) ([]wasm.Instruction, error) {
	var out []wasm.Instruction
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == 0x0b { // end
			return out, nil
		}
		if b == 0x05 { // else: only valid inside an if's "then" body, handled by caller
			return out, errElseSentinel
		}
		instr, err := decodeOne(r, b)
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
	}
}

// errElseSentinel signals decodeInstructions returning control at an `else`
// byte; decodeOne's `if` case intercepts it to split the two arms.
var errElseSentinel = fmt.Errorf("%w: unexpected else", wasmruntime.ErrModuleDecode)

func readBlockType(r *bufio.Reader) (wasm.BlockType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return wasm.BlockType{}, err
	}
	if b == 0x40 {
		return wasm.BlockType{IsEmpty: true}, nil
	}
	switch api.ValueType(b) {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeExternref, api.ValueTypeFuncref:
		return wasm.BlockType{HasValue: true, ValueType: api.ValueType(b)}, nil
	}
	// Otherwise it's an SLEB128-encoded (positive) type index.
	if err := r.UnreadByte(); err != nil {
		return wasm.BlockType{}, err
	}
	idx, err := leb128.DecodeInt64(r)
	if err != nil {
		return wasm.BlockType{}, err
	}
	return wasm.BlockType{HasTypeIdx: true, TypeIndex: wasm.Index(idx)}, nil
}

func decodeOne(r *bufio.Reader, b byte) (wasm.Instruction, error) {
	switch b {
	case 0x00:
		return wasm.Instruction{Op: wasm.OpUnreachable}, nil
	case 0x01:
		return wasm.Instruction{Op: wasm.OpNop}, nil
	case 0x02, 0x03, 0x04:
		bt, err := readBlockType(r)
		if err != nil {
			return wasm.Instruction{}, err
		}
		switch b {
		case 0x02:
			body, err := decodeInstructions(r)
			if err != nil {
				return wasm.Instruction{}, err
			}
			return wasm.Instruction{Op: wasm.OpBlock, Block: bt, Body: body}, nil
		case 0x03:
			body, err := decodeInstructions(r)
			if err != nil {
				return wasm.Instruction{}, err
			}
			return wasm.Instruction{Op: wasm.OpLoop, Block: bt, Body: body}, nil
		default: // 0x04: if
			then, err := decodeInstructions(r)
			var elseBody []wasm.Instruction
			if err == errElseSentinel {
				elseBody, err = decodeInstructions(r)
			}
			if err != nil {
				return wasm.Instruction{}, err
			}
			return wasm.Instruction{Op: wasm.OpIf, Block: bt, Body: then, Else: elseBody}, nil
		}
	case 0x0c:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpBr, Index: idx}, err
	case 0x0d:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpBrIf, Index: idx}, err
	case 0x0e:
		n, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Instruction{}, err
		}
		labels := make([]wasm.Index, n)
		for i := range labels {
			labels[i], err = leb128.DecodeUint32(r)
			if err != nil {
				return wasm.Instruction{}, err
			}
		}
		def, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpBrTable, Labels: labels, Default: def}, err
	case 0x0f:
		return wasm.Instruction{Op: wasm.OpReturn}, nil
	case 0x10:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpCall, Index: idx}, err
	case 0x11:
		typeIdx, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Instruction{}, err
		}
		tblIdx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpCallIndirect, Index: tblIdx, Index2: typeIdx}, err

	case 0x1a:
		return wasm.Instruction{Op: wasm.OpDrop}, nil
	case 0x1b, 0x1c: // select, select t* (typed select; type list is ignored, runtime shape is the same)
		if b == 0x1c {
			n, err := leb128.DecodeUint32(r)
			if err != nil {
				return wasm.Instruction{}, err
			}
			for i := uint32(0); i < n; i++ {
				if _, err := valType(r); err != nil {
					return wasm.Instruction{}, err
				}
			}
		}
		return wasm.Instruction{Op: wasm.OpSelect}, nil

	case 0x20:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpLocalGet, Index: idx}, err
	case 0x21:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpLocalSet, Index: idx}, err
	case 0x22:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpLocalTee, Index: idx}, err
	case 0x23:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpGlobalGet, Index: idx}, err
	case 0x24:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpGlobalSet, Index: idx}, err

	case 0x25:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpTableGet, Index: idx}, err
	case 0x26:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpTableSet, Index: idx}, err

	case 0x28, 0x29, 0x2a, 0x2b, 0x2c, 0x2d, 0x2e, 0x2f,
		0x30, 0x31, 0x32, 0x33, 0x34, 0x35,
		0x36, 0x37, 0x38, 0x39, 0x3a, 0x3b, 0x3c, 0x3d, 0x3e:
		return decodeMemOp(r, b)

	case 0x3f:
		if _, err := r.ReadByte(); err != nil { // reserved 0x00
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Op: wasm.OpMemorySize}, nil
	case 0x40:
		if _, err := r.ReadByte(); err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Op: wasm.OpMemoryGrow}, nil

	case 0x41:
		v, err := leb128.DecodeInt32(r)
		return wasm.Instruction{Op: wasm.OpI32Const, Imm: uint64(uint32(v))}, err
	case 0x42:
		v, err := leb128.DecodeInt64(r)
		return wasm.Instruction{Op: wasm.OpI64Const, Imm: uint64(v)}, err
	case 0x43:
		var buf [4]byte
		_, err := io.ReadFull(r, buf[:])
		return wasm.Instruction{Op: wasm.OpF32Const, Imm: uint64(le32(buf[:]))}, err
	case 0x44:
		var buf [8]byte
		_, err := io.ReadFull(r, buf[:])
		return wasm.Instruction{Op: wasm.OpF64Const, Imm: le64(buf[:])}, err

	case 0xd0:
		rt, err := valType(r)
		return wasm.Instruction{Op: wasm.OpRefNull, RefType: rt}, err
	case 0xd1:
		return wasm.Instruction{Op: wasm.OpRefIsNull}, nil
	case 0xd2:
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpRefFunc, Index: idx}, err

	case 0xfc:
		return decodeMiscOp(r)

	default:
		if op, ok := simpleNumeric[b]; ok {
			return wasm.Instruction{Op: op}, nil
		}
		return wasm.Instruction{}, fmt.Errorf("%w: unsupported opcode 0x%x", wasmruntime.ErrModuleDecode, b)
	}
}

var memOpOpcode = map[byte]wasm.Opcode{
	0x28: wasm.OpI32Load, 0x29: wasm.OpI64Load, 0x2a: wasm.OpF32Load, 0x2b: wasm.OpF64Load,
	0x2c: wasm.OpI32Load8S, 0x2d: wasm.OpI32Load8U, 0x2e: wasm.OpI32Load16S, 0x2f: wasm.OpI32Load16U,
	0x30: wasm.OpI64Load8S, 0x31: wasm.OpI64Load8U, 0x32: wasm.OpI64Load16S, 0x33: wasm.OpI64Load16U,
	0x34: wasm.OpI64Load32S, 0x35: wasm.OpI64Load32U,
	0x36: wasm.OpI32Store, 0x37: wasm.OpI64Store, 0x38: wasm.OpF32Store, 0x39: wasm.OpF64Store,
	0x3a: wasm.OpI32Store8, 0x3b: wasm.OpI32Store16,
	0x3c: wasm.OpI64Store8, 0x3d: wasm.OpI64Store16, 0x3e: wasm.OpI64Store32,
}

func decodeMemOp(r *bufio.Reader, b byte) (wasm.Instruction, error) {
	align, err := leb128.DecodeUint32(r)
	if err != nil {
		return wasm.Instruction{}, err
	}
	offset, err := leb128.DecodeUint32(r)
	if err != nil {
		return wasm.Instruction{}, err
	}
	return wasm.Instruction{Op: memOpOpcode[b], Mem: wasm.MemArg{Offset: offset, Align: align}}, nil
}

// decodeMiscOp handles the 0xFC-prefixed bulk-memory/table-op space, which
// the core opcode byte alone can't distinguish (they share the 0xFC prefix
// with an unsigned LEB128 sub-opcode).
func decodeMiscOp(r *bufio.Reader) (wasm.Instruction, error) {
	sub, err := leb128.DecodeUint32(r)
	if err != nil {
		return wasm.Instruction{}, err
	}
	switch sub {
	case 8: // memory.init
		dataIdx, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Instruction{}, err
		}
		if _, err := r.ReadByte(); err != nil { // memory index, always 0
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Op: wasm.OpMemoryInit, Index: dataIdx}, nil
	case 9: // data.drop
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpDataDrop, Index: idx}, err
	case 10: // memory.copy
		if _, err := r.ReadByte(); err != nil {
			return wasm.Instruction{}, err
		}
		if _, err := r.ReadByte(); err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Op: wasm.OpMemoryCopy}, nil
	case 11: // memory.fill
		if _, err := r.ReadByte(); err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Op: wasm.OpMemoryFill}, nil
	case 12: // table.init
		elemIdx, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Instruction{}, err
		}
		tblIdx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpTableInit, Index: tblIdx, Index2: elemIdx}, err
	case 13: // elem.drop
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpElemDrop, Index: idx}, err
	case 14: // table.copy
		dst, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Instruction{}, err
		}
		src, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpTableCopy, Index: dst, Index2: src}, err
	case 15: // table.grow
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpTableGrow, Index: idx}, err
	case 16: // table.size
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpTableSize, Index: idx}, err
	case 17: // table.fill
		idx, err := leb128.DecodeUint32(r)
		return wasm.Instruction{Op: wasm.OpTableFill, Index: idx}, err
	case 0, 1, 2, 3, 4, 5, 6, 7:
		// i32/i64 trunc_sat_f32/f64 s/u: saturating conversions are outside
		// this interpreter's implemented opcode set (vector/saturating
		// conversion territory excluded alongside SIMD).
		return wasm.Instruction{}, fmt.Errorf("%w: saturating truncation not implemented", wasmruntime.ErrModuleDecode)
	default:
		return wasm.Instruction{}, fmt.Errorf("%w: unsupported misc opcode %d", wasmruntime.ErrModuleDecode, sub)
	}
}

// simpleNumeric maps every fixed-width, operand-less core numeric opcode
// directly onto its Opcode. Control/variable/memory/table opcodes above are
// handled structurally in decodeOne since they carry immediates or nested
// bodies.
var simpleNumeric = map[byte]wasm.Opcode{
	0x45: wasm.OpI32Eqz, 0x46: wasm.OpI32Eq, 0x47: wasm.OpI32Ne,
	0x48: wasm.OpI32LtS, 0x49: wasm.OpI32LtU, 0x4a: wasm.OpI32GtS, 0x4b: wasm.OpI32GtU,
	0x4c: wasm.OpI32LeS, 0x4d: wasm.OpI32LeU, 0x4e: wasm.OpI32GeS, 0x4f: wasm.OpI32GeU,

	0x50: wasm.OpI64Eqz, 0x51: wasm.OpI64Eq, 0x52: wasm.OpI64Ne,
	0x53: wasm.OpI64LtS, 0x54: wasm.OpI64LtU, 0x55: wasm.OpI64GtS, 0x56: wasm.OpI64GtU,
	0x57: wasm.OpI64LeS, 0x58: wasm.OpI64LeU, 0x59: wasm.OpI64GeS, 0x5a: wasm.OpI64GeU,

	0x5b: wasm.OpF32Eq, 0x5c: wasm.OpF32Ne, 0x5d: wasm.OpF32Lt, 0x5e: wasm.OpF32Gt,
	0x5f: wasm.OpF32Le, 0x60: wasm.OpF32Ge,

	0x61: wasm.OpF64Eq, 0x62: wasm.OpF64Ne, 0x63: wasm.OpF64Lt, 0x64: wasm.OpF64Gt,
	0x65: wasm.OpF64Le, 0x66: wasm.OpF64Ge,

	0x67: wasm.OpI32Clz, 0x68: wasm.OpI32Ctz, 0x69: wasm.OpI32Popcnt,
	0x6a: wasm.OpI32Add, 0x6b: wasm.OpI32Sub, 0x6c: wasm.OpI32Mul,
	0x6d: wasm.OpI32DivS, 0x6e: wasm.OpI32DivU, 0x6f: wasm.OpI32RemS, 0x70: wasm.OpI32RemU,
	0x71: wasm.OpI32And, 0x72: wasm.OpI32Or, 0x73: wasm.OpI32Xor,
	0x74: wasm.OpI32Shl, 0x75: wasm.OpI32ShrS, 0x76: wasm.OpI32ShrU,
	0x77: wasm.OpI32Rotl, 0x78: wasm.OpI32Rotr,

	0x79: wasm.OpI64Clz, 0x7a: wasm.OpI64Ctz, 0x7b: wasm.OpI64Popcnt,
	0x7c: wasm.OpI64Add, 0x7d: wasm.OpI64Sub, 0x7e: wasm.OpI64Mul,
	0x7f: wasm.OpI64DivS, 0x80: wasm.OpI64DivU, 0x81: wasm.OpI64RemS, 0x82: wasm.OpI64RemU,
	0x83: wasm.OpI64And, 0x84: wasm.OpI64Or, 0x85: wasm.OpI64Xor,
	0x86: wasm.OpI64Shl, 0x87: wasm.OpI64ShrS, 0x88: wasm.OpI64ShrU,
	0x89: wasm.OpI64Rotl, 0x8a: wasm.OpI64Rotr,

	0x8b: wasm.OpF32Abs, 0x8c: wasm.OpF32Neg, 0x8d: wasm.OpF32Ceil, 0x8e: wasm.OpF32Floor,
	0x8f: wasm.OpF32Trunc, 0x90: wasm.OpF32Nearest, 0x91: wasm.OpF32Sqrt,
	0x92: wasm.OpF32Add, 0x93: wasm.OpF32Sub, 0x94: wasm.OpF32Mul, 0x95: wasm.OpF32Div,
	0x96: wasm.OpF32Min, 0x97: wasm.OpF32Max, 0x98: wasm.OpF32Copysign,

	0x99: wasm.OpF64Abs, 0x9a: wasm.OpF64Neg, 0x9b: wasm.OpF64Ceil, 0x9c: wasm.OpF64Floor,
	0x9d: wasm.OpF64Trunc, 0x9e: wasm.OpF64Nearest, 0x9f: wasm.OpF64Sqrt,
	0xa0: wasm.OpF64Add, 0xa1: wasm.OpF64Sub, 0xa2: wasm.OpF64Mul, 0xa3: wasm.OpF64Div,
	0xa4: wasm.OpF64Min, 0xa5: wasm.OpF64Max, 0xa6: wasm.OpF64Copysign,

	0xa7: wasm.OpI32WrapI64,
	0xa8: wasm.OpI32TruncF32S, 0xa9: wasm.OpI32TruncF32U,
	0xaa: wasm.OpI32TruncF64S, 0xab: wasm.OpI32TruncF64U,
	0xac: wasm.OpI64ExtendI32S, 0xad: wasm.OpI64ExtendI32U,
	0xae: wasm.OpI64TruncF32S, 0xaf: wasm.OpI64TruncF32U,
	0xb0: wasm.OpI64TruncF64S, 0xb1: wasm.OpI64TruncF64U,
	0xb2: wasm.OpF32ConvertI32S, 0xb3: wasm.OpF32ConvertI32U,
	0xb4: wasm.OpF32ConvertI64S, 0xb5: wasm.OpF32ConvertI64U,
	0xb6: wasm.OpF32DemoteF64,
	0xb7: wasm.OpF64ConvertI32S, 0xb8: wasm.OpF64ConvertI32U,
	0xb9: wasm.OpF64ConvertI64S, 0xba: wasm.OpF64ConvertI64U,
	0xbb: wasm.OpF64PromoteF32,
	0xbc: wasm.OpI32ReinterpretF32, 0xbd: wasm.OpI64ReinterpretF64,
	0xbe: wasm.OpF32ReinterpretI32, 0xbf: wasm.OpF64ReinterpretI64,

	0xc0: wasm.OpI32Extend8S, 0xc1: wasm.OpI32Extend16S,
	0xc2: wasm.OpI64Extend8S, 0xc3: wasm.OpI64Extend16S, 0xc4: wasm.OpI64Extend32S,
}
