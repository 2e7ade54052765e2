package interpreter

import (
	"context"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

// run evaluates body against stack, whose length at entry is base (the
// number of values belonging to enclosing blocks that this body must not
// touch). resultArity is how many values this body leaves on top of the
// stack when it completes normally or is branched-to-directly (depth 0).
//
// This walks the nested block/loop/if structure by Go recursion instead of
// a flat instruction pointer with an explicit label stack: both give
// identical observable behavior, and recursion lets Go's own call stack
// double as the label stack (bounded by maxCallDepth at the call boundary,
// not here, since block nesting within one function is itself bounded by
// validation).
func run(ctx context.Context, store *wasm.Store, fr *frame, body []wasm.Instruction, stack *[]uint64, base int, resultArity int) signal {
	for i := 0; i < len(body); i++ {
		instr := &body[i]

		if isLoadStore(instr.Op) {
			execMemOp(store, fr, instr, stack)
			continue
		}

		switch instr.Op {
		case wasm.OpUnreachable:
			raiseTrap(wasmruntime.TrapKindUnreachable)
		case wasm.OpNop:
			// no-op

		case wasm.OpBlock:
			arity := blockArity(fr.module, instr.Block, true)
			inner := len(*stack)
			sig := run(ctx, store, fr, instr.Body, stack, inner, arity)
			if sig.ret {
				return sig
			}
			if sig.branch {
				if sig.depth == 0 {
					branchTrim(stack, inner, arity)
					continue
				}
				return signal{branch: true, depth: sig.depth - 1}
			}

		case wasm.OpLoop:
			paramArity := blockArity(fr.module, instr.Block, false)
			for {
				inner := len(*stack)
				sig := run(ctx, store, fr, instr.Body, stack, inner, blockArity(fr.module, instr.Block, true))
				if sig.ret {
					return sig
				}
				if sig.branch {
					if sig.depth == 0 {
						branchTrim(stack, inner, paramArity)
						continue // restart the loop body
					}
					return signal{branch: true, depth: sig.depth - 1}
				}
				break
			}

		case wasm.OpIf:
			cond := pop(stack)
			arity := blockArity(fr.module, instr.Block, true)
			branch := instr.Body
			if cond == 0 {
				branch = instr.Else
			}
			inner := len(*stack)
			sig := run(ctx, store, fr, branch, stack, inner, arity)
			if sig.ret {
				return sig
			}
			if sig.branch {
				if sig.depth == 0 {
					branchTrim(stack, inner, arity)
					continue
				}
				return signal{branch: true, depth: sig.depth - 1}
			}

		case wasm.OpBr:
			return signal{branch: true, depth: instr.Index}

		case wasm.OpBrIf:
			if pop(stack) != 0 {
				return signal{branch: true, depth: instr.Index}
			}

		case wasm.OpBrTable:
			sel := uint32(pop(stack))
			target := instr.Default
			if sel < uint32(len(instr.Labels)) {
				target = instr.Labels[sel]
			}
			return signal{branch: true, depth: target}

		case wasm.OpReturn:
			// The function's results are already on top; invoke takes them
			// from there, so nothing is trimmed at this block's level.
			return signal{ret: true}

		case wasm.OpCall:
			execCall(ctx, store, fr, instr.Index, stack)

		case wasm.OpCallIndirect:
			execCallIndirect(ctx, store, fr, instr, stack)

		case wasm.OpDrop:
			pop(stack)

		case wasm.OpSelect:
			cond := pop(stack)
			b := pop(stack)
			a := pop(stack)
			if cond != 0 {
				push(stack, a)
			} else {
				push(stack, b)
			}

		case wasm.OpLocalGet:
			push(stack, fr.locals[instr.Index])
		case wasm.OpLocalSet:
			fr.locals[instr.Index] = pop(stack)
		case wasm.OpLocalTee:
			fr.locals[instr.Index] = top(stack)

		case wasm.OpGlobalGet:
			push(stack, store.GlobalRead(fr.module.Globals[instr.Index]))
		case wasm.OpGlobalSet:
			// A write to an immutable global can only reach here if an
			// unvalidated module slipped through; validation guarantees it
			// never does, so failure here is an implementation assertion,
			// not a guest-observable trap.
			if err := store.GlobalWrite(fr.module.Globals[instr.Index], pop(stack)); err != nil {
				panic(err)
			}

		case wasm.OpTableGet:
			i := uint32(pop(stack))
			v, t := store.TableRead(fr.module.Tables[instr.Index], i)
			if t != nil {
				panic(t)
			}
			push(stack, v)
		case wasm.OpTableSet:
			v := pop(stack)
			i := uint32(pop(stack))
			if t := store.TableWrite(fr.module.Tables[instr.Index], i, v); t != nil {
				panic(t)
			}
		case wasm.OpTableSize:
			push(stack, uint64(store.TableSize(fr.module.Tables[instr.Index])))
		case wasm.OpTableGrow:
			delta := uint32(pop(stack))
			init := pop(stack)
			prev, ok := store.TableGrow(fr.module.Tables[instr.Index], delta, init)
			if !ok {
				push(stack, uint64(uint32(0xFFFFFFFF)))
			} else {
				push(stack, uint64(prev))
			}
		case wasm.OpTableFill:
			n := uint32(pop(stack))
			v := pop(stack)
			d := uint32(pop(stack))
			execTableFill(store, fr.module.Tables[instr.Index], d, v, n)
		case wasm.OpTableCopy:
			n := uint32(pop(stack))
			s := uint32(pop(stack))
			d := uint32(pop(stack))
			execTableCopy(store, fr.module.Tables[instr.Index], fr.module.Tables[instr.Index2], d, s, n)
		case wasm.OpTableInit:
			n := uint32(pop(stack))
			s := uint32(pop(stack))
			d := uint32(pop(stack))
			execTableInit(store, fr.module.Tables[instr.Index], fr.module.Elems[instr.Index2], d, s, n)
		case wasm.OpElemDrop:
			store.ElemDrop(fr.module.Elems[instr.Index])

		case wasm.OpMemorySize:
			push(stack, uint64(store.Memory(fr.module.Mems[0]).Pages()))
		case wasm.OpMemoryGrow:
			delta := uint32(pop(stack))
			prev, ok := store.MemGrow(fr.module.Mems[0], delta)
			if !ok {
				push(stack, uint64(uint32(0xFFFFFFFF)))
			} else {
				push(stack, uint64(prev))
			}
		case wasm.OpMemoryFill:
			n := uint32(pop(stack))
			v := byte(pop(stack))
			d := uint32(pop(stack))
			execMemoryFill(store, fr.module.Mems[0], d, v, n)
		case wasm.OpMemoryCopy:
			n := uint32(pop(stack))
			s := uint32(pop(stack))
			d := uint32(pop(stack))
			execMemoryCopy(store, fr.module.Mems[0], d, s, n)
		case wasm.OpMemoryInit:
			n := uint32(pop(stack))
			s := uint32(pop(stack))
			d := uint32(pop(stack))
			execMemoryInit(store, fr.module.Mems[0], fr.module.Datas[instr.Index], d, s, n)
		case wasm.OpDataDrop:
			store.DataDrop(fr.module.Datas[instr.Index])

		case wasm.OpI32Const, wasm.OpI64Const, wasm.OpF32Const, wasm.OpF64Const:
			push(stack, instr.Imm)

		case wasm.OpRefNull:
			push(stack, api.RefNull)
		case wasm.OpRefFunc:
			push(stack, uint64(fr.module.Funcs[instr.Index])+1)
		case wasm.OpRefIsNull:
			if pop(stack) == api.RefNull {
				push(stack, 1)
			} else {
				push(stack, 0)
			}

		default:
			execNumeric(instr.Op, stack)
		}
	}
	return signal{}
}

func isLoadStore(op wasm.Opcode) bool {
	return op >= wasm.OpI32Load && op <= wasm.OpI64Store32
}

func pop(stack *[]uint64) uint64 {
	s := *stack
	v := s[len(s)-1]
	*stack = s[:len(s)-1]
	return v
}

func top(stack *[]uint64) uint64 {
	s := *stack
	return s[len(s)-1]
}

func push(stack *[]uint64, v uint64) {
	*stack = append(*stack, v)
}

// branchTrim implements the "pop values above the label down to its arity"
// rule: it keeps exactly the top `arity` values, discarding everything
// between them and `base` (the stack height when the targeted block began).
func branchTrim(stack *[]uint64, base, arity int) {
	s := *stack
	if len(s) == base+arity {
		return
	}
	top := append([]uint64(nil), s[len(s)-arity:]...)
	copy(s[base:], top)
	*stack = s[:base+arity]
}

// blockArity resolves a BlockType's arity: wantResults selects the result
// count (for block/if and for a loop's catch target) versus the parameter
// count (for a loop's own continuation).
func blockArity(mod *wasm.ModuleInstance, bt wasm.BlockType, wantResults bool) int {
	if bt.HasTypeIdx {
		t := mod.Types[bt.TypeIndex]
		if wantResults {
			return len(t.Results)
		}
		return len(t.Params)
	}
	if !wantResults {
		return 0
	}
	if bt.HasValue {
		return 1
	}
	return 0
}

func execCall(ctx context.Context, store *wasm.Store, fr *frame, idx wasm.Index, stack *[]uint64) {
	addr := fr.module.Funcs[idx]
	callAddr(ctx, store, fr, addr, stack)
}

func execCallIndirect(ctx context.Context, store *wasm.Store, fr *frame, instr *wasm.Instruction, stack *[]uint64) {
	i := uint32(pop(stack))
	tableAddr := fr.module.Tables[instr.Index]
	ref, t := store.TableRead(tableAddr, i)
	if t != nil {
		panic(t)
	}
	addr, ok := wasm.UnbiasRef(ref)
	if !ok {
		raiseTrap(wasmruntime.TrapKindUninitializedElement)
	}
	want := fr.module.Types[instr.Index2]
	got := store.FuncType(addr)
	if !want.EqualsSignature(got.Params, got.Results) {
		raiseTrap(wasmruntime.TrapKindIndirectCallTypeMismatch)
	}
	callAddr(ctx, store, fr, addr, stack)
}

// callAddr pops the callee's arguments (reverse declaration order, so
// locals end up declaration-ordered),
// invokes it, and pushes the results back in declaration order.
func callAddr(ctx context.Context, store *wasm.Store, fr *frame, addr wasm.FuncAddr, stack *[]uint64) {
	t := store.FuncType(addr)
	args := make([]uint64, len(t.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = pop(stack)
	}
	results := invoke(ctx, store, addr, args, fr.depth+1)
	for _, r := range results {
		push(stack, r)
	}
}

func execTableFill(store *wasm.Store, addr wasm.TableAddr, d uint32, v uint64, n uint32) {
	size := store.TableSize(addr)
	if uint64(d)+uint64(n) > uint64(size) {
		raiseTrap(wasmruntime.TrapKindOutOfBoundsTableAccess)
	}
	for i := uint32(0); i < n; i++ {
		_ = store.TableWrite(addr, d+i, v)
	}
}

func execTableCopy(store *wasm.Store, dst, src wasm.TableAddr, d, s, n uint32) {
	if uint64(d)+uint64(n) > uint64(store.TableSize(dst)) || uint64(s)+uint64(n) > uint64(store.TableSize(src)) {
		raiseTrap(wasmruntime.TrapKindOutOfBoundsTableAccess)
	}
	vals := make([]uint64, n)
	for i := uint32(0); i < n; i++ {
		vals[i], _ = store.TableRead(src, s+i)
	}
	for i := uint32(0); i < n; i++ {
		_ = store.TableWrite(dst, d+i, vals[i])
	}
}

func execTableInit(store *wasm.Store, dst wasm.TableAddr, elem wasm.ElemAddr, d, s, n uint32) {
	refs, live := store.ElemRead(elem)
	if !live || uint64(s)+uint64(n) > uint64(len(refs)) || uint64(d)+uint64(n) > uint64(store.TableSize(dst)) {
		raiseTrap(wasmruntime.TrapKindOutOfBoundsTableAccess)
	}
	for i := uint32(0); i < n; i++ {
		_ = store.TableWrite(dst, d+i, refs[s+i])
	}
}

func execMemoryFill(store *wasm.Store, addr wasm.MemAddr, d uint32, v byte, n uint32) {
	buf := store.Memory(addr).Buffer
	if uint64(d)+uint64(n) > uint64(len(buf)) {
		raiseTrap(wasmruntime.TrapKindOutOfBoundsMemoryAccess)
	}
	for i := uint32(0); i < n; i++ {
		buf[d+i] = v
	}
}

func execMemoryCopy(store *wasm.Store, addr wasm.MemAddr, d, s, n uint32) {
	buf := store.Memory(addr).Buffer
	if uint64(d)+uint64(n) > uint64(len(buf)) || uint64(s)+uint64(n) > uint64(len(buf)) {
		raiseTrap(wasmruntime.TrapKindOutOfBoundsMemoryAccess)
	}
	copy(buf[d:d+n], buf[s:s+n])
}

func execMemoryInit(store *wasm.Store, mem wasm.MemAddr, data wasm.DataAddr, d, s, n uint32) {
	bytes, live := store.DataRead(data)
	buf := store.Memory(mem).Buffer
	if !live || uint64(s)+uint64(n) > uint64(len(bytes)) || uint64(d)+uint64(n) > uint64(len(buf)) {
		raiseTrap(wasmruntime.TrapKindOutOfBoundsMemoryAccess)
	}
	copy(buf[d:d+n], bytes[s:s+n])
}

// execMemOp handles every load/store instruction uniformly: compute the
// effective address, bounds-check against the byte width, then decode or
// encode through this file's little-endian le*/putLe* helpers.
func execMemOp(store *wasm.Store, fr *frame, instr *wasm.Instruction, stack *[]uint64) {
	buf := store.Memory(fr.module.Mems[0]).Buffer

	readAt := func(dynamic uint32, width uint32) []byte {
		eff := uint64(dynamic) + uint64(instr.Mem.Offset)
		if eff+uint64(width) > uint64(len(buf)) {
			raiseTrap(wasmruntime.TrapKindOutOfBoundsMemoryAccess)
		}
		return buf[eff : eff+uint64(width)]
	}
	writeAt := func(dynamic uint32, width uint32) []byte { return readAt(dynamic, width) }

	switch instr.Op {
	case wasm.OpI32Load:
		b := readAt(uint32(pop(stack)), 4)
		push(stack, uint64(le32(b)))
	case wasm.OpI64Load:
		b := readAt(uint32(pop(stack)), 8)
		push(stack, le64(b))
	case wasm.OpF32Load:
		b := readAt(uint32(pop(stack)), 4)
		push(stack, uint64(le32(b)))
	case wasm.OpF64Load:
		b := readAt(uint32(pop(stack)), 8)
		push(stack, le64(b))
	case wasm.OpI32Load8S:
		b := readAt(uint32(pop(stack)), 1)
		push(stack, uint64(uint32(int32(int8(b[0])))))
	case wasm.OpI32Load8U:
		b := readAt(uint32(pop(stack)), 1)
		push(stack, uint64(b[0]))
	case wasm.OpI32Load16S:
		b := readAt(uint32(pop(stack)), 2)
		push(stack, uint64(uint32(int32(int16(le16(b))))))
	case wasm.OpI32Load16U:
		b := readAt(uint32(pop(stack)), 2)
		push(stack, uint64(le16(b)))
	case wasm.OpI64Load8S:
		b := readAt(uint32(pop(stack)), 1)
		push(stack, uint64(int64(int8(b[0]))))
	case wasm.OpI64Load8U:
		b := readAt(uint32(pop(stack)), 1)
		push(stack, uint64(b[0]))
	case wasm.OpI64Load16S:
		b := readAt(uint32(pop(stack)), 2)
		push(stack, uint64(int64(int16(le16(b)))))
	case wasm.OpI64Load16U:
		b := readAt(uint32(pop(stack)), 2)
		push(stack, uint64(le16(b)))
	case wasm.OpI64Load32S:
		b := readAt(uint32(pop(stack)), 4)
		push(stack, uint64(int64(int32(le32(b)))))
	case wasm.OpI64Load32U:
		b := readAt(uint32(pop(stack)), 4)
		push(stack, uint64(le32(b)))

	case wasm.OpI32Store:
		v := uint32(pop(stack))
		b := writeAt(uint32(pop(stack)), 4)
		putLe32(b, v)
	case wasm.OpI64Store:
		v := pop(stack)
		b := writeAt(uint32(pop(stack)), 8)
		putLe64(b, v)
	case wasm.OpF32Store:
		v := uint32(pop(stack))
		b := writeAt(uint32(pop(stack)), 4)
		putLe32(b, v)
	case wasm.OpF64Store:
		v := pop(stack)
		b := writeAt(uint32(pop(stack)), 8)
		putLe64(b, v)
	case wasm.OpI32Store8:
		v := byte(pop(stack))
		b := writeAt(uint32(pop(stack)), 1)
		b[0] = v
	case wasm.OpI32Store16:
		v := uint16(pop(stack))
		b := writeAt(uint32(pop(stack)), 2)
		putLe16(b, v)
	case wasm.OpI64Store8:
		v := byte(pop(stack))
		b := writeAt(uint32(pop(stack)), 1)
		b[0] = v
	case wasm.OpI64Store16:
		v := uint16(pop(stack))
		b := writeAt(uint32(pop(stack)), 2)
		putLe16(b, v)
	case wasm.OpI64Store32:
		v := uint32(pop(stack))
		b := writeAt(uint32(pop(stack)), 4)
		putLe32(b, v)
	}
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}
func putLe16(b []byte, v uint16) { b[0], b[1] = byte(v), byte(v>>8) }
func putLe32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putLe64(b []byte, v uint64) {
	putLe32(b, uint32(v))
	putLe32(b[4:], uint32(v>>32))
}
