// Package validator performs the best-effort static checks a module must
// pass before a store will instantiate it: index references resolve within
// their namespace, and each function body's operand stack is well-typed:
// every instruction's declared operand types are available when it runs,
// branch targets are checked against their enclosing label's arity and
// types, and the stack is treated as polymorphic after unreachable, br,
// br_table or return, per the core specification's stack-polymorphism rule.
// It does not track multi-value result joins beyond what that rule
// requires; the interpreter's own bounds and type checks at runtime are the
// backstop for anything this pass doesn't catch.
package validator

import (
	"fmt"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

// Validate checks m's index spaces and function bodies, returning a
// wasmruntime.ErrModuleValidate-wrapped error on the first problem found.
func Validate(m *wasm.Module) error {
	funcCount := m.ImportedFunctionCount() + len(m.FunctionSection)
	tableCount := m.ImportedTableCount() + len(m.TableSection)
	memCount := m.ImportedMemoryCount() + len(m.MemorySection)
	globalCount := m.ImportedGlobalCount() + len(m.GlobalSection)

	for i, idx := range m.FunctionSection {
		if int(idx) >= len(m.TypeSection) {
			return validateErr(fmt.Errorf("function[%d]: type index %d out of range", i, idx))
		}
	}
	for _, exp := range m.ExportSection {
		var n int
		switch exp.Type {
		case api.ExternTypeFunc:
			n = funcCount
		case api.ExternTypeTable:
			n = tableCount
		case api.ExternTypeMemory:
			n = memCount
		case api.ExternTypeGlobal:
			n = globalCount
		}
		if int(exp.Index) >= n {
			return validateErr(fmt.Errorf("export %q: index %d out of range", exp.Name, exp.Index))
		}
	}
	if m.StartSection != nil && int(*m.StartSection) >= funcCount {
		return validateErr(fmt.Errorf("start function index %d out of range", *m.StartSection))
	}

	funcTypes, err := buildFuncTypes(m)
	if err != nil {
		return validateErr(err)
	}

	v := &funcValidator{
		m:           m,
		funcCount:   funcCount,
		tableCount:  tableCount,
		memCount:    memCount,
		globalCount: globalCount,
		funcTypes:   funcTypes,
		globalTypes: buildGlobalTypes(m),
		tableTypes:  buildTableTypes(m),
	}
	for i, code := range m.CodeSection {
		typeIdx := m.FunctionSection[i]
		sig := m.TypeSection[typeIdx]
		if err := v.checkBody(sig, code); err != nil {
			return validateErr(fmt.Errorf("function[%d]: %w", m.ImportedFunctionCount()+i, err))
		}
	}
	return nil
}

func validateErr(err error) error {
	return fmt.Errorf("%w: %v", wasmruntime.ErrModuleValidate, err)
}

// buildFuncTypes resolves every function index (imports first, then
// defined) to its signature, so a call or call_indirect site can be
// type-checked without re-deriving the index space each time.
func buildFuncTypes(m *wasm.Module) ([]*wasm.FunctionType, error) {
	var out []*wasm.FunctionType
	for _, imp := range m.ImportSection {
		if imp.Type != api.ExternTypeFunc {
			continue
		}
		if int(imp.DescFunc) >= len(m.TypeSection) {
			return nil, fmt.Errorf("import %q.%q: type index %d out of range", imp.Module, imp.Name, imp.DescFunc)
		}
		out = append(out, m.TypeSection[imp.DescFunc])
	}
	for _, idx := range m.FunctionSection {
		if int(idx) >= len(m.TypeSection) {
			return nil, fmt.Errorf("function: type index %d out of range", idx)
		}
		out = append(out, m.TypeSection[idx])
	}
	return out, nil
}

func buildGlobalTypes(m *wasm.Module) []wasm.GlobalType {
	var out []wasm.GlobalType
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeGlobal {
			out = append(out, imp.DescGlobal)
		}
	}
	for _, g := range m.GlobalSection {
		out = append(out, g.Type)
	}
	return out
}

func buildTableTypes(m *wasm.Module) []wasm.TableType {
	var out []wasm.TableType
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeTable {
			out = append(out, imp.DescTable)
		}
	}
	for _, t := range m.TableSection {
		out = append(out, *t)
	}
	return out
}

type funcValidator struct {
	m *wasm.Module

	funcCount, tableCount, memCount, globalCount int

	funcTypes   []*wasm.FunctionType
	globalTypes []wasm.GlobalType
	tableTypes  []wasm.TableType
}


func (v *funcValidator) globalType(idx wasm.Index) (wasm.GlobalType, error) {
	if int(idx) >= len(v.globalTypes) {
		return wasm.GlobalType{}, fmt.Errorf("global index %d out of range", idx)
	}
	return v.globalTypes[idx], nil
}

func (v *funcValidator) tableType(idx wasm.Index) (wasm.TableType, error) {
	if int(idx) >= len(v.tableTypes) {
		return wasm.TableType{}, fmt.Errorf("table index %d out of range", idx)
	}
	return v.tableTypes[idx], nil
}

// blockTypes resolves a BlockType to its param/result value types.
func (v *funcValidator) blockTypes(bt wasm.BlockType) (params, results []api.ValueType, err error) {
	if bt.HasTypeIdx {
		if int(bt.TypeIndex) >= len(v.m.TypeSection) {
			return nil, nil, fmt.Errorf("block type index %d out of range", bt.TypeIndex)
		}
		t := v.m.TypeSection[bt.TypeIndex]
		return t.Params, t.Results, nil
	}
	if bt.HasValue {
		return nil, []api.ValueType{bt.ValueType}, nil
	}
	return nil, nil, nil
}

func (v *funcValidator) checkBody(sig *wasm.FunctionType, code *wasm.Code) error {
	locals := make([]api.ValueType, 0, len(sig.Params)+len(code.LocalTypes))
	locals = append(locals, sig.Params...)
	locals = append(locals, code.LocalTypes...)

	b := &bodyValidator{fv: v, locals: locals}
	b.ctrls = []ctrlFrame{{labelTypes: sig.Results, endTypes: sig.Results}}
	if err := b.validateInstrs(code.Body); err != nil {
		return err
	}
	_, err := b.popCtrl()
	return err
}

// unknownType marks an operand stack slot whose type is unconstrained
// because it sits above a point the validator has proven unreachable
// (after unreachable, br, br_table or return): any type may be popped or
// pushed there without a mismatch, per the core specification's
// stack-polymorphism rule. Without it, dead code following one of these
// would spuriously fail type checks it can never actually violate at
// runtime.
const unknownType api.ValueType = 0

// ctrlFrame is one entry of the label stack, tracking what a branch to this
// block/loop/if/function requires and what the operand stack looked like
// when the frame was entered.
type ctrlFrame struct {
	// labelTypes is what `br` to this label must leave behind: a loop's
	// param types (branching restarts the loop), everything else's result
	// types.
	labelTypes []api.ValueType
	// endTypes is what must be on the stack when this frame's body ends
	// normally.
	endTypes    []api.ValueType
	height      int
	unreachable bool
}

// bodyValidator simulates one function body's operand stack as a stack of
// api.ValueType, alongside the label (ctrlFrame) stack recursion through
// nested block/loop/if mirrors.
type bodyValidator struct {
	fv     *funcValidator
	locals []api.ValueType
	vals   []api.ValueType
	ctrls  []ctrlFrame
}

func (b *bodyValidator) localType(idx wasm.Index) (api.ValueType, error) {
	if int(idx) >= len(b.locals) {
		return 0, fmt.Errorf("local index %d out of range", idx)
	}
	return b.locals[idx], nil
}

func (b *bodyValidator) pushVal(t api.ValueType) { b.vals = append(b.vals, t) }

func (b *bodyValidator) pushAll(ts []api.ValueType) {
	for _, t := range ts {
		b.pushVal(t)
	}
}

// popVal pops one value, returning unknownType without error if the
// current frame is unreachable and already exhausted its real operands.
// This is the stack-polymorphism case.
func (b *bodyValidator) popVal() (api.ValueType, error) {
	top := &b.ctrls[len(b.ctrls)-1]
	if len(b.vals) == top.height {
		if top.unreachable {
			return unknownType, nil
		}
		return 0, fmt.Errorf("operand stack underflow")
	}
	t := b.vals[len(b.vals)-1]
	b.vals = b.vals[:len(b.vals)-1]
	return t, nil
}

func (b *bodyValidator) popExpect(want api.ValueType) error {
	got, err := b.popVal()
	if err != nil {
		return err
	}
	if got != unknownType && want != unknownType && got != want {
		return fmt.Errorf("type mismatch: expected %s, got %s", api.ValueTypeName(want), api.ValueTypeName(got))
	}
	return nil
}

// popExpectAll pops want in reverse, i.e. want's last element must be on
// top of the stack. That is the order a list of declared operand types
// appears on an operand stack built by evaluating them left to right.
func (b *bodyValidator) popExpectAll(want []api.ValueType) error {
	for i := len(want) - 1; i >= 0; i-- {
		if err := b.popExpect(want[i]); err != nil {
			return err
		}
	}
	return nil
}

// setUnreachable marks the current frame unreachable and discards whatever
// is above its entry height, so any further pop in this frame is
// unconstrained until the frame ends.
func (b *bodyValidator) setUnreachable() {
	top := &b.ctrls[len(b.ctrls)-1]
	b.vals = b.vals[:top.height]
	top.unreachable = true
}

// pushCtrl pops params (the new frame's incoming operands) off the current
// stack, opens a new frame at the resulting height, then pushes params back
// so the frame's own body sees them as already present.
func (b *bodyValidator) pushCtrl(labelTypes, endTypes, params []api.ValueType) error {
	if err := b.popExpectAll(params); err != nil {
		return err
	}
	b.ctrls = append(b.ctrls, ctrlFrame{labelTypes: labelTypes, endTypes: endTypes, height: len(b.vals)})
	b.pushAll(params)
	return nil
}

// popCtrl checks the frame's endTypes are exactly what remains on the
// stack, closes it, and returns endTypes for the caller to push onto the
// now-current (enclosing) stack.
func (b *bodyValidator) popCtrl() ([]api.ValueType, error) {
	top := b.ctrls[len(b.ctrls)-1]
	if err := b.popExpectAll(top.endTypes); err != nil {
		return nil, err
	}
	if len(b.vals) != top.height {
		return nil, fmt.Errorf("unconsumed value(s) on the operand stack at end of block")
	}
	b.ctrls = b.ctrls[:len(b.ctrls)-1]
	return top.endTypes, nil
}

func (b *bodyValidator) branchLabelTypes(n wasm.Index) ([]api.ValueType, error) {
	if int(n) >= len(b.ctrls) {
		return nil, fmt.Errorf("branch depth %d exceeds enclosing label count %d", n, len(b.ctrls))
	}
	return b.ctrls[len(b.ctrls)-1-int(n)].labelTypes, nil
}

func (b *bodyValidator) validateInstrs(body []wasm.Instruction) error {
	for i := range body {
		if err := b.validateInstr(&body[i]); err != nil {
			return err
		}
	}
	return nil
}

func isLoadStore(op wasm.Opcode) bool {
	return op >= wasm.OpI32Load && op <= wasm.OpI64Store32
}

func (b *bodyValidator) validateInstr(instr *wasm.Instruction) error {
	if isLoadStore(instr.Op) {
		if b.fv.memCount == 0 {
			return fmt.Errorf("memory instruction without a memory")
		}
		return b.apply(numericSig[instr.Op])
	}
	if s, ok := numericSig[instr.Op]; ok {
		return b.apply(s)
	}

	switch instr.Op {
	case wasm.OpUnreachable:
		b.setUnreachable()
	case wasm.OpNop:
		// no-op

	case wasm.OpBlock:
		return b.validateBlock(instr, false)
	case wasm.OpLoop:
		return b.validateBlock(instr, true)
	case wasm.OpIf:
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		return b.validateIf(instr)

	case wasm.OpBr:
		labelTypes, err := b.branchLabelTypes(instr.Index)
		if err != nil {
			return err
		}
		if err := b.popExpectAll(labelTypes); err != nil {
			return err
		}
		b.setUnreachable()

	case wasm.OpBrIf:
		labelTypes, err := b.branchLabelTypes(instr.Index)
		if err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		if err := b.popExpectAll(labelTypes); err != nil {
			return err
		}
		b.pushAll(labelTypes)

	case wasm.OpBrTable:
		def, err := b.branchLabelTypes(instr.Default)
		if err != nil {
			return err
		}
		for _, l := range instr.Labels {
			lt, err := b.branchLabelTypes(l)
			if err != nil {
				return err
			}
			if len(lt) != len(def) {
				return fmt.Errorf("br_table: inconsistent label arity")
			}
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		if err := b.popExpectAll(def); err != nil {
			return err
		}
		b.setUnreachable()

	case wasm.OpReturn:
		if err := b.popExpectAll(b.ctrls[0].endTypes); err != nil {
			return err
		}
		b.setUnreachable()

	case wasm.OpCall:
		if int(instr.Index) >= len(b.fv.funcTypes) {
			return fmt.Errorf("call target %d out of range", instr.Index)
		}
		t := b.fv.funcTypes[instr.Index]
		if err := b.popExpectAll(t.Params); err != nil {
			return err
		}
		b.pushAll(t.Results)

	case wasm.OpCallIndirect:
		if int(instr.Index) >= b.fv.tableCount {
			return fmt.Errorf("call_indirect table %d out of range", instr.Index)
		}
		if int(instr.Index2) >= len(b.fv.m.TypeSection) {
			return fmt.Errorf("call_indirect type %d out of range", instr.Index2)
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		t := b.fv.m.TypeSection[instr.Index2]
		if err := b.popExpectAll(t.Params); err != nil {
			return err
		}
		b.pushAll(t.Results)

	case wasm.OpDrop:
		if _, err := b.popVal(); err != nil {
			return err
		}

	case wasm.OpSelect:
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		t2, err := b.popVal()
		if err != nil {
			return err
		}
		t1, err := b.popVal()
		if err != nil {
			return err
		}
		if t1 != unknownType && t2 != unknownType && t1 != t2 {
			return fmt.Errorf("select: operand type mismatch")
		}
		if t1 == unknownType {
			t1 = t2
		}
		b.pushVal(t1)

	case wasm.OpLocalGet:
		t, err := b.localType(instr.Index)
		if err != nil {
			return err
		}
		b.pushVal(t)
	case wasm.OpLocalSet:
		t, err := b.localType(instr.Index)
		if err != nil {
			return err
		}
		return b.popExpect(t)
	case wasm.OpLocalTee:
		t, err := b.localType(instr.Index)
		if err != nil {
			return err
		}
		if err := b.popExpect(t); err != nil {
			return err
		}
		b.pushVal(t)

	case wasm.OpGlobalGet:
		gt, err := b.fv.globalType(instr.Index)
		if err != nil {
			return err
		}
		b.pushVal(gt.ValType)
	case wasm.OpGlobalSet:
		gt, err := b.fv.globalType(instr.Index)
		if err != nil {
			return err
		}
		if gt.Mutable != wasm.Var {
			return fmt.Errorf("global.set %d: immutable global", instr.Index)
		}
		return b.popExpect(gt.ValType)

	case wasm.OpTableGet:
		tt, err := b.fv.tableType(instr.Index)
		if err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		b.pushVal(tt.RefType)
	case wasm.OpTableSet:
		tt, err := b.fv.tableType(instr.Index)
		if err != nil {
			return err
		}
		if err := b.popExpect(tt.RefType); err != nil {
			return err
		}
		return b.popExpect(api.ValueTypeI32)
	case wasm.OpTableSize:
		if _, err := b.fv.tableType(instr.Index); err != nil {
			return err
		}
		b.pushVal(api.ValueTypeI32)
	case wasm.OpTableGrow:
		tt, err := b.fv.tableType(instr.Index)
		if err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		if err := b.popExpect(tt.RefType); err != nil {
			return err
		}
		b.pushVal(api.ValueTypeI32)
	case wasm.OpTableFill:
		tt, err := b.fv.tableType(instr.Index)
		if err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		if err := b.popExpect(tt.RefType); err != nil {
			return err
		}
		return b.popExpect(api.ValueTypeI32)
	case wasm.OpTableCopy:
		if _, err := b.fv.tableType(instr.Index); err != nil {
			return err
		}
		if _, err := b.fv.tableType(instr.Index2); err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		return b.popExpect(api.ValueTypeI32)
	case wasm.OpTableInit:
		if _, err := b.fv.tableType(instr.Index); err != nil {
			return err
		}
		if int(instr.Index2) >= len(b.fv.m.ElementSection) {
			return fmt.Errorf("table.init elem %d out of range", instr.Index2)
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		return b.popExpect(api.ValueTypeI32)
	case wasm.OpElemDrop:
		if int(instr.Index) >= len(b.fv.m.ElementSection) {
			return fmt.Errorf("elem.drop index %d out of range", instr.Index)
		}

	case wasm.OpMemorySize:
		if b.fv.memCount == 0 {
			return fmt.Errorf("memory.size without a memory")
		}
		b.pushVal(api.ValueTypeI32)
	case wasm.OpMemoryGrow:
		if b.fv.memCount == 0 {
			return fmt.Errorf("memory.grow without a memory")
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		b.pushVal(api.ValueTypeI32)
	case wasm.OpMemoryFill:
		if b.fv.memCount == 0 {
			return fmt.Errorf("memory.fill without a memory")
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		return b.popExpect(api.ValueTypeI32)
	case wasm.OpMemoryCopy:
		if b.fv.memCount == 0 {
			return fmt.Errorf("memory.copy without a memory")
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		return b.popExpect(api.ValueTypeI32)
	case wasm.OpMemoryInit:
		if b.fv.memCount == 0 {
			return fmt.Errorf("memory.init without a memory")
		}
		if int(instr.Index) >= len(b.fv.m.DataSection) {
			return fmt.Errorf("memory.init data %d out of range", instr.Index)
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		if err := b.popExpect(api.ValueTypeI32); err != nil {
			return err
		}
		return b.popExpect(api.ValueTypeI32)
	case wasm.OpDataDrop:
		if int(instr.Index) >= len(b.fv.m.DataSection) {
			return fmt.Errorf("data.drop index %d out of range", instr.Index)
		}

	case wasm.OpRefNull:
		b.pushVal(instr.RefType)
	case wasm.OpRefFunc:
		if int(instr.Index) >= b.fv.funcCount {
			return fmt.Errorf("ref.func index %d out of range", instr.Index)
		}
		b.pushVal(api.ValueTypeFuncref)
	case wasm.OpRefIsNull:
		if _, err := b.popVal(); err != nil { // accepts either reference type
			return err
		}
		b.pushVal(api.ValueTypeI32)

	default:
		return fmt.Errorf("unrecognized opcode %d", instr.Op)
	}
	return nil
}

func (b *bodyValidator) apply(s opSig) error {
	if err := b.popExpectAll(s.params); err != nil {
		return err
	}
	b.pushAll(s.results)
	return nil
}

func (b *bodyValidator) validateBlock(instr *wasm.Instruction, isLoop bool) error {
	params, results, err := b.fv.blockTypes(instr.Block)
	if err != nil {
		return err
	}
	labelTypes := results
	if isLoop {
		labelTypes = params
	}
	if err := b.pushCtrl(labelTypes, results, params); err != nil {
		return err
	}
	if err := b.validateInstrs(instr.Body); err != nil {
		return err
	}
	out, err := b.popCtrl()
	if err != nil {
		return err
	}
	b.pushAll(out)
	return nil
}

// validateIf treats the "then" and "else" arms as two independent frames
// opened over the same params, matching the core specification's rule that
// an if with no else is only well-typed when params equals results: an
// empty else body immediately hits popCtrl's endTypes check against
// whatever params left on the stack.
func (b *bodyValidator) validateIf(instr *wasm.Instruction) error {
	params, results, err := b.fv.blockTypes(instr.Block)
	if err != nil {
		return err
	}

	if err := b.pushCtrl(results, results, params); err != nil {
		return err
	}
	if err := b.validateInstrs(instr.Body); err != nil {
		return err
	}
	if _, err := b.popCtrl(); err != nil {
		return err
	}

	if err := b.pushCtrl(results, results, params); err != nil {
		return err
	}
	if err := b.validateInstrs(instr.Else); err != nil {
		return err
	}
	out, err := b.popCtrl()
	if err != nil {
		return err
	}
	b.pushAll(out)
	return nil
}

type opSig struct{ params, results []api.ValueType }

// numericSig tabulates every fixed-shape value-bearing instruction's
// operand and result types: numeric unary/binary/test/relational ops,
// conversions, *.const, and every load/store (whose memory-presence check
// happens in validateInstr before this table is consulted).
var numericSig = buildNumericSig()

func buildNumericSig() map[wasm.Opcode]opSig {
	const (
		i32 = api.ValueTypeI32
		i64 = api.ValueTypeI64
		f32 = api.ValueTypeF32
		f64 = api.ValueTypeF64
	)
	m := map[wasm.Opcode]opSig{}
	bin := func(t api.ValueType, ops ...wasm.Opcode) {
		for _, op := range ops {
			m[op] = opSig{[]api.ValueType{t, t}, []api.ValueType{t}}
		}
	}
	un := func(in, out api.ValueType, ops ...wasm.Opcode) {
		for _, op := range ops {
			m[op] = opSig{[]api.ValueType{in}, []api.ValueType{out}}
		}
	}
	cmp := func(t api.ValueType, ops ...wasm.Opcode) {
		for _, op := range ops {
			m[op] = opSig{[]api.ValueType{t, t}, []api.ValueType{i32}}
		}
	}

	bin(i32, wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul, wasm.OpI32DivS, wasm.OpI32DivU,
		wasm.OpI32RemS, wasm.OpI32RemU, wasm.OpI32And, wasm.OpI32Or, wasm.OpI32Xor,
		wasm.OpI32Shl, wasm.OpI32ShrS, wasm.OpI32ShrU, wasm.OpI32Rotl, wasm.OpI32Rotr)
	un(i32, i32, wasm.OpI32Clz, wasm.OpI32Ctz, wasm.OpI32Popcnt, wasm.OpI32Extend8S, wasm.OpI32Extend16S)
	un(i32, i32, wasm.OpI32Eqz)
	cmp(i32, wasm.OpI32Eq, wasm.OpI32Ne, wasm.OpI32LtS, wasm.OpI32LtU, wasm.OpI32GtS, wasm.OpI32GtU,
		wasm.OpI32LeS, wasm.OpI32LeU, wasm.OpI32GeS, wasm.OpI32GeU)

	bin(i64, wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul, wasm.OpI64DivS, wasm.OpI64DivU,
		wasm.OpI64RemS, wasm.OpI64RemU, wasm.OpI64And, wasm.OpI64Or, wasm.OpI64Xor,
		wasm.OpI64Shl, wasm.OpI64ShrS, wasm.OpI64ShrU, wasm.OpI64Rotl, wasm.OpI64Rotr)
	un(i64, i64, wasm.OpI64Clz, wasm.OpI64Ctz, wasm.OpI64Popcnt, wasm.OpI64Extend8S, wasm.OpI64Extend16S, wasm.OpI64Extend32S)
	un(i64, i32, wasm.OpI64Eqz)
	cmp(i64, wasm.OpI64Eq, wasm.OpI64Ne, wasm.OpI64LtS, wasm.OpI64LtU, wasm.OpI64GtS, wasm.OpI64GtU,
		wasm.OpI64LeS, wasm.OpI64LeU, wasm.OpI64GeS, wasm.OpI64GeU)

	bin(f32, wasm.OpF32Add, wasm.OpF32Sub, wasm.OpF32Mul, wasm.OpF32Div, wasm.OpF32Min, wasm.OpF32Max, wasm.OpF32Copysign)
	un(f32, f32, wasm.OpF32Abs, wasm.OpF32Neg, wasm.OpF32Ceil, wasm.OpF32Floor, wasm.OpF32Trunc, wasm.OpF32Nearest, wasm.OpF32Sqrt)
	cmp(f32, wasm.OpF32Eq, wasm.OpF32Ne, wasm.OpF32Lt, wasm.OpF32Gt, wasm.OpF32Le, wasm.OpF32Ge)

	bin(f64, wasm.OpF64Add, wasm.OpF64Sub, wasm.OpF64Mul, wasm.OpF64Div, wasm.OpF64Min, wasm.OpF64Max, wasm.OpF64Copysign)
	un(f64, f64, wasm.OpF64Abs, wasm.OpF64Neg, wasm.OpF64Ceil, wasm.OpF64Floor, wasm.OpF64Trunc, wasm.OpF64Nearest, wasm.OpF64Sqrt)
	cmp(f64, wasm.OpF64Eq, wasm.OpF64Ne, wasm.OpF64Lt, wasm.OpF64Gt, wasm.OpF64Le, wasm.OpF64Ge)

	un(i64, i32, wasm.OpI32WrapI64)
	un(f32, i32, wasm.OpI32TruncF32S, wasm.OpI32TruncF32U)
	un(f64, i32, wasm.OpI32TruncF64S, wasm.OpI32TruncF64U)
	un(i32, i64, wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U)
	un(f32, i64, wasm.OpI64TruncF32S, wasm.OpI64TruncF32U)
	un(f64, i64, wasm.OpI64TruncF64S, wasm.OpI64TruncF64U)
	un(i32, f32, wasm.OpF32ConvertI32S, wasm.OpF32ConvertI32U)
	un(i64, f32, wasm.OpF32ConvertI64S, wasm.OpF32ConvertI64U)
	un(f64, f32, wasm.OpF32DemoteF64)
	un(i32, f64, wasm.OpF64ConvertI32S, wasm.OpF64ConvertI32U)
	un(i64, f64, wasm.OpF64ConvertI64S, wasm.OpF64ConvertI64U)
	un(f32, f64, wasm.OpF64PromoteF32)
	un(f32, i32, wasm.OpI32ReinterpretF32)
	un(f64, i64, wasm.OpI64ReinterpretF64)
	un(i32, f32, wasm.OpF32ReinterpretI32)
	un(i64, f64, wasm.OpF64ReinterpretI64)

	m[wasm.OpI32Const] = opSig{nil, []api.ValueType{i32}}
	m[wasm.OpI64Const] = opSig{nil, []api.ValueType{i64}}
	m[wasm.OpF32Const] = opSig{nil, []api.ValueType{f32}}
	m[wasm.OpF64Const] = opSig{nil, []api.ValueType{f64}}

	m[wasm.OpI32Load] = opSig{[]api.ValueType{i32}, []api.ValueType{i32}}
	m[wasm.OpI64Load] = opSig{[]api.ValueType{i32}, []api.ValueType{i64}}
	m[wasm.OpF32Load] = opSig{[]api.ValueType{i32}, []api.ValueType{f32}}
	m[wasm.OpF64Load] = opSig{[]api.ValueType{i32}, []api.ValueType{f64}}
	m[wasm.OpI32Load8S] = opSig{[]api.ValueType{i32}, []api.ValueType{i32}}
	m[wasm.OpI32Load8U] = opSig{[]api.ValueType{i32}, []api.ValueType{i32}}
	m[wasm.OpI32Load16S] = opSig{[]api.ValueType{i32}, []api.ValueType{i32}}
	m[wasm.OpI32Load16U] = opSig{[]api.ValueType{i32}, []api.ValueType{i32}}
	m[wasm.OpI64Load8S] = opSig{[]api.ValueType{i32}, []api.ValueType{i64}}
	m[wasm.OpI64Load8U] = opSig{[]api.ValueType{i32}, []api.ValueType{i64}}
	m[wasm.OpI64Load16S] = opSig{[]api.ValueType{i32}, []api.ValueType{i64}}
	m[wasm.OpI64Load16U] = opSig{[]api.ValueType{i32}, []api.ValueType{i64}}
	m[wasm.OpI64Load32S] = opSig{[]api.ValueType{i32}, []api.ValueType{i64}}
	m[wasm.OpI64Load32U] = opSig{[]api.ValueType{i32}, []api.ValueType{i64}}

	m[wasm.OpI32Store] = opSig{[]api.ValueType{i32, i32}, nil}
	m[wasm.OpI64Store] = opSig{[]api.ValueType{i32, i64}, nil}
	m[wasm.OpF32Store] = opSig{[]api.ValueType{i32, f32}, nil}
	m[wasm.OpF64Store] = opSig{[]api.ValueType{i32, f64}, nil}
	m[wasm.OpI32Store8] = opSig{[]api.ValueType{i32, i32}, nil}
	m[wasm.OpI32Store16] = opSig{[]api.ValueType{i32, i32}, nil}
	m[wasm.OpI64Store8] = opSig{[]api.ValueType{i32, i64}, nil}
	m[wasm.OpI64Store16] = opSig{[]api.ValueType{i32, i64}, nil}
	m[wasm.OpI64Store32] = opSig{[]api.ValueType{i32, i64}, nil}

	return m
}
