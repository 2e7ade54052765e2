// Package text implements a minimal S-expression parser for a subset of
// the WebAssembly text format: module, type, import, func, table, memory,
// global and export forms, with function bodies written as flat
// (non-folded) instruction sequences drawn from the mnemonics table below
// plus local/global get/set, local.tee, call, i32.const and i64.const. It
// accepts far less than the binary decoder does and is not a complete WAT
// implementation — folded expressions, block/loop/if text syntax and
// identifier-based (as opposed to numeric) indices are out of scope.
package text

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

// Parse decodes src into a Module. On any syntax or shape error it returns
// wasmruntime.ErrModuleParse wrapping details.
func Parse(src string) (*wasm.Module, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, parseErr(err)
	}
	p := &parser{toks: toks}
	sexpr, err := p.readList()
	if err != nil {
		return nil, parseErr(err)
	}
	if len(sexpr) == 0 || atomOf(sexpr[0]) != "module" {
		return nil, parseErr(fmt.Errorf("expected (module ...)"))
	}
	m := &wasm.Module{}
	mp := &moduleParser{m: m}
	for _, form := range sexpr[1:] {
		list, ok := form.(list)
		if !ok {
			return nil, parseErr(fmt.Errorf("expected a form, got atom %v", form))
		}
		if err := mp.form(list); err != nil {
			return nil, parseErr(err)
		}
	}
	return m, nil
}

func parseErr(err error) error { return fmt.Errorf("%w: %v", wasmruntime.ErrModuleParse, err) }

// sexpr is either an atom (string) or a nested list.
type sexpr interface{}
type list []sexpr

func atomOf(s sexpr) string {
	a, _ := s.(string)
	return a
}

type token struct {
	text string
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == ';' && i+1 < len(src) && src[i+1] == ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '(' || c == ')':
			toks = append(toks, token{string(c)})
			i++
		case c == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{src[i : j+1]})
			i = j + 1
		default:
			j := i
			for j < len(src) && !strings.ContainsRune(" \t\n\r()", rune(src[j])) {
				j++
			}
			toks = append(toks, token{src[i:j]})
			i = j
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) readList() (list, error) {
	if p.pos >= len(p.toks) || p.toks[p.pos].text != "(" {
		return nil, fmt.Errorf("expected '('")
	}
	p.pos++
	var out list
	for {
		if p.pos >= len(p.toks) {
			return nil, fmt.Errorf("unexpected eof inside list")
		}
		if p.toks[p.pos].text == ")" {
			p.pos++
			return out, nil
		}
		if p.toks[p.pos].text == "(" {
			inner, err := p.readList()
			if err != nil {
				return nil, err
			}
			out = append(out, inner)
			continue
		}
		out = append(out, p.toks[p.pos].text)
		p.pos++
	}
}

type moduleParser struct {
	m *wasm.Module
}

func (mp *moduleParser) form(l list) error {
	if len(l) == 0 {
		return fmt.Errorf("empty form")
	}
	switch atomOf(l[0]) {
	case "type":
		ft, err := parseFuncType(l[1:])
		if err != nil {
			return err
		}
		mp.m.TypeSection = append(mp.m.TypeSection, ft)
	case "func":
		return mp.funcForm(l[1:])
	case "memory":
		rest := l[1:]
		if len(rest) > 0 {
			if el, ok := rest[0].(list); ok && len(el) > 1 && atomOf(el[0]) == "export" {
				mp.m.ExportSection = append(mp.m.ExportSection, &wasm.Export{
					Name: strings.Trim(atomOf(el[1]), "\""), Type: api.ExternTypeMemory, Index: wasm.Index(len(mp.m.MemorySection)),
				})
				rest = rest[1:]
			}
		}
		lim, err := parseLimits(rest)
		if err != nil {
			return err
		}
		mp.m.MemorySection = append(mp.m.MemorySection, &wasm.MemoryType{Limits: lim})
	case "table":
		lim, err := parseLimits(l[1 : len(l)-1])
		if err != nil {
			return err
		}
		rt, err := parseRefType(atomOf(l[len(l)-1]))
		if err != nil {
			return err
		}
		mp.m.TableSection = append(mp.m.TableSection, &wasm.TableType{Limits: lim, RefType: rt})
	case "global":
		return mp.globalForm(l[1:])
	case "export":
		return mp.exportForm(l[1:])
	case "import":
		return mp.importForm(l[1:])
	case "start":
		idx, err := parseIndex(atomOf(l[1]))
		if err != nil {
			return err
		}
		mp.m.StartSection = &idx
	default:
		return fmt.Errorf("unsupported top-level form %q", atomOf(l[0]))
	}
	return nil
}

func parseIndex(s string) (wasm.Index, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return wasm.Index(v), err
}

func parseRefType(s string) (api.ValueType, error) {
	switch s {
	case "funcref":
		return api.ValueTypeFuncref, nil
	case "externref":
		return api.ValueTypeExternref, nil
	}
	return 0, fmt.Errorf("unknown reference type %q", s)
}

func parseValType(s string) (api.ValueType, error) {
	switch s {
	case "i32":
		return api.ValueTypeI32, nil
	case "i64":
		return api.ValueTypeI64, nil
	case "f32":
		return api.ValueTypeF32, nil
	case "f64":
		return api.ValueTypeF64, nil
	}
	return parseRefType(s)
}

func parseLimits(atoms []sexpr) (wasm.Limits, error) {
	var nums []uint32
	for _, a := range atoms {
		v, err := strconv.ParseUint(atomOf(a), 10, 32)
		if err != nil {
			return wasm.Limits{}, err
		}
		nums = append(nums, uint32(v))
	}
	if len(nums) == 0 {
		return wasm.Limits{}, fmt.Errorf("limits require at least a minimum")
	}
	l := wasm.Limits{Min: nums[0]}
	if len(nums) > 1 {
		max := nums[1]
		l.Max = &max
	}
	return l, nil
}

// parseFuncType reads ((param t*)* (result t*)*) forms into a FunctionType.
func parseFuncType(forms []sexpr) (*wasm.FunctionType, error) {
	ft := &wasm.FunctionType{}
	for _, f := range forms {
		l, ok := f.(list)
		if !ok {
			continue
		}
		// (func (param ...) (result ...)) nests one level for `type` forms.
		if atomOf(l[0]) == "func" {
			return parseFuncType(l[1:])
		}
		switch atomOf(l[0]) {
		case "param":
			for _, a := range l[1:] {
				vt, err := parseValType(atomOf(a))
				if err != nil {
					return nil, err
				}
				ft.Params = append(ft.Params, vt)
			}
		case "result":
			for _, a := range l[1:] {
				vt, err := parseValType(atomOf(a))
				if err != nil {
					return nil, err
				}
				ft.Results = append(ft.Results, vt)
			}
		}
	}
	return ft, nil
}

func (mp *moduleParser) funcForm(rest list) error {
	var params, results, locals []api.ValueType
	var body []wasm.Instruction
	exportName := ""
	for i := 0; i < len(rest); i++ {
		l, ok := rest[i].(list)
		if !ok {
			// A flat instruction: a mnemonic atom, plus the following atom
			// as its immediate unless the mnemonic takes none.
			instr := list{rest[i]}
			if _, bare := mnemonics[atomOf(rest[i])]; !bare && i+1 < len(rest) {
				if _, isList := rest[i+1].(list); !isList {
					i++
					instr = append(instr, rest[i])
				}
			}
			in, err := parseInstr(instr)
			if err != nil {
				return err
			}
			body = append(body, in)
			continue
		}
		switch atomOf(l[0]) {
		case "export":
			exportName = strings.Trim(atomOf(l[1]), "\"")
		case "param":
			for _, a := range l[1:] {
				vt, err := parseValType(atomOf(a))
				if err != nil {
					return err
				}
				params = append(params, vt)
			}
		case "result":
			for _, a := range l[1:] {
				vt, err := parseValType(atomOf(a))
				if err != nil {
					return err
				}
				results = append(results, vt)
			}
		case "local":
			for _, a := range l[1:] {
				vt, err := parseValType(atomOf(a))
				if err != nil {
					return err
				}
				locals = append(locals, vt)
			}
		default:
			instr, err := parseInstr(l)
			if err != nil {
				return err
			}
			body = append(body, instr)
		}
	}
	typeIdx := wasm.Index(len(mp.m.TypeSection))
	mp.m.TypeSection = append(mp.m.TypeSection, &wasm.FunctionType{Params: params, Results: results})
	funcIdx := wasm.Index(len(mp.m.FunctionSection))
	mp.m.FunctionSection = append(mp.m.FunctionSection, typeIdx)
	mp.m.CodeSection = append(mp.m.CodeSection, &wasm.Code{LocalTypes: locals, Body: body})
	if exportName != "" {
		mp.m.ExportSection = append(mp.m.ExportSection, &wasm.Export{Name: exportName, Type: api.ExternTypeFunc, Index: funcIdx})
	}
	return nil
}

var mnemonics = map[string]wasm.Opcode{
	"unreachable": wasm.OpUnreachable, "nop": wasm.OpNop, "return": wasm.OpReturn,
	"drop": wasm.OpDrop, "select": wasm.OpSelect,
	"i32.add": wasm.OpI32Add, "i32.sub": wasm.OpI32Sub, "i32.mul": wasm.OpI32Mul,
	"i32.div_s": wasm.OpI32DivS, "i32.div_u": wasm.OpI32DivU,
	"i32.rem_s": wasm.OpI32RemS, "i32.rem_u": wasm.OpI32RemU,
	"i32.and": wasm.OpI32And, "i32.or": wasm.OpI32Or, "i32.xor": wasm.OpI32Xor,
	"i32.shl": wasm.OpI32Shl, "i32.shr_s": wasm.OpI32ShrS, "i32.shr_u": wasm.OpI32ShrU,
	"i32.eq": wasm.OpI32Eq, "i32.ne": wasm.OpI32Ne, "i32.eqz": wasm.OpI32Eqz,
	"i64.add": wasm.OpI64Add, "i64.sub": wasm.OpI64Sub, "i64.mul": wasm.OpI64Mul,
	"i64.div_s": wasm.OpI64DivS, "i64.div_u": wasm.OpI64DivU,
	"f32.add": wasm.OpF32Add, "f32.sub": wasm.OpF32Sub,
	"f64.add": wasm.OpF64Add, "f64.sub": wasm.OpF64Sub,
	"memory.size": wasm.OpMemorySize, "memory.grow": wasm.OpMemoryGrow,
}

// parseInstr handles the flat (non-folded) instruction forms this parser
// supports: bare mnemonics, and the handful that take one numeric/index
// immediate (local.get, i32.const, call, etc).
func parseInstr(l list) (wasm.Instruction, error) {
	mnem := atomOf(l[0])
	if op, ok := mnemonics[mnem]; ok {
		return wasm.Instruction{Op: op}, nil
	}
	arg := ""
	if len(l) > 1 {
		arg = atomOf(l[1])
	}
	switch mnem {
	case "local.get":
		idx, err := parseIndex(arg)
		return wasm.Instruction{Op: wasm.OpLocalGet, Index: idx}, err
	case "local.set":
		idx, err := parseIndex(arg)
		return wasm.Instruction{Op: wasm.OpLocalSet, Index: idx}, err
	case "local.tee":
		idx, err := parseIndex(arg)
		return wasm.Instruction{Op: wasm.OpLocalTee, Index: idx}, err
	case "global.get":
		idx, err := parseIndex(arg)
		return wasm.Instruction{Op: wasm.OpGlobalGet, Index: idx}, err
	case "global.set":
		idx, err := parseIndex(arg)
		return wasm.Instruction{Op: wasm.OpGlobalSet, Index: idx}, err
	case "call":
		idx, err := parseIndex(arg)
		return wasm.Instruction{Op: wasm.OpCall, Index: idx}, err
	case "i32.const":
		v, err := strconv.ParseInt(arg, 10, 64)
		return wasm.Instruction{Op: wasm.OpI32Const, Imm: uint64(uint32(v))}, err
	case "i64.const":
		v, err := strconv.ParseInt(arg, 10, 64)
		return wasm.Instruction{Op: wasm.OpI64Const, Imm: uint64(v)}, err
	default:
		return wasm.Instruction{}, fmt.Errorf("unsupported instruction %q", mnem)
	}
}

func (mp *moduleParser) globalForm(rest list) error {
	i := 0
	exportName := ""
	if l, ok := rest[i].(list); ok && atomOf(l[0]) == "export" {
		exportName = strings.Trim(atomOf(l[1]), "\"")
		i++
	}
	mutable := false
	typeForm := rest[i]
	if l, ok := typeForm.(list); ok && atomOf(l[0]) == "mut" {
		mutable = true
		typeForm = l[1]
	}
	vt, err := parseValType(atomOf(typeForm))
	if err != nil {
		return err
	}
	i++
	initInstr, err := parseInstr(rest[i].(list))
	if err != nil {
		return err
	}
	expr := wasm.ConstantExpression{Opcode: initInstr.Op, Immediate: initInstr.Imm}
	idx := wasm.Index(len(mp.m.GlobalSection))
	mp.m.GlobalSection = append(mp.m.GlobalSection, &wasm.Global{
		Type: wasm.GlobalType{ValType: vt, Mutable: wasm.Mutability(mutable)},
		Init: expr,
	})
	if exportName != "" {
		mp.m.ExportSection = append(mp.m.ExportSection, &wasm.Export{Name: exportName, Type: api.ExternTypeGlobal, Index: idx})
	}
	return nil
}

func (mp *moduleParser) exportForm(rest list) error {
	nm := strings.Trim(atomOf(rest[0]), "\"")
	kindForm := rest[1].(list)
	var t api.ExternType
	switch atomOf(kindForm[0]) {
	case "func":
		t = api.ExternTypeFunc
	case "table":
		t = api.ExternTypeTable
	case "memory":
		t = api.ExternTypeMemory
	case "global":
		t = api.ExternTypeGlobal
	default:
		return fmt.Errorf("unknown export kind %q", atomOf(kindForm[0]))
	}
	idx, err := parseIndex(atomOf(kindForm[1]))
	if err != nil {
		return err
	}
	mp.m.ExportSection = append(mp.m.ExportSection, &wasm.Export{Name: nm, Type: t, Index: idx})
	return nil
}

func (mp *moduleParser) importForm(rest list) error {
	mod := strings.Trim(atomOf(rest[0]), "\"")
	field := strings.Trim(atomOf(rest[1]), "\"")
	desc := rest[2].(list)
	imp := &wasm.Import{Module: mod, Name: field}
	switch atomOf(desc[0]) {
	case "func":
		imp.Type = api.ExternTypeFunc
		ft, err := parseFuncType(desc[1:])
		if err != nil {
			return err
		}
		imp.DescFunc = wasm.Index(len(mp.m.TypeSection))
		mp.m.TypeSection = append(mp.m.TypeSection, ft)
	case "memory":
		imp.Type = api.ExternTypeMemory
		lim, err := parseLimits(desc[1:])
		if err != nil {
			return err
		}
		imp.DescMem = wasm.MemoryType{Limits: lim}
	case "table":
		imp.Type = api.ExternTypeTable
		lim, err := parseLimits(desc[1 : len(desc)-1])
		if err != nil {
			return err
		}
		rt, err := parseRefType(atomOf(desc[len(desc)-1]))
		if err != nil {
			return err
		}
		imp.DescTable = wasm.TableType{Limits: lim, RefType: rt}
	case "global":
		imp.Type = api.ExternTypeGlobal
		mutable := false
		typeForm := desc[1]
		if l, ok := typeForm.(list); ok && atomOf(l[0]) == "mut" {
			mutable = true
			typeForm = l[1]
		}
		vt, err := parseValType(atomOf(typeForm))
		if err != nil {
			return err
		}
		imp.DescGlobal = wasm.GlobalType{ValType: vt, Mutable: wasm.Mutability(mutable)}
	default:
		return fmt.Errorf("unknown import desc kind %q", atomOf(desc[0]))
	}
	mp.m.ImportSection = append(mp.m.ImportSection, imp)
	return nil
}
