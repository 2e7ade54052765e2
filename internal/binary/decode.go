// Package binary decodes the WebAssembly binary module format into an
// internal/wasm.Module. It implements the section layout and instruction
// subset this runtime's interpreter evaluates; anything outside that subset
// (vectors/SIMD, multi-memory, exception handling) is rejected with
// wasmruntime.ErrModuleDecode rather than silently accepted and mis-evaluated.
package binary

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/leb128"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

const (
	magic   = 0x0061736d // "\0asm", read big-endian
	version = uint32(1)
)

type sectionID byte

const (
	sectionCustom sectionID = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
)

// DecodeModule parses a complete %.wasm byte stream.
func DecodeModule(bin []byte) (*wasm.Module, error) {
	r := bufio.NewReader(bytes.NewReader(bin))

	var magicBuf [4]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", wasmruntime.ErrModuleDecode, err)
	}
	if be32(magicBuf[:]) != magic {
		return nil, fmt.Errorf("%w: bad magic", wasmruntime.ErrModuleDecode)
	}
	var versionBuf [4]byte
	if _, err := io.ReadFull(r, versionBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", wasmruntime.ErrModuleDecode, err)
	}
	if le32(versionBuf[:]) != version {
		return nil, fmt.Errorf("%w: unsupported version", wasmruntime.ErrModuleDecode)
	}

	m := &wasm.Module{}
	d := &decoder{r: r, m: m}

	var lastID sectionID = sectionCustom
	for {
		idByte, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", wasmruntime.ErrModuleDecode, err)
		}
		id := sectionID(idByte)
		size, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("%w: section size: %v", wasmruntime.ErrModuleDecode, err)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("%w: section body: %v", wasmruntime.ErrModuleDecode, err)
		}
		if id != sectionCustom {
			if id < lastID {
				return nil, fmt.Errorf("%w: sections out of order", wasmruntime.ErrModuleDecode)
			}
			lastID = id
		}
		sr := bufio.NewReader(bytes.NewReader(body))
		if err := d.section(id, sr); err != nil {
			return nil, fmt.Errorf("%w: section %d: %w", wasmruntime.ErrModuleDecode, id, err)
		}
	}
	return m, nil
}

type decoder struct {
	r *bufio.Reader
	m *wasm.Module
}

func (d *decoder) section(id sectionID, r *bufio.Reader) error {
	switch id {
	case sectionCustom:
		return nil // names and other custom sections are not round-tripped.
	case sectionType:
		return d.typeSection(r)
	case sectionImport:
		return d.importSection(r)
	case sectionFunction:
		return d.functionSection(r)
	case sectionTable:
		return d.tableSection(r)
	case sectionMemory:
		return d.memorySection(r)
	case sectionGlobal:
		return d.globalSection(r)
	case sectionExport:
		return d.exportSection(r)
	case sectionStart:
		idx, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		d.m.StartSection = &idx
		return nil
	case sectionElement:
		return d.elementSection(r)
	case sectionCode:
		return d.codeSection(r)
	case sectionData:
		return d.dataSection(r)
	default:
		return fmt.Errorf("%w: unknown section id %d", wasmruntime.ErrModuleDecode, id)
	}
}

func vec(r *bufio.Reader) (uint32, error) { return leb128.DecodeUint32(r) }

func valType(r *bufio.Reader) (api.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch api.ValueType(b) {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeExternref, api.ValueTypeFuncref:
		return api.ValueType(b), nil
	default:
		return 0, fmt.Errorf("%w: unknown value type 0x%x", wasmruntime.ErrModuleDecode, b)
	}
}

func name(r *bufio.Reader) (string, error) {
	n, err := vec(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func limits(r *bufio.Reader) (wasm.Limits, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := leb128.DecodeUint32(r)
	if err != nil {
		return wasm.Limits{}, err
	}
	l := wasm.Limits{Min: min}
	if flag == 1 {
		max, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Limits{}, err
		}
		l.Max = &max
	}
	return l, nil
}

func (d *decoder) typeSection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("%w: expected func type form", wasmruntime.ErrModuleDecode)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		d.m.TypeSection = append(d.m.TypeSection, &wasm.FunctionType{Params: params, Results: results})
	}
	return nil
}

func readValTypes(r *bufio.Reader) ([]api.ValueType, error) {
	n, err := vec(r)
	if err != nil {
		return nil, err
	}
	out := make([]api.ValueType, n)
	for i := range out {
		vt, err := valType(r)
		if err != nil {
			return nil, err
		}
		out[i] = vt
	}
	return out, nil
}

func (d *decoder) importSection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		mod, err := name(r)
		if err != nil {
			return err
		}
		field, err := name(r)
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp := &wasm.Import{Module: mod, Name: field}
		switch kind {
		case 0x00:
			imp.Type = api.ExternTypeFunc
			imp.DescFunc, err = leb128.DecodeUint32(r)
		case 0x01:
			imp.Type = api.ExternTypeTable
			rt, e := valType(r)
			if e != nil {
				return e
			}
			l, e := limits(r)
			if e != nil {
				return e
			}
			imp.DescTable = wasm.TableType{Limits: l, RefType: rt}
		case 0x02:
			imp.Type = api.ExternTypeMemory
			l, e := limits(r)
			if e != nil {
				return e
			}
			imp.DescMem = wasm.MemoryType{Limits: l}
		case 0x03:
			imp.Type = api.ExternTypeGlobal
			vt, e := valType(r)
			if e != nil {
				return e
			}
			mutByte, e := r.ReadByte()
			if e != nil {
				return e
			}
			imp.DescGlobal = wasm.GlobalType{ValType: vt, Mutable: mutByte == 1}
		default:
			return fmt.Errorf("%w: unknown import kind 0x%x", wasmruntime.ErrModuleDecode, kind)
		}
		if err != nil {
			return err
		}
		d.m.ImportSection = append(d.m.ImportSection, imp)
	}
	return nil
}

func (d *decoder) functionSection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		idx, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		d.m.FunctionSection = append(d.m.FunctionSection, idx)
	}
	return nil
}

func (d *decoder) tableSection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		rt, err := valType(r)
		if err != nil {
			return err
		}
		l, err := limits(r)
		if err != nil {
			return err
		}
		d.m.TableSection = append(d.m.TableSection, &wasm.TableType{Limits: l, RefType: rt})
	}
	return nil
}

func (d *decoder) memorySection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		l, err := limits(r)
		if err != nil {
			return err
		}
		d.m.MemorySection = append(d.m.MemorySection, &wasm.MemoryType{Limits: l})
	}
	return nil
}

func (d *decoder) globalSection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		vt, err := valType(r)
		if err != nil {
			return err
		}
		mutByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		expr, err := readConstExpr(r)
		if err != nil {
			return err
		}
		d.m.GlobalSection = append(d.m.GlobalSection, &wasm.Global{
			Type: wasm.GlobalType{ValType: vt, Mutable: mutByte == 1},
			Init: expr,
		})
	}
	return nil
}

func (d *decoder) exportSection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		nm, err := name(r)
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		var t api.ExternType
		switch kind {
		case 0x00:
			t = api.ExternTypeFunc
		case 0x01:
			t = api.ExternTypeTable
		case 0x02:
			t = api.ExternTypeMemory
		case 0x03:
			t = api.ExternTypeGlobal
		default:
			return fmt.Errorf("%w: unknown export kind 0x%x", wasmruntime.ErrModuleDecode, kind)
		}
		d.m.ExportSection = append(d.m.ExportSection, &wasm.Export{Name: nm, Type: t, Index: idx})
	}
	return nil
}

// readConstExpr decodes a single-instruction constant initializer followed
// by an end opcode (0x0b), the only form this runtime's const exprs take.
func readConstExpr(r *bufio.Reader) (wasm.ConstantExpression, error) {
	op, err := r.ReadByte()
	if err != nil {
		return wasm.ConstantExpression{}, err
	}
	var expr wasm.ConstantExpression
	switch op {
	case 0x41: // i32.const
		v, err := leb128.DecodeInt32(r)
		if err != nil {
			return expr, err
		}
		expr = wasm.ConstantExpression{Opcode: wasm.OpI32Const, Immediate: uint64(uint32(v))}
	case 0x42: // i64.const
		v, err := leb128.DecodeInt64(r)
		if err != nil {
			return expr, err
		}
		expr = wasm.ConstantExpression{Opcode: wasm.OpI64Const, Immediate: uint64(v)}
	case 0x43: // f32.const
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return expr, err
		}
		expr = wasm.ConstantExpression{Opcode: wasm.OpF32Const, Immediate: uint64(le32(buf[:]))}
	case 0x44: // f64.const
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return expr, err
		}
		expr = wasm.ConstantExpression{Opcode: wasm.OpF64Const, Immediate: le64(buf[:])}
	case 0x23: // global.get
		idx, err := leb128.DecodeUint32(r)
		if err != nil {
			return expr, err
		}
		expr = wasm.ConstantExpression{Opcode: wasm.OpGlobalGet, Immediate: uint64(idx)}
	case 0xd0: // ref.null
		rt, err := valType(r)
		if err != nil {
			return expr, err
		}
		expr = wasm.ConstantExpression{Opcode: wasm.OpRefNull, RefType: rt}
	case 0xd2: // ref.func
		idx, err := leb128.DecodeUint32(r)
		if err != nil {
			return expr, err
		}
		expr = wasm.ConstantExpression{Opcode: wasm.OpRefFunc, Immediate: uint64(idx) + 1}
	default:
		return expr, fmt.Errorf("%w: unsupported const expr opcode 0x%x", wasmruntime.ErrModuleDecode, op)
	}
	end, err := r.ReadByte()
	if err != nil {
		return expr, err
	}
	if end != 0x0b {
		return expr, fmt.Errorf("%w: const expr missing end", wasmruntime.ErrModuleDecode)
	}
	return expr, nil
}

func (d *decoder) elementSection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		flag, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		var elem wasm.ElementSegment
		switch flag {
		case 0:
			elem.Mode = wasm.ElementModeActive
			elem.TableIndex = 0
			elem.Type = api.ValueTypeFuncref
			off, err := readConstExpr(r)
			if err != nil {
				return err
			}
			elem.Offset = off
			idxs, err := readIndices(r)
			if err != nil {
				return err
			}
			elem.Init = idxs
		case 1:
			elem.Mode = wasm.ElementModePassive
			elem.Type = api.ValueTypeFuncref
			if _, err := r.ReadByte(); err != nil { // elemkind
				return err
			}
			idxs, err := readIndices(r)
			if err != nil {
				return err
			}
			elem.Init = idxs
		case 2:
			elem.Mode = wasm.ElementModeActive
			tblIdx, err := leb128.DecodeUint32(r)
			if err != nil {
				return err
			}
			elem.TableIndex = tblIdx
			off, err := readConstExpr(r)
			if err != nil {
				return err
			}
			elem.Offset = off
			elem.Type = api.ValueTypeFuncref
			if _, err := r.ReadByte(); err != nil { // elemkind
				return err
			}
			idxs, err := readIndices(r)
			if err != nil {
				return err
			}
			elem.Init = idxs
		default:
			return fmt.Errorf("%w: unsupported element segment flag %d", wasmruntime.ErrModuleDecode, flag)
		}
		d.m.ElementSection = append(d.m.ElementSection, &elem)
	}
	return nil
}

func readIndices(r *bufio.Reader) ([]wasm.Index, error) {
	n, err := vec(r)
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Index, n)
	for i := range out {
		idx, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

func (d *decoder) dataSection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		flag, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		seg := &wasm.DataSegment{}
		switch flag {
		case 0:
			seg.Mode = wasm.DataModeActive
			off, err := readConstExpr(r)
			if err != nil {
				return err
			}
			seg.Offset = off
		case 1:
			seg.Mode = wasm.DataModePassive
		case 2:
			seg.Mode = wasm.DataModeActive
			memIdx, err := leb128.DecodeUint32(r)
			if err != nil {
				return err
			}
			seg.MemIndex = memIdx
			off, err := readConstExpr(r)
			if err != nil {
				return err
			}
			seg.Offset = off
		default:
			return fmt.Errorf("%w: unsupported data segment flag %d", wasmruntime.ErrModuleDecode, flag)
		}
		sz, err := vec(r)
		if err != nil {
			return err
		}
		buf := make([]byte, sz)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		seg.Init = buf
		d.m.DataSection = append(d.m.DataSection, seg)
	}
	return nil
}

func (d *decoder) codeSection(r *bufio.Reader) error {
	n, err := vec(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		sz, err := vec(r)
		if err != nil {
			return err
		}
		body := make([]byte, sz)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		br := bufio.NewReader(bytes.NewReader(body))
		code, err := decodeFunctionBody(br)
		if err != nil {
			return err
		}
		d.m.CodeSection = append(d.m.CodeSection, code)
	}
	return nil
}

func decodeFunctionBody(r *bufio.Reader) (*wasm.Code, error) {
	localGroups, err := vec(r)
	if err != nil {
		return nil, err
	}
	var locals []api.ValueType
	for i := uint32(0); i < localGroups; i++ {
		count, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, err
		}
		vt, err := valType(r)
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < count; j++ {
			locals = append(locals, vt)
		}
	}
	body, err := decodeInstructions(r)
	if err != nil {
		return nil, err
	}
	return &wasm.Code{LocalTypes: locals, Body: body}, nil
}

func be32(b []byte) uint32 {
	return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24
}
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}
