package wasm

import (
	"fmt"
	"reflect"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

// GetExport returns m's export of the given name, or ErrExportNotFound if
// none exists (regardless of kind; callers that care about kind check
// Val.Type themselves, matching S6).
func (m *ModuleInstance) GetExport(name string) (ExportInstance, error) {
	e, ok := m.Exports[name]
	if !ok {
		return ExportInstance{}, fmt.Errorf("%w: %q not exported by module %q", wasmruntime.ErrExportNotFound, name, m.Name)
	}
	return e, nil
}

func (m *ModuleInstance) getExportTyped(name string, t api.ExternType) (ExportInstance, error) {
	e, err := m.GetExport(name)
	if err != nil {
		return ExportInstance{}, err
	}
	if e.Val.Type != t {
		return ExportInstance{}, fmt.Errorf("%w: %q in module %q is a %s, not a %s",
			wasmruntime.ErrImportTypeMismatch, name, m.Name, api.ExternTypeName(e.Val.Type), api.ExternTypeName(t))
	}
	return e, nil
}

func (m *ModuleInstance) buildExports(exports []*Export) {
	m.Exports = make(map[string]ExportInstance, len(exports))
	for _, exp := range exports {
		var val ExternVal
		switch exp.Type {
		case api.ExternTypeFunc:
			val = ExternVal{Type: exp.Type, Func: m.Funcs[exp.Index]}
		case api.ExternTypeTable:
			val = ExternVal{Type: exp.Type, Table: m.Tables[exp.Index]}
		case api.ExternTypeMemory:
			val = ExternVal{Type: exp.Type, Mem: m.Mems[exp.Index]}
		case api.ExternTypeGlobal:
			val = ExternVal{Type: exp.Type, Global: m.Globals[exp.Index]}
		}
		m.Exports[exp.Name] = ExportInstance{Name: exp.Name, Val: val}
		m.exportOrder = append(m.exportOrder, exp.Name)
	}
}

// evalConst evaluates a constant expression against the globals visible so
// far: during the auxiliary-instance phase that is only imported globals,
// matching the rule that initializers can only
// reference imports.
func evalConst(globals []GlobalAddr, store *Store, expr ConstantExpression) uint64 {
	switch expr.Opcode {
	case OpGlobalGet:
		return store.GlobalRead(globals[expr.Immediate])
	case OpRefNull:
		return api.RefNull
	default:
		// i32.const, i64.const, f32.const, f64.const, ref.func: the decoder
		// already reduced these to a raw bit pattern (ref.func biased by one
		// the same way table elements are).
		return expr.Immediate
	}
}

// Instantiate runs the seven-step instantiation protocol: it checks the supplied
// external values against the module's imports, allocates the module's own
// objects in declaration order, builds the export table, commits active
// element and data segments, and finally runs the start function if any.
//
// A failed import check (step 1) leaves the store untouched. A failure in
// steps 5 or 6 returns an error without registering the instance, but the
// objects allocated in step 3 stay in the store's arenas, and segments
// committed before the failing one stay written. A start-function trap
// leaves the instance registered even though its start function failed.
// StartInvoker calls a module's start function with no arguments, returning
// a trap on failure. The wasm package cannot invoke functions itself (doing
// so is the interpreter's job, and the interpreter depends on this
// package), so the caller supplies this hook — see runtime.go, which passes
// the interpreter's CallForStart.
type StartInvoker func(store *Store, addr FuncAddr) *wasmruntime.Trap

func Instantiate(store *Store, name string, module *Module, imports []ExternVal, invoke StartInvoker) (*ModuleInstance, error) {
	if err := checkImports(store, module, imports); err != nil {
		return nil, err
	}

	m := &ModuleInstance{Name: name, Store: store, Types: module.TypeSection}

	// Step 2: auxiliary instance. Imported globals are installed first and
	// exclusively visible to initializer expressions evaluated below: aux
	// keeps only them while m.Globals grows to include module-defined globals.
	for _, ext := range imports {
		if ext.Type == api.ExternTypeGlobal {
			m.Globals = append(m.Globals, ext.Global)
		}
	}
	aux := append([]GlobalAddr(nil), m.Globals...)
	for _, ext := range imports {
		switch ext.Type {
		case api.ExternTypeFunc:
			m.Funcs = append(m.Funcs, ext.Func)
		case api.ExternTypeTable:
			m.Tables = append(m.Tables, ext.Table)
		case api.ExternTypeMemory:
			m.Mems = append(m.Mems, ext.Mem)
		}
	}

	// Step 3: allocate own objects, in declaration order.
	for i, code := range module.CodeSection {
		typeIdx := module.FunctionSection[i]
		fn := &FunctionInstance{
			Type:       module.TypeSection[typeIdx],
			Module:     m,
			LocalTypes: code.LocalTypes,
			Body:       code.Body,
			Idx:        Index(len(m.Funcs)),
		}
		if module.NameSection != nil {
			fn.Name = module.NameSection.FunctionNames[fn.Idx]
		}
		fn.ModuleName = name
		fn.DebugName = debugName(name, fn.Name, fn.Idx)
		addr := store.funcAlloc(fn)
		m.Funcs = append(m.Funcs, addr)
	}

	for _, t := range module.TableSection {
		m.Tables = append(m.Tables, store.tableAlloc(*t))
	}
	for _, mt := range module.MemorySection {
		m.Mems = append(m.Mems, store.memAlloc(*mt))
	}
	for _, g := range module.GlobalSection {
		v := evalConst(aux, store, g.Init)
		m.Globals = append(m.Globals, store.globalAlloc(g.Type, v))
	}

	// Element and data segments are allocated as store-owned instances (for
	// table.init/memory.init) before being conditionally committed below.
	for _, elem := range module.ElementSection {
		refs := make([]uint64, len(elem.Init))
		for i, fidx := range elem.Init {
			refs[i] = biasRef(m.Funcs[fidx])
		}
		m.Elems = append(m.Elems, store.elemAlloc(elem.Type, refs))
	}
	for _, data := range module.DataSection {
		buf := make([]byte, len(data.Init))
		copy(buf, data.Init)
		m.Datas = append(m.Datas, store.dataAlloc(buf))
	}

	// Step 4: exports.
	m.buildExports(module.ExportSection)

	// Step 5: active element segments (tables before memories).
	for i, elem := range module.ElementSection {
		if elem.Mode != ElementModeActive {
			continue
		}
		refs, _ := store.ElemRead(m.Elems[i])
		tableAddr := m.Tables[elem.TableIndex]
		d := uint32(evalConst(aux, store, elem.Offset))
		if uint64(d)+uint64(len(refs)) > uint64(store.TableSize(tableAddr)) {
			return nil, wasmruntime.NewTrap(wasmruntime.TrapKindOutOfBoundsTableAccess)
		}
		for i, r := range refs {
			_ = store.TableWrite(tableAddr, d+uint32(i), r)
		}
		store.ElemDrop(m.Elems[i])
	}

	// Step 6: active data segments.
	for i, data := range module.DataSection {
		if data.Mode != DataModeActive {
			continue
		}
		bytes, _ := store.DataRead(m.Datas[i])
		memAddr := m.Mems[data.MemIndex]
		d := uint32(evalConst(aux, store, data.Offset))
		if uint64(d)+uint64(len(bytes)) > uint64(store.MemByteLen(memAddr)) {
			return nil, wasmruntime.NewTrap(wasmruntime.TrapKindOutOfBoundsMemoryAccess)
		}
		mem := store.Memory(memAddr)
		copy(mem.Buffer[d:], bytes)
		store.DataDrop(m.Datas[i])
	}

	store.registerModule(m)

	// Step 7: start function. The instance stays registered even if this
	// traps.
	if module.StartSection != nil && invoke != nil {
		addr := m.Funcs[*module.StartSection]
		if trap := invoke(store, addr); trap != nil {
			return m, fmt.Errorf("start %s failed: %w", module.funcDesc(*module.StartSection), trap)
		}
	}

	return m, nil
}

func biasRef(addr uint32) uint64 { return uint64(addr) + 1 }

// UnbiasRef reverses biasRef, returning ok=false for the null reference.
func UnbiasRef(v uint64) (addr uint32, ok bool) {
	if v == api.RefNull {
		return 0, false
	}
	return uint32(v - 1), true
}

func debugName(moduleName, name string, idx Index) string {
	if name != "" {
		return moduleName + "." + name
	}
	return fmt.Sprintf("%s.$%d", moduleName, idx)
}

// checkImports implements the import-matching step: arity, kind, and type-subtype checks
// against the module's declared imports. No store allocation happens here.
func checkImports(store *Store, module *Module, imports []ExternVal) error {
	if len(imports) != len(module.ImportSection) {
		return fmt.Errorf("%w: module declares %d imports, %d supplied",
			wasmruntime.ErrImportUnknown, len(module.ImportSection), len(imports))
	}
	for idx, decl := range module.ImportSection {
		ext := imports[idx]
		if ext.Type != decl.Type {
			return importErr(decl, idx, fmt.Errorf("kind mismatch: want %s, got %s",
				api.ExternTypeName(decl.Type), api.ExternTypeName(ext.Type)))
		}
		switch decl.Type {
		case api.ExternTypeFunc:
			if int(decl.DescFunc) >= len(module.TypeSection) {
				return importErr(decl, idx, fmt.Errorf("function type index out of range"))
			}
			want := module.TypeSection[decl.DescFunc]
			got := store.FuncType(ext.Func)
			if !want.EqualsSignature(got.Params, got.Results) {
				return importErr(decl, idx, fmt.Errorf("signature mismatch: %s != %s", want, got))
			}
		case api.ExternTypeTable:
			got := store.Table(ext.Table).Type
			if got.RefType != decl.DescTable.RefType {
				return importErr(decl, idx, fmt.Errorf("reference type mismatch"))
			}
			if !got.Limits.IsSubtypeOf(decl.DescTable.Limits) {
				return importErr(decl, idx, fmt.Errorf("limits %s not within %s", got.Limits, decl.DescTable.Limits))
			}
		case api.ExternTypeMemory:
			got := store.Memory(ext.Mem).Type
			if !got.Limits.IsSubtypeOf(decl.DescMem.Limits) {
				return importErr(decl, idx, fmt.Errorf("limits %s not within %s", got.Limits, decl.DescMem.Limits))
			}
		case api.ExternTypeGlobal:
			got := store.GlobalType(ext.Global)
			if got.Mutable != decl.DescGlobal.Mutable {
				return importErr(decl, idx, fmt.Errorf("mutability mismatch"))
			}
			if got.ValType != decl.DescGlobal.ValType {
				return importErr(decl, idx, fmt.Errorf("value type mismatch: %s != %s",
					api.ValueTypeName(got.ValType), api.ValueTypeName(decl.DescGlobal.ValType)))
			}
		}
	}
	return nil
}

func importErr(i *Import, idx int, err error) error {
	return fmt.Errorf("%w: import[%d] %s[%s.%s]: %v",
		wasmruntime.ErrImportTypeMismatch, idx, api.ExternTypeName(i.Type), i.Module, i.Name, err)
}

// HostFunc describes one Go-implemented function, before it is allocated
// into a store by InstantiateHostModule. Exactly one of GoFunc or
// GoModuleFunc is set, mirroring FunctionInstance's own split.
type HostFunc struct {
	Name         string
	ExportName   string
	ParamNames   []string
	Type         *FunctionType
	GoFunc       api.GoFunction
	GoModuleFunc api.GoModuleFunction
	ReflectFunc  *reflect.Value
}

// InstantiateHostModule builds and registers a module instance directly from
// host-implemented functions and an optional exported memory, bypassing the
// seven-step guest protocol: a host module has no code, element or data
// section to run, just a directory of callables (and, optionally, a memory)
// the store hands out addresses for like any other module.
func InstantiateHostModule(store *Store, name string, funcs []*HostFunc, mem *MemoryType) *ModuleInstance {
	m := &ModuleInstance{Name: name, Store: store}
	var exports []*Export
	for _, hf := range funcs {
		fn := &FunctionInstance{
			Type:         hf.Type,
			IsHost:       true,
			GoFunc:       hf.GoFunc,
			GoModuleFunc: hf.GoModuleFunc,
			ReflectFunc:  hf.ReflectFunc,
			ModuleName:   name,
			Name:         hf.Name,
			ParamNames:   hf.ParamNames,
			Idx:          Index(len(m.Funcs)),
		}
		fn.DebugName = debugName(name, fn.Name, fn.Idx)
		if hf.ExportName != "" {
			fn.ExportNames = []string{hf.ExportName}
		}
		addr := store.funcAlloc(fn)
		m.Funcs = append(m.Funcs, addr)
		if hf.ExportName != "" {
			exports = append(exports, &Export{Name: hf.ExportName, Type: api.ExternTypeFunc, Index: fn.Idx})
		}
	}
	if mem != nil {
		m.Mems = append(m.Mems, store.memAlloc(*mem))
		exports = append(exports, &Export{Name: "memory", Type: api.ExternTypeMemory, Index: 0})
	}
	m.buildExports(exports)
	store.registerModule(m)
	return m
}
