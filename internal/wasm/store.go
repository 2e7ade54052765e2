package wasm

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

// FuncAddr, TableAddr, MemAddr, GlobalAddr, ElemAddr and DataAddr are stable
// integer addresses into a Store's arenas. Once handed out, an address is
// never reused or aliased to a different object, matching the address
// stability invariant owning instantiation and the interpreter both rely on.
type (
	FuncAddr   = uint32
	TableAddr  = uint32
	MemAddr    = uint32
	GlobalAddr = uint32
	ElemAddr   = uint32
	DataAddr   = uint32
)

// ExternVal is a tagged address crossing the instance/import boundary: one
// of Func, Table, Mem or Global, selected by Type.
type ExternVal struct {
	Type   api.ExternType
	Func   FuncAddr
	Table  TableAddr
	Mem    MemAddr
	Global GlobalAddr
}

// FunctionInstance is either an internal (guest-defined) function, carrying
// its code and owning module instance, or a host function, carrying a Go
// callable. Exactly one of the two is populated, selected by IsHost.
type FunctionInstance struct {
	Type *FunctionType

	IsHost bool

	// Internal function fields.
	Module     *ModuleInstance
	LocalTypes []api.ValueType
	Body       []Instruction

	// Host function fields.
	GoFunc api.GoFunction
	// GoModuleFunc, when set instead of GoFunc, additionally receives the
	// calling module's CallContext.
	GoModuleFunc api.GoModuleFunction
	ReflectFunc  *reflect.Value

	// DebugName, ModuleName, Name, ExportNames and ParamNames mirror
	// api.FunctionDefinition, carried alongside the instance so diagnostics
	// and host introspection don't need a second lookup table.
	DebugName   string
	ModuleName  string
	Name        string
	ExportNames []string
	ParamNames  []string

	// Idx is this function's position in its defining module's function
	// index namespace (imports counted first).
	Idx Index
}

// TableInstance is a table's live element vector plus its declared type,
// which bounds future Grow calls.
type TableInstance struct {
	Type TableType
	// Elements holds raw reference bit patterns: api.RefNull for the null
	// reference, 1+address for a live funcref (the bias keeps zero reserved
	// for null regardless of address zero being valid), or the raw host
	// value for an externref.
	Elements []uint64
}

// MemoryInstance is a memory's backing bytes plus its declared type, which
// bounds future Grow calls. len(Buffer) is always a multiple of PageSize.
type MemoryInstance struct {
	Type   MemoryType
	Buffer []byte
}

func (m *MemoryInstance) Pages() uint32 { return uint32(len(m.Buffer) / PageSize) }

// GlobalInstance is a global's type plus its current 64-bit value (bit
// pattern for numbers, biased address for references).
type GlobalInstance struct {
	Type GlobalType
	Val  uint64
}

// ElementInstance is a (possibly emptied) sequence of references retained
// for table.init after instantiation. Passive and declarative segments keep
// one of these; active segments are consumed directly into a table.
type ElementInstance struct {
	Type     api.ValueType
	Elements []uint64
	dropped  bool
}

// DataInstance is a (possibly emptied) sequence of bytes retained for
// memory.init after instantiation.
type DataInstance struct {
	Bytes   []byte
	dropped bool
}

// ExportInstance is one resolved entry of a module instance's export table.
type ExportInstance struct {
	Name string
	Val  ExternVal
}

// ModuleInstance is a module's runtime directory: addresses into the owning
// store for every function/table/memory/global it declares or imports, plus
// its own export table. It never holds runtime state directly; the store
// does.
type ModuleInstance struct {
	Name string

	Store *Store

	Types   []*FunctionType
	Funcs   []FuncAddr
	Tables  []TableAddr
	Mems    []MemAddr
	Globals []GlobalAddr
	Elems   []ElemAddr
	Datas   []DataAddr

	Exports map[string]ExportInstance

	exportOrder []string
}

func (m *ModuleInstance) String() string { return fmt.Sprintf("module[%s]", m.Name) }

// Store is the process-wide arena owning every runtime object. It is the
// sole mutable owner of guest state: module instances and external values
// hold only addresses into it. A Store is safe for concurrent instantiation
// and lookup, but at most one invocation may hold the store's
// execution lock at a time.
type Store struct {
	mu sync.RWMutex

	funcs   []*FunctionInstance
	tables  []*TableInstance
	mems    []*MemoryInstance
	globals []*GlobalInstance
	elems   []*ElementInstance
	datas   []*DataInstance

	modules     map[string]*ModuleInstance
	moduleOrder []string

	// typeIDs assigns a stable identity to each distinct function signature
	// seen so far. call_indirect does not consult it; it compares
	// signatures structurally with EqualsSignature.
	typeIDs map[string]uint32

	// execMu serializes invocations against this store, enforcing the
	// single-writer rule.
	execMu sync.Mutex
}

func NewStore() *Store {
	return &Store{
		modules: map[string]*ModuleInstance{},
		typeIDs: map[string]uint32{},
	}
}

// Lock/Unlock implement the single-writer invocation policy: the
// interpreter's call entrypoint holds this for the duration of one
// top-level invocation, including any host callbacks it makes. execMu is a
// plain, non-reentrant mutex; the interpreter package is responsible for
// recognizing a synchronous same-goroutine re-entry (a host callback
// calling back into this store) and skipping a redundant Lock that would
// otherwise deadlock.
func (s *Store) Lock()   { s.execMu.Lock() }
func (s *Store) Unlock() { s.execMu.Unlock() }

// Snapshot reports the current size of each arena, useful for tests
// asserting address-stability and for host introspection.
type Snapshot struct {
	Funcs, Tables, Mems, Globals, Elems, Datas int
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{len(s.funcs), len(s.tables), len(s.mems), len(s.globals), len(s.elems), len(s.datas)}
}

// --- allocators ---

func (s *Store) funcAlloc(f *FunctionInstance) FuncAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := FuncAddr(len(s.funcs))
	s.funcs = append(s.funcs, f)
	return addr
}

func (s *Store) tableAlloc(t TableType) TableAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := TableAddr(len(s.tables))
	elems := make([]uint64, t.Min)
	s.tables = append(s.tables, &TableInstance{Type: t, Elements: elems})
	return addr
}

func (s *Store) memAlloc(t MemoryType) MemAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := MemAddr(len(s.mems))
	buf := make([]byte, uint64(t.Min)*PageSize)
	s.mems = append(s.mems, &MemoryInstance{Type: t, Buffer: buf})
	return addr
}

func (s *Store) globalAlloc(t GlobalType, initial uint64) GlobalAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := GlobalAddr(len(s.globals))
	s.globals = append(s.globals, &GlobalInstance{Type: t, Val: initial})
	return addr
}

func (s *Store) elemAlloc(refType api.ValueType, refs []uint64) ElemAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := ElemAddr(len(s.elems))
	s.elems = append(s.elems, &ElementInstance{Type: refType, Elements: refs})
	return addr
}

func (s *Store) dataAlloc(b []byte) DataAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := DataAddr(len(s.datas))
	s.datas = append(s.datas, &DataInstance{Bytes: b})
	return addr
}

// --- typed accessors ---

func (s *Store) Func(a FuncAddr) *FunctionInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.funcs[a]
}

func (s *Store) FuncType(a FuncAddr) *FunctionType {
	return s.Func(a).Type
}

func (s *Store) Table(a TableAddr) *TableInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[a]
}

func (s *Store) TableRead(a TableAddr, i uint32) (uint64, *wasmruntime.Trap) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tables[a]
	if i >= uint32(len(t.Elements)) {
		return 0, wasmruntime.NewTrap(wasmruntime.TrapKindOutOfBoundsTableAccess)
	}
	return t.Elements[i], nil
}

func (s *Store) TableWrite(a TableAddr, i uint32, ref uint64) *wasmruntime.Trap {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[a]
	if i >= uint32(len(t.Elements)) {
		return wasmruntime.NewTrap(wasmruntime.TrapKindOutOfBoundsTableAccess)
	}
	t.Elements[i] = ref
	return nil
}

func (s *Store) TableSize(a TableAddr) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.tables[a].Elements))
}

// TableGrow appends delta copies of init, returning the previous size, or
// false if that would exceed the table's declared maximum or 2^32-1.
func (s *Store) TableGrow(a TableAddr, delta uint32, init uint64) (previous uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[a]
	old := uint32(len(t.Elements))
	newSize := uint64(old) + uint64(delta)
	if newSize > 0xFFFFFFFF {
		return old, false
	}
	if t.Type.Max != nil && newSize > uint64(*t.Type.Max) {
		return old, false
	}
	grown := make([]uint64, newSize)
	copy(grown, t.Elements)
	for i := old; uint64(i) < newSize; i++ {
		grown[i] = init
	}
	t.Elements = grown
	return old, true
}

func (s *Store) Memory(a MemAddr) *MemoryInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mems[a]
}

func (s *Store) MemByteLen(a MemAddr) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.mems[a].Buffer))
}

// MemGrow grows memory a by delta pages, returning the previous page count,
// or false if that would exceed the memory's declared maximum or the hard
// 2^16 page ceiling. Unlike table/memory access this never traps: the
// memory.grow instruction surfaces failure as a typed -1 result.
func (s *Store) MemGrow(a MemAddr, delta uint32) (previousPages uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mems[a]
	old := m.Pages()
	newPages := uint64(old) + uint64(delta)
	if newPages > MaxMemoryPages {
		return old, false
	}
	if m.Type.Max != nil && newPages > uint64(*m.Type.Max) {
		return old, false
	}
	grown := make([]byte, newPages*PageSize)
	copy(grown, m.Buffer)
	m.Buffer = grown
	return old, true
}

func (s *Store) GlobalRead(a GlobalAddr) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globals[a].Val
}

func (s *Store) GlobalWrite(a GlobalAddr, v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.globals[a]
	if g.Type.Mutable == Const {
		return wasmruntime.ErrImmutableGlobal
	}
	g.Val = v
	return nil
}

func (s *Store) GlobalType(a GlobalAddr) GlobalType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globals[a].Type
}

func (s *Store) ElemDrop(a ElemAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elems[a].dropped = true
	s.elems[a].Elements = nil
}

func (s *Store) ElemRead(a ElemAddr) ([]uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.elems[a]
	return e.Elements, !e.dropped
}

func (s *Store) DataDrop(a DataAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datas[a].dropped = true
	s.datas[a].Bytes = nil
}

func (s *Store) DataRead(a DataAddr) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.datas[a]
	return d.Bytes, !d.dropped
}

// Module looks up a previously instantiated module instance by the name it
// was instantiated under.
func (s *Store) Module(name string) *ModuleInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modules[name]
}

func (s *Store) registerModule(m *ModuleInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[m.Name] = m
	s.moduleOrder = append(s.moduleOrder, m.Name)
}

// typeID assigns (or looks up) a stable identity for a function signature.
// call_indirect does not use it; it compares signatures structurally.
func (s *Store) typeID(t *FunctionType) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := t.String()
	if id, ok := s.typeIDs[key]; ok {
		return id
	}
	id := uint32(len(s.typeIDs))
	s.typeIDs[key] = id
	return id
}
