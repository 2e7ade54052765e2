// Package wasm holds the static module structure (types, sections) and the
// runtime store/instance model that the interpreter executes against. This
// package owns every type descriptor and every piece of mutable guest state;
// it has no notion of how instructions are dispatched.
package wasm

import (
	"fmt"
	"strings"

	"github.com/stackwasm/stackwasm/api"
)

// Index is a zero-based position in one of a module's index spaces
// (functions, tables, memories, globals, types, elements, data), imports
// counted first.
type Index = uint32

// Mutability distinguishes an immutable (const) global from a mutable (var)
// one. Only var globals accept global.set.
type Mutability bool

const (
	Const Mutability = false
	Var   Mutability = true
)

// Limits bounds the size of a table or memory: at least Min units, at most
// Max units if present. Units are pages for memories, elements for tables.
type Limits struct {
	Min uint32
	Max *uint32
}

// Valid reports whether the limit pair itself is well formed: Min must not
// exceed Max when Max is set.
func (l Limits) Valid() bool {
	return l.Max == nil || l.Min <= *l.Max
}

// IsSubtypeOf implements the limit subtyping relation from the module
// instantiation rules: l is a subtype of other iff l admits no more growth
// room than other ever requires, i.e. l.Min is at least as large as what
// other demands, and l's own ceiling (if any) never exceeds other's.
func (l Limits) IsSubtypeOf(other Limits) bool {
	if l.Min < other.Min {
		return false
	}
	if other.Max == nil {
		return true
	}
	return l.Max != nil && *l.Max <= *other.Max
}

func (l Limits) String() string {
	if l.Max == nil {
		return fmt.Sprintf("{min=%d}", l.Min)
	}
	return fmt.Sprintf("{min=%d,max=%d}", l.Min, *l.Max)
}

// FunctionType is the signature (input, output) pair that classifies
// functions and is checked exactly (not via subtyping) on import and on
// call_indirect.
type FunctionType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

func (t *FunctionType) String() string {
	var b strings.Builder
	for _, p := range t.Params {
		b.WriteByte(' ')
		b.WriteString(api.ValueTypeName(p))
	}
	b.WriteString(" ->")
	for _, r := range t.Results {
		b.WriteByte(' ')
		b.WriteString(api.ValueTypeName(r))
	}
	return b.String()
}

// EqualsSignature reports whether t has exactly the given params/results,
// used both for import linking and call_indirect's runtime check.
func (t *FunctionType) EqualsSignature(params, results []api.ValueType) bool {
	return valueTypesEqual(t.Params, params) && valueTypesEqual(t.Results, results)
}

func valueTypesEqual(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MemoryType is a Limits expressed in 65536-byte pages.
type MemoryType struct {
	Limits
}

// PageSize is the fixed granularity of linear memory size and growth.
const PageSize = 65536

// MaxMemoryPages is the hard ceiling the spec sets on any one memory, since
// a page count is itself representable in 32 bits but linear byte offsets
// must also fit.
const MaxMemoryPages = 1 << 16

// TableType is a Limits over elements of a single reference kind (funcref or
// externref).
type TableType struct {
	Limits
	RefType api.ValueType
}

// GlobalType classifies a global by its value kind and whether it accepts
// global.set.
type GlobalType struct {
	ValType api.ValueType
	Mutable Mutability
}

// ConstantExpression is an unevaluated initializer: one of i32.const,
// i64.const, f32.const, f64.const, ref.null, ref.func or global.get of an
// imported immutable global. The validator does not check which form an
// initializer takes.
// Immediate holds the already-decoded operand so that this package does not
// need to depend on the binary decoder's byte-level encoding.
type ConstantExpression struct {
	Opcode    Opcode
	Immediate uint64 // numeric bit pattern, function/global index, or 0 for ref.null
	RefType   api.ValueType
}

// Import describes one entry of a module's import section: the two-part
// name it resolves against, and the declared type of the externally
// supplied value.
type Import struct {
	Module, Name string
	Type         api.ExternType

	DescFunc   Index // type index, when Type == ExternTypeFunc
	DescTable  TableType
	DescMem    MemoryType
	DescGlobal GlobalType
}

// Export describes one entry of a module's export section.
type Export struct {
	Name  string
	Type  api.ExternType
	Index Index
}

// Global is a module-defined (non-imported) global: its type plus the
// constant expression that initializes it.
type Global struct {
	Type GlobalType
	Init ConstantExpression
}

// ElementMode classifies how an element segment is applied at instantiation.
type ElementMode byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// ElementSegment is a sequence of function indices (the common funcref case)
// or already-resolved references, optionally committed into a table at
// instantiation.
type ElementSegment struct {
	Type       api.ValueType // RefType of elements: funcref or externref
	Mode       ElementMode
	TableIndex Index
	Offset     ConstantExpression
	Init       []Index // function indices; interpreted as funcref addresses once resolved
}

// DataMode classifies how a data segment is applied at instantiation.
type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// DataSegment is a literal byte payload, optionally committed into a memory
// at instantiation.
type DataSegment struct {
	Mode      DataMode
	MemIndex  Index
	Offset    ConstantExpression
	Init      []byte
}

func (d *DataSegment) IsPassive() bool { return d.Mode == DataModePassive }

// Code is the per-function body: its declared locals (grouped by run-length
// count/type, expanded once at load) and the raw instruction stream.
type Code struct {
	LocalTypes []api.ValueType
	Body       []Instruction
}

// Module is the decoded, validated static structure that instantiation
// consumes. It is produced by an external decoder or parser (out of scope
// here) and is not mutated once built, apart from the memory maximums the
// root package's applyMemoryMax fills in at compile time.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index // type index per defined function, parallel to CodeSection
	TableSection    []*TableType
	MemorySection   []*MemoryType
	GlobalSection   []*Global
	ExportSection   []*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Code
	DataSection     []*DataSegment

	// NameSection holds the optional debug names used for DebugName/trap
	// formatting; absent when the module carries no custom name section.
	NameSection *NameSection
}

// NameSection holds the module-defined debug names picked up from a custom
// "name" section, used only for diagnostics.
type NameSection struct {
	ModuleName    string
	FunctionNames map[Index]string
	LocalNames    map[Index]map[Index]string
}

// ImportedFunctionCount returns how many of the module's functions
// (by the function index space, imports first) are imports.
func (m *Module) ImportedFunctionCount() int {
	n := 0
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeFunc {
			n++
		}
	}
	return n
}

func (m *Module) ImportedTableCount() int {
	n := 0
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeTable {
			n++
		}
	}
	return n
}

func (m *Module) ImportedMemoryCount() int {
	n := 0
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeMemory {
			n++
		}
	}
	return n
}

func (m *Module) ImportedGlobalCount() int {
	n := 0
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeGlobal {
			n++
		}
	}
	return n
}

// funcDesc formats a function's index-namespace identity for error/trap
// messages, using the custom name section when available.
func (m *Module) funcDesc(idx Index) string {
	if m.NameSection != nil {
		if name, ok := m.NameSection.FunctionNames[idx]; ok {
			return fmt.Sprintf("function[%d] %s", idx, name)
		}
	}
	return fmt.Sprintf("function[%d]", idx)
}
