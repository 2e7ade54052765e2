// Package api includes constants and interfaces shared between embedders and
// the internal engine. Everything here is a description of the WebAssembly
// core semantics this runtime implements; none of it is specific to any one
// module instance.
package api

import (
	"context"
	"fmt"
	"math"
	"reflect"
)

// ExternType classifies imports and exports by the four external kinds the
// core spec defines.
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

const (
	ExternTypeFuncName   = "func"
	ExternTypeTableName  = "table"
	ExternTypeMemoryName = "memory"
	ExternTypeGlobalName = "global"
)

// ExternTypeName returns the text format field name of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return ExternTypeFuncName
	case ExternTypeTable:
		return ExternTypeTableName
	case ExternTypeMemory:
		return ExternTypeMemoryName
	case ExternTypeGlobal:
		return ExternTypeGlobalName
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a value kind. Function parameters, results, locals and
// globals are all declared in terms of a ValueType.
//
// The following describes how to convert between Wasm and Go types:
//
//   - ValueTypeI32 - uint64(uint32,int32)
//   - ValueTypeI64 - uint64(int64)
//   - ValueTypeF32 - EncodeF32 DecodeF32 from float32
//   - ValueTypeF64 - EncodeF64 DecodeF64 from float64
//   - ValueTypeFuncref - a store function address plus one, or the RefNull
//     sentinel
//   - ValueTypeExternref - uintptr(unsafe.Pointer(p)) where p is any Go
//     pointer type, or a null sentinel
//
// Note: This is a byte alias, matching the one-byte encoding used on the wire.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c

	// ValueTypeFuncref is a nullable reference to a function in a table.
	// In this runtime a funcref is an opaque 64-bit value: either the null
	// reference sentinel or a store-relative function address plus one.
	ValueTypeFuncref ValueType = 0x70

	// ValueTypeExternref is a nullable host-opaque reference. Values are
	// raw 64-bit pointers at the API level: uintptr(unsafe.Pointer(p)).
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the text format name of the given ValueType, or
// "unknown" if it isn't a value this runtime recognizes.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// RefNull is the 64-bit sentinel used for a null funcref or externref. It
// never collides with a live funcref, since function addresses are biased
// by one before being encoded onto the value stack; an externref is the raw
// pointer value, so RefNull is the nil pointer.
const RefNull uint64 = 0

// Module is the set of functions, memory, tables and globals exported by a
// module instance, post-instantiation.
//
// Note: This is an interface for decoupling, not third-party implementation.
// All implementations live in this module.
type Module interface {
	fmt.Stringer

	// Name is the name this module was instantiated with.
	Name() string

	// Memory returns the memory defined in this module, or nil if there is
	// none.
	Memory() Memory

	// ExportedFunction returns a function exported from this module, or nil
	// if it wasn't.
	ExportedFunction(name string) Function

	// ExportedMemory returns a memory exported from this module, or nil if
	// it wasn't.
	ExportedMemory(name string) Memory

	// ExportedGlobal returns a global exported from this module, or nil if
	// it wasn't.
	ExportedGlobal(name string) Global

	// ExportedTable returns a table exported from this module, or nil if it
	// wasn't.
	ExportedTable(name string) Table

	// CloseWithExitCode returns nil and has no effect in this runtime: the
	// instance stays registered in its store, and later calls into the
	// module behave as before whatever the exitCode.
	CloseWithExitCode(ctx context.Context, exitCode uint32) error

	Closer
}

// Closer closes a resource.
type Closer interface {
	Close(context.Context) error
}

// FunctionDefinition is a function's static signature and provenance,
// available before (and independently of) any instantiation.
type FunctionDefinition interface {
	// ModuleName is the possibly empty name of the module defining this
	// function.
	ModuleName() string

	// Index is the position in the module's function index namespace,
	// imports first.
	Index() uint32

	// Name is the module-defined name of the function, not necessarily its
	// export name.
	Name() string

	// DebugName identifies this function for traps and diagnostics. Ex.
	// "env.abort", or ".$3" when unnamed.
	DebugName() string

	// Import returns the defining module's name and the function's name,
	// with isImport true when the function is host-implemented and false
	// for a function decoded from a module.
	Import() (moduleName, name string, isImport bool)

	// ExportNames include all exported names for the given function.
	ExportNames() []string

	// GoFunc is present when the function was bound through reflection
	// (HostFunctionBuilder.WithFunc), and nil otherwise, including for
	// WithGoFunction/WithGoModuleFunction host functions. It uses the caller's memory, which
	// may differ from the defining module's own memory.
	GoFunc() *reflect.Value

	// ParamTypes are the possibly empty sequence of value types accepted by
	// this function.
	ParamTypes() []ValueType

	// ParamNames are index-correlated with ParamTypes, or nil when unknown.
	ParamNames() []string

	// ResultTypes are the possibly empty sequence of value types returned by
	// this function.
	ResultTypes() []ValueType
}

// Function is an instantiated, callable WebAssembly function.
type Function interface {
	// Definition is metadata about this function from its defining module.
	Definition() FunctionDefinition

	// Call invokes the function with parameters encoded per ParamTypes. The
	// result, if any, is encoded per ResultTypes. When ctx is nil it
	// defaults to context.Background.
	//
	// The returned error wraps a runtime trap if the invocation failed at
	// runtime, or an argument-count/type mismatch if the call was malformed.
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Global is an instantiated global value, exported or not.
type Global interface {
	fmt.Stringer

	// Type describes the numeric type of the global.
	Type() ValueType

	// Get returns the current value of this global.
	Get(context.Context) uint64
}

// MutableGlobal is a Global declared as mutable (var, not const).
type MutableGlobal interface {
	Global

	// Set updates the value of this global.
	Set(ctx context.Context, v uint64)
}

// Table is an instantiated table of opaque references (funcref or
// externref), addressed by a dense, zero-based index.
type Table interface {
	// Type is either ValueTypeFuncref or ValueTypeExternref.
	Type() ValueType

	// Size returns the current number of elements.
	Size(context.Context) uint32

	// Grow increases the table by delta elements, filling new slots with
	// init. It returns the previous size, or false if delta would exceed
	// the table's declared maximum.
	Grow(ctx context.Context, delta uint32, init uint64) (previous uint32, ok bool)

	// Get returns the raw reference value at i, or false if i is out of
	// bounds.
	Get(ctx context.Context, i uint32) (uint64, bool)

	// Set overwrites the raw reference value at i, returning false if i is
	// out of bounds.
	Set(ctx context.Context, i uint32, v uint64) bool
}

// Memory allows restricted access to a module instance's linear memory. This
// does not allow growing past what Grow permits.
//
// # Notes
//
//   - All functions accept a context.Context, which when nil, defaults to
//     context.Background.
//   - This is an interface for decoupling, not third-party implementation.
//   - All multi-byte values are little-endian, per the core specification.
type Memory interface {
	// Size returns the size in bytes available. Ex. a single page memory
	// reports 65536.
	Size(context.Context) uint32

	// Grow increases memory by the delta in pages (65536 bytes per page).
	// The return value is the previous size in pages, or false if the delta
	// was ignored as it would exceed the declared maximum.
	Grow(ctx context.Context, deltaPages uint32) (previousPages uint32, ok bool)

	// ReadByte reads a single byte at offset, or returns false if out of
	// range.
	ReadByte(ctx context.Context, offset uint32) (byte, bool)

	// ReadUint16Le reads a little-endian uint16 at offset, or false if out
	// of range.
	ReadUint16Le(ctx context.Context, offset uint32) (uint16, bool)

	// ReadUint32Le reads a little-endian uint32 at offset, or false if out
	// of range.
	ReadUint32Le(ctx context.Context, offset uint32) (uint32, bool)

	// ReadFloat32Le reads a little-endian IEEE 754 float32 at offset, or
	// false if out of range.
	ReadFloat32Le(ctx context.Context, offset uint32) (float32, bool)

	// ReadUint64Le reads a little-endian uint64 at offset, or false if out
	// of range.
	ReadUint64Le(ctx context.Context, offset uint32) (uint64, bool)

	// ReadFloat64Le reads a little-endian IEEE 754 float64 at offset, or
	// false if out of range.
	ReadFloat64Le(ctx context.Context, offset uint32) (float64, bool)

	// Read returns a byteCount-length view of the underlying buffer starting
	// at offset, or false if out of range.
	//
	// # Write-through
	//
	// This is a view, not a copy: writes to the returned slice are visible
	// to the guest, and vice versa. The view is only stable until the next
	// Grow; callers that need stability across a Grow must copy, or require
	// the module declare min == max.
	Read(ctx context.Context, offset, byteCount uint32) ([]byte, bool)

	// WriteByte writes a single byte at offset, or returns false if out of
	// range.
	WriteByte(ctx context.Context, offset uint32, v byte) bool

	// WriteUint16Le writes a little-endian uint16 at offset, or returns
	// false if out of range.
	WriteUint16Le(ctx context.Context, offset uint32, v uint16) bool

	// WriteUint32Le writes a little-endian uint32 at offset, or returns
	// false if out of range.
	WriteUint32Le(ctx context.Context, offset, v uint32) bool

	// WriteFloat32Le writes a little-endian IEEE 754 float32 at offset, or
	// returns false if out of range.
	WriteFloat32Le(ctx context.Context, offset uint32, v float32) bool

	// WriteUint64Le writes a little-endian uint64 at offset, or returns
	// false if out of range.
	WriteUint64Le(ctx context.Context, offset uint32, v uint64) bool

	// WriteFloat64Le writes a little-endian IEEE 754 float64 at offset, or
	// returns false if out of range.
	WriteFloat64Le(ctx context.Context, offset uint32, v float64) bool

	// Write writes v at offset, or returns false if out of range.
	Write(ctx context.Context, offset uint32, v []byte) bool
}

// EncodeExternref encodes a host pointer as a ValueTypeExternref.
func EncodeExternref(input uintptr) uint64 { return uint64(input) }

// DecodeExternref decodes a ValueTypeExternref to a host pointer.
func DecodeExternref(input uint64) uintptr { return uintptr(input) }

// EncodeI32 encodes the input as a ValueTypeI32.
func EncodeI32(input int32) uint64 { return uint64(uint32(input)) }

// EncodeI64 encodes the input as a ValueTypeI64.
func EncodeI64(input int64) uint64 { return uint64(input) }

// EncodeF32 encodes the input as a ValueTypeF32.
func EncodeF32(input float32) uint64 { return uint64(math.Float32bits(input)) }

// DecodeF32 decodes a ValueTypeF32 to a float32.
func DecodeF32(input uint64) float32 { return math.Float32frombits(uint32(input)) }

// EncodeF64 encodes the input as a ValueTypeF64.
func EncodeF64(input float64) uint64 { return math.Float64bits(input) }

// DecodeF64 decodes a ValueTypeF64 to a float64.
func DecodeF64(input uint64) float64 { return math.Float64frombits(input) }

// MemorySizer is the shape of a function that chooses the capacity (in
// pages) to preallocate for a memory. Nothing in this runtime accepts or
// calls one; memories are allocated at their declared minimum.
//
// Ex. to always allocate the declared maximum up front:
//
//	capIsMax := func(minPages uint32, maxPages *uint32) (min, capacity, max uint32) {
//		if maxPages != nil {
//			return minPages, *maxPages, *maxPages
//		}
//		return minPages, minPages, 65536
//	}
type MemorySizer func(minPages uint32, maxPages *uint32) (min, capacity, max uint32)

// GoFunction is a highly efficient function implemented in Go, accepting and
// returning values via a shared uint64 stack instead of reflection.
//
// The stack is pre-populated with the function's arguments (low index
// first) and sized to fit the larger of params or results; the function
// reads its inputs off stack[0:len(params)] and must overwrite
// stack[0:len(results)] with its outputs before returning.
//
// See HostFunctionBuilder.WithGoFunction.
type GoFunction interface {
	Call(ctx context.Context, stack []uint64)
}

// GoModuleFunction is a GoFunction that also receives the calling module
// instance, for host functions that need access to the caller's memory or
// exports (ex an allocator or a WASI-style syscall shim).
//
// See HostFunctionBuilder.WithGoModuleFunction.
type GoModuleFunction interface {
	Call(ctx context.Context, mod Module, stack []uint64)
}

// GoFunc adapts a plain function to the GoFunction interface.
type GoFunc func(ctx context.Context, stack []uint64)

func (f GoFunc) Call(ctx context.Context, stack []uint64) { f(ctx, stack) }

// GoModuleFunc adapts a plain function to the GoModuleFunction interface.
type GoModuleFunc func(ctx context.Context, mod Module, stack []uint64)

func (f GoModuleFunc) Call(ctx context.Context, mod Module, stack []uint64) { f(ctx, mod, stack) }
