package stackwasm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

func addTwoModule() *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{
			Body: []wasm.Instruction{
				{Op: wasm.OpLocalGet, Index: 0},
				{Op: wasm.OpLocalGet, Index: 1},
				{Op: wasm.OpI32Add},
			},
		}},
		ExportSection: []*wasm.Export{{Name: "add", Type: api.ExternTypeFunc, Index: 0}},
	}
}

func TestInstantiateAndCallAddTwo(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	compiled, err := r.NewCompiledModule(addTwoModule())
	require.NoError(t, err)
	mod, err := r.InstantiateModule(ctx, compiled, NewModuleConfig().WithName("m"))
	require.NoError(t, err)

	fn := mod.ExportedFunction("add")
	require.NotNil(t, fn)
	results, err := fn.Call(ctx, 40, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

// signedDivModule is (func (export "divs") (param i32 i32) (result i32)
// (i32.div_s (local.get 0) (local.get 1))).
func signedDivModule() *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{
			Body: []wasm.Instruction{
				{Op: wasm.OpLocalGet, Index: 0},
				{Op: wasm.OpLocalGet, Index: 1},
				{Op: wasm.OpI32DivS},
			},
		}},
		ExportSection: []*wasm.Export{{Name: "divs", Type: api.ExternTypeFunc, Index: 0}},
	}
}

func TestDivideByZeroTraps(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	compiled, err := r.NewCompiledModule(signedDivModule())
	require.NoError(t, err)
	mod, err := r.InstantiateModule(ctx, compiled, nil)
	require.NoError(t, err)

	_, err = mod.ExportedFunction("divs").Call(ctx, 7, 0)
	require.Error(t, err)
	trap, ok := err.(*wasmruntime.Trap)
	require.True(t, ok)
	require.Equal(t, wasmruntime.TrapKindIntegerDivideByZero, trap.Kind)
}

func TestSignedDivOverflowTraps(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	compiled, err := r.NewCompiledModule(signedDivModule())
	require.NoError(t, err)
	mod, err := r.InstantiateModule(ctx, compiled, nil)
	require.NoError(t, err)

	_, err = mod.ExportedFunction("divs").Call(ctx, uint64(uint32(math.MinInt32)), uint64(uint32(-1)))
	require.Error(t, err)
	trap, ok := err.(*wasmruntime.Trap)
	require.True(t, ok)
	require.Equal(t, wasmruntime.TrapKindIntegerOverflow, trap.Kind)
}

// shlModule is (func (export "shl") (param i32 i32) (result i32)
// (i32.shl (local.get 0) (local.get 1))), used to confirm the shift amount
// is masked to the operand width rather than trapping or overflowing.
func shlModule() *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{
			Body: []wasm.Instruction{
				{Op: wasm.OpLocalGet, Index: 0},
				{Op: wasm.OpLocalGet, Index: 1},
				{Op: wasm.OpI32Shl},
			},
		}},
		ExportSection: []*wasm.Export{{Name: "shl", Type: api.ExternTypeFunc, Index: 0}},
	}
}

func TestShiftAmountIsMasked(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	compiled, err := r.NewCompiledModule(shlModule())
	require.NoError(t, err)
	mod, err := r.InstantiateModule(ctx, compiled, nil)
	require.NoError(t, err)

	fn := mod.ExportedFunction("shl")
	results, err := fn.Call(ctx, 1, 33) // 33 masked to 1 mod 32
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, results)

	results, err = fn.Call(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, results)
}

// memoryStoreModule has a single memory of min 1 page and a "store8"
// export that writes a fixed byte at its one i32 parameter's address, the
// sequence spec S4 exercises: a store just inside the bound, one just past
// it, a grow, then the same out-of-bounds store succeeding afterward.
func memoryStoreModule() *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []api.ValueType{api.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		MemorySection:   []*wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		CodeSection: []*wasm.Code{{
			Body: []wasm.Instruction{
				{Op: wasm.OpLocalGet, Index: 0},
				{Op: wasm.OpI32Const, Imm: 7},
				{Op: wasm.OpI32Store8},
			},
		}},
		ExportSection: []*wasm.Export{
			{Name: "store8", Type: api.ExternTypeFunc, Index: 0},
			{Name: "mem", Type: api.ExternTypeMemory, Index: 0},
		},
	}
}

func TestMemoryGrowThenOutOfBoundsTraps(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	compiled, err := r.NewCompiledModule(memoryStoreModule())
	require.NoError(t, err)
	mod, err := r.InstantiateModule(ctx, compiled, nil)
	require.NoError(t, err)

	mem := mod.Memory()
	require.NotNil(t, mem)
	require.Equal(t, uint32(wasm.PageSize), mem.Size(ctx))

	store8 := mod.ExportedFunction("store8")
	_, err = store8.Call(ctx, wasm.PageSize-1)
	require.NoError(t, err)

	_, err = store8.Call(ctx, wasm.PageSize)
	require.Error(t, err)
	trap, ok := err.(*wasmruntime.Trap)
	require.True(t, ok)
	require.Equal(t, wasmruntime.TrapKindOutOfBoundsMemoryAccess, trap.Kind)

	prevPages, ok := mem.Grow(ctx, 1)
	require.True(t, ok)
	require.Equal(t, uint32(1), prevPages)
	require.Equal(t, uint32(2*wasm.PageSize), mem.Size(ctx))

	_, err = store8.Call(ctx, wasm.PageSize)
	require.NoError(t, err)
}

// callIndirectModule declares f's real type (i32)->i32 at type index 0 and
// a deliberately mismatched (i64)->i64 at type index 1, then exports two
// wrappers that call through the same table[0] slot annotated with each:
// runOk must succeed, runMismatch must trap.
func callIndirectModule() *wasm.Module {
	tableMax := uint32(1)
	return &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
			{Params: []api.ValueType{api.ValueTypeI64}, Results: []api.ValueType{api.ValueTypeI64}},
			{},
		},
		FunctionSection: []wasm.Index{0, 0, 2},
		TableSection:    []*wasm.TableType{{Limits: wasm.Limits{Min: 1, Max: &tableMax}, RefType: api.ValueTypeFuncref}},
		ElementSection: []*wasm.ElementSegment{{
			Type:       api.ValueTypeFuncref,
			Mode:       wasm.ElementModeActive,
			TableIndex: 0,
			Offset:     wasm.ConstantExpression{Opcode: wasm.OpI32Const, Immediate: 0},
			Init:       []wasm.Index{0},
		}},
		CodeSection: []*wasm.Code{
			// f: (i32)->i32, local.get 0; i32.const 1; i32.add
			{Body: []wasm.Instruction{
				{Op: wasm.OpLocalGet, Index: 0},
				{Op: wasm.OpI32Const, Imm: 1},
				{Op: wasm.OpI32Add},
			}},
			// runOk: (i32)->i32, calls table[0] declared as type 0 (matches f)
			{Body: []wasm.Instruction{
				{Op: wasm.OpLocalGet, Index: 0},
				{Op: wasm.OpI32Const, Imm: 0},
				{Op: wasm.OpCallIndirect, Index: 0, Index2: 0},
			}},
			// runMismatch: ()->(), calls table[0] declared as type 1 (i64)->i64;
			// the i64.const supplies type 1's declared param so the body is
			// well-typed statically even though the call always traps first.
			{Body: []wasm.Instruction{
				{Op: wasm.OpI64Const, Imm: 0},
				{Op: wasm.OpI32Const, Imm: 0},
				{Op: wasm.OpCallIndirect, Index: 0, Index2: 1},
				{Op: wasm.OpDrop},
			}},
		},
		ExportSection: []*wasm.Export{
			{Name: "runOk", Type: api.ExternTypeFunc, Index: 1},
			{Name: "runMismatch", Type: api.ExternTypeFunc, Index: 2},
		},
	}
}

func TestCallIndirectTypeMismatchTraps(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	compiled, err := r.NewCompiledModule(callIndirectModule())
	require.NoError(t, err)
	mod, err := r.InstantiateModule(ctx, compiled, nil)
	require.NoError(t, err)

	results, err := mod.ExportedFunction("runOk").Call(ctx, 41)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)

	_, err = mod.ExportedFunction("runMismatch").Call(ctx)
	require.Error(t, err)
	trap, ok := err.(*wasmruntime.Trap)
	require.True(t, ok)
	require.Equal(t, wasmruntime.TrapKindIndirectCallTypeMismatch, trap.Kind)
}

func TestExportedFunctionNotFound(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	compiled, err := r.NewCompiledModule(addTwoModule())
	require.NoError(t, err)
	mod, err := r.InstantiateModule(ctx, compiled, nil)
	require.NoError(t, err)

	require.Nil(t, mod.ExportedFunction("nonexistent"))
}

func TestHostModuleImportAndCall(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)

	_, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, x, y uint32) uint32 { return x * y }).
		Export("mul").
		Instantiate(ctx)
	require.NoError(t, err)

	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "mul", Type: api.ExternTypeFunc, DescFunc: 0},
		},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{
			Body: []wasm.Instruction{
				{Op: wasm.OpLocalGet, Index: 0},
				{Op: wasm.OpLocalGet, Index: 1},
				{Op: wasm.OpCall, Index: 0},
			},
		}},
		ExportSection: []*wasm.Export{{Name: "run", Type: api.ExternTypeFunc, Index: 1}},
	}
	compiled, err := r.NewCompiledModule(m)
	require.NoError(t, err)
	guest, err := r.InstantiateModule(ctx, compiled, NewModuleConfig().WithName("guest"))
	require.NoError(t, err)

	results, err := guest.ExportedFunction("run").Call(ctx, 6, 7)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

func TestCompileModuleFromBinary(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	bin := buildAddTwoBinary()
	compiled, err := r.CompileModule(ctx, bin)
	require.NoError(t, err)
	mod, err := r.InstantiateModule(ctx, compiled, nil)
	require.NoError(t, err)
	results, err := mod.ExportedFunction("add").Call(ctx, 10, 20)
	require.NoError(t, err)
	require.Equal(t, []uint64{30}, results)
}

func TestCacheReusesCompiledModule(t *testing.T) {
	ctx := context.Background()
	cache := NewCache()
	r := NewRuntimeWithConfig(ctx, NewRuntimeConfig().WithCache(cache))
	bin := buildAddTwoBinary()

	first, err := r.CompileModule(ctx, bin)
	require.NoError(t, err)
	second, err := r.CompileModule(ctx, bin)
	require.NoError(t, err)
	require.Same(t, first.module, second.module)
}

func buildAddTwoBinary() []byte {
	var b []byte
	b = append(b, 0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00)
	b = append(b, 0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f) // type section
	b = append(b, 0x03, 0x02, 0x01, 0x00)                              // function section
	b = append(b, 0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00)   // export section
	b = append(b, 0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b) // code section
	return b
}
