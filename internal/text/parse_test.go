package text

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/wasm"
)

func TestParseAddTwo(t *testing.T) {
	src := `(module
	  (func (export "add") (param i32 i32) (result i32)
	    local.get 0
	    local.get 1
	    i32.add))`
	m, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, m.TypeSection, 1)
	require.Equal(t, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, m.TypeSection[0].Params)
	require.Equal(t, []api.ValueType{api.ValueTypeI32}, m.TypeSection[0].Results)
	require.Len(t, m.FunctionSection, 1)
	require.Len(t, m.CodeSection, 1)
	require.Equal(t, []wasm.Instruction{
		{Op: wasm.OpLocalGet, Index: 0},
		{Op: wasm.OpLocalGet, Index: 1},
		{Op: wasm.OpI32Add},
	}, m.CodeSection[0].Body)
	require.Len(t, m.ExportSection, 1)
	require.Equal(t, "add", m.ExportSection[0].Name)
	require.Equal(t, api.ExternTypeFunc, m.ExportSection[0].Type)
}

func TestParseMemoryAndGlobal(t *testing.T) {
	src := `(module
	  (memory (export "mem") 1 2)
	  (global (export "g") (mut i32) (i32.const 42)))`
	m, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, m.MemorySection, 1)
	require.Equal(t, uint32(1), m.MemorySection[0].Min)
	require.NotNil(t, m.MemorySection[0].Max)
	require.Equal(t, uint32(2), *m.MemorySection[0].Max)

	require.Len(t, m.GlobalSection, 1)
	require.Equal(t, api.ValueTypeI32, m.GlobalSection[0].Type.ValType)
	require.Equal(t, wasm.Var, m.GlobalSection[0].Type.Mutable)
	require.Equal(t, uint64(42), m.GlobalSection[0].Init.Immediate)

	require.Len(t, m.ExportSection, 2)
}

func TestParseImportFunc(t *testing.T) {
	src := `(module
	  (import "env" "log" (func (param i32))))`
	m, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, m.ImportSection, 1)
	require.Equal(t, "env", m.ImportSection[0].Module)
	require.Equal(t, "log", m.ImportSection[0].Name)
	require.Equal(t, api.ExternTypeFunc, m.ImportSection[0].Type)
	ft := m.TypeSection[m.ImportSection[0].DescFunc]
	require.Equal(t, []api.ValueType{api.ValueTypeI32}, ft.Params)
}

func TestParseRejectsNonModule(t *testing.T) {
	_, err := Parse(`(func)`)
	require.Error(t, err)
}
