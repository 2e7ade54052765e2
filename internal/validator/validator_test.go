package validator

import (
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

func TestValidateAddTwo(t *testing.T) {
	require.NoError(t, Validate(addTwoModule()))
}

func TestValidateBadLocalIndex(t *testing.T) {
	m := addTwoModule()
	m.CodeSection[0].Body[0].Index = 5
	require.ErrorIs(t, Validate(m), wasmruntime.ErrModuleValidate)
}

func TestValidateBadExportIndex(t *testing.T) {
	m := addTwoModule()
	m.ExportSection[0].Index = 7
	require.ErrorIs(t, Validate(m), wasmruntime.ErrModuleValidate)
}

func TestValidateBadCallIndirectType(t *testing.T) {
	m := addTwoModule()
	m.TableSection = []*wasm.TableType{{RefType: api.ValueTypeFuncref}}
	m.CodeSection[0].Body = append(m.CodeSection[0].Body, wasm.Instruction{Op: wasm.OpCallIndirect, Index: 0, Index2: 9})
	require.ErrorIs(t, Validate(m), wasmruntime.ErrModuleValidate)
}
