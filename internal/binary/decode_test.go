package binary

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/leb128"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

func newTestReader(b []byte) *bufio.Reader { return bufio.NewReader(bytes.NewReader(b)) }

// buildAddTwo assembles the canonical (func (param i32 i32) (result i32)
// (local.get 0) (local.get 1) i32.add) module by hand, byte for byte,
// mirroring how a real %.wasm file lays the sections out.
func buildAddTwo(t *testing.T) []byte {
	t.Helper()
	var b []byte
	b = append(b, 0x00, 0x61, 0x73, 0x6d) // magic
	b = append(b, 0x01, 0x00, 0x00, 0x00) // version

	// type section: one type, (i32 i32) -> i32
	typeBody := []byte{0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f}
	b = appendSection(b, sectionType, typeBody)

	// function section: one function, type 0
	b = appendSection(b, sectionFunction, []byte{0x01, 0x00})

	// export section: export "add" as func 0
	exportBody := []byte{0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00}
	b = appendSection(b, sectionExport, exportBody)

	// code section: one body, no locals, local.get 0; local.get 1; i32.add; end
	code := []byte{0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b}
	codeBody := append([]byte{0x01}, leb128.EncodeUint64(nil, uint64(len(code)))...)
	codeBody = append(codeBody, code...)
	b = appendSection(b, sectionCode, codeBody)

	return b
}

func appendSection(b []byte, id sectionID, body []byte) []byte {
	b = append(b, byte(id))
	b = leb128.EncodeUint64(b, uint64(len(body)))
	return append(b, body...)
}

func TestDecodeModuleAddTwo(t *testing.T) {
	m, err := DecodeModule(buildAddTwo(t))
	require.NoError(t, err)
	require.Len(t, m.TypeSection, 1)
	require.Equal(t, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, m.TypeSection[0].Params)
	require.Equal(t, []api.ValueType{api.ValueTypeI32}, m.TypeSection[0].Results)
	require.Len(t, m.CodeSection, 1)
	require.Equal(t, []wasm.Instruction{
		{Op: wasm.OpLocalGet, Index: 0},
		{Op: wasm.OpLocalGet, Index: 1},
		{Op: wasm.OpI32Add},
	}, m.CodeSection[0].Body)
	require.Equal(t, "add", m.ExportSection[0].Name)
}

func TestDecodeModuleBadMagic(t *testing.T) {
	_, err := DecodeModule([]byte{0, 0, 0, 0, 1, 0, 0, 0})
	require.ErrorIs(t, err, wasmruntime.ErrModuleDecode)
}

func TestDecodeBlockIfElse(t *testing.T) {
	// (if (i32.const 1) (then i32.const 1) (else i32.const 2))
	code := []byte{
		0x41, 0x01, // i32.const 1
		0x04, 0x7f, // if (result i32)
		0x41, 0x01, // i32.const 1
		0x05,       // else
		0x41, 0x02, // i32.const 2
		0x0b, // end if
		0x0b, // end func
	}
	br := newTestReader(code)
	body, err := decodeInstructions(br)
	require.NoError(t, err)
	require.Len(t, body, 2)
	require.Equal(t, wasm.OpIf, body[1].Op)
	require.Len(t, body[1].Body, 1)
	require.Len(t, body[1].Else, 1)
}
