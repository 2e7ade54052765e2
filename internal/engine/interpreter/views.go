package interpreter

import (
	"context"
	"reflect"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/wasm"
)

// memoryView, globalView, tableView and functionView adapt a store address
// to the corresponding api interface. They are cheap value types: the store
// pointer plus an address, re-resolved on every call so that a Grow
// observed between calls is always reflected.
type memoryView struct {
	store *wasm.Store
	addr  wasm.MemAddr
}

func (v memoryView) Size(context.Context) uint32 { return v.store.MemByteLen(v.addr) }

func (v memoryView) Grow(_ context.Context, deltaPages uint32) (uint32, bool) {
	return v.store.MemGrow(v.addr, deltaPages)
}

func (v memoryView) buf() []byte { return v.store.Memory(v.addr).Buffer }

func (v memoryView) ReadByte(_ context.Context, offset uint32) (byte, bool) {
	b := v.buf()
	if offset >= uint32(len(b)) {
		return 0, false
	}
	return b[offset], true
}

func (v memoryView) ReadUint16Le(_ context.Context, offset uint32) (uint16, bool) {
	b := v.buf()
	if uint64(offset)+2 > uint64(len(b)) {
		return 0, false
	}
	return uint16(b[offset]) | uint16(b[offset+1])<<8, true
}

func (v memoryView) ReadUint32Le(_ context.Context, offset uint32) (uint32, bool) {
	x, ok := v.readU32(offset)
	return x, ok
}

func (v memoryView) readU32(offset uint32) (uint32, bool) {
	b := v.buf()
	if uint64(offset)+4 > uint64(len(b)) {
		return 0, false
	}
	return uint32(b[offset]) | uint32(b[offset+1])<<8 | uint32(b[offset+2])<<16 | uint32(b[offset+3])<<24, true
}

func (v memoryView) ReadUint64Le(_ context.Context, offset uint32) (uint64, bool) {
	b := v.buf()
	if uint64(offset)+8 > uint64(len(b)) {
		return 0, false
	}
	lo := uint64(b[offset]) | uint64(b[offset+1])<<8 | uint64(b[offset+2])<<16 | uint64(b[offset+3])<<24
	hi := uint64(b[offset+4]) | uint64(b[offset+5])<<8 | uint64(b[offset+6])<<16 | uint64(b[offset+7])<<24
	return lo | hi<<32, true
}

func (v memoryView) ReadFloat32Le(ctx context.Context, offset uint32) (float32, bool) {
	bits, ok := v.readU32(offset)
	if !ok {
		return 0, false
	}
	return api.DecodeF32(uint64(bits)), true
}

func (v memoryView) ReadFloat64Le(ctx context.Context, offset uint32) (float64, bool) {
	bits, ok := v.ReadUint64Le(ctx, offset)
	if !ok {
		return 0, false
	}
	return api.DecodeF64(bits), true
}

func (v memoryView) Read(_ context.Context, offset, byteCount uint32) ([]byte, bool) {
	b := v.buf()
	if uint64(offset)+uint64(byteCount) > uint64(len(b)) {
		return nil, false
	}
	return b[offset : offset+byteCount : offset+byteCount], true
}

func (v memoryView) WriteByte(_ context.Context, offset uint32, val byte) bool {
	b := v.buf()
	if offset >= uint32(len(b)) {
		return false
	}
	b[offset] = val
	return true
}

func (v memoryView) WriteUint16Le(_ context.Context, offset uint32, val uint16) bool {
	b := v.buf()
	if uint64(offset)+2 > uint64(len(b)) {
		return false
	}
	b[offset], b[offset+1] = byte(val), byte(val>>8)
	return true
}

func (v memoryView) writeU32(offset, val uint32) bool {
	b := v.buf()
	if uint64(offset)+4 > uint64(len(b)) {
		return false
	}
	b[offset], b[offset+1], b[offset+2], b[offset+3] = byte(val), byte(val>>8), byte(val>>16), byte(val>>24)
	return true
}

func (v memoryView) WriteUint32Le(_ context.Context, offset, val uint32) bool {
	return v.writeU32(offset, val)
}

func (v memoryView) WriteFloat32Le(_ context.Context, offset uint32, val float32) bool {
	return v.writeU32(offset, uint32(api.EncodeF32(val)))
}

func (v memoryView) WriteUint64Le(_ context.Context, offset uint32, val uint64) bool {
	b := v.buf()
	if uint64(offset)+8 > uint64(len(b)) {
		return false
	}
	for i := 0; i < 8; i++ {
		b[offset+uint32(i)] = byte(val >> (8 * i))
	}
	return true
}

func (v memoryView) WriteFloat64Le(ctx context.Context, offset uint32, val float64) bool {
	return v.WriteUint64Le(ctx, offset, api.EncodeF64(val))
}

func (v memoryView) Write(_ context.Context, offset uint32, val []byte) bool {
	b := v.buf()
	if uint64(offset)+uint64(len(val)) > uint64(len(b)) {
		return false
	}
	copy(b[offset:], val)
	return true
}

type globalView struct {
	store *wasm.Store
	addr  wasm.GlobalAddr
}

func (v globalView) String() string        { return api.ValueTypeName(v.Type()) }
func (v globalView) Type() api.ValueType   { return v.store.GlobalType(v.addr).ValType }
func (v globalView) Get(context.Context) uint64 { return v.store.GlobalRead(v.addr) }
func (v globalView) Set(_ context.Context, val uint64) {
	_ = v.store.GlobalWrite(v.addr, val)
}

type tableView struct {
	store *wasm.Store
	addr  wasm.TableAddr
}

func (v tableView) Type() api.ValueType   { return v.store.Table(v.addr).Type.RefType }
func (v tableView) Size(context.Context) uint32 { return v.store.TableSize(v.addr) }
func (v tableView) Grow(_ context.Context, delta uint32, init uint64) (uint32, bool) {
	return v.store.TableGrow(v.addr, delta, init)
}
func (v tableView) Get(_ context.Context, i uint32) (uint64, bool) {
	ref, t := v.store.TableRead(v.addr, i)
	return ref, t == nil
}
func (v tableView) Set(_ context.Context, i uint32, val uint64) bool {
	return v.store.TableWrite(v.addr, i, val) == nil
}

type functionView struct {
	store *wasm.Store
	addr  wasm.FuncAddr
}

func (v functionView) Definition() api.FunctionDefinition {
	return funcDefinition{store: v.store, addr: v.addr}
}

func (v functionView) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return Call(ctx, v.store, v.addr, params)
}

type funcDefinition struct {
	store *wasm.Store
	addr  wasm.FuncAddr
}

func (d funcDefinition) fn() *wasm.FunctionInstance { return d.store.Func(d.addr) }

func (d funcDefinition) ModuleName() string { return d.fn().ModuleName }
func (d funcDefinition) Index() uint32      { return d.fn().Idx }
func (d funcDefinition) Name() string       { return d.fn().Name }
func (d funcDefinition) DebugName() string  { return d.fn().DebugName }
func (d funcDefinition) Import() (string, string, bool) {
	f := d.fn()
	return f.ModuleName, f.Name, f.IsHost
}
func (d funcDefinition) ExportNames() []string       { return d.fn().ExportNames }
func (d funcDefinition) ParamNames() []string        { return d.fn().ParamNames }
func (d funcDefinition) ParamTypes() []api.ValueType { return d.fn().Type.Params }
func (d funcDefinition) ResultTypes() []api.ValueType { return d.fn().Type.Results }
func (d funcDefinition) GoFunc() *reflect.Value       { return d.fn().ReflectFunc }
