package stackwasm

import (
	"context"
	"fmt"
	"reflect"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/engine/interpreter"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

// HostFunctionBuilder defines one host function (implemented in Go) for
// export from a HostModuleBuilder's module.
//
// Here's an example addition function:
//
//	hostModuleBuilder.NewFunctionBuilder().
//		WithFunc(func(ctx context.Context, x, y uint32) uint32 {
//			return x + y
//		}).
//		Export("add")
type HostFunctionBuilder interface {
	// WithFunc maps a Go func to a host function using reflection. Its
	// first parameter must be context.Context; an optional second
	// parameter of type api.Module receives the calling module instance
	// (useful for reading its memory). Every remaining parameter and
	// result must be one of uint32, int32, uint64, int64, float32 or
	// float64 — the four WebAssembly number kinds. Anything else (a
	// missing context.Context, an externref/funcref-shaped parameter, a
	// non-func value) is not reported here or by Export: the exported
	// function gets an empty signature and traps whenever it is called.
	WithFunc(fn interface{}) HostFunctionBuilder

	// WithGoFunction is a lower-overhead alternative to WithFunc for
	// callers that want to skip reflection: fn reads its arguments off
	// stack[0:len(params)] and must leave its results in
	// stack[0:len(results)] before returning.
	WithGoFunction(fn api.GoFunction, params, results []api.ValueType) HostFunctionBuilder

	// WithGoModuleFunction is WithGoFunction plus access to the calling
	// module instance, for host functions that read or write its memory.
	WithGoModuleFunction(fn api.GoModuleFunction, params, results []api.ValueType) HostFunctionBuilder

	// WithName sets the function's module-local name, used in trap
	// messages. Need not match the name passed to Export.
	WithName(name string) HostFunctionBuilder

	// WithParameterNames sets optional per-parameter names, ex for
	// diagnostics; when set, one name is required per parameter.
	WithParameterNames(names ...string) HostFunctionBuilder

	// Export finishes this function's definition, exporting it from the
	// enclosing HostModuleBuilder under name.
	Export(name string) HostModuleBuilder
}

// HostModuleBuilder assembles a module made entirely of host-implemented
// (Go) functions and, optionally, an exported memory, for other modules in
// the same Runtime to import.
type HostModuleBuilder interface {
	// NewFunctionBuilder begins defining one exported function.
	NewFunctionBuilder() HostFunctionBuilder

	// ExportMemory adds a linear memory of minPages initial size, growable
	// up to the Runtime's configured memory maximum (WithMemoryMaxPages).
	ExportMemory(minPages uint32) HostModuleBuilder

	// ExportMemoryWithMax is ExportMemory with an explicit growth ceiling.
	ExportMemoryWithMax(minPages, maxPages uint32) HostModuleBuilder

	// Instantiate registers this module's functions (and memory, if any)
	// in the builder's Runtime under its module name, making them
	// resolvable as imports by subsequently instantiated modules.
	Instantiate(ctx context.Context) (api.Module, error)
}

type hostModuleBuilder struct {
	r          *Runtime
	moduleName string
	funcs      []*wasm.HostFunc
	mem        *wasm.MemoryType
}

// NewHostModuleBuilder starts building a host module named moduleName,
// registered in r once Instantiate is called.
func (r *Runtime) NewHostModuleBuilder(moduleName string) HostModuleBuilder {
	return &hostModuleBuilder{r: r, moduleName: moduleName}
}

func (b *hostModuleBuilder) NewFunctionBuilder() HostFunctionBuilder {
	return &hostFunctionBuilder{b: b}
}

func (b *hostModuleBuilder) ExportMemory(minPages uint32) HostModuleBuilder {
	max := b.r.config.memoryMaxPages
	b.mem = &wasm.MemoryType{Limits: wasm.Limits{Min: minPages, Max: &max}}
	return b
}

func (b *hostModuleBuilder) ExportMemoryWithMax(minPages, maxPages uint32) HostModuleBuilder {
	max := maxPages
	b.mem = &wasm.MemoryType{Limits: wasm.Limits{Min: minPages, Max: &max}}
	return b
}

func (b *hostModuleBuilder) addFunc(hf *wasm.HostFunc) {
	b.funcs = append(b.funcs, hf)
}

func (b *hostModuleBuilder) Instantiate(context.Context) (api.Module, error) {
	inst := wasm.InstantiateHostModule(b.r.store, b.moduleName, b.funcs, b.mem)
	return interpreter.NewModule(b.r.store, inst), nil
}

type hostFunctionBuilder struct {
	b          *hostModuleBuilder
	hostFunc   *wasm.HostFunc
	reflectFn  interface{}
	name       string
	paramNames []string
}

func (h *hostFunctionBuilder) WithFunc(fn interface{}) HostFunctionBuilder {
	h.reflectFn = fn
	return h
}

func (h *hostFunctionBuilder) WithGoFunction(fn api.GoFunction, params, results []api.ValueType) HostFunctionBuilder {
	h.hostFunc = &wasm.HostFunc{Type: &wasm.FunctionType{Params: params, Results: results}, GoFunc: fn}
	return h
}

func (h *hostFunctionBuilder) WithGoModuleFunction(fn api.GoModuleFunction, params, results []api.ValueType) HostFunctionBuilder {
	h.hostFunc = &wasm.HostFunc{Type: &wasm.FunctionType{Params: params, Results: results}, GoModuleFunc: fn}
	return h
}

func (h *hostFunctionBuilder) WithName(name string) HostFunctionBuilder {
	h.name = name
	return h
}

func (h *hostFunctionBuilder) WithParameterNames(names ...string) HostFunctionBuilder {
	h.paramNames = names
	return h
}

func (h *hostFunctionBuilder) Export(exportName string) HostModuleBuilder {
	hf := h.hostFunc
	if hf == nil {
		var err error
		hf, err = reflectHostFunc(h.reflectFn)
		if err != nil {
			// Compile-time reflection errors have no good place to surface
			// in this chaining API, so a failing WithFunc becomes a function
			// that always traps instead of a panic or a swallowed error.
			hf = &wasm.HostFunc{
				Type:   &wasm.FunctionType{},
				GoFunc: api.GoFunc(func(context.Context, []uint64) {
					panic(wasmruntime.NewTrapf(wasmruntime.TrapKindUnreachable, err))
				}),
			}
		}
	}
	hf.ExportName = exportName
	if h.name != "" {
		hf.Name = h.name
	}
	if len(h.paramNames) != 0 {
		hf.ParamNames = h.paramNames
	}
	h.b.addFunc(hf)
	return h.b
}

// goValueTypes maps the Go kinds this runtime's reflection-based host
// function binding accepts to their WebAssembly value type. Anything else —
// including externref/funcref-shaped parameters — is unsupported, keeping
// the reflection surface to the four number kinds.
var goValueTypes = map[reflect.Kind]api.ValueType{
	reflect.Uint32:  api.ValueTypeI32,
	reflect.Int32:   api.ValueTypeI32,
	reflect.Uint64:  api.ValueTypeI64,
	reflect.Int64:   api.ValueTypeI64,
	reflect.Float32: api.ValueTypeF32,
	reflect.Float64: api.ValueTypeF64,
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	moduleType  = reflect.TypeOf((*api.Module)(nil)).Elem()
)

// reflectHostFunc maps fn's signature onto a WebAssembly function type and
// wraps a call through it as a GoFunction or GoModuleFunction, depending on
// whether fn declares an api.Module second parameter.
func reflectHostFunc(fn interface{}) (*wasm.HostFunc, error) {
	if fn == nil {
		return nil, fmt.Errorf("nil host function")
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function: %T", fn)
	}
	if t.NumIn() == 0 || t.In(0) != contextType {
		return nil, fmt.Errorf("first parameter must be context.Context")
	}

	firstArg := 1
	withModule := t.NumIn() > 1 && t.In(1) == moduleType
	if withModule {
		firstArg = 2
	}

	params := make([]api.ValueType, 0, t.NumIn()-firstArg)
	for i := firstArg; i < t.NumIn(); i++ {
		vt, ok := goValueTypes[t.In(i).Kind()]
		if !ok {
			return nil, fmt.Errorf("parameter %d: unsupported Go type %s", i, t.In(i))
		}
		params = append(params, vt)
	}
	results := make([]api.ValueType, 0, t.NumOut())
	for i := 0; i < t.NumOut(); i++ {
		vt, ok := goValueTypes[t.Out(i).Kind()]
		if !ok {
			return nil, fmt.Errorf("result %d: unsupported Go type %s", i, t.Out(i))
		}
		results = append(results, vt)
	}

	call := func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]reflect.Value, t.NumIn())
		args[0] = reflect.ValueOf(ctx)
		if withModule {
			args[1] = reflect.ValueOf(mod)
		}
		for i := firstArg; i < t.NumIn(); i++ {
			args[i] = decodeArg(stack[i-firstArg], t.In(i))
		}
		out := v.Call(args)
		for i, o := range out {
			stack[i] = encodeResult(o)
		}
	}

	hf := &wasm.HostFunc{Type: &wasm.FunctionType{Params: params, Results: results}, ReflectFunc: &v}
	if withModule {
		hf.GoModuleFunc = api.GoModuleFunc(call)
	} else {
		hf.GoFunc = api.GoFunc(func(ctx context.Context, stack []uint64) { call(ctx, nil, stack) })
	}
	return hf, nil
}

func decodeArg(v uint64, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.Uint32:
		return reflect.ValueOf(uint32(v))
	case reflect.Int32:
		return reflect.ValueOf(int32(uint32(v)))
	case reflect.Uint64:
		return reflect.ValueOf(v)
	case reflect.Int64:
		return reflect.ValueOf(int64(v))
	case reflect.Float32:
		return reflect.ValueOf(api.DecodeF32(v))
	case reflect.Float64:
		return reflect.ValueOf(api.DecodeF64(v))
	}
	panic(fmt.Sprintf("unreachable: unsupported kind %s", t.Kind()))
}

func encodeResult(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Uint32:
		return api.EncodeI32(int32(uint32(v.Uint())))
	case reflect.Int32:
		return api.EncodeI32(int32(v.Int()))
	case reflect.Uint64:
		return v.Uint()
	case reflect.Int64:
		return api.EncodeI64(v.Int())
	case reflect.Float32:
		return api.EncodeF32(float32(v.Float()))
	case reflect.Float64:
		return api.EncodeF64(v.Float())
	}
	panic(fmt.Sprintf("unreachable: unsupported kind %s", v.Kind()))
}
