// Package stackwasm is the embedding façade: decode or parse a module,
// validate it, instantiate it against a Runtime's store, and call its
// exported functions. Everything below this package (internal/wasm,
// internal/engine/interpreter, internal/binary, internal/text,
// internal/validator) is reachable only through here or through the api
// package's value contracts.
package stackwasm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/binary"
	"github.com/stackwasm/stackwasm/internal/engine/interpreter"
	"github.com/stackwasm/stackwasm/internal/text"
	"github.com/stackwasm/stackwasm/internal/validator"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

// Runtime is one store plus the configuration used to compile and
// instantiate modules against it. Modules instantiated by the same Runtime
// can import from one another by name; a Runtime never shares its store
// with another Runtime.
type Runtime struct {
	store  *wasm.Store
	config *RuntimeConfig

	anonSeq uint32
}

// NewRuntime returns a Runtime with default configuration, recording ctx
// through RuntimeConfig.WithContext.
func NewRuntime(ctx context.Context) *Runtime {
	return NewRuntimeWithConfig(ctx, NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a Runtime using the given configuration's
// memory and cache settings, with ctx overriding its WithContext setting.
func NewRuntimeWithConfig(ctx context.Context, config *RuntimeConfig) *Runtime {
	if config == nil {
		config = NewRuntimeConfig()
	}
	return &Runtime{store: wasm.NewStore(), config: config.WithContext(ctx)}
}

// CompiledModule is a decoded or parsed, validated Module ready for
// InstantiateModule. The same CompiledModule may be instantiated under many
// names against the same Runtime; each instantiation is independent.
type CompiledModule struct {
	module *wasm.Module
}

// CompileModule decodes the WebAssembly 1.0 binary in bin and validates the
// result. If r's RuntimeConfig carries a Cache and bin was compiled before,
// this skips straight to returning the cached *wasm.Module.
func (r *Runtime) CompileModule(ctx context.Context, bin []byte) (*CompiledModule, error) {
	if r.config.cache != nil {
		if m, ok := r.config.cache.lookup(bin); ok {
			return &CompiledModule{module: m}, nil
		}
	}
	m, err := binary.DecodeModule(bin)
	if err != nil {
		return nil, err
	}
	if err := r.finishCompile(m); err != nil {
		return nil, err
	}
	if r.config.cache != nil {
		r.config.cache.store(bin, m)
	}
	return &CompiledModule{module: m}, nil
}

// CompileModuleText is CompileModule for the s-expression text format
// instead of the binary format. Text-format modules are not cache-keyed:
// the cache is keyed on the binary encoding CompileModule consumes.
func (r *Runtime) CompileModuleText(ctx context.Context, src string) (*CompiledModule, error) {
	m, err := text.Parse(src)
	if err != nil {
		return nil, err
	}
	if err := r.finishCompile(m); err != nil {
		return nil, err
	}
	return &CompiledModule{module: m}, nil
}

// NewCompiledModule wraps an already-built *wasm.Module, running the same
// memory-default and validation pass CompileModule does but skipping decode
// or parse entirely. This is the path for embedders (and this module's own
// integration tests) that construct a Module's structure directly instead
// of starting from bytes or text.
func (r *Runtime) NewCompiledModule(m *wasm.Module) (*CompiledModule, error) {
	if err := r.finishCompile(m); err != nil {
		return nil, err
	}
	return &CompiledModule{module: m}, nil
}

func (r *Runtime) finishCompile(m *wasm.Module) error {
	applyMemoryMax(m, r.config.memoryMaxPages)
	return validator.Validate(m)
}

// applyMemoryMax fills in the runtime's configured ceiling for every memory
// (declared or imported) that doesn't already carry its own maximum, so
// memory.grow always has a bound to enforce.
func applyMemoryMax(m *wasm.Module, memoryMaxPages uint32) {
	for _, mt := range m.MemorySection {
		if mt.Max == nil {
			max := memoryMaxPages
			mt.Max = &max
		}
	}
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeMemory && imp.DescMem.Max == nil {
			max := memoryMaxPages
			imp.DescMem.Max = &max
		}
	}
}

// InstantiateModule instantiates compiled against r's store, running any
// start function, and returns the resulting api.Module.
//
// Each of the module's declared imports is resolved by looking up the
// export of the same name on whatever module was previously instantiated
// under the import's module name in this Runtime — including host modules
// built with NewHostModuleBuilder. An import naming a module this Runtime
// hasn't instantiated yet is a link failure.
func (r *Runtime) InstantiateModule(ctx context.Context, compiled *CompiledModule, cfg *ModuleConfig) (api.Module, error) {
	if cfg == nil {
		cfg = NewModuleConfig()
	}
	externs, err := r.resolveImports(compiled.module)
	if err != nil {
		return nil, err
	}
	name := cfg.name
	if name == "" {
		name = r.anonName()
	}
	inst, err := wasm.Instantiate(r.store, name, compiled.module, externs, interpreter.CallForStart)
	if err != nil {
		return nil, err
	}
	return interpreter.NewModule(r.store, inst), nil
}

func (r *Runtime) anonName() string {
	return fmt.Sprintf("module#%d", atomic.AddUint32(&r.anonSeq, 1))
}

func (r *Runtime) resolveImports(m *wasm.Module) ([]wasm.ExternVal, error) {
	externs := make([]wasm.ExternVal, len(m.ImportSection))
	for i, imp := range m.ImportSection {
		src := r.store.Module(imp.Module)
		if src == nil {
			return nil, fmt.Errorf("%w: module %q not instantiated in this runtime", wasmruntime.ErrImportUnknown, imp.Module)
		}
		exp, err := src.GetExport(imp.Name)
		if err != nil {
			return nil, err
		}
		externs[i] = exp.Val
	}
	return externs, nil
}

// Close releases the resources this Runtime allocated. It does not need to
// be called for correctness (the store has no external resources to
// release), but is provided so embedders can defer it unconditionally.
func (r *Runtime) Close(context.Context) error { return nil }
