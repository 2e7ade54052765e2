// Package interpreter evaluates a validated module's instruction sequences
// against a value/label/activation stack, per the control-flow and trapping
// rules of the instruction set. It is the only package that understands how
// an Instruction executes; the wasm package it depends on only models
// static structure and mutable store state.
//
// Traps are raised internally via panic(*wasmruntime.Trap) and recovered at
// Call, this package's sole entrypoint: a trap never unwinds past this
// package's own boundary as a Go panic, so from the embedder's perspective
// every invocation either returns normally or returns a plain error value,
// never an exception crossing the call.
package interpreter

import (
	"context"
	"fmt"

	"github.com/stackwasm/stackwasm/api"
	"github.com/stackwasm/stackwasm/internal/wasm"
	"github.com/stackwasm/stackwasm/internal/wasmruntime"
)

// maxCallDepth bounds the recursion depth of nested calls, standing in for
// the "internal consistency failures should abort" boundary: a guest
// program that recurses unboundedly surfaces a StackOverflow trap rather
// than crashing the host process via a Go stack overflow.
const maxCallDepth = 16384

// lockHolderKey is the context.Context key a held invocation stashes its
// store under, so a synchronous host re-entry into the same store (ex a
// callback or comparator calling back into a guest export) recognizes it is
// already the lock's holder instead of deadlocking on its own mutex. A call
// arriving with no such value, or one naming a different store, is a fresh
// top-level invocation and must acquire the lock normally.
type lockHolderKey struct{}

// Call is the interpreter's only entrypoint: it invokes the function at addr
// with args already encoded per its ParamTypes, enforces the store's
// single-writer invocation policy for the duration, and returns either the
// function's results or an error wrapping a *wasmruntime.Trap. ctx may be
// nil, in which case context.Background() is used.
func Call(ctx context.Context, store *wasm.Store, addr wasm.FuncAddr, args []uint64) (results []uint64, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if holder, _ := ctx.Value(lockHolderKey{}).(*wasm.Store); holder != store {
		store.Lock()
		defer store.Unlock()
		ctx = context.WithValue(ctx, lockHolderKey{}, store)
	}

	fn := store.Func(addr)
	if len(args) != len(fn.Type.Params) {
		return nil, fmt.Errorf("%w: %s expects %d argument(s), got %d",
			wasmruntime.ErrTypeMismatch, fn.DebugName, len(fn.Type.Params), len(args))
	}

	defer func() {
		if r := recover(); r != nil {
			t, ok := r.(*wasmruntime.Trap)
			if !ok {
				panic(r) // not ours: a genuine implementation bug, let it crash.
			}
			err = t
			results = nil
		}
	}()

	return invoke(ctx, store, addr, args, 0), nil
}

// CallForStart adapts Call to wasm.StartInvoker's trap-only signature, used
// by Instantiate to run a module's start function.
func CallForStart(store *wasm.Store, addr wasm.FuncAddr) *wasmruntime.Trap {
	_, err := Call(context.Background(), store, addr, nil)
	if err == nil {
		return nil
	}
	if t, ok := err.(*wasmruntime.Trap); ok {
		return t
	}
	return wasmruntime.NewTrapf(wasmruntime.TrapKindUnreachable, err)
}

func raiseTrap(kind wasmruntime.TrapKind) {
	panic(wasmruntime.NewTrap(kind))
}

func raiseTrapf(kind wasmruntime.TrapKind, detail error) {
	panic(wasmruntime.NewTrapf(kind, detail))
}

// frame is the activation record for one call: its locals (parameters
// followed by zero-initialized declared locals) and the module instance
// whose index spaces local.get/global.get/call/etc resolve against.
type frame struct {
	locals []uint64
	module *wasm.ModuleInstance
	depth  int
}

// signal communicates non-local control flow (branch or return) up through
// the Go call stack that mirrors nested block/loop/if structure. A zero
// signal means "ran off the end of this body normally".
type signal struct {
	branch bool
	depth  uint32 // remaining enclosing labels to unwind through
	ret    bool
}

func invoke(ctx context.Context, store *wasm.Store, addr wasm.FuncAddr, args []uint64, depth int) []uint64 {
	if depth >= maxCallDepth {
		raiseTrap(wasmruntime.TrapKindStackOverflow)
	}
	fn := store.Func(addr)

	if fn.IsHost {
		return invokeHost(ctx, fn, store, args)
	}

	locals := make([]uint64, len(fn.Type.Params)+len(fn.LocalTypes))
	copy(locals, args)
	fr := &frame{locals: locals, module: fn.Module, depth: depth}

	stack := make([]uint64, 0, 16)
	sig := run(ctx, store, fr, fn.Body, &stack, 0, len(fn.Type.Results))
	_ = sig // both a fallthrough and an explicit `return` leave exactly arity values on top.

	results := make([]uint64, len(fn.Type.Results))
	copy(results, stack[len(stack)-len(fn.Type.Results):])
	return results
}

func invokeHost(ctx context.Context, fn *wasm.FunctionInstance, store *wasm.Store, args []uint64) []uint64 {
	width := len(fn.Type.Params)
	if r := len(fn.Type.Results); r > width {
		width = r
	}
	stack := make([]uint64, width)
	copy(stack, args)

	if fn.GoModuleFunc != nil {
		fn.GoModuleFunc.Call(ctx, Module{store: store, inst: fn.Module}, stack)
	} else {
		fn.GoFunc.Call(ctx, stack)
	}

	results := make([]uint64, len(fn.Type.Results))
	copy(results, stack[:len(fn.Type.Results)])
	return results
}

// Module is the api.Module view over an instantiated module instance. It
// doubles as what GoModuleFunction host callbacks receive and as the return
// value InstantiateModule hands back to the embedder.
type Module struct {
	store *wasm.Store
	inst  *wasm.ModuleInstance
}

// NewModule wraps a module instance as the api.Module the embedding façade
// returns from InstantiateModule.
func NewModule(store *wasm.Store, inst *wasm.ModuleInstance) Module {
	return Module{store: store, inst: inst}
}

func (Module) String() string { return "module" }
func (m Module) Name() string { return m.inst.Name }

func (m Module) Memory() api.Memory {
	if len(m.inst.Mems) == 0 {
		return nil
	}
	return memoryView{store: m.store, addr: m.inst.Mems[0]}
}

func (m Module) ExportedFunction(name string) api.Function {
	e, err := m.inst.GetExport(name)
	if err != nil || e.Val.Type != api.ExternTypeFunc {
		return nil
	}
	return functionView{store: m.store, addr: e.Val.Func}
}

func (m Module) ExportedMemory(name string) api.Memory {
	e, err := m.inst.GetExport(name)
	if err != nil || e.Val.Type != api.ExternTypeMemory {
		return nil
	}
	return memoryView{store: m.store, addr: e.Val.Mem}
}

func (m Module) ExportedGlobal(name string) api.Global {
	e, err := m.inst.GetExport(name)
	if err != nil || e.Val.Type != api.ExternTypeGlobal {
		return nil
	}
	return globalView{store: m.store, addr: e.Val.Global}
}

func (m Module) ExportedTable(name string) api.Table {
	e, err := m.inst.GetExport(name)
	if err != nil || e.Val.Type != api.ExternTypeTable {
		return nil
	}
	return tableView{store: m.store, addr: e.Val.Table}
}

func (Module) CloseWithExitCode(context.Context, uint32) error { return nil }
func (Module) Close(context.Context) error                    { return nil }
