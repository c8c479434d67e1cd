package engine

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wasmlab/component-host/errors"
	"github.com/wasmlab/component-host/schema"
)

// Config holds configuration for engine creation
type Config struct {
	// MaxMemoryPages caps guest linear memory in 64KiB pages.
	// 0 means the wazero default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MaxMemoryPages uint32
}

// Engine wraps a wazero runtime configured for sandboxed guest
// execution: memory capped, and every module compiled with the step
// meter hooked in and closed when its call context expires.
type Engine struct {
	runtime wazero.Runtime
}

// New creates a wazero-backed engine.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true)

	if cfg != nil && cfg.MaxMemoryPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MaxMemoryPages)
	}

	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Compile validates and compiles raw module bytes. The step meter's
// function listener is attached at compile time, so every instance of
// the module observes call-boundary checkpoints.
func (e *Engine) Compile(ctx context.Context, wasmBytes []byte) (*Module, error) {
	ctx = experimental.WithFunctionListenerFactory(ctx, meterFactory{})
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile failed", err)
	}
	return &Module{engine: e, compiled: compiled}, nil
}

// Module is a compiled guest module, instantiable many times.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// Exports lists the module's exported functions in core-type terms,
// the shape schema validation runs against.
func (m *Module) Exports() []schema.CoreExport {
	defs := m.compiled.ExportedFunctions()
	exports := make([]schema.CoreExport, 0, len(defs))
	for name, def := range defs {
		exports = append(exports, schema.CoreExport{
			Name:    name,
			Params:  coreTypes(def.ParamTypes()),
			Results: coreTypes(def.ResultTypes()),
		})
	}
	return exports
}

// MemoryPages returns the declared minimum and maximum page counts of
// the module's exported memory. hasMemory is false when the module
// exports none.
func (m *Module) MemoryPages() (min, max uint32, hasMax, hasMemory bool) {
	for _, def := range m.compiled.ExportedMemories() {
		max, hasMax = def.Max()
		return def.Min(), max, hasMax, true
	}
	return 0, 0, false, false
}

func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Instantiate creates a fresh anonymous instance of the module and
// discovers its memory and allocation exports.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Instantiation(err, "instantiate failed")
	}

	inst := &Instance{
		mod:       mod,
		funcCache: make(map[string]api.Function),
		stackBuf:  make([]uint64, 16),
	}

	mem := mod.Memory()
	if mem == nil {
		_ = mod.Close(ctx)
		return nil, errors.Instantiation(nil, "module exports no memory")
	}
	inst.memory = &guestMemory{mem: mem}

	// Discover the allocator, standard name first, then legacy fallbacks.
	// Resolution uses the export name: FunctionDefinition.Name is the
	// name-section name and is empty for modules compiled without one.
	allocDef, allocName := findExportDef(mod, cabiRealloc, legacyRealloc, legacyAlloc, simpleAlloc)
	var allocFn api.Function
	var isSimple bool
	if allocDef != nil {
		allocFn = mod.ExportedFunction(allocName)
		// Simple allocators take (size) instead of (old_ptr, old_size, align, size).
		isSimple = len(allocDef.ParamTypes()) < 4
	}

	var freeFn api.Function
	for _, name := range []string{cabiFree, legacyDealloc, simpleFree} {
		if fn := mod.ExportedFunction(name); fn != nil {
			freeFn = fn
			break
		}
	}

	inst.alloc = &guestAllocator{
		allocFn:       allocFn,
		freeFn:        freeFn,
		stackBuf:      make([]uint64, 4),
		isSimpleAlloc: isSimple,
	}
	return inst, nil
}

// findExportDef probes the export names in order and returns the first
// match along with the export name it was found under.
func findExportDef(mod api.Module, names ...string) (api.FunctionDefinition, string) {
	defs := mod.ExportedFunctionDefinitions()
	for _, name := range names {
		if def, ok := defs[name]; ok {
			return def, name
		}
	}
	return nil, ""
}

// Instance is one live guest instance. Calls are not concurrency-safe;
// the caller serializes access.
type Instance struct {
	mod       api.Module
	memory    *guestMemory
	alloc     *guestAllocator
	funcCache map[string]api.Function
	stackBuf  []uint64
	closed    atomic.Bool
}

func (i *Instance) Memory() *guestMemory       { return i.memory }
func (i *Instance) Allocator() *guestAllocator { return i.alloc }

// SetCallContext pins the context the allocator uses for guest
// alloc/free calls made outside Call, during argument staging and the
// post-call free pass.
func (i *Instance) SetCallContext(ctx context.Context) {
	i.alloc.setContext(ctx)
}

// Call invokes an exported function with pre-lowered core words. When
// meter is non-nil its checkpoints run at every guest function entry;
// exhaustion closes the instance mid-call and surfaces here as an exit
// error recognized by IsBudgetExceeded or IsDepthExceeded.
func (i *Instance) Call(ctx context.Context, name string, params []uint64, meter *Meter) ([]uint64, error) {
	if i.closed.Load() {
		return nil, errors.Closed(name)
	}

	fn, ok := i.funcCache[name]
	if !ok {
		fn = i.mod.ExportedFunction(name)
		if fn == nil {
			return nil, errors.NotFound(errors.PhaseCall, "export", name)
		}
		i.funcCache[name] = fn
	}

	if meter != nil {
		ctx = WithMeter(ctx, meter)
	}

	// CallWithStack reuses one buffer per instance instead of allocating
	// argument and result slices on every call.
	resultCount := len(fn.Definition().ResultTypes())
	need := len(params)
	if resultCount > need {
		need = resultCount
	}
	if len(i.stackBuf) < need {
		i.stackBuf = make([]uint64, need)
	}
	stack := i.stackBuf[:need]
	copy(stack, params)
	if err := fn.CallWithStack(ctx, stack); err != nil {
		return nil, err
	}
	if resultCount == 0 {
		return nil, nil
	}
	out := make([]uint64, resultCount)
	copy(out, stack[:resultCount])
	return out, nil
}

func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := i.mod.Close(ctx)
	i.funcCache = nil
	return err
}

func coreTypes(vts []api.ValueType) []schema.CoreType {
	if len(vts) == 0 {
		return nil
	}
	out := make([]schema.CoreType, len(vts))
	for i, vt := range vts {
		out[i] = coreTypeOf(vt)
	}
	return out
}

func coreTypeOf(vt api.ValueType) schema.CoreType {
	switch vt {
	case api.ValueTypeI32:
		return schema.CoreI32
	case api.ValueTypeI64:
		return schema.CoreI64
	case api.ValueTypeF32:
		return schema.CoreF32
	case api.ValueTypeF64:
		return schema.CoreF64
	}
	return schema.CoreI32
}
