// Package componenthost is a host runtime for sandboxed WebAssembly
// guest modules.
//
// The runtime loads opaque, pre-built guest binaries, validates them
// against a language-neutral interface schema, and invokes their
// exported functions through a typed, memory-safe boundary. Guest
// toolchains and guest logic are external collaborators; the host only
// relies on the validated schema.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	componenthost/       Root package with Memory and Allocator interfaces
//	├── host/            Top-level runtime: instance pools, limits, policy
//	├── schema/          Interface schema model, layout, export validation
//	├── bridge/          Linear memory bridge: lowering and lifting values
//	├── engine/          wazero integration, fuel metering, forced abort
//	├── errors/          Structured fault types for debugging
//	└── cmd/hostrun/     CLI and interactive runner
//
// # Quick Start
//
// Load a guest and call an export:
//
//	rt, err := host.New(ctx, host.DefaultConfig())
//	defer rt.Close(ctx)
//
//	iface, _ := schema.ParseWIT(witText)
//	mod, err := rt.Load(ctx, wasmBytes, iface)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := rt.Invoke(ctx, mod, "add", uint32(2), uint32(3))
//	fmt.Println(result) // 5
//
// # Resource Limits
//
// Every call runs under hard caps: a step budget decremented at
// function-call boundaries, a call-depth cap, a wall-clock timeout, and
// an engine-wide linear memory page limit. Exceeding a cap forcibly
// terminates the call and marks the instance Faulted; a faulted
// instance accepts no further calls and is replaced in the pool.
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. An Instance executes
// at most one call at a time; a second call on a busy instance fails
// with an instance_busy fault rather than queuing. Concurrency is
// achieved by pooling independent instances, each with its own private
// linear memory.
package componenthost
