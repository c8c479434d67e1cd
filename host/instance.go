package host

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wasmlab/component-host/bridge"
	"github.com/wasmlab/component-host/engine"
	"github.com/wasmlab/component-host/errors"
	"github.com/wasmlab/component-host/schema"
)

// State is an instance's lifecycle position. Transitions are one way
// out of Faulted and Closed: a faulted instance never serves again.
type State int32

const (
	StateReady State = iota
	StateExecuting
	StateFaulted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateFaulted:
		return "faulted"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Instance is one live guest. A single call executes at a time:
// concurrent Invoke attempts are rejected with an instance-busy fault
// rather than queued, so callers can retry against another instance.
type Instance struct {
	id    string
	mod   *Module
	eng   *engine.Instance
	enc   bridge.Encoder
	dec   bridge.Decoder
	state atomic.Int32
}

func (i *Instance) ID() string {
	return i.id
}

func (i *Instance) State() State {
	return State(i.state.Load())
}

// Invoke runs one exported function. Execution faults — budget or
// depth exhaustion, deadline expiry, guest traps — poison the
// instance; encoding and decoding faults fail only the call.
func (i *Instance) Invoke(ctx context.Context, function string, args ...any) (any, error) {
	binding, ok := i.mod.bindings.Lookup(function)
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "function", function)
	}

	if !i.state.CompareAndSwap(int32(StateReady), int32(StateExecuting)) {
		switch i.State() {
		case StateExecuting:
			return nil, errors.Busy(function)
		case StateFaulted:
			return nil, errors.Faulted(function)
		default:
			return nil, errors.Closed(function)
		}
	}

	result, err := i.call(ctx, binding, args)
	if err != nil && isExecutionFault(err) {
		i.state.Store(int32(StateFaulted))
		i.mod.runtime.log.Warn("instance faulted",
			zap.String("instance", i.id),
			zap.String("function", function),
			zap.Error(err))
		return nil, err
	}
	i.state.CompareAndSwap(int32(StateExecuting), int32(StateReady))
	return result, err
}

func (i *Instance) call(ctx context.Context, binding *schema.Binding, args []any) (any, error) {
	cfg := i.mod.runtime.cfg
	if cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
	}

	// Guest alloc/free calls made while staging arguments and during
	// the free pass run under the call's deadline too.
	i.eng.SetCallContext(ctx)

	hostAllocs := bridge.NewAllocationList()
	words, retPtr, err := i.enc.LowerArgs(binding.Signature, &binding.Flat, args, i.eng.Memory(), i.eng.Allocator(), hostAllocs)
	if err != nil {
		hostAllocs.FreeAndRelease(i.eng.Allocator())
		return nil, err
	}

	var meter *engine.Meter
	if cfg.StepBudget > 0 || cfg.MaxStackDepth > 0 {
		meter = engine.NewMeter(cfg.StepBudget, cfg.MaxStackDepth)
	}

	start := time.Now()
	raw, err := i.eng.Call(ctx, binding.Signature.Name, words, meter)
	if err != nil {
		// The instance is closed or trapped; its memory is gone, so
		// there is nothing to free.
		hostAllocs.Release()
		return nil, i.classify(binding.Signature.Name, err, cfg)
	}

	guestAllocs := bridge.NewAllocationList()
	result, err := i.dec.LiftResults(binding.Signature, &binding.Flat, raw, retPtr, i.eng.Memory(), hostAllocs, guestAllocs)

	// Host-staged buffers and guest result buffers both go back to
	// the guest allocator, on success and on decode failure alike.
	hostAllocs.FreeAndRelease(i.eng.Allocator())
	guestAllocs.FreeAndRelease(i.eng.Allocator())
	if err != nil {
		return nil, err
	}

	i.mod.runtime.log.Debug("call complete",
		zap.String("instance", i.id),
		zap.String("function", binding.Signature.Name),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// classify maps engine-level failures onto the fault taxonomy.
func (i *Instance) classify(function string, err error, cfg Config) error {
	switch {
	case engine.IsBudgetExceeded(err):
		return errors.Budget(function, cfg.StepBudget)
	case engine.IsDepthExceeded(err):
		return errors.New(errors.PhaseCall, errors.KindBudget).
			Function(function).
			Detail("call depth cap of %d exceeded", cfg.MaxStackDepth).
			Build()
	case engine.IsDeadline(err):
		return errors.Deadline(function, cfg.CallTimeout)
	case engine.IsCanceled(err):
		return errors.Wrap(errors.PhaseCall, errors.KindTimeout, err, "call canceled")
	default:
		return errors.Trap(function, err)
	}
}

// isExecutionFault reports whether err poisons the instance. Encoding,
// decoding, bounds, and lookup faults leave the guest untouched and
// keep the instance serviceable.
func isExecutionFault(err error) bool {
	return errors.IsKind(err, errors.KindBudget) ||
		errors.IsKind(err, errors.KindTimeout) ||
		errors.IsKind(err, errors.KindTrap)
}

// Close tears the instance down. Idempotent; a closed instance rejects
// all further calls.
func (i *Instance) Close(ctx context.Context) error {
	prev := State(i.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}
	return i.eng.Close(ctx)
}

// usable reports whether the pool may hand the instance out again.
func (i *Instance) usable() bool {
	return i.State() == StateReady
}
