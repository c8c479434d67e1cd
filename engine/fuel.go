package engine

import (
	"context"
	stderrors "errors"
	"math"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/sys"
)

// Exit codes used to abort a guest from inside a meter checkpoint.
// They ride out of the call as *sys.ExitError and are classified by
// IsBudgetExceeded and IsDepthExceeded.
const (
	budgetExitCode uint32 = 0xC0DEB1
	depthExitCode  uint32 = 0xC0DEB2
)

// Meter enforces the per-call execution budget. Checkpoints run at
// guest function-entry boundaries: each entry consumes one step, and
// call depth is capped independently. A Meter belongs to one call.
type Meter struct {
	steps    atomic.Int64
	depth    atomic.Int64
	budget   uint64
	maxDepth int64
}

// NewMeter creates a meter. A zero stepBudget or maxDepth disables the
// corresponding limit.
func NewMeter(stepBudget uint64, maxDepth uint32) *Meter {
	m := &Meter{budget: stepBudget, maxDepth: int64(maxDepth)}
	if stepBudget > math.MaxInt64 {
		stepBudget = math.MaxInt64
	}
	m.steps.Store(int64(stepBudget))
	return m
}

// Budget returns the configured step budget.
func (m *Meter) Budget() uint64 {
	return m.budget
}

// Remaining reports the unconsumed steps, zero once exhausted.
func (m *Meter) Remaining() uint64 {
	if m.budget == 0 {
		return 0
	}
	left := m.steps.Load()
	if left < 0 {
		return 0
	}
	return uint64(left)
}

func (m *Meter) step() bool {
	if m.budget == 0 {
		return true
	}
	return m.steps.Add(-1) >= 0
}

func (m *Meter) enter() bool {
	d := m.depth.Add(1)
	return m.maxDepth == 0 || d <= m.maxDepth
}

func (m *Meter) leave() {
	m.depth.Add(-1)
}

type meterKey struct{}

// WithMeter attaches a call's meter to its context. The function
// listener picks it up at every guest function entry.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

func meterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}

// meterFactory attaches the shared checkpoint listener to every
// function at compile time. Calls without a meter in context pay only
// a context lookup.
type meterFactory struct{}

func (meterFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return sharedMeterListener
}

var sharedMeterListener experimental.FunctionListener = meterListener{}

type meterListener struct{}

func (meterListener) Before(ctx context.Context, mod api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	m := meterFrom(ctx)
	if m == nil {
		return
	}
	if !m.step() {
		// Closing the module aborts the in-flight call; it returns
		// a sys.ExitError carrying this code.
		_ = mod.CloseWithExitCode(ctx, budgetExitCode)
		return
	}
	if !m.enter() {
		_ = mod.CloseWithExitCode(ctx, depthExitCode)
	}
}

func (meterListener) After(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64) {
	if m := meterFrom(ctx); m != nil {
		m.leave()
	}
}

func (meterListener) Abort(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ error) {
	if m := meterFrom(ctx); m != nil {
		m.leave()
	}
}

// IsBudgetExceeded reports whether err is a call aborted by step
// budget exhaustion.
func IsBudgetExceeded(err error) bool {
	return exitCodeIs(err, budgetExitCode)
}

// IsDepthExceeded reports whether err is a call aborted by the call
// depth cap.
func IsDepthExceeded(err error) bool {
	return exitCodeIs(err, depthExitCode)
}

// IsDeadline reports whether err is a call aborted because its context
// deadline expired.
func IsDeadline(err error) bool {
	return exitCodeIs(err, sys.ExitCodeDeadlineExceeded) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

// IsCanceled reports whether err is a call aborted by context
// cancellation.
func IsCanceled(err error) bool {
	return exitCodeIs(err, sys.ExitCodeContextCanceled) ||
		stderrors.Is(err, context.Canceled)
}

func exitCodeIs(err error, code uint32) bool {
	var exitErr *sys.ExitError
	return stderrors.As(err, &exitErr) && exitErr.ExitCode() == code
}
