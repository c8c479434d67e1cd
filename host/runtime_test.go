package host

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wasmlab/component-host/errors"
	"github.com/wasmlab/component-host/internal/wasmgen"
)

const guestWIT = `
add: func(a: s32, b: s32) -> s32;
mul64: func(a: u64, b: u64) -> u64;
echo: func(s: string) -> string;
digest: func(data: list<u8>) -> string;
nop: func();
spin: func();
crash: func();
`

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	r, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func loadGuest(t *testing.T, r *Runtime) *Module {
	t.Helper()
	mod, err := r.LoadWIT(context.Background(), wasmgen.TestGuest(), guestWIT)
	if err != nil {
		t.Fatalf("LoadWIT failed: %v", err)
	}
	return mod
}

func TestInvoke_Add(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	got, err := r.Invoke(context.Background(), mod, "add", int32(40), int32(2))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != int32(42) {
		t.Errorf("add(40, 2) = %v, want 42", got)
	}
}

func TestInvoke_Mul64(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	got, err := r.Invoke(context.Background(), mod, "mul64", uint64(1)<<33, uint64(4))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != uint64(1)<<35 {
		t.Errorf("mul64 = %v, want %d", got, uint64(1)<<35)
	}
}

func TestInvoke_EchoString(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	// The guest returns the host-staged buffer, so this exercises the
	// full staging, return-area, and echoed-buffer ownership path.
	want := "héllo wörld"
	got, err := r.Invoke(context.Background(), mod, "echo", want)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != want {
		t.Errorf("echo(%q) = %v", want, got)
	}
}

func TestInvoke_EchoEmptyString(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	got, err := r.Invoke(context.Background(), mod, "echo", "")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != "" {
		t.Errorf("echo(\"\") = %v, want empty string", got)
	}
}

func TestInvoke_DigestBytes(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	// Bytes argument staged into guest memory, string result lifted
	// from a guest-owned buffer.
	got, err := r.Invoke(context.Background(), mod, "digest", []byte("hello"))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	s, ok := got.(string)
	if !ok {
		t.Fatalf("digest returned %T, want string", got)
	}
	if len(s) != 64 {
		t.Fatalf("digest length = %d, want 64", len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("digest[%d] = %q, want lowercase hex", i, c)
		}
	}

	// Same input, same digest; different input, different digest.
	again, err := r.Invoke(context.Background(), mod, "digest", []byte("hello"))
	if err != nil {
		t.Fatalf("second Invoke failed: %v", err)
	}
	if again != got {
		t.Errorf("digest not deterministic: %v vs %v", got, again)
	}
	other, err := r.Invoke(context.Background(), mod, "digest", []byte("world"))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if other == got {
		t.Error("distinct inputs hashed to the same digest")
	}
}

func TestInvoke_DigestEmptyInput(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	got, err := r.Invoke(context.Background(), mod, "digest", []byte{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	// The seed alone: nibbles of 17 repeated across the output.
	want := strings.Repeat("11000000", 8)
	if got != want {
		t.Errorf("digest(empty) = %v, want %s", got, want)
	}
}

func TestInvoke_Deterministic(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	for i := 0; i < 20; i++ {
		got, err := r.Invoke(context.Background(), mod, "add", int32(i), int32(i))
		if err != nil {
			t.Fatalf("Invoke %d failed: %v", i, err)
		}
		if got != int32(2*i) {
			t.Fatalf("add(%d, %d) = %v", i, i, got)
		}
	}
}

func TestInvoke_UnknownFunction(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	_, err := r.Invoke(context.Background(), mod, "does-not-exist")
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInvoke_EncodeFaultLeavesInstanceUsable(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	_, err := r.Invoke(context.Background(), mod, "add", "not a number", int32(2))
	if !errors.IsKind(err, errors.KindEncoding) {
		t.Fatalf("expected encoding fault, got %v", err)
	}

	// The same pooled instance serves the next call.
	got, err := r.Invoke(context.Background(), mod, "add", int32(1), int32(2))
	if err != nil {
		t.Fatalf("Invoke after encode fault failed: %v", err)
	}
	if got != int32(3) {
		t.Errorf("add = %v, want 3", got)
	}
	if total, _ := mod.pool.stats(); total != 1 {
		t.Errorf("pool total = %d, want 1", total)
	}
}

func TestInvoke_BudgetFaultThenRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepBudget = 100
	cfg.CallTimeout = 10 * time.Second
	r := newTestRuntime(t, cfg)
	mod := loadGuest(t, r)

	_, err := r.Invoke(context.Background(), mod, "spin")
	if !errors.IsKind(err, errors.KindBudget) {
		t.Fatalf("expected budget fault, got %v", err)
	}

	// The faulted instance was evicted; a fresh one serves.
	got, err := r.Invoke(context.Background(), mod, "add", int32(1), int32(1))
	if err != nil {
		t.Fatalf("Invoke after budget fault failed: %v", err)
	}
	if got != int32(2) {
		t.Errorf("add = %v, want 2", got)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepBudget = 0
	cfg.CallTimeout = 100 * time.Millisecond
	r := newTestRuntime(t, cfg)
	mod := loadGuest(t, r)

	start := time.Now()
	_, err := r.Invoke(context.Background(), mod, "spin")
	if !errors.IsKind(err, errors.KindTimeout) {
		t.Fatalf("expected timeout fault, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %s to trip", elapsed)
	}
}

func TestInvoke_TrapThenRecovery(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	_, err := r.Invoke(context.Background(), mod, "crash")
	if !errors.IsKind(err, errors.KindTrap) {
		t.Fatalf("expected trap fault, got %v", err)
	}

	if _, err := r.Invoke(context.Background(), mod, "nop"); err != nil {
		t.Fatalf("Invoke after trap failed: %v", err)
	}
}

func TestLoad_SchemaMismatch(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())

	// Function missing from the guest.
	_, err := r.LoadWIT(context.Background(), wasmgen.TestGuest(), "absent: func();")
	if !errors.IsKind(err, errors.KindSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}

	// Function present with an incompatible lowering.
	_, err = r.LoadWIT(context.Background(), wasmgen.TestGuest(), "add: func(a: s64, b: s64) -> s64;")
	if !errors.IsKind(err, errors.KindSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestLoad_CacheReuse(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())

	first := loadGuest(t, r)
	second := loadGuest(t, r)
	if first != second {
		t.Error("identical bytes and schema compiled twice")
	}

	// A different schema over the same bytes is a distinct module.
	other, err := r.LoadWIT(context.Background(), wasmgen.TestGuest(), "add: func(a: s32, b: s32) -> s32;")
	if err != nil {
		t.Fatalf("LoadWIT failed: %v", err)
	}
	if other == first {
		t.Error("different schema shared a cache entry")
	}
}

func TestLoad_CacheDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheValidatedModules = false
	r := newTestRuntime(t, cfg)

	first := loadGuest(t, r)
	second := loadGuest(t, r)
	if first == second {
		t.Error("caching disabled but modules shared")
	}
	_ = first.Close(context.Background())
	_ = second.Close(context.Background())
}

func TestRuntime_ClosedRejects(t *testing.T) {
	r, err := New(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mod, err := r.LoadWIT(context.Background(), wasmgen.TestGuest(), guestWIT)
	if err != nil {
		t.Fatalf("LoadWIT failed: %v", err)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := r.LoadWIT(context.Background(), wasmgen.TestGuest(), guestWIT); err == nil {
		t.Error("Load succeeded on closed runtime")
	}
	if _, err := r.Invoke(context.Background(), mod, "nop"); !errors.IsKind(err, errors.KindClosed) {
		t.Errorf("expected closed fault, got %v", err)
	}
	// Close is idempotent.
	if err := r.Close(context.Background()); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestAdmit_CapacityFault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentInstances = 1
	cfg.QueueSize = 0
	cfg.CallTimeout = 5 * time.Second
	cfg.StepBudget = 0
	r := newTestRuntime(t, cfg)
	mod := loadGuest(t, r)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, _ = r.Invoke(context.Background(), mod, "spin")
		close(done)
	}()
	<-started

	// Wait until the spinning call holds the only slot.
	deadline := time.Now().Add(2 * time.Second)
	for len(r.sem) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("spin call never took the admission slot")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := r.Invoke(context.Background(), mod, "nop")
	if !errors.IsKind(err, errors.KindCapacity) {
		t.Fatalf("expected capacity fault, got %v", err)
	}
	<-done
}
