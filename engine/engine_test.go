package engine

import (
	"context"
	"testing"
	"time"

	"github.com/wasmlab/component-host/errors"
	"github.com/wasmlab/component-host/internal/wasmgen"
	"github.com/wasmlab/component-host/schema"
)

func newTestModule(t *testing.T) (*Engine, *Module) {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, &Config{MaxMemoryPages: 16})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })

	m, err := e.Compile(ctx, wasmgen.TestGuest())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return e, m
}

func TestModule_Exports(t *testing.T) {
	_, m := newTestModule(t)

	var add *schema.CoreExport
	exports := m.Exports()
	for i := range exports {
		if exports[i].Name == "add" {
			add = &exports[i]
		}
	}
	if add == nil {
		t.Fatal("add not in exports")
	}
	if len(add.Params) != 2 || add.Params[0] != schema.CoreI32 || add.Params[1] != schema.CoreI32 {
		t.Errorf("add params = %v", add.Params)
	}
	if len(add.Results) != 1 || add.Results[0] != schema.CoreI32 {
		t.Errorf("add results = %v", add.Results)
	}
}

func TestModule_MemoryPages(t *testing.T) {
	_, m := newTestModule(t)

	min, _, hasMax, hasMemory := m.MemoryPages()
	if !hasMemory {
		t.Fatal("no exported memory reported")
	}
	if min != 1 {
		t.Errorf("min pages = %d, want 1", min)
	}
	if hasMax {
		t.Error("guest declares no max, hasMax should be false")
	}
}

func TestInstance_Call(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModule(t)

	inst, err := m.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	res, err := inst.Call(ctx, "add", []uint64{40, 2}, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if int32(uint32(res[0])) != 42 {
		t.Errorf("add(40, 2) = %d, want 42", int32(uint32(res[0])))
	}
}

func TestInstance_UnknownExport(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModule(t)

	inst, err := m.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	_, err = inst.Call(ctx, "does-not-exist", nil, nil)
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInstance_AllocatorDiscovery(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModule(t)

	inst, err := m.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	inst.SetCallContext(ctx)
	ptr, err := inst.Allocator().Alloc(32, 4)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if ptr == 0 {
		t.Fatal("allocator returned null")
	}

	// The region is usable through the memory wrapper.
	mem := inst.Memory()
	if err := mem.Write(ptr, []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := mem.Read(ptr, 5)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("read back %q", got)
	}

	// Free on the no-op export must not error out of the call path.
	inst.Allocator().Free(ptr, 32, 4)
}

func TestInstance_MemoryBounds(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModule(t)

	inst, err := m.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	mem := inst.Memory()
	size := mem.Size()
	if size != 65536 {
		t.Fatalf("memory size = %d, want one page", size)
	}
	if _, err := mem.Read(size-2, 4); err == nil {
		t.Error("read past end of memory succeeded")
	}
	if err := mem.Write(size-2, []byte{1, 2, 3, 4}); err == nil {
		t.Error("write past end of memory succeeded")
	}
}

func TestMeter_BudgetExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, m := newTestModule(t)

	inst, err := m.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	// spin calls nop every iteration, so each turn is a checkpoint.
	meter := NewMeter(100, 0)
	_, err = inst.Call(ctx, "spin", nil, meter)
	if err == nil {
		t.Fatal("spin returned without fault")
	}
	if !IsBudgetExceeded(err) {
		t.Fatalf("expected budget exhaustion, got %v", err)
	}
	if meter.Remaining() != 0 {
		t.Errorf("remaining = %d after exhaustion", meter.Remaining())
	}
}

func TestDeadline_ClosesInstance(t *testing.T) {
	_, m := newTestModule(t)

	inst, err := m.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = inst.Call(ctx, "spin", nil, nil)
	if err == nil {
		t.Fatal("spin returned without fault")
	}
	if !IsDeadline(err) {
		t.Fatalf("expected deadline fault, got %v", err)
	}
}

func TestTrap_IsNotBudgetOrDeadline(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModule(t)

	inst, err := m.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	_, err = inst.Call(ctx, "crash", nil, NewMeter(1000, 0))
	if err == nil {
		t.Fatal("crash returned without fault")
	}
	if IsBudgetExceeded(err) || IsDepthExceeded(err) || IsDeadline(err) {
		t.Fatalf("trap misclassified: %v", err)
	}
}

func TestInstance_CloseIdempotent(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModule(t)

	inst, err := m.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := inst.Call(ctx, "add", []uint64{1, 2}, nil); !errors.IsKind(err, errors.KindClosed) {
		t.Fatalf("expected closed fault, got %v", err)
	}
}

func TestMeter_Accounting(t *testing.T) {
	m := NewMeter(3, 0)
	for i := 0; i < 3; i++ {
		if !m.step() {
			t.Fatalf("step %d denied within budget", i)
		}
	}
	if m.step() {
		t.Fatal("step granted past budget")
	}
	if m.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", m.Remaining())
	}

	unlimited := NewMeter(0, 0)
	for i := 0; i < 1000; i++ {
		if !unlimited.step() {
			t.Fatal("unlimited meter denied a step")
		}
	}
}

func TestMeter_DepthCap(t *testing.T) {
	m := NewMeter(0, 2)
	if !m.enter() || !m.enter() {
		t.Fatal("entries within cap denied")
	}
	if m.enter() {
		t.Fatal("entry past depth cap granted")
	}
	m.leave()
	m.leave()
	m.leave()
	if !m.enter() {
		t.Fatal("entry after unwinding denied")
	}
}
