package host

import (
	"context"
	"testing"
	"time"

	"github.com/wasmlab/component-host/errors"
)

func TestPool_ReusesIdleInstance(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	for i := 0; i < 5; i++ {
		if _, err := r.Invoke(context.Background(), mod, "nop"); err != nil {
			t.Fatalf("Invoke %d failed: %v", i, err)
		}
	}
	total, idle := mod.pool.stats()
	if total != 1 || idle != 1 {
		t.Errorf("pool total=%d idle=%d after serial calls, want 1/1", total, idle)
	}
}

func TestPool_ExhaustedQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = 1
	cfg.QueueSize = 0
	r := newTestRuntime(t, cfg)
	mod := loadGuest(t, r)

	inst, err := mod.pool.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if _, err := mod.pool.acquire(context.Background()); !errors.IsKind(err, errors.KindCapacity) {
		t.Fatalf("expected capacity fault, got %v", err)
	}

	mod.pool.release(inst)
	again, err := mod.pool.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	if again != inst {
		t.Error("released instance not reused")
	}
	mod.pool.release(again)
}

func TestPool_WaitersServedInOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = 1
	cfg.QueueSize = 4
	r := newTestRuntime(t, cfg)
	mod := loadGuest(t, r)

	inst, err := mod.pool.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	order := make(chan int, 2)
	spawnWaiter := func(id, wantQueued int) {
		go func() {
			got, err := mod.pool.acquire(context.Background())
			if err != nil {
				t.Errorf("waiter %d failed: %v", id, err)
				order <- id
				return
			}
			order <- id
			mod.pool.release(got)
		}()
		deadline := time.Now().Add(2 * time.Second)
		for {
			mod.pool.mu.Lock()
			n := len(mod.pool.waiters)
			mod.pool.mu.Unlock()
			if n >= wantQueued {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("waiter %d never queued", id)
			}
			time.Sleep(time.Millisecond)
		}
	}
	spawnWaiter(1, 1)
	spawnWaiter(2, 2)

	mod.pool.release(inst)
	if first := <-order; first != 1 {
		t.Errorf("first served waiter = %d, want 1", first)
	}
	if second := <-order; second != 2 {
		t.Errorf("second served waiter = %d, want 2", second)
	}
}

func TestPool_WaiterGivesUpOnContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = 1
	cfg.QueueSize = 4
	r := newTestRuntime(t, cfg)
	mod := loadGuest(t, r)

	inst, err := mod.pool.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer mod.pool.release(inst)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := mod.pool.acquire(ctx); !errors.IsKind(err, errors.KindCapacity) {
		t.Fatalf("expected capacity fault on timeout, got %v", err)
	}
	mod.pool.mu.Lock()
	n := len(mod.pool.waiters)
	mod.pool.mu.Unlock()
	if n != 0 {
		t.Errorf("abandoned waiter left in queue: %d", n)
	}
}

func TestPool_FaultedInstanceEvicted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepBudget = 100
	cfg.CallTimeout = 10 * time.Second
	r := newTestRuntime(t, cfg)
	mod := loadGuest(t, r)

	if _, err := r.Invoke(context.Background(), mod, "spin"); !errors.IsKind(err, errors.KindBudget) {
		t.Fatalf("expected budget fault, got %v", err)
	}
	total, idle := mod.pool.stats()
	if total != 0 || idle != 0 {
		t.Errorf("pool total=%d idle=%d after fault, want 0/0", total, idle)
	}

	// A new instance backfills transparently.
	if _, err := r.Invoke(context.Background(), mod, "nop"); err != nil {
		t.Fatalf("Invoke after eviction failed: %v", err)
	}
	if total, _ := mod.pool.stats(); total != 1 {
		t.Errorf("pool total = %d, want 1", total)
	}
}

func TestPool_CloseFailsAcquire(t *testing.T) {
	r := newTestRuntime(t, DefaultConfig())
	mod := loadGuest(t, r)

	if _, err := r.Invoke(context.Background(), mod, "nop"); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if err := mod.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := mod.pool.acquire(context.Background()); !errors.IsKind(err, errors.KindCapacity) {
		t.Fatalf("expected capacity fault from closed pool, got %v", err)
	}
	if _, err := mod.Instantiate(context.Background()); err == nil {
		t.Error("Instantiate succeeded on closed module")
	}
}
