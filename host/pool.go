package host

import (
	"context"
	"sync"

	"github.com/wasmlab/component-host/errors"
)

// pool manages a module's reusable instances: at most max live at
// once, idle ones reused most-recently-returned first, and callers
// beyond capacity queued in arrival order up to queueCap.
type pool struct {
	mod      *Module
	mu       sync.Mutex
	idle     []*Instance
	waiters  []chan grant
	total    int
	max      int
	queueCap int
	closed   bool
}

type grant struct {
	inst *Instance
	err  error
}

func newPool(mod *Module, size, queueCap int) *pool {
	return &pool{mod: mod, max: size, queueCap: queueCap}
}

// acquire checks an instance out, creating one lazily while under
// capacity and queueing FIFO when saturated.
func (p *pool) acquire(ctx context.Context) (*Instance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.Capacity("module pool is closed")
	}

	if n := len(p.idle); n > 0 {
		inst := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return inst, nil
	}

	if p.total < p.max {
		p.total++
		p.mu.Unlock()
		inst, err := p.mod.newInstance(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, err
		}
		return inst, nil
	}

	if len(p.waiters) >= p.queueCap {
		p.mu.Unlock()
		return nil, errors.Capacity("instance pool exhausted and wait queue is full")
	}
	ch := make(chan grant, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case g := <-ch:
		return g.inst, g.err
	case <-ctx.Done():
		p.mu.Lock()
		for n, w := range p.waiters {
			if w == ch {
				p.waiters = append(p.waiters[:n], p.waiters[n+1:]...)
				p.mu.Unlock()
				return nil, errors.Wrap(errors.PhasePool, errors.KindCapacity, ctx.Err(), "gave up waiting for an instance")
			}
		}
		p.mu.Unlock()
		// A grant raced the cancellation; take it and pass it on.
		g := <-ch
		if g.inst != nil {
			p.release(g.inst)
		}
		return nil, errors.Wrap(errors.PhasePool, errors.KindCapacity, ctx.Err(), "gave up waiting for an instance")
	}
}

// release returns an instance to the pool. Faulted or closed instances
// are torn down and their slot handed to the next waiter as a fresh
// instance.
func (p *pool) release(inst *Instance) {
	if !inst.usable() {
		_ = inst.Close(context.Background())
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.refill()
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = inst.Close(context.Background())
		return
	}
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- grant{inst: inst}
		return
	}
	p.idle = append(p.idle, inst)
	p.mu.Unlock()
}

// refill replaces an evicted instance when a waiter needs the slot.
func (p *pool) refill() {
	p.mu.Lock()
	if p.closed || len(p.waiters) == 0 || p.total >= p.max {
		p.mu.Unlock()
		return
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.total++
	p.mu.Unlock()

	inst, err := p.mod.newInstance(context.Background())
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		ch <- grant{err: err}
		return
	}
	ch <- grant{inst: inst}
}

// close tears down idle instances and fails all waiters. Checked-out
// instances are closed as they come back through release.
func (p *pool) close(ctx context.Context) {
	p.mu.Lock()
	idle := p.idle
	waiters := p.waiters
	p.idle = nil
	p.waiters = nil
	p.closed = true
	p.mu.Unlock()

	for _, inst := range idle {
		_ = inst.Close(ctx)
	}
	for _, ch := range waiters {
		ch <- grant{err: errors.Capacity("module pool is closed")}
	}
}

// stats reports live and idle counts, for tests and diagnostics.
func (p *pool) stats() (total, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, len(p.idle)
}
