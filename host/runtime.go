package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wasmlab/component-host/engine"
	"github.com/wasmlab/component-host/errors"
	"github.com/wasmlab/component-host/schema"
)

// Runtime hosts guest modules under a shared resource policy: one
// engine, a validated-module cache, and a global execution ceiling.
type Runtime struct {
	engine *engine.Engine
	log    *zap.Logger
	cfg    Config

	mu    sync.Mutex
	cache map[string]*Module

	// sem is the global concurrency ceiling; queued counts callers
	// blocked on it.
	sem    chan struct{}
	queued atomic.Int64

	closed atomic.Bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// New creates a runtime with the given limits.
func New(ctx context.Context, cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, err.Error())
	}

	eng, err := engine.New(ctx, &engine.Config{MaxMemoryPages: cfg.MaxMemoryPages})
	if err != nil {
		return nil, errors.Load("create engine", err)
	}

	r := &Runtime{
		engine: eng,
		log:    zap.NewNop(),
		cfg:    cfg,
		cache:  make(map[string]*Module),
		sem:    make(chan struct{}, cfg.MaxConcurrentInstances),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the runtime's limits.
func (r *Runtime) Config() Config {
	return r.cfg
}

// Load compiles module bytes and validates them against the interface
// schema. The result is cached by content hash and schema fingerprint,
// so loading the same bytes under the same schema returns the same
// module.
func (r *Runtime) Load(ctx context.Context, wasm []byte, iface *schema.Interface) (*Module, error) {
	if r.closed.Load() {
		return nil, errors.InvalidInput(errors.PhaseLoad, "runtime is closed")
	}
	if len(wasm) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "empty module bytes")
	}
	if err := iface.Validate(); err != nil {
		return nil, err
	}

	key := moduleKey(wasm, iface)
	if r.cfg.CacheValidatedModules {
		r.mu.Lock()
		if m, ok := r.cache[key]; ok {
			r.mu.Unlock()
			r.log.Debug("module cache hit", zap.String("hash", m.Hash()))
			return m, nil
		}
		r.mu.Unlock()
	}

	compiled, err := r.engine.Compile(ctx, wasm)
	if err != nil {
		return nil, err
	}

	bindings, err := schema.Validate(iface, compiled.Exports())
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	// A module whose declared memory floor exceeds the policy can
	// never instantiate; reject it here instead of per call.
	minPages, _, _, hasMemory := compiled.MemoryPages()
	if !hasMemory {
		_ = compiled.Close(ctx)
		return nil, errors.Instantiation(nil, "module exports no memory")
	}
	if minPages > r.cfg.MaxMemoryPages {
		_ = compiled.Close(ctx)
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInstantiation).
			Detail("module requires %d memory pages, limit is %d", minPages, r.cfg.MaxMemoryPages).
			Build()
	}

	m := &Module{
		runtime:   r,
		compiled:  compiled,
		iface:     iface,
		bindings:  bindings,
		hash:      key,
		shortHash: key[:12],
	}
	m.pool = newPool(m, r.cfg.PoolSize, r.cfg.QueueSize)

	if r.cfg.CacheValidatedModules {
		r.mu.Lock()
		// Another loader may have raced us; keep the first.
		if existing, ok := r.cache[key]; ok {
			r.mu.Unlock()
			_ = m.closeCompiled(ctx)
			return existing, nil
		}
		r.cache[key] = m
		r.mu.Unlock()
	}

	r.log.Info("module loaded",
		zap.String("hash", m.shortHash),
		zap.Int("functions", bindings.Len()))
	return m, nil
}

// LoadWIT is Load with the schema parsed from WIT-style function
// signatures.
func (r *Runtime) LoadWIT(ctx context.Context, wasm []byte, witText string) (*Module, error) {
	iface, err := schema.ParseWIT(witText)
	if err != nil {
		return nil, err
	}
	return r.Load(ctx, wasm, iface)
}

// Invoke runs one exported function on a pooled instance of mod. It
// admits the call under the global ceiling, checks an instance out of
// the module's pool, and returns it when done; faulted instances are
// discarded instead of returned.
func (r *Runtime) Invoke(ctx context.Context, mod *Module, function string, args ...any) (any, error) {
	if r.closed.Load() {
		return nil, errors.Closed(function)
	}
	if _, ok := mod.bindings.Lookup(function); !ok {
		return nil, errors.NotFound(errors.PhaseCall, "function", function)
	}

	if err := r.admit(ctx); err != nil {
		return nil, err
	}
	defer func() { <-r.sem }()

	inst, err := mod.pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	result, err := inst.Invoke(ctx, function, args...)
	mod.pool.release(inst)
	return result, err
}

// admit takes a slot under the global concurrency ceiling, queueing up
// to QueueSize callers in arrival order.
func (r *Runtime) admit(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
		return nil
	default:
	}

	if r.queued.Add(1) > int64(r.cfg.QueueSize) {
		r.queued.Add(-1)
		return errors.Capacity("concurrency ceiling reached and admission queue is full")
	}
	defer r.queued.Add(-1)

	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.PhasePool, errors.KindCapacity, ctx.Err(), "gave up waiting for admission")
	}
}

// Close tears down all cached modules and the engine. In-flight calls
// fail as their instances close underneath them.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	mods := make([]*Module, 0, len(r.cache))
	for _, m := range r.cache {
		mods = append(mods, m)
	}
	r.cache = nil
	r.mu.Unlock()

	for _, m := range mods {
		_ = m.Close(ctx)
	}
	return r.engine.Close(ctx)
}

// moduleKey derives the cache key: content hash of the bytes plus the
// schema fingerprint, so the same bytes validated against a different
// schema compile into a distinct entry.
func moduleKey(wasm []byte, iface *schema.Interface) string {
	h := sha256.New()
	h.Write(wasm)
	h.Write([]byte(iface.Fingerprint()))
	return hex.EncodeToString(h.Sum(nil))
}
