package host

import (
	"context"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/wasmlab/component-host/engine"
	"github.com/wasmlab/component-host/errors"
	"github.com/wasmlab/component-host/schema"
)

// Module is a compiled guest validated against an interface schema.
// It owns a pool of reusable instances; Runtime.Invoke draws from the
// pool, and Instantiate hands out an instance managed by the caller.
type Module struct {
	runtime   *Runtime
	compiled  *engine.Module
	iface     *schema.Interface
	bindings  *schema.BindingTable
	pool      *pool
	hash      string
	shortHash string
	closed    atomic.Bool
}

// Hash returns the module's cache key: content hash plus schema
// fingerprint.
func (m *Module) Hash() string {
	return m.hash
}

// Interface returns the schema the module was validated against.
func (m *Module) Interface() *schema.Interface {
	return m.iface
}

// Functions lists the callable function names.
func (m *Module) Functions() []string {
	names := make([]string, 0, len(m.iface.Funcs))
	for i := range m.iface.Funcs {
		names = append(names, m.iface.Funcs[i].Name)
	}
	return names
}

// Instantiate creates an instance the caller owns: serially callable,
// Busy-rejecting under concurrent use, and closed by the caller. It
// does not count against the module's pool.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	if m.closed.Load() {
		return nil, errors.Instantiation(nil, "module is closed")
	}
	return m.newInstance(ctx)
}

func (m *Module) newInstance(ctx context.Context) (*Instance, error) {
	eng, err := m.compiled.Instantiate(ctx)
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		id:  ulid.Make().String(),
		mod: m,
		eng: eng,
	}
	inst.state.Store(int32(StateReady))
	m.runtime.log.Debug("instance created",
		zap.String("module", m.shortHash),
		zap.String("instance", inst.id))
	return inst, nil
}

// Close tears down the module's pool and compiled code. Pooled idle
// instances close immediately; checked-out instances die when their
// pool returns them.
func (m *Module) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.pool.close(ctx)
	return m.closeCompiled(ctx)
}

func (m *Module) closeCompiled(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
