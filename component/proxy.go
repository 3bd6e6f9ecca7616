package component

import (
	"context"
	"sync"
)

// Proxy is a lazily-deferred placeholder for an instance. It holds everything
// needed to build the instance but does not do so until first demanded.
// Lifecycle discovery skips proxies that have not materialized.
type Proxy struct {
	once  sync.Once
	build func(ctx context.Context) (*Instance, error)

	mu   sync.Mutex
	inst *Instance
	err  error
}

// NewProxy wraps a deferred build operation.
func NewProxy(build func(ctx context.Context) (*Instance, error)) *Proxy {
	return &Proxy{build: build}
}

// OpaqueConfigValue marks proxies as opaque to configuration resolution.
func (p *Proxy) OpaqueConfigValue() {}

// Materialize builds the underlying instance. Only the first call builds;
// every later call returns the same instance or the original failure.
func (p *Proxy) Materialize(ctx context.Context) (*Instance, error) {
	p.once.Do(func() {
		inst, err := p.build(ctx)
		p.mu.Lock()
		p.inst, p.err = inst, err
		p.mu.Unlock()
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inst, p.err
}

// Built returns the materialized instance, if any.
func (p *Proxy) Built() (*Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inst, p.inst != nil
}
