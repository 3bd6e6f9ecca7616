package engine

import (
	"fmt"
	"sync"
)

// Factory builds an engine for a version label the table has not seen yet.
type Factory func(label string) *Engine

// Versions is an explicit table of coexisting engine versions. A component,
// once registered under a version, stays permanently bound to that version's
// engine; the table is how a definition declaring another version finds it.
type Versions struct {
	mu      sync.Mutex
	engines map[string]*Engine
	factory Factory
}

// NewVersions creates a version table. Without a factory, unknown labels are
// an error; with one, they are created on demand.
func NewVersions(factory Factory) *Versions {
	return &Versions{
		engines: make(map[string]*Engine),
		factory: factory,
	}
}

// Obtain returns the engine registered under label, creating it through the
// factory when absent.
func (v *Versions) Obtain(label string) (*Engine, error) {
	v.mu.Lock()
	if e, ok := v.engines[label]; ok {
		v.mu.Unlock()
		return e, nil
	}
	factory := v.factory
	v.mu.Unlock()

	if factory == nil {
		return nil, fmt.Errorf("no engine for version %q", label)
	}

	// The factory's New installs the engine into this table itself; a racing
	// Obtain for the same label yields whichever landed first.
	e := factory(label)
	v.mu.Lock()
	defer v.mu.Unlock()
	if raced, ok := v.engines[label]; ok && raced != e {
		return raced, nil
	}
	v.engines[label] = e
	return e, nil
}

// Labels returns the registered version labels.
func (v *Versions) Labels() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.engines))
	for label := range v.engines {
		out = append(out, label)
	}
	return out
}

func (v *Versions) install(label string, e *Engine) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.engines[label]; !ok {
		v.engines[label] = e
	}
}
