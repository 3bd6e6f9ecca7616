package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/loomgo/component"
	"github.com/vk/loomgo/config"
	"github.com/vk/loomgo/internal/ctxlog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotRegistered is returned for a locator that resolves to nothing.
	ErrNotRegistered = errors.New("component not registered")
	// ErrNoBlueprint is returned for a definition missing its constructor
	// blueprint.
	ErrNoBlueprint = errors.New("definition is missing its blueprint")
)

// DelegateFunc forwards a registration to the engine owning another runtime
// version.
type DelegateFunc func(ctx context.Context, def *component.Definition, override map[string]any) (*component.Definition, error)

// BuildDelegate builds (and optionally starts) an instance of a registered
// definition. The engine installs it so registered copies can carry bound
// convenience operations.
type BuildDelegate func(ctx context.Context, def *component.Definition, cfg map[string]any, start bool) (*component.Instance, error)

// Registry is a versioned, idempotent store of component definitions.
// Registration under an index happens exactly once; later registrations with
// the same index short-circuit to the cached definition. Identity never
// changes after first registration.
type Registry struct {
	version string

	mu       sync.Mutex
	defs     map[string]*component.Definition
	bindings map[string]string
	flight   singleflight.Group

	delegate DelegateFunc
	build    BuildDelegate
}

// New creates a registry bound to one runtime version label.
func New(version string) *Registry {
	return &Registry{
		version:  version,
		defs:     make(map[string]*component.Definition),
		bindings: make(map[string]string),
	}
}

// Version returns the version label the registry serves.
func (r *Registry) Version() string { return r.version }

// SetDelegate installs the cross-version registration delegate.
func (r *Registry) SetDelegate(fn DelegateFunc) { r.delegate = fn }

// SetBuildDelegate installs the instance-build delegate used by the bound
// convenience operations on registered copies.
func (r *Registry) SetBuildDelegate(fn BuildDelegate) { r.build = fn }

// Index computes the canonical registry key for a component: the bare name
// for the latest version, otherwise the name joined with the version
// components.
func Index(name, version string) string {
	if version == "" {
		return name
	}
	return name + "-" + strings.ReplaceAll(version, ".", "-")
}

// Register registers a definition, or resolves a locator to an existing one.
// The returned definition is always a defensive copy carrying bound Build
// and Launch operations pre-merged with the component's default
// configuration and the registration override.
func (r *Registry) Register(ctx context.Context, definitionOrLocator any, override map[string]any) (*component.Definition, error) {
	logger := ctxlog.FromContext(ctx)

	def, err := r.coerce(definitionOrLocator)
	if err != nil {
		return nil, err
	}

	// A component declaring a different runtime version is registered by
	// that version's engine and stays bound to it permanently.
	if def.Version != "" && def.Version != r.version {
		if r.delegate == nil {
			return nil, fmt.Errorf("component %q targets version %q but no delegate is installed", def.Name, def.Version)
		}
		return r.delegate(ctx, def, override)
	}

	index := def.Index
	if index == "" {
		index = Index(def.Name, def.Version)
	}

	r.mu.Lock()
	cached, ok := r.defs[index]
	r.mu.Unlock()
	if ok {
		logger.Debug("Returning cached component definition.", "index", index)
		return r.bound(cached, override), nil
	}

	if def.Name == "" {
		return nil, fmt.Errorf("cannot register a definition without a name")
	}
	if def.Blueprint == nil {
		return nil, fmt.Errorf("component %q: %w", def.Name, ErrNoBlueprint)
	}

	// First registration: canonical identity, counter, one-time setup,
	// declarative binding. All exactly once — concurrent first registrations
	// of the same index collapse onto one flight, so the setup hook cannot
	// run twice.
	v, err, _ := r.flight.Do(index, func() (any, error) {
		r.mu.Lock()
		if raced, ok := r.defs[index]; ok {
			r.mu.Unlock()
			return raced, nil
		}
		r.mu.Unlock()

		registered := def.Copy()
		registered.Index = index
		registered.InitCounter()

		if setup := registered.Setup; setup != nil {
			registered.Setup = nil
			if err := setup(ctx, registered); err != nil {
				return nil, fmt.Errorf("component %q: setup failed: %w", def.Name, err)
			}
		}

		binding := "x-" + strings.ToLower(registered.Name)

		r.mu.Lock()
		r.defs[index] = registered
		r.bindings[binding] = index
		r.mu.Unlock()

		logger.Debug("Registered component definition.", "index", index, "binding", binding)
		return registered, nil
	})
	if err != nil {
		return nil, err
	}
	return r.bound(v.(*component.Definition), override), nil
}

// Lookup returns the registered definition under index without copying.
func (r *Registry) Lookup(index string) (*component.Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[index]
	return def, ok
}

// Bindings returns the declarative tag-to-index table published for
// markup-driven instantiation.
func (r *Registry) Bindings() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.bindings))
	for k, v := range r.bindings {
		out[k] = v
	}
	return out
}

// coerce turns the caller's argument into a definition to work with.
func (r *Registry) coerce(v any) (*component.Definition, error) {
	switch d := v.(type) {
	case *component.Definition:
		return d, nil
	case component.Definition:
		return &d, nil
	case string:
		r.mu.Lock()
		def, ok := r.defs[d]
		r.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: locator %q", ErrNotRegistered, d)
		}
		return def, nil
	case map[string]any:
		return definitionFromRecord(d)
	default:
		return nil, fmt.Errorf("cannot register %T as a component definition", v)
	}
}

func definitionFromRecord(rec map[string]any) (*component.Definition, error) {
	def := &component.Definition{}
	def.Name, _ = rec["name"].(string)
	def.Version, _ = rec["version"].(string)
	if cfg, ok := rec["defaultConfig"].(map[string]any); ok {
		def.DefaultConfig = cfg
	}
	def.Blueprint, _ = rec["blueprint"].(component.Blueprint)
	def.Setup, _ = rec["setup"].(component.SetupFunc)
	def.Ready, _ = rec["ready"].(component.HookFunc)
	if def.Name == "" {
		return nil, fmt.Errorf("definition record is missing its name")
	}
	return def, nil
}

// bound produces the caller-facing copy: defaults cloned, override merged,
// and the two convenience operations bound.
func (r *Registry) bound(registered *component.Definition, override map[string]any) *component.Definition {
	cp := registered.Copy()
	if override != nil {
		cp.DefaultConfig = config.Merge(cp.DefaultConfig, override)
	}

	base := cp.DefaultConfig
	cp.Build = func(ctx context.Context, cfg map[string]any) (*component.Instance, error) {
		return r.buildBound(ctx, registered, base, cfg, false)
	}
	cp.Launch = func(ctx context.Context, cfg map[string]any) (*component.Instance, error) {
		return r.buildBound(ctx, registered, base, cfg, true)
	}
	return cp
}

func (r *Registry) buildBound(ctx context.Context, registered *component.Definition, base, cfg map[string]any, start bool) (*component.Instance, error) {
	if r.build == nil {
		return nil, fmt.Errorf("component %q: no instance builder installed", registered.Name)
	}
	merged := config.Merge(config.CloneRecord(base), cfg)
	return r.build(ctx, registered, merged, start)
}
