package builder

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vk/loomgo/component"
	"github.com/vk/loomgo/config"
	"github.com/vk/loomgo/internal/ctxlog"
	"github.com/vk/loomgo/surface"
)

// ContainerKey names the configuration field carrying an existing surface
// element the instance mounts into instead of a fresh container.
const ContainerKey = "container"

// NoScopeKey suppresses the encapsulated child scope when truthy.
const NoScopeKey = "noScope"

// Resolver resolves descriptors inside nested configuration data. The engine
// injects its resolver here; the abstraction keeps the build/resolve mutual
// recursion out of the import graph.
type Resolver interface {
	Tree(ctx context.Context, v any, parent *component.Instance) (any, error)
}

// Registrar registers or resolves component definitions.
type Registrar interface {
	RegisterComponent(ctx context.Context, definitionOrLocator any, override map[string]any) (*component.Definition, error)
}

// Coordinator runs the two-phase lifecycle over a freshly built subtree.
type Coordinator interface {
	Run(ctx context.Context, root *component.Instance) error
}

// Builder turns a registered component definition plus configuration into a
// live, surface-mounted instance.
type Builder struct {
	registrar   Registrar
	resolver    Resolver
	coordinator Coordinator
	doc         *surface.Document
}

// New creates a builder over the given collaborators.
func New(reg Registrar, res Resolver, coord Coordinator, doc *surface.Document) *Builder {
	return &Builder{registrar: reg, resolver: res, coordinator: coord, doc: doc}
}

// Build constructs an instance of the component. The configuration may embed
// dependency descriptors anywhere; base-configuration references merge
// lowest-priority-first under the component defaults, the caller's own fields
// win. When built under a parent whose lifecycle run has not started yet, the
// two-phase run is deferred to that parent; otherwise it runs here before
// Build returns.
func (b *Builder) Build(ctx context.Context, definitionOrLocator any, cfg map[string]any, parent *component.Instance, start bool) (*component.Instance, error) {
	logger := ctxlog.FromContext(ctx)

	def, err := b.registrar.RegisterComponent(ctx, definitionOrLocator, nil)
	if err != nil {
		return nil, err
	}

	merged, err := b.mergeConfig(ctx, def, cfg, parent)
	if err != nil {
		return nil, fmt.Errorf("component %q: %w", def.Index, err)
	}

	root, content, restore := b.allocateSurfaces(merged)
	defer restore()

	id := def.NextID()
	index := def.Index + "-" + strconv.FormatInt(id, 10)
	inst := component.NewInstance(id, index, def.Index, parent)
	inst.SetSurfaces(root, content)
	if parent != nil {
		parent.Adopt(inst)
	}

	// A failed build must leave no trace: off the surface tree and out of
	// the parent's owned collection.
	fail := func(err error) (*component.Instance, error) {
		root.Detach()
		if parent != nil {
			parent.Disown(inst)
		}
		return nil, fmt.Errorf("instance %q: %w", index, err)
	}

	resolved, err := b.resolver.Tree(ctx, merged, inst)
	if err != nil {
		return fail(err)
	}
	inst.SetConfig(resolved.(map[string]any))

	if def.Blueprint == nil {
		return fail(fmt.Errorf("definition carries no blueprint"))
	}
	hooks, err := def.Blueprint(inst)
	if err != nil {
		return fail(fmt.Errorf("blueprint failed: %w", err))
	}
	if hooks.Ready == nil {
		hooks.Ready = def.Ready
	}
	inst.SetHooks(hooks)

	if hooks.Update != nil {
		obsCtx := context.WithoutCancel(ctx)
		root.Observe(func(name, oldValue, newValue string) {
			if err := inst.Update(obsCtx, name, oldValue, newValue); err != nil {
				logger.Warn("Attribute update hook failed.", "instance", index, "attr", name, "error", err)
			}
		})
	}

	if start {
		inst.RequestStart()
	}

	// A descendant of a build still gathering its dependencies joins that
	// build's lifecycle run instead of opening its own.
	if parent != nil && parent.Lifecycle() == component.LifecyclePending {
		logger.Debug("Deferring lifecycle to parent run.", "instance", index, "parent", parent.Index())
		return inst, nil
	}

	if err := b.coordinator.Run(ctx, inst); err != nil {
		return fail(err)
	}
	return inst, nil
}

// Defer wraps a pending build into a proxy that materializes on first demand.
// The configuration is captured by copy so later caller mutation cannot leak
// into the eventual build.
func (b *Builder) Defer(definitionOrLocator any, cfg map[string]any, parent *component.Instance, start bool) *component.Proxy {
	captured := config.CloneRecord(cfg)
	return component.NewProxy(func(ctx context.Context) (*component.Instance, error) {
		return b.Build(ctx, definitionOrLocator, captured, parent, start)
	})
}

// mergeConfig layers the effective configuration: component defaults, then
// each base reference lowest-priority-first, then the caller's fields on top.
// Base references resolve before the merge; everything else stays unresolved
// until the instance exists to serve as context.
func (b *Builder) mergeConfig(ctx context.Context, def *component.Definition, cfg map[string]any, parent *component.Instance) (map[string]any, error) {
	merged := config.CloneRecord(def.DefaultConfig)
	if merged == nil {
		merged = make(map[string]any)
	}

	if base, ok := cfg[config.BaseKey]; ok {
		for _, ref := range baseChain(base) {
			resolved, err := b.resolver.Tree(ctx, ref, parent)
			if err != nil {
				return nil, fmt.Errorf("base configuration: %w", err)
			}
			rec, ok := resolved.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("base configuration resolved to %T instead of a record", resolved)
			}
			merged = config.Merge(merged, rec)
		}
	}

	caller := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if k != config.BaseKey {
			caller[k] = v
		}
	}
	return config.Merge(merged, caller), nil
}

// baseChain normalizes the base reference field into an ordered list,
// lowest priority first. A bare descriptor is a single-link chain.
func baseChain(base any) []any {
	if seq, ok := base.([]any); ok && !config.IsDescriptor(seq) {
		return seq
	}
	return []any{base}
}

// allocateSurfaces creates or adopts the instance's container, attaches its
// encapsulated scope and content element, and returns a restore func undoing
// any temporary graft. A supplied container is emptied and mounted into; if
// it hangs detached from the visible tree it is grafted onto the off-screen
// anchor while dependencies resolve, then put back.
func (b *Builder) allocateSurfaces(cfg map[string]any) (root, content *surface.Element, restore func()) {
	restore = func() {}

	if c, ok := cfg[ContainerKey].(*surface.Element); ok && c != nil {
		root = c
		root.Clear()
		if !root.Attached() {
			restore = b.doc.Graft(root)
		}
	} else {
		root = b.doc.CreateElement("div")
	}

	host := root
	if suppress, _ := cfg[NoScopeKey].(bool); !suppress {
		host = root.AttachScope()
	}
	content = b.doc.CreateElement("div")
	host.Append(content)
	return root, content, restore
}
