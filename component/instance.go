package component

import (
	"context"
	"sync"

	"github.com/vk/loomgo/surface"
)

// LifecycleState tracks how far an instance's lifecycle run has progressed.
type LifecycleState int32

const (
	// LifecyclePending means no coordinator run covering the instance has
	// started yet.
	LifecyclePending LifecycleState = iota
	// LifecycleRunning means a coordinator run is in flight.
	LifecycleRunning
	// LifecycleDone means both passes completed.
	LifecycleDone
)

// Instance is a live object built from a definition and a resolved
// configuration, positioned in the presentation tree.
type Instance struct {
	id    int64
	index string

	mu            sync.Mutex
	parent        *Instance // back-reference only; the parent owns us
	children      map[string]*Instance
	root          *surface.Element
	content       *surface.Element
	cfg           map[string]any
	hooks         Hooks
	startPending  bool
	lifecycle     LifecycleState
	definitionIdx string
}

// NewInstance wires a bare instance. The builder fills surfaces, hooks and
// configuration afterwards.
func NewInstance(id int64, index, definitionIndex string, parent *Instance) *Instance {
	return &Instance{
		id:            id,
		index:         index,
		parent:        parent,
		children:      make(map[string]*Instance),
		definitionIdx: definitionIndex,
	}
}

// OpaqueConfigValue marks instances as opaque to configuration resolution.
func (in *Instance) OpaqueConfigValue() {}

// ID returns the per-component instance id.
func (in *Instance) ID() int64 { return in.id }

// Index returns the globally unique instance index.
func (in *Instance) Index() string { return in.index }

// DefinitionIndex returns the index of the definition the instance was built
// from.
func (in *Instance) DefinitionIndex() string { return in.definitionIdx }

// Parent returns the non-owning parent back-reference.
func (in *Instance) Parent() *Instance {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.parent
}

// Adopt records child in the instance's owned child collection, keyed by the
// child's index.
func (in *Instance) Adopt(child *Instance) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.children[child.index] = child
}

// Disown removes a child from the owned collection, undoing Adopt when a
// build fails partway.
func (in *Instance) Disown(child *Instance) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.children, child.index)
}

// Children returns a snapshot of the owned child collection.
func (in *Instance) Children() map[string]*Instance {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make(map[string]*Instance, len(in.children))
	for k, v := range in.children {
		out[k] = v
	}
	return out
}

// SetSurfaces records the instance's container and content elements.
func (in *Instance) SetSurfaces(root, content *surface.Element) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.root = root
	in.content = content
}

// Root returns the instance's container element.
func (in *Instance) Root() *surface.Element {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.root
}

// Content returns the content element inside the encapsulated scope.
func (in *Instance) Content() *surface.Element {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.content
}

// SetConfig stores the fully resolved configuration on the instance.
func (in *Instance) SetConfig(cfg map[string]any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.cfg = cfg
}

// Config returns the resolved configuration merged onto the instance.
func (in *Instance) Config() map[string]any {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cfg
}

// Field returns one resolved configuration value.
func (in *Instance) Field(key string) (any, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	v, ok := in.cfg[key]
	return v, ok
}

// SetHooks installs the capability set produced by the blueprint.
func (in *Instance) SetHooks(h Hooks) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.hooks = h
}

// TakeInit removes and returns the one-time initialization hook, or nil when
// none remains.
func (in *Instance) TakeInit() HookFunc {
	in.mu.Lock()
	defer in.mu.Unlock()
	h := in.hooks.Init
	in.hooks.Init = nil
	return h
}

// TakeReady removes and returns the one-time readiness hook, or nil when
// none remains.
func (in *Instance) TakeReady() HookFunc {
	in.mu.Lock()
	defer in.mu.Unlock()
	h := in.hooks.Ready
	in.hooks.Ready = nil
	return h
}

// Start invokes the start capability, if present.
func (in *Instance) Start(ctx context.Context) error {
	in.mu.Lock()
	h := in.hooks.Start
	in.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(ctx, in)
}

// Update invokes the update capability for an attribute change, if present.
func (in *Instance) Update(ctx context.Context, name, oldValue, newValue string) error {
	in.mu.Lock()
	h := in.hooks.Update
	in.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(ctx, in, name, oldValue, newValue)
}

// RequestStart flags the instance for a deferred start during the backward
// readiness pass.
func (in *Instance) RequestStart() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.startPending = true
}

// ConsumeStartRequest clears and returns the deferred-start flag.
func (in *Instance) ConsumeStartRequest() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	pending := in.startPending
	in.startPending = false
	return pending
}

// Lifecycle returns the instance's lifecycle progress.
func (in *Instance) Lifecycle() LifecycleState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lifecycle
}

// SetLifecycle records lifecycle progress.
func (in *Instance) SetLifecycle(s LifecycleState) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.lifecycle = s
}
