package component

import (
	"context"
	"sync/atomic"

	"github.com/vk/loomgo/config"
)

// HookFunc is a lifecycle hook bound to one instance.
type HookFunc func(ctx context.Context, inst *Instance) error

// UpdateFunc reacts to an observed attribute change on the instance's root
// element.
type UpdateFunc func(ctx context.Context, inst *Instance, name, oldValue, newValue string) error

// Hooks is the capability contract of a built instance. Presence is tested
// directly; there is no implicit lookup chain. Init and Ready run at most
// once, during the forward and backward lifecycle passes respectively. Start
// is invoked when the instance is started. Update fires on observed
// attribute changes.
type Hooks struct {
	Init   HookFunc
	Ready  HookFunc
	Start  HookFunc
	Update UpdateFunc
}

// Blueprint constructs the capability set for a freshly built instance. Every
// definition must carry one; registration fails otherwise.
type Blueprint func(inst *Instance) (Hooks, error)

// SetupFunc is a definition's one-time setup hook, invoked exactly once at
// first registration and then discarded.
type SetupFunc func(ctx context.Context, def *Definition) error

// BuildFunc builds an instance from a caller configuration. Registered
// definition copies carry bound variants pre-merged with the component's
// default configuration.
type BuildFunc func(ctx context.Context, cfg map[string]any) (*Instance, error)

// Definition is a versioned component blueprint plus default configuration.
// Identity is the Index, assigned at first registration and immutable after.
type Definition struct {
	// Name is the component name. Required.
	Name string
	// Version is the runtime version label the component binds to. Empty
	// means the latest, i.e. the registering engine's own version.
	Version string
	// Index is the registry key: Name for the latest version, otherwise
	// Name + "-" + version components. Assigned by the registry.
	Index string
	// DefaultConfig is merged under every caller configuration.
	DefaultConfig map[string]any
	// Blueprint constructs instance capabilities. Required.
	Blueprint Blueprint
	// Setup runs once at first registration, then is discarded.
	Setup SetupFunc
	// Ready is a fallback readiness hook applied to instances whose
	// blueprint declares none.
	Ready HookFunc

	// Build and Launch are convenience operations bound onto the copies the
	// registry hands out: build an instance, and build-and-start one.
	Build  BuildFunc
	Launch BuildFunc

	counter *atomic.Int64
}

// OpaqueConfigValue marks definitions as opaque to configuration resolution.
func (d *Definition) OpaqueConfigValue() {}

// InitCounter gives the definition its per-component instance counter,
// starting at zero. The registry calls this exactly once.
func (d *Definition) InitCounter() {
	d.counter = new(atomic.Int64)
}

// NextID reserves the next instance id. Ids increase strictly across every
// copy of the definition because copies share one counter.
func (d *Definition) NextID() int64 {
	return d.counter.Add(1) - 1
}

// Copy returns a caller-facing copy of the definition. Scalars and hooks are
// copied, the default configuration is deep-cloned, and the instance counter
// is shared so ids stay globally coordinated.
func (d *Definition) Copy() *Definition {
	cp := *d
	cp.DefaultConfig = config.CloneRecord(d.DefaultConfig)
	return &cp
}
