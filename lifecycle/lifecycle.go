package lifecycle

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/loomgo/component"
	"github.com/vk/loomgo/config"
	"github.com/vk/loomgo/internal/ctxlog"
)

// Coordinator drives the two-phase startup of a freshly built instance
// subtree: forward initialization in discovery order, then readiness in
// reverse, so every dependency finishes initializing before anything reports
// ready and the outermost instance reports ready last.
type Coordinator struct{}

// New creates a coordinator.
func New() *Coordinator { return &Coordinator{} }

// Run discovers every live instance reachable from root's resolved
// configuration, runs the forward init pass and the backward readiness pass,
// and honors deferred start requests during the backward pass. One-time hooks
// are consumed as they run. A hook error rejects the run immediately.
func (c *Coordinator) Run(ctx context.Context, root *component.Instance) error {
	logger := ctxlog.FromContext(ctx)

	order := discover(root)
	for _, inst := range order {
		inst.SetLifecycle(component.LifecycleRunning)
	}

	for _, inst := range order {
		if hook := inst.TakeInit(); hook != nil {
			if err := hook(ctx, inst); err != nil {
				return fmt.Errorf("instance %q: init hook failed: %w", inst.Index(), err)
			}
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		inst := order[i]
		if hook := inst.TakeReady(); hook != nil {
			if err := hook(ctx, inst); err != nil {
				return fmt.Errorf("instance %q: ready hook failed: %w", inst.Index(), err)
			}
		}
		if inst.ConsumeStartRequest() {
			if err := inst.Start(ctx); err != nil {
				return fmt.Errorf("instance %q: start failed: %w", inst.Index(), err)
			}
		}
	}

	for _, inst := range order {
		inst.SetLifecycle(component.LifecycleDone)
	}
	logger.Debug("Lifecycle run complete.", "root", root.Index(), "instances", len(order))
	return nil
}

// discover walks breadth-first from root through each instance's resolved
// configuration, collecting every reachable live instance once, in discovery
// order. The explicit parent back-reference is skipped, as are proxies that
// have not materialized yet.
func discover(root *component.Instance) []*component.Instance {
	seen := map[*component.Instance]bool{root: true}
	order := []*component.Instance{root}
	queue := []*component.Instance{root}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, inst := range collect(cur.Config(), cur.Parent(), nil) {
			if seen[inst] {
				continue
			}
			seen[inst] = true
			order = append(order, inst)
			queue = append(queue, inst)
		}
	}
	return order
}

func collect(v any, parent *component.Instance, acc []*component.Instance) []*component.Instance {
	switch t := v.(type) {
	case *component.Instance:
		if t != parent {
			acc = append(acc, t)
		}
		return acc
	case *component.Proxy:
		if inst, ok := t.Built(); ok && inst != parent {
			acc = append(acc, inst)
		}
		return acc
	}

	switch config.KindOf(v) {
	case config.KindRecord:
		rec := v.(map[string]any)
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		// Records carry no field order of their own; sorting keeps discovery
		// order stable across runs.
		sort.Strings(keys)
		for _, k := range keys {
			acc = collect(rec[k], parent, acc)
		}
	case config.KindArray, config.KindDescriptor:
		for _, e := range v.([]any) {
			acc = collect(e, parent, acc)
		}
	}
	return acc
}
