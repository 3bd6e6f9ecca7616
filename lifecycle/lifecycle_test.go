package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/loomgo/component"
)

// tracked builds an instance whose init/ready/start hooks append labeled
// events to the shared log.
func tracked(log *[]string, id int64, name string, parent *component.Instance) *component.Instance {
	inst := component.NewInstance(id, name, name, parent)
	inst.SetHooks(component.Hooks{
		Init: func(ctx context.Context, in *component.Instance) error {
			*log = append(*log, "init:"+name)
			return nil
		},
		Ready: func(ctx context.Context, in *component.Instance) error {
			*log = append(*log, "ready:"+name)
			return nil
		},
		Start: func(ctx context.Context, in *component.Instance) error {
			*log = append(*log, "start:"+name)
			return nil
		},
	})
	return inst
}

func TestRunTwoPhaseOrdering(t *testing.T) {
	var log []string
	parent := tracked(&log, 0, "parent", nil)
	x := tracked(&log, 0, "x", parent)
	y := tracked(&log, 1, "y", parent)
	parent.SetConfig(map[string]any{"x": x, "y": y})

	require.NoError(t, New().Run(context.Background(), parent))

	assert.Equal(t, []string{
		"init:parent", "init:x", "init:y",
		"ready:y", "ready:x", "ready:parent",
	}, log)
	assert.Equal(t, component.LifecycleDone, parent.Lifecycle())
	assert.Equal(t, component.LifecycleDone, x.Lifecycle())
}

func TestRunFiresDeferredStartsDuringBackwardPass(t *testing.T) {
	var log []string
	parent := tracked(&log, 0, "parent", nil)
	x := tracked(&log, 0, "x", parent)
	y := tracked(&log, 1, "y", parent)
	y.RequestStart()
	parent.SetConfig(map[string]any{"x": x, "y": y})

	require.NoError(t, New().Run(context.Background(), parent))

	assert.Equal(t, []string{
		"init:parent", "init:x", "init:y",
		"ready:y", "start:y", "ready:x", "ready:parent",
	}, log, "a deferred start fires right after its owner's readiness")
}

func TestRunConsumesHooks(t *testing.T) {
	var log []string
	root := tracked(&log, 0, "root", nil)

	c := New()
	require.NoError(t, c.Run(context.Background(), root))
	require.NoError(t, c.Run(context.Background(), root))

	assert.Equal(t, []string{"init:root", "ready:root"}, log, "one-time hooks never run twice")
}

func TestRunSkipsParentBackReference(t *testing.T) {
	var log []string
	parent := tracked(&log, 0, "parent", nil)
	child := tracked(&log, 0, "child", parent)
	parent.SetConfig(map[string]any{"child": child})
	child.SetConfig(map[string]any{"owner": parent})

	require.NoError(t, New().Run(context.Background(), parent))

	assert.Equal(t, []string{
		"init:parent", "init:child",
		"ready:child", "ready:parent",
	}, log)
}

func TestRunDiscoversNestedConfigurations(t *testing.T) {
	var log []string
	parent := tracked(&log, 0, "parent", nil)
	child := tracked(&log, 0, "child", parent)
	grand := tracked(&log, 0, "grand", child)
	parent.SetConfig(map[string]any{"items": []any{child}})
	child.SetConfig(map[string]any{"inner": grand})

	require.NoError(t, New().Run(context.Background(), parent))

	assert.Equal(t, []string{
		"init:parent", "init:child", "init:grand",
		"ready:grand", "ready:child", "ready:parent",
	}, log)
}

func TestRunProxyDiscovery(t *testing.T) {
	var log []string
	parent := tracked(&log, 0, "parent", nil)
	lazy := component.NewProxy(func(ctx context.Context) (*component.Instance, error) {
		return tracked(&log, 0, "lazy", parent), nil
	})
	parent.SetConfig(map[string]any{"lazy": lazy})

	t.Run("unbuilt proxies stay invisible", func(t *testing.T) {
		require.NoError(t, New().Run(context.Background(), parent))
		assert.Equal(t, []string{"init:parent", "ready:parent"}, log)
	})

	t.Run("a materialized proxy joins discovery", func(t *testing.T) {
		log = nil
		_, err := lazy.Materialize(context.Background())
		require.NoError(t, err)

		fresh := tracked(&log, 1, "fresh", nil)
		fresh.SetConfig(map[string]any{"lazy": lazy})
		require.NoError(t, New().Run(context.Background(), fresh))
		assert.Equal(t, []string{
			"init:fresh", "init:lazy",
			"ready:lazy", "ready:fresh",
		}, log)
	})
}

func TestRunInitFailureRejectsBeforeReadiness(t *testing.T) {
	var log []string
	parent := tracked(&log, 0, "parent", nil)
	bad := component.NewInstance(0, "bad", "bad", parent)
	bad.SetHooks(component.Hooks{
		Init: func(ctx context.Context, in *component.Instance) error {
			return assert.AnError
		},
	})
	parent.SetConfig(map[string]any{"bad": bad})

	err := New().Run(context.Background(), parent)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{"init:parent"}, log, "no readiness pass after a failed init")
}
