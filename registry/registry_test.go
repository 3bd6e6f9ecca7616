package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/loomgo/component"
)

func noopBlueprint(inst *component.Instance) (component.Hooks, error) {
	return component.Hooks{}, nil
}

func TestIndex(t *testing.T) {
	assert.Equal(t, "widget", Index("widget", ""))
	assert.Equal(t, "widget-1-2-0", Index("widget", "1.2.0"))
}

func TestRegisterIdempotence(t *testing.T) {
	r := New("1.0")
	ctx := context.Background()

	def := &component.Definition{
		Name:          "widget",
		DefaultConfig: map[string]any{"color": "red"},
		Blueprint:     noopBlueprint,
	}

	first, err := r.Register(ctx, def, nil)
	require.NoError(t, err)
	second, err := r.Register(ctx, def, nil)
	require.NoError(t, err)

	// Independent copies with the same identity.
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Index, second.Index)
	assert.Equal(t, "widget", first.Index)

	first.DefaultConfig["color"] = "blue"
	assert.Equal(t, "red", second.DefaultConfig["color"], "copies do not alias default config")

	// The instance counter is shared: ids strictly increase across copies.
	a := first.NextID()
	b := second.NextID()
	c := first.NextID()
	assert.Equal(t, int64(0), a)
	assert.Equal(t, int64(1), b)
	assert.Equal(t, int64(2), c)
}

func TestRegisterSetupRunsOnce(t *testing.T) {
	r := New("1.0")
	ctx := context.Background()
	setups := 0

	def := &component.Definition{
		Name:      "widget",
		Blueprint: noopBlueprint,
		Setup: func(ctx context.Context, d *component.Definition) error {
			setups++
			return nil
		},
	}

	for i := 0; i < 3; i++ {
		got, err := r.Register(ctx, def, nil)
		require.NoError(t, err)
		assert.Nil(t, got.Setup, "setup hook is discarded after first registration")
	}
	assert.Equal(t, 1, setups)
}

func TestRegisterLocator(t *testing.T) {
	r := New("1.0")
	ctx := context.Background()

	_, err := r.Register(ctx, &component.Definition{Name: "widget", Blueprint: noopBlueprint}, nil)
	require.NoError(t, err)

	got, err := r.Register(ctx, "widget", nil)
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Index)

	_, err = r.Register(ctx, "missing", nil)
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterHardFailures(t *testing.T) {
	r := New("1.0")
	ctx := context.Background()

	_, err := r.Register(ctx, &component.Definition{Name: "broken"}, nil)
	require.ErrorIs(t, err, ErrNoBlueprint)

	_, err = r.Register(ctx, 42, nil)
	require.Error(t, err)
}

func TestRegisterRecordDefinition(t *testing.T) {
	r := New("1.0")
	ctx := context.Background()

	got, err := r.Register(ctx, map[string]any{
		"name":          "widget",
		"defaultConfig": map[string]any{"n": 1},
		"blueprint":     component.Blueprint(noopBlueprint),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Index)
	assert.Equal(t, 1, got.DefaultConfig["n"])
}

func TestRegisterVersionDelegation(t *testing.T) {
	r := New("1.0")
	ctx := context.Background()

	var delegated *component.Definition
	other := New("2.0")
	other.SetBuildDelegate(nil)
	r.SetDelegate(func(ctx context.Context, def *component.Definition, override map[string]any) (*component.Definition, error) {
		delegated = def
		return other.Register(ctx, def, override)
	})

	got, err := r.Register(ctx, &component.Definition{Name: "widget", Version: "2.0", Blueprint: noopBlueprint}, nil)
	require.NoError(t, err)
	require.NotNil(t, delegated)
	assert.Equal(t, "widget-2-0", got.Index, "registration lands in the delegated version")

	_, ok := r.Lookup("widget")
	assert.False(t, ok, "the delegating registry keeps nothing")
	_, ok = other.Lookup("widget-2-0")
	assert.True(t, ok)
}

func TestRegisterOverrideMergesIntoCopy(t *testing.T) {
	r := New("1.0")
	ctx := context.Background()

	_, err := r.Register(ctx, &component.Definition{
		Name:          "widget",
		DefaultConfig: map[string]any{"a": 1, "b": 1},
		Blueprint:     noopBlueprint,
	}, nil)
	require.NoError(t, err)

	got, err := r.Register(ctx, "widget", map[string]any{"b": 2})
	require.NoError(t, err)
	assert.Equal(t, 1, got.DefaultConfig["a"])
	assert.Equal(t, 2, got.DefaultConfig["b"])

	cached, ok := r.Lookup("widget")
	require.True(t, ok)
	assert.Equal(t, 1, cached.DefaultConfig["b"], "override never touches the registered definition")
}

func TestRegisterBindings(t *testing.T) {
	r := New("1.0")
	ctx := context.Background()

	_, err := r.Register(ctx, &component.Definition{Name: "NavBar", Blueprint: noopBlueprint}, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"x-navbar": "NavBar"}, r.Bindings())
}

func TestRegisterConcurrentSameIndex(t *testing.T) {
	r := New("1.0")
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var setups atomic.Int64
	defs := make([]*component.Definition, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			got, err := r.Register(ctx, &component.Definition{
				Name:      "widget",
				Blueprint: noopBlueprint,
				Setup: func(ctx context.Context, d *component.Definition) error {
					setups.Add(1)
					return nil
				},
			}, nil)
			assert.NoError(t, err)
			defs[i] = got
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), setups.Load(), "concurrent first registrations share one setup run")

	seen := make(map[int64]bool)
	for _, def := range defs {
		id := def.NextID()
		assert.False(t, seen[id], "ids must not repeat across copies")
		seen[id] = true
	}
}
