package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/loomgo/component"
	"github.com/vk/loomgo/config"
	"github.com/vk/loomgo/loader"
	"github.com/vk/loomgo/store"
)

type fakeOps struct {
	mu         sync.Mutex
	registered []any
	built      []map[string]any
	deferred   int
	started    int
	opened     []any
	stores     map[string]store.Store

	buildErr error
}

func newFakeOps() *fakeOps {
	return &fakeOps{stores: make(map[string]store.Store)}
}

func (f *fakeOps) RegisterComponent(ctx context.Context, def any, override map[string]any) (*component.Definition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, def)
	if d, ok := def.(*component.Definition); ok {
		return d, nil
	}
	return &component.Definition{Name: fmt.Sprint(def), Index: fmt.Sprint(def)}, nil
}

func (f *fakeOps) BuildInstance(ctx context.Context, def any, cfg map[string]any, parent *component.Instance) (*component.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.built = append(f.built, cfg)
	return component.NewInstance(int64(len(f.built)-1), "widget-0", "widget", parent), nil
}

func (f *fakeOps) DeferInstance(ctx context.Context, def any, cfg map[string]any, parent *component.Instance) (*component.Proxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred++
	return component.NewProxy(func(ctx context.Context) (*component.Instance, error) {
		return component.NewInstance(0, "widget-0", "widget", parent), nil
	}), nil
}

func (f *fakeOps) StartInstance(ctx context.Context, def any, cfg map[string]any, parent *component.Instance) (*component.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	inst := component.NewInstance(0, "widget-0", "widget", parent)
	inst.RequestStart()
	return inst, nil
}

func (f *fakeOps) OpenStore(ctx context.Context, ref any) (store.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, ref)
	name, ok := ref.(string)
	if !ok {
		return nil, fmt.Errorf("cannot open store from %T", ref)
	}
	st, ok := f.stores[name]
	if !ok {
		st = store.NewMemory(name)
		f.stores[name] = st
	}
	return st, nil
}

func echoLoader() *loader.Loader {
	return loader.New(loader.WithStrategy(loader.TypeData, func(ctx context.Context, req *loader.Request) (any, error) {
		return "data:" + req.URL, nil
	}))
}

func TestTreePassesLeavesAndOpaques(t *testing.T) {
	r := New(echoLoader(), newFakeOps())
	ctx := context.Background()

	inst := component.NewInstance(0, "widget-0", "widget", nil)
	in := map[string]any{
		"title": "hello",
		"count": 3,
		"self":  inst,
	}

	out, err := r.Tree(ctx, in, nil)
	require.NoError(t, err)

	got := out.(map[string]any)
	assert.Equal(t, "hello", got["title"])
	assert.Equal(t, 3, got["count"])
	assert.Same(t, inst, got["self"], "opaque values pass through untouched")
}

func TestTreeBuildsFreshStructure(t *testing.T) {
	r := New(echoLoader(), newFakeOps())
	ctx := context.Background()

	in := map[string]any{
		"nested": map[string]any{"src": []any{config.TagLoad, "a.json"}},
	}

	out, err := r.Tree(ctx, in, nil)
	require.NoError(t, err)

	got := out.(map[string]any)
	assert.Equal(t, "data:a.json", got["nested"].(map[string]any)["src"])
	assert.Equal(t, []any{config.TagLoad, "a.json"}, in["nested"].(map[string]any)["src"],
		"the input structure is never mutated")
}

func TestTreeSkipKeySuppressesSubtree(t *testing.T) {
	r := New(echoLoader(), newFakeOps())
	ctx := context.Background()

	desc := []any{config.TagLoad, "a.json"}
	in := map[string]any{
		config.SkipKey: map[string]any{"src": desc},
	}

	out, err := r.Tree(ctx, in, nil)
	require.NoError(t, err)

	kept := out.(map[string]any)[config.SkipKey].(map[string]any)["src"]
	assert.Equal(t, desc, kept, "the skipped subtree keeps its descriptors verbatim")
}

func TestDescriptorLoad(t *testing.T) {
	r := New(echoLoader(), newFakeOps())
	ctx := context.Background()

	out, err := r.Tree(ctx, []any{config.TagLoad, "a.json"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "data:a.json", out, "a single resource unwraps to its value")

	out, err = r.Tree(ctx, []any{config.TagLoad, "a.json", "b.json"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"data:a.json", "data:b.json"}, out)
}

func TestDescriptorComposition(t *testing.T) {
	ops := newFakeOps()
	r := New(echoLoader(), ops)
	ctx := context.Background()

	def := &component.Definition{Name: "widget", Index: "widget"}
	out, err := r.Tree(ctx, []any{config.TagInstance, []any{config.TagComponent, def}, map[string]any{"n": 1}}, nil)
	require.NoError(t, err)

	_, ok := out.(*component.Instance)
	require.True(t, ok)
	require.Len(t, ops.registered, 1)
	assert.Same(t, def, ops.registered[0], "the inner descriptor resolves before the outer dispatches")
	require.Len(t, ops.built, 1)
	assert.Equal(t, map[string]any{"n": 1}, ops.built[0])
}

func TestDescriptorProxyAndStart(t *testing.T) {
	ops := newFakeOps()
	r := New(echoLoader(), ops)
	ctx := context.Background()

	out, err := r.Tree(ctx, []any{config.TagProxy, "widget"}, nil)
	require.NoError(t, err)
	_, ok := out.(*component.Proxy)
	assert.True(t, ok)
	assert.Equal(t, 1, ops.deferred)

	out, err = r.Tree(ctx, []any{config.TagStart, "widget"}, nil)
	require.NoError(t, err)
	_, ok = out.(*component.Instance)
	assert.True(t, ok)
	assert.Equal(t, 1, ops.started)
}

func TestDescriptorStoreOps(t *testing.T) {
	ops := newFakeOps()
	r := New(echoLoader(), ops)
	ctx := context.Background()

	out, err := r.Tree(ctx, []any{config.TagStore, "session"}, nil)
	require.NoError(t, err)
	st, ok := out.(store.Store)
	require.True(t, ok)

	key, err := r.Tree(ctx, []any{config.TagSet, st, map[string]any{"user": "ada"}}, nil)
	require.NoError(t, err)

	rec, err := r.Tree(ctx, []any{config.TagGet, st, key}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ada", rec.(store.Record)["user"])

	_, err = r.Tree(ctx, []any{config.TagDel, st, key}, nil)
	require.NoError(t, err)
	_, err = st.Get(ctx, key.(string))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDescriptorStoreOpsResolveNamedStore(t *testing.T) {
	ops := newFakeOps()
	r := New(echoLoader(), ops)
	ctx := context.Background()

	key, err := r.Tree(ctx, []any{config.TagSet, "session", map[string]any{"user": "ada"}}, nil)
	require.NoError(t, err)

	rec, err := r.Tree(ctx, []any{config.TagGet, "session", key}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ada", rec.(store.Record)["user"])
	assert.Equal(t, []any{"session", "session"}, ops.opened,
		"a string store reference is opened through the runtime")
}

func TestTreeWaitsForAllSiblings(t *testing.T) {
	ops := newFakeOps()
	ops.buildErr = errors.New("build rejected")

	var slowDone atomic.Bool
	l := loader.New(loader.WithStrategy(loader.TypeData, func(ctx context.Context, req *loader.Request) (any, error) {
		time.Sleep(50 * time.Millisecond)
		slowDone.Store(true)
		return req.URL, nil
	}))
	r := New(l, ops)

	_, err := r.Tree(context.Background(), map[string]any{
		"bad":  []any{config.TagInstance, "widget"},
		"slow": []any{config.TagLoad, "a.json"},
	}, nil)
	require.Error(t, err)
	assert.True(t, slowDone.Load(), "the call settles only after every sibling has")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "$.bad", rerr.Path)
	assert.Equal(t, []any{config.TagInstance, "widget"}, rerr.Value,
		"the failing descriptor rides along as the failure payload")
}

func TestTreeArrayWithUnknownHeadStaysData(t *testing.T) {
	r := New(echoLoader(), newFakeOps())

	out, err := r.Tree(context.Background(), []any{"spawn", "widget"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"spawn", "widget"}, out, "only the tag vocabulary makes a descriptor")
}

func TestDescriptorUnknownTag(t *testing.T) {
	r := New(echoLoader(), newFakeOps())

	_, err := r.Descriptor(context.Background(), []any{"spawn", "widget"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn")
}
