package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/loomgo/component"
	"github.com/vk/loomgo/config"
	"github.com/vk/loomgo/loader"
	"github.com/vk/loomgo/store"
	"golang.org/x/sync/errgroup"
)

// Ops is the runtime surface the resolver dispatches descriptors to. The
// engine implements it; keeping it abstract breaks the package cycle the
// resolve-descriptor/build-instance mutual recursion would otherwise force.
type Ops interface {
	RegisterComponent(ctx context.Context, definitionOrLocator any, override map[string]any) (*component.Definition, error)
	BuildInstance(ctx context.Context, definitionOrLocator any, cfg map[string]any, parent *component.Instance) (*component.Instance, error)
	DeferInstance(ctx context.Context, definitionOrLocator any, cfg map[string]any, parent *component.Instance) (*component.Proxy, error)
	StartInstance(ctx context.Context, definitionOrLocator any, cfg map[string]any, parent *component.Instance) (*component.Instance, error)
	OpenStore(ctx context.Context, ref any) (store.Store, error)
}

// Error is a resolution failure. It keeps the failing value in place as the
// failure payload alongside its location in the walked structure.
type Error struct {
	Path  string
	Value any
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver finds tagged dependency descriptors anywhere inside nested
// configuration data and replaces each with its resolved value.
type Resolver struct {
	loader *loader.Loader
	ops    Ops
}

// New creates a resolver over the given loader and runtime operations.
func New(l *loader.Loader, ops Ops) *Resolver {
	return &Resolver{loader: l, ops: ops}
}

// Tree resolves every descriptor in v, recursing into siblings concurrently,
// and returns a fresh resolved structure; v itself is never mutated, so a
// configuration literal can back any number of builds. The call settles only
// once every descendant has settled; on failure it rejects with the first
// error, but only after every other branch has finished.
func (r *Resolver) Tree(ctx context.Context, v any, parent *component.Instance) (any, error) {
	return r.resolve(ctx, "$", v, parent)
}

func (r *Resolver) resolve(ctx context.Context, path string, v any, parent *component.Instance) (any, error) {
	switch config.KindOf(v) {
	case config.KindOpaque, config.KindLeaf:
		return v, nil

	case config.KindDescriptor:
		out, err := r.Descriptor(ctx, v.([]any), parent)
		if err != nil {
			return nil, &Error{Path: path, Value: v, Err: err}
		}
		return out, nil

	case config.KindArray:
		seq := v.([]any)
		out := make([]any, len(seq))
		var g errgroup.Group
		for i, elem := range seq {
			g.Go(func() error {
				res, err := r.resolve(ctx, fmt.Sprintf("%s[%d]", path, i), elem, parent)
				if err != nil {
					return err
				}
				out[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil

	case config.KindRecord:
		rec := v.(map[string]any)
		out := make(map[string]any, len(rec))
		var mu sync.Mutex
		var g errgroup.Group
		for k, val := range rec {
			// The reserved key suppresses resolution of its subtree.
			if k == config.SkipKey {
				mu.Lock()
				out[k] = config.Clone(val)
				mu.Unlock()
				continue
			}
			g.Go(func() error {
				res, err := r.resolve(ctx, path+"."+k, val, parent)
				if err != nil {
					return err
				}
				mu.Lock()
				out[k] = res
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}
	return v, nil
}

// Descriptor resolves one dependency descriptor: clone defensively, consume
// the tag, resolve descriptor-valued arguments first (composition), then
// dispatch. The invoking instance rides along as contextual parent, so a
// load nested in an instance's configuration inherits that instance's
// presentation scope.
func (r *Resolver) Descriptor(ctx context.Context, desc []any, parent *component.Instance) (any, error) {
	cloned := config.CloneSlice(desc)
	if len(cloned) == 0 {
		return nil, fmt.Errorf("empty descriptor")
	}
	tag, _ := cloned[0].(string)
	args := cloned[1:]

	for i, a := range args {
		if inner, ok := config.Descriptor(a); ok {
			resolved, err := r.Descriptor(ctx, inner, parent)
			if err != nil {
				return nil, err
			}
			args[i] = resolved
		}
	}

	switch tag {
	case config.TagLoad:
		if len(args) == 0 {
			return nil, fmt.Errorf("load descriptor carries no resources")
		}
		return r.loader.Load(r.scopedContext(ctx, parent), args...)

	case config.TagComponent:
		if len(args) == 0 {
			return nil, fmt.Errorf("component descriptor carries no definition")
		}
		return r.ops.RegisterComponent(ctx, args[0], recordArg(args, 1))

	case config.TagInstance:
		if len(args) == 0 {
			return nil, fmt.Errorf("instance descriptor carries no definition")
		}
		return r.ops.BuildInstance(ctx, args[0], recordArg(args, 1), parent)

	case config.TagProxy:
		if len(args) == 0 {
			return nil, fmt.Errorf("proxy descriptor carries no definition")
		}
		return r.ops.DeferInstance(ctx, args[0], recordArg(args, 1), parent)

	case config.TagStart:
		if len(args) == 0 {
			return nil, fmt.Errorf("start descriptor carries no definition")
		}
		return r.ops.StartInstance(ctx, args[0], recordArg(args, 1), parent)

	case config.TagStore:
		if len(args) == 0 {
			return nil, fmt.Errorf("store descriptor carries no origin")
		}
		return r.ops.OpenStore(ctx, args[0])

	case config.TagGet:
		st, err := r.storeArg(ctx, args)
		if err != nil {
			return nil, err
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("get descriptor carries no key or query")
		}
		return st.Get(ctx, args[1])

	case config.TagSet:
		st, err := r.storeArg(ctx, args)
		if err != nil {
			return nil, err
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("set descriptor carries no record")
		}
		rec, ok := args[1].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("set descriptor carries %T instead of a record", args[1])
		}
		return st.Set(ctx, rec)

	case config.TagDel:
		st, err := r.storeArg(ctx, args)
		if err != nil {
			return nil, err
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("del descriptor carries no key")
		}
		key, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("del descriptor carries %T instead of a key", args[1])
		}
		return st.Del(ctx, key)
	}

	return nil, fmt.Errorf("unknown descriptor tag %q", tag)
}

// scopedContext attaches the invoking instance's presentation scope so
// resources land inside its encapsulation boundary.
func (r *Resolver) scopedContext(ctx context.Context, parent *component.Instance) context.Context {
	if parent == nil {
		return ctx
	}
	root := parent.Root()
	if root == nil {
		return ctx
	}
	if scope := root.Scope(); scope != nil {
		return loader.WithScope(ctx, scope)
	}
	return loader.WithScope(ctx, root)
}

// storeArg resolves the first descriptor argument into a live store.
func (r *Resolver) storeArg(ctx context.Context, args []any) (store.Store, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("store operation carries no store reference")
	}
	if st, ok := args[0].(store.Store); ok {
		return st, nil
	}
	return r.ops.OpenStore(ctx, args[0])
}

func recordArg(args []any, i int) map[string]any {
	if len(args) <= i {
		return nil
	}
	rec, _ := args[i].(map[string]any)
	return rec
}
