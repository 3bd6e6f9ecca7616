package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/vk/loomgo/builder"
	"github.com/vk/loomgo/component"
	"github.com/vk/loomgo/internal/ctxlog"
	"github.com/vk/loomgo/lifecycle"
	"github.com/vk/loomgo/loader"
	"github.com/vk/loomgo/registry"
	"github.com/vk/loomgo/resolver"
	"github.com/vk/loomgo/store"
	"github.com/vk/loomgo/surface"
)

// DefaultVersion labels an engine constructed without an explicit version.
const DefaultVersion = "1.0"

// Engine is the runtime facade: it owns the component registry, resource
// loader, dependency resolver, instance builder, lifecycle coordinator and
// the named store table for one version label. It implements the resolver's
// runtime operations, closing the resolve/build mutual recursion.
type Engine struct {
	logger      *slog.Logger
	version     string
	registry    *registry.Registry
	loader      *loader.Loader
	resolver    *resolver.Resolver
	builder     *builder.Builder
	coordinator *lifecycle.Coordinator
	doc         *surface.Document
	versions    *Versions

	mu     sync.Mutex
	stores map[string]store.Store
}

// Option configures a new engine.
type Option func(*settings)

type settings struct {
	logger     *slog.Logger
	logLevel   slog.Level
	logFormat  string
	logOut     io.Writer
	version    string
	doc        *surface.Document
	host       surface.ScriptHost
	baseURL    string
	timeout    time.Duration
	versions   *Versions
	loaderOpts []loader.Option
}

// WithLogger installs a prebuilt logger, bypassing WithLogLevel/WithLogFormat.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithLogLevel sets the level for the engine's own logger. Defaults to
// slog.LevelInfo.
func WithLogLevel(level slog.Level) Option {
	return func(s *settings) { s.logLevel = level }
}

// WithLogFormat selects the engine logger's output format: text or json.
func WithLogFormat(format string) Option {
	return func(s *settings) { s.logFormat = format }
}

// WithLogOutput redirects the engine's own logger.
func WithLogOutput(w io.Writer) Option {
	return func(s *settings) { s.logOut = w }
}

// WithVersion sets the engine's version label.
func WithVersion(v string) Option {
	return func(s *settings) { s.version = v }
}

// WithDocument installs an existing surface document instead of a fresh one.
func WithDocument(doc *surface.Document) Option {
	return func(s *settings) { s.doc = doc }
}

// WithScriptHost installs the script evaluation host used by script and
// module resources.
func WithScriptHost(host surface.ScriptHost) Option {
	return func(s *settings) { s.host = host }
}

// WithBaseURL sets the base for relative resource URLs.
func WithBaseURL(base string) Option {
	return func(s *settings) { s.baseURL = base }
}

// WithLoadTimeout sets the loader's per-call timeout window.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithVersions attaches a shared version table so components declaring other
// runtime versions can be delegated.
func WithVersions(v *Versions) Option {
	return func(s *settings) { s.versions = v }
}

// WithLoaderOptions forwards extra options to the loader, such as custom
// strategies or a preconfigured client.
func WithLoaderOptions(opts ...loader.Option) Option {
	return func(s *settings) { s.loaderOpts = append(s.loaderOpts, opts...) }
}

// New constructs an engine.
func New(opts ...Option) *Engine {
	s := &settings{logOut: os.Stderr, version: DefaultVersion}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = newLogger(s.logLevel, s.logFormat, s.logOut)
	}
	if s.doc == nil {
		s.doc = surface.NewDocument()
	}

	e := &Engine{
		logger:   s.logger,
		version:  s.version,
		doc:      s.doc,
		versions: s.versions,
		stores:   make(map[string]store.Store),
	}

	loaderOpts := []loader.Option{
		loader.WithDocument(s.doc),
		loader.WithTimeout(s.timeout),
	}
	if s.host != nil {
		loaderOpts = append(loaderOpts, loader.WithScriptHost(s.host))
	}
	if s.baseURL != "" {
		loaderOpts = append(loaderOpts, loader.WithBaseURL(s.baseURL))
	}
	loaderOpts = append(loaderOpts, s.loaderOpts...)
	e.loader = loader.New(loaderOpts...)

	e.registry = registry.New(s.version)
	e.registry.SetDelegate(e.delegateRegistration)
	e.registry.SetBuildDelegate(func(ctx context.Context, def *component.Definition, cfg map[string]any, start bool) (*component.Instance, error) {
		return e.builder.Build(e.ctx(ctx), def, cfg, nil, start)
	})

	e.resolver = resolver.New(e.loader, e)
	e.coordinator = lifecycle.New()
	e.builder = builder.New(e, e.resolver, e.coordinator, s.doc)

	if e.versions != nil {
		e.versions.install(s.version, e)
	}
	return e
}

// Version returns the engine's version label.
func (e *Engine) Version() string { return e.version }

// Document returns the engine's surface document.
func (e *Engine) Document() *surface.Document { return e.doc }

// Close releases the loader's transport resources and closes every remote
// store the engine dialed.
func (e *Engine) Close() {
	e.loader.Close()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.stores {
		if r, ok := st.(*store.Remote); ok {
			r.Close()
		}
	}
}

// ctx ensures the engine's logger rides along on every operation.
func (e *Engine) ctx(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, e.logger)
}

// Load fetches resources through the engine's loader.
func (e *Engine) Load(ctx context.Context, entries ...any) (any, error) {
	return e.loader.Load(e.ctx(ctx), entries...)
}

// Resolve resolves every dependency descriptor inside v and returns the
// fresh resolved structure.
func (e *Engine) Resolve(ctx context.Context, v any) (any, error) {
	return e.resolver.Tree(e.ctx(ctx), v, nil)
}

// Register registers a component definition, or resolves a locator to a
// registered one. The returned definition is a defensive copy carrying bound
// Build and Launch operations.
func (e *Engine) Register(ctx context.Context, definitionOrLocator any, override map[string]any) (*component.Definition, error) {
	return e.RegisterComponent(ctx, definitionOrLocator, override)
}

// Build constructs a top-level instance of the component and runs its
// lifecycle before returning.
func (e *Engine) Build(ctx context.Context, definitionOrLocator any, cfg map[string]any) (*component.Instance, error) {
	return e.BuildInstance(ctx, definitionOrLocator, cfg, nil)
}

// Start builds a top-level instance flagged for a deferred start; the start
// capability fires during the lifecycle's backward pass.
func (e *Engine) Start(ctx context.Context, definitionOrLocator any, cfg map[string]any) (*component.Instance, error) {
	return e.StartInstance(ctx, definitionOrLocator, cfg, nil)
}

// Bindings returns the declarative tag-to-component table published by
// first-time registrations.
func (e *Engine) Bindings() map[string]string {
	return e.registry.Bindings()
}

// RegisterComponent implements the resolver's registration operation.
func (e *Engine) RegisterComponent(ctx context.Context, definitionOrLocator any, override map[string]any) (*component.Definition, error) {
	return e.registry.Register(e.ctx(ctx), definitionOrLocator, override)
}

// BuildInstance implements the resolver's build operation. A definition
// declaring a different runtime version forwards the whole build to that
// version's engine.
func (e *Engine) BuildInstance(ctx context.Context, definitionOrLocator any, cfg map[string]any, parent *component.Instance) (*component.Instance, error) {
	if other, ok, err := e.delegateBuild(ctx, definitionOrLocator); err != nil {
		return nil, err
	} else if ok {
		return other.BuildInstance(ctx, definitionOrLocator, cfg, parent)
	}
	return e.builder.Build(e.ctx(ctx), definitionOrLocator, cfg, parent, false)
}

// DeferInstance implements the resolver's proxy operation.
func (e *Engine) DeferInstance(ctx context.Context, definitionOrLocator any, cfg map[string]any, parent *component.Instance) (*component.Proxy, error) {
	if other, ok, err := e.delegateBuild(ctx, definitionOrLocator); err != nil {
		return nil, err
	} else if ok {
		return other.DeferInstance(ctx, definitionOrLocator, cfg, parent)
	}
	return e.builder.Defer(definitionOrLocator, cfg, parent, false), nil
}

// StartInstance implements the resolver's build-and-start operation.
func (e *Engine) StartInstance(ctx context.Context, definitionOrLocator any, cfg map[string]any, parent *component.Instance) (*component.Instance, error) {
	if other, ok, err := e.delegateBuild(ctx, definitionOrLocator); err != nil {
		return nil, err
	} else if ok {
		return other.StartInstance(ctx, definitionOrLocator, cfg, parent)
	}
	return e.builder.Build(e.ctx(ctx), definitionOrLocator, cfg, parent, true)
}

// OpenStore implements the resolver's store operation. A string names an
// entry in the engine's store table, created in memory on first use; a
// record with a url dials the networked store; a live store passes through.
func (e *Engine) OpenStore(ctx context.Context, ref any) (store.Store, error) {
	switch origin := ref.(type) {
	case store.Store:
		return origin, nil

	case string:
		e.mu.Lock()
		defer e.mu.Unlock()
		if st, ok := e.stores[origin]; ok {
			return st, nil
		}
		st := store.NewMemory(origin)
		e.stores[origin] = st
		e.logger.Debug("Created in-memory store.", "name", origin)
		return st, nil

	case map[string]any:
		name, _ := origin["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("store origin record is missing its name")
		}
		e.mu.Lock()
		if st, ok := e.stores[name]; ok {
			e.mu.Unlock()
			return st, nil
		}
		e.mu.Unlock()

		rawURL, _ := origin["url"].(string)
		if rawURL == "" {
			return e.OpenStore(ctx, name)
		}
		ns, _ := origin["namespace"].(string)
		insecure, _ := origin["insecure"].(bool)
		st, err := store.DialRemote(e.ctx(ctx), name, rawURL, store.RemoteOptions{
			Namespace:          ns,
			InsecureSkipVerify: insecure,
		})
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if raced, ok := e.stores[name]; ok {
			st.Close()
			return raced, nil
		}
		e.stores[name] = st
		return st, nil

	default:
		return nil, fmt.Errorf("cannot open a store from %T", ref)
	}
}

// RegisterStore installs an external store implementation under a name,
// replacing whatever the table held.
func (e *Engine) RegisterStore(name string, st store.Store) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stores[name] = st
}

// delegateRegistration forwards a registration to the engine owning the
// definition's declared version, creating that engine on demand.
func (e *Engine) delegateRegistration(ctx context.Context, def *component.Definition, override map[string]any) (*component.Definition, error) {
	if e.versions == nil {
		return nil, fmt.Errorf("component %q targets version %q but no version table is attached", def.Name, def.Version)
	}
	other, err := e.versions.Obtain(def.Version)
	if err != nil {
		return nil, err
	}
	return other.RegisterComponent(ctx, def, override)
}

// delegateBuild reports whether the definition targets another version's
// engine and returns that engine. Every definition form can declare a
// version; locators cannot, they only resolve against the local registry.
func (e *Engine) delegateBuild(ctx context.Context, definitionOrLocator any) (*Engine, bool, error) {
	var name, version string
	switch d := definitionOrLocator.(type) {
	case *component.Definition:
		name, version = d.Name, d.Version
	case component.Definition:
		name, version = d.Name, d.Version
	case map[string]any:
		name, _ = d["name"].(string)
		version, _ = d["version"].(string)
	}
	if version == "" || version == e.version {
		return nil, false, nil
	}
	if e.versions == nil {
		return nil, false, fmt.Errorf("component %q targets version %q but no version table is attached", name, version)
	}
	other, err := e.versions.Obtain(version)
	if err != nil {
		return nil, false, err
	}
	return other, true, nil
}
