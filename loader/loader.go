package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/loomgo/internal/ctxlog"
	"github.com/vk/loomgo/surface"
	"golang.org/x/sync/singleflight"
	"resty.dev/v3"
)

// Strategy settles one resource request.
type Strategy func(ctx context.Context, req *Request) (any, error)

// Loader loads heterogeneous external resources under a serial/parallel
// combinator. All methods are safe for concurrent use.
type Loader struct {
	client  *resty.Client
	doc     *surface.Document
	host    surface.ScriptHost
	baseURL string
	timeout time.Duration

	strategies map[string]Strategy

	flight     singleflight.Group
	scriptMu   sync.Mutex
	scriptRefs map[string]int
}

// Option tunes a Loader.
type Option func(*Loader)

// WithTimeout sets the global load timeout. It applies per call: one window
// opens when Load is entered and every resource in the call, including
// serial-chain elements, must settle inside it. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) { l.timeout = d }
}

// WithDocument sets the document whose root scope receives stylesheets when
// no explicit scope is given.
func WithDocument(doc *surface.Document) Option {
	return func(l *Loader) { l.doc = doc }
}

// WithScriptHost installs the collaborator that evaluates fetched scripts.
func WithScriptHost(host surface.ScriptHost) Option {
	return func(l *Loader) { l.host = host }
}

// WithBaseURL resolves relative resource URLs against base.
func WithBaseURL(base string) Option {
	return func(l *Loader) { l.baseURL = strings.TrimRight(base, "/") }
}

// WithClient replaces the HTTP client, primarily for tests.
func WithClient(client *resty.Client) Option {
	return func(l *Loader) { l.client = client }
}

// WithStrategy installs or replaces the strategy for a resource type.
func WithStrategy(resourceType string, s Strategy) Option {
	return func(l *Loader) { l.strategies[resourceType] = s }
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		strategies: make(map[string]Strategy),
		scriptRefs: make(map[string]int),
	}
	l.strategies[TypeData] = l.loadData
	l.strategies[TypeDoc] = l.loadDoc
	l.strategies[TypeMarkup] = l.loadMarkup
	l.strategies[TypeImage] = l.loadImage
	l.strategies[TypeStylesheet] = l.loadStylesheet
	l.strategies[TypeScript] = l.loadScript
	l.strategies[TypeModule] = l.loadModule
	l.strategies[TypeConfig] = l.loadConfig

	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		l.client = resty.New()
	}
	if l.doc == nil {
		l.doc = surface.NewDocument()
	}
	return l
}

// Close releases the underlying HTTP client.
func (l *Loader) Close() {
	l.client.Close()
}

type scopeKey struct{}

// WithScope returns a context carrying the presentation scope resources
// should land in. The dependency resolver installs the invoking instance's
// scope here so nested loads inherit it.
func WithScope(ctx context.Context, el *surface.Element) context.Context {
	return context.WithValue(ctx, scopeKey{}, el)
}

func scopeFromContext(ctx context.Context) *surface.Element {
	el, _ := ctx.Value(scopeKey{}).(*surface.Element)
	return el
}

// entryNode is one parsed slot of the combinator tree.
type entryNode struct {
	req    *Request
	group  []entryNode
	serial bool
	bad    error
}

// parseEntry interprets one slot. Lists alternate meaning with depth: a list
// one level deep runs serially, a list nested inside a serial entry runs in
// parallel, and so on.
func parseEntry(entry any, serial bool) entryNode {
	if seq, ok := entry.([]any); ok {
		node := entryNode{serial: serial, group: make([]entryNode, 0, len(seq))}
		for _, child := range seq {
			node.group = append(node.group, parseEntry(child, !serial))
		}
		return node
	}
	req, err := normalizeRequest(entry)
	if err != nil {
		return entryNode{bad: err}
	}
	return entryNode{req: req}
}

// Load settles every entry and returns the positional results. A single
// entry unwraps to its bare value. On any failure the complete result array
// is still produced, with failures replaced by *Failure markers, and the
// call returns an *Error carrying it.
func (l *Loader) Load(ctx context.Context, entries ...any) (any, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("load called with no resources")
	}

	// The deadline is a broadcast: a timer channel delivers one tick, but
	// every pending leaf has to observe the same expiry, so the timer closes
	// a channel instead.
	var deadline <-chan struct{}
	if l.timeout > 0 {
		expired := make(chan struct{})
		timer := time.AfterFunc(l.timeout, func() { close(expired) })
		defer timer.Stop()
		deadline = expired
	}

	var failed atomic.Bool
	results := make([]any, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		node := parseEntry(entry, true)
		wg.Add(1)
		go func(i int, node entryNode) {
			defer wg.Done()
			results[i] = l.runNode(ctx, node, entries, deadline, &failed)
		}(i, node)
	}
	wg.Wait()

	if failed.Load() {
		return wrapSingleton(results, entries), &Error{Call: entries, Results: results}
	}
	return wrapSingleton(results, entries), nil
}

func wrapSingleton(results []any, entries []any) any {
	if len(entries) == 1 {
		return results[0]
	}
	return results
}

// runNode settles one combinator slot. Serial groups advance one element at
// a time, folding failures into the ordered result without stopping the
// chain; parallel groups launch every element at once.
func (l *Loader) runNode(ctx context.Context, node entryNode, call []any, deadline <-chan struct{}, failed *atomic.Bool) any {
	switch {
	case node.bad != nil:
		failed.Store(true)
		return &Failure{Call: call, Cause: node.bad}
	case node.req != nil:
		return l.runLeaf(ctx, node.req, call, deadline, failed)
	case node.serial:
		out := make([]any, len(node.group))
		for i, child := range node.group {
			out[i] = l.runNode(ctx, child, call, deadline, failed)
		}
		return out
	default:
		out := make([]any, len(node.group))
		var wg sync.WaitGroup
		for i, child := range node.group {
			wg.Add(1)
			go func(i int, child entryNode) {
				defer wg.Done()
				out[i] = l.runNode(ctx, child, call, deadline, failed)
			}(i, child)
		}
		wg.Wait()
		return out
	}
}

type outcome struct {
	value any
	err   error
}

// runLeaf dispatches a single request to its strategy and guards it with the
// call's shared deadline. A resource that settles after timing out is logged
// and dropped; it never settles the call a second time.
func (l *Loader) runLeaf(ctx context.Context, req *Request, call []any, deadline <-chan struct{}, failed *atomic.Bool) any {
	logger := ctxlog.FromContext(ctx)

	resourceType := req.Type
	if resourceType == "" {
		resourceType = TypeForURL(req.URL)
	}
	strat, ok := l.strategies[resourceType]
	if !ok {
		failed.Store(true)
		return &Failure{Call: call, Request: req, Cause: fmt.Errorf("no strategy for resource type %q", resourceType)}
	}
	if req.Scope == nil {
		req.Scope = scopeFromContext(ctx)
	}

	ch := make(chan outcome, 1)
	go func() {
		v, err := strat(ctx, req)
		ch <- outcome{value: v, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			failed.Store(true)
			return &Failure{Call: call, Request: req, Cause: o.err}
		}
		return o.value
	case <-deadline:
		failed.Store(true)
		go func() {
			o := <-ch
			logger.Debug("Discarding late resource settlement.", "url", req.URL, "error", o.err)
		}()
		return &Failure{Call: call, Request: req, Cause: ErrTimeout}
	case <-ctx.Done():
		failed.Store(true)
		go func() {
			o := <-ch
			logger.Debug("Discarding resource settled after cancellation.", "url", req.URL, "error", o.err)
		}()
		return &Failure{Call: call, Request: req, Cause: ctx.Err()}
	}
}
