package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/vk/loomgo/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Remote is a networked Store speaking a socket.io request/response protocol.
// Every operation emits a "request" event carrying a correlation id and waits
// for the matching "response" event; the server pushes unsolicited "change"
// events which fan out to registered notification callbacks.
//
// The runtime treats the server as the source of truth: Remote holds no local
// cache and makes no sync guarantees.
type Remote struct {
	origin  Origin
	manager *socket.Manager
	io      *socket.Socket

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan response

	watchMu  sync.Mutex
	watchers map[int64]func(Change)
	watchSeq int64
}

type response struct {
	result any
	err    error
}

// RemoteOptions tunes the dial.
type RemoteOptions struct {
	// Namespace is the socket.io namespace. Defaults to "/".
	Namespace string
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// DialRemote connects to a networked store. The context bounds the initial
// connection only; a canceled context after connect does not tear the store
// down.
func DialRemote(ctx context.Context, name, rawURL string, o RemoteOptions) (*Remote, error) {
	logger := ctxlog.FromContext(ctx).With("store", name, "url", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store URL: %w", err)
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	namespace := o.Namespace
	if namespace == "" {
		namespace = "/"
	}

	r := &Remote{
		origin:   Origin{Name: name, URL: rawURL},
		pending:  make(map[int64]chan response),
		watchers: make(map[int64]func(Change)),
	}
	r.manager = socket.NewManager(baseURL, opts)
	r.io = r.manager.Socket(namespace, opts)

	connected := make(chan error, 1)

	r.io.On(types.EventName("connect"), func(...any) {
		logger.Info("Store connected", "sid", r.io.Id())
		select {
		case connected <- nil:
		default:
		}
	})
	r.io.On(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("store connection failed")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connected <- err:
		default:
		}
	})
	r.io.On(types.EventName("response"), func(data ...any) {
		r.routeResponse(data...)
	})
	r.io.On(types.EventName("change"), func(data ...any) {
		r.routeChange(logger, data...)
	})

	r.io.Connect()

	select {
	case <-ctx.Done():
		r.io.Disconnect()
		return nil, fmt.Errorf("timed out while waiting for store connection: %w", ctx.Err())
	case err := <-connected:
		if err != nil {
			r.io.Disconnect()
			return nil, err
		}
	}
	return r, nil
}

// OpaqueConfigValue marks the store as opaque to configuration resolution.
func (r *Remote) OpaqueConfigValue() {}

var _ Store = (*Remote)(nil)
var _ Notifier = (*Remote)(nil)

// Source describes the store's origin.
func (r *Remote) Source() Origin { return r.origin }

// Close disconnects from the server. Pending calls fail.
func (r *Remote) Close() {
	r.mu.Lock()
	for id, ch := range r.pending {
		ch <- response{err: fmt.Errorf("store %q: connection closed", r.origin.Name)}
		delete(r.pending, id)
	}
	r.mu.Unlock()
	r.io.Disconnect()
}

// Get returns the record under a key, or records matching a query.
func (r *Remote) Get(ctx context.Context, keyOrQuery any) (any, error) {
	return r.call(ctx, "get", map[string]any{"selector": keyOrQuery})
}

// Set persists a record and returns the key the server assigned or kept.
func (r *Remote) Set(ctx context.Context, rec Record) (string, error) {
	res, err := r.call(ctx, "set", map[string]any{"record": rec})
	if err != nil {
		return "", err
	}
	key, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("store %q: server returned %T instead of a key", r.origin.Name, res)
	}
	return key, nil
}

// Del removes and returns the record under key.
func (r *Remote) Del(ctx context.Context, key string) (Record, error) {
	res, err := r.call(ctx, "del", map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	rec, ok := res.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("store %q: server returned %T instead of a record", r.origin.Name, res)
	}
	return rec, nil
}

// Count counts records matching query.
func (r *Remote) Count(ctx context.Context, query any) (int, error) {
	res, err := r.call(ctx, "count", map[string]any{"selector": query})
	if err != nil {
		return 0, err
	}
	// JSON numbers arrive as float64.
	switch n := res.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("store %q: server returned %T instead of a count", r.origin.Name, res)
	}
}

// Clear drops every record on the server.
func (r *Remote) Clear(ctx context.Context) error {
	_, err := r.call(ctx, "clear", map[string]any{})
	return err
}

// Notify registers a change callback and returns its unregister function.
func (r *Remote) Notify(fn func(Change)) func() {
	r.watchMu.Lock()
	r.watchSeq++
	id := r.watchSeq
	r.watchers[id] = fn
	r.watchMu.Unlock()

	return func() {
		r.watchMu.Lock()
		delete(r.watchers, id)
		r.watchMu.Unlock()
	}
}

func (r *Remote) call(ctx context.Context, op string, payload map[string]any) (any, error) {
	id := r.nextID.Add(1)
	ch := make(chan response, 1)

	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	payload["id"] = id
	payload["op"] = op
	r.io.Emit("request", payload)

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("store %q: %s: %w", r.origin.Name, op, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("store %q: %s: %w", r.origin.Name, op, res.err)
		}
		return res.result, nil
	}
}

func (r *Remote) routeResponse(data ...any) {
	if len(data) == 0 {
		return
	}
	body, ok := data[0].(map[string]any)
	if !ok {
		return
	}
	id, ok := numericID(body["id"])
	if !ok {
		return
	}

	res := response{result: body["result"]}
	if msg, ok := body["error"].(string); ok && msg != "" {
		res.err = fmt.Errorf("%s", msg)
	}

	r.mu.Lock()
	ch, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (r *Remote) routeChange(logger interface{ Debug(string, ...any) }, data ...any) {
	if len(data) == 0 {
		return
	}
	body, ok := data[0].(map[string]any)
	if !ok {
		logger.Debug("Discarding malformed change notification", "payload", data[0])
		return
	}
	ch := Change{}
	ch.Op, _ = body["op"].(string)
	ch.Key, _ = body["key"].(string)
	ch.Record, _ = body["record"].(map[string]any)

	r.watchMu.Lock()
	fns := make([]func(Change), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.watchMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

func numericID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
