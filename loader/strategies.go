package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"text/template"
	"time"

	"resty.dev/v3"
)

// fetch performs the HTTP exchange for a request and returns the body and
// content type.
func (l *Loader) fetch(ctx context.Context, req *Request) ([]byte, string, error) {
	url := l.resolveURL(req.URL)

	r := l.client.R().SetContext(ctx)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if req.NoCache {
		r.SetQueryParam("_", strconv.FormatInt(time.Now().UnixNano(), 10))
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	if body, ok := req.Init["body"]; ok {
		r.SetBody(body)
	} else if len(req.Params) > 0 && method != http.MethodGet {
		r.SetBody(req.Params)
	}
	if len(req.Params) > 0 && method == http.MethodGet {
		r.SetQueryParams(req.Params)
	}

	var (
		res *resty.Response
		err error
	)
	switch method {
	case http.MethodGet:
		res, err = r.Get(url)
	case http.MethodPost:
		res, err = r.Post(url)
	case http.MethodPut:
		res, err = r.Put(url)
	case http.MethodDelete:
		res, err = r.Delete(url)
	default:
		return nil, "", fmt.Errorf("unsupported exchange method %q", req.Method)
	}
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", url, err)
	}
	if res.IsError() {
		return nil, "", fmt.Errorf("fetching %s: unexpected status %d", url, res.StatusCode())
	}
	return res.Bytes(), res.Header().Get("Content-Type"), nil
}

func (l *Loader) resolveURL(u string) string {
	if l.baseURL == "" || strings.Contains(u, "://") {
		return u
	}
	return l.baseURL + "/" + strings.TrimLeft(u, "/")
}

// loadData is the structured-data exchange strategy. JSON bodies decode into
// native values; anything else settles as a string.
func (l *Loader) loadData(ctx context.Context, req *Request) (any, error) {
	body, contentType, err := l.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.Contains(contentType, "json") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var out any
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", req.URL, err)
		}
		return out, nil
	}
	return string(body), nil
}

// loadDoc retrieves a generic document as text.
func (l *Loader) loadDoc(ctx context.Context, req *Request) (any, error) {
	body, _, err := l.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return string(body), nil
}

// TemplateSet is the structured form of a markup resource that declares
// multiple named templates.
type TemplateSet map[string]*template.Template

// loadMarkup retrieves markup. When the body declares named templates the
// result is a TemplateSet keyed by name; otherwise the raw markup string.
func (l *Loader) loadMarkup(ctx context.Context, req *Request) (any, error) {
	body, _, err := l.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	src := string(body)

	root := path.Base(req.URL)
	t, err := template.New(root).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing markup %s: %w", req.URL, err)
	}

	set := TemplateSet{}
	for _, named := range t.Templates() {
		if named.Name() != root && named.Tree != nil {
			set[named.Name()] = named
		}
	}
	if len(set) == 0 {
		return src, nil
	}
	return set, nil
}

// Image is a preloaded image resource.
type Image struct {
	URL         string
	ContentType string
	Data        []byte
}

// loadImage preloads an image's bytes.
func (l *Loader) loadImage(ctx context.Context, req *Request) (any, error) {
	body, contentType, err := l.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Image{URL: req.URL, ContentType: contentType, Data: body}, nil
}

// Stylesheet records a link-based stylesheet insertion.
type Stylesheet struct {
	URL      string
	Inserted bool
}

// loadStylesheet inserts a stylesheet link into the target scope. An
// identical link already present short-circuits to success without another
// insertion.
func (l *Loader) loadStylesheet(ctx context.Context, req *Request) (any, error) {
	scope := req.Scope
	if scope == nil {
		scope = l.doc.Root()
	}
	href := l.resolveURL(req.URL)
	inserted := scope.AddStylesheet(href, req.Attrs)
	return &Stylesheet{URL: href, Inserted: inserted}, nil
}

// payloadName derives the published payload key from a resource URL: the
// filename without its suffix.
func payloadName(u string) string {
	base := path.Base(u)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// loadScript fetches a script, hands it to the script host and settles with
// the named payload the host publishes. Concurrent loads of the same file
// share one evaluation, and the published payload is dropped once the last
// concurrent consumer has taken its value.
func (l *Loader) loadScript(ctx context.Context, req *Request) (any, error) {
	if l.host == nil {
		return nil, fmt.Errorf("loading %s: no script host configured", req.URL)
	}
	url := l.resolveURL(req.URL)
	name := payloadName(url)

	l.scriptMu.Lock()
	l.scriptRefs[url]++
	l.scriptMu.Unlock()
	defer func() {
		l.scriptMu.Lock()
		l.scriptRefs[url]--
		last := l.scriptRefs[url] == 0
		if last {
			delete(l.scriptRefs, url)
		}
		l.scriptMu.Unlock()
		if last {
			l.host.Drop(name)
		}
	}()

	payload, err, _ := l.flight.Do(url, func() (any, error) {
		body, _, err := l.fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return l.host.Eval(ctx, name, body)
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", req.URL, err)
	}
	return payload, nil
}

// loadModule imports a module through the script host and optionally
// extracts one or more named members. The extraction list rides in the
// request's "extract" attribute, comma separated.
func (l *Loader) loadModule(ctx context.Context, req *Request) (any, error) {
	if l.host == nil {
		return nil, fmt.Errorf("importing %s: no script host configured", req.URL)
	}
	body, _, err := l.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, err := l.host.Eval(ctx, payloadName(req.URL), body)
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", req.URL, err)
	}

	extract := strings.TrimSpace(req.Attrs["extract"])
	if extract == "" {
		return payload, nil
	}

	members, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("importing %s: module payload %T has no members to extract", req.URL, payload)
	}
	names := strings.Split(extract, ",")
	if len(names) == 1 {
		member, ok := members[names[0]]
		if !ok {
			return nil, fmt.Errorf("importing %s: module has no member %q", req.URL, names[0])
		}
		return member, nil
	}
	out := make(map[string]any, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		member, ok := members[n]
		if !ok {
			return nil, fmt.Errorf("importing %s: module has no member %q", req.URL, n)
		}
		out[n] = member
	}
	return out, nil
}
