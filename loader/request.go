package loader

import (
	"fmt"
	"path"
	"strings"

	"github.com/vk/loomgo/surface"
)

// Resource types the loader knows how to settle.
const (
	TypeStylesheet = "stylesheet"
	TypeImage      = "image"
	TypeScript     = "script"
	TypeModule     = "module"
	TypeData       = "data"
	TypeMarkup     = "markup"
	TypeDoc        = "doc"
	TypeConfig     = "config"
)

// Request describes one external resource. Requests are defensively cloned
// per call and discarded after settlement.
type Request struct {
	// URL is the resource location. Required.
	URL string
	// Type selects the loading strategy explicitly. When empty the strategy
	// is inferred from the URL's file suffix; an unrecognized suffix loads
	// as a structured-data exchange.
	Type string
	// Method is the exchange verb (GET, POST, PUT, DELETE). Defaults to GET.
	Method string
	// Scope is the presentation scope the resource lands in. Stylesheets
	// insert here. Usually inherited from the invoking instance.
	Scope *surface.Element
	// Attrs are strategy-specific attributes (stylesheet link attributes,
	// module member extraction, ...).
	Attrs map[string]string
	// Params are query or body parameters for exchanges.
	Params map[string]string
	// Headers are extra request headers.
	Headers map[string]string
	// Init carries fetch-style extras; a "body" entry becomes the request
	// body verbatim.
	Init map[string]any
	// NoCache appends a cache-busting query parameter.
	NoCache bool
}

func (r *Request) clone() *Request {
	cp := *r
	cp.Attrs = cloneStrings(r.Attrs)
	cp.Params = cloneStrings(r.Params)
	cp.Headers = cloneStrings(r.Headers)
	if r.Init != nil {
		cp.Init = make(map[string]any, len(r.Init))
		for k, v := range r.Init {
			cp.Init[k] = v
		}
	}
	return &cp
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var suffixTypes = map[string]string{
	".css":  TypeStylesheet,
	".png":  TypeImage,
	".jpg":  TypeImage,
	".jpeg": TypeImage,
	".gif":  TypeImage,
	".svg":  TypeImage,
	".webp": TypeImage,
	".js":   TypeScript,
	".mjs":  TypeModule,
	".html": TypeMarkup,
	".htm":  TypeMarkup,
	".tmpl": TypeMarkup,
	".txt":  TypeDoc,
	".md":   TypeDoc,
	".hcl":  TypeConfig,
	".json": TypeData,
}

// TypeForURL infers the loading strategy from a URL's file suffix. Unknown
// suffixes load as structured-data exchanges; that default is deliberate
// policy, not a fallback of last resort.
func TypeForURL(u string) string {
	clean := u
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	if t, ok := suffixTypes[strings.ToLower(path.Ext(clean))]; ok {
		return t
	}
	return TypeData
}

// normalizeRequest coerces one leaf entry (URL string, *Request or record)
// into a cloned Request.
func normalizeRequest(entry any) (*Request, error) {
	switch e := entry.(type) {
	case string:
		return &Request{URL: e}, nil
	case *Request:
		return e.clone(), nil
	case Request:
		return e.clone(), nil
	case map[string]any:
		return requestFromRecord(e)
	default:
		return nil, fmt.Errorf("unsupported resource entry %T", entry)
	}
}

func requestFromRecord(rec map[string]any) (*Request, error) {
	req := &Request{}
	var ok bool
	if req.URL, ok = rec["url"].(string); !ok || req.URL == "" {
		return nil, fmt.Errorf("resource record is missing its url")
	}
	req.Type, _ = rec["type"].(string)
	req.Method, _ = rec["method"].(string)
	req.Scope, _ = rec["context"].(*surface.Element)
	req.Attrs = stringMap(rec["attrs"])
	req.Params = stringMap(rec["params"])
	req.Headers = stringMap(rec["headers"])
	req.Init, _ = rec["init"].(map[string]any)
	req.NoCache, _ = rec["noCache"].(bool)
	return req.clone(), nil
}

func stringMap(v any) map[string]string {
	rec, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(rec))
	for k, val := range rec {
		out[k] = fmt.Sprintf("%v", val)
	}
	return out
}
