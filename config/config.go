package config

// Tags recognized as the first element of a dependency descriptor. A value is
// a descriptor iff it is a []any whose first element is one of these strings;
// everything else is plain data.
const (
	TagLoad      = "load"
	TagComponent = "component"
	TagInstance  = "instance"
	TagProxy     = "proxy"
	TagStart     = "start"
	TagStore     = "store"
	TagGet       = "get"
	TagSet       = "set"
	TagDel       = "del"
)

// SkipKey is the reserved record key whose subtree is copied verbatim during
// resolution instead of being walked for descriptors.
const SkipKey = "skipResolve"

// BaseKey is the record key naming a lower-priority configuration layer. The
// instance builder resolves the chain and merges it lowest priority first.
const BaseKey = "base"

// Opaque marks live runtime handles (instances, definitions, stores, engines,
// surface elements) that a resolution walk must never descend into.
type Opaque interface {
	OpaqueConfigValue()
}

// Kind classifies a configuration value for traversal.
type Kind int

const (
	// KindLeaf covers scalars, nil, functions and any type the walker does
	// not descend into.
	KindLeaf Kind = iota
	// KindRecord is a map[string]any.
	KindRecord
	// KindArray is a []any that is not a descriptor.
	KindArray
	// KindDescriptor is a []any whose first element is a known tag.
	KindDescriptor
	// KindOpaque is a live runtime handle.
	KindOpaque
)

var tags = map[string]struct{}{
	TagLoad:      {},
	TagComponent: {},
	TagInstance:  {},
	TagProxy:     {},
	TagStart:     {},
	TagStore:     {},
	TagGet:       {},
	TagSet:       {},
	TagDel:       {},
}

// IsTag reports whether s belongs to the descriptor tag vocabulary.
func IsTag(s string) bool {
	_, ok := tags[s]
	return ok
}

// Descriptor returns v as a dependency descriptor, or false when v is plain
// data.
func Descriptor(v any) ([]any, bool) {
	seq, ok := v.([]any)
	if !ok || len(seq) == 0 {
		return nil, false
	}
	tag, ok := seq[0].(string)
	if !ok || !IsTag(tag) {
		return nil, false
	}
	return seq, true
}

// IsDescriptor reports whether v is a dependency descriptor.
func IsDescriptor(v any) bool {
	_, ok := Descriptor(v)
	return ok
}

// KindOf classifies v. Opaque handles win over every other classification so
// a live instance stored in a slice is never mistaken for data.
func KindOf(v any) Kind {
	if v == nil {
		return KindLeaf
	}
	if _, ok := v.(Opaque); ok {
		return KindOpaque
	}
	switch v.(type) {
	case map[string]any:
		return KindRecord
	case []any:
		if IsDescriptor(v) {
			return KindDescriptor
		}
		return KindArray
	}
	return KindLeaf
}
