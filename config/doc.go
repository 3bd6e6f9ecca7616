// Package config defines the value model shared by the whole runtime.
//
// Configuration is plain nested data: records (map[string]any), arrays
// ([]any) and scalar leaves. A dependency descriptor is an array whose first
// element is a tag from the fixed vocabulary; it is pure data until a
// resolution walk encounters it. Live runtime handles implement the Opaque
// marker and are never descended into, and the reserved SkipKey suppresses
// resolution of one subtree.
//
// KindOf gives every walker the same total, exhaustive classification so no
// two packages disagree about what a value is.
package config
