package config

// Clone deep-copies v. Records and arrays are copied structurally; opaque
// handles and leaves are copied by reference. Descriptors are arrays and copy
// the same way, so a cloned configuration can be resolved without mutating
// the literal it came from.
func Clone(v any) any {
	switch KindOf(v) {
	case KindRecord:
		return CloneRecord(v.(map[string]any))
	case KindArray, KindDescriptor:
		return CloneSlice(v.([]any))
	default:
		return v
	}
}

// CloneRecord deep-copies a record. A nil input yields an empty record.
func CloneRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = Clone(v)
	}
	return out
}

// CloneSlice deep-copies an array or descriptor.
func CloneSlice(seq []any) []any {
	out := make([]any, len(seq))
	for i, v := range seq {
		out[i] = Clone(v)
	}
	return out
}

// Merge deep-merges src onto dst, src winning. Records merge recursively;
// every other kind replaces wholesale. dst is mutated and returned; a nil dst
// allocates.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dstRec, dstOK := dst[k].(map[string]any)
		srcRec, srcOK := v.(map[string]any)
		if dstOK && srcOK {
			dst[k] = Merge(dstRec, CloneRecord(srcRec))
			continue
		}
		dst[k] = Clone(v)
	}
	return dst
}
