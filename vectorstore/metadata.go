package vectorstore

import "reflect"

// CloneMetadata returns a shallow copy of md, dropping the given keys.
// A nil map yields an empty, non-nil map.
func CloneMetadata(md map[string]any, drop ...string) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	for _, k := range drop {
		delete(out, k)
	}
	return out
}

// Matches reports whether md satisfies every equality condition in filter.
func Matches(md map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := md[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
