package recipe

import "strings"

// Path addressing over nested mappings via dot-separated paths. Segments are
// plain keys only; sequences are never addressed by index.

// Get returns the value at a dot path. The boolean is false when any segment
// is absent. A non-mapping intermediate segment is a structural conflict.
func Get(doc Document, path string) (Value, bool, error) {
	segments := strings.Split(path, ".")
	current := doc
	for i, seg := range segments[:len(segments)-1] {
		v, ok := current[seg]
		if !ok {
			return Value{}, false, nil
		}
		if v.Kind() != KindMapping {
			return Value{}, false, NewStructuralConflictError(
				strings.Join(segments[:i+1], "."), v.Kind())
		}
		current = v.Mapping()
	}
	v, ok := current[segments[len(segments)-1]]
	return v, ok, nil
}

// Set writes the value at a dot path, creating intermediate mappings as
// needed and overwriting the final segment. A non-mapping intermediate
// segment is a structural conflict.
func Set(doc Document, path string, value Value) error {
	segments := strings.Split(path, ".")
	current := doc
	for i, seg := range segments[:len(segments)-1] {
		v, ok := current[seg]
		if !ok {
			next := make(Document)
			current[seg] = Map(next)
			current = next
			continue
		}
		if v.Kind() != KindMapping {
			return NewStructuralConflictError(
				strings.Join(segments[:i+1], "."), v.Kind())
		}
		current = v.Mapping()
	}
	current[segments[len(segments)-1]] = value
	return nil
}

// Delete removes the final segment of a dot path if present. Deleting an
// absent path is a no-op. A non-mapping intermediate segment is a structural
// conflict.
func Delete(doc Document, path string) error {
	segments := strings.Split(path, ".")
	current := doc
	for i, seg := range segments[:len(segments)-1] {
		v, ok := current[seg]
		if !ok {
			return nil
		}
		if v.Kind() != KindMapping {
			return NewStructuralConflictError(
				strings.Join(segments[:i+1], "."), v.Kind())
		}
		current = v.Mapping()
	}
	delete(current, segments[len(segments)-1])
	return nil
}
