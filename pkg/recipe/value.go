package recipe

import (
	"fmt"
	"reflect"
)

// Kind identifies the shape of a configuration value. Merge and path
// operations dispatch on the kind rather than on runtime type inspection.
type Kind uint8

const (
	// KindScalar is a leaf value: string, number, bool, or null.
	KindScalar Kind = iota

	// KindMapping is a string-keyed mapping of values.
	KindMapping

	// KindSequence is an ordered sequence of values.
	KindSequence
)

// String returns the kind name for error messages.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged union over scalar, mapping, and sequence configuration
// values. The zero Value is the null scalar.
type Value struct {
	kind     Kind
	scalar   any
	mapping  Document
	sequence []Value
}

// Document is a raw recipe document: a mapping from string keys to values.
// Documents are treated as immutable during merge; operations that combine
// documents construct new ones.
type Document map[string]Value

// Scalar wraps a leaf value.
func Scalar(v any) Value {
	return Value{kind: KindScalar, scalar: v}
}

// Map wraps a document as a mapping value.
func Map(d Document) Value {
	return Value{kind: KindMapping, mapping: d}
}

// Seq wraps values as a sequence value.
func Seq(vs ...Value) Value {
	return Value{kind: KindSequence, sequence: vs}
}

// Kind returns the value's kind tag.
func (v Value) Kind() Kind { return v.kind }

// Scalar returns the underlying scalar. It is only meaningful for
// KindScalar values.
func (v Value) Scalar() any { return v.scalar }

// Mapping returns the underlying document. It is only meaningful for
// KindMapping values.
func (v Value) Mapping() Document { return v.mapping }

// Sequence returns the underlying slice. It is only meaningful for
// KindSequence values.
func (v Value) Sequence() []Value { return v.sequence }

// StringScalar returns the scalar as a string when the value is a string
// scalar.
func (v Value) StringScalar() (string, bool) {
	if v.kind != KindScalar {
		return "", false
	}
	s, ok := v.scalar.(string)
	return s, ok
}

// Copy returns a deep copy of the value.
func (v Value) Copy() Value {
	switch v.kind {
	case KindMapping:
		return Map(v.mapping.Copy())
	case KindSequence:
		out := make([]Value, len(v.sequence))
		for i, item := range v.sequence {
			out[i] = item.Copy()
		}
		return Value{kind: KindSequence, sequence: out}
	default:
		return v
	}
}

// Equal reports deep equality of two values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindMapping:
		if len(v.mapping) != len(other.mapping) {
			return false
		}
		for k, val := range v.mapping {
			ov, ok := other.mapping[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	case KindSequence:
		if len(v.sequence) != len(other.sequence) {
			return false
		}
		for i := range v.sequence {
			if !v.sequence[i].Equal(other.sequence[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(v.scalar, other.scalar)
	}
}

// Copy returns a deep copy of the document.
func (d Document) Copy() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v.Copy()
	}
	return out
}

// Equal reports deep equality of two documents.
func (d Document) Equal(other Document) bool {
	return Map(d).Equal(Map(other))
}

// FromTree converts a decoded YAML/JSON tree into a Value. Mapping keys must
// be strings.
func FromTree(tree any) (Value, error) {
	switch t := tree.(type) {
	case nil:
		return Scalar(nil), nil
	case map[string]any:
		doc := make(Document, len(t))
		for k, child := range t {
			cv, err := FromTree(child)
			if err != nil {
				return Value{}, err
			}
			doc[k] = cv
		}
		return Map(doc), nil
	case map[any]any:
		doc := make(Document, len(t))
		for k, child := range t {
			key, ok := k.(string)
			if !ok {
				return Value{}, NewParseFailureError(
					fmt.Sprintf("mapping key %v is not a string", k), nil)
			}
			cv, err := FromTree(child)
			if err != nil {
				return Value{}, err
			}
			doc[key] = cv
		}
		return Map(doc), nil
	case []any:
		seq := make([]Value, len(t))
		for i, child := range t {
			cv, err := FromTree(child)
			if err != nil {
				return Value{}, err
			}
			seq[i] = cv
		}
		return Seq(seq...), nil
	default:
		return Scalar(t), nil
	}
}

// DocumentFromTree converts a decoded YAML/JSON tree into a Document. The
// tree's root must be a mapping.
func DocumentFromTree(tree any) (Document, error) {
	v, err := FromTree(tree)
	if err != nil {
		return nil, err
	}
	if v.Kind() != KindMapping {
		return nil, NewParseFailureError(
			fmt.Sprintf("document root is a %s, expected a mapping", v.Kind()), nil)
	}
	return v.Mapping(), nil
}

// ToTree converts a value back into a plain interface tree suitable for
// YAML/JSON encoding.
func (v Value) ToTree() any {
	switch v.kind {
	case KindMapping:
		return v.mapping.ToTree()
	case KindSequence:
		out := make([]any, len(v.sequence))
		for i, item := range v.sequence {
			out[i] = item.ToTree()
		}
		return out
	default:
		return v.scalar
	}
}

// ToTree converts the document into a plain map tree suitable for YAML/JSON
// encoding.
func (d Document) ToTree() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v.ToTree()
	}
	return out
}
