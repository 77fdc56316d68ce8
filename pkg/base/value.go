package base

// Kind classifies an arbitrary property value found inside a Base.
type Kind uint8

const (
	// KindScalar is anything that cannot contain graph edges.
	KindScalar Kind = iota
	// KindBase is an object carrying a non-empty string id.
	KindBase
	// KindArray is a list whose elements may themselves be Bases.
	KindArray
	// KindReference is an object without an id whose only role is to point
	// at another Base through its referenceId.
	KindReference
)

func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindArray:
		return "array"
	case KindReference:
		return "reference"
	default:
		return "scalar"
	}
}

// Value is a classified property value.
type Value struct {
	Kind  Kind
	Base  Base   // set when Kind == KindBase
	Array []any  // set when Kind == KindArray
	Ref   string // set when Kind == KindReference
	Raw   any
}

// Classify inspects v and returns its tagged form.
func Classify(v any) Value {
	switch t := v.(type) {
	case Base:
		return classifyObject(t, v)
	case map[string]any:
		return classifyObject(Base(t), v)
	case []any:
		return Value{Kind: KindArray, Array: t, Raw: v}
	}
	return Value{Kind: KindScalar, Raw: v}
}

func classifyObject(b Base, raw any) Value {
	if b.ID() != "" {
		return Value{Kind: KindBase, Base: b, Raw: raw}
	}
	if ref, ok := b.ReferenceID(); ok {
		return Value{Kind: KindReference, Ref: ref, Raw: raw}
	}
	return Value{Kind: KindScalar, Raw: raw}
}

// IsBase reports whether v is an object that can be treated as a Base.
func IsBase(v any) bool {
	return Classify(v).Kind == KindBase
}

// IsEdge reports whether v leads to another Base, directly or by reference.
func IsEdge(v any) bool {
	k := Classify(v).Kind
	return k == KindBase || k == KindReference
}

// ContainsBase reports whether any element of arr is a Base or a reference.
func ContainsBase(arr []any) bool {
	for _, e := range arr {
		if IsEdge(e) {
			return true
		}
	}
	return false
}
