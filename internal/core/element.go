// Package core implements the r2d2 document model: typed elements,
// ordered documents, the binary codec used for persistence, the schema
// registry, and 128-bit timestamp helpers.
package core

import "strconv"

// ElementType identifies the concrete variant held by an Element.
type ElementType uint8

// Element variants. Null doubles as the "unrecognized/absent" result of
// coercions, so the zero Element is a Null.
const (
	TypeNull ElementType = iota
	TypeDouble
	TypeInt32
	TypeInt64
	TypeString
	TypeBoolean
	TypeDocument
	TypeArray
)

// String returns the lowercase variant name.
func (t ElementType) String() string {
	switch t {
	case TypeDouble:
		return "double"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeString:
		return "string"
	case TypeBoolean:
		return "boolean"
	case TypeDocument:
		return "document"
	case TypeArray:
		return "array"
	default:
		return "null"
	}
}

// Element is a tagged value stored in a Document. The zero value is Null.
// Elements are immutable once constructed; sharing is safe as long as
// embedded documents are not mutated through retained pointers, which is
// why Clone performs a deep copy.
type Element struct {
	typ ElementType
	f64 float64
	i64 int64
	str string
	b   bool
	doc *Document
	arr []Element
}

// Null returns the null element.
func Null() Element { return Element{} }

// Double wraps a 64-bit float.
func Double(v float64) Element { return Element{typ: TypeDouble, f64: v} }

// Int32 wraps a 32-bit integer.
func Int32(v int32) Element { return Element{typ: TypeInt32, i64: int64(v)} }

// Int64 wraps a 64-bit integer.
func Int64(v int64) Element { return Element{typ: TypeInt64, i64: v} }

// String wraps a UTF-8 string.
func String(v string) Element { return Element{typ: TypeString, str: v} }

// Boolean wraps a bool.
func Boolean(v bool) Element { return Element{typ: TypeBoolean, b: v} }

// Embed wraps a nested document. A nil document embeds an empty one.
func Embed(d *Document) Element {
	if d == nil {
		d = NewDocument()
	}
	return Element{typ: TypeDocument, doc: d}
}

// Array wraps an ordered sequence of elements.
func Array(items ...Element) Element {
	return Element{typ: TypeArray, arr: items}
}

// Type reports the variant held by the element.
func (e Element) Type() ElementType { return e.typ }

// IsNull reports whether the element is the null variant.
func (e Element) IsNull() bool { return e.typ == TypeNull }

// DoubleValue returns the float payload.
func (e Element) DoubleValue() (float64, bool) {
	return e.f64, e.typ == TypeDouble
}

// Int32Value returns the 32-bit integer payload.
func (e Element) Int32Value() (int32, bool) {
	return int32(e.i64), e.typ == TypeInt32
}

// Int64Value returns the 64-bit integer payload.
func (e Element) Int64Value() (int64, bool) {
	return e.i64, e.typ == TypeInt64
}

// StringValue returns the string payload.
func (e Element) StringValue() (string, bool) {
	return e.str, e.typ == TypeString
}

// BoolValue returns the boolean payload.
func (e Element) BoolValue() (bool, bool) {
	return e.b, e.typ == TypeBoolean
}

// DocumentValue returns the embedded document payload.
func (e Element) DocumentValue() (*Document, bool) {
	return e.doc, e.typ == TypeDocument
}

// ArrayValue returns the array payload.
func (e Element) ArrayValue() ([]Element, bool) {
	return e.arr, e.typ == TypeArray
}

// Numeric coerces the element to a float64 for aggregation. Strings that
// parse as floats win over everything else; numeric variants convert
// directly; all other variants contribute 0.
func (e Element) Numeric() float64 {
	if e.typ == TypeString {
		if f, err := strconv.ParseFloat(e.str, 64); err == nil {
			return f
		}
	}
	switch e.typ {
	case TypeDouble:
		return e.f64
	case TypeInt32, TypeInt64:
		return float64(e.i64)
	default:
		return 0
	}
}

// Equal reports structural equality.
func (e Element) Equal(other Element) bool {
	if e.typ != other.typ {
		return false
	}
	switch e.typ {
	case TypeDouble:
		return e.f64 == other.f64
	case TypeInt32, TypeInt64:
		return e.i64 == other.i64
	case TypeString:
		return e.str == other.str
	case TypeBoolean:
		return e.b == other.b
	case TypeDocument:
		return e.doc.Equal(other.doc)
	case TypeArray:
		if len(e.arr) != len(other.arr) {
			return false
		}
		for i := range e.arr {
			if !e.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Clone returns a deep copy of the element.
func (e Element) Clone() Element {
	switch e.typ {
	case TypeDocument:
		return Embed(e.doc.Clone())
	case TypeArray:
		items := make([]Element, len(e.arr))
		for i := range e.arr {
			items[i] = e.arr[i].Clone()
		}
		return Array(items...)
	default:
		return e
	}
}
