package core

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrMalformedDocument reports truncated input, an unrecognized element
// type tag, or an invalid key while decoding a persisted document.
var ErrMalformedDocument = errors.New("malformed document")

// MarshalDocument serializes a document to its BSON byte form. Key order
// is preserved by encoding through an ordered bson.D.
func MarshalDocument(d *Document) ([]byte, error) {
	out, err := bson.Marshal(toBSON(d))
	if err != nil {
		return nil, fmt.Errorf("document encode failed: %w", err)
	}
	return out, nil
}

// UnmarshalDocument decodes BSON bytes produced by MarshalDocument.
// Only the element kinds of the r2d2 data model are accepted; anything
// else is a malformed document.
func UnmarshalDocument(data []byte) (*Document, error) {
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return decodeDocument(raw)
}

func toBSON(d *Document) bson.D {
	out := make(bson.D, 0, d.Len())
	for i := 0; i < d.Len(); i++ {
		key, val := d.At(i)
		out = append(out, bson.E{Key: key, Value: toBSONValue(val)})
	}
	return out
}

func toBSONValue(e Element) interface{} {
	switch e.Type() {
	case TypeDouble:
		v, _ := e.DoubleValue()
		return v
	case TypeInt32:
		v, _ := e.Int32Value()
		return v
	case TypeInt64:
		v, _ := e.Int64Value()
		return v
	case TypeString:
		v, _ := e.StringValue()
		return v
	case TypeBoolean:
		v, _ := e.BoolValue()
		return v
	case TypeDocument:
		v, _ := e.DocumentValue()
		return toBSON(v)
	case TypeArray:
		items, _ := e.ArrayValue()
		arr := make(bson.A, len(items))
		for i := range items {
			arr[i] = toBSONValue(items[i])
		}
		return arr
	default:
		return primitive.Null{}
	}
}

func decodeDocument(raw bson.Raw) (*Document, error) {
	elems, err := raw.Elements()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	doc := NewDocument()
	for _, el := range elems {
		key, err := el.KeyErr()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		if key == "" || !utf8.ValidString(key) {
			return nil, fmt.Errorf("%w: invalid key %q", ErrMalformedDocument, key)
		}

		val, err := decodeValue(el.Value())
		if err != nil {
			return nil, err
		}
		doc.Set(key, val)
	}
	return doc, nil
}

func decodeValue(rv bson.RawValue) (Element, error) {
	switch rv.Type {
	case bsontype.Double:
		v, ok := rv.DoubleOK()
		if !ok {
			return Null(), fmt.Errorf("%w: truncated double", ErrMalformedDocument)
		}
		return Double(v), nil
	case bsontype.String:
		v, ok := rv.StringValueOK()
		if !ok {
			return Null(), fmt.Errorf("%w: truncated string", ErrMalformedDocument)
		}
		return String(v), nil
	case bsontype.Boolean:
		v, ok := rv.BooleanOK()
		if !ok {
			return Null(), fmt.Errorf("%w: truncated boolean", ErrMalformedDocument)
		}
		return Boolean(v), nil
	case bsontype.Int32:
		v, ok := rv.Int32OK()
		if !ok {
			return Null(), fmt.Errorf("%w: truncated int32", ErrMalformedDocument)
		}
		return Int32(v), nil
	case bsontype.Int64:
		v, ok := rv.Int64OK()
		if !ok {
			return Null(), fmt.Errorf("%w: truncated int64", ErrMalformedDocument)
		}
		return Int64(v), nil
	case bsontype.Null:
		return Null(), nil
	case bsontype.EmbeddedDocument:
		sub, ok := rv.DocumentOK()
		if !ok {
			return Null(), fmt.Errorf("%w: truncated embedded document", ErrMalformedDocument)
		}
		doc, err := decodeDocument(sub)
		if err != nil {
			return Null(), err
		}
		return Embed(doc), nil
	case bsontype.Array:
		arrRaw, ok := rv.ArrayOK()
		if !ok {
			return Null(), fmt.Errorf("%w: truncated array", ErrMalformedDocument)
		}
		vals, err := arrRaw.Values()
		if err != nil {
			return Null(), fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		items := make([]Element, 0, len(vals))
		for _, v := range vals {
			item, err := decodeValue(v)
			if err != nil {
				return Null(), err
			}
			items = append(items, item)
		}
		return Array(items...), nil
	default:
		return Null(), fmt.Errorf("%w: unsupported element type 0x%02x", ErrMalformedDocument, byte(rv.Type))
	}
}
