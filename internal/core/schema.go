package core

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Column types accepted by the schema registry.
const (
	ColumnString  = "string"
	ColumnNumber  = "number"
	ColumnBoolean = "boolean"
)

const (
	// maxSchemaLines bounds schema files; anything longer is rejected
	// before parsing completes.
	maxSchemaLines = 50000
	// maxColumnNameLen is the column name truncation point.
	maxColumnNameLen = 128
)

// ErrSchemaTooLarge reports a schema file over the line limit.
var ErrSchemaTooLarge = errors.New("schema file exceeds 50000 lines")

// ErrSchemaEmpty reports a schema file with no valid columns.
var ErrSchemaEmpty = errors.New("schema defines no columns")

// SchemaError reports an invalid column definition.
type SchemaError struct {
	Line    int
	Message string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("schema line %d: %s", e.Line, e.Message)
	}
	return "schema: " + e.Message
}

// Schema is an ordered list of (name, type) columns. It is represented
// as a Document whose values are String elements, which is also its
// persisted form inside snapshots.
type Schema struct {
	columns *Document
}

// NewSchema builds a schema from parallel name/type slices.
func NewSchema(fields, types []string) (*Schema, error) {
	if len(fields) != len(types) {
		return nil, fmt.Errorf("schema: %d fields but %d types", len(fields), len(types))
	}

	columns := NewDocument()
	for i := range fields {
		name := truncateName(fields[i])
		if name == "" {
			return nil, &SchemaError{Message: "column name must not be empty"}
		}
		if columns.Has(name) {
			return nil, &SchemaError{Message: fmt.Sprintf("Column %s defined more than once", name)}
		}
		if !validColumnType(types[i]) {
			return nil, &SchemaError{Message: fmt.Sprintf("type %q for column %s must be 'string', 'number' or 'boolean'", types[i], name)}
		}
		columns.Set(name, String(types[i]))
	}

	if columns.Len() == 0 {
		return nil, ErrSchemaEmpty
	}
	return &Schema{columns: columns}, nil
}

// SchemaFromDocument rebuilds a schema from its persisted document form.
func SchemaFromDocument(d *Document) (*Schema, error) {
	if d == nil || d.Len() == 0 {
		return nil, ErrSchemaEmpty
	}

	columns := NewDocument()
	for i := 0; i < d.Len(); i++ {
		name, val := d.At(i)
		typ, ok := val.StringValue()
		if !ok || !validColumnType(typ) {
			return nil, &SchemaError{Message: fmt.Sprintf("type for column %s must be 'string', 'number' or 'boolean'", name)}
		}
		columns.Set(truncateName(name), val)
	}
	return &Schema{columns: columns}, nil
}

// LoadSchema parses a schema file with one "name,type" pair per line.
// Blank lines and lines starting with '#' are skipped.
func LoadSchema(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema open failed: %w", err)
	}
	defer func() { _ = f.Close() }()

	columns := NewDocument()
	scanner := bufio.NewScanner(f)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		if lineNo > maxSchemaLines {
			return nil, ErrSchemaTooLarge
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			return nil, &SchemaError{Line: lineNo, Message: "expected exactly one comma separating name and type"}
		}

		name := truncateName(strings.TrimSpace(parts[0]))
		typ := strings.TrimSpace(parts[1])
		if name == "" || typ == "" {
			return nil, &SchemaError{Line: lineNo, Message: "both name and type are required"}
		}
		if columns.Has(name) {
			return nil, &SchemaError{Line: lineNo, Message: fmt.Sprintf("Column %s defined more than once", name)}
		}
		if !validColumnType(typ) {
			return nil, &SchemaError{Line: lineNo, Message: fmt.Sprintf("type %q for column %s must be 'string', 'number' or 'boolean'", typ, name)}
		}
		columns.Set(name, String(typ))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("schema read failed: %w", err)
	}

	if columns.Len() == 0 {
		return nil, ErrSchemaEmpty
	}
	return &Schema{columns: columns}, nil
}

// Len returns the number of columns.
func (s *Schema) Len() int { return s.columns.Len() }

// Has reports whether name is a declared column.
func (s *Schema) Has(name string) bool { return s.columns.Has(name) }

// Type returns the declared type of a column.
func (s *Schema) Type(name string) (string, bool) {
	v, ok := s.columns.Get(name)
	if !ok {
		return "", false
	}
	typ, _ := v.StringValue()
	return typ, true
}

// Columns returns the column names in declaration order.
func (s *Schema) Columns() []string { return s.columns.Keys() }

// Doc returns the schema in document form. The result is a copy.
func (s *Schema) Doc() *Document { return s.columns.Clone() }

func validColumnType(typ string) bool {
	switch typ {
	case ColumnString, ColumnNumber, ColumnBoolean:
		return true
	default:
		return false
	}
}

func truncateName(name string) string {
	if len(name) > maxColumnNameLen {
		return name[:maxColumnNameLen]
	}
	return name
}
