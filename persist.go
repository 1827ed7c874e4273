package r2d2

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/scigolib/r2d2/internal/core"
	"github.com/scigolib/r2d2/internal/utils"
)

// Snapshot field names inside a .r2d2 document. Timestamps are persisted
// as decimal strings because the document codec has no 128-bit numeric
// element.
const (
	snapshotExt     = ".r2d2"
	fieldSchema     = "schema"
	fieldMinTS      = "min_timestamp"
	fieldMaxTS      = "max_timestamp"
	fieldRows       = "rows"
	csvDumpFilename = "dump.csv"
)

// Save serializes the store to DataPath as a .r2d2 snapshot. Any suffix
// after the first '.' in name is stripped before the extension is
// appended, and an existing file bumps the name to name_1, name_2, ...
// until it no longer collides. The filename actually used is returned.
func (db *Database) Save(name string) (string, error) {
	base := sanitizeFilename(name)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		base = "database"
	}

	filename := base + snapshotExt
	for n := 1; fileExists(filepath.Join(db.cfg.DataPath, filename)); n++ {
		filename = fmt.Sprintf("%s_%d%s", base, n, snapshotExt)
	}

	data, err := core.MarshalDocument(db.snapshot())
	if err != nil {
		return "", utils.WrapError("snapshot encode failed", err)
	}
	if err := os.WriteFile(filepath.Join(db.cfg.DataPath, filename), data, 0o644); err != nil {
		return "", utils.WrapError("snapshot write failed", err)
	}
	return filename, nil
}

// snapshot builds the persisted document form of the store.
func (db *Database) snapshot() *core.Document {
	rows := core.NewDocument()
	cur := db.tree.Cursor()
	cur.SeekToFirst()
	for {
		key, row, ok := cur.Next()
		if !ok {
			break
		}
		rows.Set(core.FormatTimestamp(key), core.Embed(row.Clone()))
	}

	doc := core.NewDocument()
	doc.Set(fieldSchema, core.Embed(db.schema.Doc()))
	doc.Set(fieldMinTS, core.String(core.FormatTimestamp(db.minTS)))
	doc.Set(fieldMaxTS, core.String(core.FormatTimestamp(db.maxTS)))
	doc.Set(fieldRows, core.Embed(rows))
	return doc
}

// Load replaces the store contents with a snapshot from DataPath. On any
// decode failure the running database is left untouched and the error is
// returned for the caller to log.
func (db *Database) Load(filename string) error {
	path := filepath.Join(db.cfg.DataPath, sanitizeFilename(filename))
	data, err := os.ReadFile(path)
	if err != nil {
		return utils.WrapError("snapshot read failed", err)
	}

	doc, err := core.UnmarshalDocument(data)
	if err != nil {
		return utils.WrapError("snapshot decode failed", err)
	}

	schemaVal, ok := doc.Get(fieldSchema)
	schemaDoc, isDoc := schemaVal.DocumentValue()
	if !ok || !isDoc {
		return fmt.Errorf("%w: snapshot has no schema", core.ErrMalformedDocument)
	}
	schema, err := core.SchemaFromDocument(schemaDoc)
	if err != nil {
		return utils.WrapError("snapshot schema rejected", err)
	}

	minTS, err := snapshotTimestamp(doc, fieldMinTS)
	if err != nil {
		return err
	}
	maxTS, err := snapshotTimestamp(doc, fieldMaxTS)
	if err != nil {
		return err
	}

	rowsVal, ok := doc.Get(fieldRows)
	rowsDoc, isDoc := rowsVal.DocumentValue()
	if !ok || !isDoc {
		return fmt.Errorf("%w: snapshot has no rows", core.ErrMalformedDocument)
	}

	// Build the replacement fully before swapping so a bad row cannot
	// leave the store half-loaded.
	replacement, err := newDatabase(schema, db.cfg)
	if err != nil {
		return err
	}
	for i := 0; i < rowsDoc.Len(); i++ {
		key, val := rowsDoc.At(i)
		ts, err := core.ParseTimestamp(key)
		if err != nil {
			return utils.WrapError("snapshot row key rejected", err)
		}
		row, isDoc := val.DocumentValue()
		if !isDoc {
			return fmt.Errorf("%w: row %s is not a document", core.ErrMalformedDocument, key)
		}
		if _, err := replacement.Insert(ts, row.Clone()); err != nil {
			return utils.WrapError("snapshot row rejected", err)
		}
	}

	*db = *replacement
	db.minTS = minTS
	db.maxTS = maxTS
	return nil
}

func snapshotTimestamp(doc *core.Document, field string) (uint256.Int, error) {
	val, ok := doc.Get(field)
	s, isString := val.StringValue()
	if !ok || !isString {
		return uint256.Int{}, fmt.Errorf("%w: snapshot has no %s", core.ErrMalformedDocument, field)
	}
	parsed, err := core.ParseTimestamp(s)
	if err != nil {
		return uint256.Int{}, utils.WrapError("snapshot timestamp rejected", err)
	}
	return parsed, nil
}

// LoadSchema reads a schema file from DataPath and rebinds the store to
// it, discarding all rows. The current database survives a parse error.
func (db *Database) LoadSchema(filename string) error {
	path := filepath.Join(db.cfg.DataPath, sanitizeFilename(filename))
	schema, err := core.LoadSchema(path)
	if err != nil {
		return err
	}
	db.replaceSchema(schema)
	return nil
}

// ListSaved returns the filenames currently present in DataPath.
func (db *Database) ListSaved() ([]string, error) {
	entries, err := os.ReadDir(db.cfg.DataPath)
	if err != nil {
		return nil, utils.WrapError("data directory scan failed", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// DataToCSV writes every record to DataPath/dump.csv in ascending key
// order and returns the path written. The header is the timestamp column
// followed by the schema columns.
func (db *Database) DataToCSV() (string, error) {
	var b strings.Builder

	b.WriteString("timestamp")
	columns := db.schema.Columns()
	for _, col := range columns {
		b.WriteByte(',')
		b.WriteString(col)
	}
	b.WriteByte('\n')

	cur := db.tree.Cursor()
	cur.SeekToFirst()
	for {
		key, row, ok := cur.Next()
		if !ok {
			break
		}
		b.WriteString(core.FormatTimestamp(key))
		for _, col := range columns {
			b.WriteByte(',')
			val, _ := row.Get(col)
			b.WriteString(csvValue(val))
		}
		b.WriteByte('\n')
	}

	path := filepath.Join(db.cfg.DataPath, csvDumpFilename)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", utils.WrapError("csv write failed", err)
	}
	return path, nil
}

// csvValue renders an element for the CSV dump.
func csvValue(e core.Element) string {
	switch e.Type() {
	case core.TypeDouble:
		v, _ := e.DoubleValue()
		return strconv.FormatFloat(v, 'f', -1, 64)
	case core.TypeInt32:
		v, _ := e.Int32Value()
		return strconv.FormatInt(int64(v), 10)
	case core.TypeInt64:
		v, _ := e.Int64Value()
		return strconv.FormatInt(v, 10)
	case core.TypeString:
		v, _ := e.StringValue()
		return v
	case core.TypeBoolean:
		v, _ := e.BoolValue()
		return strconv.FormatBool(v)
	default:
		return "None"
	}
}

// sanitizeFilename strips path separators and traversal components from
// a user-supplied filename before it is joined with DataPath.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
