// Package query implements the TOKEN::ARG command grammar of the store:
// parsing, schema-typed inserts, dispatch to the database façade, and
// the labels/rows result envelope.
package query

import (
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/scigolib/r2d2"
	"github.com/scigolib/r2d2/internal/core"
)

// Envelope field names. Every result is a document with "labels" and
// "rows"; status and error results use the single Notice label.
const (
	fieldLabels = "labels"
	fieldRows   = "rows"
	noticeLabel = "Notice"
)

// hideToken switches any result-bearing command to a success notice
// when it appears anywhere in the raw query.
const hideToken = "HIDE"

const timeLayout = "2006-01-02 15:04:05"

// Engine executes textual queries against a database. It is as
// single-threaded as the store itself; the server calls it serially.
type Engine struct {
	db  *r2d2.Database
	log *logrus.Logger
}

// New creates an engine. A nil logger falls back to the logrus standard
// logger.
func New(db *r2d2.Database, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{db: db, log: log}
}

// Execute runs one query and always returns a result envelope; no error
// escapes past this boundary. Unknown commands produce an invalid-query
// notice.
func (e *Engine) Execute(raw string) *core.Document {
	parts := strings.Split(strings.TrimSpace(raw), "::")

	var result *core.Document
	switch parts[0] {
	case "LIST":
		result = e.list(parts, raw)
	case "AGGREGATE":
		result = e.aggregate(parts)
	case "INSERT":
		result = e.insert(parts)
	case "REMOVE":
		result = e.remove(parts, raw)
	case "TIME":
		result = e.timeCommand(parts)
	case "SAVE":
		result = e.save(parts)
	case "LOAD":
		result = e.load(parts)
	default:
		result = notice("Invalid query: " + raw)
	}

	if strings.Contains(raw, hideToken) && !isNotice(result) {
		return notice("Success")
	}
	return result
}

func (e *Engine) list(parts []string, raw string) *core.Document {
	if len(parts) < 2 {
		return notice("LIST requires a mode: ALL, ONE, RANGE, SAVED or METADATA")
	}

	switch parts[1] {
	case "ALL":
		return e.listAll()

	case "ONE":
		if len(parts) < 3 {
			return notice("LIST::ONE requires a timestamp argument")
		}
		ts, err := core.ParseTimestamp(parts[2])
		if err != nil {
			return notice("LIST::ONE requires a decimal timestamp, got: " + parts[2])
		}
		row, ok := e.db.GetOne(ts)
		if !ok {
			return notice("Requested value could not be found.")
		}
		rows := core.NewDocument()
		rows.Set(core.FormatTimestamp(ts), core.Embed(row))
		return envelope(e.db.Schema().Columns(), rows)

	case "RANGE":
		if len(parts) < 3 {
			return notice("LIST::RANGE requires two timestamps separated by a comma")
		}
		bounds := strings.Split(parts[2], ",")
		if len(bounds) != 2 {
			return notice("LIST::RANGE requires two timestamps separated by a comma")
		}
		lo, err := core.ParseTimestamp(strings.TrimSpace(bounds[0]))
		if err != nil {
			return notice("LIST::RANGE lower bound must be a decimal timestamp")
		}
		hi, err := core.ParseTimestamp(strings.TrimSpace(bounds[1]))
		if err != nil {
			return notice("LIST::RANGE upper bound must be a decimal timestamp")
		}
		if lo.Gt(&hi) {
			lo, hi = hi, lo
		}
		return envelope(e.db.Schema().Columns(), e.db.GetRange(lo, hi))

	case "SAVED":
		names, err := e.db.ListSaved()
		if err != nil || len(names) == 0 {
			names = []string{"No saved databases found."}
		}
		rows := core.NewDocument()
		for i, name := range names {
			rows.Set(strconv.Itoa(i), core.String(name))
		}
		return envelope([]string{"Saved Databases"}, rows)

	default:
		// Metadata fallback: store size plus the active schema.
		rows := core.NewDocument()
		rows.Set("size", core.Int64(int64(e.db.Len())))
		rows.Set("schema", core.Embed(e.db.Schema().Doc()))
		return envelope([]string{"size", "schema"}, rows)
	}
}

func (e *Engine) listAll() *core.Document {
	var lo uint256.Int
	return envelope(e.db.Schema().Columns(), e.db.GetRange(lo, core.MaxTimestamp()))
}

func (e *Engine) aggregate(parts []string) *core.Document {
	if len(parts) < 3 {
		return notice("AGGREGATE requires a field and an operation: AGGREGATE::<field>::<op>")
	}
	field, op := parts[1], parts[2]

	result := e.db.Aggregate(op, field)
	rows := core.NewDocument()
	rows.Set(op, core.Double(result))
	return envelope([]string{op}, rows)
}

func (e *Engine) insert(parts []string) *core.Document {
	if len(parts) < 2 {
		return notice("INSERT requires k=v pairs: INSERT::k1=v1,k2=v2")
	}

	row := core.NewDocument()
	for _, pair := range strings.Split(parts[1], ",") {
		k, v, found := strings.Cut(pair, "=")
		if !found {
			return notice("INSERT expects k=v pairs, got: " + pair)
		}

		typ, inSchema := e.db.Schema().Type(k)
		if !inSchema {
			// Unknown fields are dropped, not fatal.
			e.log.WithField("field", k).Warn("insert field not in schema, dropping")
			continue
		}
		row.Set(k, typedValue(typ, v))
	}

	if row.Len() == 0 {
		return notice("No valid fields to insert.")
	}

	ts := core.TimestampFromMillis(time.Now().UnixMilli())
	if len(parts) > 2 {
		rawTS := parts[2]
		if i := strings.LastIndex(rawTS, "="); i >= 0 {
			rawTS = rawTS[i+1:]
		}
		if parsed, err := core.ParseTimestamp(rawTS); err == nil {
			ts = parsed
		}
	}

	final, err := e.db.Insert(ts, row)
	if err != nil {
		// Schema violations are logged and the command still reports
		// success; see the error model in SPEC_FULL.md.
		e.log.WithError(err).Warn("insert rejected")
	} else {
		e.log.WithField("timestamp", core.FormatTimestamp(final)).Debug("record inserted")
	}
	return e.listAll()
}

// typedValue coerces a literal per the declared column type. Both the
// "boolean" spelling and the legacy "bool" alias select boolean typing;
// bad literals default to false and 0 respectively.
func typedValue(typ, literal string) core.Element {
	switch typ {
	case core.ColumnBoolean, "bool":
		b, err := strconv.ParseBool(literal)
		if err != nil {
			b = false
		}
		return core.Boolean(b)
	case core.ColumnNumber:
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			f = 0
		}
		return core.Double(f)
	default:
		return core.String(literal)
	}
}

func (e *Engine) remove(parts []string, raw string) *core.Document {
	if len(parts) < 2 {
		return notice("REMOVE requires a mode: ALL or ONE")
	}

	switch parts[1] {
	case "ALL":
		e.db.ClearAll()
		return e.listAll()

	case "ONE":
		if len(parts) < 3 || !strings.Contains(parts[2], "TIMESTAMP=") {
			return notice("REMOVE::ONE requires TIMESTAMP=<decimal>")
		}
		rawTS := parts[2][strings.LastIndex(parts[2], "=")+1:]
		ts, err := core.ParseTimestamp(rawTS)
		if err != nil {
			return notice("REMOVE::ONE requires a decimal timestamp, got: " + rawTS)
		}
		if !e.db.Remove(ts) {
			return notice("Requested value could not be found.")
		}
		return e.listAll()

	default:
		return notice("Invalid query: " + raw)
	}
}

func (e *Engine) timeCommand(parts []string) *core.Document {
	if len(parts) < 2 {
		return notice("TIME requires a datetime: TIME::YYYY-MM-DD HH:MM:SS")
	}

	text := strings.ReplaceAll(parts[1], "%20", " ")
	t, err := time.ParseInLocation(timeLayout, text, time.UTC)
	if err != nil {
		return notice("TIME expects YYYY-MM-DD HH:MM:SS, got: " + text)
	}

	rows := core.NewDocument()
	rows.Set("time", core.String(strconv.FormatInt(t.UnixMilli(), 10)))
	return envelope([]string{"time"}, rows)
}

func (e *Engine) save(parts []string) *core.Document {
	if len(parts) < 2 {
		return notice("SAVE requires a filename or the literal CSV")
	}

	if parts[1] == "CSV" {
		path, err := e.db.DataToCSV()
		if err != nil {
			e.log.WithError(err).Error("csv export failed")
			return notice("CSV export failed: " + err.Error())
		}
		return notice("Database exported to " + path)
	}

	filename, err := e.db.Save(parts[1])
	if err != nil {
		e.log.WithError(err).Error("save failed")
		return notice("Save failed: " + err.Error())
	}
	return notice("Database saved as " + filename)
}

func (e *Engine) load(parts []string) *core.Document {
	if len(parts) < 2 {
		return notice("LOAD requires a filename or SCHEMA::<file>")
	}

	if parts[1] == "SCHEMA" {
		if len(parts) < 3 {
			return notice("LOAD::SCHEMA requires a schema filename")
		}
		if err := e.db.LoadSchema(parts[2]); err != nil {
			e.log.WithError(err).Error("schema load failed")
			return notice("Schema load failed: " + err.Error())
		}
		return notice("Schema loaded from " + parts[2])
	}

	if err := e.db.Load(parts[1]); err != nil {
		// The running database is preserved on a malformed snapshot.
		e.log.WithError(err).Error("load failed")
		return notice("Load failed: " + err.Error())
	}
	return notice("Database loaded from " + parts[1])
}

// envelope wraps labels and rows into the result document shape.
func envelope(labels []string, rows *core.Document) *core.Document {
	items := make([]core.Element, len(labels))
	for i, l := range labels {
		items[i] = core.String(l)
	}
	doc := core.NewDocument()
	doc.Set(fieldLabels, core.Array(items...))
	doc.Set(fieldRows, core.Embed(rows))
	return doc
}

// notice builds the single-field status envelope.
func notice(text string) *core.Document {
	rows := core.NewDocument()
	rows.Set(noticeLabel, core.String(text))
	return envelope([]string{noticeLabel}, rows)
}

func isNotice(result *core.Document) bool {
	val, ok := result.Get(fieldLabels)
	if !ok {
		return false
	}
	items, _ := val.ArrayValue()
	if len(items) != 1 {
		return false
	}
	s, _ := items[0].StringValue()
	return s == noticeLabel
}
