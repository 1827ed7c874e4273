package r2d2

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/scigolib/r2d2/internal/core"
	"github.com/scigolib/r2d2/internal/structures"
)

// Aggregate operations. Anything unrecognized falls through to SUM.
const (
	AggSum = "SUM"
	AggAvg = "AVG"
	AggMin = "MIN"
	AggMax = "MAX"
)

// Database owns the ordered index, the active schema, and the observed
// timestamp bounds. It is not safe for concurrent use; the network layer
// serializes access (one connection drains fully before the next).
type Database struct {
	tree   *structures.BPTree
	schema *core.Schema
	minTS  uint256.Int
	maxTS  uint256.Int
	cfg    Config
}

// resetBounds installs the empty-store sentinels: min at 2^128-1, max at
// zero.
func (db *Database) resetBounds() {
	db.minTS = core.MaxTimestamp()
	db.maxTS = uint256.Int{}
}

// Len returns the number of stored records.
func (db *Database) Len() int { return db.tree.Len() }

// Schema returns the active schema.
func (db *Database) Schema() *core.Schema { return db.schema }

// MinTimestamp returns the smallest timestamp ever inserted. Stale after
// removals; reset only by ClearAll or schema replacement.
func (db *Database) MinTimestamp() uint256.Int { return db.minTS }

// MaxTimestamp returns the largest timestamp ever inserted.
func (db *Database) MaxTimestamp() uint256.Int { return db.maxTS }

// DataPath returns the persistence directory.
func (db *Database) DataPath() string { return db.cfg.DataPath }

// Insert validates row against the schema and stores it at ts. When ts
// is already occupied the key is probed upward by one until a vacant
// slot is found; the final key is returned. The probe is iterative so a
// dense cluster of collisions cannot grow the stack.
func (db *Database) Insert(ts uint256.Int, row *core.Document) (uint256.Int, error) {
	for _, key := range row.Keys() {
		if !db.schema.Has(key) {
			return uint256.Int{}, &SchemaViolationError{Field: key, Columns: db.schema.Columns()}
		}
	}

	key := ts
	for {
		if _, occupied := db.tree.Lookup(key); !occupied {
			break
		}
		key.AddUint64(&key, 1)
	}
	db.tree.Insert(key, row)

	if key.Lt(&db.minTS) {
		db.minTS = key
	}
	if key.Gt(&db.maxTS) {
		db.maxTS = key
	}
	return key, nil
}

// GetOne returns a clone of the row stored at ts, decoupling the result
// from later index mutation.
func (db *Database) GetOne(ts uint256.Int) (*core.Document, bool) {
	row, ok := db.tree.Lookup(ts)
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// GetRange returns a document whose keys are the decimal forms of every
// record key in [lo, hi], ascending, and whose values are the rows.
// Bounds are inclusive; callers swap them if needed.
func (db *Database) GetRange(lo, hi uint256.Int) *core.Document {
	result := core.NewDocument()
	cur := db.tree.Cursor()
	cur.Seek(lo)
	for {
		key, row, ok := cur.Next()
		if !ok || key.Gt(&hi) {
			break
		}
		result.Set(core.FormatTimestamp(key), core.Embed(row.Clone()))
	}
	return result
}

// Aggregate folds field across every record. Strings that parse as
// floats coerce to their parsed value; numeric kinds convert directly;
// other kinds contribute zero. Rows without the field are skipped. MIN
// starts from +Inf and MAX from zero, and AVG divides by the total
// record count rather than the matching-row count; these are the
// documented quirks of the store and are asserted by its tests.
func (db *Database) Aggregate(op, field string) float64 {
	result := 0.0
	if op == AggMin {
		result = math.Inf(1)
	}

	cur := db.tree.Cursor()
	cur.SeekToFirst()
	for {
		_, row, ok := cur.Next()
		if !ok {
			break
		}
		val, present := row.Get(field)
		if !present {
			continue
		}
		converted := val.Numeric()

		switch op {
		case AggMin:
			if converted < result {
				result = converted
			}
		case AggMax:
			if converted > result {
				result = converted
			}
		default:
			// SUM, AVG, and any unrecognized operation accumulate.
			result += converted
		}
	}

	if op == AggAvg {
		if db.tree.Len() == 0 {
			return 0
		}
		result /= float64(db.tree.Len())
	}
	return result
}

// Remove deletes the record at ts. The timestamp bounds are left as-is
// even when the extremum is removed; staleness is acceptable.
func (db *Database) Remove(ts uint256.Int) bool {
	_, ok := db.tree.Remove(ts)
	return ok
}

// ClearAll discards every record and resets the timestamp bounds. The
// schema is kept.
func (db *Database) ClearAll() {
	db.tree = structures.NewBPTree(db.cfg.FanOut)
	db.resetBounds()
}

// replaceSchema swaps in a new schema, discarding all rows.
func (db *Database) replaceSchema(schema *core.Schema) {
	db.schema = schema
	db.tree = structures.NewBPTree(db.cfg.FanOut)
	db.resetBounds()
}
