// Package r2d2 provides a single-node, in-memory time-series document
// store keyed by a monotonic 128-bit timestamp. Rows are typed documents
// validated against a user-defined schema. The store supports point
// lookups, inclusive range scans, numeric aggregates, binary snapshots,
// and CSV export.
package r2d2

import (
	"fmt"
	"os"

	"github.com/scigolib/r2d2/internal/core"
	"github.com/scigolib/r2d2/internal/structures"
	"github.com/scigolib/r2d2/internal/utils"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultDataPath = "data"
	DefaultFanOut   = structures.DefaultFanOut
)

// Config carries the process-wide store settings. The zero value selects
// the defaults.
type Config struct {
	// DataPath is the directory holding snapshots, schema files, and
	// CSV dumps. Created on Init if missing.
	DataPath string
	// FanOut is the index fan-out. Values below 3 are clamped.
	FanOut int
}

func (c Config) withDefaults() Config {
	if c.DataPath == "" {
		c.DataPath = DefaultDataPath
	}
	if c.FanOut == 0 {
		c.FanOut = DefaultFanOut
	}
	return c
}

// Init bootstraps a store with the default schema
// (store, product, number_sold — all number) and ensures the data
// directory exists.
func Init(cfg Config) (*Database, error) {
	return New(
		[]string{"store", "product", "number_sold"},
		[]string{core.ColumnNumber, core.ColumnNumber, core.ColumnNumber},
		cfg,
	)
}

// New creates an empty store bound to the given schema. The fields and
// types slices must have equal length.
func New(fields, types []string, cfg Config) (*Database, error) {
	schema, err := core.NewSchema(fields, types)
	if err != nil {
		return nil, err
	}
	return newDatabase(schema, cfg)
}

func newDatabase(schema *core.Schema, cfg Config) (*Database, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return nil, utils.WrapError("data directory bootstrap failed", err)
	}

	db := &Database{
		tree:   structures.NewBPTree(cfg.FanOut),
		schema: schema,
		cfg:    cfg,
	}
	db.resetBounds()
	return db, nil
}

// SchemaViolationError reports an insert whose row carries a field that
// is not part of the active schema.
type SchemaViolationError struct {
	Field   string
	Columns []string
}

// Error implements the error interface.
func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("field %q is not in the schema (columns: %v)", e.Field, e.Columns)
}
