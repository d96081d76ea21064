// Package catalog persists each table's schema as rows of a sibling
// `<table>_schema` table, grounded on the original engine's catalog.h. A
// ristretto cache sits in front of the on-disk lookup so repeated schema
// resolution during query planning doesn't re-scan the meta-table.
package catalog

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"pagedb/internal/storage/disk"
	"pagedb/internal/storage/table"
	"pagedb/internal/value"
)

// metaSchema is the schema of every `<table>_schema` meta-table, per the
// external table-file contract.
var metaSchema = value.Schema{
	{Name: "id", Type: value.TypeUint64},
	{Name: "name", Type: value.TypeString},
	{Name: "type", Type: value.TypeUint64},
	{Name: "length", Type: value.TypeUint64},
}

// Catalog resolves table names to schemas, backed by the data directory's
// `<table>_schema` files and cached in memory.
type Catalog struct {
	mu        sync.Mutex
	dataDir   string
	numFrames int
	cache     *ristretto.Cache[string, value.Schema]
}

func New(dataDir string, numFrames int) (*Catalog, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, value.Schema]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: create schema cache: %w", err)
	}
	return &Catalog{dataDir: dataDir, numFrames: numFrames, cache: cache}, nil
}

func (c *Catalog) schemaPath(name string) string {
	return filepath.Join(c.dataDir, name+"_schema")
}

func (c *Catalog) tablePath(name string) string {
	return filepath.Join(c.dataDir, name)
}

// TablePath returns the path of a table's row file.
func (c *Catalog) TablePath(name string) string { return c.tablePath(name) }

// SaveTableSchema persists schema for table name, replacing any schema
// previously saved for it.
func (c *Catalog) SaveTableSchema(name string, schema value.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.forgetLocked(name); err != nil {
		return err
	}

	metaTable, err := table.Open(c.schemaPath(name), metaSchema, c.numFrames)
	if err != nil {
		return fmt.Errorf("catalog: open schema table for %s: %w", name, err)
	}
	defer metaTable.Close()

	for i, col := range schema {
		row := value.Row{
			value.Uint64(uint64(i)),
			value.String(col.Name),
			value.Uint64(uint64(col.Type)),
			value.Uint64(uint64(col.Length)),
		}
		if _, err := metaTable.Insert(row); err != nil {
			return fmt.Errorf("catalog: save schema for %s: %w", name, err)
		}
	}

	c.cache.Set(name, schema, int64(len(schema)))
	c.cache.Wait()
	return nil
}

// FindTableSchema resolves name's schema, consulting the cache before
// scanning the on-disk meta-table.
func (c *Catalog) FindTableSchema(name string) (value.Schema, bool, error) {
	if schema, ok := c.cache.Get(name); ok {
		return schema, true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !disk.Exists(c.schemaPath(name)) {
		return nil, false, nil
	}

	metaTable, err := table.Open(c.schemaPath(name), metaSchema, c.numFrames)
	if err != nil {
		return nil, false, fmt.Errorf("catalog: open schema table for %s: %w", name, err)
	}
	defer metaTable.Close()

	var columns []value.ColumnSchema
	for p := range metaTable.PageCount() {
		n, err := metaTable.RowCountInPage(p)
		if err != nil {
			return nil, false, err
		}
		for slot := range n {
			row, err := metaTable.GetAt(p, slot)
			if err != nil {
				return nil, false, err
			}
			if len(row) == 0 {
				continue // tombstoned slot
			}
			columns = append(columns, value.ColumnSchema{
				Name:   row[1].Str,
				Type:   value.Type(row[2].U64),
				Length: uint32(row[3].U64),
			})
		}
	}

	schema := value.Schema(columns)
	c.cache.Set(name, schema, int64(len(schema)))
	c.cache.Wait()
	return schema, true, nil
}

// ForgetTableSchema deletes name's schema file and invalidates its cache
// entry.
func (c *Catalog) ForgetTableSchema(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forgetLocked(name)
}

func (c *Catalog) forgetLocked(name string) error {
	c.cache.Del(name)
	path := c.schemaPath(name)
	if !disk.Exists(path) {
		return nil
	}
	if err := disk.Remove(path); err != nil {
		return fmt.Errorf("catalog: forget schema for %s: %w", name, err)
	}
	return nil
}

func (c *Catalog) Close() { c.cache.Close() }
