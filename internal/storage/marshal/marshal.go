// Package marshal implements the deterministic row<->bytes codec every page
// format builds on, grounded on the original engine's marshal.cpp.
package marshal

import (
	"encoding/binary"
	"fmt"

	"pagedb/internal/dberr"
	"pagedb/internal/value"
)

// Codec encodes and decodes rows of a fixed schema.
type Codec struct {
	schema value.Schema
}

func New(schema value.Schema) (*Codec, error) {
	if len(schema) > value.MaxColumns {
		return nil, fmt.Errorf("marshal: schema has %d columns, max %d", len(schema), value.MaxColumns)
	}
	return &Codec{schema: schema}, nil
}

func (c *Codec) Schema() value.Schema { return c.schema }

// FixedKeySize returns the constant number of bytes Encode writes for any
// non-null row of this schema, for use as a B+tree key_size_in_bytes. It is
// an error if the schema contains a variable-length string column, since
// B+tree keys must have one fixed width.
func (c *Codec) FixedKeySize() (int, error) {
	size := 8 // null bitmap
	for _, col := range c.schema {
		switch col.Type {
		case value.TypeBoolean:
			size += 1
		case value.TypeUint64, value.TypeInt64:
			size += 8
		case value.TypeVarchar:
			size += int(col.Length)
		case value.TypeString:
			return 0, fmt.Errorf("marshal: string columns cannot be used as a fixed-width key")
		}
	}
	return size, nil
}

func nullBitmap(row value.Row) uint64 {
	var nulls uint64
	for i, v := range row {
		if v.IsNull() {
			nulls |= 1 << uint(i)
		}
	}
	return nulls
}

// Size returns the exact number of bytes Encode will write for row.
func (c *Codec) Size(row value.Row) int {
	nulls := nullBitmap(row)
	size := 8 // null bitmap
	for i, col := range c.schema {
		if nulls&(1<<uint(i)) != 0 {
			continue
		}
		switch col.Type {
		case value.TypeBoolean:
			size += 1
		case value.TypeUint64, value.TypeInt64:
			size += 8
		case value.TypeVarchar:
			size += int(col.Length)
		case value.TypeString:
			size += 16 // length + deferred offset
			size += len(row[i].Str)
		}
	}
	return size
}

// Encode writes row into buf (which must be at least Size(row) bytes) against
// the codec's schema, and returns the number of bytes written.
func (c *Codec) Encode(buf []byte, row value.Row) (int, error) {
	if len(row) != len(c.schema) {
		return 0, fmt.Errorf("marshal encode: row has %d columns, schema has %d: %w", len(row), len(c.schema), dberr.ErrSchemaMismatch)
	}

	nulls := nullBitmap(row)
	binary.LittleEndian.PutUint64(buf[0:8], nulls)
	pos := 8

	// deferredOffset records, for each string column in schema order, where
	// its 8-byte offset field lives so it can be backfilled once the
	// out-of-line payload region's start position is known. Each string's
	// offset is written exactly once, after the whole fixed region has been
	// laid out.
	type deferred struct {
		column    int
		offsetPos int
	}
	var deferredStrings []deferred

	for i, col := range c.schema {
		if nulls&(1<<uint(i)) != 0 {
			continue
		}
		v := row[i]
		switch col.Type {
		case value.TypeBoolean:
			if v.Bool {
				buf[pos] = 1
			} else {
				buf[pos] = 0
			}
			pos++
		case value.TypeUint64:
			binary.LittleEndian.PutUint64(buf[pos:pos+8], v.U64)
			pos += 8
		case value.TypeInt64:
			binary.LittleEndian.PutUint64(buf[pos:pos+8], uint64(v.I64))
			pos += 8
		case value.TypeVarchar:
			n := copy(buf[pos:pos+int(col.Length)], v.Str)
			for j := pos + n; j < pos+int(col.Length); j++ {
				buf[j] = 0
			}
			pos += int(col.Length)
		case value.TypeString:
			binary.LittleEndian.PutUint64(buf[pos:pos+8], uint64(len(v.Str)))
			pos += 8
			deferredStrings = append(deferredStrings, deferred{column: i, offsetPos: pos})
			pos += 8 // placeholder, backfilled below
		default:
			return 0, fmt.Errorf("marshal encode: unknown column type %v: %w", col.Type, dberr.ErrTypeMismatch)
		}
	}

	for _, d := range deferredStrings {
		offset := pos
		binary.LittleEndian.PutUint64(buf[d.offsetPos:d.offsetPos+8], uint64(offset))
		s := row[d.column].Str
		copy(buf[pos:pos+len(s)], s)
		pos += len(s)
	}

	return pos, nil
}

// Decode reads a row out of buf, which must begin at the row's start (the
// null bitmap). buf must extend far enough to cover the out-of-line string
// payloads addressed by offset.
func (c *Codec) Decode(buf []byte) (value.Row, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("marshal decode: buffer too short")
	}
	nulls := binary.LittleEndian.Uint64(buf[0:8])
	pos := 8

	row := make(value.Row, len(c.schema))
	for i, col := range c.schema {
		if nulls&(1<<uint(i)) != 0 {
			row[i] = value.Null()
			continue
		}
		switch col.Type {
		case value.TypeBoolean:
			row[i] = value.Bool(buf[pos] != 0)
			pos++
		case value.TypeUint64:
			row[i] = value.Uint64(binary.LittleEndian.Uint64(buf[pos : pos+8]))
			pos += 8
		case value.TypeInt64:
			row[i] = value.Int64(int64(binary.LittleEndian.Uint64(buf[pos : pos+8])))
			pos += 8
		case value.TypeVarchar:
			n := strnlen(buf[pos:pos+int(col.Length)], int(col.Length))
			row[i] = value.Varchar(string(buf[pos : pos+n]))
			pos += int(col.Length)
		case value.TypeString:
			length := binary.LittleEndian.Uint64(buf[pos : pos+8])
			pos += 8
			offset := binary.LittleEndian.Uint64(buf[pos : pos+8])
			pos += 8
			row[i] = value.String(string(buf[offset : offset+length]))
		default:
			return nil, fmt.Errorf("marshal decode: unknown column type %v: %w", col.Type, dberr.ErrTypeMismatch)
		}
	}
	return row, nil
}

func strnlen(b []byte, max int) int {
	for i := 0; i < max; i++ {
		if b[i] == 0 {
			return i
		}
	}
	return max
}
