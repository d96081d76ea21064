// Package dberr defines the sentinel error kinds raised by the storage and
// query layers. An operation that fails for one of these reasons returns an
// error wrapping the matching sentinel, so callers can classify it with
// errors.Is.
package dberr

import "errors"

var (
	// ErrSchemaMismatch covers a row that does not match a table's column
	// count/types, an unknown column name, or dropping a missing table.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrIndexInvariant is raised when reopening a B+tree whose metadata
	// page records a different key size or max page size than expected.
	ErrIndexInvariant = errors.New("index invariant mismatch")

	// ErrTypeMismatch is raised when an expression evaluates an operator
	// against an incompatible Value variant.
	ErrTypeMismatch = errors.New("type error")

	// ErrArithmeticOverflow is raised when +, -, *, or unary minus on int64
	// operands would wrap around.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrDuplicateKey is raised by page.LeafPage.Insert when the key
	// already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnsupportedOperation covers feature-flagged-unimplemented paths,
	// e.g. removing an unknown aggregate function.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrTableNotFound is raised when a table or its schema cannot be
	// located in the catalog.
	ErrTableNotFound = errors.New("table not found")

	// ErrPageFull is returned by table.Table.Insert when a row does not fit
	// even in an empty row page. Page-level inserts report a full page by
	// returning false instead.
	ErrPageFull = errors.New("page full")

	// ErrBufferPoolExhausted is returned by the buffer pool when no frame
	// can be evicted to satisfy a fetch.
	ErrBufferPoolExhausted = errors.New("buffer pool exhausted: no unpinned frame available")
)
