// Package table implements a single table's row file: a sequence of
// slotted row pages fetched through the buffer pool, grounded on the
// teacher's heapfile_manager idiom (find a page with room, else allocate a
// new one) and the original engine's table.h page-by-page layout.
package table

import (
	"fmt"
	"sync"

	"pagedb/internal/dberr"
	"pagedb/internal/storage"
	"pagedb/internal/storage/buffer"
	"pagedb/internal/storage/disk"
	"pagedb/internal/storage/marshal"
	"pagedb/internal/storage/page"
	"pagedb/internal/value"
)

// Table owns one row file addressed through a dedicated buffer pool.
type Table struct {
	mu    sync.Mutex
	disk  *disk.Disk
	pool  *buffer.Pool
	codec *marshal.Codec
}

// Open opens or creates the table file at path for the given schema. A
// freshly created file gets one allocated, initialized row page, mirroring
// the B+tree's metadata+leaf pair at first creation.
func Open(path string, schema value.Schema, numFrames int) (*Table, error) {
	d, err := disk.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table %s: %w", path, err)
	}
	codec, err := marshal.New(schema)
	if err != nil {
		return nil, err
	}
	t := &Table{
		disk:  d,
		pool:  buffer.New(d, numFrames),
		codec: codec,
	}

	if d.NumPages() == 0 {
		frame, err := t.pool.NewPage()
		if err != nil {
			return nil, fmt.Errorf("open table %s: allocate initial page: %w", path, err)
		}
		page.NewRowPage(frame.Data()).Init()
		t.pool.Unpin(frame.Page(), true)
	}

	return t, nil
}

func (t *Table) Schema() value.Schema { return t.codec.Schema() }

func (t *Table) Codec() *marshal.Codec { return t.codec }

// Insert finds the first page with room for row, allocating a new page if
// none has space, and returns the row's address.
func (t *Table) Insert(row value.Row) (storage.RowId, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	numPages := t.disk.NumPages()
	for p := storage.PageIndex(0); p < numPages; p++ {
		frame, err := t.pool.Fetch(p)
		if err != nil {
			return storage.RowId{}, fmt.Errorf("insert: fetch page %d: %w", p, err)
		}
		rp := page.NewRowPage(frame.Data())
		slot, ok, err := rp.Insert(t.codec, row)
		if err != nil {
			t.pool.Unpin(p, false)
			return storage.RowId{}, fmt.Errorf("insert into page %d: %w", p, err)
		}
		if ok {
			t.pool.Unpin(p, true)
			return storage.RowId{Page: p, Slot: slot}, nil
		}
		t.pool.Unpin(p, false)
	}

	frame, err := t.pool.NewPage()
	if err != nil {
		return storage.RowId{}, fmt.Errorf("insert: allocate page: %w", err)
	}
	rp := page.NewRowPage(frame.Data())
	rp.Init()
	slot, ok, err := rp.Insert(t.codec, row)
	if err != nil {
		t.pool.Unpin(frame.Page(), false)
		return storage.RowId{}, fmt.Errorf("insert into new page: %w", err)
	}
	if !ok {
		t.pool.Unpin(frame.Page(), false)
		return storage.RowId{}, fmt.Errorf("insert: row does not fit even in an empty page: %w", dberr.ErrPageFull)
	}
	t.pool.Unpin(frame.Page(), true)
	return storage.RowId{Page: frame.Page(), Slot: slot}, nil
}

// Get returns the row stored at id. It returns an empty row if the slot has
// been tombstoned.
func (t *Table) Get(id storage.RowId) (value.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frame, err := t.pool.Fetch(id.Page)
	if err != nil {
		return nil, fmt.Errorf("get %v: %w", id, err)
	}
	defer t.pool.Unpin(id.Page, false)

	rp := page.NewRowPage(frame.Data())
	return rp.GetRow(t.codec, id.Slot)
}

// Delete removes the row at id.
func (t *Table) Delete(id storage.RowId) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	frame, err := t.pool.Fetch(id.Page)
	if err != nil {
		return fmt.Errorf("delete %v: %w", id, err)
	}
	rp := page.NewRowPage(frame.Data())
	err = rp.Delete(id.Slot)
	t.pool.Unpin(id.Page, err == nil)
	if err != nil {
		return fmt.Errorf("delete %v: %w", id, err)
	}
	return nil
}

// PageCount reports how many pages the table file currently holds.
func (t *Table) PageCount() storage.PageIndex {
	return t.disk.NumPages()
}

// RowCountInPage reports how many directory slots (including tombstones)
// page holds.
func (t *Table) RowCountInPage(p storage.PageIndex) (storage.RowIndex, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frame, err := t.pool.Fetch(p)
	if err != nil {
		return 0, fmt.Errorf("row count page %d: %w", p, err)
	}
	defer t.pool.Unpin(p, false)
	return page.NewRowPage(frame.Data()).RowCount(), nil
}

// GetAt reads the row at (page, slot) directly, for sequential scans that
// don't go through a RowId from an index.
func (t *Table) GetAt(p storage.PageIndex, slot storage.RowIndex) (value.Row, error) {
	return t.Get(storage.RowId{Page: p, Slot: slot})
}

func (t *Table) Close() error {
	return t.pool.Close()
}

// Remove closes and deletes a table's backing file. The Table must not be
// used afterwards.
func (t *Table) Remove() error {
	path := t.disk.Path()
	if err := t.Close(); err != nil {
		return err
	}
	return disk.Remove(path)
}

func (t *Table) Path() string { return t.disk.Path() }
