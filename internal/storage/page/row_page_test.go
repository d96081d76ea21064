package page

import (
	"strings"
	"testing"

	"pagedb/internal/storage"
	"pagedb/internal/storage/marshal"
	"pagedb/internal/value"
)

// stringOfPayload builds a row whose encoded payload (including the
// present-byte) is exactly size bytes, for a single-string-column schema.
func stringOfPayload(size int) value.Row {
	strLen := size - 1 - 24 // present byte + (8-byte bitmap + 8-byte length + 8-byte offset)
	return value.Row{value.String(strings.Repeat("x", strLen))}
}

func newRowPage(t *testing.T) (*RowPage, *marshal.Codec) {
	t.Helper()
	codec, err := marshal.New(value.Schema{{Name: "data", Type: value.TypeString}})
	if err != nil {
		t.Fatalf("marshal.New: %v", err)
	}
	data := make([]byte, storage.PageSize)
	rp := NewRowPage(data)
	rp.Init()
	return rp, codec
}

// TestRowPageCompactionAfterDelete inserts rows of sizes 100, 200, 300,
// deletes the middle one, then inserts a 150-byte row that must land in the
// freed hole (by reusing its tombstoned slot) rather than growing the
// directory, and checks used_space accounting stays exact throughout.
func TestRowPageCompactionAfterDelete(t *testing.T) {
	rp, codec := newRowPage(t)

	var slots []storage.RowIndex
	for _, size := range []int{100, 200, 300} {
		slot, ok, err := rp.Insert(codec, stringOfPayload(size))
		if err != nil {
			t.Fatalf("insert size %d: %v", size, err)
		}
		if !ok {
			t.Fatalf("insert size %d: did not fit", size)
		}
		slots = append(slots, slot)
	}

	wantUsed := 2*wordSize + 3*2*wordSize + 100 + 200 + 300
	if got := rp.UsedSpace(); got != wantUsed {
		t.Fatalf("used_space after inserts = %d, want %d", got, wantUsed)
	}

	if err := rp.Delete(slots[1]); err != nil {
		t.Fatalf("delete middle row: %v", err)
	}
	wantUsed -= 200
	if got := rp.UsedSpace(); got != wantUsed {
		t.Fatalf("used_space after delete = %d, want %d", got, wantUsed)
	}
	if !rp.IsTombstone(slots[1]) {
		t.Fatal("deleted slot should be a tombstone")
	}

	newSlot, ok, err := rp.Insert(codec, stringOfPayload(150))
	if err != nil {
		t.Fatalf("insert into hole: %v", err)
	}
	if !ok {
		t.Fatal("150-byte row should fit into the freed 200-byte hole")
	}
	if newSlot != slots[1] {
		t.Errorf("expected the freed tombstone slot %d to be reused, got %d", slots[1], newSlot)
	}
	wantUsed += 150 // no directory growth: reused an existing slot
	if got := rp.UsedSpace(); got != wantUsed {
		t.Fatalf("used_space after reuse-insert = %d, want %d", got, wantUsed)
	}

	for i, slot := range []storage.RowIndex{slots[0], newSlot, slots[2]} {
		row, err := rp.GetRow(codec, slot)
		if err != nil {
			t.Fatalf("GetRow(%d): %v", slot, err)
		}
		if len(row) != 1 || row[0].IsNull() {
			t.Errorf("slot %d (case %d): unexpected row %v", slot, i, row)
		}
	}
}

func TestRowPageInsertReturnsFalseWhenFull(t *testing.T) {
	rp, codec := newRowPage(t)
	for i := 0; i < 20; i++ {
		if _, _, err := rp.Insert(codec, stringOfPayload(200)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	_, ok, err := rp.Insert(codec, stringOfPayload(200))
	if err != nil {
		t.Fatalf("insert into full page: %v", err)
	}
	if ok {
		t.Fatal("expected insert to report no room once the page is full")
	}
}

func TestRowPageGetRowOnTombstoneIsEmpty(t *testing.T) {
	rp, codec := newRowPage(t)
	slot, ok, err := rp.Insert(codec, stringOfPayload(100))
	if err != nil || !ok {
		t.Fatalf("insert: ok=%v err=%v", ok, err)
	}
	if err := rp.Delete(slot); err != nil {
		t.Fatalf("delete: %v", err)
	}
	row, err := rp.GetRow(codec, slot)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if len(row) != 0 {
		t.Errorf("GetRow on tombstone = %v, want empty row", row)
	}
}
