// Package page implements the two page encodings that sit directly on top
// of a buffer frame: the slotted variable-length row page and the B+tree
// page family. Grounded on the original engine's page.h/btree_page.h, with
// the slot-directory idiom restyled after the teacher's
// heapfile_manager/slots.go.
package page

import (
	"encoding/binary"
	"fmt"

	"pagedb/internal/storage"
	"pagedb/internal/storage/marshal"
	"pagedb/internal/value"
)

const wordSize = 8

const (
	wordRowCount  = 0
	wordUsedSpace = 1
	slotDirStart  = 2
)

// RowPage is a slotted page of variable-length rows, per the header layout:
// header[0]=row_count, header[1]=used_space, then an inline slot directory
// of (length, offset) word pairs, with payloads growing down from the high
// end of the page.
type RowPage struct {
	data []byte
}

// NewRowPage wraps a page's bytes as a RowPage view.
func NewRowPage(data []byte) *RowPage {
	return &RowPage{data: data}
}

// Init resets a freshly allocated page to an empty RowPage: zero rows, with
// used_space accounting for the two header words themselves.
func (p *RowPage) Init() {
	p.setWord(wordRowCount, 0)
	p.setWord(wordUsedSpace, 2*wordSize)
}

func (p *RowPage) word(i int) uint64 {
	off := i * wordSize
	return binary.LittleEndian.Uint64(p.data[off : off+wordSize])
}

func (p *RowPage) setWord(i int, v uint64) {
	off := i * wordSize
	binary.LittleEndian.PutUint64(p.data[off:off+wordSize], v)
}

func (p *RowPage) RowCount() storage.RowIndex { return storage.RowIndex(p.word(wordRowCount)) }

func (p *RowPage) UsedSpace() int { return int(p.word(wordUsedSpace)) }

func (p *RowPage) slotLength(slot storage.RowIndex) int {
	return int(p.word(slotDirStart + 2*int(slot)))
}

func (p *RowPage) slotOffset(slot storage.RowIndex) int {
	return int(p.word(slotDirStart + 2*int(slot) + 1))
}

func (p *RowPage) setSlot(slot storage.RowIndex, length, offset int) {
	p.setWord(slotDirStart+2*int(slot), uint64(length))
	p.setWord(slotDirStart+2*int(slot)+1, uint64(offset))
}

// IsTombstone reports whether slot has been deleted or never used.
func (p *RowPage) IsTombstone(slot storage.RowIndex) bool {
	if slot >= p.RowCount() {
		return true
	}
	return p.slotLength(slot) == 0
}

// Insert stores row, encoded by codec, into the lowest available slot.
// It returns false (no error) if the row does not fit.
func (p *RowPage) Insert(codec *marshal.Codec, row value.Row) (storage.RowIndex, bool, error) {
	payloadLen := 1 + codec.Size(row) // present flag + marshalled bytes
	n := p.RowCount()

	// A brand-new directory entry costs two more header words; reusing a
	// tombstone costs none.
	reuseSlot, hasReuse := p.findTombstone(n)
	directoryGrowth := 0
	if !hasReuse {
		directoryGrowth = 2 * wordSize
	}

	if p.UsedSpace()+payloadLen+directoryGrowth > storage.PageSize {
		return 0, false, nil
	}

	newOffset := p.lowestPayloadOffset() - payloadLen
	if newOffset < (slotDirStart+2*int(n+1))*wordSize {
		return 0, false, nil
	}

	buf := make([]byte, codec.Size(row))
	if _, err := codec.Encode(buf, row); err != nil {
		return 0, false, fmt.Errorf("row page insert: %w", err)
	}
	p.data[newOffset] = 1 // present
	copy(p.data[newOffset+1:newOffset+payloadLen], buf)

	var slot storage.RowIndex
	if hasReuse {
		slot = reuseSlot
	} else {
		slot = n
		p.setWord(wordRowCount, uint64(n+1))
	}
	p.setSlot(slot, payloadLen, newOffset)
	p.setWord(wordUsedSpace, uint64(p.UsedSpace()+payloadLen+directoryGrowth))

	return slot, true, nil
}

func (p *RowPage) findTombstone(n storage.RowIndex) (storage.RowIndex, bool) {
	for i := storage.RowIndex(0); i < n; i++ {
		if p.slotLength(i) == 0 {
			return i, true
		}
	}
	return 0, false
}

// lowestPayloadOffset returns the smallest offset among live payloads, or
// storage.PageSize if the page is empty (the frontier starts at the very
// end of the page).
func (p *RowPage) lowestPayloadOffset() int {
	lowest := storage.PageSize
	n := p.RowCount()
	for i := storage.RowIndex(0); i < n; i++ {
		if p.slotLength(i) == 0 {
			continue
		}
		if off := p.slotOffset(i); off < lowest {
			lowest = off
		}
	}
	return lowest
}

// Delete removes the row at slot, compacting the payload region so all live
// payloads stay contiguous at the top of the page.
func (p *RowPage) Delete(slot storage.RowIndex) error {
	n := p.RowCount()
	if slot >= n || p.slotLength(slot) == 0 {
		return fmt.Errorf("row page delete: slot %d already empty", slot)
	}

	deletedOffset := p.slotOffset(slot)
	deletedLen := p.slotLength(slot)
	frontier := p.lowestPayloadOffset()

	if frontier < deletedOffset {
		copy(p.data[frontier+deletedLen:deletedOffset+deletedLen], p.data[frontier:deletedOffset])
		for i := storage.RowIndex(0); i < n; i++ {
			if i == slot || p.slotLength(i) == 0 {
				continue
			}
			if off := p.slotOffset(i); off < deletedOffset {
				p.setSlot(i, p.slotLength(i), off+deletedLen)
			}
		}
	}

	p.setSlot(slot, 0, 0)

	directoryShrink := 0
	if slot == n-1 {
		p.setWord(wordRowCount, uint64(n-1))
		directoryShrink = 2 * wordSize
	}
	p.setWord(wordUsedSpace, uint64(p.UsedSpace()-deletedLen-directoryShrink))
	return nil
}

// GetRow decodes the row at slot. It returns an empty row if the slot is
// tombstoned or out of range.
func (p *RowPage) GetRow(codec *marshal.Codec, slot storage.RowIndex) (value.Row, error) {
	if p.IsTombstone(slot) {
		return value.Row{}, nil
	}
	offset := p.slotOffset(slot)
	length := p.slotLength(slot)
	if p.data[offset] == 0 {
		return value.Row{}, nil
	}
	return codec.Decode(p.data[offset+1 : offset+length])
}

func (p *RowPage) Data() []byte { return p.data }
