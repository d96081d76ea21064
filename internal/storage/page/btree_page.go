package page

import (
	"encoding/binary"
	"fmt"

	"pagedb/internal/dberr"
	"pagedb/internal/storage"
	"pagedb/internal/storage/marshal"
	"pagedb/internal/value"
)

// PageType tags which of the three B+tree page layouts a page holds. It is
// always the first 4 bytes of a B+tree page.
type PageType uint32

const (
	PageTypeInvalid PageType = iota
	PageTypeMetadata
	PageTypeInternal
	PageTypeLeaf
)

func (t PageType) String() string {
	switch t {
	case PageTypeMetadata:
		return "metadata"
	case PageTypeInternal:
		return "internal"
	case PageTypeLeaf:
		return "leaf"
	default:
		return "invalid"
	}
}

const btreeHeaderOffset = 4

// BTreePage is the common header every B+tree page carries: a 4-byte type
// tag. The three typed views below interpret the rest of the bytes
// according to that tag.
type BTreePage struct {
	data    []byte
	keySize int // key_size_in_bytes, supplied by the owning index at open time
	maxSize int // max_page_size, supplied by the owning index at open time
}

func NewBTreePage(data []byte, keySize, maxSize int) *BTreePage {
	return &BTreePage{data: data, keySize: keySize, maxSize: maxSize}
}

func (p *BTreePage) Type() PageType {
	return PageType(binary.LittleEndian.Uint32(p.data[0:4]))
}

func (p *BTreePage) SetType(t PageType) {
	binary.LittleEndian.PutUint32(p.data[0:4], uint32(t))
}

func (p *BTreePage) KeySize() int   { return p.keySize }
func (p *BTreePage) MaxSize() int   { return p.maxSize }
func (p *BTreePage) Data() []byte   { return p.data }

func (p *BTreePage) getUint32(offset int) uint32 {
	return binary.LittleEndian.Uint32(p.data[offset : offset+4])
}

func (p *BTreePage) setUint32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(p.data[offset:offset+4], v)
}

// --- Metadata page ---
//
// page_type(4) | root_page_index(4) | key_size_in_bytes(4) | max_page_size(4)

type MetadataPage struct{ *BTreePage }

func (p MetadataPage) RootPageIndex() storage.PageIndex {
	return storage.PageIndex(p.getUint32(4))
}

func (p MetadataPage) SetRootPageIndex(idx storage.PageIndex) {
	p.setUint32(4, uint32(idx))
}

func (p MetadataPage) KeySizeInBytes() uint32 { return p.getUint32(8) }

func (p MetadataPage) SetKeySizeInBytes(v uint32) { p.setUint32(8, v) }

func (p MetadataPage) MaxPageSize() uint32 { return p.getUint32(12) }

func (p MetadataPage) SetMaxPageSize(v uint32) { p.setUint32(12, v) }

func (p MetadataPage) Init(root storage.PageIndex, keySize, maxSize uint32) {
	p.SetType(PageTypeMetadata)
	p.SetRootPageIndex(root)
	p.SetKeySizeInBytes(keySize)
	p.SetMaxPageSize(maxSize)
}

// MaxPageSizeFor computes max_page_size for a given key size, bounded by
// both the internal and leaf entry widths so a single value obeys both
// layouts, per the spec's sizing rule.
func MaxPageSizeFor(keySize int) int {
	internalEntry := keySize + 4 // + sizeof(PageIndex)
	leafEntry := keySize + 8     // + sizeof(RowId)
	maxInternal := (storage.PageSize - internalHeaderOffset) / internalEntry
	maxLeaf := (storage.PageSize - leafHeaderOffset) / leafEntry
	if maxInternal < maxLeaf {
		return maxInternal
	}
	return maxLeaf
}

// --- Internal page ---
//
// page_type(4) | size(4) | [key0(invalid) child0] [key1 child1] ...

const internalHeaderOffset = btreeHeaderOffset + 4

type InternalPage struct{ *BTreePage }

func (p InternalPage) Size() int { return int(p.getUint32(btreeHeaderOffset)) }

func (p InternalPage) setSize(v int) { p.setUint32(btreeHeaderOffset, uint32(v)) }

func (p InternalPage) entrySize() int { return p.keySize + 4 }

func (p InternalPage) entryOffset(index int) int {
	return internalHeaderOffset + index*p.entrySize()
}

// Key decodes the key row stored at index. Index 0 holds the sentinel key
// and should never be compared.
func (p InternalPage) Key(codec *marshal.Codec, index int) (value.Row, error) {
	off := p.entryOffset(index)
	return codec.Decode(p.data[off : off+p.keySize])
}

func (p InternalPage) setKey(codec *marshal.Codec, index int, key value.Row) error {
	off := p.entryOffset(index)
	_, err := codec.Encode(p.data[off:off+p.keySize], key)
	return err
}

// SetKey overwrites the key stored at index in place, used to patch a
// separator after a child rotated a key without splitting.
func (p InternalPage) SetKey(codec *marshal.Codec, index int, key value.Row) error {
	return p.setKey(codec, index, key)
}

func (p InternalPage) Child(index int) storage.PageIndex {
	off := p.entryOffset(index) + p.keySize
	return storage.PageIndex(p.getUint32(off))
}

func (p InternalPage) setChild(index int, child storage.PageIndex) {
	off := p.entryOffset(index) + p.keySize
	p.setUint32(off, uint32(child))
}

// InsertFirstEntry sets child 0, the page's sentinel entry, for a freshly
// initialized internal page.
func (p InternalPage) InsertFirstEntry(child storage.PageIndex) {
	p.setChild(0, child)
	p.setSize(1)
}

// InsertEntry shifts entries at and after index up by one and writes key,
// child at index.
func (p InternalPage) InsertEntry(codec *marshal.Codec, index int, key value.Row, child storage.PageIndex) error {
	for i := p.Size(); i > index; i-- {
		prevKey, err := p.Key(codec, i-1)
		if err != nil {
			return err
		}
		if err := p.setKey(codec, i, prevKey); err != nil {
			return err
		}
		p.setChild(i, p.Child(i-1))
	}
	if err := p.setKey(codec, index, key); err != nil {
		return err
	}
	p.setChild(index, child)
	p.setSize(p.Size() + 1)
	return nil
}

// RemoveEntry deletes the separator at index, shifting later entries down
// by one.
func (p InternalPage) RemoveEntry(codec *marshal.Codec, index int) error {
	n := p.Size()
	for i := index; i < n-1; i++ {
		k, err := p.Key(codec, i+1)
		if err != nil {
			return err
		}
		if err := p.setKey(codec, i, k); err != nil {
			return err
		}
		p.setChild(i, p.Child(i+1))
	}
	p.setSize(n - 1)
	return nil
}

// LookupWithIndex returns the child page to follow for key and the index of
// that entry, binary-searching for the largest key <= target.
func (p InternalPage) LookupWithIndex(codec *marshal.Codec, key value.Row) (storage.PageIndex, int, error) {
	l, r := 0, p.Size()-1
	for l < r {
		mid := (l + r + 1) / 2
		midKey, err := p.Key(codec, mid)
		if err != nil {
			return 0, 0, err
		}
		if value.CompareRows(midKey, key) <= 0 {
			l = mid
		} else {
			r = mid - 1
		}
	}
	return p.Child(l), l, nil
}

// Split moves the upper half of this page's entries into rhs and returns the
// separator key that should be inserted into the parent.
func (p InternalPage) Split(codec *marshal.Codec, rhs InternalPage) (value.Row, error) {
	firstIndex := p.Size() / 2
	firstKey, err := p.Key(codec, firstIndex)
	if err != nil {
		return nil, err
	}
	rhs.InsertFirstEntry(p.Child(firstIndex))

	counter := 1
	for i := firstIndex + 1; i < p.Size(); i++ {
		k, err := p.Key(codec, i)
		if err != nil {
			return nil, err
		}
		if err := rhs.InsertEntry(codec, counter, k, p.Child(i)); err != nil {
			return nil, err
		}
		counter++
	}
	p.setSize(p.Size() - counter)
	return firstKey, nil
}

// --- Leaf page ---
//
// page_type(4) | size(4) | prev_page_index(4) | next_page_index(4) |
// [key0 rowid0] [key1 rowid1] ...

const leafHeaderOffset = btreeHeaderOffset + 12

type LeafPage struct{ *BTreePage }

func (p LeafPage) Size() int { return int(p.getUint32(btreeHeaderOffset)) }

func (p LeafPage) setSize(v int) { p.setUint32(btreeHeaderOffset, uint32(v)) }

func (p LeafPage) PrevPageIndex() storage.PageIndex {
	return storage.PageIndex(p.getUint32(btreeHeaderOffset + 4))
}

func (p LeafPage) SetPrevPageIndex(idx storage.PageIndex) {
	p.setUint32(btreeHeaderOffset+4, uint32(idx))
}

func (p LeafPage) NextPageIndex() storage.PageIndex {
	return storage.PageIndex(p.getUint32(btreeHeaderOffset + 8))
}

func (p LeafPage) SetNextPageIndex(idx storage.PageIndex) {
	p.setUint32(btreeHeaderOffset+8, uint32(idx))
}

func (p LeafPage) entrySize() int { return p.keySize + 8 } // + sizeof(RowId)

func (p LeafPage) entryOffset(index int) int {
	return leafHeaderOffset + index*p.entrySize()
}

func (p LeafPage) Key(codec *marshal.Codec, index int) (value.Row, error) {
	off := p.entryOffset(index)
	return codec.Decode(p.data[off : off+p.keySize])
}

func (p LeafPage) setKey(codec *marshal.Codec, index int, key value.Row) error {
	off := p.entryOffset(index)
	_, err := codec.Encode(p.data[off:off+p.keySize], key)
	return err
}

func (p LeafPage) Value(index int) storage.RowId {
	off := p.entryOffset(index) + p.keySize
	return storage.RowId{
		Page: storage.PageIndex(p.getUint32(off)),
		Slot: storage.RowIndex(p.getUint32(off + 4)),
	}
}

func (p LeafPage) setValue(index int, rid storage.RowId) {
	off := p.entryOffset(index) + p.keySize
	p.setUint32(off, uint32(rid.Page))
	p.setUint32(off+4, uint32(rid.Slot))
}

func (p LeafPage) MinKey(codec *marshal.Codec) (value.Row, error) { return p.Key(codec, 0) }

func (p LeafPage) MaxKey(codec *marshal.Codec) (value.Row, error) { return p.Key(codec, p.Size()-1) }

func (p LeafPage) MinValue() storage.RowId { return p.Value(0) }

func (p LeafPage) MaxValue() storage.RowId { return p.Value(p.Size() - 1) }

// LowerBound returns the index of the first entry whose key is >= key.
func (p LeafPage) LowerBound(codec *marshal.Codec, key value.Row) (int, error) {
	l, r := 0, p.Size()
	for l < r {
		mid := (l + r) / 2
		midKey, err := p.Key(codec, mid)
		if err != nil {
			return 0, err
		}
		if value.CompareRows(midKey, key) < 0 {
			l = mid + 1
		} else {
			r = mid
		}
	}
	return l, nil
}

func (p LeafPage) Lookup(codec *marshal.Codec, key value.Row) (storage.RowId, bool, error) {
	pos, err := p.LowerBound(codec, key)
	if err != nil {
		return storage.RowId{}, false, err
	}
	if pos == p.Size() {
		return storage.RowId{}, false, nil
	}
	got, err := p.Key(codec, pos)
	if err != nil {
		return storage.RowId{}, false, err
	}
	if value.CompareRows(got, key) != 0 {
		return storage.RowId{}, false, nil
	}
	return p.Value(pos), true, nil
}

// Insert inserts key, rid in sorted position. It returns false if the page
// is already at max_page_size.
func (p LeafPage) Insert(codec *marshal.Codec, key value.Row, rid storage.RowId) (bool, error) {
	if p.Size() >= p.maxSize {
		return false, nil
	}

	index, err := p.LowerBound(codec, key)
	if err != nil {
		return false, err
	}
	if index != p.Size() {
		existing, err := p.Key(codec, index)
		if err != nil {
			return false, err
		}
		if value.CompareRows(existing, key) == 0 {
			return false, fmt.Errorf("leaf insert %v: %w", key, dberr.ErrDuplicateKey)
		}
	}

	for i := p.Size(); i > index; i-- {
		prevKey, err := p.Key(codec, i-1)
		if err != nil {
			return false, err
		}
		if err := p.setKey(codec, i, prevKey); err != nil {
			return false, err
		}
		p.setValue(i, p.Value(i-1))
	}
	if err := p.setKey(codec, index, key); err != nil {
		return false, err
	}
	p.setValue(index, rid)
	p.setSize(p.Size() + 1)
	return true, nil
}

// Remove deletes key if present, returning whether it was found.
func (p LeafPage) Remove(codec *marshal.Codec, key value.Row) (bool, error) {
	size := p.Size()
	if size == 0 {
		return false, nil
	}
	pos, err := p.LowerBound(codec, key)
	if err != nil {
		return false, err
	}
	if pos == size {
		return false, nil
	}
	got, err := p.Key(codec, pos)
	if err != nil {
		return false, err
	}
	if value.CompareRows(got, key) != 0 {
		return false, nil
	}
	for i := pos + 1; i < size; i++ {
		k, err := p.Key(codec, i)
		if err != nil {
			return false, err
		}
		if err := p.setKey(codec, i-1, k); err != nil {
			return false, err
		}
		p.setValue(i-1, p.Value(i))
	}
	p.setSize(size - 1)
	return true, nil
}

// Split moves the upper half of this leaf's entries to rhs and returns
// rhs's new minimum key.
func (p LeafPage) Split(codec *marshal.Codec, rhs LeafPage) (value.Row, error) {
	half := p.Size() / 2
	for i := half; i < p.Size(); i++ {
		k, err := p.Key(codec, i)
		if err != nil {
			return nil, err
		}
		if _, err := rhs.Insert(codec, k, p.Value(i)); err != nil {
			return nil, err
		}
	}
	p.setSize(half)
	return rhs.MinKey(codec)
}
