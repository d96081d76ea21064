// Package btree implements the on-disk B+tree index: lookup, insert with
// sibling-borrow-before-split, remove, and predicate-filtered range scans.
// Grounded on the original engine's btree.cpp/btree.h/btree_page.h
// descend_insert/descend_remove algorithm, restyled without exceptions.
package btree

import (
	"fmt"

	"pagedb/internal/dberr"
	"pagedb/internal/storage"
	"pagedb/internal/storage/buffer"
	"pagedb/internal/storage/disk"
	"pagedb/internal/storage/marshal"
	"pagedb/internal/storage/page"
	"pagedb/internal/value"
)

const metadataPageIndex storage.PageIndex = 0

// Comparator is one of the six predicate operators a range scan can filter
// entries on.
type Comparator int

const (
	Eq Comparator = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

// Predicate filters range-scan entries on one key column. Predicates in a
// scan are combined with logical AND.
type Predicate struct {
	Column string
	Op     Comparator
	Value  value.Value
}

// Index is a single B+tree file: page 0 is the metadata page, page 1 the
// initial leaf, with further pages allocated on demand.
type Index struct {
	disk      *disk.Disk
	pool      *buffer.Pool
	keySchema value.Schema
	codec     *marshal.Codec
	keySize   int
	maxSize   int
}

// Open opens or creates the B+tree file at path for the given key schema,
// using the default max page size computed by page.MaxPageSizeFor. A freshly
// created file gets a metadata page and one empty leaf. Reopening an existing
// file validates that key size and max page size still match.
func Open(path string, keySchema value.Schema, numFrames int) (*Index, error) {
	return OpenWithMaxSize(path, keySchema, numFrames, 0)
}

// OpenWithMaxSize is Open but lets the caller override max_page_size instead
// of deriving it from page.MaxPageSizeFor, per spec.md §4.4 ("Unless a
// caller overrides it at index creation"). Passing maxSize <= 0 falls back to
// the computed default. An explicit maxSize may not exceed what a page can
// physically hold for this key size.
func OpenWithMaxSize(path string, keySchema value.Schema, numFrames int, maxSize int) (*Index, error) {
	d, err := disk.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open btree %s: %w", path, err)
	}
	codec, err := marshal.New(keySchema)
	if err != nil {
		return nil, err
	}
	keySize, err := codec.FixedKeySize()
	if err != nil {
		return nil, fmt.Errorf("open btree %s: %w", path, err)
	}

	capacity := page.MaxPageSizeFor(keySize)
	if maxSize <= 0 {
		maxSize = capacity
	} else if maxSize > capacity {
		return nil, fmt.Errorf("open btree %s: max page size %d exceeds capacity %d for key size %d", path, maxSize, capacity, keySize)
	}

	idx := &Index{
		disk:      d,
		pool:      buffer.New(d, numFrames),
		keySchema: keySchema,
		codec:     codec,
		keySize:   keySize,
		maxSize:   maxSize,
	}

	if d.NumPages() == 0 {
		if err := idx.initializeEmpty(); err != nil {
			return nil, err
		}
		return idx, nil
	}

	if err := idx.validateMetadata(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) initializeEmpty() error {
	metaFrame, err := idx.pool.NewPage()
	if err != nil {
		return fmt.Errorf("allocate metadata page: %w", err)
	}
	if metaFrame.Page() != metadataPageIndex {
		return fmt.Errorf("btree: expected metadata page at index 0, got %d", metaFrame.Page())
	}

	leafFrame, err := idx.pool.NewPage()
	if err != nil {
		return fmt.Errorf("allocate initial leaf: %w", err)
	}
	leaf := idx.leafView(leafFrame)
	leaf.SetType(page.PageTypeLeaf)
	leaf.SetPrevPageIndex(storage.InvalidPageIndex)
	leaf.SetNextPageIndex(storage.InvalidPageIndex)
	idx.pool.Unpin(leafFrame.Page(), true)

	meta := idx.metadataView(metaFrame)
	meta.Init(leafFrame.Page(), uint32(idx.keySize), uint32(idx.maxSize))
	idx.pool.Unpin(metaFrame.Page(), true)

	return nil
}

func (idx *Index) validateMetadata() error {
	frame, err := idx.pool.Fetch(metadataPageIndex)
	if err != nil {
		return fmt.Errorf("read metadata page: %w", err)
	}
	defer idx.pool.Unpin(metadataPageIndex, false)

	meta := idx.metadataView(frame)
	if int(meta.KeySizeInBytes()) != idx.keySize {
		return fmt.Errorf("btree index inconsistency: expected key size %d, file has %d: %w", idx.keySize, meta.KeySizeInBytes(), dberr.ErrIndexInvariant)
	}
	if int(meta.MaxPageSize()) != idx.maxSize {
		return fmt.Errorf("btree index inconsistency: expected max page size %d, file has %d: %w", idx.maxSize, meta.MaxPageSize(), dberr.ErrIndexInvariant)
	}
	return nil
}

func (idx *Index) rawView(f *buffer.Frame) *page.BTreePage {
	return page.NewBTreePage(f.Data(), idx.keySize, idx.maxSize)
}

func (idx *Index) metadataView(f *buffer.Frame) page.MetadataPage {
	return page.MetadataPage{BTreePage: idx.rawView(f)}
}

func (idx *Index) internalView(f *buffer.Frame) page.InternalPage {
	return page.InternalPage{BTreePage: idx.rawView(f)}
}

func (idx *Index) leafView(f *buffer.Frame) page.LeafPage {
	return page.LeafPage{BTreePage: idx.rawView(f)}
}

func (idx *Index) rootIndex() (storage.PageIndex, error) {
	frame, err := idx.pool.Fetch(metadataPageIndex)
	if err != nil {
		return 0, err
	}
	defer idx.pool.Unpin(metadataPageIndex, false)
	return idx.metadataView(frame).RootPageIndex(), nil
}

func (idx *Index) setRootIndex(root storage.PageIndex) error {
	frame, err := idx.pool.Fetch(metadataPageIndex)
	if err != nil {
		return err
	}
	idx.metadataView(frame).SetRootPageIndex(root)
	idx.pool.Unpin(metadataPageIndex, true)
	return nil
}

// Lookup returns the RowId stored for key, if present.
func (idx *Index) Lookup(key value.Row) (storage.RowId, bool, error) {
	node, err := idx.rootIndex()
	if err != nil {
		return storage.RowId{}, false, err
	}

	for {
		frame, err := idx.pool.Fetch(node)
		if err != nil {
			return storage.RowId{}, false, err
		}
		raw := idx.rawView(frame)
		switch raw.Type() {
		case page.PageTypeLeaf:
			leaf := page.LeafPage{BTreePage: raw}
			rid, ok, err := leaf.Lookup(idx.codec, key)
			idx.pool.Unpin(node, false)
			return rid, ok, err
		case page.PageTypeInternal:
			internal := page.InternalPage{BTreePage: raw}
			child, _, err := internal.LookupWithIndex(idx.codec, key)
			idx.pool.Unpin(node, false)
			if err != nil {
				return storage.RowId{}, false, err
			}
			node = child
		default:
			idx.pool.Unpin(node, false)
			return storage.RowId{}, false, fmt.Errorf("btree lookup: unexpected page type %v", raw.Type())
		}
	}
}

type insertResult struct {
	skip    bool
	newPage bool
	page    storage.PageIndex
	oldKey  value.Row
	newKey  value.Row
}

// tryInsertLeaf inserts key/rid into the leaf at nodeIndex if it has room,
// without triggering a split, mirroring BTree::try_insert.
func (idx *Index) tryInsertLeaf(nodeIndex storage.PageIndex, key value.Row, rid storage.RowId) (bool, error) {
	frame, err := idx.pool.Fetch(nodeIndex)
	if err != nil {
		return false, err
	}
	leaf := idx.leafView(frame)
	if leaf.Size() >= idx.maxSize {
		idx.pool.Unpin(nodeIndex, false)
		return false, nil
	}
	_, err = leaf.Insert(idx.codec, key, rid)
	idx.pool.Unpin(nodeIndex, err == nil)
	return err == nil, err
}

// Insert adds key -> rid to the tree.
func (idx *Index) Insert(key value.Row, rid storage.RowId) error {
	root, err := idx.rootIndex()
	if err != nil {
		return err
	}

	resp, err := idx.descendInsert(root, key, rid)
	if err != nil {
		return err
	}
	if resp.skip {
		return nil
	}

	if resp.newPage {
		frame, err := idx.pool.NewPage()
		if err != nil {
			return fmt.Errorf("insert: allocate new root: %w", err)
		}
		newRoot := idx.internalView(frame)
		newRoot.SetType(page.PageTypeInternal)
		newRoot.InsertFirstEntry(root)
		if err := newRoot.InsertEntry(idx.codec, 1, resp.newKey, resp.page); err != nil {
			idx.pool.Unpin(frame.Page(), true)
			return err
		}
		idx.pool.Unpin(frame.Page(), true)
		if err := idx.setRootIndex(frame.Page()); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) descendInsert(nodeIndex storage.PageIndex, key value.Row, rid storage.RowId) (insertResult, error) {
	frame, err := idx.pool.Fetch(nodeIndex)
	if err != nil {
		return insertResult{}, err
	}
	raw := idx.rawView(frame)

	switch raw.Type() {
	case page.PageTypeLeaf:
		return idx.descendInsertLeaf(nodeIndex, frame, key, rid)
	case page.PageTypeInternal:
		return idx.descendInsertInternal(nodeIndex, frame, key, rid)
	default:
		idx.pool.Unpin(nodeIndex, false)
		return insertResult{}, fmt.Errorf("btree insert: unexpected page type %v", raw.Type())
	}
}

func (idx *Index) descendInsertLeaf(nodeIndex storage.PageIndex, frame *buffer.Frame, key value.Row, rid storage.RowId) (insertResult, error) {
	leaf := idx.leafView(frame)

	if leaf.Size() < idx.maxSize {
		ok, err := leaf.Insert(idx.codec, key, rid)
		idx.pool.Unpin(nodeIndex, ok)
		if err != nil {
			return insertResult{}, err
		}
		return insertResult{skip: true}, nil
	}

	prevIndex := leaf.PrevPageIndex()
	nextIndex := leaf.NextPageIndex()

	// Try left sibling borrow first: it keeps the left sibling denser and
	// bounds downstream rotations, per the tie-break rule.
	if prevIndex != storage.InvalidPageIndex {
		firstKey, err := leaf.MinKey(idx.codec)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return insertResult{}, err
		}
		firstValue := leaf.MinValue()

		ok, err := idx.tryInsertLeaf(prevIndex, firstKey, firstValue)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return insertResult{}, err
		}
		if ok {
			if _, err := leaf.Remove(idx.codec, firstKey); err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return insertResult{}, err
			}
			if _, err := leaf.Insert(idx.codec, key, rid); err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return insertResult{}, err
			}
			newKey, err := leaf.MinKey(idx.codec)
			idx.pool.Unpin(nodeIndex, true)
			if err != nil {
				return insertResult{}, err
			}
			return insertResult{oldKey: firstKey, newKey: newKey}, nil
		}
	}

	if nextIndex != storage.InvalidPageIndex {
		nextFrame, err := idx.pool.Fetch(nextIndex)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return insertResult{}, err
		}
		nextLeaf := idx.leafView(nextFrame)
		oldKey, err := nextLeaf.MinKey(idx.codec)
		idx.pool.Unpin(nextIndex, false)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return insertResult{}, err
		}

		lastKey, err := leaf.MaxKey(idx.codec)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return insertResult{}, err
		}
		lastValue := leaf.MaxValue()

		if value.CompareRows(lastKey, key) < 0 {
			ok, err := idx.tryInsertLeaf(nextIndex, key, rid)
			if err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return insertResult{}, err
			}
			if ok {
				idx.pool.Unpin(nodeIndex, false)
				return insertResult{oldKey: oldKey, newKey: key}, nil
			}
		} else {
			ok, err := idx.tryInsertLeaf(nextIndex, lastKey, lastValue)
			if err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return insertResult{}, err
			}
			if ok {
				if _, err := leaf.Remove(idx.codec, lastKey); err != nil {
					idx.pool.Unpin(nodeIndex, false)
					return insertResult{}, err
				}
				if _, err := leaf.Insert(idx.codec, key, rid); err != nil {
					idx.pool.Unpin(nodeIndex, false)
					return insertResult{}, err
				}
				idx.pool.Unpin(nodeIndex, true)
				return insertResult{oldKey: oldKey, newKey: lastKey}, nil
			}
		}
	}

	// No sibling could absorb the overflow: split.
	newFrame, err := idx.pool.NewPage()
	if err != nil {
		idx.pool.Unpin(nodeIndex, false)
		return insertResult{}, fmt.Errorf("leaf split: allocate: %w", err)
	}
	newLeaf := idx.leafView(newFrame)
	newLeaf.SetType(page.PageTypeLeaf)

	leaf.SetNextPageIndex(newFrame.Page())
	newLeaf.SetPrevPageIndex(nodeIndex)
	newLeaf.SetNextPageIndex(nextIndex)
	if nextIndex != storage.InvalidPageIndex {
		nextFrame, err := idx.pool.Fetch(nextIndex)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			idx.pool.Unpin(newFrame.Page(), false)
			return insertResult{}, err
		}
		idx.leafView(nextFrame).SetPrevPageIndex(newFrame.Page())
		idx.pool.Unpin(nextIndex, true)
	}

	if _, err := leaf.Split(idx.codec, newLeaf); err != nil {
		idx.pool.Unpin(nodeIndex, false)
		idx.pool.Unpin(newFrame.Page(), false)
		return insertResult{}, err
	}

	minOfNew, err := newLeaf.MinKey(idx.codec)
	if err != nil {
		idx.pool.Unpin(nodeIndex, false)
		idx.pool.Unpin(newFrame.Page(), false)
		return insertResult{}, err
	}

	resp := insertResult{newPage: true, page: newFrame.Page(), oldKey: minOfNew, newKey: minOfNew}

	if value.CompareRows(key, minOfNew) < 0 {
		if _, err := leaf.Insert(idx.codec, key, rid); err != nil {
			idx.pool.Unpin(nodeIndex, false)
			idx.pool.Unpin(newFrame.Page(), false)
			return insertResult{}, err
		}
	} else {
		if _, err := newLeaf.Insert(idx.codec, key, rid); err != nil {
			idx.pool.Unpin(nodeIndex, false)
			idx.pool.Unpin(newFrame.Page(), false)
			return insertResult{}, err
		}
		minOfNew, err = newLeaf.MinKey(idx.codec)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			idx.pool.Unpin(newFrame.Page(), false)
			return insertResult{}, err
		}
		resp.newKey = minOfNew
	}

	idx.pool.Unpin(nodeIndex, true)
	idx.pool.Unpin(newFrame.Page(), true)
	return resp, nil
}

func (idx *Index) descendInsertInternal(nodeIndex storage.PageIndex, frame *buffer.Frame, key value.Row, rid storage.RowId) (insertResult, error) {
	internal := idx.internalView(frame)
	child, _, err := internal.LookupWithIndex(idx.codec, key)
	if err != nil {
		idx.pool.Unpin(nodeIndex, false)
		return insertResult{}, err
	}

	resp, err := idx.descendInsert(child, key, rid)
	if err != nil {
		idx.pool.Unpin(nodeIndex, false)
		return insertResult{}, err
	}

	if resp.skip {
		idx.pool.Unpin(nodeIndex, false)
		return resp, nil
	}

	if resp.newPage {
		if internal.Size() < idx.maxSize {
			_, pos, err := internal.LookupWithIndex(idx.codec, resp.newKey)
			if err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return insertResult{}, err
			}
			if err := internal.InsertEntry(idx.codec, pos+1, resp.newKey, resp.page); err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return insertResult{}, err
			}
			idx.pool.Unpin(nodeIndex, true)
			return insertResult{skip: true}, nil
		}

		newFrame, err := idx.pool.NewPage()
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return insertResult{}, fmt.Errorf("internal split: allocate: %w", err)
		}
		newInternal := idx.internalView(newFrame)
		newInternal.SetType(page.PageTypeInternal)

		leastKey, err := internal.Split(idx.codec, newInternal)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			idx.pool.Unpin(newFrame.Page(), false)
			return insertResult{}, err
		}

		out := insertResult{newPage: true, page: newFrame.Page()}
		if value.CompareRows(leastKey, resp.newKey) < 0 {
			_, pos, err := newInternal.LookupWithIndex(idx.codec, resp.newKey)
			if err != nil {
				idx.pool.Unpin(nodeIndex, false)
				idx.pool.Unpin(newFrame.Page(), false)
				return insertResult{}, err
			}
			if err := newInternal.InsertEntry(idx.codec, pos+1, resp.newKey, resp.page); err != nil {
				idx.pool.Unpin(nodeIndex, false)
				idx.pool.Unpin(newFrame.Page(), false)
				return insertResult{}, err
			}
			out.newKey = leastKey
		} else {
			_, pos, err := internal.LookupWithIndex(idx.codec, resp.newKey)
			if err != nil {
				idx.pool.Unpin(nodeIndex, false)
				idx.pool.Unpin(newFrame.Page(), false)
				return insertResult{}, err
			}
			if err := internal.InsertEntry(idx.codec, pos+1, resp.newKey, resp.page); err != nil {
				idx.pool.Unpin(nodeIndex, false)
				idx.pool.Unpin(newFrame.Page(), false)
				return insertResult{}, err
			}
			out.newKey = leastKey
		}

		idx.pool.Unpin(nodeIndex, true)
		idx.pool.Unpin(newFrame.Page(), true)
		return out, nil
	}

	// Sibling rotated rather than split: patch the separator whose key
	// equals old_key, if any.
	_, pos, err := internal.LookupWithIndex(idx.codec, resp.oldKey)
	if err != nil {
		idx.pool.Unpin(nodeIndex, false)
		return insertResult{}, err
	}
	existing, err := internal.Key(idx.codec, pos)
	if err != nil {
		idx.pool.Unpin(nodeIndex, false)
		return insertResult{}, err
	}
	dirty := false
	if value.CompareRows(existing, resp.oldKey) == 0 {
		if err := internal.SetKey(idx.codec, pos, resp.newKey); err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return insertResult{}, err
		}
		dirty = true
		resp.skip = true
	}
	idx.pool.Unpin(nodeIndex, dirty)
	return resp, nil
}

type removeResult struct {
	removePage bool
	oldKey     value.Row
	newKey     value.Row
}

// Remove deletes key from the tree if present, returning whether it was
// found.
func (idx *Index) Remove(key value.Row) (bool, error) {
	_, found, err := idx.Lookup(key)
	if err != nil || !found {
		return false, err
	}

	root, err := idx.rootIndex()
	if err != nil {
		return false, err
	}

	resp, err := idx.descendRemove(root, key)
	if err != nil {
		return false, err
	}

	if resp.removePage {
		frame, err := idx.pool.NewPage()
		if err != nil {
			return false, fmt.Errorf("remove: allocate replacement root: %w", err)
		}
		leaf := idx.leafView(frame)
		leaf.SetType(page.PageTypeLeaf)
		leaf.SetPrevPageIndex(storage.InvalidPageIndex)
		leaf.SetNextPageIndex(storage.InvalidPageIndex)
		idx.pool.Unpin(frame.Page(), true)
		if err := idx.setRootIndex(frame.Page()); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (idx *Index) descendRemove(nodeIndex storage.PageIndex, key value.Row) (removeResult, error) {
	frame, err := idx.pool.Fetch(nodeIndex)
	if err != nil {
		return removeResult{}, err
	}
	raw := idx.rawView(frame)

	switch raw.Type() {
	case page.PageTypeLeaf:
		leaf := page.LeafPage{BTreePage: raw}
		oldKey, err := leaf.MinKey(idx.codec)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return removeResult{}, err
		}
		if _, err := leaf.Remove(idx.codec, key); err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return removeResult{}, err
		}

		if leaf.Size() > 0 {
			newKey, err := leaf.MinKey(idx.codec)
			idx.pool.Unpin(nodeIndex, true)
			if err != nil {
				return removeResult{}, err
			}
			return removeResult{oldKey: oldKey, newKey: newKey}, nil
		}

		prevIndex := leaf.PrevPageIndex()
		nextIndex := leaf.NextPageIndex()
		if prevIndex != storage.InvalidPageIndex {
			pf, err := idx.pool.Fetch(prevIndex)
			if err != nil {
				idx.pool.Unpin(nodeIndex, true)
				return removeResult{}, err
			}
			idx.leafView(pf).SetNextPageIndex(nextIndex)
			idx.pool.Unpin(prevIndex, true)
		}
		if nextIndex != storage.InvalidPageIndex {
			nf, err := idx.pool.Fetch(nextIndex)
			if err != nil {
				idx.pool.Unpin(nodeIndex, true)
				return removeResult{}, err
			}
			idx.leafView(nf).SetPrevPageIndex(prevIndex)
			idx.pool.Unpin(nextIndex, true)
		}

		idx.pool.Unpin(nodeIndex, true)
		return removeResult{oldKey: oldKey, removePage: true}, nil

	case page.PageTypeInternal:
		internal := page.InternalPage{BTreePage: raw}
		child, _, err := internal.LookupWithIndex(idx.codec, key)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return removeResult{}, err
		}

		resp, err := idx.descendRemove(child, key)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return removeResult{}, err
		}

		if resp.removePage {
			_, pos, err := internal.LookupWithIndex(idx.codec, resp.oldKey)
			if err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return removeResult{}, err
			}
			newKey, err := internal.Key(idx.codec, pos)
			if err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return removeResult{}, err
			}
			if err := internal.RemoveEntry(idx.codec, pos); err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return removeResult{}, err
			}
			out := removeResult{newKey: newKey, removePage: internal.Size() == 0}
			idx.pool.Unpin(nodeIndex, true)
			return out, nil
		}

		_, pos, err := internal.LookupWithIndex(idx.codec, resp.oldKey)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return removeResult{}, err
		}
		existing, err := internal.Key(idx.codec, pos)
		if err != nil {
			idx.pool.Unpin(nodeIndex, false)
			return removeResult{}, err
		}
		dirty := false
		if value.CompareRows(existing, resp.oldKey) == 0 {
			if err := internal.SetKey(idx.codec, pos, resp.newKey); err != nil {
				idx.pool.Unpin(nodeIndex, false)
				return removeResult{}, err
			}
			dirty = true
		}
		idx.pool.Unpin(nodeIndex, dirty)
		return resp, nil

	default:
		idx.pool.Unpin(nodeIndex, false)
		return removeResult{}, fmt.Errorf("btree remove: unexpected page type %v", raw.Type())
	}
}

func (idx *Index) leftmostLeaf() (storage.PageIndex, error) {
	node, err := idx.rootIndex()
	if err != nil {
		return 0, err
	}
	for {
		frame, err := idx.pool.Fetch(node)
		if err != nil {
			return 0, err
		}
		raw := idx.rawView(frame)
		switch raw.Type() {
		case page.PageTypeLeaf:
			idx.pool.Unpin(node, false)
			return node, nil
		case page.PageTypeInternal:
			internal := page.InternalPage{BTreePage: raw}
			child := internal.Child(0)
			idx.pool.Unpin(node, false)
			node = child
		default:
			idx.pool.Unpin(node, false)
			return 0, fmt.Errorf("btree: unexpected page type %v", raw.Type())
		}
	}
}

// Scan returns an iterator over every entry satisfying predicates, starting
// from the leftmost leaf and following next_page_index links. An empty
// predicates slice visits every entry in key order.
func (idx *Index) Scan(predicates []Predicate) (*Scanner, error) {
	leaf, err := idx.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	return &Scanner{idx: idx, page: leaf, predicates: predicates}, nil
}

// Scanner walks leaf entries left to right across the doubly-linked leaf
// list, filtering by Predicate.
type Scanner struct {
	idx        *Index
	page       storage.PageIndex
	offset     int
	predicates []Predicate
}

// Next returns the next matching entry, or ok=false at end of stream.
func (s *Scanner) Next() (value.Row, storage.RowId, bool, error) {
	for {
		if s.page == storage.InvalidPageIndex {
			return nil, storage.RowId{}, false, nil
		}

		frame, err := s.idx.pool.Fetch(s.page)
		if err != nil {
			return nil, storage.RowId{}, false, err
		}
		leaf := s.idx.leafView(frame)

		if s.offset >= leaf.Size() {
			next := leaf.NextPageIndex()
			s.idx.pool.Unpin(s.page, false)
			s.page = next
			s.offset = 0
			continue
		}

		key, err := leaf.Key(s.idx.codec, s.offset)
		if err != nil {
			s.idx.pool.Unpin(s.page, false)
			return nil, storage.RowId{}, false, err
		}
		rid := leaf.Value(s.offset)
		s.offset++
		s.idx.pool.Unpin(s.page, false)

		ok, err := matches(s.idx.keySchema, key, s.predicates)
		if err != nil {
			return nil, storage.RowId{}, false, err
		}
		if ok {
			return key, rid, true, nil
		}
	}
}

func matches(schema value.Schema, key value.Row, predicates []Predicate) (bool, error) {
	for _, pred := range predicates {
		col, ok := schema.IndexOf(pred.Column)
		if !ok {
			return false, fmt.Errorf("btree scan: unknown key column %q", pred.Column)
		}
		cmp := value.Compare(key[col], pred.Value)
		var ok2 bool
		switch pred.Op {
		case Eq:
			ok2 = cmp == 0
		case Ne:
			ok2 = cmp != 0
		case Lt:
			ok2 = cmp < 0
		case Le:
			ok2 = cmp <= 0
		case Gt:
			ok2 = cmp > 0
		case Ge:
			ok2 = cmp >= 0
		}
		if !ok2 {
			return false, nil
		}
	}
	return true, nil
}

func (idx *Index) Close() error { return idx.pool.Close() }

func (idx *Index) Path() string { return idx.disk.Path() }
