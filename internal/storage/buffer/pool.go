// Package buffer implements the clock-algorithm buffer pool that sits
// between the disk and every page consumer. It is grounded on the clock
// cache in the original engine's cache.h, restyled after the teacher's
// bplustree/buffer_pool.go (mutex-guarded struct, pin/unpin, Pager
// abstraction).
package buffer

import (
	"fmt"
	"sync"

	"pagedb/internal/dberr"
	"pagedb/internal/storage"
	"pagedb/internal/storage/disk"
)

// maxRefCount caps a frame's reference counter. The clock hand decrements a
// frame once per sweep, so a frame touched repeatedly survives several
// sweeps before it becomes evictable.
const maxRefCount = 5

// Frame is one pinned or cached slot of the pool: a page's bytes in memory
// plus the bookkeeping the clock hand and pin/unpin need.
type Frame struct {
	page    storage.PageIndex
	data    []byte
	dirty   bool
	pinCnt  int
	refCnt  int
	occupied bool
}

// Data returns the frame's page bytes for in-place reading or mutation.
// Callers that mutate must mark the page dirty, through Pool.MarkDirty or
// Pool.Unpin(page, true).
func (f *Frame) Data() []byte { return f.data }

func (f *Frame) Page() storage.PageIndex { return f.page }

// Pool is a fixed-size clock cache of Frames backed by a Disk. Fetch pins
// a page into memory; Unpin releases it. A frame is only a candidate for
// eviction once its pin count reaches zero, mirroring the lock flag in the
// original ClockCache.
type Pool struct {
	mu     sync.Mutex
	disk   *disk.Disk
	frames []Frame
	index  map[storage.PageIndex]int // page -> frame slot
	hand   int
}

// New creates a pool of the given number of frames over disk.
func New(d *disk.Disk, numFrames int) *Pool {
	return &Pool{
		disk:   d,
		frames: make([]Frame, numFrames),
		index:  make(map[storage.PageIndex]int, numFrames),
	}
}

// Fetch pins page into a frame, reading it from disk on a miss, and returns
// the frame. The caller must call Unpin exactly once per successful Fetch.
func (p *Pool) Fetch(page storage.PageIndex) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot, ok := p.index[page]; ok {
		f := &p.frames[slot]
		f.pinCnt++
		if f.refCnt < maxRefCount {
			f.refCnt++
		}
		return f, nil
	}

	slot, err := p.evict()
	if err != nil {
		return nil, err
	}

	data, err := p.disk.ReadPage(page)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}

	f := &p.frames[slot]
	*f = Frame{page: page, data: data, pinCnt: 1, refCnt: 1, occupied: true}
	p.index[page] = slot
	return f, nil
}

// NewPage allocates a fresh page on disk and pins it into a frame, with its
// bytes zeroed for the caller to initialize.
func (p *Pool) NewPage() (*Frame, error) {
	page, err := p.disk.AllocatePage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.evict()
	if err != nil {
		return nil, err
	}

	f := &p.frames[slot]
	*f = Frame{page: page, data: make([]byte, storage.PageSize), pinCnt: 1, refCnt: 1, occupied: true, dirty: true}
	p.index[page] = slot
	return f, nil
}

// Unpin releases one pin on page. If dirty is true the frame is marked dirty
// so it is flushed to disk before eviction or by FlushAll/Close.
func (p *Pool) Unpin(page storage.PageIndex, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.index[page]
	if !ok {
		return fmt.Errorf("unpin page %d: not in buffer pool", page)
	}

	f := &p.frames[slot]
	if dirty {
		f.dirty = true
	}
	if f.pinCnt > 0 {
		f.pinCnt--
	}
	return nil
}

// MarkDirty flags a currently-pinned page's frame as dirty without changing
// its pin count.
func (p *Pool) MarkDirty(page storage.PageIndex) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, ok := p.index[page]; ok {
		p.frames[slot].dirty = true
	}
}

// FlushPage writes a single page's frame back to disk if dirty.
func (p *Pool) FlushPage(page storage.PageIndex) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.index[page]
	if !ok {
		return nil
	}
	return p.flushSlot(slot)
}

// FlushAll writes every dirty frame back to disk, then syncs the file.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for slot := range p.frames {
		if err := p.flushSlot(slot); err != nil {
			return err
		}
	}
	return p.disk.Sync()
}

func (p *Pool) flushSlot(slot int) error {
	f := &p.frames[slot]
	if !f.occupied || !f.dirty {
		return nil
	}
	if err := p.disk.WritePage(f.page, f.data); err != nil {
		return fmt.Errorf("flush page %d: %w", f.page, err)
	}
	f.dirty = false
	return nil
}

// evict runs the clock hand until it finds an unpinned frame whose reference
// counter has reached zero, flushing it if dirty and returning its slot for
// reuse. An empty frame is always immediately evictable. The hand makes at
// most maxRefCount+1 full revolutions, enough for any unpinned frame's
// counter to drain to zero, so it fails only when every frame is pinned
// instead of spinning forever.
func (p *Pool) evict() (int, error) {
	n := len(p.frames)
	if n == 0 {
		return 0, dberr.ErrBufferPoolExhausted
	}

	maxSteps := (maxRefCount + 1) * n
	for steps := 0; steps < maxSteps; steps++ {
		slot := p.hand
		p.hand = (p.hand + 1) % n
		f := &p.frames[slot]

		if !f.occupied {
			return slot, nil
		}
		if f.pinCnt > 0 {
			continue
		}
		if f.refCnt > 0 {
			f.refCnt--
			continue
		}

		if err := p.flushSlot(slot); err != nil {
			return 0, err
		}
		delete(p.index, f.page)
		f.occupied = false
		return slot, nil
	}

	return 0, dberr.ErrBufferPoolExhausted
}

// Close flushes every dirty frame and closes the underlying disk.
func (p *Pool) Close() error {
	if err := p.FlushAll(); err != nil {
		return err
	}
	return p.disk.Close()
}
