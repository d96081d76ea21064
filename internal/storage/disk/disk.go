// Package disk implements random-access, whole-page reads and writes over a
// single backing file, grounded on the teacher's bplustree/disk_pager.go.
package disk

import (
	"fmt"
	"os"
	"sync"

	"pagedb/internal/storage"
)

// Disk owns a file handle and grows it one page at a time. It knows nothing
// about what a page means; the buffer pool and page providers interpret the
// bytes it hands back.
type Disk struct {
	file     *os.File
	path     string
	mu       sync.Mutex
	numPages storage.PageIndex
}

// Open opens or creates the backing file at path and counts the whole pages
// it holds. A trailing partial page is not counted, and the file is not
// resized.
func Open(path string) (*Disk, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	numPages := storage.PageIndex(stat.Size() / storage.PageSize)

	d := &Disk{file: file, path: path, numPages: numPages}
	return d, nil
}

// NumPages reports how many whole pages the file currently occupies.
func (d *Disk) NumPages() storage.PageIndex {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numPages
}

// ReadPage reads exactly PageSize bytes at the given page index. Reading a
// page past the end of an otherwise-valid file is a programmer error.
func (d *Disk) ReadPage(index storage.PageIndex) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index >= d.numPages {
		return nil, fmt.Errorf("read page %d: out of range (%d pages)", index, d.numPages)
	}

	buf := make([]byte, storage.PageSize)
	offset := int64(index) * storage.PageSize
	if _, err := d.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("read page %d: %w", index, err)
	}
	return buf, nil
}

// WritePage writes exactly PageSize bytes at the given page index.
func (d *Disk) WritePage(index storage.PageIndex, data []byte) error {
	if len(data) != storage.PageSize {
		return fmt.Errorf("write page %d: data size %d != page size %d", index, len(data), storage.PageSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	offset := int64(index) * storage.PageSize
	if _, err := d.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write page %d: %w", index, err)
	}
	return nil
}

// AllocatePage extends the file by one zeroed page and returns its index.
func (d *Disk) AllocatePage() (storage.PageIndex, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	index := d.numPages
	offset := int64(index) * storage.PageSize
	if _, err := d.file.WriteAt(make([]byte, storage.PageSize), offset); err != nil {
		return 0, fmt.Errorf("allocate page %d: %w", index, err)
	}
	d.numPages++
	return index, nil
}

func (d *Disk) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Sync()
}

func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

func (d *Disk) Path() string { return d.path }

// Remove deletes the backing file. The Disk must not be used afterwards.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
