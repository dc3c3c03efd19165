// ABOUTME: Maps the data file as fixed-size pages, growing in segments
// ABOUTME: The same file handle serves the mapping and the pwrite+fdatasync page flush

package pagestore

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/nainya/tismet/pkg/page"
)

// FileView is a read-only mapping of the data file, grown in large
// segments (default 16 MiB, a multiple of the OS view-alignment), the
// same shape as the teacher's KV.mmap chunk list in pkg/storage/kv.go
// but kept as its own component per spec.md §4.1: the view only ever
// satisfies reads, all edits happen through the page cache and are
// written back through the same read-write file handle the mapping
// was made from.
type FileView struct {
	path        string
	pageSize    int
	segmentSize int

	fd     *os.File
	chunks [][]byte // mmap'd regions, each a whole number of segments
	total  int64    // total bytes currently mapped
}

const DefaultSegmentSize = 16 << 20

// Open maps the existing file read-only. The file must already contain
// at least one page (the master page) written by Create.
func Open(path string, pageSize, segmentSize int) (*FileView, error) {
	fd, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagestore: open %s: %w", path, err)
	}
	fv := &FileView{path: path, pageSize: pageSize, segmentSize: segmentSize, fd: fd}
	st, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if st.Size() > 0 {
		if err := fv.mapUpTo(st.Size()); err != nil {
			fd.Close()
			return nil, err
		}
	}
	return fv, nil
}

// Create initializes a brand-new data file with a single master page.
func Create(path string, pageSize, segmentSize int) (*FileView, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagestore: create %s: %w", path, err)
	}
	if err := fd.Truncate(int64(pageSize)); err != nil {
		fd.Close()
		return nil, err
	}
	if err := fsyncDir(path); err != nil {
		fd.Close()
		return nil, err
	}
	fv := &FileView{path: path, pageSize: pageSize, segmentSize: segmentSize, fd: fd}
	if err := fv.mapUpTo(int64(pageSize)); err != nil {
		fd.Close()
		return nil, err
	}
	return fv, nil
}

func (fv *FileView) Close() error {
	for _, c := range fv.chunks {
		_ = unix.Munmap(c)
	}
	fv.chunks = nil
	return fv.fd.Close()
}

func (fv *FileView) PageSize() int { return fv.pageSize }

// NumPages returns how many whole pages are currently mapped.
func (fv *FileView) NumPages() uint32 {
	return uint32(fv.total / int64(fv.pageSize))
}

// View returns a read-only slice over the page. The caller must not
// mutate it; edits go through the page cache.
func (fv *FileView) View(pgno uint32) (page.Page, error) {
	off := int64(pgno) * int64(fv.pageSize)
	if off+int64(fv.pageSize) > fv.total {
		return nil, fmt.Errorf("pagestore: page %d beyond mapped range", pgno)
	}
	start := int64(0)
	for _, c := range fv.chunks {
		end := start + int64(len(c))
		if off < end {
			rel := off - start
			return page.Page(c[rel : rel+int64(fv.pageSize)]), nil
		}
		start = end
	}
	return nil, fmt.Errorf("pagestore: page %d not found in any chunk", pgno)
}

// Grow appends one more segment to the file and maps it.
func (fv *FileView) Grow() error {
	newTotal := fv.total + int64(fv.segmentSize)
	if err := fv.fd.Truncate(newTotal); err != nil {
		return err
	}
	return fv.mapUpTo(newTotal)
}

// EnsureMapped grows the view, possibly more than once, until pgno is
// addressable.
func (fv *FileView) EnsureMapped(pgno uint32) error {
	need := (int64(pgno) + 1) * int64(fv.pageSize)
	for fv.total < need {
		if err := fv.Grow(); err != nil {
			return err
		}
	}
	return nil
}

func (fv *FileView) mapUpTo(size int64) error {
	// Round up to a whole number of segments so growth always maps a
	// fixed stride, matching the spec's "segments are a multiple of the
	// OS view-alignment" requirement.
	seg := int64(fv.segmentSize)
	rounded := ((size + seg - 1) / seg) * seg
	if rounded <= fv.total {
		return nil
	}
	// Extend the file to cover the whole mapping: touching mapped bytes
	// past the end of the file faults.
	st, err := fv.fd.Stat()
	if err != nil {
		return err
	}
	if st.Size() < rounded {
		if err := fv.fd.Truncate(rounded); err != nil {
			return err
		}
	}
	toMap := rounded - fv.total
	chunk, err := unix.Mmap(int(fv.fd.Fd()), fv.total, int(toMap), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("pagestore: mmap: %w", err)
	}
	fv.chunks = append(fv.chunks, chunk)
	fv.total = rounded
	return nil
}

// WritePage writes one page's worth of bytes at its offset; it does not
// sync, Sync makes the writes durable. Together they are the durable
// side of the page cache's Flush; matches the
// teacher's two-phase pwrite+fsync discipline in pkg/storage/kv.go
// updateFile/writePages, generalized from "batch of dirty pages" to
// "flush up to an LSN" by the caller.
func (fv *FileView) WritePage(pgno uint32, data []byte) error {
	if len(data) != fv.pageSize {
		return fmt.Errorf("pagestore: page size mismatch: got %d want %d", len(data), fv.pageSize)
	}
	if err := fv.EnsureMapped(pgno); err != nil {
		return err
	}
	off := int64(pgno) * int64(fv.pageSize)
	if _, err := fv.fd.WriteAt(data, off); err != nil {
		return fmt.Errorf("pagestore: write page %d: %w", pgno, err)
	}
	return nil
}

func (fv *FileView) Sync() error {
	return unix.Fdatasync(int(fv.fd.Fd()))
}

func fsyncDir(filePath string) error {
	dirfd, err := unix.Open(filepath.Dir(filePath), unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(dirfd)
	return unix.Fsync(dirfd)
}
