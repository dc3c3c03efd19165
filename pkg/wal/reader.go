// ABOUTME: Sequential forward scan over WAL log pages, used by recovery and WAL-dump tooling
// ABOUTME: Skips free/corrupt pages rather than aborting, matching the teacher's tolerant reader

package wal

import (
	"io"
	"os"
)

// Reader walks every record in a WAL file in LSN order, starting from
// page 1 (page 0 is the zero-page). Corrupt or free pages are skipped
// rather than treated as fatal, the same tolerance as the teacher's
// pkg/wal/reader.go skipToNextEntry.
type Reader struct {
	f        *os.File
	pageSize int
	pageNo   uint32
	lastPage uint32

	cur    *logPage
	curPos int
}

func OpenReader(path string, pageSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	walPageSize, _, err := readZeroPage(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if int(walPageSize) != pageSize {
		f.Close()
		return nil, ErrBadSignature
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	n := uint32((st.Size() - int64(zeroPageSize())) / int64(pageSize))
	return &Reader{f: f, pageSize: pageSize, pageNo: 1, lastPage: n}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

// Next returns the next record and its assigned LSN, or io.EOF.
func (r *Reader) Next() (Record, uint64, error) {
	for {
		if r.cur == nil {
			if r.pageNo > r.lastPage {
				return Record{}, 0, io.EOF
			}
			buf := make([]byte, r.pageSize)
			off := int64(zeroPageSize()) + int64(r.pageNo-1)*int64(r.pageSize)
			if _, err := r.f.ReadAt(buf, off); err != nil {
				return Record{}, 0, io.EOF
			}
			r.pageNo++
			lp, err := parseLogPage(buf)
			if err != nil || lp == nil {
				continue // free or corrupt page: skip
			}
			r.cur = lp
			r.curPos = int(lp.firstPos)
		}
		if r.curPos >= int(r.cur.lastPos) {
			r.cur = nil
			continue
		}
		rec, n, err := DecodeRecord(r.cur.buf[r.curPos:r.cur.lastPos])
		if err != nil {
			r.cur = nil // torn tail: stop trusting this page
			continue
		}
		lsn := r.cur.firstLSN + uint64(countRecordsBefore(r.cur, r.curPos))
		r.curPos += n
		return rec, lsn, nil
	}
}

func countRecordsBefore(lp *logPage, pos int) int {
	n := 0
	p := int(lp.firstPos)
	for p < pos {
		_, adv, err := DecodeRecord(lp.buf[p:lp.lastPos])
		if err != nil {
			break
		}
		p += adv
		n++
	}
	return n
}
