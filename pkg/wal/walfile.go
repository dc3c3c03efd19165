// ABOUTME: WAL file layout: zero-page signature, then log/free page framing
// ABOUTME: Adapted from the teacher's single growable log file to page-typed framing

package wal

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Signature is the WAL file's 16-byte GUID (spec.md §6).
var Signature = [16]byte{
	0xb4, 0x5d, 0x8e, 0x5a, 0x85, 0x1d, 0x42, 0xf5,
	0xac, 0x31, 0x9c, 0xa0, 0x01, 0x58, 0x59, 0x7b,
}

// logPageTag and freePageTag are the WAL's own page-type bytes — a
// separate small tag space from pkg/page.Type since the WAL file isn't
// laid out using the data file's page header, per spec.md §6 ("Subsequent
// pages are typed 2l (log) or F (free)").
const (
	logPageTag  byte = 'l' // spec names it "2l"; one byte is enough to disambiguate
	freePageTag byte = 'F'
)

// logPageHeaderSize: tag(1)+reserved(3)+pageNo(4)+firstLSN(8)+
// numRecs(4)+firstPos(2)+lastPos(2)+crc(4) = 28 bytes.
const logPageHeaderSize = 28

func zeroPageSize() int { return 64 }

func writeZeroPage(f *os.File, walPageSize, dataPageSize uint32) error {
	buf := make([]byte, zeroPageSize())
	copy(buf[0:16], Signature[:])
	binary.LittleEndian.PutUint32(buf[16:20], walPageSize)
	binary.LittleEndian.PutUint32(buf[20:24], dataPageSize)
	_, err := f.WriteAt(buf, 0)
	return err
}

func readZeroPage(f *os.File) (walPageSize, dataPageSize uint32, err error) {
	buf := make([]byte, zeroPageSize())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return 0, 0, err
	}
	for i, b := range Signature {
		if buf[i] != b {
			return 0, 0, ErrBadSignature
		}
	}
	return binary.LittleEndian.Uint32(buf[16:20]), binary.LittleEndian.Uint32(buf[20:24]), nil
}

// logPage wraps one fixed-size WAL page buffer with its framing fields.
type logPage struct {
	buf      []byte
	pageNo   uint32
	firstLSN uint64
	numRecs  uint32
	firstPos uint16
	lastPos  uint16
}

func newLogPage(pageSize int, pageNo uint32) *logPage {
	return &logPage{buf: make([]byte, pageSize), pageNo: pageNo, firstPos: logPageHeaderSize, lastPos: logPageHeaderSize}
}

func (lp *logPage) body() []byte { return lp.buf[logPageHeaderSize:] }

func (lp *logPage) freeSpace() int { return len(lp.buf) - int(lp.lastPos) }

// append writes one encoded record's bytes into the page at lastPos,
// returning false if it doesn't fit (the caller then rotates to a fresh
// page and writes the whole record there; records never straddle pages).
func (lp *logPage) append(encoded []byte) bool {
	if lp.freeSpace() < len(encoded) {
		return false
	}
	copy(lp.buf[lp.lastPos:], encoded)
	lp.lastPos += uint16(len(encoded))
	lp.numRecs++
	return true
}

func (lp *logPage) finalize() []byte {
	lp.buf[0] = logPageTag
	binary.LittleEndian.PutUint32(lp.buf[4:8], lp.pageNo)
	binary.LittleEndian.PutUint64(lp.buf[8:16], lp.firstLSN)
	binary.LittleEndian.PutUint32(lp.buf[16:20], lp.numRecs)
	binary.LittleEndian.PutUint16(lp.buf[20:22], lp.firstPos)
	binary.LittleEndian.PutUint16(lp.buf[22:24], lp.lastPos)
	binary.LittleEndian.PutUint32(lp.buf[24:28], 0)
	crc := crc32Of(lp.buf)
	binary.LittleEndian.PutUint32(lp.buf[24:28], crc)
	return lp.buf
}

func parseLogPage(buf []byte) (*logPage, error) {
	if len(buf) < logPageHeaderSize {
		return nil, fmt.Errorf("wal: %w: short log page", ErrTruncated)
	}
	if buf[0] != logPageTag {
		return nil, nil // free page, not an error — caller skips it
	}
	stored := binary.LittleEndian.Uint32(buf[24:28])
	check := make([]byte, len(buf))
	copy(check, buf)
	binary.LittleEndian.PutUint32(check[24:28], 0)
	if crc32Of(check) != stored {
		return nil, fmt.Errorf("wal: %w: log page checksum", ErrCorrupted)
	}
	lp := &logPage{
		buf:      buf,
		pageNo:   binary.LittleEndian.Uint32(buf[4:8]),
		firstLSN: binary.LittleEndian.Uint64(buf[8:16]),
		numRecs:  binary.LittleEndian.Uint32(buf[16:20]),
		firstPos: binary.LittleEndian.Uint16(buf[20:22]),
		lastPos:  binary.LittleEndian.Uint16(buf[22:24]),
	}
	return lp, nil
}
