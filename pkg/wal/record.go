// ABOUTME: WAL record tag table and the common record header shared by every type
// ABOUTME: Tags are stable small integers; deprecated tags must stay readable by recovery

package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Tag identifies a WAL record's shape. Values are stable across
// releases (spec.md §6: "Stable small integers (1..40)"); never renumber
// an existing tag, only append new ones and mark retired ones
// deprecated in comments so recovery keeps decoding old logs.
type Tag byte

const (
	TagZeroInit         Tag = 1
	TagTxnBegin         Tag = 2
	TagTxnCommit        Tag = 3
	TagCheckpointCommit Tag = 4
	TagTagRootUpdate    Tag = 5
	TagPageFree         Tag = 6

	TagBitInit  Tag = 7
	TagBitSet   Tag = 8
	TagBitReset Tag = 9
	TagBitRange Tag = 10

	TagRadixInit     Tag = 11
	TagRadixInitList Tag = 12
	TagRadixErase    Tag = 13
	TagRadixPromote  Tag = 14
	TagRadixUpdate   Tag = 15

	TagMetricInit              Tag = 16
	TagMetricUpdate            Tag = 17
	TagMetricClear             Tag = 18
	TagMetricUpdatePos         Tag = 19
	TagMetricUpdatePosAndIndex Tag = 20
	TagMetricUpdateSample      Tag = 21
	TagMetricUpdateSampleAndIndex Tag = 22
	TagMetricUpdateSampleTxn   Tag = 23

	TagSampleInit       Tag = 24
	TagSampleInitFill   Tag = 25
	TagSampleUpdate     Tag = 26
	TagSampleUpdateLast Tag = 27
	TagSampleUpdateTime Tag = 28

	// One-record sample transactions, per sample type, with and
	// without advancing the metric's last-sample-position.
	TagSampleTxnF32     Tag = 29
	TagSampleTxnF32Last Tag = 30
	TagSampleTxnF64     Tag = 31
	TagSampleTxnF64Last Tag = 32
	TagSampleTxnI8      Tag = 33
	TagSampleTxnI8Last  Tag = 34
	TagSampleTxnI16     Tag = 35
	TagSampleTxnI16Last Tag = 36
	TagSampleTxnI32     Tag = 37
	TagSampleTxnI32Last Tag = 38

	maxKnownTag = 40
)

func (t Tag) known() bool { return t >= TagZeroInit && t <= maxKnownTag }

// recordHeaderSize: tag(1) + reserved(1) + txn(2) + page(4) + payload
// length(4) + CRC32(4), matching the teacher's EntryHeaderSize framing
// in pkg/wal/entry.go but with a page number and local-txn tag added
// per spec.md §4.3's record format.
const recordHeaderSize = 16

// Record is one WAL record: a type tag, the page it targets (0 for the
// page-less transactional records: txn-begin, txn-commit, checkpoint),
// the local-txn tag that owns it, and a type-specific payload.
type Record struct {
	Tag  Tag
	Page uint32
	Txn  uint16
	Data []byte
}

// Encode serializes the record with a CRC32 over tag+page+txn+data,
// the same corruption-detection shape as the teacher's entry.go.
func (r Record) Encode() []byte {
	buf := make([]byte, recordHeaderSize+len(r.Data))
	buf[0] = byte(r.Tag)
	binary.LittleEndian.PutUint16(buf[2:4], r.Txn)
	binary.LittleEndian.PutUint32(buf[4:8], r.Page)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(r.Data)))
	copy(buf[recordHeaderSize:], r.Data)
	crc := crc32.ChecksumIEEE(buf[:12])
	crc = crc32.Update(crc, crc32.IEEETable, r.Data)
	binary.LittleEndian.PutUint32(buf[12:16], crc)
	return buf
}

// DecodeRecord reads one record from the front of buf, returning the
// record, the number of bytes consumed, and an error if the header is
// truncated or the CRC doesn't match.
func DecodeRecord(buf []byte) (Record, int, error) {
	if len(buf) < recordHeaderSize {
		return Record{}, 0, fmt.Errorf("wal: short record header (%d bytes)", len(buf))
	}
	dataLen := int(binary.LittleEndian.Uint32(buf[8:12]))
	total := recordHeaderSize + dataLen
	if len(buf) < total {
		return Record{}, 0, fmt.Errorf("wal: %w: record truncated", ErrCorrupted)
	}
	r := Record{
		Tag:  Tag(buf[0]),
		Txn:  binary.LittleEndian.Uint16(buf[2:4]),
		Page: binary.LittleEndian.Uint32(buf[4:8]),
		Data: append([]byte(nil), buf[recordHeaderSize:total]...),
	}
	wantCRC := binary.LittleEndian.Uint32(buf[12:16])
	gotCRC := crc32.ChecksumIEEE(buf[:12])
	gotCRC = crc32.Update(gotCRC, crc32.IEEETable, r.Data)
	if gotCRC != wantCRC {
		return Record{}, 0, fmt.Errorf("wal: %w: checksum mismatch", ErrCorrupted)
	}
	return r, total, nil
}
