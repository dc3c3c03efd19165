// ABOUTME: Metric descriptor page layout: name, sample type, interval/retention, last-page reference
// ABOUTME: Embeds a radix.Root indexing this metric's sample pages by page index

package metricstore

import (
	"encoding/binary"
	"time"

	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/radix"
)

// MaxNameLen matches spec.md §6: "total length ≤ 128 bytes including
// terminator".
const MaxNameLen = 128

const (
	descNameOff     = page.HeaderSize
	descTypeOff     = descNameOff + MaxNameLen
	descIntervalOff = descTypeOff + 1 // no padding: the fields below are unaligned
	descRetentionOff = descIntervalOff + 8
	descCreationOff = descRetentionOff + 8
	descLastPageOff = descCreationOff + 8
	descLastPosOff  = descLastPageOff + 4
	descLastPageFirstTimeOff = descLastPosOff + 4
	descRadixHeightOff = descLastPageFirstTimeOff + 8
	descRadixSlotsOff  = descRadixHeightOff + 4
)

// EntriesPerRoot returns how many radix root slots fit in the remainder
// of a descriptor page, smaller than an interior radix node's capacity
// since the root shares the page with the descriptor's other fields
// (SPEC_FULL.md §C.1).
func EntriesPerRoot(pageSize int) int {
	return (pageSize - descRadixSlotsOff) / 4
}

// Descriptor is the in-memory, decoded form of one metric descriptor
// page.
type Descriptor struct {
	ID                uint32
	Name              string
	Type              SampleType
	Interval          time.Duration
	Retention         time.Duration
	Creation          time.Time
	LastPage          uint32
	LastPos           int32 // -1 if no sample yet
	LastPageFirstTime int64 // unix seconds
	Radix             radix.Root
}

func WriteDescriptor(p page.Page, pgno, metricID uint32, d Descriptor) {
	p.SetHeader(page.Header{Type: page.TypeMetric, PageNo: pgno, MetricID: metricID, LSN: p.LSN()})
	nameBuf := p[descNameOff:descTypeOff]
	for i := range nameBuf {
		nameBuf[i] = 0
	}
	copy(nameBuf, d.Name)
	p[descTypeOff] = byte(d.Type)
	binary.LittleEndian.PutUint64(p[descIntervalOff:], uint64(d.Interval/time.Second))
	binary.LittleEndian.PutUint64(p[descRetentionOff:], uint64(d.Retention/time.Second))
	binary.LittleEndian.PutUint64(p[descCreationOff:], uint64(d.Creation.Unix()))
	binary.LittleEndian.PutUint32(p[descLastPageOff:], d.LastPage)
	binary.LittleEndian.PutUint32(p[descLastPosOff:], uint32(d.LastPos))
	binary.LittleEndian.PutUint64(p[descLastPageFirstTimeOff:], uint64(d.LastPageFirstTime))
	binary.LittleEndian.PutUint32(p[descRadixHeightOff:], d.Radix.Height)
	for i, s := range d.Radix.Slots {
		binary.LittleEndian.PutUint32(p[descRadixSlotsOff+i*4:], s)
	}
	p.UpdateChecksum()
}

func ReadDescriptor(p page.Page, entriesPerRoot int) Descriptor {
	h := p.Header()
	nameBuf := p[descNameOff:descTypeOff]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	d := Descriptor{
		ID:                h.MetricID,
		Name:              string(nameBuf[:n]),
		Type:              SampleType(p[descTypeOff]),
		Interval:          time.Duration(binary.LittleEndian.Uint64(p[descIntervalOff:])) * time.Second,
		Retention:         time.Duration(binary.LittleEndian.Uint64(p[descRetentionOff:])) * time.Second,
		Creation:          time.Unix(int64(binary.LittleEndian.Uint64(p[descCreationOff:])), 0),
		LastPage:          binary.LittleEndian.Uint32(p[descLastPageOff:]),
		LastPos:           int32(binary.LittleEndian.Uint32(p[descLastPosOff:])),
		LastPageFirstTime: int64(binary.LittleEndian.Uint64(p[descLastPageFirstTimeOff:])),
	}
	d.Radix.Height = binary.LittleEndian.Uint32(p[descRadixHeightOff:])
	d.Radix.Slots = make([]uint32, entriesPerRoot)
	for i := range d.Radix.Slots {
		d.Radix.Slots[i] = binary.LittleEndian.Uint32(p[descRadixSlotsOff+i*4:])
	}
	return d
}
