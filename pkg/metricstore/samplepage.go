// ABOUTME: Sample page layout: page-first-time, last-written position, and a typed sample array
// ABOUTME: Samples beyond last-position are NaN/sentinel fill, not yet-written or stale-from-wrap

package metricstore

import (
	"encoding/binary"

	"github.com/nainya/tismet/pkg/page"
)

const (
	spFirstTimeOff = page.HeaderSize
	spLastPosOff   = spFirstTimeOff + 8
	spTypeOff      = spLastPosOff + 4
	spBodyOff      = spTypeOff + 1 + 3 // pad to 4-byte alignment
)

// SamplesPerPage returns how many fixed-width slots of sampleType fit
// on one page after the sample-page header.
func SamplesPerPage(pageSize int, t SampleType) int {
	return (pageSize - spBodyOff) / t.Size()
}

// InitSamplePage stamps a fresh sample page's header and page-first-time
// and fills every slot with the type's missing sentinel.
func InitSamplePage(p page.Page, pageNo, metricID uint32, t SampleType, pageFirstTime int64) {
	p.SetHeader(page.Header{Type: page.TypeSample, PageNo: pageNo, MetricID: metricID, LSN: p.LSN()})
	binary.LittleEndian.PutUint64(p[spFirstTimeOff:], uint64(pageFirstTime))
	binary.LittleEndian.PutUint32(p[spLastPosOff:], ^uint32(0)) // last-pos -1
	p[spTypeOff] = byte(t)
	n := SamplesPerPage(len(p), t)
	sz := t.Size()
	for i := 0; i < n; i++ {
		t.writeMissing(p[spBodyOff+i*sz : spBodyOff+(i+1)*sz])
	}
	p.UpdateChecksum()
}

func SamplePageFirstTime(p page.Page) int64 {
	return int64(binary.LittleEndian.Uint64(p[spFirstTimeOff:]))
}

func SamplePageLastPos(p page.Page) int32 {
	return int32(binary.LittleEndian.Uint32(p[spLastPosOff:]))
}

func SetSamplePageLastPos(p page.Page, pos int32) {
	binary.LittleEndian.PutUint32(p[spLastPosOff:], uint32(pos))
	p.UpdateChecksum()
}

func SamplePageType(p page.Page) SampleType {
	return SampleType(p[spTypeOff])
}

func slotBuf(p page.Page, offset int, t SampleType) []byte {
	sz := t.Size()
	start := spBodyOff + offset*sz
	return p[start : start+sz]
}

func GetSample(p page.Page, offset int) float64 {
	t := SamplePageType(p)
	return t.decodeValue(slotBuf(p, offset, t))
}

func SetSample(p page.Page, offset int, v float64) {
	t := SamplePageType(p)
	t.encodeValue(slotBuf(p, offset, t), v)
	p.UpdateChecksum()
}

func IsSampleMissing(p page.Page, offset int) bool {
	t := SamplePageType(p)
	return t.isMissing(slotBuf(p, offset, t))
}

// FillMissing resets slots [from, to) to the type's missing sentinel.
func FillMissing(p page.Page, from, to int) {
	t := SamplePageType(p)
	for i := from; i < to; i++ {
		t.writeMissing(slotBuf(p, i, t))
	}
}

// SameValue reports whether writing v to offset would be a no-op dup
// per spec.md §4.5 ("bitwise equal, or both NaN").
func SameValue(p page.Page, offset int, v float64) bool {
	t := SamplePageType(p)
	cur := slotBuf(p, offset, t)
	cand := make([]byte, t.Size())
	t.encodeValue(cand, v)
	return t.sameValue(cur, cand)
}
