// Package splitter plans page-range sub-documents that fit the OCR payload
// limit and cuts them out of a source PDF.
package splitter

import (
	"errors"
	"fmt"
)

// DefaultMaxPagesPerChunk caps a sub-range even when the byte estimate allows more.
const DefaultMaxPagesPerChunk = 35

// ErrEmptyRange is returned when a requested page range selects no page of
// the document.
var ErrEmptyRange = errors.New("page range selects no pages")

// Entry is one contiguous, 1-based inclusive page interval.
type Entry struct {
	Start int `json:"startPage"`
	End   int `json:"endPage"`
	Pages int `json:"pageCount"`
}

func (e Entry) String() string {
	return fmt.Sprintf("%d-%d", e.Start, e.End)
}

// Planner partitions documents into entries whose estimated encoded size
// stays under SizeThreshold.
type Planner struct {
	MaxPagesPerChunk int
	SizeThreshold    int64
}

// EstimateBytesPerPage returns the average base64-encoded size of one page,
// which is what the OCR request actually carries.
func EstimateBytesPerPage(docSize int64, pages int) int64 {
	if pages <= 0 {
		return 0
	}
	encoded := (docSize + 2) / 3 * 4
	return (encoded + int64(pages) - 1) / int64(pages)
}

// groupSize is the number of pages per entry. It is never below one, so a
// single page larger than the threshold still gets its own entry.
func (p Planner) groupSize(bytesPerPage int64) int {
	size := p.MaxPagesPerChunk
	if size <= 0 {
		size = DefaultMaxPagesPerChunk
	}
	if p.SizeThreshold > 0 && bytesPerPage > 0 {
		if fit := p.SizeThreshold / bytesPerPage; fit < int64(size) {
			size = int(fit)
		}
	}
	if size < 1 {
		size = 1
	}
	return size
}

// Plan partitions [1, totalPages]. The result is ordered, gap-free and
// non-overlapping; a document that fits in one group yields one entry.
func (p Planner) Plan(totalPages int, bytesPerPage int64) []Entry {
	if totalPages < 1 {
		return nil
	}
	return p.PlanRange(1, totalPages, bytesPerPage)
}

// PlanRange partitions [from, to] the same way Plan partitions a document.
func (p Planner) PlanRange(from, to int, bytesPerPage int64) []Entry {
	if from < 1 {
		from = 1
	}
	if to < from {
		return nil
	}
	size := p.groupSize(bytesPerPage)
	entries := make([]Entry, 0, (to-from)/size+1)
	for start := from; start <= to; start += size {
		end := start + size - 1
		if end > to {
			end = to
		}
		entries = append(entries, Entry{Start: start, End: end, Pages: end - start + 1})
	}
	return entries
}
