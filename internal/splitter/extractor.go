package splitter

import (
	"bytes"
	"errors"
	"fmt"

	ledongthuc "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrInvalidDocument is returned when neither parser can read the input.
var ErrInvalidDocument = errors.New("invalid PDF document")

func init() {
	api.DisableConfigDir()
}

// Extractor reads page counts and cuts page ranges out of in-memory PDFs.
type Extractor struct {
	conf *model.Configuration
}

// NewExtractor returns an Extractor using relaxed validation, which accepts
// the slightly broken files scanners tend to produce.
func NewExtractor() *Extractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Extractor{conf: conf}
}

// PageCount reads the page count from the document itself. pdfcpu is tried
// first; documents it rejects are retried with a second, more forgiving parser.
func (e *Extractor) PageCount(doc []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(doc), e.conf)
	if err == nil && n > 0 {
		return n, nil
	}
	fallback, ferr := fallbackPageCount(doc)
	if ferr != nil {
		return 0, fmt.Errorf("%w: %v (fallback: %v)", ErrInvalidDocument, err, ferr)
	}
	return fallback, nil
}

func fallbackPageCount(doc []byte) (n int, err error) {
	// The fallback parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	r, err := ledongthuc.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return 0, err
	}
	if n = r.NumPage(); n < 1 {
		return 0, errors.New("document has no pages")
	}
	return n, nil
}

// ExtractRange returns a standalone PDF holding pages from..to (1-based,
// inclusive) of doc. Bounds are clamped to the document; a range that lies
// entirely outside it yields ErrEmptyRange.
func (e *Extractor) ExtractRange(doc []byte, from, to int) ([]byte, error) {
	total, err := api.PageCount(bytes.NewReader(doc), e.conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	from, to, ok := Clamp(from, to, total)
	if !ok {
		return nil, fmt.Errorf("%w: %d-%d of %d", ErrEmptyRange, from, to, total)
	}

	var out bytes.Buffer
	selection := []string{fmt.Sprintf("%d-%d", from, to)}
	if err := api.Trim(bytes.NewReader(doc), &out, selection, e.conf); err != nil {
		return nil, fmt.Errorf("failed to extract pages %d-%d: %w", from, to, err)
	}
	return out.Bytes(), nil
}

// Clamp restricts [from, to] to [1, total]. ok is false when nothing remains.
func Clamp(from, to, total int) (int, int, bool) {
	if from < 1 {
		from = 1
	}
	if to > total {
		to = total
	}
	return from, to, from <= to
}
