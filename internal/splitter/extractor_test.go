package splitter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageCount(t *testing.T) {
	e := NewExtractor()
	n, err := e.PageCount(buildPDF(7))
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func TestPageCount_RejectsGarbage(t *testing.T) {
	_, err := NewExtractor().PageCount([]byte("definitely not a pdf"))
	require.True(t, errors.Is(err, ErrInvalidDocument), "got %v", err)
}

func TestExtractRange(t *testing.T) {
	e := NewExtractor()
	src := buildPDF(10)

	out, err := e.ExtractRange(src, 3, 6)
	require.NoError(t, err)

	n, err := e.PageCount(out)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestExtractRange_ClampsOutOfBounds(t *testing.T) {
	e := NewExtractor()
	src := buildPDF(5)

	out, err := e.ExtractRange(src, 4, 50)
	require.NoError(t, err)
	n, err := e.PageCount(out)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	out, err = e.ExtractRange(src, -3, 1)
	require.NoError(t, err)
	n, err = e.PageCount(out)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestExtractRange_EntirelyOutside(t *testing.T) {
	_, err := NewExtractor().ExtractRange(buildPDF(3), 8, 9)
	require.True(t, errors.Is(err, ErrEmptyRange), "got %v", err)
}

func TestFallbackPageCount(t *testing.T) {
	n, err := fallbackPageCount(buildPDF(4))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	_, err = fallbackPageCount([]byte("%PDF-1.4 truncated"))
	require.Error(t, err)
}
