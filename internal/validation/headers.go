package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MinRepeats is how often a normalized line must occur before it is treated
// as a running header or footer.
const MinRepeats = 3

var (
	headingRe       = regexp.MustCompile(`^#{1,6}\s+`)
	digitsRe        = regexp.MustCompile(`\d+`)
	spacesRe        = regexp.MustCompile(`\s+`)
	tocDotsRe       = regexp.MustCompile(`\.{5,}`)
	tocSpacedDotsRe = regexp.MustCompile(`(?:\.\s){5,}\.?`)
	pageLabelRe     = regexp.MustCompile(`(?i)^\s*(?:Página|Page|Pág\.?)\s+\d+\s*$`)
	folioRe         = regexp.MustCompile(`(?i)^\s*(?:Folio|Foja)s?\s+\d+\s*$`)
	pageOfRe        = regexp.MustCompile(`(?i)^\s*(?:Página|Page|Pág\.?)?\s*\d{1,4}\s+(?:de|of)\s+\d{1,4}\s*$`)
	romanRe         = regexp.MustCompile(`(?i)^m{0,3}(?:cm|cd|d?c{0,3})(?:xc|xl|l?x{0,3})(?:ix|iv|v?i{0,3})$`)
	pageSeparatorRe = regexp.MustCompile(`(?i)^[-—–=_\s]*(?:página|page|pág\.?)?\s*\d*\s*[-—–=_\s]*$`)
	bareNumberRe    = regexp.MustCompile(`^\d{1,4}$`)
	watermarkRe     = regexp.MustCompile(`(?i)^\s*(?:CONFIDENCIAL|CONFIDENTIAL|BORRADOR|DRAFT|COPIA|COPIA\s+SIMPLE)\s*$`)
)

// PatternSet holds normalized line forms.
type PatternSet map[string]struct{}

// Has reports whether the normalized form of line is in the set.
func (p PatternSet) Has(line string) bool {
	_, ok := p[NormalizeLine(line)]
	return ok
}

// NormalizeLine replaces digit runs with '#' and collapses whitespace so that
// "Page 3 of 10" and "Page 4 of 10" compare equal.
func NormalizeLine(line string) string {
	normalized := digitsRe.ReplaceAllString(strings.TrimSpace(line), "#")
	return spacesRe.ReplaceAllString(normalized, " ")
}

// IsHeading reports whether line is an ATX Markdown heading.
func IsHeading(line string) bool {
	return headingRe.MatchString(strings.TrimSpace(line))
}

// ClassifyRepeatedLines returns the normalized forms that occur at least
// MinRepeats times. Blank lines, headings and table separators never count.
func ClassifyRepeatedLines(lines []string) PatternSet {
	freq := make(map[string]int)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || IsHeading(trimmed) || IsTableSeparator(trimmed) {
			continue
		}
		normalized := NormalizeLine(trimmed)
		if n := utf8.RuneCountInString(normalized); n > 2 && n < 200 {
			freq[normalized]++
		}
	}

	repeated := make(PatternSet)
	for pattern, count := range freq {
		if count >= MinRepeats {
			repeated[pattern] = struct{}{}
		}
	}
	return repeated
}

// TransformTOCDots turns dot leaders ("Chapter 1.......12") into a colon
// separator ("Chapter 1: 12").
func TransformTOCDots(markdown string) string {
	out := tocDotsRe.ReplaceAllString(markdown, ": ")
	return tocSpacedDotsRe.ReplaceAllString(out, ": ")
}

// RemovalStats counts removed lines per category.
type RemovalStats struct {
	PageNumbers       int
	RomanNumerals     int
	PageSeparators    int
	DuplicateHeadings int
	Watermarks        int
	RepeatedLines     int
}

// Total is the number of lines removed across all categories.
func (s RemovalStats) Total() int {
	return s.PageNumbers + s.RomanNumerals + s.PageSeparators + s.DuplicateHeadings + s.Watermarks + s.RepeatedLines
}

func (s RemovalStats) String() string {
	parts := make([]string, 0, 6)
	add := func(name string, n int) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", name, n))
		}
	}
	add("page_numbers", s.PageNumbers)
	add("roman_numerals", s.RomanNumerals)
	add("page_separators", s.PageSeparators)
	add("duplicate_headings", s.DuplicateHeadings)
	add("watermarks", s.Watermarks)
	add("repeated_lines", s.RepeatedLines)
	return strings.Join(parts, ", ")
}

// isPageNumberLine matches the standalone pagination markers that are removed
// regardless of frequency. Four-digit numbers in 1900-2099 are kept as years.
func isPageNumberLine(trimmed string) bool {
	if pageLabelRe.MatchString(trimmed) || folioRe.MatchString(trimmed) || pageOfRe.MatchString(trimmed) {
		return true
	}
	if bareNumberRe.MatchString(trimmed) {
		n, _ := strconv.Atoi(trimmed)
		return n < 1900 || n > 2099
	}
	return false
}

// isRomanNumeralLine matches well-formed numerals only, so words spelled
// from numeral letters (CIVIL, vivid) survive. Short words that happen to
// be valid numerals (mix, di) are still removed.
func isRomanNumeralLine(trimmed string) bool {
	return trimmed != "" && len(trimmed) <= 6 && romanRe.MatchString(trimmed)
}

func isPageSeparatorLine(trimmed string) bool {
	return utf8.RuneCountInString(trimmed) >= 3 &&
		strings.ContainsAny(trimmed, "-—–=_") &&
		pageSeparatorRe.MatchString(trimmed)
}

// RemovePageElements strips pagination artefacts and running headers/footers.
// Dot leaders are rewritten first, then every line is checked against the
// fixed rules and the set of repeated patterns.
func RemovePageElements(markdown string) (string, RemovalStats) {
	var stats RemovalStats
	lines := strings.Split(TransformTOCDots(markdown), "\n")
	repeated := ClassifyRepeatedLines(lines)

	kept := make([]string, 0, len(lines))
	lastHeading := ""
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			kept = append(kept, line)
			continue
		case isPageNumberLine(trimmed):
			stats.PageNumbers++
			continue
		case isRomanNumeralLine(trimmed):
			stats.RomanNumerals++
			continue
		case isPageSeparatorLine(trimmed):
			stats.PageSeparators++
			continue
		}

		if IsHeading(trimmed) {
			if line == lastHeading {
				stats.DuplicateHeadings++
				continue
			}
			lastHeading = line
			kept = append(kept, line)
			continue
		}

		if IsTableSeparator(trimmed) {
			kept = append(kept, line)
			continue
		}
		if repeated.Has(trimmed) {
			if watermarkRe.MatchString(trimmed) {
				stats.Watermarks++
			} else {
				stats.RepeatedLines++
			}
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), stats
}

// FilterRepeatedLines drops running headers/footers and standalone page
// markers from lines without touching headings. It is the lighter pass used
// on text that may already have been cleaned.
func FilterRepeatedLines(lines []string) []string {
	repeated := ClassifyRepeatedLines(lines)
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || IsHeading(trimmed) {
			out = append(out, line)
			continue
		}
		if isPageNumberLine(trimmed) || isRomanNumeralLine(trimmed) || repeated.Has(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return out
}
