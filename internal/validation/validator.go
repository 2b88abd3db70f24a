// Package validation turns raw OCR Markdown into a cleaned document plus a
// list of anomalies, content hashes and a derived verdict.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// minDocumentLength below which a cleaned document is treated as an OCR failure.
const minDocumentLength = 100

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Result is the outcome of Validate.
type Result struct {
	CleanedMarkdown    string        `json:"cleaned_markdown"`
	Anomalies          []Anomaly     `json:"anomalies"`
	HashOriginal       string        `json:"hash_original"`
	HashMarkdown       string        `json:"hash_markdown"`
	Legal              LegalElements `json:"legal_elements"`
	Status             Status        `json:"validation_status"`
	StructurePreserved bool          `json:"structure_preserved"`
}

// NormalizeWhitespace trims trailing whitespace on every line, collapses runs
// of blank lines to a single blank line and trims the document.
func NormalizeWhitespace(markdown string) string {
	lines := strings.Split(markdown, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\f\v")
	}
	out := blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}

// Validate runs the cleaning pipeline in its fixed order: table repair,
// page element removal, whitespace normalization, metadata extraction,
// status derivation and hashing. It never fails; a hopeless document comes
// back with StatusFailed.
func Validate(markdown string, original []byte) *Result {
	anomalies := make([]Anomaly, 0, 4)

	cleaned, fixed := RepairTables(markdown)
	if fixed > 0 {
		anomalies = append(anomalies, tablesFixed(fixed))
	}

	cleaned, stats := RemovePageElements(cleaned)
	if stats.Total() > 0 {
		anomalies = append(anomalies, pageElementsRemoved(stats))
	}

	cleaned = NormalizeWhitespace(cleaned)

	legal := ExtractLegalElements(cleaned)
	if legal.CaseNumber == "" {
		anomalies = append(anomalies, missingCaseNumber())
	}
	if n := utf8.RuneCountInString(cleaned); n < minDocumentLength {
		anomalies = append(anomalies, shortDocument(n))
	}

	return &Result{
		CleanedMarkdown:    cleaned,
		Anomalies:          anomalies,
		HashOriginal:       Hash(original),
		HashMarkdown:       Hash([]byte(cleaned)),
		Legal:              legal,
		Status:             DeriveStatus(anomalies),
		StructurePreserved: legal.Articles > 0,
	}
}
