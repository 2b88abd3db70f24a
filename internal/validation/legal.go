package validation

import (
	"regexp"
	"strings"
)

var (
	caseNumberRe = regexp.MustCompile(`(?i)(?:Expediente|Exp\.?|No\.)?\s*([A-Z]{0,3}-?\d{4}-?\d+)`)
	courtRe      = regexp.MustCompile(`(?i)(?:Juzgado|Tribunal|Court)\s+(?:de\s+|of\s+)?([A-Za-z\s]+?)(?:\s+(?:del|de|en|of|in)\s+|$)`)
	articleRe    = regexp.MustCompile(`(?i)(?:Art\.?|Artículo|Article)\s+\d+`)
)

// LegalElements is the domain metadata recovered from a cleaned document.
// Extraction is best-effort.
type LegalElements struct {
	CaseNumber string `json:"case_number,omitempty"`
	Court      string `json:"court,omitempty"`
	Articles   int    `json:"articles"`
	Tables     int    `json:"tables"`
}

// ExtractLegalElements looks for a case/file number, a court name, article
// citations and table separator rows.
func ExtractLegalElements(markdown string) LegalElements {
	var el LegalElements
	if m := caseNumberRe.FindStringSubmatch(markdown); m != nil {
		el.CaseNumber = m[1]
	}
	if m := courtRe.FindStringSubmatch(markdown); m != nil {
		el.Court = strings.TrimSpace(m[1])
	}
	el.Articles = len(articleRe.FindAllStringIndex(markdown, -1))
	for _, line := range strings.Split(markdown, "\n") {
		if IsTableSeparator(line) {
			el.Tables++
		}
	}
	return el
}
