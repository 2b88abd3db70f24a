package validation

import (
	"fmt"
)

// Severity grades how much an anomaly should worry a reviewer.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyKind is the closed set of conditions the validator can report.
type AnomalyKind uint8

const (
	KindMalformedTablesFixed AnomalyKind = iota + 1
	KindPageElementsRemoved
	KindMissingCaseNumber
	KindShortDocument
)

var kindNames = map[AnomalyKind]string{
	KindMalformedTablesFixed: "malformed_tables_fixed",
	KindPageElementsRemoved:  "page_elements_removed",
	KindMissingCaseNumber:    "missing_case_number",
	KindShortDocument:        "short_document",
}

func (k AnomalyKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("anomaly(%d)", uint8(k))
}

// Severity is fixed per kind.
func (k AnomalyKind) Severity() Severity {
	switch k {
	case KindShortDocument:
		return SeverityHigh
	case KindMalformedTablesFixed:
		return SeverityMedium
	case KindPageElementsRemoved, KindMissingCaseNumber:
		return SeverityLow
	default:
		return SeverityLow
	}
}

func (k AnomalyKind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown anomaly kind %d", uint8(k))
	}
	return []byte(name), nil
}

func (k *AnomalyKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown anomaly kind %q", string(text))
}

// Anomaly is one finding of the validation pipeline.
type Anomaly struct {
	Kind        AnomalyKind `json:"type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Location    string      `json:"location,omitempty"`
	ActionTaken string      `json:"action_taken,omitempty"`
	Count       int         `json:"count,omitempty"`
}

func newAnomaly(kind AnomalyKind, description, action string, count int) Anomaly {
	return Anomaly{
		Kind:        kind,
		Severity:    kind.Severity(),
		Description: description,
		ActionTaken: action,
		Count:       count,
	}
}

func tablesFixed(n int) Anomaly {
	return newAnomaly(KindMalformedTablesFixed,
		fmt.Sprintf("%d malformed table(s) repaired", n),
		"Separator row synthesized or block demoted to text", n)
}

func pageElementsRemoved(stats RemovalStats) Anomaly {
	a := newAnomaly(KindPageElementsRemoved,
		fmt.Sprintf("%d page number, header and footer line(s) removed", stats.Total()),
		"Filtered automatically", stats.Total())
	a.Location = stats.String()
	return a
}

func missingCaseNumber() Anomaly {
	return newAnomaly(KindMissingCaseNumber, "No case or file number detected", "Requires manual review", 0)
}

func shortDocument(length int) Anomaly {
	a := newAnomaly(KindShortDocument,
		fmt.Sprintf("Document too short (%d characters, minimum %d)", length, minDocumentLength),
		"Verify that OCR succeeded", 0)
	return a
}

// Status is the overall verdict derived from anomaly severities.
type Status string

const (
	StatusOK     Status = "OK"
	StatusAlert  Status = "ALERT"
	StatusFailed Status = "FAILED"
)

// DeriveStatus is FAILED on any high-severity anomaly, ALERT on two or more
// medium ones, OK otherwise.
func DeriveStatus(anomalies []Anomaly) Status {
	high, medium := countSeverities(anomalies)
	switch {
	case high > 0:
		return StatusFailed
	case medium >= 2:
		return StatusAlert
	default:
		return StatusOK
	}
}

// Score is max(0, 1 - 0.3*high - 0.1*medium).
func Score(anomalies []Anomaly) float64 {
	high, medium := countSeverities(anomalies)
	score := 1.0 - 0.3*float64(high) - 0.1*float64(medium)
	if score < 0 {
		return 0
	}
	return score
}

func countSeverities(anomalies []Anomaly) (high, medium int) {
	for _, a := range anomalies {
		switch a.Severity {
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		}
	}
	return high, medium
}
