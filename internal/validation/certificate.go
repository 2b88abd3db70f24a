package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// AlgorithmVersion identifies the cleaning pipeline revision in certificates.
const AlgorithmVersion = "2.0"

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Certificate records what was processed and with what integrity verdict.
// IntegrityHash mixes in the generation time, so two certificates for the
// same content differ; it is a freshness nonce, not a content digest.
type Certificate struct {
	HashOriginal       string        `json:"hash_original"`
	HashMarkdown       string        `json:"hash_markdown"`
	IntegrityHash      string        `json:"integrity_hash"`
	SigningKeyID       string        `json:"signing_key_id"`
	VLMUsed            string        `json:"vlm_used"`
	AlgorithmVersion   string        `json:"algorithm_version"`
	Timestamp          string        `json:"timestamp"`
	ValidationStatus   Status        `json:"validation_status"`
	IntegrityVerified  bool          `json:"integrity_verified"`
	AnomaliesCount     int           `json:"anomalies_count"`
	StructurePreserved bool          `json:"structure_preserved"`
	LegalElements      LegalElements `json:"legal_elements_detected"`
	ProcessingTimeMs   int64         `json:"processing_time_ms"`
}

// NewCertificate builds the certificate for a validation result.
func NewCertificate(res *Result, vlmUsed string, now time.Time) *Certificate {
	nonce := strconv.FormatInt(now.UnixMilli(), 10)
	return &Certificate{
		HashOriginal:       res.HashOriginal,
		HashMarkdown:       res.HashMarkdown,
		IntegrityHash:      Hash([]byte(res.HashOriginal + res.HashMarkdown + nonce)),
		SigningKeyID:       fmt.Sprintf("forensicdocflow-%d", now.Year()),
		VLMUsed:            vlmUsed,
		AlgorithmVersion:   AlgorithmVersion,
		Timestamp:          now.UTC().Format(time.RFC3339Nano),
		ValidationStatus:   res.Status,
		IntegrityVerified:  res.Status != StatusFailed,
		AnomaliesCount:     len(res.Anomalies),
		StructurePreserved: res.StructurePreserved,
		LegalElements:      res.Legal,
	}
}
