package models

import "time"

// EvidenceItem tracks one artefact through the
// created -> sealed -> packaged -> queued -> shipped lifecycle.
type EvidenceItem struct {
	EvidenceID  string    `json:"evidence_id"`
	Source      string    `json:"source"`
	Type        string    `json:"type"`
	RelatedID   string    `json:"related_id"`
	StoragePath string    `json:"storage_path"`
	SHA256Hex   string    `json:"sha256_hex"`
	CapturedAt  time.Time `json:"captured_at"`
	Sealed      bool      `json:"sealed"`
}

// UplinkKind determines which endpoint an UplinkEnvelope maps to.
type UplinkKind string

const (
	UplinkEvidence     UplinkKind = "evidence"
	UplinkRMM          UplinkKind = "rmm"
	UplinkPatchResult  UplinkKind = "patch_result"
)

// UplinkEnvelope is the spool file content written by producers and
// consumed by the out-of-band shipper.
type UplinkEnvelope struct {
	Kind        UplinkKind `json:"kind"`
	TargetPath  string     `json:"path"`
	PayloadJSON string     `json:"payload_json"`
}
