package models

import (
	"encoding/json"
	"time"
)

// TelemetryKind is one of the typed record families POSTed to
// /mtls/rmm/<telemetry-kind>.
type TelemetryKind string

const (
	TelemetryConfigProfiles  TelemetryKind = "config-profiles"
	TelemetryPatchCatalog    TelemetryKind = "patch-catalog"
	TelemetryPatchJobs       TelemetryKind = "patch-jobs"
	TelemetryScriptResults   TelemetryKind = "script-results"
	TelemetryRemoteSessions  TelemetryKind = "remote-sessions"
	TelemetryEvidence        TelemetryKind = "evidence"
	TelemetryDeviceInventory TelemetryKind = "device-inventory"
)

// TelemetryRecord is the generic envelope for the telemetry-kind
// family of endpoints: one transport method, seven wire shapes.
type TelemetryRecord struct {
	Kind       TelemetryKind   `json:"kind"`
	CapturedAt time.Time       `json:"captured_at"`
	Payload    json.RawMessage `json:"payload"`
}
