package models

// HeartbeatPayload is the periodic signed liveness record. EventID is
// unique per attempt so retried heartbeats are individually traceable
// on the control plane side.
type HeartbeatPayload struct {
	TenantID       string     `json:"tenant_id"`
	AssetID        string     `json:"asset_id"`
	IdentityID     string     `json:"identity_id"`
	EventID        string     `json:"event_id"`
	AgentVersion   string     `json:"agent_version"`
	Hostname       string     `json:"hostname"`
	OS             string     `json:"os"`
	UptimeSeconds  int64      `json:"uptime_seconds"`
	TrustState     TrustState `json:"trust_state"`
	SentAt         string     `json:"sent_at"` // ISO-8601 UTC
}
