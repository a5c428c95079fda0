package models

import "time"

// TrustState describes the control plane's current trust decision for
// this asset, echoed back on every heartbeat.
type TrustState string

const (
	TrustStateUnknown  TrustState = "unknown"
	TrustStatePending  TrustState = "pending"
	TrustStateTrusted  TrustState = "trusted"
	TrustStateRevoked  TrustState = "revoked"
)

// Config is the agent's immutable, process-lifetime configuration,
// merged once at startup from embedded defaults, an INI file, and
// AGENT_* environment variables.
type Config struct {
	TenantID   string
	AssetID    string
	IdentityID string

	AgentVersion string
	Hostname     string
	OSName       string
	TrustState   TrustState

	SharedKey       string
	CertFingerprint string
	IdentityHeader  string
	APIKey          string

	TransportURL string

	HeartbeatIntervalSeconds    int
	MaxHeartbeatIntervalSeconds int
	WatchdogTimeoutSeconds      int
	PatchPollIntervalSeconds    int

	ExpectedBinaryHash string

	Defence DefencePolicy

	UplinkQueueDir string

	VaultURL          string
	VaultClientID     string
	VaultClientSecret string
	VaultSecretName   string

	IPCEndpoint string
}

// Validate enforces the non-empty-identifier invariant of the Config
// entity. SharedKey emptiness is validated lazily, only by the signing
// API that actually needs it (see internal/cryptoutil).
func (c *Config) Validate() error {
	if c.TenantID == "" || c.AssetID == "" || c.IdentityID == "" {
		return ErrMissingIdentifiers
	}
	return nil
}

// ConnectTimeout and ReadTimeout are the fixed outbound HTTP timeout
// budgets; they are not configurable. internal/transport applies their
// sum as a single overall per-request timeout rather than as separate
// connect and read timeouts.
const (
	ConnectTimeout = 10 * time.Second
	ReadTimeout    = 30 * time.Second
)

// DefaultSkewSeconds is the default replay/clock-skew tolerance for
// signed commands (spec.md §4.3).
const DefaultSkewSeconds = 300

// DefaultNonceTTL and DefaultNonceCapacity bound the replay cache
// (spec.md §4.3, Open Questions): no explicit value is given upstream,
// so 24h / 10,000 entries is adopted as the safe default.
const (
	DefaultNonceTTL      = 24 * time.Hour
	DefaultNonceCapacity = 10000
)
