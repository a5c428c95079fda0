// Package agent is the composition root: it loads Config, wires the
// transport/command/jobstate/defence/evidence/uplink/heartbeat/ipc
// collaborators together, and exposes the Supervisor-facing worker
// entry points (internal/supervisor re-invokes this binary per
// worker). Built on the teacher's viper-based config loader,
// generalised to the embedded-defaults -> INI -> env merge order of
// spec.md §6.
package agent

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/tamsilcms/agent/internal/secrets"
	"github.com/tamsilcms/agent/pkg/models"
)

func defaultExeDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

func defaultAssetID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown-asset"
}

// LoadConfig implements the merge order of spec.md §6: embedded
// defaults, then the INI file at <exe-dir>/config/agent_config.ini
// (or AGENT_CONFIG_PATH), then AGENT_* environment variables, in that
// order of increasing precedence.
func LoadConfig() (*models.Config, error) {
	v := viper.New()
	v.SetConfigType("ini")

	v.SetDefault("agent_version", "dev")
	v.SetDefault("transport_url", "https://localhost:8081")
	v.SetDefault("tenant_id", os.Getenv("USER"))
	v.SetDefault("asset_id", defaultAssetID())
	v.SetDefault("identity_id", defaultAssetID())
	v.SetDefault("shared_key", "")
	v.SetDefault("heartbeat_interval_seconds", 45)
	v.SetDefault("max_heartbeat_interval_seconds", 300)
	v.SetDefault("watchdog_timeout_seconds", 120)
	v.SetDefault("patch_poll_interval_seconds", 60)
	v.SetDefault("expected_binary_hash", "")
	v.SetDefault("uplink_queue_dir", "uplink_queue")
	v.SetDefault("ipc_endpoint", "agent-ipc")
	v.SetDefault("defence_mode", "observe")
	v.SetDefault("defence_min_confidence", 0.7)
	v.SetDefault("defence_max_actions", 5)
	v.SetDefault("defence_action_window", 300)
	v.SetDefault("defence_allow_kill", false)
	v.SetDefault("defence_allow_quarantine", false)
	v.SetDefault("defence_allow_block", false)
	v.SetDefault("defence_allow_prevent", false)

	configPath := os.Getenv("AGENT_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(defaultExeDir(), "config", "agent_config.ini")
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if os.IsNotExist(err) {
				// proceed on embedded defaults only
			}
		}
	}

	v.SetEnvPrefix("AGENT")
	v.AutomaticEnv()
	bindEnv(v, map[string]string{
		"transport_url":                  "AGENT_TRANSPORT_URL",
		"tenant_id":                      "AGENT_TENANT_ID",
		"asset_id":                       "AGENT_ASSET_ID",
		"identity_id":                    "AGENT_IDENTITY_ID",
		"shared_key":                     "AGENT_HMAC_SHARED_KEY",
		"heartbeat_interval_seconds":     "AGENT_HEARTBEAT_INTERVAL",
		"max_heartbeat_interval_seconds": "AGENT_HEARTBEAT_MAX_INTERVAL",
		"watchdog_timeout_seconds":       "AGENT_WATCHDOG_TIMEOUT",
		"patch_poll_interval_seconds":    "AGENT_PATCH_POLL_INTERVAL",
		"expected_binary_hash":           "AGENT_EXPECTED_SHA256",
		"defence_mode":                   "AGENT_DEFENCE_MODE",
		"defence_min_confidence":         "AGENT_DEFENCE_MIN_CONFIDENCE",
		"defence_max_actions":            "AGENT_DEFENCE_MAX_ACTIONS",
		"defence_action_window":          "AGENT_DEFENCE_ACTION_WINDOW",
		"defence_allow_kill":             "AGENT_DEFENCE_ALLOW_KILL",
		"defence_allow_quarantine":       "AGENT_DEFENCE_ALLOW_QUARANTINE",
		"defence_allow_block":            "AGENT_DEFENCE_ALLOW_BLOCK",
		"defence_allow_prevent":          "AGENT_DEFENCE_ALLOW_PREVENT",
		"uplink_queue_dir":               "UPLINK_QUEUE_DIR",
		"ipc_endpoint":                   "AGENT_IPC_ENDPOINT",
		"vault_url":                      "AGENT_VAULT_URL",
		"vault_client_id":                "AGENT_VAULT_CLIENT_ID",
		"vault_client_secret":            "AGENT_VAULT_CLIENT_SECRET",
		"vault_secret_name":              "AGENT_VAULT_SECRET_NAME",
		"api_key":                        "AGENT_API_KEY",
		"identity_header":                "AGENT_IDENTITY_HEADER",
		"cert_fingerprint":               "AGENT_CERT_FINGERPRINT",
		"agent_version":                  "AGENT_VERSION",
	})

	cfg := &models.Config{
		TenantID:        v.GetString("tenant_id"),
		AssetID:         v.GetString("asset_id"),
		IdentityID:      v.GetString("identity_id"),
		Hostname:        defaultAssetID(),
		AgentVersion:    v.GetString("agent_version"),
		TrustState:      models.TrustStateUnknown,
		SharedKey:       v.GetString("shared_key"),
		CertFingerprint: v.GetString("cert_fingerprint"),
		IdentityHeader:  v.GetString("identity_header"),
		APIKey:          v.GetString("api_key"),
		TransportURL:    v.GetString("transport_url"),

		HeartbeatIntervalSeconds:    v.GetInt("heartbeat_interval_seconds"),
		MaxHeartbeatIntervalSeconds: v.GetInt("max_heartbeat_interval_seconds"),
		WatchdogTimeoutSeconds:      v.GetInt("watchdog_timeout_seconds"),
		PatchPollIntervalSeconds:    v.GetInt("patch_poll_interval_seconds"),
		ExpectedBinaryHash:          v.GetString("expected_binary_hash"),

		Defence: models.DefencePolicy{
			Mode:                models.PolicyMode(v.GetString("defence_mode")),
			MinConfidence:       v.GetFloat64("defence_min_confidence"),
			MaxActionsPerWindow: v.GetInt("defence_max_actions"),
			ActionWindowSeconds: v.GetInt("defence_action_window"),
			AllowKill:           v.GetBool("defence_allow_kill"),
			AllowQuarantine:     v.GetBool("defence_allow_quarantine"),
			AllowBlock:          v.GetBool("defence_allow_block"),
			AllowPrevent:        v.GetBool("defence_allow_prevent"),
		},

		UplinkQueueDir: v.GetString("uplink_queue_dir"),

		VaultURL:          v.GetString("vault_url"),
		VaultClientID:     v.GetString("vault_client_id"),
		VaultClientSecret: v.GetString("vault_client_secret"),
		VaultSecretName:   v.GetString("vault_secret_name"),

		IPCEndpoint: v.GetString("ipc_endpoint"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.VaultURL != "" {
		resolved, err := secrets.ResolveSharedKey(cfg)
		if err == nil && resolved != "" {
			cfg.SharedKey = resolved
		}
	}

	return cfg, nil
}

// bindEnv wires each viper key to its documented AGENT_*/UPLINK_* env
// var name — spec.md §6 does not use a uniform AGENT_<SNAKE_KEY>
// convention (UPLINK_QUEUE_DIR breaks it), so automatic env binding
// alone is not sufficient.
func bindEnv(v *viper.Viper, keys map[string]string) {
	for key, env := range keys {
		_ = v.BindEnv(key, env)
	}
}
