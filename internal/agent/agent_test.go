package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamsilcms/agent/pkg/models"
)

func testConfig() *models.Config {
	return &models.Config{
		TenantID:                    "tenant-1",
		AssetID:                     "asset-1",
		IdentityID:                  "identity-1",
		AgentVersion:                "test",
		Hostname:                    "test-host",
		SharedKey:                   "shared-key",
		TransportURL:                "http://127.0.0.1:0",
		HeartbeatIntervalSeconds:    30,
		MaxHeartbeatIntervalSeconds: 300,
		WatchdogTimeoutSeconds:      60,
		PatchPollIntervalSeconds:    30,
		UplinkQueueDir:              "uplink_queue",
		IPCEndpoint:                 "agent-ipc",
		Defence: models.DefencePolicy{
			PolicyID:            "default",
			Mode:                models.PolicyEnforce,
			MinConfidence:       0.5,
			MaxActionsPerWindow: 2,
			ActionWindowSeconds: 60,
			AllowKill:           true,
		},
	}
}

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	a, err := New(testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestHandleIPCMessageReload(t *testing.T) {
	a := newTestAgent(t)
	resp, err := a.handleIPCMessage(nil, []byte("reload"))
	if err != nil {
		t.Fatalf("handleIPCMessage: %v", err)
	}
	if string(resp) != "ok" {
		t.Fatalf("expected ok response, got %q", resp)
	}
}

func TestHandleIPCMessageBadPayload(t *testing.T) {
	a := newTestAgent(t)
	resp, err := a.handleIPCMessage(nil, []byte("not json"))
	if err != nil {
		t.Fatalf("handleIPCMessage: %v", err)
	}
	if string(resp) != "bad_signal" {
		t.Fatalf("expected bad_signal response, got %q", resp)
	}
}

func TestHandleIPCMessageBehaviourSignalCapturesEvidence(t *testing.T) {
	a := newTestAgent(t)

	sig := models.BehaviourSignal{
		Type:              models.SignalProcess,
		Name:              "suspicious-process",
		RuleID:            "rule-1",
		ProcessID:         "1234",
		Confidence:        0.9,
		ObservedAt:        time.Now(),
		ResponseDefined:   true,
		RequestedResponse: models.KillProcess,
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := a.handleIPCMessage(nil, payload)
	if err != nil {
		t.Fatalf("handleIPCMessage: %v", err)
	}

	var finding models.DefenceFinding
	if err := json.Unmarshal(resp, &finding); err != nil {
		t.Fatalf("unmarshal finding response: %v", err)
	}
	if finding.ProposedResponse != models.KillProcess {
		t.Fatalf("expected kill_process, got %s (%s)", finding.ProposedResponse, finding.DecisionReason)
	}

	packageDir := filepath.Join("evidence_packages", finding.DetectionID)
	if _, err := os.Stat(filepath.Join(packageDir, "metadata.txt")); err != nil {
		t.Fatalf("expected packaged evidence metadata: %v", err)
	}

	items := a.evidence.List()
	if len(items) != 1 || !items[0].Sealed {
		t.Fatalf("expected one sealed evidence item, got %+v", items)
	}
}

func TestHandleIPCMessageLowConfidenceObserveOnly(t *testing.T) {
	a := newTestAgent(t)

	sig := models.BehaviourSignal{
		Name:              "benign",
		RuleID:            "rule-2",
		Confidence:        0.1,
		ObservedAt:        time.Now(),
		ResponseDefined:   true,
		RequestedResponse: models.KillProcess,
	}
	payload, _ := json.Marshal(sig)

	resp, err := a.handleIPCMessage(nil, payload)
	if err != nil {
		t.Fatalf("handleIPCMessage: %v", err)
	}
	var finding models.DefenceFinding
	if err := json.Unmarshal(resp, &finding); err != nil {
		t.Fatal(err)
	}
	if finding.ProposedResponse != models.ObserveOnly {
		t.Fatalf("expected observe_only for low confidence, got %s", finding.ProposedResponse)
	}
}
