package uplink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamsilcms/agent/pkg/models"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeSender) PostRaw(ctx context.Context, path string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if f.fail {
		return errOops
	}
	return nil
}

var errOops = &testErr{"boom"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func spoolEnvelope(t *testing.T, dir, name string, env models.UplinkEnvelope) {
	t.Helper()
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDrainOnceDeletesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	spoolEnvelope(t, dir, "rmm_x_1.json", models.UplinkEnvelope{Kind: models.UplinkRMM, TargetPath: "mtls/rmm/device-inventory", PayloadJSON: "{}"})

	sender := &fakeSender{}
	s := NewShipper(dir, sender, zerolog.Nop())
	s.drainOnce(context.Background())

	if len(sender.calls) != 1 || sender.calls[0] != "mtls/rmm/device-inventory" {
		t.Fatalf("unexpected calls %v", sender.calls)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected envelope to be deleted after success, got %v", entries)
	}
}

func TestDrainOnceLeavesEnvelopeOnFailure(t *testing.T) {
	dir := t.TempDir()
	spoolEnvelope(t, dir, "rmm_x_1.json", models.UplinkEnvelope{Kind: models.UplinkRMM, TargetPath: "mtls/rmm/device-inventory", PayloadJSON: "{}"})

	sender := &fakeSender{fail: true}
	s := NewShipper(dir, sender, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.drainOnce(ctx)

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected envelope to remain queued after failure, got %v", entries)
	}
}

func TestDrainOnceProcessesInFilenameOrder(t *testing.T) {
	dir := t.TempDir()
	spoolEnvelope(t, dir, "rmm_b_2.json", models.UplinkEnvelope{Kind: models.UplinkRMM, TargetPath: "/second"})
	spoolEnvelope(t, dir, "rmm_a_1.json", models.UplinkEnvelope{Kind: models.UplinkRMM, TargetPath: "/first"})

	sender := &fakeSender{}
	s := NewShipper(dir, sender, zerolog.Nop())
	s.drainOnce(context.Background())

	if len(sender.calls) != 2 || sender.calls[0] != "/first" || sender.calls[1] != "/second" {
		t.Fatalf("expected filename-ordered delivery, got %v", sender.calls)
	}
}
