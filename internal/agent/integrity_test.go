package agent

import (
	"os"
	"testing"

	"github.com/tamsilcms/agent/internal/cryptoutil"
	"github.com/tamsilcms/agent/pkg/models"
)

func TestVerifySelfIntegrityPassesWhenHashEmpty(t *testing.T) {
	cfg := &models.Config{ExpectedBinaryHash: ""}
	if err := VerifySelfIntegrity(cfg); err != nil {
		t.Fatalf("expected no error with empty expected hash, got %v", err)
	}
}

func TestVerifySelfIntegrityPassesOnMatchingHash(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Skip("os.Executable unavailable in this environment")
	}
	cfg := &models.Config{ExpectedBinaryHash: cryptoutil.SHA256File(exe)}
	if err := VerifySelfIntegrity(cfg); err != nil {
		t.Fatalf("expected no error on matching hash, got %v", err)
	}
}

func TestVerifySelfIntegrityFailsOnMismatch(t *testing.T) {
	cfg := &models.Config{ExpectedBinaryHash: "0000000000000000000000000000000000000000000000000000000000000"}
	err := VerifySelfIntegrity(cfg)
	if err != models.ErrIntegrityFailed {
		t.Fatalf("expected ErrIntegrityFailed, got %v", err)
	}
}
