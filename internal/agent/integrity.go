package agent

import (
	"os"

	"github.com/tamsilcms/agent/internal/cryptoutil"
	"github.com/tamsilcms/agent/pkg/models"
)

// VerifySelfIntegrity implements spec.md §6/§7's self-integrity gate:
// an empty ExpectedBinaryHash always passes; otherwise the running
// executable's own SHA-256 must match it exactly. Grounded on the
// original agent's VerifySelfIntegrity (agent_integrity.cpp): same
// empty-hash-is-ok short circuit, same single hash comparison.
func VerifySelfIntegrity(cfg *models.Config) error {
	if cfg.ExpectedBinaryHash == "" {
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return models.ErrIntegrityFailed
	}

	actual := cryptoutil.SHA256File(exe)
	if actual == "" || actual != cfg.ExpectedBinaryHash {
		return models.ErrIntegrityFailed
	}
	return nil
}
