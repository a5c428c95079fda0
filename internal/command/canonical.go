package command

import (
	"encoding/json"

	"github.com/tamsilcms/agent/pkg/models"
)

// canonicalPatch and canonicalCommand fix the exact key order and
// field set signed over by the control plane, per spec.md §4.3:
// job_id, asset_id, scheduled_at, reboot_policy, issued_at, nonce,
// patches[] (patch_id, title, vendor, severity, kb). encoding/json
// marshals struct fields in declaration order and emits no
// insignificant whitespace when not indented, which is exactly the
// "no insignificant whitespace, fixed field order" canonical form the
// spec calls for — no separate canonical-JSON library is needed for
// this fixed, known shape (see DESIGN.md).
type canonicalPatch struct {
	PatchID  string `json:"patch_id"`
	Title    string `json:"title"`
	Vendor   string `json:"vendor"`
	Severity string `json:"severity"`
	KB       string `json:"kb"`
}

type canonicalCommand struct {
	JobID        string           `json:"job_id"`
	AssetID      string           `json:"asset_id"`
	ScheduledAt  int64            `json:"scheduled_at"`
	RebootPolicy string           `json:"reboot_policy"`
	IssuedAt     int64            `json:"issued_at"`
	Nonce        string           `json:"nonce"`
	Patches      []canonicalPatch `json:"patches"`
}

// CanonicalPayload builds the exact byte sequence signed for cmd.
func CanonicalPayload(cmd *models.PatchJobCommand) ([]byte, error) {
	patches := make([]canonicalPatch, 0, len(cmd.Patches))
	for _, p := range cmd.Patches {
		patches = append(patches, canonicalPatch{
			PatchID:  p.PatchID,
			Title:    p.Title,
			Vendor:   p.Vendor,
			Severity: p.Severity,
			KB:       p.KB,
		})
	}
	form := canonicalCommand{
		JobID:        cmd.JobID,
		AssetID:      cmd.AssetID,
		ScheduledAt:  cmd.ScheduledAt.Unix(),
		RebootPolicy: string(cmd.RebootPolicy),
		IssuedAt:     cmd.IssuedAtEpoch,
		Nonce:        cmd.Nonce,
		Patches:      patches,
	}
	return json.Marshal(form)
}
