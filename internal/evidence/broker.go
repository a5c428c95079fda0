// Package evidence implements the evidence broker of spec.md §4.6:
// an in-memory map of EvidenceItem kept under a single mutex, sealed
// by streaming SHA-256, and packaged to a local directory plus an
// UplinkEnvelope for the shipper of internal/uplink. Grounded on the
// teacher's internal/vault.VaultClient shape (a constructor holding
// fixed config, typed request/response builders) generalised from a
// networked vault client to a local sealing/packaging component — the
// shape of "hold config, expose narrow typed operations" survives even
// though the transport target does not.
package evidence

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/tamsilcms/agent/internal/cryptoutil"
	"github.com/tamsilcms/agent/internal/uplink"
	"github.com/tamsilcms/agent/pkg/models"
)

// Broker holds every EvidenceItem known to this process, guarded by a
// single mutex per spec.md §4.6.
type Broker struct {
	mu   sync.Mutex
	byID map[string]*models.EvidenceItem

	tenantID     string
	assetID      string
	packagesDir  string
	uplinkSpool  string
}

// New builds an empty Broker rooted at packagesDir/uplinkSpool.
func New(tenantID, assetID, packagesDir, uplinkSpool string) *Broker {
	return &Broker{
		byID:        make(map[string]*models.EvidenceItem),
		tenantID:    tenantID,
		assetID:     assetID,
		packagesDir: packagesDir,
		uplinkSpool: uplinkSpool,
	}
}

// Add stores item, which must be unsealed.
func (b *Broker) Add(item models.EvidenceItem) error {
	if item.Sealed {
		return errors.New("evidence: added item must be unsealed")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := item
	b.byID[item.EvidenceID] = &cp
	return nil
}

// Seal streams the artefact at storage_path through SHA-256 and
// records the digest. If the file is missing, the item is left
// unsealed and ErrEvidenceMissing is returned so callers can emit
// SealMissingArtifact.
func (b *Broker) Seal(evidenceID string) error {
	b.mu.Lock()
	item, ok := b.byID[evidenceID]
	b.mu.Unlock()
	if !ok {
		return errors.Errorf("evidence: unknown id %s", evidenceID)
	}

	if _, err := os.Stat(item.StoragePath); err != nil {
		return errors.Wrap(models.ErrEvidenceMissing, evidenceID)
	}

	sum := cryptoutil.SHA256File(item.StoragePath)
	if sum == "" {
		return errors.Wrap(models.ErrEvidenceMissing, evidenceID)
	}

	b.mu.Lock()
	item.SHA256Hex = sum
	item.Sealed = true
	b.mu.Unlock()
	return nil
}

// Upload packages a sealed item into packagesDir/<evidence_id>/ (a
// copy of the artefact plus metadata.txt) and writes an
// UplinkEnvelope to the spool directory for the shipper.
func (b *Broker) Upload(evidenceID string) error {
	b.mu.Lock()
	item, ok := b.byID[evidenceID]
	b.mu.Unlock()
	if !ok {
		return errors.Errorf("evidence: unknown id %s", evidenceID)
	}
	if !item.Sealed {
		return errors.New("evidence: upload requires a sealed item")
	}

	pkgDir := filepath.Join(b.packagesDir, item.EvidenceID)
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		return errors.Wrap(err, "evidence: create package dir")
	}

	absPath, err := filepath.Abs(item.StoragePath)
	if err != nil {
		absPath = item.StoragePath
	}

	if err := copyFile(item.StoragePath, filepath.Join(pkgDir, filepath.Base(item.StoragePath))); err != nil {
		return errors.Wrap(err, "evidence: copy artefact")
	}

	meta := metadataLines(b.tenantID, b.assetID, *item, absPath)
	if err := os.WriteFile(filepath.Join(pkgDir, "metadata.txt"), []byte(meta), 0o644); err != nil {
		return errors.Wrap(err, "evidence: write metadata")
	}

	payload, err := json.Marshal(uplinkEvidencePayload{
		TenantID:   b.tenantID,
		AssetID:    b.assetID,
		EvidenceID: item.EvidenceID,
		Source:     item.Source,
		Type:       item.Type,
		RelatedID:  item.RelatedID,
		SHA256Hex:  item.SHA256Hex,
		StorageURI: "file://" + absPath,
		CapturedAt: item.CapturedAt.Unix(),
	})
	if err != nil {
		return errors.Wrap(err, "evidence: marshal uplink payload")
	}

	env := models.UplinkEnvelope{
		Kind:        models.UplinkEvidence,
		TargetPath:  "mtls/rmm/evidence",
		PayloadJSON: string(payload),
	}
	return uplink.Write(b.uplinkSpool, "evidence_"+item.EvidenceID, env)
}

// List returns a point-in-time snapshot of every known item.
func (b *Broker) List() []models.EvidenceItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.EvidenceItem, 0, len(b.byID))
	for _, item := range b.byID {
		out = append(out, *item)
	}
	return out
}

type uplinkEvidencePayload struct {
	TenantID   string `json:"tenant_id"`
	AssetID    string `json:"asset_id"`
	EvidenceID string `json:"evidence_id"`
	Source     string `json:"source"`
	Type       string `json:"type"`
	RelatedID  string `json:"related_id"`
	SHA256Hex  string `json:"sha256_hex"`
	StorageURI string `json:"storage_uri"`
	CapturedAt int64  `json:"captured_at"`
}

func metadataLines(tenantID, assetID string, item models.EvidenceItem, absPath string) string {
	lines := []string{
		"tenant_id=" + tenantID,
		"asset_id=" + assetID,
		"evidence_id=" + item.EvidenceID,
		"source=" + item.Source,
		"type=" + item.Type,
		"related_id=" + item.RelatedID,
		"hash=" + item.SHA256Hex,
		"storage_uri=file://" + absPath,
		"captured_at=" + strconv.FormatInt(item.CapturedAt.Unix(), 10),
	}
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
