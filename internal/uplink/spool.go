// Package uplink implements the spool + shipper of spec.md §4.7: an
// out-of-band queue directory of single-envelope JSON files, written
// atomically by producers (currently internal/evidence) and drained by
// a background Shipper that POSTs
// each envelope's payload to the control plane and deletes it on
// success. Grounded on the teacher's internal/communicator retry shape
// generalised to a directory-backed queue, since no example repo in
// the retrieval pack models a local spool/shipper pair directly.
package uplink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/tamsilcms/agent/pkg/models"
)

// DefaultQueueDir is the default spool directory name, per spec.md
// §4.7; agent.LoadConfig uses the same value as its uplink_queue_dir
// default. Write and Shipper use the directory they are given and do
// not fall back to this constant.
const DefaultQueueDir = "uplink_queue"

// Write spools env to dir using the atomic write-then-rename pattern,
// named <kind>_<sanitised_category>_<epoch_s>.json. The parent
// directory is created if missing.
func Write(dir, category string, env models.UplinkEnvelope) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "uplink: create queue dir")
	}

	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "uplink: marshal envelope")
	}

	name := fmt.Sprintf("%s_%s_%d.json", env.Kind, sanitise(category), time.Now().Unix())
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return errors.Wrap(err, "uplink: write envelope tmp")
	}
	if err := os.Rename(tmp, final); err != nil {
		return errors.Wrap(err, "uplink: rename envelope")
	}
	return nil
}

func sanitise(s string) string {
	if s == "" {
		return "item"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
