package uplink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamsilcms/agent/internal/retryutil"
	"github.com/tamsilcms/agent/pkg/models"
)

// Sender is the narrow transport surface the shipper needs: sign and
// POST an already-encoded JSON body to an arbitrary path.
type Sender interface {
	PostRaw(ctx context.Context, path string, payloadJSON json.RawMessage) error
}

// Shipper drains a spool directory written by uplink.Write, retrying
// each envelope independently with the same backoff shape as the job
// state machine (spec.md §4.4/§4.7).
type Shipper struct {
	dir    string
	sender Sender
	log    zerolog.Logger
}

// NewShipper builds a Shipper that drains dir.
func NewShipper(dir string, sender Sender, log zerolog.Logger) *Shipper {
	return &Shipper{dir: dir, sender: sender, log: log}
}

// Run scans the spool directory every interval until ctx is cancelled,
// shipping whatever it finds on each pass.
func (s *Shipper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.drainOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainOnce(ctx)
		}
	}
}

// drainOnce ships every envelope currently in the spool directory, in
// filename order, leaving failed ones in place for the next pass.
func (s *Shipper) drainOnce(ctx context.Context) {
	names, err := s.listEnvelopes()
	if err != nil {
		s.log.Warn().Err(err).Str("dir", s.dir).Msg("uplink: failed to list spool directory")
		return
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		s.shipOne(ctx, filepath.Join(s.dir, name))
	}
}

func (s *Shipper) listEnvelopes() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Shipper) shipOne(ctx context.Context, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("uplink: failed to read envelope")
		return
	}

	var env models.UplinkEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("uplink: malformed envelope, leaving for inspection")
		return
	}

	err = retryutil.Do(ctx, retryutil.JobReportPolicy, func(ctx context.Context) error {
		return s.sender.PostRaw(ctx, env.TargetPath, json.RawMessage(env.PayloadJSON))
	}, func(attempt int, err error, sleep time.Duration) {
		s.log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Dur("sleep", sleep).Msg("uplink: delivery attempt failed")
	})
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("uplink: envelope left queued after exhausting retries")
		return
	}

	if err := os.Remove(path); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("uplink: delivered but failed to remove envelope")
	}
}
