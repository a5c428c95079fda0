// Package command implements the signed command channel of spec.md
// §4.3: poll, verify, and acknowledge for patch-job commands. Results
// are not reported through this package; internal/jobstate sends them
// via its ResultReporter. The channel is stateless above its nonce
// cache — job progress lives in internal/jobstate.
package command

import (
	"context"
	"time"

	"github.com/tamsilcms/agent/internal/cryptoutil"
	"github.com/tamsilcms/agent/internal/transport"
	"github.com/tamsilcms/agent/pkg/models"
)

// transportClient is the slice of *transport.Client the channel needs.
// Defined as an interface so tests can substitute a fake without
// spinning up an HTTP server.
type transportClient interface {
	PollPatchJob(ctx context.Context, assetID string) (*models.PatchJobCommand, error)
	AckPatchJob(ctx context.Context, ack models.PatchJobAck) error
}

// Channel polls for patch-job commands, verifies issuer signature and
// timestamp skew, and exposes acknowledgement.
type Channel struct {
	cfg    *models.Config
	tc     transportClient
	nonces *NonceCache
	now    func() time.Time // overridable for tests
}

// New builds a Channel. tc is the shared signed transport client.
func New(cfg *models.Config, tc transportClient) *Channel {
	return &Channel{
		cfg:    cfg,
		tc:     tc,
		nonces: NewNonceCache(),
		now:    time.Now,
	}
}

// PollNextPatchJob polls the control plane for the next patch job. It
// returns (nil, nil) when there is nothing to do (HTTP 204). A
// validation failure drops the command, emits a best-effort rejected
// ack, and returns the rejection error.
func (ch *Channel) PollNextPatchJob(ctx context.Context) (*models.PatchJobCommand, error) {
	cmd, err := ch.tc.PollPatchJob(ctx, ch.cfg.AssetID)
	if err == transport.ErrNoContent {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if rejErr := ch.validate(cmd); rejErr != nil {
		ack := models.PatchJobAck{
			TenantID:       ch.cfg.TenantID,
			AssetID:        ch.cfg.AssetID,
			JobID:          cmd.JobID,
			Status:         models.StatusRejected,
			Detail:         string(rejErr.Reason),
			AcknowledgedAt: ch.now().UTC(),
		}
		_ = ch.tc.AckPatchJob(ctx, ack) // best-effort: rejection stands even if the ack POST fails
		return nil, rejErr
	}

	return cmd, nil
}

// validate runs the four checks of spec.md §4.3 in order, stopping at
// the first failure.
func (ch *Channel) validate(cmd *models.PatchJobCommand) *models.CommandRejectedError {
	if cmd.AssetID != ch.cfg.AssetID {
		return &models.CommandRejectedError{Reason: models.RejectAssetMismatch}
	}

	skew := ch.now().Unix() - cmd.IssuedAtEpoch
	if skew < 0 {
		skew = -skew
	}
	if skew > models.DefaultSkewSeconds {
		return &models.CommandRejectedError{Reason: models.RejectStaleOrFuture}
	}

	payload, err := CanonicalPayload(cmd)
	if err != nil {
		return &models.CommandRejectedError{Reason: models.RejectMalformed}
	}
	if !cryptoutil.Verify(ch.cfg.SharedKey, cmd.IssuedAtEpoch, payload, cmd.Signature) {
		return &models.CommandRejectedError{Reason: models.RejectInvalidSignature}
	}

	if ch.nonces.SeenBefore(cmd.AssetID, cmd.Nonce) {
		return &models.CommandRejectedError{Reason: models.RejectReplay}
	}

	return nil
}

// Acknowledge posts a PatchJobAck for a state transition.
func (ch *Channel) Acknowledge(ctx context.Context, ack models.PatchJobAck) error {
	return ch.tc.AckPatchJob(ctx, ack)
}
