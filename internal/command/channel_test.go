package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tamsilcms/agent/internal/cryptoutil"
	"github.com/tamsilcms/agent/internal/transport"
	"github.com/tamsilcms/agent/pkg/models"
)

type fakeTransport struct {
	next  *models.PatchJobCommand
	acks  []models.PatchJobAck
	noJob bool
}

func (f *fakeTransport) PollPatchJob(ctx context.Context, assetID string) (*models.PatchJobCommand, error) {
	if f.noJob {
		return nil, transport.ErrNoContent
	}
	return f.next, nil
}

func (f *fakeTransport) AckPatchJob(ctx context.Context, ack models.PatchJobAck) error {
	f.acks = append(f.acks, ack)
	return nil
}

func signedCommand(t *testing.T, key string, issuedAt time.Time, nonce string) *models.PatchJobCommand {
	t.Helper()
	cmd := &models.PatchJobCommand{
		JobID:         "j1",
		AssetID:       "A",
		ScheduledAt:   issuedAt.Add(2 * time.Second),
		RebootPolicy:  models.RebootNone,
		IssuedAtEpoch: issuedAt.Unix(),
		Nonce:         nonce,
		Patches:       []models.PatchDescriptor{{PatchID: "p1"}},
	}
	payload, err := CanonicalPayload(cmd)
	if err != nil {
		t.Fatalf("CanonicalPayload: %v", err)
	}
	sig, err := cryptoutil.Sign(key, cmd.IssuedAtEpoch, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	cmd.Signature = sig
	return cmd
}

func testChannel(ft *fakeTransport, now time.Time) *Channel {
	cfg := &models.Config{TenantID: "t1", AssetID: "A", IdentityID: "id1", SharedKey: "k"}
	ch := New(cfg, ft)
	ch.now = func() time.Time { return now }
	return ch
}

func TestPollNoContent(t *testing.T) {
	ft := &fakeTransport{noJob: true}
	ch := testChannel(ft, time.Now())
	cmd, err := ch.PollNextPatchJob(context.Background())
	if err != nil || cmd != nil {
		t.Fatalf("expected (nil, nil) for no content, got (%v, %v)", cmd, err)
	}
}

func TestPollHappyPath(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cmd := signedCommand(t, "k", now, "n1")
	ft := &fakeTransport{next: cmd}
	ch := testChannel(ft, now)

	got, err := ch.PollNextPatchJob(context.Background())
	if err != nil {
		t.Fatalf("expected acceptance, got error %v", err)
	}
	if got.JobID != "j1" {
		t.Fatalf("expected job j1, got %s", got.JobID)
	}
	if len(ft.acks) != 0 {
		t.Fatalf("expected no ack on acceptance, got %d", len(ft.acks))
	}
}

func TestPollReplayRejection(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	ft := &fakeTransport{}
	ch := testChannel(ft, now)

	cmd1 := signedCommand(t, "k", now, "n1")
	ft.next = cmd1
	if _, err := ch.PollNextPatchJob(context.Background()); err != nil {
		t.Fatalf("first poll should be accepted: %v", err)
	}

	cmd2 := signedCommand(t, "k", now, "n1")
	ft.next = cmd2
	_, err := ch.PollNextPatchJob(context.Background())
	var rej *models.CommandRejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected CommandRejectedError, got %v", err)
	}
	if rej.Reason != models.RejectReplay {
		t.Fatalf("expected replay rejection, got %s", rej.Reason)
	}
	if len(ft.acks) != 1 || ft.acks[0].Status != models.StatusRejected || ft.acks[0].Detail != string(models.RejectReplay) {
		t.Fatalf("expected one rejected ack with detail replay, got %+v", ft.acks)
	}
}

func TestPollAssetMismatch(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cmd := signedCommand(t, "k", now, "n1")
	cmd.AssetID = "OTHER"
	ft := &fakeTransport{next: cmd}
	ch := testChannel(ft, now)

	_, err := ch.PollNextPatchJob(context.Background())
	var rej *models.CommandRejectedError
	if !errors.As(err, &rej) || rej.Reason != models.RejectAssetMismatch {
		t.Fatalf("expected asset_mismatch rejection, got %v", err)
	}
}

func TestPollSkewBoundary(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	atLimit := signedCommand(t, "k", now.Add(-models.DefaultSkewSeconds*time.Second), "n-at-limit")
	ft := &fakeTransport{next: atLimit}
	ch := testChannel(ft, now)
	if _, err := ch.PollNextPatchJob(context.Background()); err != nil {
		t.Fatalf("expected command at exactly the skew boundary to be accepted: %v", err)
	}

	beyond := signedCommand(t, "k", now.Add(-(models.DefaultSkewSeconds+1)*time.Second), "n-beyond")
	ft2 := &fakeTransport{next: beyond}
	ch2 := testChannel(ft2, now)
	_, err := ch2.PollNextPatchJob(context.Background())
	var rej *models.CommandRejectedError
	if !errors.As(err, &rej) || rej.Reason != models.RejectStaleOrFuture {
		t.Fatalf("expected stale_or_future one second beyond skew, got %v", err)
	}
}

func TestPollInvalidSignature(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cmd := signedCommand(t, "k", now, "n1")
	cmd.Signature = "tampered"
	ft := &fakeTransport{next: cmd}
	ch := testChannel(ft, now)

	_, err := ch.PollNextPatchJob(context.Background())
	var rej *models.CommandRejectedError
	if !errors.As(err, &rej) || rej.Reason != models.RejectInvalidSignature {
		t.Fatalf("expected invalid_signature rejection, got %v", err)
	}
}
