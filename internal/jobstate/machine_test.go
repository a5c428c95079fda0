package jobstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamsilcms/agent/pkg/models"
)

type fakeAcker struct {
	mu   sync.Mutex
	acks []models.PatchJobAck
}

func (f *fakeAcker) Acknowledge(ctx context.Context, ack models.PatchJobAck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ack)
	return nil
}

func (f *fakeAcker) statuses() []models.PatchJobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PatchJobStatus, len(f.acks))
	for i, a := range f.acks {
		out[i] = a.Status
	}
	return out
}

type fakeReporter struct {
	mu       sync.Mutex
	rmmCalls int
	psaCalls int
}

func (f *fakeReporter) ReportPatchResult(ctx context.Context, result models.PatchJobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rmmCalls++
	return nil
}

func (f *fakeReporter) ReportPatchResultSidechannel(ctx context.Context, result models.PatchJobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.psaCalls++
	return nil
}

type fakeExecutor struct {
	result models.PatchJobResult
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd models.PatchJobCommand) models.PatchJobResult {
	return f.result
}

func testCfg() *models.Config {
	return &models.Config{TenantID: "t1", AssetID: "A", PatchPollIntervalSeconds: 1}
}

func TestRunHappyPathAckSequence(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cmd := models.PatchJobCommand{
		JobID:         "j1",
		AssetID:       "A",
		IssuedAtEpoch: now.Unix(),
		ScheduledAt:   now.Add(10 * time.Millisecond),
		Patches:       []models.PatchDescriptor{{PatchID: "p1"}},
	}

	acker := &fakeAcker{}
	reporter := &fakeReporter{}
	exec := &fakeExecutor{result: models.PatchJobResult{JobID: "j1", Status: models.StatusCompleted, Result: models.OutcomeInstalled}}

	m := New(testCfg(), acker, reporter, exec, zerolog.Nop())
	m.now = func() time.Time { return now }

	result := m.Run(context.Background(), cmd)
	if result.Status != models.StatusCompleted {
		t.Fatalf("expected completed result, got %+v", result)
	}

	statuses := acker.statuses()
	if len(statuses) < 3 {
		t.Fatalf("expected at least received/running/completed acks, got %v", statuses)
	}
	if statuses[0] != models.StatusReceived {
		t.Fatalf("expected first ack received, got %s", statuses[0])
	}
	if statuses[len(statuses)-1] != models.StatusCompleted {
		t.Fatalf("expected last ack completed, got %s", statuses[len(statuses)-1])
	}
	for _, s := range statuses[1 : len(statuses)-1] {
		if s != models.StatusScheduled && s != models.StatusRunning {
			t.Fatalf("unexpected intermediate ack status %s in sequence %v", s, statuses)
		}
	}

	if reporter.rmmCalls != 1 || reporter.psaCalls != 1 {
		t.Fatalf("expected exactly one RMM and one PSA report, got rmm=%d psa=%d", reporter.rmmCalls, reporter.psaCalls)
	}
}

func TestRunSkipsScheduledWhenAlreadyDue(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cmd := models.PatchJobCommand{
		JobID:         "j1",
		AssetID:       "A",
		IssuedAtEpoch: now.Unix(),
		ScheduledAt:   now.Add(-time.Second), // already due
		Patches:       []models.PatchDescriptor{{PatchID: "p1"}},
	}

	acker := &fakeAcker{}
	reporter := &fakeReporter{}
	exec := &fakeExecutor{result: models.PatchJobResult{JobID: "j1", Status: models.StatusCompleted, Result: models.OutcomeInstalled}}

	m := New(testCfg(), acker, reporter, exec, zerolog.Nop())
	m.now = func() time.Time { return now }
	m.Run(context.Background(), cmd)

	statuses := acker.statuses()
	for _, s := range statuses {
		if s == models.StatusScheduled {
			t.Fatalf("expected scheduled state to be skipped when already due, got %v", statuses)
		}
	}
}

func TestRunInvalidScheduleTooFarFuture(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cmd := models.PatchJobCommand{
		JobID:         "j1",
		AssetID:       "A",
		IssuedAtEpoch: now.Unix(),
		ScheduledAt:   now.Add(8 * 24 * time.Hour),
	}

	acker := &fakeAcker{}
	reporter := &fakeReporter{}
	exec := &fakeExecutor{}

	m := New(testCfg(), acker, reporter, exec, zerolog.Nop())
	m.now = func() time.Time { return now }
	result := m.Run(context.Background(), cmd)

	if result.Status != models.StatusRejected {
		t.Fatalf("expected rejected result for a schedule 8 days out, got %+v", result)
	}
	statuses := acker.statuses()
	if len(statuses) != 1 || statuses[0] != models.StatusRejected {
		t.Fatalf("expected a single rejected ack, got %v", statuses)
	}
}

func TestRunInvalidScheduleBeforeIssued(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cmd := models.PatchJobCommand{
		JobID:         "j1",
		AssetID:       "A",
		IssuedAtEpoch: now.Unix(),
		ScheduledAt:   now.Add(-time.Hour),
	}

	m := New(testCfg(), &fakeAcker{}, &fakeReporter{}, &fakeExecutor{}, zerolog.Nop())
	m.now = func() time.Time { return now }
	result := m.Run(context.Background(), cmd)
	if result.Status != models.StatusRejected {
		t.Fatalf("expected rejected result for scheduled_at before issued_at, got %+v", result)
	}
}

func TestRunShutdownDuringWaitEmitsFailedAgentShutdown(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cmd := models.PatchJobCommand{
		JobID:         "j1",
		AssetID:       "A",
		IssuedAtEpoch: now.Unix(),
		ScheduledAt:   now.Add(time.Hour),
	}

	acker := &fakeAcker{}
	m := New(testCfg(), acker, &fakeReporter{}, &fakeExecutor{}, zerolog.Nop())
	m.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	result := m.Run(ctx, cmd)
	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed result on shutdown, got %+v", result)
	}
	statuses := acker.statuses()
	if statuses[len(statuses)-1] != models.StatusFailed {
		t.Fatalf("expected terminal failed ack, got %v", statuses)
	}
}

func TestReportAndAckRetriesOnFailure(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cmd := models.PatchJobCommand{
		JobID:         "j1",
		AssetID:       "A",
		IssuedAtEpoch: now.Unix(),
		ScheduledAt:   now,
		Patches:       []models.PatchDescriptor{{PatchID: "p1"}},
	}

	acker := &fakeAcker{}
	reporter := &flakyReporter{failFirstN: 2}
	exec := &fakeExecutor{result: models.PatchJobResult{JobID: "j1", Status: models.StatusCompleted}}

	m := New(testCfg(), acker, reporter, exec, zerolog.Nop())
	m.now = func() time.Time { return now }
	m.Run(context.Background(), cmd)

	if reporter.rmmAttempts < 3 {
		t.Fatalf("expected retries to eventually succeed, got %d attempts", reporter.rmmAttempts)
	}
}

type flakyReporter struct {
	mu          sync.Mutex
	failFirstN  int
	rmmAttempts int
}

func (f *flakyReporter) ReportPatchResult(ctx context.Context, result models.PatchJobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rmmAttempts++
	if f.rmmAttempts <= f.failFirstN {
		return errors.New("transient")
	}
	return nil
}

func (f *flakyReporter) ReportPatchResultSidechannel(ctx context.Context, result models.PatchJobResult) error {
	return nil
}
