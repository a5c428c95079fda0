// Package jobstate drives a single verified PatchJobCommand through
// the state lattice of spec.md §4.4:
//
//	received -> scheduled* -> running -> (completed | failed)
//	       \-> rejected (time-travel precondition only; §4.3 rejections
//	                     never reach this package)
package jobstate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamsilcms/agent/internal/executor"
	"github.com/tamsilcms/agent/internal/retryutil"
	"github.com/tamsilcms/agent/pkg/models"
)

// maxScheduleSkew is the time-travel protection bound of spec.md §4.4:
// scheduled_at more than 7 days in the future is rejected.
const maxScheduleSkew = 7 * 24 * time.Hour

// shutdownGrace bounds how long Run waits for the executor to return
// once ctx is cancelled before giving up and reporting agent_shutdown.
const shutdownGrace = 5 * time.Second

// Acker emits acknowledgements for job state transitions.
type Acker interface {
	Acknowledge(ctx context.Context, ack models.PatchJobAck) error
}

// ResultReporter sends the terminal result to the RMM and PSA
// endpoints.
type ResultReporter interface {
	ReportPatchResult(ctx context.Context, result models.PatchJobResult) error
	ReportPatchResultSidechannel(ctx context.Context, result models.PatchJobResult) error
}

// Machine drives one PatchJobCommand to completion.
type Machine struct {
	cfg      *models.Config
	acker    Acker
	reporter ResultReporter
	exec     executor.Executor
	log      zerolog.Logger

	now func() time.Time
}

// New builds a Machine bound to cfg and its collaborators.
func New(cfg *models.Config, acker Acker, reporter ResultReporter, exec executor.Executor, log zerolog.Logger) *Machine {
	return &Machine{cfg: cfg, acker: acker, reporter: reporter, exec: exec, log: log, now: time.Now}
}

func (m *Machine) ack(ctx context.Context, jobID string, status models.PatchJobStatus, detail string) {
	err := m.acker.Acknowledge(ctx, models.PatchJobAck{
		TenantID:       m.cfg.TenantID,
		AssetID:        m.cfg.AssetID,
		JobID:          jobID,
		Status:         status,
		Detail:         detail,
		AcknowledgedAt: m.now().UTC(),
	})
	if err != nil {
		m.log.Warn().Err(err).Str("job_id", jobID).Str("status", string(status)).Msg("ack delivery failed")
	}
}

// invalidSchedule reports the time-travel protection of spec.md §4.4.
func invalidSchedule(cmd models.PatchJobCommand) bool {
	issuedAt := time.Unix(cmd.IssuedAtEpoch, 0)
	return cmd.ScheduledAt.After(issuedAt.Add(maxScheduleSkew)) || cmd.ScheduledAt.Before(issuedAt)
}

// Run drives cmd through the full lifecycle. It returns the terminal
// result for callers that want to log it; errors from ack/report
// delivery are logged internally and do not abort the run, per
// spec.md §7 ("I/O and HTTP errors are handled locally with bounded
// retries").
func (m *Machine) Run(ctx context.Context, cmd models.PatchJobCommand) models.PatchJobResult {
	if invalidSchedule(cmd) {
		m.ack(ctx, cmd.JobID, models.StatusRejected, string(models.RejectInvalidSchedule))
		return models.PatchJobResult{JobID: cmd.JobID, Status: models.StatusRejected}
	}

	m.ack(ctx, cmd.JobID, models.StatusReceived, "")

	if err := m.waitForSchedule(ctx, cmd); err != nil {
		m.ack(context.Background(), cmd.JobID, models.StatusFailed, "agent_shutdown")
		return models.PatchJobResult{JobID: cmd.JobID, Status: models.StatusFailed}
	}

	m.ack(ctx, cmd.JobID, models.StatusRunning, "")

	result, shutdown := m.runExecutor(ctx, cmd)
	if shutdown {
		m.ack(context.Background(), cmd.JobID, models.StatusFailed, "agent_shutdown")
		return models.PatchJobResult{JobID: cmd.JobID, Status: models.StatusFailed}
	}

	m.reportAndAck(ctx, result)
	return result
}

// waitForSchedule blocks until cmd.ScheduledAt, re-emitting a
// "scheduled" ack at most every patch_poll_interval_s*2 so the control
// plane observes liveness. If scheduled_at has already been reached by
// the machine's clock, the scheduled state is skipped entirely,
// per spec.md §4.4.
func (m *Machine) waitForSchedule(ctx context.Context, cmd models.PatchJobCommand) error {
	delay := cmd.ScheduledAt.Sub(m.now())
	if delay <= 0 {
		return nil
	}

	m.ack(ctx, cmd.JobID, models.StatusScheduled, "")

	interval := time.Duration(m.cfg.PatchPollIntervalSeconds) * 2 * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(delay)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-ticker.C:
			m.ack(ctx, cmd.JobID, models.StatusScheduled, "")
		}
	}
}

// runExecutor invokes the executor, returning (result, true) if
// shutdown interrupted the run before the executor returned within
// shutdownGrace.
func (m *Machine) runExecutor(ctx context.Context, cmd models.PatchJobCommand) (models.PatchJobResult, bool) {
	resultCh := make(chan models.PatchJobResult, 1)
	go func() {
		resultCh <- m.exec.Execute(ctx, cmd)
	}()

	select {
	case result := <-resultCh:
		return result, false
	case <-ctx.Done():
		select {
		case result := <-resultCh:
			return result, false
		case <-time.After(shutdownGrace):
			return models.PatchJobResult{}, true
		}
	}
}

// reportAndAck sends the result to both endpoints and emits the
// terminal ack, each retried independently per spec.md §4.4.
func (m *Machine) reportAndAck(ctx context.Context, result models.PatchJobResult) {
	if err := retryutil.Do(ctx, retryutil.JobReportPolicy, func(ctx context.Context) error {
		return m.reporter.ReportPatchResult(ctx, result)
	}, m.logRetry(result.JobID, "rmm result report")); err != nil {
		m.log.Error().Err(err).Str("job_id", result.JobID).Msg("rmm result report exhausted retries")
	}

	if err := retryutil.Do(ctx, retryutil.JobReportPolicy, func(ctx context.Context) error {
		return m.reporter.ReportPatchResultSidechannel(ctx, result)
	}, m.logRetry(result.JobID, "psa result report")); err != nil {
		m.log.Error().Err(err).Str("job_id", result.JobID).Msg("psa result report exhausted retries")
	}

	if err := retryutil.Do(ctx, retryutil.JobReportPolicy, func(ctx context.Context) error {
		return m.acker.Acknowledge(ctx, models.PatchJobAck{
			TenantID:       m.cfg.TenantID,
			AssetID:        m.cfg.AssetID,
			JobID:          result.JobID,
			Status:         result.Status,
			AcknowledgedAt: m.now().UTC(),
		})
	}, m.logRetry(result.JobID, "terminal ack")); err != nil {
		m.log.Error().Err(err).Str("job_id", result.JobID).Msg("terminal ack exhausted retries")
	}
}

func (m *Machine) logRetry(jobID, what string) retryutil.OnAttemptFailed {
	return func(attempt int, err error, sleep time.Duration) {
		m.log.Warn().Err(err).Str("job_id", jobID).Str("step", what).Int("attempt", attempt).Dur("sleep", sleep).Msg("retrying")
	}
}
