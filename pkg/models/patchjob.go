package models

import "time"

// RebootPolicy instructs the executor how to handle post-patch reboots.
type RebootPolicy string

const (
	RebootNone       RebootPolicy = "none"
	RebootIfRequired RebootPolicy = "if_required"
	RebootRequired   RebootPolicy = "required"
)

// PatchDescriptor names one patch within a PatchJobCommand.
type PatchDescriptor struct {
	PatchID  string `json:"patch_id"`
	Title    string `json:"title"`
	Vendor   string `json:"vendor"`
	Severity string `json:"severity"`
	KB       string `json:"kb"`
}

// PatchJobCommand is a verified, server-issued patch job. Signature is
// verified over the canonical form built by internal/command before
// the command is ever handed to the job state machine.
type PatchJobCommand struct {
	JobID          string            `json:"job_id"`
	AssetID        string            `json:"asset_id"`
	ScheduledAt    time.Time         `json:"scheduled_at"`
	RebootPolicy   RebootPolicy      `json:"reboot_policy"`
	IssuedAtEpoch  int64             `json:"issued_at"`
	Nonce          string            `json:"nonce"`
	Signature      string            `json:"signature"`
	Patches        []PatchDescriptor `json:"patches"`
}

// PatchJobStatus is the monotone status lattice of spec.md §4.4.
type PatchJobStatus string

const (
	StatusReceived  PatchJobStatus = "received"
	StatusScheduled PatchJobStatus = "scheduled"
	StatusRunning   PatchJobStatus = "running"
	StatusCompleted PatchJobStatus = "completed"
	StatusFailed    PatchJobStatus = "failed"
	StatusRejected  PatchJobStatus = "rejected"
)

// PatchJobAck is emitted on every job state transition.
type PatchJobAck struct {
	TenantID       string         `json:"tenant_id"`
	AssetID        string         `json:"asset_id"`
	JobID          string         `json:"job_id"`
	Status         PatchJobStatus `json:"status"`
	Detail         string         `json:"detail"`
	AcknowledgedAt time.Time      `json:"acknowledged_at"`
}

// PatchJobOutcome is the terminal per-patch-set result category.
type PatchJobOutcome string

const (
	OutcomeInstalled PatchJobOutcome = "installed"
	OutcomeNoPatches PatchJobOutcome = "no_patches"
	OutcomePartial   PatchJobOutcome = "partial"
	OutcomeFailed    PatchJobOutcome = "failed"
)

// PatchJobResult is produced once per executed job and POSTed to both
// the RMM result endpoint and the PSA sidechannel.
type PatchJobResult struct {
	JobID          string          `json:"job_id"`
	AgentID        string          `json:"agent_id,omitempty"`
	Status         PatchJobStatus  `json:"status"`
	Result         PatchJobOutcome `json:"result"`
	ExitCode       int             `json:"exit_code"`
	RebootRequired bool            `json:"reboot_required"`
	StdoutSummary  string          `json:"stdout_summary"`
	StderrSummary  string          `json:"stderr_summary"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
}
