// Package executor defines the boundary to the concrete patch/script
// execution back-end, which is explicitly out of scope (spec.md §1).
// Executor is the typed interface the job state machine drives;
// ShellExecutor is a stand-in implementation kept in the teacher's
// idiom (bash/powershell dispatch with a context timeout and captured
// stdout/stderr, adapted from the teacher's internal/executor) so the
// rest of the agent has something real to exercise in tests.
package executor

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/tamsilcms/agent/pkg/models"
)

// Executor accepts a verified patch job and returns its result. A real
// deployment supplies its own implementation (e.g. a WSUS/apt/yum
// driver); ShellExecutor is the reference stand-in.
type Executor interface {
	Execute(ctx context.Context, cmd models.PatchJobCommand) models.PatchJobResult
}

// ShellExecutor drives an external patch-apply script once per job,
// passing the patch IDs on the command line. The default script paths
// are placeholders: the agent is runnable without a real back-end
// wired in, in which case the script will simply fail to start and the
// job is reported failed.
type ShellExecutor struct {
	PatchScriptUnix    string
	PatchScriptWindows string
	GOOS               string // set from New's goos argument (the agent passes runtime.GOOS)
}

// New returns a ShellExecutor configured for the current OS.
func New(goos string) *ShellExecutor {
	return &ShellExecutor{
		PatchScriptUnix:    "/usr/local/bin/apply-patches.sh",
		PatchScriptWindows: `C:\ProgramData\agent\apply-patches.ps1`,
		GOOS:               goos,
	}
}

const defaultTimeout = 5 * time.Minute

func (e *ShellExecutor) Execute(ctx context.Context, cmd models.PatchJobCommand) models.PatchJobResult {
	startedAt := time.Now().UTC()
	result := models.PatchJobResult{
		JobID:     cmd.JobID,
		StartedAt: startedAt,
	}

	if len(cmd.Patches) == 0 {
		result.Status = models.StatusCompleted
		result.Result = models.OutcomeNoPatches
		result.CompletedAt = time.Now().UTC()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	patchIDs := make([]string, 0, len(cmd.Patches))
	for _, p := range cmd.Patches {
		patchIDs = append(patchIDs, p.PatchID)
	}

	var execCmd *exec.Cmd
	if e.GOOS == "windows" {
		args := append([]string{
			"-NonInteractive", "-NoProfile", "-ExecutionPolicy", "Bypass",
			"-File", e.PatchScriptWindows,
		}, patchIDs...)
		execCmd = exec.CommandContext(ctx, "powershell.exe", args...)
	} else {
		args := append([]string{e.PatchScriptUnix}, patchIDs...)
		execCmd = exec.CommandContext(ctx, args[0], args[1:]...)
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	result.CompletedAt = time.Now().UTC()
	result.StdoutSummary = truncate(stdout.String(), 4096)
	result.StderrSummary = truncate(stderr.String(), 4096)

	switch {
	case err == nil:
		result.Status = models.StatusCompleted
		result.Result = models.OutcomeInstalled
		result.ExitCode = 0
		result.RebootRequired = cmd.RebootPolicy == models.RebootRequired
	default:
		result.Status = models.StatusFailed
		result.Result = models.OutcomeFailed
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.StderrSummary = truncate(result.StderrSummary+"\n"+err.Error(), 4096)
		}
	}

	return result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
