// Package supervisor implements spec.md §4.10: a parent process that
// spawns each worker as a child OS process, captures its handle,
// restarts it with exponential backoff on unexpected exit, and
// forwards lifecycle signals (stop, reload) down to it. Grounded on
// the teacher's main.go kardianos/service.Interface (Start/Stop
// wrapping a long-running loop), generalised from "this process is
// the one unit of work" to "this process owns N child processes".
package supervisor

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tamsilcms/agent/internal/ipc"
)

// restartPolicy mirrors retryutil.JobReportPolicy's shape but is kept
// local: supervisor restart backoff resets on clean uptime, a
// condition retryutil.Do has no notion of.
var restartPolicy = struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}{Base: time.Second, Factor: 2, Cap: 60 * time.Second}

// cleanUptimeResetThreshold is the uptime (spec.md §4.10: "reset on
// clean uptime >= 60s") after which a worker's backoff is reset to
// Base on its next unexpected exit.
const cleanUptimeResetThreshold = 60 * time.Second

// stopGrace is how long Stop waits for children to exit gracefully
// before force-terminating, per spec.md §4.10.
const stopGrace = 10 * time.Second

// worker tracks one supervised child process.
type worker struct {
	name    string
	mu      sync.Mutex
	cmd     *exec.Cmd
	backoff time.Duration
	startAt time.Time
}

// Supervisor owns a fixed set of named workers (spec.md §2: heartbeat,
// command/job, evidence/IPC) and the binary path/args used to
// re-invoke itself as each one.
type Supervisor struct {
	binaryPath string
	socketDir  string
	log        zerolog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

// New builds a Supervisor that re-invokes the current binary
// (os.Executable()) with "--worker <name>" for each entry in names.
func New(names []string, socketDir string, log zerolog.Logger) (*Supervisor, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "supervisor: resolve own binary path")
	}

	s := &Supervisor{binaryPath: bin, socketDir: socketDir, log: log, workers: make(map[string]*worker)}
	for _, n := range names {
		s.workers[n] = &worker{name: n, backoff: restartPolicy.Base}
	}
	return s, nil
}

// Run starts every worker and supervises them until ctx is cancelled.
// It blocks until all workers have exited (after Stop's graceful
// shutdown window).
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			s.superviseOne(ctx, w)
		}(w)
	}
	wg.Wait()
}

// superviseOne runs w, restarting it with exponential backoff on
// unexpected (non-shutdown) exit until ctx is cancelled.
func (s *Supervisor) superviseOne(ctx context.Context, w *worker) {
	for {
		if ctx.Err() != nil {
			return
		}

		startAt := time.Now()
		cmd := exec.CommandContext(ctx, s.binaryPath, "--worker", w.name)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			s.log.Error().Err(err).Str("worker", w.name).Msg("supervisor: failed to start worker")
			s.sleepBackoff(ctx, w)
			continue
		}

		w.mu.Lock()
		w.cmd = cmd
		w.startAt = startAt
		w.mu.Unlock()

		s.log.Info().Str("worker", w.name).Int("pid", cmd.Process.Pid).Msg("supervisor: worker started")

		err := cmd.Wait()
		uptime := time.Since(startAt)

		if ctx.Err() != nil {
			return // shutdown in progress; Stop owns termination
		}
		if err == nil {
			s.log.Warn().Str("worker", w.name).Msg("supervisor: worker exited cleanly, restarting")
		} else {
			s.log.Error().Err(err).Str("worker", w.name).Dur("uptime", uptime).Msg("supervisor: worker exited unexpectedly")
		}

		if uptime >= cleanUptimeResetThreshold {
			w.mu.Lock()
			w.backoff = restartPolicy.Base
			w.mu.Unlock()
		}

		s.sleepBackoff(ctx, w)
	}
}

func (s *Supervisor) sleepBackoff(ctx context.Context, w *worker) {
	w.mu.Lock()
	sleep := w.backoff
	next := time.Duration(float64(w.backoff) * restartPolicy.Factor)
	if next > restartPolicy.Cap {
		next = restartPolicy.Cap
	}
	w.backoff = next
	w.mu.Unlock()

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Stop signals every running worker to terminate gracefully, waits up
// to stopGrace, then force-kills any stragglers, per spec.md §4.10.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		w.mu.Lock()
		cmd := w.cmd
		w.mu.Unlock()
		if cmd == nil || cmd.Process == nil {
			continue
		}
		_ = cmd.Process.Signal(os.Interrupt)
	}

	deadline := time.After(stopGrace)
	for _, w := range workers {
		w.mu.Lock()
		cmd := w.cmd
		w.mu.Unlock()
		if cmd == nil || cmd.Process == nil {
			continue
		}
		select {
		case <-processExited(cmd):
		case <-deadline:
			_ = cmd.Process.Kill()
		}
	}
}

func processExited(cmd *exec.Cmd) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	return done
}

// Reload forwards a "reload" IPC message to each worker, dialling the
// endpoint named after the worker under socketDir. It reads no config
// itself — Supervisor has no config of its own.
func (s *Supervisor) Reload(ctx context.Context) {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		conn, err := ipc.Dial(ctx, s.socketDir, w.name)
		if err != nil {
			s.log.Warn().Err(err).Str("worker", w.name).Msg("supervisor: reload dial failed")
			continue
		}
		if _, err := ipc.Call(conn, []byte("reload")); err != nil {
			s.log.Warn().Err(err).Str("worker", w.name).Msg("supervisor: reload call failed")
		}
		conn.Close()
	}
}
