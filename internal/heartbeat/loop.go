// Package heartbeat implements the liveness loop and watchdog of
// spec.md §4.8: a periodic signed HeartbeatPayload POST with failure
// backoff, and a separate watchdog goroutine that raises a local alert
// if heartbeats stall. Grounded on the teacher's main.go service loop
// shape (a ticker-driven goroutine bound to the service lifecycle
// context) generalised to carry its own failure-count backoff.
package heartbeat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tamsilcms/agent/pkg/models"
)

// Sender is the narrow transport surface the loop needs.
type Sender interface {
	Heartbeat(ctx context.Context, payload models.HeartbeatPayload) error
}

// PayloadBuilder produces a fresh HeartbeatPayload (uptime grows
// monotonically) for each send; the loop then sets EventID and SentAt
// per attempt.
type PayloadBuilder func() models.HeartbeatPayload

// ComputeHeartbeatInterval implements the backoff schedule of
// spec.md §4.8 exactly: doubling base once per consecutive failure,
// clamped to cap.
func ComputeHeartbeatInterval(base, failureCount, cap int) int {
	if base <= 0 {
		return 30
	}
	if failureCount <= 0 {
		return base
	}

	interval := base
	for i := 0; i < failureCount; i++ {
		interval *= 2
		if interval > cap {
			interval = cap
		}
	}
	return interval
}

// Loop drives the heartbeat send/backoff cycle and notifies an
// attached Watchdog on every success.
type Loop struct {
	sender       Sender
	build        PayloadBuilder
	base         int
	cap          int
	log          zerolog.Logger
	watchdog     *Watchdog
	failureCount int
	now          func() time.Time
}

// New builds a Loop. watchdog may be nil if liveness monitoring is not
// wired in this process.
func New(sender Sender, build PayloadBuilder, baseSeconds, capSeconds int, watchdog *Watchdog, log zerolog.Logger) *Loop {
	return &Loop{sender: sender, build: build, base: baseSeconds, cap: capSeconds, watchdog: watchdog, log: log, now: time.Now}
}

// Run sends heartbeats until ctx is cancelled, sleeping
// ComputeHeartbeatInterval(base, failureCount, cap) between attempts.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.sendOnce(ctx)

		interval := ComputeHeartbeatInterval(l.base, l.failureCount, l.cap)
		timer := time.NewTimer(time.Duration(interval) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *Loop) sendOnce(ctx context.Context) {
	payload := l.build()
	payload.EventID = uuid.NewString()
	payload.SentAt = l.now().UTC().Format(time.RFC3339)

	if err := l.sender.Heartbeat(ctx, payload); err != nil {
		l.failureCount++
		l.log.Warn().Err(err).Int("failure_count", l.failureCount).Msg("heartbeat: send failed")
		return
	}

	l.failureCount = 0
	if l.watchdog != nil {
		l.watchdog.Notify(l.now())
	}
}
