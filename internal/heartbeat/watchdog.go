package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Watchdog tracks the most recent heartbeat timestamp and raises a
// local alert if it stalls beyond timeout, per spec.md §4.8. It never
// kills the process — that is the supervisor's job (spec.md §4.10).
type Watchdog struct {
	mu      sync.Mutex
	last    time.Time
	timeout time.Duration
	onStall func(lastSeen time.Time, since time.Duration)
	log     zerolog.Logger
	now     func() time.Time
}

// NewWatchdog builds a Watchdog with a zero last-seen time, so it
// stays silent until the first Notify (avoids a false alert before
// the loop has sent anything).
func NewWatchdog(timeout time.Duration, onStall func(lastSeen time.Time, since time.Duration), log zerolog.Logger) *Watchdog {
	return &Watchdog{timeout: timeout, onStall: onStall, log: log, now: time.Now}
}

// Notify records ts as the most recent successful heartbeat.
func (w *Watchdog) Notify(ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = ts
}

// Run polls every timeout/2 until ctx is cancelled, firing onStall
// whenever now-last exceeds timeout.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.timeout / 2
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watchdog) check() {
	w.mu.Lock()
	last := w.last
	w.mu.Unlock()

	if last.IsZero() {
		return
	}

	since := w.now().Sub(last)
	if since > w.timeout {
		w.log.Error().Time("last_heartbeat", last).Dur("since", since).Msg("heartbeat: watchdog stall detected")
		if w.onStall != nil {
			w.onStall(last, since)
		}
	}
}
