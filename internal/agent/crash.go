package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// crashMarkerPath is the marker file spec.md §9 requires the crash
// handler to write before re-raising/exiting.
const crashMarkerPath = "agent_crash_marker.txt"

// InstallCrashHandler registers the signal/crash handler of spec.md
// §7: abort/term/int are recorded (signal number + timestamp written
// to a marker file) before the process exits 128+signum. Grounded on
// the original agent's InstallCrashHandler (agent_crash.cpp): same
// signal set, same std::exit(128 + signal) contract. SIGSEGV is
// deliberately not in this set — Go's runtime does not let a signal
// handler safely resume or re-raise after a segmentation fault the
// way C's raw handler does, so trapping it here would be cosmetic; a
// Go runtime fatal error already terminates the process on its own.
// cancel lets the current worker's in-flight loop observe ctx.Done()
// before the process exits; os.Exit short-circuits any deferred
// cleanup that hasn't already run by the time it's called.
func InstallCrashHandler(cancel context.CancelFunc, log zerolog.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGABRT, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-ch
		signum := signalNumber(sig)

		log.Error().Str("signal", sig.String()).Int("signum", signum).Msg("agent: crash handler triggered")
		writeCrashMarker(sig, signum)

		if cancel != nil {
			cancel()
		}
		os.Exit(128 + signum)
	}()
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}

func writeCrashMarker(sig os.Signal, signum int) {
	content := fmt.Sprintf("signal=%s\nsignum=%d\nat=%s\n", sig, signum, time.Now().UTC().Format(time.RFC3339))
	_ = os.WriteFile(crashMarkerPath, []byte(content), 0o644)
}
