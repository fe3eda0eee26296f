// Package corelog is the env-gated debug logger shared by the backend,
// portal, pwshm, asyncqueue, session, and coordinator layers (the
// dirty-region tracker does not log). It is a direct
// generalization of the teacher's capture/debug.go and hls/debug.go,
// which each kept a private copy of the same lazy-logger pattern.
package corelog

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

var (
	enabledOnce sync.Once
	enabledFlag bool

	outputOnce sync.Once
	output     io.Writer = os.Stderr

	loggerOnce sync.Once
	logger     *log.Logger
)

func enabled() bool {
	enabledOnce.Do(func() {
		enabledFlag = strings.TrimSpace(os.Getenv("SCREENCAST_CORE_DEBUG")) == "1" ||
			strings.TrimSpace(os.Getenv("SCREENCAST_DEBUG")) == "1"
	})
	return enabledFlag
}

func writer() io.Writer {
	outputOnce.Do(func() {
		p := strings.TrimSpace(os.Getenv("SCREENCAST_CORE_DEBUG_FILE"))
		if p == "" {
			p = strings.TrimSpace(os.Getenv("SCREENCAST_DEBUG_FILE"))
		}
		if p == "" {
			return
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "capturecore debug log open failed: %v\n", err)
			return
		}
		output = f
	})
	return output
}

// Debugf logs format/args to the debug sink if debugging is enabled via
// SCREENCAST_CORE_DEBUG (or the teacher's SCREENCAST_DEBUG). It is a
// no-op otherwise, so it is cheap to call unconditionally on hot paths.
func Debugf(format string, args ...any) {
	if !enabled() {
		return
	}
	loggerOnce.Do(func() {
		logger = log.New(writer(), "capturecore ", log.LstdFlags|log.Lmicroseconds)
	})
	logger.Printf(format, args...)
}

// Enabled reports whether debug logging is currently active.
func Enabled() bool {
	return enabled()
}
