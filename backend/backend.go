// Package backend is the Platform Backend abstraction of spec section
// 4.1: one contract unifying the three capture primitive families
// (GPU-duplication on Windows, display-server on Linux, display-stream
// on Darwin) while preserving each one's fast path. It generalizes the
// teacher's capture package — which already splits on GOOS into
// capture_windows.go / capture_linux.go / capture_darwin.go behind a
// single capture.Open contract — from a single active stream into the
// enumerate/open/acquire/release/close capability set spec.md names.
package backend

import (
	"time"

	"redcoast.dev/capturecore/core"
)

// Options configures a per-monitor acquisition resource (spec section 4.1).
type Options struct {
	TargetFPS      float64
	IncludeCursor  bool
	PreferZeroCopy bool
}

// Validate enforces the option bounds spec section 6 requires: invalid
// values fail the setter, never silently clamp.
func (o Options) Validate() error {
	if o.TargetFPS <= 0 || o.TargetFPS > 240 {
		return core.New(core.KindInvalidArgument, "TargetFPS must be in (0, 240]")
	}
	return nil
}

// OutcomeKind tags an AcquireOutcome.
type OutcomeKind int

const (
	OutcomeFrame OutcomeKind = iota
	OutcomeTimeout
	OutcomeTransient
	OutcomeFatal
)

// AcquireOutcome is the tagged variant Acquire returns: exactly one of
// a frame, a timeout, a transient failure, or a fatal failure (spec
// section 4.1).
type AcquireOutcome struct {
	Kind         OutcomeKind
	Frame        core.CaptureFrame
	ChangeHints  []core.Rect // backend-reported dirty rects, bypasses the tracker when non-nil
	Reason       string
	Cause        error
	Degradations []string // optional-extension fallbacks taken during this acquisition
}

// Session is an open per-monitor acquisition resource.
type Session interface {
	// MonitorID is the monitor this session was opened for.
	MonitorID() uint32
}

// Backend is the capability set every platform family implements (spec
// section 4.1): enumerate, open, acquire, release, close.
type Backend interface {
	// Enumerate lists attached displays. Never fails merely because an
	// optional extension is unavailable (Fallback Policy).
	Enumerate() ([]core.MonitorDescriptor, error)

	// Open creates a per-monitor acquisition resource.
	Open(monitorID uint32, options Options) (Session, error)

	// Acquire obtains the next frame, blocking for at most timeout.
	Acquire(session Session, timeout time.Duration) AcquireOutcome

	// Release returns any backend-owned resources a frame references.
	// Safe to call even if the frame already released itself.
	Release(frame *core.CaptureFrame)

	// Close tears down a session.
	Close(session Session) error
}

// Family names the three backend families spec.md section 1 describes.
type Family string

const (
	FamilyGPUDuplication Family = "gpu-duplication"
	FamilyDisplayServer  Family = "display-server"
	FamilyDisplayStream  Family = "display-stream"
)
