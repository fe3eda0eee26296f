//go:build !linux && !darwin && !windows

package backend

import (
	"time"

	"redcoast.dev/capturecore/core"
)

type unsupportedBackend struct{}

// New returns the Backend implementation appropriate for GOOS. On
// platforms with none of the three families, Enumerate/Open report
// Unsupported rather than panicking — mirroring the teacher's
// capture_unsupported.go, which returns ErrNotImplemented instead of
// failing the build.
func New() Backend { return unsupportedBackend{} }

func (unsupportedBackend) Enumerate() ([]core.MonitorDescriptor, error) {
	return nil, core.New(core.KindUnsupported, "no capture backend for this operating system")
}

func (unsupportedBackend) Open(uint32, Options) (Session, error) {
	return nil, core.New(core.KindUnsupported, "no capture backend for this operating system")
}

func (unsupportedBackend) Acquire(Session, time.Duration) AcquireOutcome {
	return AcquireOutcome{Kind: OutcomeFatal, Reason: "no capture backend for this operating system"}
}

func (unsupportedBackend) Release(*core.CaptureFrame) {}

func (unsupportedBackend) Close(Session) error { return nil }
