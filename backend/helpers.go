package backend

import (
	"time"

	"redcoast.dev/capturecore/core"
)

// defaultAcquireTimeout matches a 60fps budget (spec section 5).
const defaultAcquireTimeout = 16 * time.Millisecond

// waitForFirstFrame blocks on ready for up to timeout, invoking
// onTimeout (which should tear down whatever was being opened) if it
// never fires. Adapted from the teacher's capture/open_helpers.go,
// which used the identical pattern to bound ScreenCaptureKit/DXGI
// stream startup.
func waitForFirstFrame(ready <-chan struct{}, timeout time.Duration, onTimeout func()) error {
	select {
	case <-ready:
		return nil
	case <-time.After(timeout):
		if onTimeout != nil {
			onTimeout()
		}
		return core.New(core.KindTransient, "capture backend timed out waiting for first frame")
	}
}
