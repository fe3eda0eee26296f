// Package monitorsession implements the Monitor Session (spec section
// 4.3): one session per enabled monitor, owning exactly one backend
// session and one dirty-region tracker, enforcing a target frame rate
// and producing CaptureFrame values through a small state machine.
// The lifecycle idioms (normalizeOptions-style clamping, closeOnce
// teardown, a state field guarded by one mutex) are grounded on the
// teacher's hls/session.go Session/Start/Close shape, generalized from
// one ffmpeg-backed stream to one backend.Backend session per monitor.
package monitorsession

import (
	"sync"
	"time"

	"redcoast.dev/capturecore/backend"
	"redcoast.dev/capturecore/core"
	"redcoast.dev/capturecore/dirtyregion"
	"redcoast.dev/capturecore/internal/corelog"
)

// State is the session's position in the Idle/Configured/Running/
// Stopping state machine spec section 4.3 defines.
type State int

const (
	StateIdle State = iota
	StateConfigured
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConfigured:
		return "Configured"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

const minTargetFPS = 1.0

// Session is one monitor's capture state machine.
type Session struct {
	monitorID uint32
	be        backend.Backend

	mu        sync.Mutex
	state     State
	opts      backend.Options
	targetFPS float64

	beSession   backend.Session
	tracker     *dirtyregion.Tracker
	lastAcquire time.Time
	startedAt   time.Time

	framesCaptured   uint64
	bytesTransferred uint64

	closeOnce sync.Once
}

// New creates a session for monitorID against the given backend, in
// the Idle state.
func New(monitorID uint32, be backend.Backend) *Session {
	return &Session{monitorID: monitorID, be: be, state: StateIdle}
}

// MonitorID reports the monitor this session manages.
func (s *Session) MonitorID() uint32 { return s.monitorID }

// State reports the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TargetFPS reports the currently configured target frame rate.
func (s *Session) TargetFPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetFPS
}

// SetTargetFPS updates the target frame rate in place; used by the
// coordinator's adaptive rate policy (spec section 4.4). Valid in any
// state, takes effect on the next capture.
func (s *Session) SetTargetFPS(fps float64) {
	if fps < minTargetFPS {
		fps = minTargetFPS
	}
	s.mu.Lock()
	s.targetFPS = fps
	s.mu.Unlock()
}

// FramesCaptured reports the number of frames this session has
// delivered since its last Start (spec section 3's Session state
// counters).
func (s *Session) FramesCaptured() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesCaptured
}

// BytesTransferred reports the total pixel-buffer bytes this session
// has delivered since its last Start (spec section 3's Session state
// counters).
func (s *Session) BytesTransferred() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesTransferred
}

// FPS reports this session's own observed frame rate: frames captured
// divided by elapsed time since Start, the per-monitor analogue of
// original_source's GetPerMonitorFPS. Reports 0 before the first frame
// or outside the Running state.
func (s *Session) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.framesCaptured == 0 || s.startedAt.IsZero() {
		return 0
	}
	elapsed := time.Since(s.startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.framesCaptured) / elapsed
}

// Configure stores options for the session, moving Idle -> Configured.
func (s *Session) Configure(opts backend.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return core.New(core.KindInvalidArgument, "configure requires Idle state")
	}
	s.opts = opts
	s.targetFPS = opts.TargetFPS
	s.state = StateConfigured
	return nil
}

// Start opens the backend session and resets the tracker, moving
// Configured -> Running.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfigured {
		return core.New(core.KindInvalidArgument, "start requires Configured state")
	}

	beSession, err := s.be.Open(s.monitorID, s.opts)
	if err != nil {
		return err
	}

	s.beSession = beSession
	s.tracker = dirtyregion.New(dirtyregion.Options{})
	s.lastAcquire = time.Time{}
	s.startedAt = time.Now()
	s.framesCaptured = 0
	s.bytesTransferred = 0
	s.state = StateRunning
	corelog.Debugf("monitorsession monitor=%d start_ok fps=%.1f", s.monitorID, s.targetFPS)
	return nil
}

// Capture acquires the next frame. If invoked before the configured
// 1/target_fps interval elapses, it sleeps the remainder, matching the
// synchronous-call rate-control contract of spec section 4.3.
func (s *Session) Capture(timeout time.Duration) (core.CaptureFrame, error) {
	if wait, ok := s.throttleWait(); ok && wait > 0 {
		time.Sleep(wait)
	}
	return s.acquire(timeout)
}

// TryCapture acquires the next frame, but returns a Throttled error
// instead of sleeping when invoked too soon — the signal the
// coordinator's asynchronous producer uses to schedule its next wake
// (spec section 4.3).
func (s *Session) TryCapture(timeout time.Duration) (core.CaptureFrame, error) {
	if wait, ok := s.throttleWait(); ok && wait > 0 {
		return core.CaptureFrame{}, core.Throttled
	}
	return s.acquire(timeout)
}

func (s *Session) throttleWait() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targetFPS <= 0 || s.lastAcquire.IsZero() {
		return 0, false
	}
	interval := time.Duration(float64(time.Second) / s.targetFPS)
	elapsed := time.Since(s.lastAcquire)
	if elapsed >= interval {
		return 0, false
	}
	return interval - elapsed, true
}

func (s *Session) acquire(timeout time.Duration) (core.CaptureFrame, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return core.CaptureFrame{}, core.New(core.KindNotRunning, "capture requires Running state")
	}
	beSession := s.beSession
	tracker := s.tracker
	s.mu.Unlock()

	outcome := s.be.Acquire(beSession, timeout)

	switch outcome.Kind {
	case backend.OutcomeFrame:
		frame := outcome.Frame
		now := time.Now()

		switch {
		case outcome.ChangeHints != nil:
			dirty := make([]core.DirtyRect, 0, len(outcome.ChangeHints))
			for _, r := range outcome.ChangeHints {
				dirty = append(dirty, core.DirtyRect{Rect: r, MonitorID: s.monitorID, Timestamp: frame.Timestamp})
			}
			frame.Dirty = dirty
		case tracker != nil && len(frame.Pixels) > 0:
			frame.Dirty = tracker.Detect(s.monitorID, frame.Pixels, frame.Width, frame.Height, frame.Stride, frame.Timestamp)
		default:
			frame.Dirty = []core.DirtyRect{{
				Rect:      core.Rect{X: 0, Y: 0, W: frame.Width, H: frame.Height},
				MonitorID: s.monitorID,
				Timestamp: frame.Timestamp,
			}}
		}

		s.mu.Lock()
		s.lastAcquire = now
		s.framesCaptured++
		s.bytesTransferred += uint64(len(frame.Pixels))
		s.mu.Unlock()
		return frame, nil

	case backend.OutcomeTimeout:
		return core.CaptureFrame{}, core.New(core.KindTransient, "backend acquire timed out")

	case backend.OutcomeFatal:
		s.handleFatal()
		cause := outcome.Cause
		if cause == nil {
			cause = core.New(core.KindFatal, outcome.Reason)
		}
		return core.CaptureFrame{}, core.Wrap(core.KindFatal, outcome.Reason, cause)

	default: // OutcomeTransient
		return core.CaptureFrame{}, core.New(core.KindTransient, outcome.Reason)
	}
}

// handleFatal moves Running -> Idle on a Fatal backend outcome,
// closing the backend session and clearing the tracker (spec section
// 4.3's state table).
func (s *Session) handleFatal() {
	s.mu.Lock()
	beSession := s.beSession
	s.beSession = nil
	s.tracker = nil
	s.state = StateIdle
	s.mu.Unlock()

	if beSession != nil {
		_ = s.be.Close(beSession)
	}
	corelog.Debugf("monitorsession monitor=%d fatal_to_idle", s.monitorID)
}

// Stop releases the backend session, moving Running -> Stopping -> Idle.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	beSession := s.beSession
	s.beSession = nil
	s.tracker = nil
	s.mu.Unlock()

	var err error
	if beSession != nil {
		err = s.be.Close(beSession)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	corelog.Debugf("monitorsession monitor=%d stop_done err=%v", s.monitorID, err)
	return err
}

// Close stops the session if running. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Stop()
	})
	return err
}
