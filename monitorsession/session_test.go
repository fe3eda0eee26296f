package monitorsession

import (
	"testing"
	"time"

	"redcoast.dev/capturecore/backend"
	"redcoast.dev/capturecore/core"
)

type fakeSession struct{ id uint32 }

func (f *fakeSession) MonitorID() uint32 { return f.id }

type fakeBackend struct {
	outcomes  []backend.AcquireOutcome
	openErr   error
	closeCall int
}

func (b *fakeBackend) Enumerate() ([]core.MonitorDescriptor, error) { return nil, nil }

func (b *fakeBackend) Open(monitorID uint32, opts backend.Options) (backend.Session, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &fakeSession{id: monitorID}, nil
}

func (b *fakeBackend) Acquire(backend.Session, time.Duration) backend.AcquireOutcome {
	if len(b.outcomes) == 0 {
		return backend.AcquireOutcome{Kind: backend.OutcomeTimeout}
	}
	o := b.outcomes[0]
	b.outcomes = b.outcomes[1:]
	return o
}

func (b *fakeBackend) Release(*core.CaptureFrame) {}

func (b *fakeBackend) Close(backend.Session) error {
	b.closeCall++
	return nil
}

func testFrame(w, h int32) core.CaptureFrame {
	return core.NewCaptureFrame(make([]byte, int(w)*int(h)*4), w, h, w*4, 1, time.Now().UnixMicro(), nil, nil)
}

func TestSessionLifecycleStates(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{{Kind: backend.OutcomeFrame, Frame: testFrame(16, 16)}}}
	s := New(1, be)

	if s.State() != StateIdle {
		t.Fatalf("want Idle, got %s", s.State())
	}
	if err := s.Configure(backend.Options{TargetFPS: 30}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if s.State() != StateConfigured {
		t.Fatalf("want Configured, got %s", s.State())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("want Running, got %s", s.State())
	}

	frame, err := s.Capture(time.Second)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(frame.Dirty) != 1 || frame.Dirty[0].W != 16 {
		t.Fatalf("want full-frame dirty region on first capture, got %+v", frame.Dirty)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("want Idle after stop, got %s", s.State())
	}
	if be.closeCall != 1 {
		t.Fatalf("want 1 backend close call, got %d", be.closeCall)
	}
}

func TestCaptureBeforeRunningIsNotRunning(t *testing.T) {
	be := &fakeBackend{}
	s := New(1, be)

	_, err := s.Capture(time.Second)
	kind, ok := core.KindOf(err)
	if !ok || kind != core.KindNotRunning {
		t.Fatalf("want NotRunning, got %v", err)
	}
}

func TestFatalOutcomeMovesToIdle(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{{Kind: backend.OutcomeFatal, Reason: "device lost"}}}
	s := New(1, be)
	_ = s.Configure(backend.Options{TargetFPS: 30})
	_ = s.Start()

	_, err := s.Capture(time.Second)
	kind, ok := core.KindOf(err)
	if !ok || kind != core.KindFatal {
		t.Fatalf("want Fatal, got %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("want Idle after fatal outcome, got %s", s.State())
	}
}

func TestCountersAccumulateAcrossCaptures(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{
		{Kind: backend.OutcomeFrame, Frame: testFrame(4, 4)},
		{Kind: backend.OutcomeFrame, Frame: testFrame(4, 4)},
	}}
	s := New(1, be)
	_ = s.Configure(backend.Options{TargetFPS: 240})
	_ = s.Start()

	if s.FramesCaptured() != 0 || s.BytesTransferred() != 0 {
		t.Fatalf("want zero counters before any capture, got frames=%d bytes=%d", s.FramesCaptured(), s.BytesTransferred())
	}

	if _, err := s.Capture(time.Second); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if _, err := s.Capture(time.Second); err != nil {
		t.Fatalf("second capture: %v", err)
	}

	wantBytes := uint64(2 * 4 * 4 * 4)
	if s.FramesCaptured() != 2 {
		t.Fatalf("want 2 frames captured, got %d", s.FramesCaptured())
	}
	if s.BytesTransferred() != wantBytes {
		t.Fatalf("want %d bytes transferred, got %d", wantBytes, s.BytesTransferred())
	}
	if fps := s.FPS(); fps <= 0 {
		t.Fatalf("want positive fps after captures, got %f", fps)
	}
}

func TestTryCaptureReturnsThrottled(t *testing.T) {
	be := &fakeBackend{outcomes: []backend.AcquireOutcome{
		{Kind: backend.OutcomeFrame, Frame: testFrame(8, 8)},
		{Kind: backend.OutcomeFrame, Frame: testFrame(8, 8)},
	}}
	s := New(1, be)
	_ = s.Configure(backend.Options{TargetFPS: 1})
	_ = s.Start()

	if _, err := s.TryCapture(time.Second); err != nil {
		t.Fatalf("first capture: %v", err)
	}

	_, err := s.TryCapture(time.Second)
	kind, ok := core.KindOf(err)
	if !ok || kind != core.KindThrottled {
		t.Fatalf("want Throttled on immediate re-capture, got %v", err)
	}
}
