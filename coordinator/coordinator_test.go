package coordinator

import (
	"sync"
	"testing"
	"time"

	"redcoast.dev/capturecore/backend"
	"redcoast.dev/capturecore/core"
)

type fakeSession struct{ id uint32 }

func (f *fakeSession) MonitorID() uint32 { return f.id }

type fakeBackend struct {
	mu            sync.Mutex
	width         int32
	enumerateErr  error
	enumerateHits int
	fatalOnce     bool
}

func (b *fakeBackend) Enumerate() ([]core.MonitorDescriptor, error) {
	b.mu.Lock()
	b.enumerateHits++
	err := b.enumerateErr
	b.mu.Unlock()
	return nil, err
}

func (b *fakeBackend) Open(monitorID uint32, opts backend.Options) (backend.Session, error) {
	return &fakeSession{id: monitorID}, nil
}

func (b *fakeBackend) Acquire(s backend.Session, timeout time.Duration) backend.AcquireOutcome {
	sess := s.(*fakeSession)

	b.mu.Lock()
	fatal := b.fatalOnce
	b.fatalOnce = false
	b.mu.Unlock()
	if fatal {
		return backend.AcquireOutcome{Kind: backend.OutcomeFatal, Reason: "simulated device loss"}
	}

	frame := core.NewCaptureFrame(make([]byte, 16*16*4), 16, 16, 64, sess.id, time.Now().UnixMicro(), nil, nil)
	return backend.AcquireOutcome{Kind: backend.OutcomeFrame, Frame: frame}
}

func (b *fakeBackend) Release(*core.CaptureFrame) {}

func (b *fakeBackend) Close(backend.Session) error { return nil }

func TestCaptureAllOrdersByPriority(t *testing.T) {
	be := &fakeBackend{}
	c := New(be)

	if err := c.ConfigureMonitor(core.MonitorDescriptor{ID: 2}, backend.Options{TargetFPS: 60}, 1); err != nil {
		t.Fatalf("configure monitor 2: %v", err)
	}
	if err := c.ConfigureMonitor(core.MonitorDescriptor{ID: 1}, backend.Options{TargetFPS: 60}, 0); err != nil {
		t.Fatalf("configure monitor 1: %v", err)
	}

	frame, failures := c.CaptureAll(time.Second)
	if len(failures) != 0 {
		t.Fatalf("want no failures, got %v", failures)
	}
	if len(frame.Descriptors) != 2 {
		t.Fatalf("want 2 descriptors, got %d", len(frame.Descriptors))
	}
	if frame.Descriptors[0].ID != 1 || frame.Descriptors[1].ID != 2 {
		t.Fatalf("want priority order [1,2], got [%d,%d]", frame.Descriptors[0].ID, frame.Descriptors[1].ID)
	}
}

func TestCaptureAllSkipsDisabledMonitors(t *testing.T) {
	be := &fakeBackend{}
	c := New(be)
	_ = c.ConfigureMonitor(core.MonitorDescriptor{ID: 1}, backend.Options{TargetFPS: 60}, 0)
	_ = c.ConfigureMonitor(core.MonitorDescriptor{ID: 2}, backend.Options{TargetFPS: 60}, 1)
	_ = c.SetMonitorEnabled(2, false)

	frame, _ := c.CaptureAll(time.Second)
	if len(frame.Descriptors) != 1 || frame.Descriptors[0].ID != 1 {
		t.Fatalf("want only monitor 1, got %+v", frame.Descriptors)
	}
}

func TestCaptureAllEmptyWhenNoneEnabled(t *testing.T) {
	be := &fakeBackend{}
	c := New(be)
	frame, failures := c.CaptureAll(time.Second)
	if len(frame.Descriptors) != 0 || len(failures) != 0 {
		t.Fatalf("want empty aggregate, got %+v %v", frame, failures)
	}
}

func TestMergeRegionsDelegatesToCore(t *testing.T) {
	be := &fakeBackend{}
	c := New(be)
	rects := []core.DirtyRect{
		{Rect: core.Rect{X: 0, Y: 0, W: 10, H: 10}},
		{Rect: core.Rect{X: 10, Y: 0, W: 10, H: 10}},
	}
	merged := c.MergeRegions(rects)
	if len(merged) != 1 {
		t.Fatalf("want touching rects merged into 1, got %d", len(merged))
	}
}

func TestOptimizeRateThresholds(t *testing.T) {
	if got := optimizeRate(60, 20*time.Millisecond); got >= 60 {
		t.Fatalf("want backoff below 60 for high latency, got %f", got)
	}
	if got := optimizeRate(60, 5*time.Millisecond); got <= 60 {
		t.Fatalf("want ramp-up above 60 for low latency, got %f", got)
	}
	if got := optimizeRate(60, 12*time.Millisecond); got != 60 {
		t.Fatalf("want unchanged fps in dead zone, got %f", got)
	}
	if got := optimizeRate(31, 20*time.Millisecond); got < adaptiveMinFPS {
		t.Fatalf("want floor enforced, got %f", got)
	}
	if got := optimizeRate(115, 1*time.Millisecond); got > adaptiveMaxFPS {
		t.Fatalf("want ceiling enforced, got %f", got)
	}
}

func TestStartAsyncDeliversAndStops(t *testing.T) {
	be := &fakeBackend{}
	c := New(be)
	_ = c.ConfigureMonitor(core.MonitorDescriptor{ID: 1}, backend.Options{TargetFPS: 200}, 0)
	_ = c.SetGlobalCaptureRate(200)

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	if err := c.StartAsync(time.Second, func(f core.MultiMonitorFrame, failures map[uint32]error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(done)
		}
	}); err != nil {
		t.Fatalf("start async: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first async delivery")
	}

	c.StopAsync()
	mu.Lock()
	got := calls
	mu.Unlock()
	if got == 0 {
		t.Fatalf("want at least one delivered frame")
	}
}

func TestPerMonitorFPSReflectsCounters(t *testing.T) {
	be := &fakeBackend{}
	c := New(be)
	_ = c.ConfigureMonitor(core.MonitorDescriptor{ID: 1}, backend.Options{TargetFPS: 200}, 0)

	if fps := c.PerMonitorFPS(); fps[1] != 0 {
		t.Fatalf("want 0 fps before any capture, got %f", fps[1])
	}

	for i := 0; i < 3; i++ {
		if _, _, err := capture(c, 1); err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
	}

	fps := c.PerMonitorFPS()
	if _, ok := fps[1]; !ok {
		t.Fatalf("want an entry for monitor 1, got %v", fps)
	}
	if fps[1] <= 0 {
		t.Fatalf("want positive fps after captures, got %f", fps[1])
	}
}

func TestLastErrorAndOnErrorOnReenumerationFailure(t *testing.T) {
	be := &fakeBackend{fatalOnce: true, enumerateErr: core.New(core.KindFatal, "compositor gone")}
	c := New(be)
	_ = c.ConfigureMonitor(core.MonitorDescriptor{ID: 1}, backend.Options{TargetFPS: 200}, 0)
	_ = c.SetGlobalCaptureRate(200)

	var mu sync.Mutex
	var observed error
	c.OnError(func(err error) {
		mu.Lock()
		observed = err
		mu.Unlock()
	})

	if err := c.StartAsync(time.Second, func(core.MultiMonitorFrame, map[uint32]error) {}); err != nil {
		t.Fatalf("start async: %v", err)
	}
	defer c.StopAsync()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := observed
		mu.Unlock()
		if got != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a reported coordinator-level error")
		}
		time.Sleep(time.Millisecond)
	}

	if c.LastError() == nil {
		t.Fatal("want LastError set after a failed re-enumeration")
	}
	be.mu.Lock()
	hits := be.enumerateHits
	be.mu.Unlock()
	if hits == 0 {
		t.Fatal("want at least one automatic re-enumeration attempt on Fatal")
	}
}

// capture is a small helper exercising CaptureAll against one monitor,
// mirroring what the producer does each round.
func capture(c *Coordinator, monitorID uint32) (core.MultiMonitorFrame, map[uint32]error, error) {
	frame, failures := c.CaptureAll(time.Second)
	if err, ok := failures[monitorID]; ok {
		return frame, failures, err
	}
	return frame, failures, nil
}

func TestClose(t *testing.T) {
	be := &fakeBackend{}
	c := New(be)
	_ = c.ConfigureMonitor(core.MonitorDescriptor{ID: 1}, backend.Options{TargetFPS: 60}, 0)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
