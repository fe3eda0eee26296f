package coordinator

import (
	"fmt"
	"sync"
	"time"

	"redcoast.dev/capturecore/core"
	"redcoast.dev/capturecore/internal/corelog"
)

// producer is the coordinator's single asynchronous worker: aggregate,
// deliver, optimize, sleep, repeat. Grounded on original_source's
// MultiMonitorCapture::ProcessCaptureQueue loop.
type producer struct {
	stop chan struct{}
	wg   sync.WaitGroup
}

// StartAsync installs callback and spawns exactly one producer worker
// that aggregates, delivers, runs the adaptive rate policy (if
// enabled), and sleeps 1/global_fps, until StopAsync is called (spec
// section 4.4).
func (c *Coordinator) StartAsync(timeout time.Duration, callback func(core.MultiMonitorFrame, map[uint32]error)) error {
	if callback == nil {
		return core.New(core.KindInvalidArgument, "callback must not be nil")
	}

	c.mu.Lock()
	if c.producer != nil {
		c.mu.Unlock()
		return core.New(core.KindInvalidArgument, "producer already running")
	}
	p := &producer{stop: make(chan struct{})}
	c.producer = p
	c.mu.Unlock()

	p.wg.Add(1)
	go c.runProducer(p, timeout, callback)
	return nil
}

// runProducer is the coordinator's single asynchronous worker thread.
// Per-monitor errors (spec section 7: "Per-monitor errors never fail a
// multi-monitor aggregate") stay in the failures map handed to
// callback; only the two coordinator-level failure modes spec section
// 7 names — enumeration failure and worker panic — reach
// reportError/OnError and terminate the asynchronous path.
func (c *Coordinator) runProducer(p *producer, timeout time.Duration, callback func(core.MultiMonitorFrame, map[uint32]error)) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.reportError(core.New(core.KindFatal, fmt.Sprintf("producer worker panic: %v", r)))
			corelog.Debugf("coordinator producer_panic recovered=%v", r)
		}
	}()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		frame, failures := c.CaptureAll(timeout)
		callback(frame, failures)

		if c.reenumerateOnFatal(failures) {
			return
		}

		c.mu.Lock()
		adaptive := c.adaptive
		if adaptive {
			c.optimizeCaptureRatesLocked()
		}
		globalFPS := c.globalFPS
		c.mu.Unlock()

		sleep := time.Duration(float64(time.Second) / globalFPS)
		select {
		case <-p.stop:
			return
		case <-time.After(sleep):
		}
	}
}

// reenumerateOnFatal implements spec section 7's "On Fatal, the
// coordinator attempts exactly one automatic re-enumeration before
// surfacing the error": when any per-monitor failure this round is
// Fatal, it asks the backend to re-discover its displays exactly once.
// Inside that session's Capture call, monitorsession has already closed
// the backend session and moved the session to Idle; nothing here
// reopens it.
// If the re-enumeration attempt itself fails, that failure is the
// "enumeration failure" coordinator-level error spec section 7 names:
// it is reported and the asynchronous path terminates.
func (c *Coordinator) reenumerateOnFatal(failures map[uint32]error) (terminate bool) {
	fatal := false
	for _, err := range failures {
		if kind, ok := core.KindOf(err); ok && kind == core.KindFatal {
			fatal = true
			break
		}
	}
	if !fatal {
		return false
	}

	corelog.Debugf("coordinator fatal_failure re-enumerating")
	if _, err := c.be.Enumerate(); err != nil {
		c.reportError(core.Wrap(core.KindFatal, "automatic re-enumeration failed", err))
		corelog.Debugf("coordinator re-enumerate_failed err=%v", err)
		return true
	}
	return false
}

// StopAsync stops the producer worker, if running, and joins it. Safe
// to call even if no producer is running.
func (c *Coordinator) StopAsync() {
	c.mu.Lock()
	p := c.producer
	c.producer = nil
	c.mu.Unlock()

	if p == nil {
		return
	}
	close(p.stop)
	p.wg.Wait()
	corelog.Debugf("coordinator producer_stopped")
}
