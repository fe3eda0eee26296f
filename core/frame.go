package core

// PixelFormatBGRA is the one pixel format the contract supports: 32-bit
// BGRA, little-endian channel order, row-major, top-down (spec section 6).
const PixelFormatBGRA = "BGRA"

// MonitorDescriptor is the stable, immutable-between-enumerations
// metadata for one attached display (spec section 3).
type MonitorDescriptor struct {
	ID            uint32
	X, Y          int32 // desktop-space signed origin
	Width, Height int32
	Primary       bool
	ScaleFactor   float64
	Name          string
	// Handle is an opaque backend-owned reference (a duplication
	// output index, an X11 root window id, a CGDirectDisplayID, ...).
	// Only the backend that produced it interprets it.
	Handle any
}

// ReleaseFunc returns backend-owned resources referenced by a frame. It
// is invoked at most once, when the frame is released, and must not be
// called again afterward — the frame's buffer must not be touched once
// this runs (spec section 3's "no pixel buffer outlives its owning frame").
type ReleaseFunc func()

// CaptureFrame is a single monitor's captured pixels plus the dirty
// rectangles that changed since the previous frame from that monitor
// (spec section 3).
type CaptureFrame struct {
	// Pixels is either an owned copy or a view into backend-owned
	// memory; callers must not retain it past Release.
	Pixels      []byte
	Width       int32
	Height      int32
	Stride      int32
	PixelFormat string
	MonitorID   uint32
	Timestamp   int64 // Unix time in microseconds from the wall clock (time.Now); not guaranteed monotonic
	Dirty       []DirtyRect

	release ReleaseFunc
}

// NewCaptureFrame constructs a frame, defaulting PixelFormat to BGRA.
func NewCaptureFrame(pixels []byte, width, height, stride int32, monitorID uint32, timestamp int64, dirty []DirtyRect, release ReleaseFunc) CaptureFrame {
	return CaptureFrame{
		Pixels:      pixels,
		Width:       width,
		Height:      height,
		Stride:      stride,
		PixelFormat: PixelFormatBGRA,
		MonitorID:   monitorID,
		Timestamp:   timestamp,
		Dirty:       dirty,
		release:     release,
	}
}

// Release returns any backend-owned resources this frame references.
// Safe to call on a zero-value frame or more than once; only the first
// call has effect.
func (f *CaptureFrame) Release() {
	if f.release == nil {
		return
	}
	rel := f.release
	f.release = nil
	rel()
}

// MultiMonitorFrame aggregates per-monitor frames in ascending
// (priority, id) order (spec section 3, 4.4, 5).
type MultiMonitorFrame struct {
	Frames      []CaptureFrame
	Descriptors []MonitorDescriptor
	Timestamp   int64
	TotalBytes  int64
}

// Release releases every per-monitor frame it carries.
func (m *MultiMonitorFrame) Release() {
	for i := range m.Frames {
		m.Frames[i].Release()
	}
}
