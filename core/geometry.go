package core

import "sort"

// Rect is a half-open rectangle [X, X+W) x [Y, Y+H) in some local
// coordinate space. Coordinates are signed to accommodate monitor
// origins in desktop space (spec section 6); widths and heights are
// always non-negative.
type Rect struct {
	X, Y, W, H int32
}

// Right is the exclusive right edge, X+W.
func (r Rect) Right() int32 { return r.X + r.W }

// Bottom is the exclusive bottom edge, Y+H.
func (r Rect) Bottom() int32 { return r.Y + r.H }

// Empty reports whether the rectangle covers zero area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Touches reports whether two rectangles touch or overlap on both
// axes — the merge criterion used uniformly by the dirty-region
// tracker and the coordinator's region-merge helper (spec section 4.2
// and 4.4).
func (r Rect) Touches(o Rect) bool {
	horiz := r.X <= o.Right() && o.X <= r.Right()
	vert := r.Y <= o.Bottom() && o.Y <= r.Bottom()
	return horiz && vert
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	x0 := min(r.X, o.X)
	y0 := min(r.Y, o.Y)
	x1 := max(r.Right(), o.Right())
	y1 := max(r.Bottom(), o.Bottom())
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// ClipTo clips r to lie within [0,width) x [0,height), returning the
// clipped rectangle and false if nothing remains.
func (r Rect) ClipTo(width, height int32) (Rect, bool) {
	x0 := max(r.X, 0)
	y0 := max(r.Y, 0)
	x1 := min(r.Right(), width)
	y1 := min(r.Bottom(), height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}, false
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, true
}

// DirtyRect is a Rect annotated with the monitor it belongs to, the
// capture timestamp, and whether it is the result of a merge step
// (spec section 3).
type DirtyRect struct {
	Rect
	MonitorID uint32
	Timestamp int64
	Merged    bool
}

// MergeRects sorts rects by (X, Y), grows each seed region by absorbing
// every touching rect until it absorbs nothing more, and repeats the
// whole pass until a pass merges nothing, removing the sort-order dependence the original
// coordinator-level merge in no-borders-station had (spec section 9's
// Open Questions). Idempotent and commutative with respect to input
// order (spec section 8, properties 6-7).
func MergeRects(rects []DirtyRect) []DirtyRect {
	if len(rects) <= 1 {
		out := make([]DirtyRect, len(rects))
		copy(out, rects)
		return out
	}

	work := make([]DirtyRect, len(rects))
	copy(work, rects)
	sort.Slice(work, func(i, j int) bool {
		if work[i].X != work[j].X {
			return work[i].X < work[j].X
		}
		return work[i].Y < work[j].Y
	})

	used := make([]bool, len(work))
	merged := make([]DirtyRect, 0, len(work))

	for i := range work {
		if used[i] {
			continue
		}
		cur := work[i]
		used[i] = true
		absorbedEver := false

		for {
			absorbedAny := false
			for j := range work {
				if used[j] {
					continue
				}
				if cur.Rect.Touches(work[j].Rect) {
					cur.Rect = cur.Rect.Union(work[j].Rect)
					if work[j].Timestamp > cur.Timestamp {
						cur.Timestamp = work[j].Timestamp
					}
					used[j] = true
					absorbedAny = true
					absorbedEver = true
				}
			}
			if !absorbedAny {
				break
			}
		}
		if absorbedEver {
			cur.Merged = true
		}
		merged = append(merged, cur)
	}

	// A region grown by a later seed can come to touch one emitted
	// earlier in this pass; merge again until nothing more combines.
	if len(merged) < len(work) {
		return MergeRects(merged)
	}
	return merged
}
