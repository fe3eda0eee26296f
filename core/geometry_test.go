package core

import "testing"

func TestRectTouches(t *testing.T) {
	a := Rect{X: 0, Y: 0, W: 10, H: 10}
	cases := []struct {
		name string
		b    Rect
		want bool
	}{
		{"overlapping", Rect{X: 5, Y: 5, W: 10, H: 10}, true},
		{"edge-touching", Rect{X: 10, Y: 0, W: 10, H: 10}, true},
		{"disjoint", Rect{X: 20, Y: 20, W: 5, H: 5}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := a.Touches(c.b); got != c.want {
				t.Fatalf("Touches(%+v) = %v, want %v", c.b, got, c.want)
			}
		})
	}
}

func TestRectClipTo(t *testing.T) {
	r := Rect{X: -5, Y: -5, W: 20, H: 20}
	clipped, ok := r.ClipTo(10, 10)
	if !ok {
		t.Fatal("want clip to succeed")
	}
	if clipped.X != 0 || clipped.Y != 0 || clipped.W != 10 || clipped.H != 10 {
		t.Fatalf("unexpected clipped rect: %+v", clipped)
	}

	_, ok = Rect{X: 100, Y: 100, W: 5, H: 5}.ClipTo(10, 10)
	if ok {
		t.Fatal("want clip outside bounds to fail")
	}
}

func TestMergeRectsIdempotent(t *testing.T) {
	rects := []DirtyRect{
		{Rect: Rect{X: 0, Y: 0, W: 10, H: 10}},
		{Rect: Rect{X: 10, Y: 0, W: 10, H: 10}},
		{Rect: Rect{X: 100, Y: 100, W: 5, H: 5}},
	}
	once := MergeRects(rects)
	twice := MergeRects(once)
	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: once=%d twice=%d", len(once), len(twice))
	}
}

func TestMergeRectsCommutative(t *testing.T) {
	a := []DirtyRect{
		{Rect: Rect{X: 0, Y: 0, W: 10, H: 10}},
		{Rect: Rect{X: 10, Y: 0, W: 10, H: 10}},
		{Rect: Rect{X: 5, Y: 10, W: 10, H: 10}},
	}
	b := []DirtyRect{a[2], a[0], a[1]}

	mergedA := MergeRects(a)
	mergedB := MergeRects(b)
	if len(mergedA) != 1 || len(mergedB) != 1 {
		t.Fatalf("want all three touching rects merged into one each way, got %d and %d", len(mergedA), len(mergedB))
	}
	if mergedA[0].Rect != mergedB[0].Rect {
		t.Fatalf("merge result depends on input order: %+v vs %+v", mergedA[0].Rect, mergedB[0].Rect)
	}
}

func TestMergeRectsSingletonUnmarked(t *testing.T) {
	rects := []DirtyRect{{Rect: Rect{X: 0, Y: 0, W: 5, H: 5}}}
	merged := MergeRects(rects)
	if len(merged) != 1 {
		t.Fatalf("want 1 region, got %d", len(merged))
	}
	if merged[0].Merged {
		t.Fatal("want Merged=false for a region that absorbed nothing")
	}
}

func TestMergeRectsMarksAbsorbed(t *testing.T) {
	rects := []DirtyRect{
		{Rect: Rect{X: 0, Y: 0, W: 10, H: 10}},
		{Rect: Rect{X: 10, Y: 0, W: 10, H: 10}},
	}
	merged := MergeRects(rects)
	if len(merged) != 1 || !merged[0].Merged {
		t.Fatalf("want 1 merged region with Merged=true, got %+v", merged)
	}
}
