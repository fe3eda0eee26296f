package dirtyregion

import "testing"

func solidFrame(width, height int32, v byte) []byte {
	buf := make([]byte, int(width)*int(height)*4)
	for i := range buf {
		buf[i] = v
	}
	return buf
}

func TestDetectFirstFrameIsFullFrame(t *testing.T) {
	tr := New(Options{})
	frame := solidFrame(64, 64, 10)

	regions := tr.Detect(1, frame, 64, 64, 64*4, 1000)
	if len(regions) != 1 {
		t.Fatalf("want 1 region, got %d", len(regions))
	}
	if regions[0].W != 64 || regions[0].H != 64 {
		t.Fatalf("want full-frame region, got %+v", regions[0])
	}
}

func TestDetectIdenticalFrameReportsNothing(t *testing.T) {
	tr := New(Options{})
	frame := solidFrame(64, 64, 10)

	tr.Detect(1, frame, 64, 64, 64*4, 1000)
	regions := tr.Detect(1, frame, 64, 64, 64*4, 1001)
	if len(regions) != 0 {
		t.Fatalf("want 0 regions for identical frame, got %d: %+v", len(regions), regions)
	}
}

func TestDetectLocalizedChangeIsReported(t *testing.T) {
	tr := New(Options{BlockWidth: 32, BlockHeight: 32, MinRegionWidth: 8, MinRegionHeight: 8})
	first := solidFrame(64, 64, 0)
	tr.Detect(1, first, 64, 64, 64*4, 1000)

	second := append([]byte(nil), first...)
	stride := int32(64 * 4)
	for y := int32(0); y < 16; y++ {
		for x := int32(0); x < 16; x++ {
			off := y*stride + x*4
			second[off] = 255
			second[off+1] = 255
			second[off+2] = 255
			second[off+3] = 255
		}
	}

	regions := tr.Detect(1, second, 64, 64, stride, 1001)
	if len(regions) == 0 {
		t.Fatalf("want at least one dirty region for localized change")
	}
	for _, r := range regions {
		if r.X >= 32 || r.Y >= 32 {
			t.Fatalf("unexpected region outside changed block: %+v", r)
		}
	}
}

func TestDetectDimensionChangeForcesFullFrame(t *testing.T) {
	tr := New(Options{})
	tr.Detect(1, solidFrame(64, 64, 0), 64, 64, 64*4, 1000)

	regions := tr.Detect(1, solidFrame(32, 32, 0), 32, 32, 32*4, 1001)
	if len(regions) != 1 || regions[0].W != 32 || regions[0].H != 32 {
		t.Fatalf("want full-frame region after dimension change, got %+v", regions)
	}
}

func TestMaxRegionCountTruncates(t *testing.T) {
	tr := New(Options{BlockWidth: 8, BlockHeight: 8, MinRegionWidth: 1, MinRegionHeight: 1, MaxRegionCount: 2})
	width, height := int32(64), int32(64)
	first := solidFrame(width, height, 0)
	tr.Detect(1, first, width, height, width*4, 1000)

	// Checkerboard every other 8x8 block so none of the dirty blocks touch
	// and merge into each other, forcing more than 2 distinct regions.
	second := append([]byte(nil), first...)
	stride := width * 4
	for by := int32(0); by < height; by += 16 {
		for bx := int32(0); bx < width; bx += 16 {
			for y := int32(0); y < 8 && by+y < height; y++ {
				for x := int32(0); x < 8 && bx+x < width; x++ {
					off := (by+y)*stride + (bx+x)*4
					second[off] = 255
					second[off+1] = 255
					second[off+2] = 255
					second[off+3] = 255
				}
			}
		}
	}

	regions := tr.Detect(1, second, width, height, stride, 1001)
	if len(regions) > 2 {
		t.Fatalf("want at most 2 regions after truncation, got %d", len(regions))
	}
}

func TestResetForcesFullFrameAgain(t *testing.T) {
	tr := New(Options{})
	frame := solidFrame(64, 64, 5)
	tr.Detect(1, frame, 64, 64, 64*4, 1000)
	tr.Reset()

	regions := tr.Detect(1, frame, 64, 64, 64*4, 1001)
	if len(regions) != 1 {
		t.Fatalf("want full-frame region after reset, got %d", len(regions))
	}
}

func TestCountersAccumulate(t *testing.T) {
	tr := New(Options{})
	frame := solidFrame(64, 64, 1)
	tr.Detect(1, frame, 64, 64, 64*4, 1000)
	tr.Detect(1, frame, 64, 64, 64*4, 1001)

	c := tr.Counters()
	if c.PixelsCompared <= 0 {
		t.Fatalf("want positive pixels compared, got %d", c.PixelsCompared)
	}
}
