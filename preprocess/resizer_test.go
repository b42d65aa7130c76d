package preprocess

import (
	"github.com/cinefocus/go-cinefocus"
	"gocv.io/x/gocv"
	"image/color"
	"math"
	"testing"
)

var (
	black = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// almostEqual checks if two float32 values are approximately equal
func almostEqual(a, b, tolerance float32) bool {
	return float32(math.Abs(float64(a)-float64(b))) <= tolerance
}

// pointAt is shorthand for creating a normalized point
func pointAt(x, y float32) cinefocus.Point {
	return cinefocus.Pt(x, y)
}

func TestLetterBoxResize(t *testing.T) {

	tests := []struct {
		srcWidth      int
		srcHeight     int
		resizeWidth   int
		resizeHeight  int
		expectedXPad  int
		expectedYPad  int
		expectedScale float32
	}{
		{1280, 720, 640, 640, 0, 140, 0.50},
		{800, 1000, 640, 640, 64, 0, 0.64},
		{800, 800, 640, 640, 0, 0, 0.8},
	}

	for _, tc := range tests {
		img := gocv.NewMatWithSize(tc.srcHeight, tc.srcWidth, gocv.MatTypeCV8UC1)

		resizedImg := gocv.NewMat()

		resizer := NewResizer(tc.srcWidth, tc.srcHeight, tc.resizeWidth, tc.resizeHeight)

		resizer.LetterBoxResize(img, &resizedImg, black)

		if resizer.XPad() != tc.expectedXPad || resizer.YPad() != tc.expectedYPad {
			t.Errorf("Test failed for src (%d, %d): Padding values wrong, expected XPad=%d, YPad=%d, got xPad=%d, yPad=%d",
				tc.srcWidth, tc.srcHeight, tc.expectedXPad, tc.expectedYPad, resizer.XPad(), resizer.YPad())
		}

		if resizer.ScaleFactor() != tc.expectedScale {
			t.Errorf("Test failed for src (%d, %d): Scalefactor incorrect, expected %f, got %f",
				tc.srcWidth, tc.srcHeight, tc.expectedScale, resizer.ScaleFactor())
		}

		img.Close()
		resizedImg.Close()
		resizer.Close()
	}
}

func TestNormalizePoint(t *testing.T) {

	// 1280x720 video letterboxed into a 640x640 canvas, scale 0.5 with
	// 140px bars top and bottom
	resizer := NewResizer(1280, 720, 640, 640)
	defer resizer.Close()

	tests := []struct {
		x, y       int
		expectedX  float32
		expectedY  float32
		expectedOK bool
	}{
		// center of canvas is center of video
		{320, 320, 0.5, 0.5, true},
		// top left of active area
		{0, 140, 0.0, 0.0, true},
		// click inside the top letterbox bar maps to nothing
		{320, 100, 0, 0, false},
		// click inside the bottom letterbox bar maps to nothing
		{320, 620, 0, 0, false},
	}

	for _, tc := range tests {
		pt, ok := resizer.NormalizePoint(tc.x, tc.y)

		if ok != tc.expectedOK {
			t.Errorf("NormalizePoint(%d, %d): expected ok=%v, got %v",
				tc.x, tc.y, tc.expectedOK, ok)
			continue
		}

		if !ok {
			continue
		}

		if pt.X != tc.expectedX || pt.Y != tc.expectedY {
			t.Errorf("NormalizePoint(%d, %d): expected (%f, %f), got (%f, %f)",
				tc.x, tc.y, tc.expectedX, tc.expectedY, pt.X, pt.Y)
		}
	}
}

func TestDenormalizePointRoundTrip(t *testing.T) {

	resizer := NewResizer(1280, 720, 640, 640)
	defer resizer.Close()

	// a point denormalized into letterbox space must normalize back to
	// itself
	x, y := resizer.DenormalizePoint(pointAt(0.25, 0.75))

	pt, ok := resizer.NormalizePoint(x, y)

	if !ok {
		t.Fatal("round trip point fell outside active area")
	}

	if !almostEqual(pt.X, 0.25, 1e-2) || !almostEqual(pt.Y, 0.75, 1e-2) {
		t.Errorf("round trip mismatch, got (%f, %f)", pt.X, pt.Y)
	}
}

func TestUnletterboxMask(t *testing.T) {

	// 8x4 video letterboxed into 8x8 tensor space, 2px bars top and bottom
	resizer := NewResizer(8, 4, 8, 8)
	defer resizer.Close()

	if resizer.YPad() != 2 || resizer.XPad() != 0 {
		t.Fatalf("unexpected letterbox geometry xPad=%d yPad=%d",
			resizer.XPad(), resizer.YPad())
	}

	// tensor-space mask confident only in the active region
	data := make([]float32, 8*8)
	for y := 2; y < 6; y++ {
		for x := 0; x < 8; x++ {
			data[y*8+x] = 1.0
		}
	}

	mask := resizer.UnletterboxMask(data)

	if mask == nil || !mask.Matches(8, 4) {
		t.Fatal("expected 8x4 frame resolution mask")
	}

	// every frame pixel samples inside the confident active region
	for i, v := range mask.Data {
		if v != 1.0 {
			t.Errorf("pixel %d: expected confidence 1.0, got %f", i, v)
		}
	}

	// wrong sized input is rejected
	if got := resizer.UnletterboxMask(make([]float32, 10)); got != nil {
		t.Error("expected nil mask for size mismatched input")
	}
}
