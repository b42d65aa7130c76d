package postprocess

import (
	"math"
	"testing"

	"github.com/cinefocus/go-cinefocus"
)

// almostEqual checks if two float32 values are approximately equal
func almostEqual(a, b, tolerance float32) bool {
	return float32(math.Abs(float64(a)-float64(b))) <= tolerance
}

// fillRect sets a rectangular region of the mask to the given confidence
func fillRect(m *cinefocus.Mask, x0, y0, x1, y1 int, v float32) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.Data[y*m.Width+x] = v
		}
	}
}

func TestCentroidMinSampleBoundary(t *testing.T) {

	params := CentroidParams{
		Stride:              1,
		ConfidenceThreshold: 0.5,
		MinSamples:          10,
	}

	// exactly at the minimum sample threshold succeeds
	m := cinefocus.NewMask(20, 20)
	fillRect(m, 0, 0, 10, 1, 1.0)

	if _, area, ok := Centroid(m, params); !ok || area != 10 {
		t.Errorf("expected success with area 10 at threshold, got ok=%v area=%d", ok, area)
	}

	// one below the minimum fails
	m = cinefocus.NewMask(20, 20)
	fillRect(m, 0, 0, 9, 1, 1.0)

	if _, _, ok := Centroid(m, params); ok {
		t.Error("expected failure with 9 of 10 required confident pixels")
	}
}

func TestCentroidPosition(t *testing.T) {

	params := CentroidParams{
		Stride:              1,
		ConfidenceThreshold: 0.5,
		MinSamples:          10,
	}

	// confident block covering x 40..59, y 20..39 in a 100x100 mask.
	// centroid of sampled x positions is (40+59)/2 = 49.5, of y is 29.5
	m := cinefocus.NewMask(100, 100)
	fillRect(m, 40, 20, 60, 40, 0.9)

	pt, area, ok := Centroid(m, params)

	if !ok {
		t.Fatal("expected valid centroid")
	}

	if area != 400 {
		t.Errorf("expected area 400, got %d", area)
	}

	if !almostEqual(pt.X, 0.495, 1e-4) || !almostEqual(pt.Y, 0.295, 1e-4) {
		t.Errorf("expected centroid (0.495, 0.295), got (%f, %f)", pt.X, pt.Y)
	}
}

func TestCentroidStrideSampling(t *testing.T) {

	params := CentroidParams{
		Stride:              4,
		ConfidenceThreshold: 0.5,
		MinSamples:          10,
	}

	// a 40x40 confident block sampled at stride 4 yields 10x10 samples
	m := cinefocus.NewMask(80, 80)
	fillRect(m, 0, 0, 40, 40, 1.0)

	_, area, ok := Centroid(m, params)

	if !ok {
		t.Fatal("expected valid centroid")
	}

	if area != 100 {
		t.Errorf("expected sampled area 100, got %d", area)
	}
}

func TestCentroidValuesAtThresholdExcluded(t *testing.T) {

	params := CentroidParams{
		Stride:              1,
		ConfidenceThreshold: 0.5,
		MinSamples:          10,
	}

	// confidence exactly at the threshold does not count as confident
	m := cinefocus.NewMask(20, 20)
	fillRect(m, 0, 0, 20, 1, 0.5)

	if _, _, ok := Centroid(m, params); ok {
		t.Error("expected failure when all pixels sit exactly at threshold")
	}
}

func TestAreaDrift(t *testing.T) {

	tests := []struct {
		lastArea int
		newArea  int
		expected float32
	}{
		{100, 160, 0.6},
		{100, 50, 0.5},
		{100, 100, 0.0},
		{0, 100, 0.0},
		{200, 100, 0.5},
	}

	for _, tc := range tests {
		if got := AreaDrift(tc.lastArea, tc.newArea); !almostEqual(got, tc.expected, 1e-5) {
			t.Errorf("AreaDrift(%d, %d): expected %f, got %f",
				tc.lastArea, tc.newArea, tc.expected, got)
		}
	}
}
