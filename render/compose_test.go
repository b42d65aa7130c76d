package render

import (
	"math"
	"testing"

	"github.com/cinefocus/go-cinefocus"
)

func almostEqual(a, b, tolerance float32) bool {
	return math.Abs(float64(a-b)) <= float64(tolerance)
}

func TestSmoothstep(t *testing.T) {

	tests := []struct {
		name     string
		value    float32
		expected float32
	}{
		{"below ramp", 0.2, 0.0},
		{"edge low", 0.35, 0.0},
		{"midpoint", 0.5, 0.5},
		{"edge high", 0.65, 1.0},
		{"above ramp", 0.9, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := smoothstep(0.35, 0.65, tt.value)

			if !almostEqual(got, tt.expected, 0.0001) {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestSmoothstepMonotonic(t *testing.T) {

	prev := float32(-1)

	for v := float32(0); v <= 1.0; v += 0.05 {
		s := smoothstep(0.35, 0.65, v)

		if s < prev {
			t.Fatalf("ramp decreased at %f: %f < %f", v, s, prev)
		}

		prev = s
	}
}

func TestClampByte(t *testing.T) {

	if got := clampByte(-5); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}

	if got := clampByte(300); got != 255 {
		t.Errorf("expected 255, got %d", got)
	}

	if got := clampByte(128.4); got != 128 {
		t.Errorf("expected 128, got %d", got)
	}
}

func TestFarthestCorner(t *testing.T) {

	// centered focus reaches sqrt(0.5) to every corner
	if got := farthestCorner(0.5, 0.5); !almostEqual(got, 0.7071, 0.001) {
		t.Errorf("expected 0.7071, got %f", got)
	}

	// corner focus reaches the full diagonal
	if got := farthestCorner(0, 0); !almostEqual(got, 1.4142, 0.001) {
		t.Errorf("expected 1.4142, got %f", got)
	}
}

func TestMaskValueMultiFocusMax(t *testing.T) {

	maskA := cinefocus.NewMask(2, 2)
	maskB := cinefocus.NewMask(2, 2)

	maskA.Data[0] = 0.3
	maskB.Data[0] = 0.8

	state := cinefocus.MaskState{
		MaskA:      maskA,
		MaskB:      maskB,
		MultiFocus: true,
	}

	if got := maskValue(state, 0, 0); !almostEqual(got, 0.8, 0.0001) {
		t.Errorf("expected 0.8, got %f", got)
	}

	// missing second mask falls back to the first
	state.MaskB = nil

	if got := maskValue(state, 0, 0); !almostEqual(got, 0.3, 0.0001) {
		t.Errorf("expected 0.3, got %f", got)
	}
}

func TestApplyLighting(t *testing.T) {

	// plain is identity
	b, g, r := applyLighting(LightPlain, 1.0, 100, 100, 100, 0.5, 0.5)

	if b != 100 || g != 100 || r != 100 {
		t.Errorf("plain changed pixel: %f %f %f", b, g, r)
	}

	// warm shifts red up and blue down
	b, g, r = applyLighting(LightWarm, 1.0, 100, 100, 100, 0.5, 0.5)

	if r <= 100 || b >= 100 {
		t.Errorf("warm shift wrong direction: b=%f r=%f", b, r)
	}

	// cool is the opposite
	b, _, r = applyLighting(LightCool, 1.0, 100, 100, 100, 0.5, 0.5)

	if b <= 100 || r >= 100 {
		t.Errorf("cool shift wrong direction: b=%f r=%f", b, r)
	}

	// spotlight is brightest at the frame center
	_, centerG, _ := applyLighting(LightSpotlight, 1.0, 100, 100, 100, 0.5, 0.5)
	_, cornerG, _ := applyLighting(LightSpotlight, 1.0, 100, 100, 100, 0.0, 0.0)

	if centerG <= cornerG {
		t.Errorf("spotlight not brighter at center: %f vs %f", centerG, cornerG)
	}

	// vignette darkens the corners, not the center
	_, centerG, _ = applyLighting(LightVignette, 1.0, 100, 100, 100, 0.5, 0.5)
	_, cornerG, _ = applyLighting(LightVignette, 1.0, 100, 100, 100, 0.0, 0.0)

	if !almostEqual(centerG, 100, 0.0001) {
		t.Errorf("vignette darkened center: %f", centerG)
	}

	if cornerG >= centerG {
		t.Errorf("vignette did not darken corner: %f", cornerG)
	}
}

func TestParseLighting(t *testing.T) {

	tests := []struct {
		input    string
		expected LightingMode
		wantErr  bool
	}{
		{"plain", LightPlain, false},
		{"", LightPlain, false},
		{"Warm", LightWarm, false},
		{"spotlight", LightSpotlight, false},
		{"vignette", LightVignette, false},
		{"neon", LightPlain, true},
	}

	for _, tt := range tests {
		got, err := ParseLighting(tt.input)

		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.input)
			}
			continue
		}

		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.input, err)
			continue
		}

		if got != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}
