package render

import (
	"fmt"
	"math"
	"strings"
)

// LightingMode selects the lighting preset applied to the defocused
// background during compositing
type LightingMode int

const (
	LightPlain LightingMode = iota
	LightWarm
	LightCool
	LightSpotlight
	LightVignette
)

// String returns a string representation of lighting mode
func (m LightingMode) String() string {
	switch m {
	case LightPlain:
		return "plain"
	case LightWarm:
		return "warm"
	case LightCool:
		return "cool"
	case LightSpotlight:
		return "spotlight"
	case LightVignette:
		return "vignette"
	default:
		return "unknown"
	}
}

// ParseLighting converts a preset name into a LightingMode, used by the
// example harness flags
func ParseLighting(name string) (LightingMode, error) {
	switch strings.ToLower(name) {
	case "plain", "":
		return LightPlain, nil
	case "warm":
		return LightWarm, nil
	case "cool":
		return LightCool, nil
	case "spotlight":
		return LightSpotlight, nil
	case "vignette":
		return LightVignette, nil
	}

	return LightPlain, fmt.Errorf("unknown lighting mode %q", name)
}

// maxCenterDist is the distance from the frame center to a corner in
// normalized coordinates, used to scale the radial presets
var maxCenterDist = float32(math.Sqrt(0.5))

// applyLighting transforms a single BGR pixel according to the preset.
// nx and ny are the pixel position in normalized 0..1 coordinates, used
// by the radial presets which fall off from the frame center
func applyLighting(mode LightingMode, strength, b, g, r,
	nx, ny float32) (float32, float32, float32) {

	switch mode {
	case LightWarm:
		return b - 30*strength, g + 8*strength, r + 40*strength

	case LightCool:
		return b + 40*strength, g + 8*strength, r - 30*strength

	case LightSpotlight:
		gain := 1 + strength*(1-centerDist(nx, ny)/maxCenterDist)
		return b * gain, g * gain, r * gain

	case LightVignette:
		d := centerDist(nx, ny) / maxCenterDist
		gain := 1 - strength*d*d
		return b * gain, g * gain, r * gain
	}

	return b, g, r
}

// centerDist is the distance of a normalized point from the frame center
func centerDist(nx, ny float32) float32 {
	dx := float64(nx - 0.5)
	dy := float64(ny - 0.5)
	return float32(math.Sqrt(dx*dx + dy*dy))
}
