package render

import (
	"image"
	"math"

	"github.com/cinefocus/go-cinefocus"
	"gocv.io/x/gocv"
)

// Options defines the parameters controlling the depth of field composite
type Options struct {
	// BlurRadius is the gaussian kernel radius used to defocus the
	// background, the kernel size becomes 2*BlurRadius+1
	BlurRadius int
	// EdgeLow and EdgeHigh bound the smoothstep ramp applied to mask
	// confidence so the subject edge feathers instead of cutting hard
	EdgeLow  float32
	EdgeHigh float32
	// DepthFalloff is the background blend weight at the focus center.
	// The weight ramps radially up to 1.0 at the farthest frame corner so
	// defocus deepens with distance from the focused subject.  Set to 1.0
	// to disable the radial falloff
	DepthFalloff float32
	// Lighting preset applied to the background term only, the focused
	// subject keeps its original grade
	Lighting LightingMode
	// LightingStrength scales the preset effect, 0 disables it
	LightingStrength float32
	// Exposure multiplies the final composited pixel and is always the
	// last operation applied.  1.0 is neutral
	Exposure float32
}

// DefaultOptions returns an instance of Options configured with default
// values for a medium defocus with no lighting preset
func DefaultOptions() Options {
	return Options{
		BlurRadius:       12,
		EdgeLow:          0.35,
		EdgeHigh:         0.65,
		DepthFalloff:     0.35,
		Lighting:         LightPlain,
		LightingStrength: 0.5,
		Exposure:         1.0,
	}
}

// Compose renders the depth of field composite for the frame in place.
// The focused subject stays sharp while the rest of the frame is blurred,
// lit and blended underneath it.  A frame with no mask state passes
// through with only exposure applied
func Compose(img *gocv.Mat, state cinefocus.MaskState, opts Options) {

	width := img.Cols()
	height := img.Rows()

	if !state.HasMask() {
		applyExposure(img, opts.Exposure)
		return
	}

	kernel := 2*opts.BlurRadius + 1

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(*img, &blurred, image.Pt(kernel, kernel), 0, 0,
		gocv.BorderDefault)

	// it is too slow to manipulate pixel by pixel using GoCV due to slowness
	// over CGO.  So we copy the bytes from the source image and manipulate
	// the bytes directly before copying back to a Mat
	fgData := img.ToBytes()
	bgData := blurred.ToBytes()

	var cx, cy float32
	haveCenter := state.FocusCenter != nil && opts.DepthFalloff < 1.0

	if haveCenter {
		cx = state.FocusCenter.X
		cy = state.FocusCenter.Y
	}

	invW := 1 / float32(width)
	invH := 1 / float32(height)

	for j := 0; j < height; j++ {
		ny := (float32(j) + 0.5) * invH

		for k := 0; k < width; k++ {
			nx := (float32(k) + 0.5) * invW

			fg := smoothstep(opts.EdgeLow, opts.EdgeHigh, maskValue(state, k, j))

			// background weight deepens with distance from the focus center
			bg := 1 - fg

			if haveCenter {
				d := dist(nx, ny, cx, cy) / farthestCorner(cx, cy)
				bg *= opts.DepthFalloff + (1-opts.DepthFalloff)*d
			}

			pixelPos := j*width*3 + k*3

			b := float32(bgData[pixelPos+0])
			g := float32(bgData[pixelPos+1])
			r := float32(bgData[pixelPos+2])

			b, g, r = applyLighting(opts.Lighting, opts.LightingStrength,
				b, g, r, nx, ny)

			outB := float32(fgData[pixelPos+0])*(1-bg) + b*bg
			outG := float32(fgData[pixelPos+1])*(1-bg) + g*bg
			outR := float32(fgData[pixelPos+2])*(1-bg) + r*bg

			fgData[pixelPos+0] = clampByte(outB * opts.Exposure)
			fgData[pixelPos+1] = clampByte(outG * opts.Exposure)
			fgData[pixelPos+2] = clampByte(outR * opts.Exposure)
		}
	}

	// copy back to the original mat
	tmpImg, _ := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, fgData)
	defer tmpImg.Close()
	tmpImg.CopyTo(img)
}

// maskValue samples the effective mask confidence for a pixel.  Rack focus
// holds both subjects sharp so the pair combines as a per pixel max
func maskValue(state cinefocus.MaskState, x, y int) float32 {

	if state.MultiFocus {
		var v float32

		if state.MaskA != nil {
			v = state.MaskA.At(x, y)
		}

		if state.MaskB != nil {
			if b := state.MaskB.At(x, y); b > v {
				v = b
			}
		}

		return v
	}

	if state.Mask != nil {
		return state.Mask.At(x, y)
	}

	return 0
}

// applyExposure multiplies every pixel by the exposure factor
func applyExposure(img *gocv.Mat, exposure float32) {

	if exposure == 1.0 {
		return
	}

	imgData := img.ToBytes()

	for i := range imgData {
		imgData[i] = clampByte(float32(imgData[i]) * exposure)
	}

	tmpImg, _ := gocv.NewMatFromBytes(img.Rows(), img.Cols(),
		gocv.MatTypeCV8UC3, imgData)
	defer tmpImg.Close()
	tmpImg.CopyTo(img)
}

// smoothstep is the hermite ramp between the two edges, clamped outside
func smoothstep(edge0, edge1, v float32) float32 {

	if edge1 <= edge0 {
		if v >= edge1 {
			return 1
		}
		return 0
	}

	t := (v - edge0) / (edge1 - edge0)

	if t <= 0 {
		return 0
	}

	if t >= 1 {
		return 1
	}

	return t * t * (3 - 2*t)
}

// dist is the euclidean distance between two normalized points
func dist(x0, y0, x1, y1 float32) float32 {
	dx := float64(x1 - x0)
	dy := float64(y1 - y0)
	return float32(math.Sqrt(dx*dx + dy*dy))
}

// farthestCorner is the distance from a normalized point to the farthest
// frame corner, the range over which the depth falloff ramps
func farthestCorner(cx, cy float32) float32 {

	fx := cx

	if 1-cx > fx {
		fx = 1 - cx
	}

	fy := cy

	if 1-cy > fy {
		fy = 1 - cy
	}

	return dist(0, 0, fx, fy)
}

// clampByte clamps a float pixel value into byte range
func clampByte(v float32) uint8 {

	if v <= 0 {
		return 0
	}

	if v >= 255 {
		return 255
	}

	return uint8(v)
}
