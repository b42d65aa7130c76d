package postprocess

import (
	"github.com/cinefocus/go-cinefocus"
)

// CentroidParams defines the parameters used for estimating the centroid
// and area of a confidence mask
type CentroidParams struct {
	// Stride is the sampling interval in both axes used to bound the cost
	// of scanning the mask.  Area values are raw sampled pixel counts and
	// are only comparable between estimates made with the same stride
	Stride int
	// ConfidenceThreshold is the minimum confidence for a pixel to count
	// as part of the subject
	ConfidenceThreshold float32
	// MinSamples is the minimum number of confident sampled pixels
	// required for a centroid to be considered valid
	MinSamples int
}

// CentroidDefaultParams returns an instance of CentroidParams configured
// with default values featuring:
// - Stride: 4
// - Confidence Threshold: 0.5
// - Minimum Samples: 10
func CentroidDefaultParams() CentroidParams {
	return CentroidParams{
		Stride:              4,
		ConfidenceThreshold: 0.5,
		MinSamples:          10,
	}
}

// Centroid estimates the normalized centroid of the confident region of a
// mask along with its sampled area.  The mask is sampled every Stride
// pixels in both axes.  The returned area is the raw count of confident
// sampled pixels, a proxy for subject size used for relative change
// comparison only.  The final return value is false when fewer than
// MinSamples confident pixels were found and no centroid exists
func Centroid(mask *cinefocus.Mask, p CentroidParams) (cinefocus.Point, int, bool) {

	if !mask.Valid() {
		return cinefocus.Point{}, 0, false
	}

	stride := p.Stride
	if stride < 1 {
		stride = 1
	}

	var sumX, sumY, count int

	for y := 0; y < mask.Height; y += stride {
		row := y * mask.Width

		for x := 0; x < mask.Width; x += stride {
			if mask.Data[row+x] > p.ConfidenceThreshold {
				sumX += x
				sumY += y
				count++
			}
		}
	}

	if count < p.MinSamples {
		return cinefocus.Point{}, 0, false
	}

	centroid := cinefocus.Pt(
		float32(sumX)/float32(count)/float32(mask.Width),
		float32(sumY)/float32(count)/float32(mask.Height),
	)

	return centroid, count, true
}

// AreaDrift returns the relative change between two area estimates.  Both
// must have been sampled with the same stride for the ratio to be
// meaningful
func AreaDrift(lastArea, newArea int) float32 {

	if lastArea <= 0 {
		return 0
	}

	diff := newArea - lastArea
	if diff < 0 {
		diff = -diff
	}

	return float32(diff) / float32(lastArea)
}
