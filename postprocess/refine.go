package postprocess

import (
	"github.com/cinefocus/go-cinefocus"
)

// RefinerParams defines the parameters for mask refinement
type RefinerParams struct {
	// MaxHistory is the number of mask frames averaged for temporal
	// smoothing
	MaxHistory int
	// KernelRadius is the radius in pixels of the circular kernel used
	// for erosion and dilation
	KernelRadius int
	// Threshold is the confidence cutoff applied before morphology
	Threshold float32
	// SeedSearchRadius is how far to search for a confident pixel when
	// the seed point lands on background
	SeedSearchRadius int
	// MinConfidence is the floor below which original confidence values
	// are not restored into the refined mask
	MinConfidence float32
}

// RefinerDefaultParams returns an instance of RefinerParams configured
// with default values featuring:
// - Max History: 3
// - Kernel Radius: 5
// - Threshold: 0.5
// - Seed Search Radius: 20
// - Minimum Confidence: 0.1
func RefinerDefaultParams() RefinerParams {
	return RefinerParams{
		MaxHistory:       3,
		KernelRadius:     5,
		Threshold:        0.5,
		SeedSearchRadius: 20,
		MinConfidence:    0.1,
	}
}

// Refiner cleans up raw provider masks before centroid estimation.  It
// applies temporal smoothing over recent mask frames, breaks bridges
// between touching objects with circular erosion, isolates the connected
// component under the tracked point by flood fill, then dilates to restore
// edges and re-applies the original confidence values inside the isolated
// blob.  Each tracked target owns its own Refiner since the temporal
// history is per subject
type Refiner struct {
	params  RefinerParams
	width   int
	height  int
	history [][]float32
}

// NewRefiner returns a mask refiner for masks of the given dimensions
func NewRefiner(width, height int, p RefinerParams) *Refiner {
	return &Refiner{
		params: p,
		width:  width,
		height: height,
	}
}

// Reset drops the temporal history, used when the tracked target changes
// so old frames don't bleed into a fresh subject
func (r *Refiner) Reset() {
	r.history = r.history[:0]
}

// Refine processes a raw mask seeded at the given normalized point and
// returns the refined mask.  A mask whose dimensions don't match the
// refiner is passed through untouched
func (r *Refiner) Refine(mask *cinefocus.Mask, seed cinefocus.Point) *cinefocus.Mask {

	size := r.width * r.height

	if !mask.Matches(r.width, r.height) {
		// fallback if size mismatch
		return mask
	}

	// temporal average over recent mask frames
	r.history = append(r.history, mask.Data)
	if len(r.history) > r.params.MaxHistory {
		r.history = r.history[1:]
	}

	averaged := make([]float32, size)
	histLen := float32(len(r.history))

	for _, h := range r.history {
		for i := 0; i < size; i++ {
			averaged[i] += h[i] / histLen
		}
	}

	// threshold then erode to break bridges between touching objects
	bin := make([]uint8, size)
	for i := 0; i < size; i++ {
		if averaged[i] > r.params.Threshold {
			bin[i] = 1
		}
	}

	eroded := r.erode(bin, r.params.KernelRadius)

	// flood fill to isolate the object under the tracked point
	clx := int(seed.X * float32(r.width))
	cly := int(seed.Y * float32(r.height))

	isolated := make([]uint8, size)

	if clx >= 0 && clx < r.width && cly >= 0 && cly < r.height {
		r.floodFill(eroded, isolated, clx, cly)
	} else {
		// seed out of bounds, keep the full eroded mask
		copy(isolated, eroded)
	}

	// dilate to restore edges
	dilated := r.dilate(isolated, r.params.KernelRadius)

	// re-apply original confidence values inside the isolated blob so the
	// smooth edges of the provider mask are kept
	out := cinefocus.NewMask(r.width, r.height)

	for i := 0; i < size; i++ {
		if dilated[i] > 0 && mask.Data[i] > r.params.MinConfidence {
			out.Data[i] = mask.Data[i]
		}
	}

	return out
}

// erode shrinks the binary mask by the circular kernel radius.  Pixels at
// the image border erode away since the kernel samples outside the image
func (r *Refiner) erode(img []uint8, radius int) []uint8 {

	out := make([]uint8, len(img))
	w := r.width
	h := r.height

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {

			minVal := uint8(1)

			for dy := -radius; dy <= radius && minVal == 1; dy++ {
				for dx := -radius; dx <= radius; dx++ {

					if dx*dx+dy*dy > radius*radius {
						continue
					}

					nx := x + dx
					ny := y + dy

					if nx < 0 || nx >= w || ny < 0 || ny >= h || img[ny*w+nx] == 0 {
						minVal = 0
						break
					}
				}
			}

			out[y*w+x] = minVal
		}
	}

	return out
}

// dilate grows the binary mask by the circular kernel radius
func (r *Refiner) dilate(img []uint8, radius int) []uint8 {

	out := make([]uint8, len(img))
	w := r.width
	h := r.height

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {

			if img[y*w+x] != 1 {
				continue
			}

			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {

					if dx*dx+dy*dy > radius*radius {
						continue
					}

					nx := x + dx
					ny := y + dy

					if nx >= 0 && nx < w && ny >= 0 && ny < h {
						out[ny*w+nx] = 1
					}
				}
			}
		}
	}

	return out
}

// floodFill marks the connected component of img containing the start
// point into out.  When the start point itself is background the nearest
// confident pixel within SeedSearchRadius is used as the seed instead,
// since a damped tracking point can lag slightly behind the subject
func (r *Refiner) floodFill(img, out []uint8, startX, startY int) {

	w := r.width
	h := r.height

	type pixel struct{ x, y int }
	var queue []pixel

	if img[startY*w+startX] == 1 {
		queue = append(queue, pixel{startX, startY})
	} else {
		// search outward for a confident pixel to seed from
		found := false

		for radius := 1; radius <= r.params.SeedSearchRadius && !found; radius++ {
			for dy := -radius; dy <= radius && !found; dy++ {
				for dx := -radius; dx <= radius; dx++ {

					nx := startX + dx
					ny := startY + dy

					if nx >= 0 && nx < w && ny >= 0 && ny < h && img[ny*w+nx] == 1 {
						queue = append(queue, pixel{nx, ny})
						found = true
						break
					}
				}
			}
		}

		if !found {
			return
		}
	}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		idx := p.y*w + p.x

		if out[idx] == 1 || img[idx] == 0 {
			continue
		}

		out[idx] = 1

		if p.x > 0 {
			queue = append(queue, pixel{p.x - 1, p.y})
		}
		if p.x < w-1 {
			queue = append(queue, pixel{p.x + 1, p.y})
		}
		if p.y > 0 {
			queue = append(queue, pixel{p.x, p.y - 1})
		}
		if p.y < h-1 {
			queue = append(queue, pixel{p.x, p.y + 1})
		}
	}
}
