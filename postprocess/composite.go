package postprocess

import (
	"github.com/cinefocus/go-cinefocus"
)

const (
	// buffers
	bufComposite = "composite"
)

// DefaultPriorityWeights is the fixed weight table indexed by priority
// rank.  Rank 0 is the primary subject and contributes its mask at full
// strength, lower ranks contribute progressively less focus
var DefaultPriorityWeights = []float32{1.0, 0.7, 0.5, 0.35, 0.25}

// DefaultFallbackWeight is the flat weight applied to any rank beyond the
// length of the weight table
const DefaultFallbackWeight = float32(0.2)

// SubjectMask pairs a subject's current mask with its priority rank for
// compositing
type SubjectMask struct {
	// Mask is the subject's most recent valid mask, may be nil when the
	// subject has not produced one yet
	Mask *cinefocus.Mask
	// Priority is the subject's dense rank, 0 is highest
	Priority int
}

// Compositor combines per-subject masks into the single weighted composite
// consumed by rendering in Priority mode.  Accumulation runs in a pooled
// scratch buffer, the returned mask owns its data and stays valid across
// later Composite calls
type Compositor struct {
	// weights is the table of per-rank mask weights
	weights []float32
	// fallback weight for ranks beyond the table
	fallback float32
	// buffer pool to stop allocation contention
	bufPool *bufferPool
	// bufPoolInit is a flag to indicate if the buffer pool has been initialized
	bufPoolInit bool
}

// NewCompositor returns a compositor using the given weight table and
// fallback weight.  Passing a nil table uses DefaultPriorityWeights
func NewCompositor(weights []float32, fallback float32) *Compositor {

	if weights == nil {
		weights = DefaultPriorityWeights
	}

	return &Compositor{
		weights:  weights,
		fallback: fallback,
		bufPool:  NewBufferPool(),
	}
}

// Weight returns the mask weight for the given priority rank
func (c *Compositor) Weight(rank int) float32 {

	if rank >= 0 && rank < len(c.weights) {
		return c.weights[rank]
	}

	return c.fallback
}

// Composite combines the given subject masks into a single mask of the
// given frame dimensions, keeping the per-pixel maximum of mask value
// multiplied by the subject's rank weight.  Subjects whose mask is missing
// or does not match the frame dimensions are skipped and contribute
// nothing.  Returns nil when no subject contributed
func (c *Compositor) Composite(width, height int, subjects []SubjectMask) *cinefocus.Mask {

	if width <= 0 || height <= 0 {
		return nil
	}

	size := width * height

	if !c.bufPoolInit {
		c.bufPool.Create(bufComposite, size)
		c.bufPoolInit = true
	}

	buf := c.bufPool.Get(bufComposite, size)

	contributed := false

	for _, s := range subjects {

		if !s.Mask.Matches(width, height) {
			// stale or missing mask, skip rather than zero fill
			continue
		}

		weight := c.Weight(s.Priority)

		for i, v := range s.Mask.Data {
			if w := v * weight; w > buf[i] {
				buf[i] = w
			}
		}

		contributed = true
	}

	if !contributed {
		c.bufPool.Put(bufComposite, buf)
		return nil
	}

	// the renderer may still be reading the previous composite on another
	// goroutine, so hand out an owned copy and recycle the scratch buffer
	out := cinefocus.NewMask(width, height)
	copy(out.Data, buf)

	c.bufPool.Put(bufComposite, buf)

	return out
}
