package cinefocus

// Mask is a dense grid of confidence values in the range 0..1, one per
// source frame pixel in row-major order.  Masks are produced by a
// MaskProvider and ownership passes to the consumer, which may discard and
// replace them every segmentation cycle.  Masks from different cycles are
// never blended directly, only derived composites are
type Mask struct {
	// Data holds Width*Height confidence values in row-major order
	Data []float32
	// Width of the mask in pixels, matches the source frame
	Width int
	// Height of the mask in pixels, matches the source frame
	Height int
}

// NewMask allocates a zeroed mask of the given dimensions
func NewMask(width, height int) *Mask {
	return &Mask{
		Data:   make([]float32, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the confidence value at pixel (x, y).  Out of bounds
// coordinates return 0
func (m *Mask) At(x, y int) float32 {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return 0
	}
	return m.Data[y*m.Width+x]
}

// Valid reports whether the mask has usable dimensions and a matching
// data buffer
func (m *Mask) Valid() bool {
	return m != nil && m.Width > 0 && m.Height > 0 &&
		len(m.Data) == m.Width*m.Height
}

// Matches reports whether the mask dimensions match the given frame size.
// Masks from a previous cycle whose dimensions no longer match are stale
// and must be skipped by compositing
func (m *Mask) Matches(width, height int) bool {
	return m.Valid() && m.Width == width && m.Height == height
}

// MaskState is the per-frame mask bundle handed to the renderer.  Absence
// of all mask fields means pass-through mode, the renderer applies exposure
// only
type MaskState struct {
	// Mask is the active mask in Single mode, or the weighted composite in
	// Priority mode
	Mask *Mask
	// MaskA and MaskB are the two subject masks in Multi (rack focus) mode
	MaskA *Mask
	MaskB *Mask
	// MultiFocus is set when MaskA/MaskB carry the rack focus pair
	MultiFocus bool
	// PriorityFocus is set when Mask carries a priority composite
	PriorityFocus bool
	// Width and Height are the frame dimensions the masks were produced for
	Width  int
	Height int
	// FocusCenter is the origin of the depth falloff used for blur radius,
	// nil when no subject is tracked
	FocusCenter *Point
}

// HasMask reports whether any mask is present for compositing
func (s MaskState) HasMask() bool {
	if s.MultiFocus {
		return s.MaskA.Valid() || s.MaskB.Valid()
	}
	return s.Mask.Valid()
}
