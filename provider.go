package cinefocus

import (
	"errors"
)

// error values returned by provider backends and the tracker
var (
	// ErrNotReady is returned while a provider's model is still loading.
	// Tracking calls made before the provider is ready are no-ops
	ErrNotReady = errors.New("mask provider not ready")
	// ErrNoEmbedding is returned by DecodeFromCache when no frame embedding
	// has been cached yet
	ErrNoEmbedding = errors.New("no cached frame embedding")
	// ErrEmptyMask is returned when inference produced no usable mask
	ErrEmptyMask = errors.New("provider returned empty mask")
	// ErrSubjectCap is returned when adding a priority subject beyond the
	// configured maximum
	ErrSubjectCap = errors.New("priority subject cap reached")
)

// MaskProvider is the contract between the focus tracker and a
// point-prompted segmentation backend.  Given a frame and a normalized
// point it produces a confidence mask for the region containing that point,
// at full frame resolution.
//
// RequestMask blocks for the duration of inference; the tracker runs it on
// a goroutine and consumes completions through a result channel, so a slow
// backend never stalls the render loop.  Implementations must be safe for
// concurrent calls as Multi and Priority modes issue several requests per
// segmentation cycle
type MaskProvider interface {
	// Ready reports whether the backend model is loaded and able to serve
	// requests
	Ready() bool
	// RequestMask runs point-prompted segmentation on the given frame.  A
	// failed or empty inference returns ErrEmptyMask
	RequestMask(frame Frame, pt Point) (*Mask, error)
	// Close releases backend resources
	Close() error
}

// EmbeddingProvider is the variant contract for backends that split
// inference into an expensive per-frame encode and cheap per-point decodes
// against the cached encoding.  The tracker re-encodes on a slower interval
// than it decodes, gated by a single-flight discipline
type EmbeddingProvider interface {
	MaskProvider

	// Encode runs the frame encoder and caches the resulting embedding.
	// Expensive, the tracker throttles calls and never runs two encodes
	// concurrently
	Encode(frame Frame) error
	// DecodeFromCache produces a mask for the point against the most
	// recently cached embedding.  Returns ErrNoEmbedding until the first
	// Encode has completed
	DecodeFromCache(pt Point) (*Mask, error)
}
