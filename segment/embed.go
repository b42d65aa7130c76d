package segment

import (
	"fmt"
	"image"
	"sync"
	"unsafe"

	"github.com/cinefocus/go-cinefocus"
	"github.com/cinefocus/go-cinefocus/preprocess"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gocv.io/x/gocv"
)

// EmbedParams defines the configuration for the embedding segmenter
type EmbedParams struct {
	// InputWidth and InputHeight are the encoder input tensor dimensions
	InputWidth  int
	InputHeight int
	// ImageInput is the name of the encoder image input layer
	ImageInput string
	// EmbeddingOutput is the name of the encoder embedding output layer
	EmbeddingOutput string
	// EmbeddingInput is the name of the decoder embedding input layer
	EmbeddingInput string
	// PointInput is the name of the decoder prompt point input layer
	PointInput string
	// MaskOutput is the name of the decoder mask output layer
	MaskOutput string
	// CacheSize is the number of recent frame embeddings retained, a
	// request for an already encoded frame is served from cache without
	// re-running the encoder
	CacheSize int
	// PoolSize is the number of decoder nets opened so concurrent
	// subjects can decode in parallel
	PoolSize int
}

// EmbedDefaultParams returns an instance of EmbedParams configured with
// default values for a 1024x1024 encoder with conventional layer names, a
// cache of 4 recent embeddings and 3 pooled decoders
func EmbedDefaultParams() EmbedParams {
	return EmbedParams{
		InputWidth:      1024,
		InputHeight:     1024,
		ImageInput:      "image",
		EmbeddingOutput: "embedding",
		EmbeddingInput:  "embedding",
		PointInput:      "point",
		MaskOutput:      "mask",
		CacheSize:       4,
		PoolSize:        3,
	}
}

// EmbedSegmenter is a segmentation backend splitting inference into an
// expensive per-frame encode and cheap per-point decodes against the
// cached encoding.  One encode serves every tracked subject for several
// cycles, which is what makes Multi and Priority mode affordable
type EmbedSegmenter struct {
	mu sync.Mutex

	encoder  gocv.Net
	decoders *NetPool
	params   EmbedParams

	// cache of recent frame embeddings in half precision
	cache *lru.Cache[uuid.UUID, *Embedding]
	// current is the frame id of the most recent completed encode
	current uuid.UUID
	// hasCurrent is set once the first encode completes
	hasCurrent bool

	// resizer maps between frame and tensor space for the most recently
	// encoded frame dimensions
	resizer *preprocess.Resizer
	ready   bool
}

// NewEmbedSegmenter loads the encoder and decoder models
func NewEmbedSegmenter(encoderFile, decoderFile string, p EmbedParams) (*EmbedSegmenter, error) {

	encoder := gocv.ReadNet(encoderFile, "")

	if encoder.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrModelLoad, encoderFile)
	}

	decoders, err := NewNetPool(p.PoolSize, decoderFile)

	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("loading decoder pool: %w", err)
	}

	cache, err := lru.New[uuid.UUID, *Embedding](p.CacheSize)

	if err != nil {
		encoder.Close()
		decoders.Close()
		return nil, err
	}

	return &EmbedSegmenter{
		encoder:  encoder,
		decoders: decoders,
		params:   p,
		cache:    cache,
		ready:    true,
	}, nil
}

// Ready reports whether the models are loaded
func (s *EmbedSegmenter) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Close releases the encoder and decoder nets
func (s *EmbedSegmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready = false
	s.cache.Purge()
	s.decoders.Close()

	if s.resizer != nil {
		s.resizer.Close()
		s.resizer = nil
	}

	return s.encoder.Close()
}

// Encode runs the frame encoder and caches the resulting embedding as the
// current decode source.  Callers throttle this, one encode serves many
// decode cycles
func (s *EmbedSegmenter) Encode(frame cinefocus.Frame) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return cinefocus.ErrNotReady
	}

	if frame.Empty() {
		return cinefocus.ErrEmptyMask
	}

	// already encoded, just make it current
	if _, ok := s.cache.Get(frame.ID); ok {
		s.current = frame.ID
		s.hasCurrent = true
		return nil
	}

	resizer := s.resizerFor(frame.Width(), frame.Height())

	input := gocv.NewMat()
	defer input.Close()

	resizer.LetterBoxResize(frame.Mat, &input, padBlack)

	blob := gocv.BlobFromImage(input, 1.0/255.0,
		image.Pt(s.params.InputWidth, s.params.InputHeight),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.encoder.SetInput(blob, s.params.ImageInput)

	out := s.encoder.Forward(s.params.EmbeddingOutput)
	defer out.Close()

	emb, err := embeddingFromOutput(frame.ID, out)

	if err != nil {
		return err
	}

	s.cache.Add(frame.ID, emb)
	s.current = frame.ID
	s.hasCurrent = true

	return nil
}

// DecodeFromCache produces a mask for the point against the most recently
// cached embedding.  Returns ErrNoEmbedding until the first Encode has
// completed
func (s *EmbedSegmenter) DecodeFromCache(pt cinefocus.Point) (*cinefocus.Mask, error) {

	s.mu.Lock()

	if !s.ready {
		s.mu.Unlock()
		return nil, cinefocus.ErrNotReady
	}

	if !s.hasCurrent {
		s.mu.Unlock()
		return nil, cinefocus.ErrNoEmbedding
	}

	emb, ok := s.cache.Get(s.current)
	resizer := s.resizer

	s.mu.Unlock()

	if !ok || resizer == nil {
		return nil, cinefocus.ErrNoEmbedding
	}

	return s.decode(emb, resizer, pt)
}

// RequestMask satisfies the plain provider contract by encoding the frame,
// or reusing its cached embedding, then decoding the point against it
func (s *EmbedSegmenter) RequestMask(frame cinefocus.Frame,
	pt cinefocus.Point) (*cinefocus.Mask, error) {

	if err := s.Encode(frame); err != nil {
		return nil, err
	}

	return s.DecodeFromCache(pt)
}

// resizerFor returns a resizer for the given source frame dimensions,
// caller must hold the lock
func (s *EmbedSegmenter) resizerFor(width, height int) *preprocess.Resizer {

	if s.resizer != nil &&
		s.resizer.SrcWidth() == width && s.resizer.SrcHeight() == height {
		return s.resizer
	}

	if s.resizer != nil {
		s.resizer.Close()
	}

	s.resizer = preprocess.NewResizer(width, height,
		s.params.InputWidth, s.params.InputHeight)

	return s.resizer
}

// decode runs one pooled decoder net against the embedding
func (s *EmbedSegmenter) decode(emb *Embedding, resizer *preprocess.Resizer,
	pt cinefocus.Point) (*cinefocus.Mask, error) {

	net := s.decoders.Get()
	defer s.decoders.Return(net)

	// restore the embedding tensor to float32
	embData := emb.Unpack()

	embMat, err := gocv.NewMatWithSizesFromBytes(
		[]int{1, emb.Channels, emb.Height, emb.Width},
		gocv.MatTypeCV32F, floatsToBytes(embData))

	if err != nil {
		return nil, fmt.Errorf("building embedding tensor: %w", err)
	}

	defer embMat.Close()

	net.SetInput(embMat, s.params.EmbeddingInput)

	px, py := resizer.DenormalizePoint(pt)

	ptMat := gocv.NewMatWithSize(1, 2, gocv.MatTypeCV32F)
	defer ptMat.Close()

	ptMat.SetFloatAt(0, 0, float32(px))
	ptMat.SetFloatAt(0, 1, float32(py))

	net.SetInput(ptMat, s.params.PointInput)

	out := net.Forward(s.params.MaskOutput)
	defer out.Close()

	return maskFromOutput(out, resizer)
}

// embeddingFromOutput packs an encoder output tensor into a cached
// embedding
func embeddingFromOutput(frameID uuid.UUID, out gocv.Mat) (*Embedding, error) {

	if out.Empty() {
		return nil, cinefocus.ErrEmptyMask
	}

	data, err := out.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("reading embedding output: %w", err)
	}

	sizes := out.Size()

	// NCHW encoder output
	channels, height, width := 1, 1, len(data)

	if len(sizes) == 4 {
		channels = sizes[1]
		height = sizes[2]
		width = sizes[3]
	}

	if channels*height*width > len(data) {
		return nil, cinefocus.ErrEmptyMask
	}

	return NewEmbedding(frameID, data[:channels*height*width],
		channels, height, width), nil
}

// floatsToBytes reinterprets a float32 slice as raw bytes for Mat
// construction
func floatsToBytes(data []float32) []byte {

	if len(data) == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
}
