package segment

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/cinefocus/go-cinefocus"
	"github.com/cinefocus/go-cinefocus/preprocess"
	"gocv.io/x/gocv"
)

// ErrModelLoad is returned when a DNN model file fails to load
var ErrModelLoad = errors.New("failed to load model")

// letterbox padding color for net input
var padBlack = color.RGBA{R: 0, G: 0, B: 0, A: 255}

// StreamParams defines the configuration for the streaming segmenter
type StreamParams struct {
	// InputWidth and InputHeight are the model input tensor dimensions
	InputWidth  int
	InputHeight int
	// ImageInput is the name of the image input layer
	ImageInput string
	// PointInput is the name of the prompt point input layer
	PointInput string
	// MaskOutput is the name of the mask output layer
	MaskOutput string
}

// StreamDefaultParams returns an instance of StreamParams configured with
// default values for a 512x512 input model with conventional layer names
func StreamDefaultParams() StreamParams {
	return StreamParams{
		InputWidth:  512,
		InputHeight: 512,
		ImageInput:  "image",
		PointInput:  "point",
		MaskOutput:  "mask",
	}
}

// StreamSegmenter is a point-prompted segmentation backend running a
// single net per request.  It is optimized for sequential point tracking,
// every RequestMask call runs full inference on the given frame
type StreamSegmenter struct {
	// mu serializes net access, a gocv Net is not safe for concurrent
	// forward passes
	mu     sync.Mutex
	net    gocv.Net
	params StreamParams
	// resizer maps between frame and input tensor space, rebuilt when the
	// source dimensions change
	resizer *preprocess.Resizer
	ready   bool
}

// NewStreamSegmenter loads the streaming segmentation model
func NewStreamSegmenter(modelFile string, p StreamParams) (*StreamSegmenter, error) {

	net := gocv.ReadNet(modelFile, "")

	if net.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrModelLoad, modelFile)
	}

	return &StreamSegmenter{
		net:    net,
		params: p,
		ready:  true,
	}, nil
}

// Ready reports whether the model is loaded
func (s *StreamSegmenter) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Close releases the net
func (s *StreamSegmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready = false

	if s.resizer != nil {
		s.resizer.Close()
		s.resizer = nil
	}

	return s.net.Close()
}

// resizerFor returns a resizer for the given source frame dimensions,
// caller must hold the lock
func (s *StreamSegmenter) resizerFor(width, height int) *preprocess.Resizer {

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

// RequestMask runs point-prompted segmentation on the frame and returns a
// confidence mask at frame resolution
func (s *StreamSegmenter) RequestMask(frame cinefocus.Frame,
	pt cinefocus.Point) (*cinefocus.Mask, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, cinefocus.ErrNotReady
	}

	if frame.Empty() {
		return nil, cinefocus.ErrEmptyMask
	}

	resizer := s.resizerFor(frame.Width(), frame.Height())

	// letterbox the frame down to input tensor size
	input := gocv.NewMat()
	defer input.Close()

	resizer.LetterBoxResize(frame.Mat, &input, padBlack)

	blob := gocv.BlobFromImage(input, 1.0/255.0,
		image.Pt(s.params.InputWidth, s.params.InputHeight),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, s.params.ImageInput)

	// prompt point in input tensor coordinates
	px, py := resizer.DenormalizePoint(pt)

	ptMat := gocv.NewMatWithSize(1, 2, gocv.MatTypeCV32F)
	defer ptMat.Close()

	ptMat.SetFloatAt(0, 0, float32(px))
	ptMat.SetFloatAt(0, 1, float32(py))

	s.net.SetInput(ptMat, s.params.PointInput)

	out := s.net.Forward(s.params.MaskOutput)
	defer out.Close()

	return maskFromOutput(out, resizer)
}

// maskFromOutput converts a net mask output into a frame resolution mask
func maskFromOutput(out gocv.Mat, resizer *preprocess.Resizer) (*cinefocus.Mask, error) {

	if out.Empty() {
		return nil, cinefocus.ErrEmptyMask
	}

	data, err := out.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("reading mask output: %w", err)
	}

	size := resizer.DestWidth() * resizer.DestHeight()

	if len(data) < size {
		return nil, cinefocus.ErrEmptyMask
	}

	// copy out of the Mat backing store before it is closed
	vals := make([]float32, size)
	copy(vals, data[:size])

	squashConfidences(vals)

	mask := resizer.UnletterboxMask(vals)

	if !mask.Valid() {
		return nil, cinefocus.ErrEmptyMask
	}

	return mask, nil
}

// squashConfidences maps raw output values into 0..1 in place.  The
// probability or logit decision is made once for the whole tensor, a
// per-value decision would break monotonic ordering around 1.0.  When every
// value already sits in 0..1 the model exported probabilities and the
// tensor passes through unchanged, otherwise every value is pushed through
// a sigmoid
func squashConfidences(vals []float32) {

	probabilities := true

	for _, v := range vals {
		if v < 0 || v > 1 {
			probabilities = false
			break
		}
	}

	if probabilities {
		return
	}

	for i, v := range vals {
		vals[i] = sigmoid(v)
	}
}

func sigmoid(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}
