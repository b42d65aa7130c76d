package cinefocus

import (
	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"time"
)

// Point is a normalized 2D coordinate with x and y in the range [0,1],
// measured against the video frame, not the display canvas
type Point struct {
	X float32
	Y float32
}

// Pt is shorthand for creating a Point
func Pt(x, y float32) Point {
	return Point{X: x, Y: y}
}

// InBounds reports whether the point lies inside the normalized frame
func (p Point) InBounds() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// Frame is a single video frame passed through the pipeline.  The Mat is
// owned by the caller and must outlive any in-flight provider request made
// against this frame
type Frame struct {
	// Mat holds the frame pixel data in BGR format
	Mat gocv.Mat
	// ID uniquely identifies this frame, used to key cached embeddings
	ID uuid.UUID
	// Seq is the display sequence number of the frame
	Seq int64
	// Timestamp is the time the frame was captured
	Timestamp time.Time
}

// NewFrame wraps a Mat in a Frame with a fresh identity
func NewFrame(mat gocv.Mat, seq int64) Frame {
	return Frame{
		Mat:       mat,
		ID:        uuid.New(),
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// Width returns the frame width in pixels
func (f Frame) Width() int {
	return f.Mat.Cols()
}

// Height returns the frame height in pixels
func (f Frame) Height() int {
	return f.Mat.Rows()
}

// Empty reports whether the frame carries no pixel data
func (f Frame) Empty() bool {
	return f.Mat.Empty()
}
