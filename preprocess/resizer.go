package preprocess

import (
	"github.com/cinefocus/go-cinefocus"
	"gocv.io/x/gocv"
	"image"
	"image/color"
)

// Resizer defines the struct used for handling letterbox scaling between two
// image spaces.  It is used in two places: scaling a video frame down to the
// input tensor size of a segmentation net, and mapping clicks made on a
// letterboxed display canvas back into normalized video coordinates
type Resizer struct {
	// srcWidth is the width of the source image
	srcWidth int
	// srcHeight is the height of the source image
	srcHeight int
	// destWidth is the width to scale to
	destWidth int
	// destHeight is the height to scale to
	destHeight int
	// tempMat is a Mat used during the resize process
	tempMat gocv.Mat
	// letterbox parameters used in scaling
	xPad  int
	yPad  int
	scale float32
	// resize dimensions
	resizeW int
	resizeH int
}

// NewResizer returns a resizer used for scaling an image between the source
// and destination dimensions whilst maintaining aspect ratio
func NewResizer(srcWidth, srcHeight, destWidth, destHeight int) *Resizer {
	r := &Resizer{
		srcWidth:   srcWidth,
		srcHeight:  srcHeight,
		destWidth:  destWidth,
		destHeight: destHeight,
		tempMat:    gocv.NewMat(),
	}

	// precalculate scaling dimensions
	r.preCalc()

	return r
}

// Close frees memory allocated during resize process
func (r *Resizer) Close() error {
	return r.tempMat.Close()
}

// preCalc the scaling factors for source and destination Mats
func (r *Resizer) preCalc() {

	r.resizeW = r.destWidth
	r.resizeH = r.destHeight

	scaleW := float32(r.destWidth) / float32(r.srcWidth)
	scaleH := float32(r.destHeight) / float32(r.srcHeight)
	r.scale = scaleH

	if scaleW < scaleH {
		r.scale = scaleW
		r.resizeH = int(float32(r.srcHeight) * r.scale)
	} else {
		r.resizeW = int(float32(r.srcWidth) * r.scale)
	}

	r.yPad = (r.destHeight - r.resizeH) / 2 // padding height / 2
	r.xPad = (r.destWidth - r.resizeW) / 2  // padding width / 2
}

// LetterBoxResize resizes the input image to the destination dimensions
// whilst maintaining image aspect.  Color is that used for letter
// box padding
func (r *Resizer) LetterBoxResize(src gocv.Mat, dest *gocv.Mat, color color.RGBA) {

	gocv.Resize(src, &r.tempMat, image.Pt(r.resizeW, r.resizeH),
		0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(r.tempMat, dest, r.yPad, r.destHeight-r.resizeH-r.yPad,
		r.xPad, r.destWidth-r.resizeW-r.xPad, gocv.BorderConstant, color)
}

// NormalizePoint maps a pixel coordinate in the letterboxed destination
// space, such as a click on the display canvas, to a normalized point in
// the source video frame.  The second return value is false when the
// coordinate falls inside the letterbox padding bars and no video pixel
// corresponds to it
func (r *Resizer) NormalizePoint(x, y int) (cinefocus.Point, bool) {

	px := float32(x-r.xPad) / r.scale
	py := float32(y-r.yPad) / r.scale

	if px < 0 || py < 0 || px >= float32(r.srcWidth) || py >= float32(r.srcHeight) {
		return cinefocus.Point{}, false
	}

	return cinefocus.Pt(px/float32(r.srcWidth), py/float32(r.srcHeight)), true
}

// DenormalizePoint maps a normalized source frame point into pixel
// coordinates of the letterboxed destination space, used for prompting a
// segmentation net with the point in input tensor coordinates
func (r *Resizer) DenormalizePoint(pt cinefocus.Point) (int, int) {

	x := pt.X*float32(r.srcWidth)*r.scale + float32(r.xPad)
	y := pt.Y*float32(r.srcHeight)*r.scale + float32(r.yPad)

	return int(x), int(y)
}

// UnletterboxMask takes a confidence mask produced at the destination
// (input tensor) resolution, strips the letterbox padding and resamples it
// back up to the source frame resolution using bilinear interpolation.
// The data slice must hold destWidth*destHeight values in row-major order
func (r *Resizer) UnletterboxMask(data []float32) *cinefocus.Mask {

	if len(data) != r.destWidth*r.destHeight {
		return nil
	}

	out := cinefocus.NewMask(r.srcWidth, r.srcHeight)

	// for each source pixel sample the corresponding location inside the
	// active (non padded) region of the destination mask
	for y := 0; y < r.srcHeight; y++ {

		fy := float32(y)*r.scale + float32(r.yPad)
		y0 := int(fy)
		ty := fy - float32(y0)
		y1 := y0 + 1

		if y1 >= r.destHeight {
			y1 = r.destHeight - 1
		}

		for x := 0; x < r.srcWidth; x++ {

			fx := float32(x)*r.scale + float32(r.xPad)
			x0 := int(fx)
			tx := fx - float32(x0)
			x1 := x0 + 1

			if x1 >= r.destWidth {
				x1 = r.destWidth - 1
			}

			v00 := data[y0*r.destWidth+x0]
			v01 := data[y0*r.destWidth+x1]
			v10 := data[y1*r.destWidth+x0]
			v11 := data[y1*r.destWidth+x1]

			top := v00 + (v01-v00)*tx
			bot := v10 + (v11-v10)*tx

			out.Data[y*r.srcWidth+x] = top + (bot-top)*ty
		}
	}

	return out
}

// ScaleFactor returns the scale factor used in letterbox resize
func (r *Resizer) ScaleFactor() float32 {
	return r.scale
}

// XPad returns the x padding used in letterbox resize
func (r *Resizer) XPad() int {
	return r.xPad
}

// YPad returns the y padding used in letterbox resize
func (r *Resizer) YPad() int {
	return r.yPad
}

// SrcWidth returns the width of the source image
func (r *Resizer) SrcWidth() int {
	return r.srcWidth
}

// SrcHeight returns the height of the source image
func (r *Resizer) SrcHeight() int {
	return r.srcHeight
}

// DestWidth returns the width of the destination image
func (r *Resizer) DestWidth() int {
	return r.destWidth
}

// DestHeight returns the height of the destination image
func (r *Resizer) DestHeight() int {
	return r.destHeight
}
