package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cinefocus/go-cinefocus"
	"github.com/cinefocus/go-cinefocus/tracker"
	clipper "github.com/ctessum/go.clipper"
	"gocv.io/x/gocv"
)

// crosshairSize is the arm length in pixels of the tracked point marker
const crosshairSize = 10

// haloPadFactor scales the line thickness into the halo ring offset
const haloPadFactor = 4

// DebugOverlay draws the diagnostic view on the frame, subject outlines
// with an offset halo ring, tracked point crosshairs and per target state
// labels.  Used by the example harnesses in place of the composite
func DebugOverlay(img *gocv.Mat, state cinefocus.MaskState,
	targets []tracker.TargetInfo, minArea float64, font Font,
	lineThickness int) error {

	masks := overlayMasks(state)

	for i, m := range masks {
		clr := subjectColors[i%len(subjectColors)]

		if err := outlineMask(img, m, minArea, clr, lineThickness); err != nil {
			return err
		}
	}

	for _, tg := range targets {
		drawTarget(img, tg, font, lineThickness)
	}

	return nil
}

// overlayMasks collects the masks present in the state for outlining
func overlayMasks(state cinefocus.MaskState) []*cinefocus.Mask {

	var masks []*cinefocus.Mask

	if state.Mask != nil {
		masks = append(masks, state.Mask)
	}

	if state.MaskA != nil {
		masks = append(masks, state.MaskA)
	}

	if state.MaskB != nil {
		masks = append(masks, state.MaskB)
	}

	return masks
}

// outlineMask traces the mask contours and draws each as a polygon
// outline with an offset halo ring around it
func outlineMask(img *gocv.Mat, m *cinefocus.Mask, minArea float64,
	clr color.RGBA, lineThickness int) error {

	// binarize the confidence mask for contour extraction
	bin := make([]uint8, m.Width*m.Height)

	for i, v := range m.Data {
		if v > 0.5 {
			bin[i] = 255
		}
	}

	maskMat, err := gocv.NewMatFromBytes(m.Height, m.Width,
		gocv.MatTypeCV8U, bin)

	if err != nil {
		return fmt.Errorf("error creating mask Mat: %w", err)
	}

	defer maskMat.Close()

	contours := gocv.FindContours(maskMat, gocv.RetrievalExternal,
		gocv.ChainApproxSimple)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)

		// filter out small contours picked up from aliasing/noise in binary mask
		if gocv.ContourArea(contour) < minArea {
			continue
		}

		approx := gocv.ApproxPolyDP(contour, 3, true)

		ptsVec := gocv.NewPointsVector()
		ptsVec.Append(approx)

		gocv.Polylines(img, ptsVec, true, clr, lineThickness)

		// halo ring offset outward from the outline
		halo := offsetPolygon(approx, float64(lineThickness*haloPadFactor))

		if halo != nil {
			haloVec := gocv.NewPointsVector()

			for _, pts := range halo {
				pv := gocv.NewPointVectorFromPoints(pts)
				haloVec.Append(pv)
				pv.Close()
			}

			gocv.Polylines(img, haloVec, true, clr, 1)
			haloVec.Close()
		}

		approx.Close()
		ptsVec.Close()
	}

	return nil
}

// offsetPolygon grows the polygon outward by the given distance in pixels
func offsetPolygon(approx gocv.PointVector, distance float64) [][]image.Point {

	if approx.Size() < 3 {
		return nil
	}

	var path clipper.Path

	for i := 0; i < approx.Size(); i++ {
		pt := approx.At(i)
		path = append(path, &clipper.IntPoint{
			X: clipper.CInt(pt.X),
			Y: clipper.CInt(pt.Y),
		})
	}

	co := clipper.NewClipperOffset()
	co.AddPath(path, clipper.JtRound, clipper.EtClosedPolygon)

	solution := co.Execute(distance)

	if len(solution) == 0 {
		return nil
	}

	polys := make([][]image.Point, 0, len(solution))

	for _, sol := range solution {
		pts := make([]image.Point, 0, len(sol))

		for _, pt := range sol {
			pts = append(pts, image.Point{X: int(pt.X), Y: int(pt.Y)})
		}

		polys = append(polys, pts)
	}

	return polys
}

// drawTarget marks the tracked point with a crosshair and writes the
// target state label beside it
func drawTarget(img *gocv.Mat, tg tracker.TargetInfo, font Font,
	lineThickness int) {

	px := int(tg.ROI.X * float32(img.Cols()))
	py := int(tg.ROI.Y * float32(img.Rows()))

	clr := subjectColors[int(tg.ID)%len(subjectColors)]

	gocv.Line(img, image.Pt(px-crosshairSize, py),
		image.Pt(px+crosshairSize, py), clr, lineThickness)
	gocv.Line(img, image.Pt(px, py-crosshairSize),
		image.Pt(px, py+crosshairSize), clr, lineThickness)

	text := fmt.Sprintf("#%d %s", tg.ID, tg.Phase)

	if tg.Stale {
		text += " stale"
	}

	textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)

	labelPosition := image.Pt(px+crosshairSize+font.LeftPad, py+textSize.Y/2)

	bRect := image.Rect(labelPosition.X-font.LeftPad,
		py-textSize.Y/2-font.TopPad,
		labelPosition.X+textSize.X+font.RightPad,
		py+textSize.Y/2+font.BottomPad)

	gocv.Rectangle(img, bRect, clr, -1)

	gocv.PutTextWithParams(img, text, labelPosition,
		font.Face, font.Scale, font.Color, font.Thickness,
		font.LineType, false)
}
