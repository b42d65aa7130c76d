package postprocess

import (
	"testing"

	"github.com/cinefocus/go-cinefocus"
)

func TestRefineIsolatesClickedComponent(t *testing.T) {

	// two well separated confident blobs, the seed sits in the left one
	m := cinefocus.NewMask(100, 50)
	fillRect(m, 5, 5, 35, 45, 0.9)  // left blob
	fillRect(m, 65, 5, 95, 45, 0.9) // right blob

	r := NewRefiner(100, 50, RefinerDefaultParams())

	out := r.Refine(m, cinefocus.Pt(0.2, 0.5))

	// center of the left blob keeps its original confidence
	if got := out.At(20, 25); got != 0.9 {
		t.Errorf("expected left blob center to keep confidence 0.9, got %f", got)
	}

	// the right blob was not connected to the seed and is removed
	if got := out.At(80, 25); got != 0 {
		t.Errorf("expected right blob to be isolated away, got %f", got)
	}
}

func TestRefineSeedSearchOnBackground(t *testing.T) {

	// seed lands just outside the blob, within the search radius, so the
	// nearest confident pixel seeds the fill instead
	m := cinefocus.NewMask(100, 50)
	fillRect(m, 30, 10, 70, 40, 0.8)

	r := NewRefiner(100, 50, RefinerDefaultParams())

	// x=0.2 is pixel 20, ten pixels left of the blob edge
	out := r.Refine(m, cinefocus.Pt(0.2, 0.5))

	if got := out.At(50, 25); got != 0.8 {
		t.Errorf("expected blob kept via seed search, got %f", got)
	}
}

func TestRefineSizeMismatchPassthrough(t *testing.T) {

	m := cinefocus.NewMask(10, 10)

	r := NewRefiner(100, 50, RefinerDefaultParams())

	out := r.Refine(m, cinefocus.Pt(0.5, 0.5))

	if out != m {
		t.Error("expected size mismatched mask to pass through untouched")
	}
}

func TestRefineTemporalSmoothing(t *testing.T) {

	params := RefinerDefaultParams()
	params.MaxHistory = 2

	r := NewRefiner(100, 50, params)

	// a blob confident at 0.4 is below threshold on its own
	faint := cinefocus.NewMask(100, 50)
	fillRect(faint, 30, 10, 70, 40, 0.4)

	out := r.Refine(faint, cinefocus.Pt(0.5, 0.5))

	if got := out.At(50, 25); got != 0 {
		t.Errorf("expected faint blob suppressed, got %f", got)
	}

	// a strong frame averaged with the faint history crosses the
	// threshold: (0.4 + 0.9) / 2 = 0.65
	strong := cinefocus.NewMask(100, 50)
	fillRect(strong, 30, 10, 70, 40, 0.9)

	out = r.Refine(strong, cinefocus.Pt(0.5, 0.5))

	if got := out.At(50, 25); got != 0.9 {
		t.Errorf("expected blob kept with original confidence 0.9, got %f", got)
	}
}

func TestRefineResetDropsHistory(t *testing.T) {

	params := RefinerDefaultParams()
	params.MaxHistory = 3

	r := NewRefiner(100, 50, params)

	strong := cinefocus.NewMask(100, 50)
	fillRect(strong, 30, 10, 70, 40, 1.0)

	r.Refine(strong, cinefocus.Pt(0.5, 0.5))
	r.Refine(strong, cinefocus.Pt(0.5, 0.5))
	r.Reset()

	// after a reset a faint frame has no strong history to average with
	faint := cinefocus.NewMask(100, 50)
	fillRect(faint, 30, 10, 70, 40, 0.4)

	out := r.Refine(faint, cinefocus.Pt(0.5, 0.5))

	if got := out.At(50, 25); got != 0 {
		t.Errorf("expected no carryover after reset, got %f", got)
	}
}
