package postprocess

import (
	"testing"

	"github.com/cinefocus/go-cinefocus"
)

func TestCompositeWeightedMax(t *testing.T) {

	c := NewCompositor(nil, DefaultFallbackWeight)

	// subject at rank 0 has value 0.4, subject at rank 1 has value 0.9.
	// composite keeps max(0.4 x 1.0, 0.9 x 0.7) = 0.63
	m0 := cinefocus.NewMask(4, 4)
	m1 := cinefocus.NewMask(4, 4)

	for i := range m0.Data {
		m0.Data[i] = 0.4
		m1.Data[i] = 0.9
	}

	out := c.Composite(4, 4, []SubjectMask{
		{Mask: m0, Priority: 0},
		{Mask: m1, Priority: 1},
	})

	if out == nil {
		t.Fatal("expected composite mask")
	}

	for i, v := range out.Data {
		if !almostEqual(v, 0.63, 1e-5) {
			t.Fatalf("pixel %d: expected 0.63, got %f", i, v)
		}
	}
}

func TestCompositeSkipsMismatchedMasks(t *testing.T) {

	c := NewCompositor(nil, DefaultFallbackWeight)

	// a mask from a cycle with different frame dimensions contributes
	// nothing rather than corrupting the composite
	stale := cinefocus.NewMask(8, 8)
	for i := range stale.Data {
		stale.Data[i] = 1.0
	}

	good := cinefocus.NewMask(4, 4)
	for i := range good.Data {
		good.Data[i] = 0.5
	}

	out := c.Composite(4, 4, []SubjectMask{
		{Mask: stale, Priority: 0},
		{Mask: good, Priority: 1},
		{Mask: nil, Priority: 2},
	})

	if out == nil {
		t.Fatal("expected composite mask")
	}

	for i, v := range out.Data {
		if !almostEqual(v, 0.5*0.7, 1e-5) {
			t.Fatalf("pixel %d: expected %f, got %f", i, 0.5*0.7, v)
		}
	}
}

func TestCompositeNoContributors(t *testing.T) {

	c := NewCompositor(nil, DefaultFallbackWeight)

	out := c.Composite(4, 4, []SubjectMask{
		{Mask: nil, Priority: 0},
	})

	if out != nil {
		t.Error("expected nil composite when no subject has a usable mask")
	}
}

func TestCompositeFallbackWeight(t *testing.T) {

	c := NewCompositor(nil, DefaultFallbackWeight)

	// ranks beyond the weight table use the flat fallback weight
	if w := c.Weight(len(DefaultPriorityWeights)); w != DefaultFallbackWeight {
		t.Errorf("expected fallback weight %f, got %f", DefaultFallbackWeight, w)
	}

	if w := c.Weight(0); w != 1.0 {
		t.Errorf("expected rank 0 weight 1.0, got %f", w)
	}
}

func TestCompositeBufferReuse(t *testing.T) {

	c := NewCompositor(nil, DefaultFallbackWeight)

	m := cinefocus.NewMask(4, 4)
	for i := range m.Data {
		m.Data[i] = 1.0
	}

	first := c.Composite(4, 4, []SubjectMask{{Mask: m, Priority: 0}})

	// second cycle with an empty subject set must not leak values from
	// the previous composite into the reused buffer
	empty := cinefocus.NewMask(4, 4)

	second := c.Composite(4, 4, []SubjectMask{{Mask: empty, Priority: 0}})

	if second == nil {
		t.Fatal("expected composite mask")
	}

	for i, v := range second.Data {
		if v != 0 {
			t.Fatalf("pixel %d: reused buffer not zero filled, got %f", i, v)
		}
	}

	_ = first
}

func TestCompositeResultOwnsItsData(t *testing.T) {

	c := NewCompositor(nil, DefaultFallbackWeight)

	m := cinefocus.NewMask(4, 4)
	for i := range m.Data {
		m.Data[i] = 1.0
	}

	first := c.Composite(4, 4, []SubjectMask{{Mask: m, Priority: 0}})

	if first == nil {
		t.Fatal("expected composite mask")
	}

	// the renderer may still be reading a composite when the next frame is
	// composed, so a later cycle must not rewrite an earlier result
	other := cinefocus.NewMask(4, 4)
	for i := range other.Data {
		other.Data[i] = 0.25
	}

	second := c.Composite(4, 4, []SubjectMask{{Mask: other, Priority: 0}})

	if second == nil {
		t.Fatal("expected composite mask")
	}

	for i, v := range first.Data {
		if !almostEqual(v, 1.0, 1e-6) {
			t.Fatalf("pixel %d: earlier composite mutated by later cycle, got %f", i, v)
		}
	}

	if &first.Data[0] == &second.Data[0] {
		t.Fatal("consecutive composites share backing storage")
	}
}
