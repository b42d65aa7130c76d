package tracker

import (
	"testing"

	"github.com/cinefocus/go-cinefocus"
)

func TestPointPredictorInitiate(t *testing.T) {

	p := NewPointPredictor()

	if p.Initialized() {
		t.Fatal("expected fresh predictor to be uninitialized")
	}

	p.Update(cinefocus.Pt(0.4, 0.6))

	if !p.Initialized() {
		t.Fatal("expected predictor initialized after first measurement")
	}

	pos := p.Position()

	if !almostEqual(pos.X, 0.4, 1e-6) || !almostEqual(pos.Y, 0.6, 1e-6) {
		t.Errorf("expected position (0.4, 0.6), got (%f, %f)", pos.X, pos.Y)
	}
}

func TestPointPredictorExtrapolatesMotion(t *testing.T) {

	p := NewPointPredictor()

	// feed a subject moving steadily in +x at 0.02 per cycle
	x := float32(0.1)
	for i := 0; i < 12; i++ {
		p.Predict()
		p.Update(cinefocus.Pt(x, 0.5))
		x += 0.02
	}

	lastMeasured := x - 0.02

	pos := p.Position()

	if !almostEqual(pos.X, lastMeasured, 0.05) {
		t.Fatalf("expected converged position near %f, got %f", lastMeasured, pos.X)
	}

	// with no further measurements the filter keeps extrapolating along
	// the learned velocity
	before := p.Position().X

	for i := 0; i < 5; i++ {
		p.Predict()
	}

	after := p.Position().X

	if after <= before {
		t.Errorf("expected extrapolation to continue in +x, %f -> %f", before, after)
	}

	if !almostEqual(p.Position().Y, 0.5, 0.02) {
		t.Errorf("expected y stable near 0.5, got %f", p.Position().Y)
	}
}

func TestPointPredictorReset(t *testing.T) {

	p := NewPointPredictor()

	p.Update(cinefocus.Pt(0.2, 0.2))
	p.Reset()

	if p.Initialized() {
		t.Fatal("expected reset to clear initialization")
	}

	// the next measurement initiates fresh with zero velocity
	p.Update(cinefocus.Pt(0.8, 0.8))

	pos := p.Position()

	if !almostEqual(pos.X, 0.8, 1e-6) || !almostEqual(pos.Y, 0.8, 1e-6) {
		t.Errorf("expected position (0.8, 0.8), got (%f, %f)", pos.X, pos.Y)
	}
}
