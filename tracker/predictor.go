package tracker

import (
	"github.com/cinefocus/go-cinefocus"
	"gonum.org/v1/gonum/mat"
)

// PointPredictor is a constant-velocity Kalman filter over a normalized 2D
// point.  State is [x, y, vx, vy] with one segmentation cycle as the time
// step.  It is fed accepted mask centroids and extrapolates the subject's
// motion during cycles where no fresh mask arrives
type PointPredictor struct {
	stdWeightPosition float64
	stdWeightVelocity float64
	// mean is the 4x1 state vector
	mean *mat.VecDense
	// covariance is the 4x4 state covariance
	covariance *mat.Dense
	// motionMat is the constant-velocity transition matrix
	motionMat *mat.Dense
	// updateMat projects state onto the measured position
	updateMat *mat.Dense
	// initialized is set after the first measurement
	initialized bool
}

// NewPointPredictor initializes and returns a new PointPredictor
func NewPointPredictor() *PointPredictor {

	ndim := 2
	dt := 1.0

	// identity transition with dt coupling position to velocity
	motionMat := mat.NewDense(4, 4, nil)

	for i := 0; i < 4; i++ {
		motionMat.Set(i, i, 1.0)
	}

	for i := 0; i < ndim; i++ {
		motionMat.Set(i, ndim+i, dt)
	}

	// measurement matrix observes position only
	updateMat := mat.NewDense(2, 4, nil)

	for i := 0; i < 2; i++ {
		updateMat.Set(i, i, 1.0)
	}

	return &PointPredictor{
		stdWeightPosition: 1.0 / 20,
		stdWeightVelocity: 1.0 / 160,
		mean:              mat.NewVecDense(4, nil),
		covariance:        mat.NewDense(4, 4, nil),
		motionMat:         motionMat,
		updateMat:         updateMat,
	}
}

// Reset clears the filter state so the next measurement initiates fresh
func (p *PointPredictor) Reset() {
	p.initialized = false
}

// Initialized reports whether the filter has received a measurement
func (p *PointPredictor) Initialized() bool {
	return p.initialized
}

// initiate seeds the state from the first measurement with zero velocity
func (p *PointPredictor) initiate(pt cinefocus.Point) {

	p.mean.SetVec(0, float64(pt.X))
	p.mean.SetVec(1, float64(pt.Y))
	p.mean.SetVec(2, 0)
	p.mean.SetVec(3, 0)

	p.covariance.Zero()

	stdPos := 2 * p.stdWeightPosition
	stdVel := 10 * p.stdWeightVelocity

	p.covariance.Set(0, 0, stdPos*stdPos)
	p.covariance.Set(1, 1, stdPos*stdPos)
	p.covariance.Set(2, 2, stdVel*stdVel)
	p.covariance.Set(3, 3, stdVel*stdVel)

	p.initialized = true
}

// Predict advances the state one cycle under the constant-velocity model
func (p *PointPredictor) Predict() {

	if !p.initialized {
		return
	}

	// mean = F * mean
	next := mat.NewVecDense(4, nil)
	next.MulVec(p.motionMat, p.mean)
	p.mean.CopyVec(next)

	// covariance = F * covariance * F^T + Q
	var fp, fpf mat.Dense
	fp.Mul(p.motionMat, p.covariance)
	fpf.Mul(&fp, p.motionMat.T())
	p.covariance.Copy(&fpf)

	stdPos := p.stdWeightPosition
	stdVel := p.stdWeightVelocity

	p.covariance.Set(0, 0, p.covariance.At(0, 0)+stdPos*stdPos)
	p.covariance.Set(1, 1, p.covariance.At(1, 1)+stdPos*stdPos)
	p.covariance.Set(2, 2, p.covariance.At(2, 2)+stdVel*stdVel)
	p.covariance.Set(3, 3, p.covariance.At(3, 3)+stdVel*stdVel)
}

// Update corrects the state with a measured centroid.  The first call
// initiates the filter instead
func (p *PointPredictor) Update(pt cinefocus.Point) {

	if !p.initialized {
		p.initiate(pt)
		return
	}

	// innovation covariance S = H * P * H^T + R
	var hp, s mat.Dense
	hp.Mul(p.updateMat, p.covariance)
	s.Mul(&hp, p.updateMat.T())

	stdMeas := p.stdWeightPosition

	s.Set(0, 0, s.At(0, 0)+stdMeas*stdMeas)
	s.Set(1, 1, s.At(1, 1)+stdMeas*stdMeas)

	// Kalman gain K = P * H^T * S^-1
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		// degenerate covariance, skip the correction this cycle
		return
	}

	var pht, gain mat.Dense
	pht.Mul(p.covariance, p.updateMat.T())
	gain.Mul(&pht, &sInv)

	// innovation y = z - H * mean
	innov := mat.NewVecDense(2, []float64{
		float64(pt.X) - p.mean.AtVec(0),
		float64(pt.Y) - p.mean.AtVec(1),
	})

	// mean = mean + K * y
	var corr mat.VecDense
	corr.MulVec(&gain, innov)

	p.mean.AddVec(p.mean, &corr)

	// covariance = (I - K * H) * covariance
	var kh mat.Dense
	kh.Mul(&gain, p.updateMat)

	ident := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		ident.Set(i, i, 1.0)
	}

	var ikh, newCov mat.Dense
	ikh.Sub(ident, &kh)
	newCov.Mul(&ikh, p.covariance)
	p.covariance.Copy(&newCov)
}

// Position returns the current estimated point
func (p *PointPredictor) Position() cinefocus.Point {
	return cinefocus.Pt(float32(p.mean.AtVec(0)), float32(p.mean.AtVec(1)))
}
