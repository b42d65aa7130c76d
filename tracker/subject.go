package tracker

import (
	"sync"

	"github.com/cinefocus/go-cinefocus"
	"github.com/cinefocus/go-cinefocus/postprocess"
)

// IDGenerator is a struct to hold a counter for generating the next
// incremental target ID number
type IDGenerator struct {
	id int64
	sync.Mutex
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// GetNext next incremental number
func (id *IDGenerator) GetNext() int64 {
	id.Lock()
	defer id.Unlock()
	id.id++
	return id.id
}

// Phase is the per-target tracking phase
type Phase int

const (
	// PhaseIdle means no request has been issued for the target yet
	PhaseIdle Phase = iota
	// PhaseSegmenting means a first mask has been requested but not yet
	// accepted
	PhaseSegmenting
	// PhaseTracking means the target has an accepted mask and is in steady
	// tracking
	PhaseTracking
	// PhaseFailed means tracking hard-failed and a fresh explicit target
	// is required
	PhaseFailed
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSegmenting:
		return "segmenting"
	case PhaseTracking:
		return "tracking"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// target holds the tracking state of a single prompted point.  All three
// focus modes are built from targets: Single owns one, Multi owns the A/B
// pair and each priority Subject embeds one
type target struct {
	// id uniquely identifies the target so asynchronous results can be
	// matched back, and dangling results for removed targets dropped
	id int64
	// roi is the current tracked point used to prompt the provider,
	// replaced rather than mutated each damping step
	roi cinefocus.Point
	// previousRoi is the prior tracked point retained for damping
	previousRoi cinefocus.Point
	// initialRoi is the original click point, drift recovery reverts here
	initialRoi cinefocus.Point
	// lastCentroid is the most recent accepted mask centroid, the tracked
	// point lerps toward it every frame
	lastCentroid cinefocus.Point
	// hasAccepted is set after the first accepted mask result.  The first
	// acceptance snaps the tracked point straight to the centroid since
	// there is no damping history yet
	hasAccepted bool
	// mask is the most recent accepted mask, nil until segmentation
	// succeeds
	mask *cinefocus.Mask
	// lastArea is the sampled pixel count of the previous valid mask, used
	// to detect drastic size changes
	lastArea int
	// phase is the target's tracking phase
	phase Phase
	// inflight is the single-flight busy flag, at most one provider
	// request per target is outstanding
	inflight bool
	// seq is the sequence number of the most recently issued request,
	// completions carrying an older seq are dropped
	seq uint64
	// requestNow forces a segmentation request on the next frame
	// regardless of the throttle interval
	requestNow bool
	// framesSinceAccept counts frames since the last accepted mask, used
	// to surface stale tracking
	framesSinceAccept int
	// staleSignalled ensures the stale event fires once per episode
	staleSignalled bool
	// refiner cleans provider masks before centroid estimation, carries
	// per-target temporal history
	refiner *postprocess.Refiner
	// predictor extrapolates the centroid during stale cycles
	predictor *PointPredictor
}

// newTarget installs a fresh target at the clicked point
func newTarget(id int64, click cinefocus.Point) *target {
	return &target{
		id:           id,
		roi:          click,
		previousRoi:  click,
		initialRoi:   click,
		lastCentroid: click,
		phase:        PhaseIdle,
		requestNow:   true,
		predictor:    NewPointPredictor(),
	}
}

// stale reports whether the target has gone more than threshold frames
// without a freshly accepted mask whilst in steady tracking
func (tg *target) stale(threshold int) bool {
	return tg.phase == PhaseTracking && threshold > 0 &&
		tg.framesSinceAccept > threshold
}

// Subject is a tracked subject in Priority mode
type Subject struct {
	target
	// priority is the subject's dense rank, 0 is highest.  Ranks are
	// recomputed as list index order after every add, remove or reorder
	priority int
}

// TargetInfo is a read-only snapshot of one tracked target for callers and
// debug overlays
type TargetInfo struct {
	// ID of the target
	ID int64
	// Priority rank in Priority mode, 0 otherwise
	Priority int
	// ROI is the current tracked point
	ROI cinefocus.Point
	// Phase of the tracking state machine
	Phase Phase
	// Stale indicates the target has not received a fresh mask for longer
	// than the configured threshold
	Stale bool
	// Area is the sampled pixel count of the last accepted mask
	Area int
}

// info snapshots the target state
func (tg *target) info(priority int, staleAfter int) TargetInfo {
	return TargetInfo{
		ID:       tg.id,
		Priority: priority,
		ROI:      tg.roi,
		Phase:    tg.phase,
		Stale:    tg.stale(staleAfter),
		Area:     tg.lastArea,
	}
}
