package tracker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cinefocus/go-cinefocus"
	"github.com/cinefocus/go-cinefocus/postprocess"
)

// Mode identifies the active focus mode.  Exactly one mode is active at any
// time and entering a mode clears the state of all others
type Mode int

const (
	// ModeNone means no subject is tracked, rendering passes through
	ModeNone Mode = iota
	// ModeSingle tracks one clicked subject
	ModeSingle
	// ModeMulti tracks an A/B subject pair for rack focus
	ModeMulti
	// ModePriority tracks a ranked queue of subjects merged into one
	// weighted composite mask
	ModePriority
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSingle:
		return "single"
	case ModeMulti:
		return "multi"
	case ModePriority:
		return "priority"
	}
	return "unknown"
}

// Params defines the focus tracker configuration parameters
type Params struct {
	// SegmentInterval is the number of frames between segmentation
	// requests for a target.  Tracking by damped lerp happens every frame,
	// the model is only re-invoked at this interval
	SegmentInterval int
	// EncodeInterval is the number of frames between frame re-encodes when
	// the provider caches embeddings.  Decodes against the cached
	// embedding run opportunistically every frame
	EncodeInterval int
	// DampingFactor is the exponential damping applied to tracked point
	// movement, smoothed = previous + (centroid - previous) * factor
	DampingFactor float32
	// DriftRatio is the maximum relative area change between consecutive
	// accepted masks before the result is rejected as a lost contour
	DriftRatio float32
	// MaxSubjects is the priority mode subject cap
	MaxSubjects int
	// StaleAfter is the number of frames a tracking target may go without
	// a fresh accepted mask before it is reported stale.  Zero disables
	// the signal
	StaleAfter int
	// Centroid holds the centroid estimation parameters
	Centroid postprocess.CentroidParams
	// Refine enables mask refinement before centroid estimation
	Refine bool
	// Refiner holds the mask refinement parameters
	Refiner postprocess.RefinerParams
	// Weights is the priority compositing weight table, nil uses the
	// default table
	Weights []float32
	// FallbackWeight applies to priority ranks beyond the weight table
	FallbackWeight float32
}

// DefaultParams returns an instance of Params configured with default
// values featuring:
// - Segment Interval: 12 frames
// - Encode Interval: 30 frames
// - Damping Factor: 0.08
// - Drift Ratio: 0.5
// - Max Subjects: 5
// - Stale After: 45 frames
func DefaultParams() Params {
	return Params{
		SegmentInterval: 12,
		EncodeInterval:  30,
		DampingFactor:   0.08,
		DriftRatio:      0.5,
		MaxSubjects:     5,
		StaleAfter:      45,
		Centroid:        postprocess.CentroidDefaultParams(),
		Refine:          true,
		Refiner:         postprocess.RefinerDefaultParams(),
		Weights:         nil,
		FallbackWeight:  postprocess.DefaultFallbackWeight,
	}
}

// maskResult carries an asynchronous provider completion back to the
// tracker.  Results are matched to their target by id and sequence number
// so dangling or superseded completions are dropped
type maskResult struct {
	targetID int64
	seq      uint64
	mask     *cinefocus.Mask
	err      error
	// encodeDone marks the completion of a frame embedding encode rather
	// than a mask request
	encodeDone bool
	// noop marks a decode that had no cached embedding to run against,
	// neither a success nor a failure
	noop bool
}

// FocusTracker owns the focus state machine.  Clicks install tracked
// targets, ProcessFrame drives throttled asynchronous segmentation and
// returns the mask state for rendering each displayed frame.  All methods
// are safe for concurrent use, provider inference runs on goroutines and
// never blocks the frame loop
type FocusTracker struct {
	mu sync.Mutex

	params   Params
	provider cinefocus.MaskProvider
	sink     EventSink
	idGen    *IDGenerator

	compositor *postprocess.Compositor

	// mode state, exactly one group is populated at a time and all of it
	// is cleared on every mode transition
	mode     Mode
	single   *target
	multiA   *target
	multiB   *target
	subjects []*Subject

	// results delivers asynchronous provider completions, drained at the
	// top of every ProcessFrame
	results chan maskResult

	frameCount int64
	// frame dimensions observed on the most recent ProcessFrame
	frameWidth  int
	frameHeight int

	// single-flight state for embedding providers
	encodeInflight  bool
	lastEncodeFrame int64
}

// NewFocusTracker returns a focus tracker using the given mask provider
func NewFocusTracker(provider cinefocus.MaskProvider, p Params) *FocusTracker {

	return &FocusTracker{
		params:     p,
		provider:   provider,
		sink:       nopSink{},
		idGen:      NewIDGenerator(),
		compositor: postprocess.NewCompositor(p.Weights, p.FallbackWeight),
		mode:       ModeNone,
		results:    make(chan maskResult, 32),
	}
}

// SetEventSink installs a sink for tracker events
func (t *FocusTracker) SetEventSink(sink EventSink) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sink == nil {
		sink = nopSink{}
	}
	t.sink = sink
}

// Mode returns the active focus mode
func (t *FocusTracker) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// SetTarget installs a new single focus subject at the clicked point,
// clearing any Multi or Priority state.  A no-op until the provider is
// ready
func (t *FocusTracker) SetTarget(pt cinefocus.Point) {

	if !t.provider.Ready() || !pt.InBounds() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearState(ModeSingle)
	t.single = t.newTrackedTarget(pt)

	t.emit(Event{Kind: EventTargetSet, TargetID: t.single.id, Mode: t.mode, Point: pt})
}

// SetMultiFocusPoint drives the two-click rack focus sequence.  The first
// call clears prior state and installs subject A, the second installs
// subject B with both tracked concurrently, and a third call resets and
// restarts the sequence
func (t *FocusTracker) SetMultiFocusPoint(pt cinefocus.Point) {

	if !t.provider.Ready() || !pt.InBounds() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode == ModeMulti && t.multiA != nil && t.multiB == nil {
		// second click completes the pair
		t.multiB = t.newTrackedTarget(pt)
		t.emit(Event{Kind: EventTargetSet, TargetID: t.multiB.id, Mode: t.mode, Point: pt})
		return
	}

	// first click of a fresh sequence
	t.clearState(ModeMulti)
	t.multiA = t.newTrackedTarget(pt)

	t.emit(Event{Kind: EventTargetSet, TargetID: t.multiA.id, Mode: t.mode, Point: pt})
}

// AddPrioritySubject appends a new priority subject at the clicked point
// and returns its id.  The first call clears Single and Multi state and
// enters Priority mode.  Adding beyond the subject cap is rejected with
// ErrSubjectCap and no state change
func (t *FocusTracker) AddPrioritySubject(pt cinefocus.Point) (int64, error) {

	if !t.provider.Ready() {
		return 0, cinefocus.ErrNotReady
	}

	if !pt.InBounds() {
		return 0, fmt.Errorf("point (%f, %f) out of bounds", pt.X, pt.Y)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode != ModePriority {
		t.clearState(ModePriority)
	}

	if len(t.subjects) >= t.params.MaxSubjects {
		return 0, cinefocus.ErrSubjectCap
	}

	sub := &Subject{
		target:   *t.newTrackedTarget(pt),
		priority: len(t.subjects),
	}
	t.subjects = append(t.subjects, sub)

	t.emit(Event{Kind: EventSubjectAdded, TargetID: sub.id, Mode: t.mode, Point: pt})

	return sub.id, nil
}

// RemovePrioritySubject removes the subject with the given id and
// recomputes the dense priority ranks.  Removing the last subject exits
// Priority mode.  Returns false when no such subject exists
func (t *FocusTracker) RemovePrioritySubject(id int64) bool {

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode != ModePriority {
		return false
	}

	for i, sub := range t.subjects {
		if sub.id != id {
			continue
		}

		t.subjects = append(t.subjects[:i], t.subjects[i+1:]...)
		t.renumberSubjects()

		t.emit(Event{Kind: EventSubjectRemoved, TargetID: id, Mode: t.mode})

		if len(t.subjects) == 0 {
			t.clearState(ModeNone)
		}

		return true
	}

	return false
}

// ReorderPriorities reorders the subject list to match the given id order
// and recomputes the dense priority ranks.  The id list must be a
// permutation of the current subjects
func (t *FocusTracker) ReorderPriorities(orderedIDs []int64) error {

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode != ModePriority {
		return fmt.Errorf("not in priority mode")
	}

	if len(orderedIDs) != len(t.subjects) {
		return fmt.Errorf("expected %d subject ids, got %d", len(t.subjects), len(orderedIDs))
	}

	byID := make(map[int64]*Subject, len(t.subjects))
	for _, sub := range t.subjects {
		byID[sub.id] = sub
	}

	reordered := make([]*Subject, 0, len(orderedIDs))

	for _, id := range orderedIDs {
		sub, ok := byID[id]
		if !ok {
			return fmt.Errorf("unknown subject id %d", id)
		}
		delete(byID, id)
		reordered = append(reordered, sub)
	}

	t.subjects = reordered
	t.renumberSubjects()

	return nil
}

// Clear drops all tracked state and returns to pass-through rendering
func (t *FocusTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearState(ModeNone)
}

// Subjects returns a snapshot of the priority subject list in rank order
func (t *FocusTracker) Subjects() []TargetInfo {

	t.mu.Lock()
	defer t.mu.Unlock()

	infos := make([]TargetInfo, 0, len(t.subjects))
	for _, sub := range t.subjects {
		infos = append(infos, sub.info(sub.priority, t.params.StaleAfter))
	}

	return infos
}

// Targets returns a snapshot of every tracked target in the active mode,
// for debug overlays and tracking quality display
func (t *FocusTracker) Targets() []TargetInfo {

	t.mu.Lock()
	defer t.mu.Unlock()

	var infos []TargetInfo

	switch t.mode {
	case ModeSingle:
		infos = append(infos, t.single.info(0, t.params.StaleAfter))
	case ModeMulti:
		infos = append(infos, t.multiA.info(0, t.params.StaleAfter))
		if t.multiB != nil {
			infos = append(infos, t.multiB.info(1, t.params.StaleAfter))
		}
	case ModePriority:
		for _, sub := range t.subjects {
			infos = append(infos, sub.info(sub.priority, t.params.StaleAfter))
		}
	}

	return infos
}

// ProcessFrame advances the tracker by one displayed frame.  It drains any
// completed mask results, applies one damping step to each tracked point,
// issues throttled segmentation requests against the given frame and
// returns the mask state for the renderer.  It never blocks on inference,
// the returned masks may be stale by one or more segmentation cycles
func (t *FocusTracker) ProcessFrame(frame cinefocus.Frame) cinefocus.MaskState {

	t.mu.Lock()
	defer t.mu.Unlock()

	t.frameWidth = frame.Width()
	t.frameHeight = frame.Height()

	if !t.provider.Ready() || frame.Empty() {
		return cinefocus.MaskState{Width: t.frameWidth, Height: t.frameHeight}
	}

	t.frameCount++

	t.drainResults()
	t.advanceTracking()
	t.issueRequests(frame)

	return t.maskState()
}

// newTrackedTarget creates a target with fresh identity and refiner sized
// to the current frame
func (t *FocusTracker) newTrackedTarget(pt cinefocus.Point) *target {

	tg := newTarget(t.idGen.GetNext(), pt)

	if t.params.Refine && t.frameWidth > 0 {
		tg.refiner = postprocess.NewRefiner(t.frameWidth, t.frameHeight, t.params.Refiner)
	}

	return tg
}

// clearState transitions to the given mode, dropping the state of every
// mode.  All transitions funnel through here so no state of an inactive
// mode can survive.  In-flight provider results for dropped targets become
// dangling and are discarded on drain
func (t *FocusTracker) clearState(mode Mode) {

	t.single = nil
	t.multiA = nil
	t.multiB = nil
	t.subjects = nil

	if t.mode != mode {
		t.mode = mode
		t.emit(Event{Kind: EventModeChanged, Mode: mode})
	}
}

// renumberSubjects recomputes priority ranks as the list's index order so
// ranks are always a contiguous 0..N-1 permutation
func (t *FocusTracker) renumberSubjects() {
	for i, sub := range t.subjects {
		sub.priority = i
	}
}

// activeTargets returns the tracked targets of the current mode
func (t *FocusTracker) activeTargets() []*target {

	switch t.mode {
	case ModeSingle:
		return []*target{t.single}
	case ModeMulti:
		if t.multiB == nil {
			return []*target{t.multiA}
		}
		return []*target{t.multiA, t.multiB}
	case ModePriority:
		targets := make([]*target, 0, len(t.subjects))
		for _, sub := range t.subjects {
			targets = append(targets, &sub.target)
		}
		return targets
	}

	return nil
}

// findTarget locates a target by id in the active mode, nil when the
// target no longer exists
func (t *FocusTracker) findTarget(id int64) *target {

	for _, tg := range t.activeTargets() {
		if tg.id == id {
			return tg
		}
	}

	return nil
}

// drainResults applies all completed provider results without blocking
func (t *FocusTracker) drainResults() {

	for {
		select {
		case res := <-t.results:
			t.applyResult(res)
		default:
			return
		}
	}
}

// applyResult validates one asynchronous completion and updates its target
func (t *FocusTracker) applyResult(res maskResult) {

	if res.encodeDone {
		t.encodeInflight = false

		if res.err != nil {
			t.emit(Event{Kind: EventEncodeFailed, Mode: t.mode, Err: res.err})
		}
		return
	}

	tg := t.findTarget(res.targetID)

	if tg == nil {
		// dangling result for a target cleared by a mode switch
		return
	}

	if res.seq != tg.seq {
		// superseded by a newer request for the same target
		return
	}

	tg.inflight = false

	if tg.phase == PhaseFailed {
		// processing halts for a failed target until a new explicit click
		return
	}

	if res.noop {
		// decode ran before any embedding was cached, try again next frame
		return
	}

	if res.err != nil || !res.mask.Valid() {
		t.failTarget(tg, res.err)
		return
	}

	m := res.mask

	if t.params.Refine && tg.refiner == nil {
		tg.refiner = postprocess.NewRefiner(m.Width, m.Height, t.params.Refiner)
	}

	if tg.refiner != nil {
		m = tg.refiner.Refine(m, tg.roi)
	}

	centroid, area, ok := postprocess.Centroid(m, t.params.Centroid)

	if !ok {
		// too few confident pixels, the subject is gone
		t.failTarget(tg, cinefocus.ErrEmptyMask)
		return
	}

	if tg.phase == PhaseTracking &&
		postprocess.AreaDrift(tg.lastArea, area) > t.params.DriftRatio {

		// lost the contour, soft retry from the original click point
		// rather than hard failing
		tg.previousRoi = tg.roi
		tg.roi = tg.initialRoi
		tg.lastCentroid = tg.initialRoi
		tg.requestNow = true
		tg.predictor.Reset()

		if tg.refiner != nil {
			// drop the temporal history so the drifted frames don't bleed
			// into the retried masks
			tg.refiner.Reset()
		}

		t.emit(Event{Kind: EventDrift, TargetID: tg.id, Mode: t.mode,
			Point: tg.initialRoi, Area: area})
		return
	}

	// accept
	tg.mask = m
	tg.lastArea = area
	tg.lastCentroid = centroid
	tg.framesSinceAccept = 0
	tg.staleSignalled = false
	tg.phase = PhaseTracking

	if !tg.hasAccepted {
		// no damping history yet, snap straight to the centroid
		tg.previousRoi = tg.roi
		tg.roi = centroid
		tg.hasAccepted = true
	}

	tg.predictor.Update(centroid)

	t.emit(Event{Kind: EventMaskAccepted, TargetID: tg.id, Mode: t.mode,
		Point: centroid, Area: area})
}

// failTarget marks a target hard-failed.  Its ROI and mask are cleared and
// processing halts until a fresh explicit target is set
func (t *FocusTracker) failTarget(tg *target, err error) {

	tg.mask = nil
	tg.lastArea = 0
	tg.phase = PhaseFailed

	if err == nil {
		err = cinefocus.ErrEmptyMask
	}

	t.emit(Event{Kind: EventTrackLost, TargetID: tg.id, Mode: t.mode, Err: err})
}

// advanceTracking applies one exponential damping step to every tracked
// point and maintains the stale tracking signal.  During stale episodes
// the Kalman predictor extrapolates the centroid so the focus center keeps
// following the subject's last known motion
func (t *FocusTracker) advanceTracking() {

	for _, tg := range t.activeTargets() {

		if tg.phase != PhaseTracking {
			continue
		}

		tg.framesSinceAccept++

		if tg.stale(t.params.StaleAfter) {

			if !tg.staleSignalled {
				tg.staleSignalled = true
				t.emit(Event{Kind: EventTrackingStale, TargetID: tg.id,
					Mode: t.mode, Point: tg.roi})
			}

			// extrapolate the centroid along the last known motion
			tg.predictor.Predict()
			tg.lastCentroid = tg.predictor.Position()
		}

		// smoothed = previous + (centroid - previous) * dampingFactor
		d := t.params.DampingFactor
		tg.previousRoi = tg.roi
		tg.roi = cinefocus.Pt(
			tg.roi.X+(tg.lastCentroid.X-tg.roi.X)*d,
			tg.roi.Y+(tg.lastCentroid.Y-tg.roi.Y)*d,
		)
	}
}

// issueRequests issues throttled segmentation work against the given
// frame.  Embedding providers re-encode on their own slower interval and
// decode opportunistically every frame, plain providers run full
// segmentation once every SegmentInterval frames.  A target never has more
// than one request outstanding
func (t *FocusTracker) issueRequests(frame cinefocus.Frame) {

	ep, embedding := t.provider.(cinefocus.EmbeddingProvider)

	if embedding && len(t.activeTargets()) > 0 {

		if !t.encodeInflight &&
			(t.lastEncodeFrame == 0 ||
				t.frameCount-t.lastEncodeFrame >= int64(t.params.EncodeInterval)) {

			t.encodeInflight = true
			t.lastEncodeFrame = t.frameCount

			go t.runEncode(ep, frame)
		}
	}

	onInterval := t.frameCount%int64(t.params.SegmentInterval) == 0

	for _, tg := range t.activeTargets() {

		if tg.inflight || tg.phase == PhaseFailed {
			continue
		}

		if embedding {
			// decode against the cached embedding runs every frame
			tg.inflight = true
			tg.seq++
			tg.requestNow = false

			if tg.phase == PhaseIdle {
				tg.phase = PhaseSegmenting
			}

			go t.runDecode(ep, tg.id, tg.seq, tg.roi)
			continue
		}

		if !tg.requestNow && !onInterval {
			continue
		}

		tg.inflight = true
		tg.seq++
		tg.requestNow = false

		if tg.phase == PhaseIdle {
			tg.phase = PhaseSegmenting
		}

		go t.runRequest(frame, tg.id, tg.seq, tg.roi)
	}
}

// runEncode performs a frame embedding encode on a goroutine.  Provider
// panics are contained and surfaced as errors
func (t *FocusTracker) runEncode(ep cinefocus.EmbeddingProvider, frame cinefocus.Frame) {

	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("provider encode panic: %v", r)
			}
		}()
		err = ep.Encode(frame)
	}()

	t.results <- maskResult{encodeDone: true, err: err}
}

// runDecode performs a cached-embedding decode on a goroutine
func (t *FocusTracker) runDecode(ep cinefocus.EmbeddingProvider, id int64,
	seq uint64, pt cinefocus.Point) {

	var m *cinefocus.Mask
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("provider decode panic: %v", r)
			}
		}()
		m, err = ep.DecodeFromCache(pt)
	}()

	if errors.Is(err, cinefocus.ErrNoEmbedding) {
		// nothing cached yet, the decode is a no-op rather than a failure
		t.results <- maskResult{targetID: id, seq: seq, noop: true}
		return
	}

	t.results <- maskResult{targetID: id, seq: seq, mask: m, err: err}
}

// runRequest performs full point-prompted segmentation on a goroutine
func (t *FocusTracker) runRequest(frame cinefocus.Frame, id int64, seq uint64,
	pt cinefocus.Point) {

	var m *cinefocus.Mask
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("provider inference panic: %v", r)
			}
		}()
		m, err = t.provider.RequestMask(frame, pt)
	}()

	t.results <- maskResult{targetID: id, seq: seq, mask: m, err: err}
}

// maskState assembles the per-frame mask bundle for the renderer
func (t *FocusTracker) maskState() cinefocus.MaskState {

	state := cinefocus.MaskState{
		Width:  t.frameWidth,
		Height: t.frameHeight,
	}

	switch t.mode {
	case ModeSingle:
		if t.single.mask.Matches(t.frameWidth, t.frameHeight) {
			state.Mask = t.single.mask
			center := t.single.roi
			state.FocusCenter = &center
		}

	case ModeMulti:
		if t.multiA.mask.Matches(t.frameWidth, t.frameHeight) {
			state.MaskA = t.multiA.mask
		}
		if t.multiB != nil && t.multiB.mask.Matches(t.frameWidth, t.frameHeight) {
			state.MaskB = t.multiB.mask
		}

		if state.MaskA != nil || state.MaskB != nil {
			state.MultiFocus = true
			center := t.multiFocusCenter()
			state.FocusCenter = &center
		}

	case ModePriority:
		masks := make([]postprocess.SubjectMask, 0, len(t.subjects))
		for _, sub := range t.subjects {
			masks = append(masks, postprocess.SubjectMask{
				Mask:     sub.mask,
				Priority: sub.priority,
			})
		}

		if composite := t.compositor.Composite(t.frameWidth, t.frameHeight, masks); composite != nil {
			state.Mask = composite
			state.PriorityFocus = true

			// depth falloff originates at the highest ranked subject
			for _, sub := range t.subjects {
				if sub.priority == 0 {
					center := sub.roi
					state.FocusCenter = &center
					break
				}
			}
		}
	}

	return state
}

// multiFocusCenter is the midpoint of the rack focus pair, keeping both
// subjects inside the sharp zone of the depth falloff
func (t *FocusTracker) multiFocusCenter() cinefocus.Point {

	if t.multiB == nil {
		return t.multiA.roi
	}

	return cinefocus.Pt(
		(t.multiA.roi.X+t.multiB.roi.X)/2,
		(t.multiA.roi.Y+t.multiB.roi.Y)/2,
	)
}

// emit sends an event to the sink, caller must hold the lock
func (t *FocusTracker) emit(e Event) {
	t.sink.TrackerEvent(e)
}
