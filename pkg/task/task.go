package task

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-pantilt/pkg/perception"
)

// ID correlates an enqueued task with the packets sent while it is active.
type ID string

func newID() ID {
	return ID(uuid.New().String())
}

// Goal is the desired coordinate for the current cycle.
// Track goals are pixel positions; search and idle goals are servo angles.
type Goal struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Task is one queued behavior. It is a closed variant over Kind: exactly one
// of track or search state is meaningful, and Observe/Reason/Done dispatch on
// the kind with a single switch.
//
// Per cycle the queue calls Observe, then Reason, then Done.
type Task struct {
	id    ID
	kind  Kind
	clock func() time.Time
	steps int

	track  trackState
	search searchState
}

type trackState struct {
	lost      int
	threshold int
	goal      Goal

	bound    bool
	identity uint32

	// Optional time limit, measured from the first observation
	limit   time.Duration
	limited bool
	start   time.Time
}

type searchState struct {
	duration time.Duration
	start    time.Time
	started  bool
	phase    float64

	increment float64
	center    float64
	amplitude float64
	tilt      float64
}

// NewTrack creates a track task following whoever is observed.
func NewTrack(cfg Config) *Task {
	cfg = cfg.normalized()
	return &Task{
		id:    newID(),
		kind:  KindTrack,
		clock: cfg.Clock,
		track: trackState{
			threshold: cfg.LostThreshold,
			goal:      cfg.IdleGoal,
		},
	}
}

// NewBoundTrack creates a track task that only follows the given identity.
// Observations of anyone else count as misses.
func NewBoundTrack(cfg Config, identity uint32) *Task {
	t := NewTrack(cfg)
	t.track.bound = true
	t.track.identity = identity
	return t
}

// NewSearch creates a search task sweeping for the given duration.
func NewSearch(cfg Config, duration time.Duration) *Task {
	cfg = cfg.normalized()
	return &Task{
		id:    newID(),
		kind:  KindSearch,
		clock: cfg.Clock,
		search: searchState{
			duration:  duration,
			increment: cfg.PhaseIncrement,
			center:    cfg.SweepCenter,
			amplitude: cfg.SweepAmplitude,
			tilt:      cfg.SweepTilt,
		},
	}
}

// withLimit sets a time limit on a track task.
func (t *Task) withLimit(d time.Duration) *Task {
	t.track.limit = d
	t.track.limited = true
	return t
}

// ID returns the task identifier.
func (t *Task) ID() ID { return t.id }

// Kind returns the task variant.
func (t *Task) Kind() Kind { return t.kind }

// Observe feeds one cycle's observation to the task.
func (t *Task) Observe(obs perception.Observation) {
	t.steps++
	switch t.kind {
	case KindTrack:
		t.observeTrack(obs)
	case KindSearch:
		t.observeSearch()
	}
}

// Reason computes the goal for this cycle.
func (t *Task) Reason() Goal {
	switch t.kind {
	case KindTrack:
		return t.track.goal
	case KindSearch:
		return t.reasonSearch()
	}
	return Goal{}
}

// Done reports whether the task has finished.
func (t *Task) Done() bool {
	switch t.kind {
	case KindTrack:
		return t.doneTrack()
	case KindSearch:
		return t.doneSearch()
	}
	return true
}

// --- Track ---

func (t *Task) observeTrack(obs perception.Observation) {
	s := &t.track
	if t.steps == 1 {
		s.start = t.clock()
	}

	// Bound tasks ignore other people and keep waiting for their target
	if obs.Present && s.bound && (!obs.HasIdentity || obs.Identity != s.identity) {
		obs = perception.Absent()
	}

	if !obs.Present {
		s.lost++
		return
	}
	s.lost = 0
	s.goal = Goal{X: float64(obs.Position.X), Y: float64(obs.Position.Y)}
}

func (t *Task) doneTrack() bool {
	s := &t.track
	if s.lost >= s.threshold {
		return true
	}
	return s.limited && t.steps > 0 && t.clock().Sub(s.start) >= s.limit
}

// --- Search ---

func (t *Task) observeSearch() {
	// Ballistic: observations are ignored, only the start time matters
	s := &t.search
	if !s.started {
		s.start = t.clock()
		s.started = true
	}
}

func (t *Task) reasonSearch() Goal {
	s := &t.search
	s.phase += s.increment
	return Goal{
		X: math.Trunc(s.center + s.amplitude*math.Sin(s.phase)),
		Y: s.tilt,
	}
}

func (t *Task) doneSearch() bool {
	s := &t.search
	return s.started && t.clock().Sub(s.start) >= s.duration
}

// Snapshot is a read-only view of a task for status reporting.
type Snapshot struct {
	ID       ID            `json:"id"`
	Kind     Kind          `json:"kind"`
	Cycles   int           `json:"cycles"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Duration time.Duration `json:"duration_ns,omitempty"`

	// Track only
	LostCounter   int    `json:"lost_counter,omitempty"`
	LostThreshold int    `json:"lost_threshold,omitempty"`
	Identity      uint32 `json:"identity,omitempty"`
	Goal          Goal   `json:"goal"`
}

// Snapshot returns the task's current state.
func (t *Task) Snapshot() Snapshot {
	snap := Snapshot{ID: t.id, Kind: t.kind, Cycles: t.steps}
	switch t.kind {
	case KindTrack:
		snap.LostCounter = t.track.lost
		snap.LostThreshold = t.track.threshold
		snap.Goal = t.track.goal
		if t.track.bound {
			snap.Identity = t.track.identity
		}
		if t.track.limited {
			snap.Duration = t.track.limit
		}
		if t.steps > 0 {
			snap.Elapsed = t.clock().Sub(t.track.start)
		}
	case KindSearch:
		snap.Duration = t.search.duration
		if t.search.started {
			snap.Elapsed = t.clock().Sub(t.search.start)
		}
	}
	return snap
}
