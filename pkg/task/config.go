package task

import (
	"time"

	"github.com/teslashibe/go-pantilt/pkg/tracking"
)

// Default task parameters.
const (
	DefaultLostThreshold  = 30
	DefaultSearchDuration = 5 * time.Second
	DefaultPhaseIncrement = 0.03
	DefaultSweepAmplitude = 80.0
)

// Config holds the parameters shared by every task the queue creates.
// Start from DefaultConfig; zero thresholds and increments fall back to the
// defaults.
type Config struct {
	// Consecutive absent cycles before a track task gives up
	LostThreshold int

	// Search duration used when a request gives none
	SearchDuration time.Duration

	// Sweep shape: pan = SweepCenter + SweepAmplitude*sin(phase), tilt fixed
	PhaseIncrement float64
	SweepCenter    float64
	SweepAmplitude float64
	SweepTilt      float64

	// Goal reported when the queue is empty, and the initial track goal
	IdleGoal Goal

	// Clock is injected for tests; defaults to time.Now (monotonic).
	Clock func() time.Time
}

// DefaultConfig returns task parameters for a 640x480 camera on the
// standard pan/tilt rig.
func DefaultConfig() Config {
	return Config{
		LostThreshold:  DefaultLostThreshold,
		SearchDuration: DefaultSearchDuration,
		PhaseIncrement: DefaultPhaseIncrement,
		SweepCenter:    tracking.DefaultPanHome,
		SweepAmplitude: DefaultSweepAmplitude,
		SweepTilt:      tracking.DefaultTiltHome,
		IdleGoal: Goal{
			X: tracking.DefaultFrameWidth / 2,
			Y: tracking.DefaultFrameHeight / 2,
		},
		Clock: time.Now,
	}
}

func (c Config) normalized() Config {
	if c.LostThreshold <= 0 {
		c.LostThreshold = DefaultLostThreshold
	}
	if c.SearchDuration <= 0 {
		c.SearchDuration = DefaultSearchDuration
	}
	if c.PhaseIncrement <= 0 {
		c.PhaseIncrement = DefaultPhaseIncrement
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}
