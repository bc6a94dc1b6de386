package control

import (
	"time"

	"github.com/teslashibe/go-pantilt/pkg/task"
	"github.com/teslashibe/go-pantilt/pkg/tracking"
)

// Config holds the control loop parameters.
type Config struct {
	// CycleInterval is the period of the control loop (one packet per cycle)
	CycleInterval time.Duration

	// MaxReportAge discards perception reports older than this; 0 keeps all
	MaxReportAge time.Duration

	// EmitIdle sends a hold packet every cycle while the queue is empty.
	// When false nothing is written until a task is queued.
	EmitIdle bool

	// SelectRadius is how far (pixels) a pointer selection may be from the
	// last observed target to bind to its identity
	SelectRadius float64

	Tracking tracking.Config
	Task     task.Config
}

// DefaultConfig returns loop parameters for a 30 fps camera.
func DefaultConfig() Config {
	return Config{
		CycleInterval: 33 * time.Millisecond,
		MaxReportAge:  250 * time.Millisecond,
		EmitIdle:      false,
		SelectRadius:  80,
		Tracking:      tracking.DefaultConfig(),
		Task:          task.DefaultConfig(),
	}
}

func (c Config) normalized() Config {
	if c.CycleInterval <= 0 {
		c.CycleInterval = 33 * time.Millisecond
	}
	if c.MaxReportAge < 0 {
		c.MaxReportAge = 0
	}
	if c.SelectRadius <= 0 {
		c.SelectRadius = 80
	}
	return c
}
