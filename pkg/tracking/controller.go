package tracking

import (
	"math"
)

// Command is an actuator position pair in degrees.
type Command struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
}

// axisState is the per-axis PD state
type axisState struct {
	// Gains
	kp float64
	kd float64

	// Limits
	center  float64 // Frame center on this axis (pixels)
	maxStep float64 // Max raw command per cycle
	bounds  Axis

	smoother *Smoother

	// State
	prevError float64
	prevStep  float64
	position  float64
}

// PDController converts a target pixel position into pan/tilt servo positions.
//
// Each cycle the target is smoothed, compared with the frame center, run through
// a clamped PD law, blended with the previous step, and subtracted from the current
// servo position. The result is always inside the configured axis bounds.
//
// PDController is not safe for concurrent use; the control loop owns it.
type PDController struct {
	alpha    float64
	decay    float64
	deadZone float64

	pan  axisState
	tilt axisState
}

// NewPDController creates a new PD controller parked at the home position
func NewPDController(config Config) *PDController {
	cfg := config.normalized()
	c := &PDController{
		alpha:    cfg.Alpha,
		decay:    cfg.Decay,
		deadZone: cfg.DeadZone,
		pan: axisState{
			kp:       cfg.KpPan,
			kd:       cfg.KdPan,
			center:   cfg.FrameCenterX,
			maxStep:  cfg.MaxStepPan,
			bounds:   cfg.Pan,
			smoother: NewSmoother(cfg.SmoothWindow),
		},
		tilt: axisState{
			kp:       cfg.KpTilt,
			kd:       cfg.KdTilt,
			center:   cfg.FrameCenterY,
			maxStep:  cfg.MaxStepTilt,
			bounds:   cfg.Tilt,
			smoother: NewSmoother(cfg.SmoothWindow),
		},
	}
	c.Reset()
	return c
}

// Update runs one control cycle toward the target pixel position and returns
// the new servo positions.
func (c *PDController) Update(targetX, targetY float64) Command {
	return Command{
		Pan:  c.updateAxis(&c.pan, targetX),
		Tilt: c.updateAxis(&c.tilt, targetY),
	}
}

func (c *PDController) updateAxis(a *axisState, target float64) float64 {
	// A non-finite target would poison the smoothing window; hold instead
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return a.position
	}
	smoothed := a.smoother.Update(target)

	// Positive error = target right of / below center
	err := smoothed - a.center

	// Dead zone: detector jitter should not move the servo
	if math.Abs(err) < c.deadZone {
		err = 0
	}

	derivative := err - a.prevError
	a.prevError = err

	raw := clamp(a.kp*err+a.kd*derivative, -a.maxStep, a.maxStep)

	// Blend with the decayed previous step
	step := c.alpha*raw + (1-c.alpha)*a.prevStep*c.decay
	if math.IsNaN(step) {
		step = 0
	}
	a.prevStep = step

	a.position = a.bounds.Clamp(a.position - step)
	return a.position
}

// Reset parks both axes at home and clears smoothing and PD history.
// Call this when a new tracking target becomes active.
func (c *PDController) Reset() {
	for _, a := range []*axisState{&c.pan, &c.tilt} {
		a.smoother.Reset()
		a.prevError = 0
		a.prevStep = 0
		a.position = a.bounds.Home
	}
}

// Hold clears smoothing and PD history but keeps the current position,
// so a re-acquired target starts from where the rig is pointing.
func (c *PDController) Hold() {
	for _, a := range []*axisState{&c.pan, &c.tilt} {
		a.smoother.Reset()
		a.prevError = 0
		a.prevStep = 0
	}
}

// Position returns the current servo positions
func (c *PDController) Position() Command {
	return Command{Pan: c.pan.position, Tilt: c.tilt.position}
}

// SetPosition sets the current servo positions (for initialization).
// Values are clamped to the axis bounds.
func (c *PDController) SetPosition(cmd Command) {
	c.pan.position = c.pan.bounds.Clamp(cmd.Pan)
	c.tilt.position = c.tilt.bounds.Clamp(cmd.Tilt)
}

// Home returns the park position
func (c *PDController) Home() Command {
	return Command{Pan: c.pan.bounds.Home, Tilt: c.tilt.bounds.Home}
}

// LastStep returns the most recent blended step per axis
func (c *PDController) LastStep() Command {
	return Command{Pan: c.pan.prevStep, Tilt: c.tilt.prevStep}
}

// Error returns the most recent dead-zoned pixel error per axis
func (c *PDController) Error() (x, y float64) {
	return c.pan.prevError, c.tilt.prevError
}
