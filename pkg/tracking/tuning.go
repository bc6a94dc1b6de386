package tracking

// TuningParams holds the real-time adjustable controller parameters.
// These can be modified via the tuning API without restarting the loop.
type TuningParams struct {
	// PD Controller
	KpPan  float64 `json:"kp_pan"`
	KdPan  float64 `json:"kd_pan"`
	KpTilt float64 `json:"kp_tilt"`
	KdTilt float64 `json:"kd_tilt"`

	// Output shaping
	Alpha       float64 `json:"alpha"`         // Blend factor (0-1)
	DeadZone    float64 `json:"dead_zone"`     // Pixels
	MaxStepPan  float64 `json:"max_step_pan"`  // Degrees per cycle
	MaxStepTilt float64 `json:"max_step_tilt"` // Degrees per cycle
}

// Tuning returns the current tuning parameters.
func (c *PDController) Tuning() TuningParams {
	return TuningParams{
		KpPan:       c.pan.kp,
		KdPan:       c.pan.kd,
		KpTilt:      c.tilt.kp,
		KdTilt:      c.tilt.kd,
		Alpha:       c.alpha,
		DeadZone:    c.deadZone,
		MaxStepPan:  c.pan.maxStep,
		MaxStepTilt: c.tilt.maxStep,
	}
}

// ApplyTuning updates tuning parameters at runtime.
// Only positive values are applied; alpha is capped at 1.
func (c *PDController) ApplyTuning(params TuningParams) {
	if params.KpPan > 0 {
		c.pan.kp = params.KpPan
	}
	if params.KdPan > 0 {
		c.pan.kd = params.KdPan
	}
	if params.KpTilt > 0 {
		c.tilt.kp = params.KpTilt
	}
	if params.KdTilt > 0 {
		c.tilt.kd = params.KdTilt
	}
	if params.Alpha > 0 {
		c.alpha = clamp(params.Alpha, 0, 1)
	}
	if params.DeadZone > 0 {
		c.deadZone = params.DeadZone
	}
	if params.MaxStepPan > 0 {
		c.pan.maxStep = params.MaxStepPan
	}
	if params.MaxStepTilt > 0 {
		c.tilt.maxStep = params.MaxStepTilt
	}
}
