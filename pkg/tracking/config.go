package tracking

// Config holds all tunable parameters for pan/tilt tracking
type Config struct {
	// Frame geometry (pixels). Errors are measured from the frame center.
	FrameCenterX float64
	FrameCenterY float64

	// PD Controller
	KpPan  float64 // Proportional gain, pan axis
	KdPan  float64 // Derivative gain, pan axis
	KpTilt float64 // Proportional gain, tilt axis
	KdTilt float64 // Derivative gain, tilt axis

	// Output shaping
	Alpha        float64 // Blend of new PD command vs previous step (0-1)
	Decay        float64 // Multiplier on the previous step, must be < 1
	DeadZone     float64 // Ignore errors smaller than this (pixels)
	MaxStepPan   float64 // Max raw pan command per cycle (degrees)
	MaxStepTilt  float64 // Max raw tilt command per cycle (degrees)
	SmoothWindow int     // Moving-average window per axis (samples)

	// Output bounds
	Pan  Axis
	Tilt Axis
}

// DefaultConfig returns the recommended configuration for a 640x480 detector feed
func DefaultConfig() Config {
	return Config{
		FrameCenterX: DefaultFrameWidth / 2,
		FrameCenterY: DefaultFrameHeight / 2,

		// PD Controller - tuned on the bench rig at ~30 fps
		KpPan:  0.05,
		KdPan:  0.01,
		KpTilt: 0.05,
		KdTilt: 0.01,

		Alpha:        0.2,  // 20% new command, 80% previous step
		Decay:        0.95, // Previous step fades so smoothing cannot run away
		DeadZone:     5,    // Detector jitter is ±3-4 px
		MaxStepPan:   2,    // deg/cycle
		MaxStepTilt:  1,    // deg/cycle
		SmoothWindow: 5,

		Pan:  DefaultPanAxis(),
		Tilt: DefaultTiltAxis(),
	}
}

// SlowConfig returns a configuration for slower, smoother tracking
func SlowConfig() Config {
	cfg := DefaultConfig()
	cfg.KpPan = 0.03
	cfg.KpTilt = 0.03
	cfg.KdPan = 0.015 // More dampening
	cfg.KdTilt = 0.015
	cfg.Alpha = 0.15
	cfg.DeadZone = 12
	cfg.MaxStepPan = 1
	cfg.MaxStepTilt = 0.5
	cfg.SmoothWindow = 8
	return cfg
}

// AggressiveConfig returns a configuration for very fast tracking
func AggressiveConfig() Config {
	cfg := DefaultConfig()
	cfg.KpPan = 0.08
	cfg.KpTilt = 0.06
	cfg.KdPan = 0.005 // Less dampening
	cfg.KdTilt = 0.005
	cfg.Alpha = 0.4
	cfg.DeadZone = 4
	cfg.MaxStepPan = 4
	cfg.MaxStepTilt = 2
	cfg.SmoothWindow = 3 // Trust new readings more
	return cfg
}

// Preset returns a named configuration ("default", "slow", "aggressive").
func Preset(name string) (Config, bool) {
	switch name {
	case "", "default":
		return DefaultConfig(), true
	case "slow":
		return SlowConfig(), true
	case "aggressive":
		return AggressiveConfig(), true
	default:
		return Config{}, false
	}
}

// normalized fills in values that would make the controller misbehave.
func (c Config) normalized() Config {
	if c.SmoothWindow < 1 {
		c.SmoothWindow = 1
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		c.Alpha = clamp(c.Alpha, 0, 1)
	}
	if c.Decay < 0 || c.Decay >= 1 {
		c.Decay = 0.95
	}
	if c.MaxStepPan < 0 {
		c.MaxStepPan = -c.MaxStepPan
	}
	if c.MaxStepTilt < 0 {
		c.MaxStepTilt = -c.MaxStepTilt
	}
	if c.Pan.Min > c.Pan.Max {
		c.Pan.Min, c.Pan.Max = c.Pan.Max, c.Pan.Min
	}
	if c.Tilt.Min > c.Tilt.Max {
		c.Tilt.Min, c.Tilt.Max = c.Tilt.Max, c.Tilt.Min
	}
	c.Pan.Home = c.Pan.Clamp(c.Pan.Home)
	c.Tilt.Home = c.Tilt.Clamp(c.Tilt.Home)
	return c
}
