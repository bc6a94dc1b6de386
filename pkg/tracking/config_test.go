package tracking

import "testing"

func TestDefaultConfig_MatchesRig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.FrameCenterX != 320 || cfg.FrameCenterY != 240 {
		t.Errorf("Expected frame center (320, 240), got (%v, %v)", cfg.FrameCenterX, cfg.FrameCenterY)
	}
	if cfg.Pan != DefaultPanAxis() {
		t.Errorf("Expected default pan axis, got %+v", cfg.Pan)
	}
	if cfg.Tilt != DefaultTiltAxis() {
		t.Errorf("Expected default tilt axis, got %+v", cfg.Tilt)
	}
	if cfg.Decay >= 1 {
		t.Errorf("Decay must be < 1, got %v", cfg.Decay)
	}
}

func TestPresets_ValidRange(t *testing.T) {
	configs := []struct {
		name string
		cfg  Config
	}{
		{"Default", DefaultConfig()},
		{"Slow", SlowConfig()},
		{"Aggressive", AggressiveConfig()},
	}

	for _, tc := range configs {
		if tc.cfg.Alpha <= 0 || tc.cfg.Alpha > 1 {
			t.Errorf("%s: Alpha=%v out of range (0, 1]", tc.name, tc.cfg.Alpha)
		}
		if tc.cfg.SmoothWindow < 1 {
			t.Errorf("%s: SmoothWindow=%d must be >= 1", tc.name, tc.cfg.SmoothWindow)
		}
		if tc.cfg.MaxStepPan <= 0 || tc.cfg.MaxStepTilt <= 0 {
			t.Errorf("%s: max steps must be positive", tc.name)
		}
	}

	if SlowConfig().MaxStepPan >= DefaultConfig().MaxStepPan {
		t.Error("SlowConfig should move slower than DefaultConfig")
	}
	if AggressiveConfig().MaxStepPan <= DefaultConfig().MaxStepPan {
		t.Error("AggressiveConfig should move faster than DefaultConfig")
	}
}

func TestPreset(t *testing.T) {
	for _, name := range []string{"", "default", "slow", "aggressive"} {
		if _, ok := Preset(name); !ok {
			t.Errorf("Preset(%q) not found", name)
		}
	}
	if _, ok := Preset("ludicrous"); ok {
		t.Error("Preset(ludicrous) should not exist")
	}
}

func TestConfig_Normalized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothWindow = 0
	cfg.Decay = 1.5
	cfg.MaxStepPan = -3
	cfg.Pan = Axis{Min: 180, Max: 0, Home: 400}

	n := cfg.normalized()
	if n.SmoothWindow != 1 {
		t.Errorf("SmoothWindow: got %d, want 1", n.SmoothWindow)
	}
	if n.Decay != 0.95 {
		t.Errorf("Decay: got %v, want 0.95", n.Decay)
	}
	if n.MaxStepPan != 3 {
		t.Errorf("MaxStepPan: got %v, want 3", n.MaxStepPan)
	}
	if n.Pan.Min != 0 || n.Pan.Max != 180 || n.Pan.Home != 180 {
		t.Errorf("Pan axis: got %+v", n.Pan)
	}
}

func TestAxis_Clamp(t *testing.T) {
	a := DefaultTiltAxis()
	if got := a.Clamp(90); got != DefaultTiltMax {
		t.Errorf("Clamp(90): got %v, want %v", got, DefaultTiltMax)
	}
	if got := a.Clamp(-1); got != DefaultTiltMin {
		t.Errorf("Clamp(-1): got %v, want %v", got, DefaultTiltMin)
	}
	if got := DefaultPanAxis().Center(); got != 90 {
		t.Errorf("Pan center: got %v, want 90", got)
	}
}
