// Package tracking provides the pan/tilt feedback controller.
// This file defines the actuator and camera limits.
package tracking

import "math"

// Servo limits for the pan/tilt rig, in degrees.
// Pan sweeps the full servo range; tilt is mechanically limited by the elbow joint.
const (
	// DefaultPanMin is the leftmost pan angle.
	DefaultPanMin = 0.0

	// DefaultPanMax is the rightmost pan angle.
	DefaultPanMax = 180.0

	// DefaultTiltMin is the lowest tilt angle (level with the horizon).
	DefaultTiltMin = 0.0

	// DefaultTiltMax is the highest tilt angle.
	// Beyond 45° the camera body hits the shoulder bracket.
	DefaultTiltMax = 45.0

	// DefaultPanHome is where the pan servo is parked at power-on.
	DefaultPanHome = 90.0

	// DefaultTiltHome is where the tilt servo is parked at power-on.
	DefaultTiltHome = 0.0
)

// Camera frame dimensions in pixels (detector input resolution).
const (
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
)

// Axis describes the output range of one actuator axis.
type Axis struct {
	Min  float64 // Lowest commandable position
	Max  float64 // Highest commandable position
	Home float64 // Position after Reset
}

// Clamp limits v to the axis range. NaN maps to Home.
func (a Axis) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return clamp(a.Home, a.Min, a.Max)
	}
	return clamp(v, a.Min, a.Max)
}

// Center returns the midpoint of the axis range.
func (a Axis) Center() float64 {
	return (a.Min + a.Max) / 2
}

// DefaultPanAxis returns the pan axis limits.
func DefaultPanAxis() Axis {
	return Axis{Min: DefaultPanMin, Max: DefaultPanMax, Home: DefaultPanHome}
}

// DefaultTiltAxis returns the tilt axis limits.
func DefaultTiltAxis() Axis {
	return Axis{Min: DefaultTiltMin, Max: DefaultTiltMax, Home: DefaultTiltHome}
}

// clamp limits a value to a range. NaN maps to min.
func clamp(value, min, max float64) float64 {
	if math.IsNaN(value) || value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
