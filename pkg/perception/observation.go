// Package perception defines what the control loop consumes from the vision
// pipeline, and the hand-off between a perception goroutine and the loop.
//
// Detection, embedding extraction and frame capture happen elsewhere; this
// package only carries their already-resolved results.
package perception

import (
	"fmt"
	"time"
)

// Point is a pixel position in the camera frame.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Observation is one cycle's resolved perception result.
// The zero value is an absent observation.
type Observation struct {
	Present     bool
	Position    Point
	HasIdentity bool
	Identity    uint32
}

// Absent returns an observation meaning "no target this cycle".
func Absent() Observation {
	return Observation{}
}

// At returns a present observation at the given pixel position.
func At(x, y int) Observation {
	return Observation{Present: true, Position: Point{X: x, Y: y}}
}

// WithIdentity returns a copy of o tagged with a resolved identity.
func (o Observation) WithIdentity(id uint32) Observation {
	o.HasIdentity = true
	o.Identity = id
	return o
}

func (o Observation) String() string {
	if !o.Present {
		return "absent"
	}
	if o.HasIdentity {
		return fmt.Sprintf("(%d,%d) id=%d", o.Position.X, o.Position.Y, o.Identity)
	}
	return fmt.Sprintf("(%d,%d)", o.Position.X, o.Position.Y)
}

// Report is what a perception process publishes per frame.
// Identity is set when the publisher already resolved it (e.g. a tracker id);
// Embedding is set when the control loop should resolve it from identity memory.
type Report struct {
	Position  *Point    `json:"position,omitempty"`
	Identity  *uint32   `json:"identity,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`

	// At is when the report was captured. Stamped on receipt if zero.
	At time.Time `json:"-"`
}

// Observation converts the report into an Observation, ignoring the embedding.
func (r Report) Observation() Observation {
	if r.Position == nil {
		return Absent()
	}
	obs := At(r.Position.X, r.Position.Y)
	if r.Identity != nil {
		obs = obs.WithIdentity(*r.Identity)
	}
	return obs
}
