package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Validation errors for task requests.
var (
	ErrInvalidDuration = errors.New("invalid task duration")
	ErrUnknownTarget   = errors.New("unknown task target")
)

// Request is a task request from a pointer click, the API, or the command parser.
//
// Example: {"kind": "track", "target": "dad", "duration": 10}
type Request struct {
	Kind     string   `json:"kind"`
	Duration *float64 `json:"duration,omitempty"` // Seconds
	Target   *string  `json:"target,omitempty"`   // Identity number or label
}

// UnmarshalJSON accepts "task" and "mode" as older spellings of "kind".
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind     string   `json:"kind"`
		Task     string   `json:"task"`
		Mode     string   `json:"mode"`
		Duration *float64 `json:"duration"`
		Target   *string  `json:"target"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Kind = raw.Kind
	if r.Kind == "" {
		r.Kind = raw.Task
	}
	if r.Kind == "" {
		r.Kind = raw.Mode
	}
	r.Duration = raw.Duration
	r.Target = raw.Target
	return nil
}

// NewSearchRequest returns a search request for the given duration.
func NewSearchRequest(d time.Duration) Request {
	secs := d.Seconds()
	return Request{Kind: "search", Duration: &secs}
}

// NewTrackRequest returns a track request. A zero identity means "whoever is visible".
func NewTrackRequest(identity uint32) Request {
	req := Request{Kind: "track"}
	if identity != 0 {
		target := strconv.FormatUint(uint64(identity), 10)
		req.Target = &target
	}
	return req
}

// duration converts the optional seconds field.
func (r Request) duration() (time.Duration, bool, error) {
	if r.Duration == nil {
		return 0, false, nil
	}
	secs := *r.Duration
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return 0, false, fmt.Errorf("%w: %v", ErrInvalidDuration, secs)
	}
	return time.Duration(secs * float64(time.Second)), true, nil
}

// TargetResolver maps a human target ("dad", "unknown_3") to an identity.
type TargetResolver interface {
	Resolve(target string) (uint32, bool)
}

// resolveTarget returns the bound identity for the request, if any.
// Numeric targets are taken as identities directly; labels go through the resolver.
func resolveTarget(target *string, resolver TargetResolver) (uint32, bool, error) {
	if target == nil || *target == "" {
		return 0, false, nil
	}
	if id, err := strconv.ParseUint(*target, 10, 32); err == nil && id > 0 {
		return uint32(id), true, nil
	}
	if resolver != nil {
		if id, ok := resolver.Resolve(*target); ok {
			return id, true, nil
		}
	}
	return 0, false, fmt.Errorf("%w: %q", ErrUnknownTarget, *target)
}
