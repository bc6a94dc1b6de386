// Package task implements the behaviors the rig can run (tracking a person,
// sweeping to search for one) and the FIFO that sequences them.
package task

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a behavior. Its numeric value is the task id byte in every
// control packet, so values are fixed by the actuator firmware.
type Kind uint8

const (
	// KindTrack follows an observed target.
	KindTrack Kind = 0
	// KindSearch sweeps the pan axis on a timer.
	KindSearch Kind = 1
	// KindIdle is reported when no task is active.
	KindIdle Kind = 2
)

// ErrUnknownKind is returned for task requests naming an unsupported behavior.
var ErrUnknownKind = errors.New("unknown task kind")

// ParseKind maps a request kind to a Kind. "scan" is accepted as an alias for
// "search". Idle is not requestable.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "track", "follow":
		return KindTrack, nil
	case "search", "scan":
		return KindSearch, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func (k Kind) String() string {
	switch k {
	case KindTrack:
		return "track"
	case KindSearch:
		return "search"
	case KindIdle:
		return "idle"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
