package control

import (
	"time"

	"github.com/teslashibe/go-pantilt/pkg/task"
	"github.com/teslashibe/go-pantilt/pkg/tracking"
)

// PacketView is a control packet as shown on the dashboard.
type PacketView struct {
	Kind     uint8     `json:"kind"`
	KindName string    `json:"kind_name"`
	X        uint16    `json:"x"`
	Y        uint16    `json:"y"`
	TaskID   task.ID   `json:"task_id,omitempty"` // Task that produced it; empty when idle
	Sent     bool      `json:"sent"`              // False for idle cycles with EmitIdle off
	At       time.Time `json:"at"`
}

// Status is a snapshot of the loop for readers outside the control
// goroutine. It is replaced, never mutated, after every cycle.
type Status struct {
	Running bool   `json:"running"`
	Cycles  uint64 `json:"cycles"`
	Sent    uint64 `json:"sent"`

	Active *task.Snapshot  `json:"active,omitempty"`
	Queue  []task.Snapshot `json:"queue"`

	Observation string           `json:"observation"`
	Goal        task.Goal        `json:"goal"`
	Position    tracking.Command `json:"position"`
	LastPacket  *PacketView      `json:"last_packet,omitempty"`

	Tuning     tracking.TuningParams `json:"tuning"`
	EmitIdle   bool                  `json:"emit_idle"`
	Identities int                   `json:"identities"`
	Dropped    uint64                `json:"dropped_reports"`

	UpdatedAt time.Time `json:"updated_at"`
}

// StateUpdater receives loop status for a dashboard.
// Both methods are called from the control goroutine and must not block.
type StateUpdater interface {
	UpdateStatus(s Status)
	AddLog(logType, message string)
}
