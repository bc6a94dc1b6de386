// Package protocol defines the pan/tilt wire formats: the JSON WebSocket
// messages exchanged with perception processes and dashboards, and the
// fixed 5-byte control packet sent to the actuator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Perception → core messages
	TypeObservation MessageType = "observation" // Detection result for one frame
	TypeTask        MessageType = "task"        // Task request

	// Core → perception / dashboard messages
	TypeAck    MessageType = "ack"    // Task request outcome
	TypePacket MessageType = "packet" // Control packet just sent to the actuator
	TypeStatus MessageType = "status" // Loop status snapshot

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Perception → Core Message Types
// =============================================================================

// ObservationData is the detection result for one frame. A message with no
// position means nothing was detected.
type ObservationData struct {
	X         *int      `json:"x,omitempty"`         // Pixel column of the target center
	Y         *int      `json:"y,omitempty"`         // Pixel row of the target center
	Identity  *uint32   `json:"identity,omitempty"`  // Identity, when the detector already knows it
	Embedding []float64 `json:"embedding,omitempty"` // Face embedding for identity matching
	FrameID   uint64    `json:"frame_id,omitempty"`
}

// Present reports whether the observation has a position.
func (o ObservationData) Present() bool {
	return o.X != nil && o.Y != nil
}

// TaskData is a task request.
type TaskData struct {
	Kind     string   `json:"kind"`               // "track", "search" ("scan")
	Duration *float64 `json:"duration,omitempty"` // Seconds
	Target   *string  `json:"target,omitempty"`   // Identity number or label
	ReplyTo  string   `json:"reply_to,omitempty"` // Echoed in the ack
}

// =============================================================================
// Core → Perception Message Types
// =============================================================================

// AckData reports the outcome of a task request.
type AckData struct {
	ReplyTo string `json:"reply_to,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK reports whether the request was accepted.
func (a AckData) OK() bool {
	return a.Error == ""
}

// PacketData mirrors a control packet for monitoring.
type PacketData struct {
	Kind   uint8  `json:"kind"`
	X      uint16 `json:"x"`
	Y      uint16 `json:"y"`
	TaskID string `json:"task_id,omitempty"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
