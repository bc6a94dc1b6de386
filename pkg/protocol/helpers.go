package protocol

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewObservationMessage creates an observation message for a detected target.
func NewObservationMessage(x, y int, identity *uint32, embedding []float64, frameID uint64) (*Message, error) {
	return NewMessage(TypeObservation, ObservationData{
		X:         &x,
		Y:         &y,
		Identity:  identity,
		Embedding: embedding,
		FrameID:   frameID,
	})
}

// NewAbsentMessage creates an observation message for a frame with no target.
func NewAbsentMessage(frameID uint64) (*Message, error) {
	return NewMessage(TypeObservation, ObservationData{FrameID: frameID})
}

// NewTaskMessage creates a task request message
func NewTaskMessage(data TaskData) (*Message, error) {
	return NewMessage(TypeTask, data)
}

// NewAckMessage creates a task acknowledgement. A nil error means accepted.
func NewAckMessage(replyTo, taskID string, err error) (*Message, error) {
	ack := AckData{ReplyTo: replyTo, TaskID: taskID}
	if err != nil {
		ack.Error = err.Error()
		ack.TaskID = ""
	}
	return NewMessage(TypeAck, ack)
}

// NewPacketMessage creates a monitoring copy of a control packet
func NewPacketMessage(p ControlPacket, taskID string) (*Message, error) {
	return NewMessage(TypePacket, PacketData{
		Kind:   p.Kind,
		X:      p.X,
		Y:      p.Y,
		TaskID: taskID,
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: 0, // Will be set by NewMessage
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetObservationData extracts observation data from a message
func (m *Message) GetObservationData() (*ObservationData, error) {
	var data ObservationData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTaskData extracts a task request from a message
func (m *Message) GetTaskData() (*TaskData, error) {
	var data TaskData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAckData extracts a task acknowledgement from a message
func (m *Message) GetAckData() (*AckData, error) {
	var data AckData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPacketData extracts packet data from a message
func (m *Message) GetPacketData() (*PacketData, error) {
	var data PacketData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
