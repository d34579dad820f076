package protocol

import (
	"encoding/json"
	"time"
)

// Frame types sent by the client to the orchestrator.
const (
	FrameMessage    = "message"
	FrameAnswer     = "answer"
	FramePong       = "pong"
	FrameDisconnect = "disconnect"
)

// Frame is one client-to-server message. Every frame carries the session
// identity and a fresh timestamp.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewFrame builds an outbound frame with the current UTC time.
func NewFrame(frameType, sessionID, userID, message string) *Frame {
	return &Frame{
		Type:      frameType,
		SessionID: sessionID,
		UserID:    userID,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Encode serializes the frame for the wire.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}
