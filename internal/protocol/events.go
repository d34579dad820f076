package protocol

import (
	"encoding/json"
	"fmt"
)

// Event types pushed by the orchestrator over the WebSocket connection.
const (
	EventConnected     = "connected"
	EventProgress      = "progress"
	EventThinking      = "thinking"
	EventToken         = "token"
	EventClarification = "clarification"
	EventResults       = "results"
	EventError         = "error"
	EventDone          = "done"
	EventPing          = "ping"
)

var knownEventTypes = map[string]struct{}{
	EventConnected:     {},
	EventProgress:      {},
	EventThinking:      {},
	EventToken:         {},
	EventClarification: {},
	EventResults:       {},
	EventError:         {},
	EventDone:          {},
	EventPing:          {},
}

// Event is one server-pushed frame. Data stays raw until the consumer knows
// which payload struct to decode it into.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// ProtocolError reports a frame that could not be decoded or carries an
// unrecognized type. Frames failing this way are dropped; a single bad frame
// never aborts the stream.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// DecodeEvent parses a raw inbound frame and validates its type.
func DecodeEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, &ProtocolError{Reason: "malformed frame", Err: err}
	}
	if ev.Type == "" {
		return nil, &ProtocolError{Reason: "frame missing type"}
	}
	if _, ok := knownEventTypes[ev.Type]; !ok {
		return nil, &ProtocolError{Reason: "unknown event type " + ev.Type}
	}
	return &ev, nil
}

// IsTerminal reports whether an event type ends an open token stream.
func IsTerminal(eventType string) bool {
	switch eventType {
	case EventClarification, EventResults, EventError, EventDone:
		return true
	}
	return false
}

// ConnectedData is the payload of a connected event.
type ConnectedData struct {
	SessionID string `json:"session_id"`
}

// ProgressData is the payload of progress and thinking events.
type ProgressData struct {
	Step    string `json:"step,omitempty"`
	Message string `json:"message"`
}

// TokenData is the payload of a token event, one fragment of a streamed answer.
type TokenData struct {
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete,omitempty"`
}

// ClarificationData is the payload of a clarification event.
type ClarificationData struct {
	Question    string   `json:"question"`
	Context     string   `json:"context,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ResultsData is the payload of a results event. RequirementSpec is kept raw;
// its shape belongs to the orchestrator and the client only forwards it.
type ResultsData struct {
	Products        []ProductSummary `json:"products"`
	RequirementSpec json.RawMessage  `json:"requirement_spec,omitempty"`
	FinalResponse   string           `json:"final_response,omitempty"`
}

// ErrorData is the payload of a server error event.
type ErrorData struct {
	Error       string `json:"error"`
	Details     string `json:"details,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// DoneData is the payload of a done event.
type DoneData struct {
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ProductSummary is one ranked product in a results event.
type ProductSummary struct {
	ID          string  `json:"id,omitempty"`
	Title       string  `json:"title"`
	Price       float64 `json:"price,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	Condition   string  `json:"condition,omitempty"`
	Marketplace string  `json:"marketplace,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	ProductURL  string  `json:"product_url,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
}

// DecodePayload unmarshals the event data into the given payload struct.
func (e *Event) DecodePayload(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &ProtocolError{Reason: "malformed " + e.Type + " payload", Err: err}
	}
	return nil
}
