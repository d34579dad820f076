package session

import (
	"errors"
	"strings"

	"github.com/cartloop/assistant-go/internal/protocol"
)

// ErrEmptyText is returned when user text trims to empty; blank input is
// rejected before it touches the wire.
var ErrEmptyText = errors.New("message text is empty")

// Composer builds well-formed outbound frames from the session state and the
// caller's intent.
type Composer struct {
	state *State
}

// NewComposer creates a Composer bound to the given session state.
func NewComposer(state *State) *Composer {
	return &Composer{state: state}
}

// UserText builds the frame for one user utterance. While the session is
// awaiting clarification the text answers the pending question and goes out
// as an answer frame; otherwise it is a plain message frame. Composing
// consumes the clarification flag regardless of content.
func (c *Composer) UserText(text string) (*protocol.Frame, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	frameType := protocol.FrameMessage
	if c.state.ConsumeClarification() {
		frameType = protocol.FrameAnswer
	}

	sess := c.state.Session()
	return protocol.NewFrame(frameType, sess.ID, sess.UserID, text), nil
}

// Pong builds the keepalive reply to a server ping.
func (c *Composer) Pong() *protocol.Frame {
	sess := c.state.Session()
	return protocol.NewFrame(protocol.FramePong, sess.ID, sess.UserID, "")
}

// Disconnect builds the clean-goodbye frame sent before closing the
// connection.
func (c *Composer) Disconnect() *protocol.Frame {
	sess := c.state.Session()
	return protocol.NewFrame(protocol.FrameDisconnect, sess.ID, sess.UserID, "")
}
