package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/cartloop/assistant-go/internal/conn"
	"github.com/cartloop/assistant-go/internal/dispatch"
	"github.com/cartloop/assistant-go/internal/logger"
	"github.com/cartloop/assistant-go/internal/protocol"
	"github.com/cartloop/assistant-go/internal/session"
	"github.com/cartloop/assistant-go/internal/stream"
)

// ServerSignaledError is an error event pushed by the orchestrator. It is a
// recoverable notification; the connection stays open.
type ServerSignaledError struct {
	Message     string
	Details     string
	Recoverable bool
}

func (e *ServerSignaledError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("server error: %s: %s", e.Message, e.Details)
	}
	return "server error: " + e.Message
}

// Callbacks is the rendering surface a front end plugs in. Nil callbacks are
// skipped. Callbacks fire on the connection's read path in event-arrival
// order and should hand work off rather than block.
type Callbacks struct {
	// OnConnected fires when the server acknowledges the session
	OnConnected func(sessionID string)
	// OnStatus fires for progress and thinking updates
	OnStatus func(step, message string)
	// OnStreamStart fires with the first fragment of a streamed answer
	OnStreamStart func(partial string)
	// OnStreamUpdate fires with the concatenated text after each fragment
	OnStreamUpdate func(partial string)
	// OnAssistantMessage fires once per finalized assistant message
	OnAssistantMessage func(text string)
	// OnClarification fires when the assistant needs more input to proceed
	OnClarification func(question string)
	// OnResults fires with the ranked product bundle
	OnResults func(results protocol.ResultsData)
	// OnServerError fires with a *ServerSignaledError
	OnServerError func(err error)
	// OnDone fires when the server finishes a turn
	OnDone func(message string)
	// OnConnectionState fires on every transport state transition
	OnConnectionState func(state conn.State)
	// OnConnectionError fires exactly once when reconnection gives up
	OnConnectionError func(err error)
}

// Client is the streaming session protocol client: it owns one long-lived
// duplex connection to the assistant backend, reassembles token streams into
// coherent messages, tracks the awaiting-clarification sub-state, and
// recovers transparently from transport drops.
type Client struct {
	cb  Callbacks
	log *logger.Logger

	state      *session.State
	composer   *session.Composer
	dispatcher *dispatch.Dispatcher
	acc        *stream.Accumulator
	mgr        *conn.Manager
}

// New creates a Client for one session over the given transport.
func New(transport conn.Transport, sessionID, userID string, cfg conn.Config, cb Callbacks, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Global()
	}

	c := &Client{
		cb:  cb,
		log: log.WithPrefix("assistant"),
	}

	c.state = session.NewState(sessionID, userID)
	c.composer = session.NewComposer(c.state)
	c.dispatcher = dispatch.New(log)
	c.acc = &stream.Accumulator{}

	c.mgr = conn.NewManager(transport, cfg, conn.Callbacks{
		OnMessage:     c.dispatcher.Dispatch,
		OnStateChange: c.handleConnectionState,
		OnFatal:       c.handleConnectionFatal,
	}, c.keepaliveFrame, log)

	c.registerHandlers()
	return c
}

func (c *Client) registerHandlers() {
	c.dispatcher.On(protocol.EventConnected, c.handleConnected)
	c.dispatcher.On(protocol.EventProgress, c.handleStatus)
	c.dispatcher.On(protocol.EventThinking, c.handleStatus)
	c.dispatcher.On(protocol.EventToken, c.handleToken)
	c.dispatcher.On(protocol.EventClarification, c.handleClarification)
	c.dispatcher.On(protocol.EventResults, c.handleResults)
	c.dispatcher.On(protocol.EventError, c.handleServerError)
	c.dispatcher.On(protocol.EventDone, c.handleDone)
	c.dispatcher.On(protocol.EventPing, c.handlePing)
}

// Connect opens the connection. The session identity travels in the
// connection URI, so the server greets with a connected event.
func (c *Client) Connect(ctx context.Context) error {
	return c.mgr.Connect(ctx)
}

// Disconnect says goodbye and tears the connection down. After it returns no
// callback fires again for this instance.
func (c *Client) Disconnect() error {
	if c.mgr.State() == conn.StateOpen {
		if data, err := c.composer.Disconnect().Encode(); err == nil {
			_ = c.mgr.Send(data)
		}
	}
	err := c.mgr.Disconnect()
	c.dispatcher.Close()
	return err
}

// SendText sends one user utterance. Blank text fails with
// session.ErrEmptyText before touching the wire; sending while not connected
// fails with conn.ErrNotConnected and leaves the clarification flag intact.
// While the session is awaiting clarification the text goes out as an answer
// frame, consuming the flag; otherwise as a message frame.
func (c *Client) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return session.ErrEmptyText
	}
	if c.mgr.State() != conn.StateOpen {
		return conn.ErrNotConnected
	}

	frame, err := c.composer.UserText(text)
	if err != nil {
		return err
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	return c.mgr.Send(data)
}

// Session returns the immutable session identity.
func (c *Client) Session() session.Session {
	return c.state.Session()
}

// ConnectionState returns the current transport state.
func (c *Client) ConnectionState() conn.State {
	return c.mgr.State()
}

// AwaitingClarification reports whether the next utterance answers a pending
// clarifying question.
func (c *Client) AwaitingClarification() bool {
	return c.state.AwaitingClarification()
}

func (c *Client) keepaliveFrame() []byte {
	data, err := c.composer.Pong().Encode()
	if err != nil {
		return nil
	}
	return data
}

func (c *Client) handleConnectionState(s conn.State) {
	if s == conn.StateReconnecting || s == conn.StateDisconnected {
		// A drop mid-stream leaves a half-built answer; it will never be
		// finalized, so drop it rather than glue fragments across connects.
		c.acc.Abandon()
	}
	if c.cb.OnConnectionState != nil {
		c.cb.OnConnectionState(s)
	}
}

func (c *Client) handleConnectionFatal(err error) {
	if c.cb.OnConnectionError != nil {
		c.cb.OnConnectionError(err)
	}
}

func (c *Client) handleConnected(ev *protocol.Event) {
	var data protocol.ConnectedData
	if err := ev.DecodePayload(&data); err != nil {
		c.log.Warn("%v", err)
		return
	}
	if data.SessionID == "" {
		data.SessionID = ev.SessionID
	}
	if c.cb.OnConnected != nil {
		c.cb.OnConnected(data.SessionID)
	}
}

func (c *Client) handleStatus(ev *protocol.Event) {
	var data protocol.ProgressData
	if err := ev.DecodePayload(&data); err != nil {
		c.log.Warn("%v", err)
		return
	}
	if c.cb.OnStatus != nil {
		c.cb.OnStatus(data.Step, data.Message)
	}
}

func (c *Client) handleToken(ev *protocol.Event) {
	var data protocol.TokenData
	if err := ev.DecodePayload(&data); err != nil {
		c.log.Warn("%v", err)
		return
	}

	partial, started := c.acc.Append(data.Content)
	if started {
		if c.cb.OnStreamStart != nil {
			c.cb.OnStreamStart(partial)
		}
		return
	}
	if c.cb.OnStreamUpdate != nil {
		c.cb.OnStreamUpdate(partial)
	}
}

// flushStream finalizes an open token stream, if any, and surfaces it as one
// assistant message.
func (c *Client) flushStream() {
	if text, ok := c.acc.Flush(); ok {
		if c.cb.OnAssistantMessage != nil {
			c.cb.OnAssistantMessage(text)
		}
	}
}

func (c *Client) handleClarification(ev *protocol.Event) {
	c.flushStream()

	var data protocol.ClarificationData
	if err := ev.DecodePayload(&data); err != nil {
		c.log.Warn("%v", err)
		return
	}

	c.state.MarkAwaitingClarification()
	if c.cb.OnClarification != nil {
		c.cb.OnClarification(data.Question)
	}
}

func (c *Client) handleResults(ev *protocol.Event) {
	c.flushStream()
	c.state.AbandonClarification()

	var data protocol.ResultsData
	if err := ev.DecodePayload(&data); err != nil {
		c.log.Warn("%v", err)
		return
	}

	// The server may mirror the streamed answer in final_response. Show it
	// only when it differs from what streaming already produced.
	if data.FinalResponse != "" {
		if text, ok := c.acc.Finalize(data.FinalResponse); ok {
			if c.cb.OnAssistantMessage != nil {
				c.cb.OnAssistantMessage(text)
			}
		}
	}

	if c.cb.OnResults != nil {
		c.cb.OnResults(data)
	}
}

func (c *Client) handleServerError(ev *protocol.Event) {
	c.flushStream()
	c.state.AbandonClarification()

	var data protocol.ErrorData
	if err := ev.DecodePayload(&data); err != nil {
		c.log.Warn("%v", err)
		return
	}

	c.log.Warn("server signaled error: %s", data.Error)
	if c.cb.OnServerError != nil {
		c.cb.OnServerError(&ServerSignaledError{
			Message:     data.Error,
			Details:     data.Details,
			Recoverable: data.Recoverable,
		})
	}
}

func (c *Client) handleDone(ev *protocol.Event) {
	c.flushStream()
	c.state.AbandonClarification()

	var data protocol.DoneData
	if err := ev.DecodePayload(&data); err != nil {
		c.log.Warn("%v", err)
		return
	}

	if data.Message != "" {
		if text, ok := c.acc.Finalize(data.Message); ok {
			if c.cb.OnAssistantMessage != nil {
				c.cb.OnAssistantMessage(text)
			}
		}
	}

	if c.cb.OnDone != nil {
		c.cb.OnDone(data.Message)
	}
}

func (c *Client) handlePing(ev *protocol.Event) {
	data, err := c.composer.Pong().Encode()
	if err != nil {
		return
	}
	if err := c.mgr.Send(data); err != nil {
		c.log.Debug("pong send failed: %v", err)
	}
}
