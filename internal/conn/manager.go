package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cartloop/assistant-go/internal/logger"
)

// State represents the current state of the connection
type State int

const (
	// StateDisconnected indicates no transport is open
	StateDisconnected State = iota
	// StateConnecting indicates a dial is in progress
	StateConnecting
	// StateOpen indicates the transport is open and usable
	StateOpen
	// StateClosing indicates a caller-initiated teardown is in progress
	StateClosing
	// StateReconnecting indicates a retry is scheduled after an unexpected close
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyConnected is returned by Connect while a connection is open
	// or being opened.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected is returned by Send when the connection is not open.
	// It is synchronous caller misuse and never triggers a reconnect.
	ErrNotConnected = errors.New("not connected")

	// ErrRetriesExhausted is wrapped into the terminal ConnectionError after
	// the last reconnect attempt fails.
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
)

// ConnectionError is a fatal connection failure: the initial open failed, or
// every reconnect attempt was used up. No further retries follow it.
type ConnectionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Config holds connection manager tunables
type Config struct {
	// HeartbeatInterval is the period between keepalive frames once open
	HeartbeatInterval time.Duration
	// ReconnectBase is the delay before the first reconnect attempt; attempt
	// n waits base * 2^(n-1)
	ReconnectBase time.Duration
	// MaxReconnectAttempts bounds automatic reconnection
	MaxReconnectAttempts int
	// ConnectTimeout bounds a single dial
	ConnectTimeout time.Duration
}

// DefaultConfig returns the default connection tunables
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		ReconnectBase:        time.Second,
		MaxReconnectAttempts: 5,
		ConnectTimeout:       10 * time.Second,
	}
}

// Callbacks are the Manager's upward surface. They are invoked from the
// Manager's internal goroutines and must not call back into the Manager.
type Callbacks struct {
	// OnMessage receives every raw inbound frame
	OnMessage func([]byte)
	// OnStateChange fires on every state transition
	OnStateChange func(State)
	// OnFatal fires exactly once when reconnect attempts are exhausted
	OnFatal func(error)
}

// Manager owns the transport lifecycle: dialing, heartbeat, and the
// reconnection policy. A caller-initiated Disconnect sets a latch that is the
// only way automatic reconnection is suppressed; any other close path keeps
// the connection eligible for recovery.
type Manager struct {
	cfg       Config
	transport Transport
	cb        Callbacks
	keepalive func() []byte
	log       *logger.Logger

	mu             sync.Mutex
	state          State
	noReconnect    bool
	attempts       int
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
}

// NewManager creates a Manager over the given transport. keepalive, when
// non-nil, produces the frame sent on each heartbeat tick.
func NewManager(transport Transport, cfg Config, cb Callbacks, keepalive func() []byte, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Global()
	}
	defaults := DefaultConfig()
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaults.ReconnectBase
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	return &Manager{
		cfg:       cfg,
		transport: transport,
		cb:        cb,
		keepalive: keepalive,
		log:       log.WithPrefix("conn"),
	}
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the current reconnect attempt counter
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.cb.OnStateChange != nil {
		m.cb.OnStateChange(s)
	}
}

// Connect opens the transport. It fails with a ConnectionError when already
// connecting or open, or when the dial fails; a failed initial dial is not
// retried automatically.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return &ConnectionError{Op: "connect", Err: ErrAlreadyConnected}
	}
	m.noReconnect = false
	m.attempts = 0
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	err := m.transport.Open(dialCtx, m.handleMessage, m.handleTransportClose)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.setStateLocked(StateDisconnected)
		return &ConnectionError{Op: "connect", Err: err}
	}

	if m.state != StateConnecting {
		// The transport dropped (or Disconnect ran) between the dial
		// returning and this lock; whichever close path ran already owns the
		// state, and a heartbeat on the dead transport must not start.
		return nil
	}

	m.log.Info("connection open")
	m.setStateLocked(StateOpen)
	m.startHeartbeatLocked()
	return nil
}

// Send writes one outbound frame. It fails synchronously with
// ErrNotConnected when the connection is not open.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open {
		return ErrNotConnected
	}
	return m.transport.Send(data)
}

// Disconnect tears the connection down on behalf of the caller. It sets the
// no-reconnect latch and synchronously cancels the heartbeat and any pending
// reconnect timer before closing the transport.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.noReconnect = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()

	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateClosing)
	m.mu.Unlock()

	err := m.transport.Close()

	m.mu.Lock()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.log.Info("disconnected")
	return err
}

func (m *Manager) handleMessage(data []byte) {
	if m.cb.OnMessage != nil {
		m.cb.OnMessage(data)
	}
}

// handleTransportClose runs when the transport stops reading. Expected during
// a caller-initiated teardown; otherwise it starts the reconnection policy.
func (m *Manager) handleTransportClose(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.noReconnect || m.state == StateClosing || m.state == StateDisconnected {
		return
	}

	m.log.Warn("connection lost: %v", err)
	m.stopHeartbeatLocked()
	m.setStateLocked(StateDisconnected)
	m.scheduleReconnectLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	m.attempts++
	if m.attempts > m.cfg.MaxReconnectAttempts {
		m.log.Error("giving up after %d reconnect attempts", m.cfg.MaxReconnectAttempts)
		if m.cb.OnFatal != nil {
			fatal := &ConnectionError{
				Op:       "reconnect",
				Attempts: m.cfg.MaxReconnectAttempts,
				Err:      ErrRetriesExhausted,
			}
			go m.cb.OnFatal(fatal)
		}
		return
	}

	delay := m.cfg.ReconnectBase * time.Duration(1<<uint(m.attempts-1))
	m.log.Info("reconnect attempt %d/%d in %s", m.attempts, m.cfg.MaxReconnectAttempts, delay)
	m.setStateLocked(StateReconnecting)
	m.reconnectTimer = time.AfterFunc(delay, m.tryReconnect)
}

func (m *Manager) tryReconnect() {
	m.mu.Lock()
	// The latch may have been set after this timer fired but before it ran.
	if m.noReconnect {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	err := m.transport.Open(ctx, m.handleMessage, m.handleTransportClose)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.noReconnect {
		// Disconnect raced the dial; a transport opened after the latch is
		// unwanted.
		if err == nil {
			_ = m.transport.Close()
		}
		m.setStateLocked(StateDisconnected)
		return
	}

	if err != nil {
		m.log.Warn("reconnect attempt %d failed: %v", m.attempts, err)
		m.setStateLocked(StateDisconnected)
		m.scheduleReconnectLocked()
		return
	}

	if m.state != StateConnecting {
		// A close belonging to this dial already ran and scheduled the next
		// attempt; reporting open here would race it.
		return
	}

	m.log.Info("reconnected after %d attempt(s)", m.attempts)
	m.attempts = 0
	m.setStateLocked(StateOpen)
	m.startHeartbeatLocked()
}

func (m *Manager) startHeartbeatLocked() {
	if m.cfg.HeartbeatInterval <= 0 || m.keepalive == nil {
		return
	}
	m.stopHeartbeatLocked()

	stop := make(chan struct{})
	m.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if m.State() != StateOpen {
					continue
				}
				if data := m.keepalive(); data != nil {
					if err := m.transport.Send(data); err != nil {
						m.log.Debug("heartbeat send failed: %v", err)
					}
				}
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}
