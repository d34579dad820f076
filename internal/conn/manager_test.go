package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport: tests script dial outcomes and
// drop the connection at will.
type fakeTransport struct {
	mu        sync.Mutex
	openErrs  []error
	openTimes []time.Time
	sent      [][]byte
	closes    int
	dieOnOpen bool
	onMessage func([]byte)
	onClose   func(error)
}

func (t *fakeTransport) Open(ctx context.Context, onMessage func([]byte), onClose func(error)) error {
	t.mu.Lock()

	t.openTimes = append(t.openTimes, time.Now())
	if len(t.openErrs) > 0 {
		err := t.openErrs[0]
		t.openErrs = t.openErrs[1:]
		if err != nil {
			t.mu.Unlock()
			return err
		}
	}
	t.onMessage = onMessage
	t.onClose = onClose
	die := t.dieOnOpen
	t.dieOnOpen = false
	t.mu.Unlock()

	// The connection opened and died before the dialer got the word out.
	if die {
		onClose(errors.New("connection reset during dial"))
	}
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, data)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

// drop simulates the peer closing the connection.
func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	onClose := t.onClose
	t.mu.Unlock()
	onClose(err)
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.openTimes)
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) failNextOpens(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < n; i++ {
		t.openErrs = append(t.openErrs, errors.New("dial refused"))
	}
}

func testConfig() Config {
	return Config{
		HeartbeatInterval:    0, // off unless the test wants it
		ReconnectBase:        10 * time.Millisecond,
		MaxReconnectAttempts: 3,
		ConnectTimeout:       time.Second,
	}
}

func TestConnectTransitions(t *testing.T) {
	ft := &fakeTransport{}

	var states []State
	var mu sync.Mutex
	m := NewManager(ft, testConfig(), Callbacks{
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateOpen, m.State())

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateOpen}, states)
	mu.Unlock()
}

func TestConnectWhileOpenFails(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), Callbacks{}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	var cerr *ConnectionError
	assert.ErrorAs(t, err, &cerr)
}

func TestConnectDialFailure(t *testing.T) {
	ft := &fakeTransport{}
	ft.failNextOpens(1)
	m := NewManager(ft, testConfig(), Callbacks{}, nil, nil)

	err := m.Connect(context.Background())
	require.Error(t, err)

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StateDisconnected, m.State())

	// A failed initial dial is not retried automatically.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ft.openCount())
}

func TestSendWhileNotOpen(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), Callbacks{}, nil, nil)

	err := m.Send([]byte("frame"))
	assert.ErrorIs(t, err, ErrNotConnected)

	// Caller misuse never schedules a reconnect.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ft.openCount())
}

func TestSendWhileOpen(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), Callbacks{}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Send([]byte("frame")))
	assert.Equal(t, 1, ft.sentCount())
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), Callbacks{}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))
	ft.drop(errors.New("peer reset"))

	require.Eventually(t, func() bool {
		return m.State() == StateOpen
	}, time.Second, 5*time.Millisecond, "manager should reconnect on its own")

	assert.Equal(t, 2, ft.openCount())
	assert.Equal(t, 0, m.Attempts(), "attempt counter resets on successful open")
}

func TestReconnectBackoffSchedule(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), Callbacks{}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))

	ft.failNextOpens(2)
	dropTime := time.Now()
	ft.drop(errors.New("peer reset"))

	require.Eventually(t, func() bool {
		return m.State() == StateOpen
	}, time.Second, 5*time.Millisecond)

	ft.mu.Lock()
	opens := append([]time.Time(nil), ft.openTimes...)
	ft.mu.Unlock()

	// opens[0] is the initial connect; attempts 1..3 follow the drop.
	require.Len(t, opens, 4)
	base := testConfig().ReconnectBase
	assert.GreaterOrEqual(t, opens[1].Sub(dropTime), base, "attempt 1 no earlier than base")
	assert.GreaterOrEqual(t, opens[2].Sub(opens[1]), 2*base, "attempt 2 no earlier than 2*base")
	assert.GreaterOrEqual(t, opens[3].Sub(opens[2]), 4*base, "attempt 3 no earlier than 4*base")
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	ft := &fakeTransport{}

	fatalCh := make(chan error, 4)
	m := NewManager(ft, testConfig(), Callbacks{
		OnFatal: func(err error) { fatalCh <- err },
	}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))

	ft.failNextOpens(10)
	ft.drop(errors.New("peer reset"))

	select {
	case err := <-fatalCh:
		var cerr *ConnectionError
		require.ErrorAs(t, err, &cerr)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, testConfig().MaxReconnectAttempts, cerr.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("fatal error never surfaced")
	}

	// Exactly max attempts were made after the initial connect, then no more.
	attempts := ft.openCount() - 1
	assert.Equal(t, testConfig().MaxReconnectAttempts, attempts)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, attempts+1, ft.openCount(), "no further attempts after giving up")

	select {
	case <-fatalCh:
		t.Fatal("fatal error surfaced more than once")
	default:
	}
}

func TestDisconnectSetsLatch(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), Callbacks{}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Disconnect())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, ft.closes)

	// The read loop reporting the close afterwards must not reconnect.
	ft.drop(errors.New("use of closed connection"))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ft.openCount())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBase = 50 * time.Millisecond

	ft := &fakeTransport{}
	m := NewManager(ft, cfg, Callbacks{}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))
	ft.drop(errors.New("peer reset"))

	require.Eventually(t, func() bool {
		return m.State() == StateReconnecting
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Disconnect())

	// The scheduled attempt must never fire.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, ft.openCount())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestCloseRacingDialDoesNotReportOpen(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBase = 100 * time.Millisecond

	ft := &fakeTransport{dieOnOpen: true}

	var states []State
	var mu sync.Mutex
	m := NewManager(ft, cfg, Callbacks{
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))

	// The close handler owns the state; the dial must not stomp it with Open.
	assert.Equal(t, StateReconnecting, m.State())

	require.Eventually(t, func() bool {
		return m.State() == StateOpen
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateConnecting, StateDisconnected, StateReconnecting,
		StateConnecting, StateOpen,
	}, states)
}

func TestReconnectAllowedAfterFreshConnect(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testConfig(), Callbacks{}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Disconnect())

	// A new Connect clears the latch; drops are recoverable again.
	require.NoError(t, m.Connect(context.Background()))
	ft.drop(errors.New("peer reset"))

	require.Eventually(t, func() bool {
		return m.State() == StateOpen
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, ft.openCount())
}

func TestHeartbeatSendsKeepalive(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond

	ft := &fakeTransport{}
	m := NewManager(ft, cfg, Callbacks{}, func() []byte { return []byte("keepalive") }, nil)

	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return ft.sentCount() >= 2
	}, time.Second, time.Millisecond, "heartbeat should tick repeatedly")

	require.NoError(t, m.Disconnect())
	sent := ft.sentCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sent, ft.sentCount(), "heartbeat must stop on disconnect")
}

func TestInboundMessagesForwarded(t *testing.T) {
	ft := &fakeTransport{}

	var got [][]byte
	var mu sync.Mutex
	m := NewManager(ft, testConfig(), Callbacks{
		OnMessage: func(data []byte) {
			mu.Lock()
			got = append(got, data)
			mu.Unlock()
		},
	}, nil, nil)

	require.NoError(t, m.Connect(context.Background()))
	ft.onMessage([]byte(`{"type":"ping"}`))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, `{"type":"ping"}`, string(got[0]))
}
