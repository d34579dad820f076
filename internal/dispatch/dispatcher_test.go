package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartloop/assistant-go/internal/protocol"
)

func TestDispatchDeliversInRegistrationOrder(t *testing.T) {
	d := New(nil)

	var order []string
	d.On(protocol.EventToken, func(*protocol.Event) { order = append(order, "first") })
	d.On(protocol.EventToken, func(*protocol.Event) { order = append(order, "second") })
	d.On(All, func(*protocol.Event) { order = append(order, "wildcard") })

	d.Dispatch([]byte(`{"type":"token","data":{"content":"x"}}`))

	assert.Equal(t, []string{"first", "second", "wildcard"}, order)
}

func TestDispatchRoutesByType(t *testing.T) {
	d := New(nil)

	var tokens, pings int
	d.On(protocol.EventToken, func(*protocol.Event) { tokens++ })
	d.On(protocol.EventPing, func(*protocol.Event) { pings++ })

	d.Dispatch([]byte(`{"type":"token","data":{"content":"x"}}`))
	d.Dispatch([]byte(`{"type":"ping"}`))
	d.Dispatch([]byte(`{"type":"done"}`))

	assert.Equal(t, 1, tokens)
	assert.Equal(t, 1, pings)
}

func TestDispatchDropsBadFrames(t *testing.T) {
	d := New(nil)

	var events []string
	d.On(All, func(ev *protocol.Event) { events = append(events, ev.Type) })

	d.Dispatch([]byte(`{"type":"token","data":{"content":"a"}}`))
	d.Dispatch([]byte(`{"type":"token"`))       // malformed
	d.Dispatch([]byte(`{"type":"mystery"}`))    // unknown type
	d.Dispatch([]byte(`{"data":{"x":1}}`))      // missing type
	d.Dispatch([]byte(`{"type":"done"}`))

	// Bad frames are dropped; the stream continues.
	assert.Equal(t, []string{"token", "done"}, events)
}

func TestHandlerPanicIsolation(t *testing.T) {
	d := New(nil)

	var after int
	d.On(protocol.EventToken, func(*protocol.Event) { panic("render bug") })
	d.On(protocol.EventToken, func(*protocol.Event) { after++ })

	require.NotPanics(t, func() {
		d.Dispatch([]byte(`{"type":"token","data":{"content":"x"}}`))
	})
	assert.Equal(t, 1, after, "panicking handler must not block later handlers")

	// Dispatcher state survives the panic.
	d.Dispatch([]byte(`{"type":"token","data":{"content":"y"}}`))
	assert.Equal(t, 2, after)
}

func TestSubscriptionCancel(t *testing.T) {
	d := New(nil)

	var kept, removed int
	d.On(protocol.EventToken, func(*protocol.Event) { kept++ })
	sub := d.On(protocol.EventToken, func(*protocol.Event) { removed++ })

	d.Dispatch([]byte(`{"type":"token","data":{"content":"x"}}`))
	sub.Cancel()
	sub.Cancel() // safe to repeat
	d.Dispatch([]byte(`{"type":"token","data":{"content":"y"}}`))

	assert.Equal(t, 2, kept)
	assert.Equal(t, 1, removed)
}

func TestCancelWildcard(t *testing.T) {
	d := New(nil)

	var calls int
	sub := d.On(All, func(*protocol.Event) { calls++ })
	sub.Cancel()

	d.Dispatch([]byte(`{"type":"done"}`))
	assert.Zero(t, calls)
}

func TestCloseSilencesHandlers(t *testing.T) {
	d := New(nil)

	var calls int
	d.On(All, func(*protocol.Event) { calls++ })

	d.Dispatch([]byte(`{"type":"done"}`))
	d.Close()
	d.Dispatch([]byte(`{"type":"done"}`))

	assert.Equal(t, 1, calls, "no handler may fire after Close")

	// Registration after Close is a no-op.
	d.On(All, func(*protocol.Event) { calls++ })
	d.Dispatch([]byte(`{"type":"done"}`))
	assert.Equal(t, 1, calls)
}

func TestZeroSubscriptionCancel(t *testing.T) {
	var sub Subscription
	assert.NotPanics(t, func() { sub.Cancel() })
}
