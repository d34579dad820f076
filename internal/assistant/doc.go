// Package assistant provides the streaming session client for the shopping
// assistant orchestrator.
//
// A Client owns a single long-lived duplex connection, reassembles
// token-by-token streamed answers into coherent messages, tracks the
// awaiting-clarification sub-state that changes how the next user utterance
// is framed on the wire, and recovers transparently from transport drops.
// Front ends supply a transport and a rendering projection; the state machine
// between them is shared.
//
// # Architecture
//
//   - Client: facade wiring the connection manager, event dispatcher, stream
//     accumulator, session state, and frame composer together
//   - Callback-based API: register rendering callbacks for connection,
//     streaming, clarification, results, and error events
//   - Reconnection: exponential backoff with a bounded attempt count; only a
//     caller-initiated Disconnect suppresses it
//
// Basic usage:
//
//	transport, err := conn.NewWebsocketTransport("wss://api.example.com/ws/chat", sessionID, userID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client := assistant.New(transport, sessionID, userID, conn.DefaultConfig(), assistant.Callbacks{
//	    OnStreamUpdate: func(partial string) {
//	        fmt.Print("\r" + partial)
//	    },
//	    OnAssistantMessage: func(text string) {
//	        fmt.Println(text)
//	    },
//	}, nil)
//
//	ctx := context.Background()
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	if err := client.SendText("blue running shoes under $100"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Clarification turns
//
// When the orchestrator needs disambiguating input it pushes a clarification
// event and pauses. The next SendText answers it: the client frames the text
// as an answer instead of a message, exactly once per clarification. A
// terminal event arriving first abandons the pending question.
package assistant
