package conn

import "context"

// Transport is the minimal duplex surface the Manager drives. Each front end
// supplies its own transport; the session state machine above it is shared.
//
// Open dials the peer and starts delivering inbound frames to onMessage.
// onClose fires once when the transport stops reading, with the error that
// ended it. A Transport may be opened again after it closes; reconnects reuse
// the same instance.
type Transport interface {
	Open(ctx context.Context, onMessage func([]byte), onClose func(error)) error
	Send(data []byte) error
	Close() error
}
