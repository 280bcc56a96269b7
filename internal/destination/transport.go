package destination

import (
	"context"
	"time"
)

// Conn is the transport connection to one destination. Implementations
// live outside this package; the health core only opens, closes and sends
// through them. Send suspends the calling goroutine until the transport
// completes the operation and must always return a Reply; transport
// errors are expressed as error outcomes, never as Go errors.
type Conn interface {
	Send(ctx context.Context, req *Request, timeout time.Duration) Reply
	Close() error

	SetThrottle(maxInflight, maxPending int)
	UpdateTimeout(timeout time.Duration)

	PendingCount() int
	InflightCount() int
}

// StatusCallbacks are invoked by the transport on connectivity
// transitions. Callbacks may fire from transport goroutines; the
// destination serializes them internally.
type StatusCallbacks struct {
	OnUp   func()
	OnDown func(reason error)
}

// Dialer creates connections. A Destination dials lazily on first send
// and re-dials after its connection was torn down.
type Dialer interface {
	Dial(endpoint string, callbacks StatusCallbacks) (Conn, error)
}

// ActiveList is the slice of the destination registry a handle needs: it
// marks itself active while probing so idle sweeps leave it alone, and
// deregisters on destruction.
type ActiveList interface {
	MarkActive(d *Destination)
	Remove(d *Destination)
}
