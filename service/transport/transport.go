package transport

import (
	"context"
)

// AnyRank is the wildcard source accepted by Receive: the call completes with
// the first envelope ready from any sender.
const AnyRank = -1

// Transport is an abstract point-to-point message layer connecting a fixed
// group of ranks. Delivery is FIFO per ordered (sender, receiver) pair; no
// ordering is guaranteed across different senders. Any error returned by Send
// or Receive is fatal for the run: peer state after a transport fault is
// undefined, so callers must not retry.
type Transport interface {
	// Send enqueues one envelope for the target rank without waiting for the
	// receiver. The sender rank is carried as implicit metadata.
	Send(ctx context.Context, from, to int, env Envelope) error

	// Receive blocks until an envelope from the requested rank (or, with
	// AnyRank, from any rank) is available and returns it together with the
	// actual sender rank.
	Receive(ctx context.Context, from, to int) (Envelope, int, error)

	// Ranks returns the fixed group size, master included.
	Ranks() int
}
