// Package rank identifies a member of a dispatch group and binds it to the
// transport connecting the group. Rank 0 is the master; ranks 1..size-1 are
// workers.
package rank

import (
	"context"
	"fmt"

	"github.com/mrafieir/mpi-fanout/service/transport"
)

// Master is the rank that owns the task feed and dispatches work.
const Master = 0

// Context is one member's view of the group: its own rank, the fixed group
// size and the shared transport.
type Context struct {
	rank      int
	size      int
	transport transport.Transport
}

// New validates and returns a rank context.
func New(rank, size int, aTransport transport.Transport) (*Context, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid group size: %d", size)
	}
	if rank < 0 || rank >= size {
		return nil, transport.RankError(rank, size)
	}
	if aTransport == nil {
		return nil, fmt.Errorf("transport was nil")
	}
	if actual := aTransport.Ranks(); actual != size {
		return nil, fmt.Errorf("transport group size %d does not match %d", actual, size)
	}
	return &Context{rank: rank, size: size, transport: aTransport}, nil
}

// Rank returns this member's rank.
func (c *Context) Rank() int {
	return c.rank
}

// Size returns the group size, master included.
func (c *Context) Size() int {
	return c.size
}

// Workers returns the number of worker ranks.
func (c *Context) Workers() int {
	return c.size - 1
}

// IsMaster reports whether this member drives dispatch.
func (c *Context) IsMaster() bool {
	return c.rank == Master
}

// Send delivers an envelope to the target rank on behalf of this member.
func (c *Context) Send(ctx context.Context, to int, env transport.Envelope) error {
	return c.transport.Send(ctx, c.rank, to, env)
}

// Receive blocks until an envelope from the given rank arrives.
func (c *Context) Receive(ctx context.Context, from int) (transport.Envelope, int, error) {
	return c.transport.Receive(ctx, from, c.rank)
}

// ReceiveAny blocks until an envelope from any peer arrives and returns it
// with the sender's rank.
func (c *Context) ReceiveAny(ctx context.Context) (transport.Envelope, int, error) {
	return c.transport.Receive(ctx, transport.AnyRank, c.rank)
}
