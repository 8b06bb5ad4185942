// Package memory provides an in-process transport connecting a fixed group of
// ranks through per-pair buffered channels.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/mrafieir/mpi-fanout/rank"
	"github.com/mrafieir/mpi-fanout/service/transport"
)

// Config holds memory transport settings
type Config struct {
	// BufferSize is the capacity of each sender to receiver channel.
	BufferSize int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{BufferSize: 1024}
}

// Transport is a fully connected in-process message layer. Each ordered
// (sender, receiver) pair owns a dedicated buffered channel, which preserves
// FIFO per pair while leaving cross-sender arrival order unspecified.
type Transport struct {
	size   int
	pairs  [][]chan transport.Envelope
	closed int32
}

// New creates a memory transport for a group of the given size.
func New(size int, config Config) (*Transport, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid group size: %d", size)
	}
	if config.BufferSize < 1 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	pairs := make([][]chan transport.Envelope, size)
	for from := 0; from < size; from++ {
		pairs[from] = make([]chan transport.Envelope, size)
		for to := 0; to < size; to++ {
			pairs[from][to] = make(chan transport.Envelope, config.BufferSize)
		}
	}
	return &Transport{size: size, pairs: pairs}, nil
}

// Ranks returns the group size.
func (t *Transport) Ranks() int {
	return t.size
}

// Send enqueues an envelope on the sender to receiver channel. It never blocks;
// a full channel reports ErrBacklogFull, which is fatal for the run.
func (t *Transport) Send(ctx context.Context, from, to int, env transport.Envelope) error {
	if atomic.LoadInt32(&t.closed) == 1 {
		return transport.ErrClosed
	}
	if err := t.validRank(from); err != nil {
		return err
	}
	if err := t.validRank(to); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.pairs[from][to] <- env:
		return nil
	default:
		return fmt.Errorf("%w: %d -> %d", transport.ErrBacklogFull, from, to)
	}
}

// Receive blocks until an envelope addressed to rank to is available. With
// from set to transport.AnyRank it waits on every peer channel at once and
// returns the first envelope ready; ties are broken arbitrarily.
func (t *Transport) Receive(ctx context.Context, from, to int) (transport.Envelope, int, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return transport.Envelope{}, 0, transport.ErrClosed
	}
	if err := t.validRank(to); err != nil {
		return transport.Envelope{}, 0, err
	}
	if from != transport.AnyRank {
		if err := t.validRank(from); err != nil {
			return transport.Envelope{}, 0, err
		}
		select {
		case <-ctx.Done():
			return transport.Envelope{}, 0, ctx.Err()
		case env := <-t.pairs[from][to]:
			return env, from, nil
		}
	}
	return t.receiveAny(ctx, to)
}

// receiveAny multiplexes every peer channel addressed to rank to. When more
// than one channel is ready reflect.Select picks uniformly at random, so no
// sender can starve the others.
func (t *Transport) receiveAny(ctx context.Context, to int) (transport.Envelope, int, error) {
	cases := make([]reflect.SelectCase, 0, t.size)
	senders := make([]int, 0, t.size)
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})
	senders = append(senders, -1)
	for from := 0; from < t.size; from++ {
		if from == to {
			continue
		}
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(t.pairs[from][to]),
		})
		senders = append(senders, from)
	}
	chosen, value, _ := reflect.Select(cases)
	if chosen == 0 {
		return transport.Envelope{}, 0, ctx.Err()
	}
	return value.Interface().(transport.Envelope), senders[chosen], nil
}

// Close marks the transport closed; subsequent sends and receives fail with
// ErrClosed. Channels stay open so in-flight senders never panic.
func (t *Transport) Close() {
	atomic.StoreInt32(&t.closed, 1)
}

func (t *Transport) validRank(r int) error {
	if r < 0 || r >= t.size {
		return transport.RankError(r, t.size)
	}
	return nil
}

// NewGroup creates a memory transport for size ranks and returns one rank
// context per member, master first.
func NewGroup(size int, config Config) ([]*rank.Context, error) {
	tr, err := New(size, config)
	if err != nil {
		return nil, err
	}
	group := make([]*rank.Context, size)
	for i := 0; i < size; i++ {
		if group[i], err = rank.New(i, size, tr); err != nil {
			return nil, err
		}
	}
	return group, nil
}
