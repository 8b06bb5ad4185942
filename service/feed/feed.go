// Package feed supplies tasks to the dispatcher one at a time. A feed is
// consulted lazily: the dispatcher pulls the next task only when a worker can
// take it, so a slow or unbounded generator never floods memory.
package feed

import (
	"context"
	"io"

	"github.com/mrafieir/mpi-fanout/model/task"
)

// Feed produces tasks in submission order. Next returns io.EOF once the feed
// is exhausted; any other error aborts the run. Task IDs are assigned by the
// feed, dense from zero.
type Feed interface {
	Next(ctx context.Context) (*task.Task, error)
}

type payloads struct {
	items []interface{}
	next  int
}

// OfPayloads returns a feed over a fixed payload list.
func OfPayloads(items ...interface{}) Feed {
	return &payloads{items: items}
}

func (p *payloads) Next(ctx context.Context) (*task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.next >= len(p.items) {
		return nil, io.EOF
	}
	aTask := &task.Task{ID: p.next, Payload: p.items[p.next]}
	p.next++
	return aTask, nil
}

type generator struct {
	produce func(ctx context.Context) (interface{}, error)
	next    int
	done    bool
}

// OfFunc returns a feed backed by a generator. The generator signals
// exhaustion by returning io.EOF; after that the feed stays exhausted.
func OfFunc(produce func(ctx context.Context) (interface{}, error)) Feed {
	return &generator{produce: produce}
}

func (g *generator) Next(ctx context.Context) (*task.Task, error) {
	if g.done {
		return nil, io.EOF
	}
	payload, err := g.produce(ctx)
	if err != nil {
		g.done = true
		return nil, err
	}
	aTask := &task.Task{ID: g.next, Payload: payload}
	g.next++
	return aTask, nil
}
