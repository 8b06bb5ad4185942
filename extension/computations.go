package extension

import (
	"context"
	"sync"

	"github.com/mrafieir/mpi-fanout/model/task"
)

// Computer is a struct backed computation that knows its own wire name.
type Computer interface {
	Name() string
	Compute(ctx context.Context, payload interface{}) (interface{}, error)
}

// TypesIniter lets a computer register the payload types it consumes or
// produces at the time it joins the registry.
type TypesIniter interface {
	InitTypes(types *Types)
}

// Computations is a named computation registry. Distributed groups whose
// members run in separate processes cannot ship a closure over the wire, so
// master and workers agree on a computation by name instead.
type Computations struct {
	types    *Types
	mux      sync.RWMutex
	registry map[string]task.Computation
}

// Types returns the payload type registry shared by registered computations.
func (c *Computations) Types() *Types {
	return c.types
}

// Lookup returns a computation by name
func (c *Computations) Lookup(name string) task.Computation {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.registry[name]
}

// Register registers a computation under a name
func (c *Computations) Register(name string, computation task.Computation) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.registry[name] = computation
}

// RegisterComputer registers a computer under its own name, letting it
// contribute payload types first.
func (c *Computations) RegisterComputer(computer Computer) {
	if initer, ok := computer.(TypesIniter); ok {
		initer.InitTypes(c.types)
	}
	c.Register(computer.Name(), computer.Compute)
}

// NewComputations creates a new computation registry
func NewComputations(options ...Option) *Computations {
	ret := &Computations{
		types:    NewTypes(),
		registry: make(map[string]task.Computation),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}
