// Package dispatcher implements the master side of a dispatch run: it pulls
// tasks from the feed one at a time, keeps every worker loaded up to the
// dispatch window, collects results as they arrive and shuts the group down
// exactly once.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"

	"github.com/mrafieir/mpi-fanout/model/task"
	"github.com/mrafieir/mpi-fanout/policy"
	"github.com/mrafieir/mpi-fanout/progress"
	"github.com/mrafieir/mpi-fanout/rank"
	"github.com/mrafieir/mpi-fanout/service/collector"
	"github.com/mrafieir/mpi-fanout/service/feed"
	"github.com/mrafieir/mpi-fanout/service/transport"
	"github.com/mrafieir/mpi-fanout/service/worker"
	"github.com/mrafieir/mpi-fanout/tracing"
)

// Config represents dispatcher configuration
type Config struct {
	// Window is how many tasks a single worker may hold at once.
	Window int
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{Window: 1}
}

// Service drives one dispatch run on the master rank. The zero number of
// workers is honoured: with a group of one the master computes every task
// itself.
type Service struct {
	rc      *rank.Context
	feed    feed.Feed
	compute task.Computation
	config  Config
	policy  *policy.Policy
	slots   *slots
	silent  bool

	mux     sync.Mutex
	state   State
	onState func(State)

	feedErr      error
	shutdownSent bool
}

// New creates a dispatcher for the master rank of a group.
func New(rc *rank.Context, aFeed feed.Feed, options ...Option) (*Service, error) {
	if rc == nil {
		return nil, fmt.Errorf("rank context is required")
	}
	if !rc.IsMaster() {
		return nil, fmt.Errorf("rank %v cannot dispatch, only rank %v can", rc.Rank(), rank.Master)
	}
	if aFeed == nil {
		return nil, fmt.Errorf("feed is required")
	}
	s := &Service{
		rc:     rc,
		feed:   aFeed,
		config: DefaultConfig(),
		state:  StateInit,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.config.Window < 1 {
		return nil, fmt.Errorf("invalid dispatch window: %v", s.config.Window)
	}
	if rc.Workers() == 0 && s.compute == nil {
		return nil, fmt.Errorf("a group of one needs a computation on the master")
	}
	s.slots = newSlots(rc.Workers(), s.config.Window)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.state
}

func (s *Service) setState(state State) {
	s.mux.Lock()
	if s.state == state {
		s.mux.Unlock()
		return
	}
	s.state = state
	cb := s.onState
	s.mux.Unlock()
	if cb != nil {
		cb(state)
	}
}

// Run executes the dispatch loop until the feed is exhausted and every
// dispatched task has reported back, then shuts all workers down. It returns
// outcomes ordered by task ID. Run must be called at most once per service.
func (s *Service) Run(ctx context.Context) (outcomes task.Outcomes, err error) {
	ctx, span := tracing.StartSpan(ctx, "dispatcher.run", "PRODUCER")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{
		"group.size":      strconv.Itoa(s.rc.Size()),
		"dispatch.window": strconv.Itoa(s.config.Window),
	})

	pol := s.policy
	if pol == nil {
		pol = policy.FromContext(ctx)
	}
	aCollector := collector.New(pol)

	if s.rc.Workers() == 0 {
		return s.runInline(ctx, aCollector)
	}

	// Prime every worker up to the window before waiting for any result.
	exhausted := false
	for w := 1; w <= s.rc.Workers() && !exhausted; w++ {
		for s.slots.capacity(w) > 0 && !exhausted {
			dispatched, dErr := s.dispatchNext(ctx, w, aCollector)
			if dErr != nil {
				return s.abort(ctx, dErr)
			}
			exhausted = !dispatched
		}
	}
	if aCollector.Dispatched() > 0 {
		s.setState(StateDispatching)
	}
	if exhausted || s.feedErr != nil {
		s.setState(StateDraining)
	}

	for s.slots.inFlight() > 0 {
		env, from, rErr := s.rc.ReceiveAny(ctx)
		if rErr != nil {
			return s.abort(ctx, rErr)
		}
		if env.Kind != transport.KindResult {
			return s.abort(ctx, fmt.Errorf("%w: unexpected %v envelope from rank %v", ErrProtocol, env.Kind, from))
		}
		res := env.Result()
		if res == nil {
			return s.abort(ctx, fmt.Errorf("%w: malformed result envelope from rank %v", ErrProtocol, from))
		}
		if sErr := s.slots.release(from, res.TaskID); sErr != nil {
			return s.abort(ctx, fmt.Errorf("%w: %v", ErrProtocol, sErr))
		}
		if cErr := aCollector.Add(ctx, res); cErr != nil {
			return s.abort(ctx, fmt.Errorf("%w: %v", ErrProtocol, cErr))
		}
		s.observe(ctx, res)

		// Greedy refill: the worker that just freed up takes the next task.
		for !exhausted && s.feedErr == nil && !aCollector.Halted() && s.slots.capacity(from) > 0 {
			dispatched, dErr := s.dispatchNext(ctx, from, aCollector)
			if dErr != nil {
				return s.abort(ctx, dErr)
			}
			exhausted = !dispatched
		}
		if exhausted || s.feedErr != nil || aCollector.Halted() {
			s.setState(StateDraining)
		}
	}

	s.setState(StateDraining)
	if err = s.broadcastShutdown(ctx); err != nil {
		return nil, err
	}
	s.setState(StateShutdown)

	outcomes, err = aCollector.Finalize()
	if s.feedErr != nil {
		return outcomes, s.feedErr
	}
	return outcomes, err
}

// dispatchNext pulls one task from the feed and sends it to the worker. It
// returns false without error when the feed is exhausted; a feed fault is
// recorded and also stops dispatch. Only a transport fault is returned.
func (s *Service) dispatchNext(ctx context.Context, workerRank int, aCollector *collector.Service) (bool, error) {
	aTask, err := s.feed.Next(ctx)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		s.feedErr = err
		return false, nil
	}
	if err = s.rc.Send(ctx, workerRank, transport.NewTask(aTask)); err != nil {
		return false, err
	}
	if err = s.slots.assign(workerRank, aTask.ID); err != nil {
		return false, err
	}
	aCollector.MarkDispatched()
	progress.UpdateCtx(ctx, progress.Delta{Dispatched: 1, InFlight: 1})
	return true, nil
}

// observe updates counters and logging for one arrived result.
func (s *Service) observe(ctx context.Context, res *task.Result) {
	delta := progress.Delta{Completed: 1, InFlight: -1}
	if res.Failed() {
		delta.Failed = 1
		if !s.silent {
			log.Printf("dispatcher: task %d failed: %v", res.TaskID, res.Err)
		}
	}
	progress.UpdateCtx(ctx, delta)
}

// runInline serves a group of one: with no workers to feed, the master
// computes every task itself in submission order.
func (s *Service) runInline(ctx context.Context, aCollector *collector.Service) (task.Outcomes, error) {
	s.setState(StateDispatching)
	for !aCollector.Halted() {
		aTask, err := s.feed.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			s.feedErr = err
			break
		}
		aCollector.MarkDispatched()
		progress.UpdateCtx(ctx, progress.Delta{Dispatched: 1, InFlight: 1})
		res := worker.Execute(ctx, s.compute, aTask)
		if err := aCollector.Add(ctx, res); err != nil {
			return nil, err
		}
		s.observe(ctx, res)
	}
	s.setState(StateDraining)
	s.setState(StateShutdown)

	outcomes, err := aCollector.Finalize()
	if s.feedErr != nil {
		return outcomes, s.feedErr
	}
	return outcomes, err
}

// broadcastShutdown tells every worker to exit, exactly once per run.
func (s *Service) broadcastShutdown(ctx context.Context) error {
	s.mux.Lock()
	if s.shutdownSent {
		s.mux.Unlock()
		return nil
	}
	s.shutdownSent = true
	s.mux.Unlock()

	var firstErr error
	for w := 1; w <= s.rc.Workers(); w++ {
		if err := s.rc.Send(ctx, w, transport.NewShutdown()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to shut down worker %v: %w", w, err)
		}
	}
	return firstErr
}

// abort ends the run on a fatal fault. Workers are still told to exit on a
// best effort basis so that out of process peers do not hang forever.
func (s *Service) abort(ctx context.Context, err error) (task.Outcomes, error) {
	_ = s.broadcastShutdown(ctx)
	return nil, err
}
