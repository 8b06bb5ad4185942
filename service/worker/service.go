// Package worker implements the receive loop run by every non-master rank:
// take a task from the master, compute, send the result back, repeat until a
// shutdown envelope arrives.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mrafieir/mpi-fanout/model/task"
	"github.com/mrafieir/mpi-fanout/rank"
	"github.com/mrafieir/mpi-fanout/service/transport"
	"github.com/mrafieir/mpi-fanout/tracing"
)

// Listener observes every computed task together with its result. It is
// invoked inline, so it must be cheap.
type Listener func(t *task.Task, res *task.Result)

// Service runs one worker rank's receive loop.
type Service struct {
	rc       *rank.Context
	compute  task.Computation
	listener Listener
	silent   bool
}

// New creates a worker bound to its rank context and computation.
func New(rc *rank.Context, compute task.Computation, options ...Option) (*Service, error) {
	if rc == nil {
		return nil, fmt.Errorf("rank context is required")
	}
	if rc.IsMaster() {
		return nil, fmt.Errorf("rank %v is the master, not a worker", rc.Rank())
	}
	if compute == nil {
		return nil, fmt.Errorf("computation is required")
	}
	s := &Service{rc: rc, compute: compute}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Run blocks processing task envelopes from the master. It returns nil once a
// shutdown envelope arrives; any transport fault or protocol violation ends
// the loop with an error since peer state is no longer known.
func (s *Service) Run(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("worker.run %d", s.rc.Rank()), "CONSUMER")
	defer func() { tracing.EndSpan(span, err) }()

	for {
		var env transport.Envelope
		if env, _, err = s.rc.Receive(ctx, rank.Master); err != nil {
			return err
		}
		switch env.Kind {
		case transport.KindShutdown:
			return nil
		case transport.KindTask:
			aTask := env.Task()
			res := Execute(ctx, s.compute, aTask)
			if res.Failed() && !s.silent {
				log.Printf("worker %d: task %d failed: %v", s.rc.Rank(), aTask.ID, res.Err)
			}
			if s.listener != nil {
				s.listener(aTask, res)
			}
			if err = s.rc.Send(ctx, rank.Master, transport.NewResult(res)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected %v envelope from master", env.Kind)
		}
	}
}

// Execute runs one computation, converting an error or panic into a failed
// result bound to the task ID. A worker must keep serving after a bad task,
// so nothing a computation does may escape.
func Execute(ctx context.Context, compute task.Computation, aTask *task.Task) (res *task.Result) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("task.compute %d", aTask.ID), "INTERNAL")
	defer func() {
		if r := recover(); r != nil {
			res = task.NewFailedResult(aTask.ID, fmt.Errorf("computation panic: %v", r))
		}
		var spanErr error
		if res.Failed() {
			spanErr = errors.New(res.Err)
		}
		tracing.EndSpan(span, spanErr)
	}()

	output, err := compute(ctx, aTask.Payload)
	if err != nil {
		return task.NewFailedResult(aTask.ID, err)
	}
	return task.NewResult(aTask.ID, output)
}
