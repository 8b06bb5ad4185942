// Package collector accumulates worker results for one dispatch run and
// settles them into outcomes ordered by task ID.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mrafieir/mpi-fanout/internal/clock"
	"github.com/mrafieir/mpi-fanout/model/task"
	"github.com/mrafieir/mpi-fanout/policy"
)

// Service tracks how many tasks were dispatched and how many have already
// reported back. Results may arrive in any order; Finalize restores
// submission order.
type Service struct {
	policy *policy.Policy

	mu         sync.Mutex
	dispatched int
	outcomes   map[int]task.Outcome
	failures   int
	first      *task.Error
	DoneAt     *time.Time
}

// New creates a collector governed by the supplied failure policy; nil keeps
// the default collect behaviour.
func New(pol *policy.Policy) *Service {
	return &Service{policy: pol, outcomes: make(map[int]task.Outcome)}
}

// MarkDispatched registers that one more task went out to a worker.
func (s *Service) MarkDispatched() {
	s.mu.Lock()
	s.dispatched++
	s.mu.Unlock()
}

// Add registers one worker result. It returns an error on a duplicate or
// unsolicited task ID, both of which indicate a protocol violation.
func (s *Service) Add(ctx context.Context, res *task.Result) error {
	if res == nil {
		return errors.New("result was nil")
	}
	s.mu.Lock()
	if _, ok := s.outcomes[res.TaskID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("duplicate result for task %v", res.TaskID)
	}
	if len(s.outcomes) >= s.dispatched {
		s.mu.Unlock()
		return fmt.Errorf("unsolicited result for task %v", res.TaskID)
	}
	outcome := task.Outcome{Output: res.Output}
	if res.Failed() {
		outcome.Err = task.NewError(res.TaskID, res.Err)
		s.failures++
		if s.first == nil {
			s.first = outcome.Err.(*task.Error)
		}
	}
	s.outcomes[res.TaskID] = outcome
	if len(s.outcomes) == s.dispatched {
		now := clock.Now()
		s.DoneAt = &now
	}
	failed := outcome.Err
	s.mu.Unlock()

	if failed != nil {
		s.policy.NotifyFailure(ctx, res.TaskID, failed)
	}
	return nil
}

// Pending returns how many dispatched tasks have not reported back yet.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatched - len(s.outcomes)
}

// Dispatched returns how many tasks went out so far.
func (s *Service) Dispatched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatched
}

// Failures returns how many failed results arrived so far.
func (s *Service) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Halted reports whether the failure policy forbids dispatching new tasks.
func (s *Service) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.Halt(s.failures)
}

// FirstFailure returns the earliest failure by arrival order, or nil.
func (s *Service) FirstFailure() *task.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

// Done reports whether every dispatched task has reported back.
func (s *Service) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DoneAt != nil
}

// Finalize settles collected results into outcomes ordered by task ID. When
// the failure policy halted dispatch, the first failure is surfaced as the
// run error; in collect mode failures stay per outcome and the error is nil.
func (s *Service) Finalize() (task.Outcomes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.outcomes))
	for id := range s.outcomes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	outcomes := make(task.Outcomes, 0, len(ids))
	for _, id := range ids {
		outcomes = append(outcomes, s.outcomes[id])
	}
	if s.policy.Halt(s.failures) && s.first != nil {
		return outcomes, s.first
	}
	return outcomes, nil
}
