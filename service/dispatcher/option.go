package dispatcher

import (
	"github.com/mrafieir/mpi-fanout/model/task"
	"github.com/mrafieir/mpi-fanout/policy"
)

// Option configures a dispatcher service
type Option func(*Service)

// WithConfig replaces the whole dispatcher configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithWindow sets how many tasks a single worker may hold at once.
func WithWindow(window int) Option {
	return func(s *Service) {
		s.config.Window = window
	}
}

// WithPolicy pins the failure policy for the run, overriding any policy
// carried by the run context.
func WithPolicy(pol *policy.Policy) Option {
	return func(s *Service) {
		s.policy = pol
	}
}

// WithComputation supplies the computation the master falls back to when the
// group has no workers.
func WithComputation(compute task.Computation) Option {
	return func(s *Service) {
		s.compute = compute
	}
}

// WithSilent suppresses per task failure logging.
func WithSilent(silent bool) Option {
	return func(s *Service) {
		s.silent = silent
	}
}

// WithStateListener registers an observer invoked on every state transition.
func WithStateListener(listener func(State)) Option {
	return func(s *Service) {
		s.onState = listener
	}
}
