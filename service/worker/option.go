package worker

// Option configures a worker service
type Option func(*Service)

// WithListener registers an observer invoked after every computed task.
func WithListener(listener Listener) Option {
	return func(s *Service) {
		s.listener = listener
	}
}

// WithSilent suppresses per task failure logging.
func WithSilent(silent bool) Option {
	return func(s *Service) {
		s.silent = silent
	}
}
