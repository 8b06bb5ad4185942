package fanout

import (
	"github.com/mrafieir/mpi-fanout/extension"
	"github.com/mrafieir/mpi-fanout/policy"
	"github.com/mrafieir/mpi-fanout/progress"
	"github.com/mrafieir/mpi-fanout/service/dispatcher"
	"github.com/mrafieir/mpi-fanout/tracing"
	"github.com/viant/x"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises the service
type Option func(s *Service)

// WithConfig replaces the entire configuration. Narrower options such as
// WithWindow should come after it.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithWindow sets how many tasks a single worker may hold at once.
func WithWindow(window int) Option {
	return func(s *Service) {
		s.config.Dispatcher.Window = window
	}
}

// WithTransportBuffer sets the in-process transport channel capacity.
func WithTransportBuffer(size int) Option {
	return func(s *Service) {
		s.config.Transport.BufferSize = size
	}
}

// WithPolicy sets the failure policy applied on the master.
func WithPolicy(pol *policy.Policy) Option {
	return func(s *Service) {
		s.policy = pol
	}
}

// WithSilent suppresses the startup line and per-task failure logging.
func WithSilent(silent bool) Option {
	return func(s *Service) {
		s.config.Silent = silent
	}
}

// WithComputations sets the named computation registry used by RunNamed.
func WithComputations(computations *extension.Computations) Option {
	return func(s *Service) {
		s.computations = computations
	}
}

// WithExtensionTypes registers payload types with the computation registry so
// the filesystem transport can decode them back into concrete values.
func WithExtensionTypes(types ...*x.Type) Option {
	return func(s *Service) {
		s.extensionTypes = types
	}
}

// WithProgressListener registers a callback invoked after every counter
// update during a run on the master.
func WithProgressListener(onChange func(progress.Snapshot)) Option {
	return func(s *Service) {
		s.onProgress = onChange
	}
}

// WithStateListener registers a callback invoked on every dispatcher state
// transition.
func WithStateListener(listener func(dispatcher.State)) Option {
	return func(s *Service) {
		s.onState = listener
	}
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The function is
// safe to call multiple times – the first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter. This enables
// integrations with exporters other than the built-in stdout exporter, for example OTLP, Jaeger or
// Zipkin. The function is safe to call multiple times – the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
