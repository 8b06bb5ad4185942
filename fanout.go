package fanout

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mrafieir/mpi-fanout/extension"
	"github.com/mrafieir/mpi-fanout/internal/idgen"
	"github.com/mrafieir/mpi-fanout/model/task"
	"github.com/mrafieir/mpi-fanout/policy"
	"github.com/mrafieir/mpi-fanout/progress"
	"github.com/mrafieir/mpi-fanout/rank"
	"github.com/mrafieir/mpi-fanout/service/dispatcher"
	"github.com/mrafieir/mpi-fanout/service/feed"
	"github.com/mrafieir/mpi-fanout/service/transport/fs"
	"github.com/mrafieir/mpi-fanout/service/transport/memory"
	"github.com/mrafieir/mpi-fanout/service/worker"
	"github.com/viant/afs"
	"github.com/viant/x"
)

// Service is the high-level façade over the dispatcher and worker services.
// One Service can drive any number of runs; per-run state lives in the
// services it assembles.
type Service struct {
	config         *Config
	policy         *policy.Policy
	computations   *extension.Computations
	extensionTypes []*x.Type
	onProgress     func(progress.Snapshot)
	onState        func(dispatcher.State)
}

func (s *Service) init(options []Option) {
	s.config = DefaultConfig()
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()
}

func (s *Service) ensureBaseSetup() {
	if s.config.Dispatcher.Window < 1 {
		s.config.Dispatcher.Window = 1
	}
	if s.computations == nil {
		s.computations = extension.NewComputations()
	}
	for _, aType := range s.extensionTypes {
		s.computations.Types().Register(aType)
	}
	if s.policy == nil {
		s.policy = policy.FromConfig(s.config.Policy)
	}
}

// Config returns the effective configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Computations returns the named computation registry used by RunNamed.
func (s *Service) Computations() *extension.Computations {
	return s.computations
}

// Types returns the payload type registry shared with the filesystem
// transport codec.
func (s *Service) Types() *extension.Types {
	return s.computations.Types()
}

// RegisterComputation registers compute under name for RunNamed.
func (s *Service) RegisterComputation(name string, compute task.Computation) {
	s.computations.Register(name, compute)
}

// RegisterComputer registers a self-describing computation together with the
// payload types it declares.
func (s *Service) RegisterComputer(computer extension.Computer) {
	s.computations.RegisterComputer(computer)
}

// Run executes one fan-out run as the group member bound to rc. On the master
// it pulls tasks from the feed, dispatches them across the group and returns
// the outcomes ordered by task id. On a worker it serves computations until
// the master shuts it down and returns (nil, nil).
func (s *Service) Run(ctx context.Context, rc *rank.Context, f feed.Feed, compute task.Computation) (task.Outcomes, error) {
	if rc == nil {
		return nil, fmt.Errorf("rank context is required")
	}
	if rc.IsMaster() {
		return s.dispatch(ctx, rc, f, compute)
	}
	return nil, s.serve(ctx, rc, compute)
}

// RunPayloads is Run over a fixed payload list.
func (s *Service) RunPayloads(ctx context.Context, rc *rank.Context, payloads []interface{}, compute task.Computation) (task.Outcomes, error) {
	return s.Run(ctx, rc, feed.OfPayloads(payloads...), compute)
}

// RunNamed is Run with the computation referenced by registry name. Groups
// whose members live in separate processes cannot share a closure, so master
// and workers agree on a name instead.
func (s *Service) RunNamed(ctx context.Context, rc *rank.Context, name string, f feed.Feed) (task.Outcomes, error) {
	compute := s.computations.Lookup(name)
	if compute == nil {
		return nil, fmt.Errorf("unknown computation: %q", name)
	}
	return s.Run(ctx, rc, f, compute)
}

// Local creates an in-process group of size n, master first.
func (s *Service) Local(n int) ([]*rank.Context, error) {
	return memory.NewGroup(n, memory.Config{BufferSize: s.config.Transport.BufferSize})
}

// SpoolGroup creates a filesystem backed group of size n in this process,
// master first, rooted at the configured transport base URL.
func (s *Service) SpoolGroup(n int) ([]*rank.Context, error) {
	return fs.NewGroup(n, s.spoolConfig(), s.Types())
}

// Member binds this process to one rank of a filesystem backed group. Every
// member must be created with the same base URL and group size.
func (s *Service) Member(rankID, size int) (*rank.Context, error) {
	aTransport, err := fs.New(afs.New(), size, s.spoolConfig(), s.Types())
	if err != nil {
		return nil, err
	}
	return rank.New(rankID, size, aTransport)
}

func (s *Service) spoolConfig() fs.Config {
	return fs.Config{
		BaseURL:      s.config.Transport.BaseURL,
		PollInterval: s.config.Transport.PollInterval(),
	}
}

// RunLocal fans the payloads out over an in-process group of size n, with
// every worker rank on its own goroutine, and returns the ordered outcomes.
func (s *Service) RunLocal(ctx context.Context, n int, payloads []interface{}, compute task.Computation) (task.Outcomes, error) {
	if compute == nil {
		return nil, fmt.Errorf("computation is required")
	}
	group, err := s.Local(n)
	if err != nil {
		return nil, err
	}
	var wg sync.WaitGroup
	workerErrs := make([]error, n)
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(rc *rank.Context) {
			defer wg.Done()
			workerErrs[rc.Rank()] = s.serve(ctx, rc, compute)
		}(group[i])
	}
	outcomes, err := s.dispatch(ctx, group[rank.Master], feed.OfPayloads(payloads...), compute)
	wg.Wait()
	if err != nil {
		return outcomes, err
	}
	for i, workerErr := range workerErrs {
		if workerErr != nil {
			return outcomes, fmt.Errorf("worker %v: %w", i, workerErr)
		}
	}
	return outcomes, nil
}

func (s *Service) dispatch(ctx context.Context, rc *rank.Context, f feed.Feed, compute task.Computation) (task.Outcomes, error) {
	if !s.config.Silent {
		log.Printf("fanout: group size = %d", rc.Size())
	}
	ctx, _ = progress.WithNewTracker(ctx, idgen.New(), rc.Size(), s.onProgress)
	options := []dispatcher.Option{
		dispatcher.WithWindow(s.config.Dispatcher.Window),
		dispatcher.WithSilent(s.config.Silent),
	}
	if s.policy != nil {
		options = append(options, dispatcher.WithPolicy(s.policy))
	}
	if compute != nil {
		options = append(options, dispatcher.WithComputation(compute))
	}
	if s.onState != nil {
		options = append(options, dispatcher.WithStateListener(s.onState))
	}
	srv, err := dispatcher.New(rc, f, options...)
	if err != nil {
		return nil, err
	}
	return srv.Run(ctx)
}

func (s *Service) serve(ctx context.Context, rc *rank.Context, compute task.Computation) error {
	var options []worker.Option
	if s.config.Silent {
		options = append(options, worker.WithSilent(true))
	}
	srv, err := worker.New(rc, compute, options...)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// New creates a fanout service
func New(options ...Option) *Service {
	ret := &Service{}
	ret.init(options)
	return ret
}

// Run executes one fan-out run as the group member bound to rc using a
// throwaway service assembled from options.
func Run(ctx context.Context, rc *rank.Context, f feed.Feed, compute task.Computation, options ...Option) (task.Outcomes, error) {
	return New(options...).Run(ctx, rc, f, compute)
}

// RunPayloads is Run over a fixed payload list.
func RunPayloads(ctx context.Context, rc *rank.Context, payloads []interface{}, compute task.Computation, options ...Option) (task.Outcomes, error) {
	return New(options...).RunPayloads(ctx, rc, payloads, compute)
}

// RunLocal fans the payloads out over an in-process group of size n.
func RunLocal(ctx context.Context, n int, payloads []interface{}, compute task.Computation, options ...Option) (task.Outcomes, error) {
	return New(options...).RunLocal(ctx, n, payloads, compute)
}
