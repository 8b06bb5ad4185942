package fanout_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	fanout "github.com/mrafieir/mpi-fanout"
	"github.com/mrafieir/mpi-fanout/model/task"
	"github.com/mrafieir/mpi-fanout/policy"
	"github.com/mrafieir/mpi-fanout/rank"
	"github.com/mrafieir/mpi-fanout/service/feed"
	"github.com/mrafieir/mpi-fanout/service/transport"
	"github.com/mrafieir/mpi-fanout/service/transport/memory"
	"pgregory.net/rapid"
)

// auditTransport wraps another transport and records, per worker, the peak
// number of tasks the master had outstanding, the shutdown count and whether
// a shutdown arrived while tasks were still in flight.
type auditTransport struct {
	transport.Transport
	mu         sync.Mutex
	inFlight   map[int]int
	maxHeld    map[int]int
	shutdowns  map[int]int
	earlyStops int
}

func newAuditTransport(inner transport.Transport) *auditTransport {
	return &auditTransport{
		Transport: inner,
		inFlight:  map[int]int{},
		maxHeld:   map[int]int{},
		shutdowns: map[int]int{},
	}
}

func (a *auditTransport) Send(ctx context.Context, from, to int, env transport.Envelope) error {
	if from == rank.Master {
		a.mu.Lock()
		switch env.Kind {
		case transport.KindTask:
			a.inFlight[to]++
			if a.inFlight[to] > a.maxHeld[to] {
				a.maxHeld[to] = a.inFlight[to]
			}
		case transport.KindShutdown:
			a.shutdowns[to]++
			if a.inFlight[to] != 0 {
				a.earlyStops++
			}
		}
		a.mu.Unlock()
	}
	return a.Transport.Send(ctx, from, to, env)
}

func (a *auditTransport) Receive(ctx context.Context, from, to int) (transport.Envelope, int, error) {
	env, sender, err := a.Transport.Receive(ctx, from, to)
	if err == nil && to == rank.Master && env.Kind == transport.KindResult {
		a.mu.Lock()
		a.inFlight[sender]--
		a.mu.Unlock()
	}
	return env, sender, err
}

// For any group size, task count, window and failure pattern: every produced
// task reports exactly once at its own index, no worker ever holds more than
// the window, and each worker is shut down exactly once after going idle.
func TestRun_GroupProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "groupSize")
		taskCount := rapid.IntRange(0, 40).Draw(t, "tasks")
		window := rapid.IntRange(1, 3).Draw(t, "window")
		failEvery := rapid.IntRange(0, 5).Draw(t, "failEvery")
		mode := rapid.SampledFrom([]string{policy.ModeCollect, policy.ModeFailFast}).Draw(t, "mode")

		fails := func(id int) bool {
			return failEvery > 0 && id%failEvery == failEvery-1
		}
		compute := func(_ context.Context, payload interface{}) (interface{}, error) {
			id := payload.(int)
			if id%3 == 1 {
				time.Sleep(time.Millisecond)
			}
			if fails(id) {
				return nil, fmt.Errorf("task %d refused", id)
			}
			return id * id, nil
		}

		payloads := make([]interface{}, taskCount)
		for i := range payloads {
			payloads[i] = i
		}

		inner, err := memory.New(n, memory.DefaultConfig())
		if err != nil {
			t.Fatalf("transport: %v", err)
		}
		audit := newAuditTransport(inner)
		group := make([]*rank.Context, n)
		for i := 0; i < n; i++ {
			if group[i], err = rank.New(i, n, audit); err != nil {
				t.Fatalf("rank %d: %v", i, err)
			}
		}

		srv := fanout.New(
			fanout.WithSilent(true),
			fanout.WithWindow(window),
			fanout.WithPolicy(&policy.Policy{Mode: mode}),
		)
		ctx := context.Background()
		var wg sync.WaitGroup
		for _, rc := range group[1:] {
			wg.Add(1)
			go func(rc *rank.Context) {
				defer wg.Done()
				_, _ = srv.Run(ctx, rc, nil, compute)
			}(rc)
		}
		outcomes, runErr := srv.Run(ctx, group[rank.Master], feed.OfPayloads(payloads...), compute)
		wg.Wait()

		audit.mu.Lock()
		for w := 1; w < n; w++ {
			if audit.maxHeld[w] > window {
				audit.mu.Unlock()
				t.Fatalf("worker %d held %d tasks, window is %d", w, audit.maxHeld[w], window)
			}
			if audit.shutdowns[w] != 1 {
				audit.mu.Unlock()
				t.Fatalf("worker %d saw %d shutdowns", w, audit.shutdowns[w])
			}
		}
		earlyStops := audit.earlyStops
		audit.mu.Unlock()
		if earlyStops != 0 {
			t.Fatalf("%d shutdowns sent while tasks were in flight", earlyStops)
		}

		anyFailure := false
		for id := 0; id < taskCount; id++ {
			if fails(id) {
				anyFailure = true
				break
			}
		}

		if mode == policy.ModeCollect || !anyFailure {
			if runErr != nil {
				t.Fatalf("unexpected run error: %v", runErr)
			}
			if len(outcomes) != taskCount {
				t.Fatalf("got %d outcomes, want %d", len(outcomes), taskCount)
			}
		} else {
			if runErr == nil {
				t.Fatalf("fail-fast run with failures reported no error")
			}
			failed, ok := task.AsError(runErr)
			if !ok || !fails(failed.TaskID) {
				t.Fatalf("run error %v is not bound to a failing task", runErr)
			}
			if len(outcomes) > taskCount {
				t.Fatalf("got %d outcomes for %d tasks", len(outcomes), taskCount)
			}
		}

		for id, outcome := range outcomes {
			if fails(id) {
				if outcome.Err == nil {
					t.Fatalf("task %d should have failed", id)
				}
				continue
			}
			if outcome.Err != nil {
				t.Fatalf("task %d failed: %v", id, outcome.Err)
			}
			if outcome.Output != id*id {
				t.Fatalf("task %d computed %v, want %d", id, outcome.Output, id*id)
			}
		}
	})
}
