package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mrafieir/mpi-fanout/model/task"
	"github.com/mrafieir/mpi-fanout/policy"
	"github.com/mrafieir/mpi-fanout/progress"
	"github.com/mrafieir/mpi-fanout/rank"
	"github.com/mrafieir/mpi-fanout/service/feed"
	"github.com/mrafieir/mpi-fanout/service/transport"
	"github.com/mrafieir/mpi-fanout/service/transport/memory"
	"github.com/mrafieir/mpi-fanout/service/worker"
	"github.com/stretchr/testify/assert"
)

func square(ctx context.Context, payload interface{}) (interface{}, error) {
	value, ok := payload.(int)
	if !ok {
		return nil, fmt.Errorf("unsupported payload %T", payload)
	}
	return value * value, nil
}

// runGroup wires a full in-process group: workers consume in goroutines while
// the dispatcher runs in the calling goroutine.
func runGroup(t *testing.T, size int, aFeed feed.Feed, compute task.Computation, counters []int, options ...Option) (task.Outcomes, error) {
	t.Helper()
	group, err := memory.NewGroup(size, memory.DefaultConfig())
	if !assert.Nil(t, err) {
		t.FailNow()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	workerErrs := make([]error, size)
	for i := 1; i < size; i++ {
		workerRank := group[i]
		aWorker, err := worker.New(workerRank, compute, worker.WithSilent(true), worker.WithListener(func(t *task.Task, res *task.Result) {
			if counters != nil {
				mu.Lock()
				counters[workerRank.Rank()]++
				mu.Unlock()
			}
		}))
		if !assert.Nil(t, err) {
			t.FailNow()
		}
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			workerErrs[r] = aWorker.Run(ctx)
		}(i)
	}

	options = append(options, WithSilent(true), WithComputation(compute))
	service, err := New(group[0], aFeed, options...)
	if !assert.Nil(t, err) {
		t.FailNow()
	}
	outcomes, runErr := service.Run(ctx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not shut down")
	}
	for i := 1; i < size; i++ {
		assert.Nil(t, workerErrs[i], "worker %d should exit cleanly", i)
	}
	return outcomes, runErr
}

func TestService_SquaresAcrossTwoWorkers(t *testing.T) {
	counters := make([]int, 3)
	outcomes, err := runGroup(t, 3, feed.OfPayloads(1, 2, 3, 4, 5), square, counters)
	assert.Nil(t, err)
	assert.EqualValues(t, []interface{}{1, 4, 9, 16, 25}, outcomes.Values())
	assert.EqualValues(t, 0, outcomes.Failed())
	assert.True(t, counters[1] >= 1, "worker 1 should compute at least one task")
	assert.True(t, counters[2] >= 1, "worker 2 should compute at least one task")
	assert.EqualValues(t, 5, counters[1]+counters[2])
}

func TestService_EmptyFeed(t *testing.T) {
	group, err := memory.NewGroup(2, memory.DefaultConfig())
	assert.Nil(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	computed := 0
	aWorker, err := worker.New(group[1], square, worker.WithSilent(true), worker.WithListener(func(t *task.Task, res *task.Result) {
		computed++
	}))
	assert.Nil(t, err)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- aWorker.Run(ctx)
	}()

	var states []State
	service, err := New(group[0], feed.OfPayloads(), WithSilent(true), WithStateListener(func(s State) {
		states = append(states, s)
	}))
	assert.Nil(t, err)
	assert.EqualValues(t, StateInit, service.State())

	outcomes, err := service.Run(ctx)
	assert.Nil(t, err)
	assert.EqualValues(t, 0, len(outcomes))

	select {
	case err := <-workerDone:
		assert.Nil(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not shut down")
	}
	assert.EqualValues(t, 0, computed, "no task should reach the worker")
	assert.EqualValues(t, []State{StateDraining, StateShutdown}, states, "dispatching should be skipped entirely")
	assert.EqualValues(t, StateShutdown, service.State())
}

func TestService_FailFastHaltsDispatch(t *testing.T) {
	failOn := func(ctx context.Context, payload interface{}) (interface{}, error) {
		value := payload.(int)
		if value == 2 {
			return nil, fmt.Errorf("cannot process %v", value)
		}
		return value * value, nil
	}

	var states []State
	pulled := 0
	aFeed := feed.OfFunc(func(ctx context.Context) (interface{}, error) {
		if pulled == 5 {
			return nil, io.EOF
		}
		pulled++
		return pulled, nil
	})

	outcomes, err := runGroup(t, 2, aFeed, failOn, nil,
		WithPolicy(&policy.Policy{Mode: policy.ModeFailFast}),
		WithStateListener(func(s State) {
			states = append(states, s)
		}))

	if assert.NotNil(t, err) {
		actual, ok := task.AsError(err)
		if assert.True(t, ok, "run error should be bound to the failed task") {
			assert.EqualValues(t, 1, actual.TaskID)
			assert.Contains(t, actual.Message, "cannot process 2")
		}
	}
	assert.EqualValues(t, 2, len(outcomes), "tasks after the failure must never be dispatched")
	assert.False(t, outcomes[0].Failed())
	assert.True(t, outcomes[1].Failed())
	assert.True(t, pulled <= 3, "feed must stop being consulted after the failure")
	assert.EqualValues(t, []State{StateDispatching, StateDraining, StateShutdown}, states)
}

func TestService_FailFastDrainsInFlight(t *testing.T) {
	failOn := func(ctx context.Context, payload interface{}) (interface{}, error) {
		value := payload.(int)
		if value == 1 {
			return nil, errors.New("boom")
		}
		time.Sleep(10 * time.Millisecond)
		return value * value, nil
	}

	outcomes, err := runGroup(t, 3, feed.OfPayloads(1, 2, 3, 4, 5), failOn, nil,
		WithPolicy(&policy.Policy{Mode: policy.ModeFailFast}))

	if assert.NotNil(t, err) {
		actual, ok := task.AsError(err)
		if assert.True(t, ok) {
			assert.EqualValues(t, 0, actual.TaskID, "the only failure is the first failure")
		}
	}
	assert.True(t, len(outcomes) >= 2, "the primed in-flight task must be drained")
	assert.True(t, len(outcomes) <= 5)
	assert.True(t, outcomes[0].Failed())
	for i := 1; i < len(outcomes); i++ {
		assert.False(t, outcomes[i].Failed(), "only task 0 fails")
	}
}

func TestService_CollectReportsAllOutcomes(t *testing.T) {
	failOn := func(ctx context.Context, payload interface{}) (interface{}, error) {
		value := payload.(int)
		if value == 2 {
			return nil, fmt.Errorf("cannot process %v", value)
		}
		return value * value, nil
	}

	outcomes, err := runGroup(t, 2, feed.OfPayloads(1, 2, 3, 4, 5), failOn, nil)
	assert.Nil(t, err, "collect mode never surfaces a run error")
	assert.EqualValues(t, 5, len(outcomes))
	assert.EqualValues(t, 1, outcomes.Failed())
	assert.True(t, outcomes[1].Failed())
	assert.EqualValues(t, 1, outcomes[0].Output)
	assert.EqualValues(t, 9, outcomes[2].Output)
	assert.EqualValues(t, 25, outcomes[4].Output)

	first, ok := task.AsError(outcomes.FirstError())
	if assert.True(t, ok) {
		assert.EqualValues(t, 1, first.TaskID)
	}
}

func TestService_WindowKeepsWorkerLoaded(t *testing.T) {
	outcomes, err := runGroup(t, 2, feed.OfPayloads(1, 2, 3, 4, 5), square, nil, WithWindow(3))
	assert.Nil(t, err)
	assert.EqualValues(t, []interface{}{1, 4, 9, 16, 25}, outcomes.Values())
}

func TestService_GroupOfOneComputesInline(t *testing.T) {
	var states []State
	ctx := context.Background()
	group, err := memory.NewGroup(1, memory.DefaultConfig())
	assert.Nil(t, err)

	service, err := New(group[0], feed.OfPayloads(2, 3), WithComputation(square), WithSilent(true),
		WithStateListener(func(s State) {
			states = append(states, s)
		}))
	assert.Nil(t, err)

	outcomes, err := service.Run(ctx)
	assert.Nil(t, err)
	assert.EqualValues(t, []interface{}{4, 9}, outcomes.Values())
	assert.EqualValues(t, []State{StateDispatching, StateDraining, StateShutdown}, states)
}

func TestService_GroupOfOneFailFast(t *testing.T) {
	ctx := context.Background()
	group, err := memory.NewGroup(1, memory.DefaultConfig())
	assert.Nil(t, err)

	failOn := func(ctx context.Context, payload interface{}) (interface{}, error) {
		if payload.(int) == 2 {
			return nil, errors.New("boom")
		}
		return payload, nil
	}
	pulled := 0
	aFeed := feed.OfFunc(func(ctx context.Context) (interface{}, error) {
		if pulled == 4 {
			return nil, io.EOF
		}
		pulled++
		return pulled, nil
	})

	service, err := New(group[0], aFeed, WithComputation(failOn), WithSilent(true),
		WithPolicy(&policy.Policy{Mode: policy.ModeFailFast}))
	assert.Nil(t, err)

	outcomes, err := service.Run(ctx)
	if assert.NotNil(t, err) {
		actual, ok := task.AsError(err)
		if assert.True(t, ok) {
			assert.EqualValues(t, 1, actual.TaskID)
		}
	}
	assert.EqualValues(t, 2, len(outcomes))
	assert.EqualValues(t, 2, pulled, "feed must not be consulted after the failure")
}

func TestService_FeedFaultStopsDispatch(t *testing.T) {
	faulty := errors.New("feed offline")
	pulled := 0
	aFeed := feed.OfFunc(func(ctx context.Context) (interface{}, error) {
		if pulled == 2 {
			return nil, faulty
		}
		pulled++
		return pulled, nil
	})

	outcomes, err := runGroup(t, 2, aFeed, square, nil)
	assert.EqualValues(t, faulty, err, "a feed fault is the run error")
	assert.EqualValues(t, 2, len(outcomes), "tasks dispatched before the fault are drained")
	assert.EqualValues(t, []interface{}{1, 4}, outcomes.Values())
}

func TestService_PolicyFromContext(t *testing.T) {
	group, err := memory.NewGroup(2, memory.DefaultConfig())
	assert.Nil(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = policy.WithPolicy(ctx, &policy.Policy{Mode: policy.ModeFailFast})

	failing := func(ctx context.Context, payload interface{}) (interface{}, error) {
		return nil, errors.New("always fails")
	}
	aWorker, err := worker.New(group[1], failing, worker.WithSilent(true))
	assert.Nil(t, err)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- aWorker.Run(ctx)
	}()

	service, err := New(group[0], feed.OfPayloads(1, 2, 3), WithSilent(true))
	assert.Nil(t, err)
	outcomes, err := service.Run(ctx)
	assert.NotNil(t, err, "context policy should make the run fail fast")
	assert.EqualValues(t, 1, len(outcomes))

	select {
	case err := <-workerDone:
		assert.Nil(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not shut down")
	}
}

func TestService_ProtocolViolationAborts(t *testing.T) {
	group, err := memory.NewGroup(2, memory.DefaultConfig())
	assert.Nil(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	master, rogue := group[0], group[1]

	rogueDone := make(chan struct{})
	go func() {
		defer close(rogueDone)
		if _, _, err := rogue.Receive(ctx, rank.Master); err != nil {
			return
		}
		_ = rogue.Send(ctx, rank.Master, transport.Envelope{Kind: transport.KindTask, TaskID: 0})
		env, _, err := rogue.Receive(ctx, rank.Master)
		if err == nil && env.Kind != transport.KindShutdown {
			t.Errorf("expected shutdown after abort, got %v", env.Kind)
		}
	}()

	service, err := New(master, feed.OfPayloads(1, 2), WithSilent(true))
	assert.Nil(t, err)
	outcomes, err := service.Run(ctx)
	assert.True(t, errors.Is(err, ErrProtocol))
	assert.Nil(t, outcomes)

	select {
	case <-rogueDone:
	case <-time.After(2 * time.Second):
		t.Fatal("rogue worker did not finish")
	}
}

func TestService_UnsolicitedResultAborts(t *testing.T) {
	group, err := memory.NewGroup(2, memory.DefaultConfig())
	assert.Nil(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	master, rogue := group[0], group[1]

	go func() {
		if _, _, err := rogue.Receive(ctx, rank.Master); err != nil {
			return
		}
		_ = rogue.Send(ctx, rank.Master, transport.NewResult(task.NewResult(99, "ghost")))
		_, _, _ = rogue.Receive(ctx, rank.Master)
	}()

	service, err := New(master, feed.OfPayloads(1, 2), WithSilent(true))
	assert.Nil(t, err)
	_, err = service.Run(ctx)
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestService_ProgressCounters(t *testing.T) {
	group, err := memory.NewGroup(2, memory.DefaultConfig())
	assert.Nil(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx, tracker := progress.WithNewTracker(ctx, "test-run", 2, nil)

	aWorker, err := worker.New(group[1], square, worker.WithSilent(true))
	assert.Nil(t, err)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- aWorker.Run(ctx)
	}()

	service, err := New(group[0], feed.OfPayloads(1, 2, 3), WithSilent(true))
	assert.Nil(t, err)
	_, err = service.Run(ctx)
	assert.Nil(t, err)
	<-workerDone

	snapshot := tracker.Snapshot()
	assert.EqualValues(t, 3, snapshot.DispatchedTasks)
	assert.EqualValues(t, 3, snapshot.CompletedTasks)
	assert.EqualValues(t, 0, snapshot.FailedTasks)
	assert.EqualValues(t, 0, snapshot.InFlightTasks)
}

func TestNew_Validation(t *testing.T) {
	group, err := memory.NewGroup(2, memory.DefaultConfig())
	assert.Nil(t, err)

	_, err = New(nil, feed.OfPayloads())
	assert.NotNil(t, err)
	_, err = New(group[1], feed.OfPayloads())
	assert.NotNil(t, err, "only the master can dispatch")
	_, err = New(group[0], nil)
	assert.NotNil(t, err)
	_, err = New(group[0], feed.OfPayloads(), WithWindow(0))
	assert.NotNil(t, err)

	solo, err := memory.NewGroup(1, memory.DefaultConfig())
	assert.Nil(t, err)
	_, err = New(solo[0], feed.OfPayloads())
	assert.NotNil(t, err, "a group of one needs a computation")
}
