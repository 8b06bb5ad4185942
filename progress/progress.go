package progress

import (
	"context"
	"sync"
	"time"

	"github.com/mrafieir/mpi-fanout/internal/clock"
)

// Delta represents an incremental counter change emitted by the dispatcher or
// collector.  The fields are signed and therefore can be either positive
// (increment) or negative (decrement).
type Delta struct {
	Dispatched int
	Completed  int
	Failed     int
	InFlight   int
}

// Snapshot is a read-only copy of the tracker counters.
type Snapshot struct {
	// Identification – informative only, filled when the run starts.
	RunID     string
	GroupSize int
	StartedAt time.Time

	// Counters – modified via Update().
	DispatchedTasks int
	CompletedTasks  int
	FailedTasks     int
	InFlightTasks   int
}

// Progress keeps aggregated task counters for a single dispatch run.  The
// tracker instance lives in the run context – every component that receives
// the context can atomically update the counters via the Delta helper without
// requiring a global registry.  It is safe for concurrent use.
type Progress struct {
	mu       sync.Mutex
	snapshot Snapshot
	onChange func(Snapshot)
}

// Update applies the supplied delta to the tracker.  It is safe to call from
// multiple goroutines.  If an onChange callback has been registered it will be
// invoked with a copy of the updated counters outside the critical section so
// that the callback can perform slow operations (e.g. JSON encoding, I/O)
// without blocking dispatch internals.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.mu.Lock()

	p.snapshot.DispatchedTasks += d.Dispatched
	p.snapshot.CompletedTasks += d.Completed
	p.snapshot.FailedTasks += d.Failed
	p.snapshot.InFlightTasks += d.InFlight

	snapshot := p.snapshot
	cb := p.onChange

	p.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the counters suitable for read-only inspection.
func (p *Progress) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// OnChange registers a callback that is invoked after every successful
// Update.  Passing nil disables the callback.  Only one callback can be
// active; subsequent calls overwrite the previous value.
func (p *Progress) OnChange(cb func(Snapshot)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.onChange = cb
	p.mu.Unlock()
}

// ----------------------------------------------------------------------------
// Context helpers
// ----------------------------------------------------------------------------

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker creates a new Progress tracker, embeds it in a derived
// context and returns both.  The caller may optionally pass an onChange
// callback that will be invoked after every counter update.
func WithNewTracker(ctx context.Context, runID string, groupSize int, onChange func(Snapshot)) (context.Context, *Progress) {
	if ctx == nil {
		ctx = context.Background()
	}
	tr := &Progress{
		snapshot: Snapshot{
			RunID:     runID,
			GroupSize: groupSize,
			StartedAt: clock.Now(),
		},
		onChange: onChange,
	}
	return context.WithValue(ctx, trackerKey, tr), tr
}

// FromContext extracts the Progress tracker from ctx.  It returns (tracker,
// ok).  The second return value is false when the context carries no tracker.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// GetSnapshot is a convenience wrapper that combines FromContext and
// Snapshot.  The boolean return value is false when the context does not
// carry a tracker.
func GetSnapshot(ctx context.Context) (Snapshot, bool) {
	if tr, ok := FromContext(ctx); ok {
		return tr.Snapshot(), true
	}
	return Snapshot{}, false
}

// UpdateCtx is a helper that looks up the tracker in ctx (if any) and applies
// the supplied delta.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
