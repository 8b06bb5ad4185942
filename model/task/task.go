package task

import (
	"context"
)

// Task represents a single unit of work owned by the master until it is
// dispatched to a worker. IDs are assigned by the feed in production order,
// starting at zero and increasing monotonically.
type Task struct {
	ID      int         `json:"id"`
	Payload interface{} `json:"payload,omitempty"`
}

// Computation is the user-supplied function evaluated by a worker for each
// task payload. It is passed as a value so that every rank can hold the same
// definition; the engine never looks it up dynamically.
type Computation func(ctx context.Context, payload interface{}) (interface{}, error)

// Result is the wire-level outcome of one task execution, produced by exactly
// one worker and consumed exactly once by the collector. Err travels as a
// plain string so that the envelope stays serialisable across transports.
type Result struct {
	TaskID int         `json:"taskId"`
	Output interface{} `json:"output,omitempty"`
	Err    string      `json:"error,omitempty"`
}

// NewResult creates a successful result for the given task.
func NewResult(taskID int, output interface{}) *Result {
	return &Result{TaskID: taskID, Output: output}
}

// NewFailedResult creates a failure result carrying the computation error.
func NewFailedResult(taskID int, err error) *Result {
	ret := &Result{TaskID: taskID}
	if err != nil {
		ret.Err = err.Error()
	}
	return ret
}

// Failed returns true when the result carries a computation failure.
func (r Result) Failed() bool {
	return r.Err != ""
}

// Outcome is the per-task entry of the final aggregate returned to the
// caller: either the computation output or the captured error.
type Outcome struct {
	Output interface{}
	Err    error
}

// Failed returns true when the outcome holds an error.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Outcomes is the final aggregate, indexed by original task production order
// regardless of completion order.
type Outcomes []Outcome

// Values returns the outputs in task order. Failed entries contribute nil.
func (o Outcomes) Values() []interface{} {
	ret := make([]interface{}, len(o))
	for i := range o {
		ret[i] = o[i].Output
	}
	return ret
}

// FirstError returns the lowest-indexed failure, or nil when every outcome
// succeeded.
func (o Outcomes) FirstError() error {
	for i := range o {
		if o[i].Err != nil {
			return o[i].Err
		}
	}
	return nil
}

// Failed returns the number of failure outcomes.
func (o Outcomes) Failed() int {
	ret := 0
	for i := range o {
		if o[i].Err != nil {
			ret++
		}
	}
	return ret
}
