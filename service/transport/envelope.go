package transport

import (
	"github.com/mrafieir/mpi-fanout/model/task"
)

// Kind discriminates every message exchanged between master and workers.
type Kind uint8

const (
	// KindTask carries a unit of work from master to a worker.
	KindTask Kind = iota
	// KindResult carries a worker's outcome back to the master.
	KindResult
	// KindShutdown tells a worker to exit its receive loop.
	KindShutdown
)

// String returns kind name
func (k Kind) String() string {
	switch k {
	case KindTask:
		return "TASK"
	case KindResult:
		return "RESULT"
	case KindShutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}

// Envelope is the single message shape on the wire. TaskID is meaningful for
// TASK and RESULT kinds; a SHUTDOWN envelope carries no payload.
type Envelope struct {
	Kind    Kind        `json:"kind"`
	TaskID  int         `json:"taskID"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewTask returns a TASK envelope for the supplied unit of work.
func NewTask(t *task.Task) Envelope {
	return Envelope{Kind: KindTask, TaskID: t.ID, Payload: t.Payload}
}

// NewResult returns a RESULT envelope wrapping a worker outcome.
func NewResult(res *task.Result) Envelope {
	return Envelope{Kind: KindResult, TaskID: res.TaskID, Payload: res}
}

// NewShutdown returns the poison pill broadcast to workers during shutdown.
func NewShutdown() Envelope {
	return Envelope{Kind: KindShutdown}
}

// Task reconstructs the unit of work carried by a TASK envelope.
func (e Envelope) Task() *task.Task {
	return &task.Task{ID: e.TaskID, Payload: e.Payload}
}

// Result returns the outcome carried by a RESULT envelope, or nil when the
// payload is of an unexpected shape.
func (e Envelope) Result() *task.Result {
	switch actual := e.Payload.(type) {
	case *task.Result:
		return actual
	case task.Result:
		return &actual
	}
	return nil
}
