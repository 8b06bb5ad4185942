package dispatcher

import (
	"fmt"
)

// slot tracks the tasks currently assigned to one worker rank.
type slot struct {
	rank int
	busy []int
}

// slots tracks assignment across every worker of the group. The dispatcher
// runs single-threaded, so no locking is needed here.
type slots struct {
	members map[int]*slot
	window  int
	inUse   int
}

func newSlots(workers, window int) *slots {
	s := &slots{members: make(map[int]*slot, workers), window: window}
	for i := 1; i <= workers; i++ {
		s.members[i] = &slot{rank: i}
	}
	return s
}

// capacity returns how many more tasks the worker can take.
func (s *slots) capacity(rank int) int {
	member, ok := s.members[rank]
	if !ok {
		return 0
	}
	return s.window - len(member.busy)
}

// assign records a task dispatched to the worker.
func (s *slots) assign(rank, taskID int) error {
	member, ok := s.members[rank]
	if !ok {
		return fmt.Errorf("unknown worker rank %v", rank)
	}
	if len(member.busy) >= s.window {
		return fmt.Errorf("worker %v is already at window capacity %v", rank, s.window)
	}
	member.busy = append(member.busy, taskID)
	s.inUse++
	return nil
}

// release clears a task from the worker after its result arrived. A release
// for a task the worker does not hold is a protocol violation.
func (s *slots) release(rank, taskID int) error {
	member, ok := s.members[rank]
	if !ok {
		return fmt.Errorf("result from unknown rank %v", rank)
	}
	for i, id := range member.busy {
		if id == taskID {
			member.busy = append(member.busy[:i], member.busy[i+1:]...)
			s.inUse--
			return nil
		}
	}
	return fmt.Errorf("worker %v returned task %v it does not hold", rank, taskID)
}

// inFlight returns how many tasks are currently assigned across all workers.
func (s *slots) inFlight() int {
	return s.inUse
}
