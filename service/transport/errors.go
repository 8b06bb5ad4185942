package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrRankOutOfRange indicates a rank outside [0, Ranks).
	ErrRankOutOfRange = errors.New("rank out of range")

	// ErrClosed indicates use of a transport after Close.
	ErrClosed = errors.New("transport closed")

	// ErrBacklogFull indicates a send that would exceed the per-pair buffer.
	ErrBacklogFull = errors.New("transport backlog full")
)

// RankError wraps ErrRankOutOfRange with the offending rank and group size.
func RankError(rank, size int) error {
	return fmt.Errorf("%w: rank %d, group size %d", ErrRankOutOfRange, rank, size)
}
