// Package fanout provides a master-worker engine that spreads independent
// tasks across a fixed-size group of ranks.
//
// Rank 0 (the master) owns a lazy task feed and keeps every worker rank busy
// up to a configurable outstanding-task window; workers compute results and
// send them back, and the run ends with a cooperative shutdown once the feed
// is exhausted and all results are in. Coordination happens purely through
// typed envelopes over a pluggable transport:
//
//   - dispatcher – master-side dispatch loop and state machine
//   - worker     – worker-side receive/compute/reply loop
//   - transport  – in-process channels or a shared filesystem spool
//   - collector  – id-keyed accumulation into an order-stable sequence
//
// Fanout is designed to be embedded in host applications. End-users
// typically interact with the engine via the high-level Service façade
// exposed by the root package:
//
//	srv := fanout.New(fanout.WithWindow(2))
//	outcomes, err := srv.RunLocal(ctx, 4, payloads, square)
//	values := outcomes.Values()
//
// For more details see the README and individual sub-packages.
package fanout
