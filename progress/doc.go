// Package progress provides a lightweight tracker that keeps aggregated
// dispatch counters (tasks dispatched, completed, failed, in flight) for a
// single run.  The tracker lives in the run context so every component that
// receives the context can update or inspect the counters in a uniform way
// without a global registry.
package progress
