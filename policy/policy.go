package policy

import (
	"context"
	"strings"
)

// Failure modes recognised by the dispatcher.
const (
	ModeCollect  = "collect"  // run every task, report failures per task (default)
	ModeFailFast = "failFast" // stop dispatching new tasks after the first failure
)

// FailureFunc is invoked once per failed task as failures are observed.
// Implementations MAY mutate the policy (for example, switching to
// ModeFailFast after a failure burst).
type FailureFunc func(
	ctx context.Context,
	taskID int, // failed task
	err error, // failure bound to the task
	p *Policy,
)

// Policy represents the failure handling settings for the current run.
//
//   - Mode controls the high-level behaviour (collect / failFast).
//   - MaxFailures optionally caps tolerated failures in collect mode; once
//     reached dispatch halts as if failFast had been set.
//   - OnFailure is an optional observer hook.
//
// A nil *Policy means "collect everything" and is therefore the zero-cost
// default.
type Policy struct {
	Mode        string // collect / failFast (default = collect)
	MaxFailures int    // 0 => unlimited
	OnFailure   FailureFunc
}

// FailFast reports whether the first failure halts dispatch.
func (p *Policy) FailFast() bool {
	if p == nil {
		return false
	}
	return strings.EqualFold(p.Mode, ModeFailFast)
}

// Halt reports whether dispatch of new tasks must stop given the number of
// failures observed so far.
func (p *Policy) Halt(failures int) bool {
	if failures == 0 {
		return false
	}
	if p.FailFast() {
		return true
	}
	if p != nil && p.MaxFailures > 0 && failures >= p.MaxFailures {
		return true
	}
	return false
}

// NotifyFailure invokes the OnFailure hook when present.
func (p *Policy) NotifyFailure(ctx context.Context, taskID int, err error) {
	if p == nil || p.OnFailure == nil {
		return
	}
	p.OnFailure(ctx, taskID, err, p)
}

// ---------------------------------------------------------------------------
// Config <-> Policy converters (Config is a serialisable subset used when a
// Policy with FailureFunc cannot be persisted).
// ---------------------------------------------------------------------------

// Config represents the declarative, serialisable part of a Policy.
type Config struct {
	Mode        string `json:"mode,omitempty" yaml:"mode,omitempty"`
	MaxFailures int    `json:"maxFailures,omitempty" yaml:"maxFailures,omitempty"`
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:        p.Mode,
		MaxFailures: p.MaxFailures,
	}
}

// FromConfig converts a stored Config back to a runtime Policy (without
// FailureFunc).
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:        c.Mode,
		MaxFailures: c.MaxFailures,
	}
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds policy in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts (*Policy, ok).
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
