// Package xerrors implements the error taxonomy of spec §7, generalized
// from the teacher's single-concern governance.ConstitutionalViolation
// (kernel containment only) into a cross-component Fault type. No other
// package of this repository imports it; modules return ordinary errors.
package xerrors

import (
	"fmt"
)

// Code is one of the seven error classes named in §7. Code determines
// how the caller must react: only Fatal may escape to the process
// boundary; everything else is handled locally and, where user-visible,
// surfaced as a *.alert topic or operator card rather than an exception.
type Code string

const (
	// Validation: input missing or malformed. Non-retriable.
	Validation Code = "validation"

	// IdempotentDuplicate: a benign drop of an already-processed event.
	IdempotentDuplicate Code = "idempotent_duplicate"

	// StateMissing: required upstream state (exposure, policy, baseline)
	// is absent or stale. Caller should defer or reject with a reason.
	StateMissing Code = "state_missing"

	// PolicyViolation: a hard or soft policy constraint was crossed.
	// Outcome (reject/defer/adjust) is decided by the calling component.
	PolicyViolation Code = "policy_violation"

	// Backpressure: a queue or rate limit is saturated. Never crashes;
	// triggers adaptive sampling or a throttled warning instead.
	Backpressure Code = "backpressure"

	// ResourceExhausted: a sink or resource is full. Retry with backoff;
	// route to a dead-letter queue once retries are exhausted.
	ResourceExhausted Code = "resource_exhausted"

	// Fatal: unrecoverable initialization failure. The only code allowed
	// to terminate the process.
	Fatal Code = "fatal"
)

// Fault is the structured error value every component returns for a
// non-nil outcome. It is also the shape embedded in audit.log entries
// (§7: "every failure produces an audit.log event with structured code").
type Fault struct {
	Code    Code
	Message string
	Details map[string]any
}

func (f *Fault) Error() string {
	if len(f.Details) == 0 {
		return fmt.Sprintf("[%s] %s", f.Code, f.Message)
	}
	return fmt.Sprintf("[%s] %s %v", f.Code, f.Message, f.Details)
}

// New builds a Fault with no details.
func New(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured context to a Fault and returns it,
// allowing call sites to chain xerrors.New(...).WithDetails(...).
func (f *Fault) WithDetails(details map[string]any) *Fault {
	f.Details = details
	return f
}

// IsFatal reports whether err is a *Fault with Code == Fatal, the only
// class permitted to reach main and call os.Exit.
func IsFatal(err error) bool {
	f, ok := err.(*Fault)
	return ok && f.Code == Fatal
}

// As extracts a *Fault from err, mirroring errors.As without requiring
// callers to import both packages for this one narrow case.
func As(err error) (*Fault, bool) {
	f, ok := err.(*Fault)
	return f, ok
}
