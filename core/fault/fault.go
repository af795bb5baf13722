// Package fault defines the error taxonomy shared by the aggregate core.
//
// Every failure surfaced to a caller resolves to a stable machine-readable
// code and is classified as either terminal or retryable. Retryable faults
// (lock timeouts, optimistic concurrency conflicts) may be resolved by
// reloading and re-issuing the command; terminal faults may not.
package fault

import (
	"errors"
	"fmt"
)

// Fault is an error with a stable code and a retryability classification.
// Faults are declared as package-level sentinels so they work with errors.Is.
type Fault struct {
	code      string
	msg       string
	retryable bool
}

func (f *Fault) Error() string   { return f.msg }
func (f *Fault) Code() string    { return f.code }
func (f *Fault) Retryable() bool { return f.retryable }

// New declares a terminal fault.
func New(code, msg string) *Fault {
	return &Fault{code: code, msg: msg}
}

// Retryable declares a fault that callers may resolve by retrying,
// typically after reloading the aggregate or backing off.
func Retryable(code, msg string) *Fault {
	return &Fault{code: code, msg: msg, retryable: true}
}

// Wrap annotates a fault with command-specific detail while keeping the
// sentinel reachable via errors.Is and the code via CodeOf.
func Wrap(f *Fault, format string, args ...any) error {
	return fmt.Errorf("%w: %s", f, fmt.Sprintf(format, args...))
}

// CodeOf returns the stable code of err, or "internal" when err carries none.
func CodeOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.code
	}
	return "internal"
}

// IsRetryable reports whether err may succeed on retry. Unknown errors are
// treated as terminal.
func IsRetryable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.retryable
	}
	return false
}
