package resolve

import (
	"fmt"
	"time"
)

// NoMatchingReleaseError reports that the project exists and has releases,
// but none survived the selection policy. Distinct from the provider
// not-found case so callers can say "no stable release yet" instead of
// "no such project".
type NoMatchingReleaseError struct {
	Input string
}

func (e *NoMatchingReleaseError) Error() string {
	return fmt.Sprintf("project %q has releases but none match the selection policy", e.Input)
}

// InvalidVersionError reports a caller-supplied version string with no
// recognizable numeric component. Comparisons against it would be
// meaningless, so it is rejected before any network work.
type InvalidVersionError struct {
	Input string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("%q does not look like a version", e.Input)
}

// TimeoutError reports that a resolution exceeded its wall-clock budget,
// retries included.
type TimeoutError struct {
	Input  string
	Budget time.Duration
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resolving %q exceeded the %v budget", e.Input, e.Budget)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
