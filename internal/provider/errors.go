package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// NotFoundError reports that a project does not exist on the selected
// provider. Never retried.
type NotFoundError struct {
	Provider string
	Input    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: project %q not found", e.Provider, e.Input)
}

// AmbiguousError reports that the input underspecifies the project, e.g. a
// bare name on a provider that needs owner/name. The caller must
// disambiguate; no provider fallback can fix this.
type AmbiguousError struct {
	Provider string
	Input    string
	Hint     string
}

func (e *AmbiguousError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %q is ambiguous: %s", e.Provider, e.Input, e.Hint)
	}
	return fmt.Sprintf("%s: %q is ambiguous", e.Provider, e.Input)
}

// TransientError reports a retryable condition: timeout, 5xx, rate limit.
// RetryAfter carries the provider's hint when one was supplied.
type TransientError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError reports a non-retryable provider failure (4xx other than
// rate limiting, malformed payloads). Surfaced immediately.
type PermanentError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryAfterHint extracts the provider-supplied retry-after delay from a
// transient error chain, or 0 when none was given.
func RetryAfterHint(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// ClassifyNetError wraps a raw transport error into TransientError or
// PermanentError by inspecting the error chain. Timeouts, DNS failures and
// connection resets are transient; TLS certificate problems are permanent
// since retrying cannot fix a broken trust chain.
func ClassifyNetError(providerName, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Provider: providerName, Message: message + ": timeout", Err: err}
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return &PermanentError{Provider: providerName, Message: message + ": TLS verification failed", Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &TransientError{Provider: providerName, Message: message + ": DNS failure", Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TransientError{Provider: providerName, Message: message + ": connection failure", Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &TransientError{Provider: providerName, Message: message + ": timeout", Err: err}
		}
		inner := urlErr.Err.Error()
		if strings.Contains(inner, "certificate") || strings.Contains(inner, "x509") {
			return &PermanentError{Provider: providerName, Message: message + ": TLS verification failed", Err: err}
		}
		return &TransientError{Provider: providerName, Message: message, Err: err}
	}

	return &TransientError{Provider: providerName, Message: message, Err: err}
}

// classifyStatus maps an HTTP status code from a release-listing call into
// the error taxonomy. notFoundInput names the project for 404 messages.
func classifyStatus(providerName string, status int, notFoundInput string, retryAfter time.Duration) error {
	switch {
	case status == 404:
		return &NotFoundError{Provider: providerName, Input: notFoundInput}
	case status == 429:
		return &TransientError{
			Provider:   providerName,
			Message:    "rate limited",
			RetryAfter: retryAfter,
		}
	case status >= 500:
		return &TransientError{
			Provider: providerName,
			Message:  fmt.Sprintf("server error: status %d", status),
		}
	default:
		return &PermanentError{
			Provider:   providerName,
			StatusCode: status,
			Message:    fmt.Sprintf("unexpected status %d", status),
		}
	}
}

// parseRetryAfter interprets a Retry-After header value in seconds.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(value, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
