package provider

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"404 is not found", 404, func(err error) bool {
			var e *NotFoundError
			return errors.As(err, &e)
		}},
		{"429 is transient", 429, IsTransient},
		{"500 is transient", 500, IsTransient},
		{"503 is transient", 503, IsTransient},
		{"403 is permanent", 403, func(err error) bool {
			var e *PermanentError
			return errors.As(err, &e)
		}},
		{"400 is permanent", 400, func(err error) bool {
			var e *PermanentError
			return errors.As(err, &e)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyStatus("test", tt.status, "proj", 0)
			if !tt.check(err) {
				t.Errorf("classifyStatus(%d) = %T %v", tt.status, err, err)
			}
		})
	}
}

func TestClassifyStatus_RetryAfter(t *testing.T) {
	err := classifyStatus("test", 429, "proj", 30*time.Second)
	if got := RetryAfterHint(err); got != 30*time.Second {
		t.Errorf("RetryAfterHint = %v, want 30s", got)
	}
}

func TestClassifyNetError(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "example.invalid"}
	if !IsTransient(ClassifyNetError("test", "fetch", dnsErr)) {
		t.Error("DNS errors should be transient")
	}

	if !IsTransient(ClassifyNetError("test", "fetch", context.DeadlineExceeded)) {
		t.Error("deadline exceeded should be transient")
	}

	// Cancellation passes through untouched so callers can recognize it.
	if ClassifyNetError("test", "fetch", context.Canceled) != context.Canceled {
		t.Error("context.Canceled should not be wrapped")
	}

	opErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	if !IsTransient(ClassifyNetError("test", "fetch", opErr)) {
		t.Error("connection errors should be transient")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"0", 0},
		{"-5", 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.value); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	nf := &NotFoundError{Provider: "github", Input: "acme/gone"}
	if nf.Error() == "" || !errors.As(error(nf), new(*NotFoundError)) {
		t.Error("NotFoundError should format and discriminate")
	}

	amb := &AmbiguousError{Provider: "github", Input: "redis", Hint: "expected owner/name"}
	if amb.Error() == "" {
		t.Error("AmbiguousError should format")
	}

	inner := errors.New("boom")
	te := &TransientError{Provider: "pypi", Message: "rate limited", Err: inner}
	if !errors.Is(te, inner) {
		t.Error("TransientError should unwrap to the cause")
	}
}
