package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Kind is the retry classification of an error.
type Kind string

const (
	KindTransientNetwork Kind = "transient_network"
	KindRateLimited      Kind = "rate_limited"
	KindTimeout          Kind = "timeout"
	KindPermanent        Kind = "permanent"
)

// ProviderError is a classified failure from an external provider call.
type ProviderError struct {
	Kind       Kind
	Provider   string
	StatusCode int
	// RetryAfter is a provider supplied hint. Zero means none.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		b.WriteString(")")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetryDelay exposes the provider's retry hint to the policy.
func (e *ProviderError) RetryDelay() time.Duration { return e.RetryAfter }

// Permanent marks err as not worth retrying.
func Permanent(provider string, err error) error {
	return &ProviderError{Kind: KindPermanent, Provider: provider, Err: err}
}

// Transient marks err as a retryable connection-level failure.
func Transient(provider string, err error) error {
	return &ProviderError{Kind: KindTransientNetwork, Provider: provider, Err: err}
}

// RateLimited marks err as a provider rate-limit signal.
func RateLimited(provider string, retryAfter time.Duration, err error) error {
	return &ProviderError{Kind: KindRateLimited, Provider: provider, RetryAfter: retryAfter, Err: err}
}

// FromStatus builds a ProviderError for a non-2xx HTTP response.
func FromStatus(provider string, status int, header http.Header, body string) error {
	err := &ProviderError{
		Kind:       KindForStatus(status),
		Provider:   provider,
		StatusCode: status,
	}
	if body != "" {
		err.Err = errors.New(truncate(body, 512))
	}
	if header != nil {
		err.RetryAfter = ParseRetryAfter(header.Get("Retry-After"))
	}
	if err.RetryAfter == 0 && body != "" {
		err.RetryAfter = ExtractRetryDelay(body)
	}
	return err
}

// KindForStatus maps an HTTP status code to a retry kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindTransientNetwork
	default:
		return KindPermanent
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

var retryDelayRegex = regexp.MustCompile(`(?i)(?:retry in |retryDelay[:\s"]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay pulls a "retry in Ns" hint out of an error message.
func ExtractRetryDelay(msg string) time.Duration {
	m := retryDelayRegex.FindStringSubmatch(msg)
	if len(m) < 2 {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Classify returns the retry kind of err. Errors that carry no
// classification fall back to message inspection; anything still unknown is
// treated as a transient network failure so that it is retried a bounded
// number of times.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	var k interface{ RetryKind() Kind }
	if errors.As(err, &k) {
		return k.RetryKind()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransientNetwork
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransientNetwork
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies SDK errors that only expose a formatted message.
func ClassifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "429") || strings.Contains(m, "resource_exhausted") ||
		strings.Contains(m, "rate limit") || strings.Contains(m, "quota"):
		return KindRateLimited
	case strings.Contains(m, "deadline exceeded") || strings.Contains(m, "timeout") ||
		strings.Contains(m, "timed out"):
		return KindTimeout
	case strings.Contains(m, "400") || strings.Contains(m, "401") || strings.Contains(m, "403") ||
		strings.Contains(m, "404") || strings.Contains(m, "invalid_argument") ||
		strings.Contains(m, "permission_denied") || strings.Contains(m, "unauthenticated") ||
		strings.Contains(m, "unsupported"):
		return KindPermanent
	default:
		return KindTransientNetwork
	}
}

// delayHint returns a retry hint carried by err, if any.
func delayHint(err error) time.Duration {
	var h interface{ RetryDelay() time.Duration }
	if errors.As(err, &h) {
		return h.RetryDelay()
	}
	return 0
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
