package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported LLM provider: %s", e.Provider)
}

type ErrorKind string

const (
	ErrorNetwork            ErrorKind = "network"
	ErrorRateLimit          ErrorKind = "rate_limit"
	ErrorAuth               ErrorKind = "auth"
	ErrorEmptyResponse      ErrorKind = "empty_response"
	ErrorAllProvidersFailed ErrorKind = "all_providers_failed"
	ErrorConfig             ErrorKind = "config"
	ErrorCircuitOpen        ErrorKind = "circuit_open"
	ErrorProvider           ErrorKind = "provider"
)

var (
	errNoProviders = errors.New("no LLM provider has credentials configured")
	errEmpty       = errors.New("LLM response was empty")
)

// Error is the classified failure of a provider call.
type Error struct {
	Kind       ErrorKind
	Provider   Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the retry policy may attempt the call again.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case ErrorNetwork, ErrorRateLimit, ErrorEmptyResponse:
		return true
	default:
		return false
	}
}

// FallsBack reports whether the next provider should be tried.
func (e *Error) FallsBack() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case ErrorCircuitOpen, ErrorAllProvidersFailed:
		return false
	default:
		return true
	}
}

func KindOf(err error) ErrorKind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func NewEmptyResponseError(provider Kind) *Error {
	return &Error{Kind: ErrorEmptyResponse, Provider: provider, Err: errEmpty}
}

// StatusError classifies an HTTP status returned by a provider.
func StatusError(provider Kind, statusCode int, body string) *Error {
	kind := ErrorProvider
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = ErrorAuth
	case statusCode == http.StatusTooManyRequests:
		kind = ErrorRateLimit
	case statusCode >= 500:
		kind = ErrorNetwork
	}
	message := fmt.Sprintf("LLM request failed with status %d", statusCode)
	if trimmed := strings.TrimSpace(body); trimmed != "" {
		if len(trimmed) > 300 {
			trimmed = trimmed[:300]
		}
		message += ": " + trimmed
	}
	return &Error{Kind: kind, Provider: provider, StatusCode: statusCode, Err: errors.New(message)}
}

// Normalize classifies err so the retry policy can evaluate it. Errors that are
// already classified pass through; transport failures become ErrorNetwork.
func Normalize(provider Kind, err error) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		if llmErr.Provider == "" {
			llmErr.Provider = provider
		}
		return llmErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isNetworkError(err) {
		return &Error{Kind: ErrorNetwork, Provider: provider, Err: err}
	}
	return &Error{Kind: ErrorProvider, Provider: provider, Err: err}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "connection refused", "timeout", "timed out", "eof", "no such host", "broken pipe"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
