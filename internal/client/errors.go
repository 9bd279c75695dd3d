package client

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrAuthConfig is returned when the ranking service credentials are not configured
	ErrAuthConfig = errors.New("ranking service client id and secret must be set")

	// ErrTokenLockTimeout is returned when the refresh lock could not be acquired
	// and no other caller stored a token in the meantime
	ErrTokenLockTimeout = errors.New("timed out waiting for token refresh lock")

	// ErrLockNotAcquired is returned by a TokenStore when its lock wait elapses
	ErrLockNotAcquired = errors.New("token lock not acquired")

	// ErrPlayerNotFound is returned when the rating service has no profile for a player
	ErrPlayerNotFound = errors.New("player profile not found")
)

// AuthFetchError wraps a failed token exchange
type AuthFetchError struct {
	Err error
}

func (e *AuthFetchError) Error() string {
	return fmt.Sprintf("failed to fetch access token: %v", e.Err)
}

func (e *AuthFetchError) Unwrap() error {
	return e.Err
}

// StatusError is a non-success HTTP response from an upstream service
type StatusError struct {
	Service    string
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, strings.TrimSpace(body))
}

// Retryable reports whether the status is worth another attempt
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return e.StatusCode >= 500
}

// UpstreamQueryError is a ranking query that came back malformed or with a
// GraphQL error array. It is never retried.
type UpstreamQueryError struct {
	EncounterID int
	ClassName   string
	SpecName    string
	Messages    []string
	Err         error
}

func (e *UpstreamQueryError) Error() string {
	target := fmt.Sprintf("encounter=%d class=%s spec=%s", e.EncounterID, e.ClassName, e.SpecName)
	if len(e.Messages) > 0 {
		return fmt.Sprintf("ranking query failed (%s): %s", target, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("ranking query failed (%s): %v", target, e.Err)
}

func (e *UpstreamQueryError) Unwrap() error {
	return e.Err
}

// parseRetryAfter reads a Retry-After header given either in seconds or as an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// newStatusError builds a StatusError from a response and its already-read body
func newStatusError(service string, resp *http.Response, body []byte) *StatusError {
	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Body:       string(body),
	}
}
