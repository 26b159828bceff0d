package safefetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTimeBudgetExceeded is the cause recorded when a fetch runs out of its
// whole-call time budget, as opposed to a single hop timing out.
var ErrTimeBudgetExceeded = errors.New("fetch time budget exceeded")

// ErrorKind classifies fetch failures so callers can branch without
// matching on error strings.
type ErrorKind int

const (
	// KindNone is reported for a nil error.
	KindNone ErrorKind = iota
	// KindUnsafeURL means a hop failed classification. Never retry.
	KindUnsafeURL
	// KindTooManyRedirects means the redirect chain exceeded its limit.
	KindTooManyRedirects
	// KindRedirectLoop means a redirect pointed back at a visited URL.
	KindRedirectLoop
	// KindNetwork means the target was unreachable or too slow. Retryable.
	KindNetwork
	// KindInvalidResponse means the server sent a response that cannot be followed.
	KindInvalidResponse
	// KindOther covers errors outside the taxonomy.
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindUnsafeURL:
		return "unsafe_url"
	case KindTooManyRedirects:
		return "too_many_redirects"
	case KindRedirectLoop:
		return "redirect_loop"
	case KindNetwork:
		return "network"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "other"
	}
}

// KindOf returns the kind of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		unsafeErr   *UnsafeURLError
		tooManyErr  *TooManyRedirectsError
		loopErr     *RedirectLoopError
		networkErr  *NetworkError
		responseErr *InvalidResponseError
	)
	switch {
	case errors.As(err, &unsafeErr):
		return KindUnsafeURL
	case errors.As(err, &tooManyErr):
		return KindTooManyRedirects
	case errors.As(err, &loopErr):
		return KindRedirectLoop
	case errors.As(err, &networkErr):
		return KindNetwork
	case errors.As(err, &responseErr):
		return KindInvalidResponse
	default:
		return KindOther
	}
}

// UnsafeURLError reports a URL that failed classification, either before the
// first request, on a redirect hop, or at dial time.
type UnsafeURLError struct {
	URL    string
	Hop    int
	Reason string
	Err    error
}

func (e *UnsafeURLError) Error() string {
	if e.Hop > 0 {
		return fmt.Sprintf("unsafe redirect target %q at hop %d: %s", e.URL, e.Hop, e.Reason)
	}
	return fmt.Sprintf("unsafe URL %q: %s", e.URL, e.Reason)
}

func (e *UnsafeURLError) Unwrap() error {
	return e.Err
}

// TooManyRedirectsError reports a redirect chain longer than allowed.
type TooManyRedirectsError struct {
	URL          string
	MaxRedirects int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("stopped after %d redirects at %q", e.MaxRedirects, e.URL)
}

// RedirectLoopError reports a redirect back to an already visited URL.
type RedirectLoopError struct {
	URL string
	Hop int
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("redirect loop detected at hop %d: %q already visited", e.Hop, e.URL)
}

// NetworkError wraps transport-level failures: connect, DNS at dial time,
// timeouts and body read errors. It is the only retryable kind.
type NetworkError struct {
	URL string
	Hop int
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was caused by a hop timeout or the
// whole-call budget running out.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, ErrTimeBudgetExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// InvalidResponseError reports a response the fetcher cannot act on, such as
// a redirect whose Location does not parse.
type InvalidResponseError struct {
	URL        string
	StatusCode int
	Reason     string
	Err        error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid response from %q (HTTP %d): %s", e.URL, e.StatusCode, e.Reason)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// IsUnsafeURL returns true if err is or wraps an UnsafeURLError.
func IsUnsafeURL(err error) bool {
	return KindOf(err) == KindUnsafeURL
}

// IsNetwork returns true if err is or wraps a NetworkError.
func IsNetwork(err error) bool {
	return KindOf(err) == KindNetwork
}

// IsRetryable returns true if the caller may retry the fetch with backoff.
func IsRetryable(err error) bool {
	return IsNetwork(err)
}
