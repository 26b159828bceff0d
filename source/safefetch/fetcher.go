package safefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360studio/safefetch/source/weburl"
)

// NoRedirects passed as Options.MaxRedirects makes any redirect fail.
const NoRedirects = -1

// sensitiveHeaders are dropped when a redirect changes origin.
var sensitiveHeaders = []string{"Authorization", "Proxy-Authorization", "Cookie"}

// URLClassifier decides whether a URL may be requested.
type URLClassifier interface {
	Classify(ctx context.Context, rawURL string) weburl.Classification
}

// Options control a single Fetch call. Zero values fall back to the
// fetcher's configuration.
type Options struct {
	// Headers are sent on every hop, minus credentials after an origin change.
	Headers map[string]string

	// Query is appended to the first request only. Redirect targets are
	// used exactly as the server sent them.
	Query url.Values

	// Timeout bounds each hop.
	Timeout time.Duration

	// TotalTimeout bounds the whole call across hops.
	TotalTimeout time.Duration

	// MaxRedirects limits followed redirects; NoRedirects disallows them.
	MaxRedirects int

	// MaxBodyBytes caps the bytes read from the final response.
	MaxBodyBytes int64

	// Stream leaves the body unread and returns it as Response.Stream.
	Stream bool
}

// Response is the normalized result of a fetch.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body holds at most MaxBodyBytes of the final body. Empty for redirect
	// history entries and in stream mode.
	Body []byte

	// Truncated is true when the buffered body hit the byte cap. Callers
	// should treat any body as possibly incomplete.
	Truncated bool

	// Stream is set in stream mode. The caller must close it.
	Stream io.ReadCloser

	// FinalURL is the URL that produced this response.
	FinalURL string

	// RedirectHistory holds the redirect responses in the order they were
	// followed. Their bodies have already been released.
	RedirectHistory []*Response
}

// Close releases the stream, if any.
func (r *Response) Close() error {
	if r == nil || r.Stream == nil {
		return nil
	}
	return r.Stream.Close()
}

// Fetcher performs GET requests against untrusted URLs. It follows redirects
// itself, classifying every hop before a connection is opened. A Fetcher
// holds no per-call state and is safe for concurrent use.
type Fetcher struct {
	client     *http.Client
	classifier URLClassifier
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTransport replaces the guarded transport. Automatic redirect following
// stays disabled whatever transport is used.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		if rt != nil {
			f.client = newClient(rt)
		}
	}
}

// WithClassifier replaces the URL classifier built from the configuration.
func WithClassifier(c URLClassifier) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.classifier = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// NewFetcher creates a fetcher from cfg. Unless replaced by options, the
// classifier and the guarded dialer share the resolver cfg selects.
func NewFetcher(cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}

	resolver := cfg.NewResolver()
	if f.classifier == nil {
		f.classifier = weburl.NewClassifier(
			weburl.WithResolver(resolver),
			weburl.WithBlockedHosts(cfg.GetBlockedHosts()),
			weburl.WithLogger(f.logger),
		)
	}
	if f.client == nil {
		f.client = newClient(NewTransport(NewGuardedDialer(resolver)))
	}
	return f
}

// Classifier returns the classifier applied to every hop, so callers can
// pre-check URLs against the same rules.
func (f *Fetcher) Classifier() URLClassifier {
	return f.classifier
}

func newClient(rt http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// fetchState is owned by a single Fetch call.
type fetchState struct {
	currentURL string
	hopCount   int
	visited    map[string]struct{}
	headers    http.Header
	history    []*Response
}

func (f *Fetcher) resolveOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = f.cfg.GetTimeout()
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = f.cfg.GetTotalTimeout()
	}
	if opts.TotalTimeout < opts.Timeout {
		opts.TotalTimeout = opts.Timeout
	}
	switch {
	case opts.MaxRedirects == NoRedirects:
		opts.MaxRedirects = 0
	case opts.MaxRedirects <= 0:
		opts.MaxRedirects = f.cfg.GetMaxRedirects()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = f.cfg.GetMaxBodyBytes()
	}
	return opts
}

// Fetch performs one logical GET of rawURL. Each hop is classified, then
// requested with redirects disabled, and redirect targets go back through
// classification. The returned error is one of the kinds reported by KindOf.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	opts = f.resolveOptions(opts)

	resp, err := f.fetch(ctx, rawURL, opts)
	f.metrics.observeOutcome(KindOf(err))
	f.metrics.observeResponse(resp, !opts.Stream)
	return resp, err
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	ctx, cancelTotal := context.WithTimeoutCause(ctx, opts.TotalTimeout, ErrTimeBudgetExceeded)

	state := &fetchState{
		currentURL: withQuery(rawURL, opts.Query),
		visited:    make(map[string]struct{}),
		headers:    f.buildHeaders(opts.Headers),
	}

	for {
		hopCtx, cancelHop := context.WithTimeout(ctx, opts.Timeout)
		release := func() {
			cancelHop()
			cancelTotal()
		}

		if err := f.validate(hopCtx, ctx, state, opts); err != nil {
			release()
			return nil, err
		}

		f.logger.Debug("Fetching", "url", state.currentURL, "hop", state.hopCount)
		httpResp, err := f.do(hopCtx, state)
		if err != nil {
			release()
			return nil, f.transportError(ctx, state, err)
		}

		next, redirect, err := redirectTarget(state.currentURL, httpResp)
		if err != nil {
			drainAndClose(httpResp.Body)
			release()
			return nil, err
		}
		if !redirect {
			return f.finish(state, httpResp, opts, release)
		}

		state.history = append(state.history, &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			FinalURL:   state.currentURL,
		})
		drainAndClose(httpResp.Body)
		cancelHop()

		state.advance(next)
	}
}

// validate runs the VALIDATING step for the current hop.
func (f *Fetcher) validate(hopCtx, totalCtx context.Context, state *fetchState, opts Options) error {
	if err := totalCtx.Err(); err != nil {
		return &NetworkError{URL: state.currentURL, Hop: state.hopCount, Err: budgetCause(totalCtx, err)}
	}

	verdict := f.classifier.Classify(hopCtx, state.currentURL)
	if err := resolutionInterrupted(hopCtx, verdict); err != nil {
		return &NetworkError{URL: state.currentURL, Hop: state.hopCount, Err: budgetCause(totalCtx, err)}
	}
	if !verdict.Safe() {
		f.logger.Warn("Blocked unsafe URL",
			"url", state.currentURL,
			"hop", state.hopCount,
			"reason", verdict.Reason)
		return &UnsafeURLError{URL: state.currentURL, Hop: state.hopCount, Reason: verdict.Reason}
	}

	if state.hopCount > opts.MaxRedirects {
		return &TooManyRedirectsError{URL: state.currentURL, MaxRedirects: opts.MaxRedirects}
	}

	key := visitKey(state.currentURL)
	if _, seen := state.visited[key]; seen && state.hopCount > 0 {
		return &RedirectLoopError{URL: state.currentURL, Hop: state.hopCount}
	}
	state.visited[key] = struct{}{}
	return nil
}

// resolutionInterrupted returns the context error when classification
// failed only because the lookup ran out of time or was cancelled. Such a
// hop is a network failure, not a verdict on the host.
func resolutionInterrupted(ctx context.Context, verdict weburl.Classification) error {
	if verdict.Safe() || verdict.Err == nil {
		return nil
	}
	if errors.Is(verdict.Err, context.DeadlineExceeded) || errors.Is(verdict.Err, context.Canceled) {
		return fmt.Errorf("resolve host: %w", verdict.Err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("resolve host: %w", err)
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, state *fetchState) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, state.currentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = state.headers.Clone()
	return f.client.Do(req)
}

// transportError maps a failed round trip onto the error taxonomy.
func (f *Fetcher) transportError(totalCtx context.Context, state *fetchState, err error) error {
	if blocked, ok := isBlockedDial(err); ok {
		f.logger.Warn("Blocked connection to unsafe address",
			"url", state.currentURL,
			"hop", state.hopCount,
			"ip", blocked.IP.String())
		return &UnsafeURLError{
			URL:    state.currentURL,
			Hop:    state.hopCount,
			Reason: blocked.Error(),
			Err:    blocked,
		}
	}
	if totalCtx.Err() != nil {
		err = budgetCause(totalCtx, err)
	}
	return &NetworkError{URL: state.currentURL, Hop: state.hopCount, Err: err}
}

// finish runs the DONE step: attach history and consume the body.
func (f *Fetcher) finish(state *fetchState, httpResp *http.Response, opts Options, release func()) (*Response, error) {
	resp := &Response{
		StatusCode:      httpResp.StatusCode,
		Header:          httpResp.Header,
		FinalURL:        state.currentURL,
		RedirectHistory: state.history,
	}

	if opts.Stream {
		resp.Stream = newCappedStream(httpResp.Body, opts.MaxBodyBytes, release)
		return resp, nil
	}

	body, truncated, err := readCapped(httpResp.Body, opts.MaxBodyBytes, httpResp.ContentLength)
	_ = httpResp.Body.Close()
	release()
	if err != nil {
		return nil, &NetworkError{URL: state.currentURL, Hop: state.hopCount, Err: fmt.Errorf("read body: %w", err)}
	}
	if truncated {
		f.logger.Debug("Response body truncated",
			"url", state.currentURL,
			"limit", opts.MaxBodyBytes)
	}
	resp.Body = body
	resp.Truncated = truncated
	return resp, nil
}

// advance moves to the next hop. Query parameters were already folded into
// the first URL; credentials only travel within one origin.
func (s *fetchState) advance(next *url.URL) {
	if current, err := url.Parse(s.currentURL); err != nil || weburl.ExtractOrigin(current) != weburl.ExtractOrigin(next) {
		for _, h := range sensitiveHeaders {
			s.headers.Del(h)
		}
	}
	s.currentURL = next.String()
	s.hopCount++
}

func (f *Fetcher) buildHeaders(headers map[string]string) http.Header {
	h := make(http.Header, len(headers)+1)
	for k, v := range headers {
		h.Set(k, v)
	}
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", f.cfg.GetUserAgent())
	}
	return h
}

// redirectTarget reports whether resp is a followable redirect and, if so,
// where it points. A redirect status without Location is a final response.
func redirectTarget(currentURL string, resp *http.Response) (*url.URL, bool, error) {
	if !isRedirectStatus(resp.StatusCode) {
		return nil, false, nil
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, false, nil
	}

	base, err := url.Parse(currentURL)
	if err != nil {
		return nil, false, &InvalidResponseError{URL: currentURL, StatusCode: resp.StatusCode, Reason: "current URL does not parse", Err: err}
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, false, &InvalidResponseError{
			URL:        currentURL,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("malformed Location %q", location),
			Err:        err,
		}
	}
	next := base.ResolveReference(ref)
	next.Fragment = ""
	next.RawFragment = ""
	return next, true, nil
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// visitKey normalizes a URL for loop detection. Fragments never reach the
// server, so they do not distinguish two hops.
func visitKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// withQuery appends params to rawURL, keeping any existing query intact.
func withQuery(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.RawQuery == "" {
		u.RawQuery = params.Encode()
	} else {
		u.RawQuery += "&" + params.Encode()
	}
	return u.String()
}

// budgetCause prefers the recorded cause so that an exhausted budget is
// distinguishable from a caller cancellation.
func budgetCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}
