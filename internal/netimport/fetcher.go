// internal/netimport/fetcher.go
package netimport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/FairForge/corkboard/internal/logging"
	"github.com/FairForge/corkboard/internal/metrics"
	"go.uber.org/zap"
)

// MaxRedirects bounds how many redirects a single fetch follows
const MaxRedirects = 5

// Response is a completed fetch
type Response struct {
	URL         *url.URL // after redirects
	ContentType string
	Body        []byte
}

// Fetcher downloads approved URLs
type Fetcher struct {
	guard   *Guard
	policy  *Policy
	logger  *zap.Logger
	metrics *metrics.Collector
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithFetcherLogger sets the logger
func WithFetcherLogger(l *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithFetcherMetrics records fetch outcomes
func WithFetcherMetrics(c *metrics.Collector) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = c
	}
}

// NewFetcher creates a fetcher. Redirect targets are checked by guard.
func NewFetcher(guard *Guard, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		guard:  guard,
		policy: guard.policy,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the approved URL and returns the body. One timeout covers
// connecting, redirects, headers and body; nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, a *Approval) ([]byte, error) {
	resp, err := f.Get(ctx, a)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Get is Fetch that also reports the final URL and content type
func (f *Fetcher) Get(ctx context.Context, a *Approval) (*Response, error) {
	if a == nil || a.URL == nil {
		return nil, fmt.Errorf("%w: no approval", ErrInvalidURL)
	}
	start := time.Now()
	log := logging.FromContext(ctx, f.logger).With(zap.String("url", a.String()))

	tctx, cancel := context.WithTimeout(ctx, f.policy.Timeout)
	defer cancel()

	resp, err := f.follow(tctx, a)
	if err != nil {
		err = f.classify(ctx, tctx, a, err)
		f.metrics.FetchFinished(resultFor(err), time.Since(start), 0)
		log.Debug("fetch failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	f.metrics.FetchFinished(metrics.ResultOK, time.Since(start), len(resp.Body))
	log.Debug("fetch complete",
		zap.String("final", resp.URL.String()),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// follow performs the request and any redirects, each hop pinned to the
// addresses the guard approved for it
func (f *Fetcher) follow(ctx context.Context, a *Approval) (*Response, error) {
	for hop := 0; ; hop++ {
		resp, err := f.do(ctx, a)
		if err != nil {
			return nil, err
		}

		if !isRedirect(resp.StatusCode) {
			defer func() { _ = resp.Body.Close() }()
			return f.read(a, resp)
		}
		loc := resp.Header.Get("Location")
		_ = resp.Body.Close()

		if loc == "" {
			return nil, &StatusError{URL: a.String(), StatusCode: resp.StatusCode}
		}
		if hop >= MaxRedirects {
			return nil, fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, MaxRedirects)
		}
		next, err := a.URL.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("%w: redirect to %q: %v", ErrInvalidURL, loc, err)
		}
		if a, err = f.guard.validate(ctx, next); err != nil {
			return nil, err
		}
	}
}

func (f *Fetcher) do(ctx context.Context, a *Approval) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Accept", "image/*, text/html;q=0.8, */*;q=0.5")

	transport := pinnedTransport(a, f.policy.Timeout)
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   f.policy.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return client.Do(req)
}

func (f *Fetcher) read(a *Approval, resp *http.Response) (*Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: a.String(), StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > f.policy.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes announced", ErrTooLarge, resp.ContentLength)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.policy.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.policy.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.policy.MaxBytes)
	}
	return &Response{URL: a.URL, ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

// classify maps transport failures onto the error taxonomy. A cancelled
// caller context is returned as is.
func (f *Fetcher) classify(parent, tctx context.Context, a *Approval, err error) error {
	if parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded) {
		return parent.Err()
	}
	var ne net.Error
	if errors.Is(tctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, a.String(), f.policy.Timeout)
	}
	return err
}

// pinnedTransport dials only the approved addresses, whatever host the
// request names. No proxy is consulted.
func pinnedTransport(a *Approval, timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				port = a.Port
			}
			var lastErr error
			for _, ip := range a.Addrs {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			if lastErr == nil {
				lastErr = fmt.Errorf("no approved address for %s", a.Host)
			}
			return nil, lastErr
		},
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          1,
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, ErrHTTPStatus):
		return metrics.ResultStatus
	default:
		return metrics.ResultError
	}
}
