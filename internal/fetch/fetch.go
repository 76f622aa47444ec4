package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/nao1215/torreq/internal/tor"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultConcurrency is the number of targets fetched at once.
	DefaultConcurrency = 4

	// DefaultMaxBodySize limits how much of a response body is kept.
	// Larger bodies are truncated.
	DefaultMaxBodySize = 5 * 1024 * 1024
)

// ErrInvalidConcurrency is returned when concurrency is not positive.
var ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

// Requester sends a request through a verified proxy. *tor.Client implements it.
type Requester interface {
	Do(ctx context.Context, method tor.Method, target string, opts ...tor.RequestOption) (*http.Response, error)
}

// Result is the outcome of one request.
type Result struct {
	Target      string        `json:"target"`
	Method      string        `json:"method"`
	StatusCode  int           `json:"status_code,omitempty"`
	Status      string        `json:"status,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	Header      http.Header   `json:"header,omitempty"`
	Body        []byte        `json:"-"`
	Truncated   bool          `json:"truncated,omitempty"`
	Page        *Page         `json:"page,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`

	// Err is the request or read error, if any.
	Err error `json:"-"`
}

// OK reports whether the request completed, regardless of status code.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Fetcher sends requests through a Requester and collects their results.
type Fetcher struct {
	client      Requester
	concurrency int
	maxBodySize int64
	targetOpts  func(target string) []tor.RequestOption
	logger      *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithConcurrency sets how many targets Batch fetches at once.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		f.concurrency = n
	}
}

// WithMaxBodySize sets the number of body bytes kept per response.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) {
		f.maxBodySize = n
	}
}

// WithTargetOptions sets a function whose options are applied to every
// request before the caller's options. It is called once per request, so
// options carrying a body reader can be built fresh each time.
func WithTargetOptions(fn func(target string) []tor.RequestOption) Option {
	return func(f *Fetcher) {
		f.targetOpts = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher around client.
func New(client Requester, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		client:      client,
		concurrency: DefaultConcurrency,
		maxBodySize: DefaultMaxBodySize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.concurrency <= 0 {
		return nil, ErrInvalidConcurrency
	}
	return f, nil
}

// Fetch sends one request and reads its response. Failures are reported in
// the Result rather than as an error.
func (f *Fetcher) Fetch(ctx context.Context, method tor.Method, target string, opts ...tor.RequestOption) *Result {
	result := &Result{Target: target, Method: method.String()}
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		if result.Err != nil {
			result.Error = result.Err.Error()
		}
	}()

	if f.targetOpts != nil {
		opts = append(f.targetOpts(target), opts...)
	}

	resp, err := f.client.Do(ctx, method, target, opts...)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Status = resp.Status
	result.Header = resp.Header
	result.ContentType = resp.Header.Get("Content-Type")

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		result.Err = err
		return result
	}
	if int64(len(body)) > f.maxBodySize {
		body = body[:f.maxBodySize]
		result.Truncated = true
	}
	result.Body = body

	if isHTML(result.ContentType) {
		page, err := Parse(bytes.NewReader(body), responseURL(resp, target))
		if err != nil {
			f.logger.Debug("failed to parse HTML", "target", target, "error", err)
		} else {
			result.Page = page
		}
	}

	return result
}

// Batch fetches every target with at most the configured number of requests
// in flight. Results are returned in the order of targets; one failing target
// does not stop the others.
func (f *Fetcher) Batch(ctx context.Context, method tor.Method, targets []string, opts ...tor.RequestOption) []*Result {
	results := make([]*Result, len(targets))

	var g errgroup.Group
	g.SetLimit(f.concurrency)

	for i, target := range targets {
		g.Go(func() error {
			results[i] = f.Fetch(ctx, method, target, opts...)
			if results[i].Err != nil {
				f.logger.Warn("request failed", "target", target, "error", results[i].Err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	return results
}

// responseURL returns the final URL after redirects, falling back to target.
func responseURL(resp *http.Response, target string) *url.URL {
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil
	}
	return u
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
