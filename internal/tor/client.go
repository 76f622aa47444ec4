package tor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"
)

// Default client configuration.
const (
	// DefaultTimeout is the per-request timeout handed to the transport.
	DefaultTimeout = 10 * time.Second

	// DefaultIPCheckURL is the "what is my IP" endpoint queried during
	// verification. It answers with {"ip": "<address>"}.
	DefaultIPCheckURL = "https://api.ipify.org?format=json"
)

// ErrInvalidTimeout is returned when the request timeout is not positive.
var ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

// DefaultPorts returns the default candidate ports in preference order:
// 9150 (Tor Browser's bundled proxy) then 9050 (standalone Tor service).
// A fresh slice is returned on every call.
func DefaultPorts() []int {
	return []int{9150, 9050}
}

// Client routes HTTP requests through a local Tor SOCKS proxy.
//
// A Client starts without a proxy configuration. VerifyConnection finds the
// first candidate port whose exit IP differs from the caller's direct IP and
// stores it; only then do Get, Post, Put and Delete send anything. There is
// no fallback to direct requests.
//
// A Client is safe for concurrent use. Verification holds an exclusive lock
// while it mutates the connection state; requests read a snapshot of the
// active settings and proceed without holding the lock.
type Client struct {
	ports       []int
	timeout     time.Duration
	ipCheckURL  string
	proxyHost   string
	allowSameIP bool
	transport   Transport
	logger      *slog.Logger

	mu     sync.RWMutex
	active *ProxySettings
}

// Option configures a Client.
type Option func(*Client)

// WithPorts sets the candidate ports, tried in the given order.
// The slice is copied; later changes by the caller have no effect.
func WithPorts(ports ...int) Option {
	return func(c *Client) {
		c.ports = slices.Clone(ports)
	}
}

// WithTimeout sets the per-request timeout used by the default transport.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithIPCheckURL sets the IP-check endpoint.
func WithIPCheckURL(rawURL string) Option {
	return func(c *Client) {
		c.ipCheckURL = rawURL
	}
}

// WithProxyHost overrides the loopback host the SOCKS proxy listens on.
func WithProxyHost(host string) Option {
	return func(c *Client) {
		c.proxyHost = host
	}
}

// WithAllowSameIP accepts a port whose exit IP equals the direct IP.
// This trades the not-anonymized check for fewer false negatives when the
// exit relay happens to share the caller's address.
func WithAllowSameIP(allow bool) Option {
	return func(c *Client) {
		c.allowSameIP = allow
	}
}

// WithTransport replaces the underlying HTTP client.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithLogger sets the logger used for verification diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client. No network access happens here; call
// VerifyConnection before issuing requests.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		ports:      DefaultPorts(),
		timeout:    DefaultTimeout,
		ipCheckURL: DefaultIPCheckURL,
		proxyHost:  DefaultProxyHost,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	if c.transport == nil {
		c.transport = NewSOCKSTransport(c.timeout)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c, nil
}

func (c *Client) validate() error {
	if len(c.ports) == 0 {
		return ErrNoPorts
	}
	for _, port := range c.ports {
		if err := validatePort(port); err != nil {
			return err
		}
	}
	if c.timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.proxyHost == "" {
		return ErrInvalidProxyAddress
	}

	u, err := url.Parse(c.ipCheckURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidIPCheckURL, c.ipCheckURL)
	}
	return nil
}

// Ports returns a copy of the candidate ports in preference order.
func (c *Client) Ports() []int {
	return slices.Clone(c.ports)
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// IPCheckURL returns the configured IP-check endpoint.
func (c *Client) IPCheckURL() string {
	return c.ipCheckURL
}

// ActiveProxy returns a copy of the verified proxy settings, or nil if
// no verification has succeeded.
func (c *Client) ActiveProxy() *ProxySettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active.clone()
}

// IsConnected reports whether a proxy configuration has been verified.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active != nil
}

// Close releases idle connections held by the transport.
func (c *Client) Close() {
	if closer, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

// Get sends a GET request through the verified proxy.
func (c *Client) Get(ctx context.Context, target string, opts ...RequestOption) (*http.Response, error) {
	return c.Do(ctx, MethodGet, target, opts...)
}

// Post sends a POST request through the verified proxy.
func (c *Client) Post(ctx context.Context, target string, opts ...RequestOption) (*http.Response, error) {
	return c.Do(ctx, MethodPost, target, opts...)
}

// Put sends a PUT request through the verified proxy.
func (c *Client) Put(ctx context.Context, target string, opts ...RequestOption) (*http.Response, error) {
	return c.Do(ctx, MethodPut, target, opts...)
}

// Delete sends a DELETE request through the verified proxy.
func (c *Client) Delete(ctx context.Context, target string, opts ...RequestOption) (*http.Response, error) {
	return c.Do(ctx, MethodDelete, target, opts...)
}

// Do dispatches a request with the given method through the verified proxy.
//
// It returns ErrProxyNotConfigured without touching the network when no
// proxy has been verified. The response is returned exactly as the
// transport produced it and the caller must close its body. Transport
// errors are returned unchanged.
func (c *Client) Do(ctx context.Context, method Method, target string, opts ...RequestOption) (*http.Response, error) {
	settings := c.ActiveProxy()
	if settings == nil {
		return nil, ErrProxyNotConfigured
	}

	if method.String() == "" {
		return nil, fmt.Errorf("unsupported method %d", int(method))
	}

	u, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	rc := newRequestConfig(opts)
	body, err := rc.bodyReader()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method.String(), u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	rc.apply(req)

	c.logger.Debug("sending request through Tor",
		"method", method.String(),
		"url", req.URL.Redacted(),
		"proxy", settings.ForScheme(req.URL.Scheme),
		"header", req.Header,
	)

	return c.transport.RoundTrip(req, settings)
}
