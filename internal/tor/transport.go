package tor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// Transport is the underlying HTTP client the Client delegates to.
// RoundTrip sends req through the given proxy settings; nil settings means a
// direct request, which only the verification probe is allowed to make.
//
// Implementations must return transport failures unchanged so callers can
// inspect them.
type Transport interface {
	RoundTrip(req *http.Request, settings *ProxySettings) (*http.Response, error)
}

// maxRedirects mirrors the default of most HTTP clients.
const maxRedirects = 10

// SOCKSTransport is the default Transport. It keeps one *http.Client per
// proxy URL so that idle connections to the same SOCKS endpoint are reused.
type SOCKSTransport struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewSOCKSTransport creates the default transport with the given per-request timeout.
func NewSOCKSTransport(timeout time.Duration) *SOCKSTransport {
	return &SOCKSTransport{
		timeout: timeout,
		clients: make(map[string]*http.Client),
	}
}

// RoundTrip implements Transport.
func (t *SOCKSTransport) RoundTrip(req *http.Request, settings *ProxySettings) (*http.Response, error) {
	var proxyURL string
	if settings != nil {
		proxyURL = settings.ForScheme(req.URL.Scheme)
	}

	client, err := t.client(proxyURL)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

// CloseIdleConnections closes idle connections of every cached client.
func (t *SOCKSTransport) CloseIdleConnections() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.clients {
		c.CloseIdleConnections()
	}
}

// client returns the cached client for proxyURL, creating it on first use.
// The empty string selects the direct client.
func (t *SOCKSTransport) client(proxyURL string) (*http.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[proxyURL]; ok {
		return c, nil
	}

	c, err := t.newClient(proxyURL)
	if err != nil {
		return nil, err
	}
	t.clients[proxyURL] = c
	return c, nil
}

func (t *SOCKSTransport) newClient(proxyURL string) (*http.Client, error) {
	transport := &http.Transport{
		// Environment proxies are never consulted: a request is either routed
		// through the verified SOCKS endpoint or is the explicit direct probe.
		Proxy:               nil,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: t.timeout,
		// Compressed sizes can leak content over an anonymized channel.
		DisableCompression: true,
	}

	if proxyURL == "" {
		transport.DialContext = (&net.Dialer{Timeout: t.timeout}).DialContext
	} else {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy URL %q: %w", proxyURL, err)
		}
		// proxy.FromURL maps socks5h to a SOCKS5 dialer that hands the
		// hostname to the proxy unresolved.
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.DialContext = contextDialer(dialer)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   t.timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}

// contextDialer adapts a proxy.Dialer to http.Transport.DialContext.
// The SOCKS5 dialer from x/net supports contexts directly; other dialers
// are raced against ctx, in which case an abandoned dial may finish late.
func contextDialer(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type dialResult struct {
			conn net.Conn
			err  error
		}
		resultCh := make(chan dialResult, 1)

		go func() {
			conn, err := d.Dial(network, addr)
			resultCh <- dialResult{conn, err}
		}()

		select {
		case result := <-resultCh:
			return result.conn, result.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
