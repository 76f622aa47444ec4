package tor

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ProxyScheme is the SOCKS5 variant where the proxy, not the caller,
// resolves hostnames. Plain "socks5" would leak DNS lookups.
const ProxyScheme = "socks5h"

// DefaultProxyHost is the loopback address Tor listens on.
// 127.0.0.1 is used instead of localhost so that the proxy address itself
// never needs resolving.
const DefaultProxyHost = "127.0.0.1"

// ProxySettings holds the proxy URLs attached to outbound requests.
// Both entries point at the same local SOCKS endpoint; they are kept
// separate so that each request scheme has an explicit proxy.
type ProxySettings struct {
	// HTTP is the proxy URL used for plain http:// targets.
	HTTP string `json:"http"`

	// HTTPS is the proxy URL used for https:// targets.
	HTTPS string `json:"https"`

	// Port is the candidate port the settings were derived from.
	Port int `json:"port"`
}

// NewProxySettings derives the proxy settings for a loopback port.
func NewProxySettings(port int) (*ProxySettings, error) {
	return newProxySettings(DefaultProxyHost, port)
}

func newProxySettings(host string, port int) (*ProxySettings, error) {
	if err := validatePort(port); err != nil {
		return nil, err
	}
	if host == "" {
		return nil, ErrInvalidProxyAddress
	}

	proxyURL := (&url.URL{
		Scheme: ProxyScheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}).String()

	return &ProxySettings{
		HTTP:  proxyURL,
		HTTPS: proxyURL,
		Port:  port,
	}, nil
}

// ForScheme returns the proxy URL for a request scheme.
// Anything other than https uses the HTTP entry.
func (p *ProxySettings) ForScheme(scheme string) string {
	if scheme == "https" {
		return p.HTTPS
	}
	return p.HTTP
}

// Address returns the proxy endpoint in "host:port" form.
func (p *ProxySettings) Address() string {
	u, err := url.Parse(p.HTTP)
	if err != nil {
		return ""
	}
	return u.Host
}

// String implements fmt.Stringer.
func (p *ProxySettings) String() string {
	if p == nil {
		return "<none>"
	}
	if p.HTTP == p.HTTPS {
		return p.HTTP
	}
	return fmt.Sprintf("http=%s https=%s", p.HTTP, p.HTTPS)
}

// clone returns a copy so callers cannot mutate the active configuration.
func (p *ProxySettings) clone() *ProxySettings {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return nil
}
