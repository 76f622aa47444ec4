package tor

import "errors"

// Tor routing errors.
// Probe errors raised during verification are logged and absorbed; the
// request-serving errors are returned to the caller so that a failed or
// unproxied request is never mistaken for an anonymized one.
var (
	// ErrDirectIPUnavailable is logged when the caller's direct IP could not be
	// determined. Verification continues with an unknown direct IP.
	ErrDirectIPUnavailable = errors.New("direct IP unavailable")

	// ErrProxyProbeFailed wraps network or socket errors raised while querying
	// the IP-check endpoint through a candidate port.
	ErrProxyProbeFailed = errors.New("proxy probe failed")

	// ErrSameIP is recorded for a candidate port whose exit IP equals the
	// direct IP, which means traffic is not being anonymized.
	ErrSameIP = errors.New("proxied IP equals direct IP")

	// ErrVerificationExhausted is returned by Verification.Err when no
	// candidate port produced a distinct IP.
	ErrVerificationExhausted = errors.New("no candidate port routes through Tor")

	// ErrProxyNotConfigured is returned by the verb methods when no proxy
	// configuration has been verified yet. No network call is made.
	ErrProxyNotConfigured = errors.New("tor proxy not configured: run VerifyConnection first")

	// ErrConnectionFailed is returned by the verified-call wrappers when the
	// fresh client could not verify a Tor connection.
	ErrConnectionFailed = errors.New("tor connection failed: make sure Tor is running and configured correctly")

	// ErrMalformedIPResponse is returned when the IP-check endpoint answers
	// with something other than a JSON object carrying a non-empty "ip" field.
	ErrMalformedIPResponse = errors.New("malformed IP-check response")

	// ErrInvalidPort is returned for candidate ports outside 1-65535.
	ErrInvalidPort = errors.New("invalid proxy port: must be between 1 and 65535")

	// ErrNoPorts is returned when a client is configured without candidates.
	ErrNoPorts = errors.New("no candidate proxy ports configured")

	// ErrInvalidProxyAddress is returned when the proxy host is empty or malformed.
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrInvalidIPCheckURL is returned when the IP-check URL is not an absolute http(s) URL.
	ErrInvalidIPCheckURL = errors.New("invalid IP-check URL: expected absolute http or https URL")

	// ErrProxyNotTor is returned when a candidate port answers but does not
	// speak SOCKS5 the way Tor does.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when nothing listens on a candidate port.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout is returned when the SOCKS5 handshake times out.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")
)

// ProxyStatus is the result of a SOCKS5 handshake against a candidate port.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the port hosts a working SOCKS5 proxy.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates something answered that is not a
	// no-auth SOCKS5 proxy.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates the TCP connection was refused.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the handshake did not finish in time.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the appropriate error for this status, or nil if OK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ProxyStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
