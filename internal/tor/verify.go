package tor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxIPResponseSize bounds how much of the IP-check response is decoded.
const maxIPResponseSize = 64 * 1024

// Outcome classifies a single candidate port attempt.
type Outcome int

const (
	// OutcomeRouted means the port returned an exit IP distinct from the direct IP.
	OutcomeRouted Outcome = iota
	// OutcomeSameIP means the port returned the caller's own IP.
	OutcomeSameIP
	// OutcomeProbeFailed means the IP-check request through the port failed.
	OutcomeProbeFailed
)

// String returns a short label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeRouted:
		return "routed"
	case OutcomeSameIP:
		return "same-ip"
	case OutcomeProbeFailed:
		return "probe-failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	for _, candidate := range []Outcome{OutcomeRouted, OutcomeSameIP, OutcomeProbeFailed} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// Attempt records the probe of one candidate port.
type Attempt struct {
	Port     int           `json:"port"`
	Proxy    string        `json:"proxy"`
	IP       string        `json:"ip,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	// Err is the underlying error for failed attempts.
	Err error `json:"-"`

	settings *ProxySettings
}

// Verification is the detailed result of Client.Verify.
type Verification struct {
	IPCheckURL string `json:"ip_check_url"`

	// DirectIP is empty when the direct probe failed.
	DirectIP      string `json:"direct_ip,omitempty"`
	DirectIPError string `json:"direct_ip_error,omitempty"`

	// Attempts lists probed ports in order. Ports after the first success
	// are never probed.
	Attempts []Attempt `json:"attempts"`

	// Proxy, Port and TorIP describe the winning port and are zero on failure.
	Proxy *ProxySettings `json:"proxy,omitempty"`
	Port  int            `json:"port,omitempty"`
	TorIP string         `json:"tor_ip,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether a port was verified.
func (v *Verification) OK() bool {
	return v.Proxy != nil
}

// Err returns ErrVerificationExhausted when no port was verified.
func (v *Verification) Err() error {
	if v.OK() {
		return nil
	}
	return ErrVerificationExhausted
}

// VerifyConnection checks each candidate port in order and activates the
// first one that demonstrably changes the observed IP. It returns false when
// none does, in which case the client has no active proxy.
func (c *Client) VerifyConnection(ctx context.Context) bool {
	return c.Verify(ctx).OK()
}

// Verify is VerifyConnection with the full per-port record.
//
// The direct IP is fetched once without a proxy. A failure there is logged
// and verification continues with an unknown direct IP, in which case any
// successful proxied probe wins. Probe errors on a port are logged and the
// next port is tried.
//
// A previously active proxy is cleared before probing, so a failed
// re-verification never leaves a stale configuration in place.
func (c *Client) Verify(ctx context.Context) *Verification {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := &Verification{
		IPCheckURL: c.ipCheckURL,
		StartedAt:  time.Now(),
		Attempts:   make([]Attempt, 0, len(c.ports)),
	}
	defer func() {
		v.Duration = time.Since(v.StartedAt)
	}()

	c.active = nil

	directIP, err := c.fetchIP(ctx, nil)
	if err != nil {
		v.DirectIPError = err.Error()
		c.logger.Warn("unable to get direct IP, continuing with Tor check",
			"error", fmt.Errorf("%w: %w", ErrDirectIPUnavailable, err),
		)
	}
	v.DirectIP = directIP

	for _, port := range c.ports {
		if ctx.Err() != nil {
			c.logger.Warn("verification cancelled", "error", ctx.Err())
			break
		}

		attempt := c.probe(ctx, port, directIP)
		v.Attempts = append(v.Attempts, attempt)

		if attempt.Outcome != OutcomeRouted {
			continue
		}

		c.active = attempt.settings
		v.Proxy = attempt.settings.clone()
		v.Port = port
		v.TorIP = attempt.IP

		c.logger.Info("connected to Tor", "port", port, "torIP", attempt.IP)
		return v
	}

	c.logger.Warn("Tor connection failed: unable to connect through any configured port",
		"ports", c.ports,
	)
	return v
}

// probe queries the IP-check endpoint through one candidate port.
func (c *Client) probe(ctx context.Context, port int, directIP string) Attempt {
	start := time.Now()
	attempt := Attempt{Port: port}

	settings, err := newProxySettings(c.proxyHost, port)
	if err != nil {
		attempt.Outcome = OutcomeProbeFailed
		attempt.Err = err
		attempt.Error = err.Error()
		return attempt
	}
	attempt.Proxy = settings.String()
	attempt.settings = settings

	ip, err := c.fetchIP(ctx, settings)
	attempt.Duration = time.Since(start)
	attempt.IP = ip

	switch {
	case err != nil:
		attempt.Outcome = OutcomeProbeFailed
		attempt.Err = fmt.Errorf("%w on port %d: %w", ErrProxyProbeFailed, port, err)
		c.logger.Warn("error checking Tor connection", "port", port, "error", err)
	case directIP != "" && ip == directIP && !c.allowSameIP:
		attempt.Outcome = OutcomeSameIP
		attempt.Err = ErrSameIP
		c.logger.Warn("proxied IP matches direct IP, traffic is not anonymized",
			"port", port,
			"ip", ip,
		)
	default:
		attempt.Outcome = OutcomeRouted
	}

	if attempt.Err != nil {
		attempt.Error = attempt.Err.Error()
	}
	return attempt
}

// ipCheckResponse is the only part of the IP-check schema relied upon.
type ipCheckResponse struct {
	IP string `json:"ip"`
}

// fetchIP queries the IP-check endpoint, directly when settings is nil.
func (c *Client) fetchIP(ctx context.Context, settings *ProxySettings) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ipCheckURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build IP-check request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.transport.RoundTrip(req, settings)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: unexpected status %s", ErrMalformedIPResponse, resp.Status)
	}

	var body ipCheckResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxIPResponseSize)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedIPResponse, err)
	}

	ip := strings.TrimSpace(body.IP)
	if ip == "" {
		return "", fmt.Errorf("%w: missing \"ip\" field", ErrMalformedIPResponse)
	}
	return ip, nil
}
