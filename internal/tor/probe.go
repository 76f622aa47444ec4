package tor

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"
)

// checkProxyTimeout bounds the SOCKS5 handshake. This is a local
// connectivity check, not a request through Tor, so it can be short.
const checkProxyTimeout = 2 * time.Second

// SOCKS5 protocol constants
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5AuthNoAccept  = 0xFF
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03

	// socks5TestOnion is a syntactically valid but unused onion host. Only
	// the proxy's willingness to process a CONNECT for it matters.
	socks5TestOnion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
)

// PortStatus pairs a candidate port with its handshake result.
type PortStatus struct {
	Port    int         `json:"port"`
	Address string      `json:"address"`
	Status  ProxyStatus `json:"status"`
}

// ProbePorts runs ProbePort against every candidate port in order.
// Unlike Verify it makes no request through Tor and changes no state.
func (c *Client) ProbePorts(ctx context.Context) []PortStatus {
	result := make([]PortStatus, 0, len(c.ports))
	for _, port := range c.ports {
		result = append(result, PortStatus{
			Port:    port,
			Address: net.JoinHostPort(c.proxyHost, strconv.Itoa(port)),
			Status:  c.ProbePort(ctx, port),
		})
	}
	return result
}

// ProbePort checks whether a SOCKS5 proxy that behaves like Tor listens on
// the given loopback port. It performs a no-auth greeting followed by a
// domain-name CONNECT and accepts any well-formed SOCKS5 reply, since Tor
// answers the unused test host with a failure code.
func (c *Client) ProbePort(ctx context.Context, port int) ProxyStatus {
	if validatePort(port) != nil {
		return ProxyStatusCannotConnect
	}
	return checkSOCKS5(ctx, net.JoinHostPort(c.proxyHost, strconv.Itoa(port)))
}

func checkSOCKS5(ctx context.Context, address string) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	// Greeting: version, one method, no auth.
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if authResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	// Tor's SOCKS port does not require authentication.
	if authResp[1] == socks5AuthNoAccept || authResp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}

	testPort := uint16(80)
	connectReq := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00, // reserved
		socks5AddrTypeDomID,
		byte(len(socks5TestOnion)),
	}
	connectReq = append(connectReq, []byte(socks5TestOnion)...)
	connectReq = append(connectReq, byte(testPort>>8), byte(testPort&0xFF))

	if _, err := conn.Write(connectReq); err != nil {
		return ProxyStatusCannotConnect
	}

	// version + reply + reserved + address type
	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}

	return ProxyStatusOK
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
