package tor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

const testIPCheckURL = "http://ipcheck.test/?format=json"

// errConnRefused stands in for a socket-level failure on a candidate port.
var errConnRefused = errors.New("dial tcp 127.0.0.1: connect: connection refused")

// fakeCall is one request observed by fakeTransport.
type fakeCall struct {
	Method   string
	URL      string
	Header   http.Header
	Body     string
	Settings *ProxySettings
}

// fakeTransport answers IP-check requests with a synthetic IP per port and
// echoes every other request with 200 OK.
type fakeTransport struct {
	directIP  string
	directErr error
	portIPs   map[int]string
	portErrs  map[int]error

	// requestErr, when set, is returned for non IP-check requests.
	requestErr error

	mu    sync.Mutex
	calls []fakeCall
}

func (f *fakeTransport) RoundTrip(req *http.Request, settings *ProxySettings) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = string(data)
	}

	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{
		Method:   req.Method,
		URL:      req.URL.String(),
		Header:   req.Header.Clone(),
		Body:     body,
		Settings: settings.clone(),
	})
	f.mu.Unlock()

	if req.URL.String() != testIPCheckURL {
		if f.requestErr != nil {
			return nil, f.requestErr
		}
		return newResponse(req, http.StatusOK, "ok"), nil
	}

	if settings == nil {
		if f.directErr != nil {
			return nil, f.directErr
		}
		return newResponse(req, http.StatusOK, fmt.Sprintf(`{"ip":%q}`, f.directIP)), nil
	}

	if err, ok := f.portErrs[settings.Port]; ok {
		return nil, err
	}
	ip, ok := f.portIPs[settings.Port]
	if !ok {
		return nil, errConnRefused
	}
	return newResponse(req, http.StatusOK, fmt.Sprintf(`{"ip":%q}`, ip)), nil
}

func (f *fakeTransport) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

// probedPorts returns the ports of proxied IP-check calls in order.
func (f *fakeTransport) probedPorts() []int {
	var ports []int
	for _, c := range f.Calls() {
		if c.URL == testIPCheckURL && c.Settings != nil {
			ports = append(ports, c.Settings.Port)
		}
	}
	return ports
}

func newResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

// newTestClient builds a client around ft that logs into buf.
func newTestClient(ft Transport, buf *bytes.Buffer, opts ...Option) (*Client, error) {
	var logger *slog.Logger
	if buf != nil {
		logger = slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	base := []Option{
		WithIPCheckURL(testIPCheckURL),
		WithTransport(ft),
		WithLogger(logger),
	}
	return NewClient(append(base, opts...)...)
}
