package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	socks5 "github.com/armon/go-socks5"
)

const (
	testDirectIP = "198.51.100.1"
	testExitIP   = "203.0.113.7"
)

// loopbackResolver resolves every name to 127.0.0.1, so targets can use
// made-up host names that only the proxy sees.
type loopbackResolver struct{}

func (loopbackResolver) Resolve(ctx context.Context, _ string) (context.Context, net.IP, error) {
	return ctx, net.ParseIP("127.0.0.1"), nil
}

// echoRequest is what the exit server reports about a request.
type echoRequest struct {
	Method string      `json:"method"`
	Host   string      `json:"host"`
	Query  string      `json:"query"`
	Header http.Header `json:"header"`
	Body   string      `json:"body"`
}

// testTor is a fake Tor: a direct IP-check server plus a SOCKS5 proxy
// whose every connection ends at an exit server reporting another IP.
type testTor struct {
	direct *httptest.Server
	exit   *httptest.Server
	port   int

	// hits counts exit requests other than IP checks.
	hits atomic.Int32
}

func newTestTor(t *testing.T) *testTor {
	t.Helper()

	tt := &testTor{}
	tt.direct = newIPCheckServer(t, testDirectIP)

	tt.exit = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"ip":%q}`, testExitIP)
		case "/page":
			tt.hits.Add(1)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, `<html><head><title>Page on %s</title></head><body>`+
				`<a href="http://aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion/">mirror</a></body></html>`, r.Host)
		case "/missing":
			tt.hits.Add(1)
			http.NotFound(w, r)
		default:
			tt.hits.Add(1)
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Exit", "yes")
			_ = json.NewEncoder(w).Encode(echoRequest{
				Method: r.Method,
				Host:   r.Host,
				Query:  r.URL.RawQuery,
				Header: r.Header,
				Body:   string(body),
			})
		}
	}))
	t.Cleanup(tt.exit.Close)

	tt.port = startSOCKSServer(t, tt.exit.Listener.Addr().String())
	return tt
}

// args returns the global flags pointing torreq at this fake Tor.
func (tt *testTor) args(t *testing.T, ports ...int) []string {
	t.Helper()

	if len(ports) == 0 {
		ports = []int{tt.port}
	}
	portList := ""
	for i, p := range ports {
		if i > 0 {
			portList += ","
		}
		portList += strconv.Itoa(p)
	}

	return []string{
		"--config", emptyConfigFile(t),
		"--port", portList,
		"--timeout", "5s",
		"--ip-check-url", tt.direct.URL + "/",
	}
}

func newIPCheckServer(t *testing.T, ip string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"ip":%q}`, ip)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// startSOCKSServer starts a SOCKS5 proxy on a random loopback port that
// connects every request to exitAddr, and returns the port.
func startSOCKSServer(t *testing.T, exitAddr string) int {
	t.Helper()

	server, err := socks5.New(&socks5.Config{
		Resolver: loopbackResolver{},
		Logger:   log.New(io.Discard, "", 0),
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, exitAddr)
		},
	})
	if err != nil {
		t.Fatalf("failed to create SOCKS5 server: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() { _ = server.Serve(listener) }()

	return listener.Addr().(*net.TCPAddr).Port
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}

// emptyConfigFile keeps tests from picking up a developer's own .torreq.
func emptyConfigFile(t *testing.T) string {
	t.Helper()
	return writeConfigFile(t, "")
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".torreq")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// runCLI executes torreq with args and returns stdout, stderr and the error.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
