package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/torreq/internal/tor"
	"github.com/nao1215/tornago"
)

// skipIfShort skips the test if -short flag is set.
// Integration tests with real Tor are slow and should be skipped in short mode.
func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode (requires real Tor, takes 2-5 minutes)")
	}
}

// skipIfNoTor skips the test if the Tor binary is not available.
func skipIfNoTor(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tor"); err != nil {
		t.Skip("skipping integration test: Tor binary not found (install tor to run integration tests)")
	}
}

// realTor is a Tor daemon with a hidden service in front of a local HTTP server.
type realTor struct {
	process      *tornago.TorProcess
	control      *tornago.ControlClient
	server       *http.Server
	socksPort    int
	onionAddress string
}

// startRealTor launches Tor and publishes a hidden service answering
// "hello from onion" on port 80.
//
//nolint:noctx // context is used for Tor operations, not for net.Listen
func startRealTor(ctx context.Context, t *testing.T) *realTor {
	t.Helper()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	localPort := listener.Addr().(*net.TCPAddr).Port

	rt := &realTor{
		server: &http.Server{
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				_, _ = fmt.Fprintf(w, "hello from onion (%s)", r.Method)
			}),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	go func() { _ = rt.server.Serve(listener) }()
	t.Cleanup(rt.stop)

	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(5*time.Minute),
	)
	if err != nil {
		t.Fatalf("failed to create Tor launch config: %v", err)
	}

	t.Log("Starting Tor daemon...")
	rt.process, err = tornago.StartTorDaemon(launchCfg)
	if err != nil {
		t.Fatalf("failed to start Tor daemon: %v", err)
	}

	_, portStr, err := net.SplitHostPort(rt.process.SocksAddr())
	if err != nil {
		t.Fatalf("unexpected SOCKS address %q: %v", rt.process.SocksAddr(), err)
	}
	if rt.socksPort, err = strconv.Atoi(portStr); err != nil {
		t.Fatalf("unexpected SOCKS port %q: %v", portStr, err)
	}

	auth := tornago.ControlAuthFromCookie(filepath.Join(rt.process.DataDir(), "control_auth_cookie"))
	rt.control, err = tornago.NewControlClient(rt.process.ControlAddr(), auth, 30*time.Second)
	if err != nil {
		t.Fatalf("failed to create control client: %v", err)
	}
	if err := rt.control.Authenticate(); err != nil {
		t.Fatalf("failed to authenticate: %v", err)
	}

	hsCfg, err := tornago.NewHiddenServiceConfig(tornago.WithHiddenServicePort(80, localPort))
	if err != nil {
		t.Fatalf("failed to create hidden service config: %v", err)
	}
	hs, err := rt.control.CreateHiddenService(ctx, hsCfg)
	if err != nil {
		t.Fatalf("failed to create hidden service: %v", err)
	}
	rt.onionAddress = hs.OnionAddress()
	t.Logf("Hidden service created: %s", rt.onionAddress)

	return rt
}

func (rt *realTor) stop() {
	if rt.server != nil {
		_ = rt.server.Close()
	}
	if rt.control != nil {
		rt.control.Close()
	}
	if rt.process != nil {
		_ = rt.process.Stop()
	}
}

// TestIntegrationRealTor verifies a real Tor daemon and sends requests to a
// freshly published hidden service.
//
// Note: This test takes 3-5 minutes and needs internet access for the
// default IP-check endpoint.
func TestIntegrationRealTor(t *testing.T) {
	skipIfShort(t)
	skipIfNoTor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	rt := startRealTor(ctx, t)
	target := "http://" + rt.onionAddress + "/"

	client, err := tor.NewClient(
		tor.WithPorts(closedPort(t), rt.socksPort),
		tor.WithTimeout(60*time.Second),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	v := client.Verify(ctx)
	if !v.OK() {
		t.Fatalf("verification failed: %v (attempts: %+v)", v.Err(), v.Attempts)
	}
	if v.Port != rt.socksPort {
		t.Errorf("verified port = %d, want %d", v.Port, rt.socksPort)
	}
	if v.DirectIP != "" && v.DirectIP == v.TorIP {
		t.Errorf("Tor exit IP equals direct IP %s", v.DirectIP)
	}

	// Hidden service descriptors take a while to propagate.
	var body string
	for i := range 24 {
		resp, err := client.Get(ctx, target)
		if err == nil {
			data, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr == nil && resp.StatusCode == http.StatusOK {
				body = string(data)
				break
			}
		}
		t.Logf("Attempt %d: waiting for hidden service... (err: %v)", i+1, err)
		select {
		case <-ctx.Done():
			t.Fatal("context cancelled while waiting for hidden service")
		case <-time.After(5 * time.Second):
		}
	}
	if body != "hello from onion (GET)" {
		t.Fatalf("hidden service body = %q", body)
	}

	t.Run("cli", func(t *testing.T) {
		stdout, _, err := runCLI(t, "post", "--no-history",
			"--config", emptyConfigFile(t),
			"--port", strconv.Itoa(rt.socksPort),
			"--timeout", "60s",
			"-d", "x",
			target,
		)
		if err != nil {
			t.Fatalf("torreq post error = %v", err)
		}
		if !strings.Contains(stdout, "hello from onion (POST)") {
			t.Errorf("unexpected output: %q", stdout)
		}
	})
}
