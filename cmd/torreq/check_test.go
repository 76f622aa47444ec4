package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/torreq/internal/report"
	"github.com/nao1215/torreq/internal/tor"
)

func TestNewCheckCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCheckCmd()
	if cmd.Use != "check" {
		t.Errorf("expected use 'check', got %q", cmd.Use)
	}
	for _, name := range []string{"json", "markdown", "output"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected %s flag", name)
		}
	}
}

func TestRunCheckCmd(t *testing.T) {
	t.Parallel()

	t.Run("reports the verified port", func(t *testing.T) {
		t.Parallel()

		tt := newTestTor(t)
		dead := closedPort(t)
		args := append([]string{"check"}, tt.args(t, dead, tt.port)...)
		args = append(args, "--db-dir", t.TempDir())

		stdout, _, err := runCLI(t, args...)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, want := range []string{
			"TOR CONNECTION REPORT",
			"Direct IP:      " + testDirectIP,
			"CONNECTED via socks5h://127.0.0.1:",
			"Tor exit IP:    " + testExitIP,
			"Probe-Failed",
			"Routed",
		} {
			if !strings.Contains(stdout, want) {
				t.Errorf("output missing %q:\n%s", want, stdout)
			}
		}
	})

	t.Run("json report", func(t *testing.T) {
		t.Parallel()

		tt := newTestTor(t)
		args := append([]string{"check", "--json", "--no-history"}, tt.args(t)...)

		stdout, _, err := runCLI(t, args...)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var got report.JSONReport
		if err := json.Unmarshal([]byte(stdout), &got); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, stdout)
		}
		if got.Connected == nil || !*got.Connected {
			t.Error("expected connected = true")
		}
		if got.Verification == nil || got.Verification.Port != tt.port {
			t.Errorf("Verification = %+v, want port %d", got.Verification, tt.port)
		}
		if got.Version == "" {
			t.Error("expected version in report")
		}
	})

	t.Run("markdown report to file", func(t *testing.T) {
		t.Parallel()

		tt := newTestTor(t)
		path := filepath.Join(t.TempDir(), "out", "report.md")
		args := append([]string{"check", "-m", "-o", path, "--no-history"}, tt.args(t)...)

		stdout, _, err := runCLI(t, args...)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stdout != "" {
			t.Errorf("expected nothing on stdout, got %q", stdout)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		if !strings.Contains(string(content), "# Tor Connection Report") {
			t.Errorf("unexpected report:\n%s", content)
		}
	})

	t.Run("fails when no port routes through Tor", func(t *testing.T) {
		t.Parallel()

		tt := newTestTor(t)
		args := append([]string{"check", "--no-history"}, tt.args(t, closedPort(t))...)

		stdout, _, err := runCLI(t, args...)
		if !errors.Is(err, tor.ErrVerificationExhausted) {
			t.Errorf("error = %v, want ErrVerificationExhausted", err)
		}
		if !strings.Contains(stdout, "NOT CONNECTED") {
			t.Errorf("expected NOT CONNECTED in output:\n%s", stdout)
		}
	})

	t.Run("same IP is rejected unless allowed", func(t *testing.T) {
		t.Parallel()

		tt := newTestTor(t)
		// The direct IP-check server doubles as the exit: both report the same IP.
		sameIPPort := startSOCKSServer(t, tt.direct.Listener.Addr().String())
		args := append([]string{"check", "--no-history"}, tt.args(t, sameIPPort)...)

		if _, _, err := runCLI(t, args...); !errors.Is(err, tor.ErrVerificationExhausted) {
			t.Errorf("error = %v, want ErrVerificationExhausted", err)
		}

		if _, _, err := runCLI(t, append(args, "--allow-same-ip")...); err != nil {
			t.Errorf("with --allow-same-ip: unexpected error: %v", err)
		}
	})

	t.Run("json and markdown conflict", func(t *testing.T) {
		t.Parallel()

		_, _, err := runCLI(t, "check", "--json", "--markdown", "--config", emptyConfigFile(t))
		if err == nil {
			t.Error("expected error for --json with --markdown")
		}
	})

	t.Run("invalid configuration", func(t *testing.T) {
		t.Parallel()

		_, _, err := runCLI(t, "check", "--config", emptyConfigFile(t), "-t", "0s")
		if err == nil || !strings.Contains(err.Error(), "configuration error") {
			t.Errorf("error = %v, want configuration error", err)
		}
	})
}

func TestRunPortsCmd(t *testing.T) {
	t.Parallel()

	tt := newTestTor(t)
	dead := closedPort(t)
	args := append([]string{"ports"}, tt.args(t, tt.port, dead)...)

	stdout, _, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(stdout, "\n")
	var okLine, deadLine string
	for _, line := range lines {
		if strings.Contains(line, tor.ProxyStatusOK.String()) {
			okLine = line
		}
		if strings.Contains(line, tor.ProxyStatusCannotConnect.String()) {
			deadLine = line
		}
	}
	if okLine == "" || !strings.Contains(okLine, fmt.Sprintf("127.0.0.1:%d", tt.port)) {
		t.Errorf("expected an OK line for the SOCKS port:\n%s", stdout)
	}
	if deadLine == "" {
		t.Errorf("expected a cannot connect line for the closed port:\n%s", stdout)
	}
}
