package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/torreq/internal/history"
	"github.com/nao1215/torreq/internal/tor"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Writer defines the interface for report output.
// Implementations render verification results in various formats.
type Writer interface {
	// WriteVerification outputs the result of a connection verification.
	WriteVerification(v *tor.Verification) (int, error)

	// WritePorts outputs SOCKS5 handshake results for candidate ports.
	WritePorts(statuses []tor.PortStatus) (int, error)

	// WriteHistory outputs stored verifications, newest first.
	WriteHistory(records []history.VerificationRecord) (int, error)

	// WriteRequests outputs the requests sent after one verification.
	WriteRequests(records []history.RequestRecord) (int, error)
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

const timeFormat = "2006-01-02 15:04:05 MST"

// outcomeLabel returns the display label of an attempt outcome, e.g. "Probe-Failed".
func outcomeLabel(o tor.Outcome) string {
	return cases.Title(language.English).String(o.String())
}

// roundDuration trims durations to a readable precision.
func roundDuration(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(10 * time.Millisecond)
}

// directIPText describes the direct IP, which may be unknown.
func directIPText(v *tor.Verification) string {
	if v.DirectIP != "" {
		return v.DirectIP
	}
	if v.DirectIPError != "" {
		return "unknown (" + v.DirectIPError + ")"
	}
	return "unknown"
}

// attemptDetail is the IP for successful probes and the error otherwise.
func attemptDetail(a tor.Attempt) string {
	if a.Error != "" {
		return a.Error
	}
	return a.IP
}

// requestStatus is the status code, or "error" when the request failed.
func requestStatus(r history.RequestRecord) string {
	if r.Error != "" {
		return "error"
	}
	return strconv.Itoa(r.StatusCode)
}

// truncateString truncates a string to maxLen runes with ellipsis.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
