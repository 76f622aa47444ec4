package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/nao1215/torreq/internal/history"
	"github.com/nao1215/torreq/internal/tor"
)

const ruleWidth = 70

// SimpleWriter outputs human-readable text reports for terminal display.
// Statuses are colored unless color is disabled.
type SimpleWriter struct {
	baseWriter

	// verbose adds the proxy URL and duration of every attempt.
	verbose bool

	good *color.Color
	bad  *color.Color
	warn *color.Color
	bold *color.Color
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// WithColor forces colored output on or off. By default fatih/color decides
// from whether stdout is a terminal and NO_COLOR.
func WithColor(enabled bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		for _, c := range []*color.Color{w.good, w.bad, w.warn, w.bold} {
			if enabled {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		good:       color.New(color.FgGreen, color.Bold),
		bad:        color.New(color.FgRed, color.Bold),
		warn:       color.New(color.FgYellow),
		bold:       color.New(color.Bold),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// WriteVerification outputs the verification in human-readable format.
func (w *SimpleWriter) WriteVerification(v *tor.Verification) (int, error) {
	var sb strings.Builder

	w.writeBanner(&sb, "TOR CONNECTION REPORT")

	fmt.Fprintf(&sb, "IP-check URL:   %s\n", v.IPCheckURL)
	fmt.Fprintf(&sb, "Started:        %s\n", v.StartedAt.Format(timeFormat))
	fmt.Fprintf(&sb, "Duration:       %s\n", roundDuration(v.Duration))
	fmt.Fprintf(&sb, "Direct IP:      %s\n", directIPText(v))

	if v.OK() {
		fmt.Fprintf(&sb, "Status:         %s via %s\n", w.good.Sprint("CONNECTED"), v.Proxy.ForScheme("https"))
		fmt.Fprintf(&sb, "Tor exit IP:    %s\n", v.TorIP)
	} else {
		fmt.Fprintf(&sb, "Status:         %s\n", w.bad.Sprint("NOT CONNECTED"))
	}
	sb.WriteString("\n")

	w.writeSection(&sb, "PORT ATTEMPTS")
	if len(v.Attempts) == 0 {
		sb.WriteString("  No ports were probed.\n")
	}
	for _, a := range v.Attempts {
		fmt.Fprintf(&sb, "  %-6d %-14s %s\n", a.Port, w.outcome(a.Outcome), attemptDetail(a))
		if w.verbose {
			fmt.Fprintf(&sb, "         proxy=%s duration=%s\n", a.Proxy, roundDuration(a.Duration))
		}
	}
	sb.WriteString("\n")

	if !v.OK() {
		sb.WriteString(w.warn.Sprint("Is Tor running? Start Tor Browser (port 9150) or the tor daemon (port 9050)."))
		sb.WriteString("\n")
	}

	return io.WriteString(w.output, sb.String())
}

// WritePorts outputs handshake results, one port per line.
func (w *SimpleWriter) WritePorts(statuses []tor.PortStatus) (int, error) {
	var sb strings.Builder

	w.writeSection(&sb, "SOCKS5 PORTS")
	for _, s := range statuses {
		status := s.Status.String()
		if s.Status == tor.ProxyStatusOK {
			status = w.good.Sprint(status)
		} else {
			status = w.bad.Sprint(status)
		}
		fmt.Fprintf(&sb, "  %-22s %s\n", s.Address, status)
	}
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

// WriteHistory outputs stored verifications as a table.
func (w *SimpleWriter) WriteHistory(records []history.VerificationRecord) (int, error) {
	var sb strings.Builder

	w.writeSection(&sb, "VERIFICATION HISTORY")
	if len(records) == 0 {
		sb.WriteString("  No verifications recorded.\n\n")
		return io.WriteString(w.output, sb.String())
	}

	fmt.Fprintf(&sb, "  %-5s %-23s %-13s %-6s %s\n", "ID", "STARTED", "RESULT", "PORT", "TOR IP")
	for _, r := range records {
		result := w.bad.Sprintf("%-13s", "failed")
		port, torIP := "-", "-"
		if r.OK {
			result = w.good.Sprintf("%-13s", "connected")
			port = fmt.Sprint(r.Port)
			torIP = r.TorIP
		}
		fmt.Fprintf(&sb, "  %-5d %-23s %s %-6s %s\n", r.ID, r.StartedAt.Local().Format(timeFormat), result, port, torIP)
	}
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

// WriteRequests outputs one line per request.
func (w *SimpleWriter) WriteRequests(records []history.RequestRecord) (int, error) {
	var sb strings.Builder

	w.writeSection(&sb, "REQUESTS")
	if len(records) == 0 {
		sb.WriteString("  No requests recorded.\n\n")
		return io.WriteString(w.output, sb.String())
	}

	for _, r := range records {
		status := fmt.Sprintf("%-5s", requestStatus(r))
		switch {
		case r.Error != "":
			status = w.bad.Sprint(status)
		case r.StatusCode >= 400:
			status = w.warn.Sprint(status)
		default:
			status = w.good.Sprint(status)
		}
		fmt.Fprintf(&sb, "  %-6s %s %-8s %s\n", r.Method, status, roundDuration(r.Duration), truncateString(r.URL, 60))
		if r.Error != "" {
			fmt.Fprintf(&sb, "         %s\n", r.Error)
		}
	}
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) outcome(o tor.Outcome) string {
	label := fmt.Sprintf("%-14s", outcomeLabel(o))
	switch o {
	case tor.OutcomeRouted:
		return w.good.Sprint(label)
	case tor.OutcomeSameIP:
		return w.warn.Sprint(label)
	default:
		return w.bad.Sprint(label)
	}
}

func (w *SimpleWriter) writeBanner(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat(" ", (ruleWidth-len(title))/2))
	sb.WriteString(w.bold.Sprint(title))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")
}
