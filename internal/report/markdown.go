package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/torreq/internal/history"
	"github.com/nao1215/torreq/internal/tor"
)

// MarkdownWriter outputs reports in GitHub Flavored Markdown, for sharing
// results in issues or runbooks.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// WriteVerification outputs the verification in Markdown format.
func (w *MarkdownWriter) WriteVerification(v *tor.Verification) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Tor Connection Report")
	md.PlainText("")

	status := "❌ Not connected"
	if v.OK() {
		status = "✅ Connected via `" + v.Proxy.ForScheme("https") + "`"
	}
	rows := [][]string{
		{"IP-check URL", "`" + v.IPCheckURL + "`"},
		{"Started", v.StartedAt.Format(timeFormat)},
		{"Duration", roundDuration(v.Duration).String()},
		{"Direct IP", directIPText(v)},
		{"Status", status},
	}
	if v.OK() {
		rows = append(rows, []string{"Tor exit IP", v.TorIP})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	if v.OK() {
		md.Tip("Traffic is routed through Tor. Requests will use remote DNS resolution (socks5h).")
	} else {
		md.Cautionf("No candidate port routed traffic through Tor after %d attempt(s). Requests will be refused.", len(v.Attempts))
	}
	md.PlainText("")

	md.H2("Port Attempts")
	md.PlainText("")
	if len(v.Attempts) == 0 {
		md.PlainText("No ports were probed.")
	} else {
		attemptRows := make([][]string, len(v.Attempts))
		for i, a := range v.Attempts {
			detail := attemptDetail(a)
			if detail == "" {
				detail = "-"
			}
			attemptRows[i] = []string{
				strconv.Itoa(a.Port),
				outcomeLabel(a.Outcome),
				truncateString(detail, 60),
				roundDuration(a.Duration).String(),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Port", "Outcome", "Detail", "Duration"},
			Rows:   attemptRows,
		})
	}
	md.PlainText("")

	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WritePorts outputs handshake results as a Markdown table.
func (w *MarkdownWriter) WritePorts(statuses []tor.PortStatus) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("SOCKS5 Ports")
	md.PlainText("")

	rows := make([][]string, len(statuses))
	anyOK := false
	for i, s := range statuses {
		mark := "❌"
		if s.Status == tor.ProxyStatusOK {
			mark = "✅"
			anyOK = true
		}
		rows[i] = []string{strconv.Itoa(s.Port), "`" + s.Address + "`", mark + " " + s.Status.String()}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Port", "Address", "Status"},
		Rows:   rows,
	})
	md.PlainText("")

	if !anyOK {
		md.Note("No candidate port accepted a SOCKS5 handshake. Is Tor running?")
		md.PlainText("")
	}

	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WriteHistory outputs stored verifications with a success ratio chart.
func (w *MarkdownWriter) WriteHistory(records []history.VerificationRecord) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Verification History")
	md.PlainText("")

	if len(records) == 0 {
		md.PlainText("No verifications recorded.")
		md.PlainText("")
		w.writeFooter(md)
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(records))
	var connected, failed uint64
	for i, r := range records {
		result, port, torIP := "❌ failed", "-", "-"
		if r.OK {
			connected++
			result, port, torIP = "✅ connected", strconv.Itoa(r.Port), r.TorIP
		} else {
			failed++
		}
		rows[i] = []string{strconv.FormatInt(r.ID, 10), r.StartedAt.Format(timeFormat), result, port, torIP}
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Started", "Result", "Port", "Tor IP"},
		Rows:   rows,
	})
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Verification Results"),
		piechart.WithShowData(true),
	)
	if connected > 0 {
		chart.LabelAndIntValue("Connected", connected)
	}
	if failed > 0 {
		chart.LabelAndIntValue("Failed", failed)
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")

	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WriteRequests outputs request records as a table.
func (w *MarkdownWriter) WriteRequests(records []history.RequestRecord) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H2("Requests")
	md.PlainText("")

	if len(records) == 0 {
		md.PlainText("No requests recorded.")
		md.PlainText("")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{r.Method, "`" + r.URL + "`", requestStatus(r), roundDuration(r.Duration).String(), r.Error}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Method", "URL", "Status", "Duration", "Error"},
		Rows:   rows,
	})
	md.PlainText("")

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [torreq](https://github.com/nao1215/torreq)*")
}
