package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/torreq/internal/history"
	"github.com/nao1215/torreq/internal/tor"
)

// JSONWriter outputs reports in JSON format for tool integration.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	// version, when set, wraps every document in a JSONReport envelope.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
	}
}

// WithVersion wraps output in a JSONReport carrying the torreq version.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// JSONReport is the envelope written when a version is configured.
type JSONReport struct {
	Version      string                       `json:"version"`
	Connected    *bool                        `json:"connected,omitempty"`
	Verification *tor.Verification            `json:"verification,omitempty"`
	Ports        []tor.PortStatus             `json:"ports,omitempty"`
	History      []history.VerificationRecord `json:"history,omitempty"`
	Requests     []history.RequestRecord      `json:"requests,omitempty"`
}

// WriteVerification outputs the verification in JSON format.
func (w *JSONWriter) WriteVerification(v *tor.Verification) (int, error) {
	if w.version == "" {
		return w.writeJSON(v)
	}
	connected := v.OK()
	return w.writeJSON(&JSONReport{Version: w.version, Connected: &connected, Verification: v})
}

// WritePorts outputs handshake results in JSON format.
func (w *JSONWriter) WritePorts(statuses []tor.PortStatus) (int, error) {
	if statuses == nil {
		statuses = []tor.PortStatus{}
	}
	if w.version == "" {
		return w.writeJSON(statuses)
	}
	return w.writeJSON(&JSONReport{Version: w.version, Ports: statuses})
}

// WriteHistory outputs stored verifications in JSON format.
func (w *JSONWriter) WriteHistory(records []history.VerificationRecord) (int, error) {
	if records == nil {
		records = []history.VerificationRecord{}
	}
	if w.version == "" {
		return w.writeJSON(records)
	}
	return w.writeJSON(&JSONReport{Version: w.version, History: records})
}

// WriteRequests outputs request records in JSON format.
func (w *JSONWriter) WriteRequests(records []history.RequestRecord) (int, error) {
	if records == nil {
		records = []history.RequestRecord{}
	}
	if w.version == "" {
		return w.writeJSON(records)
	}
	return w.writeJSON(&JSONReport{Version: w.version, Requests: records})
}

// WriteVerificationRequests outputs a verification and the requests sent
// after it as a single JSON document.
func (w *JSONWriter) WriteVerificationRequests(v *tor.Verification, records []history.RequestRecord) (int, error) {
	if records == nil {
		records = []history.RequestRecord{}
	}
	connected := v.OK()
	return w.writeJSON(&JSONReport{Version: w.version, Connected: &connected, Verification: v, Requests: records})
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}
