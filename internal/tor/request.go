package tor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Method is the closed set of HTTP verbs the Client can dispatch.
type Method int

const (
	// MethodGet issues a GET request.
	MethodGet Method = iota
	// MethodPost issues a POST request.
	MethodPost
	// MethodPut issues a PUT request.
	MethodPut
	// MethodDelete issues a DELETE request.
	MethodDelete
)

// String returns the HTTP method token.
func (m Method) String() string {
	switch m {
	case MethodGet:
		return http.MethodGet
	case MethodPost:
		return http.MethodPost
	case MethodPut:
		return http.MethodPut
	case MethodDelete:
		return http.MethodDelete
	default:
		return ""
	}
}

// ParseMethod converts an HTTP method token (any case) into a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(s) {
	case http.MethodGet:
		return MethodGet, nil
	case http.MethodPost:
		return MethodPost, nil
	case http.MethodPut:
		return MethodPut, nil
	case http.MethodDelete:
		return MethodDelete, nil
	default:
		return 0, fmt.Errorf("unsupported HTTP method %q", s)
	}
}

// RequestOption customizes an outbound request. Options are applied in order
// and are passed through to the request unchanged; the proxy is the only
// thing the Client sets on its own.
type RequestOption func(*requestConfig)

// requestConfig collects caller-supplied request options.
type requestConfig struct {
	header      http.Header
	query       url.Values
	body        io.Reader
	contentType string
	jsonValue   any
	hasJSON     bool
	cookies     []*http.Cookie
}

func newRequestConfig(opts []RequestOption) *requestConfig {
	rc := &requestConfig{
		header: make(http.Header),
		query:  make(url.Values),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// WithHeader adds a header value. Repeated keys accumulate.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		rc.header.Add(key, value)
	}
}

// WithHeaders sets every header in the map, replacing earlier values for the same key.
func WithHeaders(headers map[string]string) RequestOption {
	return func(rc *requestConfig) {
		for k, v := range headers {
			rc.header.Set(k, v)
		}
	}
}

// WithQuery adds a query parameter to the target URL.
// Parameters already present in the URL are kept.
func WithQuery(key, value string) RequestOption {
	return func(rc *requestConfig) {
		rc.query.Add(key, value)
	}
}

// WithBody sets a raw request body. An empty contentType leaves the
// Content-Type header untouched.
func WithBody(body io.Reader, contentType string) RequestOption {
	return func(rc *requestConfig) {
		rc.body = body
		rc.contentType = contentType
		rc.jsonValue = nil
		rc.hasJSON = false
	}
}

// WithJSON encodes v as the request body with Content-Type application/json.
func WithJSON(v any) RequestOption {
	return func(rc *requestConfig) {
		rc.jsonValue = v
		rc.hasJSON = true
		rc.body = nil
		rc.contentType = "application/json"
	}
}

// WithForm sends values as an application/x-www-form-urlencoded body.
func WithForm(values url.Values) RequestOption {
	return WithBody(strings.NewReader(values.Encode()), "application/x-www-form-urlencoded")
}

// WithCookie attaches a cookie to the request.
func WithCookie(cookie *http.Cookie) RequestOption {
	return func(rc *requestConfig) {
		rc.cookies = append(rc.cookies, cookie)
	}
}

// bodyReader returns the encoded request body, or nil when none was set.
func (rc *requestConfig) bodyReader() (io.Reader, error) {
	if rc.hasJSON {
		data, err := json.Marshal(rc.jsonValue)
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON body: %w", err)
		}
		return bytes.NewReader(data), nil
	}
	return rc.body, nil
}

// apply copies headers, cookies and query parameters onto req.
func (rc *requestConfig) apply(req *http.Request) {
	for k, values := range rc.header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if rc.contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", rc.contentType)
	}
	for _, c := range rc.cookies {
		req.AddCookie(c)
	}
	if len(rc.query) > 0 {
		q := req.URL.Query()
		for k, values := range rc.query {
			for _, v := range values {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
}
