package config

import "errors"

// Configuration validation errors returned by Config.Validate.
// Callers match them with errors.Is.
var (
	// ErrNoPorts is returned when the candidate port list is empty.
	ErrNoPorts = errors.New("no candidate ports: provide at least one SOCKS port")

	// ErrInvalidPort is returned when a candidate port is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")

	// ErrInvalidProxyHost is returned when the proxy host is empty.
	ErrInvalidProxyHost = errors.New("invalid proxy host: must not be empty")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	// A timeout of zero or negative would cause immediate connection failures.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidIPCheckURL is returned when no IP-check endpoint is set.
	ErrInvalidIPCheckURL = errors.New("invalid IP-check URL: must not be empty")

	// ErrInvalidConcurrency is returned when the fetch concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
