package config

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/torreq/internal/tor"
)

// Default configuration values.
const (
	// DefaultProxyHost is the loopback address Tor listens on.
	// We use 127.0.0.1 instead of localhost to avoid DNS resolution overhead
	// and potential issues with IPv6 resolution on some systems.
	DefaultProxyHost = tor.DefaultProxyHost

	// DefaultTimeout bounds each request made through the client, including
	// the IP-check requests of the verification probe.
	DefaultTimeout = tor.DefaultTimeout

	// DefaultIPCheckURL answers with {"ip": "..."} for the calling address.
	DefaultIPCheckURL = tor.DefaultIPCheckURL

	// DefaultConcurrency is the number of targets fetched at once when a GET
	// is given several URLs. Higher values may overwhelm the local Tor daemon.
	DefaultConcurrency = 4

	// DefaultHistoryLimit is how many verifications the history command lists.
	DefaultHistoryLimit = 20

	// AppName is the application name used for XDG directory paths.
	AppName = "torreq"

	// DefaultUserAgent is sent unless a header or site entry overrides it.
	DefaultUserAgent = "torreq/1.0 (+https://github.com/nao1215/torreq)"
)

// DefaultPorts returns the candidate SOCKS ports in probe order: the Tor
// Browser bundle first, then the system daemon.
func DefaultPorts() []int {
	return tor.DefaultPorts()
}

// Config holds all options of a torreq invocation.
// It is populated from defaults, then the config file, then CLI flags, and
// passed down explicitly rather than kept in global state.
type Config struct {
	// Ports are the candidate SOCKS ports, tried in order.
	Ports []int

	// ProxyHost is the address the SOCKS ports are bound to.
	ProxyHost string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// IPCheckURL is the endpoint used to compare the direct and Tor exit IPs.
	IPCheckURL string

	// AllowSameIP accepts a proxy whose exit IP equals the direct IP.
	// Useful when this host is itself a Tor exit or behind a transparent proxy.
	AllowSameIP bool

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// ConfigFilePath is the path to the configuration file.
	// If empty, FindConfigFile searches the usual locations.
	ConfigFilePath string

	// Sites holds per-host request settings loaded from the config file.
	Sites *File

	// JSONReport and MarkdownReport select the report format; the default is
	// human-readable text. They are mutually exclusive.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile is the output path for check reports. Stdout when empty.
	ReportFile string

	// DBDir is the directory of the history database.
	// Defaults to XDG data directory (~/.local/share/torreq on Linux).
	DBDir string

	// SaveHistory records each verification in the history database.
	SaveHistory bool

	// Concurrency is the number of GET targets fetched in parallel.
	Concurrency int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Ports:       DefaultPorts(),
		ProxyHost:   DefaultProxyHost,
		Timeout:     DefaultTimeout,
		IPCheckURL:  DefaultIPCheckURL,
		DBDir:       XDGDataDir(),
		SaveHistory: true,
		Concurrency: DefaultConcurrency,
		UserAgent:   DefaultUserAgent,
	}
}

// XDGDataDir returns the XDG data directory for torreq.
// On Linux: ~/.local/share/torreq
// On macOS: ~/Library/Application Support/torreq
// On Windows: %LOCALAPPDATA%\torreq
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for torreq.
// On Linux: ~/.config/torreq
// On macOS: ~/Library/Application Support/torreq
// On Windows: %APPDATA%\torreq
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ApplyFile copies the proxy settings present in f over c. Unset fields in
// the file leave the current values untouched.
func (c *Config) ApplyFile(f *File) {
	if f == nil {
		return
	}
	c.Sites = f

	p := f.Proxy
	if p.Host != "" {
		c.ProxyHost = p.Host
	}
	if len(p.Ports) > 0 {
		c.Ports = slices.Clone(p.Ports)
	}
	if p.Timeout != 0 {
		c.Timeout = p.Timeout
	}
	if p.IPCheckURL != "" {
		c.IPCheckURL = p.IPCheckURL
	}
	if p.AllowSameIP {
		c.AllowSameIP = true
	}
	if f.Defaults.UserAgent != "" {
		c.UserAgent = f.Defaults.UserAgent
	}
}

// ClientOptions converts the proxy settings into options for tor.NewClient.
func (c *Config) ClientOptions() []tor.Option {
	return []tor.Option{
		tor.WithPorts(c.Ports...),
		tor.WithProxyHost(c.ProxyHost),
		tor.WithTimeout(c.Timeout),
		tor.WithIPCheckURL(c.IPCheckURL),
		tor.WithAllowSameIP(c.AllowSameIP),
	}
}

// Validate checks if the configuration is valid.
// It returns the first problem found as a sentinel error.
func (c *Config) Validate() error {
	if len(c.Ports) == 0 {
		return ErrNoPorts
	}
	for _, port := range c.Ports {
		if port < 1 || port > 65535 {
			return ErrInvalidPort
		}
	}

	if c.ProxyHost == "" {
		return ErrInvalidProxyHost
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.IPCheckURL == "" {
		return ErrInvalidIPCheckURL
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	return nil
}
