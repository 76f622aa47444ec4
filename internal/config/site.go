package config

import (
	"maps"
	"time"
)

// ProxyConfig is the proxy section of the configuration file.
// Zero values mean "keep the built-in default".
type ProxyConfig struct {
	Host        string        `yaml:"host,omitempty"`
	Ports       []int         `yaml:"ports,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	IPCheckURL  string        `yaml:"ipCheckURL,omitempty"`
	AllowSameIP bool          `yaml:"allowSameIP,omitempty"`
}

// SiteConfig holds request settings for a single host.
type SiteConfig struct {
	// Cookie is sent as the Cookie header.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// UserAgent overrides the User-Agent header.
	UserAgent string `yaml:"userAgent,omitempty"`
}

// File represents the structure of the .torreq configuration file.
type File struct {
	// Proxy overrides the client defaults.
	Proxy ProxyConfig `yaml:"proxy,omitempty"`

	// Sites maps host names to their request settings.
	// Keys are host names without scheme or port (e.g., "example.onion").
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults is applied to every host unless overridden in Sites.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the configuration for a specific host.
// It merges the site-specific configuration with defaults.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	result.Headers = maps.Clone(cf.Defaults.Headers)

	siteConfig, ok := cf.Sites[host]
	if !ok {
		return result
	}

	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if siteConfig.UserAgent != "" {
		result.UserAgent = siteConfig.UserAgent
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(siteConfig.Headers))
		}
		maps.Copy(result.Headers, siteConfig.Headers)
	}

	return result
}
