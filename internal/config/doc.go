// Package config provides the configuration of torreq: proxy candidates,
// timeouts, report preferences, and per-host request settings loaded from
// a YAML file.
package config
