package main

import (
	"fmt"
	"os"

	"github.com/nao1215/torreq/internal/config"
	"github.com/nao1215/torreq/internal/tor"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for torreq.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torreq",
		Short: "Send HTTP requests through a verified Tor SOCKS proxy",
		Long: `torreq routes HTTP requests through a local Tor SOCKS proxy.

Before any request is sent, torreq fetches your direct public IP and then the
IP seen through each candidate proxy port (9150 for Tor Browser, then 9050 for
the tor daemon). The first port that reports a different IP is used; if none
does, no request is sent. Host names are resolved by Tor (socks5h).

torreq does not start Tor. Run Tor Browser or the tor daemon first.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	flags := cmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose logging")
	flags.Bool("log-json", false, "Write logs as JSON")
	flags.StringP("config", "c", "",
		"Configuration file path (default: .torreq in current or home directory)")
	flags.IntSliceP("port", "p", config.DefaultPorts(),
		"Candidate Tor SOCKS ports, tried in order")
	flags.String("proxy-host", config.DefaultProxyHost,
		"Address the Tor SOCKS ports listen on")
	flags.DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request, including IP checks")
	flags.String("ip-check-url", config.DefaultIPCheckURL,
		`URL answering {"ip": "..."} for the caller`)
	flags.Bool("allow-same-ip", false,
		"Accept a proxy whose exit IP equals the direct IP")
	flags.String("db-dir", "",
		"Directory of the history database (default: XDG data directory)")
	flags.Bool("no-history", false, "Do not record verifications and requests")

	// Add subcommands
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewPortsCmd())
	for _, method := range []tor.Method{tor.MethodGet, tor.MethodPost, tor.MethodPut, tor.MethodDelete} {
		cmd.AddCommand(NewRequestCmd(method))
	}
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
