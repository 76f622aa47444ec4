package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that traffic is routed through Tor",
		Long: `Check compares your direct public IP with the IP seen through each candidate
Tor SOCKS port and reports which port, if any, routes traffic through Tor.

The result is stored in the history database unless --no-history is given.
The command exits with a non-zero status when no port is verified.

Examples:
  # Check the default ports (9150, then 9050)
  torreq check

  # Check only the tor daemon port
  torreq check -p 9050

  # Write a Markdown report
  torreq check --markdown -o report.md`,
		Args: cobra.NoArgs,
		RunE: runCheckCmd,
	}

	addReportFlags(cmd)
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")

	return cmd
}

// runCheckCmd executes the check command.
func runCheckCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyReportFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd, cfg)
	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	store := openHistory(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	v, _ := verify(ctx, client, store, logger)

	out, closeOut, err := openOutput(cmd, cfg.ReportFile)
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck // Best effort close after write

	if _, err := newReportWriter(cfg, out).WriteVerification(v); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return v.Err()
}
