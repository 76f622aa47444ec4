package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPortsCmd creates the ports command.
func NewPortsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Check which candidate ports speak SOCKS5",
		Long: `Ports performs a SOCKS5 handshake with every candidate port without sending
any HTTP request, to tell a stopped Tor apart from a port used by another
program.

Examples:
  torreq ports
  torreq ports -p 9050,9150,9250 --json`,
		Args: cobra.NoArgs,
		RunE: runPortsCmd,
	}

	addReportFlags(cmd)
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")

	return cmd
}

// runPortsCmd executes the ports command.
func runPortsCmd(cmd *cobra.Command, _ []string) error {
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

	statuses := client.ProbePorts(ctx)

	out, closeOut, err := openOutput(cmd, cfg.ReportFile)
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck // Best effort close after write

	if _, err := newReportWriter(cfg, out).WritePorts(statuses); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
