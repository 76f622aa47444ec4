package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/nao1215/torreq/internal/config"
	"github.com/nao1215/torreq/internal/history"
	"github.com/nao1215/torreq/internal/report"
	"github.com/spf13/cobra"
)

// errVerificationNotFound is returned when the requested history entry does not exist.
var errVerificationNotFound = errors.New("verification not found")

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show past verifications and the requests sent after them",
		Long: `History lists recorded verifications, newest first.

Given an ID, it shows that verification in full together with the
requests sent through the verified proxy.

Examples:
  # List the 20 most recent verifications
  torreq history

  # Show verification 42 and its requests
  torreq history 42

  # Export the history as JSON
  torreq history --limit 100 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", config.DefaultHistoryLimit,
		"Maximum number of verifications to list")
	addReportFlags(cmd)
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyReportFlags(cmd, cfg); err != nil {
		return err
	}
	if cfg.JSONReport && cfg.MarkdownReport {
		return config.ErrConflictingReportFormats
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	var id int64
	if len(args) == 1 {
		id, err = strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid verification ID %q", args[0])
		}
	}

	// Reading history never creates the database.
	opts := history.DefaultOptions()
	opts.CreateIfNotExists = false
	store, err := history.Open(cfg.DBDir, opts)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "No history recorded yet. Run 'torreq check' first.")
			return nil
		}
		return err
	}
	defer store.Close()

	out, closeOut, err := openOutput(cmd, cfg.ReportFile)
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck // Best effort close after write

	writer := newReportWriter(cfg, out)
	ctx := cmd.Context()

	if id == 0 {
		records, err := store.RecentVerifications(ctx, limit)
		if err != nil {
			return err
		}
		_, err = writer.WriteHistory(records)
		return err
	}

	v, err := store.GetVerification(ctx, id)
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("%w: %d", errVerificationNotFound, id)
	}

	requests, err := store.RequestsForVerification(ctx, id)
	if err != nil {
		return err
	}

	if jw, ok := writer.(*report.JSONWriter); ok {
		_, err = jw.WriteVerificationRequests(v, requests)
		return err
	}
	if _, err := writer.WriteVerification(v); err != nil {
		return err
	}
	_, err = writer.WriteRequests(requests)
	return err
}
