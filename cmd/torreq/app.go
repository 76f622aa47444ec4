package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nao1215/torreq/internal/config"
	"github.com/nao1215/torreq/internal/history"
	"github.com/nao1215/torreq/internal/log"
	"github.com/nao1215/torreq/internal/report"
	"github.com/nao1215/torreq/internal/tor"
	"github.com/spf13/cobra"
)

// buildConfig creates a Config from the configuration file and the global
// flags. Flags given on the command line override the file.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicitly specified file must exist; a file found by search is optional.
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if flags.Changed("port") {
		if cfg.Ports, err = flags.GetIntSlice("port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("proxy-host") {
		if cfg.ProxyHost, err = flags.GetString("proxy-host"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("ip-check-url") {
		if cfg.IPCheckURL, err = flags.GetString("ip-check-url"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("allow-same-ip") {
		if cfg.AllowSameIP, err = flags.GetBool("allow-same-ip"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("db-dir") {
		if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
			return nil, err
		}
	}

	noHistory, err := flags.GetBool("no-history")
	if err != nil {
		return nil, err
	}
	cfg.SaveHistory = !noHistory

	cfg.Verbose, err = flags.GetBool("verbose")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// addReportFlags registers the report format flags shared by commands that
// render reports.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
}

// applyReportFlags copies the report format flags into cfg.
func applyReportFlags(cmd *cobra.Command, cfg *config.Config) error {
	var err error
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	return nil
}

// setupLogger creates the secure structured logger for this invocation.
// Logs go to the command's error stream so that reports on stdout stay clean.
func setupLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	logJSON, err := cmd.Flags().GetBool("log-json")
	if err == nil && logJSON {
		return log.NewSecureJSONLogger(cmd.ErrOrStderr(), cfg.Verbose)
	}
	return log.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// newClient creates an unverified Tor client from cfg.
func newClient(cfg *config.Config, logger *slog.Logger) (*tor.Client, error) {
	client, err := tor.NewClient(append(cfg.ClientOptions(), tor.WithLogger(logger))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	return client, nil
}

// openHistory opens the history database, or returns nil when history is
// disabled or the database cannot be opened. A broken history database
// never blocks requests.
func openHistory(cfg *config.Config, logger *slog.Logger) *history.Store {
	if !cfg.SaveHistory {
		return nil
	}

	store, err := history.Open(cfg.DBDir, history.DefaultOptions())
	if err != nil {
		logger.Warn("history disabled: failed to open database", "dir", cfg.DBDir, "error", err)
		return nil
	}
	logger.Debug("history database opened", "path", store.Path())
	return store
}

// verify runs a verification and records it. The returned ID is zero when
// nothing was recorded.
func verify(ctx context.Context, client *tor.Client, store *history.Store, logger *slog.Logger) (*tor.Verification, int64) {
	v := client.Verify(ctx)

	if store == nil {
		return v, 0
	}
	id, err := store.SaveVerification(ctx, v)
	if err != nil {
		logger.Error("failed to save verification", "error", err)
		return v, 0
	}
	logger.Debug("verification saved to history", "id", id)
	return v, id
}

// openOutput returns the report destination: the command's output stream,
// or path when set. The returned function closes the file.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}

	// Create directories if they don't exist
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports may reveal the caller's direct IP, so only the owner can read them.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // User-provided output path is intentional
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

// newReportWriter selects the report writer for the configured format.
func newReportWriter(cfg *config.Config, w io.Writer) report.Writer {
	switch {
	case cfg.JSONReport:
		return report.NewJSONWriter(w, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(w)
	default:
		opts := []report.SimpleWriterOption{report.WithVerbose(cfg.Verbose)}
		if cfg.ReportFile != "" {
			opts = append(opts, report.WithColor(false))
		}
		return report.NewSimpleWriter(w, opts...)
	}
}
