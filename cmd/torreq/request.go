package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nao1215/torreq/internal/config"
	"github.com/nao1215/torreq/internal/fetch"
	"github.com/nao1215/torreq/internal/history"
	"github.com/nao1215/torreq/internal/tor"
	"github.com/spf13/cobra"
)

// errRequestFailed is returned when --fail is set and a response has an
// error status.
var errRequestFailed = errors.New("request failed")

// NewRequestCmd creates the command sending requests with method.
func NewRequestCmd(method tor.Method) *cobra.Command {
	name := strings.ToLower(method.String())

	cmd := &cobra.Command{
		Use:   name + " URL...",
		Short: fmt.Sprintf("Send a %s request through Tor", method),
		Long: fmt.Sprintf(`Send a %[1]s request through the first candidate port verified to route
through Tor. Nothing is sent when no port is verified.

With a single URL the response body is written to stdout (or --output).
With several URLs the requests run concurrently and one summary line is
printed per URL, including the page title of HTML responses.

Headers, cookie and User-Agent from the configuration file are applied for
matching hosts; flags take precedence.

Examples:
  torreq %[2]s https://check.torproject.org/
  torreq %[2]s -H "Accept: application/json" -q page=2 https://example.com/api
  torreq %[2]s --json '{"key":"value"}' https://example.com/api
  torreq %[2]s -d @payload.bin --content-type application/octet-stream https://example.com/upload`,
			method, name),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequestCmd(cmd, method, args)
		},
	}

	cmd.Flags().StringArrayP("header", "H", nil, `Request header "Name: value" (repeatable)`)
	cmd.Flags().StringArrayP("query", "q", nil, `Query parameter "key=value" (repeatable)`)
	cmd.Flags().StringArrayP("cookie", "b", nil, `Cookie "name=value" (repeatable)`)
	cmd.Flags().StringP("data", "d", "", "Raw request body; @FILE reads it from a file")
	cmd.Flags().String("content-type", "application/x-www-form-urlencoded", "Content-Type of --data")
	cmd.Flags().String("json", "", "JSON request body, sent with Content-Type application/json")
	cmd.Flags().StringArrayP("form", "F", nil, `Form field "key=value" (repeatable)`)
	cmd.Flags().BoolP("include", "i", false, "Include the status line and response headers in the output")
	cmd.Flags().Bool("links", false, "Print .onion links found in HTML responses (several URLs only)")
	cmd.Flags().BoolP("fail", "f", false, "Exit with an error when a response status is 400 or above")
	cmd.Flags().StringP("output", "o", "", "Write the response body to a file (single URL only)")
	cmd.Flags().Int("concurrency", config.DefaultConcurrency, "Number of URLs requested at once")
	cmd.MarkFlagsMutuallyExclusive("data", "json", "form")

	return cmd
}

// requestInput is the parsed form of the request flags. Body options are
// built fresh for each target.
type requestInput struct {
	header      http.Header
	query       url.Values
	cookies     []*http.Cookie
	data        []byte
	hasData     bool
	contentType string
	jsonValue   any
	hasJSON     bool
	form        url.Values
	include     bool
	links       bool
	fail        bool
	output      string
}

// parseRequestFlags validates the request flags of cmd.
func parseRequestFlags(cmd *cobra.Command) (*requestInput, error) {
	flags := cmd.Flags()
	in := &requestInput{header: make(http.Header)}

	headers, err := flags.GetStringArray("header")
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q: expected \"Name: value\"", h)
		}
		in.header.Add(key, strings.TrimSpace(value))
	}

	if in.query, err = parsePairs(cmd, "query"); err != nil {
		return nil, err
	}
	if in.form, err = parsePairs(cmd, "form"); err != nil {
		return nil, err
	}

	cookies, err := parsePairs(cmd, "cookie")
	if err != nil {
		return nil, err
	}
	for name, values := range cookies {
		for _, v := range values {
			in.cookies = append(in.cookies, &http.Cookie{Name: name, Value: v})
		}
	}

	if flags.Changed("data") {
		data, err := flags.GetString("data")
		if err != nil {
			return nil, err
		}
		if path, ok := strings.CutPrefix(data, "@"); ok {
			content, err := os.ReadFile(path) //nolint:gosec // User-provided body file is intentional
			if err != nil {
				return nil, fmt.Errorf("failed to read request body: %w", err)
			}
			in.data = content
		} else {
			in.data = []byte(data)
		}
		in.hasData = true
		if in.contentType, err = flags.GetString("content-type"); err != nil {
			return nil, err
		}
	}

	if flags.Changed("json") {
		raw, err := flags.GetString("json")
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &in.jsonValue); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		in.hasJSON = true
	}

	if in.include, err = flags.GetBool("include"); err != nil {
		return nil, err
	}
	if in.links, err = flags.GetBool("links"); err != nil {
		return nil, err
	}
	if in.fail, err = flags.GetBool("fail"); err != nil {
		return nil, err
	}
	if in.output, err = flags.GetString("output"); err != nil {
		return nil, err
	}

	return in, nil
}

// parsePairs parses a repeatable "key=value" flag.
func parsePairs(cmd *cobra.Command, name string) (url.Values, error) {
	pairs, err := cmd.Flags().GetStringArray(name)
	if err != nil {
		return nil, err
	}

	values := make(url.Values)
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --%s value %q: expected key=value", name, p)
		}
		values.Add(key, value)
	}
	return values, nil
}

// options builds the request options for target. Settings from the
// configuration file for the target's host come first and flags override them.
func (s *requestInput) options(cfg *config.Config, target string) []tor.RequestOption {
	header := make(http.Header)
	if cfg.UserAgent != "" {
		header.Set("User-Agent", cfg.UserAgent)
	}

	if cfg.Sites != nil {
		if u, err := tor.ParseTarget(target); err == nil {
			site := cfg.Sites.GetSiteConfig(strings.ToLower(u.Hostname()))
			if site.UserAgent != "" {
				header.Set("User-Agent", site.UserAgent)
			}
			for k, v := range site.Headers {
				header.Set(k, v)
			}
			if site.Cookie != "" {
				header.Set("Cookie", site.Cookie)
			}
		}
	}

	for k, values := range s.header {
		header.Del(k)
		for _, v := range values {
			header.Add(k, v)
		}
	}

	var opts []tor.RequestOption
	for k, values := range header {
		for _, v := range values {
			opts = append(opts, tor.WithHeader(k, v))
		}
	}
	for k, values := range s.query {
		for _, v := range values {
			opts = append(opts, tor.WithQuery(k, v))
		}
	}
	for _, c := range s.cookies {
		opts = append(opts, tor.WithCookie(c))
	}

	switch {
	case s.hasJSON:
		opts = append(opts, tor.WithJSON(s.jsonValue))
	case len(s.form) > 0:
		opts = append(opts, tor.WithForm(s.form))
	case s.hasData:
		opts = append(opts, tor.WithBody(bytes.NewReader(s.data), s.contentType))
	}

	return opts
}

// runRequestCmd verifies a Tor connection and sends method to every target.
func runRequestCmd(cmd *cobra.Command, method tor.Method, targets []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("concurrency") {
		if cfg.Concurrency, err = cmd.Flags().GetInt("concurrency"); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	in, err := parseRequestFlags(cmd)
	if err != nil {
		return err
	}
	if in.output != "" && len(targets) > 1 {
		return errors.New("--output can only be used with a single URL")
	}

	// Reject malformed targets before touching the network.
	for _, target := range targets {
		if _, err := tor.ParseTarget(target); err != nil {
			return err
		}
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

	v, verificationID := verify(ctx, client, store, logger)
	if !v.OK() {
		for _, a := range v.Attempts {
			logger.Warn("port not usable", "port", a.Port, "outcome", a.Outcome, "error", a.Error)
		}
		return fmt.Errorf("%w: %w", tor.ErrConnectionFailed, v.Err())
	}
	logger.Info("connected to Tor", "port", v.Port, "torIP", v.TorIP)

	rec := &requestRecorder{store: store, verificationID: verificationID, logger: logger}

	if len(targets) == 1 {
		return sendSingle(ctx, cmd, client, cfg, in, method, targets[0], rec)
	}
	return sendBatch(ctx, cmd, client, cfg, in, method, targets, rec)
}

// sendSingle sends one request and streams the response body.
func sendSingle(ctx context.Context, cmd *cobra.Command, client *tor.Client, cfg *config.Config, in *requestInput, method tor.Method, target string, rec *requestRecorder) error {
	start := time.Now()
	resp, err := client.Do(ctx, method, target, in.options(cfg, target)...)
	if err != nil {
		rec.record(ctx, method, target, 0, time.Since(start), err)
		return err
	}
	defer resp.Body.Close()

	out, closeOut, err := openOutput(cmd, in.output)
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck // Best effort close after write

	if in.include {
		if err := writeResponseHead(out, resp); err != nil {
			return err
		}
	}

	_, copyErr := io.Copy(out, resp.Body)
	rec.record(ctx, method, target, resp.StatusCode, time.Since(start), copyErr)
	if copyErr != nil {
		return fmt.Errorf("failed to read response body: %w", copyErr)
	}

	if in.fail && resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s", errRequestFailed, resp.Status)
	}
	return nil
}

// sendBatch sends method to every target concurrently and prints one
// summary line per target, in the order given.
func sendBatch(ctx context.Context, cmd *cobra.Command, client *tor.Client, cfg *config.Config, in *requestInput, method tor.Method, targets []string, rec *requestRecorder) error {
	fetcher, err := fetch.New(client,
		fetch.WithConcurrency(cfg.Concurrency),
		fetch.WithTargetOptions(func(target string) []tor.RequestOption {
			return in.options(cfg, target)
		}),
		fetch.WithLogger(rec.logger),
	)
	if err != nil {
		return err
	}

	results := fetcher.Batch(ctx, method, targets)

	out := cmd.OutOrStdout()
	failed := 0
	for i, r := range results {
		rec.record(ctx, method, r.Target, r.StatusCode, r.Duration, r.Err)

		if !r.OK() {
			failed++
			fmt.Fprintf(out, "[%d/%d] %-6s ERROR %s: %v\n", i+1, len(results), r.Method, r.Target, r.Err)
			continue
		}
		if in.fail && r.StatusCode >= http.StatusBadRequest {
			failed++
		}

		line := fmt.Sprintf("[%d/%d] %-6s %d %s (%s, %d bytes)", i+1, len(results), r.Method, r.StatusCode, r.Target,
			r.Duration.Round(time.Millisecond), len(r.Body))
		if r.Page != nil && r.Page.Title != "" {
			line += fmt.Sprintf(" %q", r.Page.Title)
		}
		fmt.Fprintln(out, line)

		if in.links {
			for _, link := range pageOnionLinks(r) {
				fmt.Fprintf(out, "        -> %s\n", link)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d requests", errRequestFailed, failed, len(results))
	}
	return nil
}

func pageOnionLinks(r *fetch.Result) []string {
	if r.Page == nil {
		return nil
	}
	return r.Page.OnionLinks
}

// writeResponseHead writes the status line and headers like curl -i.
func writeResponseHead(w io.Writer, resp *http.Response) error {
	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if _, err := fmt.Fprintf(w, "%s %s\r\n", proto, resp.Status); err != nil {
		return err
	}
	if err := resp.Header.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// requestRecorder stores sent requests in the history database.
type requestRecorder struct {
	store          *history.Store
	verificationID int64
	logger         *slog.Logger
}

func (r *requestRecorder) record(ctx context.Context, method tor.Method, target string, status int, d time.Duration, err error) {
	if r.store == nil {
		return
	}

	// Credentials in the URL are never stored.
	recordedURL := target
	if u, parseErr := url.Parse(target); parseErr == nil {
		recordedURL = u.Redacted()
	}

	record := &history.RequestRecord{
		VerificationID: r.verificationID,
		Method:         method.String(),
		URL:            recordedURL,
		StatusCode:     status,
		Duration:       d,
	}
	if err != nil {
		record.Error = err.Error()
	}

	// Record even when ctx was cancelled.
	if saveErr := r.store.SaveRequest(context.WithoutCancel(ctx), record); saveErr != nil {
		r.logger.Error("failed to save request", "url", recordedURL, "error", saveErr)
	}
}
