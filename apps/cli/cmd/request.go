package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitclient/packages/capture"
	"github.com/abdul-hamid-achik/hitclient/packages/core/config"
	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

var requestCmd = &cobra.Command{
	Use:   "request <method> <url>",
	Short: "Send one request and print the response body",
	Long: `Send one request through a session and print the decoded body.

GET parameters are appended to the query string; POST parameters are sent
as a form body, or as a raw body with --data. A POST answered with a
redirect is followed by a GET that carries the cookies set so far.

Examples:
  hitclient request GET https://example.com/search -p q=go
  hitclient request POST https://example.com/login -p user=alice -p pass=secret --cookie-db cookies.db
  hitclient request POST https://example.com/api --data '{"a":1}' --content-type application/json
  hitclient request GET https://example.com/user.json --extract id=data.id --schema user.schema.json
  hitclient request GET https://example.com/health --watch`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeMethod,
	RunE:              requestCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	paramFlags       []string
	headerFlags      []string
	dataFlag         string
	contentTypeFlag  string
	extractFlags     []string
	schemaFlag       string
	watchFlag        bool
	outputFormatFlag string
)

func init() {
	requestCmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "Request parameter as name=value (repeatable)")
	requestCmd.Flags().StringArrayVarP(&headerFlags, "header", "H", nil, "Default header as Name: value (repeatable)")
	requestCmd.Flags().StringVarP(&dataFlag, "data", "d", "", "Raw POST body; replaces form parameters")
	requestCmd.Flags().StringVar(&contentTypeFlag, "content-type", "", "Content type of the raw body (default "+hithttp.DefaultRawContentType+")")
	requestCmd.Flags().StringArrayVarP(&extractFlags, "extract", "x", nil, "Print a JSON value as name=path instead of the body (repeatable)")
	requestCmd.Flags().StringVar(&schemaFlag, "schema", "", "Validate the JSON body against a JSON schema file")
	requestCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Re-send whenever the config file changes")
	requestCmd.Flags().StringVarP(&outputFormatFlag, "output", "o", "text", "Output format for --extract: text, json")
}

func requestCommand(cmd *cobra.Command, args []string) error {
	method, err := hithttp.ParseMethod(args[0])
	if err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}
	if err := hithttp.ValidateURL(args[1]); err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}
	params, err := requestParams(paramFlags, dataFlag, contentTypeFlag)
	if err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}
	extracts, err := parsePairs(extractFlags, "=")
	if err != nil {
		return &exitError{code: ExitUsageError, err: fmt.Errorf("--extract: %w", err)}
	}
	headers, err := parsePairs(headerFlags, ":")
	if err != nil {
		return &exitError{code: ExitUsageError, err: fmt.Errorf("--header: %w", err)}
	}

	send := func() error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return sendOnce(cmd.OutOrStdout(), cfg, method, args[1], params, headers, extracts)
	}

	if !watchFlag {
		return send()
	}
	return watchConfig(cmd, send)
}

func sendOnce(out io.Writer, cfg *config.Config, method hithttp.MethodType, url string, params, headers, extracts map[string]string) error {
	cs, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer cs.Close()

	if len(headers) > 0 {
		cs.AddHTTPHeader(headers)
	}

	body, err := cs.DoRequest(method, url, params, cs.charset())
	if perr := cs.persist(); perr != nil {
		cs.logger.Warn("persisting cookies failed", "error", perr)
	}
	if err != nil {
		return err
	}

	if schemaFlag != "" {
		if err := capture.ValidateSchema(body, schemaFlag); err != nil {
			return err
		}
	}
	if len(extracts) > 0 {
		return printExtracts(out, body, extracts)
	}

	fmt.Fprint(out, body)
	if !strings.HasSuffix(body, "\n") {
		fmt.Fprintln(out)
	}
	return nil
}

func printExtracts(out io.Writer, body string, extracts map[string]string) error {
	values := capture.ExtractAll(body, extracts)

	var missing []string
	for name := range extracts {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)

	if strings.EqualFold(outputFormatFlag, "json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(values); err != nil {
			return err
		}
	} else {
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "%s=%v\n", name, values[name])
		}
	}

	if len(missing) > 0 {
		return &exitError{code: ExitCheckFailure, err: fmt.Errorf("no value at: %s", strings.Join(missing, ", "))}
	}
	return nil
}

// requestParams builds the parameter map. A raw body uses the json/param/
// contentType keys the session's request builder understands.
func requestParams(pairs []string, data, contentType string) (map[string]string, error) {
	params, err := parsePairs(pairs, "=")
	if err != nil {
		return nil, fmt.Errorf("--param: %w", err)
	}
	if data == "" {
		return params, nil
	}
	if len(params) > 0 {
		return nil, fmt.Errorf("--data cannot be combined with --param")
	}
	if strings.HasPrefix(data, "@") {
		raw, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, err
		}
		data = string(raw)
	}
	params = map[string]string{
		hithttp.ParamJSON:    "true",
		hithttp.ParamRawBody: data,
	}
	if contentType != "" {
		params[hithttp.ParamContentType] = contentType
	}
	return params, nil
}

// parsePairs splits each entry at the first sep. Later entries win.
func parsePairs(entries []string, sep string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		name, value, ok := strings.Cut(e, sep)
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name%svalue, got %q", sep, e)
		}
		if sep == ":" {
			value = strings.TrimSpace(value)
		}
		out[name] = value
	}
	return out, nil
}

// watchConfig runs send once and again after every write to the config file
// or its .env, until interrupted.
func watchConfig(cmd *cobra.Command, send func() error) error {
	report := func(err error) {
		if err != nil {
			color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
	report(send())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := "."
	if configFlag != "" {
		dir = filepath.Dir(configFlag)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "\nWatching %s for changes... (press Ctrl+C to stop)\n\n", dir)

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isWatchedFile(event.Name) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nFile changed: %s\nRe-sending...\n\n", name)
				report(send())
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(fmt.Errorf("watcher error: %w", err))
		}
	}
}

func isWatchedFile(path string) bool {
	base := filepath.Base(path)
	if configFlag != "" {
		return base == filepath.Base(configFlag) || base == config.DotEnvFilename
	}
	if base == config.DotEnvFilename {
		return true
	}
	for _, name := range config.ConfigFilenames {
		if base == name {
			return true
		}
	}
	return false
}
