package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitclient/packages/core/config"
	"github.com/abdul-hamid-achik/hitclient/packages/db"
	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configFlag   string
	verboseFlag  int
	noColorFlag  bool
	charsetFlag  string
	cookieDBFlag string
	sessionFlag  string
	insecureFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "hitclient",
	Short: "A cookie-keeping HTTP session from the command line.",
	Long: `hitclient sends form-encoded and raw-body requests through a
session that remembers cookies, replays browser-like default headers and
follows redirects after POST, the way a scripted browser would.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColorFlag {
			color.NoColor = true
		}
	},
}

func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFlag, "config", getEnvString("HITCLIENT_CONFIG", ""), "Path to config file (env: HITCLIENT_CONFIG)")
	flags.CountVarP(&verboseFlag, "verbose", "v", "Log session activity to stderr (-v info, -vv debug)")
	flags.BoolVar(&noColorFlag, "no-color", getEnvBool("HITCLIENT_NO_COLOR", false), "Disable colored output (env: HITCLIENT_NO_COLOR)")
	flags.StringVar(&charsetFlag, "charset", getEnvString("HITCLIENT_CHARSET", ""), "Charset for request bodies and decoding (default from config, UTF-8)")
	flags.StringVar(&cookieDBFlag, "cookie-db", getEnvString("HITCLIENT_COOKIE_DB", ""), "SQLite file that persists session cookies (env: HITCLIENT_COOKIE_DB)")
	flags.StringVar(&sessionFlag, "session", getEnvString("HITCLIENT_SESSION", "default"), "Cookie session name inside --cookie-db (env: HITCLIENT_SESSION)")
	flags.BoolVarP(&insecureFlag, "insecure", "k", getEnvBool("HITCLIENT_INSECURE", false), "Disable TLS certificate validation")

	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(cookiesCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and applies the global flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, &exitError{code: ExitConfigError, err: fmt.Errorf("loading config: %w", err)}
	}

	overrides := &config.Config{Charset: charsetFlag}
	if insecureFlag {
		overrides.ValidateSSL = config.BoolPtr(false)
	}
	if verboseFlag > 0 {
		overrides.Verbose = config.BoolPtr(true)
	}
	return cfg.Merge(overrides), nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verboseFlag >= 2:
		level = slog.LevelDebug
	case verboseFlag == 1 || cfg.GetVerbose():
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// clientSession is a session plus the cookie store it is persisted to.
type clientSession struct {
	*hithttp.Session
	store  *db.Store
	name   string
	config *config.Config
	logger *slog.Logger
}

// openSession builds a session from cfg, applies default headers and restores
// persisted cookies when --cookie-db is set.
func openSession(cfg *config.Config) (*clientSession, error) {
	logger := newLogger(cfg)

	opts := append(cfg.SessionOptions(), hithttp.WithLogger(logger))
	session, err := hithttp.NewSession(opts...)
	if err != nil {
		return nil, &exitError{code: ExitConfigError, err: err}
	}
	if len(cfg.Headers) > 0 {
		session.AddHTTPHeader(cfg.Headers)
	}

	cs := &clientSession{Session: session, name: sessionFlag, config: cfg, logger: logger}
	if cookieDBFlag == "" {
		return cs, nil
	}

	store, err := db.Open(cookieDBFlag)
	if err != nil {
		_ = session.Close()
		return nil, &exitError{code: ExitConfigError, err: err}
	}
	cs.store = store

	cookies, err := store.Load(sessionFlag)
	if err != nil {
		_ = cs.Close()
		return nil, err
	}
	if err := session.AddCookies(cookies); err != nil {
		_ = cs.Close()
		return nil, err
	}
	logger.Debug("restored cookies", "session", sessionFlag, "count", len(cookies))
	return cs, nil
}

// persist saves the transport's cookie jar under the session name.
func (cs *clientSession) persist() error {
	if cs.store == nil {
		return nil
	}
	cookies := cs.Transport().Cookies()
	if err := cs.store.Save(cs.name, cookies); err != nil {
		return fmt.Errorf("saving cookies: %w", err)
	}
	cs.logger.Debug("saved cookies", "session", cs.name, "count", len(cookies))
	return nil
}

func (cs *clientSession) charset() string {
	if cs.config.Charset != "" {
		return cs.config.Charset
	}
	return hithttp.DefaultCharset
}

func (cs *clientSession) Close() error {
	err := cs.Session.Close()
	if cs.store != nil {
		err = errors.Join(err, cs.store.Close())
	}
	return err
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// completeMethod offers the implemented methods for the first argument.
func completeMethod(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveDefault
	}
	return []string{hithttp.MethodGet.String(), hithttp.MethodPost.String()}, cobra.ShellCompDirectiveNoFileComp
}
