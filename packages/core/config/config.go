package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

// Config represents the hitclient configuration
type Config struct {
	ConnectTimeout   int               `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty" toml:"connectTimeout,omitempty"` // milliseconds
	ReadTimeout      int               `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty" toml:"readTimeout,omitempty"`          // milliseconds
	IdleSweep        int               `json:"idleSweep,omitempty" yaml:"idleSweep,omitempty" toml:"idleSweep,omitempty"`                // milliseconds
	Charset          string            `json:"charset,omitempty" yaml:"charset,omitempty" toml:"charset,omitempty"`
	Proxy            *ProxyConfig      `json:"proxy,omitempty" yaml:"proxy,omitempty" toml:"proxy,omitempty"`
	Credentials      *Credentials      `json:"credentials,omitempty" yaml:"credentials,omitempty" toml:"credentials,omitempty"`
	Headers          map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"` // Default headers for all requests
	RedirectStatuses []int             `json:"redirectStatuses,omitempty" yaml:"redirectStatuses,omitempty" toml:"redirectStatuses,omitempty"`
	CookieMirrorSync *bool             `json:"cookieMirrorSync,omitempty" yaml:"cookieMirrorSync,omitempty" toml:"cookieMirrorSync,omitempty"`
	EscapeQuery      *bool             `json:"escapeQuery,omitempty" yaml:"escapeQuery,omitempty" toml:"escapeQuery,omitempty"`
	ValidateSSL      *bool             `json:"validateSSL,omitempty" yaml:"validateSSL,omitempty" toml:"validateSSL,omitempty"`
	Verbose          *bool             `json:"verbose,omitempty" yaml:"verbose,omitempty" toml:"verbose,omitempty"`
	NoColor          *bool             `json:"noColor,omitempty" yaml:"noColor,omitempty" toml:"noColor,omitempty"`
}

// ProxyConfig routes requests through an HTTP proxy. Auth is "user:password".
type ProxyConfig struct {
	Host string `json:"host" yaml:"host" toml:"host"`
	Port int    `json:"port" yaml:"port" toml:"port"`
	Auth string `json:"auth,omitempty" yaml:"auth,omitempty" toml:"auth,omitempty"`
}

// Credentials are offered to any origin that challenges with Basic or Digest.
type Credentials struct {
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetValidateSSL returns the validate SSL setting, defaulting to true
func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}

// GetCookieMirrorSync returns the mirror sync setting, defaulting to false
func (c *Config) GetCookieMirrorSync() bool {
	return getBool(c.CookieMirrorSync, false)
}

// GetEscapeQuery returns the query escaping setting, defaulting to false
func (c *Config) GetEscapeQuery() bool {
	return getBool(c.EscapeQuery, false)
}

// GetVerbose returns the verbose setting, defaulting to false
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".hitclient.json",
	"hitclient.config.json",
	".hitclient.yml",
	".hitclient.yaml",
	".hitclient.toml",
}

// DotEnvFilename is loaded from the config directory before the config file.
const DotEnvFilename = ".env"

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		if err := loadDotEnvIfPresent(filepath.Join(filepath.Dir(path), DotEnvFilename)); err != nil {
			return nil, err
		}
		return loadConfigFromFile(path)
	}

	// Search for config file in current directory
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	if err := loadDotEnvIfPresent(filepath.Join(dir, DotEnvFilename)); err != nil {
		return nil, err
	}
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	// Return defaults if no config file found
	return DefaultConfig(), nil
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, config)
	case ".toml":
		err = toml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return config, nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.ConnectTimeout > 0 {
		result.ConnectTimeout = other.ConnectTimeout
	}
	if other.ReadTimeout > 0 {
		result.ReadTimeout = other.ReadTimeout
	}
	if other.IdleSweep > 0 {
		result.IdleSweep = other.IdleSweep
	}
	if other.Charset != "" {
		result.Charset = other.Charset
	}
	if other.Proxy != nil {
		result.Proxy = other.Proxy
	}
	if other.Credentials != nil {
		result.Credentials = other.Credentials
	}
	if len(other.RedirectStatuses) > 0 {
		result.RedirectStatuses = other.RedirectStatuses
	}

	// Boolean flags - only override if explicitly set in other config
	if other.CookieMirrorSync != nil {
		result.CookieMirrorSync = other.CookieMirrorSync
	}
	if other.EscapeQuery != nil {
		result.EscapeQuery = other.EscapeQuery
	}
	if other.ValidateSSL != nil {
		result.ValidateSSL = other.ValidateSSL
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	// Merge headers
	if len(other.Headers) > 0 {
		headers := make(map[string]string, len(c.Headers)+len(other.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		for k, v := range other.Headers {
			headers[k] = v
		}
		result.Headers = headers
	}

	return &result
}

// SessionOptions converts the configuration into options for hithttp.NewSession.
// Default headers are not included; apply them with Session.AddHTTPHeader.
func (c *Config) SessionOptions() []hithttp.SessionOption {
	opts := []hithttp.SessionOption{
		hithttp.WithTimeouts(millis(c.ConnectTimeout), millis(c.ReadTimeout)),
		hithttp.WithIdleSweepThreshold(millis(c.IdleSweep)),
		hithttp.WithCookieMirrorSync(c.GetCookieMirrorSync()),
		hithttp.WithQueryEscaping(c.GetEscapeQuery()),
	}
	if len(c.RedirectStatuses) > 0 {
		opts = append(opts, hithttp.WithRedirectStatuses(c.RedirectStatuses...))
	}
	if c.Proxy != nil && c.Proxy.Host != "" {
		opts = append(opts, hithttp.WithProxy(c.Proxy.Host, c.Proxy.Port, c.Proxy.Auth))
	}
	if c.Credentials != nil && c.Credentials.Username != "" {
		opts = append(opts, hithttp.WithCredentials(c.Credentials.Username, c.Credentials.Password))
	}
	if !c.GetValidateSSL() {
		opts = append(opts, hithttp.WithTLSProfile(&tls.Config{InsecureSkipVerify: true})) //nolint:gosec // opt-in
	}
	return opts
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
