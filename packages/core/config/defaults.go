package config

import hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: int(hithttp.DefaultConnectTimeout.Milliseconds()),
		ReadTimeout:    int(hithttp.DefaultReadTimeout.Milliseconds()),
		IdleSweep:      0,
		Charset:        hithttp.DefaultCharset,
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	defaults := DefaultConfig()
	return c.ConnectTimeout == defaults.ConnectTimeout &&
		c.ReadTimeout == defaults.ReadTimeout &&
		c.IdleSweep == defaults.IdleSweep &&
		c.Charset == defaults.Charset &&
		c.Proxy == nil &&
		c.Credentials == nil &&
		len(c.Headers) == 0 &&
		len(c.RedirectStatuses) == 0 &&
		c.CookieMirrorSync == nil &&
		c.EscapeQuery == nil &&
		c.ValidateSSL == nil &&
		c.Verbose == nil &&
		c.NoColor == nil
}
