// Package config handles configuration loading for hitclient.
//
// It provides functionality for:
//   - Loading configuration from .hitclient.json, .hitclient.yml or .hitclient.toml files
//   - Loading a .env file and expanding ${VAR} references
//   - Default configuration values
//   - Converting a configuration into session options
package config
