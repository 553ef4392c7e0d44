// Package cmd implements the hitclient CLI commands using Cobra.
//
// Available commands:
//   - request: Send one request through a session and print the body
//   - download: Stream a response body to a file
//   - bench: Drive load through a single shared session
//   - cookies: List or delete persisted cookie sessions
//   - version: Show hitclient version information
//
// Every command shares one session setup: configuration file, default
// headers, credentials, proxy and, with --cookie-db, cookies persisted
// between runs.
package cmd
