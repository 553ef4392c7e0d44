// Package http provides a session-oriented HTTP client for hitclient.
//
// A Session sits on top of a pooled Transport and keeps per-caller state
// between requests:
//   - A cookie mirror replayed as a single Cookie header
//   - Default request headers
//   - Proxy, credential and TLS configuration
//   - Connect and read timeouts
//
// Requests are dispatched synchronously and the response is consumed either
// fully buffered and decoded with a caller supplied charset, or through a
// callback that receives the open body stream and must finish reading before
// it returns.
package http
