// Package stream owns one long-lived streaming session against the remote
// API and the helpers the reconnect loop builds on.
//
// Ownership boundary:
// - opening the authorized GET and reading newline-delimited chunks
// - chunk classification (heartbeat, record, in-band issue signal)
// - the tagged terminal condition a session ends with
// - reconnect backoff arithmetic
//
// Lifecycle: Connecting -> Open -> Terminated. A terminated session never
// reopens; callers construct a new Session per reconnect.
package stream
