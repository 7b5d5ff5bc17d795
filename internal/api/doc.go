// Package api holds the remote streaming API plumbing shared by the token
// exchange, rule manager and stream session: endpoint configuration, one-shot
// request execution with bearer or basic auth, and the structured error body
// the remote service returns on non-success statuses.
package api
