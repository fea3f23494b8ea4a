// Package auth implements the identity-resolution boundary.
//
// Client is a JSON-over-HTTP client for an external auth provider: it maps
// opaque connection tokens to durable identities and maintains the
// process-wide refresh token backing that upstream session. Static resolves
// tokens to themselves for development and tests.
//
// All requests accept a context for cancellation and deadlines. Non-2xx
// statuses are returned as errors with the HTTP method, full URL, and
// status text to aid diagnostics.
package auth
