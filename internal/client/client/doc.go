// Package client is the planbook Remote API contract and its REST+JSON
// implementation.
//
// # Overview
//
// Client is what the sync engine talks to: Ping, Create, Update, Delete and
// ListSince over one entity kind at a time. HTTPClient binds it to the
// planbook server routes under /api/v1, attaching a bearer token obtained
// from a TokenSource on every request.
//
// # Error handling
//
// Failures come back in three shapes that callers tell apart with errors.Is
// and errors.As:
//
//   - ErrUnavailable: the request may not have reached the server, or the
//     server could not serve it right now (network errors, timeouts, 408, 429,
//     5xx). Retrying later is safe.
//   - ErrUnauthorized: the token is missing, invalid or expired (401/403).
//   - *APIError: the server understood and refused the request (other 4xx).
//     Retrying the same request will fail the same way.
package client
