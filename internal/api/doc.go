// Package api is the HTTP client for the gallery backend.
//
// Every call is a POST carrying the session cookie. The cookie jar is
// shared by all calls, including the long-lived gallery streams opened via
// [Client.StreamHTTPClient], and is persisted to a 0600 JSON file so a
// login survives restarts.
//
// The image count request returns a [CountResult] rather than a bare number.
// A 204 response and a failed request both give N() == 0, so callers that
// only size placeholder lists behave identically in both cases, while the
// Kind field still tells them apart for logging and metrics.
package api
