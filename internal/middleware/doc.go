// Package middleware provides HTTP middleware for the gallery agent's local
// view API.
//
// It includes:
//   - Request logging in W3C Extended Log Format, with the gallery session id
//     as the last field and viewport reports skipped unless enabled
//   - Prometheus request metrics labelled by gallery surface and mux route
//     template, split by whether the request hit a mounted gallery
//   - gzip compression of large JSON responses such as gallery snapshots
package middleware
