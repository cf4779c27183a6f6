// Package handlers serves the gallery agent's local view API.
//
// A thin UI polls the view state and reports what the user does; the agent
// owns everything else. The [Session] holds the current gallery controller
// and the two cache stores under it, rebuilding the controller on each
// mount and tearing everything down on logout.
//
// Routes:
//
//	GET  /api/gallery             current view state (images, placeholders, state)
//	POST /api/gallery/mount       start a fresh gallery session
//	POST /api/gallery/scroll      viewport report {scroll_top, height, content_height}
//	POST /api/gallery/load-more   request the next page and wait for it
//	POST /api/upload              multipart "files" field, one or more images
//	GET  /api/images/{name}       full-resolution record for the viewer
//	POST /api/login               {email, password}
//	POST /api/logout              end the session and delete both caches (409 if blocked)
//	GET  /api/version             build information
//	GET  /health, /livez, /readyz health checks
//
// Responses carry the gallery session id in the X-Gallery-Session header
// where one applies. Metrics are served separately by [MetricsHandler].
package handlers
