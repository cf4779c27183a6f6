package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pikoshi-gallery/internal/metrics"

	"github.com/gorilla/mux"
)

// Surface groups view API routes by the part of the gallery they serve.
type Surface string

const (
	SurfaceGrid      Surface = "grid"
	SurfaceViewer    Surface = "viewer"
	SurfaceUpload    Surface = "upload"
	SurfaceAuth      Surface = "auth"
	SurfaceSystem    Surface = "system"
	SurfaceUnmatched Surface = "unmatched"
)

// unmatchedRoute labels requests that reach the middleware without a route.
const unmatchedRoute = "unmatched"

// MetricsConfig holds configuration for the metrics middleware
type MetricsConfig struct {
	// SkipSurfaces are not recorded at all.
	SkipSurfaces []Surface
}

// DefaultMetricsConfig skips health and version traffic.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SkipSurfaces: []Surface{SurfaceSystem},
	}
}

// Metrics returns a middleware that records view API traffic per gallery
// surface and route template. It must be installed with router.Use so the
// matched route is available.
//
// Requests are also split by whether the response carried SessionHeader,
// which handlers set only when they acted on a mounted gallery.
func Metrics(config MetricsConfig) func(http.Handler) http.Handler {
	skip := make(map[Surface]bool, len(config.SkipSurfaces))
	for _, s := range config.SkipSurfaces {
		skip[s] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeTemplate(r)
			surface := SurfaceFor(route)
			if skip[surface] {
				next.ServeHTTP(w, r)
				return
			}

			inFlight := metrics.HTTPRequestsInFlight.WithLabelValues(string(surface))
			inFlight.Inc()
			defer inFlight.Dec()

			if r.ContentLength > 0 {
				metrics.HTTPRequestBodyBytes.WithLabelValues(string(surface)).Observe(float64(r.ContentLength))
			}

			wrapped := newResponseWriter(w)
			start := time.Now()
			next.ServeHTTP(wrapped, r)

			mounted := strconv.FormatBool(wrapped.Header().Get(SessionHeader) != "")
			metrics.HTTPRequestsTotal.
				WithLabelValues(string(surface), route, r.Method, strconv.Itoa(wrapped.statusCode), mounted).
				Inc()
			metrics.HTTPRequestDuration.
				WithLabelValues(string(surface), route).
				Observe(time.Since(start).Seconds())
		})
	}
}

// routeTemplate returns the matched mux template, so /api/images/{name} is
// one label value however many images are opened.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return unmatchedRoute
}

// SurfaceFor maps a route template to its gallery surface.
func SurfaceFor(route string) Surface {
	switch {
	case route == unmatchedRoute:
		return SurfaceUnmatched
	case route == "/api/gallery" || strings.HasPrefix(route, "/api/gallery/"):
		return SurfaceGrid
	case strings.HasPrefix(route, "/api/images/"):
		return SurfaceViewer
	case route == "/api/upload":
		return SurfaceUpload
	case route == "/api/login" || route == "/api/logout":
		return SurfaceAuth
	case route == "/api/version" || healthCheckPaths[route]:
		return SurfaceSystem
	}
	return SurfaceUnmatched
}
