package gallery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/cache"
	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/stream"
)

const testBoundary = "--gallery-test-boundary"

// countReply configures one count endpoint.
type countReply struct {
	n         int
	noContent bool
	// drop closes the connection without a response.
	drop bool
}

// fakeBackend simulates the gallery backend.
type fakeBackend struct {
	t *testing.T

	mu            sync.Mutex
	authorized    bool
	initialCount  countReply
	loadMoreCount countReply
	initial       []mediatypes.ImageRecord
	loadMore      []mediatypes.ImageRecord
	streamStatus  int
	// latency is slept before each part is written.
	latency time.Duration
	// pauseAfterFirst, when set, is waited on after the first part.
	pauseAfterFirst chan struct{}
	singles         map[string]mediatypes.ImageRecord

	initialStreams  atomic.Int32
	loadMoreStreams atomic.Int32
	countRequests   atomic.Int32
	singleRequests  atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{t: t, authorized: true, singles: map[string]mediatypes.ImageRecord{}}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	routes := api.DefaultRoutes()

	mux.HandleFunc(routes.AuthContext, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		ok := f.authorized
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Not authenticated"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	mux.HandleFunc(routes.ImageCount, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		reply := f.initialCount
		f.mu.Unlock()
		f.writeCount(w, reply)
	})
	mux.HandleFunc(routes.LoadMoreCount, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		reply := f.loadMoreCount
		f.mu.Unlock()
		f.writeCount(w, reply)
	})
	mux.HandleFunc(routes.InitialGallery, func(w http.ResponseWriter, r *http.Request) {
		f.initialStreams.Add(1)
		f.mu.Lock()
		records := f.initial
		f.mu.Unlock()
		f.writeStream(w, r, records)
	})
	mux.HandleFunc(routes.LoadMoreGallery, func(w http.ResponseWriter, r *http.Request) {
		f.loadMoreStreams.Add(1)
		f.mu.Lock()
		records := f.loadMore
		f.mu.Unlock()
		f.writeStream(w, r, records)
	})
	mux.HandleFunc(routes.SingleImage, func(w http.ResponseWriter, r *http.Request) {
		f.singleRequests.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		rec, ok := f.singles[body["file_name"]]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No such image"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": rec})
	})
	return mux
}

func (f *fakeBackend) writeCount(w http.ResponseWriter, reply countReply) {
	f.countRequests.Add(1)
	switch {
	case reply.drop:
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	case reply.noContent:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, map[string]int{"image_count": reply.n})
	}
}

func (f *fakeBackend) writeStream(w http.ResponseWriter, r *http.Request, records []mediatypes.ImageRecord) {
	f.mu.Lock()
	status := f.streamStatus
	latency := f.latency
	pause := f.pauseAfterFirst
	f.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"message": "stream failed"})
		return
	}

	w.Header().Set(stream.BoundaryHeader, testBoundary)
	flusher := w.(http.Flusher)
	_, _ = io.WriteString(w, testBoundary)
	flusher.Flush()

	for i, rec := range records {
		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}
		_, _ = io.WriteString(w, encodePart(rec))
		flusher.Flush()

		if i == 0 && pause != nil {
			select {
			case <-pause:
			case <-r.Context().Done():
				return
			}
		}
	}
	_, _ = io.WriteString(w, "--\r\n")
}

func encodePart(rec mediatypes.ImageRecord) string {
	return fmt.Sprintf("\r\nContent-Disposition: form-data; name=\"file\"; filename=%q\r\nContent-Type: %s\r\n\r\n%s\r\n%s",
		rec.FileName, rec.Type, rec.Data, testBoundary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func img(name string) mediatypes.ImageRecord {
	return mediatypes.NewImageRecord(name, "image/webp", []byte("bytes-of-"+name))
}

func imgs(names ...string) []mediatypes.ImageRecord {
	out := make([]mediatypes.ImageRecord, len(names))
	for i, n := range names {
		out[i] = img(n)
	}
	return out
}

type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNavigator) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) Routes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.routes...)
}

type harness struct {
	backend *fakeBackend
	client  *api.Client
	thumbs  *cache.Store
	views   *cache.Store
	nav     *recordingNavigator
	ctrl    *Controller
}

func newHarness(t *testing.T, backend *fakeBackend) *harness {
	t.Helper()
	return newHarnessWith(t, backend, Options{RedirectDelay: 100 * time.Millisecond})
}

func newHarnessWith(t *testing.T, backend *fakeBackend, opts Options) *harness {
	t.Helper()

	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	client, err := api.New(api.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	dir := t.TempDir()
	thumbs, err := cache.OpenThumbnails(context.Background(), dir)
	require.NoError(t, err)
	views, err := cache.OpenViews(context.Background(), dir)
	require.NoError(t, err)

	nav := &recordingNavigator{}
	ctrl := New(Deps{
		Backend:    client,
		Streams:    stream.NewClient(client.StreamHTTPClient()),
		Thumbnails: thumbs,
		Views:      views,
		Navigator:  nav,
	}, opts)

	t.Cleanup(func() {
		ctrl.Unmount()
		_ = thumbs.Close()
		_ = views.Close()
	})

	return &harness{backend: backend, client: client, thumbs: thumbs, views: views, nav: nav, ctrl: ctrl}
}

func (h *harness) cached(t *testing.T) []string {
	t.Helper()
	records, err := h.thumbs.ReadAll(context.Background())
	require.NoError(t, err)
	return mediatypes.FileNames(records)
}
