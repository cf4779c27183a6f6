package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/cache"
	"pikoshi-gallery/internal/gallery"
	"pikoshi-gallery/internal/media"
	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/middleware"
	"pikoshi-gallery/internal/stream"
	"pikoshi-gallery/internal/trigger"
	"pikoshi-gallery/internal/upload"
)

const testBoundary = "--agent-test-boundary"

// backend simulates the remote gallery service.
type backend struct {
	mu         sync.Mutex
	authorized bool
	count      int
	moreCount  int
	initial    []mediatypes.ImageRecord
	more       []mediatypes.ImageRecord
	singles    map[string]mediatypes.ImageRecord
	uploads    []string
	logouts    int
}

func newBackend() *backend {
	return &backend{authorized: true, singles: map[string]mediatypes.ImageRecord{}}
}

func (b *backend) handler() http.Handler {
	routes := api.DefaultRoutes()
	m := http.NewServeMux()

	m.HandleFunc(routes.AuthContext, func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		ok := b.authorized
		b.mu.Unlock()
		if !ok {
			reply(w, http.StatusUnauthorized, map[string]string{"message": "Not authenticated"})
			return
		}
		reply(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	m.HandleFunc(routes.ImageCount, func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		reply(w, http.StatusOK, map[string]int{"image_count": b.count})
	})
	m.HandleFunc(routes.LoadMoreCount, func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		reply(w, http.StatusOK, map[string]int{"image_count": b.moreCount})
	})
	m.HandleFunc(routes.InitialGallery, func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		records := b.initial
		b.mu.Unlock()
		writeStream(w, records)
	})
	m.HandleFunc(routes.LoadMoreGallery, func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		records := b.more
		b.mu.Unlock()
		writeStream(w, records)
	})
	m.HandleFunc(routes.SingleImage, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		rec, ok := b.singles[body["file_name"]]
		b.mu.Unlock()
		if !ok {
			reply(w, http.StatusNotFound, map[string]string{"message": "No such image"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"data": rec})
	})
	m.HandleFunc(routes.Upload, func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			reply(w, http.StatusBadRequest, map[string]string{"message": "no file"})
			return
		}
		b.mu.Lock()
		b.uploads = append(b.uploads, header.Filename)
		b.mu.Unlock()
		reply(w, http.StatusOK, map[string]string{"message": "Uploaded"})
	})
	m.HandleFunc(routes.EmailLogin, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ada@example.com" || body["password"] != "hunter2" {
			reply(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
			return
		}
		b.mu.Lock()
		b.authorized = true
		b.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "t0k3n", Path: "/"})
		reply(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	m.HandleFunc(routes.Logout, func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		b.logouts++
		b.authorized = false
		b.mu.Unlock()
		reply(w, http.StatusOK, map[string]string{"message": "bye"})
	})
	return m
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStream(w http.ResponseWriter, records []mediatypes.ImageRecord) {
	w.Header().Set(stream.BoundaryHeader, testBoundary)
	_, _ = io.WriteString(w, testBoundary)
	for _, rec := range records {
		_, _ = fmt.Fprintf(w, "\r\nContent-Disposition: form-data; name=\"file\"; filename=%q\r\nContent-Type: %s\r\n\r\n%s\r\n%s",
			rec.FileName, rec.Type, rec.Data, testBoundary)
	}
	_, _ = io.WriteString(w, "--\r\n")
}

func img(name string) mediatypes.ImageRecord {
	return mediatypes.NewImageRecord(name, "image/webp", []byte("bytes-of-"+name))
}

// passthroughCompressor renames to .webp without touching the bytes.
type passthroughCompressor struct{}

func (passthroughCompressor) Compress(_ context.Context, name string, raw []byte) (media.Compressed, error) {
	return media.Compressed{
		FileName:    mediatypes.ReplaceExt(name, ".webp"),
		ContentType: "image/webp",
		Data:        raw,
	}, nil
}

type agent struct {
	backend *backend
	dir     string
	session *Session
	router  *mux.Router
}

func newAgent(t *testing.T, b *backend) *agent {
	t.Helper()

	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	client, err := api.New(api.Config{BaseURL: srv.URL, SessionFile: dir + "/session.json"})
	require.NoError(t, err)

	pipeline := upload.NewPipeline(passthroughCompressor{}, client, upload.Options{})
	t.Cleanup(pipeline.Close)

	session := NewSession(SessionConfig{
		DataDir: dir,
		Auth:    client,
		Uploads: pipeline.Events(),
		NewController: func(thumbs, views *cache.Store, nav gallery.Navigator) *gallery.Controller {
			return gallery.New(gallery.Deps{
				Backend:    client,
				Streams:    stream.NewClient(client.StreamHTTPClient()),
				Thumbnails: thumbs,
				Views:      views,
				Navigator:  nav,
			}, gallery.Options{
				RedirectDelay: 50 * time.Millisecond,
				Scroll:        trigger.Options{Threshold: 200, Rate: 100},
			})
		},
	})
	t.Cleanup(func() { _ = session.Close() })

	router := mux.NewRouter()
	New(session, pipeline, Config{}).Register(router)

	return &agent{backend: b, dir: dir, session: session, router: router}
}

func (a *agent) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// view fetches the current view state. It is polled from Eventually, so it
// reports failures as a zero view rather than stopping the test.
func (a *agent) view(t *testing.T) gallery.ViewState {
	w := a.do(t, http.MethodGet, "/api/gallery", http.NoBody, "")
	var view gallery.ViewState
	if w.Code != http.StatusOK {
		return view
	}
	_ = json.Unmarshal(w.Body.Bytes(), &view)
	return view
}

func (a *agent) mountReady(t *testing.T) gallery.ViewState {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/gallery/mount", http.NoBody, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	var view gallery.ViewState
	require.Eventually(t, func() bool {
		view = a.view(t)
		return view.ImagesLoaded
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, contentType := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte("raw-" + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestGalleryBeforeMount(t *testing.T) {
	a := newAgent(t, newBackend())

	w := a.do(t, http.MethodGet, "/api/gallery", http.NoBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = a.do(t, http.MethodPost, "/api/gallery/load-more", http.NoBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMountStreamsInitialGallery(t *testing.T) {
	b := newBackend()
	b.count = 2
	b.initial = []mediatypes.ImageRecord{img("a.webp"), img("b.webp")}
	a := newAgent(t, b)

	view := a.mountReady(t)
	assert.Equal(t, []string{"a.webp", "b.webp"}, view.FileNames())
	assert.Equal(t, gallery.StateReady, view.State)
	assert.Empty(t, view.Placeholders)

	w := a.do(t, http.MethodGet, "/api/gallery", http.NoBody, "")
	assert.Equal(t, view.SessionID, w.Header().Get(middleware.SessionHeader))

	thumbs, _ := a.session.Stores()
	require.NotNil(t, thumbs)
	cached, err := thumbs.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.webp", "b.webp"}, mediatypes.FileNames(cached))
}

func TestScrollTriggersLoadMore(t *testing.T) {
	b := newBackend()
	b.count = 1
	b.initial = []mediatypes.ImageRecord{img("a.webp")}
	a := newAgent(t, b)
	a.mountReady(t)

	b.mu.Lock()
	b.moreCount = 1
	b.more = []mediatypes.ImageRecord{img("c.webp")}
	b.mu.Unlock()

	far, _ := json.Marshal(viewportRequest{ScrollTop: 0, Height: 600, ContentHeight: 5000})
	w := a.do(t, http.MethodPost, "/api/gallery/scroll", bytes.NewReader(far), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"fired":false}`, w.Body.String())

	// The trigger attaches just after the view turns ready.
	near, _ := json.Marshal(viewportRequest{ScrollTop: 4300, Height: 600, ContentHeight: 5000})
	require.Eventually(t, func() bool {
		w := a.do(t, http.MethodPost, "/api/gallery/scroll", bytes.NewReader(near), "application/json")
		return w.Code == http.StatusOK && w.Body.String() == "{\"fired\":true}\n"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		v := a.view(t)
		return v.ImagesLoaded && len(v.Images) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a.webp", "c.webp"}, a.view(t).FileNames())
}

func TestScrollRejectsBadViewport(t *testing.T) {
	a := newAgent(t, newBackend())

	w := a.do(t, http.MethodPost, "/api/gallery/scroll", bytes.NewBufferString("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/gallery/scroll", bytes.NewBufferString(`{"height":-1}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoadMoreEndpoint(t *testing.T) {
	b := newBackend()
	b.count = 1
	b.initial = []mediatypes.ImageRecord{img("a.webp")}
	a := newAgent(t, b)
	a.mountReady(t)

	b.mu.Lock()
	b.moreCount = 2
	b.more = []mediatypes.ImageRecord{img("b.webp"), img("c.webp")}
	b.mu.Unlock()

	w := a.do(t, http.MethodPost, "/api/gallery/load-more", http.NoBody, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp loadMoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Started)
	assert.Equal(t, []string{"a.webp", "b.webp", "c.webp"}, resp.View.FileNames())
	assert.True(t, resp.View.ImagesLoaded)

	b.mu.Lock()
	b.moreCount = 0
	b.mu.Unlock()

	w = a.do(t, http.MethodPost, "/api/gallery/load-more", http.NoBody, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Started)
}

func TestUploadReachesGallery(t *testing.T) {
	b := newBackend()
	b.count = 1
	b.initial = []mediatypes.ImageRecord{img("a.webp")}
	a := newAgent(t, b)
	a.mountReady(t)

	body, contentType := multipartBody(t, map[string]string{"holiday.png": "image/png"})
	w := a.do(t, http.MethodPost, "/api/upload", body, contentType)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Uploaded)
	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Results[0].Record)
	assert.Equal(t, "holiday.webp", resp.Results[0].Record.FileName)

	assert.Eventually(t, func() bool {
		names := a.view(t).FileNames()
		return len(names) == 2 && names[0] == "holiday.webp"
	}, 5*time.Second, 10*time.Millisecond)

	b.mu.Lock()
	assert.Equal(t, []string{"holiday.webp"}, b.uploads)
	b.mu.Unlock()
}

type stubUploader struct {
	results []upload.Result
}

func (s stubUploader) Upload(context.Context, []upload.File) ([]upload.Result, error) {
	return s.results, nil
}

func TestUploadReportsUnpublishedRecordAsFailed(t *testing.T) {
	stored := img("late.webp")
	h := New(nil, stubUploader{results: []upload.Result{{
		File:   "late.png",
		Record: stored,
		Err:    fmt.Errorf("%w: %w", upload.ErrNotPublished, context.DeadlineExceeded),
	}}}, Config{})

	body, contentType := multipartBody(t, map[string]string{"late.png": "image/png"})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.Upload(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Uploaded)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Results[0].Record, "the backend already stored it")
	assert.Equal(t, "late.webp", resp.Results[0].Record.FileName)
	assert.Contains(t, resp.Results[0].Error, "not added to the gallery")
}

func TestUploadRejectsNonImages(t *testing.T) {
	a := newAgent(t, newBackend())

	body, contentType := multipartBody(t, map[string]string{"notes.txt": "text/plain"})
	w := a.do(t, http.MethodPost, "/api/upload", body, contentType)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Failed)
	assert.Contains(t, resp.Results[0].Error, "not an image")

	a.backend.mu.Lock()
	assert.Empty(t, a.backend.uploads)
	a.backend.mu.Unlock()
}

func TestUploadWithoutFiles(t *testing.T) {
	a := newAgent(t, newBackend())

	body, contentType := multipartBody(t, map[string]string{})
	w := a.do(t, http.MethodPost, "/api/upload", body, contentType)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/upload", bytes.NewBufferString("plain"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetImage(t *testing.T) {
	b := newBackend()
	b.singles["full.webp"] = img("full.webp")
	a := newAgent(t, b)
	a.mountReady(t)

	w := a.do(t, http.MethodGet, "/api/images/full.webp", http.NoBody, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]mediatypes.ImageRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, img("full.webp"), body["data"])

	_, views := a.session.Stores()
	_, found, err := views.Get(context.Background(), "full.webp")
	require.NoError(t, err)
	assert.True(t, found)

	w = a.do(t, http.MethodGet, "/api/images/missing.webp", http.NoBody, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestLogoutDeletesCaches(t *testing.T) {
	b := newBackend()
	b.count = 1
	b.initial = []mediatypes.ImageRecord{img("a.webp")}
	a := newAgent(t, b)
	a.mountReady(t)

	w := a.do(t, http.MethodPost, "/api/logout", http.NoBody, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, name := range []string{cache.ThumbnailsStore, cache.ViewsStore} {
		_, err := os.Stat(cache.Path(a.dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}

	b.mu.Lock()
	assert.Equal(t, 1, b.logouts)
	b.mu.Unlock()

	w = a.do(t, http.MethodGet, "/api/gallery", http.NoBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLogoutBlockedByOpenConnection(t *testing.T) {
	b := newBackend()
	a := newAgent(t, b)
	a.mountReady(t)

	other, err := cache.OpenThumbnails(context.Background(), a.dir)
	require.NoError(t, err)
	defer other.Close()

	w := a.do(t, http.MethodPost, "/api/logout", http.NoBody, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin(t *testing.T) {
	b := newBackend()
	b.authorized = false
	a := newAgent(t, b)

	w := a.do(t, http.MethodPost, "/api/login", bytes.NewBufferString(`{"email":"ada@example.com"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/login",
		bytes.NewBufferString(`{"email":"ada@example.com","password":"wrong"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, http.MethodPost, "/api/login",
		bytes.NewBufferString(`{"email":"ada@example.com","password":"hunter2"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Eventually(t, func() bool {
		v := a.view(t)
		return v.Authenticated && v.ImagesLoaded
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUnauthenticatedMountNavigatesAway(t *testing.T) {
	b := newBackend()
	b.authorized = false
	a := newAgent(t, b)

	w := a.do(t, http.MethodPost, "/api/gallery/mount", http.NoBody, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool {
		v := a.view(t)
		return v.State == gallery.StateUnmounted && v.Redirect == gallery.RootRoute
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	b := newBackend()
	a := newAgent(t, b)

	w := a.do(t, http.MethodGet, "/health", http.NoBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, statusStarting, health.Status)
	assert.Equal(t, "not_mounted", health.State)

	w = a.do(t, http.MethodGet, "/readyz", http.NoBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	a.mountReady(t)

	w = a.do(t, http.MethodGet, "/health", http.NoBody, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, statusHealthy, health.Status)
	assert.True(t, health.Authenticated)
	assert.NotEmpty(t, health.SessionID)

	w = a.do(t, http.MethodGet, "/readyz", http.NoBody, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodHead, "/livez", http.NoBody, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVersion(t *testing.T) {
	a := newAgent(t, newBackend())

	w := a.do(t, http.MethodGet, "/api/version", http.NoBody, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version"`)
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
}

func TestSessionStats(t *testing.T) {
	b := newBackend()
	b.count = 1
	b.initial = []mediatypes.ImageRecord{img("a.webp")}
	a := newAgent(t, b)

	assert.Equal(t, string(gallery.StateUnmounted), a.session.GetStats().State)

	a.mountReady(t)
	stats := a.session.GetStats()
	assert.Equal(t, string(gallery.StateReady), stats.State)
	assert.Equal(t, 1, stats.ViewRecords)
	assert.Zero(t, stats.Placeholders)
}
