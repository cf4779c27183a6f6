package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/net/publicsuffix"

	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/metrics"
)

// Default timeout for non-streaming requests
const defaultTimeout = 30 * time.Second

var (
	// ErrUnauthenticated is returned when the backend rejects the session.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrUnexpectedStatus is returned for non-2xx responses that are not
	// authentication failures.
	ErrUnexpectedStatus = errors.New("unexpected backend status")
)

var log = logging.For("api")

// Routes holds the backend paths, resolved against the base URL.
type Routes struct {
	AuthContext     string
	ImageCount      string
	LoadMoreCount   string
	InitialGallery  string
	LoadMoreGallery string
	Upload          string
	SingleImage     string
	EmailLogin      string
	Logout          string
}

// DefaultRoutes returns the backend's standard routes.
func DefaultRoutes() Routes {
	return Routes{
		AuthContext:     "/auth/auth-context/",
		ImageCount:      "/gallery/image-count/",
		LoadMoreCount:   "/gallery/load-more-count/",
		InitialGallery:  "/gallery/default-gallery/",
		LoadMoreGallery: "/gallery/load-more/",
		Upload:          "/gallery/upload/",
		SingleImage:     "/gallery/default-single/",
		EmailLogin:      "/auth/email-login/",
		Logout:          "/auth/auth-logout/",
	}
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Routes  Routes

	// SessionFile persists the session cookies between runs. Empty
	// disables persistence.
	SessionFile string

	// Timeout bounds every request except gallery streams.
	Timeout time.Duration
}

// Client talks to the gallery backend. All requests share one cookie jar,
// so a session established by Login is used by every later call,
// including streams opened through StreamHTTPClient.
type Client struct {
	base   *url.URL
	routes Routes

	jar    *cookiejar.Jar
	http   *http.Client
	stream *http.Client

	sessionFile string
	sessionMu   sync.Mutex
}

// New creates a Client and restores any persisted session.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: missing scheme or host", cfg.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	routes := cfg.Routes
	if routes == (Routes{}) {
		routes = DefaultRoutes()
	}

	c := &Client{
		base:        base,
		routes:      routes,
		jar:         jar,
		http:        &http.Client{Jar: jar, Timeout: timeout},
		stream:      &http.Client{Jar: jar},
		sessionFile: cfg.SessionFile,
	}

	if err := c.loadSession(); err != nil {
		log.Warn("Could not restore session from %s: %v", cfg.SessionFile, err)
	}

	return c, nil
}

// Routes returns the configured routes.
func (c *Client) Routes() Routes {
	return c.routes
}

// URL resolves a route path against the backend base URL.
func (c *Client) URL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	return c.base.ResolveReference(ref).String()
}

// StreamHTTPClient returns an HTTP client that shares the session but has
// no overall timeout, for long-lived gallery streams.
func (c *Client) StreamHTTPClient() *http.Client {
	return c.stream
}

// GalleryURL returns the stream endpoint for a load phase.
func (c *Client) GalleryURL(phase mediatypes.Phase) string {
	if phase == mediatypes.PhaseLoadMore {
		return c.URL(c.routes.LoadMoreGallery)
	}
	return c.URL(c.routes.InitialGallery)
}

type messageBody struct {
	Message string `json:"message"`
}

// CheckAuth reports whether the current session is accepted. It returns
// nil when authenticated and an error wrapping ErrUnauthenticated when the
// backend answers with a non-2xx status.
func (c *Client) CheckAuth(ctx context.Context) error {
	resp, err := c.postJSON(ctx, c.routes.AuthContext, nil)
	if err != nil {
		metrics.AuthChecksTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("auth check: %w", err)
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		metrics.AuthChecksTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %s", ErrUnauthenticated, readMessage(resp))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	metrics.AuthChecksTotal.WithLabelValues("authenticated").Inc()
	return nil
}

// Login posts email credentials and persists the resulting session.
func (c *Client) Login(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("encode login: %w", err)
	}

	resp, err := c.postJSON(ctx, c.routes.EmailLogin, payload)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthenticated, readMessage(resp))
	case !success(resp.StatusCode):
		return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, readMessage(resp))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	log.Info("Logged in as %s", email)
	return c.saveSession()
}

// Logout ends the backend session and forgets the persisted cookies. The
// local session is dropped even if the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.postJSON(ctx, c.routes.Logout, nil)

	if clearErr := c.clearSession(); clearErr != nil {
		log.Warn("Failed to clear session: %v", clearErr)
	}

	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, readMessage(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SubmitResult is the backend's answer to an upload.
type SubmitResult struct {
	Message string
	// Record is set when the backend echoed the stored image.
	Record *mediatypes.ImageRecord
}

type submitBody struct {
	Message string                  `json:"message"`
	Data    *mediatypes.ImageRecord `json:"data"`
}

// Submit uploads one compressed image as the multipart field "file".
func (c *Client) Submit(ctx context.Context, fileName, contentType string, data []byte) (SubmitResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	header.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(header)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return SubmitResult{}, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return SubmitResult{}, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(c.routes.Upload), &buf)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("upload %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	var body submitBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil && success(resp.StatusCode) {
			return SubmitResult{}, fmt.Errorf("decode upload response: %w", err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrUnauthenticated, body.Message)
	case !success(resp.StatusCode):
		msg := body.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return SubmitResult{}, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, msg)
	}

	result := SubmitResult{Message: body.Message}
	if body.Data != nil && body.Data.Validate() == nil {
		result.Record = body.Data
	}
	return result, nil
}

// FetchSingle retrieves the full-resolution record for fileName.
func (c *Client) FetchSingle(ctx context.Context, fileName string) (mediatypes.ImageRecord, error) {
	payload, err := json.Marshal(map[string]string{"file_name": fileName})
	if err != nil {
		return mediatypes.ImageRecord{}, fmt.Errorf("encode single image request: %w", err)
	}

	resp, err := c.postJSON(ctx, c.routes.SingleImage, payload)
	if err != nil {
		return mediatypes.ImageRecord{}, fmt.Errorf("fetch %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return mediatypes.ImageRecord{}, fmt.Errorf("%w: %s", ErrUnauthenticated, readMessage(resp))
	case !success(resp.StatusCode):
		return mediatypes.ImageRecord{}, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, readMessage(resp))
	}

	var body submitBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return mediatypes.ImageRecord{}, fmt.Errorf("decode single image: %w", err)
	}
	if body.Data == nil {
		return mediatypes.ImageRecord{}, fmt.Errorf("%w: single image response has no data", ErrUnexpectedStatus)
	}
	if err := body.Data.Validate(); err != nil {
		return mediatypes.ImageRecord{}, fmt.Errorf("single image response: %w", err)
	}
	return *body.Data, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return c.http.Do(req)
}

func success(status int) bool {
	return status >= 200 && status <= 299
}

// readMessage extracts the backend's {message} field, falling back to the
// status text.
func readMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body messageBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return http.StatusText(resp.StatusCode)
}
