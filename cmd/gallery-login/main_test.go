package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/cache"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "correct-horse"
)

// fakeBackend accepts testEmail/testPassword and tracks one session cookie.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	routes := api.DefaultRoutes()
	mux := http.NewServeMux()

	mux.HandleFunc(routes.EmailLogin, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if body["email"] != testEmail || body["password"] != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid credentials"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})
	mux.HandleFunc(routes.AuthContext, func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"not authenticated"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})
	mux.HandleFunc(routes.Logout, func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "", Path: "/", MaxAge: -1})
		_, _ = w.Write([]byte(`{"message":"bye"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	cli    *cli
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	s      settings
}

func newHarness(t *testing.T, backendURL, stdin, password string) *harness {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return &harness{
		cli: &cli{
			stdin:  bufio.NewReader(strings.NewReader(stdin)),
			stdout: &stdout,
			stderr: &stderr,
			readPassword: func() ([]byte, error) {
				return []byte(password), nil
			},
		},
		stdout: &stdout,
		stderr: &stderr,
		s: settings{
			BackendURL: backendURL,
			DataDir:    t.TempDir(),
			Routes:     api.DefaultRoutes(),
		},
	}
}

func (h *harness) run(args ...string) int {
	return h.cli.run(context.Background(), args, h.s)
}

func TestPrintUsage(t *testing.T) {
	h := newHarness(t, "http://localhost:8000", "", "")
	h.cli.printUsage()

	out := h.stdout.String()
	for _, want := range []string{"Usage: gallery-login", "login [email]", "logout", "status", "BACKEND_URL", "DATA_DIR"} {
		assert.Contains(t, out, want)
	}
}

func TestRunNoArgs(t *testing.T) {
	h := newHarness(t, "http://localhost:8000", "", "")
	assert.Equal(t, 1, h.run())
	assert.Contains(t, h.stdout.String(), "Usage:")
}

func TestRunUnknownCommand(t *testing.T) {
	h := newHarness(t, "http://localhost:8000", "", "")
	assert.Equal(t, 1, h.run("rm -rf /"))
	assert.Contains(t, h.stderr.String(), "Unknown command: rm_-rf__")
}

func TestRunInvalidBackendURL(t *testing.T) {
	h := newHarness(t, "not-a-url", "", "")
	assert.Equal(t, 1, h.run("status"))
	assert.Contains(t, h.stderr.String(), "invalid backend url")
}

func TestSanitizeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"login", "login"},
		{"log-out_2", "log-out_2"},
		{"status;ls", "status_ls"},
		{"a\nb", "a_b"},
		{"", ""},
		{"héllo", "h_llo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeCommand(tt.in), "input %q", tt.in)
	}
}

func TestLoginWithArgument(t *testing.T) {
	srv := fakeBackend(t)
	h := newHarness(t, srv.URL, "", testPassword)

	require.Equal(t, 0, h.run("login", testEmail), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Logged in as "+testEmail)

	info, err := os.Stat(filepath.Join(h.s.DataDir, "session.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoginPromptsForEmail(t *testing.T) {
	srv := fakeBackend(t)
	h := newHarness(t, srv.URL, testEmail+"\n", testPassword)

	require.Equal(t, 0, h.run("login"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Email: ")
	assert.Contains(t, h.stdout.String(), "Password: ")
}

func TestLoginEmailWithoutNewline(t *testing.T) {
	srv := fakeBackend(t)
	h := newHarness(t, srv.URL, testEmail, testPassword)

	assert.Equal(t, 0, h.run("login"), h.stderr.String())
}

func TestLoginRejectsBadInput(t *testing.T) {
	srv := fakeBackend(t)

	t.Run("invalid email", func(t *testing.T) {
		h := newHarness(t, srv.URL, "", testPassword)
		assert.Equal(t, 1, h.run("login", "nobody"))
		assert.Contains(t, h.stderr.String(), "valid email")
	})

	t.Run("empty password", func(t *testing.T) {
		h := newHarness(t, srv.URL, "", "")
		assert.Equal(t, 1, h.run("login", testEmail))
		assert.Contains(t, h.stderr.String(), "password is required")
	})

	t.Run("password read error", func(t *testing.T) {
		h := newHarness(t, srv.URL, "", "")
		h.cli.readPassword = func() ([]byte, error) { return nil, errors.New("not a terminal") }
		assert.Equal(t, 1, h.run("login", testEmail))
		assert.Contains(t, h.stderr.String(), "not a terminal")
	})

	t.Run("wrong password", func(t *testing.T) {
		h := newHarness(t, srv.URL, "", "nope")
		assert.Equal(t, 1, h.run("login", testEmail))
		assert.Contains(t, h.stderr.String(), "invalid email or password")
		assert.NoFileExists(t, filepath.Join(h.s.DataDir, "session.json"))
	})
}

func TestStatus(t *testing.T) {
	srv := fakeBackend(t)
	h := newHarness(t, srv.URL, "", testPassword)

	require.Equal(t, 0, h.run("status"))
	assert.Contains(t, h.stdout.String(), "Not logged in")

	require.Equal(t, 0, h.run("login", testEmail), h.stderr.String())

	// A fresh client restores the saved session from disk.
	h.stdout.Reset()
	require.Equal(t, 0, h.run("status"))
	assert.Contains(t, h.stdout.String(), "Status: Logged in")
	assert.Contains(t, h.stdout.String(), "Backend: "+srv.URL)
}

func TestStatusBackendDown(t *testing.T) {
	srv := fakeBackend(t)
	h := newHarness(t, srv.URL, "", testPassword)
	require.Equal(t, 0, h.run("login", testEmail), h.stderr.String())

	srv.Close()
	assert.Equal(t, 1, h.run("status"))
	assert.Contains(t, h.stderr.String(), "backend unreachable")
}

func TestLogoutDeletesCaches(t *testing.T) {
	srv := fakeBackend(t)
	h := newHarness(t, srv.URL, "", testPassword)
	require.Equal(t, 0, h.run("login", testEmail), h.stderr.String())

	for _, open := range []func(context.Context, string) (*cache.Store, error){cache.OpenThumbnails, cache.OpenViews} {
		store, err := open(context.Background(), h.s.DataDir)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}
	require.FileExists(t, cache.Path(h.s.DataDir, cache.ThumbnailsStore))

	require.Equal(t, 0, h.run("logout"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Local caches deleted")
	assert.NoFileExists(t, cache.Path(h.s.DataDir, cache.ThumbnailsStore))
	assert.NoFileExists(t, cache.Path(h.s.DataDir, cache.ViewsStore))

	h.stdout.Reset()
	require.Equal(t, 0, h.run("status"))
	assert.Contains(t, h.stdout.String(), "Not logged in")
}

func TestLogoutBackendFailureStillCleansUp(t *testing.T) {
	srv := fakeBackend(t)
	h := newHarness(t, srv.URL, "", testPassword)
	require.Equal(t, 0, h.run("login", testEmail), h.stderr.String())
	srv.Close()

	assert.Equal(t, 0, h.run("logout"))
	assert.Contains(t, h.stderr.String(), "Warning: backend logout failed")
	assert.NoFileExists(t, filepath.Join(h.s.DataDir, "session.json"))
}

func TestLogoutRefusedWhileAgentHoldsDataDir(t *testing.T) {
	srv := fakeBackend(t)
	h := newHarness(t, srv.URL, "", testPassword)
	require.Equal(t, 0, h.run("login", testEmail), h.stderr.String())

	store, err := cache.OpenThumbnails(context.Background(), h.s.DataDir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	release, err := cache.LockDir(h.s.DataDir)
	require.NoError(t, err)
	defer release()

	assert.Equal(t, 1, h.run("logout"))
	assert.Contains(t, h.stderr.String(), "gallery-agent is running")
	assert.FileExists(t, cache.Path(h.s.DataDir, cache.ThumbnailsStore))
	assert.FileExists(t, filepath.Join(h.s.DataDir, "session.json"))
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://gallery.example.com")
	t.Setenv("DATA_DIR", "/tmp/pikoshi")
	t.Setenv("LOGOUT_PATH", "/auth/bye/")

	s := loadSettings()
	assert.Equal(t, "https://gallery.example.com", s.BackendURL)
	assert.Equal(t, "/tmp/pikoshi", s.DataDir)
	assert.Equal(t, "/auth/bye/", s.Routes.Logout)
	assert.Equal(t, api.DefaultRoutes().EmailLogin, s.Routes.EmailLogin)
}
