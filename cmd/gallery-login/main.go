package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/cache"

	"github.com/spf13/viper"
	"golang.org/x/term"
)

const (
	// Default timeout for backend calls
	defaultTimeout = 30 * time.Second
	// Defaults shared with gallery-agent
	defaultBackendURL = "http://localhost:8000"
	defaultDataDir    = "./data"
)

// cli carries the command's I/O so it can be driven from tests.
type cli struct {
	stdin        *bufio.Reader
	stdout       io.Writer
	stderr       io.Writer
	readPassword func() ([]byte, error)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	c := &cli{
		stdin:  bufio.NewReader(os.Stdin),
		stdout: os.Stdout,
		stderr: os.Stderr,
		readPassword: func() ([]byte, error) {
			return term.ReadPassword(syscall.Stdin)
		},
	}
	os.Exit(c.run(ctx, os.Args[1:], loadSettings()))
}

// settings are the subset of agent configuration the CLI needs.
type settings struct {
	BackendURL string
	DataDir    string
	Routes     api.Routes
}

func loadSettings() settings {
	v := viper.New()
	v.SetDefault("BACKEND_URL", defaultBackendURL)
	v.SetDefault("DATA_DIR", defaultDataDir)
	v.AutomaticEnv()

	routes := api.DefaultRoutes()
	if p := v.GetString("AUTH_CONTEXT_PATH"); p != "" {
		routes.AuthContext = p
	}
	if p := v.GetString("EMAIL_LOGIN_PATH"); p != "" {
		routes.EmailLogin = p
	}
	if p := v.GetString("LOGOUT_PATH"); p != "" {
		routes.Logout = p
	}

	return settings{
		BackendURL: v.GetString("BACKEND_URL"),
		DataDir:    v.GetString("DATA_DIR"),
		Routes:     routes,
	}
}

func (c *cli) run(ctx context.Context, args []string, s settings) int {
	if len(args) < 1 {
		c.printUsage()
		return 1
	}

	if err := os.MkdirAll(s.DataDir, 0o700); err != nil {
		fmt.Fprintf(c.stderr, "Error: cannot create data directory %s: %v\n", s.DataDir, err)
		return 1
	}

	client, err := api.New(api.Config{
		BaseURL:     s.BackendURL,
		Routes:      s.Routes,
		SessionFile: filepath.Join(s.DataDir, "session.json"),
		Timeout:     defaultTimeout,
	})
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var ok bool
	switch args[0] {
	case "login":
		ok = c.login(ctx, client, args[1:])
	case "logout":
		ok = c.logout(ctx, client, s.DataDir)
	case "status":
		ok = c.status(ctx, client, s.BackendURL)
	default:
		// Sanitize command input using allowlist to break taint chain
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", sanitizeCommand(args[0]))
		c.printUsage()
		return 1
	}
	if !ok {
		return 1
	}
	return 0
}

// sanitizeCommand replaces anything outside [a-zA-Z0-9_-] with '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (c *cli) printUsage() {
	fmt.Fprintln(c.stdout, "Pikoshi Gallery Login")
	fmt.Fprintln(c.stdout, "")
	fmt.Fprintln(c.stdout, "Usage: gallery-login <command>")
	fmt.Fprintln(c.stdout, "")
	fmt.Fprintln(c.stdout, "Commands:")
	fmt.Fprintln(c.stdout, "  login [email]  - Sign in with email and password")
	fmt.Fprintln(c.stdout, "  logout         - Sign out and delete the local caches")
	fmt.Fprintln(c.stdout, "  status         - Check whether the saved session is valid")
	fmt.Fprintln(c.stdout, "")
	fmt.Fprintln(c.stdout, "Environment:")
	fmt.Fprintf(c.stdout, "  BACKEND_URL - Gallery backend (default: %s)\n", defaultBackendURL)
	fmt.Fprintf(c.stdout, "  DATA_DIR    - Session and cache directory (default: %s)\n", defaultDataDir)
}

func (c *cli) login(ctx context.Context, client *api.Client, args []string) bool {
	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		fmt.Fprint(c.stdout, "Email: ")
		line, err := c.stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(c.stderr, "Error reading email: %v\n", err)
			return false
		}
		email = line
	}
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		fmt.Fprintln(c.stderr, "Error: a valid email address is required")
		return false
	}

	fmt.Fprint(c.stdout, "Password: ")
	password, err := c.readPassword()
	fmt.Fprintln(c.stdout)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error reading password: %v\n", err)
		return false
	}
	if len(password) == 0 {
		fmt.Fprintln(c.stderr, "Error: password is required")
		return false
	}

	if err := client.Login(ctx, email, string(password)); err != nil {
		if errors.Is(err, api.ErrUnauthenticated) {
			fmt.Fprintln(c.stderr, "Error: invalid email or password")
		} else {
			fmt.Fprintf(c.stderr, "Error: login failed: %v\n", err)
		}
		return false
	}

	fmt.Fprintf(c.stdout, "Logged in as %s.\n", email)
	fmt.Fprintln(c.stdout, "A running gallery-agent picks this up on its next mount.")
	return true
}

func (c *cli) logout(ctx context.Context, client *api.Client, dataDir string) bool {
	release, err := cache.LockDir(dataDir)
	if errors.Is(err, cache.ErrDirInUse) {
		fmt.Fprintln(c.stderr, "Error: gallery-agent is running on this data directory.")
		fmt.Fprintln(c.stderr, "Use its POST /api/logout, or stop it and try again.")
		return false
	}
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return false
	}
	defer release()

	if err := client.Logout(ctx); err != nil {
		fmt.Fprintf(c.stderr, "Warning: backend logout failed: %v\n", err)
	}

	if err := cache.DeleteAll(dataDir); err != nil {
		fmt.Fprintf(c.stderr, "Error: failed to delete caches: %v\n", err)
		return false
	}

	fmt.Fprintln(c.stdout, "Logged out. Local caches deleted.")
	return true
}

func (c *cli) status(ctx context.Context, client *api.Client, backendURL string) bool {
	fmt.Fprintf(c.stdout, "Backend: %s\n", backendURL)
	if !client.HasSession() {
		fmt.Fprintln(c.stdout, "Status: Not logged in (no saved session)")
		return true
	}

	switch err := client.CheckAuth(ctx); {
	case err == nil:
		fmt.Fprintln(c.stdout, "Status: Logged in")
	case errors.Is(err, api.ErrUnauthenticated):
		fmt.Fprintln(c.stdout, "Status: Session expired (run gallery-login login)")
	default:
		fmt.Fprintf(c.stderr, "Error: backend unreachable: %v\n", err)
		return false
	}
	return true
}
