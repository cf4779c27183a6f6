package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type savedSession struct {
	Backend string        `json:"backend"`
	Cookies []savedCookie `json:"cookies"`
}

// HasSession reports whether the jar holds any cookie for the backend.
func (c *Client) HasSession() bool {
	return len(c.jar.Cookies(c.base)) > 0
}

func (c *Client) loadSession() error {
	if c.sessionFile == "" {
		return nil
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	raw, err := os.ReadFile(c.sessionFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var s savedSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if s.Backend != c.base.String() {
		log.Debug("Ignoring session saved for %s", s.Backend)
		return nil
	}

	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for _, sc := range s.Cookies {
		cookies = append(cookies, &http.Cookie{Name: sc.Name, Value: sc.Value, Path: "/"})
	}
	c.jar.SetCookies(c.base, cookies)
	log.Debug("Restored %d session cookie(s)", len(cookies))
	return nil
}

func (c *Client) saveSession() error {
	if c.sessionFile == "" {
		return nil
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	s := savedSession{Backend: c.base.String()}
	for _, ck := range c.jar.Cookies(c.base) {
		s.Cookies = append(s.Cookies, savedCookie{Name: ck.Name, Value: ck.Value})
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.sessionFile), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := c.sessionFile + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, c.sessionFile); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (c *Client) clearSession() error {
	// Expire every cookie the jar holds for the backend.
	var expired []*http.Cookie
	for _, ck := range c.jar.Cookies(c.base) {
		expired = append(expired, &http.Cookie{Name: ck.Name, Path: "/", MaxAge: -1})
	}
	if len(expired) > 0 {
		c.jar.SetCookies(c.base, expired)
	}

	if c.sessionFile == "" {
		return nil
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if err := os.Remove(c.sessionFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
