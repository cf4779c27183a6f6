package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pikoshi-gallery/internal/cache"
	"pikoshi-gallery/internal/gallery"
	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/metrics"
	"pikoshi-gallery/internal/upload"
)

var log = logging.For("handlers")

// ErrNotMounted is returned when no gallery controller exists yet.
var ErrNotMounted = errors.New("gallery not mounted")

// Auth is the part of the backend client the session uses to sign in and out.
type Auth interface {
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
}

// ControllerFactory builds a controller over the given stores.
type ControllerFactory func(thumbs, views *cache.Store, nav gallery.Navigator) *gallery.Controller

// SessionConfig configures a Session.
type SessionConfig struct {
	DataDir       string
	Auth          Auth
	NewController ControllerFactory
	// Uploads are applied to whichever controller is current.
	Uploads <-chan upload.Event
}

// Session owns the current gallery controller and the cache stores under it.
// A controller lives from one mount until the user navigates away or logs
// out; the next mount builds a fresh one.
type Session struct {
	cfg SessionConfig

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ctrl   *gallery.Controller
	thumbs *cache.Store
	views  *cache.Store
	closed bool

	wg sync.WaitGroup
}

// NewSession creates a Session. Nothing is opened until Start.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{cfg: cfg}
	s.base, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start opens the stores if needed, replaces any previous controller and
// mounts a new one in the background. The returned controller may still be
// authenticating.
func (s *Session) Start() (*gallery.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, gallery.ErrUnmounted
	}

	if s.ctrl != nil {
		s.ctrl.Unmount()
		s.ctrl = nil
	}

	if err := s.openStoresLocked(); err != nil {
		return nil, err
	}

	nav := &navigator{}
	ctrl := s.cfg.NewController(s.thumbs, s.views, nav)
	nav.ctrl = ctrl
	s.ctrl = ctrl

	if s.cfg.Uploads != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctrl.ListenUploads(s.base, s.cfg.Uploads)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := ctrl.Mount(s.base); err != nil && !errors.Is(err, gallery.ErrUnmounted) {
			log.Warn("Gallery mount failed: %v", err)
		}
	}()

	return ctrl, nil
}

func (s *Session) openStoresLocked() error {
	if s.thumbs != nil && s.views != nil {
		return nil
	}

	start := time.Now()
	thumbs, err := cache.OpenThumbnails(s.base, s.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open thumbnails cache: %w", err)
	}
	views, err := cache.OpenViews(s.base, s.cfg.DataDir)
	if err != nil {
		_ = thumbs.Close()
		return fmt.Errorf("open views cache: %w", err)
	}
	s.thumbs, s.views = thumbs, views
	log.Debug("Opened caches in %v", time.Since(start))
	return nil
}

// closeStoresLocked closes both stores, reporting the first error.
func (s *Session) closeStoresLocked() error {
	var errs []error
	if s.thumbs != nil {
		errs = append(errs, s.thumbs.Close())
	}
	if s.views != nil {
		errs = append(errs, s.views.Close())
	}
	s.thumbs, s.views = nil, nil
	return errors.Join(errs...)
}

// Current returns the current controller.
func (s *Session) Current() (*gallery.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return nil, ErrNotMounted
	}
	return s.ctrl, nil
}

// Stores returns the open cache stores, or nils after logout.
func (s *Session) Stores() (thumbs, views *cache.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thumbs, s.views
}

// GetStats implements metrics.StatsProvider for whichever controller is
// current. With none, the gallery counts as unmounted.
func (s *Session) GetStats() metrics.Stats {
	ctrl, err := s.Current()
	if err != nil {
		return metrics.Stats{State: string(gallery.StateUnmounted)}
	}
	return ctrl.GetStats()
}

// Login signs in and mounts a fresh gallery.
func (s *Session) Login(ctx context.Context, email, password string) (*gallery.Controller, error) {
	if err := s.cfg.Auth.Login(ctx, email, password); err != nil {
		return nil, err
	}
	return s.Start()
}

// Logout unmounts the gallery, closes both caches, ends the backend session
// and deletes both caches together. A delete refused because a store is
// still open is returned wrapping cache.ErrBlocked; a failed backend logout
// does not stop local cleanup.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctrl != nil {
		s.ctrl.Unmount()
		s.ctrl = nil
	}

	if err := s.closeStoresLocked(); err != nil {
		log.Warn("Closing caches before logout: %v", err)
	}

	backendErr := s.cfg.Auth.Logout(ctx)
	if backendErr != nil {
		log.Warn("Backend logout failed: %v", backendErr)
	}

	if err := cache.DeleteAll(s.cfg.DataDir); err != nil {
		return fmt.Errorf("delete caches: %w", err)
	}

	log.Info("Logged out, caches deleted")
	return nil
}

// Close unmounts the gallery and closes the stores. The caches are kept.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	ctrl := s.ctrl
	s.ctrl = nil
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.Unmount()
	}
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeStoresLocked()
}

// navigator leaves the gallery when the controller asks to go elsewhere,
// as the browser would on a route change. The requested route stays in the
// controller's view for the UI to follow.
type navigator struct {
	ctrl *gallery.Controller
}

func (n *navigator) Navigate(route string) {
	log.Info("Gallery navigated to %s, unmounting", route)
	// Navigate runs on the controller's own goroutine, which Unmount waits for.
	go n.ctrl.Unmount()
}
