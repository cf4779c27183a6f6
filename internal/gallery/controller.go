package gallery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/metrics"
	"pikoshi-gallery/internal/stream"
	"pikoshi-gallery/internal/trigger"
)

const (
	// DefaultRedirectDelay is how long an unauthenticated view waits
	// before navigating to the root route.
	DefaultRedirectDelay = 3 * time.Second

	// RootRoute is where unauthenticated users are sent.
	RootRoute = "/"

	// Bound on cache writes made after the mount context is gone.
	detachedWriteTimeout = 5 * time.Second

	loadErrorMessage = "An error occurred while trying to retrieve your gallery"
)

var (
	// ErrUnmounted is returned by operations on an unmounted controller.
	ErrUnmounted = errors.New("gallery is unmounted")

	// ErrAlreadyMounted is returned by a second Mount.
	ErrAlreadyMounted = errors.New("gallery is already mounted")
)

var log = logging.For("gallery")

// Backend is the part of the backend client the controller uses.
type Backend interface {
	CheckAuth(ctx context.Context) error
	ImageCount(ctx context.Context, phase mediatypes.Phase) api.CountResult
	GalleryURL(phase mediatypes.Phase) string
	FetchSingle(ctx context.Context, fileName string) (mediatypes.ImageRecord, error)
}

// Store is the thumbnail cache.
type Store interface {
	BulkInsert(ctx context.Context, records []mediatypes.ImageRecord) (int, error)
	ReadAll(ctx context.Context) ([]mediatypes.ImageRecord, error)
	Clear(ctx context.Context) error
}

// ViewStore caches full-resolution images by file name.
type ViewStore interface {
	Get(ctx context.Context, fileName string) (mediatypes.ImageRecord, bool, error)
	Put(ctx context.Context, rec mediatypes.ImageRecord) error
}

// Navigator moves the user to another route.
type Navigator interface {
	Navigate(route string)
}

// Deps are the controller's collaborators. Views and Navigator are
// optional.
type Deps struct {
	Backend    Backend
	Streams    *stream.Client
	Thumbnails Store
	Views      ViewStore
	Navigator  Navigator
}

// Options tunes a Controller.
type Options struct {
	RedirectDelay time.Duration
	Scroll        trigger.Options
}

// Controller decides what the gallery displays and when it fetches more.
//
// At most one stream (initial or load-more) is in flight at a time. The
// load-more gate and every view mutation are guarded by mu; cache
// clear/rewrite cycles are serialised by cacheMu.
type Controller struct {
	deps Deps
	opts Options

	trigger *trigger.Trigger

	// base is cancelled by Unmount and bounds every operation.
	base   context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	sessionID     string
	authenticated bool
	images        []mediatypes.ImageRecord
	placeholders  placeholderList
	streaming     bool
	errMsg        string
	redirect      string
	// pending holds uploads that arrived before the first ready view.
	pending []mediatypes.ImageRecord

	cacheMu sync.Mutex

	// ops tracks Mount and LoadMore calls; bg tracks the redirect timer.
	ops sync.WaitGroup
	bg  sync.WaitGroup
}

// New creates an unmounted controller.
func New(deps Deps, opts Options) *Controller {
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}
	if deps.Streams == nil {
		deps.Streams = stream.NewClient(nil)
	}

	c := &Controller{
		deps:  deps,
		opts:  opts,
		state: StateUnauthenticated,
	}
	c.base, c.cancel = context.WithCancel(context.Background())
	c.trigger = trigger.New(c, opts.Scroll)
	metrics.SetControllerState(string(c.state))
	return c
}

// setState must be called with mu held.
func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	log.Debug("%s -> %s", c.state, s)
	c.state = s
	metrics.SetControllerState(string(s))
}

// scope derives a context cancelled by either ctx or Unmount.
func (c *Controller) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	scoped, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.base, cancel)
	return scoped, func() {
		stop()
		cancel()
	}
}

// Mount authenticates, then shows the cached gallery or streams the
// initial one. It blocks until the view is ready, the load fails, or the
// controller is unmounted. On authentication failure it schedules a
// redirect to the root route and returns an error wrapping
// api.ErrUnauthenticated (or the transport error).
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateUnmounted:
		c.mu.Unlock()
		return ErrUnmounted
	case StateUnauthenticated:
	default:
		c.mu.Unlock()
		return ErrAlreadyMounted
	}
	c.sessionID = uuid.NewString()
	c.setState(StateAuthenticating)
	c.ops.Add(1)
	c.mu.Unlock()
	defer c.ops.Done()

	ctx, cancel := c.scope(ctx)
	defer cancel()

	log.Info("Mounting gallery session %s", c.SessionID())

	if err := c.deps.Backend.CheckAuth(ctx); err != nil {
		if c.base.Err() != nil {
			return ErrUnmounted
		}
		c.scheduleRedirect(err)
		c.dropPending()
		return fmt.Errorf("gallery mount: %w", err)
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	cached, err := c.deps.Thumbnails.ReadAll(ctx)
	if err != nil {
		log.Warn("Cache read failed, loading from backend: %v", err)
		cached = nil
	}

	if len(cached) > 0 {
		c.mu.Lock()
		if c.state == StateUnmounted {
			c.mu.Unlock()
			return ErrUnmounted
		}
		c.setState(StateCacheHit)
		c.images = cached
		c.setState(StateReady)
		c.mu.Unlock()

		log.Info("Showing %d cached image(s)", len(cached))
		c.applyPending(ctx)
		c.trigger.Attach(c.base)
		return nil
	}

	count := c.deps.Backend.ImageCount(ctx, mediatypes.PhaseInitial)

	c.mu.Lock()
	if c.state == StateUnmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	if count.N() == 0 {
		// Empty and failed counts look the same to the user.
		c.setState(StateReady)
		c.mu.Unlock()
		log.Info("Nothing to load (%s)", count.Kind)
		c.applyPending(ctx)
		c.trigger.Attach(c.base)
		return nil
	}
	c.placeholders = newPlaceholders(count.N())
	c.streaming = true
	c.setState(StateStreamingInitial)
	c.mu.Unlock()

	err = c.runStream(ctx, mediatypes.PhaseInitial)
	if c.base.Err() != nil {
		return ErrUnmounted
	}
	c.applyPending(ctx)
	c.trigger.Attach(c.base)
	return err
}

// LoadMore streams the next page if the view is idle and fully loaded. It
// reports whether a stream was started; a gated call is a no-op returning
// false and no error.
func (c *Controller) LoadMore(ctx context.Context) (bool, error) {
	run, err := c.claimLoadMore()
	if run == nil {
		return false, err
	}
	return run(ctx)
}

// BeginLoadMore claims the load-more gate without waiting for the page.
// When ok is true the caller must call run exactly once; until it returns,
// every other LoadMore or BeginLoadMore is gated.
func (c *Controller) BeginLoadMore() (run func(context.Context) (bool, error), ok bool) {
	run, _ = c.claimLoadMore()
	return run, run != nil
}

// claimLoadMore moves the view to LoadingMore under mu and returns the rest
// of the load. It returns nil when the call is gated.
func (c *Controller) claimLoadMore() (func(context.Context) (bool, error), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUnmounted {
		return nil, ErrUnmounted
	}
	if !c.imagesLoadedLocked() {
		metrics.LoadMoreTotal.WithLabelValues("gated").Inc()
		log.Debug("load more ignored in state %s", c.state)
		return nil, nil
	}
	c.streaming = true
	c.errMsg = ""
	c.setState(StateLoadingMore)
	c.ops.Add(1)
	return c.loadMore, nil
}

// loadMore runs a claimed load-more to completion.
func (c *Controller) loadMore(ctx context.Context) (bool, error) {
	defer c.ops.Done()

	ctx, cancel := c.scope(ctx)
	defer cancel()

	count := c.deps.Backend.ImageCount(ctx, mediatypes.PhaseLoadMore)
	if count.N() == 0 {
		c.mu.Lock()
		c.streaming = false
		if c.state != StateUnmounted {
			c.setState(StateReady)
		}
		c.mu.Unlock()
		if c.base.Err() != nil {
			return false, ErrUnmounted
		}
		metrics.LoadMoreTotal.WithLabelValues("empty").Inc()
		log.Debug("load more: nothing new (%s)", count.Kind)
		return false, nil
	}

	c.mu.Lock()
	c.placeholders = newPlaceholders(count.N())
	c.mu.Unlock()
	metrics.LoadMoreTotal.WithLabelValues("started").Inc()

	// The cache has no append; it is cleared now and rewritten with the
	// whole view once the stream ends.
	c.cacheMu.Lock()
	if err := c.deps.Thumbnails.Clear(ctx); err != nil {
		log.Warn("Failed to clear cache before load more: %v", err)
	}
	c.cacheMu.Unlock()

	err := c.runStream(ctx, mediatypes.PhaseLoadMore)
	if c.base.Err() != nil {
		return true, ErrUnmounted
	}
	return true, err
}

// runStream consumes one stream into the view, persists the view and
// returns the controller to Ready. Placeholders and the streaming flag
// must already be set.
func (c *Controller) runStream(ctx context.Context, phase mediatypes.Phase) error {
	start := time.Now()
	received := 0

	streamErr := func() error {
		reader, err := c.deps.Streams.Open(ctx, phase, c.deps.Backend.GalleryURL(phase))
		if err != nil {
			return err
		}
		defer reader.Close()

		for rec, err := range reader.All() {
			if err != nil {
				return err
			}
			c.mu.Lock()
			if c.state == StateUnmounted {
				c.mu.Unlock()
				return ErrUnmounted
			}
			c.images = append(c.images, rec)
			c.placeholders = c.placeholders.shift()
			c.mu.Unlock()
			received++
		}
		return nil
	}()

	aborted := c.base.Err() != nil || errors.Is(streamErr, context.Canceled)

	c.mu.Lock()
	c.streaming = false
	if len(c.placeholders) > 0 {
		log.Debug("%s stream ended with %d placeholder(s) unfilled", phase, len(c.placeholders))
	}
	c.placeholders = nil
	if streamErr != nil && !aborted {
		c.errMsg = loadErrorMessage
	}
	if c.state != StateUnmounted {
		c.setState(StateReady)
	}
	c.mu.Unlock()

	c.persist(ctx, phase, aborted)

	switch {
	case aborted:
		log.Info("%s stream aborted after %d record(s)", phase, received)
	case streamErr != nil:
		log.Error("%s stream failed after %d record(s): %v", phase, received, streamErr)
	default:
		log.Info("%s stream delivered %d record(s) in %v", phase, received, time.Since(start).Round(time.Millisecond))
	}

	if streamErr != nil {
		return fmt.Errorf("%s stream: %w", phase, streamErr)
	}
	return nil
}

// persist writes the whole view into the cache. The initial population
// assumes an empty cache and only inserts; load-more rewrites it.
func (c *Controller) persist(ctx context.Context, phase mediatypes.Phase, detached bool) {
	if detached {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), detachedWriteTimeout)
		defer cancel()
	}

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.mu.Lock()
	view := slices.Clone(c.images)
	c.mu.Unlock()

	if phase == mediatypes.PhaseLoadMore {
		if err := c.deps.Thumbnails.Clear(ctx); err != nil {
			log.Warn("Failed to clear cache before rewrite: %v", err)
		}
	}
	if len(view) == 0 {
		return
	}
	if _, err := c.deps.Thumbnails.BulkInsert(ctx, view); err != nil {
		log.Warn("Failed to write %d record(s) to cache: %v", len(view), err)
	}
}

func (c *Controller) scheduleRedirect(cause error) {
	c.mu.Lock()
	c.authenticated = false
	c.setState(StateRedirecting)
	c.mu.Unlock()

	log.Warn("Not authenticated, redirecting to %s in %v: %v", RootRoute, c.opts.RedirectDelay, cause)

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		timer := time.NewTimer(c.opts.RedirectDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-c.base.Done():
			return
		}

		c.mu.Lock()
		c.redirect = RootRoute
		c.mu.Unlock()

		if c.deps.Navigator != nil {
			c.deps.Navigator.Navigate(RootRoute)
		}
	}()
}

// Unmount aborts any in-flight stream, detaches the scroll trigger and
// waits for running operations to finish. It is idempotent.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.state == StateUnmounted {
		c.mu.Unlock()
		return
	}
	c.setState(StateUnmounted)
	sessionID := c.sessionID
	c.mu.Unlock()

	c.cancel()
	// Mount may attach the trigger right up until it returns.
	c.ops.Wait()
	c.trigger.Detach()
	c.bg.Wait()

	log.Info("Gallery session %s unmounted", sessionID)
}

// SessionID identifies the current mount.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Observe forwards a scroll observation to the scroll trigger and reports
// whether it started a load-more.
func (c *Controller) Observe(v trigger.Viewport) bool {
	return c.trigger.Observe(v)
}

// ImagesLoaded reports whether the view is idle with no outstanding
// placeholders.
func (c *Controller) ImagesLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imagesLoadedLocked()
}

func (c *Controller) imagesLoadedLocked() bool {
	return c.state == StateReady && !c.streaming && len(c.placeholders) == 0
}

// Snapshot returns a copy of the current view.
func (c *Controller) Snapshot() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()

	images := slices.Clone(c.images)
	if images == nil {
		images = []mediatypes.ImageRecord{}
	}
	placeholders := c.placeholders.clone()
	if placeholders == nil {
		placeholders = []bool{}
	}

	return ViewState{
		SessionID:     c.sessionID,
		State:         c.state,
		Authenticated: c.authenticated,
		Images:        images,
		Placeholders:  placeholders,
		ImagesLoaded:  c.imagesLoadedLocked(),
		Error:         c.errMsg,
		Redirect:      c.redirect,
	}
}

// GetStats implements metrics.StatsProvider.
func (c *Controller) GetStats() metrics.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return metrics.Stats{
		ViewRecords:  len(c.images),
		Placeholders: len(c.placeholders),
		State:        string(c.state),
	}
}
