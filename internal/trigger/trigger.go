package trigger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/metrics"
)

// Defaults
const (
	DefaultThreshold = 200
	DefaultRate      = 4
)

var log = logging.For("trigger")

// Loader is what the trigger drives. ImagesLoaded reports whether the view
// has no outstanding placeholders. BeginLoadMore claims the loader's own
// gate synchronously; when ok, run performs the load and must be called.
type Loader interface {
	BeginLoadMore() (run func(context.Context) (bool, error), ok bool)
	ImagesLoaded() bool
}

// Viewport describes one scroll observation, in pixels.
type Viewport struct {
	// ScrollTop is the scroll offset of the top of the viewport.
	ScrollTop float64
	// Height is the viewport height.
	Height float64
	// ContentHeight is the full scrollable height. The sentinel sits at
	// its end.
	ContentHeight float64
}

// SentinelDistance is how far below the viewport's bottom edge the
// sentinel is. It is zero or negative once the sentinel is visible.
func (v Viewport) SentinelDistance() float64 {
	return v.ContentHeight - (v.ScrollTop + v.Height)
}

// Options configures a Trigger.
type Options struct {
	// Threshold is the distance at which the sentinel counts as near.
	Threshold float64
	// Rate caps how many load-more requests may fire per second.
	Rate float64
}

// Trigger fires a load-more when the user scrolls down to within Threshold
// of the sentinel and the view is fully loaded. The load runs in the
// background under the context given to Attach.
type Trigger struct {
	loader    Loader
	threshold float64
	limiter   *rate.Limiter

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	attached bool
	lastTop  float64
	seen     bool

	wg sync.WaitGroup
}

// New creates a detached Trigger.
func New(loader Loader, opts Options) *Trigger {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	return &Trigger{
		loader:    loader,
		threshold: opts.Threshold,
		limiter:   rate.NewLimiter(rate.Limit(opts.Rate), 1),
	}
}

// Attach starts accepting observations. Load-more requests fired from now
// on are cancelled when ctx is done or Detach is called. Attaching an
// attached trigger is a no-op.
func (t *Trigger) Attach(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.attached {
		return
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.attached = true
	t.seen = false
	log.Debug("attached (threshold %.0fpx, %.1f/s)", t.threshold, float64(t.limiter.Limit()))
}

// Detach stops accepting observations, cancels any load-more it fired and
// waits for it to return.
func (t *Trigger) Detach() {
	t.mu.Lock()
	if !t.attached {
		t.mu.Unlock()
		return
	}
	t.attached = false
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()
	log.Debug("detached")
}

// Attached reports whether the trigger is accepting observations.
func (t *Trigger) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attached
}

// Observe evaluates one scroll observation and reports whether it fired a
// load-more.
func (t *Trigger) Observe(v Viewport) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.attached {
		return t.outcome("detached")
	}

	upward := t.seen && v.ScrollTop < t.lastTop
	t.lastTop = v.ScrollTop
	t.seen = true

	switch {
	case upward:
		return t.outcome("upward")
	case v.SentinelDistance() > t.threshold:
		return t.outcome("far")
	case !t.loader.ImagesLoaded():
		return t.outcome("loading")
	case !t.limiter.AllowN(time.Now(), 1):
		return t.outcome("throttled")
	}

	// A second observation racing the first may still get here; the claim
	// is what decides.
	run, ok := t.loader.BeginLoadMore()
	if !ok {
		return t.outcome("loading")
	}

	ctx := t.ctx
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		started, err := run(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn("load more failed: %v", err)
			return
		}
		if !started {
			log.Debug("load more was gated by the controller")
		}
	}()

	metrics.ScrollEventsTotal.WithLabelValues("fired").Inc()
	return true
}

func (t *Trigger) outcome(label string) bool {
	metrics.ScrollEventsTotal.WithLabelValues(label).Inc()
	return false
}
