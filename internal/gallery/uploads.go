package gallery

import (
	"context"
	"fmt"
	"slices"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/upload"
)

// ApplyUpload puts a freshly uploaded record at the front of the view and
// rewrites the cache as [rec, ...previously cached]. An older entry with
// the same file name is replaced.
//
// Until Mount has finished loading, the record is held and applied once the
// view first becomes ready, so it cannot pass for a cache hit. While the
// controller is redirecting it returns an error wrapping
// api.ErrUnauthenticated and leaves the cache alone.
func (c *Controller) ApplyUpload(ctx context.Context, rec mediatypes.ImageRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("apply upload: %w", err)
	}

	c.mu.Lock()
	switch c.state {
	case StateUnmounted:
		c.mu.Unlock()
		return ErrUnmounted
	case StateRedirecting:
		c.mu.Unlock()
		return fmt.Errorf("apply upload %s: %w", rec.FileName, api.ErrUnauthenticated)
	case StateUnauthenticated, StateAuthenticating, StateCacheHit, StateStreamingInitial:
		c.pending = append(c.pending, rec)
		c.mu.Unlock()
		log.Debug("Holding upload %s until the gallery is loaded", rec.FileName)
		return nil
	}
	c.images = prepend(c.images, rec)
	c.mu.Unlock()

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	cached, err := c.deps.Thumbnails.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("apply upload: read cache: %w", err)
	}
	if err := c.deps.Thumbnails.Clear(ctx); err != nil {
		return fmt.Errorf("apply upload: clear cache: %w", err)
	}
	if _, err := c.deps.Thumbnails.BulkInsert(ctx, prepend(cached, rec)); err != nil {
		return fmt.Errorf("apply upload: write cache: %w", err)
	}

	log.Info("Added uploaded image %s", rec.FileName)
	return nil
}

// applyPending applies uploads held back during Mount, oldest first.
func (c *Controller) applyPending(ctx context.Context) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, rec := range pending {
		if err := c.ApplyUpload(ctx, rec); err != nil {
			log.Error("Failed to apply held upload %s: %v", rec.FileName, err)
		}
	}
}

// dropPending discards held uploads when the mount cannot continue.
func (c *Controller) dropPending() {
	c.mu.Lock()
	n := len(c.pending)
	c.pending = nil
	c.mu.Unlock()
	if n > 0 {
		log.Warn("Dropped %d held upload(s); they will appear after the next full load", n)
	}
}

// ListenUploads applies every record published on events until the
// channel closes, ctx is done or the controller is unmounted.
func (c *Controller) ListenUploads(ctx context.Context, events <-chan upload.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.ApplyUpload(ctx, ev.Record); err != nil {
				log.Error("Failed to apply upload %s: %v", ev.Record.FileName, err)
				c.mu.Lock()
				if c.state != StateUnmounted {
					c.errMsg = fmt.Sprintf("Upload of %s could not be added to the gallery", ev.Record.FileName)
				}
				c.mu.Unlock()
			}
		case <-ctx.Done():
			return
		case <-c.base.Done():
			return
		}
	}
}

// prepend returns [rec, ...list] without any earlier entry named like rec.
func prepend(list []mediatypes.ImageRecord, rec mediatypes.ImageRecord) []mediatypes.ImageRecord {
	out := make([]mediatypes.ImageRecord, 0, len(list)+1)
	out = append(out, rec)
	for _, r := range list {
		if r.FileName != rec.FileName {
			out = append(out, r)
		}
	}
	return slices.Clip(out)
}
