package gallery

import (
	"context"
	"errors"
	"fmt"

	"pikoshi-gallery/internal/cache"
	"pikoshi-gallery/internal/mediatypes"
)

// OpenImage returns the full-resolution record for fileName, from the
// Views cache when present, otherwise from the backend (and then cached).
func (c *Controller) OpenImage(ctx context.Context, fileName string) (mediatypes.ImageRecord, error) {
	if fileName == "" {
		return mediatypes.ImageRecord{}, mediatypes.ErrEmptyFileName
	}

	c.mu.Lock()
	unmounted := c.state == StateUnmounted
	c.mu.Unlock()
	if unmounted {
		return mediatypes.ImageRecord{}, ErrUnmounted
	}

	ctx, cancel := c.scope(ctx)
	defer cancel()

	if c.deps.Views != nil {
		rec, found, err := c.deps.Views.Get(ctx, fileName)
		switch {
		case err != nil:
			log.Warn("Views cache lookup for %s failed: %v", fileName, err)
		case found:
			log.Debug("Viewer cache hit for %s", fileName)
			return rec, nil
		}
	}

	rec, err := c.deps.Backend.FetchSingle(ctx, fileName)
	if err != nil {
		return mediatypes.ImageRecord{}, fmt.Errorf("open %s: %w", fileName, err)
	}

	if c.deps.Views != nil {
		if err := c.deps.Views.Put(ctx, rec); err != nil && !errors.Is(err, cache.ErrConflict) {
			log.Warn("Failed to cache %s for the viewer: %v", rec.FileName, err)
		}
	}
	return rec, nil
}
