package gallery

import (
	"slices"

	"pikoshi-gallery/internal/mediatypes"
)

// State is a controller lifecycle state.
type State string

// Controller states.
const (
	StateUnauthenticated  State = "unauthenticated"
	StateAuthenticating   State = "authenticating"
	StateRedirecting      State = "redirecting"
	StateCacheHit         State = "cache_hit"
	StateStreamingInitial State = "streaming_initial"
	StateReady            State = "ready"
	StateLoadingMore      State = "loading_more"
	StateUnmounted        State = "unmounted"
)

// ViewState is a point-in-time copy of what the gallery displays.
type ViewState struct {
	SessionID     string                    `json:"session_id"`
	State         State                     `json:"state"`
	Authenticated bool                      `json:"authenticated"`
	Images        []mediatypes.ImageRecord `json:"images"`
	// Placeholders has one entry per image still expected from the
	// current stream.
	Placeholders []bool `json:"placeholders"`
	ImagesLoaded bool   `json:"images_loaded"`
	Error        string `json:"error,omitempty"`
	// Redirect is set once the controller has navigated away.
	Redirect string `json:"redirect,omitempty"`
}

// FileNames lists the displayed images in order.
func (v ViewState) FileNames() []string {
	return mediatypes.FileNames(v.Images)
}

// placeholderList counts down the images still expected from a stream.
// Entries are removed oldest first as records arrive; it never goes below
// empty.
type placeholderList []bool

func newPlaceholders(n int) placeholderList {
	if n <= 0 {
		return nil
	}
	p := make(placeholderList, n)
	for i := range p {
		p[i] = true
	}
	return p
}

func (p placeholderList) shift() placeholderList {
	if len(p) == 0 {
		return p
	}
	return p[1:]
}

func (p placeholderList) clone() []bool {
	return slices.Clone([]bool(p))
}
