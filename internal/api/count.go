package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/metrics"
)

// CountKind distinguishes why a count request produced the number it did.
type CountKind int

const (
	// CountOK means the backend reported a positive count.
	CountOK CountKind = iota
	// CountEmpty means the backend reported nothing to load.
	CountEmpty
	// CountFailed means the request failed; Err holds the cause.
	CountFailed
)

func (k CountKind) String() string {
	switch k {
	case CountOK:
		return "ok"
	case CountEmpty:
		return "empty"
	case CountFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CountResult is the outcome of an image count request. Callers that only
// care how many images to expect should use N, which is zero for both
// CountEmpty and CountFailed.
type CountResult struct {
	Kind  CountKind
	Count int
	Err   error
}

// N returns the number of images to expect.
func (r CountResult) N() int {
	if r.Kind != CountOK {
		return 0
	}
	return r.Count
}

type countBody struct {
	ImageCount int `json:"image_count"`
}

// ImageCount asks the backend how many images the given phase will stream.
// A 204 or a zero count is CountEmpty. Transport failures, non-2xx
// statuses and undecodable bodies are CountFailed and logged as warnings.
func (c *Client) ImageCount(ctx context.Context, phase mediatypes.Phase) CountResult {
	path := c.routes.ImageCount
	if phase == mediatypes.PhaseLoadMore {
		path = c.routes.LoadMoreCount
	}

	result := c.imageCount(ctx, path)
	metrics.CountChecksTotal.WithLabelValues(string(phase), result.Kind.String()).Inc()
	if result.Kind == CountFailed {
		log.Warn("Image count request (%s) failed, treating as empty: %v", phase, result.Err)
	}
	return result
}

func (c *Client) imageCount(ctx context.Context, path string) CountResult {
	resp, err := c.postJSON(ctx, path, nil)
	if err != nil {
		return CountResult{Kind: CountFailed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return CountResult{Kind: CountEmpty}
	}
	if !success(resp.StatusCode) {
		return CountResult{Kind: CountFailed, Err: fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, readMessage(resp))}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return CountResult{Kind: CountFailed, Err: err}
	}
	var body countBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return CountResult{Kind: CountFailed, Err: fmt.Errorf("decode image count: %w", err)}
	}

	if body.ImageCount <= 0 {
		return CountResult{Kind: CountEmpty}
	}
	return CountResult{Kind: CountOK, Count: body.ImageCount}
}
