package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/metrics"
)

// BoundaryHeader carries the token that separates parts in a gallery stream.
const BoundaryHeader = "X-Boundary"

// readChunkSize is the size of each read from the response body.
const readChunkSize = 32 * 1024

var (
	// ErrNoBoundary is returned when the response lacks a boundary header.
	ErrNoBoundary = errors.New("gallery stream response has no boundary")

	// ErrUnexpectedStatus is returned for non-2xx stream responses.
	ErrUnexpectedStatus = errors.New("unexpected gallery stream status")
)

var log = logging.For("stream")

// Client opens gallery streams against the backend.
type Client struct {
	http *http.Client
}

// NewClient wraps an HTTP client. The client should carry the session
// cookie jar; it must not set an overall Timeout, since streams are long.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc}
}

// Open posts to url and returns a Reader over the streamed records. The
// stream is bound to ctx: cancelling it aborts the read and no further
// records are yielded.
func (c *Client) Open(ctx context.Context, phase mediatypes.Phase, url string) (*Reader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.StreamDuration.WithLabelValues(string(phase), statusFor(ctx, err)).Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("open gallery stream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		metrics.StreamDuration.WithLabelValues(string(phase), "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	boundary := strings.TrimSpace(resp.Header.Get(BoundaryHeader))
	if boundary == "" {
		drain(resp.Body)
		metrics.StreamDuration.WithLabelValues(string(phase), "error").Observe(time.Since(start).Seconds())
		return nil, ErrNoBoundary
	}

	metrics.StreamsInFlight.Inc()
	log.Debug("%s stream opened (boundary %q)", phase, boundary)

	return &Reader{
		ctx:   ctx,
		phase: phase,
		body:  resp.Body,
		dec:   NewDecoder(boundary),
		buf:   make([]byte, readChunkSize),
		start: start,
	}, nil
}

// Reader yields records from one gallery stream in arrival order. It is
// not safe for concurrent use and cannot be restarted.
type Reader struct {
	ctx   context.Context
	phase mediatypes.Phase
	body  io.ReadCloser
	dec   *Decoder
	buf   []byte
	start time.Time

	pending []mediatypes.ImageRecord
	eof     bool
	done    bool
	err     error
	yielded int
}

// Next returns the next record. It returns io.EOF once the stream is
// exhausted and the context error if the stream was aborted.
func (r *Reader) Next() (mediatypes.ImageRecord, error) {
	for {
		if r.done {
			return mediatypes.ImageRecord{}, r.err
		}
		if err := r.ctx.Err(); err != nil {
			r.finish(err)
			return mediatypes.ImageRecord{}, err
		}
		if len(r.pending) > 0 {
			rec := r.pending[0]
			r.pending = r.pending[1:]
			r.yielded++
			metrics.StreamRecordsTotal.WithLabelValues(string(r.phase)).Inc()
			return rec, nil
		}
		if r.eof {
			r.finish(io.EOF)
			return mediatypes.ImageRecord{}, io.EOF
		}

		n, err := r.body.Read(r.buf)
		if n > 0 {
			r.pending = append(r.pending, r.dec.Feed(r.buf[:n])...)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			r.eof = true
			r.pending = append(r.pending, r.dec.Flush()...)
		default:
			if ctxErr := r.ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = fmt.Errorf("read gallery stream: %w", err)
			}
			r.finish(err)
			return mediatypes.ImageRecord{}, err
		}
	}
}

// All returns an iterator over the remaining records. Iteration stops at
// the end of the stream; a read failure or abort is yielded once as the
// final error.
func (r *Reader) All() iter.Seq2[mediatypes.ImageRecord, error] {
	return func(yield func(mediatypes.ImageRecord, error) bool) {
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(mediatypes.ImageRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Yielded returns how many records have been returned so far.
func (r *Reader) Yielded() int {
	return r.yielded
}

// Close releases the response body. Records not yet read are discarded.
func (r *Reader) Close() error {
	if !r.done {
		r.finish(context.Canceled)
	}
	return nil
}

func (r *Reader) finish(err error) {
	if r.done {
		return
	}
	r.done = true
	r.err = err
	r.pending = nil

	status := "complete"
	if !errors.Is(err, io.EOF) {
		status = statusFor(r.ctx, err)
	}

	if dropped := r.dec.Dropped(); dropped > 0 {
		metrics.StreamPartsDropped.WithLabelValues(string(r.phase)).Add(float64(dropped))
		log.Warn("%s stream dropped %d malformed part(s)", r.phase, dropped)
	}
	metrics.StreamsInFlight.Dec()
	metrics.StreamDuration.WithLabelValues(string(r.phase), status).Observe(time.Since(r.start).Seconds())
	_ = r.body.Close()

	if status == "error" {
		log.Warn("%s stream ended after %d record(s): %v", r.phase, r.yielded, err)
	} else {
		log.Debug("%s stream %s after %d record(s)", r.phase, status, r.yielded)
	}
}

func statusFor(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
