package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/media"
	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/metrics"
	"pikoshi-gallery/internal/workers"
)

// Default cap on concurrent compressions
const defaultMaxWorkers = 4

var (
	// ErrNotImage is returned for files whose type is not image/*.
	ErrNotImage = errors.New("file is not an image")

	// ErrNoFiles is returned when Upload is called with nothing to send.
	ErrNoFiles = errors.New("no files to upload")

	// ErrClosed is returned by Upload after Close.
	ErrClosed = errors.New("upload pipeline closed")

	// ErrNotPublished marks a file the backend stored but whose event could
	// not be handed to the gallery before the upload's context ended. The
	// Result still carries the stored Record.
	ErrNotPublished = errors.New("uploaded but not added to the gallery")
)

var log = logging.For("upload")

// Compressor re-encodes an image for upload.
type Compressor interface {
	Compress(ctx context.Context, fileName string, raw []byte) (media.Compressed, error)
}

// Gate holds back compression, for example under memory pressure.
type Gate interface {
	Wait(ctx context.Context) error
}

// Submitter sends one compressed image to the backend.
type Submitter interface {
	Submit(ctx context.Context, fileName, contentType string, data []byte) (api.SubmitResult, error)
}

// File is a user-selected file.
type File struct {
	Name string
	// ContentType is the declared type. When empty it is derived from the
	// file extension.
	ContentType string
	Data        []byte
}

// Result is the outcome for one file, in the order files were given.
type Result struct {
	File   string
	Record mediatypes.ImageRecord
	Err    error
}

// Event announces a successfully uploaded record.
type Event struct {
	Record mediatypes.ImageRecord
}

// Options configures a Pipeline.
type Options struct {
	// MaxWorkers caps concurrent compressions. Zero uses a default.
	MaxWorkers int
	// EventBuffer sizes the event channel. Zero uses 16.
	EventBuffer int
	// Gate, when set, is waited on before each compression.
	Gate Gate
}

// Pipeline validates, compresses and submits uploads, then publishes each
// stored record on its event channel. Nothing is published for a failed
// file.
type Pipeline struct {
	compressor Compressor
	submitter  Submitter
	maxWorkers int
	gate       Gate

	events chan Event

	mu     sync.RWMutex
	closed bool
}

// NewPipeline creates a Pipeline.
func NewPipeline(c Compressor, s Submitter, opts Options) *Pipeline {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	return &Pipeline{
		compressor: c,
		submitter:  s,
		maxWorkers: opts.MaxWorkers,
		gate:       opts.Gate,
		events:     make(chan Event, opts.EventBuffer),
	}
}

// Events returns the channel on which uploaded records are published. It
// is closed by Close.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// Close stops the pipeline and closes the event channel. It waits for
// in-progress uploads to finish publishing.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
}

// Upload processes files. Non-image files are rejected before any network
// call. Compression runs concurrently; submissions run one at a time in
// input order so records are published in that order.
func (p *Pipeline) Upload(ctx context.Context, files []File) ([]Result, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	results := make([]Result, len(files))
	compressed := make([]media.Compressed, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers.ForCPU(p.maxWorkers))

	for i, f := range files {
		results[i].File = f.Name
		if err := checkImage(f); err != nil {
			results[i].Err = err
			metrics.UploadsTotal.WithLabelValues("rejected").Inc()
			log.Warn("Rejected %s: %v", f.Name, err)
			continue
		}

		g.Go(func() error {
			if p.gate != nil {
				if err := p.gate.Wait(gctx); err != nil {
					results[i].Err = err
					return nil
				}
			}
			out, err := p.compressor.Compress(gctx, f.Name, f.Data)
			if err != nil {
				results[i].Err = fmt.Errorf("compress %s: %w", f.Name, err)
				metrics.UploadsTotal.WithLabelValues("compress_error").Inc()
				log.Warn("Compression failed for %s: %v", f.Name, err)
				return nil
			}
			compressed[i] = out
			return nil
		})
	}
	// Per-file failures are recorded in results; the group never errors.
	_ = g.Wait()

	for i := range files {
		if results[i].Err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}

		rec, err := p.submit(ctx, compressed[i])
		if err != nil {
			results[i].Err = err
			metrics.UploadsTotal.WithLabelValues("submit_error").Inc()
			log.Error("Upload of %s failed: %v", files[i].Name, err)
			continue
		}

		results[i].Record = rec

		select {
		case p.events <- Event{Record: rec}:
			metrics.UploadsTotal.WithLabelValues("success").Inc()
			log.Info("Uploaded %s as %s", files[i].Name, rec.FileName)
		case <-ctx.Done():
			results[i].Err = fmt.Errorf("%w: %w", ErrNotPublished, ctx.Err())
			metrics.UploadsTotal.WithLabelValues("unpublished").Inc()
			log.Warn("Uploaded %s as %s, but the gallery was not told: %v", files[i].Name, rec.FileName, ctx.Err())
		}
	}

	return results, nil
}

func (p *Pipeline) submit(ctx context.Context, c media.Compressed) (mediatypes.ImageRecord, error) {
	res, err := p.submitter.Submit(ctx, c.FileName, c.ContentType, c.Data)
	if err != nil {
		return mediatypes.ImageRecord{}, err
	}
	if res.Record != nil {
		return *res.Record, nil
	}
	// The backend only acknowledged; describe the record from what we sent.
	return mediatypes.NewImageRecord(c.FileName, c.ContentType, c.Data), nil
}

func checkImage(f File) error {
	contentType := strings.TrimSpace(f.ContentType)
	if contentType == "" {
		contentType = mediatypes.GetMimeType(strings.ToLower(filepath.Ext(f.Name)))
	}
	if !mediatypes.IsImageMIME(contentType) {
		return fmt.Errorf("%w: %s (%s)", ErrNotImage, f.Name, contentType)
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrNotImage, f.Name)
	}
	return nil
}
