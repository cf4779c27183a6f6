package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/metrics"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support
)

const (
	// MaxImagePixels is the maximum total pixels (width * height) we'll decode
	// A 50MP image would be ~50,000,000 pixels, which uses ~200MB in RGBA
	MaxImagePixels = 40_000_000

	// Encoder labels
	EncoderVipsWebP    = "vips_webp"
	EncoderImagingJPEG = "imaging_jpeg"
)

var (
	// ErrTooLarge is returned for inputs over the byte or pixel limit.
	ErrTooLarge = errors.New("image too large")

	// ErrUndecodable is returned when the input is not a decodable image.
	ErrUndecodable = errors.New("image could not be decoded")
)

var log = logging.For("media")

// Params controls compression. Output keeps the input aspect ratio.
type Params struct {
	// Quality is 1-100.
	Quality   int
	MaxWidth  int
	MaxHeight int
	MinWidth  int
	MinHeight int
	// MaxBytes rejects larger inputs before decoding. Zero disables.
	MaxBytes int64
}

// DefaultParams matches the gallery's upload settings: quality 80, WebP,
// at most 1200x800 and at least 300x300.
func DefaultParams() Params {
	return Params{
		Quality:   80,
		MaxWidth:  1200,
		MaxHeight: 800,
		MinWidth:  300,
		MinHeight: 300,
		MaxBytes:  20 << 20,
	}
}

// Compressed is an encoded upload ready to submit.
type Compressed struct {
	FileName    string
	ContentType string
	Data        []byte
	Width       int
	Height      int
	Encoder     string
}

// Compressor re-encodes user images for upload. It prefers libvips WebP
// and falls back to an imaging JPEG when libvips is not initialized or
// fails on the input.
type Compressor struct {
	params Params
}

// NewCompressor creates a Compressor. Zero fields take DefaultParams values.
func NewCompressor(p Params) *Compressor {
	d := DefaultParams()
	if p.Quality <= 0 || p.Quality > 100 {
		p.Quality = d.Quality
	}
	if p.MaxWidth <= 0 {
		p.MaxWidth = d.MaxWidth
	}
	if p.MaxHeight <= 0 {
		p.MaxHeight = d.MaxHeight
	}
	if p.MinWidth < 0 {
		p.MinWidth = 0
	}
	if p.MinHeight < 0 {
		p.MinHeight = 0
	}
	return &Compressor{params: p}
}

// Params returns the effective parameters.
func (c *Compressor) Params() Params {
	return c.params
}

// Compress decodes raw and re-encodes it within the configured bounds. The
// output name is fileName with its extension replaced by the encoder's.
func (c *Compressor) Compress(ctx context.Context, fileName string, raw []byte) (Compressed, error) {
	if err := ctx.Err(); err != nil {
		return Compressed{}, err
	}
	if c.params.MaxBytes > 0 && int64(len(raw)) > c.params.MaxBytes {
		return Compressed{}, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, fileName, len(raw), c.params.MaxBytes)
	}

	dims, err := GetImageDimensions(raw)
	if err != nil {
		return Compressed{}, fmt.Errorf("%w: %s: %v", ErrUndecodable, fileName, err)
	}
	if dims.Width*dims.Height > MaxImagePixels {
		return Compressed{}, fmt.Errorf("%w: %s is %dx%d", ErrTooLarge, fileName, dims.Width, dims.Height)
	}

	start := time.Now()
	if IsVipsAvailable() {
		out, w, h, err := encodeWebPWithVips(raw, c.params)
		if err == nil {
			return c.finish(fileName, ".webp", "image/webp", EncoderVipsWebP, out, w, h, start), nil
		}
		log.Warn("vips could not encode %s, falling back to JPEG: %v", fileName, err)
	}

	if err := ctx.Err(); err != nil {
		return Compressed{}, err
	}

	start = time.Now()
	out, w, h, err := encodeJPEG(raw, c.params)
	if err != nil {
		return Compressed{}, fmt.Errorf("compress %s: %w", fileName, err)
	}
	return c.finish(fileName, ".jpg", "image/jpeg", EncoderImagingJPEG, out, w, h, start), nil
}

func (c *Compressor) finish(fileName, ext, contentType, encoder string, out []byte, w, h int, start time.Time) Compressed {
	metrics.UploadCompressionDuration.WithLabelValues(encoder).Observe(time.Since(start).Seconds())
	metrics.UploadCompressedBytes.Observe(float64(len(out)))
	log.Debug("Compressed %s to %dx%d %s (%d bytes)", fileName, w, h, encoder, len(out))

	return Compressed{
		FileName:    mediatypes.ReplaceExt(fileName, ext),
		ContentType: contentType,
		Data:        out,
		Width:       w,
		Height:      h,
		Encoder:     encoder,
	}
}

func encodeJPEG(raw []byte, p Params) ([]byte, int, int, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	b := img.Bounds()
	w, h := FitBounds(b.Dx(), b.Dy(), p)
	if w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.Quality)); err != nil {
		return nil, 0, 0, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), w, h, nil
}

// FitBounds returns output dimensions for a w x h image. It scales down to
// fit within the maximum box, otherwise scales up to reach the minimum box
// as long as that does not exceed the maximum. Aspect ratio is preserved.
func FitBounds(w, h int, p Params) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}

	fw, fh := float64(w), float64(h)
	scale := 1.0

	if p.MaxWidth > 0 && p.MaxHeight > 0 && (w > p.MaxWidth || h > p.MaxHeight) {
		scale = math.Min(float64(p.MaxWidth)/fw, float64(p.MaxHeight)/fh)
	} else if w < p.MinWidth || h < p.MinHeight {
		up := math.Max(float64(p.MinWidth)/fw, float64(p.MinHeight)/fh)
		if p.MaxWidth > 0 && p.MaxHeight > 0 {
			up = math.Min(up, math.Min(float64(p.MaxWidth)/fw, float64(p.MaxHeight)/fh))
		}
		scale = math.Max(up, 1)
	}

	if scale == 1 {
		return w, h
	}
	return max(1, int(math.Round(fw*scale))), max(1, int(math.Round(fh*scale)))
}

// ImageDimensions holds image width and height
type ImageDimensions struct {
	Width  int
	Height int
}

// GetImageDimensions returns image dimensions without fully decoding the image
func GetImageDimensions(raw []byte) (ImageDimensions, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return ImageDimensions{}, err
	}
	return ImageDimensions{Width: config.Width, Height: config.Height}, nil
}
