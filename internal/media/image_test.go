package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage encodes a gradient image so resizing is visible.
func createTestImage(t *testing.T, width, height int, format string) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: 128,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg", "jpg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, img)
	default:
		t.Fatalf("Unsupported test image format: %s", format)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func TestFitBounds(t *testing.T) {
	p := DefaultParams()

	tests := []struct {
		name         string
		width        int
		height       int
		expectWidth  int
		expectHeight int
	}{
		{"within bounds", 500, 500, 500, 500},
		{"exact max", 1200, 800, 1200, 800},
		{"landscape over max", 2400, 1600, 1200, 800},
		{"wide over max", 1600, 800, 1200, 600},
		{"tall over max", 200, 1000, 160, 800},
		{"tiny square", 100, 100, 300, 300},
		{"tiny landscape", 100, 50, 600, 300},
		{"upscale capped by max", 40, 10, 1200, 300},
		{"degenerate", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitBounds(tt.width, tt.height, p)
			assert.Equal(t, tt.expectWidth, w, "width")
			assert.Equal(t, tt.expectHeight, h, "height")
		})
	}
}

func TestNewCompressorDefaults(t *testing.T) {
	c := NewCompressor(Params{})
	p := c.Params()
	assert.Equal(t, 80, p.Quality)
	assert.Equal(t, 1200, p.MaxWidth)
	assert.Equal(t, 800, p.MaxHeight)
	assert.Zero(t, p.MaxBytes)
}

func TestGetImageDimensions(t *testing.T) {
	dims, err := GetImageDimensions(createTestImage(t, 640, 480, "png"))
	require.NoError(t, err)
	assert.Equal(t, ImageDimensions{Width: 640, Height: 480}, dims)

	_, err = GetImageDimensions([]byte("not an image"))
	assert.Error(t, err)
}

func TestCompressJPEGFallback(t *testing.T) {
	if IsVipsAvailable() {
		t.Skip("libvips already initialized; fallback path not reachable")
	}

	c := NewCompressor(DefaultParams())
	out, err := c.Compress(context.Background(), "holiday.photo.png", createTestImage(t, 2000, 1000, "png"))
	require.NoError(t, err)

	assert.Equal(t, "holiday.photo.jpg", out.FileName)
	assert.Equal(t, "image/jpeg", out.ContentType)
	assert.Equal(t, EncoderImagingJPEG, out.Encoder)
	assert.Equal(t, 1200, out.Width)
	assert.Equal(t, 600, out.Height)

	decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 1200, decoded.Bounds().Dx())
	assert.Equal(t, 600, decoded.Bounds().Dy())
}

func TestCompressUpscalesSmallImages(t *testing.T) {
	if IsVipsAvailable() {
		t.Skip("libvips already initialized")
	}

	out, err := NewCompressor(DefaultParams()).Compress(context.Background(), "icon.jpg", createTestImage(t, 150, 100, "jpeg"))
	require.NoError(t, err)
	assert.Equal(t, 450, out.Width)
	assert.Equal(t, 300, out.Height)
}

func TestCompressRejects(t *testing.T) {
	p := DefaultParams()
	p.MaxBytes = 1024
	c := NewCompressor(p)

	_, err := c.Compress(context.Background(), "big.png", make([]byte, 2048))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = c.Compress(context.Background(), "notes.png", []byte("plain text"))
	assert.ErrorIs(t, err, ErrUndecodable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compress(ctx, "x.png", createTestImage(t, 10, 10, "png"))
	assert.ErrorIs(t, err, context.Canceled)
}
