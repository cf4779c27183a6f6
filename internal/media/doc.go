// Package media compresses user images before upload.
//
// Images are decoded (JPEG, PNG, GIF and WebP inputs), oriented from EXIF,
// scaled to fit the configured bounds and re-encoded. With libvips
// initialized via InitVips the output is WebP; without it, or if libvips
// rejects the input, the imaging library produces a JPEG instead.
package media
