// Package mediatypes provides the shared gallery types and image format
// helpers.
//
// This package exists as a dependency-free foundation that can be imported by
// the cache, stream, api, upload and gallery packages without creating import
// cycles. It contains primitive types and pure utility functions.
//
// # Image records
//
// ImageRecord is the unit that flows through the whole agent: the stream
// client yields it, the cache stores it, the controller orders it and the
// view API serialises it. Its JSON form matches the backend's:
//
//	{"data": "<base64>", "type": "image/webp", "file_name": "cat.webp"}
//
// # Format detection
//
//	mediatypes.IsImageFile("cat.JPG")        // true
//	mediatypes.IsImageMIME("image/png")      // true
//	mediatypes.ReplaceExt("cat.png", ".webp") // "cat.webp"
package mediatypes
