/*
Package stream reads gallery image streams from the backend.

The backend answers a gallery request with a single long response whose
body is a sequence of parts separated by a boundary token. The token is
sent in the X-Boundary response header. Each part looks like a form-data
file entry:

	Content-Disposition: form-data; name="file"; filename="cat.webp"
	Content-Type: image/webp

	UklGRl4AAABXRUJQ...

The payload is the base64-encoded image bytes. This is not RFC 2046
multipart (the token is used bare and there is no closing delimiter
requirement), so mime/multipart cannot read it.

# Decoding

[Decoder] buffers incoming bytes, cuts complete parts at each boundary
occurrence and holds the incomplete tail until more bytes arrive. A
boundary split across two network reads is therefore found once the
second read lands. At end of stream the tail is decoded too.

A part missing its file name, content type or payload is dropped and
counted; decoding continues with the next part.

# Reading

[Client.Open] issues the request and returns a [Reader]. Records come out
of [Reader.Next] (or the [Reader.All] iterator) in arrival order. The
context passed to Open governs the whole stream: once it is cancelled no
further record is returned, even if one had already been decoded.
*/
package stream
