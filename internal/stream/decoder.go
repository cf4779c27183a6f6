package stream

import (
	"bytes"
	"regexp"
	"strings"

	"pikoshi-gallery/internal/mediatypes"
)

// Structural markers every part must carry. A part missing any of them is
// dropped.
var (
	dispositionRe = regexp.MustCompile(`Content-Disposition: form-data; name="file"; filename="(.+)"`)
	contentTypeRe = regexp.MustCompile(`Content-Type: (.+)`)
	payloadRe     = regexp.MustCompile(`(?s)\r\n\r\n(.+?)\r\n`)
)

// Decoder splits a byte stream on a boundary token and decodes each
// complete part. Bytes after the last boundary seen are held until more
// input arrives or Flush is called.
type Decoder struct {
	boundary []byte
	buf      []byte
	dropped  int
}

// NewDecoder returns a Decoder for the given boundary token.
func NewDecoder(boundary string) *Decoder {
	return &Decoder{boundary: []byte(boundary)}
}

// Feed appends a chunk and returns the records decoded from every part
// that is now boundary-terminated.
func (d *Decoder) Feed(chunk []byte) []mediatypes.ImageRecord {
	d.buf = append(d.buf, chunk...)

	var out []mediatypes.ImageRecord
	consumed := 0
	for {
		idx := bytes.Index(d.buf[consumed:], d.boundary)
		if idx < 0 {
			break
		}
		part := d.buf[consumed : consumed+idx]
		consumed += idx + len(d.boundary)
		if rec, ok := d.decode(part); ok {
			out = append(out, rec)
		}
	}

	if consumed > 0 {
		d.buf = append([]byte(nil), d.buf[consumed:]...)
	}
	return out
}

// Flush decodes the held tail once the stream has ended.
func (d *Decoder) Flush() []mediatypes.ImageRecord {
	tail := d.buf
	d.buf = nil
	if rec, ok := d.decode(tail); ok {
		return []mediatypes.ImageRecord{rec}
	}
	return nil
}

// Dropped returns how many non-empty parts were discarded as malformed.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Buffered returns the number of bytes held waiting for a boundary.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) decode(part []byte) (mediatypes.ImageRecord, bool) {
	if isFiller(part) {
		return mediatypes.ImageRecord{}, false
	}
	rec, ok := ParsePart(part)
	if !ok {
		d.dropped++
		log.Debug("dropped malformed part (%d bytes)", len(part))
	}
	return rec, ok
}

// isFiller reports whether a part is only whitespace and dashes, as found
// before the first boundary and after a closing "--" delimiter.
func isFiller(part []byte) bool {
	return len(bytes.Trim(part, " \t\r\n-")) == 0
}

// ParsePart extracts a record from one boundary-delimited part. It returns
// false if the file name, content type or payload marker is missing.
func ParsePart(part []byte) (mediatypes.ImageRecord, bool) {
	disposition := dispositionRe.FindSubmatch(part)
	contentType := contentTypeRe.FindSubmatch(part)
	payload := payloadRe.FindSubmatch(part)
	if disposition == nil || contentType == nil || payload == nil {
		return mediatypes.ImageRecord{}, false
	}

	rec := mediatypes.ImageRecord{
		FileName: strings.TrimSpace(string(disposition[1])),
		Type:     strings.TrimSpace(string(contentType[1])),
		Data:     strings.TrimSpace(string(payload[1])),
	}
	if rec.FileName == "" || rec.Type == "" || rec.Data == "" {
		return mediatypes.ImageRecord{}, false
	}
	return rec, true
}
