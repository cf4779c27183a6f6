package mediatypes

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ImageRecord is one gallery entry: a base64 payload plus the metadata the
// backend sends with it. Records are immutable once built and are identified
// by FileName.
type ImageRecord struct {
	Data     string `json:"data"`
	Type     string `json:"type"`
	FileName string `json:"file_name"`
}

// ErrEmptyFileName is returned by Validate for records without an identity.
var ErrEmptyFileName = errors.New("image record has no file name")

// NewImageRecord encodes raw bytes into a record.
func NewImageRecord(fileName, contentType string, raw []byte) ImageRecord {
	return ImageRecord{
		Data:     base64.StdEncoding.EncodeToString(raw),
		Type:     contentType,
		FileName: fileName,
	}
}

// Validate checks that the record has an identity and a payload.
func (r ImageRecord) Validate() error {
	if r.FileName == "" {
		return ErrEmptyFileName
	}
	if r.Data == "" {
		return fmt.Errorf("image record %q has no data", r.FileName)
	}
	return nil
}

// Bytes decodes the base64 payload.
func (r ImageRecord) Bytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", r.FileName, err)
	}
	return b, nil
}

// DataURL renders the record as a data: URL for an <img> tag.
func (r ImageRecord) DataURL() string {
	contentType := r.Type
	if !IsImageMIME(contentType) {
		contentType = "image/webp"
	}
	return "data:" + contentType + ";base64," + r.Data
}

// FileNames returns the identities of records in order.
func FileNames(records []ImageRecord) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.FileName
	}
	return names
}
