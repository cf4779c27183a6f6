package handlers

import (
	"errors"
	"io"
	"net/http"

	"pikoshi-gallery/internal/mediatypes"
	"pikoshi-gallery/internal/upload"
)

// uploadFieldNames are the accepted multipart field names.
var uploadFieldNames = map[string]bool{"files": true, "file": true}

type uploadResult struct {
	FileName string                  `json:"file_name"`
	Record   *mediatypes.ImageRecord `json:"record,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

type uploadResponse struct {
	Uploaded int            `json:"uploaded"`
	Failed   int            `json:"failed"`
	Results  []uploadResult `json:"results"`
}

// Upload accepts a multipart form of image files and runs them through the
// upload pipeline. Successful records reach the gallery through the
// pipeline's event channel; the response reports each file's outcome.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)

	files, err := readUploadFiles(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "invalid multipart upload", http.StatusBadRequest)
		return
	}

	results, err := h.uploader.Upload(r.Context(), files)
	switch {
	case errors.Is(err, upload.ErrNoFiles):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, upload.ErrClosed):
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := uploadResponse{Results: make([]uploadResult, len(results))}
	for i, res := range results {
		out := uploadResult{FileName: res.File}
		if res.Err != nil {
			out.Error = res.Err.Error()
			resp.Failed++
			if errors.Is(res.Err, upload.ErrNotPublished) {
				rec := res.Record
				out.Record = &rec
			}
		} else {
			rec := res.Record
			out.Record = &rec
			resp.Uploaded++
		}
		resp.Results[i] = out
	}

	status := http.StatusOK
	if resp.Uploaded == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// readUploadFiles streams the multipart body without spilling to disk.
func readUploadFiles(r *http.Request) ([]upload.File, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	var files []upload.File
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, err
		}
		if !uploadFieldNames[part.FormName()] || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, upload.File{
			Name:        part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		})
	}
}
