package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/promptmack/assistant/internal/blob"
)

var allowedUploadTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeJSONError(w, "File storage is not configured", http.StatusServiceUnavailable)
		return
	}
	if r.Body == nil {
		writeJSONError(w, "Request body is empty", http.StatusBadRequest)
		return
	}
	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadMaxBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "File size should be less than 5MB", http.StatusBadRequest)
			return
		}
		writeJSONError(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.UploadMaxBytes+1))
	if err != nil {
		writeJSONError(w, "Failed to process request", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.UploadMaxBytes {
		writeJSONError(w, "File size should be less than 5MB", http.StatusBadRequest)
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !allowedUploadTypes[contentType] {
		contentType = http.DetectContentType(data)
	}
	if !allowedUploadTypes[contentType] {
		writeJSONError(w, "File type should be JPEG, PNG, or PDF", http.StatusBadRequest)
		return
	}

	object, err := s.blobs.Put(r.Context(), blob.Key("uploads", header.Filename), data, contentType)
	if err != nil {
		log.Printf("upload %s failed: %v", header.Filename, err)
		writeJSONError(w, "Upload failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, object)
}
