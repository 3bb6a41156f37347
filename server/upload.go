package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/doctalk/internal/models"
)

type uploadResponse struct {
	Message  string                  `json:"message"`
	Metadata models.DocumentMetadata `json:"metadata"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type documentResponse struct {
	Metadata models.DocumentMetadata `json:"metadata"`
	Version  uint64                  `json:"version"`
	LoadedAt *time.Time              `json:"loadedAt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		s.log.Warn(message, zap.Int("status", status), zap.Error(err))
	} else {
		s.log.Warn(message, zap.Int("status", status))
	}
	writeJSON(w, status, resp)
}

// handleUpload accepts a multipart "file" field holding a PDF or JSON
// document and makes it the current document.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.config.Server.MaxUploadSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusBadRequest, "File upload error", errors.New("File too large"))
			return
		}
		s.writeError(w, http.StatusBadRequest, "No file uploaded", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "No file uploaded", nil)
		return
	}
	defer file.Close()

	if _, ok := models.KindFromFilename(header.Filename); !ok {
		s.writeError(w, http.StatusBadRequest, "Invalid file", errors.New("Invalid file type"))
		return
	}
	if header.Size > maxSize {
		s.writeError(w, http.StatusBadRequest, "File upload error", errors.New("File too large"))
		return
	}

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, msgFileProcessFailed, err)
		return
	}
	defer os.Remove(path)

	meta, err := s.documents.IngestFile(r.Context(), path, filepath.Base(header.Filename))
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, msgFileProcessFailed, err)
		return
	}

	s.hub.BroadcastDocumentUpdate(meta)
	writeJSON(w, http.StatusOK, uploadResponse{Message: msgFileProcessed, Metadata: meta})
}

func (s *Server) saveUpload(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.config.Server.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	pattern := fmt.Sprintf("%d-*%s", time.Now().UnixMilli(), strings.ToLower(filepath.Ext(name)))
	dst, err := os.CreateTemp(s.config.Server.UploadDir, pattern)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return dst.Name(), nil
}

// handleUploadURL downloads a document by URL and makes it the current
// document.
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil || strings.TrimSpace(body.URL) == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid request", errors.New(`expected {"url": "..."}`))
		return
	}

	res, err := s.fetcher.Fetch(r.Context(), strings.TrimSpace(body.URL))
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "Failed to fetch document", err)
		return
	}

	meta, err := s.documents.IngestBytes(r.Context(), res.Title, res.Kind, res.Data)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, msgFileProcessFailed, err)
		return
	}

	s.hub.BroadcastDocumentUpdate(meta)
	writeJSON(w, http.StatusOK, uploadResponse{Message: msgFileProcessed, Metadata: meta})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	resp := documentResponse{
		Metadata: snap.Metadata,
		Version:  snap.Version,
	}
	if !snap.LoadedAt.IsZero() {
		resp.LoadedAt = &snap.LoadedAt
	}
	writeJSON(w, http.StatusOK, resp)
}
