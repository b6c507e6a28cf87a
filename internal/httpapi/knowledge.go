package httpapi

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"botdeck/internal/storage"
)

type knowledgeFileResponse struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"userId"`
	FileName     string    `json:"fileName"`
	OriginalName string    `json:"originalName"`
	FileSize     int64     `json:"fileSize"`
	MimeType     string    `json:"mimeType"`
	IsProcessed  bool      `json:"isProcessed"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toFileResponse(f storage.KnowledgeFile) knowledgeFileResponse {
	return knowledgeFileResponse{
		ID:           f.ID,
		UserID:       f.UserID,
		FileName:     f.FileName,
		OriginalName: f.OriginalName,
		FileSize:     f.FileSize,
		MimeType:     f.MimeType,
		IsProcessed:  f.IsProcessed,
		CreatedAt:    f.CreatedAt,
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, userID string) {
	fs, err := s.store.ListKnowledgeFiles(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]knowledgeFileResponse, 0, len(fs))
	for _, f := range fs {
		out = append(out, toFileResponse(f))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request, userID string) {
	part, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, badRequestf("no file uploaded"))
		return
	}
	defer part.Close()

	mimeType := uploadMimeType(header.Header.Get("Content-Type"), header.Filename)
	saved, err := s.uploads.Save(part, mimeType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	id, err := s.store.CreateKnowledgeFile(r.Context(), storage.KnowledgeFile{
		UserID:       userID,
		FileName:     saved.FileName,
		OriginalName: header.Filename,
		FilePath:     saved.Path,
		FileSize:     saved.Size,
		MimeType:     mimeType,
	})
	if err != nil {
		// Stored bytes must not outlive a failed row insert.
		if rmErr := s.uploads.Remove(saved.Path); rmErr != nil {
			s.logger.Error().Err(rmErr).Str("path", saved.Path).Msg("failed to clean up orphaned upload")
		}
		s.respondError(w, r, err)
		return
	}

	f, err := s.store.GetUserKnowledgeFile(r.Context(), userID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toFileResponse(f))
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	f, err := s.store.GetUserKnowledgeFile(r.Context(), userID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.store.DeleteKnowledgeFile(r.Context(), userID, id); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.uploads.Remove(f.FilePath); err != nil {
		s.logger.Error().Err(err).Str("path", f.FilePath).Msg("failed to remove stored upload")
	}

	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// uploadMimeType trusts the declared content type when present and falls
// back to the filename extension for clients that omit it.
func uploadMimeType(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return declared
	}
}
