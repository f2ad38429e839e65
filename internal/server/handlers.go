package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kaiwa/internal/extract"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/session"
	"go.uber.org/zap"
)

type askRequest struct {
	Question string `json:"question"`
}

type uploadResponse struct {
	Uploaded []session.Upload `json:"uploaded"`
	Pending  int              `json:"pending"`
}

type historyResponse struct {
	Turns []models.Turn `json:"turns"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sess.Status())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// handleUpload accepts zero or more files in a multipart form under any field name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var docs []*models.Document
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "cannot read "+fh.Filename)
				return
			}
			content, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "cannot read "+fh.Filename)
				return
			}
			docs = append(docs, extract.NewDocument(fh.Filename, content))
		}
	}
	pending := sess.Upload(docs...)
	uploaded := make([]session.Upload, len(docs))
	for i, d := range docs {
		uploaded[i] = session.Upload{ID: d.ID, Name: d.Name, Size: d.Size}
	}
	s.logger.Debug("upload request", zap.String("session", sess.ID()), zap.Int("files", len(docs)))
	s.respondJSON(w, http.StatusOK, uploadResponse{Uploaded: uploaded, Pending: pending})
}

func (s *Server) handleDiscardUploads(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"discarded": sess.DiscardUploads()})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	report, err := sess.Process(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	answer, err := sess.Ask(r.Context(), req.Question)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	turns := sess.History()
	if turns == nil {
		turns = []models.Turn{}
	}
	s.respondJSON(w, http.StatusOK, historyResponse{Turns: turns})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return nil, false
	}
	return sess, true
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoDocumentsProcessed), errors.Is(err, models.ErrNoUploads):
		return http.StatusConflict
	case errors.Is(err, models.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrEmbedding), errors.Is(err, models.ErrGeneration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := models.UserMessage(err)
	switch status {
	case http.StatusNotFound, http.StatusServiceUnavailable:
		msg = err.Error()
	case http.StatusInternalServerError:
		s.logger.Error("request failed", zap.Error(err))
	default:
		s.logger.Debug("request failed", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, msg)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
