// Package httpapi exposes the pipeline over HTTP: one submission endpoint
// and one status endpoint per stage, plus audio retrieval for synthesized
// speech.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohans/voxflow"
)

// maxAudioBytes caps the STT request body.
const maxAudioBytes = 32 << 20

// Submitter is the slice of voxflow.Client the server needs.
type Submitter interface {
	SubmitSTT(ctx context.Context, filename string, audio []byte) (string, error)
	SubmitLLM(ctx context.Context, text string) (string, error)
	SubmitTTS(ctx context.Context, text string) (string, error)
}

// StatusReader is the slice of voxflow.ResultStore the server needs.
type StatusReader interface {
	Get(ctx context.Context, id string) (voxflow.TaskResult, error)
}

// Server routes stage submissions and status queries.
type Server struct {
	submitter Submitter
	results   StatusReader
	audio     voxflow.AudioStore
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewServer(submitter Submitter, results StatusReader, audio voxflow.AudioStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		submitter: submitter,
		results:   results,
		audio:     audio,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/stt", s.handleSubmitSTT)
	r.Post("/llm", s.handleSubmitLLM)
	r.Post("/tts", s.handleSubmitTTS)
	r.Get("/task_status_stt/{task_id}", s.handleStatus)
	r.Get("/task_status_llm/{task_id}", s.handleStatus)
	r.Get("/task_status_tts/{task_id}", s.handleStatus)
	r.Get("/get_audio/{filename}", s.handleGetAudio)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// submitResponse is returned by all three submission endpoints.
type submitResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// textRequest is the body for /llm and /tts.
type textRequest struct {
	Text string `json:"text" validate:"required,min=1"`
}

// statusResponse mirrors the result store row. Result carries the stage
// output on SUCCESS and the error string on FAILURE.
type statusResponse struct {
	Status voxflow.TaskStatus `json:"status"`
	Result *string            `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmitSTT(w http.ResponseWriter, r *http.Request) {
	audio, filename, err := readAudio(r)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.submitter.SubmitSTT(r.Context(), filename, audio)
	if err != nil {
		s.respondSubmitError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, submitResponse{Message: "Task started", TaskID: id})
}

func (s *Server) handleSubmitLLM(w http.ResponseWriter, r *http.Request) {
	text, ok := s.decodeText(w, r)
	if !ok {
		return
	}
	id, err := s.submitter.SubmitLLM(r.Context(), text)
	if err != nil {
		s.respondSubmitError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, submitResponse{Message: "Query processing started", TaskID: id})
}

func (s *Server) handleSubmitTTS(w http.ResponseWriter, r *http.Request) {
	text, ok := s.decodeText(w, r)
	if !ok {
		return
	}
	id, err := s.submitter.SubmitTTS(r.Context(), text)
	if err != nil {
		s.respondSubmitError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, submitResponse{Message: "Audio generation started", TaskID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	res, err := s.results.Get(r.Context(), id)
	if errors.Is(err, voxflow.ErrNotFound) {
		s.respondError(w, r, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("status lookup", "task_id", id, "error", err)
		s.respondError(w, r, http.StatusInternalServerError, "status lookup failed")
		return
	}
	resp := statusResponse{Status: res.Status}
	switch res.Status {
	case voxflow.StatusSuccess:
		resp.Result = &res.Result
	case voxflow.StatusFailure:
		resp.Result = &res.Error
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	data, err := s.audio.Open(r.Context(), filename)
	if errors.Is(err, voxflow.ErrNotFound) {
		s.respondError(w, r, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Error("audio lookup", "filename", filename, "error", err)
		s.respondError(w, r, http.StatusInternalServerError, "audio lookup failed")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write audio response", "filename", filename, "error", err)
	}
}

// readAudio accepts either a multipart form with an "audio" file field or a
// raw binary body.
func readAudio(r *http.Request) ([]byte, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
			return nil, "", errors.New("malformed multipart body")
		}
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			return nil, "", errors.New("missing audio file field")
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxAudioBytes))
		if err != nil {
			return nil, "", err
		}
		return data, hdr.Filename, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBytes))
	if err != nil {
		return nil, "", err
	}
	return data, "upload.wav", nil
}

func (s *Server) decodeText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "text is required")
		return "", false
	}
	return req.Text, true
}

func (s *Server) respondSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *voxflow.ValidationError
	if errors.As(err, &verr) {
		s.respondError(w, r, http.StatusBadRequest, verr.Error())
		return
	}
	if errors.Is(err, voxflow.ErrBrokerUnavailable) {
		s.logger.Error("submission rejected, broker unavailable", "error", err)
		s.respondError(w, r, http.StatusServiceUnavailable, "task queue unavailable, retry later")
		return
	}
	s.logger.Error("submission failed", "error", err)
	s.respondError(w, r, http.StatusInternalServerError, "submission failed")
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", msg)
	}
	s.respondJSON(w, status, errorResponse{Error: msg})
}
