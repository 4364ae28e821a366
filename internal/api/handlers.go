package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"studyforge/internal/config"
	"studyforge/internal/models"
	"studyforge/internal/queue"
	"studyforge/internal/ratelimit"
	"studyforge/internal/store"
	"studyforge/internal/stream"
	"studyforge/internal/ws"
)

// Server holds all HTTP handlers and their dependencies.
type Server struct {
	store     *store.Store
	db        *queue.DB
	limiter   *ratelimit.Limiter
	stream    *stream.Server
	wsManager *ws.Manager
	cfg       *config.Config
}

// NewServer creates the API server.
func NewServer(st *store.Store, db *queue.DB, limiter *ratelimit.Limiter, streamSrv *stream.Server, wsManager *ws.Manager, cfg *config.Config) *Server {
	return &Server{
		store:     st,
		db:        db,
		limiter:   limiter,
		stream:    streamSrv,
		wsManager: wsManager,
		cfg:       cfg,
	}
}

// Router wires all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.Health)
	r.Get("/metrics", s.Metrics)
	r.Get("/ws", s.wsManager.HandleWS)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.CreateJob)
		r.Get("/{jobID}", s.GetJob)
		r.Delete("/{jobID}", s.DeleteJob)
		r.Get("/{jobID}/events", s.StreamEvents)
		r.Get("/{jobID}/download", s.DownloadVideo)
		r.Get("/{jobID}/download/srt", s.DownloadSRT)
		r.Get("/{jobID}/download/notes", s.DownloadNotes)
		r.Get("/{jobID}/download/anki", s.DownloadAnki)
	})

	r.Route("/assets", func(r chi.Router) {
		r.Get("/styles", s.ListStyles)
		r.Get("/backgrounds", s.ListBackgrounds)
		r.Get("/music", s.ListMusic)
	})

	return r
}

// CreateJob handles POST /jobs: either a multipart upload with a document
// file, or a JSON body with a topic. The record is written before the queue
// entry; if enqueueing fails the reconciliation sweep picks the job up later.
func (s *Server) CreateJob(w http.ResponseWriter, r *http.Request) {
	client := clientIP(r)
	if !s.limiter.Allow(ratelimit.ScopeCreate, client) {
		log.Printf("[RATE_LIMIT] Client %s exceeded job creation limit", client)
		http.Error(w, "Rate limit exceeded, try again later", http.StatusTooManyRequests)
		return
	}

	jobID := uuid.NewString()[:8]

	var job models.Job
	var herr *httpError
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		job, herr = s.createFromUpload(w, r, jobID)
	} else {
		job, herr = s.createFromTopic(r, jobID)
	}
	if herr != nil {
		// No job state survives a rejected request.
		_ = s.store.Artifacts.Delete(jobID)
		http.Error(w, herr.message, herr.status)
		return
	}

	if err := s.store.Put(job); err != nil {
		log.Printf("[ERROR] Failed to persist job %s: %v", jobID, err)
		_ = s.store.Artifacts.Delete(jobID)
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	if err := s.db.Enqueue(jobID, 0, 0); err != nil {
		// Record exists but no queue entry; the orphan sweep re-enqueues it.
		log.Printf("[ERROR] Failed to enqueue job %s, reconciliation will retry: %v", jobID, err)
	}

	log.Printf("[SUBMIT] JobID=%s InputType=%s Client=%s", jobID, job.InputType, client)
	s.wsManager.Broadcast()

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, s.jobResponse(job))
}

// createFromUpload validates and stores the uploaded file. The extension
// check runs before any job state is created.
func (s *Server) createFromUpload(w http.ResponseWriter, r *http.Request, jobID string) (models.Job, *httpError) {
	maxBytes := s.cfg.Upload.MaxFileMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return models.Job{}, &httpError{http.StatusRequestEntityTooLarge, "Upload too large or malformed"}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return models.Job{}, &httpError{http.StatusBadRequest, "Missing file field"}
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.cfg.AllowedExtension(ext) {
		return models.Job{}, &httpError{http.StatusBadRequest, fmt.Sprintf("File type %s is not supported", ext)}
	}

	opts := models.DefaultOptions()
	if raw := r.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return models.Job{}, &httpError{http.StatusBadRequest, "Invalid options JSON"}
		}
	}

	if err := s.store.Artifacts.EnsureDirs(jobID); err != nil {
		return models.Job{}, &httpError{http.StatusInternalServerError, "Failed to create job"}
	}

	dst, err := os.Create(s.store.Artifacts.Path(jobID, "input", filename))
	if err != nil {
		return models.Job{}, &httpError{http.StatusInternalServerError, "Failed to store upload"}
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return models.Job{}, &httpError{http.StatusInternalServerError, "Failed to store upload"}
	}

	title := strings.TrimSuffix(filename, ext)
	return models.Job{
		JobID:         jobID,
		Status:        models.StatusQueued,
		ProgressPct:   0,
		Title:         title,
		InputType:     models.InputFile,
		InputFilename: filename,
		Options:       opts,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// createFromTopic handles the JSON body variant.
func (s *Server) createFromTopic(r *http.Request, jobID string) (models.Job, *httpError) {
	var req models.JobCreateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		return models.Job{}, &httpError{http.StatusBadRequest, "Invalid request body"}
	}
	if strings.TrimSpace(req.Topic) == "" {
		return models.Job{}, &httpError{http.StatusBadRequest, "topic is required"}
	}

	opts := models.DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	if err := s.store.Artifacts.EnsureDirs(jobID); err != nil {
		return models.Job{}, &httpError{http.StatusInternalServerError, "Failed to create job"}
	}

	topicDoc := map[string]string{"topic": req.Topic, "outline": req.Outline}
	data, _ := json.MarshalIndent(topicDoc, "", "  ")
	if err := os.WriteFile(s.store.Artifacts.Path(jobID, "input", "topic.json"), data, 0o644); err != nil {
		return models.Job{}, &httpError{http.StatusInternalServerError, "Failed to store topic"}
	}

	return models.Job{
		JobID:       jobID,
		Status:      models.StatusQueued,
		ProgressPct: 0,
		Title:       req.Topic,
		InputType:   models.InputTopic,
		Options:     opts,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// GetJob handles GET /jobs/{id}.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.store.Get(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[ERROR] Failed to load job %s: %v", jobID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.jobResponse(job))
}

// jobResponse builds the API shape. Artifact links appear only once the job
// succeeded and the individual file actually exists.
func (s *Server) jobResponse(job models.Job) models.JobResponse {
	resp := models.JobResponse{
		JobID:        job.JobID,
		Status:       job.Status,
		Stage:        job.Stage,
		ProgressPct:  job.ProgressPct,
		Title:        job.Title,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		ErrorMessage: job.ErrorMessage,
	}

	if job.Status != models.StatusSucceeded {
		return resp
	}

	art := &models.JobArtifacts{}
	base := "/jobs/" + job.JobID
	if s.store.Artifacts.Exists(job.JobID, "output", "final.mp4") {
		art.VideoURL = base + "/download"
	}
	if s.store.Artifacts.Exists(job.JobID, "output", "captions.srt") {
		art.SrtURL = base + "/download/srt"
	}
	if s.store.Artifacts.Exists(job.JobID, "output", "notes.md") {
		art.NotesURL = base + "/download/notes"
	}
	if s.store.Artifacts.Exists(job.JobID, "output", "anki.csv") {
		art.AnkiURL = base + "/download/anki"
	}
	if *art != (models.JobArtifacts{}) {
		resp.Artifacts = art
	}
	return resp
}

// StreamEvents handles GET /jobs/{id}/events.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	s.stream.ServeJob(w, r, chi.URLParam(r, "jobID"))
}

// DeleteJob handles DELETE /jobs/{id}: queue entries first, then the whole
// artifact tree. A worker mid-run notices the missing record and drops out.
func (s *Server) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if _, err := s.store.Get(jobID); errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	if err := s.db.DeleteForJob(jobID); err != nil {
		log.Printf("[ERROR] Failed to drop queue entries for %s: %v", jobID, err)
	}
	if err := s.store.Artifacts.Delete(jobID); err != nil {
		log.Printf("[ERROR] Failed to delete job %s: %v", jobID, err)
		http.Error(w, "Failed to delete job", http.StatusInternalServerError)
		return
	}
	s.store.Invalidate(jobID)

	log.Printf("[DELETE] JobID=%s", jobID)
	s.wsManager.Broadcast()
	writeJSON(w, map[string]string{"deleted": jobID})
}

func (s *Server) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, "final.mp4", ".mp4", "video/mp4")
}

func (s *Server) DownloadSRT(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, "captions.srt", ".srt", "application/x-subrip")
}

func (s *Server) DownloadNotes(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, "notes.md", ".md", "text/markdown")
}

func (s *Server) DownloadAnki(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, "anki.csv", ".csv", "text/csv")
}

// serveArtifact is the shared download path: rate limited, 404 when the job
// or file is absent, filename derived from the job title.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, name, ext, contentType string) {
	client := clientIP(r)
	if !s.limiter.Allow(ratelimit.ScopeDownload, client) {
		log.Printf("[RATE_LIMIT] Client %s exceeded download limit", client)
		http.Error(w, "Rate limit exceeded, try again later", http.StatusTooManyRequests)
		return
	}

	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.Get(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	path := s.store.Artifacts.Path(jobID, "output", name)
	if !s.store.Artifacts.Exists(jobID, "output", name) {
		http.Error(w, "Artifact not available", http.StatusNotFound)
		return
	}

	download := sanitizeFilename(job.Title) + ext
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download))
	http.ServeFile(w, r, path)
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// Metrics handles GET /metrics with queue-wide counters.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.List()
	if err != nil {
		log.Printf("[ERROR] Failed to list jobs: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	metrics := store.Summarize(jobs)
	if retries, err := s.db.PendingRetries(); err == nil {
		metrics.TotalRetries = retries
	}
	writeJSON(w, metrics)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] Failed to encode response: %v", err)
	}
}

// httpError carries a rejection out of the create helpers so CreateJob can
// clean up partial state before responding.
type httpError struct {
	status  int
	message string
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sanitizeFilename keeps titles safe as download names.
func sanitizeFilename(title string) string {
	if title == "" {
		return "studyforge"
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, title)
	if mapped == "" {
		return "studyforge"
	}
	if len(mapped) > 64 {
		mapped = mapped[:64]
	}
	return mapped
}
