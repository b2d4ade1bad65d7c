package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sagarneeli/mr-tracker/internal/common"
	"github.com/sagarneeli/mr-tracker/internal/coordinator"
	"github.com/sagarneeli/mr-tracker/internal/storage"
	"github.com/sagarneeli/mr-tracker/internal/transport"
)

const statusTimeout = 5 * time.Second

var ErrJobExists = errors.New("job already exists")

// Server keeps one Coordinator per job and exposes them over HTTP.
type Server struct {
	ctx   context.Context
	store storage.Storage
	log   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*coordinator.Coordinator
}

// NewServer creates a server whose jobs run until ctx is cancelled.
func NewServer(ctx context.Context, store storage.Storage, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctx:   ctx,
		store: store,
		log:   logger,
		jobs:  make(map[string]*coordinator.Coordinator),
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}", s.handleJobStatus).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/connect", s.handleConnect).Methods(http.MethodGet)
	return r
}

type SubmitJobRequest struct {
	ID      string `json:"id"`
	NReduce int    `json:"nReduce"`
	Mapper  string `json:"mapper"`
	Reducer string `json:"reducer"`
}

type SubmitJobResponse struct {
	JobID string `json:"id"`
}

// SubmitJob starts scheduling the job whose input is already under
// <id>/input in storage.
func (s *Server) SubmitJob(req SubmitJobRequest) (*coordinator.Coordinator, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Mapper == "" {
		req.Mapper = "wordcount"
	}
	if req.Reducer == "" {
		req.Reducer = "wordcount"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[req.ID]; ok {
		return nil, ErrJobExists
	}

	c, err := coordinator.NewCoordinator(coordinator.Config{
		JobID:   req.ID,
		NReduce: req.NReduce,
		Mapper:  req.Mapper,
		Reducer: req.Reducer,
		Logger:  s.log,
	}, s.store)
	if err != nil {
		return nil, err
	}
	s.jobs[req.ID] = c

	go func() {
		if err := c.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("job stopped", "job", req.ID, "err", err)
		}
	}()
	s.log.Info("submitted job", "job", req.ID, "n_reduce", req.NReduce, "mapper", req.Mapper, "reducer", req.Reducer)
	return c, nil
}

func (s *Server) job(id string) (*coordinator.Coordinator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.jobs[id]
	return c, ok
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	c, err := s.SubmitJob(req)
	switch {
	case errors.Is(err, ErrJobExists):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitJobResponse{JobID: c.JobID()})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := s.job(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, ok := s.job(id)
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err := transport.Serve(w, r, jobHandler{c}, s.log.With("job", id)); err != nil {
		s.log.Warn("worker connection failed", "job", id, "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.log.Warn("failed to write response", "err", err)
	}
}

// jobHandler feeds connection events into a job's event loop.
type jobHandler struct {
	c *coordinator.Coordinator
}

func (h jobHandler) Open(workerID string, conn *transport.Conn) { h.c.Connect(workerID, conn) }
func (h jobHandler) Data(workerID string, r common.Result)      { h.c.Deliver(workerID, r) }
func (h jobHandler) Close(workerID string, err error)           { h.c.Disconnect(workerID, err) }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
