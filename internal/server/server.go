// Package server exposes a read-only HTTP view of the queue and session
// history for monitoring an unattended run from another terminal.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ldi/nightshift/internal/checkpoint"
	"github.com/ldi/nightshift/internal/db"
	"github.com/ldi/nightshift/internal/resolver"
	"github.com/ldi/nightshift/pkg/models"
)

type Server struct {
	db          *db.DB
	checkpoints *checkpoint.Store
	server      *http.Server
}

func NewServer(database *db.DB, checkpoints *checkpoint.Store) *Server {
	return &Server{db: database, checkpoints: checkpoints}
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.server.ListenAndServe()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/order", s.handleOrder)
	mux.HandleFunc("/api/outcomes", s.handleOutcomes)
	mux.HandleFunc("/api/checkpoint", s.handleCheckpoint)
	return mux
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.ListTasks(r.Context(), false)
	s.respond(w, tasks, err)
}

// handleOrder shows the execution order the next run would use, with any
// unknown-dependency warnings.
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.ListTasks(r.Context(), false)
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	list := make([]models.Task, len(tasks))
	for i, t := range tasks {
		list[i] = *t
	}
	order, warnings, err := resolver.Resolve(list)
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, map[string]any{
		"order":    order,
		"warnings": warnings,
	}, nil)
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}
	outcomes, err := s.db.ListOutcomes(r.Context(), sessionID)
	s.respond(w, outcomes, err)
}

// handleCheckpoint returns the most recent checkpoint of a session, which is
// the live progress view while a run is underway.
func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}
	path, err := s.checkpoints.Latest(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	cp, err := checkpoint.Load(path)
	s.respond(w, cp, err)
}

func (s *Server) respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if str, ok := data.(string); ok {
		w.Write([]byte(str))
	} else {
		json.NewEncoder(w).Encode(data)
	}
}
