// Package api exposes the job engine's control surface: listing active
// Reports, sending Pause/Resume/Cancel commands, and streaming
// UpdateEvents over a websocket, the Go analogue of
// core/src/custom_uri.rs / p2p/p2p_manager.rs's event plumbing without
// a custom URI scheme handler (no UI is in scope). Grounded on
// cmd/announce-webui/main.go's gorilla/mux router + gorilla/websocket
// hub shape.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/entropycollective/vaultfs/pkg/jobsystem"
	"github.com/entropycollective/vaultfs/pkg/logging"
)

// Response is the uniform JSON envelope every handler returns,
// mirroring cmd/announce-webui/main.go's APIResponse shape.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// UpdateEvent is what every connected websocket client receives for
// each call to Broadcast; the Server never emits one on its own. The
// exact payload is an observer
// contract per spec.md §6, not a wire format, so this shape is this
// repo's own choice.
type UpdateEvent struct {
	JobID     string    `json:"job_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Server wires a JobSystem to an HTTP+websocket surface.
type Server struct {
	jobs *jobsystem.JobSystem
	log  *logging.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan UpdateEvent
}

// NewServer builds a Server around jobs. Broadcast fans an UpdateEvent
// out to every connected websocket client; neither the Server nor the
// JobSystem calls it on report changes.
func NewServer(jobs *jobsystem.JobSystem, log *logging.Logger) *Server {
	return &Server{
		jobs:     jobs,
		log:      log.WithComponent("api"),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]chan UpdateEvent),
	}
}

// Router builds the gorilla/mux router exposing the control surface:
// GET /reports, POST /jobs/{id}/command, GET /events (websocket).
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/reports", s.handleListReports).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}/command", s.handleCommand).Methods(http.MethodPost)
	router.HandleFunc("/events", s.handleEvents)
	return router
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.jobs.ActiveReports(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: reports})
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	var body commandRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body: " + err.Error()})
		return
	}

	cmd, err := parseCommand(body.Command)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	id, err := parseJobID(idStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	if err := s.jobs.Command(r.Context(), id, cmd); err != nil {
		writeJSON(w, http.StatusNotFound, Response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	events := make(chan UpdateEvent, 32)
	s.mu.Lock()
	s.clients[conn] = events
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// Broadcast fans event out to every connected websocket client,
// dropping it for any client whose send buffer is full rather than
// blocking the rest of the fan-out on a slow reader.
func (s *Server) Broadcast(event UpdateEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Serve runs an HTTP server on addr until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
