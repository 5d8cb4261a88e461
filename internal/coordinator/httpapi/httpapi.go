// Package httpapi exposes the coordinator's operational surface over
// HTTP: a liveness probe and a drop-counter/attach-count snapshot
// (§7: "operators must be able to observe drop counts without
// reading logs").
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cmu-db/oucore/internal/ou"
)

// Status is whatever the coordinator can report about its own health at
// request time; Server calls StatusFunc fresh on every /healthz request
// rather than caching it.
type Status struct {
	Healthy          bool           `json:"healthy"`
	RunID            string         `json:"run_id"`
	AttachedBackends int            `json:"attached_backends"`
	DropCounts       map[string]int `json:"drop_counts"`
}

// StatusFunc is supplied by the coordinator's wiring code (main.go) and
// reflects live attach.Manager / sink state.
type StatusFunc func() Status

// Server is a small gorilla/mux router serving /healthz and /metrics/drops.
type Server struct {
	router  *mux.Router
	status  StatusFunc
	catalog *ou.Catalog
	runID   uuid.UUID
}

// New builds a Server. catalog is stored on the Server but its handlers do
// not read it: the drop-count map is served with the keys StatusFunc gives
// it. A fresh run ID is minted per process so
// operators correlating /healthz responses with log lines across a
// coordinator restart can tell them apart.
func New(status StatusFunc, catalog *ou.Catalog) *Server {
	s := &Server{router: mux.NewRouter(), status: status, catalog: catalog, runID: uuid.New()}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics/drops", s.handleDrops).Methods(http.MethodGet)
	return s
}

// ServeHTTP lets Server be used directly as an http.Handler, e.g. with
// http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.status()
	st.RunID = s.runID.String()
	w.Header().Set("Content-Type", "application/json")
	if !st.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}

func (s *Server) handleDrops(w http.ResponseWriter, r *http.Request) {
	st := s.status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st.DropCounts)
}
