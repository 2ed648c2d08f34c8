// Package api exposes the node state over HTTP for operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ponytojas/go-mqtt-hotspot/internal/node"
)

// StateSource is the read side of a running node
type StateSource interface {
	Snapshot() node.Snapshot
	Connected() bool
}

type health struct {
	Ident     string `json:"ident"`
	Connected bool   `json:"connected"`
	Mode      string `json:"mode"`
}

// Server serves /healthz, /status, /neighbors and /metrics
type Server struct {
	src     StateSource
	metrics http.Handler
	server  *http.Server
	verbose bool
}

// NewServer builds the router. metrics may be nil.
func NewServer(addr string, src StateSource, metrics http.Handler, verbose bool) *Server {
	s := &Server{src: src, metrics: metrics, verbose: verbose}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	if s.verbose {
		router.Use(requestLogger)
	}

	router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	router.HandleFunc("/neighbors", s.neighborsHandler).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return router
}

// Run listens until ctx is done, then shuts the server down
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP status server listening on %s", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

// healthHandler answers 503 while the broker link is down
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Snapshot()
	h := health{Ident: snap.Ident, Connected: s.src.Connected(), Mode: snap.Mode}
	status := http.StatusOK
	if !h.Connected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Snapshot())
}

func (s *Server) neighborsHandler(w http.ResponseWriter, r *http.Request) {
	neighbors := s.src.Snapshot().Neighbors
	if neighbors == nil {
		neighbors = []node.Neighbor{}
	}
	writeJSON(w, http.StatusOK, neighbors)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to serialize response: %v", err)
		http.Error(w, "failed to serialize response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[%s]%s from %s", r.Method, r.RequestURI, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
