// Package web serves the unified output over a read-only HTTP API.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/matcher"
	"github.com/vayo/unify/internal/store"
	"github.com/vayo/unify/internal/unify"
)

// Backend is the persistence surface the API reads from. *store.Store
// implements it.
type Backend interface {
	LatestRun(ctx context.Context) (store.RunSummary, error)
	BuildingListings(ctx context.Context, key bbl.Key) ([]unify.Listing, error)
}

// AddressMatcher answers ad-hoc match queries. *matcher.Matcher
// implements it.
type AddressMatcher interface {
	Match(addressText, boroughHint, zipHint string) matcher.Result
}

// Server is the web server.
type Server struct {
	backend    Backend
	match      AddressMatcher
	router     *mux.Router
	httpServer *http.Server
	log        *logrus.Logger
}

// NewServer creates a server. match may be nil when no reference snapshot
// is loaded; the match endpoint then reports unavailable.
func NewServer(addr string, backend Backend, match AddressMatcher, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{backend: backend, match: match, log: log}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/runs/latest", s.handleLatestRun).Methods("GET")
	api.HandleFunc("/buildings/{bbl}/listings", s.handleBuildingListings).Methods("GET")
	api.HandleFunc("/match", s.handleMatch).Methods("GET")
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	errs := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.httpServer.Addr).Info("web server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		return fmt.Errorf("web server failed: %w", err)
	case sig := <-stop:
		s.log.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.backend.LatestRun(r.Context())
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleBuildingListings(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["bbl"]
	if _, _, _, err := bbl.Parse(key); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	listings, err := s.backend.BuildingListings(r.Context(), key)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bbl":      key,
		"listings": listings,
	})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if s.match == nil {
		s.writeError(w, http.StatusServiceUnavailable,
			fmt.Errorf("no reference snapshot loaded"))
		return
	}

	q := r.URL.Query()
	address := q.Get("address")
	if address == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("address parameter is required"))
		return
	}

	res := s.match.Match(address, q.Get("borough"), q.Get("zip"))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
