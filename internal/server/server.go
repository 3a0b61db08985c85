// Package server exposes the collection triggers over HTTP, matching
// the scheduler-invoked surface: /collect for the hourly cron and
// /trigger for manual runs with custom parameters.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/askscio/github-stats-collector/internal/config"
	"github.com/askscio/github-stats-collector/internal/logger"
)

// scheduledLookback is the fixed trailing window for scheduled runs.
// Two hours on an hourly cron gives overlap; the upsert dedupes it.
const scheduledLookback = 2 * time.Hour

// Runner is the collection surface the handlers drive.
type Runner interface {
	InitializeWarehouse(ctx context.Context) error
	CollectAndPublish(ctx context.Context, since, until time.Time, repoFilter []string, collectionID string, resume bool) (map[string]int, error)
}

// Server wires the trigger routes to a Runner.
type Server struct {
	org    string
	runner Runner
}

// New builds a Server for one organization.
func New(org string, runner Runner) *Server {
	return &Server{org: org, runner: runner}
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/collect", s.handleCollect).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/trigger", s.handleTrigger).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// ListenAndServe runs the trigger server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
	}
	logger.Info("Trigger server listening on %s", addr)
	return srv.ListenAndServe()
}

type collectionWindow struct {
	Since string `json:"since"`
	Until string `json:"until"`
	Hours int    `json:"hours,omitempty"`
}

type filters struct {
	Repositories []string `json:"repositories"`
}

type response struct {
	Status           string            `json:"status"`
	Timestamp        string            `json:"timestamp"`
	Organization     string            `json:"organization,omitempty"`
	CollectionWindow *collectionWindow `json:"collection_window,omitempty"`
	Filters          *filters          `json:"filters,omitempty"`
	Counts           map[string]int    `json:"counts,omitempty"`
	Error            string            `json:"error,omitempty"`
	Message          string            `json:"message"`
}

// handleCollect is the scheduled entry point: a fixed trailing window,
// never resuming, collection id derived from the window end.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	logger.Info("Starting scheduled collection")

	until := time.Now().UTC()
	since := until.Add(-scheduledLookback)

	s.ensureSchema(r.Context())

	counts, err := s.runner.CollectAndPublish(r.Context(), since, until, nil, until.Format(time.RFC3339), false)
	if err != nil {
		s.writeError(w, err, "Collection failed")
		return
	}

	logger.Info("Scheduled collection complete: %v", counts)
	writeJSON(w, http.StatusOK, response{
		Status:       "success",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Organization: s.org,
		CollectionWindow: &collectionWindow{
			Since: since.Format(time.RFC3339),
			Until: until.Format(time.RFC3339),
		},
		Counts:  counts,
		Message: "GitHub stats collected successfully",
	})
}

// handleTrigger is the manual entry point. Query parameters: hours
// (lookback, default 2), repos (comma-separated filter) and resume
// (a collection id to continue).
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	logger.Info("Starting manual collection")

	hours := 2
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, response{
				Status:  "error",
				Error:   "Invalid parameter",
				Message: "hours must be a positive integer",
			})
			return
		}
		hours = parsed
	}

	var repoFilter []string
	if raw := r.URL.Query().Get("repos"); raw != "" {
		for _, repo := range strings.Split(raw, ",") {
			if repo = strings.TrimSpace(repo); repo != "" {
				repoFilter = append(repoFilter, repo)
			}
		}
		logger.Info("Repository filter: %v", repoFilter)
	}

	until := time.Now().UTC()
	since := until.Add(-time.Duration(hours) * time.Hour)

	collectionID := r.URL.Query().Get("resume")
	resume := collectionID != ""
	if !resume {
		collectionID = until.Format(time.RFC3339)
	} else {
		logger.Info("Resuming collection: %s", collectionID)
	}

	s.ensureSchema(r.Context())

	counts, err := s.runner.CollectAndPublish(r.Context(), since, until, repoFilter, collectionID, resume)
	if err != nil {
		s.writeError(w, err, "Manual collection failed")
		return
	}

	logger.Info("Manual collection complete: %v", counts)
	writeJSON(w, http.StatusOK, response{
		Status:       "success",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Organization: s.org,
		CollectionWindow: &collectionWindow{
			Since: since.Format(time.RFC3339),
			Until: until.Format(time.RFC3339),
			Hours: hours,
		},
		Filters: &filters{Repositories: repoFilter},
		Counts:  counts,
		Message: "Manual collection completed successfully",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ensureSchema provisions the warehouse if needed. The tables usually
// already exist, so a failure only warns.
func (s *Server) ensureSchema(ctx context.Context) {
	if err := s.runner.InitializeWarehouse(ctx); err != nil {
		logger.Warn("Schema initialization warning (may already exist): %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, message string) {
	logger.Error("%s: %v", message, err)

	kind := message
	if config.IsConfigError(err) {
		kind = "Configuration error"
	}
	writeJSON(w, http.StatusInternalServerError, response{
		Status:    "error",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     kind,
		Message:   err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Encoding response failed: %v", err)
	}
}
