// Package handlers exposes the monitoring engine over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/juju/clock"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"uptime-incident-engine/internal/monitor"
	"uptime-incident-engine/internal/snapshot"
)

const defaultWindow = 24 * time.Hour

type Config struct {
	Monitors  *monitor.Service
	Incidents *monitor.IncidentManager
	Stats     *monitor.Statistics
	Board     *snapshot.Board
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	// RetentionDays is the default for manual cleanups.
	RetentionDays int
	Clock         clock.Clock
	Logger        *log.Entry
}

type Handler struct {
	monitors      *monitor.Service
	incidents     *monitor.IncidentManager
	stats         *monitor.Statistics
	board         *snapshot.Board
	metrics       http.Handler
	retentionDays int
	clock         clock.Clock
	logger        *log.Entry
}

func New(cfg Config) *Handler {
	h := &Handler{
		monitors:      cfg.Monitors,
		incidents:     cfg.Incidents,
		stats:         cfg.Stats,
		board:         cfg.Board,
		metrics:       cfg.Metrics,
		retentionDays: cfg.RetentionDays,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
	}
	if h.board == nil {
		h.board = snapshot.NewBoard()
	}
	if h.clock == nil {
		h.clock = clock.WallClock
	}
	if h.logger == nil {
		h.logger = log.NewEntry(log.StandardLogger())
	}
	h.logger = h.logger.WithField("component", "api")
	return h
}

// Routes builds the router for the whole API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: h.logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.GetStatus)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
		r.Post("/monitors", h.CreateMonitor)
		r.Get("/monitors", h.ListMonitors)
		r.Get("/stats", h.GetWorkspaceStats)
	})
	r.Route("/monitors/{monitorID}", func(r chi.Router) {
		r.Get("/", h.GetMonitor)
		r.Put("/", h.UpdateMonitor)
		r.Delete("/", h.DeleteMonitor)
		r.Post("/pause", h.PauseMonitor)
		r.Post("/resume", h.ResumeMonitor)
		r.Get("/checks", h.ListChecks)
		r.Get("/stats", h.GetMonitorStats)
	})
	r.Get("/incidents", h.ListIncidents)
	r.Route("/incidents/{incidentID}", func(r chi.Router) {
		r.Get("/", h.GetIncident)
		r.Post("/acknowledge", h.AcknowledgeIncident)
		r.Post("/resolve", h.ResolveIncident)
		r.Patch("/postmortem", h.UpdatePostmortem)
	})
	r.Post("/maintenance/cleanup", h.Cleanup)
	return r
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetStatus serves the live board.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	all := h.board.Get().All
	if all == nil {
		all = []snapshot.StateDTO{}
	}
	writeJSON(w, http.StatusOK, all)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps engine error kinds to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitor.MonitorNotFound), errors.Is(err, monitor.IncidentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, monitor.InvalidMonitor), errors.Is(err, errors.NotValid):
		status = http.StatusBadRequest
	case errors.Is(err, monitor.DuplicateMonitorName):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("request failed")
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewNotValid(err, "invalid request body")
	}
	return nil
}

// window reads ?window= as a duration ending now.
func (h *Handler) window(r *http.Request) (time.Time, time.Time, error) {
	d := defaultWindow
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return time.Time{}, time.Time{}, errors.NotValidf("window %q", raw)
		}
		d = parsed
	}
	end := h.clock.Now().UTC()
	return end.Add(-d), end, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NotValidf("%s %q", name, raw)
	}
	return n, nil
}
