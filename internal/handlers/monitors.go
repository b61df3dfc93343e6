package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"uptime-incident-engine/internal/monitor"
)

func (h *Handler) CreateMonitor(w http.ResponseWriter, r *http.Request) {
	var spec monitor.MonitorSpec
	if err := decodeBody(r, &spec); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.monitors.CreateMonitor(r.Context(), chi.URLParam(r, "workspaceID"), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	ms, err := h.monitors.ListMonitors(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ms == nil {
		ms = []monitor.Monitor{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *Handler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	m, err := h.monitors.GetMonitor(r.Context(), chi.URLParam(r, "monitorID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) UpdateMonitor(w http.ResponseWriter, r *http.Request) {
	var spec monitor.MonitorSpec
	if err := decodeBody(r, &spec); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.monitors.UpdateMonitor(r.Context(), chi.URLParam(r, "monitorID"), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) DeleteMonitor(w http.ResponseWriter, r *http.Request) {
	if err := h.monitors.DeleteMonitor(r.Context(), chi.URLParam(r, "monitorID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PauseMonitor(w http.ResponseWriter, r *http.Request) {
	m, err := h.monitors.PauseMonitor(r.Context(), chi.URLParam(r, "monitorID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ResumeMonitor(w http.ResponseWriter, r *http.Request) {
	m, err := h.monitors.ResumeMonitor(r.Context(), chi.URLParam(r, "monitorID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	checks, err := h.monitors.ListChecks(r.Context(), chi.URLParam(r, "monitorID"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if checks == nil {
		checks = []monitor.Check{}
	}
	writeJSON(w, http.StatusOK, checks)
}

func (h *Handler) GetMonitorStats(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.window(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.stats.MonitorStatistics(r.Context(), chi.URLParam(r, "monitorID"), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetWorkspaceStats(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.window(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.stats.WorkspaceStatistics(r.Context(), chi.URLParam(r, "workspaceID"), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Cleanup deletes old checks now instead of waiting for the janitor.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "retention_days")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if days == 0 {
		days = h.retentionDays
	}
	n, err := h.monitors.CleanupOldChecks(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
