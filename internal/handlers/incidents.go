package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := monitor.IncidentFilter{
		WorkspaceID: strings.TrimSpace(q.Get("workspace_id")),
		MonitorID:   strings.TrimSpace(q.Get("monitor_id")),
		Status:      monitor.IncidentStatus(strings.TrimSpace(q.Get("status"))),
	}
	if f.Status != "" && !f.Status.Valid() {
		h.writeError(w, r, errors.NotValidf("status %q", f.Status))
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f.Limit = limit

	incidents, err := h.incidents.ListIncidents(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if incidents == nil {
		incidents = []monitor.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.incidents.GetIncident(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type acknowledgeRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) AcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		h.writeError(w, r, errors.NotValidf("empty user_id"))
		return
	}
	inc, err := h.incidents.AcknowledgeIncident(r.Context(), chi.URLParam(r, "incidentID"), req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type postmortemRequest struct {
	ResolutionNotes string `json:"resolution_notes"`
	RootCause       string `json:"root_cause"`
}

func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	var req postmortemRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	inc, err := h.incidents.ResolveIncident(r.Context(), chi.URLParam(r, "incidentID"), req.ResolutionNotes, req.RootCause)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) UpdatePostmortem(w http.ResponseWriter, r *http.Request) {
	var req postmortemRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	inc, err := h.incidents.UpdatePostmortem(r.Context(), chi.URLParam(r, "incidentID"), req.ResolutionNotes, req.RootCause)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
