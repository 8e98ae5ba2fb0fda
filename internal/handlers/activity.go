package handlers

import (
	"encoding/json"
	"net/http"

	"presencesync/internal/activity"
)

// ActivityFeed is the push side of the activity source the tracker watches
type ActivityFeed interface {
	Pulse(kind activity.PulseKind)
	SetVisible(visible bool)
}

// TrackerControl exposes the session-level tracker operations
type TrackerControl interface {
	Login()
	Logout()
	ForceResync()
}

// PulseRequest represents the request body for reporting input activity
type PulseRequest struct {
	Kind activity.PulseKind `json:"kind"`
}

// VisibilityRequest represents the request body for visibility changes
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// ActivityHandler lets the host application report input activity,
// visibility changes and session transitions to the tracker.
type ActivityHandler struct {
	feed    ActivityFeed
	control TrackerControl
}

// NewActivityHandler creates a new ActivityHandler
func NewActivityHandler(feed ActivityFeed, control TrackerControl) *ActivityHandler {
	return &ActivityHandler{
		feed:    feed,
		control: control,
	}
}

var validPulseKinds = map[activity.PulseKind]bool{
	activity.PulsePointer:    true,
	activity.PulseKey:        true,
	activity.PulseScroll:     true,
	activity.PulseClick:      true,
	activity.PulseTouchStart: true,
	activity.PulseTouchMove:  true,
}

// PostActivity handles POST /api/v1/activity
func (h *ActivityHandler) PostActivity(w http.ResponseWriter, r *http.Request) {
	var req PulseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if !validPulseKinds[req.Kind] {
		h.writeError(w, http.StatusBadRequest, "invalid pulse kind")
		return
	}

	h.feed.Pulse(req.Kind)
	h.writeOK(w)
}

// PostVisibility handles POST /api/v1/visibility
func (h *ActivityHandler) PostVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	h.feed.SetVisible(req.Visible)
	h.writeOK(w)
}

// PostLogin handles POST /api/v1/session/login
func (h *ActivityHandler) PostLogin(w http.ResponseWriter, r *http.Request) {
	h.control.Login()
	h.writeOK(w)
}

// PostLogout handles POST /api/v1/session/logout
func (h *ActivityHandler) PostLogout(w http.ResponseWriter, r *http.Request) {
	h.control.Logout()
	h.writeOK(w)
}

// PostResync handles POST /api/v1/resync
func (h *ActivityHandler) PostResync(w http.ResponseWriter, r *http.Request) {
	h.control.ForceResync()
	h.writeOK(w)
}

func (h *ActivityHandler) writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

func (h *ActivityHandler) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
