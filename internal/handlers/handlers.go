package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"presencesync/internal/models"
)

// RosterProvider defines the read-only view of the presence roster
type RosterProvider interface {
	Roster() []models.PresenceEntry
	Status(userID string) (models.Status, bool)
}

// RosterResponse represents the API response format
type RosterResponse struct {
	Success bool                   `json:"success"`
	Data    []models.PresenceEntry `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// StatusResponse represents the single-user API response format
type StatusResponse struct {
	Success bool          `json:"success"`
	UserID  string        `json:"userId,omitempty"`
	Status  models.Status `json:"status,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// RosterHandler serves the "who is online" queries off the tracker roster
type RosterHandler struct {
	provider RosterProvider
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(provider RosterProvider) *RosterHandler {
	return &RosterHandler{
		provider: provider,
	}
}

// GetStatuses handles GET /api/v1/statuses
func (h *RosterHandler) GetStatuses(w http.ResponseWriter, r *http.Request) {
	entries := h.provider.Roster()

	h.writeJSONResponse(w, http.StatusOK, RosterResponse{
		Success: true,
		Data:    entries,
	})
}

// GetStatus handles GET /api/v1/statuses/{user_id}
func (h *RosterHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["user_id"]

	if userID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "user_id is required")
		return
	}

	status, known := h.provider.Status(userID)
	if !known {
		h.writeErrorResponse(w, http.StatusNotFound, "user not in roster")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, StatusResponse{
		Success: true,
		UserID:  userID,
		Status:  status,
	})
}

// writeJSONResponse writes a JSON response with the given status code
func (h *RosterHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// writeErrorResponse writes an error response
func (h *RosterHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(StatusResponse{
		Success: false,
		Error:   message,
	})
}
