package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"presencesync/internal/models"
)

// fakeRoster implements RosterProvider
type fakeRoster struct {
	entries []models.PresenceEntry
}

func (f *fakeRoster) Roster() []models.PresenceEntry {
	return f.entries
}

func (f *fakeRoster) Status(userID string) (models.Status, bool) {
	for _, e := range f.entries {
		if e.UserID == userID {
			return e.Status, true
		}
	}
	return models.StatusOffline, false
}

func newRosterRouter(provider RosterProvider) *mux.Router {
	h := NewRosterHandler(provider)
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/statuses", h.GetStatuses).Methods("GET")
	r.HandleFunc("/api/v1/statuses/{user_id}", h.GetStatus).Methods("GET")
	return r
}

func TestRosterHandler_GetStatuses(t *testing.T) {
	router := newRosterRouter(&fakeRoster{entries: []models.PresenceEntry{
		{UserID: "u1", Status: models.StatusActive},
		{UserID: "u2", Status: models.StatusInactive},
	}})

	req := httptest.NewRequest("GET", "/api/v1/statuses", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp RosterResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success response")
	}
	if len(resp.Data) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(resp.Data))
	}
}

func TestRosterHandler_GetStatus(t *testing.T) {
	router := newRosterRouter(&fakeRoster{entries: []models.PresenceEntry{
		{UserID: "u1", Status: models.StatusActive},
	}})

	req := httptest.NewRequest("GET", "/api/v1/statuses/u1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.UserID != "u1" || resp.Status != models.StatusActive {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestRosterHandler_GetStatus_UnknownUser(t *testing.T) {
	router := newRosterRouter(&fakeRoster{})

	req := httptest.NewRequest("GET", "/api/v1/statuses/nobody", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, rr.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Success {
		t.Error("Expected failure response for unknown user")
	}
}
