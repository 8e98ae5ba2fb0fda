package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"presencesync/internal/activity"
)

// fakeFeed records pushed activity
type fakeFeed struct {
	pulses     []activity.PulseKind
	visibility []bool
}

func (f *fakeFeed) Pulse(kind activity.PulseKind) {
	f.pulses = append(f.pulses, kind)
}

func (f *fakeFeed) SetVisible(visible bool) {
	f.visibility = append(f.visibility, visible)
}

// fakeControl records session operations
type fakeControl struct {
	logins  int
	logouts int
	resyncs int
}

func (f *fakeControl) Login()       { f.logins++ }
func (f *fakeControl) Logout()      { f.logouts++ }
func (f *fakeControl) ForceResync() { f.resyncs++ }

func TestActivityHandler_PostActivity(t *testing.T) {
	feed := &fakeFeed{}
	h := NewActivityHandler(feed, &fakeControl{})

	req := httptest.NewRequest("POST", "/api/v1/activity", strings.NewReader(`{"kind":"pointer"}`))
	rr := httptest.NewRecorder()
	h.PostActivity(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status %d, got %d", http.StatusAccepted, rr.Code)
	}
	if len(feed.pulses) != 1 || feed.pulses[0] != activity.PulsePointer {
		t.Errorf("Expected one pointer pulse, got %v", feed.pulses)
	}
}

func TestActivityHandler_PostActivity_InvalidKind(t *testing.T) {
	feed := &fakeFeed{}
	h := NewActivityHandler(feed, &fakeControl{})

	req := httptest.NewRequest("POST", "/api/v1/activity", strings.NewReader(`{"kind":"hover"}`))
	rr := httptest.NewRecorder()
	h.PostActivity(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if len(feed.pulses) != 0 {
		t.Errorf("Expected no pulse recorded, got %v", feed.pulses)
	}
}

func TestActivityHandler_PostActivity_InvalidJSON(t *testing.T) {
	h := NewActivityHandler(&fakeFeed{}, &fakeControl{})

	req := httptest.NewRequest("POST", "/api/v1/activity", strings.NewReader(`not json`))
	rr := httptest.NewRecorder()
	h.PostActivity(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestActivityHandler_PostVisibility(t *testing.T) {
	feed := &fakeFeed{}
	h := NewActivityHandler(feed, &fakeControl{})

	req := httptest.NewRequest("POST", "/api/v1/visibility", strings.NewReader(`{"visible":false}`))
	rr := httptest.NewRecorder()
	h.PostVisibility(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status %d, got %d", http.StatusAccepted, rr.Code)
	}
	if len(feed.visibility) != 1 || feed.visibility[0] {
		t.Errorf("Expected one hidden visibility change, got %v", feed.visibility)
	}
}

func TestActivityHandler_SessionRoutes(t *testing.T) {
	control := &fakeControl{}
	h := NewActivityHandler(&fakeFeed{}, control)

	routes := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"login", h.PostLogin},
		{"logout", h.PostLogout},
		{"resync", h.PostResync},
	}

	for _, route := range routes {
		req := httptest.NewRequest("POST", "/api/v1/"+route.name, nil)
		rr := httptest.NewRecorder()
		route.handler(rr, req)

		if rr.Code != http.StatusAccepted {
			t.Errorf("Expected status %d for %s, got %d", http.StatusAccepted, route.name, rr.Code)
		}
	}

	if control.logins != 1 || control.logouts != 1 || control.resyncs != 1 {
		t.Errorf("Expected each operation once, got %+v", control)
	}
}
