package homeassistant

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, "token-123", 5*time.Second), server
}

func TestCallService(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`[]`))
	})

	err := client.CallService(t.Context(), "light", "turn_on", map[string]any{
		"entity_id":  "light.kitchen",
		"brightness": 128,
	})
	if err != nil {
		t.Fatalf("CallService error: %v", err)
	}
	if gotPath != "/api/services/light/turn_on" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotAuth != "Bearer token-123" {
		t.Fatalf("auth=%q", gotAuth)
	}
	if gotBody["entity_id"] != "light.kitchen" {
		t.Fatalf("body=%v", gotBody)
	}
}

func TestGetState(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states/light.kitchen" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"entity_id":"light.kitchen","state":"on","attributes":{"friendly_name":"Kitchen Light"}}`))
	})

	state, err := client.GetState(t.Context(), "light.kitchen")
	if err != nil {
		t.Fatalf("GetState error: %v", err)
	}
	if state.State != "on" {
		t.Fatalf("state=%q, want on", state.State)
	}
	if state.FriendlyName() != "Kitchen Light" {
		t.Fatalf("FriendlyName=%q", state.FriendlyName())
	}
}

func TestGetStateNotFound(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetState(t.Context(), "light.ghost")
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("error=%v, want ErrEntityNotFound", err)
	}
}

func TestListStates(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"entity_id":"light.a","state":"on"},{"entity_id":"switch.b","state":"off"}]`))
	})

	states, err := client.ListStates(t.Context())
	if err != nil {
		t.Fatalf("ListStates error: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("len(states)=%d, want 2", len(states))
	}
}

func TestServerErrorSurfaced(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if err := client.CallService(t.Context(), "light", "turn_on", nil); err == nil {
		t.Fatal("CallService error=nil, want non-nil")
	}
}
