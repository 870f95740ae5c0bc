package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrEntityNotFound is returned when a state lookup misses.
var ErrEntityNotFound = errors.New("entity not found")

// State is one entity state from the Home Assistant API.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
}

// FriendlyName returns the friendly_name attribute or the entity id.
func (s State) FriendlyName() string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return s.EntityID
}

// Client talks to the Home Assistant Core REST API with a long-lived
// access token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client. timeout bounds each request.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CallService invokes POST /api/services/<domain>/<service>.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if domain == "" || service == "" {
		return errors.New("service domain and name are required")
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	_, err = c.do(ctx, http.MethodPost, path, body)
	return err
}

// GetState fetches one entity via GET /api/states/<entity_id>.
func (c *Client) GetState(ctx context.Context, entityID string) (State, error) {
	if entityID == "" {
		return State{}, errors.New("entity_id is required")
	}
	payload, err := c.do(ctx, http.MethodGet, "/api/states/"+entityID, nil)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

// ListStates fetches every entity state via GET /api/states.
func (c *Client) ListStates(ctx context.Context) ([]State, error) {
	payload, err := c.do(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, err
	}
	var states []State
	if err := json.Unmarshal(payload, &states); err != nil {
		return nil, err
	}
	return states, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrEntityNotFound
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("home assistant %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}
