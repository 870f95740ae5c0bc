package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/homeassistant"
)

type fakeHA struct {
	domain  string
	service string
	data    map[string]any
	callErr error

	states []homeassistant.State
}

func (f *fakeHA) CallService(_ context.Context, domain, service string, data map[string]any) error {
	f.domain = domain
	f.service = service
	f.data = data
	return f.callErr
}

func (f *fakeHA) GetState(_ context.Context, entityID string) (homeassistant.State, error) {
	for _, s := range f.states {
		if s.EntityID == entityID {
			return s, nil
		}
	}
	return homeassistant.State{}, homeassistant.ErrEntityNotFound
}

func (f *fakeHA) ListStates(_ context.Context) ([]homeassistant.State, error) {
	return f.states, nil
}

func exec(t *testing.T, ha *fakeHA, name, args string) map[string]any {
	t.Helper()
	d := New(ha, zap.NewNop())
	out := d.Execute(t.Context(), name, json.RawMessage(args))
	var result map[string]any
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("output not json: %v", err)
	}
	return result
}

func TestTurnOn(t *testing.T) {
	ha := &fakeHA{}
	result := exec(t, ha, "turn_on", `{"entity_id":"light.kitchen"}`)
	if ha.domain != "homeassistant" || ha.service != "turn_on" {
		t.Fatalf("called %s.%s", ha.domain, ha.service)
	}
	if ha.data["entity_id"] != "light.kitchen" {
		t.Fatalf("entity_id = %v", ha.data["entity_id"])
	}
	if result["success"] != true {
		t.Fatalf("result = %v", result)
	}
}

func TestActivateSceneUsesSceneDomain(t *testing.T) {
	ha := &fakeHA{}
	exec(t, ha, "activate_scene", `{"entity_id":"scene.movie_time"}`)
	if ha.domain != "scene" || ha.service != "turn_on" {
		t.Fatalf("called %s.%s", ha.domain, ha.service)
	}
}

func TestSetBrightness(t *testing.T) {
	ha := &fakeHA{}
	result := exec(t, ha, "set_light_brightness", `{"entity_id":"light.desk","brightness":128}`)
	if ha.domain != "light" || ha.service != "turn_on" {
		t.Fatalf("called %s.%s", ha.domain, ha.service)
	}
	if ha.data["brightness"] != 128 {
		t.Fatalf("brightness = %v", ha.data["brightness"])
	}
	if result["success"] != true {
		t.Fatalf("result = %v", result)
	}
}

func TestSetBrightnessOutOfRange(t *testing.T) {
	ha := &fakeHA{}
	result := exec(t, ha, "set_light_brightness", `{"entity_id":"light.desk","brightness":300}`)
	if _, ok := result["error"]; !ok {
		t.Fatalf("expected error, got %v", result)
	}
	if ha.service != "" {
		t.Fatal("service should not have been called")
	}
}

func TestSetColorRequiresThreeComponents(t *testing.T) {
	ha := &fakeHA{}
	result := exec(t, ha, "set_light_color", `{"entity_id":"light.desk","rgb_color":[255,0]}`)
	if _, ok := result["error"]; !ok {
		t.Fatalf("expected error, got %v", result)
	}
}

func TestSetClimateTemperature(t *testing.T) {
	ha := &fakeHA{}
	exec(t, ha, "set_climate_temperature", `{"entity_id":"climate.hall","temperature":21.5}`)
	if ha.domain != "climate" || ha.service != "set_temperature" {
		t.Fatalf("called %s.%s", ha.domain, ha.service)
	}
	if ha.data["temperature"] != 21.5 {
		t.Fatalf("temperature = %v", ha.data["temperature"])
	}
}

func TestGetEntityState(t *testing.T) {
	ha := &fakeHA{states: []homeassistant.State{{
		EntityID:   "sensor.temp",
		State:      "20.1",
		Attributes: map[string]any{"friendly_name": "Temp"},
	}}}
	result := exec(t, ha, "get_entity_state", `{"entity_id":"sensor.temp"}`)
	if result["state"] != "20.1" {
		t.Fatalf("state = %v", result["state"])
	}
}

func TestGetEntityStateMissing(t *testing.T) {
	ha := &fakeHA{}
	result := exec(t, ha, "get_entity_state", `{"entity_id":"sensor.nope"}`)
	if _, ok := result["error"]; !ok {
		t.Fatalf("expected error, got %v", result)
	}
}

func TestListEntitiesDomainFilter(t *testing.T) {
	ha := &fakeHA{states: []homeassistant.State{
		{EntityID: "light.kitchen", State: "on"},
		{EntityID: "switch.fan", State: "off"},
		{EntityID: "light.desk", State: "off"},
	}}
	result := exec(t, ha, "list_entities", `{"domain":"light"}`)
	entities, ok := result["entities"].([]any)
	if !ok {
		t.Fatalf("entities = %v", result["entities"])
	}
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(entities))
	}
}

func TestServiceErrorSurfacesToModel(t *testing.T) {
	ha := &fakeHA{callErr: errors.New("backend down")}
	result := exec(t, ha, "turn_off", `{"entity_id":"light.desk"}`)
	if result["error"] != "backend down" {
		t.Fatalf("error = %v", result["error"])
	}
}

func TestUnknownFunction(t *testing.T) {
	result := exec(t, &fakeHA{}, "reboot_house", `{}`)
	if _, ok := result["error"]; !ok {
		t.Fatalf("expected error, got %v", result)
	}
}

func TestDefinitionsCoverAllTools(t *testing.T) {
	names := map[string]bool{}
	for _, tool := range Definitions() {
		if tool.Type != "function" {
			t.Fatalf("tool %s has type %q", tool.Name, tool.Type)
		}
		names[tool.Name] = true
	}
	for _, want := range []string{
		"turn_on", "turn_off", "toggle",
		"set_light_brightness", "set_light_color",
		"activate_scene", "set_climate_temperature",
		"get_entity_state", "list_entities",
	} {
		if !names[want] {
			t.Fatalf("missing tool %s", want)
		}
	}
}
