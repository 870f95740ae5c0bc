package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/homeassistant"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/realtime"
)

// HomeAssistant is the subset of the REST client the dispatcher needs.
type HomeAssistant interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	GetState(ctx context.Context, entityID string) (homeassistant.State, error)
	ListStates(ctx context.Context) ([]homeassistant.State, error)
}

// Dispatcher executes model function calls against Home Assistant.
type Dispatcher struct {
	ha     HomeAssistant
	logger *zap.Logger
}

// New builds a dispatcher.
func New(ha HomeAssistant, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{ha: ha, logger: logger}
}

func entityParam(description string) map[string]any {
	return map[string]any{
		"type":        "object",
		"properties": map[string]any{
			"entity_id": map[string]any{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{"entity_id"},
	}
}

// Definitions returns the tool schemas advertised in session.update.
func Definitions() []realtime.Tool {
	return []realtime.Tool{
		{
			Type:        "function",
			Name:        "turn_on",
			Description: "Turn on a device or entity",
			Parameters:  entityParam("The entity ID to turn on (e.g., light.living_room)"),
		},
		{
			Type:        "function",
			Name:        "turn_off",
			Description: "Turn off a device or entity",
			Parameters:  entityParam("The entity ID to turn off"),
		},
		{
			Type:        "function",
			Name:        "toggle",
			Description: "Toggle a device or entity",
			Parameters:  entityParam("The entity ID to toggle"),
		},
		{
			Type:        "function",
			Name:        "set_light_brightness",
			Description: "Set the brightness of a light",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_id": map[string]any{
						"type":        "string",
						"description": "The light entity ID",
					},
					"brightness": map[string]any{
						"type":        "integer",
						"description": "Brightness level (0-255)",
						"minimum":     0,
						"maximum":     255,
					},
				},
				"required": []string{"entity_id", "brightness"},
			},
		},
		{
			Type:        "function",
			Name:        "set_light_color",
			Description: "Set the color of a light",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_id": map[string]any{
						"type":        "string",
						"description": "The light entity ID",
					},
					"rgb_color": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "integer"},
						"description": "RGB color values [red, green, blue]",
					},
				},
				"required": []string{"entity_id", "rgb_color"},
			},
		},
		{
			Type:        "function",
			Name:        "activate_scene",
			Description: "Activate a scene",
			Parameters:  entityParam("The scene entity ID (e.g., scene.movie_time)"),
		},
		{
			Type:        "function",
			Name:        "set_climate_temperature",
			Description: "Set the temperature for a climate device",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_id": map[string]any{
						"type":        "string",
						"description": "The climate entity ID",
					},
					"temperature": map[string]any{
						"type":        "number",
						"description": "Target temperature",
					},
				},
				"required": []string{"entity_id", "temperature"},
			},
		},
		{
			Type:        "function",
			Name:        "get_entity_state",
			Description: "Get the current state of an entity",
			Parameters:  entityParam("The entity ID to query"),
		},
		{
			Type:        "function",
			Name:        "list_entities",
			Description: "List entities by domain or area",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "Entity domain (e.g., light, switch, climate)",
					},
					"area": map[string]any{
						"type":        "string",
						"description": "Area name",
					},
				},
			},
		},
	}
}

// Execute runs one function call and returns its JSON output. Failures
// come back as an error object in the output, never as a Go error: the
// model should hear about the failure in the conversation.
func (d *Dispatcher) Execute(ctx context.Context, name string, rawArgs json.RawMessage) json.RawMessage {
	result := d.execute(ctx, name, rawArgs)
	payload, err := json.Marshal(result)
	if err != nil {
		d.logger.Error("tool result marshal failed", zap.String("tool", name), zap.Error(err))
		return json.RawMessage(`{"error":"internal result encoding failure"}`)
	}
	return payload
}

func (d *Dispatcher) execute(ctx context.Context, name string, rawArgs json.RawMessage) map[string]any {
	var args struct {
		EntityID    string   `json:"entity_id"`
		Brightness  *int     `json:"brightness"`
		RGBColor    []int    `json:"rgb_color"`
		Temperature *float64 `json:"temperature"`
		Domain      string   `json:"domain"`
		Area        string   `json:"area"`
	}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errResult(fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	d.logger.Debug("tool call",
		zap.String("tool", name),
		zap.String("entity_id", args.EntityID),
	)

	switch name {
	case "turn_on":
		return d.simpleService(ctx, "homeassistant", "turn_on", args.EntityID, "turned on")
	case "turn_off":
		return d.simpleService(ctx, "homeassistant", "turn_off", args.EntityID, "turned off")
	case "toggle":
		return d.simpleService(ctx, "homeassistant", "toggle", args.EntityID, "toggled")
	case "activate_scene":
		return d.simpleService(ctx, "scene", "turn_on", args.EntityID, "activated")
	case "set_light_brightness":
		if args.EntityID == "" || args.Brightness == nil {
			return errResult("entity_id and brightness are required")
		}
		if *args.Brightness < 0 || *args.Brightness > 255 {
			return errResult("brightness must be between 0 and 255")
		}
		if err := d.ha.CallService(ctx, "light", "turn_on", map[string]any{
			"entity_id":  args.EntityID,
			"brightness": *args.Brightness,
		}); err != nil {
			return errResult(err.Error())
		}
		return map[string]any{"success": true, "entity_id": args.EntityID, "brightness": *args.Brightness}
	case "set_light_color":
		if args.EntityID == "" || len(args.RGBColor) != 3 {
			return errResult("entity_id and a [r, g, b] color are required")
		}
		if err := d.ha.CallService(ctx, "light", "turn_on", map[string]any{
			"entity_id": args.EntityID,
			"rgb_color": args.RGBColor,
		}); err != nil {
			return errResult(err.Error())
		}
		return map[string]any{"success": true, "entity_id": args.EntityID, "rgb_color": args.RGBColor}
	case "set_climate_temperature":
		if args.EntityID == "" || args.Temperature == nil {
			return errResult("entity_id and temperature are required")
		}
		if err := d.ha.CallService(ctx, "climate", "set_temperature", map[string]any{
			"entity_id":   args.EntityID,
			"temperature": *args.Temperature,
		}); err != nil {
			return errResult(err.Error())
		}
		return map[string]any{"success": true, "entity_id": args.EntityID, "temperature": *args.Temperature}
	case "get_entity_state":
		if args.EntityID == "" {
			return errResult("entity_id is required")
		}
		state, err := d.ha.GetState(ctx, args.EntityID)
		if err != nil {
			return errResult(err.Error())
		}
		return map[string]any{
			"entity_id":    state.EntityID,
			"state":        state.State,
			"attributes":   state.Attributes,
			"last_changed": state.LastChanged,
			"last_updated": state.LastUpdated,
		}
	case "list_entities":
		return d.listEntities(ctx, args.Domain, args.Area)
	default:
		return errResult(fmt.Sprintf("unknown function: %s", name))
	}
}

func (d *Dispatcher) simpleService(ctx context.Context, domain, service, entityID, action string) map[string]any {
	if entityID == "" {
		return errResult("entity_id is required")
	}
	if err := d.ha.CallService(ctx, domain, service, map[string]any{"entity_id": entityID}); err != nil {
		return errResult(err.Error())
	}
	return map[string]any{"success": true, "entity_id": entityID, "action": action}
}

func (d *Dispatcher) listEntities(ctx context.Context, domain, area string) map[string]any {
	states, err := d.ha.ListStates(ctx)
	if err != nil {
		return errResult(err.Error())
	}
	entities := []map[string]any{}
	for _, state := range states {
		if domain != "" && !strings.HasPrefix(state.EntityID, domain+".") {
			continue
		}
		if area != "" && !matchesArea(state, area) {
			continue
		}
		entities = append(entities, map[string]any{
			"entity_id": state.EntityID,
			"state":     state.State,
			"name":      state.FriendlyName(),
		})
	}
	return map[string]any{"entities": entities}
}

// matchesArea filters on the area attribute exposed in the state; the
// REST API has no area registry endpoint, so this relies on entities
// carrying an "area" or "area_id" attribute.
func matchesArea(state homeassistant.State, area string) bool {
	for _, key := range []string{"area", "area_id"} {
		if value, ok := state.Attributes[key].(string); ok {
			if strings.EqualFold(value, area) {
				return true
			}
		}
	}
	return false
}

func errResult(message string) map[string]any {
	return map[string]any{"error": message}
}
