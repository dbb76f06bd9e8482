package codec

import (
	"encoding/json"
	"fmt"

	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
)

// Home Assistant on/off state values.
const (
	stateOn  = "on"
	stateOff = "off"
)

// State is the new_state object of a Home Assistant state_changed event.
type State struct {
	EntityID   string          `json:"entity_id"`
	State      string          `json:"state"`
	Attributes json.RawMessage `json:"attributes"`
}

// ServiceCall is the translated form of a command, ready to be sent as a
// call_service request.
type ServiceCall struct {
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data,omitempty"`
	Target      Target         `json:"target"`
}

// Target selects the entities a service call applies to.
type Target struct {
	EntityID string `json:"entity_id"`
}

type lightAttributes struct {
	Brightness          *int      `json:"brightness"`
	ColorMode           *string   `json:"color_mode"`
	ColorTempKelvin     *int      `json:"color_temp_kelvin"`
	MinColorTempKelvin  *int      `json:"min_color_temp_kelvin"`
	MaxColorTempKelvin  *int      `json:"max_color_temp_kelvin"`
	MinMireds           *int      `json:"min_mireds"`
	MaxMireds           *int      `json:"max_mireds"`
	HSColor             []float64 `json:"hs_color"`
	RGBColor            []int     `json:"rgb_color"`
	Effect              *string   `json:"effect"`
	EffectList          []string  `json:"effect_list"`
	SupportedColorModes []string  `json:"supported_color_modes"`
	SupportedFeatures   *int      `json:"supported_features"`
	FriendlyName        *string   `json:"friendly_name"`
	Icon                *string   `json:"icon"`
}

type coverAttributes struct {
	CurrentPosition     *int    `json:"current_position"`
	CurrentTiltPosition *int    `json:"current_tilt_position"`
	SupportedFeatures   *int    `json:"supported_features"`
	FriendlyName        *string `json:"friendly_name"`
	Icon                *string `json:"icon"`
}

type switchAttributes struct {
	FriendlyName *string `json:"friendly_name"`
	Icon         *string `json:"icon"`
}

// FromState decodes a Home Assistant state object into an entity.
// Entities outside the relayed domains return ErrUnsupportedDomain.
func FromState(s State) (entity.Entity, error) {
	domain, ok := entity.DomainOf(s.EntityID)
	if !ok || !entity.Supported(domain) {
		return nil, fmt.Errorf("%s: %w", s.EntityID, ErrUnsupportedDomain)
	}

	attrs := s.Attributes
	if len(attrs) == 0 {
		attrs = json.RawMessage("{}")
	}

	switch domain {
	case entity.DomainLight:
		var a lightAttributes
		if err := json.Unmarshal(attrs, &a); err != nil {
			return nil, fmt.Errorf("decoding %s attributes: %w", s.EntityID, err)
		}
		return entity.Light{
			EntityID:            s.EntityID,
			On:                  onOff(s.State),
			Brightness:          a.Brightness,
			ColorMode:           a.ColorMode,
			ColorTempKelvin:     a.ColorTempKelvin,
			MinColorTempKelvin:  a.MinColorTempKelvin,
			MaxColorTempKelvin:  a.MaxColorTempKelvin,
			MinMireds:           a.MinMireds,
			MaxMireds:           a.MaxMireds,
			HSColor:             a.HSColor,
			RGBColor:            a.RGBColor,
			Effect:              a.Effect,
			EffectList:          a.EffectList,
			SupportedColorModes: a.SupportedColorModes,
			SupportedFeatures:   a.SupportedFeatures,
			FriendlyName:        a.FriendlyName,
			Icon:                a.Icon,
		}, nil

	case entity.DomainCover:
		var a coverAttributes
		if err := json.Unmarshal(attrs, &a); err != nil {
			return nil, fmt.Errorf("decoding %s attributes: %w", s.EntityID, err)
		}
		return entity.Cover{
			EntityID:          s.EntityID,
			State:             coverState(s.State),
			Position:          a.CurrentPosition,
			TiltPosition:      a.CurrentTiltPosition,
			SupportedFeatures: a.SupportedFeatures,
			FriendlyName:      a.FriendlyName,
			Icon:              a.Icon,
		}, nil

	default: // entity.DomainSwitch
		var a switchAttributes
		if err := json.Unmarshal(attrs, &a); err != nil {
			return nil, fmt.Errorf("decoding %s attributes: %w", s.EntityID, err)
		}
		return entity.Switch{
			EntityID:     s.EntityID,
			On:           onOff(s.State),
			FriendlyName: a.FriendlyName,
			Icon:         a.Icon,
		}, nil
	}
}

// onOff maps "on"/"off" to a bool. Other states (unavailable, unknown)
// leave the attribute unset.
func onOff(state string) *bool {
	switch state {
	case stateOn:
		return entity.Ptr(true)
	case stateOff:
		return entity.Ptr(false)
	default:
		return nil
	}
}

func coverState(state string) *entity.CoverState {
	switch s := entity.CoverState(state); s {
	case entity.CoverOpen, entity.CoverClosed, entity.CoverOpening, entity.CoverClosing:
		return &s
	default:
		return nil
	}
}

// ToServiceCall translates a command entity into a Home Assistant service call.
func ToServiceCall(e entity.Entity) (ServiceCall, error) {
	call := ServiceCall{
		Domain: string(e.Domain()),
		Target: Target{EntityID: e.ID()},
	}

	switch v := e.(type) {
	case entity.Light:
		if v.On != nil && !*v.On {
			call.Service = "turn_off"
			return call, nil
		}
		call.Service = "turn_on"
		data := map[string]any{}
		if v.Brightness != nil {
			data["brightness"] = *v.Brightness
		}
		if len(v.HSColor) > 0 {
			data["hs_color"] = v.HSColor
		}
		if len(v.RGBColor) > 0 {
			data["rgb_color"] = v.RGBColor
		}
		if v.ColorTempKelvin != nil {
			data["color_temp_kelvin"] = *v.ColorTempKelvin
		}
		if v.Effect != nil {
			data["effect"] = *v.Effect
		}
		if len(data) > 0 {
			call.ServiceData = data
		}
		return call, nil

	case entity.Cover:
		switch {
		case v.Position != nil:
			call.Service = "set_cover_position"
			call.ServiceData = map[string]any{"position": *v.Position}
		case v.TiltPosition != nil:
			call.Service = "set_cover_tilt_position"
			call.ServiceData = map[string]any{"tilt_position": *v.TiltPosition}
		case v.State != nil && *v.State == entity.CoverOpen:
			call.Service = "open_cover"
		case v.State != nil && *v.State == entity.CoverClosed:
			call.Service = "close_cover"
		case v.State != nil && *v.State == entity.CoverStop:
			call.Service = "stop_cover"
		default:
			return ServiceCall{}, fmt.Errorf("%s: %w", e.ID(), ErrNoAction)
		}
		return call, nil

	case entity.Switch:
		if v.On == nil {
			return ServiceCall{}, fmt.Errorf("%s: %w", e.ID(), ErrNoAction)
		}
		call.Service = "turn_off"
		if *v.On {
			call.Service = "turn_on"
		}
		return call, nil

	default:
		return ServiceCall{}, fmt.Errorf("translating %T: %w", e, ErrUnknownKind)
	}
}
