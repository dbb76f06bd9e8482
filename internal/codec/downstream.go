package codec

import (
	"encoding/json"
	"fmt"

	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
)

// Kind is the message kind discriminator of a panel frame.
type Kind string

// Panel frame kinds. Domain kinds are used for both commands (panel to
// gateway) and state broadcasts (gateway to panel).
const (
	KindLight         Kind = "HA_ACTION_LIGHT"
	KindCover         Kind = "HA_ACTION_COVER"
	KindSwitch        Kind = "HA_ACTION_SWITCH"
	KindConfiguration Kind = "CONFIGURATION"
)

// ErrorCode enumerates the error codes sent to panels.
type ErrorCode string

// Error codes.
const (
	CodeInvalidData ErrorCode = "INVALID_DATA"
)

// InvalidDataMessage is the message sent with CodeInvalidData.
const InvalidDataMessage = "Invalid data"

// Envelope is an inbound panel frame with its payload left undecoded.
type Envelope struct {
	ID      *int            `json:"id,omitempty"`
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorResponse is sent to a panel whose frame could not be processed.
type ErrorResponse struct {
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
}

// Claim is the credential claim a panel sends as its first frame.
type Claim struct {
	InstallationID string `json:"installation_id"`
	Secret         string `json:"secret"`
}

type outbound struct {
	Type    Kind `json:"type"`
	Payload any  `json:"payload"`
}

type configurationFrame struct {
	Type   Kind   `json:"type"`
	Config string `json:"config"`
}

type lightPayload struct {
	EntityID            string    `json:"entity_id"`
	On                  *bool     `json:"on,omitempty"`
	Brightness          *int      `json:"brightness,omitempty"`
	ColorMode           *string   `json:"color_mode,omitempty"`
	ColorTempKelvin     *int      `json:"color_temp_kelvin,omitempty"`
	MinColorTempKelvin  *int      `json:"min_color_temp_kelvin,omitempty"`
	MaxColorTempKelvin  *int      `json:"max_color_temp_kelvin,omitempty"`
	MinMireds           *int      `json:"min_mireds,omitempty"`
	MaxMireds           *int      `json:"max_mireds,omitempty"`
	HSColor             []float64 `json:"hs_color,omitempty"`
	RGBColor            []int     `json:"rgb_color,omitempty"`
	Effect              *string   `json:"effect,omitempty"`
	EffectList          []string  `json:"effect_list,omitempty"`
	SupportedColorModes []string  `json:"supported_color_modes,omitempty"`
	SupportedFeatures   *int      `json:"supported_features,omitempty"`
	FriendlyName        *string   `json:"friendly_name,omitempty"`
	Icon                *string   `json:"icon,omitempty"`
}

type coverPayload struct {
	EntityID          string             `json:"entity_id"`
	State             *entity.CoverState `json:"state,omitempty"`
	Position          *int               `json:"position,omitempty"`
	TiltPosition      *int               `json:"tilt_position,omitempty"`
	SupportedFeatures *int               `json:"supported_features,omitempty"`
	FriendlyName      *string            `json:"friendly_name,omitempty"`
	Icon              *string            `json:"icon,omitempty"`
}

type switchPayload struct {
	EntityID     string  `json:"entity_id"`
	On           *bool   `json:"on,omitempty"`
	FriendlyName *string `json:"friendly_name,omitempty"`
	Icon         *string `json:"icon,omitempty"`
}

// KindOf returns the frame kind used for e.
func KindOf(e entity.Entity) Kind {
	switch e.(type) {
	case entity.Light:
		return KindLight
	case entity.Cover:
		return KindCover
	case entity.Switch:
		return KindSwitch
	default:
		return ""
	}
}

// KindForDomain returns the frame kind of domain d.
func KindForDomain(d entity.Domain) (Kind, bool) {
	switch d {
	case entity.DomainLight:
		return KindLight, true
	case entity.DomainCover:
		return KindCover, true
	case entity.DomainSwitch:
		return KindSwitch, true
	default:
		return "", false
	}
}

// IsCommand reports whether k is a domain command kind.
func (k Kind) IsCommand() bool {
	switch k {
	case KindLight, KindCover, KindSwitch:
		return true
	default:
		return false
	}
}

// EncodeEvent encodes e as a sparse broadcast frame.
func EncodeEvent(e entity.Entity) ([]byte, error) {
	var payload any
	switch v := e.(type) {
	case entity.Light:
		payload = lightPayload(v)
	case entity.Cover:
		payload = coverPayload(v)
	case entity.Switch:
		payload = switchPayload(v)
	default:
		return nil, fmt.Errorf("encoding %T: %w", e, ErrUnknownKind)
	}

	data, err := json.Marshal(outbound{Type: KindOf(e), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", KindOf(e), err)
	}
	return data, nil
}

// EncodeConfiguration encodes a configuration push frame.
func EncodeConfiguration(config string) ([]byte, error) {
	return json.Marshal(configurationFrame{Type: KindConfiguration, Config: config})
}

// EncodeError encodes an error response frame.
func EncodeError(code ErrorCode, message string) ([]byte, error) {
	return json.Marshal(ErrorResponse{ErrorCode: code, Message: message})
}

// DecodeEnvelope decodes the outer shape of a panel frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err) //nolint:errorlint // decode detail only
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return env, nil
}

// DecodeCommand decodes the payload of a command frame of the given kind.
// The payload must carry an entity_id belonging to the kind's domain.
func DecodeCommand(kind Kind, payload json.RawMessage) (entity.Entity, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}

	var (
		e   entity.Entity
		err error
	)
	switch kind {
	case KindLight:
		var p lightPayload
		err = json.Unmarshal(payload, &p)
		e = entity.Light(p)
	case KindCover:
		var p coverPayload
		err = json.Unmarshal(payload, &p)
		e = entity.Cover(p)
	case KindSwitch:
		var p switchPayload
		err = json.Unmarshal(payload, &p)
		e = entity.Switch(p)
	default:
		return nil, fmt.Errorf("decoding %q: %w", kind, ErrUnknownKind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err) //nolint:errorlint // decode detail only
	}

	if e.ID() == "" {
		return nil, fmt.Errorf("%w: entity_id is required", ErrInvalidPayload)
	}
	if domain, ok := entity.DomainOf(e.ID()); !ok || domain != e.Domain() {
		return nil, fmt.Errorf("%w: entity_id %q is not a %s", ErrInvalidPayload, e.ID(), e.Domain())
	}
	return e, nil
}

// DecodeClaim decodes a credential claim frame. Missing fields are left
// empty; the caller decides whether the claim is complete.
func DecodeClaim(data []byte) (Claim, error) {
	var c Claim
	if err := json.Unmarshal(data, &c); err != nil {
		return Claim{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err) //nolint:errorlint // decode detail only
	}
	return c, nil
}
