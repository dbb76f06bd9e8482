package homeassistant

import "github.com/dawidpodolak/panelsense-gateway/internal/codec"

// Message types of the Home Assistant websocket API.
const (
	typeAuthRequired    = "auth_required"
	typeAuth            = "auth"
	typeAuthOK          = "auth_ok"
	typeAuthInvalid     = "auth_invalid"
	typeSubscribeEvents = "subscribe_events"
	typeResult          = "result"
	typeEvent           = "event"
	typeCallService     = "call_service"
	typePing            = "ping"
	typePong            = "pong"

	eventStateChanged = "state_changed"
)

// message is any frame received from the hub.
type message struct {
	ID        int64        `json:"id,omitempty"`
	Type      string       `json:"type"`
	Success   *bool        `json:"success,omitempty"`
	Error     *resultError `json:"error,omitempty"`
	Event     *event       `json:"event,omitempty"`
	HAVersion string       `json:"ha_version,omitempty"`
	Message   string       `json:"message,omitempty"`
}

type resultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type event struct {
	EventType string    `json:"event_type"`
	Data      eventData `json:"data"`
}

type eventData struct {
	EntityID string `json:"entity_id"`
	// NewState is null when the entity was removed.
	NewState *codec.State `json:"new_state"`
}

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type subscribeMessage struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
}

type pingMessage struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type callServiceMessage struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
	codec.ServiceCall
}
