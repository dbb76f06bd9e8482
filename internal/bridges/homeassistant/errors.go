package homeassistant

import "errors"

// Domain errors for the Home Assistant adapter.
var (
	// ErrNotConnected is returned by Dispatch while no connection is established.
	ErrNotConnected = errors.New("homeassistant: not connected")

	// ErrAuthInvalid is returned when Home Assistant rejects the access token.
	ErrAuthInvalid = errors.New("homeassistant: access token rejected")

	// ErrHandshake is returned when the hub breaks the handshake protocol.
	ErrHandshake = errors.New("homeassistant: handshake failed")

	// ErrSubscribe is returned when the state_changed subscription is refused.
	ErrSubscribe = errors.New("homeassistant: subscription failed")

	// ErrDisconnected marks the loss of an established connection.
	ErrDisconnected = errors.New("homeassistant: connection lost")

	// ErrReconnectExhausted is returned by Run when max_attempts is reached.
	ErrReconnectExhausted = errors.New("homeassistant: reconnect attempts exhausted")
)
