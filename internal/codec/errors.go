package codec

import "errors"

// Domain-specific errors for wire translation.
var (
	// ErrInvalidEnvelope is returned when a frame is not a JSON object with a
	// non-empty type discriminator.
	ErrInvalidEnvelope = errors.New("invalid message envelope")

	// ErrInvalidPayload is returned when a command payload is missing or does
	// not match the schema of its kind.
	ErrInvalidPayload = errors.New("invalid message payload")

	// ErrUnknownKind is returned when a kind has no codec.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrUnsupportedDomain is returned for upstream entities outside the
	// light, cover and switch domains.
	ErrUnsupportedDomain = errors.New("unsupported entity domain")

	// ErrNoAction is returned when a command carries nothing the hub can act on.
	ErrNoAction = errors.New("command has no actionable attributes")
)
