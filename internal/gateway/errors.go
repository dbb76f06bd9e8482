package gateway

import "errors"

// Admission errors. All of them are connection-fatal.
var (
	// ErrInvalidClaim is returned when the first frame is not a complete
	// credential claim.
	ErrInvalidClaim = errors.New("invalid credential claim")

	// ErrUnknownClient is returned when no active credential record exists
	// for the claimed installation identity.
	ErrUnknownClient = errors.New("unknown client")

	// ErrBadSecret is returned when the claimed secret does not match.
	ErrBadSecret = errors.New("bad secret")
)

// Delivery errors.
var (
	// ErrSessionNotFound is returned when no live session exists for an identity.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConnClosed is returned by Conn implementations after Close.
	ErrConnClosed = errors.New("connection closed")

	// ErrSlowConsumer is returned when a panel does not drain its outbound
	// queue in time. The connection is closed when it is returned.
	ErrSlowConsumer = errors.New("slow consumer")
)
