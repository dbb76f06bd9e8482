package mirror

import "errors"

var (
	// ErrUnknownTopic is returned for a message outside the command tree.
	ErrUnknownTopic = errors.New("mirror: not a command topic")

	// ErrUnsupportedDomain is returned for a command addressed to a domain
	// the gateway does not relay.
	ErrUnsupportedDomain = errors.New("mirror: unsupported domain")
)
