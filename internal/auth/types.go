package auth

import (
	"errors"
	"regexp"
	"time"
)

// installationIDPattern is the accepted installation identity format:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var installationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidInstallationID reports whether id can be registered as a panel identity.
func IsValidInstallationID(id string) bool {
	return installationIDPattern.MatchString(id)
}

// Role is the authorisation tier carried in admin tokens.
type Role string

// RoleAdmin may manage panel records and push configuration.
const RoleAdmin Role = "admin"

// Client is the stored credential record of one panel installation.
type Client struct {
	InstallationID string     `json:"installation_id"`
	Name           string     `json:"name"`
	SecretHash     string     `json:"-"` // never serialised
	Configuration  string     `json:"configuration,omitempty"`
	IsActive       bool       `json:"is_active"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Sentinel errors for auth operations.
var (
	ErrClientNotFound        = errors.New("client not found")
	ErrClientExists          = errors.New("client already exists")
	ErrInvalidInstallationID = errors.New("invalid installation id")
	ErrTokenInvalid          = errors.New("invalid token")
	ErrForbidden             = errors.New("insufficient permissions")
	ErrInvalidSecretHash     = errors.New("invalid secret hash")
)
