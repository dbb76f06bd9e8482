package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/dawidpodolak/panelsense-gateway/internal/auth"
	"github.com/dawidpodolak/panelsense-gateway/internal/codec"
)

// CredentialStore is the subset of the client repository the gateway needs.
type CredentialStore interface {
	Get(ctx context.Context, installationID string) (*auth.Client, error)
	UpdateConfiguration(ctx context.Context, installationID, config string) error
	UpdateLastSeen(ctx context.Context, installationID string) error
}

// Authenticator validates a panel's credential claim.
// It has no state of its own and never touches the Registry.
type Authenticator struct {
	store  CredentialStore
	verify func(secret, hash string) (bool, error)
}

// NewAuthenticator creates an Authenticator backed by store.
func NewAuthenticator(store CredentialStore) *Authenticator {
	return &Authenticator{store: store, verify: auth.VerifySecret}
}

// Authenticate decodes frame as a credential claim and checks it against
// the store. On success it returns an authenticated, unregistered Session
// bound to conn.
func (a *Authenticator) Authenticate(ctx context.Context, frame []byte, conn Conn) (*Session, error) {
	claim, err := codec.DecodeClaim(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidClaim, err)
	}
	if claim.InstallationID == "" || claim.Secret == "" {
		return nil, fmt.Errorf("%w: installation_id and secret are required", ErrInvalidClaim)
	}

	client, err := a.store.Get(ctx, claim.InstallationID)
	if err != nil {
		if errors.Is(err, auth.ErrClientNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownClient, claim.InstallationID)
		}
		return nil, fmt.Errorf("looking up %s: %w", claim.InstallationID, err)
	}
	if !client.IsActive {
		return nil, fmt.Errorf("%w: %s is inactive", ErrUnknownClient, claim.InstallationID)
	}

	ok, err := a.verify(claim.Secret, client.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadSecret, claim.InstallationID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadSecret, claim.InstallationID)
	}

	return newSession(conn, client), nil
}
