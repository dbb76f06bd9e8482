package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClientRepository persists panel credential records.
type ClientRepository interface {
	Create(ctx context.Context, client *Client) error
	Get(ctx context.Context, installationID string) (*Client, error)
	List(ctx context.Context) ([]Client, error)
	Delete(ctx context.Context, installationID string) error
	UpdateConfiguration(ctx context.Context, installationID, config string) error
	UpdateLastSeen(ctx context.Context, installationID string) error
	SetActive(ctx context.Context, installationID string, active bool) error
}

// SQLiteClientRepository implements ClientRepository on the sense_clients table.
type SQLiteClientRepository struct {
	db *sql.DB
}

// NewClientRepository creates a SQLite-backed client repository.
func NewClientRepository(db *sql.DB) *SQLiteClientRepository {
	return &SQLiteClientRepository{db: db}
}

const clientColumns = `installation_id, name, secret_hash, configuration, is_active,
	last_seen_at, created_at, updated_at`

// Create inserts a new client record. SecretHash must already be hashed.
func (r *SQLiteClientRepository) Create(ctx context.Context, client *Client) error {
	if !IsValidInstallationID(client.InstallationID) {
		return fmt.Errorf("%w: %q", ErrInvalidInstallationID, client.InstallationID)
	}

	now := time.Now().UTC().Truncate(time.Second)
	client.CreatedAt = now
	client.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sense_clients (`+clientColumns+`)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		client.InstallationID, client.Name, client.SecretHash, client.Configuration,
		boolToInt(client.IsActive), formatTime(now), formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrClientExists, client.InstallationID)
		}
		return fmt.Errorf("creating client: %w", err)
	}
	return nil
}

// Get retrieves a client by installation identity.
func (r *SQLiteClientRepository) Get(ctx context.Context, installationID string) (*Client, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM sense_clients WHERE installation_id = ?`, installationID)

	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return c, nil
}

// List returns all clients ordered by installation identity.
func (r *SQLiteClientRepository) List(ctx context.Context) ([]Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM sense_clients ORDER BY installation_id`)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	clients := []Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating clients: %w", err)
	}
	return clients, nil
}

// Delete removes a client record.
func (r *SQLiteClientRepository) Delete(ctx context.Context, installationID string) error {
	return r.execOne(ctx, "deleting client",
		"DELETE FROM sense_clients WHERE installation_id = ?", installationID)
}

// UpdateConfiguration replaces the configuration blob of a client.
func (r *SQLiteClientRepository) UpdateConfiguration(ctx context.Context, installationID, config string) error {
	return r.execOne(ctx, "updating configuration",
		"UPDATE sense_clients SET configuration = ?, updated_at = ? WHERE installation_id = ?",
		config, formatTime(time.Now()), installationID)
}

// UpdateLastSeen stamps the client's last_seen_at with the current time.
func (r *SQLiteClientRepository) UpdateLastSeen(ctx context.Context, installationID string) error {
	return r.execOne(ctx, "updating last seen",
		"UPDATE sense_clients SET last_seen_at = ? WHERE installation_id = ?",
		formatTime(time.Now()), installationID)
}

// SetActive enables or disables a client. Inactive clients are refused at
// authentication.
func (r *SQLiteClientRepository) SetActive(ctx context.Context, installationID string, active bool) error {
	return r.execOne(ctx, "updating active flag",
		"UPDATE sense_clients SET is_active = ?, updated_at = ? WHERE installation_id = ?",
		boolToInt(active), formatTime(time.Now()), installationID)
}

// execOne runs a statement expected to touch exactly one client row.
func (r *SQLiteClientRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrClientNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*Client, error) {
	var (
		c                    Client
		isActive             int
		lastSeen             sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(&c.InstallationID, &c.Name, &c.SecretHash, &c.Configuration,
		&isActive, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning client: %w", err)
	}

	c.IsActive = isActive != 0
	if lastSeen.Valid {
		t := parseTime(lastSeen.String)
		c.LastSeenAt = &t
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
