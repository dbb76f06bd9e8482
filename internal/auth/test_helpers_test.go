package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/database"
	_ "github.com/dawidpodolak/panelsense-gateway/migrations" // registers the schema
)

// testDB opens a migrated temporary database.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// seedClient stores an active client whose secret is secret.
func seedClient(t *testing.T, repo *SQLiteClientRepository, id, secret string) *Client {
	t.Helper()

	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("hashing secret: %v", err)
	}

	c := &Client{
		InstallationID: id,
		Name:           "Panel " + id,
		SecretHash:     hash,
		IsActive:       true,
	}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("creating client %s: %v", id, err)
	}
	return c
}
