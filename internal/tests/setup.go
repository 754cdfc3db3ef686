package tests

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/db"
)

// OpenMigrated opens the database at databaseURL and applies every migration
func OpenMigrated(ctx context.Context, databaseURL string, log logrus.FieldLogger) (*sql.DB, error) {
	database, err := db.Open(ctx, databaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return database, nil
}

// TruncateAuthTables truncates auth-related tables for a clean test state.
func TruncateAuthTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx,
		"TRUNCATE TABLE refresh_tokens, sessions, verification_codes, users RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}
