// Package testutil provides database helpers shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"portfolio-tracker/config"
	"portfolio-tracker/database"
	"portfolio-tracker/models"
)

// NewTestDB opens a migrated SQLite database in the test's temp dir. It is
// closed automatically when the test ends.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
	}, zerolog.Nop())
	require.NoError(t, err, "open test database")
	require.NoError(t, database.Migrate(db), "migrate test database")

	t.Cleanup(func() {
		if err := database.Close(db); err != nil {
			t.Logf("Warning: failed to close test database: %v", err)
		}
	})
	return db
}

// CreateUser inserts a local user and returns it.
func CreateUser(t *testing.T, db *gorm.DB, name, email string) models.User {
	t.Helper()

	password := "hashed"
	user := models.User{Name: name, Email: email, Password: &password, Provider: models.ProviderLocal}
	require.NoError(t, db.Create(&user).Error, "create user %s", email)
	return user
}
