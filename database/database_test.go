package database

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"portfolio-tracker/config"
	"portfolio-tracker/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestCreateInBatches(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UTC()
	prices := make([]models.StockPrice, 0, 7)
	for i := 0; i < 7; i++ {
		prices = append(prices, models.StockPrice{
			Symbol:    "AAPL",
			Price:     decimal.NewFromInt(int64(100 + i)),
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		})
	}

	require.NoError(t, CreateInBatches(db, prices, 3))

	var count int64
	require.NoError(t, db.Model(&models.StockPrice{}).Count(&count).Error)
	assert.Equal(t, int64(7), count)
}

func TestCreateInBatches_InvalidBatchSize(t *testing.T) {
	db := openTestDB(t)
	err := CreateInBatches(db, []models.StockPrice{{Symbol: "AAPL"}}, 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestCreateInBatches_Empty(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, CreateInBatches[models.StockPrice](db, nil, 10))
}

func TestGormWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	w := gormWriter{log: zerolog.New(&buf).Level(zerolog.InfoLevel)}

	lastLevel := func() string {
		t.Helper()
		var entry map[string]interface{}
		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
		return entry["level"].(string)
	}

	w.Printf("%s %s\n[%.3fms] [rows:%v] %s", "db.go:1", errors.New("no such table: x"), 1.2, 0, "SELECT * FROM x")
	assert.Equal(t, "error", lastLevel())

	w.Printf("%s %s\n[%.3fms] [rows:%v] %s", "db.go:1", "SLOW SQL >= 200ms", 250.0, 1, "SELECT 1")
	assert.Equal(t, "warn", lastLevel())

	w.Printf("%s\n[warn] "+"deprecated option", "db.go:1")
	assert.Equal(t, "warn", lastLevel())

	w.Printf("%s\n[%.3fms] [rows:%v] %s", "db.go:1", 0.4, 1, "SELECT 1")
	assert.Equal(t, "info", lastLevel())
}

func TestOpen_LogsFailedQueriesAtDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	db, err := Open(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	}, zerolog.New(&buf).Level(zerolog.InfoLevel))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.Error(t, db.Exec("SELECT * FROM missing_table").Error)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "missing_table")
}
