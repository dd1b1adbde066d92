package config

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, QuoteSourceYahoo, cfg.QuoteSource)
	assert.Equal(t, 5*time.Minute, cfg.QuoteCacheTTL)
	assert.Equal(t, 8, cfg.QuoteConcurrency)
	assert.False(t, cfg.AuthRequired)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("QUOTE_CACHE_TTL", "30s")
	t.Setenv("QUOTE_SOURCE", "alphavantage")
	t.Setenv("ALPHA_VANTAGE_API_KEY", "demo")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Database.SQLitePath)
	assert.True(t, cfg.AuthRequired)
	assert.Equal(t, 30*time.Second, cfg.QuoteCacheTTL)
	assert.Equal(t, QuoteSourceAlphaVantage, cfg.QuoteSource)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("QUOTE_CACHE_TTL", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:         DatabaseConfig{Driver: "postgres"},
			QuoteSource:      QuoteSourceYahoo,
			JWTSecret:        "secret",
			QuoteConcurrency: 4,
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.QuoteSource = QuoteSourceAlphaVantage
	assert.Error(t, cfg.Validate(), "alpha vantage needs an api key")

	cfg = valid()
	cfg.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.QuoteConcurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", User: "u", Password: "p", Name: "n", Port: "5432", SSLMode: "disable", TimeZone: "UTC"}
	assert.Equal(t, "host=db user=u password=p dbname=n port=5432 sslmode=disable TimeZone=UTC", d.DSN())

	d.URL = "postgres://u:p@db/n"
	assert.Equal(t, "postgres://u:p@db/n", d.DSN())
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	mr.Close()
	_, err = NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
