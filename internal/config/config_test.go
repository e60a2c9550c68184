package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("AUDIT_EXPIRY_WINDOW", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 14*24*time.Hour, cfg.Audit.ExpiryWindow)
	assert.Equal(t, cfg.Database.Path, cfg.DatabaseDSN())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_CORSOrigins(t *testing.T) {
	t.Setenv("SERVER_CORS_ORIGINS", " https://dash.example.com, ,http://localhost:3000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://dash.example.com", "http://localhost:3000"}, cfg.Server.CORSOrigins)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("AUDIT_TEST_EXPIRY=72h\n"), 0o600))
	t.Setenv("AUDIT_EXPIRY_WINDOW", "")
	t.Cleanup(func() { os.Unsetenv("AUDIT_TEST_EXPIRY") })

	_, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "72h", os.Getenv("AUDIT_TEST_EXPIRY"))
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"unsupported driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"postgres with url", func(c *Config) { c.Database.Driver = "postgres"; c.Database.URL = "postgres://x" }, false},
		{"no retries", func(c *Config) { c.Audit.RetryAttempts = 0 }, true},
		{"rate limit without window", func(c *Config) { c.Server.RateLimit = 10; c.Server.RateWindow = 0 }, true},
		{"rate limit off", func(c *Config) { c.Server.RateLimit = 0; c.Server.RateWindow = 0 }, false},
		{"production default secret", func(c *Config) { c.Server.Environment = "production" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			cfg.Security.JWTSecret = defaultJWTSecret
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseDSN_Postgres(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "audit", SSLMode: "disable"}}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=audit sslmode=disable", cfg.DatabaseDSN())
}
