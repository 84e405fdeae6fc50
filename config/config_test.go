package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func writeJSON(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestBuild_Defaults(t *testing.T) {
	c := build(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, "8080", c.AppPort)
	assert.Equal(t, "mysql", c.DBDriver)
	assert.Equal(t, "3306", c.DBPort)
	assert.Equal(t, 72, c.ResetTokenTTLHours)
	assert.Equal(t, "http://localhost:3000/change-password/", c.ResetURLBase)
	assert.Equal(t, []string{"*"}, c.AllowedOrigins)
	assert.Equal(t, 6379, c.RedisPort)
}

func TestBuild_JSONSections(t *testing.T) {
	path := writeJSON(t, `{
		"app": {"AppPort": "9000", "AllowedOrigins": ["http://a", "http://b"]},
		"database": {"DBDriver": "postgres", "DBName": "feed"},
		"redis": {"RedisPort": 6380},
		"smtp": {"SMTPHost": "mail.local", "SMTPTLS": true},
		"log": {"Level": "debug", "MaxSizeMB": 5},
		"reset": {"URLBase": "https://app/reset/", "TokenTTLHours": 1}
	}`)
	c := build(path)
	assert.Equal(t, "9000", c.AppPort)
	assert.Equal(t, []string{"http://a", "http://b"}, c.AllowedOrigins)
	assert.Equal(t, "postgres", c.DBDriver)
	assert.Equal(t, "5432", c.DBPort)
	assert.Equal(t, "feed", c.DBName)
	assert.Equal(t, 6380, c.RedisPort)
	assert.Equal(t, "mail.local", c.SMTPHost)
	assert.True(t, c.SMTPTLS)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 5, c.LogMaxSizeMB)
	assert.Equal(t, "https://app/reset/", c.ResetURLBase)
	assert.Equal(t, 1, c.ResetTokenTTLHours)
}

func TestBuild_EnvWins(t *testing.T) {
	path := writeJSON(t, `{"app": {"AppPort": "9000"}, "database": {"DBDriver": "mysql"}}`)
	t.Setenv("APP_PORT", "7000")
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://x , ,http://y")
	t.Setenv("RESET_TOKEN_TTL_HOURS", "2")

	c := build(path)
	assert.Equal(t, "7000", c.AppPort)
	assert.Equal(t, "postgres", c.DBDriver)
	assert.Equal(t, []string{"http://x", "http://y"}, c.AllowedOrigins)
	assert.Equal(t, 2, c.ResetTokenTTLHours)
}

func TestBuild_InvalidJSONFallsBackToDefaults(t *testing.T) {
	c := build(writeJSON(t, `{not json`))
	assert.Equal(t, "8080", c.AppPort)
}

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, "custom", buildDSN(AppConfig{DatabaseURI: "custom"}))
	assert.Equal(t,
		"root:pw@tcp(db:3306)/app?charset=utf8mb4&parseTime=True&loc=UTC",
		buildDSN(AppConfig{DBDriver: "mysql", DBUser: "root", DBPassword: "pw", DBHost: "db", DBPort: "3306", DBName: "app"}))
	assert.Contains(t,
		buildDSN(AppConfig{DBDriver: "postgres", DBUser: "u", DBHost: "db", DBPort: "5432", DBName: "app"}),
		"host=db port=5432 user=u")

	_, err := dialectorFor(AppConfig{DBDriver: "oracle"})
	assert.Error(t, err)
}

func TestToGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Info, toGormLogLevel("debug"))
	assert.Equal(t, logger.Warn, toGormLogLevel("info"))
	assert.Equal(t, logger.Silent, toGormLogLevel("silent"))
}
