package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	JWTTTLHours        int
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database: "mysql" or "postgres"
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for reset tokens, logout blacklist and caching
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// SMTP for password reset mails
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLS      bool
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Password reset
	ResetURLBase       string
	ResetTokenTTLHours int
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	cfg = build(filepath.Join("config", "config.json"))

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// build layers config.json over defaults; .env and the process environment override both.
func build(jsonPath string) AppConfig {
	var c AppConfig
	if err := loadJSONConfig(jsonPath, &c); err != nil {
		log.Printf("ignoring invalid %s: %v", jsonPath, err)
	}
	applyDefaults(&c)
	// .env never overrides variables already exported
	_ = godotenv.Load()
	applyEnvOverrides(&c)
	return c
}

// fileConfig mirrors the grouped sections of config.json.
type fileConfig struct {
	App struct {
		AppPort            string
		JWTSecret          string
		JWTTTLHours        int
		RateLimitPerMinute int
		AllowedOrigins     []string
	} `json:"app"`
	Database struct {
		DBDriver    string
		DatabaseURI string
		DBHost      string
		DBPort      string
		DBUser      string
		DBPassword  string
		DBName      string
	} `json:"database"`
	Redis struct {
		RedisHost     string
		RedisPort     int
		RedisDB       int
		RedisPassword string
	} `json:"redis"`
	SMTP struct {
		SMTPHost     string
		SMTPPort     int
		SMTPUsername string
		SMTPPassword string
		SMTPFrom     string
		SMTPFromName string
		SMTPTLS      bool
	} `json:"smtp"`
	Log struct {
		Level      string
		Path       string
		GinMode    string
		GinPath    string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	} `json:"log"`
	Reset struct {
		URLBase       string
		TokenTTLHours int
	} `json:"reset"`
}

// loadJSONConfig reads JSON file into out if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var fc fileConfig
	if err := json.NewDecoder(f).Decode(&fc); err != nil {
		return err
	}

	out.AppPort = fc.App.AppPort
	out.JWTSecret = fc.App.JWTSecret
	out.JWTTTLHours = fc.App.JWTTTLHours
	out.RateLimitPerMinute = fc.App.RateLimitPerMinute
	out.AllowedOrigins = fc.App.AllowedOrigins

	db := fc.Database
	out.DBDriver, out.DatabaseURI = strings.ToLower(db.DBDriver), db.DatabaseURI
	out.DBHost, out.DBPort, out.DBUser, out.DBPassword, out.DBName = db.DBHost, db.DBPort, db.DBUser, db.DBPassword, db.DBName

	out.RedisHost, out.RedisPort, out.RedisDB, out.RedisPassword = fc.Redis.RedisHost, fc.Redis.RedisPort, fc.Redis.RedisDB, fc.Redis.RedisPassword

	sm := fc.SMTP
	out.SMTPHost, out.SMTPPort, out.SMTPUsername, out.SMTPPassword = sm.SMTPHost, sm.SMTPPort, sm.SMTPUsername, sm.SMTPPassword
	out.SMTPFrom, out.SMTPFromName, out.SMTPTLS = sm.SMTPFrom, sm.SMTPFromName, sm.SMTPTLS

	lg := fc.Log
	out.LogLevel, out.LogPath, out.GinMode, out.GinPath = lg.Level, lg.Path, lg.GinMode, lg.GinPath
	out.LogMaxSizeMB, out.LogMaxBackups, out.LogMaxAgeDays, out.LogCompress = lg.MaxSizeMB, lg.MaxBackups, lg.MaxAgeDays, lg.Compress

	out.ResetURLBase, out.ResetTokenTTLHours = fc.Reset.URLBase, fc.Reset.TokenTTLHours
	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.JWTTTLHours == 0 {
		c.JWTTTLHours = 72
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		if c.DBDriver == "postgres" {
			c.DBPort = "5432"
		} else {
			c.DBPort = "3306"
		}
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "jellyfish"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.ResetURLBase == "" {
		c.ResetURLBase = "http://localhost:3000/change-password/"
	}
	if c.ResetTokenTTLHours == 0 {
		c.ResetTokenTTLHours = 72
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	envString("APP_PORT", &c.AppPort)
	envString("JWT_SECRET", &c.JWTSecret)
	envInt("JWT_TTL_HOURS", &c.JWTTTLHours)
	envString("GIN_MODE", &c.GinMode)
	envString("GIN_PATH", &c.GinPath)
	envInt("RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}

	if envString("DB_DRIVER", &c.DBDriver) {
		c.DBDriver = strings.ToLower(c.DBDriver)
	}
	envString("DATABASE_URI", &c.DatabaseURI)
	envString("DB_HOST", &c.DBHost)
	envString("DB_PORT", &c.DBPort)
	envString("DB_USER", &c.DBUser)
	envString("DB_PASSWORD", &c.DBPassword)
	envString("DB_NAME", &c.DBName)

	envString("SMTP_HOST", &c.SMTPHost)
	envInt("SMTP_PORT", &c.SMTPPort)
	envString("SMTP_USERNAME", &c.SMTPUsername)
	envString("SMTP_PASSWORD", &c.SMTPPassword)
	envString("SMTP_FROM", &c.SMTPFrom)
	envString("SMTP_FROM_NAME", &c.SMTPFromName)
	envBool("SMTP_TLS", &c.SMTPTLS)

	envString("REDIS_HOST", &c.RedisHost)
	envInt("REDIS_PORT", &c.RedisPort)
	envInt("REDIS_DB", &c.RedisDB)
	envString("REDIS_PASSWORD", &c.RedisPassword)

	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_PATH", &c.LogPath)
	envInt("LOG_MAX_SIZE_MB", &c.LogMaxSizeMB)
	envInt("LOG_MAX_BACKUPS", &c.LogMaxBackups)
	envInt("LOG_MAX_AGE_DAYS", &c.LogMaxAgeDays)
	envBool("LOG_COMPRESS", &c.LogCompress)

	envString("RESET_URL_BASE", &c.ResetURLBase)
	envInt("RESET_TOKEN_TTL_HOURS", &c.ResetTokenTTLHours)
}

// envString overwrites dst when key is set and reports whether it did.
func envString(key string, dst *string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	*dst = v
	return true
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		*dst = mustParseInt(v)
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true"
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
