package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	DBDriver      string
	DBConn        string
	LogLevel      string
	JWTSecret     string
	JWTTTL        time.Duration
	HMACSecret    string
	EncryptionKey []byte
	Timezone      string
	CORSOrigins   string

	UploadDir     string
	UploadURLPath string
	MaxUploadMB   int64

	CompanyName    string
	CompanyAddress string
	CompanyCity    string

	SMTPHost         string
	SMTPPort         string
	SMTPUsername     string
	SMTPPassword     string
	SenderEmail      string
	DigestRecipients []string
	DigestCron       string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBDriver:         getEnv("DB_DRIVER", "postgres"),
		DBConn:           getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=installments sslmode=disable"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:        getEnv("JWT_SECRET", "secret"),
		HMACSecret:       getEnv("HMAC_SECRET", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		Timezone:         getEnv("TIMEZONE", "Asia/Tashkent"),
		CORSOrigins:      getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		UploadDir:        getEnv("UPLOAD_DIR", "./uploads"),
		UploadURLPath:    getEnv("UPLOAD_URL_PATH", "/uploads"),
		CompanyName:      getEnv("COMPANY_NAME", "Mebel Market"),
		CompanyAddress:   getEnv("COMPANY_ADDRESS", ""),
		CompanyCity:      getEnv("COMPANY_CITY", "Tashkent"),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnv("SMTP_PORT", "587"),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		SenderEmail:      getEnv("SENDER_EMAIL", ""),
		DigestRecipients: splitList(getEnv("DIGEST_RECIPIENTS", "")),
		DigestCron:       getEnv("DEBTOR_DIGEST_CRON", "0 9 * * *"),
	}

	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite3" {
		return nil, fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", cfg.DBDriver)
	}
	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.HMACSecret == "" {
		return nil, fmt.Errorf("HMAC_SECRET is required")
	}

	key, err := hex.DecodeString(getEnv("ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"))
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 16, 24 or 32 bytes, got %d", len(key))
	}
	cfg.EncryptionKey = key

	ttl, err := time.ParseDuration(getEnv("JWT_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	cfg.JWTTTL = ttl

	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_MB", "10"), 10, 64)
	if err != nil || maxUpload <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be a positive integer")
	}
	cfg.MaxUploadMB = maxUpload

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location resolves the business time zone used for calendar-day comparisons.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// MailEnabled reports whether the debtor digest can be delivered.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SenderEmail != "" && len(c.DigestRecipients) > 0
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
