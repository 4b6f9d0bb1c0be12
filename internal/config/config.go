package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	Port        string
	PostgresDSN string

	RedisAddr     string
	RedisPassword string

	JWTSecret string
	TokenTTL  time.Duration

	CodeTTL            time.Duration
	ResendWindow       time.Duration
	ResendMaxPerWindow int
	VerifyWindow       time.Duration
	VerifyMaxPerWindow int

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	CORSOrigins []string
}

func Load() *Config {
	return &Config{
		Port:        getenv("PORT", "3000"),
		PostgresDSN: getenv("POSTGRES_DSN", ""),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		JWTSecret: getenv("JWT_SECRET", ""),
		TokenTTL:  getduration("TOKEN_TTL", 24*time.Hour),

		CodeTTL:            getduration("CODE_TTL", 30*time.Minute),
		ResendWindow:       getduration("RESEND_WINDOW", 15*time.Minute),
		ResendMaxPerWindow: getint("RESEND_MAX_PER_WINDOW", 5),
		VerifyWindow:       getduration("VERIFY_WINDOW", 15*time.Minute),
		VerifyMaxPerWindow: getint("VERIFY_MAX_PER_WINDOW", 10),

		SMTPHost: getenv("SMTP_HOST", ""),
		SMTPPort: getint("SMTP_PORT", 587),
		SMTPUser: getenv("EMAIL_USER", ""),
		SMTPPass: getenv("EMAIL_PASS", ""),
		SMTPFrom: getenv("EMAIL_FROM", "no-reply@stockdash.app"),

		CORSOrigins: []string{
			getenv("CORS_ORIGIN", "http://localhost:5173"),
			"http://localhost:3000",
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
