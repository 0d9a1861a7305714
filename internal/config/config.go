// Package config reads service settings from HR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hrms.org/internal/notify"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	PostgresDSN   string
	RedisAddr     string
	RedisPassword string

	JWTSecret   string
	JWTIssuer   string
	TokenTTL    time.Duration
	ResetTTL    time.Duration
	ResetURL    string
	OpTimeout   time.Duration
	LockLease   time.Duration
	KeepOnReset bool

	SMTP           notify.SMTPConfig
	LogResetBodies bool

	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
}

func Load() Config {
	return Config{
		HTTPAddr:      getenv("HR_HTTP_ADDR", ":8080"),
		GRPCAddr:      getenv("HR_GRPC_ADDR", ":9090"),
		PostgresDSN:   getenv("HR_PG_DSN", ""),
		RedisAddr:     getenv("HR_REDIS_ADDR", ""),
		RedisPassword: getenv("HR_REDIS_PASSWORD", ""),
		JWTSecret:     getenvSecret("HR_JWT_SECRET"),
		JWTIssuer:     getenv("HR_JWT_ISSUER", "hrms"),
		TokenTTL:      getenvDuration("HR_TOKEN_TTL", 24*time.Hour),
		ResetTTL:      getenvDuration("HR_RESET_TTL", 10*time.Minute),
		ResetURL:      getenv("HR_RESET_URL", "http://localhost:3000/reset-password"),
		OpTimeout:     getenvDuration("HR_OP_TIMEOUT", 5*time.Second),
		LockLease:     getenvDuration("HR_LOCK_LEASE", 30*time.Second),
		KeepOnReset:   getenvBool("HR_KEEP_SESSIONS_ON_RESET", false),
		SMTP: notify.SMTPConfig{
			Host:     getenv("HR_SMTP_HOST", ""),
			Port:     getenvInt("HR_SMTP_PORT", 587),
			Username: getenv("HR_SMTP_USERNAME", ""),
			Password: getenvSecret("HR_SMTP_PASSWORD"),
			From:     getenv("HR_SMTP_FROM", "no-reply@hrms.local"),
		},
		LogResetBodies: getenvBool("HR_LOG_RESET_BODIES", false),
		RateBurst:      getenvInt("HR_RATE_BURST", 20),
		RatePerSec:     getenvInt("HR_RATE_PER_SEC", 10),
		MaxBodyBytes:   int64(getenvInt("HR_MAX_BODY_BYTES", 1<<20)),
	}
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("HR_JWT_SECRET must be at least 32 bytes"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("HR_TOKEN_TTL must be positive, got %s", c.TokenTTL))
	}
	if c.ResetTTL <= 0 {
		errs = append(errs, fmt.Errorf("HR_RESET_TTL must be positive, got %s", c.ResetTTL))
	}
	// The lease has to outlive the store calls made under one account lock.
	if c.LockLease <= 2*c.OpTimeout {
		errs = append(errs, fmt.Errorf("HR_LOCK_LEASE (%s) must exceed twice HR_OP_TIMEOUT (%s)", c.LockLease, c.OpTimeout))
	}
	if c.RateBurst < 1 || c.RatePerSec < 1 {
		errs = append(errs, errors.New("HR_RATE_BURST and HR_RATE_PER_SEC must be at least 1"))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// getenvSecret prefers KEY_FILE so secrets can be mounted instead of exported.
func getenvSecret(key string) string {
	if file := os.Getenv(key + "_FILE"); file != "" {
		if data, err := os.ReadFile(file); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return os.Getenv(key)
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}
