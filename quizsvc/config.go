package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dailyquiz/quizsvc/scheduler"
)

// Config is the validated process configuration, populated from environment
// variables at startup the way the teacher's main.go reads REDIS_ADDR /
// POD_INDEX / PRODUCTION_MODE — collected into one struct here instead of
// scattered os.Getenv calls, so every required secret is checked in one
// place before the engine starts.
type Config struct {
	ProductionMode bool

	StoreConnString string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	CivilZone string

	JWTSecret       string
	WebhookSecret   string
	PaymentCutoffHH int
	PaymentCutoffMM int

	NodeID string

	Schedule scheduler.Config

	// IntegrityPrivateKeyPEM, if set, is parsed into the RSA key the
	// Finalizer signs winner rows with; if empty, a fresh key is generated
	// at startup (acceptable for a single-node dev run, not for production
	// where winners must verify against a stable published public key).
	IntegrityPrivateKeyPEM string
}

// LoadConfig reads the process configuration from the environment, refusing
// to start in production mode if a required secret is missing or weak —
// mirrors the teacher's JWT_SECRET init-panic strictness (auth/jwt.go),
// centralized here rather than repeated per package.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ProductionMode:  os.Getenv("PRODUCTION_MODE") == "true",
		StoreConnString: getEnv("DATABASE_URL", "postgres://localhost:5432/quizsvc"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		CivilZone:       getEnv("CIVIL_ZONE", "Asia/Kolkata"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		WebhookSecret:   os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		PaymentCutoffHH: getEnvInt("PAYMENT_CUTOFF_HH", 7),
		PaymentCutoffMM: getEnvInt("PAYMENT_CUTOFF_MM", 30),
		NodeID:          getEnv("NODE_ID", generateNodeID()),
		Schedule:        scheduler.DefaultConfig(),
	}

	if lim := os.Getenv("SCHEDULER_TICK_SECONDS"); lim != "" {
		if secs, err := strconv.Atoi(lim); err == nil && secs > 0 {
			cfg.Schedule.TickInterval = time.Duration(secs) * time.Second
		}
	}

	cfg.IntegrityPrivateKeyPEM = os.Getenv("INTEGRITY_SIGNING_KEY_PEM")

	if cfg.ProductionMode {
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("config: JWT_SECRET must be at least 32 characters in production")
		}
		if cfg.WebhookSecret == "" {
			return nil, fmt.Errorf("config: PAYMENT_WEBHOOK_SECRET is required in production")
		}
		if cfg.IntegrityPrivateKeyPEM == "" {
			return nil, fmt.Errorf("config: INTEGRITY_SIGNING_KEY_PEM is required in production")
		}
	} else if len(cfg.JWTSecret) < 32 {
		// Dev/test convenience default; never used when ProductionMode is set.
		cfg.JWTSecret = "dev-only-insecure-secret-do-not-use-in-prod!!"
	}

	return cfg, nil
}

// LoadIntegrityKey parses cfg.IntegrityPrivateKeyPEM if present, otherwise
// generates an ephemeral RSA key for local/dev use — every restart without
// a configured key invalidates previously published winner signatures,
// which is acceptable outside production only.
func LoadIntegrityKey(cfg *Config) (*rsa.PrivateKey, error) {
	if cfg.IntegrityPrivateKeyPEM == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	block, _ := pem.Decode([]byte(cfg.IntegrityPrivateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("config: failed to decode INTEGRITY_SIGNING_KEY_PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("config: failed to parse integrity signing key: %w", err)
	}
	return key, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func generateNodeID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "quizsvc"
	}
	return hostname + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}
