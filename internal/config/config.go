package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/florelia/sisters/internal/persona"
)

// Config contains all runtime settings for the sisters chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	EncryptionKey      string
	IdentifierHashSalt string
	KeyDerivationSalt  string

	DefaultPersona         persona.Persona
	PersonaSwitchThreshold float64

	ConversationHistoryLimit int
	DataRetention            time.Duration
	RetentionSweepInterval   time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("SISTERS_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("SISTERS_METRICS_NAMESPACE", "sisters"),
		AllowAnyOrigin:           false,
		EncryptionKey:            stringsTrimSpace("ENCRYPTION_KEY"),
		IdentifierHashSalt:       stringsTrimSpace("IDENTIFIER_HASH_SALT"),
		KeyDerivationSalt:        stringsTrimSpace("KEY_DERIVATION_SALT"),
		DefaultPersona:           persona.Default,
		PersonaSwitchThreshold:   0.4,
		ConversationHistoryLimit: 10,
		DataRetention:            90 * 24 * time.Hour,
		RetentionSweepInterval:   time.Hour,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
	}

	if v := stringsTrimSpace("DEFAULT_PERSONA"); v != "" {
		p, ok := persona.Parse(v)
		if !ok {
			return Config{}, fmt.Errorf("DEFAULT_PERSONA %q is not a known persona", v)
		}
		cfg.DefaultPersona = p
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("SISTERS_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DataRetention, err = daysFromEnv("DATA_RETENTION_DAYS", cfg.DataRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.RetentionSweepInterval, err = durationFromEnv("RETENTION_SWEEP_INTERVAL", cfg.RetentionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationHistoryLimit, err = intFromEnv("CONVERSATION_HISTORY_LIMIT", cfg.ConversationHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.PersonaSwitchThreshold, err = floatFromEnv("PERSONA_SWITCH_THRESHOLD", cfg.PersonaSwitchThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("SISTERS_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.PersonaSwitchThreshold <= 0 {
		return Config{}, fmt.Errorf("PERSONA_SWITCH_THRESHOLD must be positive")
	}
	if cfg.ConversationHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("CONVERSATION_HISTORY_LIMIT must be positive")
	}
	if cfg.DataRetention <= 0 {
		return Config{}, fmt.Errorf("DATA_RETENTION_DAYS must be positive")
	}
	if cfg.RetentionSweepInterval < time.Minute {
		return Config{}, fmt.Errorf("RETENTION_SWEEP_INTERVAL must be at least 1m")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

// daysFromEnv reads a whole number of days.
func daysFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return time.Duration(n) * 24 * time.Hour, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
