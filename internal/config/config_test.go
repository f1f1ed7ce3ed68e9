package config

import (
	"testing"
	"time"

	"github.com/florelia/sisters/internal/persona"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.DefaultPersona != persona.Botan {
		t.Fatalf("DefaultPersona = %s, want botan", cfg.DefaultPersona)
	}
	if cfg.PersonaSwitchThreshold != 0.4 {
		t.Fatalf("PersonaSwitchThreshold = %v, want 0.4", cfg.PersonaSwitchThreshold)
	}
	if cfg.ConversationHistoryLimit != 10 {
		t.Fatalf("ConversationHistoryLimit = %d, want 10", cfg.ConversationHistoryLimit)
	}
	if cfg.DataRetention != 90*24*time.Hour {
		t.Fatalf("DataRetention = %v, want 90 days", cfg.DataRetention)
	}
	if cfg.EncryptionKey != "" || cfg.DatabaseURL != "" {
		t.Fatal("secrets should default to empty")
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SISTERS_BIND_ADDR", ":9090")
	t.Setenv("DEFAULT_PERSONA", "Yuri")
	t.Setenv("PERSONA_SWITCH_THRESHOLD", "0.75")
	t.Setenv("DATA_RETENTION_DAYS", "30")
	t.Setenv("CONVERSATION_HISTORY_LIMIT", "20")
	t.Setenv("SISTERS_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.DefaultPersona != persona.Yuri {
		t.Fatalf("DefaultPersona = %s, want yuri", cfg.DefaultPersona)
	}
	if cfg.PersonaSwitchThreshold != 0.75 {
		t.Fatalf("PersonaSwitchThreshold = %v, want 0.75", cfg.PersonaSwitchThreshold)
	}
	if cfg.DataRetention != 30*24*time.Hour {
		t.Fatalf("DataRetention = %v, want 30 days", cfg.DataRetention)
	}
	if cfg.ConversationHistoryLimit != 20 {
		t.Fatalf("ConversationHistoryLimit = %d, want 20", cfg.ConversationHistoryLimit)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatal("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown persona", "DEFAULT_PERSONA", "hana"},
		{"negative threshold", "PERSONA_SWITCH_THRESHOLD", "-0.1"},
		{"non-numeric threshold", "PERSONA_SWITCH_THRESHOLD", "lots"},
		{"zero history", "CONVERSATION_HISTORY_LIMIT", "0"},
		{"zero retention", "DATA_RETENTION_DAYS", "0"},
		{"sub-minute sweep", "RETENTION_SWEEP_INTERVAL", "5s"},
		{"bad bool", "SISTERS_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded, want error", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"SISTERS_BIND_ADDR",
		"SISTERS_SHUTDOWN_TIMEOUT",
		"SISTERS_METRICS_NAMESPACE",
		"SISTERS_ALLOW_ANY_ORIGIN",
		"ENCRYPTION_KEY",
		"IDENTIFIER_HASH_SALT",
		"KEY_DERIVATION_SALT",
		"DEFAULT_PERSONA",
		"PERSONA_SWITCH_THRESHOLD",
		"CONVERSATION_HISTORY_LIMIT",
		"DATA_RETENTION_DAYS",
		"RETENTION_SWEEP_INTERVAL",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
