package store

import (
	"context"
	"strings"

	"github.com/florelia/sisters/internal/persona"
	"github.com/florelia/sisters/internal/privacy"
)

// NewStore creates a postgres-backed store when configured, otherwise
// in-memory.
func NewStore(ctx context.Context, databaseURL string, cipher *privacy.Cipher, defaultPersona persona.Persona) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(cipher, defaultPersona), nil
	}
	return NewPostgresStore(ctx, databaseURL, cipher, defaultPersona)
}
