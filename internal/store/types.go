package store

import (
	"context"
	"errors"
	"time"

	"github.com/florelia/sisters/internal/persona"
)

// Role labels who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

var (
	// ErrInvalidRole rejects turns outside the {user, assistant} set.
	ErrInvalidRole = errors.New("role must be \"user\" or \"assistant\"")
	// ErrInvalidPersona rejects personas outside the closed set.
	ErrInvalidPersona = errors.New("unknown persona")
)

// Session tracks which persona a user is currently talking to. The
// identifier is returned decrypted; only its hash is ever used for
// lookup.
type Session struct {
	Identifier        string          `json:"identifier"`
	IdentifierHash    string          `json:"-"`
	CurrentPersona    persona.Persona `json:"current_persona"`
	LastInteractionAt time.Time       `json:"last_interaction_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Message is one decrypted turn in the shape prompt builders consume.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is a fully attributed conversation row, used by data export.
type Turn struct {
	Persona   persona.Persona `json:"persona"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// Memory is the encrypted per-user profile: free-text notes plus
// structured preferences.
type Memory struct {
	Profile     string         `json:"profile,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DeletionSummary reports how many rows an erasure removed per table.
type DeletionSummary struct {
	Sessions int64 `json:"sessions"`
	Turns    int64 `json:"turns"`
	Memories int64 `json:"memories"`
}

// Export is the portable decrypted dump of everything held for one user.
type Export struct {
	ExportedAt    time.Time `json:"exported_at"`
	Identifier    string    `json:"identifier"`
	Session       *Session  `json:"session"`
	Conversations []Turn    `json:"conversations"`
	Memory        *Memory   `json:"memory"`
}

// Store persists sessions, conversation history, and user memories,
// encrypted at rest and indexed by identifier hash. Implementations must
// read legacy cleartext rows transparently and migrate session rows in
// place on first access. Lookup misses are not errors: absent sessions
// are created on demand and empty history returns an empty slice.
type Store interface {
	// GetOrCreateSession returns the session for identifier, creating it
	// with the default persona on first contact. Safe under concurrent
	// calls for the same identifier: at most one row per hash survives.
	GetOrCreateSession(ctx context.Context, identifier string) (Session, error)

	// CurrentPersona is shorthand for GetOrCreateSession(...).CurrentPersona.
	CurrentPersona(ctx context.Context, identifier string) (persona.Persona, error)

	// SetPersona updates the active persona and refreshes the activity
	// timestamp. A missing session is a silent no-op.
	SetPersona(ctx context.Context, identifier string, p persona.Persona) error

	// AppendTurn inserts one immutable encrypted conversation row.
	AppendTurn(ctx context.Context, identifier string, p persona.Persona, role Role, content string) error

	// RecentTurns returns up to limit decrypted turns in chronological
	// order, optionally filtered to one persona (empty means all).
	RecentTurns(ctx context.Context, identifier string, p persona.Persona, limit int) ([]Message, error)

	// PruneOlderThan deletes conversation rows older than age and
	// returns how many were removed.
	PruneOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// DeleteUserData removes every row held for identifier.
	DeleteUserData(ctx context.Context, identifier string) (DeletionSummary, error)

	// ExportUserData returns a decrypted portable dump for identifier.
	ExportUserData(ctx context.Context, identifier string) (Export, error)

	// UpsertMemory writes the encrypted user profile.
	UpsertMemory(ctx context.Context, identifier string, mem Memory) error

	// GetMemory returns the decrypted profile, or nil when none exists.
	GetMemory(ctx context.Context, identifier string) (*Memory, error)

	Close() error
}
