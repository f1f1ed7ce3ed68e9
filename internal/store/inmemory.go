package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/florelia/sisters/internal/persona"
	"github.com/florelia/sisters/internal/privacy"
)

// MemoryStore is the in-process Store for local/dev use and tests. It
// keeps the same encrypted-at-rest and legacy-row semantics as the
// Postgres implementation so either can back the service.
type MemoryStore struct {
	mu             sync.Mutex
	cipher         *privacy.Cipher
	codec          *privacy.FieldCodec
	defaultPersona persona.Persona
	sessions       []*sessionRow
	turns          []*turnRow
	memories       []*memoryRow
	onMigrate      func()
}

// sessionRow mirrors the user_sessions table. A legacy row has an empty
// hash and a cleartext identifier in identifierCipher.
type sessionRow struct {
	hash              string
	identifierCipher  string
	currentPersona    persona.Persona
	lastInteractionAt time.Time
	createdAt         time.Time
}

type turnRow struct {
	id               string
	hash             string
	identifierCipher string
	persona          persona.Persona
	role             Role
	contentCipher    string
	createdAt        time.Time
}

type memoryRow struct {
	hash             string
	identifierCipher string
	profileCipher    string
	prefsCipher      string
	updatedAt        time.Time
}

func NewMemoryStore(cipher *privacy.Cipher, defaultPersona persona.Persona) *MemoryStore {
	if !persona.Valid(defaultPersona) {
		defaultPersona = persona.Default
	}
	return &MemoryStore{
		cipher:         cipher,
		codec:          privacy.NewFieldCodec(cipher),
		defaultPersona: defaultPersona,
	}
}

// SetMigrationHook installs a callback invoked whenever a legacy row is
// migrated to hash-indexed form.
func (s *MemoryStore) SetMigrationHook(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMigrate = hook
}

func (s *MemoryStore) GetOrCreateSession(_ context.Context, identifier string) (Session, error) {
	hash := s.cipher.HashIdentifier(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.sessions {
		if row.hash == hash {
			return s.sessionFromRow(row, identifier), nil
		}
	}

	// Legacy fallback: cleartext identifier, no hash. Migrate in place.
	for _, row := range s.sessions {
		if row.hash == "" && row.identifierCipher == identifier {
			rec, err := s.codec.EncryptRecord(privacy.TableSessions, map[string]any{"identifier": identifier})
			if err != nil {
				return Session{}, err
			}
			row.hash = hash
			row.identifierCipher = rec["identifier"].(string)
			if s.onMigrate != nil {
				s.onMigrate()
			}
			return s.sessionFromRow(row, identifier), nil
		}
	}

	rec, err := s.codec.EncryptRecord(privacy.TableSessions, map[string]any{"identifier": identifier})
	if err != nil {
		return Session{}, err
	}
	now := time.Now().UTC()
	row := &sessionRow{
		hash:              hash,
		identifierCipher:  rec["identifier"].(string),
		currentPersona:    s.defaultPersona,
		lastInteractionAt: now,
		createdAt:         now,
	}
	s.sessions = append(s.sessions, row)
	return s.sessionFromRow(row, identifier), nil
}

func (s *MemoryStore) sessionFromRow(row *sessionRow, identifier string) Session {
	return Session{
		Identifier:        identifier,
		IdentifierHash:    row.hash,
		CurrentPersona:    row.currentPersona,
		LastInteractionAt: row.lastInteractionAt,
		CreatedAt:         row.createdAt,
	}
}

func (s *MemoryStore) CurrentPersona(ctx context.Context, identifier string) (persona.Persona, error) {
	sess, err := s.GetOrCreateSession(ctx, identifier)
	if err != nil {
		return "", err
	}
	return sess.CurrentPersona, nil
}

func (s *MemoryStore) SetPersona(_ context.Context, identifier string, p persona.Persona) error {
	if !persona.Valid(p) {
		return ErrInvalidPersona
	}
	hash := s.cipher.HashIdentifier(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.sessions {
		if row.hash == hash || (row.hash == "" && row.identifierCipher == identifier) {
			row.currentPersona = p
			row.lastInteractionAt = time.Now().UTC()
			return nil
		}
	}
	// Missing session is a silent no-op.
	return nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, identifier string, p persona.Persona, role Role, content string) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	if !persona.Valid(p) {
		return ErrInvalidPersona
	}
	rec, err := s.codec.EncryptRecord(privacy.TableConversations, map[string]any{
		"identifier": identifier,
		"content":    content,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, &turnRow{
		id:               uuid.NewString(),
		hash:             rec[privacy.HashField].(string),
		identifierCipher: rec["identifier"].(string),
		persona:          p,
		role:             role,
		contentCipher:    rec["content"].(string),
		createdAt:        time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) RecentTurns(_ context.Context, identifier string, p persona.Persona, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	hash := s.cipher.HashIdentifier(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	match := func(row *turnRow, legacy bool) bool {
		if p != "" && row.persona != p {
			return false
		}
		if legacy {
			return row.hash == "" && row.identifierCipher == identifier
		}
		return row.hash == hash
	}

	collect := func(legacy bool) []Message {
		var out []Message
		// Walk backwards (rows append in insert order) and keep the
		// newest limit rows, then reverse to chronological.
		for i := len(s.turns) - 1; i >= 0 && len(out) < limit; i-- {
			row := s.turns[i]
			if !match(row, legacy) {
				continue
			}
			out = append(out, Message{
				Role:    row.role,
				Content: s.cipher.DecryptIfNeeded(row.contentCipher),
			})
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out
	}

	messages := collect(false)
	if len(messages) == 0 {
		messages = collect(true)
	}
	return messages, nil
}

func (s *MemoryStore) PruneOlderThan(_ context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.turns[:0]
	var removed int64
	for _, row := range s.turns {
		if row.createdAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	s.turns = kept
	return removed, nil
}

func (s *MemoryStore) DeleteUserData(_ context.Context, identifier string) (DeletionSummary, error) {
	hash := s.cipher.HashIdentifier(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	matches := func(rowHash, rowCipher string) bool {
		return rowHash == hash || (rowHash == "" && rowCipher == identifier)
	}

	var summary DeletionSummary

	keptTurns := s.turns[:0]
	for _, row := range s.turns {
		if matches(row.hash, row.identifierCipher) {
			summary.Turns++
			continue
		}
		keptTurns = append(keptTurns, row)
	}
	s.turns = keptTurns

	keptMemories := s.memories[:0]
	for _, row := range s.memories {
		if matches(row.hash, row.identifierCipher) {
			summary.Memories++
			continue
		}
		keptMemories = append(keptMemories, row)
	}
	s.memories = keptMemories

	keptSessions := s.sessions[:0]
	for _, row := range s.sessions {
		if matches(row.hash, row.identifierCipher) {
			summary.Sessions++
			continue
		}
		keptSessions = append(keptSessions, row)
	}
	s.sessions = keptSessions

	return summary, nil
}

func (s *MemoryStore) ExportUserData(ctx context.Context, identifier string) (Export, error) {
	hash := s.cipher.HashIdentifier(identifier)
	export := Export{ExportedAt: time.Now().UTC(), Identifier: identifier}

	s.mu.Lock()
	for _, row := range s.sessions {
		if row.hash == hash || (row.hash == "" && row.identifierCipher == identifier) {
			sess := s.sessionFromRow(row, identifier)
			export.Session = &sess
			break
		}
	}
	for _, row := range s.turns {
		if row.hash == hash || (row.hash == "" && row.identifierCipher == identifier) {
			export.Conversations = append(export.Conversations, Turn{
				Persona:   row.persona,
				Role:      row.role,
				Content:   s.cipher.DecryptIfNeeded(row.contentCipher),
				CreatedAt: row.createdAt,
			})
		}
	}
	s.mu.Unlock()

	mem, err := s.GetMemory(ctx, identifier)
	if err != nil {
		return Export{}, err
	}
	export.Memory = mem
	return export, nil
}

func (s *MemoryStore) UpsertMemory(_ context.Context, identifier string, mem Memory) error {
	record := map[string]any{"identifier": identifier}
	if mem.Profile != "" {
		record["profile"] = mem.Profile
	}
	if mem.Preferences != nil {
		record["preferences"] = mem.Preferences
	}
	rec, err := s.codec.EncryptRecord(privacy.TableMemories, record)
	if err != nil {
		return err
	}
	profileCipher, _ := rec["profile"].(string)
	prefsCipher, _ := rec["preferences"].(string)
	hash := rec[privacy.HashField].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.memories {
		if row.hash == hash {
			row.identifierCipher = rec["identifier"].(string)
			row.profileCipher = profileCipher
			row.prefsCipher = prefsCipher
			row.updatedAt = time.Now().UTC()
			return nil
		}
	}
	s.memories = append(s.memories, &memoryRow{
		hash:             hash,
		identifierCipher: rec["identifier"].(string),
		profileCipher:    profileCipher,
		prefsCipher:      prefsCipher,
		updatedAt:        time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) GetMemory(_ context.Context, identifier string) (*Memory, error) {
	hash := s.cipher.HashIdentifier(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.memories {
		if row.hash == hash || (row.hash == "" && row.identifierCipher == identifier) {
			mem := &Memory{UpdatedAt: row.updatedAt}
			if row.profileCipher != "" {
				mem.Profile = s.cipher.DecryptIfNeeded(row.profileCipher)
			}
			if row.prefsCipher != "" {
				if m, ok := s.cipher.DecryptJSON(row.prefsCipher).(map[string]any); ok {
					mem.Preferences = m
				}
			}
			return mem, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Close() error { return nil }
