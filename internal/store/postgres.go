package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/florelia/sisters/internal/persona"
	"github.com/florelia/sisters/internal/privacy"
)

// PostgresStore persists encrypted sessions, conversation history, and
// user memories in PostgreSQL. Reads are hash-first with a single legacy
// fallback by cleartext identifier, so the store works against data
// written before hash indexing existed without an offline migration.
type PostgresStore struct {
	pool           *pgxpool.Pool
	cipher         *privacy.Cipher
	codec          *privacy.FieldCodec
	defaultPersona persona.Persona
	onMigrate      func()
}

func NewPostgresStore(ctx context.Context, databaseURL string, cipher *privacy.Cipher, defaultPersona persona.Persona) (*PostgresStore, error) {
	if !persona.Valid(defaultPersona) {
		return nil, ErrInvalidPersona
	}
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{
		pool:           pool,
		cipher:         cipher,
		codec:          privacy.NewFieldCodec(cipher),
		defaultPersona: defaultPersona,
	}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_sessions (
			id BIGSERIAL PRIMARY KEY,
			identifier_hash TEXT UNIQUE,
			identifier_ciphertext TEXT NOT NULL,
			current_persona TEXT NOT NULL,
			last_interaction_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_history (
			id TEXT PRIMARY KEY,
			identifier_hash TEXT,
			identifier_ciphertext TEXT NOT NULL,
			persona TEXT NOT NULL,
			role TEXT NOT NULL,
			content_ciphertext TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_history_hash_created
			ON conversation_history (identifier_hash, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_memories (
			id BIGSERIAL PRIMARY KEY,
			identifier_hash TEXT UNIQUE,
			identifier_ciphertext TEXT NOT NULL,
			profile_ciphertext TEXT,
			preferences_ciphertext TEXT,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// SetMigrationHook installs a callback invoked whenever a legacy row is
// migrated to hash-indexed form.
func (s *PostgresStore) SetMigrationHook(hook func()) { s.onMigrate = hook }

func (s *PostgresStore) migrated() {
	if s.onMigrate != nil {
		s.onMigrate()
	}
}

func (s *PostgresStore) GetOrCreateSession(ctx context.Context, identifier string) (Session, error) {
	hash := s.cipher.HashIdentifier(identifier)

	sess, found, err := s.sessionByHash(ctx, hash)
	if err != nil {
		return Session{}, err
	}
	if found {
		sess.Identifier = identifier
		return sess, nil
	}

	sess, found, err = s.migrateLegacySession(ctx, identifier, hash)
	if err != nil {
		return Session{}, err
	}
	if found {
		sess.Identifier = identifier
		return sess, nil
	}

	rec, err := s.codec.EncryptRecord(privacy.TableSessions, map[string]any{"identifier": identifier})
	if err != nil {
		return Session{}, err
	}

	// ON CONFLICT resolves the create race: the loser's insert collapses
	// into a timestamp refresh on the winner's row.
	now := time.Now().UTC()
	sess = Session{Identifier: identifier, IdentifierHash: hash}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO user_sessions (identifier_hash, identifier_ciphertext, current_persona, last_interaction_at, created_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (identifier_hash) DO UPDATE SET last_interaction_at = EXCLUDED.last_interaction_at
		 RETURNING current_persona, last_interaction_at, created_at`,
		hash, rec["identifier"], string(s.defaultPersona), now,
	).Scan(&sess.CurrentPersona, &sess.LastInteractionAt, &sess.CreatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) sessionByHash(ctx context.Context, hash string) (Session, bool, error) {
	var (
		sess     Session
		idCipher string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT identifier_hash, identifier_ciphertext, current_persona, last_interaction_at, created_at
		   FROM user_sessions WHERE identifier_hash=$1`,
		hash,
	).Scan(&sess.IdentifierHash, &idCipher, &sess.CurrentPersona, &sess.LastInteractionAt, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("lookup session: %w", err)
	}
	sess.Identifier = s.cipher.DecryptIfNeeded(idCipher)
	return sess, true, nil
}

// migrateLegacySession finds a pre-encryption row by cleartext identifier
// and rewrites it with hash plus ciphertext. Once migrated, the legacy
// predicate no longer matches the row, so a second call is a no-op.
func (s *PostgresStore) migrateLegacySession(ctx context.Context, identifier, hash string) (Session, bool, error) {
	var (
		id   int64
		sess Session
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, current_persona, last_interaction_at, created_at
		   FROM user_sessions WHERE identifier_hash IS NULL AND identifier_ciphertext=$1`,
		identifier,
	).Scan(&id, &sess.CurrentPersona, &sess.LastInteractionAt, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("lookup legacy session: %w", err)
	}

	rec, err := s.codec.EncryptRecord(privacy.TableSessions, map[string]any{"identifier": identifier})
	if err != nil {
		return Session{}, false, err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE user_sessions SET identifier_hash=$1, identifier_ciphertext=$2
		  WHERE id=$3 AND identifier_hash IS NULL`,
		hash, rec["identifier"], id,
	)
	if isUniqueViolation(err) {
		// A concurrent call already created or migrated the hash row;
		// that row is now authoritative.
		return s.sessionByHash(ctx, hash)
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("migrate legacy session: %w", err)
	}
	s.migrated()
	sess.IdentifierHash = hash
	return sess, true, nil
}

func (s *PostgresStore) CurrentPersona(ctx context.Context, identifier string) (persona.Persona, error) {
	sess, err := s.GetOrCreateSession(ctx, identifier)
	if err != nil {
		return "", err
	}
	return sess.CurrentPersona, nil
}

func (s *PostgresStore) SetPersona(ctx context.Context, identifier string, p persona.Persona) error {
	if !persona.Valid(p) {
		return ErrInvalidPersona
	}
	now := time.Now().UTC()
	hash := s.cipher.HashIdentifier(identifier)
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET current_persona=$1, last_interaction_at=$2 WHERE identifier_hash=$3`,
		string(p), now, hash,
	)
	if err != nil {
		return fmt.Errorf("set persona: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Legacy row not yet migrated; a still-missing session is a no-op.
	_, err = s.pool.Exec(ctx,
		`UPDATE user_sessions SET current_persona=$1, last_interaction_at=$2
		  WHERE identifier_hash IS NULL AND identifier_ciphertext=$3`,
		string(p), now, identifier,
	)
	if err != nil {
		return fmt.Errorf("set persona (legacy): %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, identifier string, p persona.Persona, role Role, content string) error {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_history (id, identifier_hash, identifier_ciphertext, persona, role, content_ciphertext, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), rec[privacy.HashField], rec["identifier"], string(p), string(role), rec["content"], time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, identifier string, p persona.Persona, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	hash := s.cipher.HashIdentifier(identifier)

	messages, err := s.recentByPredicate(ctx, `identifier_hash=$1`, hash, p, limit)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		// One legacy fallback: conversations never migrated are stored
		// with a cleartext identifier and no hash.
		messages, err = s.recentByPredicate(ctx, `identifier_hash IS NULL AND identifier_ciphertext=$1`, identifier, p, limit)
		if err != nil {
			return nil, err
		}
	}

	// Reverse the newest-first query into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresStore) recentByPredicate(ctx context.Context, predicate, key string, p persona.Persona, limit int) ([]Message, error) {
	query := `SELECT role, content_ciphertext FROM conversation_history WHERE ` + predicate
	args := []any{key}
	if p != "" {
		query += ` AND persona=$2`
		args = append(args, string(p))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var (
			role    string
			content string
		)
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		messages = append(messages, Message{
			Role:    Role(role),
			Content: s.cipher.DecryptIfNeeded(content),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversation_history WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune turns: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteUserData(ctx context.Context, identifier string) (DeletionSummary, error) {
	hash := s.cipher.HashIdentifier(identifier)
	var summary DeletionSummary

	for _, target := range []struct {
		table string
		count *int64
	}{
		{"conversation_history", &summary.Turns},
		{"user_memories", &summary.Memories},
		{"user_sessions", &summary.Sessions},
	} {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM `+target.table+
				` WHERE identifier_hash=$1 OR (identifier_hash IS NULL AND identifier_ciphertext=$2)`,
			hash, identifier,
		)
		if err != nil {
			return summary, fmt.Errorf("delete from %s: %w", target.table, err)
		}
		*target.count = tag.RowsAffected()
	}
	return summary, nil
}

func (s *PostgresStore) ExportUserData(ctx context.Context, identifier string) (Export, error) {
	hash := s.cipher.HashIdentifier(identifier)
	export := Export{ExportedAt: time.Now().UTC(), Identifier: identifier}

	sess, found, err := s.sessionByHash(ctx, hash)
	if err != nil {
		return Export{}, err
	}
	if found {
		sess.Identifier = identifier
		export.Session = &sess
	}

	rows, err := s.pool.Query(ctx,
		`SELECT persona, role, content_ciphertext, created_at FROM conversation_history
		  WHERE identifier_hash=$1 OR (identifier_hash IS NULL AND identifier_ciphertext=$2)
		  ORDER BY created_at ASC`,
		hash, identifier,
	)
	if err != nil {
		return Export{}, fmt.Errorf("export turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			turn    Turn
			content string
		)
		if err := rows.Scan(&turn.Persona, &turn.Role, &content, &turn.CreatedAt); err != nil {
			return Export{}, fmt.Errorf("scan export row: %w", err)
		}
		turn.Content = s.cipher.DecryptIfNeeded(content)
		export.Conversations = append(export.Conversations, turn)
	}
	if err := rows.Err(); err != nil {
		return Export{}, fmt.Errorf("iterate export rows: %w", err)
	}

	export.Memory, err = s.GetMemory(ctx, identifier)
	if err != nil {
		return Export{}, err
	}
	return export, nil
}

func (s *PostgresStore) UpsertMemory(ctx context.Context, identifier string, mem Memory) error {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_memories (identifier_hash, identifier_ciphertext, profile_ciphertext, preferences_ciphertext, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (identifier_hash) DO UPDATE SET
			identifier_ciphertext=EXCLUDED.identifier_ciphertext,
			profile_ciphertext=EXCLUDED.profile_ciphertext,
			preferences_ciphertext=EXCLUDED.preferences_ciphertext,
			updated_at=EXCLUDED.updated_at`,
		rec[privacy.HashField], rec["identifier"], rec["profile"], rec["preferences"], time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, identifier string) (*Memory, error) {
	hash := s.cipher.HashIdentifier(identifier)
	var (
		profile *string
		prefs   *string
		mem     Memory
	)
	err := s.pool.QueryRow(ctx,
		`SELECT profile_ciphertext, preferences_ciphertext, updated_at FROM user_memories
		  WHERE identifier_hash=$1 OR (identifier_hash IS NULL AND identifier_ciphertext=$2)`,
		hash, identifier,
	).Scan(&profile, &prefs, &mem.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup memory: %w", err)
	}
	if profile != nil {
		mem.Profile = s.cipher.DecryptIfNeeded(*profile)
	}
	if prefs != nil {
		if m, ok := s.cipher.DecryptJSON(*prefs).(map[string]any); ok {
			mem.Preferences = m
		}
	}
	return &mem, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
