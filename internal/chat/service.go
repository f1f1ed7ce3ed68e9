package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/florelia/sisters/internal/observability"
	"github.com/florelia/sisters/internal/persona"
	"github.com/florelia/sisters/internal/routing"
	"github.com/florelia/sisters/internal/store"
)

// ErrEmptyMessage rejects inbound messages with no content.
var ErrEmptyMessage = fmt.Errorf("message content is empty")

// Service routes inbound messages to a persona and keeps the session and
// conversation history up to date around each turn.
type Service struct {
	store        store.Store
	analyzer     *routing.Analyzer
	metrics      *observability.Metrics
	historyLimit int
}

func NewService(st store.Store, analyzer *routing.Analyzer, metrics *observability.Metrics, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Service{store: st, analyzer: analyzer, metrics: metrics, historyLimit: historyLimit}
}

// InboundResult is everything a reply generator needs for one turn: the
// persona that should answer and its recent context window.
type InboundResult struct {
	Persona  persona.Persona `json:"persona"`
	Switched bool            `json:"switched"`
	Vocative bool            `json:"vocative"`
	History  []store.Message `json:"history"`
	Session  store.Session   `json:"session"`
}

// HandleInbound processes one user message: load or create the session,
// pick the answering persona, persist the routing outcome, and record the
// message against that persona's thread. The returned history does not
// include the message itself.
func (s *Service) HandleInbound(ctx context.Context, identifier, content string) (InboundResult, error) {
	if strings.TrimSpace(content) == "" {
		return InboundResult{}, ErrEmptyMessage
	}

	sess, err := s.store.GetOrCreateSession(ctx, identifier)
	if err != nil {
		return InboundResult{}, fmt.Errorf("load session: %w", err)
	}

	start := time.Now()
	decision := s.analyzer.Select(content, sess.CurrentPersona)
	s.observe(decision, time.Since(start))

	// Persist even when the persona is unchanged: every turn refreshes
	// the session's activity timestamp.
	if err := s.store.SetPersona(ctx, identifier, decision.Persona); err != nil {
		return InboundResult{}, fmt.Errorf("set persona: %w", err)
	}

	history, err := s.store.RecentTurns(ctx, identifier, decision.Persona, s.historyLimit)
	if err != nil {
		return InboundResult{}, fmt.Errorf("load history: %w", err)
	}

	if err := s.store.AppendTurn(ctx, identifier, decision.Persona, store.RoleUser, content); err != nil {
		return InboundResult{}, fmt.Errorf("append turn: %w", err)
	}

	sess.CurrentPersona = decision.Persona
	return InboundResult{
		Persona:  decision.Persona,
		Switched: decision.Switched,
		Vocative: decision.Vocative,
		History:  history,
		Session:  sess,
	}, nil
}

// RecordReply stores an assistant reply on the persona's thread.
func (s *Service) RecordReply(ctx context.Context, identifier string, p persona.Persona, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if err := s.store.AppendTurn(ctx, identifier, p, store.RoleAssistant, content); err != nil {
		return fmt.Errorf("append reply: %w", err)
	}
	return nil
}

// History returns the recent decrypted turns for an identifier,
// optionally filtered to one persona.
func (s *Service) History(ctx context.Context, identifier string, p persona.Persona, limit int) ([]store.Message, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	return s.store.RecentTurns(ctx, identifier, p, limit)
}

func (s *Service) observe(d routing.Decision, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.MessagesRouted.WithLabelValues(string(d.Persona)).Inc()
	if d.Switched {
		s.metrics.PersonaSwitches.Inc()
	}
	if d.Vocative {
		s.metrics.VocativeOverride.Inc()
	}
	s.metrics.ObserveRoutingLatency(elapsed)
}
