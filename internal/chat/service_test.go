package chat

import (
	"context"
	"testing"

	"github.com/florelia/sisters/internal/persona"
	"github.com/florelia/sisters/internal/privacy"
	"github.com/florelia/sisters/internal/routing"
	"github.com/florelia/sisters/internal/store"
)

func testService(t *testing.T) *Service {
	t.Helper()
	cipher, err := privacy.NewCipher("chat-test-passphrase", "chat_test_salt", "")
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	st := store.NewMemoryStore(cipher, persona.Default)
	return NewService(st, routing.NewAnalyzer(0.4), nil, 10)
}

func TestHandleInboundFirstContact(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	res, err := svc.HandleInbound(ctx, "+10000000001", "Botan, what's trending on stream right now?")
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if res.Persona != persona.Botan {
		t.Fatalf("Persona = %s, want botan", res.Persona)
	}
	if !res.Vocative {
		t.Fatal("leading name should be detected as a direct address")
	}
	if res.Switched {
		t.Fatal("addressing the already-active persona is not a switch")
	}
	if len(res.History) != 0 {
		t.Fatalf("first contact history = %d turns, want empty", len(res.History))
	}

	// The message itself was recorded and round-trips decrypted.
	history, err := svc.History(ctx, "+10000000001", persona.Botan, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d turns, want 1", len(history))
	}
	if history[0].Role != store.RoleUser || history[0].Content != "Botan, what's trending on stream right now?" {
		t.Fatalf("history[0] = %+v", history[0])
	}
}

func TestHandleInboundScoreSwitchPersists(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	res, err := svc.HandleInbound(ctx, "+10000000002", "Why do we search for meaning in books?")
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if res.Persona != persona.Yuri || !res.Switched || res.Vocative {
		t.Fatalf("decision = %+v, want score-based switch to yuri", res)
	}

	// A neutral follow-up stays with the switched persona.
	res, err = svc.HandleInbound(ctx, "+10000000002", "That makes sense, thanks.")
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if res.Persona != persona.Yuri || res.Switched {
		t.Fatalf("follow-up decision = %+v, want continuity with yuri", res)
	}
}

func TestHandleInboundHistoryWindow(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	if _, err := svc.HandleInbound(ctx, "+10000000003", "hello there"); err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if err := svc.RecordReply(ctx, "+10000000003", persona.Botan, "hi! what's up?"); err != nil {
		t.Fatalf("RecordReply() error = %v", err)
	}

	res, err := svc.HandleInbound(ctx, "+10000000003", "not much, you?")
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	// History is the context for the reply: prior turns only, in order.
	if len(res.History) != 2 {
		t.Fatalf("history = %d turns, want 2", len(res.History))
	}
	if res.History[0].Role != store.RoleUser || res.History[1].Role != store.RoleAssistant {
		t.Fatalf("history roles = %s, %s", res.History[0].Role, res.History[1].Role)
	}
	if res.History[1].Content != "hi! what's up?" {
		t.Fatalf("history[1].Content = %q", res.History[1].Content)
	}
}

func TestHandleInboundRejectsEmpty(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := svc.HandleInbound(ctx, "+10000000004", content); err != ErrEmptyMessage {
			t.Fatalf("HandleInbound(%q) error = %v, want ErrEmptyMessage", content, err)
		}
	}
	if err := svc.RecordReply(ctx, "+10000000004", persona.Botan, " "); err != ErrEmptyMessage {
		t.Fatalf("RecordReply(blank) error = %v, want ErrEmptyMessage", err)
	}
}

func TestHistoryClampsLimit(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		if err := svc.RecordReply(ctx, "+10000000005", persona.Botan, "reply"); err != nil {
			t.Fatalf("RecordReply() error = %v", err)
		}
	}

	history, err := svc.History(ctx, "+10000000005", "", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 10 {
		t.Fatalf("History(limit=100) = %d turns, want clamp to 10", len(history))
	}

	history, err = svc.History(ctx, "+10000000005", "", 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("History(limit=3) = %d turns, want 3", len(history))
	}
}
