package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/verifyr/verifyr/prompt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "alice", "en", "gpt-test")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("empty conversation id")
	}

	conv, err := s.Get(ctx, id, Requester{UserID: "alice"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.OwnerID != "alice" || conv.Language != "en" || conv.ModelID != "gpt-test" {
		t.Errorf("conversation = %+v", conv)
	}
	if len(conv.Messages) != 0 {
		t.Errorf("new conversation has %d messages", len(conv.Messages))
	}
	if conv.UpdatedAt < conv.CreatedAt {
		t.Errorf("updated_at %s before created_at %s", conv.UpdatedAt, conv.CreatedAt)
	}
}

func TestAppendTurnRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "alice", "en", "m")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	url := "https://example.com/manual.pdf"
	err = s.AppendTurn(ctx, id,
		Message{Role: RoleUser, Content: "battery life?"},
		Message{
			Role:      RoleAssistant,
			Content:   "18 hours [1]",
			Sources:   []prompt.Source{{CitationNumber: 1, ProductName: "Watch A", PageNum: 4, SourceURL: &url}},
			Model:     "m",
			TokensIn:  120,
			TokensOut: 15,
			CostUSD:   0.0002,
		})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	conv, err := s.Get(ctx, id, Requester{UserID: "alice"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv.Messages))
	}
	if conv.Messages[0].Role != RoleUser || conv.Messages[1].Role != RoleAssistant {
		t.Errorf("roles = %s, %s", conv.Messages[0].Role, conv.Messages[1].Role)
	}
	got := conv.Messages[1]
	if len(got.Sources) != 1 || got.Sources[0].ProductName != "Watch A" {
		t.Errorf("sources = %+v", got.Sources)
	}
	if got.Sources[0].SourceURL == nil || *got.Sources[0].SourceURL != url {
		t.Errorf("source url = %v", got.Sources[0].SourceURL)
	}
	if got.TokensIn != 120 || got.TokensOut != 15 {
		t.Errorf("tokens = %d/%d", got.TokensIn, got.TokensOut)
	}
}

func TestRoleAlternation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "en", "m")

	// First message must be from the user.
	err := s.Append(ctx, id, Message{Role: RoleAssistant, Content: "hi"})
	if !errors.Is(err, ErrRoleOrder) {
		t.Fatalf("assistant-first error = %v, want ErrRoleOrder", err)
	}

	if err := s.Append(ctx, id, Message{Role: RoleUser, Content: "q"}); err != nil {
		t.Fatalf("Append user: %v", err)
	}
	err = s.Append(ctx, id, Message{Role: RoleUser, Content: "again"})
	if !errors.Is(err, ErrRoleOrder) {
		t.Fatalf("consecutive-user error = %v, want ErrRoleOrder", err)
	}
	if err := s.Append(ctx, id, Message{Role: RoleAssistant, Content: "a"}); err != nil {
		t.Fatalf("Append assistant: %v", err)
	}

	err = s.Append(ctx, id, Message{Role: "system", Content: "x"})
	if !errors.Is(err, ErrRoleOrder) {
		t.Fatalf("unknown-role error = %v, want ErrRoleOrder", err)
	}
}

func TestAppendTurnAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "en", "m")

	// Second half breaks alternation, so the whole turn must roll back.
	err := s.AppendTurn(ctx, id,
		Message{Role: RoleUser, Content: "q"},
		Message{Role: RoleUser, Content: "not an answer"})
	if !errors.Is(err, ErrRoleOrder) {
		t.Fatalf("error = %v, want ErrRoleOrder", err)
	}

	conv, err := s.Get(ctx, id, Requester{UserID: "alice"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Messages) != 0 {
		t.Errorf("got %d messages after failed turn, want 0", len(conv.Messages))
	}
}

func TestAccessRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	aliceID, _ := s.Create(ctx, "alice", "en", "m")
	anonID, _ := s.Create(ctx, "", "en", "m")

	// Owner reads own conversation.
	if _, err := s.Get(ctx, aliceID, Requester{UserID: "alice"}); err != nil {
		t.Errorf("owner read: %v", err)
	}
	// Stranger denied.
	if _, err := s.Get(ctx, aliceID, Requester{UserID: "bob"}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("stranger read error = %v, want ErrAccessDenied", err)
	}
	// Admin reads anything.
	if _, err := s.Get(ctx, aliceID, Requester{UserID: "root", Admin: true}); err != nil {
		t.Errorf("admin read: %v", err)
	}
	// Anonymous conversations are readable by anyone.
	if _, err := s.Get(ctx, anonID, Requester{UserID: "bob"}); err != nil {
		t.Errorf("anonymous read: %v", err)
	}
	// Unknown id.
	if _, err := s.Get(ctx, "does-not-exist", Requester{Admin: true}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing read error = %v, want ErrNotFound", err)
	}
}

func TestListVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "alice", "en", "m")
	s.Create(ctx, "bob", "en", "m")
	s.Create(ctx, "", "de", "m")

	aliceList, err := s.List(ctx, Requester{UserID: "alice"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(aliceList) != 2 {
		t.Errorf("alice sees %d conversations, want 2 (own + anonymous)", len(aliceList))
	}
	for _, c := range aliceList {
		if c.OwnerID == "bob" {
			t.Error("alice sees bob's conversation")
		}
		if len(c.Messages) != 0 {
			t.Error("List returned message bodies")
		}
	}

	adminList, err := s.List(ctx, Requester{Admin: true})
	if err != nil {
		t.Fatalf("List admin: %v", err)
	}
	if len(adminList) != 3 {
		t.Errorf("admin sees %d conversations, want 3", len(adminList))
	}
}

func TestAppendUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	err := s.Append(context.Background(), "missing", Message{Role: RoleUser, Content: "q"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "en", "m")

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := s.AppendTurn(ctx, id,
				Message{Role: RoleUser, Content: fmt.Sprintf("q%d", n)},
				Message{Role: RoleAssistant, Content: fmt.Sprintf("a%d", n)})
			if err != nil {
				t.Errorf("AppendTurn %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	conv, err := s.Get(ctx, id, Requester{UserID: "alice"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Messages) != 2*turns {
		t.Fatalf("got %d messages, want %d", len(conv.Messages), 2*turns)
	}
	for i, m := range conv.Messages {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if m.Role != want {
			t.Errorf("message %d role = %s, want %s", i, m.Role, want)
		}
	}
}
