package store

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveMessageThenGetMessages(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.UpsertAgent(ctx, Agent{ID: "alpha", Name: "Alpha", Backend: "mux", WorkingDir: "/tmp/alpha"}); err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	if err := s.GetOrCreateConversation(ctx, "alpha", "alpha"); err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}

	saved, fresh, err := s.SaveMessage(ctx, Message{
		ConversationID: "alpha",
		Direction:      "inbound_to_agent",
		Author:         "user",
		Content:        "hi",
		MessageType:    "message",
	})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if !fresh {
		t.Fatal("expected a freshly inserted message")
	}
	if saved.ID == 0 {
		t.Fatal("expected a non-zero assigned id")
	}

	msgs, err := s.GetMessages(ctx, "alpha", 0, 10)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("expected one saved message, got %+v", msgs)
	}
}

func TestSaveMessageIdempotency(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.UpsertAgent(ctx, Agent{ID: "alpha", Name: "Alpha", Backend: "mux", WorkingDir: "/tmp/alpha"}); err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	if err := s.GetOrCreateConversation(ctx, "alpha", "alpha"); err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}

	first, fresh1, err := s.SaveMessage(ctx, Message{
		ConversationID: "alpha",
		Direction:      "inbound_to_agent",
		Author:         "user",
		Content:        "hi",
		MessageType:    "message",
		IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("SaveMessage (first): %v", err)
	}
	if !fresh1 {
		t.Fatal("expected the first write with a new idempotency key to be fresh")
	}

	second, fresh2, err := s.SaveMessage(ctx, Message{
		ConversationID: "alpha",
		Direction:      "inbound_to_agent",
		Author:         "user",
		Content:        "hi again", // different content must not matter
		MessageType:    "message",
		IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("SaveMessage (second): %v", err)
	}
	if fresh2 {
		t.Fatal("expected the duplicate idempotency key to report a dedup hit, not a fresh insert")
	}
	if second.ID != first.ID {
		t.Fatalf("expected idempotent resend to return the original message id, got %d vs %d", second.ID, first.ID)
	}

	msgs, err := s.GetMessages(ctx, "alpha", 0, 10)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one ledger message for (conversation, idempotency_key), got %d", len(msgs))
	}
}

func TestMessageIDsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.UpsertAgent(ctx, Agent{ID: "alpha", Name: "Alpha", Backend: "mux", WorkingDir: "/tmp/alpha"}); err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	if err := s.GetOrCreateConversation(ctx, "alpha", "alpha"); err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}

	var lastID int64
	for i := 0; i < 5; i++ {
		m, _, err := s.SaveMessage(ctx, Message{
			ConversationID: "alpha",
			Direction:      "outbound_from_agent",
			Author:         "agent:alpha",
			Content:        "chunk",
			MessageType:    "message",
		})
		if err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
		if m.ID <= lastID {
			t.Fatalf("expected strictly increasing ids, got %d after %d", m.ID, lastID)
		}
		lastID = m.ID
	}
}

func TestRegisterDisconnectRegister(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.UpsertAgent(ctx, Agent{ID: "beta", Name: "Beta", Backend: "mux", WorkingDir: "/tmp/beta"}); err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	if err := s.SetAgentConnected(ctx, "beta", false); err != nil {
		t.Fatalf("SetAgentConnected(false): %v", err)
	}
	if err := s.UpsertAgent(ctx, Agent{ID: "beta", Name: "Beta", Backend: "mux", WorkingDir: "/tmp/beta"}); err != nil {
		t.Fatalf("UpsertAgent (second): %v", err)
	}

	agents, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 || !agents[0].Connected {
		t.Fatalf("expected exactly one connected binding for beta, got %+v", agents)
	}
}
