package backend

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestMuxHistoryForResetsOnNewSession(t *testing.T) {
	m := NewMux(MuxConfig{APIKey: "test-key"}, nil)

	h1 := m.historyFor("sess-1", true)
	h1.messages = append(h1.messages, anthropic.NewUserMessage(anthropic.NewTextBlock("hello")))

	h2 := m.historyFor("sess-1", true)
	if len(h2.messages) != 0 {
		t.Fatalf("expected a fresh history on is_new_session=true, got %d messages", len(h2.messages))
	}

	h3 := m.historyFor("sess-1", false)
	if h3 != h2 {
		t.Fatalf("expected history reuse when is_new_session=false")
	}
}

func TestMuxRecordToolResultAppendsToKnownSessionOnly(t *testing.T) {
	m := NewMux(MuxConfig{APIKey: "test-key"}, nil)
	_ = m.historyFor("sess-1", true)

	m.RecordToolResult("sess-1", "t1", "42", false)
	m.RecordToolResult("unknown-session", "t1", "42", false)

	h := m.historyFor("sess-1", false)
	if len(h.messages) != 1 {
		t.Fatalf("expected tool result recorded for known session, got %d messages", len(h.messages))
	}
}
