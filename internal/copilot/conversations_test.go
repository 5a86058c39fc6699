package copilot

import (
	"strings"
	"testing"
	"time"

	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

func newTestManager(maxHistory int, ttl time.Duration) (*Manager, *time.Time) {
	m := NewManager(maxHistory, ttl, logging.NewLogger())
	current := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }
	return m, &current
}

func TestCreateSeedsSystemPrompt(t *testing.T) {
	m, _ := newTestManager(0, 0)

	conv := m.Create("analyst-7")
	if !strings.HasPrefix(conv.ID, "conv_") || len(conv.ID) != len("conv_")+12 {
		t.Fatalf("conversation id = %q", conv.ID)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Role != "system" {
		t.Fatalf("expected seeded system message, got %+v", conv.Messages)
	}
	if conv.UserID != "analyst-7" {
		t.Fatalf("user id = %q", conv.UserID)
	}
}

func TestAddMessageTrimsHistoryKeepingSystem(t *testing.T) {
	m, _ := newTestManager(4, 0)
	conv := m.Create("")

	for i := 0; i < 5; i++ {
		if err := m.AddMessage(conv.ID, Message{Role: "user", Content: strings.Repeat("q", i+1)}); err != nil {
			t.Fatalf("add user: %v", err)
		}
		if err := m.AddMessage(conv.ID, Message{Role: "assistant", Content: strings.Repeat("a", i+1)}); err != nil {
			t.Fatalf("add assistant: %v", err)
		}
	}

	got, ok := m.Get(conv.ID)
	if !ok {
		t.Fatal("conversation vanished")
	}
	if len(got.Messages) != 5 {
		t.Fatalf("expected system + 4 recent messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != "system" {
		t.Fatalf("trim dropped the system message: %+v", got.Messages[0])
	}
	if last := got.Messages[len(got.Messages)-1]; last.Content != "aaaaa" {
		t.Fatalf("last message = %q", last.Content)
	}
}

func TestExpiredConversationIsDroppedOnAccess(t *testing.T) {
	m, current := newTestManager(0, time.Hour)
	conv := m.Create("")

	*current = current.Add(2 * time.Hour)
	if _, ok := m.Get(conv.ID); ok {
		t.Fatal("expected expired conversation to be gone")
	}
	if err := m.AddMessage(conv.ID, Message{Role: "user", Content: "hi"}); err == nil {
		t.Fatal("expected add to expired conversation to fail")
	}
	if m.Count() != 0 {
		t.Fatalf("count = %d", m.Count())
	}
}

func TestCleanupExpired(t *testing.T) {
	m, current := newTestManager(0, time.Hour)
	m.Create("")
	m.Create("")
	*current = current.Add(90 * time.Minute)
	fresh := m.Create("")

	if removed := m.CleanupExpired(); removed != 2 {
		t.Fatalf("removed = %d", removed)
	}
	if _, ok := m.Get(fresh.ID); !ok {
		t.Fatal("fresh conversation should survive cleanup")
	}
}

func TestListSortsAndFilters(t *testing.T) {
	m, current := newTestManager(0, 0)
	first := m.Create("analyst-7")
	*current = current.Add(time.Minute)
	second := m.Create("analyst-7")
	*current = current.Add(time.Minute)
	other := m.Create("analyst-9")

	all := m.List("", 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(all))
	}
	if all[0].ConversationID != other.ID || all[2].ConversationID != first.ID {
		t.Fatalf("not sorted by recency: %+v", all)
	}

	mine := m.List("analyst-7", 1)
	if len(mine) != 1 || mine[0].ConversationID != second.ID {
		t.Fatalf("filtered list = %+v", mine)
	}
}

func TestSummarizeCounts(t *testing.T) {
	m, _ := newTestManager(0, 0)
	conv := m.Create("")

	m.AddMessage(conv.ID, Message{Role: "user", Content: "why are tickets up?"})
	m.AddMessage(conv.ID, Message{
		Role:    "assistant",
		Content: "Because of the v1.2 release.",
		ToolCalls: []ToolCallRecord{
			{ToolName: "sql_query"},
			{ToolName: "kpi_top_root_causes"},
		},
		Citations: []Citation{{Source: "Support Database Query"}},
	})

	s, err := m.Summarize(conv.ID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.MessageCount != 3 || s.UserMessages != 1 || s.AssistantMessages != 1 {
		t.Fatalf("counts = %+v", s)
	}
	if s.ToolCalls != 2 || s.Citations != 1 {
		t.Fatalf("tool/citation counts = %+v", s)
	}
}

func TestContextMapsRoles(t *testing.T) {
	m, _ := newTestManager(0, 0)
	conv := m.Create("")
	m.AddMessage(conv.ID, Message{Role: "user", Content: "hello"})

	messages, err := m.Context(conv.ID)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != "system" || messages[1].Content != "hello" {
		t.Fatalf("unexpected context: %+v", messages)
	}
}
