package copilot

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PhupaSirirat/dbank-copilot/pkg/llm"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

// Message is one turn in a conversation. Assistant messages carry the tool
// calls and citations that produced them.
type Message struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Citations []Citation       `json:"citations,omitempty"`
}

// Conversation is a chat session with its full message history.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	UserID    string    `json:"user_id,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the lightweight view served by the conversation endpoints.
type Summary struct {
	ConversationID    string    `json:"conversation_id"`
	UserID            string    `json:"user_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	MessageCount      int       `json:"message_count"`
	UserMessages      int       `json:"user_messages"`
	AssistantMessages int       `json:"assistant_messages"`
	ToolCalls         int       `json:"tool_calls"`
	Citations         int       `json:"citations"`
}

// Manager keeps conversations in memory with a TTL and a bounded history.
// Expired conversations are dropped lazily on access and in bulk by
// CleanupExpired.
type Manager struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	maxHistory    int
	ttl           time.Duration
	logger        logging.Logger
	now           func() time.Time
}

const (
	defaultMaxHistory = 20
	defaultTTL        = 24 * time.Hour
)

func NewManager(maxHistory int, ttl time.Duration, logger logging.Logger) *Manager {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{
		conversations: make(map[string]*Conversation),
		maxHistory:    maxHistory,
		ttl:           ttl,
		logger:        logger,
		now:           time.Now,
	}
}

// Create starts a new conversation seeded with the system prompt.
func (m *Manager) Create(userID string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	conv := &Conversation{
		ID:        "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages: []Message{
			{Role: "system", Content: SystemPrompt, Timestamp: now},
		},
	}
	m.conversations[conv.ID] = conv
	m.logger.WithFields(logging.Fields{
		"conversation_id": conv.ID,
		"user_id":         userID,
	}).Info("Created conversation")
	return snapshot(conv)
}

// Get returns a copy of the conversation, or false if it does not exist or
// has expired.
func (m *Manager) Get(id string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.active(id)
	if !ok {
		return nil, false
	}
	return snapshot(conv), true
}

// AddMessage appends a message and trims the history to the configured
// bound, always keeping system messages.
func (m *Manager) AddMessage(id string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.active(id)
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = m.now()
	m.trim(conv)
	return nil
}

func (m *Manager) trim(conv *Conversation) {
	var system, rest []Message
	for _, msg := range conv.Messages {
		if msg.Role == "system" {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) <= m.maxHistory {
		return
	}
	rest = rest[len(rest)-m.maxHistory:]
	conv.Messages = append(system, rest...)
}

// Context returns the conversation history in the shape the LLM expects.
func (m *Manager) Context(id string) ([]llm.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.active(id)
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	messages := make([]llm.Message, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return messages, nil
}

// Summarize returns counts for one conversation.
func (m *Manager) Summarize(id string) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.active(id)
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	s := summarize(conv)
	return &s, nil
}

// Delete removes a conversation. It reports whether one was removed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return false
	}
	delete(m.conversations, id)
	return true
}

// List returns summaries sorted by most recently updated, optionally
// filtered by user.
func (m *Manager) List(userID string, limit int) []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summaries := make([]Summary, 0, len(m.conversations))
	for id, conv := range m.conversations {
		if m.expired(conv) {
			delete(m.conversations, id)
			continue
		}
		if userID != "" && conv.UserID != userID {
			continue
		}
		summaries = append(summaries, summarize(conv))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries
}

// CleanupExpired drops every conversation past its TTL and returns the count.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, conv := range m.conversations {
		if m.expired(conv) {
			delete(m.conversations, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.WithField("count", removed).Info("Cleaned up expired conversations")
	}
	return removed
}

// Count returns the number of live conversations.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

// active fetches a conversation, deleting it if expired. Callers hold m.mu.
func (m *Manager) active(id string) (*Conversation, bool) {
	conv, ok := m.conversations[id]
	if !ok {
		return nil, false
	}
	if m.expired(conv) {
		delete(m.conversations, id)
		return nil, false
	}
	return conv, true
}

func (m *Manager) expired(conv *Conversation) bool {
	return m.now().Sub(conv.UpdatedAt) > m.ttl
}

func summarize(conv *Conversation) Summary {
	s := Summary{
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
		MessageCount:   len(conv.Messages),
	}
	for _, msg := range conv.Messages {
		switch msg.Role {
		case "user":
			s.UserMessages++
		case "assistant":
			s.AssistantMessages++
		}
		s.ToolCalls += len(msg.ToolCalls)
		s.Citations += len(msg.Citations)
	}
	return s
}

func snapshot(conv *Conversation) *Conversation {
	copied := *conv
	copied.Messages = append([]Message(nil), conv.Messages...)
	return &copied
}
