package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/PhupaSirirat/dbank-copilot/internal/registry"
	"github.com/PhupaSirirat/dbank-copilot/pkg/llm"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

type fakeToolServer struct {
	fakeToolCaller
	tools   []registry.Definition
	listErr error
}

func (f *fakeToolServer) ListTools(context.Context) ([]registry.Definition, error) {
	return f.tools, f.listErr
}

func newTestHandler(provider *fakeProvider, server *fakeToolServer) (*gin.Engine, *Manager) {
	gin.SetMode(gin.TestMode)
	logger := logging.NewLogger()
	manager := NewManager(0, 0, logger)
	assembler := NewAssembler(provider, NewOrchestrator(&server.fakeToolCaller, logger), manager, logger)

	router := gin.New()
	NewHandler(HandlerConfig{
		Assembler:     assembler,
		Conversations: manager,
		Tools:         server,
		Provider:      provider,
		Logger:        logger,
	}).RegisterRoutes(router)
	return router, manager
}

func scriptedProvider(answers ...string) *fakeProvider {
	streams := make([]*fakeStream, 0, len(answers))
	for _, answer := range answers {
		streams = append(streams, &fakeStream{chunks: []llm.Chunk{{Content: answer}}})
	}
	return &fakeProvider{streams: streams}
}

func TestAskRejectsInvalidRequests(t *testing.T) {
	router, _ := newTestHandler(scriptedProvider(), &fakeToolServer{})

	cases := []string{
		`{}`,
		`{"question":""}`,
		`{"question":"` + strings.Repeat("q", 2001) + `"}`,
		`{"question":"ok","max_tokens":50}`,
		`{"question":"ok","max_tokens":5000}`,
	}
	for _, payload := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(payload)))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: status = %d", payload, w.Code)
		}
	}
}

func TestAskStreamsSSE(t *testing.T) {
	router, manager := newTestHandler(scriptedProvider("On it.", "Ticket volume doubled in October."), &fakeToolServer{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"what happened in October?"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	convID := w.Header().Get("X-Conversation-ID")
	if convID == "" {
		t.Fatal("missing X-Conversation-ID header")
	}
	if _, ok := manager.Get(convID); !ok {
		t.Fatalf("conversation %s not stored", convID)
	}

	body := w.Body.String()
	if !strings.Contains(body, `"type":"status"`) || !strings.Contains(body, `"type":"done"`) {
		t.Fatalf("unexpected stream: %s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("stream not terminated: %q", body[len(body)-30:])
	}
}

func TestAskReusesConversation(t *testing.T) {
	router, manager := newTestHandler(
		scriptedProvider("ack", "first answer", "ack", "second answer"),
		&fakeToolServer{},
	)
	conv := manager.Create("analyst-7")

	payload := `{"question":"follow up","conversation_id":"` + conv.ID + `"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(payload)))

	if got := w.Header().Get("X-Conversation-ID"); got != conv.ID {
		t.Fatalf("conversation id = %q, want %q", got, conv.ID)
	}
	summary, err := manager.Summarize(conv.ID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.UserMessages != 1 || summary.AssistantMessages != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestListToolsProxiesToolServer(t *testing.T) {
	router, _ := newTestHandler(scriptedProvider(), &fakeToolServer{tools: registry.Definitions})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tools", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != len(registry.Definitions) {
		t.Fatalf("count = %d", body.Count)
	}
}

func TestListToolsReportsToolServerOutage(t *testing.T) {
	router, _ := newTestHandler(scriptedProvider(), &fakeToolServer{listErr: errors.New("connection refused")})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tools", nil))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestConversationEndpoints(t *testing.T) {
	router, manager := newTestHandler(scriptedProvider(), &fakeToolServer{})
	conv := manager.Create("analyst-7")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations?user_id=analyst-7", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), conv.ID) {
		t.Fatalf("list: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/conv_missing000", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("get missing: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/conversations/"+conv.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/conversations/"+conv.ID, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete again: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conversations/cleanup", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("cleanup: status = %d", w.Code)
	}
}

func TestHealthReflectsDependencies(t *testing.T) {
	server := &fakeToolServer{}
	server.healthy = true

	h := NewHandler(HandlerConfig{
		Tools:    server,
		Provider: scriptedProvider(),
		Logger:   logging.NewLogger(),
	})
	status := h.Health(context.Background())
	if status.Status != "healthy" || !status.ToolServer || !status.LLMClient {
		t.Fatalf("status = %+v", status)
	}

	server.healthy = false
	if got := h.Health(context.Background()); got.Status != "degraded" {
		t.Fatalf("status = %+v", got)
	}
}
