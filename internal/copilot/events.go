package copilot

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Event is one server-sent event on the /ask stream.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventWriter receives the events produced while assembling an answer.
type EventWriter interface {
	Write(Event)
}

func statusEvent(msg string) Event {
	return Event{Type: "status", Content: msg}
}

func textEvent(chunk string) Event {
	return Event{Type: "text", Content: chunk}
}

func toolCallEvent(record ToolCallRecord) Event {
	data := map[string]any{
		"tool_name":      record.ToolName,
		"execution_time": record.ExecutionTime,
		"success":        record.Error == "",
	}
	if record.Error != "" {
		data["error"] = record.Error
	}
	return Event{Type: "tool_call", Data: data}
}

func citationEvent(c Citation) Event {
	return Event{Type: "citation", Data: c}
}

func doneEvent(responseTime float64, conversationID string, toolCalls int) Event {
	return Event{Type: "done", Data: map[string]any{
		"response_time":    responseTime,
		"conversation_id":  conversationID,
		"tool_calls_count": toolCalls,
	}}
}

func errorEvent(msg string) Event {
	return Event{Type: "error", Content: msg}
}

func cancelledEvent() Event {
	return Event{Type: "cancelled", Content: "Request cancelled by client"}
}

// sseWriter frames events as SSE data lines and flushes after each one.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newSSEWriter(w io.Writer) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) Write(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Close terminates the stream the way EventSource clients expect.
func (s *sseWriter) Close() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
