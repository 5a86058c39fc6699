// Package copilot is the chat side of the service: it holds conversations,
// routes questions through the LLM, fans tool calls out to the tool server
// and streams the answer back as server-sent events.
package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PhupaSirirat/dbank-copilot/pkg/llm"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

// Assembler turns a question into a streamed answer. It runs two LLM passes:
// the first decides which tools to call, the second generates the answer
// from the tool results.
type Assembler struct {
	provider      llm.Provider
	orchestrator  *Orchestrator
	conversations *Manager
	logger        logging.Logger
}

func NewAssembler(provider llm.Provider, orchestrator *Orchestrator, conversations *Manager, logger logging.Logger) *Assembler {
	return &Assembler{
		provider:      provider,
		orchestrator:  orchestrator,
		conversations: conversations,
		logger:        logger,
	}
}

// Tool results fed back to the LLM are truncated so a wide SQL result cannot
// blow the context window.
const toolResultLimit = 500

// Answer streams the full event sequence for one question. The user message
// must already be in the conversation. Nothing is persisted on error or
// cancellation.
func (a *Assembler) Answer(ctx context.Context, events EventWriter, conversationID, userID string) {
	start := time.Now()

	// The service starts even when the LLM backend is unconfigured so health
	// and conversation endpoints stay up; every ask must still end in a
	// terminal event rather than a panic.
	if a.provider == nil {
		a.fail(ctx, events, errors.New("llm provider is not configured"))
		return
	}

	events.Write(statusEvent("Analyzing your question..."))

	messages, err := a.conversations.Context(conversationID)
	if err != nil {
		a.fail(ctx, events, err)
		return
	}

	_, toolCalls, err := a.complete(ctx, messages, a.orchestrator.Definitions())
	if err != nil {
		a.fail(ctx, events, err)
		return
	}

	var records []ToolCallRecord
	if len(toolCalls) > 0 {
		events.Write(statusEvent(fmt.Sprintf("Executing %d tool(s)...", len(toolCalls))))
		records = a.orchestrator.ExecuteTools(ctx, toolCalls, userID, conversationID)
		for _, record := range records {
			events.Write(toolCallEvent(record))
		}
		messages = appendToolResults(messages, records)
		events.Write(statusEvent("Generating insights..."))
	}

	answer, err := a.streamAnswer(ctx, events, messages)
	if err != nil {
		a.fail(ctx, events, err)
		return
	}

	citations := a.orchestrator.ExtractCitations(records)
	for _, c := range citations {
		events.Write(citationEvent(c))
	}

	if err := a.conversations.AddMessage(conversationID, Message{
		Role:      "assistant",
		Content:   answer,
		ToolCalls: records,
		Citations: citations,
	}); err != nil {
		a.logger.WithError(err).Warn("Failed to persist assistant message")
	}

	elapsed := time.Since(start)
	events.Write(doneEvent(elapsed.Seconds(), conversationID, len(records)))
	observeQuestion("success", elapsed)

	a.logger.WithFields(logging.Fields{
		"conversation_id": conversationID,
		"tool_calls":      len(records),
		"citations":       len(citations),
		"response_time":   elapsed.Seconds(),
	}).Info("Answered question")
}

// complete runs one non-streamed pass: the stream is drained into the full
// content and the merged set of tool calls.
func (a *Assembler) complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (string, []llm.ToolCall, error) {
	stream, err := a.provider.Complete(ctx, messages, tools)
	if err != nil {
		llmCallsTotal.WithLabelValues("error").Inc()
		return "", nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	var calls []llm.ToolCall
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			llmCallsTotal.WithLabelValues("error").Inc()
			return "", nil, fmt.Errorf("llm stream failed: %w", err)
		}
		content.WriteString(chunk.Content)
		calls = mergeToolCalls(calls, chunk.ToolCalls)
	}
	llmCallsTotal.WithLabelValues("success").Inc()
	return content.String(), calls, nil
}

// streamAnswer runs the final pass with tools disabled, forwarding text
// chunks as they arrive.
func (a *Assembler) streamAnswer(ctx context.Context, events EventWriter, messages []llm.Message) (string, error) {
	stream, err := a.provider.Complete(ctx, messages, nil)
	if err != nil {
		llmCallsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			llmCallsTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("llm stream failed: %w", err)
		}
		if chunk.Content == "" {
			continue
		}
		answer.WriteString(chunk.Content)
		events.Write(textEvent(chunk.Content))
	}
	llmCallsTotal.WithLabelValues("success").Inc()
	return answer.String(), nil
}

func (a *Assembler) fail(ctx context.Context, events EventWriter, err error) {
	if ctx.Err() != nil {
		events.Write(cancelledEvent())
		observeQuestion("cancelled", 0)
		return
	}
	a.logger.WithError(err).Error("Failed to answer question")
	events.Write(errorEvent("Something went wrong while generating the answer. Please try again."))
	observeQuestion("error", 0)
}

// appendToolResults feeds the executed tool calls back to the LLM as tool
// messages, truncating each result.
func appendToolResults(messages []llm.Message, records []ToolCallRecord) []llm.Message {
	for _, record := range records {
		var content string
		if record.Error != "" {
			content = fmt.Sprintf(`{"error": %q}`, record.Error)
		} else if raw, err := json.Marshal(record.Result); err == nil {
			content = string(raw)
		} else {
			content = "{}"
		}
		messages = append(messages, llm.Message{
			Role:       "tool",
			Name:       record.ToolName,
			ToolCallID: record.ToolCallID,
			Content:    truncate(content, toolResultLimit),
		})
	}
	return messages
}

// mergeToolCalls folds streamed tool call deltas into complete calls.
// Chunks with a fresh ID open a new call; chunks without one extend the
// arguments of the call they belong to.
func mergeToolCalls(acc []llm.ToolCall, incoming []llm.ToolCall) []llm.ToolCall {
	for _, tc := range incoming {
		if tc.ID != "" {
			if idx := indexByID(acc, tc.ID); idx >= 0 {
				acc[idx].Arguments += tc.Arguments
				if tc.Name != "" {
					acc[idx].Name = tc.Name
				}
				continue
			}
			acc = append(acc, tc)
			continue
		}
		if len(acc) > 0 {
			last := &acc[len(acc)-1]
			last.Arguments += tc.Arguments
			if tc.Name != "" {
				last.Name = tc.Name
			}
			continue
		}
		acc = append(acc, tc)
	}
	return acc
}

func indexByID(calls []llm.ToolCall, id string) int {
	for i, tc := range calls {
		if tc.ID == id {
			return i
		}
	}
	return -1
}
