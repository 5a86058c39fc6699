package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PhupaSirirat/dbank-copilot/internal/registry"
	"github.com/PhupaSirirat/dbank-copilot/pkg/llm"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

// ToolCallRecord is one executed tool call. Failures are data: Error is set
// and Result is nil, so a broken tool never aborts the whole answer.
type ToolCallRecord struct {
	ToolName      string         `json:"tool_name"`
	ToolCallID    string         `json:"tool_call_id,omitempty"`
	Parameters    map[string]any `json:"parameters"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime float64        `json:"execution_time"`
}

// Citation points an answer back at the evidence behind it.
type Citation struct {
	Source   string         `json:"source"`
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type toolCaller interface {
	Call(ctx context.Context, tool string, params map[string]any, userID, sessionID string) (*registry.CallResponse, error)
	Health(ctx context.Context) bool
}

// Orchestrator fans tool calls requested by the LLM out to the tool server
// and turns the results into citations.
type Orchestrator struct {
	client      toolCaller
	logger      logging.Logger
	maxParallel int
}

func NewOrchestrator(client toolCaller, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		client:      client,
		logger:      logger,
		maxParallel: 3,
	}
}

// Definitions exposes the tool registry in the shape the LLM expects.
func (o *Orchestrator) Definitions() []llm.Tool {
	tools := make([]llm.Tool, 0, len(registry.Definitions))
	for _, def := range registry.Definitions {
		tools = append(tools, llm.Tool{
			Name:        def.Name,
			Description: def.Description,
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": def.Parameters,
				"required":   def.Required,
			},
		})
	}
	return tools
}

// ExecuteTools runs the requested calls with bounded parallelism and returns
// one record per call in the original order.
func (o *Orchestrator) ExecuteTools(ctx context.Context, calls []llm.ToolCall, userID, sessionID string) []ToolCallRecord {
	records := make([]ToolCallRecord, len(calls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			records[i] = o.execute(ctx, call, userID, sessionID)
			return nil
		})
	}
	g.Wait()
	return records
}

func (o *Orchestrator) execute(ctx context.Context, call llm.ToolCall, userID, sessionID string) ToolCallRecord {
	start := time.Now()
	record := ToolCallRecord{ToolName: call.Name, Parameters: map[string]any{}}

	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &record.Parameters); err != nil {
			record.Error = fmt.Sprintf("invalid tool arguments: %v", err)
			record.ExecutionTime = time.Since(start).Seconds()
			return record
		}
	}

	resp, err := o.client.Call(ctx, call.Name, record.Parameters, userID, sessionID)
	record.ExecutionTime = time.Since(start).Seconds()
	if err != nil {
		o.logger.WithError(err).WithField("tool", call.Name).Error("Tool call failed")
		record.Error = err.Error()
		return record
	}

	record.ToolCallID = resp.ToolCallID
	if !resp.Success {
		record.Error = resp.Error
		return record
	}
	record.Result = resp.Result
	return record
}

// Health reports whether the tool server is reachable.
func (o *Orchestrator) Health(ctx context.Context) bool {
	return o.client.Health(ctx)
}

const citationExcerptLimit = 200

// ExtractCitations builds citations from successful tool results. Knowledge
// base hits cite each chunk; SQL and KPI calls cite the query itself.
func (o *Orchestrator) ExtractCitations(records []ToolCallRecord) []Citation {
	var citations []Citation
	seen := make(map[string]struct{})

	add := func(c Citation) {
		key := c.Source + "\x00" + c.Content
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		citations = append(citations, c)
	}

	for _, record := range records {
		if record.Error != "" || record.Result == nil {
			continue
		}
		switch record.ToolName {
		case registry.ToolKBSearch:
			for _, c := range kbCitations(record) {
				add(c)
			}
		case registry.ToolSQLQuery:
			if c, ok := sqlCitation(record); ok {
				add(c)
			}
		case registry.ToolKPITopRootCauses:
			add(kpiCitation(record))
		}
	}
	return citations
}

func kbCitations(record ToolCallRecord) []Citation {
	var result struct {
		Results []struct {
			Title      string  `json:"title"`
			Content    string  `json:"content"`
			Similarity float64 `json:"similarity"`
			Category   string  `json:"category"`
			Filename   string  `json:"filename"`
		} `json:"results"`
	}
	if err := decodeResult(record.Result, &result); err != nil {
		return nil
	}

	citations := make([]Citation, 0, len(result.Results))
	for _, doc := range result.Results {
		source := doc.Filename
		if source == "" {
			source = doc.Title
		}
		citations = append(citations, Citation{
			Source:  "Product KB - " + source,
			Content: truncate(doc.Content, citationExcerptLimit),
			Score:   doc.Similarity,
			Metadata: map[string]any{
				"title":    doc.Title,
				"category": doc.Category,
			},
		})
	}
	return citations
}

func sqlCitation(record ToolCallRecord) (Citation, bool) {
	var result struct {
		RowCount       int      `json:"row_count"`
		Masked         bool     `json:"masked"`
		TablesAccessed []string `json:"tables_accessed"`
	}
	if err := decodeResult(record.Result, &result); err != nil {
		return Citation{}, false
	}
	query, _ := record.Parameters["query"].(string)
	return Citation{
		Source:  "Support Database Query",
		Content: fmt.Sprintf("SQL query returned %d rows", result.RowCount),
		Metadata: map[string]any{
			"query_preview":   truncate(query, 100),
			"pii_masked":      result.Masked,
			"tables_accessed": result.TablesAccessed,
		},
	}, true
}

func kpiCitation(record ToolCallRecord) Citation {
	period := fmt.Sprintf("%v", record.Parameters["year"])
	if month, ok := record.Parameters["month"]; ok {
		period = fmt.Sprintf("%s-%v", period, month)
	}
	return Citation{
		Source:   "Root Cause Analysis KPI",
		Content:  fmt.Sprintf("Top root causes for %s", period),
		Metadata: map[string]any{"parameters": record.Parameters},
	}
}

// decodeResult round-trips a tool result through JSON so both in-process
// structs and wire-decoded maps land in the same shape.
func decodeResult(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
