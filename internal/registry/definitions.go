// Package registry exposes the copilot's tools over HTTP: a registry of
// tool definitions, a dispatcher that routes calls to the SQL, knowledge
// base and KPI backends, and an audit trail of every call.
package registry

// Tool names routed by the dispatcher.
const (
	ToolSQLQuery         = "sql_query"
	ToolKBSearch         = "kb_search"
	ToolKPITopRootCauses = "kpi_top_root_causes"
)

// Parameter describes one tool argument in the wire format served by
// /tools/list.
type Parameter struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Definition is one callable tool.
type Definition struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]Parameter `json:"parameters"`
	Required    []string             `json:"required"`
}

// Definitions lists every tool the dispatcher can route.
var Definitions = []Definition{
	{
		Name:        ToolSQLQuery,
		Description: "Execute read-only SQL queries against the dBank analytics database. Automatically masks PII. Only SELECT queries allowed.",
		Parameters: map[string]Parameter{
			"query": {
				Type:        "string",
				Description: "SQL SELECT query to execute. Must be read-only. Parameters should use {{param_name}} syntax.",
			},
			"parameters": {
				Type:        "object",
				Description: "Parameters to substitute in the query (for SQL injection protection).",
				Default:     map[string]any{},
			},
			"mask_pii": {
				Type:        "boolean",
				Description: "Whether to mask PII fields (email, phone, IDs).",
				Default:     true,
			},
		},
		Required: []string{"query"},
	},
	{
		Name:        ToolKBSearch,
		Description: "Semantic search over the knowledge base (products, policies, troubleshooting, FAQs). Returns relevant document chunks.",
		Parameters: map[string]Parameter{
			"query": {
				Type:        "string",
				Description: "Search query in natural language.",
			},
			"top_k": {
				Type:        "integer",
				Description: "Number of results to return (1-20).",
				Default:     5,
			},
			"category": {
				Type:        "string",
				Description: "Optional category filter.",
				Enum:        []string{"product_guide", "support_doc", "reference_doc", "general"},
			},
			"min_similarity": {
				Type:        "number",
				Description: "Minimum similarity score (0.0-1.0).",
				Default:     0.7,
			},
		},
		Required: []string{"query"},
	},
	{
		Name:        ToolKPITopRootCauses,
		Description: "Get top root causes of support tickets by time period. Pre-aggregated KPI data with percentages and metrics.",
		Parameters: map[string]Parameter{
			"year": {
				Type:        "integer",
				Description: "Year (e.g., 2025).",
			},
			"month": {
				Type:        "integer",
				Description: "Month (1-12). Optional, omit for the whole year.",
			},
			"top_n": {
				Type:        "integer",
				Description: "Number of top root causes to return (1-100).",
				Default:     5,
			},
			"category_filter": {
				Type:        "string",
				Description: "Optional ticket category filter.",
			},
			"severity_filter": {
				Type:        "string",
				Description: "Optional severity filter.",
				Enum:        []string{"critical", "high", "medium", "low"},
			},
			"min_tickets": {
				Type:        "integer",
				Description: "Minimum ticket count threshold.",
				Default:     0,
			},
		},
		Required: []string{"year"},
	},
}

// ToolNames returns the routable tool names in registry order.
func ToolNames() []string {
	names := make([]string, 0, len(Definitions))
	for _, def := range Definitions {
		names = append(names, def.Name)
	}
	return names
}
