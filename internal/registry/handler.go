package registry

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/PhupaSirirat/dbank-copilot/internal/knowledge"
	"github.com/PhupaSirirat/dbank-copilot/internal/kpi"
	"github.com/PhupaSirirat/dbank-copilot/internal/warehouse"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

// Handler exposes the tool server's HTTP surface: the dispatcher endpoints
// plus schema, knowledge-base and KPI dashboards.
type Handler struct {
	dispatcher *Dispatcher
	executor   *warehouse.Executor
	kbStore    *knowledge.Store
	kpi        *kpi.Service
	audit      *AuditLog
	logger     logging.Logger
}

type HandlerConfig struct {
	Dispatcher *Dispatcher
	Executor   *warehouse.Executor
	KBStore    *knowledge.Store
	KPI        *kpi.Service
	Audit      *AuditLog
	Logger     logging.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		dispatcher: cfg.Dispatcher,
		executor:   cfg.Executor,
		kbStore:    cfg.KBStore,
		kpi:        cfg.KPI,
		audit:      cfg.Audit,
		logger:     cfg.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	tools := router.Group("/tools")
	{
		tools.POST("/call", h.callTool)
		tools.GET("/list", h.listTools)
	}

	logs := router.Group("/logs")
	{
		logs.GET("/recent", h.recentLogs)
		logs.GET("/stats", h.logStats)
	}

	router.GET("/tables", h.listTables)
	router.GET("/kb/stats", h.kbStats)

	kpiGroup := router.Group("/kpi")
	{
		kpiGroup.GET("/root-causes", h.topRootCauses)
		kpiGroup.GET("/root-causes/trend", h.rootCauseTrend)
		kpiGroup.GET("/churn", h.churnSummary)
		kpiGroup.GET("/churn/segments", h.churnBySegment)
		kpiGroup.GET("/v12-impact", h.v12Impact)
		kpiGroup.GET("/compare", h.comparePeriods)
		kpiGroup.GET("/quick-stats", h.quickStats)
	}
}

func (h *Handler) callTool(c *gin.Context) {
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.dispatcher.Dispatch(c.Request.Context(), req))
}

func (h *Handler) listTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tools": Definitions,
		"count": len(Definitions),
	})
}

func (h *Handler) recentLogs(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := h.audit.Recent(c.Request.Context(), Filter{
		Limit:    limit,
		ToolName: c.Query("tool"),
		UserID:   c.Query("user_id"),
		Status:   c.Query("status"),
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to list audit log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": records, "count": len(records)})
}

func (h *Handler) logStats(c *gin.Context) {
	days, err := queryInt(c, "days", 7)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stats, err := h.audit.Statistics(c.Request.Context(), days)
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute audit statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) listTables(c *gin.Context) {
	schema := c.DefaultQuery("schema", "analytics")
	tables, err := h.executor.Tables(c.Request.Context(), schema)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tables")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tables"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema": schema, "tables": tables, "count": len(tables)})
}

func (h *Handler) kbStats(c *gin.Context) {
	stats, err := h.kbStore.Stats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read knowledge base stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read knowledge base stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) topRootCauses(c *gin.Context) {
	params, err := rootCauseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	causes, err := h.kpi.TopRootCauses(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"root_causes": causes, "count": len(causes)})
}

func (h *Handler) rootCauseTrend(c *gin.Context) {
	rootCause := c.Query("root_cause")
	startYear, err := queryInt(c, "start_year", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	startMonth, err := queryInt(c, "start_month", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	endYear, err := queryInt(c, "end_year", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	endMonth, err := queryInt(c, "end_month", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	points, err := h.kpi.RootCauseTrend(c.Request.Context(), rootCause, startYear, startMonth, endYear, endMonth)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"root_cause": rootCause, "trend": points})
}

func (h *Handler) churnSummary(c *gin.Context) {
	days, err := queryInt(c, "days", 30)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	breakdown := c.DefaultQuery("breakdown", "true") == "true"
	summary, err := h.kpi.ChurnSummaryForPeriod(c.Request.Context(), days, c.Query("segment"), breakdown)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) churnBySegment(c *gin.Context) {
	segments, err := h.kpi.ChurnBySegment(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute churn by segment")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute churn by segment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments})
}

func (h *Handler) v12Impact(c *gin.Context) {
	details := c.DefaultQuery("details", "false") == "true"
	summary, err := h.kpi.V12ImpactSummary(c.Request.Context(), details)
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute v1.2 impact")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute v1.2 impact"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) comparePeriods(c *gin.Context) {
	year1, err := queryInt(c, "year1", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	month1, err := queryInt(c, "month1", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	year2, err := queryInt(c, "year2", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	month2, err := queryInt(c, "month2", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	topN, err := queryInt(c, "top_n", 10)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	comparison, err := h.kpi.ComparePeriods(c.Request.Context(), year1, month1, year2, month2, topN)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, comparison)
}

func (h *Handler) quickStats(c *gin.Context) {
	year, err := queryInt(c, "year", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	month, err := queryInt(c, "month", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stats, err := h.kpi.QuickStatsForPeriod(c.Request.Context(), year, month)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func rootCauseQuery(c *gin.Context) (kpi.RootCauseParams, error) {
	var params kpi.RootCauseParams
	var err error
	if params.Year, err = queryInt(c, "year", 0); err != nil {
		return params, err
	}
	if params.Month, err = queryInt(c, "month", 0); err != nil {
		return params, err
	}
	if params.TopN, err = queryInt(c, "top_n", 0); err != nil {
		return params, err
	}
	if params.MinTickets, err = queryInt(c, "min_tickets", 0); err != nil {
		return params, err
	}
	params.Category = c.Query("category")
	params.Severity = c.Query("severity")
	return params, nil
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be an integer", key)
	}
	return n, nil
}
