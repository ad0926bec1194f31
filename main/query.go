package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sqlagent-backend/internal/agent"
	"sqlagent-backend/internal/metrics"
	"sqlagent-backend/internal/sqltext"
	"sqlagent-backend/internal/tools"
)

type QueryRequest struct {
	Question string `json:"question" binding:"required"`
}

type SQLRequest struct {
	SQL string `json:"sql" binding:"required"`
}

func (app *App) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   version,
	})
}

// queryHandler answers a natural-language question.
func (app *App) queryHandler(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: question is required"})
		return
	}

	res, err := app.Answerer.Run(c.Request.Context(), req.Question)
	switch {
	case errors.Is(err, agent.ErrEmptyQuestion):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, context.Canceled):
		c.JSON(499, gin.H{"error": "Request was cancelled by client"})
		return
	case err != nil:
		app.log.Error("query: run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, res)
}

func (app *App) tablesHandler(c *gin.Context) {
	res, err := app.Tools.ExecuteTool(c.Request.Context(), caller(c), tools.ListTablesToolName, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if res.Failed() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error})
		return
	}
	c.JSON(http.StatusOK, res.Data)
}

// tableHandler describes one table with its columns and a few sample rows.
func (app *App) tableHandler(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	columns, err := app.Source.GetColumns(ctx, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(columns.Rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
		return
	}
	columnInfo, err := sqltext.ToRecords(columns)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sampleData := sqltext.Records{}
	sample, err := app.Source.Sample(ctx, name, app.Config.Agent.SampleRows)
	if err != nil {
		app.log.Warn("query: failed to sample table", "table", name, "error", err)
	} else if sampleData, err = sqltext.ToRecords(sample); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tableName":  name,
		"columnInfo": columnInfo,
		"sampleData": sampleData,
	})
}

// sqlHandler runs raw SQL for administrators. The datasource gateway still
// rejects writes when the datasource is read-only.
func (app *App) sqlHandler(c *gin.Context) {
	var req SQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: sql is required"})
		return
	}

	res, err := app.Tools.ExecuteTool(c.Request.Context(), caller(c), tools.ExecuteQueryToolName,
		map[string]any{"sqlQuery": req.SQL})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if res.Failed() {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rows":       res.Data["rows"],
		"row_count":  res.Data["row_count"],
		"statements": res.Data["statements"],
		"time_ms":    res.TimeMs,
	})
}

func (app *App) listToolsHandler(c *gin.Context) {
	list := make([]gin.H, 0)
	for _, tool := range app.Tools.ListTools() {
		list = append(list, gin.H{
			"name":        tool.Name(),
			"description": tool.Description(),
			"category":    tool.GetCategory(),
			"parameters":  tool.Parameters(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": list})
}

func (app *App) toolHandler(c *gin.Context) {
	params := map[string]any{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
			return
		}
	}

	res, err := app.Tools.ExecuteTool(c.Request.Context(), caller(c), c.Param("name"), params)
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, tools.ErrToolAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func caller(c *gin.Context) tools.Caller {
	user := currentUser(c)
	if user == nil {
		return tools.Caller{}
	}
	return tools.Caller{UserID: user.ID, Admin: user.IsAdmin()}
}

// metricsMiddleware records request counts and durations by route.
func (app *App) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		if strings.HasPrefix(endpoint, "/ws/") {
			return
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.Observe(time.Since(start).Seconds())
	}
}
