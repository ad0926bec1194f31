package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sqlagent-backend/internal/metrics"
)

// Registry holds the tools exposed over MCP and the HTTP API.
type Registry struct {
	log   *slog.Logger
	tools map[string]Tool
	mutex sync.RWMutex
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		tools: make(map[string]Tool),
	}
}

// RegisterTool adds a new tool to the registry
func (r *Registry) RegisterTool(tool Tool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' is already registered", name)
	}

	r.tools[name] = tool
	r.log.Debug("tools: registered tool", "tool", name)
	return nil
}

// UnregisterTool removes a tool from the registry
func (r *Registry) UnregisterTool(name string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	delete(r.tools, name)
	r.log.Debug("tools: unregistered tool", "tool", name)
	return nil
}

// GetTool retrieves a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns every registered tool ordered by name.
func (r *Registry) ListTools() []Tool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// ExecuteTool runs a tool by name. Lookup, access and parameter problems
// are returned as errors; failures inside the tool come back as a failed
// ToolResult.
func (r *Registry) ExecuteTool(ctx context.Context, caller Caller, toolName string, params map[string]any) (*ToolResult, error) {
	tool, exists := r.GetTool(toolName)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	if !tool.ValidateAccess(caller) {
		metrics.ToolCallsTotal.WithLabelValues(toolName, "denied").Inc()
		return nil, fmt.Errorf("%w: %s", ErrToolAccessDenied, toolName)
	}

	if params == nil {
		params = map[string]any{}
	}
	if err := ValidateToolParameters(params, tool.Parameters()); err != nil {
		metrics.ToolCallsTotal.WithLabelValues(toolName, "invalid").Inc()
		return nil, fmt.Errorf("invalid parameters for tool %s: %w", toolName, err)
	}

	r.log.Debug("tools: executing tool", "tool", toolName, "user", caller.UserID)
	start := time.Now()
	result, err := tool.Execute(ctx, params)
	if err != nil {
		result = NewToolError(fmt.Sprintf("Tool %s failed", toolName), err)
	}
	result.TimeMs = int(time.Since(start).Milliseconds())

	status := "success"
	if result.Failed() {
		status = "error"
		r.log.Warn("tools: tool failed", "tool", toolName, "error", result.Error)
	}
	metrics.ToolCallsTotal.WithLabelValues(toolName, status).Inc()
	metrics.ToolCallDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())
	return result, nil
}
