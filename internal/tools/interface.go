package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ToolParameter defines a tool parameter
type ToolParameter struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Status string `json:"status"` // completed, failed
	// Content is the textual answer handed back to MCP clients.
	Content string         `json:"content,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	TimeMs  int            `json:"time_ms,omitempty"`
}

// Failed reports whether the tool ran but could not produce a result.
func (r *ToolResult) Failed() bool {
	return r.Status != StatusCompleted
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Caller identifies who invokes a tool.
type Caller struct {
	UserID string
	Admin  bool
}

// Tool defines the interface for all tools
type Tool interface {
	// Name returns the unique name of the tool
	Name() string

	// Description returns a human-readable description of what the tool does
	Description() string

	// Parameters returns the parameters this tool accepts
	Parameters() map[string]ToolParameter

	// Execute runs the tool with the given parameters
	Execute(ctx context.Context, params map[string]any) (*ToolResult, error)

	// ValidateAccess checks if the caller has permission to use this tool
	ValidateAccess(caller Caller) bool

	// GetCategory returns the category of this tool (catalog, query, agent)
	GetCategory() string
}

// Error types
var (
	ErrToolNotFound        = errors.New("tool not found")
	ErrToolAccessDenied    = errors.New("access denied for tool")
	ErrInvalidParameters   = errors.New("invalid tool parameters")
	ErrToolExecutionFailed = errors.New("tool execution failed")
)

// NewToolError creates a new tool error result
func NewToolError(message string, err error) *ToolResult {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}
	return &ToolResult{
		Status: StatusFailed,
		Error:  errorMsg,
	}
}

// NewToolSuccess creates a new successful tool result
func NewToolSuccess(content string, data map[string]any) *ToolResult {
	return &ToolResult{
		Status:  StatusCompleted,
		Content: content,
		Data:    data,
	}
}

// ValidateToolParameters checks that required parameters are present and
// that string parameters hold non-blank strings.
func ValidateToolParameters(params map[string]any, toolParams map[string]ToolParameter) error {
	for name, param := range toolParams {
		value, exists := params[name]
		if !exists {
			if param.Required {
				return fmt.Errorf("%w: missing required parameter %s", ErrInvalidParameters, name)
			}
			continue
		}
		if param.Type == "string" {
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: parameter %s must be a string", ErrInvalidParameters, name)
			}
			if param.Required && strings.TrimSpace(s) == "" {
				return fmt.Errorf("%w: parameter %s must not be empty", ErrInvalidParameters, name)
			}
		}
	}
	return nil
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return strings.TrimSpace(s)
}
