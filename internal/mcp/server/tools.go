package server

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"sqlagent-backend/internal/tools"
)

type ListTablesInput struct{}

type GetTableSchemaInput struct {
	TableName string `json:"tableName" jsonschema:"需要查询结构的数据表名称"`
}

type ExecuteQueryInput struct {
	SQLQuery string `json:"sqlQuery" jsonschema:"需要执行的SQL查询语句"`
}

type SQLQueryAgentInput struct {
	Question string `json:"question" jsonschema:"用自然语言描述的数据查询问题"`
}

// Answer prefixes, one per tool.
const (
	listTablesPrefix     = "所有的表: "
	getTableSchemaPrefix = "表结构: "
	executeQueryPrefix   = "查询结果: "
	sqlQueryAgentPrefix  = "结果内容: "
)

func (s *Server) registerTools() error {
	if err := registerTool(s, tools.ListTablesToolName, listTablesPrefix, func(ListTablesInput) map[string]any {
		return map[string]any{}
	}); err != nil {
		return err
	}
	if err := registerTool(s, tools.GetTableSchemaToolName, getTableSchemaPrefix, func(in GetTableSchemaInput) map[string]any {
		return map[string]any{"tableName": in.TableName}
	}); err != nil {
		return err
	}
	if err := registerTool(s, tools.ExecuteQueryToolName, executeQueryPrefix, func(in ExecuteQueryInput) map[string]any {
		return map[string]any{"sqlQuery": in.SQLQuery}
	}); err != nil {
		return err
	}
	return registerTool(s, tools.SQLQueryAgentToolName, sqlQueryAgentPrefix, func(in SQLQueryAgentInput) map[string]any {
		return map[string]any{"question": in.Question}
	})
}

// registerTool exposes a registry tool over MCP with a typed input.
func registerTool[In any](s *Server, name, prefix string, params func(In) map[string]any) error {
	tool, ok := s.cfg.Registry.GetTool(name)
	if !ok {
		return fmt.Errorf("failed to register %s: %w", name, tools.ErrToolNotFound)
	}

	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", name, err)
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: tool.Description(),
		InputSchema: schema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		s.log.Debug("mcp/tool: handling call", "tool", name)
		return s.callTool(ctx, name, prefix, params(in)), nil, nil
	})
	return nil
}

func (s *Server) callTool(ctx context.Context, name, prefix string, params map[string]any) *mcp.CallToolResult {
	res, err := s.cfg.Registry.ExecuteTool(ctx, s.caller(ctx), name, params)
	if err != nil {
		return textResult(err.Error(), true)
	}
	if res.Content == "" {
		return textResult(res.Error, true)
	}
	return textResult(prefix+res.Content, res.Failed())
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
