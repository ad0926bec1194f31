package server

import (
	"context"
	"maps"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"sqlagent-backend/internal/llm"
)

// Prompt names published to MCP clients.
const (
	SelectTablePromptName  = "selectTablePrompt"
	Text2SQLPromptName     = "text2sqlPrompt"
	DataAnalysisPromptName = "dataAnalysisPrompt"
)

type promptSpec struct {
	name        string
	description string
	template    llm.Prompt
}

var promptSpecs = []promptSpec{
	{name: SelectTablePromptName, description: "目标表选择提示词模板", template: llm.SelectTablesPrompt},
	{name: Text2SQLPromptName, description: "Text2SQL提示词模板", template: llm.Text2SQLPrompt},
	{name: DataAnalysisPromptName, description: "数据分析报告提示词模板", template: llm.DataAnalysisPrompt},
}

var argumentDescriptions = map[string]string{
	"tableInfo":   "数据库所有的表名和表描述",
	"tableSchema": "数据库表结构",
	"userInput":   "用户输入的问题",
	"SQLResult":   "数据库查询结果",
	"dialect":     "数据库类型，缺省为当前数据源的类型",
}

func (s *Server) registerPrompts() {
	for _, spec := range promptSpecs {
		s.mcp.AddPrompt(s.promptDefinition(spec), s.promptHandler(spec))
	}
}

// promptDefaults holds argument values clients may omit.
func (s *Server) promptDefaults() map[string]string {
	return map[string]string{"dialect": s.cfg.Dialect}
}

func (s *Server) promptDefinition(spec promptSpec) *mcp.Prompt {
	defaults := s.promptDefaults()

	var args []*mcp.PromptArgument
	for _, name := range spec.template.Variables() {
		_, optional := defaults[name]
		args = append(args, &mcp.PromptArgument{
			Name:        name,
			Description: argumentDescriptions[name],
			Required:    !optional,
		})
	}
	return &mcp.Prompt{
		Name:        spec.name,
		Description: spec.description,
		Arguments:   args,
	}
}

func (s *Server) promptHandler(spec promptSpec) mcp.PromptHandler {
	return func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		vars := s.promptDefaults()
		if req.Params != nil {
			maps.Copy(vars, req.Params.Arguments)
		}

		text, err := spec.template.Render(vars)
		if err != nil {
			s.log.Debug("mcp/prompt: render failed", "prompt", spec.name, "error", err)
			return nil, err
		}
		return &mcp.GetPromptResult{
			Description: spec.description,
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: text}},
			},
		}, nil
	}
}
