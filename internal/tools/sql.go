package tools

import (
	"context"
	"fmt"

	"sqlagent-backend/internal/agent"
	"sqlagent-backend/internal/db"
	"sqlagent-backend/internal/sqltext"
)

// Answerer runs the natural-language query pipeline.
type Answerer interface {
	Run(ctx context.Context, question string) (*agent.Result, error)
}

const (
	ListTablesToolName     = "listTables"
	GetTableSchemaToolName = "getTableSchema"
	ExecuteQueryToolName   = "executeQuery"
	SQLQueryAgentToolName  = "sqlQueryAgent"
)

// RegisterSQLTools registers the catalog, query and agent tools.
func RegisterSQLTools(r *Registry, source db.Source, answerer Answerer, sampleRows int) error {
	for _, tool := range []Tool{
		&ListTablesTool{source: source},
		&GetTableSchemaTool{source: source, sampleRows: sampleRows},
		&ExecuteQueryTool{source: source},
		&SQLQueryAgentTool{answerer: answerer},
	} {
		if err := r.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}

func encodeRecords(t sqltext.Tabular) (sqltext.Records, string, error) {
	records, err := sqltext.ToRecords(t)
	if err != nil {
		return nil, "", err
	}
	out, err := sqltext.Marshal(records)
	if err != nil {
		return nil, "", err
	}
	return records, out, nil
}

// ListTablesTool lists the datasource's tables with their comments.
type ListTablesTool struct {
	source db.Source
}

func (t *ListTablesTool) Name() string { return ListTablesToolName }

func (t *ListTablesTool) Description() string {
	return "获取当前数据库中所有表的列表，包含表名和表注释。"
}

func (t *ListTablesTool) Parameters() map[string]ToolParameter {
	return map[string]ToolParameter{}
}

func (t *ListTablesTool) Execute(ctx context.Context, _ map[string]any) (*ToolResult, error) {
	tab, err := t.source.ListTables(ctx)
	if err != nil {
		return NewToolError("Failed to list tables", err), nil
	}
	records, out, err := encodeRecords(tab)
	if err != nil {
		return nil, err
	}
	return NewToolSuccess(out, map[string]any{"tables": records, "count": len(records)}), nil
}

func (t *ListTablesTool) ValidateAccess(Caller) bool { return true }

func (t *ListTablesTool) GetCategory() string { return "catalog" }

// GetTableSchemaTool describes one table's columns and a few sample rows.
type GetTableSchemaTool struct {
	source     db.Source
	sampleRows int
}

func (t *GetTableSchemaTool) Name() string { return GetTableSchemaToolName }

func (t *GetTableSchemaTool) Description() string {
	return "获取指定数据表的结构（列名、类型、注释）以及少量样例数据。"
}

func (t *GetTableSchemaTool) Parameters() map[string]ToolParameter {
	return map[string]ToolParameter{
		"tableName": {
			Type:        "string",
			Description: "需要查询结构的数据表名称",
			Required:    true,
		},
	}
}

func (t *GetTableSchemaTool) Execute(ctx context.Context, params map[string]any) (*ToolResult, error) {
	table := stringParam(params, "tableName")

	columns, err := t.source.GetColumns(ctx, table)
	if err != nil {
		return NewToolError(fmt.Sprintf("Failed to describe table %s", table), err), nil
	}
	if len(columns.Rows) == 0 {
		return NewToolError(fmt.Sprintf("Table %s not found", table), nil), nil
	}
	columnInfo, _, err := encodeRecords(columns)
	if err != nil {
		return nil, err
	}

	sampleData := sqltext.Records{}
	if sample, err := t.source.Sample(ctx, table, t.sampleRows); err == nil {
		if sampleData, _, err = encodeRecords(sample); err != nil {
			return nil, err
		}
	}

	data := map[string]any{
		"tableName":  table,
		"columnInfo": columnInfo,
		"sampleData": sampleData,
	}
	out, err := sqltext.Marshal(struct {
		TableName  string          `json:"tableName"`
		ColumnInfo sqltext.Records `json:"columnInfo"`
		SampleData sqltext.Records `json:"sampleData"`
	}{table, columnInfo, sampleData})
	if err != nil {
		return nil, err
	}
	return NewToolSuccess(out, data), nil
}

func (t *GetTableSchemaTool) ValidateAccess(Caller) bool { return true }

func (t *GetTableSchemaTool) GetCategory() string { return "catalog" }

// ExecuteQueryTool runs SQL statements against the datasource. The
// datasource gateway enforces read-only access.
type ExecuteQueryTool struct {
	source db.Source
}

func (t *ExecuteQueryTool) Name() string { return ExecuteQueryToolName }

func (t *ExecuteQueryTool) Description() string {
	return "执行给定的只读SQL查询语句并以JSON记录返回结果，失败时返回具体的错误信息。"
}

func (t *ExecuteQueryTool) Parameters() map[string]ToolParameter {
	return map[string]ToolParameter{
		"sqlQuery": {
			Type:        "string",
			Description: "需要执行的SQL查询语句",
			Required:    true,
		},
	}
}

// Execute runs every statement in sqlQuery. A query without a terminating
// semicolon is run as a single statement.
func (t *ExecuteQueryTool) Execute(ctx context.Context, params map[string]any) (*ToolResult, error) {
	query := sqltext.StripFence(stringParam(params, "sqlQuery"))
	statements := sqltext.ExtractStatements(query)
	if len(statements) == 0 {
		statements = []string{query}
	}

	all := sqltext.Records{}
	for _, stmt := range statements {
		tab, err := t.source.Query(ctx, stmt)
		if err != nil {
			return NewToolError("Query failed", err), nil
		}
		records, _, err := encodeRecords(tab)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}

	out, err := sqltext.Marshal(all)
	if err != nil {
		return nil, err
	}
	return NewToolSuccess(out, map[string]any{
		"rows":       all,
		"row_count":  len(all),
		"statements": len(statements),
	}), nil
}

// ValidateAccess limits raw SQL to administrators.
func (t *ExecuteQueryTool) ValidateAccess(caller Caller) bool { return caller.Admin }

func (t *ExecuteQueryTool) GetCategory() string { return "query" }

// SQLQueryAgentTool answers a natural-language question with the agent.
type SQLQueryAgentTool struct {
	answerer Answerer
}

func (t *SQLQueryAgentTool) Name() string { return SQLQueryAgentToolName }

func (t *SQLQueryAgentTool) Description() string {
	return "使用Text2SQL智能问数智能体查询数据库内容。输入自然语言问题，返回查询结果。"
}

func (t *SQLQueryAgentTool) Parameters() map[string]ToolParameter {
	return map[string]ToolParameter{
		"question": {
			Type:        "string",
			Description: "用自然语言描述的数据查询问题",
			Required:    true,
		},
	}
}

func (t *SQLQueryAgentTool) Execute(ctx context.Context, params map[string]any) (*ToolResult, error) {
	res, err := t.answerer.Run(ctx, stringParam(params, "question"))
	if err != nil {
		return NewToolError("Agent run failed", err), nil
	}

	result := NewToolSuccess(res.Response, map[string]any{
		"run_id":   res.RunID,
		"outcome":  string(res.Outcome),
		"attempts": res.Attempts,
		"sql":      res.SQL,
	})
	if res.Outcome != agent.OutcomeSucceeded {
		result.Status = StatusFailed
		result.Error = res.Response
	}
	return result, nil
}

func (t *SQLQueryAgentTool) ValidateAccess(Caller) bool { return true }

func (t *SQLQueryAgentTool) GetCategory() string { return "agent" }
