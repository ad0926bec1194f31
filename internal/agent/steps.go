package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"sqlagent-backend/internal/llm"
	"sqlagent-backend/internal/sqltext"
)

// tableDescriptor is the per-table context given to the model for SQL
// generation.
type tableDescriptor struct {
	TableName  string          `json:"tableName"`
	ColumnInfo sqltext.Records `json:"columnInfo"`
	SampleData sqltext.Records `json:"sampleData"`
}

func (a *Agent) listTables(ctx context.Context, s *State) error {
	tab, err := a.cfg.Database.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	records, err := sqltext.ToRecords(tab)
	if err != nil {
		return fmt.Errorf("failed to convert table catalog: %w", err)
	}
	catalog, err := sqltext.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode table catalog: %w", err)
	}

	names := make([]string, 0, len(tab.Rows))
	for _, row := range tab.Rows {
		if len(row) > 0 && row[0] != "" {
			names = append(names, row[0])
		}
	}

	s.Catalog = catalog
	s.TableNames = names
	return nil
}

func (a *Agent) getTableSchema(ctx context.Context, s *State) error {
	if err := requireField("catalog", s.Catalog); err != nil {
		return err
	}
	if err := requireField("question", s.Question); err != nil {
		return err
	}

	out, err := a.cfg.LLM.Generate(ctx, llm.SelectTablesPrompt, map[string]string{
		"tableInfo": s.Catalog,
		"userInput": s.Question,
	})
	if err != nil {
		return fmt.Errorf("failed to select tables: %w", err)
	}

	s.Tables = matchTables(parseTableNames(out), s.TableNames)
	if len(s.Tables) == 0 {
		a.log.Info("agent: model selected no known table", "output", out)
		s.Schema = "[]"
		return nil
	}

	descriptors := make([]tableDescriptor, 0, len(s.Tables))
	for _, table := range s.Tables {
		d, err := a.describeTable(ctx, table)
		if err != nil {
			return err
		}
		descriptors = append(descriptors, d)
	}

	schema, err := sqltext.Marshal(descriptors)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	s.Schema = schema
	return nil
}

func (a *Agent) describeTable(ctx context.Context, table string) (tableDescriptor, error) {
	columns, err := a.cfg.Database.GetColumns(ctx, table)
	if err != nil {
		return tableDescriptor{}, fmt.Errorf("failed to get columns of %s: %w", table, err)
	}
	columnInfo, err := sqltext.ToRecords(columns)
	if err != nil {
		return tableDescriptor{}, fmt.Errorf("failed to convert columns of %s: %w", table, err)
	}

	sampleData := sqltext.Records{}
	sample, err := a.cfg.Database.Sample(ctx, table, a.cfg.SampleRows)
	if err != nil {
		// A table the model can see but not read still has a usable schema.
		a.log.Warn("agent: failed to sample table", "table", table, "error", err)
	} else if sampleData, err = sqltext.ToRecords(sample); err != nil {
		return tableDescriptor{}, fmt.Errorf("failed to convert sample of %s: %w", table, err)
	}

	return tableDescriptor{
		TableName:  table,
		ColumnInfo: columnInfo,
		SampleData: sampleData,
	}, nil
}

func (a *Agent) generateSQL(ctx context.Context, s *State) error {
	if err := requireField("question", s.Question); err != nil {
		return err
	}
	if err := requireField("schema", s.Schema); err != nil {
		return err
	}

	userInput := s.Question
	if feedback := retryFeedback(s); feedback != "" {
		userInput += "\n\n" + feedback
		if s.Inspection != nil && s.Inspection.Verdict == VerdictOversize {
			userInput += llm.SQLOptimizeInstructions
		}
	}

	s.Attempts++
	out, err := a.cfg.LLM.Generate(ctx, llm.Text2SQLPrompt, map[string]string{
		"dialect":     a.cfg.Dialect,
		"tableSchema": s.Schema,
		"userInput":   userInput,
	})
	if err != nil {
		return fmt.Errorf("failed to generate sql: %w", err)
	}

	s.SQL = out
	s.Inspection = nil
	s.Execution = nil
	return nil
}

func (a *Agent) preInspect(ctx context.Context, s *State) error {
	if err := requireField("sql", s.SQL); err != nil {
		return err
	}

	statements := sqltext.ExtractStatements(sqltext.StripFence(s.SQL))
	if len(statements) == 0 {
		s.Inspection = &Inspection{Verdict: VerdictNoStatements, Message: noStatementsMessage}
		return nil
	}

	oversized := make(map[string]string)
	for _, stmt := range statements {
		tab, err := a.cfg.Database.Query(ctx, stmt)
		if err != nil {
			s.Inspection = &Inspection{
				Verdict: VerdictExecutionError,
				Message: executionErrorPrefix + err.Error(),
			}
			return nil
		}

		records, err := sqltext.ToRecords(tab)
		if err != nil {
			return fmt.Errorf("failed to convert result of %q: %w", stmt, err)
		}
		out, err := sqltext.Marshal(records)
		if err != nil {
			return fmt.Errorf("failed to encode result of %q: %w", stmt, err)
		}
		if n := utf8.RuneCountInString(out); n > a.cfg.ResultSizeCap {
			oversized[stmt] = fmt.Sprintf(oversizeFormat, n)
		}
	}

	if len(oversized) > 0 {
		s.Inspection = &Inspection{Verdict: VerdictOversize, Oversized: oversized}
		return nil
	}
	s.Inspection = &Inspection{Verdict: VerdictPass}
	return nil
}

func (a *Agent) execute(ctx context.Context, s *State) error {
	if err := requireField("sql", s.SQL); err != nil {
		return err
	}

	statements := sqltext.ExtractStatements(sqltext.StripFence(s.SQL))
	if len(statements) == 0 {
		s.Execution = &Execution{Outcome: ExecutionEmpty}
		return nil
	}

	all := sqltext.Records{}
	for _, stmt := range statements {
		tab, err := a.cfg.Database.Query(ctx, stmt)
		if err != nil {
			s.Execution = &Execution{
				Outcome: ExecutionFailed,
				Message: executionErrorPrefix + err.Error(),
			}
			return nil
		}
		records, err := sqltext.ToRecords(tab)
		if err != nil {
			return fmt.Errorf("failed to convert result of %q: %w", stmt, err)
		}
		all = append(all, records...)
	}

	response, err := sqltext.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	s.Execution = &Execution{Outcome: ExecutionSucceeded, Response: response}
	return nil
}

var listMarkerRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)、])\s*`)

// parseTableNames reads a table list from model output: a JSON array, or
// names separated by newlines or commas, optionally bulleted or quoted.
func parseTableNames(out string) []string {
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```json")
	out = strings.Trim(out, "`\n ")

	var names []string
	if strings.HasPrefix(out, "[") && json.Unmarshal([]byte(out), &names) == nil {
		return names
	}

	fields := strings.FieldsFunc(out, func(r rune) bool {
		return r == '\n' || r == ',' || r == '，' || r == '、' || r == ';'
	})
	for _, f := range fields {
		f = listMarkerRe.ReplaceAllString(f, "")
		f = strings.Trim(f, " \t\r`'\"[]")
		if f != "" {
			names = append(names, f)
		}
	}
	return names
}

// matchTables keeps the candidates that name a catalog table, resolved to the
// catalog's spelling, without duplicates.
func matchTables(candidates, catalog []string) []string {
	known := make(map[string]string, len(catalog))
	for _, name := range catalog {
		known[strings.ToLower(name)] = name
	}

	seen := make(map[string]bool)
	var tables []string
	for _, c := range candidates {
		name, ok := known[strings.ToLower(strings.TrimSpace(c))]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}
