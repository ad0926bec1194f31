package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"sqlagent-backend/internal/agent"
	"sqlagent-backend/internal/auth"
	"sqlagent-backend/internal/sqltext"
	"sqlagent-backend/internal/tools"
)

type fakeSource struct {
	queryErr error
}

func (f *fakeSource) ListTables(context.Context) (sqltext.Tabular, error) {
	return sqltext.Tabular{Headers: []string{"TABLE_NAME"}, Rows: [][]string{{"orders"}}}, nil
}

func (f *fakeSource) GetColumns(context.Context, string) (sqltext.Tabular, error) {
	return sqltext.Tabular{Headers: []string{"COLUMN_NAME"}, Rows: [][]string{{"id"}}}, nil
}

func (f *fakeSource) Sample(context.Context, string, int) (sqltext.Tabular, error) {
	return sqltext.Tabular{Headers: []string{"id"}}, nil
}

func (f *fakeSource) Query(context.Context, string) (sqltext.Tabular, error) {
	if f.queryErr != nil {
		return sqltext.Tabular{}, f.queryErr
	}
	return sqltext.Tabular{Headers: []string{"cnt"}, Rows: [][]string{{"5"}}}, nil
}

type fakeAnswerer struct {
	err error
}

func (f *fakeAnswerer) Run(context.Context, string) (*agent.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Result{Response: `[{"cnt":"5"}]`, Outcome: agent.OutcomeSucceeded, Attempts: 1}, nil
}

type fakeSessions struct {
	users map[string]*auth.User
}

func (f *fakeSessions) Authenticate(_ context.Context, token string) (*auth.User, error) {
	if u, ok := f.users[token]; ok {
		return u, nil
	}
	return nil, auth.ErrInvalidSession
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, source *fakeSource, answerer *fakeAnswerer, mutate ...func(*Config)) *Server {
	t.Helper()
	registry := tools.NewRegistry(testLogger(t))
	require.NoError(t, tools.RegisterSQLTools(registry, source, answerer, 3))

	cfg := Config{
		Logger:        testLogger(t),
		Registry:      registry,
		AllowedTokens: []string{"static-token"},
		Sessions: &fakeSessions{users: map[string]*auth.User{
			"session-token": {ID: "u1", Username: "alice", Role: auth.RoleUser, IsActive: true},
		}},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := s.mcp.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func TestMCP_Server_ListTools(t *testing.T) {
	t.Parallel()

	cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := map[string]string{}
	for _, tool := range res.Tools {
		names[tool.Name] = tool.Description
	}
	require.Len(t, names, 4)
	require.Contains(t, names["sqlQueryAgent"], "Text2SQL")
	require.Contains(t, names, "listTables")
	require.Contains(t, names, "getTableSchema")
	require.Contains(t, names, "executeQuery")
}

func TestMCP_Server_CallTools(t *testing.T) {
	t.Parallel()

	t.Run("sqlQueryAgent", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}))

		text, isError := callText(t, cs, "sqlQueryAgent", map[string]any{"question": "how many orders?"})
		require.False(t, isError)
		require.Equal(t, `结果内容: [{"cnt":"5"}]`, text)
	})

	t.Run("sqlQueryAgent run error", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{err: errors.New("llm down")}))

		text, isError := callText(t, cs, "sqlQueryAgent", map[string]any{"question": "how many orders?"})
		require.True(t, isError)
		require.Contains(t, text, "llm down")
	})

	t.Run("listTables", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}))

		text, isError := callText(t, cs, "listTables", map[string]any{})
		require.False(t, isError)
		require.Equal(t, `所有的表: [{"TABLE_NAME":"orders"}]`, text)
	})

	t.Run("executeQuery failure", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{queryErr: errors.New("syntax error")}, &fakeAnswerer{}, disableAuth))

		text, isError := callText(t, cs, "executeQuery", map[string]any{"sqlQuery": "SELEC 1;"})
		require.True(t, isError)
		require.Contains(t, text, "syntax error")
	})

	t.Run("executeQuery as operator", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}, disableAuth))

		text, isError := callText(t, cs, "executeQuery", map[string]any{"sqlQuery": "SELECT COUNT(*) AS cnt FROM orders;"})
		require.False(t, isError)
		require.Equal(t, `查询结果: [{"cnt":"5"}]`, text)
	})

	t.Run("executeQuery denied without admin caller", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}))

		text, isError := callText(t, cs, "executeQuery", map[string]any{"sqlQuery": "SELECT 1;"})
		require.True(t, isError)
		require.Contains(t, text, tools.ErrToolAccessDenied.Error())
	})
}

func TestMCP_Server_ListPrompts(t *testing.T) {
	t.Parallel()

	cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}))

	res, err := cs.ListPrompts(context.Background(), nil)
	require.NoError(t, err)

	args := map[string]map[string]bool{}
	for _, p := range res.Prompts {
		required := map[string]bool{}
		for _, a := range p.Arguments {
			required[a.Name] = a.Required
		}
		args[p.Name] = required
	}
	require.Equal(t, map[string]map[string]bool{
		SelectTablePromptName:  {"tableInfo": true, "userInput": true},
		Text2SQLPromptName:     {"dialect": false, "tableSchema": true, "userInput": true},
		DataAnalysisPromptName: {"SQLResult": true, "userInput": true},
	}, args)
}

func TestMCP_Server_GetPrompt(t *testing.T) {
	t.Parallel()

	promptText := func(t *testing.T, res *mcp.GetPromptResult) string {
		t.Helper()
		require.Len(t, res.Messages, 1)
		require.Equal(t, mcp.Role("user"), res.Messages[0].Role)
		text, ok := res.Messages[0].Content.(*mcp.TextContent)
		require.True(t, ok)
		return text.Text
	}

	t.Run("dialect defaults to the configured datasource", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}, func(c *Config) { c.Dialect = "DuckDB" }))

		res, err := cs.GetPrompt(context.Background(), &mcp.GetPromptParams{
			Name:      Text2SQLPromptName,
			Arguments: map[string]string{"tableSchema": `[{"tableName":"orders"}]`, "userInput": "订单总数"},
		})
		require.NoError(t, err)
		text := promptText(t, res)
		require.Contains(t, text, "熟悉DuckDB数据库")
		require.Contains(t, text, `[{"tableName":"orders"}]`)
		require.Contains(t, text, "订单总数")
	})

	t.Run("explicit dialect wins", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}))

		res, err := cs.GetPrompt(context.Background(), &mcp.GetPromptParams{
			Name:      Text2SQLPromptName,
			Arguments: map[string]string{"dialect": "PostgreSQL", "tableSchema": "[]", "userInput": "q"},
		})
		require.NoError(t, err)
		require.Contains(t, promptText(t, res), "熟悉PostgreSQL数据库")
	})

	t.Run("data analysis", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}))

		res, err := cs.GetPrompt(context.Background(), &mcp.GetPromptParams{
			Name:      DataAnalysisPromptName,
			Arguments: map[string]string{"SQLResult": `[{"cnt":"5"}]`, "userInput": "分析订单"},
		})
		require.NoError(t, err)
		require.Equal(t, "数据分析报告提示词模板", res.Description)
		require.Contains(t, promptText(t, res), `### SQL查询结果：[{"cnt":"5"}]`)
	})

	t.Run("missing argument", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, newTestServer(t, &fakeSource{}, &fakeAnswerer{}))

		_, err := cs.GetPrompt(context.Background(), &mcp.GetPromptParams{
			Name:      SelectTablePromptName,
			Arguments: map[string]string{"userInput": "q"},
		})
		require.Error(t, err)
	})
}

func disableAuth(cfg *Config) {
	cfg.AuthDisabled = true
}

func TestMCP_Server_AuthMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSource{}, &fakeAnswerer{})

	var seen tools.Caller
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = callerFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := s.authMiddleware(next)

	tests := []struct {
		name   string
		header string
		code   int
		body   string
		caller tools.Caller
	}{
		{name: "missing header", code: http.StatusUnauthorized, body: "unauthorized: missing authorization header\n"},
		{name: "invalid format", header: "Token abc", code: http.StatusUnauthorized, body: "unauthorized: invalid authorization header format\n"},
		{name: "empty token", header: "Bearer   ", code: http.StatusUnauthorized, body: "unauthorized: empty token\n"},
		{name: "unknown token", header: "Bearer nope", code: http.StatusUnauthorized, body: "unauthorized: invalid token\n"},
		{name: "static token", header: "Bearer static-token", code: http.StatusOK, caller: operatorCaller},
		{name: "session token", header: "bearer session-token", code: http.StatusOK, caller: tools.Caller{UserID: "u1"}},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rr := httptest.NewRecorder()
		seen = tools.Caller{}

		handler.ServeHTTP(rr, req)

		require.Equal(t, tt.code, rr.Code, tt.name)
		if tt.code == http.StatusUnauthorized {
			require.Equal(t, tt.body, rr.Body.String(), tt.name)
			require.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"), tt.name)
			continue
		}
		require.Equal(t, tt.caller, seen, tt.name)
	}
}

func TestMCP_Server_ConfigValidate(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry(nil)

	_, err := New(Config{Registry: registry, AuthDisabled: true})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(Config{Logger: testLogger(t), AuthDisabled: true})
	require.ErrorContains(t, err, "tool registry is required")

	_, err = New(Config{Logger: testLogger(t), Registry: registry})
	require.ErrorContains(t, err, "allowed tokens")

	_, err = New(Config{Logger: testLogger(t), Registry: registry, AuthDisabled: true})
	require.ErrorIs(t, err, tools.ErrToolNotFound)
}
