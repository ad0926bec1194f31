package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sqlagent-backend/internal/db"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := FromEnv(mapEnv(map[string]string{
		"DATABASE_URL":   "root:secret@tcp(localhost:3306)/sales",
		"OPENAI_API_KEY": "sk-test",
	}))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "openai", cfg.LLM.Provider)
	require.Equal(t, "sk-test", cfg.LLM.APIKey)
	require.Equal(t, defaultOpenAIModel, cfg.LLM.Model)
	require.Equal(t, 5, cfg.Agent.MaxAttempts)
	require.Equal(t, 60*time.Second, cfg.Agent.StepTimeout)
	require.Equal(t, 3, cfg.Agent.SampleRows)
	require.Equal(t, 4096, cfg.Agent.ResultSizeCap)
	require.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	require.Equal(t, "admin", cfg.Auth.AdminUsername)
	require.True(t, cfg.ReadOnly)
	require.Equal(t, "root:secret@tcp(localhost:3306)/sales", cfg.Datasource.ConnectionString)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := FromEnv(mapEnv(map[string]string{
		"PORT":               "9090",
		"DB_TYPE":            "postgres",
		"DB_HOST":            "db.internal",
		"DB_PORT":            "5433",
		"DB_NAME":            "sales",
		"LLM_PROVIDER":       "Anthropic",
		"LLM_API_KEY":        "key",
		"AGENT_MAX_ATTEMPTS": "2",
		"SESSION_TTL":        "1h",
		"MCP_ALLOWED_TOKENS": "a, b,,c",
		"VERBOSE":            "true",
	}))
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, db.DatabaseTypePostgreSQL, cfg.Datasource.DatabaseType)
	require.Equal(t, 5433, cfg.Datasource.Port)
	require.Equal(t, "anthropic", cfg.LLM.Provider)
	require.Equal(t, defaultAnthropicModel, cfg.LLM.Model)
	require.Equal(t, 4096, cfg.LLM.MaxTokens)
	require.Equal(t, 2, cfg.Agent.MaxAttempts)
	require.Equal(t, time.Hour, cfg.Auth.SessionTTL)
	require.Equal(t, []string{"a", "b", "c"}, cfg.Auth.AllowedTokens)
	require.True(t, cfg.Verbose)
}

func TestFromEnv_Errors(t *testing.T) {
	t.Parallel()

	base := func() map[string]string {
		return map[string]string{"DATABASE_URL": ":memory:", "LLM_API_KEY": "k"}
	}

	tests := []struct {
		name   string
		mutate func(map[string]string)
		want   string
	}{
		{"missing datasource", func(m map[string]string) { delete(m, "DATABASE_URL") }, "datasource is required"},
		{"missing api key", func(m map[string]string) { delete(m, "LLM_API_KEY") }, "api key"},
		{"bad provider", func(m map[string]string) { m["LLM_PROVIDER"] = "cohere" }, "unsupported llm provider"},
		{"bad db type", func(m map[string]string) { m["DB_TYPE"] = "oracle" }, "unsupported database type"},
		{"bad int", func(m map[string]string) { m["AGENT_MAX_ATTEMPTS"] = "many" }, "AGENT_MAX_ATTEMPTS"},
		{"zero attempts", func(m map[string]string) { m["AGENT_MAX_ATTEMPTS"] = "0" }, "max attempts"},
		{"bad duration", func(m map[string]string) { m["SESSION_TTL"] = "forever" }, "SESSION_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := base()
			tt.mutate(m)
			_, err := FromEnv(mapEnv(m))
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadDatasource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "datasources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: sales
datasources:
  sales:
    type: mysql
    host: mysql.internal
    port: 3306
    database: sales
    username: reader
    password: secret
  analytics:
    type: duckdb
    path: /data/analytics.duckdb
    connect_timeout: 5s
`), 0o600))

	name, ds, err := LoadDatasource(path, "")
	require.NoError(t, err)
	require.Equal(t, "sales", name)
	require.Equal(t, db.DatabaseTypeMySQL, ds.DatabaseType)
	require.Equal(t, "mysql.internal", ds.Host)
	require.Equal(t, "reader", ds.Username)

	name, ds, err = LoadDatasource(path, "analytics")
	require.NoError(t, err)
	require.Equal(t, "analytics", name)
	require.Equal(t, db.DatabaseTypeDuckDB, ds.DatabaseType)
	require.Equal(t, "/data/analytics.duckdb", ds.FilePath)
	require.Equal(t, 5*time.Second, ds.ConnectTimeout)

	_, _, err = LoadDatasource(path, "missing")
	require.ErrorContains(t, err, `datasource "missing" not found`)

	cfg, err := FromEnv(mapEnv(map[string]string{
		"DATASOURCES_FILE": path,
		"DATASOURCE":       "analytics",
		"LLM_API_KEY":      "k",
	}))
	require.NoError(t, err)
	require.Equal(t, "analytics", cfg.DatasourceName)
	require.Equal(t, db.DatabaseTypeDuckDB, cfg.Datasource.DatabaseType)
}
