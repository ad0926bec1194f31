package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrompt_Render(t *testing.T) {
	t.Parallel()

	t.Run("substitutes every placeholder", func(t *testing.T) {
		t.Parallel()
		p := Prompt{Name: "t", Template: "tables: {{tableInfo}}\nq: {{ userInput }}"}
		out, err := p.Render(map[string]string{"tableInfo": "[]", "userInput": "count orders"})
		require.NoError(t, err)
		require.Equal(t, "tables: []\nq: count orders", out)
	})

	t.Run("missing variable is an error", func(t *testing.T) {
		t.Parallel()
		p := Prompt{Name: "t", Template: "{{a}} {{b}}"}
		_, err := p.Render(map[string]string{"a": "x"})
		require.ErrorIs(t, err, ErrMissingVariable)
		require.Contains(t, err.Error(), "b")
	})

	t.Run("values are not re-expanded", func(t *testing.T) {
		t.Parallel()
		p := Prompt{Name: "t", Template: "{{a}}"}
		out, err := p.Render(map[string]string{"a": "{{b}}"})
		require.NoError(t, err)
		require.Equal(t, "{{b}}", out)
	})

	t.Run("extra variables are ignored", func(t *testing.T) {
		t.Parallel()
		p := Prompt{Name: "t", Template: "plain"}
		out, err := p.Render(map[string]string{"unused": "x"})
		require.NoError(t, err)
		require.Equal(t, "plain", out)
	})
}

func TestBuiltinPrompts_Variables(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"tableInfo", "userInput"}, SelectTablesPrompt.Variables())
	require.Equal(t, []string{"dialect", "tableSchema", "userInput"}, Text2SQLPrompt.Variables())
	require.Equal(t, []string{"SQLResult", "userInput"}, DataAnalysisPrompt.Variables())
	require.Contains(t, SQLOptimizeInstructions, "ROW_NUMBER() OVER")
}

func TestText2SQLPrompt_DoubleQuotedAliases(t *testing.T) {
	t.Parallel()

	out, err := Text2SQLPrompt.Render(map[string]string{
		"dialect":     "PostgreSQL",
		"tableSchema": "[]",
		"userInput":   "列出所有用户",
	})
	require.NoError(t, err)
	require.Contains(t, out, "熟悉PostgreSQL数据库")
	require.Contains(t, out, `id as "编号"`)
	require.NotContains(t, out, `'编号'`)
}
