package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckReadOnly(t *testing.T) {
	t.Parallel()

	allowed := []string{
		"SELECT 1",
		"select created_at, updated_by from t",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"SHOW TABLES",
		"EXPLAIN SELECT * FROM t",
		"SELECT 'delete me' AS note",
		`SELECT "update" FROM t`,
		"SELECT REPLACE(name, 'a', 'b') FROM t",
	}
	for _, stmt := range allowed {
		require.NoError(t, CheckReadOnly(stmt), stmt)
	}

	rejected := []string{
		"",
		"DELETE FROM t",
		"update t set a = 1",
		"DROP TABLE t",
		"WITH x AS (DELETE FROM t RETURNING *) SELECT * FROM x",
		"SELECT * INTO backup FROM t",
		"SELECT * FROM t FOR UPDATE",
		"PRAGMA writable_schema = 1",
		"INSERT INTO t VALUES (1)",
	}
	for _, stmt := range rejected {
		require.ErrorIs(t, CheckReadOnly(stmt), ErrReadOnly, stmt)
	}
}
