package db

import (
	"fmt"
	"strings"
)

// Catalog result headers. Every dialect aliases its system columns to these
// names so the model sees the same shape regardless of the backend.
const (
	HeaderTableName     = "tableName"
	HeaderTableComment  = "tableComment"
	HeaderColumnName    = "columnName"
	HeaderColumnType    = "columnType"
	HeaderColumnComment = "columnComment"
)

// dialect holds the catalog queries for one database type.
type dialect struct {
	listTables  func(schema string) (string, []any)
	listColumns func(schema, table string) (string, []any)
	quote       func(ident string) string
}

func dialectFor(t DatabaseType) (dialect, error) {
	switch t {
	case DatabaseTypeMySQL:
		return mysqlDialect, nil
	case DatabaseTypePostgreSQL:
		return postgresDialect, nil
	case DatabaseTypeSQLite:
		return sqliteDialect, nil
	case DatabaseTypeClickHouse:
		return clickhouseDialect, nil
	case DatabaseTypeDuckDB:
		return duckdbDialect, nil
	default:
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, t)
	}
}

var mysqlDialect = dialect{
	listTables: func(schema string) (string, []any) {
		q := `SELECT table_name AS tableName, table_comment AS tableComment
			FROM information_schema.tables
			WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
			ORDER BY table_name`
		return q, []any{schema}
	},
	listColumns: func(schema, table string) (string, []any) {
		q := `SELECT column_name AS columnName, column_type AS columnType, column_comment AS columnComment
			FROM information_schema.columns
			WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) AND table_name = ?
			ORDER BY ordinal_position`
		return q, []any{schema, table}
	},
	quote: backtickQuote,
}

var postgresDialect = dialect{
	listTables: func(schema string) (string, []any) {
		q := `SELECT t.table_name AS "tableName",
				COALESCE(obj_description(format('%I.%I', t.table_schema, t.table_name)::regclass, 'pg_class'), '') AS "tableComment"
			FROM information_schema.tables t
			WHERE t.table_schema = COALESCE(NULLIF($1, ''), current_schema())
			ORDER BY t.table_name`
		return q, []any{schema}
	},
	listColumns: func(schema, table string) (string, []any) {
		q := `SELECT c.column_name AS "columnName", c.data_type AS "columnType",
				COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position::int), '') AS "columnComment"
			FROM information_schema.columns c
			WHERE c.table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND c.table_name = $2
			ORDER BY c.ordinal_position`
		return q, []any{schema, table}
	},
	quote: doubleQuote,
}

var sqliteDialect = dialect{
	listTables: func(string) (string, []any) {
		q := `SELECT name AS tableName, '' AS tableComment
			FROM sqlite_master
			WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
			ORDER BY name`
		return q, nil
	},
	listColumns: func(_, table string) (string, []any) {
		q := `SELECT name AS columnName, type AS columnType, '' AS columnComment
			FROM pragma_table_info(?)
			ORDER BY cid`
		return q, []any{table}
	},
	quote: doubleQuote,
}

var clickhouseDialect = dialect{
	listTables: func(schema string) (string, []any) {
		q := `SELECT name AS tableName, comment AS tableComment
			FROM system.tables
			WHERE database = if(? = '', currentDatabase(), ?)
			ORDER BY name`
		return q, []any{schema, schema}
	},
	listColumns: func(schema, table string) (string, []any) {
		q := `SELECT name AS columnName, type AS columnType, comment AS columnComment
			FROM system.columns
			WHERE database = if(? = '', currentDatabase(), ?) AND table = ?
			ORDER BY position`
		return q, []any{schema, schema, table}
	},
	quote: backtickQuote,
}

var duckdbDialect = dialect{
	listTables: func(schema string) (string, []any) {
		q := `SELECT table_name AS tableName, '' AS tableComment
			FROM information_schema.tables
			WHERE table_schema = COALESCE(NULLIF(?, ''), current_schema())
			ORDER BY table_name`
		return q, []any{schema}
	},
	listColumns: func(schema, table string) (string, []any) {
		q := `SELECT column_name AS columnName, data_type AS columnType, '' AS columnComment
			FROM information_schema.columns
			WHERE table_schema = COALESCE(NULLIF(?, ''), current_schema()) AND table_name = ?
			ORDER BY ordinal_position`
		return q, []any{schema, table}
	},
	quote: doubleQuote,
}

func doubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func backtickQuote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
